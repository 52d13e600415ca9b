package tracker

import (
	"context"
	"errors"
	"time"
)

// ErrBoundReached is returned by Wait.Until when the bound elapses first.
var ErrBoundReached = errors.New("wait bound reached")

// Wait is a bounded poll. The context handed to each poll attempt expires
// with the bound, so no attempt outlives it.
type Wait struct {
	parent   context.Context
	ctx      context.Context
	cancel   context.CancelFunc
	started  time.Time
	bound    time.Duration
	interval time.Duration
}

func NewWait(parent context.Context, bound, interval time.Duration) *Wait {
	ctx, cancel := context.WithTimeout(parent, bound)
	return &Wait{
		parent:   parent,
		ctx:      ctx,
		cancel:   cancel,
		started:  time.Now(),
		bound:    bound,
		interval: interval,
	}
}

func (w *Wait) Elapsed() time.Duration {
	return time.Since(w.started)
}

func (w *Wait) Bound() time.Duration {
	return w.bound
}

// Cancel aborts the wait. Until returns the parent's cancellation error
// unless the bound was already reached.
func (w *Wait) Cancel() {
	w.cancel()
}

func (w *Wait) Done() <-chan struct{} {
	return w.ctx.Done()
}

// Until calls poll immediately and then once per interval until it reports
// done, returns an error, or the wait ends.
func (w *Wait) Until(poll func(ctx context.Context) (bool, error)) error {
	defer w.cancel()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		done, err := poll(w.ctx)
		if err != nil && w.ctx.Err() == nil {
			return err
		}
		if done && err == nil {
			return nil
		}
		select {
		case <-w.ctx.Done():
			return w.reason()
		case <-ticker.C:
		}
	}
}

// reason reports why the wait ended. A parent that expired or was canceled
// ends the wait with its own error; only the wait's bound yields
// ErrBoundReached.
func (w *Wait) reason() error {
	if err := w.parent.Err(); err != nil {
		return err
	}
	if time.Since(w.started) >= w.bound {
		return ErrBoundReached
	}
	return w.ctx.Err()
}
