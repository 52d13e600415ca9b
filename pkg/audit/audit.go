// Package audit samples balances on both ledgers at phase boundaries of the
// flow. It only reads.
package audit

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"token-deposit-withdrawal/pkg/shared"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	PhaseStart      = "start"
	PhaseDeposit    = "deposit"
	PhaseChild      = "child"
	PhaseWithdrawal = "withdrawal"
)

type BalanceReader interface {
	NativeBalance(ctx context.Context, holder common.Address) (*big.Int, error)
	TokenBalance(ctx context.Context, token, holder common.Address) (*big.Int, error)
}

// Probe is one balance to watch. A zero Token means the native balance.
type Probe struct {
	Label  string
	Chain  shared.Chain
	Holder common.Address
	Token  common.Address
}

type Reading struct {
	Probe
	Balance *big.Int
}

type Snapshot struct {
	Phase    string
	Taken    time.Time
	Readings []Reading
}

// Balance returns the reading for label, or nil if it was not probed.
func (s Snapshot) Balance(label string) *big.Int {
	for _, r := range s.Readings {
		if r.Label == label {
			return r.Balance
		}
	}
	return nil
}

type Delta struct {
	Label  string
	Before *big.Int
	After  *big.Int
	Change *big.Int
}

type Auditor struct {
	readers map[shared.Chain]BalanceReader

	mu     sync.Mutex
	probes []Probe
}

func NewAuditor(l1, l2 BalanceReader) *Auditor {
	return &Auditor{readers: map[shared.Chain]BalanceReader{shared.L1: l1, shared.L2: l2}}
}

// Watch adds probes to every later sample. Probes with a label already
// watched replace the earlier one.
func (a *Auditor) Watch(probes ...Probe) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, p := range probes {
		replaced := false
		for i := range a.probes {
			if a.probes[i].Label == p.Label {
				a.probes[i] = p
				replaced = true
			}
		}
		if !replaced {
			a.probes = append(a.probes, p)
		}
	}
}

// Sample reads every watched balance concurrently and logs the result.
func (a *Auditor) Sample(ctx context.Context, phase string) (Snapshot, error) {
	a.mu.Lock()
	probes := append([]Probe(nil), a.probes...)
	a.mu.Unlock()

	readings := make([]Reading, len(probes))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range probes {
		i, p := i, p
		g.Go(func() error {
			reader, ok := a.readers[p.Chain]
			if !ok || reader == nil {
				return fmt.Errorf("no reader for %s", p.Chain)
			}
			var (
				balance *big.Int
				err     error
			)
			if p.Token == (common.Address{}) {
				balance, err = reader.NativeBalance(gctx, p.Holder)
			} else {
				balance, err = reader.TokenBalance(gctx, p.Token, p.Holder)
			}
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", p.Label, err)
			}
			readings[i] = Reading{Probe: p, Balance: balance}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}

	s := Snapshot{Phase: phase, Taken: time.Now(), Readings: readings}
	report(s)
	return s, nil
}

func report(s Snapshot) {
	for _, r := range s.Readings {
		value := r.Balance.String()
		if r.Token == (common.Address{}) {
			value = shared.FormatEther(r.Balance)
		}
		log.Info().
			Str("phase", s.Phase).
			Stringer("chain", r.Chain).
			Str("holder", r.Holder.Hex()).
			Str("balance", value).
			Msg(r.Label)
	}
}

// Diff reports the change of every label present in both snapshots.
func Diff(before, after Snapshot) []Delta {
	var deltas []Delta
	for _, r := range after.Readings {
		prev := before.Balance(r.Label)
		if prev == nil {
			continue
		}
		deltas = append(deltas, Delta{
			Label:  r.Label,
			Before: prev,
			After:  r.Balance,
			Change: new(big.Int).Sub(r.Balance, prev),
		})
	}
	return deltas
}
