// Package journal keeps a local sqlite record of flow runs so that an
// interrupted inclusion wait can be resumed from the derived L2 hash.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"token-deposit-withdrawal/pkg/shared"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Step names written by the flow.
const (
	StepResolve  = "resolve"
	StepDeposit  = "deposit"
	StepTrack    = "track"
	StepChild    = "child"
	StepWithdraw = "withdraw"
)

var ErrNotFound = errors.New("journal: not found")

type Run struct {
	ID             string
	Asset          string
	DepositAmount  string
	WithdrawAmount string
	Address        string
	Status         string
	ErrorKind      string
	Error          string
	StartedAt      time.Time
	FinishedAt     *time.Time
}

type Step struct {
	RunID    string
	Name     string
	TxHash   string
	SeqNum   string
	L2TxHash string
	Detail   string
	At       time.Time
}

type runRecord struct {
	bun.BaseModel `bun:"table:bridge_runs,alias:br"`

	ID             string     `bun:"id,pk"`
	Asset          string     `bun:"asset,notnull"`
	DepositAmount  string     `bun:"deposit_amount,notnull"`
	WithdrawAmount string     `bun:"withdraw_amount"`
	Address        string     `bun:"address,notnull"`
	Status         string     `bun:"status,notnull"`
	ErrorKind      string     `bun:"error_kind"`
	Error          string     `bun:"error"`
	StartedAt      time.Time  `bun:"started_at,notnull"`
	FinishedAt     *time.Time `bun:"finished_at,nullzero"`
}

type stepRecord struct {
	bun.BaseModel `bun:"table:bridge_steps,alias:bs"`

	ID        int64     `bun:"id,pk,autoincrement"`
	RunID     string    `bun:"run_id,notnull"`
	Name      string    `bun:"name,notnull"`
	TxHash    string    `bun:"tx_hash"`
	SeqNum    string    `bun:"seq_num"`
	L2TxHash  string    `bun:"l2_tx_hash"`
	Detail    string    `bun:"detail"`
	CreatedAt time.Time `bun:"created_at,notnull"`
}

type Journal struct {
	db *bun.DB
}

// Open opens or creates the sqlite journal at path.
func Open(ctx context.Context, path string) (*Journal, error) {
	sqldb, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	sqldb.SetMaxOpenConns(1)
	j, err := New(ctx, bun.NewDB(sqldb, sqlitedialect.New()))
	if err != nil {
		_ = sqldb.Close()
		return nil, err
	}
	return j, nil
}

// New creates the journal tables in db if they are missing.
func New(ctx context.Context, db *bun.DB) (*Journal, error) {
	if db == nil {
		return nil, fmt.Errorf("journal: bun db is required")
	}
	for _, model := range []interface{}{(*runRecord)(nil), (*stepRecord)(nil)} {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return nil, fmt.Errorf("journal: create table: %w", err)
		}
	}
	return &Journal{db: db}, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

// BeginRun stores run as running and returns its new id.
func (j *Journal) BeginRun(ctx context.Context, run Run) (string, error) {
	record := &runRecord{
		ID:             uuid.NewString(),
		Asset:          run.Asset,
		DepositAmount:  run.DepositAmount,
		WithdrawAmount: run.WithdrawAmount,
		Address:        run.Address,
		Status:         StatusRunning,
		StartedAt:      time.Now().UTC(),
	}
	if _, err := j.db.NewInsert().Model(record).Exec(ctx); err != nil {
		return "", fmt.Errorf("journal: insert run: %w", err)
	}
	return record.ID, nil
}

func (j *Journal) RecordStep(ctx context.Context, step Step) error {
	if strings.TrimSpace(step.RunID) == "" || strings.TrimSpace(step.Name) == "" {
		return fmt.Errorf("journal: step requires run id and name")
	}
	record := &stepRecord{
		RunID:     step.RunID,
		Name:      step.Name,
		TxHash:    step.TxHash,
		SeqNum:    step.SeqNum,
		L2TxHash:  step.L2TxHash,
		Detail:    step.Detail,
		CreatedAt: time.Now().UTC(),
	}
	if _, err := j.db.NewInsert().Model(record).Exec(ctx); err != nil {
		return fmt.Errorf("journal: insert step: %w", err)
	}
	return nil
}

// FinishRun marks the run succeeded when runErr is nil and failed otherwise.
func (j *Journal) FinishRun(ctx context.Context, runID string, runErr error) error {
	now := time.Now().UTC()
	record := &runRecord{ID: runID, Status: StatusSucceeded, FinishedAt: &now}
	if runErr != nil {
		record.Status = StatusFailed
		record.ErrorKind = shared.KindOf(runErr).TextCode()
		record.Error = runErr.Error()
	}
	res, err := j.db.NewUpdate().
		Model(record).
		Column("status", "error_kind", "error", "finished_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("journal: update run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("journal: run %s: %w", runID, ErrNotFound)
	}
	return nil
}

// Runs lists the most recent runs first.
func (j *Journal) Runs(ctx context.Context, limit int) ([]Run, error) {
	var records []runRecord
	q := j.db.NewSelect().Model(&records).Order("started_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("journal: list runs: %w", err)
	}
	runs := make([]Run, 0, len(records))
	for _, r := range records {
		runs = append(runs, toRun(r))
	}
	return runs, nil
}

func (j *Journal) Run(ctx context.Context, runID string) (Run, error) {
	var record runRecord
	err := j.db.NewSelect().Model(&record).Where("id = ?", runID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("journal: run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return Run{}, fmt.Errorf("journal: get run: %w", err)
	}
	return toRun(record), nil
}

func (j *Journal) Steps(ctx context.Context, runID string) ([]Step, error) {
	var records []stepRecord
	if err := j.db.NewSelect().
		Model(&records).
		Where("run_id = ?", runID).
		Order("id ASC").
		Scan(ctx); err != nil {
		return nil, fmt.Errorf("journal: list steps: %w", err)
	}
	steps := make([]Step, 0, len(records))
	for _, r := range records {
		steps = append(steps, toStep(r))
	}
	return steps, nil
}

// LastMessage returns the latest journaled cross-layer message of a run.
func (j *Journal) LastMessage(ctx context.Context, runID string) (Step, error) {
	var record stepRecord
	err := j.db.NewSelect().
		Model(&record).
		Where("run_id = ?", runID).
		Where("l2_tx_hash <> ''").
		Order("id DESC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return Step{}, fmt.Errorf("journal: no tracked message for run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return Step{}, fmt.Errorf("journal: last message: %w", err)
	}
	return toStep(record), nil
}

func toRun(r runRecord) Run {
	return Run{
		ID:             r.ID,
		Asset:          r.Asset,
		DepositAmount:  r.DepositAmount,
		WithdrawAmount: r.WithdrawAmount,
		Address:        r.Address,
		Status:         r.Status,
		ErrorKind:      r.ErrorKind,
		Error:          r.Error,
		StartedAt:      r.StartedAt,
		FinishedAt:     r.FinishedAt,
	}
}

func toStep(r stepRecord) Step {
	return Step{
		RunID:    r.RunID,
		Name:     r.Name,
		TxHash:   r.TxHash,
		SeqNum:   r.SeqNum,
		L2TxHash: r.L2TxHash,
		Detail:   r.Detail,
		At:       r.CreatedAt,
	}
}
