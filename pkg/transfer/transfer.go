// Package transfer runs the full flow: resolve the token, deposit it to L2,
// follow the message, provision and fund a factory child, then withdraw
// back toward L1. Steps run strictly in order and the first failure stops
// the flow.
package transfer

import (
	"context"
	"math/big"
	"time"

	"token-deposit-withdrawal/pkg/audit"
	"token-deposit-withdrawal/pkg/child"
	"token-deposit-withdrawal/pkg/deposit"
	"token-deposit-withdrawal/pkg/journal"
	"token-deposit-withdrawal/pkg/resource"
	"token-deposit-withdrawal/pkg/shared"
	"token-deposit-withdrawal/pkg/tracker"
	"token-deposit-withdrawal/pkg/withdraw"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"
)

// Artifact names of the contracts the flow deploys.
const (
	TokenContract   = "DappToken3"
	MasterContract  = "ChildContract"
	FactoryContract = "ContractFactory"
)

type Options struct {
	Asset          shared.AssetKind
	DepositAmount  *big.Int
	WithdrawAmount *big.Int

	// Overrides switch the matching resource from deploy to reuse.
	TokenAddr   common.Address
	MasterAddr  common.Address
	FactoryAddr common.Address
	ChildAddr   common.Address

	ChildID            *big.Int
	TokenInitialSupply *big.Int
	InclusionTimeout   time.Duration
}

type Resolver interface {
	Resolve(ctx context.Context, spec resource.Spec) (resource.Resolved, error)
	Counterpart(ctx context.Context, name string, source common.Address, m resource.Mapper) (resource.Resolved, error)
}

type Depositor interface {
	Deposit(ctx context.Context, intent deposit.Intent) (deposit.Receipt, error)
}

type MessageTracker interface {
	OnDerived(fn func(tracker.Message))
	Track(ctx context.Context, receipt deposit.Receipt, asset shared.AssetKind, timeout time.Duration) (tracker.Message, error)
}

type Provisioner interface {
	Provision(ctx context.Context, req child.Request) (child.Handle, error)
}

type Withdrawer interface {
	Withdraw(ctx context.Context, h child.Handle, intent withdraw.Intent) (withdraw.Receipt, error)
}

type Sampler interface {
	Watch(probes ...audit.Probe)
	Sample(ctx context.Context, phase string) (audit.Snapshot, error)
}

type Recorder interface {
	BeginRun(ctx context.Context, run journal.Run) (string, error)
	RecordStep(ctx context.Context, step journal.Step) error
	FinishRun(ctx context.Context, runID string, runErr error) error
}

// Components are the collaborators of a flow. Journal is optional.
type Components struct {
	L1Address common.Address
	L2Address common.Address

	L1Resources Resolver
	L2Resources Resolver
	Mapper      resource.Mapper
	Deposits    Depositor
	Tracker     MessageTracker
	// Provisioner binds a provisioner to the resolved factory and L2 token.
	Provisioner func(factory, l2Token common.Address) Provisioner
	Withdrawals Withdrawer
	Auditor     Sampler
	Journal     Recorder
}

type Result struct {
	RunID      string
	Token      resource.Resolved
	L2Token    resource.Resolved
	Master     resource.Resolved
	Factory    resource.Resolved
	Deposit    deposit.Receipt
	Message    tracker.Message
	Child      child.Handle
	Withdrawal withdraw.Receipt
	Snapshots  []audit.Snapshot
}

type Flow struct {
	opts Options
	c    Components
}

func NewFlow(opts Options, c Components) *Flow {
	if opts.ChildID == nil {
		opts.ChildID = big.NewInt(child.DefaultID)
	}
	if opts.TokenInitialSupply == nil {
		opts.TokenInitialSupply = big.NewInt(100000)
	}
	if opts.InclusionTimeout <= 0 {
		opts.InclusionTimeout = tracker.DefaultTimeout
	}
	return &Flow{opts: opts, c: c}
}

// Start runs every step and returns what was done so far, also on error.
func (f *Flow) Start(ctx context.Context) (*Result, error) {
	res := &Result{}
	if err := f.validate(); err != nil {
		return res, err
	}
	if f.c.Journal != nil {
		id, err := f.c.Journal.BeginRun(ctx, f.run())
		if err != nil {
			log.Warn().Err(err).Msg("Failed to journal the run")
		} else {
			res.RunID = id
			log.Info().Str("run", id).Msg("Journaling run")
		}
	}

	err := f.steps(ctx, res)
	if res.RunID != "" {
		if jerr := f.c.Journal.FinishRun(ctx, res.RunID, err); jerr != nil {
			log.Warn().Err(jerr).Msg("Failed to journal the run result")
		}
	}
	return res, err
}

func (f *Flow) validate() error {
	if f.opts.DepositAmount == nil || f.opts.DepositAmount.Sign() <= 0 {
		return shared.Errorf(shared.KindConfiguration, "start", "deposit amount must be positive")
	}
	if f.opts.WithdrawAmount == nil || f.opts.WithdrawAmount.Sign() <= 0 {
		return shared.Errorf(shared.KindConfiguration, "start", "withdraw amount must be positive")
	}
	return nil
}

func (f *Flow) steps(ctx context.Context, res *Result) error {
	if err := f.resolveToken(ctx, res); err != nil {
		return err
	}
	f.sample(ctx, res, audit.PhaseStart)

	if err := f.deposit(ctx, res); err != nil {
		return err
	}
	if err := f.track(ctx, res); err != nil {
		return err
	}
	f.sample(ctx, res, audit.PhaseDeposit)

	if err := f.resolveFactory(ctx, res); err != nil {
		return err
	}
	if err := f.provision(ctx, res); err != nil {
		return err
	}
	f.sample(ctx, res, audit.PhaseChild)

	if err := f.withdraw(ctx, res); err != nil {
		return err
	}
	f.sample(ctx, res, audit.PhaseWithdrawal)
	log.Info().Msg("Withdrawal initiated. Funds can be claimed on L1 through the outbox after the dispute period")
	return nil
}

func (f *Flow) resolveToken(ctx context.Context, res *Result) error {
	token, err := f.c.L1Resources.Resolve(ctx,
		resource.FromOverride(TokenContract, f.opts.TokenAddr, f.opts.TokenInitialSupply))
	if err != nil {
		return err
	}
	res.Token = token
	f.record(ctx, res, journal.Step{Name: journal.StepResolve, TxHash: hashOrEmpty(token.TxHash), Detail: "l1 token " + token.Address.Hex()})

	l2Token, err := f.c.L1Resources.Counterpart(ctx, "L2 "+TokenContract, token.Address, f.c.Mapper)
	if err != nil {
		return err
	}
	res.L2Token = l2Token
	f.record(ctx, res, journal.Step{Name: journal.StepResolve, Detail: "l2 token " + l2Token.Address.Hex()})

	if f.c.Auditor != nil {
		f.c.Auditor.Watch(
			audit.Probe{Label: "ETH balance L1", Chain: shared.L1, Holder: f.c.L1Address},
			audit.Probe{Label: "ETH balance L2", Chain: shared.L2, Holder: f.c.L2Address},
			audit.Probe{Label: "Token balance L1", Chain: shared.L1, Holder: f.c.L1Address, Token: token.Address},
			audit.Probe{Label: "Token balance L2", Chain: shared.L2, Holder: f.c.L2Address, Token: l2Token.Address},
		)
	}
	return nil
}

func (f *Flow) deposit(ctx context.Context, res *Result) error {
	receipt, err := f.c.Deposits.Deposit(ctx, deposit.Intent{
		Asset:  f.opts.Asset,
		Amount: f.opts.DepositAmount,
		Token:  res.Token.Address,
	})
	if err != nil {
		return err
	}
	res.Deposit = receipt
	f.record(ctx, res, journal.Step{Name: journal.StepDeposit, TxHash: receipt.TxHash.Hex()})
	return nil
}

func (f *Flow) track(ctx context.Context, res *Result) error {
	f.c.Tracker.OnDerived(func(msg tracker.Message) {
		f.recordMessage(ctx, res, msg)
	})
	msg, err := f.c.Tracker.Track(ctx, res.Deposit, f.opts.Asset, f.opts.InclusionTimeout)
	res.Message = msg
	if msg.SeqNum != nil {
		f.recordMessage(ctx, res, msg)
	}
	return err
}

func (f *Flow) recordMessage(ctx context.Context, res *Result, msg tracker.Message) {
	f.record(ctx, res, journal.Step{
		Name:     journal.StepTrack,
		SeqNum:   msg.SeqNum.String(),
		L2TxHash: msg.L2TxHash.Hex(),
		Detail:   msg.Status.String(),
	})
}

func (f *Flow) resolveFactory(ctx context.Context, res *Result) error {
	master, err := f.c.L2Resources.Resolve(ctx, resource.FromOverride(MasterContract, f.opts.MasterAddr))
	if err != nil {
		return err
	}
	res.Master = master

	factory, err := f.c.L2Resources.Resolve(ctx,
		resource.FromOverride(FactoryContract, f.opts.FactoryAddr, res.L2Token.Address, master.Address))
	if err != nil {
		return err
	}
	res.Factory = factory
	f.record(ctx, res, journal.Step{
		Name:   journal.StepResolve,
		TxHash: hashOrEmpty(factory.TxHash),
		Detail: "factory " + factory.Address.Hex() + " master " + master.Address.Hex(),
	})
	return nil
}

func (f *Flow) provision(ctx context.Context, res *Result) error {
	p := f.c.Provisioner(res.Factory.Address, res.L2Token.Address)
	h, err := p.Provision(ctx, child.Request{
		ID:       f.opts.ChildID,
		Asset:    f.opts.Asset,
		Amount:   f.opts.DepositAmount,
		Token:    res.L2Token.Address,
		Existing: f.opts.ChildAddr,
	})
	res.Child = h
	if err != nil {
		return err
	}
	f.record(ctx, res, journal.Step{Name: journal.StepChild, TxHash: h.FundingTx.Hex(), Detail: "child " + h.Address.Hex()})

	if f.c.Auditor != nil {
		f.c.Auditor.Watch(
			audit.Probe{Label: "ETH balance child", Chain: shared.L2, Holder: h.Address},
			audit.Probe{Label: "Token balance child", Chain: shared.L2, Holder: h.Address, Token: res.L2Token.Address},
		)
	}
	return nil
}

func (f *Flow) withdraw(ctx context.Context, res *Result) error {
	receipt, err := f.c.Withdrawals.Withdraw(ctx, res.Child, withdraw.Intent{
		Asset:  f.opts.Asset,
		Amount: f.opts.WithdrawAmount,
		Token:  res.Token.Address,
	})
	if err != nil {
		return err
	}
	res.Withdrawal = receipt
	f.record(ctx, res, journal.Step{
		Name:   journal.StepWithdraw,
		TxHash: receipt.TxHash.Hex(),
		Detail: "unique id " + receipt.Event.UniqueID.String() + " amount " + receipt.Event.Amount.String(),
	})
	return nil
}

// sample logs failed reads and moves on; balances are only reported.
func (f *Flow) sample(ctx context.Context, res *Result, phase string) {
	if f.c.Auditor == nil {
		return
	}
	s, err := f.c.Auditor.Sample(ctx, phase)
	if err != nil {
		log.Warn().Err(err).Str("phase", phase).Msg("Failed to sample balances")
		return
	}
	res.Snapshots = append(res.Snapshots, s)
}

func (f *Flow) record(ctx context.Context, res *Result, step journal.Step) {
	if res.RunID == "" {
		return
	}
	step.RunID = res.RunID
	if err := f.c.Journal.RecordStep(ctx, step); err != nil {
		log.Warn().Err(err).Str("step", step.Name).Msg("Failed to journal step")
	}
}

func (f *Flow) run() journal.Run {
	r := journal.Run{
		Asset:   f.opts.Asset.String(),
		Address: f.c.L1Address.Hex(),
	}
	if f.opts.DepositAmount != nil {
		r.DepositAmount = f.opts.DepositAmount.String()
	}
	if f.opts.WithdrawAmount != nil {
		r.WithdrawAmount = f.opts.WithdrawAmount.String()
	}
	return r
}

func hashOrEmpty(h common.Hash) string {
	if h == (common.Hash{}) {
		return ""
	}
	return h.Hex()
}
