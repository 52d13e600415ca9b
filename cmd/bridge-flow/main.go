package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"token-deposit-withdrawal/pkg/artifact"
	"token-deposit-withdrawal/pkg/audit"
	"token-deposit-withdrawal/pkg/bridge"
	"token-deposit-withdrawal/pkg/config"
	"token-deposit-withdrawal/pkg/contracts"
	"token-deposit-withdrawal/pkg/journal"
	"token-deposit-withdrawal/pkg/ledger"
	"token-deposit-withdrawal/pkg/shared"
	"token-deposit-withdrawal/pkg/tracker"
	"token-deposit-withdrawal/pkg/transfer"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

var (
	optionConfig = &cli.StringFlag{
		Name:     "config",
		Usage:    "path to bridge flow config file",
		Required: false, // Can also set config via env vars
		EnvVars:  []string{"BRIDGE_FLOW_CONFIG"},
	}
	optionRun = &cli.StringFlag{
		Name:  "run",
		Usage: "journaled run id",
	}
)

func main() {
	app := &cli.App{
		Name:  "bridge-flow",
		Usage: "Deposit to L2, fund a factory child and withdraw back toward L1 over the Arbitrum bridge",
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "Run the full deposit, child provisioning and withdrawal flow",
				Flags: []cli.Flag{
					optionConfig,
				},
				Action: func(c *cli.Context) error {
					return run(c)
				},
			},
			{
				Name:  "track",
				Usage: "Resume waiting for the L2 execution of a deposit message",
				Flags: []cli.Flag{
					optionConfig,
					optionRun,
					&cli.StringFlag{
						Name:  "seq-num",
						Usage: "inbox sequence number of the deposit message",
					},
					&cli.StringFlag{
						Name:  "asset",
						Usage: "asset kind of the deposit (native or fungible), defaults to the configured asset",
					},
					&cli.DurationFlag{
						Name:  "timeout",
						Usage: "wait bound, defaults to inclusion_timeout",
					},
				},
				Action: func(c *cli.Context) error {
					return track(c)
				},
			},
			{
				Name:  "balances",
				Usage: "Report native and token balances on both ledgers",
				Flags: []cli.Flag{
					optionConfig,
					&cli.StringFlag{
						Name:  "token",
						Usage: "L1 token address, defaults to token_addr",
					},
					&cli.StringFlag{
						Name:  "child",
						Usage: "L2 child address, defaults to child_addr",
					},
				},
				Action: func(c *cli.Context) error {
					return balances(c)
				},
			},
			{
				Name:  "cancel-pending",
				Usage: "Replace pending transactions of the signing address on both ledgers",
				Flags: []cli.Flag{
					optionConfig,
				},
				Action: func(c *cli.Context) error {
					return cancelPending(c)
				},
			},
			{
				Name:  "history",
				Usage: "List journaled runs, or the steps of one run",
				Flags: []cli.Flag{
					optionConfig,
					optionRun,
					&cli.IntFlag{
						Name:  "limit",
						Usage: "number of runs to list",
						Value: 20,
					},
				},
				Action: func(c *cli.Context) error {
					return history(c)
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		report(err)
		os.Exit(1)
	}
}

// report prints the error envelope for the operator.
func report(err error) {
	envelope := shared.Report(err)
	log.Error().
		Str("code", envelope.TextCode).
		Interface("metadata", envelope.Metadata).
		Msg(envelope.Message)
	buf, jerr := json.MarshalIndent(envelope, "", "  ")
	if jerr != nil {
		fmt.Fprintf(os.Stderr, "exited with error: %v\n", err)
		return
	}
	fmt.Fprintf(os.Stderr, "exited with error:\n%s\n", buf)
}

func loadSettings(c *cli.Context, check func(*config.Config) error) (*config.Settings, error) {
	cfg, err := config.Load(c.String(optionConfig.Name))
	if err != nil {
		return nil, err
	}
	if err := check(&cfg); err != nil {
		return nil, err
	}
	config.SetupLogging(cfg.LogLevel)
	return cfg.Settings()
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

func dial(ctx context.Context, s *config.Settings) (*ledger.Context, *bridge.Bridge, error) {
	ledgers, err := ledger.Dial(ctx, ledger.Options{
		PrivateKey: s.PrivateKey,
		L1RPCUrl:   s.L1RPCUrl,
		L2RPCUrl:   s.L2RPCUrl,
		L1ChainID:  s.L1ChainID,
		L2ChainID:  s.L2ChainID,
		L1GasLimit: s.L1GasLimit,
		L2GasLimit: s.L2GasLimit,
	})
	if err != nil {
		return nil, nil, shared.NewError(shared.KindConfiguration, "dial", err)
	}
	b := bridge.New(ledgers, bridge.Options{
		Inbox:             s.Inbox,
		L1GatewayRouter:   s.L1GatewayRouter,
		L2GatewayRouter:   s.L2GatewayRouter,
		MaxGas:            s.MaxGas,
		GasPriceBid:       s.GasPriceBid,
		MaxSubmissionCost: s.MaxSubmissionCost,
	})
	return ledgers, b, nil
}

// parseSeqNum reads an operator supplied inbox sequence number.
func parseSeqNum(v string) (*big.Int, error) {
	seq, ok := new(big.Int).SetString(v, 10)
	if !ok || seq.Sign() < 0 {
		return nil, shared.Errorf(shared.KindConfiguration, "track", "invalid sequence number %q", v)
	}
	return seq, nil
}

func openJournal(ctx context.Context, path string) (*journal.Journal, error) {
	if path == "" {
		return nil, nil
	}
	j, err := journal.Open(ctx, path)
	if err != nil {
		return nil, shared.NewError(shared.KindConfiguration, "open journal", err)
	}
	return j, nil
}

func cancelBoth(ctx context.Context, ledgers *ledger.Context) error {
	for _, id := range []*ledger.Identity{ledgers.L1, ledgers.L2} {
		if err := id.CancelPending(ctx); err != nil {
			return shared.NewError(shared.KindSubmission, "cancel pending", fmt.Errorf("%s: %w", id.Chain, err))
		}
	}
	return nil
}

func run(c *cli.Context) error {
	s, err := loadSettings(c, config.CheckRun)
	if err != nil {
		return err
	}
	ctx, stop := signalContext(c.Context)
	defer stop()

	ledgers, b, err := dial(ctx, s)
	if err != nil {
		return err
	}
	defer ledgers.Close()
	if s.CancelPending {
		if err := cancelBoth(ctx, ledgers); err != nil {
			return err
		}
	}
	j, err := openJournal(ctx, s.JournalPath)
	if err != nil {
		return err
	}
	if j != nil {
		defer j.Close()
	}

	flow := transfer.NewFlow(transfer.Options{
		Asset:              s.Asset,
		DepositAmount:      s.DepositAmount,
		WithdrawAmount:     s.WithdrawAmount,
		TokenAddr:          s.TokenAddr,
		MasterAddr:         s.MasterAddr,
		FactoryAddr:        s.FactoryAddr,
		ChildAddr:          s.ChildAddr,
		ChildID:            s.ChildID,
		TokenInitialSupply: s.TokenInitialSupply,
		InclusionTimeout:   s.InclusionTimeout,
	}, transfer.Wire(ledgers, b, artifact.NewStore(s.ArtifactsDir), s.PollInterval, j))

	start := time.Now()
	res, err := flow.Start(ctx)
	if err != nil {
		if res.RunID != "" {
			log.Info().Str("run", res.RunID).Msg("Inspect with `bridge-flow history --run`")
		}
		if shared.IsTimeout(err) && res.RunID != "" {
			log.Info().Str("run", res.RunID).Msg("Resume the inclusion wait with `bridge-flow track --run`")
		}
		return err
	}

	log.Info().
		Str("run", res.RunID).
		Str("deposit_tx", res.Deposit.TxHash.Hex()).
		Str("l2_tx", res.Message.L2TxHash.Hex()).
		Str("child", res.Child.Address.Hex()).
		Str("withdrawal_tx", res.Withdrawal.TxHash.Hex()).
		Dur("elapsed", time.Since(start).Round(time.Second)).
		Msg("Flow completed")
	if n := len(res.Snapshots); n > 1 {
		for _, d := range audit.Diff(res.Snapshots[0], res.Snapshots[n-1]) {
			log.Info().Str("probe", d.Label).Str("change", d.Change.String()).Msg("Balance change over the run")
		}
	}
	return nil
}

func track(c *cli.Context) error {
	s, err := loadSettings(c, config.Check)
	if err != nil {
		return err
	}
	ctx, stop := signalContext(c.Context)
	defer stop()

	var (
		runID = c.String(optionRun.Name)
		asset = s.Asset
		seq   *big.Int
		j     *journal.Journal
		want  common.Hash
	)
	if a := c.String("asset"); a != "" {
		if asset, err = shared.ParseAssetKind(a); err != nil {
			return shared.NewError(shared.KindConfiguration, "track", err)
		}
	}

	switch {
	case runID != "":
		if j, err = openJournal(ctx, s.JournalPath); err != nil {
			return err
		}
		if j == nil {
			return shared.Errorf(shared.KindConfiguration, "track", "journal_path is required to resume a run")
		}
		defer j.Close()
		r, err := j.Run(ctx, runID)
		if err != nil {
			return shared.NewError(shared.KindConfiguration, "track", err)
		}
		if asset, err = shared.ParseAssetKind(r.Asset); err != nil {
			return shared.NewError(shared.KindConfiguration, "track", err)
		}
		step, err := j.LastMessage(ctx, runID)
		if err != nil {
			return shared.NewError(shared.KindConfiguration, "track", err)
		}
		if seq, err = parseSeqNum(step.SeqNum); err != nil {
			return err
		}
		want = common.HexToHash(step.L2TxHash)
	case c.String("seq-num") != "":
		if seq, err = parseSeqNum(c.String("seq-num")); err != nil {
			return err
		}
	default:
		return shared.Errorf(shared.KindConfiguration, "track", "either --run or --seq-num is required")
	}

	ledgers, b, err := dial(ctx, s)
	if err != nil {
		return err
	}
	defer ledgers.Close()
	t := tracker.NewTracker(b, ledgers.L2.Backend, s.PollInterval)
	msg := t.Derive(seq, asset)
	if want != (common.Hash{}) && want != msg.L2TxHash {
		log.Warn().Str("journaled", want.Hex()).Str("derived", msg.L2TxHash.Hex()).
			Msg("Journaled L2 hash differs from the derived one, following the derived hash")
	}

	timeout := c.Duration("timeout")
	if timeout <= 0 {
		timeout = s.InclusionTimeout
	}
	msg, err = t.Await(ctx, msg, timeout)
	if j != nil {
		if jerr := j.RecordStep(ctx, journal.Step{
			RunID:    runID,
			Name:     journal.StepTrack,
			SeqNum:   msg.SeqNum.String(),
			L2TxHash: msg.L2TxHash.Hex(),
			Detail:   msg.Status.String() + " (resumed)",
		}); jerr != nil {
			log.Warn().Err(jerr).Msg("Failed to journal step")
		}
	}
	if err != nil {
		return err
	}
	fmt.Printf("Message %s included in L2 tx %s (block %s, status %d)\n",
		msg.SeqNum, msg.L2TxHash.Hex(), msg.Receipt.BlockNumber, msg.Receipt.Status)
	return nil
}

func balances(c *cli.Context) error {
	s, err := loadSettings(c, config.Check)
	if err != nil {
		return err
	}
	ctx, stop := signalContext(c.Context)
	defer stop()

	ledgers, b, err := dial(ctx, s)
	if err != nil {
		return err
	}
	defer ledgers.Close()
	token := s.TokenAddr
	if v := c.String("token"); v != "" {
		if !common.IsHexAddress(v) {
			return shared.Errorf(shared.KindConfiguration, "balances", "token is not an address: %q", v)
		}
		token = common.HexToAddress(v)
	}
	childAddr := s.ChildAddr
	if v := c.String("child"); v != "" {
		if !common.IsHexAddress(v) {
			return shared.Errorf(shared.KindConfiguration, "balances", "child is not an address: %q", v)
		}
		childAddr = common.HexToAddress(v)
	}

	a := audit.NewAuditor(contracts.NewReader(ledgers.L1), contracts.NewReader(ledgers.L2))
	a.Watch(
		audit.Probe{Label: "ETH balance L1", Chain: shared.L1, Holder: ledgers.L1.Address},
		audit.Probe{Label: "ETH balance L2", Chain: shared.L2, Holder: ledgers.L2.Address},
	)
	var l2Token common.Address
	if token != (common.Address{}) {
		if l2Token, err = b.L2TokenAddress(ctx, token); err != nil {
			return shared.NewError(shared.KindProvisioning, "balances", err)
		}
		a.Watch(
			audit.Probe{Label: "Token balance L1", Chain: shared.L1, Holder: ledgers.L1.Address, Token: token},
			audit.Probe{Label: "Token balance L2", Chain: shared.L2, Holder: ledgers.L2.Address, Token: l2Token},
		)
	}
	if childAddr != (common.Address{}) {
		a.Watch(audit.Probe{Label: "ETH balance child", Chain: shared.L2, Holder: childAddr})
		if l2Token != (common.Address{}) {
			a.Watch(audit.Probe{Label: "Token balance child", Chain: shared.L2, Holder: childAddr, Token: l2Token})
		}
	}

	snap, err := a.Sample(ctx, "current")
	if err != nil {
		return shared.NewError(shared.KindConfiguration, "balances", err)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, r := range snap.Readings {
		value := r.Balance.String()
		if r.Probe.Token == (common.Address{}) {
			value = shared.FormatEther(r.Balance) + " ETH"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", r.Probe.Label, r.Probe.Holder.Hex(), value)
	}
	return w.Flush()
}

func cancelPending(c *cli.Context) error {
	s, err := loadSettings(c, config.Check)
	if err != nil {
		return err
	}
	ctx, stop := signalContext(c.Context)
	defer stop()

	ledgers, _, err := dial(ctx, s)
	if err != nil {
		return err
	}
	defer ledgers.Close()
	if err := cancelBoth(ctx, ledgers); err != nil {
		return err
	}
	log.Info().Msg("No pending transactions left on either ledger")
	return nil
}

func history(c *cli.Context) error {
	cfg, err := config.Load(c.String(optionConfig.Name))
	if err != nil {
		return err
	}
	config.SetupLogging(cfg.LogLevel)
	if cfg.JournalPath == "" {
		return shared.Errorf(shared.KindConfiguration, "history", "journal_path is required")
	}
	ctx := c.Context
	j, err := openJournal(ctx, cfg.JournalPath)
	if err != nil {
		return err
	}
	defer j.Close()

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	if runID := c.String(optionRun.Name); runID != "" {
		steps, err := j.Steps(ctx, runID)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, "AT\tSTEP\tTX\tSEQ\tL2 TX\tDETAIL")
		for _, s := range steps {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				s.At.Format(time.RFC3339), s.Name, s.TxHash, s.SeqNum, s.L2TxHash, s.Detail)
		}
		return w.Flush()
	}

	runs, err := j.Runs(ctx, c.Int("limit"))
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "RUN\tSTARTED\tASSET\tDEPOSIT\tWITHDRAW\tSTATUS\tERROR")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.StartedAt.Format(time.RFC3339), r.Asset, r.DepositAmount, r.WithdrawAmount, r.Status, r.ErrorKind)
	}
	return w.Flush()
}
