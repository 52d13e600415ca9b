package transfer

import (
	"time"

	"token-deposit-withdrawal/pkg/audit"
	"token-deposit-withdrawal/pkg/bridge"
	"token-deposit-withdrawal/pkg/child"
	"token-deposit-withdrawal/pkg/contracts"
	"token-deposit-withdrawal/pkg/deposit"
	"token-deposit-withdrawal/pkg/journal"
	"token-deposit-withdrawal/pkg/ledger"
	"token-deposit-withdrawal/pkg/resource"
	"token-deposit-withdrawal/pkg/tracker"
	"token-deposit-withdrawal/pkg/withdraw"

	"github.com/ethereum/go-ethereum/common"
)

// Wire builds the components of a flow against live ledgers. j may be nil.
func Wire(
	ledgers *ledger.Context,
	b *bridge.Bridge,
	artifacts contracts.ArtifactLoader,
	pollInterval time.Duration,
	j *journal.Journal,
) Components {
	l2 := ledgers.L2
	c := Components{
		L1Address:   ledgers.L1.Address,
		L2Address:   l2.Address,
		L1Resources: resource.NewResolver(contracts.NewArtifactDeployer(ledgers.L1, artifacts)),
		L2Resources: resource.NewResolver(contracts.NewArtifactDeployer(l2, artifacts)),
		Mapper:      b,
		Deposits:    deposit.NewCoordinator(b, ledgers.L1),
		Tracker:     tracker.NewTracker(b, l2.Backend, pollInterval),
		Provisioner: func(factory, l2Token common.Address) Provisioner {
			return child.NewProvisioner(
				contracts.NewFactory(factory, l2),
				contracts.NewERC20(l2Token, l2),
				l2,
				func(a common.Address) child.Receiver { return contracts.NewChild(a, l2) },
			)
		},
		Withdrawals: withdraw.NewCoordinator(b, l2, l2.Address,
			func(a common.Address) withdraw.Drainer { return contracts.NewChild(a, l2) }),
		Auditor: audit.NewAuditor(contracts.NewReader(ledgers.L1), contracts.NewReader(l2)),
	}
	if j != nil {
		c.Journal = j
	}
	return c
}
