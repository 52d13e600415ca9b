package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	mathrand "math/rand"
	"os"
	"time"

	"token-deposit-withdrawal/pkg/artifact"
	"token-deposit-withdrawal/pkg/bridge"
	"token-deposit-withdrawal/pkg/config"
	"token-deposit-withdrawal/pkg/ledger"
	"token-deposit-withdrawal/pkg/shared"
	"token-deposit-withdrawal/pkg/transfer"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/params"
	"github.com/rs/zerolog/log"

	datadog "github.com/DataDog/datadog-api-client-go/api/v2/datadog"
)

// Withdrawals leave this much of each deposit behind for fees.
var feeReserve = big.NewInt(params.Ether / 1000)

func main() {
	cfg, err := config.Load(os.Getenv("BRIDGE_FLOW_CONFIG"))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	cfg.Asset = shared.Native.String()
	if err := config.Check(&cfg); err != nil {
		log.Fatal().Err(err).Msg("Invalid config")
	}
	config.SetupLogging(cfg.LogLevel)
	s, err := cfg.Settings()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to parse config")
	}

	// DD setup
	ctx := context.WithValue(context.Background(), datadog.ContextAPIKeys, map[string]datadog.APIKey{
		"apiKeyAuth": {
			Key: os.Getenv("DD_API_KEY"),
		},
		"appKeyAuth": {
			Key: os.Getenv("DD_APP_KEY"),
		},
	})

	configuration := datadog.NewConfiguration()
	apiClient := datadog.NewAPIClient(configuration)

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
		log.Fatal().Err(err).Msg("Failed to dial ledgers")
	}
	defer ledgers.Close()
	b := bridge.New(ledgers, bridge.Options{
		Inbox:             s.Inbox,
		L1GatewayRouter:   s.L1GatewayRouter,
		L2GatewayRouter:   s.L2GatewayRouter,
		MaxGas:            s.MaxGas,
		GasPriceBid:       s.GasPriceBid,
		MaxSubmissionCost: s.MaxSubmissionCost,
	})
	components := transfer.Wire(ledgers, b, artifact.NewStore(s.ArtifactsDir), s.PollInterval, nil)

	tags := []string{
		"environment:test",
		"account_addr:" + ledgers.L1.Address.Hex(),
		"to_chain_id:" + ledgers.L2.ChainID.String(),
	}

	// The first run may deploy; later runs reuse what it resolved.
	token, master, factory, child := s.TokenAddr, s.MasterAddr, s.FactoryAddr, s.ChildAddr
	for {
		amount, err := randomAmount()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to generate random value")
		}

		flow := transfer.NewFlow(transfer.Options{
			Asset:              shared.Native,
			DepositAmount:      amount,
			WithdrawAmount:     new(big.Int).Sub(amount, feeReserve),
			TokenAddr:          token,
			MasterAddr:         master,
			FactoryAddr:        factory,
			ChildAddr:          child,
			ChildID:            s.ChildID,
			TokenInitialSupply: s.TokenInitialSupply,
			InclusionTimeout:   s.InclusionTimeout,
		}, components)

		start := time.Now()
		res, err := flow.Start(ctx)
		elapsed := time.Since(start).Seconds()

		metricName := "bridging.success"
		switch {
		case shared.IsTimeout(err):
			metricName = "bridging.timeout"
		case err != nil:
			metricName = "bridging.failure"
		}
		if err != nil {
			log.Error().Err(err).Str("amount", shared.FormatEther(amount)).Msg("Flow failed")
		}
		postMetricToDatadog(ctx, apiClient, metricName, elapsed, tags)

		if res.Token.Address != (common.Address{}) {
			token = res.Token.Address
		}
		if res.Master.Address != (common.Address{}) {
			master = res.Master.Address
		}
		if res.Factory.Address != (common.Address{}) {
			factory = res.Factory.Address
		}
		if res.Child.Funded {
			child = res.Child.Address
		}

		// Sleep for random interval between 0 and 5 seconds
		time.Sleep(time.Duration(mathrand.Intn(6)) * time.Second)
	}
}

// randomAmount returns a wei amount in [0.01, 0.1] ether.
func randomAmount() (*big.Int, error) {
	minWei := big.NewInt(params.Ether / 100)
	maxWei := big.NewInt(params.Ether / 10)
	span := new(big.Int).Sub(maxWei, minWei)
	v, err := rand.Int(rand.Reader, span.Add(span, big.NewInt(1)))
	if err != nil {
		return nil, err
	}
	return v.Add(v, minWei), nil
}

func postMetricToDatadog(ctx context.Context, client *datadog.APIClient, metricName string, value float64, tags []string) {
	now := time.Now().Unix()
	point := datadog.MetricPoint{
		Timestamp: datadog.PtrInt64(now),
		Value:     datadog.PtrFloat64(value),
	}
	series := datadog.MetricSeries{
		Metric: metricName,
		Type:   datadog.METRICINTAKETYPE_GAUGE.Ptr(),
		Points: []datadog.MetricPoint{point},
		Tags:   tags,
	}
	payload := datadog.MetricPayload{
		Series: []datadog.MetricSeries{series},
	}
	_, _, err := client.MetricsApi.SubmitMetrics(ctx, payload)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error when calling `MetricsApi.SubmitMetrics`: %v\n", err)
		return
	}
	log.Debug().Str("metric", metricName).Float64("value", value).Msg("Metric posted")
}
