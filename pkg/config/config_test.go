package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"token-deposit-withdrawal/pkg/shared"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const testKey = "b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291"

func validConfig() Config {
	return Config{
		PrivateKey:          testKey,
		L1RPCUrl:            "http://localhost:8545",
		L2RPCUrl:            "http://localhost:8547",
		Asset:               "native",
		WithdrawAmount:      "0.005",
		InboxAddr:           "0x6BEbC4925716945D46F0Ec336D5C2564F419682C",
		L1GatewayRouterAddr: "0x70C143928eCfFaf9F5b406f7f4fC28Dc43d68380",
		L2GatewayRouterAddr: "0x9413AD42910c1eA60c737dB5f58d1C504498a3cD",
	}
}

func TestCheckAppliesDefaults(t *testing.T) {
	cfg := validConfig()
	if err := Check(&cfg); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if cfg.LogLevel != "info" || cfg.DepositAmount != "0.01" || cfg.ChildID != 123 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.InclusionTimeout != "10m0s" || cfg.PollInterval != "5s" || cfg.ArtifactsDir != "artifacts" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}

	cfg = validConfig()
	cfg.Asset = "fungible"
	cfg.WithdrawAmount = "1000"
	if err := Check(&cfg); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if cfg.DepositAmount != "1000" {
		t.Fatalf("expected fungible default of 1000 units, got %s", cfg.DepositAmount)
	}
}

func TestCheckMissingInputs(t *testing.T) {
	cases := map[string]func(*Config){
		"key":     func(c *Config) { c.PrivateKey = "" },
		"l1":      func(c *Config) { c.L1RPCUrl = "" },
		"l2":      func(c *Config) { c.L2RPCUrl = "" },
		"asset":   func(c *Config) { c.Asset = "" },
		"kind":    func(c *Config) { c.Asset = "nft" },
		"inbox":   func(c *Config) { c.InboxAddr = "" },
		"amount":  func(c *Config) { c.DepositAmount = "0" },
		"address": func(c *Config) { c.TokenAddr = "not-an-address" },
		"timeout": func(c *Config) { c.InclusionTimeout = "soon" },
	}
	for name, mutate := range cases {
		cfg := validConfig()
		mutate(&cfg)
		if err := Check(&cfg); shared.KindOf(err) != shared.KindConfiguration {
			t.Fatalf("%s: expected configuration error, got %v", name, err)
		}
	}

	cfg := validConfig()
	cfg.WithdrawAmount = ""
	if err := Check(&cfg); err != nil {
		t.Fatalf("expected withdraw amount to be optional for Check, got %v", err)
	}
	if err := CheckRun(&cfg); shared.KindOf(err) != shared.KindConfiguration {
		t.Fatalf("expected CheckRun to require a withdraw amount, got %v", err)
	}
}

func TestSettings(t *testing.T) {
	cfg := validConfig()
	cfg.FactoryAddr = "0x000000000000000000000000000000000000fac7"
	cfg.InclusionTimeout = "90s"
	cfg.MaxSubmissionCost = "123"

	s, err := cfg.Settings()
	if err != nil {
		t.Fatalf("Settings: %v", err)
	}
	if s.Asset != shared.Native {
		t.Fatalf("expected native asset, got %s", s.Asset)
	}
	if s.DepositAmount.String() != "10000000000000000" || s.WithdrawAmount.String() != "5000000000000000" {
		t.Fatalf("unexpected amounts %s %s", s.DepositAmount, s.WithdrawAmount)
	}
	if s.InclusionTimeout != 90*time.Second || s.MaxSubmissionCost.Int64() != 123 || s.GasPriceBid != nil {
		t.Fatalf("unexpected gas and timeout settings %+v", s)
	}
	if s.FactoryAddr != common.HexToAddress("0xfac7") {
		t.Fatalf("unexpected factory %s", s.FactoryAddr.Hex())
	}
	if s.TokenAddr != (common.Address{}) || s.ChildID.Int64() != 123 {
		t.Fatalf("expected unset overrides to be zero")
	}
	want, _ := crypto.HexToECDSA(testKey)
	if crypto.PubkeyToAddress(s.PrivateKey.PublicKey) != crypto.PubkeyToAddress(want.PublicKey) {
		t.Fatalf("unexpected key")
	}
}

func TestLoadFromFileOverridesEnv(t *testing.T) {
	t.Setenv("L1RPC", "http://env-l1")
	t.Setenv("L2RPC", "http://env-l2")
	t.Setenv("ETH_FLAG", "1")
	t.Setenv("ETH_DEPOSIT", "0.02")
	t.Setenv("DEPOSIT_AMOUNT", "500")

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("l2_rpc_url: http://file-l2\ninclusion_timeout: 2m\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.L1RPCUrl != "http://env-l1" || cfg.L2RPCUrl != "http://file-l2" {
		t.Fatalf("expected file to override env, got %s %s", cfg.L1RPCUrl, cfg.L2RPCUrl)
	}
	if cfg.Asset != "native" || cfg.DepositAmount != "0.02" {
		t.Fatalf("expected ETH_FLAG to select the native amounts, got %s %s", cfg.Asset, cfg.DepositAmount)
	}
	if cfg.InclusionTimeout != "2m" {
		t.Fatalf("expected timeout from file, got %s", cfg.InclusionTimeout)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); shared.KindOf(err) != shared.KindConfiguration {
		t.Fatalf("expected configuration error for a missing file, got %v", err)
	}
}

func TestParseAmount(t *testing.T) {
	if v, err := ParseAmount(shared.Fungible, "1000"); err != nil || v.Int64() != 1000 {
		t.Fatalf("expected 1000 units, got %v %v", v, err)
	}
	if _, err := ParseAmount(shared.Fungible, "0.5"); err == nil {
		t.Fatalf("expected fractional token amounts to fail")
	}
	if _, err := ParseAmount(shared.Native, "-1"); err == nil {
		t.Fatalf("expected negative amounts to fail")
	}
}
