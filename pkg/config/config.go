// Package config loads the flow configuration from the environment and an
// optional yaml file that overrides it.
package config

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"token-deposit-withdrawal/pkg/shared"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v2"
)

const (
	defaultLogLevel           = "info"
	defaultNativeDeposit      = "0.01"
	defaultFungibleDeposit    = "1000"
	defaultChildID            = 123
	defaultTokenInitialSupply = 100000
	defaultArtifactsDir       = "artifacts"
	defaultMaxGas             = 1_000_000
	defaultInclusionTimeout   = 10 * time.Minute
	defaultPollInterval       = 5 * time.Second
	defaultL1GasLimit         = 3_000_000
)

type Config struct {
	PrivKeyFile string `yaml:"priv_key_file" json:"priv_key_file"`
	PrivateKey  string `yaml:"private_key" json:"private_key"`
	LogLevel    string `yaml:"log_level" json:"log_level"`

	L1RPCUrl  string `yaml:"l1_rpc_url" json:"l1_rpc_url"`
	L2RPCUrl  string `yaml:"l2_rpc_url" json:"l2_rpc_url"`
	L1ChainID int64  `yaml:"l1_chain_id" json:"l1_chain_id"`
	L2ChainID int64  `yaml:"l2_chain_id" json:"l2_chain_id"`

	Asset          string `yaml:"asset" json:"asset"`
	DepositAmount  string `yaml:"deposit_amount" json:"deposit_amount"`
	WithdrawAmount string `yaml:"withdraw_amount" json:"withdraw_amount"`

	TokenAddr          string `yaml:"token_addr" json:"token_addr"`
	MasterAddr         string `yaml:"master_addr" json:"master_addr"`
	FactoryAddr        string `yaml:"factory_addr" json:"factory_addr"`
	ChildAddr          string `yaml:"child_addr" json:"child_addr"`
	ChildID            int64  `yaml:"child_id" json:"child_id"`
	TokenInitialSupply int64  `yaml:"token_initial_supply" json:"token_initial_supply"`
	ArtifactsDir       string `yaml:"artifacts_dir" json:"artifacts_dir"`

	InboxAddr           string `yaml:"inbox_addr" json:"inbox_addr"`
	L1GatewayRouterAddr string `yaml:"l1_gateway_router_addr" json:"l1_gateway_router_addr"`
	L2GatewayRouterAddr string `yaml:"l2_gateway_router_addr" json:"l2_gateway_router_addr"`
	MaxGas              int64  `yaml:"max_gas" json:"max_gas"`
	GasPriceBid         string `yaml:"gas_price_bid" json:"gas_price_bid"`
	MaxSubmissionCost   string `yaml:"max_submission_cost" json:"max_submission_cost"`

	InclusionTimeout string `yaml:"inclusion_timeout" json:"inclusion_timeout"`
	PollInterval     string `yaml:"poll_interval" json:"poll_interval"`
	L1GasLimit       uint64 `yaml:"l1_gas_limit" json:"l1_gas_limit"`
	L2GasLimit       uint64 `yaml:"l2_gas_limit" json:"l2_gas_limit"`

	JournalPath   string `yaml:"journal_path" json:"journal_path"`
	CancelPending bool   `yaml:"cancel_pending" json:"cancel_pending"`
}

// Settings is a checked Config with every value parsed.
type Settings struct {
	PrivateKey *ecdsa.PrivateKey
	LogLevel   string

	L1RPCUrl  string
	L2RPCUrl  string
	L1ChainID int64
	L2ChainID int64

	Asset          shared.AssetKind
	DepositAmount  *big.Int
	WithdrawAmount *big.Int

	TokenAddr          common.Address
	MasterAddr         common.Address
	FactoryAddr        common.Address
	ChildAddr          common.Address
	ChildID            *big.Int
	TokenInitialSupply *big.Int
	ArtifactsDir       string

	Inbox             common.Address
	L1GatewayRouter   common.Address
	L2GatewayRouter   common.Address
	MaxGas            *big.Int
	GasPriceBid       *big.Int
	MaxSubmissionCost *big.Int

	InclusionTimeout time.Duration
	PollInterval     time.Duration
	L1GasLimit       uint64
	L2GasLimit       uint64

	JournalPath   string
	CancelPending bool
}

// LoadFromEnv reads the variables the devnet deployment scripts export.
// ETH_FLAG selects the native path and its ETH_* amounts.
func LoadFromEnv() Config {
	cfg := Config{
		PrivKeyFile:         os.Getenv("PRIVATE_KEY_FILE_PATH"),
		PrivateKey:          os.Getenv("DEVNET_PRIVKEY"),
		LogLevel:            os.Getenv("LOG_LEVEL"),
		L1RPCUrl:            os.Getenv("L1RPC"),
		L2RPCUrl:            os.Getenv("L2RPC"),
		Asset:               os.Getenv("ASSET"),
		DepositAmount:       os.Getenv("DEPOSIT_AMOUNT"),
		WithdrawAmount:      os.Getenv("WITHDRAW_AMOUNT"),
		TokenAddr:           os.Getenv("DAPP_CONTRACT"),
		MasterAddr:          os.Getenv("MASTER_CONTRACT"),
		FactoryAddr:         os.Getenv("FACTORY_CONTRACT"),
		ChildAddr:           os.Getenv("CHILD_CONTRACT"),
		ArtifactsDir:        os.Getenv("ARTIFACTS_DIR"),
		InboxAddr:           os.Getenv("INBOX_ADDR"),
		L1GatewayRouterAddr: os.Getenv("L1_GATEWAY_ROUTER_ADDR"),
		L2GatewayRouterAddr: os.Getenv("L2_GATEWAY_ROUTER_ADDR"),
		InclusionTimeout:    os.Getenv("INCLUSION_TIMEOUT"),
		JournalPath:         os.Getenv("JOURNAL_PATH"),
	}
	if os.Getenv("ETH_FLAG") != "" {
		cfg.Asset = shared.Native.String()
		cfg.DepositAmount = os.Getenv("ETH_DEPOSIT")
		cfg.WithdrawAmount = os.Getenv("ETH_WITHDRAWAL")
	}
	if id, err := strconv.ParseInt(os.Getenv("CHILD_ID"), 10, 64); err == nil {
		cfg.ChildID = id
	}
	return cfg
}

func LoadFromFile(cfg *Config, filePath string) error {
	buf, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read config file at: %s, %w", filePath, err)
	}
	if err := yaml.Unmarshal(buf, cfg); err != nil {
		return fmt.Errorf("failed to unmarshal config file at: %s, %w", filePath, err)
	}
	return nil
}

// Load reads the environment and lets the file at filePath, if any,
// override it.
func Load(filePath string) (Config, error) {
	cfg := LoadFromEnv()
	if filePath == "" {
		log.Debug().Msg("env var config will be used")
		return cfg, nil
	}
	log.Debug().Str("config_file", filePath).Msg("overriding env var config with file")
	if err := LoadFromFile(&cfg, filePath); err != nil {
		return cfg, shared.NewError(shared.KindConfiguration, "load config", err)
	}
	return cfg, nil
}

// Check applies defaults and validates cfg. Errors are configuration errors.
func Check(cfg *Config) error {
	if err := check(cfg); err != nil {
		return shared.NewError(shared.KindConfiguration, "check config", err)
	}
	return nil
}

// CheckRun also requires what the withdrawal leg of a full run needs.
func CheckRun(cfg *Config) error {
	if err := Check(cfg); err != nil {
		return err
	}
	if strings.TrimSpace(cfg.WithdrawAmount) == "" {
		return shared.Errorf(shared.KindConfiguration, "check config", "withdraw_amount is required")
	}
	return nil
}

func check(cfg *Config) error {
	if cfg.PrivKeyFile == "" && cfg.PrivateKey == "" {
		return fmt.Errorf("priv_key_file or private_key is required")
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultLogLevel
	}
	if _, err := zerolog.ParseLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level: %w", err)
	}
	if cfg.L1RPCUrl == "" {
		return fmt.Errorf("l1_rpc_url is required")
	}
	if cfg.L2RPCUrl == "" {
		return fmt.Errorf("l2_rpc_url is required")
	}
	if cfg.Asset == "" {
		return fmt.Errorf("asset is required")
	}
	asset, err := shared.ParseAssetKind(cfg.Asset)
	if err != nil {
		return err
	}
	if cfg.DepositAmount == "" {
		cfg.DepositAmount = defaultFungibleDeposit
		if asset == shared.Native {
			cfg.DepositAmount = defaultNativeDeposit
		}
	}
	if _, err := parseAmount(asset, cfg.DepositAmount); err != nil {
		return fmt.Errorf("invalid deposit_amount: %w", err)
	}
	if cfg.WithdrawAmount != "" {
		if _, err := parseAmount(asset, cfg.WithdrawAmount); err != nil {
			return fmt.Errorf("invalid withdraw_amount: %w", err)
		}
	}

	for key, value := range map[string]string{
		"inbox_addr":             cfg.InboxAddr,
		"l1_gateway_router_addr": cfg.L1GatewayRouterAddr,
		"l2_gateway_router_addr": cfg.L2GatewayRouterAddr,
	} {
		if value == "" {
			return fmt.Errorf("%s is required", key)
		}
	}
	for key, value := range map[string]string{
		"inbox_addr":             cfg.InboxAddr,
		"l1_gateway_router_addr": cfg.L1GatewayRouterAddr,
		"l2_gateway_router_addr": cfg.L2GatewayRouterAddr,
		"token_addr":             cfg.TokenAddr,
		"master_addr":            cfg.MasterAddr,
		"factory_addr":           cfg.FactoryAddr,
		"child_addr":             cfg.ChildAddr,
	} {
		if value != "" && !common.IsHexAddress(value) {
			return fmt.Errorf("%s is not an address: %q", key, value)
		}
	}

	if cfg.ChildID == 0 {
		cfg.ChildID = defaultChildID
	}
	if cfg.TokenInitialSupply == 0 {
		cfg.TokenInitialSupply = defaultTokenInitialSupply
	}
	if cfg.ArtifactsDir == "" {
		cfg.ArtifactsDir = defaultArtifactsDir
	}
	if cfg.MaxGas == 0 {
		cfg.MaxGas = defaultMaxGas
	}
	for key, value := range map[string]string{
		"gas_price_bid":       cfg.GasPriceBid,
		"max_submission_cost": cfg.MaxSubmissionCost,
	} {
		if _, err := parseOptionalWei(value); err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
	}
	if cfg.InclusionTimeout == "" {
		cfg.InclusionTimeout = defaultInclusionTimeout.String()
	}
	if d, err := time.ParseDuration(cfg.InclusionTimeout); err != nil || d <= 0 {
		return fmt.Errorf("invalid inclusion_timeout %q", cfg.InclusionTimeout)
	}
	if cfg.PollInterval == "" {
		cfg.PollInterval = defaultPollInterval.String()
	}
	if d, err := time.ParseDuration(cfg.PollInterval); err != nil || d <= 0 {
		return fmt.Errorf("invalid poll_interval %q", cfg.PollInterval)
	}
	if cfg.L1GasLimit == 0 {
		cfg.L1GasLimit = defaultL1GasLimit
	}
	return nil
}

// Settings parses a checked cfg and loads its signing key.
func (cfg *Config) Settings() (*Settings, error) {
	if err := Check(cfg); err != nil {
		return nil, err
	}
	key, err := cfg.loadKey()
	if err != nil {
		return nil, shared.NewError(shared.KindConfiguration, "load key", err)
	}

	asset, _ := shared.ParseAssetKind(cfg.Asset)
	deposit, _ := parseAmount(asset, cfg.DepositAmount)
	var withdraw *big.Int
	if cfg.WithdrawAmount != "" {
		withdraw, _ = parseAmount(asset, cfg.WithdrawAmount)
	}
	bid, _ := parseOptionalWei(cfg.GasPriceBid)
	cost, _ := parseOptionalWei(cfg.MaxSubmissionCost)
	timeout, _ := time.ParseDuration(cfg.InclusionTimeout)
	interval, _ := time.ParseDuration(cfg.PollInterval)

	return &Settings{
		PrivateKey:         key,
		LogLevel:           cfg.LogLevel,
		L1RPCUrl:           cfg.L1RPCUrl,
		L2RPCUrl:           cfg.L2RPCUrl,
		L1ChainID:          cfg.L1ChainID,
		L2ChainID:          cfg.L2ChainID,
		Asset:              asset,
		DepositAmount:      deposit,
		WithdrawAmount:     withdraw,
		TokenAddr:          address(cfg.TokenAddr),
		MasterAddr:         address(cfg.MasterAddr),
		FactoryAddr:        address(cfg.FactoryAddr),
		ChildAddr:          address(cfg.ChildAddr),
		ChildID:            big.NewInt(cfg.ChildID),
		TokenInitialSupply: big.NewInt(cfg.TokenInitialSupply),
		ArtifactsDir:       cfg.ArtifactsDir,
		Inbox:              address(cfg.InboxAddr),
		L1GatewayRouter:    address(cfg.L1GatewayRouterAddr),
		L2GatewayRouter:    address(cfg.L2GatewayRouterAddr),
		MaxGas:             big.NewInt(cfg.MaxGas),
		GasPriceBid:        bid,
		MaxSubmissionCost:  cost,
		InclusionTimeout:   timeout,
		PollInterval:       interval,
		L1GasLimit:         cfg.L1GasLimit,
		L2GasLimit:         cfg.L2GasLimit,
		JournalPath:        cfg.JournalPath,
		CancelPending:      cfg.CancelPending,
	}, nil
}

func (cfg *Config) loadKey() (*ecdsa.PrivateKey, error) {
	if cfg.PrivKeyFile == "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(cfg.PrivateKey), "0x"))
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		return key, nil
	}

	privKeyFile := cfg.PrivKeyFile
	if strings.HasPrefix(privKeyFile, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home dir: %w", err)
		}
		privKeyFile = filepath.Join(homeDir, privKeyFile[2:])
	}
	key, err := crypto.LoadECDSA(privKeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load private key: %w", err)
	}
	return key, nil
}

// SetupLogging configures the global zerolog logger.
func SetupLogging(logLevel string) {
	lvl, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

// ParseAmount reads native amounts as ether decimals and fungible amounts
// as integer token units.
func ParseAmount(asset shared.AssetKind, s string) (*big.Int, error) {
	return parseAmount(asset, s)
}

func parseAmount(asset shared.AssetKind, s string) (*big.Int, error) {
	var (
		v   *big.Int
		err error
	)
	if asset == shared.Native {
		v, err = shared.ParseEther(s)
	} else {
		var ok bool
		v, ok = new(big.Int).SetString(strings.TrimSpace(s), 10)
		if !ok {
			err = fmt.Errorf("invalid token amount %q", s)
		}
	}
	if err != nil {
		return nil, err
	}
	if v.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive, got %q", s)
	}
	return v, nil
}

func parseOptionalWei(s string) (*big.Int, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	v, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid wei amount %q", s)
	}
	return v, nil
}

func address(s string) common.Address {
	if s == "" {
		return common.Address{}
	}
	return common.HexToAddress(s)
}
