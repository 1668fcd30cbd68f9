package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	DefaultOracleTimeoutSeconds = uint64(3 * 60 * 60)
	DefaultEngineAddress        = "0x00000000000000000000000000000000000d5ce0"
	DefaultOwnerAddress         = "0x0000000000000000000000000000000000000001"
)

// Config describes the engine deployment: the debt token, the accepted
// collateral and the balances seeded at genesis.
type Config struct {
	EngineAddress        string       `toml:"EngineAddress"`
	Owner                string       `toml:"Owner"`
	OracleTimeoutSeconds uint64       `toml:"OracleTimeoutSeconds"`
	Debt                 Token        `toml:"Debt"`
	Collateral           []Collateral `toml:"Collateral"`
	Allocations          []Allocation `toml:"Allocation"`
}

// Load loads the configuration from the given path, writing a local default
// when the file does not exist yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.normalize()
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) normalize() {
	cfg.EngineAddress = strings.TrimSpace(cfg.EngineAddress)
	if cfg.EngineAddress == "" {
		cfg.EngineAddress = DefaultEngineAddress
	}
	cfg.Owner = strings.TrimSpace(cfg.Owner)
	if cfg.Owner == "" {
		cfg.Owner = DefaultOwnerAddress
	}
	if cfg.OracleTimeoutSeconds == 0 {
		cfg.OracleTimeoutSeconds = DefaultOracleTimeoutSeconds
	}
	cfg.Debt.normalize()
	if cfg.Debt.Symbol == "" {
		cfg.Debt.Symbol = "DSC"
	}
	if cfg.Debt.Decimals == 0 {
		cfg.Debt.Decimals = 18
	}
	for i := range cfg.Collateral {
		c := &cfg.Collateral[i]
		c.Token.normalize()
		if c.Decimals == 0 {
			c.Decimals = 18
		}
		c.Feed = strings.TrimSpace(c.Feed)
		c.InitialPrice = strings.TrimSpace(c.InitialPrice)
	}
	for i := range cfg.Allocations {
		a := &cfg.Allocations[i]
		a.Account = strings.TrimSpace(a.Account)
		a.Token = strings.ToUpper(strings.TrimSpace(a.Token))
		a.Amount = strings.TrimSpace(a.Amount)
	}
}

func (t *Token) normalize() {
	t.Symbol = strings.ToUpper(strings.TrimSpace(t.Symbol))
	t.Address = strings.TrimSpace(t.Address)
}

// Default returns the local development deployment: WETH and WBTC collateral
// priced by 8 decimal feeds.
func Default() *Config {
	return &Config{
		EngineAddress:        DefaultEngineAddress,
		Owner:                DefaultOwnerAddress,
		OracleTimeoutSeconds: DefaultOracleTimeoutSeconds,
		Debt: Token{
			Symbol:   "DSC",
			Address:  "0x000000000000000000000000000000000000d5c0",
			Decimals: 18,
		},
		Collateral: []Collateral{
			{
				Token:        Token{Symbol: "WETH", Address: "0x000000000000000000000000000000000000e770", Decimals: 18},
				Feed:         "0x0000000000000000000000000000000000fe0001",
				FeedDecimals: 8,
				InitialPrice: "2000",
			},
			{
				Token:        Token{Symbol: "WBTC", Address: "0x000000000000000000000000000000000000b7c0", Decimals: 18},
				Feed:         "0x0000000000000000000000000000000000fe0002",
				FeedDecimals: 8,
				InitialPrice: "1000",
			},
		},
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
