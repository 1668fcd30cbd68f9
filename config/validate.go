package config

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// TokenSpec is a validated token identity.
type TokenSpec struct {
	Symbol   string
	Address  common.Address
	Decimals uint8
}

// CollateralSpec is a validated collateral registration.
type CollateralSpec struct {
	TokenSpec
	Feed         common.Address
	FeedDecimals uint8
	InitialPrice string
}

// AllocationSpec is a validated genesis credit.
type AllocationSpec struct {
	Account common.Address
	Symbol  string
	Amount  *uint256.Int
}

// Runtime holds the parsed values the daemon wires into the engine.
type Runtime struct {
	Engine        common.Address
	Owner         common.Address
	OracleTimeout time.Duration
	Debt          TokenSpec
	Collateral    []CollateralSpec
	Allocations   []AllocationSpec
}

// ValidateConfig reports the first problem that would prevent the engine from
// being built from cfg.
func ValidateConfig(cfg *Config) error {
	_, err := cfg.Runtime()
	return err
}

// Runtime parses and validates the configuration.
func (cfg *Config) Runtime() (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is missing")
	}
	engine, err := parseAddress("EngineAddress", cfg.EngineAddress)
	if err != nil {
		return nil, err
	}
	owner, err := parseAddress("Owner", cfg.Owner)
	if err != nil {
		return nil, err
	}
	if cfg.OracleTimeoutSeconds == 0 {
		return nil, fmt.Errorf("OracleTimeoutSeconds must be positive")
	}
	debt, err := parseToken("Debt", cfg.Debt)
	if err != nil {
		return nil, err
	}
	rt := &Runtime{
		Engine:        engine,
		Owner:         owner,
		OracleTimeout: time.Duration(cfg.OracleTimeoutSeconds) * time.Second,
		Debt:          debt,
	}
	if len(cfg.Collateral) == 0 {
		return nil, fmt.Errorf("at least one Collateral entry is required")
	}

	seenSymbols := map[string]struct{}{debt.Symbol: {}}
	seenAddrs := map[common.Address]struct{}{debt.Address: {}, engine: {}}
	for i, c := range cfg.Collateral {
		field := fmt.Sprintf("Collateral[%d]", i)
		tok, err := parseToken(field, c.Token)
		if err != nil {
			return nil, err
		}
		if _, dup := seenSymbols[tok.Symbol]; dup {
			return nil, fmt.Errorf("%s: duplicate symbol %s", field, tok.Symbol)
		}
		if _, dup := seenAddrs[tok.Address]; dup {
			return nil, fmt.Errorf("%s: duplicate address %s", field, tok.Address.Hex())
		}
		seenSymbols[tok.Symbol] = struct{}{}
		seenAddrs[tok.Address] = struct{}{}

		feed, err := parseAddress(field+".Feed", c.Feed)
		if err != nil {
			return nil, err
		}
		if c.FeedDecimals > 77 {
			return nil, fmt.Errorf("%s.FeedDecimals %d out of range", field, c.FeedDecimals)
		}
		if err := validatePrice(field+".InitialPrice", c.InitialPrice); err != nil {
			return nil, err
		}
		rt.Collateral = append(rt.Collateral, CollateralSpec{
			TokenSpec:    tok,
			Feed:         feed,
			FeedDecimals: c.FeedDecimals,
			InitialPrice: c.InitialPrice,
		})
	}

	for i, a := range cfg.Allocations {
		field := fmt.Sprintf("Allocation[%d]", i)
		account, err := parseAddress(field+".Account", a.Account)
		if err != nil {
			return nil, err
		}
		if !rt.isCollateral(a.Token) {
			return nil, fmt.Errorf("%s: unknown collateral %q", field, a.Token)
		}
		amount, err := parseUintAmount(a.Amount)
		if err != nil {
			return nil, fmt.Errorf("invalid %s.Amount: %w", field, err)
		}
		rt.Allocations = append(rt.Allocations, AllocationSpec{Account: account, Symbol: a.Token, Amount: amount})
	}
	return rt, nil
}

func (rt *Runtime) isCollateral(symbol string) bool {
	for _, c := range rt.Collateral {
		if c.Symbol == symbol {
			return true
		}
	}
	return false
}

func parseToken(field string, t Token) (TokenSpec, error) {
	if t.Symbol == "" {
		return TokenSpec{}, fmt.Errorf("%s.Symbol is required", field)
	}
	addr, err := parseAddress(field+".Address", t.Address)
	if err != nil {
		return TokenSpec{}, err
	}
	return TokenSpec{Symbol: t.Symbol, Address: addr, Decimals: t.Decimals}, nil
}

func parseAddress(field, value string) (common.Address, error) {
	if !common.IsHexAddress(value) {
		return common.Address{}, fmt.Errorf("%s: invalid address %q", field, value)
	}
	addr := common.HexToAddress(value)
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%s: zero address", field)
	}
	return addr, nil
}

func parseUintAmount(value string) (*uint256.Int, error) {
	if value == "" {
		return nil, fmt.Errorf("amount is required")
	}
	amount, err := uint256.FromDecimal(value)
	if err != nil {
		return nil, err
	}
	if amount.IsZero() {
		return nil, fmt.Errorf("amount must be positive")
	}
	return amount, nil
}

func validatePrice(field, value string) error {
	price, ok := new(big.Rat).SetString(value)
	if !ok {
		return fmt.Errorf("%s: invalid price %q", field, value)
	}
	if price.Sign() <= 0 {
		return fmt.Errorf("%s: price must be positive", field)
	}
	return nil
}
