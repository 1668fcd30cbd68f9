package dsc

import "github.com/holiman/uint256"

// Protocol constants. Percentages are expressed against LiquidationPrecision.
const (
	LiquidationThreshold = 50
	LiquidationPrecision = 100
	LiquidationBonus     = 10
)

var (
	// Precision is the 18 decimal fixed-point scale shared by amounts, USD
	// values and health factors.
	Precision = uint256.NewInt(1_000_000_000_000_000_000)
	// MinHealthFactor is the lowest health factor an account may be left
	// with by its own actions.
	MinHealthFactor = uint256.NewInt(1_000_000_000_000_000_000)
	// AdditionalFeedPrecision scales 8 decimal feed answers to 18 decimals.
	AdditionalFeedPrecision = uint256.NewInt(10_000_000_000)
	// MaxHealthFactor is reported for accounts without debt.
	MaxHealthFactor = new(uint256.Int).SetAllOne()

	liquidationThreshold = uint256.NewInt(LiquidationThreshold)
	liquidationPrecision = uint256.NewInt(LiquidationPrecision)
	liquidationBonus     = uint256.NewInt(LiquidationBonus)
)

// Params is a snapshot of the protocol constants for read-only callers.
type Params struct {
	Precision               *uint256.Int
	MinHealthFactor         *uint256.Int
	AdditionalFeedPrecision *uint256.Int
	LiquidationThreshold    uint64
	LiquidationPrecision    uint64
	LiquidationBonus        uint64
}

// DefaultParams returns copies of the protocol constants.
func DefaultParams() Params {
	return Params{
		Precision:               new(uint256.Int).Set(Precision),
		MinHealthFactor:         new(uint256.Int).Set(MinHealthFactor),
		AdditionalFeedPrecision: new(uint256.Int).Set(AdditionalFeedPrecision),
		LiquidationThreshold:    LiquidationThreshold,
		LiquidationPrecision:    LiquidationPrecision,
		LiquidationBonus:        LiquidationBonus,
	}
}
