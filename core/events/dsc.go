package events

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"stablevault/core/types"
)

const (
	// TypeCollateralDeposited is emitted when collateral enters engine custody.
	TypeCollateralDeposited = "collateral.deposited"
	// TypeCollateralRedeemed is emitted when collateral leaves engine custody,
	// either back to its owner or to a liquidator.
	TypeCollateralRedeemed = "collateral.redeemed"
	TypeDebtMinted         = "dsc.minted"
	TypeDebtBurned         = "dsc.burned"
	TypeLiquidated         = "dsc.liquidated"
)

func amountString(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

type CollateralDeposited struct {
	User   common.Address
	Token  common.Address
	Amount *uint256.Int
}

func (CollateralDeposited) EventType() string { return TypeCollateralDeposited }

func (e CollateralDeposited) Event() *types.Event {
	return &types.Event{
		Type: TypeCollateralDeposited,
		Attributes: map[string]string{
			"user":   e.User.Hex(),
			"token":  e.Token.Hex(),
			"amount": amountString(e.Amount),
		},
	}
}

type CollateralRedeemed struct {
	From   common.Address
	To     common.Address
	Token  common.Address
	Amount *uint256.Int
}

func (CollateralRedeemed) EventType() string { return TypeCollateralRedeemed }

func (e CollateralRedeemed) Event() *types.Event {
	return &types.Event{
		Type: TypeCollateralRedeemed,
		Attributes: map[string]string{
			"redeemedFrom": e.From.Hex(),
			"redeemedTo":   e.To.Hex(),
			"token":        e.Token.Hex(),
			"amount":       amountString(e.Amount),
		},
	}
}

type DebtMinted struct {
	User   common.Address
	Amount *uint256.Int
}

func (DebtMinted) EventType() string { return TypeDebtMinted }

func (e DebtMinted) Event() *types.Event {
	return &types.Event{
		Type: TypeDebtMinted,
		Attributes: map[string]string{
			"user":   e.User.Hex(),
			"amount": amountString(e.Amount),
		},
	}
}

// DebtBurned records a debt repayment. Payer differs from OnBehalfOf when a
// liquidator covers another account's debt.
type DebtBurned struct {
	OnBehalfOf common.Address
	Payer      common.Address
	Amount     *uint256.Int
}

func (DebtBurned) EventType() string { return TypeDebtBurned }

func (e DebtBurned) Event() *types.Event {
	return &types.Event{
		Type: TypeDebtBurned,
		Attributes: map[string]string{
			"onBehalfOf": e.OnBehalfOf.Hex(),
			"payer":      e.Payer.Hex(),
			"amount":     amountString(e.Amount),
		},
	}
}

type Liquidated struct {
	Liquidator       common.Address
	User             common.Address
	Token            common.Address
	DebtCovered      *uint256.Int
	CollateralSeized *uint256.Int
	Bonus            *uint256.Int
	StartFactor      *uint256.Int
	EndFactor        *uint256.Int
}

func (Liquidated) EventType() string { return TypeLiquidated }

func (e Liquidated) Event() *types.Event {
	return &types.Event{
		Type: TypeLiquidated,
		Attributes: map[string]string{
			"liquidator":       e.Liquidator.Hex(),
			"user":             e.User.Hex(),
			"token":            e.Token.Hex(),
			"debtCovered":      amountString(e.DebtCovered),
			"collateralSeized": amountString(e.CollateralSeized),
			"bonus":            amountString(e.Bonus),
			"startFactor":      amountString(e.StartFactor),
			"endFactor":        amountString(e.EndFactor),
		},
	}
}
