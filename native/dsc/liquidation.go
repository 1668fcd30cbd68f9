package dsc

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"stablevault/core/events"
)

// LiquidationResult summarises a successful liquidation.
type LiquidationResult struct {
	DebtCovered      *uint256.Int
	CollateralSeized *uint256.Int
	Bonus            *uint256.Int
	StartFactor      *uint256.Int
	EndFactor        *uint256.Int
}

// Liquidate lets liquidator repay debtToCover of user's debt in exchange for
// the equivalent amount of collateral token plus the liquidation bonus. The
// user must be below the minimum health factor and the liquidation must
// strictly improve it. Partial liquidations are allowed.
func (e *Engine) Liquidate(liquidator, token, user common.Address, debtToCover *uint256.Int) (*LiquidationResult, error) {
	var result *LiquidationResult
	err := e.run("liquidate", func() error {
		var err error
		result, err = e.liquidate(liquidator, token, user, debtToCover)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.metrics.RecordLiquidation(token.Hex())
	e.logger.Info("account liquidated",
		"liquidator", liquidator.Hex(),
		"user", user.Hex(),
		"token", token.Hex(),
		"debtCovered", result.DebtCovered.Dec(),
		"collateralSeized", result.CollateralSeized.Dec(),
		"startFactor", result.StartFactor.Dec(),
		"endFactor", result.EndFactor.Dec(),
	)
	return result, nil
}

func (e *Engine) liquidate(liquidator, token, user common.Address, debtToCover *uint256.Int) (*LiquidationResult, error) {
	if isZero(debtToCover) {
		return nil, ErrZeroAmount
	}
	if _, err := e.registry.ledger(token); err != nil {
		return nil, err
	}

	start, err := e.HealthFactor(user)
	if err != nil {
		return nil, err
	}
	if !start.Lt(MinHealthFactor) {
		return nil, &HealthFactorOkError{Factor: start}
	}

	covered, err := e.TokenAmountFromUsd(token, debtToCover)
	if err != nil {
		return nil, err
	}
	bonus := LiquidationBonusFor(covered)
	seized, overflow := new(uint256.Int).AddOverflow(covered, bonus)
	if overflow {
		return nil, ErrOverflow
	}

	if err := e.redeem(token, seized, user, liquidator); err != nil {
		return nil, err
	}
	if err := e.burn(debtToCover, user, liquidator); err != nil {
		return nil, err
	}

	end, err := e.HealthFactor(user)
	if err != nil {
		return nil, err
	}
	if !end.Gt(start) {
		return nil, ErrHealthFactorNotImproved
	}
	if err := e.revertIfHealthFactorBroken(liquidator); err != nil {
		return nil, err
	}

	result := &LiquidationResult{
		DebtCovered:      clone(debtToCover),
		CollateralSeized: seized,
		Bonus:            bonus,
		StartFactor:      start,
		EndFactor:        end,
	}
	e.emit(events.Liquidated{
		Liquidator:       liquidator,
		User:             user,
		Token:            token,
		DebtCovered:      result.DebtCovered,
		CollateralSeized: seized,
		Bonus:            bonus,
		StartFactor:      start,
		EndFactor:        end,
	})
	return result, nil
}

// LiquidationBonusFor returns the bonus paid on top of amount, rounded down.
func LiquidationBonusFor(amount *uint256.Int) *uint256.Int {
	if amount == nil {
		return new(uint256.Int)
	}
	bonus, _ := new(uint256.Int).MulDivOverflow(amount, liquidationBonus, liquidationPrecision)
	return bonus
}
