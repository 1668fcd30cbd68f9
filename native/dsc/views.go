package dsc

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"stablevault/native/oracle"
)

// AccountInfo is the derived view of a single account.
type AccountInfo struct {
	Address       common.Address
	Debt          *uint256.Int
	CollateralUsd *uint256.Int
	HealthFactor  *uint256.Int
	Positions     map[common.Address]*uint256.Int
}

// CalculateHealthFactor returns (collateralUsd * 50 / 100) * 1e18 / debt,
// floored. Zero debt reports MaxHealthFactor, as does any quotient that does
// not fit in 256 bits.
func CalculateHealthFactor(debt, collateralUsd *uint256.Int) *uint256.Int {
	if isZero(debt) {
		return clone(MaxHealthFactor)
	}
	if collateralUsd == nil {
		return new(uint256.Int)
	}
	adjusted, _ := new(uint256.Int).MulDivOverflow(collateralUsd, liquidationThreshold, liquidationPrecision)
	factor, overflow := new(uint256.Int).MulDivOverflow(adjusted, Precision, debt)
	if overflow {
		return clone(MaxHealthFactor)
	}
	return factor
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return nil
}

// AccountInformation returns the user's outstanding debt and the USD value
// of all deposited collateral.
func (e *Engine) AccountInformation(user common.Address) (debt, collateralUsd *uint256.Int, err error) {
	if err := e.ready(); err != nil {
		return nil, nil, err
	}
	debt, err = e.debtOf(user)
	if err != nil {
		return nil, nil, err
	}
	collateralUsd, err = e.AccountCollateralValue(user)
	if err != nil {
		return nil, nil, err
	}
	return debt, collateralUsd, nil
}

// AccountCollateralValue sums the USD value of every registered collateral
// token deposited by user. Every feed is consulted, so a single stale feed
// fails the valuation.
func (e *Engine) AccountCollateralValue(user common.Address) (*uint256.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	total := new(uint256.Int)
	for _, token := range e.registry.tokens {
		amount, err := e.position(user, token)
		if err != nil {
			return nil, err
		}
		value, err := e.UsdValue(token, amount)
		if err != nil {
			return nil, err
		}
		if _, overflow := total.AddOverflow(total, value); overflow {
			return nil, ErrOverflow
		}
	}
	return total, nil
}

// HealthFactor returns the user's current health factor.
func (e *Engine) HealthFactor(user common.Address) (*uint256.Int, error) {
	debt, collateralUsd, err := e.AccountInformation(user)
	if err != nil {
		return nil, err
	}
	return CalculateHealthFactor(debt, collateralUsd), nil
}

// CollateralBalance returns the amount of token deposited by user.
func (e *Engine) CollateralBalance(user, token common.Address) (*uint256.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.position(user, token)
}

// Debt returns the user's outstanding debt.
func (e *Engine) Debt(user common.Address) (*uint256.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.debtOf(user)
}

func (e *Engine) feed(token common.Address) (oracle.Feed, error) {
	feed, ok := e.registry.Feed(token)
	if !ok {
		return nil, ErrUnsupportedCollateral
	}
	return feed, nil
}

// UsdValue converts amount of token into an 18 decimal USD value.
func (e *Engine) UsdValue(token common.Address, amount *uint256.Int) (*uint256.Int, error) {
	feed, err := e.feed(token)
	if err != nil {
		return nil, err
	}
	return e.oracle.UsdValue(feed, amount)
}

// TokenAmountFromUsd converts an 18 decimal USD amount into token units,
// rounding down.
func (e *Engine) TokenAmountFromUsd(token common.Address, usd *uint256.Int) (*uint256.Int, error) {
	feed, err := e.feed(token)
	if err != nil {
		return nil, err
	}
	return e.oracle.TokenAmountFromUsd(feed, usd)
}

// CollateralTokens returns the registered collateral tokens.
func (e *Engine) CollateralTokens() []common.Address { return e.registry.Tokens() }

// CollateralTokenPriceFeed returns the feed registered for token.
func (e *Engine) CollateralTokenPriceFeed(token common.Address) (oracle.Feed, bool) {
	return e.registry.Feed(token)
}

// DebtToken returns the debt-token identifier.
func (e *Engine) DebtToken() common.Address { return e.debt.Address() }

// Params returns the protocol constants.
func (e *Engine) Params() Params { return DefaultParams() }

// Accounts lists every account that has held a position or debt, in the
// order they first appeared.
func (e *Engine) Accounts() ([]common.Address, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	var accounts []common.Address
	if _, err := e.state.KVGet(accountsKey, &accounts); err != nil {
		return nil, err
	}
	return accounts, nil
}

// Account returns the full derived view of user.
func (e *Engine) Account(user common.Address) (*AccountInfo, error) {
	debt, collateralUsd, err := e.AccountInformation(user)
	if err != nil {
		return nil, err
	}
	info := &AccountInfo{
		Address:       user,
		Debt:          debt,
		CollateralUsd: collateralUsd,
		HealthFactor:  CalculateHealthFactor(debt, collateralUsd),
		Positions:     make(map[common.Address]*uint256.Int, e.registry.Len()),
	}
	for _, token := range e.registry.tokens {
		amount, err := e.position(user, token)
		if err != nil {
			return nil, err
		}
		info.Positions[token] = amount
	}
	return info, nil
}

// TotalCollateralValue sums the USD value of all indexed accounts. Every
// feed is checked first, so a stale feed fails even with an empty index.
func (e *Engine) TotalCollateralValue() (*uint256.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	for _, token := range e.registry.tokens {
		if _, err := e.oracle.LatestPrice(e.registry.feeds[token]); err != nil {
			return nil, err
		}
	}
	accounts, err := e.Accounts()
	if err != nil {
		return nil, err
	}
	total := new(uint256.Int)
	for _, user := range accounts {
		value, err := e.AccountCollateralValue(user)
		if err != nil {
			return nil, err
		}
		if _, overflow := total.AddOverflow(total, value); overflow {
			return nil, ErrOverflow
		}
	}
	return total, nil
}

// TotalDebt sums the outstanding debt of all indexed accounts.
func (e *Engine) TotalDebt() (*uint256.Int, error) {
	accounts, err := e.Accounts()
	if err != nil {
		return nil, err
	}
	total := new(uint256.Int)
	for _, user := range accounts {
		debt, err := e.debtOf(user)
		if err != nil {
			return nil, err
		}
		if _, overflow := total.AddOverflow(total, debt); overflow {
			return nil, ErrOverflow
		}
	}
	return total, nil
}
