package node

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"stablevault/native/dsc"
)

// collateralAddress maps a symbol or hex address onto the token handed to
// the engine. Unknown symbols map to the zero address, which is never
// registered, so the engine reports them as unsupported collateral after its
// amount checks.
func (n *Node) collateralAddress(id string) common.Address {
	if c, err := n.resolve(id); err == nil {
		return c.spec.Address
	}
	id = strings.TrimSpace(id)
	if common.IsHexAddress(id) {
		return common.HexToAddress(id)
	}
	return common.Address{}
}

func annotateCollateral(id string, err error) error {
	if errors.Is(err, dsc.ErrUnsupportedCollateral) {
		return fmt.Errorf("%w: %q", err, strings.TrimSpace(id))
	}
	return err
}

// DepositCollateral deposits amount of the named collateral for user.
func (n *Node) DepositCollateral(user common.Address, tokenID string, amount *uint256.Int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	token := n.collateralAddress(tokenID)
	return annotateCollateral(tokenID, n.engine.DepositCollateral(user, token, amount))
}

func (n *Node) RedeemCollateral(user common.Address, tokenID string, amount *uint256.Int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	token := n.collateralAddress(tokenID)
	return annotateCollateral(tokenID, n.engine.RedeemCollateral(user, token, amount))
}

func (n *Node) MintDebt(user common.Address, amount *uint256.Int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.MintDebt(user, amount)
}

func (n *Node) BurnDebt(user common.Address, amount *uint256.Int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.BurnDebt(user, amount)
}

func (n *Node) DepositAndMint(user common.Address, tokenID string, collateralAmount, debtAmount *uint256.Int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	token := n.collateralAddress(tokenID)
	return annotateCollateral(tokenID, n.engine.DepositAndMint(user, token, collateralAmount, debtAmount))
}

func (n *Node) RedeemForDebt(user common.Address, tokenID string, collateralAmount, debtAmount *uint256.Int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	token := n.collateralAddress(tokenID)
	return annotateCollateral(tokenID, n.engine.RedeemForDebt(user, token, collateralAmount, debtAmount))
}

func (n *Node) Liquidate(liquidator common.Address, tokenID string, user common.Address, debtToCover *uint256.Int) (*dsc.LiquidationResult, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	result, err := n.engine.Liquidate(liquidator, n.collateralAddress(tokenID), user, debtToCover)
	return result, annotateCollateral(tokenID, err)
}

// PositionView is one collateral line of an account.
type PositionView struct {
	Symbol    string
	Token     common.Address
	Deposited *uint256.Int
	Wallet    *uint256.Int
	UsdValue  *uint256.Int
}

// AccountView is the derived state of an account.
type AccountView struct {
	Address       common.Address
	Debt          *uint256.Int
	DebtBalance   *uint256.Int
	CollateralUsd *uint256.Int
	HealthFactor  *uint256.Int
	Positions     []PositionView
}

// Account returns the derived view of user. Valuation fails while any feed
// is stale.
func (n *Node) Account(user common.Address) (*AccountView, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	info, err := n.engine.Account(user)
	if err != nil {
		return nil, err
	}
	debtBalance, err := n.debt.BalanceOf(user)
	if err != nil {
		return nil, err
	}
	view := &AccountView{
		Address:       user,
		Debt:          info.Debt,
		DebtBalance:   debtBalance,
		CollateralUsd: info.CollateralUsd,
		HealthFactor:  info.HealthFactor,
	}
	for _, c := range n.collateral {
		deposited := info.Positions[c.spec.Address]
		wallet, err := c.ledger.BalanceOf(user)
		if err != nil {
			return nil, err
		}
		usd, err := n.engine.UsdValue(c.spec.Address, deposited)
		if err != nil {
			return nil, err
		}
		view.Positions = append(view.Positions, PositionView{
			Symbol:    c.spec.Symbol,
			Token:     c.spec.Address,
			Deposited: deposited,
			Wallet:    wallet,
			UsdValue:  usd,
		})
	}
	return view, nil
}

// Accounts lists every account the engine has indexed.
func (n *Node) Accounts() ([]common.Address, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.Accounts()
}

// CollateralView describes a registered collateral token and its feed.
type CollateralView struct {
	Symbol       string
	Token        common.Address
	Decimals     uint8
	Feed         common.Address
	FeedDecimals uint8
	RoundID      uint64
	UpdatedAt    time.Time
	Price        *uint256.Int
	PriceError   string
	Custody      *uint256.Int
}

// Overview summarises the deployment.
type Overview struct {
	Engine             common.Address
	DebtSymbol         string
	DebtToken          common.Address
	Params             dsc.Params
	OracleTimeout      time.Duration
	Collateral         []CollateralView
	DebtSupply         *uint256.Int
	TotalDebt          *uint256.Int
	TotalCollateralUsd *uint256.Int
}

// Overview reports the registry, protocol constants and system totals.
// Stale feeds are reported per token instead of failing the whole view.
func (n *Node) Overview() (*Overview, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := &Overview{
		Engine:        n.rt.Engine,
		DebtSymbol:    n.debt.Symbol(),
		DebtToken:     n.engine.DebtToken(),
		Params:        n.engine.Params(),
		OracleTimeout: n.engine.Oracle().Timeout(),
	}
	for _, c := range n.collateral {
		view := CollateralView{
			Symbol:       c.spec.Symbol,
			Token:        c.spec.Address,
			Decimals:     c.spec.Decimals,
			Feed:         c.spec.Feed,
			FeedDecimals: c.spec.FeedDecimals,
		}
		if round, err := c.feed.LatestRoundData(); err == nil {
			view.RoundID = round.RoundID
			view.UpdatedAt = round.UpdatedAt
		}
		if price, err := n.engine.Oracle().LatestPrice(c.feed); err != nil {
			view.PriceError = dsc.Outcome(err)
		} else {
			view.Price = price
		}
		custody, err := c.ledger.BalanceOf(n.rt.Engine)
		if err != nil {
			return nil, err
		}
		view.Custody = custody
		out.Collateral = append(out.Collateral, view)
	}
	supply, err := n.debt.TotalSupply()
	if err != nil {
		return nil, err
	}
	out.DebtSupply = supply
	if out.TotalDebt, err = n.engine.TotalDebt(); err != nil {
		return nil, err
	}
	if total, err := n.engine.TotalCollateralValue(); err == nil {
		out.TotalCollateralUsd = total
	}
	return out, nil
}
