package dsc

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"stablevault/core/events"
	nativecommon "stablevault/native/common"
	"stablevault/native/oracle"
	"stablevault/observability"
)

// TokenLedger is the subset of a fungible token the engine needs to move
// collateral. Calls act on behalf of the engine address.
type TokenLedger interface {
	Transfer(to common.Address, amount *uint256.Int) error
	TransferFrom(from, to common.Address, amount *uint256.Int) error
	BalanceOf(who common.Address) (*uint256.Int, error)
}

// DebtTokenLedger extends TokenLedger with the supply operations reserved for
// the engine as sole minter.
type DebtTokenLedger interface {
	TokenLedger
	Mint(to common.Address, amount *uint256.Int) error
	Burn(amount *uint256.Int) error
}

// CollateralToken is a collateral ledger bound to its token identifier.
type CollateralToken interface {
	TokenLedger
	Address() common.Address
}

// DebtToken is the debt-token ledger bound to its identifier.
type DebtToken interface {
	DebtTokenLedger
	Address() common.Address
}

type engineState interface {
	Uint256(key []byte) (*uint256.Int, error)
	SetUint256(key []byte, value *uint256.Int) error
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	Snapshot() int
	RevertToSnapshot(id int)
	Commit() error
}

// Config describes the immutable wiring of an engine. Collaterals and
// PriceFeeds are parallel lists.
type Config struct {
	Address     common.Address
	Collaterals []CollateralToken
	PriceFeeds  []oracle.Feed
	DebtToken   DebtToken
}

// Engine tracks collateral positions and debt, and enforces the minimum
// health factor on every mutation. Each public mutation runs under a
// reentrancy guard inside a state snapshot: it either commits as a whole or
// leaves no trace, including in the token ledgers that share its state.
//
// The engine is not safe for concurrent use.
type Engine struct {
	state    engineState
	address  common.Address
	registry *Registry
	debt     DebtToken
	oracle   *oracle.Adapter
	guard    nativecommon.ReentrancyGuard
	emitter  events.Emitter
	pending  []events.Event
	logger   *slog.Logger
	metrics  *observability.DSCMetrics
}

// NewEngine validates the configuration and constructs an engine. The state
// backend must be wired with SetState before use.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Address == (common.Address{}) {
		return nil, errNilAddress
	}
	if cfg.DebtToken == nil {
		return nil, errNilDebt
	}
	registry, err := NewRegistry(cfg.Collaterals, cfg.PriceFeeds)
	if err != nil {
		return nil, err
	}
	return &Engine{
		address:  cfg.Address,
		registry: registry,
		debt:     cfg.DebtToken,
		oracle:   oracle.NewAdapter(),
		emitter:  events.NoopEmitter{},
		logger:   slog.Default().With("component", "dsc"),
		metrics:  observability.DSC(),
	}, nil
}

// SetState wires the engine to the journaled persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetOracle replaces the price adapter. Passing nil restores the default.
func (e *Engine) SetOracle(adapter *oracle.Adapter) {
	if e == nil {
		return
	}
	if adapter == nil {
		adapter = oracle.NewAdapter()
	}
	e.oracle = adapter
}

// Oracle returns the price adapter used for valuations.
func (e *Engine) Oracle() *oracle.Adapter { return e.oracle }

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetLogger configures the structured logger.
func (e *Engine) SetLogger(logger *slog.Logger) {
	if e == nil {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}
	e.logger = logger.With("component", "dsc")
}

// Address returns the custody identity of the engine.
func (e *Engine) Address() common.Address { return e.address }

// emit buffers evt until the enclosing operation commits.
func (e *Engine) emit(evt events.Event) {
	if e == nil || evt == nil {
		return
	}
	e.pending = append(e.pending, evt)
}

func (e *Engine) run(operation string, fn func() error) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := e.guard.Enter(); err != nil {
		e.logger.Warn("reentrant call rejected", "operation", operation)
		e.metrics.ObserveOperation(operation, Outcome(err), 0)
		return err
	}
	defer e.guard.Exit()

	start := time.Now()
	snapshot := e.state.Snapshot()
	e.pending = e.pending[:0]

	err := fn()
	if err == nil {
		if commitErr := e.state.Commit(); commitErr != nil {
			err = fmt.Errorf("dsc engine: commit: %w", commitErr)
		}
	}
	outcome := Outcome(err)
	e.metrics.ObserveOperation(operation, outcome, time.Since(start))
	if err != nil {
		e.state.RevertToSnapshot(snapshot)
		e.pending = e.pending[:0]
		if errors.Is(err, ErrHealthFactorBroken) {
			e.metrics.RecordHealthFactorRejection(operation)
		}
		e.logger.Debug("operation rejected", "operation", operation, "outcome", outcome, "error", err)
		return err
	}

	committed := e.pending
	e.pending = nil
	for _, evt := range committed {
		e.emitter.Emit(evt)
	}
	return nil
}

func isZero(amount *uint256.Int) bool {
	return amount == nil || amount.IsZero()
}

func clone(v *uint256.Int) *uint256.Int {
	return new(uint256.Int).Set(v)
}

func (e *Engine) position(user, token common.Address) (*uint256.Int, error) {
	return e.state.Uint256(positionKey(user, token))
}

func (e *Engine) debtOf(user common.Address) (*uint256.Int, error) {
	return e.state.Uint256(debtKey(user))
}

// track records user in the account index the first time it holds a
// position or debt.
func (e *Engine) track(user common.Address) error {
	var member bool
	ok, err := e.state.KVGet(memberKey(user), &member)
	if err != nil {
		return err
	}
	if ok && member {
		return nil
	}
	var accounts []common.Address
	if _, err := e.state.KVGet(accountsKey, &accounts); err != nil {
		return err
	}
	accounts = append(accounts, user)
	if err := e.state.KVPut(accountsKey, accounts); err != nil {
		return err
	}
	return e.state.KVPut(memberKey(user), true)
}

func (e *Engine) revertIfHealthFactorBroken(user common.Address) error {
	factor, err := e.HealthFactor(user)
	if err != nil {
		return err
	}
	if factor.Lt(MinHealthFactor) {
		return &HealthFactorBrokenError{Factor: factor}
	}
	return nil
}

// DepositCollateral moves amount of a registered collateral token from user
// into engine custody and credits the user's position.
func (e *Engine) DepositCollateral(user, token common.Address, amount *uint256.Int) error {
	return e.run("deposit_collateral", func() error {
		return e.depositCollateral(user, token, amount)
	})
}

// MintDebt issues amount of debt token to user provided the resulting
// health factor stays at or above the minimum.
func (e *Engine) MintDebt(user common.Address, amount *uint256.Int) error {
	return e.run("mint_dsc", func() error {
		return e.mintDebt(user, amount)
	})
}

// DepositAndMint deposits collateral and mints debt in one operation.
func (e *Engine) DepositAndMint(user, token common.Address, collateralAmount, debtAmount *uint256.Int) error {
	return e.run("deposit_collateral_and_mint_dsc", func() error {
		if err := e.depositCollateral(user, token, collateralAmount); err != nil {
			return err
		}
		return e.mintDebt(user, debtAmount)
	})
}

// RedeemCollateral returns amount of collateral from user's position to
// user. The user's health factor must remain at or above the minimum.
func (e *Engine) RedeemCollateral(user, token common.Address, amount *uint256.Int) error {
	return e.run("redeem_collateral", func() error {
		if isZero(amount) {
			return ErrZeroAmount
		}
		if err := e.redeem(token, amount, user, user); err != nil {
			return err
		}
		return e.revertIfHealthFactorBroken(user)
	})
}

// BurnDebt repays amount of user's debt using user's own debt tokens.
func (e *Engine) BurnDebt(user common.Address, amount *uint256.Int) error {
	return e.run("burn_dsc", func() error {
		if isZero(amount) {
			return ErrZeroAmount
		}
		if err := e.burn(amount, user, user); err != nil {
			return err
		}
		// Repaying debt cannot lower the factor; checked for parity with
		// the other mutations.
		return e.revertIfHealthFactorBroken(user)
	})
}

// RedeemForDebt burns debt and then redeems collateral in one operation.
// Burning first lets the redemption use the freed capacity.
func (e *Engine) RedeemForDebt(user, token common.Address, collateralAmount, debtAmount *uint256.Int) error {
	return e.run("redeem_collateral_for_dsc", func() error {
		if isZero(collateralAmount) || isZero(debtAmount) {
			return ErrZeroAmount
		}
		if _, err := e.registry.ledger(token); err != nil {
			return err
		}
		if err := e.burn(debtAmount, user, user); err != nil {
			return err
		}
		if err := e.redeem(token, collateralAmount, user, user); err != nil {
			return err
		}
		return e.revertIfHealthFactorBroken(user)
	})
}

func (e *Engine) depositCollateral(user, token common.Address, amount *uint256.Int) error {
	if isZero(amount) {
		return ErrZeroAmount
	}
	ledger, err := e.registry.ledger(token)
	if err != nil {
		return err
	}
	current, err := e.position(user, token)
	if err != nil {
		return err
	}
	next, overflow := new(uint256.Int).AddOverflow(current, amount)
	if overflow {
		return ErrOverflow
	}
	if err := e.state.SetUint256(positionKey(user, token), next); err != nil {
		return err
	}
	if err := e.track(user); err != nil {
		return err
	}
	e.emit(events.CollateralDeposited{User: user, Token: token, Amount: clone(amount)})
	if err := ledger.TransferFrom(user, e.address, amount); err != nil {
		return fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}
	return nil
}

func (e *Engine) mintDebt(user common.Address, amount *uint256.Int) error {
	if isZero(amount) {
		return ErrZeroAmount
	}
	current, err := e.debtOf(user)
	if err != nil {
		return err
	}
	next, overflow := new(uint256.Int).AddOverflow(current, amount)
	if overflow {
		return ErrOverflow
	}
	if err := e.state.SetUint256(debtKey(user), next); err != nil {
		return err
	}
	if err := e.track(user); err != nil {
		return err
	}
	if err := e.revertIfHealthFactorBroken(user); err != nil {
		return err
	}
	if err := e.debt.Mint(user, amount); err != nil {
		return fmt.Errorf("%w: %w", ErrMintFailed, err)
	}
	e.emit(events.DebtMinted{User: user, Amount: clone(amount)})
	return nil
}

// redeem moves collateral out of from's position and pays it to to. No
// health factor check is performed.
func (e *Engine) redeem(token common.Address, amount *uint256.Int, from, to common.Address) error {
	ledger, err := e.registry.ledger(token)
	if err != nil {
		return err
	}
	current, err := e.position(from, token)
	if err != nil {
		return err
	}
	if current.Lt(amount) {
		return ErrUnderflow
	}
	if err := e.state.SetUint256(positionKey(from, token), new(uint256.Int).Sub(current, amount)); err != nil {
		return err
	}
	e.emit(events.CollateralRedeemed{From: from, To: to, Token: token, Amount: clone(amount)})
	if err := ledger.Transfer(to, amount); err != nil {
		return fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}
	return nil
}

// burn reduces onBehalfOf's debt, pulls the tokens from payer and destroys
// them. No health factor check is performed.
func (e *Engine) burn(amount *uint256.Int, onBehalfOf, payer common.Address) error {
	current, err := e.debtOf(onBehalfOf)
	if err != nil {
		return err
	}
	if current.Lt(amount) {
		return ErrUnderflow
	}
	if err := e.state.SetUint256(debtKey(onBehalfOf), new(uint256.Int).Sub(current, amount)); err != nil {
		return err
	}
	if err := e.debt.TransferFrom(payer, e.address, amount); err != nil {
		return fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}
	if err := e.debt.Burn(amount); err != nil {
		return fmt.Errorf("dsc engine: burn: %w", err)
	}
	e.emit(events.DebtBurned{OnBehalfOf: onBehalfOf, Payer: payer, Amount: clone(amount)})
	return nil
}
