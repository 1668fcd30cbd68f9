package token

import (
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	errNilState              = errors.New("token: state not configured")
	ErrZeroAmount            = errors.New("token: amount must be positive")
	ErrZeroAddress           = errors.New("token: zero address")
	ErrInsufficientBalance   = errors.New("token: insufficient balance")
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")
	ErrUnauthorized          = errors.New("token: caller is not the owner")
	ErrOverflow              = errors.New("token: arithmetic overflow")
)

type ledgerState interface {
	Uint256(key []byte) (*uint256.Int, error)
	SetUint256(key []byte, value *uint256.Int) error
}

// Metadata describes a fungible token. Owner is the only account allowed to
// mint and burn.
type Metadata struct {
	Address  common.Address
	Symbol   string
	Decimals uint8
	Owner    common.Address
}

// Ledger is a fungible token ledger persisted in the shared state. Every
// mutation goes through the state journal so callers can roll it back
// together with their own writes.
type Ledger struct {
	state ledgerState
	meta  Metadata
}

// NewLedger binds the token metadata to the state backend.
func NewLedger(state ledgerState, meta Metadata) *Ledger {
	meta.Symbol = strings.ToUpper(strings.TrimSpace(meta.Symbol))
	return &Ledger{state: state, meta: meta}
}

// Address returns the token identifier.
func (l *Ledger) Address() common.Address { return l.meta.Address }

// Symbol returns the upper-case ticker.
func (l *Ledger) Symbol() string { return l.meta.Symbol }

// Decimals returns the token precision.
func (l *Ledger) Decimals() uint8 { return l.meta.Decimals }

// Owner returns the minting authority.
func (l *Ledger) Owner() common.Address { return l.meta.Owner }

// TransferOwnership hands minting authority to next. Only the current owner
// may call it.
func (l *Ledger) TransferOwnership(caller, next common.Address) error {
	if caller != l.meta.Owner {
		return ErrUnauthorized
	}
	if next == (common.Address{}) {
		return ErrZeroAddress
	}
	l.meta.Owner = next
	return nil
}

func (l *Ledger) ready() error {
	if l == nil || l.state == nil {
		return errNilState
	}
	return nil
}

// BalanceOf returns the balance held by who.
func (l *Ledger) BalanceOf(who common.Address) (*uint256.Int, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}
	return l.state.Uint256(balanceKey(l.meta.Address, who))
}

// TotalSupply returns the amount currently in circulation.
func (l *Ledger) TotalSupply() (*uint256.Int, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}
	return l.state.Uint256(supplyKey(l.meta.Address))
}

// Allowance returns how much spender may move on behalf of owner.
func (l *Ledger) Allowance(owner, spender common.Address) (*uint256.Int, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}
	return l.state.Uint256(allowanceKey(l.meta.Address, owner, spender))
}

// Approve sets the allowance granted by owner to spender. A maximal allowance
// is never decremented by TransferFrom.
func (l *Ledger) Approve(owner, spender common.Address, amount *uint256.Int) error {
	if err := l.ready(); err != nil {
		return err
	}
	if spender == (common.Address{}) {
		return ErrZeroAddress
	}
	if amount == nil {
		amount = new(uint256.Int)
	}
	return l.state.SetUint256(allowanceKey(l.meta.Address, owner, spender), amount)
}

// Transfer moves amount from one holder to another.
func (l *Ledger) Transfer(from, to common.Address, amount *uint256.Int) error {
	if err := l.ready(); err != nil {
		return err
	}
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	if amount == nil {
		amount = new(uint256.Int)
	}
	fromBal, err := l.BalanceOf(from)
	if err != nil {
		return err
	}
	if fromBal.Lt(amount) {
		return ErrInsufficientBalance
	}
	if from == to {
		return nil
	}
	toBal, err := l.BalanceOf(to)
	if err != nil {
		return err
	}
	newTo, overflow := new(uint256.Int).AddOverflow(toBal, amount)
	if overflow {
		return ErrOverflow
	}
	if err := l.state.SetUint256(balanceKey(l.meta.Address, from), new(uint256.Int).Sub(fromBal, amount)); err != nil {
		return err
	}
	return l.state.SetUint256(balanceKey(l.meta.Address, to), newTo)
}

// TransferFrom moves amount from one holder to another using the allowance
// granted to spender.
func (l *Ledger) TransferFrom(spender, from, to common.Address, amount *uint256.Int) error {
	if err := l.ready(); err != nil {
		return err
	}
	if amount == nil {
		amount = new(uint256.Int)
	}
	allowance, err := l.Allowance(from, spender)
	if err != nil {
		return err
	}
	if allowance.Lt(amount) {
		return ErrInsufficientAllowance
	}
	if err := l.Transfer(from, to, amount); err != nil {
		return err
	}
	if isMax(allowance) {
		return nil
	}
	return l.state.SetUint256(allowanceKey(l.meta.Address, from, spender), new(uint256.Int).Sub(allowance, amount))
}

// Mint creates amount new tokens owned by to. Only the owner may mint.
func (l *Ledger) Mint(caller, to common.Address, amount *uint256.Int) error {
	if err := l.ready(); err != nil {
		return err
	}
	if caller != l.meta.Owner {
		return ErrUnauthorized
	}
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	if amount == nil || amount.IsZero() {
		return ErrZeroAmount
	}
	supply, err := l.TotalSupply()
	if err != nil {
		return err
	}
	newSupply, overflow := new(uint256.Int).AddOverflow(supply, amount)
	if overflow {
		return ErrOverflow
	}
	balance, err := l.BalanceOf(to)
	if err != nil {
		return err
	}
	// Balances never exceed supply so this cannot overflow.
	if err := l.state.SetUint256(balanceKey(l.meta.Address, to), new(uint256.Int).Add(balance, amount)); err != nil {
		return err
	}
	return l.state.SetUint256(supplyKey(l.meta.Address), newSupply)
}

// Burn destroys amount tokens held by the owner.
func (l *Ledger) Burn(caller common.Address, amount *uint256.Int) error {
	if err := l.ready(); err != nil {
		return err
	}
	if caller != l.meta.Owner {
		return ErrUnauthorized
	}
	if amount == nil || amount.IsZero() {
		return ErrZeroAmount
	}
	balance, err := l.BalanceOf(caller)
	if err != nil {
		return err
	}
	if balance.Lt(amount) {
		return ErrInsufficientBalance
	}
	supply, err := l.TotalSupply()
	if err != nil {
		return err
	}
	if err := l.state.SetUint256(balanceKey(l.meta.Address, caller), new(uint256.Int).Sub(balance, amount)); err != nil {
		return err
	}
	return l.state.SetUint256(supplyKey(l.meta.Address), new(uint256.Int).Sub(supply, amount))
}

// As binds the ledger to a caller identity.
func (l *Ledger) As(caller common.Address) *Session {
	return &Session{ledger: l, caller: caller}
}

func isMax(v *uint256.Int) bool {
	return v.Eq(new(uint256.Int).SetAllOne())
}

// Session is a ledger handle acting on behalf of a fixed caller.
type Session struct {
	ledger *Ledger
	caller common.Address
}

// Caller returns the identity the session acts as.
func (s *Session) Caller() common.Address { return s.caller }

// Address returns the token identifier.
func (s *Session) Address() common.Address { return s.ledger.Address() }

func (s *Session) BalanceOf(who common.Address) (*uint256.Int, error) {
	return s.ledger.BalanceOf(who)
}

func (s *Session) Transfer(to common.Address, amount *uint256.Int) error {
	return s.ledger.Transfer(s.caller, to, amount)
}

func (s *Session) TransferFrom(from, to common.Address, amount *uint256.Int) error {
	return s.ledger.TransferFrom(s.caller, from, to, amount)
}

func (s *Session) Approve(spender common.Address, amount *uint256.Int) error {
	return s.ledger.Approve(s.caller, spender, amount)
}

func (s *Session) Mint(to common.Address, amount *uint256.Int) error {
	return s.ledger.Mint(s.caller, to, amount)
}

func (s *Session) Burn(amount *uint256.Int) error {
	return s.ledger.Burn(s.caller, amount)
}
