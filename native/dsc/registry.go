package dsc

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"stablevault/native/oracle"
)

// Registry is the immutable set of collateral tokens accepted by the engine,
// each mapped to exactly one price feed. Token order is preserved.
type Registry struct {
	tokens  []common.Address
	ledgers map[common.Address]CollateralToken
	feeds   map[common.Address]oracle.Feed
}

// NewRegistry pairs collateral tokens with price feeds by position.
func NewRegistry(tokens []CollateralToken, feeds []oracle.Feed) (*Registry, error) {
	if len(tokens) != len(feeds) {
		return nil, fmt.Errorf("%w: %d tokens, %d feeds", ErrMismatchedConfiguration, len(tokens), len(feeds))
	}
	reg := &Registry{
		tokens:  make([]common.Address, 0, len(tokens)),
		ledgers: make(map[common.Address]CollateralToken, len(tokens)),
		feeds:   make(map[common.Address]oracle.Feed, len(feeds)),
	}
	for i, token := range tokens {
		if token == nil || feeds[i] == nil {
			return nil, fmt.Errorf("%w: entry %d is nil", ErrMismatchedConfiguration, i)
		}
		addr := token.Address()
		if addr == (common.Address{}) {
			return nil, fmt.Errorf("%w: entry %d has zero address", ErrMismatchedConfiguration, i)
		}
		if _, exists := reg.ledgers[addr]; exists {
			return nil, fmt.Errorf("%w: duplicate token %s", ErrMismatchedConfiguration, addr.Hex())
		}
		reg.tokens = append(reg.tokens, addr)
		reg.ledgers[addr] = token
		reg.feeds[addr] = feeds[i]
	}
	return reg, nil
}

// Tokens returns the registered collateral tokens in registration order.
func (r *Registry) Tokens() []common.Address {
	if r == nil {
		return nil
	}
	return append([]common.Address(nil), r.tokens...)
}

// Len returns the number of registered tokens.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.tokens)
}

// Feed returns the price feed for token.
func (r *Registry) Feed(token common.Address) (oracle.Feed, bool) {
	if r == nil {
		return nil, false
	}
	feed, ok := r.feeds[token]
	return feed, ok
}

func (r *Registry) ledger(token common.Address) (CollateralToken, error) {
	if r == nil {
		return nil, ErrUnsupportedCollateral
	}
	ledger, ok := r.ledgers[token]
	if !ok {
		return nil, ErrUnsupportedCollateral
	}
	return ledger, nil
}
