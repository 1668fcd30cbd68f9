package oracle

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"
)

// RoundData mirrors the answer shape of an aggregator price feed. Answer is
// signed; the adapter rejects non-positive values.
type RoundData struct {
	RoundID         uint64
	Answer          *big.Int
	StartedAt       time.Time
	UpdatedAt       time.Time
	AnsweredInRound uint64
}

// Clone returns a deep copy of the round to prevent accidental mutations.
func (r RoundData) Clone() RoundData {
	clone := r
	if r.Answer != nil {
		clone.Answer = new(big.Int).Set(r.Answer)
	}
	return clone
}

// Feed resolves the latest price round for a single asset denominated in USD.
type Feed interface {
	LatestRoundData() (RoundData, error)
	Decimals() uint8
}

var errManualFeedUnset = errors.New("manual feed: no round recorded")

// ManualFeed provides an in-memory feed used for tests, genesis seeding and
// manual overrides during incident response.
type ManualFeed struct {
	mu       sync.RWMutex
	decimals uint8
	round    RoundData
	set      bool
	err      error
}

// NewManualFeed constructs an empty manual feed reporting the supplied number
// of decimals.
func NewManualFeed(decimals uint8) *ManualFeed {
	return &ManualFeed{decimals: decimals}
}

// Decimals implements Feed.
func (f *ManualFeed) Decimals() uint8 {
	if f == nil {
		return 0
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.decimals
}

// SetAnswer records a new round with the raw feed answer (already scaled by
// the feed decimals) and the provided update timestamp.
func (f *ManualFeed) SetAnswer(answer *big.Int, updatedAt time.Time) {
	if f == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	next := f.round.RoundID + 1
	f.round = RoundData{
		RoundID:         next,
		StartedAt:       updatedAt,
		UpdatedAt:       updatedAt,
		AnsweredInRound: next,
	}
	if answer != nil {
		f.round.Answer = new(big.Int).Set(answer)
	}
	f.set = true
}

// SetDecimal parses a human readable USD price such as "2000" or "0.9995" and
// records it scaled to the feed decimals. Digits beyond the feed precision
// are truncated.
func (f *ManualFeed) SetDecimal(price string, updatedAt time.Time) error {
	if f == nil {
		return fmt.Errorf("manual feed not configured")
	}
	trimmed := strings.TrimSpace(price)
	if trimmed == "" {
		return fmt.Errorf("manual feed: price required")
	}
	rat, ok := new(big.Rat).SetString(trimmed)
	if !ok {
		return fmt.Errorf("manual feed: invalid price %q", price)
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(f.Decimals())), nil)
	scaled := new(big.Int).Mul(rat.Num(), scale)
	scaled.Quo(scaled, rat.Denom())
	f.SetAnswer(scaled, updatedAt)
	return nil
}

// SetError forces LatestRoundData to fail until cleared with a nil error.
func (f *ManualFeed) SetError(err error) {
	if f == nil {
		return
	}
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

// LatestRoundData implements Feed.
func (f *ManualFeed) LatestRoundData() (RoundData, error) {
	if f == nil {
		return RoundData{}, fmt.Errorf("manual feed not configured")
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.err != nil {
		return RoundData{}, f.err
	}
	if !f.set {
		return RoundData{}, errManualFeedUnset
	}
	return f.round.Clone(), nil
}
