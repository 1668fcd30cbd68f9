package oracle

import (
	"errors"
	"fmt"
	"time"

	"github.com/holiman/uint256"
)

// DefaultTimeout is the maximum age of a feed round before it is considered
// stale.
const DefaultTimeout = 3 * time.Hour

// Decimals is the fixed-point precision of every normalized price and USD
// value produced by the adapter.
const Decimals = 18

var (
	ErrStalePrice   = errors.New("oracle: stale price")
	ErrInvalidPrice = errors.New("oracle: invalid price")
	ErrOverflow     = errors.New("oracle: arithmetic overflow")
	ErrNilFeed      = errors.New("oracle: feed not configured")
)

var precision = uint256.NewInt(1_000_000_000_000_000_000)

// Adapter converts raw feed rounds into 18 decimal USD prices, rejecting
// rounds older than the configured timeout.
type Adapter struct {
	timeout time.Duration
	now     func() time.Time
}

// NewAdapter constructs an adapter using DefaultTimeout and the wall clock.
func NewAdapter() *Adapter {
	return &Adapter{timeout: DefaultTimeout, now: time.Now}
}

// SetTimeout updates the staleness window. Non-positive durations restore
// the default.
func (a *Adapter) SetTimeout(timeout time.Duration) {
	if a == nil {
		return
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	a.timeout = timeout
}

// Timeout returns the configured staleness window.
func (a *Adapter) Timeout() time.Duration {
	if a == nil || a.timeout <= 0 {
		return DefaultTimeout
	}
	return a.timeout
}

// SetClock overrides the time source used for staleness checks.
func (a *Adapter) SetClock(now func() time.Time) {
	if a == nil {
		return
	}
	if now == nil {
		now = time.Now
	}
	a.now = now
}

func (a *Adapter) currentTime() time.Time {
	if a == nil || a.now == nil {
		return time.Now()
	}
	return a.now()
}

// LatestPrice fetches the latest round from the feed, verifies its freshness
// and returns the price normalized to 18 decimals.
func (a *Adapter) LatestPrice(feed Feed) (*uint256.Int, error) {
	if feed == nil {
		return nil, ErrNilFeed
	}
	round, err := feed.LatestRoundData()
	if err != nil {
		return nil, fmt.Errorf("oracle: latest round: %w", err)
	}
	// An unset timestamp marks an incomplete round.
	if round.UpdatedAt.IsZero() {
		return nil, ErrStalePrice
	}
	if a.currentTime().Sub(round.UpdatedAt) > a.Timeout() {
		return nil, ErrStalePrice
	}
	if round.Answer == nil || round.Answer.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}
	raw, overflow := uint256.FromBig(round.Answer)
	if overflow {
		return nil, ErrOverflow
	}
	return normalize(raw, feed.Decimals())
}

func normalize(raw *uint256.Int, decimals uint8) (*uint256.Int, error) {
	switch {
	case decimals == Decimals:
		return raw, nil
	case decimals < Decimals:
		scale := pow10(uint64(Decimals - decimals))
		price, overflow := new(uint256.Int).MulOverflow(raw, scale)
		if overflow {
			return nil, ErrOverflow
		}
		return price, nil
	default:
		shift := uint64(decimals - Decimals)
		// 10^78 exceeds 256 bits; any answer scaled down that far is zero.
		if shift > 77 {
			return nil, ErrInvalidPrice
		}
		price := new(uint256.Int).Div(raw, pow10(shift))
		if price.IsZero() {
			return nil, ErrInvalidPrice
		}
		return price, nil
	}
}

func pow10(exp uint64) *uint256.Int {
	return new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(exp))
}

// UsdValue returns the 18 decimal USD value of amount tokens priced by feed.
// The product is computed with a 512-bit intermediate and floored.
func (a *Adapter) UsdValue(feed Feed, amount *uint256.Int) (*uint256.Int, error) {
	price, err := a.LatestPrice(feed)
	if err != nil {
		return nil, err
	}
	if amount == nil {
		return new(uint256.Int), nil
	}
	value, overflow := new(uint256.Int).MulDivOverflow(price, amount, precision)
	if overflow {
		return nil, ErrOverflow
	}
	return value, nil
}

// TokenAmountFromUsd converts an 18 decimal USD amount into a token amount,
// rounding toward zero.
func (a *Adapter) TokenAmountFromUsd(feed Feed, usd *uint256.Int) (*uint256.Int, error) {
	price, err := a.LatestPrice(feed)
	if err != nil {
		return nil, err
	}
	if usd == nil {
		return new(uint256.Int), nil
	}
	amount, overflow := new(uint256.Int).MulDivOverflow(usd, precision, price)
	if overflow {
		return nil, ErrOverflow
	}
	return amount, nil
}
