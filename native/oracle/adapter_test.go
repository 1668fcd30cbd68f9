package oracle

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/holiman/uint256"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func ether(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), precision)
}

func newTestAdapter() *Adapter {
	adapter := NewAdapter()
	adapter.SetClock(func() time.Time { return testNow })
	return adapter
}

func newPricedFeed(t *testing.T, decimals uint8, price string, updatedAt time.Time) *ManualFeed {
	t.Helper()
	feed := NewManualFeed(decimals)
	if err := feed.SetDecimal(price, updatedAt); err != nil {
		t.Fatalf("set price: %v", err)
	}
	return feed
}

func TestUsdValue(t *testing.T) {
	adapter := newTestAdapter()
	feed := newPricedFeed(t, 8, "2000", testNow)

	value, err := adapter.UsdValue(feed, ether(15))
	if err != nil {
		t.Fatalf("usd value: %v", err)
	}
	if !value.Eq(ether(30_000)) {
		t.Fatalf("expected 30000e18, got %s", value.Dec())
	}
}

func TestTokenAmountFromUsd(t *testing.T) {
	adapter := newTestAdapter()
	feed := newPricedFeed(t, 8, "2000", testNow)

	amount, err := adapter.TokenAmountFromUsd(feed, ether(100))
	if err != nil {
		t.Fatalf("token amount: %v", err)
	}
	want := uint256.NewInt(50_000_000_000_000_000)
	if !amount.Eq(want) {
		t.Fatalf("expected %s, got %s", want.Dec(), amount.Dec())
	}
}

func TestLatestPriceNormalizesDecimals(t *testing.T) {
	adapter := newTestAdapter()
	cases := []struct {
		name     string
		decimals uint8
		price    string
	}{
		{name: "eight", decimals: 8, price: "1234.5"},
		{name: "eighteen", decimals: 18, price: "1234.5"},
		{name: "twenty", decimals: 20, price: "1234.5"},
		{name: "zero", decimals: 0, price: "1234.5"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			feed := newPricedFeed(t, tc.decimals, tc.price, testNow)
			price, err := adapter.LatestPrice(feed)
			if err != nil {
				t.Fatalf("latest price: %v", err)
			}
			want := ether(1234)
			if tc.decimals > 0 {
				want.Add(want, uint256.NewInt(500_000_000_000_000_000))
			}
			if !price.Eq(want) {
				t.Fatalf("expected %s, got %s", want.Dec(), price.Dec())
			}
		})
	}
}

func TestStalePrice(t *testing.T) {
	adapter := newTestAdapter()

	fresh := newPricedFeed(t, 8, "2000", testNow.Add(-DefaultTimeout))
	if _, err := adapter.UsdValue(fresh, ether(1)); err != nil {
		t.Fatalf("round exactly at the timeout must be accepted: %v", err)
	}

	stale := newPricedFeed(t, 8, "2000", testNow.Add(-DefaultTimeout-time.Second))
	if _, err := adapter.UsdValue(stale, ether(1)); !errors.Is(err, ErrStalePrice) {
		t.Fatalf("expected ErrStalePrice, got %v", err)
	}
	if _, err := adapter.TokenAmountFromUsd(stale, ether(1)); !errors.Is(err, ErrStalePrice) {
		t.Fatalf("expected ErrStalePrice, got %v", err)
	}

	incomplete := NewManualFeed(8)
	incomplete.SetAnswer(big.NewInt(2000_00000000), time.Time{})
	if _, err := adapter.LatestPrice(incomplete); !errors.Is(err, ErrStalePrice) {
		t.Fatalf("expected zero timestamp to be stale, got %v", err)
	}

	future := newPricedFeed(t, 8, "2000", testNow.Add(time.Minute))
	if _, err := adapter.LatestPrice(future); err != nil {
		t.Fatalf("future round rejected: %v", err)
	}
}

func TestCustomTimeout(t *testing.T) {
	adapter := newTestAdapter()
	adapter.SetTimeout(time.Minute)
	if adapter.Timeout() != time.Minute {
		t.Fatalf("unexpected timeout %s", adapter.Timeout())
	}
	feed := newPricedFeed(t, 8, "2000", testNow.Add(-2*time.Minute))
	if _, err := adapter.LatestPrice(feed); !errors.Is(err, ErrStalePrice) {
		t.Fatalf("expected ErrStalePrice, got %v", err)
	}
	adapter.SetTimeout(0)
	if adapter.Timeout() != DefaultTimeout {
		t.Fatalf("expected default timeout, got %s", adapter.Timeout())
	}
}

func TestInvalidPrice(t *testing.T) {
	adapter := newTestAdapter()
	for _, answer := range []*big.Int{nil, big.NewInt(0), big.NewInt(-1)} {
		feed := NewManualFeed(8)
		feed.SetAnswer(answer, testNow)
		if _, err := adapter.UsdValue(feed, ether(1)); !errors.Is(err, ErrInvalidPrice) {
			t.Fatalf("answer %v: expected ErrInvalidPrice, got %v", answer, err)
		}
	}

	// Scaling 1 down by 10^2 floors to zero.
	tiny := NewManualFeed(20)
	tiny.SetAnswer(big.NewInt(1), testNow)
	if _, err := adapter.LatestPrice(tiny); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("expected ErrInvalidPrice, got %v", err)
	}
}

func TestOverflow(t *testing.T) {
	adapter := newTestAdapter()
	feed := newPricedFeed(t, 8, "2000", testNow)
	max := new(uint256.Int).SetAllOne()
	if _, err := adapter.UsdValue(feed, max); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected ErrOverflow, got %v", err)
	}

	huge := NewManualFeed(0)
	huge.SetAnswer(new(big.Int).Lsh(big.NewInt(1), 255), testNow)
	if _, err := adapter.LatestPrice(huge); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected ErrOverflow, got %v", err)
	}
}

func TestLargeAmountsUseWideIntermediate(t *testing.T) {
	adapter := newTestAdapter()
	feed := newPricedFeed(t, 8, "1", testNow)
	// price18 * amount exceeds 256 bits but the quotient does not.
	amount := new(uint256.Int).Rsh(new(uint256.Int).SetAllOne(), 1)
	value, err := adapter.UsdValue(feed, amount)
	if err != nil {
		t.Fatalf("usd value: %v", err)
	}
	if !value.Eq(amount) {
		t.Fatalf("expected %s, got %s", amount.Dec(), value.Dec())
	}
}

func TestFeedErrorIsWrapped(t *testing.T) {
	adapter := newTestAdapter()
	feed := newPricedFeed(t, 8, "2000", testNow)
	boom := errors.New("aggregator offline")
	feed.SetError(boom)
	if _, err := adapter.LatestPrice(feed); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped feed error, got %v", err)
	}
	if _, err := adapter.LatestPrice(nil); !errors.Is(err, ErrNilFeed) {
		t.Fatalf("expected ErrNilFeed, got %v", err)
	}
}

func TestManualFeedRounds(t *testing.T) {
	feed := NewManualFeed(8)
	if _, err := feed.LatestRoundData(); err == nil {
		t.Fatalf("expected error before first round")
	}
	if err := feed.SetDecimal("abc", testNow); err == nil {
		t.Fatalf("expected invalid price error")
	}
	feed.SetAnswer(big.NewInt(100), testNow)
	feed.SetAnswer(big.NewInt(200), testNow.Add(time.Second))
	round, err := feed.LatestRoundData()
	if err != nil {
		t.Fatalf("latest round: %v", err)
	}
	if round.RoundID != 2 || round.AnsweredInRound != 2 {
		t.Fatalf("unexpected round ids %+v", round)
	}
	round.Answer.SetInt64(1)
	again, _ := feed.LatestRoundData()
	if again.Answer.Int64() != 200 {
		t.Fatalf("round answer aliased internal state")
	}
}

func TestViewsAreIdempotent(t *testing.T) {
	adapter := newTestAdapter()
	feed := newPricedFeed(t, 8, "1999.99", testNow)
	first, err := adapter.UsdValue(feed, ether(3))
	if err != nil {
		t.Fatalf("usd value: %v", err)
	}
	second, err := adapter.UsdValue(feed, ether(3))
	if err != nil {
		t.Fatalf("usd value: %v", err)
	}
	if !first.Eq(second) {
		t.Fatalf("views diverged: %s vs %s", first.Dec(), second.Dec())
	}
}

func FuzzRoundTrip(f *testing.F) {
	f.Add(uint64(2000_00000000), []byte{0x01})
	f.Add(uint64(1_00000000), []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff})
	f.Add(uint64(99_999_99999999), []byte{0x0d, 0xe0, 0xb6, 0xb3, 0xa7, 0x64, 0x00, 0x00})

	f.Fuzz(func(t *testing.T, answer uint64, raw []byte) {
		// Prices of at least one dollar bound the truncation to one unit.
		if answer < 1_00000000 {
			return
		}
		if len(raw) > 32 {
			raw = raw[:32]
		}
		amount := new(uint256.Int).SetBytes(raw)

		adapter := newTestAdapter()
		feed := NewManualFeed(8)
		feed.SetAnswer(new(big.Int).SetUint64(answer), testNow)

		usd, err := adapter.UsdValue(feed, amount)
		if errors.Is(err, ErrOverflow) {
			return
		}
		if err != nil {
			t.Fatalf("usd value: %v", err)
		}
		back, err := adapter.TokenAmountFromUsd(feed, usd)
		if err != nil {
			t.Fatalf("token amount: %v", err)
		}
		if back.Gt(amount) {
			t.Fatalf("round trip grew: %s -> %s", amount.Dec(), back.Dec())
		}
		diff := new(uint256.Int).Sub(amount, back)
		if diff.GtUint64(1) {
			t.Fatalf("round trip lost more than one unit: %s -> %s", amount.Dec(), back.Dec())
		}
	})
}
