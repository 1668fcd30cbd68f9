package dsc

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"stablevault/core/events"
	"stablevault/core/state"
	"stablevault/native/oracle"
	"stablevault/native/token"
	"stablevault/storage"
)

var (
	engineAddr = common.HexToAddress("0x00000000000000000000000000000000000d5ce0")
	genesis    = common.HexToAddress("0x0000000000000000000000000000000000000001")
	wethAddr   = common.HexToAddress("0x000000000000000000000000000000000000e770")
	wbtcAddr   = common.HexToAddress("0x000000000000000000000000000000000000b7c0")
	dscAddr    = common.HexToAddress("0x000000000000000000000000000000000000d5c0")
	userAddr   = common.HexToAddress("0x000000000000000000000000000000000000a11c")
	liquidator = common.HexToAddress("0x0000000000000000000000000000000000001100")
	unlisted   = common.HexToAddress("0x000000000000000000000000000000000000dead")
)

var startTime = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func ether(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), Precision)
}

type harness struct {
	t        *testing.T
	db       *storage.MemDB
	state    *state.Manager
	engine   *Engine
	weth     *token.Ledger
	wbtc     *token.Ledger
	dsc      *token.Ledger
	wethFeed *oracle.ManualFeed
	wbtcFeed *oracle.ManualFeed
	recorder *events.Recorder
	now      time.Time
}

// newHarness wires an engine with WETH at $2000 and WBTC at $1000, both
// reported by 8 decimal feeds.
func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{t: t, db: storage.NewMemDB(), now: startTime}
	h.state = state.NewManager(h.db)
	h.weth = token.NewLedger(h.state, token.Metadata{Address: wethAddr, Symbol: "WETH", Decimals: 18, Owner: genesis})
	h.wbtc = token.NewLedger(h.state, token.Metadata{Address: wbtcAddr, Symbol: "WBTC", Decimals: 18, Owner: genesis})
	h.dsc = token.NewLedger(h.state, token.Metadata{Address: dscAddr, Symbol: "DSC", Decimals: 18, Owner: engineAddr})
	h.wethFeed = oracle.NewManualFeed(8)
	h.wbtcFeed = oracle.NewManualFeed(8)
	h.setPrice(h.wethFeed, "2000")
	h.setPrice(h.wbtcFeed, "1000")

	engine, err := NewEngine(Config{
		Address:     engineAddr,
		Collaterals: []CollateralToken{h.weth.As(engineAddr), h.wbtc.As(engineAddr)},
		PriceFeeds:  []oracle.Feed{h.wethFeed, h.wbtcFeed},
		DebtToken:   h.dsc.As(engineAddr),
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	engine.SetState(h.state)
	adapter := oracle.NewAdapter()
	adapter.SetClock(func() time.Time { return h.now })
	engine.SetOracle(adapter)
	h.recorder = events.NewRecorder(0)
	engine.SetEmitter(h.recorder)
	h.engine = engine
	return h
}

func (h *harness) setPrice(feed *oracle.ManualFeed, price string) {
	h.t.Helper()
	if err := feed.SetDecimal(price, h.now); err != nil {
		h.t.Fatalf("set price: %v", err)
	}
}

// fund mints collateral to who and approves the engine to pull it.
func (h *harness) fund(ledger *token.Ledger, who common.Address, amount *uint256.Int) {
	h.t.Helper()
	if err := ledger.Mint(genesis, who, amount); err != nil {
		h.t.Fatalf("mint %s: %v", ledger.Symbol(), err)
	}
	if err := ledger.Approve(who, engineAddr, new(uint256.Int).SetAllOne()); err != nil {
		h.t.Fatalf("approve %s: %v", ledger.Symbol(), err)
	}
	if err := h.state.Commit(); err != nil {
		h.t.Fatalf("commit: %v", err)
	}
}

func (h *harness) approveDebt(who common.Address, amount *uint256.Int) {
	h.t.Helper()
	if err := h.dsc.Approve(who, engineAddr, amount); err != nil {
		h.t.Fatalf("approve dsc: %v", err)
	}
}

// open deposits WETH and mints debt for who.
func (h *harness) open(who common.Address, collateral, debt *uint256.Int) {
	h.t.Helper()
	h.fund(h.weth, who, collateral)
	if err := h.engine.DepositAndMint(who, wethAddr, collateral, debt); err != nil {
		h.t.Fatalf("deposit and mint: %v", err)
	}
}

func (h *harness) balance(ledger *token.Ledger, who common.Address) *uint256.Int {
	h.t.Helper()
	bal, err := ledger.BalanceOf(who)
	if err != nil {
		h.t.Fatalf("balance: %v", err)
	}
	return bal
}

func (h *harness) healthFactor(who common.Address) *uint256.Int {
	h.t.Helper()
	hf, err := h.engine.HealthFactor(who)
	if err != nil {
		h.t.Fatalf("health factor: %v", err)
	}
	return hf
}

func (h *harness) eventTypes() []string {
	var types []string
	for _, evt := range h.recorder.Events() {
		types = append(types, evt.EventType())
	}
	return types
}

// keys returns the persisted keys so tests can assert that failed operations
// leave nothing behind.
func (h *harness) keys() []string {
	return h.db.Keys()
}

func sameKeys(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
