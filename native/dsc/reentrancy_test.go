package dsc

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	nativecommon "stablevault/native/common"
	"stablevault/native/oracle"
)

// hookedToken forwards to a real collateral ledger but calls back into the
// engine from inside TransferFrom, as a token with transfer hooks would.
type hookedToken struct {
	CollateralToken
	engine    *Engine
	propagate bool
	nested    []error
}

func (h *hookedToken) TransferFrom(from, to common.Address, amount *uint256.Int) error {
	err := h.engine.MintDebt(from, uint256.NewInt(1))
	h.nested = append(h.nested, err)
	if h.propagate && err != nil {
		return err
	}
	return h.CollateralToken.TransferFrom(from, to, amount)
}

func newHookedHarness(t *testing.T, propagate bool) (*harness, *hookedToken) {
	t.Helper()
	h := newHarness(t)
	hooked := &hookedToken{CollateralToken: h.weth.As(engineAddr), propagate: propagate}
	engine, err := NewEngine(Config{
		Address:     engineAddr,
		Collaterals: []CollateralToken{hooked},
		PriceFeeds:  []oracle.Feed{h.wethFeed},
		DebtToken:   h.dsc.As(engineAddr),
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	engine.SetState(h.state)
	engine.SetOracle(h.engine.Oracle())
	engine.SetEmitter(h.recorder)
	hooked.engine = engine
	h.engine = engine
	return h, hooked
}

func TestNestedCallIsRejected(t *testing.T) {
	h, hooked := newHookedHarness(t, false)
	h.fund(h.weth, userAddr, ether(10))

	if err := h.engine.DepositCollateral(userAddr, wethAddr, ether(10)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if len(hooked.nested) != 1 || !errors.Is(hooked.nested[0], nativecommon.ErrReentrantCall) {
		t.Fatalf("expected nested call to fail with ErrReentrantCall, got %v", hooked.nested)
	}
	if d, _ := h.engine.Debt(userAddr); !d.IsZero() {
		t.Fatalf("nested mint changed debt to %s", d.Dec())
	}
	if pos, _ := h.engine.CollateralBalance(userAddr, wethAddr); !pos.Eq(ether(10)) {
		t.Fatalf("unexpected position %s", pos.Dec())
	}

	// The guard is released after the outer call returns.
	if err := h.engine.MintDebt(userAddr, ether(1)); err != nil {
		t.Fatalf("mint after deposit: %v", err)
	}
}

func TestNestedCallFailureRollsBackOuterCall(t *testing.T) {
	h, hooked := newHookedHarness(t, true)
	h.fund(h.weth, userAddr, ether(10))
	before := h.keys()

	err := h.engine.DepositCollateral(userAddr, wethAddr, ether(10))
	if !errors.Is(err, ErrTransferFailed) || !errors.Is(err, nativecommon.ErrReentrantCall) {
		t.Fatalf("expected ErrTransferFailed wrapping ErrReentrantCall, got %v", err)
	}
	if len(hooked.nested) != 1 {
		t.Fatalf("expected one nested call, got %d", len(hooked.nested))
	}
	if pos, _ := h.engine.CollateralBalance(userAddr, wethAddr); !pos.IsZero() {
		t.Fatalf("expected rollback, got position %s", pos.Dec())
	}
	if !sameKeys(before, h.keys()) {
		t.Fatalf("failed deposit left persisted state behind")
	}

	// Guard must be released on the error path too.
	hooked.propagate = false
	if err := h.engine.DepositCollateral(userAddr, wethAddr, ether(10)); err != nil {
		t.Fatalf("deposit after failure: %v", err)
	}
}
