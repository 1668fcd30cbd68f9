package common

import (
	"errors"
	"sync/atomic"
)

// ErrReentrantCall is returned when a guarded operation is entered while
// another guarded operation on the same module is still executing.
var ErrReentrantCall = errors.New("reentrant call")

// ReentrancyGuard provides mutual exclusion across state-changing entry
// points. A nested call observes the held guard and fails instead of blocking.
type ReentrancyGuard struct {
	entered atomic.Bool
}

// Enter acquires the guard. Callers must pair a successful Enter with Exit.
func (g *ReentrancyGuard) Enter() error {
	if g == nil {
		return nil
	}
	if !g.entered.CompareAndSwap(false, true) {
		return ErrReentrantCall
	}
	return nil
}

// Exit releases the guard.
func (g *ReentrancyGuard) Exit() {
	if g == nil {
		return
	}
	g.entered.Store(false)
}

// Entered reports whether a guarded operation is in flight.
func (g *ReentrancyGuard) Entered() bool {
	return g != nil && g.entered.Load()
}
