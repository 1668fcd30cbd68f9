package dsc

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	nativecommon "stablevault/native/common"
	"stablevault/native/oracle"
)

var (
	errNilState   = errors.New("dsc engine: state not configured")
	errNilDebt    = errors.New("dsc engine: debt token not configured")
	errNilAddress = errors.New("dsc engine: engine address not configured")

	ErrZeroAmount              = errors.New("dsc engine: amount must be more than zero")
	ErrUnsupportedCollateral   = errors.New("dsc engine: token not allowed as collateral")
	ErrMismatchedConfiguration = errors.New("dsc engine: collateral tokens and price feeds must match")
	ErrTransferFailed          = errors.New("dsc engine: transfer failed")
	ErrMintFailed              = errors.New("dsc engine: mint failed")
	ErrHealthFactorBroken      = errors.New("dsc engine: health factor below minimum")
	ErrHealthFactorOk          = errors.New("dsc engine: health factor ok")
	ErrHealthFactorNotImproved = errors.New("dsc engine: health factor not improved")
	ErrUnderflow               = errors.New("dsc engine: arithmetic underflow")
	ErrOverflow                = errors.New("dsc engine: arithmetic overflow")
)

// HealthFactorBrokenError reports the health factor an operation would have
// left the account with.
type HealthFactorBrokenError struct {
	Factor *uint256.Int
}

func (e *HealthFactorBrokenError) Error() string {
	return fmt.Sprintf("%s: %s", ErrHealthFactorBroken, factorString(e.Factor))
}

func (e *HealthFactorBrokenError) Is(target error) bool { return target == ErrHealthFactorBroken }

// HealthFactorOkError reports the health factor of an account that could not
// be liquidated.
type HealthFactorOkError struct {
	Factor *uint256.Int
}

func (e *HealthFactorOkError) Error() string {
	return fmt.Sprintf("%s: %s", ErrHealthFactorOk, factorString(e.Factor))
}

func (e *HealthFactorOkError) Is(target error) bool { return target == ErrHealthFactorOk }

func factorString(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

// Outcome maps an engine error onto a stable label used for metrics and API
// error codes.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrZeroAmount):
		return "zero_amount"
	case errors.Is(err, ErrUnsupportedCollateral):
		return "unsupported_collateral"
	case errors.Is(err, ErrMismatchedConfiguration):
		return "mismatched_configuration"
	case errors.Is(err, ErrTransferFailed):
		return "transfer_failed"
	case errors.Is(err, ErrMintFailed):
		return "mint_failed"
	case errors.Is(err, ErrHealthFactorBroken):
		return "health_factor_broken"
	case errors.Is(err, ErrHealthFactorOk):
		return "health_factor_ok"
	case errors.Is(err, ErrHealthFactorNotImproved):
		return "health_factor_not_improved"
	case errors.Is(err, ErrUnderflow):
		return "underflow"
	case errors.Is(err, ErrOverflow):
		return "overflow"
	default:
		return classifyExternal(err)
	}
}

func classifyExternal(err error) string {
	switch {
	case errors.Is(err, oracle.ErrStalePrice):
		return "stale_price"
	case errors.Is(err, oracle.ErrInvalidPrice):
		return "invalid_price"
	case errors.Is(err, oracle.ErrOverflow):
		return "overflow"
	case errors.Is(err, nativecommon.ErrReentrantCall):
		return "reentrant_call"
	default:
		return "error"
	}
}
