package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestDSCMetricsAreSingletons(t *testing.T) {
	if DSC() != DSC() {
		t.Fatalf("expected singleton registry")
	}
	if API() != API() {
		t.Fatalf("expected singleton registry")
	}
}

func TestObserveOperation(t *testing.T) {
	metrics := DSC()
	before := testutil.ToFloat64(metrics.operations.WithLabelValues("metrics_test", "success"))
	metrics.ObserveOperation(" metrics_test ", "success", 5*time.Millisecond)
	after := testutil.ToFloat64(metrics.operations.WithLabelValues("metrics_test", "success"))
	if after-before != 1 {
		t.Fatalf("expected counter to increase by 1, got %v", after-before)
	}

	metrics.ObserveOperation("", "", time.Millisecond)
	if got := testutil.ToFloat64(metrics.operations.WithLabelValues("unknown", "unspecified")); got < 1 {
		t.Fatalf("expected defaulted labels to be recorded")
	}
}

func TestRecordLiquidationAndRejection(t *testing.T) {
	metrics := DSC()
	metrics.RecordLiquidation("0xtoken")
	if got := testutil.ToFloat64(metrics.liquidations.WithLabelValues("0xtoken")); got < 1 {
		t.Fatalf("expected liquidation to be counted")
	}
	metrics.RecordHealthFactorRejection("mint_dsc")
	if got := testutil.ToFloat64(metrics.rejections.WithLabelValues("mint_dsc")); got < 1 {
		t.Fatalf("expected rejection to be counted")
	}

	var nilMetrics *DSCMetrics
	nilMetrics.RecordLiquidation("ignored")
	nilMetrics.ObserveOperation("ignored", "ignored", 0)
}

func TestAPIObserve(t *testing.T) {
	api := API()
	api.Observe("/v1/debt/mint", "POST", 422, time.Millisecond)
	if got := testutil.ToFloat64(api.errors.WithLabelValues("/v1/debt/mint", "POST", "422")); got < 1 {
		t.Fatalf("expected error counter to be recorded")
	}
	api.RecordThrottle("/v1/debt/mint", "rate_limit")
	if got := testutil.ToFloat64(api.throttles.WithLabelValues("/v1/debt/mint", "rate_limit")); got < 1 {
		t.Fatalf("expected throttle counter to be recorded")
	}
}
