package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSetServiceState(t *testing.T) {
	SetServiceState("paused")

	if got := testutil.ToFloat64(ServiceState.WithLabelValues("paused")); got != 1 {
		t.Errorf("expected paused=1, got %v", got)
	}
	if got := testutil.ToFloat64(ServiceState.WithLabelValues("running")); got != 0 {
		t.Errorf("expected running=0, got %v", got)
	}

	SetServiceState("running")
	if got := testutil.ToFloat64(ServiceState.WithLabelValues("paused")); got != 0 {
		t.Errorf("expected paused=0 after change, got %v", got)
	}
}

func TestRecordCatalogRequest(t *testing.T) {
	before := testutil.ToFloat64(CatalogRequests.WithLabelValues("search", "error"))
	RecordCatalogRequest("search", time.Now(), errors.New("boom"))

	if got := testutil.ToFloat64(CatalogRequests.WithLabelValues("search", "error")); got != before+1 {
		t.Errorf("expected %v, got %v", before+1, got)
	}
}
