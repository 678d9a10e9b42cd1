package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordAPIRequest(t *testing.T) {
	before := testutil.ToFloat64(APIRequestsTotal.WithLabelValues("POST", "/api/comments", "201"))
	RecordAPIRequest("POST", "/api/comments", 201, 12*time.Millisecond)
	after := testutil.ToFloat64(APIRequestsTotal.WithLabelValues("POST", "/api/comments", "201"))
	if after-before != 1 {
		t.Errorf("requests counter delta = %v, want 1", after-before)
	}
}

func TestRecordStoreOperation(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantDelta float64
	}{
		{"success", nil, 0},
		{"failure", errors.New("connection refused"), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := StoreOperationErrors.WithLabelValues("append", "visitors")
			before := testutil.ToFloat64(c)
			RecordStoreOperation("append", "visitors", time.Millisecond, tt.err)
			if got := testutil.ToFloat64(c) - before; got != tt.wantDelta {
				t.Errorf("error counter delta = %v, want %v", got, tt.wantDelta)
			}
		})
	}
}

func TestRecordTrackingFailure(t *testing.T) {
	before := testutil.ToFloat64(TrackingFailures.WithLabelValues("recordVisit"))
	RecordTrackingFailure("recordVisit")
	RecordTrackingFailure("recordVisit")
	if got := testutil.ToFloat64(TrackingFailures.WithLabelValues("recordVisit")) - before; got != 2 {
		t.Errorf("failure counter delta = %v, want 2", got)
	}
}
