package metrics

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"
)

func TestInit_ReturnsWorkingCollectorAndHandler(t *testing.T) {
	collector, handler, shutdown, err := Init("gateway-test")
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer shutdown(context.Background())

	ctx := context.Background()
	collector.RecordRequest(ctx, "/process", 200)
	collector.RecordStageLatency(ctx, "analyzer", 50*time.Millisecond)
	collector.RecordProviderRequest(ctx, "provider-a", "success")
	collector.SetCircuitState(ctx, "provider-a", 0)
	collector.RecordRateLimitRejection(ctx, "user")
	collector.RecordAuthFailure(ctx)
	collector.SetActiveJobs(ctx, 3)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("metrics handler status = %d, want 200", rec.Code)
	}
	if rec.Body.Len() == 0 {
		t.Error("metrics handler wrote an empty body")
	}
}
