package telemetry

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
)

func TestInitDisabledIsNoop(t *testing.T) {
	t.Parallel()
	logger, hook := test.NewNullLogger()

	shutdown, err := Init(context.Background(), Config{Enabled: false, OTLPEndpoint: "localhost:4317"}, logger)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if entry := hook.LastEntry(); entry == nil || entry.Message != "OpenTelemetry tracing disabled" {
		t.Fatalf("unexpected log entry: %+v", entry)
	}
}
