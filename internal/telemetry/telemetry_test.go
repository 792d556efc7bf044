package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

// The instruments stay nil until InitTelemetry runs; recording before
// that must be a no-op, never a panic.
func TestRecordersBeforeInit(t *testing.T) {
	ctx := context.Background()
	assert.NotPanics(t, func() {
		RecordHeartbeat(ctx)
		AddActiveClaims(ctx, 1)
		AddActiveClaims(ctx, -1)
		RecordIssuesSynced(ctx, 5)
		RecordIssuesSynced(ctx, 0)
		RecordEventPublished(ctx)
		RecordSyncLatency(ctx, 12.5)
	})
}
