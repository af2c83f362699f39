package audit_test

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/statsgallery/sponsorship/pkg/audit"
)

func TestReadEvents_RoundTripsLoggerOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := audit.NewLoggerWithWriter(&buf)
	ctx := context.Background()

	require.NoError(t, logger.Record(ctx, audit.EventMutation, "proposal.submitted", "proposal/1", map[string]interface{}{"deposit": 250}))
	require.NoError(t, logger.Record(ctx, audit.EventMutation, "proposal.accepted", "proposal/1", nil))

	events, err := audit.ReadEvents(&buf)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "proposal.submitted", events[0].Action)
	assert.Equal(t, "proposal.accepted", events[1].Action)
	assert.NotEmpty(t, events[0].ID)
	assert.False(t, events[0].Timestamp.IsZero())
}

func TestReadEvents_SkipsInterleavedServiceLogs(t *testing.T) {
	input := strings.Join([]string{
		`{"level":"INFO","msg":"server started"}`,
		`AUDIT: {"id":"e-1","actor_id":"alice","type":"MUTATION","action":"proposal.submitted","resource":"proposal/1","timestamp":"2026-03-01T12:00:00Z"}`,
		``,
		`some plain text line`,
		`AUDIT: {"id":"e-2","actor_id":"owner","type":"MUTATION","action":"proposal.rejected","resource":"proposal/1","timestamp":"2026-03-01T13:00:00Z"}`,
	}, "\n")

	events, err := audit.ReadEvents(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "alice", events[0].ActorID)
	assert.Equal(t, "proposal.rejected", events[1].Action)
}

func TestReadEvents_RejectsMalformedAuditLine(t *testing.T) {
	input := "AUDIT: {not json}\n"
	_, err := audit.ReadEvents(strings.NewReader(input))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 1")
}

func TestTrailRestore_FeedsExporter(t *testing.T) {
	events := []audit.Event{
		{ID: "e-1", ActorID: "alice", Type: audit.EventMutation, Action: "proposal.submitted", Resource: "proposal/1", Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		{ID: "e-2", ActorID: "owner", Type: audit.EventMutation, Action: "proposal.accepted", Resource: "proposal/1", Timestamp: time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)},
	}

	trail := audit.NewTrail()
	trail.Restore(events)
	require.Equal(t, 2, trail.Len())

	// Restored timestamps drive range queries, not the restore time.
	got := trail.Query(time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), time.Time{})
	require.Len(t, got, 1)
	assert.Equal(t, "e-2", got[0].ID)

	pack, checksum, err := audit.NewExporter(trail).GeneratePack(context.Background(), audit.ExportRequest{})
	require.NoError(t, err)
	assert.NotEmpty(t, pack)
	assert.Len(t, checksum, 64)
}
