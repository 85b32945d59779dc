package ledger

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/lucia/internal/db"
)

func openLedger(t *testing.T) *Ledger {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "lucia.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return New(database.DB)
}

func TestAppendAndRecent(t *testing.T) {
	l := openLedger(t)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	runID := NewRunID()

	require.NoError(t, l.Append(Entry{
		EventType:  EventStateApplied,
		Timestamp:  base,
		RunID:      runID,
		TargetKind: "light",
		TargetID:   "1",
		Payload:    map[string]any{"bri": 128},
	}))
	require.NoError(t, l.Append(Entry{
		EventType:  EventStateFailed,
		Timestamp:  base.Add(time.Second),
		RunID:      runID,
		TargetKind: "light",
		TargetID:   "99",
		Error:      "bridge error 3: resource not available",
	}))

	entries, err := l.Recent(10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// newest first
	assert.Equal(t, EventStateFailed, entries[0].EventType)
	assert.Equal(t, "99", entries[0].TargetID)
	assert.Equal(t, "bridge error 3: resource not available", entries[0].Error)
	assert.Nil(t, entries[0].Payload)

	assert.Equal(t, EventStateApplied, entries[1].EventType)
	assert.Equal(t, runID, entries[1].RunID)
	assert.Equal(t, "light", entries[1].TargetKind)
	assert.Equal(t, float64(128), entries[1].Payload["bri"])
	assert.True(t, base.Equal(entries[1].Timestamp))
}

func TestRecent_Limit(t *testing.T) {
	l := openLedger(t)
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Append(Entry{EventType: EventStateApplied, RunID: "r"}))
	}

	entries, err := l.Recent(3)
	require.NoError(t, err)
	assert.Len(t, entries, 3)

	entries, err = l.Recent(0)
	require.NoError(t, err)
	assert.Len(t, entries, 5)
}

func TestCleanup(t *testing.T) {
	l := openLedger(t)
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	require.NoError(t, l.Append(Entry{EventType: EventPaired, RunID: "old", Timestamp: now.AddDate(0, 0, -40)}))
	require.NoError(t, l.Append(Entry{EventType: EventPaired, RunID: "new", Timestamp: now.AddDate(0, 0, -1)}))

	removed, err := l.Cleanup(30)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	entries, err := l.Recent(10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "new", entries[0].RunID)

	removed, err = l.Cleanup(0)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestNewRunID(t *testing.T) {
	id := NewRunID()
	_, err := uuid.Parse(id)
	assert.NoError(t, err)
	assert.NotEqual(t, id, NewRunID())
}
