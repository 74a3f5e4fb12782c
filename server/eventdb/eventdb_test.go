package eventdb

import (
	"os"
	"testing"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T, wipeDB bool) *EventDB {
	t.Helper()
	if wipeDB {
		cleanupDB(t)
	}
	db, err := NewEventDB(logs.NewTestingLog(t), "test_eventdb.sqlite")
	if err != nil {
		t.Fatalf("Failed to create EventDB: %v", err)
	}
	return db
}

func cleanupDB(t *testing.T) {
	t.Helper()
	os.Remove("test_eventdb.sqlite")
	os.Remove("test_eventdb.sqlite-shm")
	os.Remove("test_eventdb.sqlite-wal")
}

func TestEventDB(t *testing.T) {
	defer cleanupDB(t)
	db := setup(t, true)

	events, err := db.RecentEvents(10)
	require.NoError(t, err)
	require.Empty(t, events)

	require.NoError(t, db.AddEvent(EventTypeStarted, &EventDetail{URL: "rtsp://cam1/main"}))
	require.NoError(t, db.AddEvent(EventTypeTimeout, &EventDetail{URL: "rtsp://cam1/main", Attempt: 1, Message: "Timed out after 5s waiting for a frame"}))
	require.NoError(t, db.AddEvent(EventTypeBackoff, &EventDetail{URL: "rtsp://cam1/main", Attempt: 1, DelayMS: 3000}))

	events, err = db.RecentEvents(10)
	require.NoError(t, err)
	require.Len(t, events, 3)
	// Newest first
	require.Equal(t, EventTypeBackoff, events[0].EventType)
	require.Equal(t, EventTypeStarted, events[2].EventType)
	require.Equal(t, int64(3000), events[0].Detail.Data.DelayMS)
	require.Equal(t, 1, events[1].Detail.Data.Attempt)

	// A second open sees the same records
	db2 := setup(t, false)
	events, err = db2.RecentEvents(10)
	require.NoError(t, err)
	require.Len(t, events, 3)

	events, err = db.EventsSince(time.Now().Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, events, 3)
	events, err = db.EventsSince(time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Empty(t, events)
}

func TestEventDBPurge(t *testing.T) {
	defer cleanupDB(t)
	db := setup(t, true)

	db.maxEventCount = 10
	for i := 0; i < 100; i++ {
		require.NoError(t, db.AddEvent(EventTypeTimeout, &EventDetail{Attempt: i}))
		count, err := db.Count()
		require.NoError(t, err)
		require.LessOrEqual(t, count, int64(10))
	}

	// The survivors are the newest
	events, err := db.RecentEvents(100)
	require.NoError(t, err)
	require.Len(t, events, 10)
	require.Equal(t, 99, events[0].Detail.Data.Attempt)
}
