package framedir

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cyclopcam/livefeed/server/feed"
	"github.com/cyclopcam/logs"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func makeTestFrame(fill byte) *feed.Frame {
	pixels := make([]byte, 8*8*3)
	for i := range pixels {
		pixels[i] = fill
	}
	return &feed.Frame{Width: 8, Height: 8, Pixels: pixels}
}

func countJPEGs(t *testing.T, dir string) int {
	t.Helper()
	frames, err := listFrames(dir)
	require.NoError(t, err)
	return len(frames)
}

func TestSinkWritesAndPrunes(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewSink(logs.NewTestingLog(t), SinkConfig{Dir: dir, KeepCount: 3})
	require.NoError(t, err)

	// Stagger mtimes so prune order is unambiguous
	var paths []string
	for i := 0; i < 3; i++ {
		path, err := sink.Write(makeTestFrame(byte(i * 50)))
		require.NoError(t, err)
		stamp := time.Now().Add(time.Duration(i-4) * time.Minute)
		require.NoError(t, os.Chtimes(path, stamp, stamp))
		paths = append(paths, path)
	}
	require.Equal(t, 3, countJPEGs(t, dir))

	newest, err := sink.Write(makeTestFrame(200))
	require.NoError(t, err)
	require.Equal(t, 3, countJPEGs(t, dir))

	// The oldest is gone, the newest survives
	_, err = os.Stat(paths[0])
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(newest)
	require.NoError(t, err)

	// Names are UUIDs, and no temp files are left behind
	base := strings.TrimSuffix(filepath.Base(newest), ".jpg")
	_, err = uuid.Parse(base)
	require.NoError(t, err)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, entry := range entries {
		require.False(t, strings.HasSuffix(entry.Name(), ".tmp"))
	}
	require.Equal(t, int64(4), sink.Writes())
}

func TestSinkLowDiskSpace(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewSink(logs.NewTestingLog(t), SinkConfig{Dir: dir, MinFreeBytes: 1 << 62})
	require.NoError(t, err)

	_, err = sink.Write(makeTestFrame(1))
	require.ErrorIs(t, err, ErrLowDiskSpace)
	require.Equal(t, 0, countJPEGs(t, dir))
	require.Equal(t, int64(0), sink.Writes())
}

func TestPollerSeesNewest(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, uuid.NewString()+".jpg")
	newer := filepath.Join(dir, uuid.NewString()+".jpg")
	require.NoError(t, os.WriteFile(old, []byte("a"), 0644))
	require.NoError(t, os.WriteFile(newer, []byte("b"), 0644))
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))

	var lock sync.Mutex
	var seen []string
	poller := NewPoller(logs.NewTestingLog(t), dir, 10*time.Millisecond)
	poller.OnFrame = func(path string, modTime time.Time) {
		lock.Lock()
		seen = append(seen, path)
		lock.Unlock()
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		poller.Run(ctx)
		close(done)
	}()

	waitSeen := func(n int) {
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			lock.Lock()
			have := len(seen)
			lock.Unlock()
			if have >= n {
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
		t.Fatalf("Poller never reported %v frames", n)
	}

	waitSeen(1)
	lock.Lock()
	require.Equal(t, newer, seen[0])
	lock.Unlock()

	// Touch the old file into the future and it becomes the newest
	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(old, future, future))
	waitSeen(2)
	lock.Lock()
	require.Equal(t, old, seen[1])
	lock.Unlock()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Poller did not stop")
	}
}

func TestNewestEmptyDir(t *testing.T) {
	_, _, ok := Newest(t.TempDir())
	require.False(t, ok)
}
