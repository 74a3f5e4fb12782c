// Package framedir publishes frames as JPEG files in a directory, for
// consumers that can only watch a filesystem: legacy NVRs, kiosk image
// viewers, rsync jobs. The directory is bounded: old frames are pruned as
// new ones land.
package framedir

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"
	"time"

	"github.com/cyclopcam/livefeed/server/feed"
	"github.com/cyclopcam/logs"
	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

// ErrLowDiskSpace means the filesystem holding the frame directory is below
// the configured free space floor, so the frame was not written.
var ErrLowDiskSpace = errors.New("Low disk space in frame directory")

type SinkConfig struct {
	Dir          string // Directory that receives the JPEGs
	KeepCount    int    // Keep only the newest KeepCount frames
	Quality      int    // JPEG quality
	MinFreeBytes int64  // Refuse to write when free space drops below this
}

func (c *SinkConfig) ApplyDefaults() {
	if c.KeepCount <= 0 {
		c.KeepCount = 20
	}
	if c.Quality <= 0 {
		c.Quality = 85
	}
	if c.MinFreeBytes <= 0 {
		c.MinFreeBytes = 256 * 1024 * 1024
	}
}

type Sink struct {
	log    logs.Log
	cfg    SinkConfig
	writes atomic.Int64

	lastSpaceLogTime time.Time
}

func NewSink(logger logs.Log, cfg SinkConfig) (*Sink, error) {
	cfg.ApplyDefaults()
	if err := os.MkdirAll(cfg.Dir, 0777); err != nil {
		return nil, err
	}
	return &Sink{
		log: logs.NewPrefixLogger(logger, "FrameDir"),
		cfg: cfg,
	}, nil
}

// Write encodes the frame and lands it in the directory.
func (s *Sink) Write(frame *feed.Frame) (string, error) {
	jpg, err := frame.JPEG(s.cfg.Quality)
	if err != nil {
		return "", err
	}
	return s.WriteJPEG(jpg)
}

// WriteJPEG lands an already-compressed frame under a fresh UUID name. The
// file appears atomically: we write to a temp name and rename, so a watcher
// never sees a half-written JPEG.
func (s *Sink) WriteJPEG(jpg []byte) (string, error) {
	if free, err := freeBytes(s.cfg.Dir); err == nil && free < s.cfg.MinFreeBytes {
		now := time.Now()
		if now.Sub(s.lastSpaceLogTime) > 60*time.Second {
			s.log.Warnf("Only %v MB free in %v. Not writing frames", free/(1024*1024), s.cfg.Dir)
			s.lastSpaceLogTime = now
		}
		return "", ErrLowDiskSpace
	}

	final := filepath.Join(s.cfg.Dir, uuid.NewString()+".jpg")
	tempFile := final + ".tmp"
	if err := os.WriteFile(tempFile, jpg, 0644); err != nil {
		return "", err
	}
	if err := os.Rename(tempFile, final); err != nil {
		os.Remove(tempFile)
		return "", err
	}
	s.writes.Add(1)

	if err := s.prune(); err != nil {
		s.log.Warnf("Failed to prune %v: %v", s.cfg.Dir, err)
	}
	return final, nil
}

// Writes is the number of frames landed since startup.
func (s *Sink) Writes() int64 {
	return s.writes.Load()
}

// prune removes the oldest JPEGs until only KeepCount remain.
func (s *Sink) prune() error {
	frames, err := listFrames(s.cfg.Dir)
	if err != nil {
		return err
	}
	if len(frames) <= s.cfg.KeepCount {
		return nil
	}
	// Newest first
	sort.Slice(frames, func(i, j int) bool { return frames[i].modTime.After(frames[j].modTime) })
	var firstErr error
	for _, old := range frames[s.cfg.KeepCount:] {
		if err := os.Remove(old.path); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

type frameFile struct {
	path    string
	modTime time.Time
}

func listFrames(dir string) ([]frameFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	frames := []frameFile{}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".jpg" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		frames = append(frames, frameFile{
			path:    filepath.Join(dir, entry.Name()),
			modTime: info.ModTime(),
		})
	}
	return frames, nil
}

func freeBytes(dir string) (int64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(dir, &st); err != nil {
		return 0, err
	}
	return int64(st.Bavail) * int64(st.Bsize), nil
}
