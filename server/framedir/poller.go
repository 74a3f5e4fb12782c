package framedir

import (
	"context"
	"time"

	"github.com/cyclopcam/logs"
)

// Poller watches a frame directory and fires OnFrame whenever the newest
// JPEG changes. It is the consumer side of the Sink, for processes that
// have nothing better than a filesystem in common with us.
type Poller struct {
	OnFrame func(path string, modTime time.Time)

	log      logs.Log
	dir      string
	interval time.Duration

	lastPath string
	lastMod  time.Time
}

func NewPoller(logger logs.Log, dir string, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	return &Poller{
		log:      logs.NewPrefixLogger(logger, "FramePoller"),
		dir:      dir,
		interval: interval,
	}
}

// Run polls until the context is cancelled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll()
		}
	}
}

func (p *Poller) poll() {
	path, modTime, ok := Newest(p.dir)
	if !ok {
		return
	}
	if path == p.lastPath && modTime.Equal(p.lastMod) {
		return
	}
	p.lastPath = path
	p.lastMod = modTime
	if p.OnFrame != nil {
		p.OnFrame(path, modTime)
	}
}

// Newest returns the most recently modified JPEG in dir.
func Newest(dir string) (path string, modTime time.Time, ok bool) {
	frames, err := listFrames(dir)
	if err != nil || len(frames) == 0 {
		return "", time.Time{}, false
	}
	newest := frames[0]
	for _, f := range frames[1:] {
		if f.modTime.After(newest.modTime) {
			newest = f
		}
	}
	return newest.path, newest.modTime, true
}
