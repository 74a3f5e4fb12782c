// Package feed acquires frames from a single video source by driving an
// external ffmpeg process, and exposes the latest frame to any number of
// consumers. It detects dead, truncated and frozen streams, and restarts the
// decoder with exponential backoff until a retry ceiling.
package feed

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyclopcam/logs"
)

// State of the acquisition loop.
type State int32

const (
	StateStarting State = iota
	StateRunning
	StateFailed
	StateBackoff
	StateTerminated // Retry ceiling reached. Terminal.
	StateStopped    // Cancelled from outside. Terminal.
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateFailed:
		return "failed"
	case StateBackoff:
		return "backoff"
	case StateTerminated:
		return "terminated"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// Config is everything the acquisition loop needs to know.
type Config struct {
	URLs          []string      // Source URLs. One is used at a time.
	Width         int           // Decoder output width
	Height        int           // Decoder output height
	FrameTimeout  time.Duration // Max wait for one frame, and the stall threshold
	FreezeTimeout time.Duration // Max time content may stay unchanged
	HashEveryNth  int           // Hash every Nth frame for freeze detection (1 = all)
	MaxRetries    int           // Consecutive failures before giving up (0 = default, negative = no ceiling)
	RetryDelay    time.Duration // Backoff base
	RetryDelayMax time.Duration // Backoff cap
	CycleTime     time.Duration // Rotate to the next URL after this long (0 = never)
	Shuffle       bool          // Pick rotation URLs at random instead of round-robin
	FFmpeg        string        // Decoder binary (name or path)
}

func (c *Config) ApplyDefaults() {
	if c.FrameTimeout <= 0 {
		c.FrameTimeout = 5 * time.Second
	}
	if c.FreezeTimeout <= 0 {
		c.FreezeTimeout = 10 * time.Second
	}
	if c.HashEveryNth < 1 {
		c.HashEveryNth = 1
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 10000
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 3 * time.Second
	}
	if c.RetryDelayMax <= 0 {
		c.RetryDelayMax = 60 * time.Second
	}
	if c.FFmpeg == "" {
		c.FFmpeg = "ffmpeg"
	}
}

func (c *Config) Validate() error {
	if len(c.URLs) == 0 {
		return fmt.Errorf("No source URL configured")
	}
	for _, u := range c.URLs {
		if u == "" {
			return fmt.Errorf("Empty source URL")
		}
	}
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("Invalid frame dimensions %vx%v", c.Width, c.Height)
	}
	return nil
}

// Feed is one acquired video source.
type Feed struct {
	Log logs.Log

	// OnEvent, if set before Start, receives every lifecycle event. It is
	// called from the acquisition goroutine, so it must be quick.
	OnEvent func(ev Event)

	cfg     Config
	handoff Handoff
	stats   *feedStats
	retries atomic.Int64
	state   atomic.Int32
	urlIdx  int

	lock       sync.Mutex
	health     *health
	lastErr    error
	stderrTail string
	currentURL string

	cancel  context.CancelFunc
	stopped chan struct{}
}

func NewFeed(logger logs.Log, cfg Config) (*Feed, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Feed{
		Log:     logs.NewPrefixLogger(logger, "Feed"),
		cfg:     cfg,
		stats:   newFeedStats(),
		stopped: make(chan struct{}),
	}, nil
}

// Start launches the acquisition loop. A decoder that cannot launch is
// handled by the loop itself (StartError, backoff, retry ceiling), so Start
// only fails on programming errors. Callers that want to catch a missing
// ffmpeg up front run CheckDecoder first.
func (f *Feed) Start(ctx context.Context) error {
	if f.cancel != nil {
		return fmt.Errorf("Feed already started")
	}
	ctx, f.cancel = context.WithCancel(ctx)
	go f.run(ctx)
	return nil
}

// Close cancels the loop and waits for it to exit. The loop's blocking
// points (read wait, backoff sleep) all honor cancellation, so this returns
// well within a second.
func (f *Feed) Close(wg *sync.WaitGroup) {
	if wg != nil {
		wg.Add(1)
	}
	go func() {
		if f.cancel != nil {
			f.cancel()
		}
		<-f.stopped
		if wg != nil {
			wg.Done()
		}
	}()
}

// Stopped is closed when the acquisition loop has fully exited, for any
// reason. After that, Err() says whether the exit was terminal.
func (f *Feed) Stopped() <-chan struct{} {
	return f.stopped
}

// Err returns the terminal error (*MaxRetriesExceeded) if the loop gave up,
// or nil after a clean stop. Valid once Stopped() is closed.
func (f *Feed) Err() error {
	if State(f.state.Load()) != StateTerminated {
		return nil
	}
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.lastErr
}

// TakeLatest returns a private clone of the newest frame, or nil if no frame
// has arrived yet.
func (f *Feed) TakeLatest() *Frame {
	return f.handoff.TakeLatest()
}

// TakeLatestIfNewer returns a clone of the newest frame only if its sequence
// number is greater than seen.
func (f *Feed) TakeLatestIfNewer(seen int64) *Frame {
	return f.handoff.TakeLatestIfNewer(seen)
}

// State returns the loop's current state.
func (f *Feed) State() State {
	return State(f.state.Load())
}

// Health returns a snapshot of the stall/freeze tracker for the current
// decoder generation.
func (f *Feed) Health() HealthState {
	f.lock.Lock()
	hl := f.health
	f.lock.Unlock()
	if hl == nil {
		return HealthState{}
	}
	return hl.State(time.Now())
}

// Stats returns a snapshot of the running counters.
func (f *Feed) Stats() StatsSnapshot {
	return f.stats.snapshot(f.handoff.Dropped())
}

// Info describes the feed for the API.
type Info struct {
	URL     string `json:"url"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	State   string `json:"state"`
	Retries int64  `json:"retries"`
	LastErr string `json:"lastError,omitempty"`
}

func (f *Feed) Info() Info {
	f.lock.Lock()
	url := f.currentURL
	lastErr := ""
	if f.lastErr != nil {
		lastErr = f.lastErr.Error()
	}
	f.lock.Unlock()
	if url == "" {
		url = f.cfg.URLs[0]
	}
	return Info{
		URL:     url,
		Width:   f.cfg.Width,
		Height:  f.cfg.Height,
		State:   f.State().String(),
		Retries: f.retries.Load(),
		LastErr: lastErr,
	}
}

func (f *Feed) setState(s State) {
	f.state.Store(int32(s))
}

func (f *Feed) setHealth(h *health) {
	f.lock.Lock()
	f.health = h
	f.lock.Unlock()
}

func (f *Feed) setLastErr(err error) {
	f.lock.Lock()
	f.lastErr = err
	f.lock.Unlock()
}

func (f *Feed) setStderr(tail string) {
	f.lock.Lock()
	f.stderrTail = tail
	f.lock.Unlock()
}

func (f *Feed) lastStderr() string {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.stderrTail
}

func (f *Feed) setCurrentURL(url string) {
	f.lock.Lock()
	f.currentURL = url
	f.lock.Unlock()
}

func (f *Feed) emit(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	if f.OnEvent != nil {
		f.OnEvent(ev)
	}
}
