package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/cyclopcam/livefeed/server/annotate"
	"github.com/cyclopcam/livefeed/server/config"
	"github.com/cyclopcam/livefeed/server/eventdb"
	"github.com/cyclopcam/livefeed/server/feed"
	"github.com/cyclopcam/livefeed/server/framedir"
	"github.com/cyclopcam/livefeed/server/streamer"
	"github.com/cyclopcam/logs"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

// Server owns the feed, the frame pump, and the HTTP API.
type Server struct {
	Log logs.Log

	// ShutdownComplete delivers the terminal error once shutdown is done.
	// nil means a clean stop (e.g. Ctrl+C). A *feed.MaxRetriesExceeded means
	// the feed gave up, and the process should exit non-zero.
	ShutdownComplete chan error

	cfg       *config.Config
	feed      *feed.Feed
	annotator *annotate.Annotator // nil when annotation is disabled
	hub       *streamer.Hub
	frameDir  *framedir.Sink // nil when no frames directory is configured
	events    *eventdb.EventDB

	httpServer *http.Server
	httpRouter *httprouter.Router
	wsUpgrader websocket.Upgrader
	signalIn   chan os.Signal

	// Most recent JPEG produced by the pump, for /api/feed/latest.jpg
	latestLock sync.Mutex
	latestJPEG []byte
	latestSeq  int64
	latestAt   time.Time

	cancel          context.CancelFunc
	pumpStopped     chan struct{}
	shutdownStarted atomic.Bool
	started         atomic.Bool
	lastPumpLogTime time.Time
}

func NewServer(logger logs.Log, cfg *config.Config) (*Server, error) {
	events, err := eventdb.NewEventDB(logger, cfg.EventDB)
	if err != nil {
		return nil, err
	}

	fd, err := feed.NewFeed(logger, feed.Config{
		URLs:          cfg.Feed.URLs,
		Width:         cfg.Feed.Width,
		Height:        cfg.Feed.Height,
		FrameTimeout:  time.Duration(cfg.Feed.FrameTimeout),
		FreezeTimeout: time.Duration(cfg.Feed.FreezeTimeout),
		HashEveryNth:  cfg.Feed.HashEveryNth,
		MaxRetries:    cfg.Feed.MaxRetries,
		RetryDelay:    time.Duration(cfg.Feed.RetryDelay),
		RetryDelayMax: time.Duration(cfg.Feed.RetryDelayMax),
		CycleTime:     time.Duration(cfg.Feed.CycleTime),
		Shuffle:       cfg.Feed.Shuffle,
		FFmpeg:        cfg.Feed.FFmpeg,
	})
	if err != nil {
		return nil, err
	}

	s := &Server{
		Log:              logger,
		ShutdownComplete: make(chan error, 1),
		cfg:              cfg,
		feed:             fd,
		hub:              streamer.NewHub(logger),
		events:           events,
		pumpStopped:      make(chan struct{}),
	}

	if *cfg.Annotate.Enabled && cfg.Annotate.DetectorURL != "" {
		opts := annotate.DefaultOptions()
		opts.TargetClasses = cfg.Annotate.TargetClasses
		opts.DrawLabels = *cfg.Annotate.DrawLabels
		opts.ConfidenceThreshold = *cfg.Annotate.ConfidenceThreshold
		opts.EveryNth = cfg.Annotate.EveryNth
		opts.JPEGQuality = cfg.Output.Quality
		// Validate() has already checked the color
		opts.BoxColor, _ = config.ParseHexColor(cfg.Annotate.BoxColor)
		detector := annotate.NewHTTPDetector(cfg.Annotate.DetectorURL, 10*time.Second)
		s.annotator = annotate.NewAnnotator(logger, detector, opts)
	}

	if cfg.Output.FramesDir != "" {
		s.frameDir, err = framedir.NewSink(logger, framedir.SinkConfig{
			Dir:          cfg.Output.FramesDir,
			KeepCount:    cfg.Output.Keep,
			Quality:      cfg.Output.Quality,
			MinFreeBytes: cfg.Output.MinFreeMB * 1024 * 1024,
		})
		if err != nil {
			return nil, err
		}
	}

	fd.OnEvent = s.onFeedEvent

	s.setupHttpRoutes()
	return s, nil
}

// Start launches the feed and the pump. A decoder binary that doesn't exist
// is a configuration error, so we check for it here rather than letting the
// feed burn through its retries.
func (s *Server) Start() error {
	if !s.started.CompareAndSwap(false, true) {
		return nil
	}
	if err := feed.CheckDecoder(s.cfg.Feed.FFmpeg); err != nil {
		return err
	}
	ctx := context.Background()
	ctx, s.cancel = context.WithCancel(ctx)
	if err := s.feed.Start(ctx); err != nil {
		return err
	}
	go s.runPump(ctx)
	return nil
}

// ListenHTTP blocks until the HTTP server is shut down.
// addr example: ":8093"
func (s *Server) ListenHTTP(addr string) error {
	if s.shutdownStarted.Load() {
		return nil
	}
	s.Log.Infof("Listening on %v", addr)
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.httpRouter,
	}
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) ListenForKillSignals() {
	s.signalIn = make(chan os.Signal, 1)
	signal.Notify(s.signalIn, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig, ok := <-s.signalIn
		if ok {
			s.Log.Infof("Received OS signal '%v'. Shutting down", sig.String())
			s.Shutdown(nil)
		}
	}()
}

// Shutdown stops everything in dependency order: the feed first so no new
// frames arrive, then the pump, then the fanout and HTTP surfaces. Safe to
// call more than once; only the first call does the work.
func (s *Server) Shutdown(terminalErr error) {
	if !s.shutdownStarted.CompareAndSwap(false, true) {
		return
	}
	s.Log.Infof("Shutdown starting")
	if s.signalIn != nil {
		signal.Stop(s.signalIn)
		close(s.signalIn)
	}
	if s.cancel != nil {
		s.cancel()
		wg := sync.WaitGroup{}
		s.feed.Close(&wg)
		wg.Wait()
		<-s.pumpStopped
	}
	s.hub.Close()
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := s.httpServer.Shutdown(ctx)
		cancel()
		if err != nil {
			s.Log.Warnf("HTTP server shutdown: %v", err)
		}
	}
	s.Log.Infof("Shutdown complete")
	s.ShutdownComplete <- terminalErr
	close(s.ShutdownComplete)
}

// onFeedEvent is called from the acquisition goroutine for every lifecycle
// event. The feed has already logged it; our job is the permanent record,
// and noticing when the feed has given up for good.
func (s *Server) onFeedEvent(ev feed.Event) {
	detail := &eventdb.EventDetail{
		URL:     ev.URL,
		Attempt: ev.Attempt,
		Message: ev.Detail,
		DelayMS: ev.Delay.Milliseconds(),
	}
	if err := s.events.AddEvent(eventdb.EventType(ev.Type), detail); err != nil {
		s.Log.Warnf("Failed to record '%v' event: %v", ev.Type, err)
	}
	if ev.Type == feed.EventTerminated {
		// Shutdown waits for the acquisition goroutine, which is the one
		// calling us right now.
		go s.Shutdown(s.feed.Err())
	}
}

func (s *Server) setLatest(jpg []byte, seq int64, at time.Time) {
	s.latestLock.Lock()
	s.latestJPEG = jpg
	s.latestSeq = seq
	s.latestAt = at
	s.latestLock.Unlock()
}

// LatestJPEG returns the most recent compressed frame, or nil if the pump
// hasn't produced one yet.
func (s *Server) LatestJPEG() (jpg []byte, seq int64, at time.Time) {
	s.latestLock.Lock()
	defer s.latestLock.Unlock()
	return s.latestJPEG, s.latestSeq, s.latestAt
}
