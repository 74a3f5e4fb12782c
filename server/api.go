package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/cyclopcam/livefeed/server/annotate"
	"github.com/cyclopcam/livefeed/server/eventdb"
	"github.com/cyclopcam/livefeed/server/streamer"
	"github.com/cyclopcam/www"
	"github.com/go-chi/httprate"
	"github.com/julienschmidt/httprouter"
)

func (s *Server) setupHttpRoutes() {
	router := httprouter.New()

	// latest.jpg is the one endpoint that people point curl loops and kiosk
	// screens at, so it gets a rate limit.
	limitLatest := httprate.Limit(20, time.Second, httprate.WithKeyFuncs(httprate.KeyByIP))

	www.Handle(s.Log, router, "GET", "/api/ping", s.httpPing)
	www.Handle(s.Log, router, "GET", "/api/feed/info", s.httpFeedInfo)
	www.Handle(s.Log, router, "GET", "/api/feed/health", s.httpFeedHealth)
	www.Handle(s.Log, router, "GET", "/api/feed/stats", s.httpFeedStats)
	www.Handle(s.Log, router, "GET", "/api/feed/detections", s.httpFeedDetections)
	www.Handle(s.Log, router, "GET", "/api/feed/latest.jpg", func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
		limitLatest(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s.httpFeedLatestJPEG(w, r, params)
		})).ServeHTTP(w, r)
	})
	www.Handle(s.Log, router, "GET", "/api/events", s.httpEventsRecent)
	www.Handle(s.Log, router, "GET", "/api/ws/feed", s.httpFeedWebSocket)

	s.httpRouter = router
}

func (s *Server) httpPing(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	www.SendOK(w)
}

func (s *Server) httpFeedInfo(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	www.SendJSON(w, s.feed.Info())
}

func (s *Server) httpFeedHealth(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	www.SendJSON(w, s.feed.Health())
}

func (s *Server) httpFeedStats(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	www.SendJSON(w, s.feed.Stats())
}

func (s *Server) httpFeedDetections(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	detections := []annotate.Detection{}
	if s.annotator != nil {
		detections = append(detections, s.annotator.Detections()...)
	}
	www.SendJSON(w, detections)
}

func (s *Server) httpFeedLatestJPEG(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	jpg, seq, at := s.LatestJPEG()
	if jpg == nil {
		www.Panic(http.StatusNotFound, "No frame received yet")
	}
	www.CacheNever(w)
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("X-Frame-Seq", strconv.FormatInt(seq, 10))
	w.Header().Set("X-Frame-Time", at.UTC().Format(time.RFC3339))
	w.Write(jpg)
}

// httpEventsRecent returns the newest events, or everything after ?since=<unix seconds>.
// ?limit=N caps the newest-first variant.
func (s *Server) httpEventsRecent(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	var events []*eventdb.Event
	var err error
	if since := www.QueryInt64(r, "since"); since != 0 {
		events, err = s.events.EventsSince(time.Unix(since, 0))
	} else {
		events, err = s.events.RecentEvents(www.QueryInt(r, "limit"))
	}
	www.Check(err)
	www.SendJSON(w, events)
}

func (s *Server) httpFeedWebSocket(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Log.Errorf("Websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()
	streamer.RunLiveStreamer(s.Log, conn, s.hub)
}
