// Package api is the engine's HTTP surface: health, metrics, the audit log,
// operator controls and the sync websocket.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/spyrothon/graphics-sub000/internal/events"
	"github.com/spyrothon/graphics-sub000/internal/obs"
	"github.com/spyrothon/graphics-sub000/internal/storage"
	"github.com/spyrothon/graphics-sub000/internal/timing"
	"github.com/spyrothon/graphics-sub000/internal/transitions"
)

// Engine is the control surface the handlers drive. *orchestrator.Service
// implements it.
type Engine interface {
	TransitionSet(ctx context.Context, id string) (transitions.TransitionSet, error)
	ExecuteSet(ctx context.Context, setID, originator string) error
	ResetSet(ctx context.Context, setID string) (transitions.TransitionSet, error)
	Schedule(ctx context.Context) (storage.Schedule, error)
	TransitionTo(ctx context.Context, entryID, originator string) error
	Activity(ctx context.Context, id string) (timing.Activity, error)
	Act(ctx context.Context, id string, action timing.Action, participantID string) (timing.Activity, error)
	Elapsed(ctx context.Context, id, participantID string, asOf time.Time) (float64, error)
	Actions(ctx context.Context, id string) (timing.Actions, error)
	Now() time.Time
}

// BusyState reports which control clients are running a sequence.
// *broadcast.Tracker implements it.
type BusyState interface {
	Busy() bool
	Originators() []string
}

// ReadyCheck is one dependency reported by /ready. An optional check that
// fails degrades the response without failing it.
type ReadyCheck struct {
	Name     string
	Optional bool
	OK       func() bool
}

// Options configures a Server.
type Options struct {
	Engine  Engine
	Events  *events.Log
	Busy    BusyState
	Sync    http.Handler // sync websocket, mounted at /ws
	Metrics http.Handler // mounted at /metrics

	// Device backs the /device routes when set.
	Device obs.Caller

	// Lifetime bounds sequences started over HTTP. They outlive the request
	// that started them and stop only when Lifetime is done.
	Lifetime context.Context

	// Middleware wraps every route, outermost first.
	Middleware []func(http.Handler) http.Handler

	Ready  []ReadyCheck
	Logger zerolog.Logger
}

// Server routes HTTP requests to the engine.
type Server struct {
	opts   Options
	log    zerolog.Logger
	router chi.Router
}

// NewServer builds the router.
func NewServer(opts Options) *Server {
	s := &Server{opts: opts, log: opts.Logger}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(s.requestLogger)
	r.Use(chimw.Recoverer)
	for _, mw := range opts.Middleware {
		r.Use(mw)
	}

	r.Get("/health", healthHandler)
	r.Get("/ready", s.readyHandler)
	r.Get("/events", s.eventsHandler)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}
	if opts.Sync != nil {
		r.Method(http.MethodGet, "/ws", opts.Sync)
	}
	r.Get("/busy", s.busyHandler)

	r.Route("/transition-sets/{id}", func(r chi.Router) {
		r.Get("/", s.getTransitionSet)
		r.Post("/execute", s.executeTransitionSet)
		r.Post("/reset", s.resetTransitionSet)
	})
	r.Get("/schedule", s.getSchedule)
	r.Post("/schedule/transition", s.transitionSchedule)
	r.Route("/activities/{id}", func(r chi.Router) {
		r.Get("/", s.getActivity)
		r.Get("/elapsed", s.getElapsed)
		r.Get("/actions", s.getActions)
		r.Post("/actions", s.actOnActivity)
	})
	if opts.Device != nil {
		r.Get("/device/scenes", s.deviceScenes)
		r.Get("/device/transitions", s.deviceTransitions)
		r.Post("/device/inputs/{name}/volume", s.setInputVolume)
	}

	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", chimw.GetReqID(r.Context())).
			Msg("http request")
	})
}

type HealthResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Hostname  string `json:"hostname"`
	Timestamp string `json:"ts"`
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	host, _ := os.Hostname()
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Service:   "liveserver",
		Hostname:  host,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
}

type CheckStatus struct {
	Status   string `json:"status"`
	Optional bool   `json:"optional,omitempty"`
}

type ReadinessResponse struct {
	Ready  bool                   `json:"ready"`
	Checks map[string]CheckStatus `json:"checks"`
}

func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	resp := ReadinessResponse{Ready: true, Checks: make(map[string]CheckStatus, len(s.opts.Ready))}
	for _, c := range s.opts.Ready {
		status := "ok"
		if !c.OK() {
			status = "unavailable"
			if !c.Optional {
				resp.Ready = false
			}
		}
		resp.Checks[c.Name] = CheckStatus{Status: status, Optional: c.Optional}
	}

	code := http.StatusOK
	if !resp.Ready {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func (s *Server) eventsHandler(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	rows, err := s.opts.Events.History(r.Context(), limit)
	if err != nil {
		s.log.Warn().Err(err).Msg("event history unavailable, serving buffer")
		rows = s.opts.Events.Recent(limit)
	}
	if rows == nil {
		rows = []events.Event{}
	}
	writeJSON(w, http.StatusOK, rows)
}

type BusyResponse struct {
	Busy        bool     `json:"busy"`
	Originators []string `json:"originators"`
}

func (s *Server) busyHandler(w http.ResponseWriter, r *http.Request) {
	resp := BusyResponse{Originators: []string{}}
	if s.opts.Busy != nil {
		resp.Busy = s.opts.Busy.Busy()
		if o := s.opts.Busy.Originators(); o != nil {
			resp.Originators = o
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// ErrorResponse is the body of every non-2xx operator response.
type ErrorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, ErrorResponse{OK: false, Error: msg})
}
