// Package api serves the agent's local HTTP surface: the current control
// state, build information and, in dev mode, a switch for the simulated
// presence input.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/picron-io/picron-agent/internal/control"
	"github.com/picron-io/picron-agent/internal/httputil"
	"github.com/picron-io/picron-agent/internal/monitoring"
	"github.com/picron-io/picron-agent/internal/version"
)

// StateSource provides the control loop snapshot.
type StateSource interface {
	State() control.State
}

// PresenceSwitch drives a software presence input.
type PresenceSwitch interface {
	Set(active bool)
	Read() bool
}

// Server serves the agent's HTTP status API from a StateSource and,
// when a presence switch is supplied, the presence simulation routes.
type Server struct {
	state StateSource
	sim   PresenceSwitch
}

// NewServer returns a Server. sim may be nil, in which case the simulation
// routes are not mounted.
func NewServer(state StateSource, sim PresenceSwitch) *Server {
	return &Server{state: state, sim: sim}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// LoggingMiddleware logs method, path, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logger.Debug().
			Str("stage", "api").
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", lrw.statusCode).
			Float64("ms", float64(time.Since(start).Nanoseconds())/1e6).
			Msg("request")
	})
}

// ServeMux returns a mux with every route mounted. Callers may add further
// routes, such as the journal's debug pages.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/state", s.showState)
	mux.HandleFunc("/api/version", s.showVersion)
	mux.HandleFunc("/healthz", s.health)
	if s.sim != nil {
		mux.HandleFunc("/api/sim/presence", s.simPresence)
	}
	return mux
}

func (s *Server) showState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, s.state.State())
}

func (s *Server) showVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, version.Fields())
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, map[string]string{"status": "ok"})
}

type presenceRequest struct {
	Present *bool `json:"present"`
}

func (s *Server) simPresence(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
	case http.MethodPost:
		var req presenceRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1024)).Decode(&req); err != nil {
			httputil.BadRequest(w, "invalid JSON body")
			return
		}
		if req.Present == nil {
			httputil.BadRequest(w, `"present" is required`)
			return
		}
		s.sim.Set(*req.Present)
		monitoring.Logger.Info().Str("stage", "api").Bool("present", *req.Present).Msg("simulated presence changed")
	default:
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, map[string]bool{"present": s.sim.Read()})
}
