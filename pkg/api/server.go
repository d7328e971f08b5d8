package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/studsec/instancer/pkg/catalog"
	"github.com/studsec/instancer/pkg/config"
	"github.com/studsec/instancer/pkg/lifecycle"
	"github.com/studsec/instancer/pkg/log"
	"github.com/studsec/instancer/pkg/metrics"
	"github.com/studsec/instancer/pkg/reconciler"
	"github.com/studsec/instancer/pkg/registry"
)

// segmentPattern validates user and challenge path segments
var segmentPattern = regexp.MustCompile(`^[a-z0-9_\-]*$`)

// Server maps the three instancer routes onto the lifecycle engine and the
// reconciler. Every handler probes before acting, so responses reflect
// observed reality rather than stale durable state.
type Server struct {
	cfg        config.APIConfig
	catalog    catalog.Source
	engine     *lifecycle.Engine
	reconciler *reconciler.Reconciler
	registry   *registry.Registry
	logger     zerolog.Logger
	httpServer *http.Server
}

// NewServer wires the API server
func NewServer(cfg config.APIConfig, cat catalog.Source, engine *lifecycle.Engine, rec *reconciler.Reconciler, reg *registry.Registry) *Server {
	s := &Server{
		cfg:        cfg,
		catalog:    cat,
		engine:     engine,
		reconciler: rec,
		registry:   reg,
		logger:     log.WithComponent("api"),
	}

	mux := http.NewServeMux()
	mux.Handle("GET /start/{user_id}/{service_name}", s.instrument("start", s.handleStart))
	mux.Handle("GET /stop/{user_id}/{service_name}", s.instrument("stop", s.handleStop))
	mux.Handle("GET /status/{user_id}/{service_name}", s.instrument("status", s.handleStatus))
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.IP, cfg.Port),
		Handler: mux,
	}
	return s
}

// Handler exposes the routing table, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe blocks serving requests until Shutdown
func (s *Server) ListenAndServe() error {
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("API listening")
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// instrument wraps a lifecycle handler with auth, metrics and the
// last-resort panic boundary
func (s *Server) instrument(route string, handler func(http.ResponseWriter, *http.Request)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error().
					Str("route", route).
					Interface("panic", rec).
					Bytes("stack", debug.Stack()).
					Msg("Handler panicked")
				s.writeInternalError(sw, route)
			}
			timer.ObserveDurationVec(metrics.APIRequestDuration, route)
			metrics.APIRequestsTotal.WithLabelValues(route, strconv.Itoa(sw.status)).Inc()
		}()

		if !s.authenticate(r) {
			sw.Header().Set("WWW-Authenticate", `Basic realm="instancer"`)
			writeJSON(sw, http.StatusUnauthorized, errorEnvelope{Detail: "Incorrect username or password"})
			return
		}

		handler(sw, r)
	})
}

// authenticate checks HTTP Basic credentials against the shared credential
func (s *Server) authenticate(r *http.Request) bool {
	username, password, ok := r.BasicAuth()
	if !ok {
		return false
	}
	userMatch := subtle.ConstantTimeCompare([]byte(username), []byte(s.cfg.Username)) == 1
	passMatch := subtle.ConstantTimeCompare([]byte(password), []byte(s.cfg.Password)) == 1
	return userMatch && passMatch
}

// writeInternalError shapes the catch-all response per route
func (s *Server) writeInternalError(w http.ResponseWriter, route string) {
	if route == "status" {
		writeJSON(w, http.StatusOK, statusResponse{State: "failed", Reason: "something went wrong"})
		return
	}
	writeJSON(w, http.StatusOK, message("something went wrong"))
}

// errorEnvelope is the 4xx response body
type errorEnvelope struct {
	Detail string `json:"detail"`
}

// statusResponse is the /status response body
type statusResponse struct {
	State  string `json:"state"`
	URL    string `json:"url,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// message shapes the single-element array bodies of /start and /stop
func message(s string) []string {
	return []string{s}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger := log.WithComponent("api")
		logger.Error().Err(err).Msg("Failed to encode response")
	}
}

// statusWriter remembers the response code for metrics
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// probeDeadline bounds the inline reconcile every handler performs
const probeDeadline = 15 * time.Second
