// Package api implements the public request surface: the create/attach
// command entry and the streaming attach upgrade endpoint, wiring the
// session registry and streaming control plane together behind plain
// net/http handlers in the teacher's JSON-response-helper style.
package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/joptimus/f1-race-replay/internal/config"
	"github.com/joptimus/f1-race-replay/internal/httputil"
	"github.com/joptimus/f1-race-replay/internal/monitoring"
	"github.com/joptimus/f1-race-replay/internal/session"
	"github.com/joptimus/f1-race-replay/internal/stream"
	"github.com/joptimus/f1-race-replay/internal/telemetry"
	"github.com/joptimus/f1-race-replay/internal/timeutil"
)

// ANSI escape codes for the request log line, carried from the teacher's
// own LoggingMiddleware.
const (
	colorCyan      = "\033[36m"
	colorReset     = "\033[0m"
	colorYellow    = "\033[33m"
	colorBoldGreen = "\033[1;32m"
	colorBoldRed   = "\033[1;31m"
)

var validSessionTypes = map[string]bool{"R": true, "Q": true, "S": true, "SQ": true}

type createSessionRequest struct {
	Year        int    `json:"year"`
	Round       int    `json:"round"`
	SessionType string `json:"session_type"`
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
}

// Server is the public request surface: POST /sessions to create or
// attach to a build, GET /replay/{session_id} to upgrade to the streaming
// duplex channel.
type Server struct {
	registry *session.Registry
	build    session.BuildFunc
	cfg      *config.TuningConfig
	clock    timeutil.Clock
	upgrader websocket.Upgrader

	// mux is built lazily on first Routes() call and cached, so repeated
	// calls (and any caller that mounts additional routes via the
	// returned *http.ServeMux before the server starts) see the same mux.
	mux *http.ServeMux
}

// NewServer wires registry, build, cfg, and clock into a Server ready to
// mount via Routes.
func NewServer(registry *session.Registry, build session.BuildFunc, cfg *config.TuningConfig, clock timeutil.Clock) *Server {
	if cfg == nil {
		cfg = config.EmptyTuningConfig()
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Server{
		registry: registry,
		build:    build,
		cfg:      cfg,
		clock:    clock,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Routes returns the mounted handler for the public surface. The
// underlying mux is built once and cached; subsequent calls return the
// same instance.
func (s *Server) Routes() http.Handler {
	if s.mux != nil {
		return s.mux
	}
	s.mux = http.NewServeMux()
	s.mux.HandleFunc("POST /sessions", s.handleCreateSession)
	s.mux.HandleFunc("GET /replay/{session_id}", s.handleReplayAttach)
	return s.mux
}

// loggingResponseWriter captures the status code written so
// LoggingMiddleware can log it after the handler returns.
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

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, status, and duration for every
// request, colorized the same way as the teacher's HTTP surface.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)

		portPrefix := ""
		if host := r.Host; host != "" {
			if _, p, err := net.SplitHostPort(host); err == nil {
				portPrefix = ":" + p
			}
		}
		requestTarget := fmt.Sprintf("%s%s", portPrefix, r.RequestURI)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, requestTarget, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// handleCreateSession is the create/attach command entry: it always
// starts (or attaches to) a build and returns the session id immediately,
// carrying no loading status of its own — clients learn build progress by
// attaching to /replay/{session_id}.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, "invalid request body")
		return
	}
	if !validSessionTypes[req.SessionType] {
		httputil.BadRequest(w, fmt.Sprintf("invalid session_type %q", req.SessionType))
		return
	}

	key := telemetry.SessionKey{Year: req.Year, Round: req.Round, SessionType: req.SessionType}
	s.registry.GetOrCreate(r.Context(), key, s.build)

	httputil.WriteJSONOK(w, createSessionResponse{SessionID: key.ID()})
}

// handleReplayAttach upgrades to the duplex channel and hands it to a new
// Attachment. A session id with no matching record still upgrades (the
// protocol-level session_not_found error frame is an Attachment concern,
// sent after the channel opens) so the client sees a clean close instead
// of a bare HTTP error.
func (s *Server) handleReplayAttach(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		monitoring.Logf("api: websocket upgrade failed: %v", err)
		return
	}

	rec, _ := s.registry.GetByID(sessionID)
	attachment := stream.NewAttachment(conn, rec, s.cfg, s.clock)

	if err := attachment.Run(r.Context()); err != nil {
		monitoring.Logf("api: attachment for session %s ended: %v", sessionID, err)
	}
}
