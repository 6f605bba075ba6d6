// Package api is the HTTP intake surface: the portable rendition of
// the syscall boundary. PARSE_INTENT is POST /v1/intent and is the
// mandatory entry point for user-originated commands — no command logic
// lives outside the core.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sutraworks/sutra/pkg/api/apierr"
	"github.com/sutraworks/sutra/pkg/core"
	"github.com/sutraworks/sutra/pkg/executor"
)

const (
	defaultRateLimitWindow   = time.Minute
	defaultRateLimitRequests = 6000
	maxBodyBytes             = 64 << 10
)

type rateLimitEntry struct {
	windowStart time.Time
	count       int
}

// Server is the HTTP intake server.
type Server struct {
	exec  *executor.Executor
	clock core.Clock
	cfg   *core.Config
	log   *zap.Logger

	httpServer *http.Server
	extra      map[string]http.Handler

	rateLimitRequests int
	rateLimitWindow   time.Duration
	rateLimitMu       sync.Mutex
	rateLimitEntries  map[string]rateLimitEntry
}

// NewServer creates an API server. Extra handlers (the MCP surface)
// mount under their configured paths.
func NewServer(exec *executor.Executor, clock core.Clock, cfg *core.Config, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		exec:              exec,
		clock:             clock,
		cfg:               cfg,
		log:               log,
		extra:             make(map[string]http.Handler),
		rateLimitRequests: defaultRateLimitRequests,
		rateLimitWindow:   defaultRateLimitWindow,
		rateLimitEntries:  make(map[string]rateLimitEntry),
	}
}

// Mount attaches an extra handler under a path prefix.
func (s *Server) Mount(path string, h http.Handler) {
	s.extra[path] = h
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/v1/intent", s.limited(s.handleIntent))
	mux.HandleFunc("/v1/stroke", s.limited(s.handleStroke))
	mux.HandleFunc("/v1/sensor", s.limited(s.handleSensor))
	mux.HandleFunc("/v1/stats", s.limited(s.handleStats))
	mux.HandleFunc("/v1/history", s.limited(s.handleHistory))
	mux.HandleFunc("/v1/undo", s.limited(s.handleUndo))
	mux.HandleFunc("/v1/redo", s.limited(s.handleRedo))
	for path, h := range s.extra {
		mux.Handle(path, h)
		mux.Handle(path+"/", h)
	}
	return mux
}

// Serve blocks on the listener until the context is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.Server.HTTPAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http api listening", zap.String("addr", s.cfg.Server.HTTPAddr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"ok": true, "now_micros": s.clock.NowMicros()})
}

type intentRequest struct {
	Text string `json:"text"`
}

type intentResponse struct {
	OK         bool    `json:"ok"`
	Concept    string  `json:"concept"`
	Name       string  `json:"name,omitempty"`
	Confidence float32 `json:"confidence"`
	Stage      string  `json:"stage"`
	Handled    bool    `json:"handled"`
	Output     string  `json:"output,omitempty"`
}

// handleIntent is PARSE_INTENT: parse, broadcast, answer.
func (s *Server) handleIntent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		apierr.MethodNotAllowed(w)
		return
	}
	var req intentRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		apierr.BadRequest(w, apierr.CodeTextRequired, "text is required")
		return
	}

	res, out, err := s.exec.ExecuteText(req.Text, s.clock.NowMicros())
	if err != nil {
		apierr.FromError(w, err)
		return
	}
	writeJSON(w, intentResponse{
		OK:         true,
		Concept:    fmt.Sprintf("%#016x", uint64(res.Concept)),
		Name:       core.ConceptName(res.Concept),
		Confidence: res.Confidence,
		Stage:      res.Stage.String(),
		Handled:    out.Handled,
		Output:     out.Output(),
	})
}

type strokeRequest struct {
	Bits uint32 `json:"bits"`
}

func (s *Server) handleStroke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		apierr.MethodNotAllowed(w)
		return
	}
	var req strokeRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.Bits == 0 {
		apierr.BadRequest(w, apierr.CodeMalformedStroke, "bits is required")
		return
	}
	s.exec.OnRawStroke(req.Bits, s.clock.NowMicros())
	writeJSON(w, map[string]any{"ok": true})
}

type sensorRequest struct {
	ClassID    uint32  `json:"class_id"`
	Confidence float32 `json:"confidence"`
}

func (s *Server) handleSensor(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		apierr.MethodNotAllowed(w)
		return
	}
	var req sensorRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.Confidence < 0 || req.Confidence > 1 {
		apierr.BadRequest(w, apierr.CodeBadRequest, "confidence must be in [0,1]")
		return
	}
	s.exec.OnSensorDetection(req.ClassID, req.Confidence, s.clock.NowMicros())
	writeJSON(w, map[string]any{"ok": true})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		apierr.MethodNotAllowed(w)
		return
	}
	writeJSON(w, map[string]any{"ok": true, "stats": s.exec.Stats()})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		apierr.MethodNotAllowed(w)
		return
	}
	entries := s.exec.History()
	out := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		out = append(out, map[string]any{
			"stroke":    e.Stroke.RTFCRE(),
			"concept":   fmt.Sprintf("%#016x", uint64(e.Concept)),
			"name":      core.ConceptName(e.Concept),
			"timestamp": e.Timestamp,
			"undone":    e.Undone,
		})
	}
	writeJSON(w, map[string]any{"ok": true, "history": out})
}

func (s *Server) handleUndo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		apierr.MethodNotAllowed(w)
		return
	}
	c, ok := s.exec.Undo(s.clock.NowMicros())
	writeJSON(w, map[string]any{
		"ok":      true,
		"undone":  ok,
		"concept": fmt.Sprintf("%#016x", uint64(c)),
	})
}

func (s *Server) handleRedo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		apierr.MethodNotAllowed(w)
		return
	}
	c, ok := s.exec.Redo(s.clock.NowMicros())
	writeJSON(w, map[string]any{
		"ok":      true,
		"redone":  ok,
		"concept": fmt.Sprintf("%#016x", uint64(c)),
	})
}

// ---------------------------------------------------------------------------
// Plumbing
// ---------------------------------------------------------------------------

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		apierr.Internal(w, "read body")
		return false
	}
	if len(body) > maxBodyBytes {
		apierr.Write(w, http.StatusRequestEntityTooLarge, apierr.CodePayloadTooLarge, "payload too large")
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		apierr.BadRequest(w, apierr.CodeInvalidJSON, "invalid json")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// limited wraps a handler with per-client rate limiting.
func (s *Server) limited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.allow(clientKey(r)) {
			apierr.RateLimited(w)
			return
		}
		next(w, r)
	}
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// allow implements a fixed-window counter per client.
func (s *Server) allow(key string) bool {
	now := time.Now()

	s.rateLimitMu.Lock()
	defer s.rateLimitMu.Unlock()

	e := s.rateLimitEntries[key]
	if now.Sub(e.windowStart) > s.rateLimitWindow {
		e = rateLimitEntry{windowStart: now}
	}
	e.count++
	s.rateLimitEntries[key] = e

	// Opportunistic sweep keeps the table bounded.
	if len(s.rateLimitEntries) > 4096 {
		for k, v := range s.rateLimitEntries {
			if now.Sub(v.windowStart) > s.rateLimitWindow {
				delete(s.rateLimitEntries, k)
			}
		}
	}
	return e.count <= s.rateLimitRequests
}
