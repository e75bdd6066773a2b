package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"InterviewPrep/internal/backend"
	"InterviewPrep/internal/interview"
	"InterviewPrep/internal/keystore"
	"InterviewPrep/internal/session"
	"InterviewPrep/internal/storage"
)

// Connector probes a provider configuration
type Connector interface {
	TestConnection(ctx context.Context, cfg backend.Config) backend.ConnectionResult
}

// History is the durable record of interviews kept by the HTTP layer
type History interface {
	RecordStart(ctx context.Context, rec storage.SessionRecord) error
	RecordTranscript(ctx context.Context, id string, status session.Status, messages []session.Message) error
	RecordEvaluation(ctx context.Context, id string, score float64, evaluation any, messages []session.Message) error
	ListSessions(ctx context.Context, limit int) ([]storage.SessionRecord, error)
	GetSession(ctx context.Context, id string) (*storage.SessionRecord, error)
}

// Settings manages stored preferences and API keys
type Settings interface {
	Settings(ctx context.Context) (*keystore.Settings, error)
	Apply(ctx context.Context, u keystore.Update) (*keystore.Settings, error)
	Preview(ctx context.Context, provider string) (*keystore.KeyPreview, error)
	DeleteKey(ctx context.Context, provider string) error
	Resolve(ctx context.Context, cfg backend.Config) backend.Config
}

// Options configures the HTTP surface
type Options struct {
	Addr            string
	AllowedOrigins  []string
	RateLimitRPS    float64
	RateLimitBurst  int
	ShutdownTimeout time.Duration
}

// Server exposes the interview engine over HTTP, SSE and websocket
type Server struct {
	engine    *interview.Engine
	connector Connector
	history   History
	settings  Settings
	library   Library
	logger    *slog.Logger
	opts      Options

	upgrader websocket.Upgrader
	handler  http.Handler
}

// New wires the routes and middleware. settings may be nil, which disables the settings endpoints
// and stored-key fallback. A nil library disables the content endpoints.
func New(engine *interview.Engine, connector Connector, history History, settings Settings, library Library, logger *slog.Logger, opts Options) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}

	s := &Server{
		engine:    engine,
		connector: connector,
		history:   history,
		settings:  settings,
		library:   library,
		logger:    logger,
		opts:      opts,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}

	mux := http.NewServeMux()
	s.routes(mux)

	var limiter *RateLimiter
	if opts.RateLimitRPS > 0 {
		limiter = NewRateLimiter(opts.RateLimitRPS, opts.RateLimitBurst)
	}
	s.handler = Chain(
		Recovery(logger),
		Logging(logger),
		CORS(opts.AllowedOrigins),
		RateLimit(limiter),
	)(mux)

	return s
}

func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("POST /api/interview/test-connection", s.handleTestConnection)
	mux.HandleFunc("POST /api/interview/start", s.handleStart)
	mux.HandleFunc("POST /api/interview/start-stream", s.handleStartStream)
	mux.HandleFunc("POST /api/interview/message", s.handleMessage)
	mux.HandleFunc("POST /api/interview/message-stream", s.handleMessageStream)
	mux.HandleFunc("POST /api/interview/evaluate", s.handleEvaluate)
	mux.HandleFunc("GET /api/interview/sessions", s.handleListSessions)
	mux.HandleFunc("GET /api/interview/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("DELETE /api/interview/sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("GET /api/interview/ws", s.handleWebSocket)

	if s.settings != nil {
		mux.HandleFunc("GET /api/settings", s.handleGetSettings)
		mux.HandleFunc("PUT /api/settings", s.handleUpdateSettings)
		mux.HandleFunc("GET /api/settings/api-key/{provider}", s.handleGetAPIKey)
		mux.HandleFunc("DELETE /api/settings/api-key/{provider}", s.handleDeleteAPIKey)
	}

	if s.library != nil {
		mux.HandleFunc("GET /api/content/sections", s.handleListSections)
		mux.HandleFunc("GET /api/content/sections/{key}/items", s.handleSectionItems)
		mux.HandleFunc("GET /api/content/items/{id}", s.handleGetItem)
		mux.HandleFunc("GET /api/content/search", s.handleSearchContent)
		mux.HandleFunc("GET /api/content/stats", s.handleContentStats)
	}
}

// Handler returns the root handler with middleware applied
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run serves until ctx is canceled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		// no WriteTimeout: interview turns are streamed for as long as the provider takes
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.opts.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range s.opts.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

// resolveConfig fills missing provider settings from the stored ones
func (s *Server) resolveConfig(ctx context.Context, cfg backend.Config) backend.Config {
	if s.settings == nil {
		return cfg
	}
	return s.settings.Resolve(ctx, cfg)
}

type errorResponse struct {
	Detail string `json:"detail"`
}

// respondJSON writes a JSON response with the given status code
func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, detail string) {
	respondJSON(w, status, errorResponse{Detail: detail})
}

// statusFor maps domain errors onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, interview.ErrSessionNotFound), errors.Is(err, storage.ErrNotFound), errors.Is(err, keystore.ErrNoKey):
		return http.StatusNotFound
	case errors.Is(err, backend.ErrUnsupportedProvider), errors.Is(err, interview.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, interview.ErrSessionCompleted), errors.Is(err, interview.ErrAlreadyStarted):
		return http.StatusConflict
	case errors.Is(err, backend.ErrProviderTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, backend.ErrProviderUnavailable):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// handleError writes the mapped status; unexpected errors are logged and hidden
func (s *Server) handleError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		respondError(w, status, "internal error")
		return
	}
	respondError(w, status, detailFor(err))
}

func detailFor(err error) string {
	switch {
	case errors.Is(err, interview.ErrSessionNotFound):
		return "Interview session not found"
	case errors.Is(err, storage.ErrNotFound):
		return "Session not found"
	}
	return err.Error()
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return false
	}
	return true
}
