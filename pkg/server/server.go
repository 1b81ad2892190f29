package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/levenlabs/go-lflag"

	"github.com/raterudder/homedash/pkg/common"
	"github.com/raterudder/homedash/pkg/log"
	"github.com/raterudder/homedash/pkg/storage"
	"github.com/raterudder/homedash/pkg/telemetry"
)

// Server exposes the telemetry provider over a JSON API and a WebSocket
// update stream.
type Server struct {
	telemetry *telemetry.Provider
	storage   storage.Database
	clock     clockwork.Clock
	upgrader  websocket.Upgrader

	listenAddr string
	apiToken   string
	serverName string
	httpServer *http.Server
}

// New returns a server for the given provider and database.
func New(p *telemetry.Provider, db storage.Database) *Server {
	return &Server{
		telemetry:  p,
		storage:    db,
		clock:      clockwork.NewRealClock(),
		serverName: "homedash/" + common.Version(),
	}
}

// Configured initializes the Server with dependencies.
// It uses lflag to register command-line flags for configuration.
func Configured(p *telemetry.Provider, db storage.Database) *Server {
	srv := New(p, db)
	revision := os.Getenv("K_REVISION")
	if revision != "" {
		srv.serverName = revision
	}

	// get the port from PORT when running in a container
	port := os.Getenv("PORT")
	if port == "" {
		// otherwise default to 8080
		port = "8080"
	}

	listenAddr := lflag.String("http-listen", ":"+port, "HTTP server listen address")
	apiToken := lflag.String("api-token", "", "Bearer token required for requests that change state. Empty disables the check")

	lflag.Do(func() {
		srv.listenAddr = *listenAddr
		srv.apiToken = *apiToken
	})

	return srv
}

func (s *Server) setupHandler() http.Handler {
	if s.telemetry == nil {
		// we want to have a stack trace when this happens
		panic("server has no telemetry provider")
	}

	apiMux := http.NewServeMux()
	apiMux.HandleFunc("GET /api/snapshot", s.handleSnapshot)
	apiMux.HandleFunc("GET /api/readings", s.handleReadings)
	apiMux.HandleFunc("GET /api/insights", s.handleInsights)
	apiMux.HandleFunc("GET /api/status", s.handleStatus)
	apiMux.HandleFunc("POST /api/mode", s.handleSetMode)
	apiMux.HandleFunc("POST /api/refresh", s.handleRefresh)
	apiMux.HandleFunc("GET /api/series/range", s.handleRangeSeries)
	apiMux.HandleFunc("GET /api/series/forecast", s.handleForecastSeries)
	apiMux.HandleFunc("GET /api/annual", s.handleAnnual)
	apiMux.HandleFunc("GET /api/history/daily", s.handleDailyHistory)
	apiMux.HandleFunc("GET /api/history/totals", s.handleTotals)
	apiMux.HandleFunc("GET /api/activity", s.handleActivity)
	apiMux.HandleFunc("GET /api/topics", s.handleListTopics)
	apiMux.HandleFunc("POST /api/topics", s.handleAddTopic)
	apiMux.HandleFunc("DELETE /api/topics", s.handleRemoveTopic)
	apiMux.HandleFunc("POST /api/publish", s.handlePublish)
	apiMux.HandleFunc("GET /api/settings", s.handleGetSettings)
	apiMux.HandleFunc("PUT /api/settings", s.handleUpdateSettings)
	apiMux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, "not found", http.StatusNotFound)
	})

	mux := http.NewServeMux()
	mux.Handle("/api/", s.authMiddleware(apiMux))
	mux.HandleFunc("/healthz", s.handleHealthz)

	// the gzip writer cannot be hijacked so the stream bypasses it
	root := http.NewServeMux()
	root.Handle("GET /api/stream", s.securityHeadersMiddleware(http.HandlerFunc(s.handleStream)))
	root.Handle("/", gziphandler.GzipHandler(s.securityHeadersMiddleware(mux)))
	return s.revisionMiddleware(root)
}

// Run starts the HTTP server and blocks until the context is canceled or an error occurs.
// It also handles graceful shutdown when the context is done.
func (s *Server) Run(ctx context.Context) error {
	ctx = log.Component(ctx, "server")
	s.httpServer = &http.Server{
		Addr:        s.listenAddr,
		Handler:     s.setupHandler(),
		// no WriteTimeout, streams set their own write deadlines
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 15 * time.Second,
		// requests, and streams in particular, end when ctx does
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	// use a channel to capturing server errors
	errChan := make(chan error, 1)
	go func() {
		defer close(errChan)
		log.Ctx(ctx).InfoContext(ctx, "starting server", slog.String("addr", s.listenAddr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		// Context canceled, shut down gracefully
		log.Ctx(ctx).InfoContext(ctx, "shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func writeJSONError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{Error: msg}); err != nil {
		slog.Warn("failed to write error response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) revisionMiddleware(next http.Handler) http.Handler {
	if s.serverName == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", s.serverName)
		next.ServeHTTP(w, r)
	})
}
