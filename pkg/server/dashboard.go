package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/raterudder/homedash/pkg/common"
	"github.com/raterudder/homedash/pkg/insight"
	"github.com/raterudder/homedash/pkg/log"
	"github.com/raterudder/homedash/pkg/storage"
	"github.com/raterudder/homedash/pkg/telemetry"
	"github.com/raterudder/homedash/pkg/types"
)

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.telemetry.Snapshot())
}

func (s *Server) handleReadings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.telemetry.Snapshot().Readings())
}

func (s *Server) handleInsights(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	settings, err := storage.LoadSettings(ctx, s.storage)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get settings", slog.Any("error", err))
		writeJSONError(w, "failed to get settings", http.StatusInternalServerError)
		return
	}
	writeJSON(w, insight.Compute(ctx, s.telemetry.Snapshot(), settings, s.clock.Now()))
}

// StatusRes is the response type for the status, mode and refresh endpoints.
type StatusRes struct {
	Connectivity types.ConnectivityState `json:"connectivity"`
	Version      string                  `json:"version"`
	Activity     int                     `json:"activity"`
}

func (s *Server) status() StatusRes {
	return StatusRes{
		Connectivity: s.telemetry.Connectivity(),
		Version:      common.Version(),
		Activity:     len(s.telemetry.Activity()),
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.status())
}

// writeProviderError maps lifecycle errors of the provider to a response.
func writeProviderError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	ctx := r.Context()
	switch {
	case errors.Is(err, telemetry.ErrClosed), errors.Is(err, telemetry.ErrNotStarted):
		log.Ctx(ctx).WarnContext(ctx, msg, slog.Any("error", err))
		writeJSONError(w, "telemetry provider is not running", http.StatusServiceUnavailable)
	default:
		log.Ctx(ctx).ErrorContext(ctx, msg, slog.Any("error", err))
		writeJSONError(w, msg, http.StatusInternalServerError)
	}
}

func (s *Server) handleSetMode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req struct {
		Mode types.Mode `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to decode mode", slog.Any("error", err))
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	var live bool
	switch req.Mode {
	case types.ModeLive:
		live = true
	case types.ModeSimulated:
	default:
		writeJSONError(w, "mode must be live or simulated", http.StatusBadRequest)
		return
	}

	if err := s.telemetry.SetMode(ctx, live); err != nil {
		writeProviderError(w, r, "failed to set mode", err)
		return
	}
	writeJSON(w, s.status())
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.telemetry.Refresh(r.Context()); err != nil {
		writeProviderError(w, r, "failed to refresh", err)
		return
	}
	writeJSON(w, s.status())
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, struct {
		Entries []types.ActivityEntry `json:"entries"`
	}{Entries: s.telemetry.Activity()})
}
