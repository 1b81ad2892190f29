package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/raterudder/homedash/pkg/log"
	"github.com/raterudder/homedash/pkg/storage"
	"github.com/raterudder/homedash/pkg/types"
)

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	settings, err := storage.LoadSettings(ctx, s.storage)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get settings", slog.Any("error", err))
		writeJSONError(w, "failed to get settings", http.StatusInternalServerError)
		return
	}
	writeJSON(w, settings)
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var newSettings types.Settings
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&newSettings); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to decode settings", slog.Any("error", err))
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := newSettings.Validate(); err != nil {
		writeJSONError(w, fmt.Sprintf("invalid settings: %v", err), http.StatusBadRequest)
		return
	}

	if err := s.storage.SetSettings(ctx, newSettings, types.CurrentSettingsVersion); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to save settings", slog.Any("error", err))
		writeJSONError(w, "failed to save settings", http.StatusInternalServerError)
		return
	}
	log.Ctx(ctx).InfoContext(
		ctx,
		"updated settings",
		slog.Float64("gridAlertWatts", newSettings.GridAlertWatts),
		slog.Float64("lowBatterySOC", newSettings.LowBatterySOC),
		slog.String("location", newSettings.Location),
	)
	writeJSON(w, newSettings)
}
