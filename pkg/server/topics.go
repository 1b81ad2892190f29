package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/raterudder/homedash/pkg/log"
	"github.com/raterudder/homedash/pkg/upstream"
)

// TopicsRes is the response type for the topic endpoints.
type TopicsRes struct {
	Topics []string `json:"topics"`
}

func writeTopicError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	ctx := r.Context()
	switch {
	case errors.Is(err, upstream.ErrUnsupported):
		writeJSONError(w, "the live source does not support topics", http.StatusNotImplemented)
	case errors.Is(err, upstream.ErrNotConnected):
		writeJSONError(w, "the bus is not connected", http.StatusServiceUnavailable)
	default:
		log.Ctx(ctx).ErrorContext(ctx, msg, slog.Any("error", err))
		writeJSONError(w, msg, http.StatusInternalServerError)
	}
}

func (s *Server) writeTopics(w http.ResponseWriter, r *http.Request) {
	topics, err := s.telemetry.Topics()
	if err != nil {
		writeTopicError(w, r, "failed to list topics", err)
		return
	}
	if topics == nil {
		topics = []string{}
	}
	writeJSON(w, TopicsRes{Topics: topics})
}

func (s *Server) handleListTopics(w http.ResponseWriter, r *http.Request) {
	s.writeTopics(w, r)
}

func (s *Server) handleAddTopic(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req struct {
		Topic string `json:"topic"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to decode topic", slog.Any("error", err))
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	topic := strings.TrimSpace(req.Topic)
	if topic == "" {
		writeJSONError(w, "topic is required", http.StatusBadRequest)
		return
	}
	if err := s.telemetry.AddTopic(ctx, topic); err != nil {
		writeTopicError(w, r, "failed to add topic", err)
		return
	}
	s.writeTopics(w, r)
}

// handleRemoveTopic takes the topic from the query string since filters
// contain slashes and wildcards.
func (s *Server) handleRemoveTopic(w http.ResponseWriter, r *http.Request) {
	topic := strings.TrimSpace(r.URL.Query().Get("topic"))
	if topic == "" {
		writeJSONError(w, "topic is required", http.StatusBadRequest)
		return
	}
	if err := s.telemetry.RemoveTopic(r.Context(), topic); err != nil {
		writeTopicError(w, r, "failed to remove topic", err)
		return
	}
	s.writeTopics(w, r)
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req struct {
		Topic   string `json:"topic"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to decode publish request", slog.Any("error", err))
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Topic == "" {
		writeJSONError(w, "topic is required", http.StatusBadRequest)
		return
	}
	if err := s.telemetry.Publish(ctx, req.Topic, []byte(req.Message)); err != nil {
		writeTopicError(w, r, "failed to publish", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
