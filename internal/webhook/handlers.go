// ABOUTME: HTTP handlers for webhook ingress, conversation status, and health
// ABOUTME: Webhooks are acknowledged before any parsing; processing runs detached

package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/2389/fold-whatsapp/internal/conversation"
	"github.com/2389/fold-whatsapp/internal/router"
)

// AckResponse is the fixed acknowledgment for POST /webhook.
type AckResponse struct {
	Status string `json:"status"`
}

// StatusResponse is the JSON body of GET /status.
type StatusResponse struct {
	Status              string                   `json:"status"`
	ActiveConversations int                      `json:"activeConversations"`
	Chats               []conversation.ChatStats `json:"chats"`
}

// ErrorResponse is returned when status cannot be produced.
type ErrorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// handleWebhook acknowledges the delivery, then processes it in the
// background. Nothing that happens after the ack changes the response.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, readErr := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	writeJSON(w, http.StatusOK, AckResponse{Status: "ok"})

	logger := s.logger.With("delivery", uuid.NewString())
	if readErr != nil {
		logger.Warn("failed to read webhook body", "error", readErr)
		return
	}

	s.inflight.Add(1)
	go s.process(logger, body)
}

// process parses, deduplicates and dispatches one delivery.
func (s *Server) process(logger *slog.Logger, body []byte) {
	defer s.inflight.Done()
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("panic while processing webhook", "panic", rec)
		}
	}()

	evt, err := router.ParseEvent(body)
	if err != nil {
		logger.Warn("ignoring malformed webhook body", "error", err, "size", len(body))
		return
	}

	if key := dedupeKey(evt); key != "" && s.deps.Dedupe != nil && s.deps.Dedupe.Seen(key) {
		logger.Debug("dropping redelivered event", "event", evt.Type, "id", evt.Payload.ID)
		return
	}

	ctx, cancel := context.WithTimeout(s.baseCtx, s.cfg.ProcessTimeout)
	defer cancel()

	handled := s.deps.Dispatcher.Dispatch(ctx, evt)
	logger.Debug("webhook processed", "event", evt.Type, "session", evt.Session, "handled", handled)
}

func dedupeKey(evt router.Event) string {
	if evt.Payload.ID == "" {
		return ""
	}
	return evt.Type + ":" + evt.Payload.ID
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	stats, err := s.stats()
	if err != nil {
		s.logger.Error("failed to collect stats", "error", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Status:  "error",
			Message: "Could not retrieve stats.",
		})
		return
	}

	chats := stats.Chats
	if chats == nil {
		chats = []conversation.ChatStats{}
	}
	writeJSON(w, http.StatusOK, StatusResponse{
		Status:              "running",
		ActiveConversations: stats.ActiveConversations,
		Chats:               chats,
	})
}

// stats calls the provider, turning a panic into an error.
func (s *Server) stats() (stats conversation.Stats, err error) {
	if s.deps.Stats == nil {
		return stats, errors.New("no stats provider")
	}
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("stats provider panicked: %v", rec)
		}
	}()
	return s.deps.Stats.Stats(), nil
}

// handleHealth returns 200 OK if the server is alive.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
