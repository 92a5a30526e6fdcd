package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aretw0/parley/internal/logging"
	"github.com/aretw0/parley/pkg/adapters/yamlfile"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/runner"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

// DefaultFailureMessage is sent to the user when a turn fails for an internal reason.
const DefaultFailureMessage = "The bot encountered an error or bug."

// Engine is the part of the dialog engine the HTTP channel drives.
type Engine interface {
	ProcessTurn(ctx context.Context, turn domain.ConversationTurn) ([]domain.Activity, error)
	SignOut(ctx context.Context, ref domain.ConversationRef, connection string) error
	Dialog() domain.Dialog
}

// Server serves the channel endpoints of one engine.
type Server struct {
	Engine  Engine
	Streams *StreamManager

	logger         *slog.Logger
	failureMessage string
	metrics        http.Handler
	routes         map[string]http.Handler
	connection     string
	clock          func() time.Time
}

// Option configures the Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithFailureMessage replaces the text sent when a turn fails.
func WithFailureMessage(text string) Option {
	return func(s *Server) {
		if text != "" {
			s.failureMessage = text
		}
	}
}

// WithStreams shares a StreamManager, typically the one also given to the engine as its Sender.
func WithStreams(sm *StreamManager) Option {
	return func(s *Server) {
		if sm != nil {
			s.Streams = sm
		}
	}
}

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithRoute mounts h at pattern next to the API, e.g. the OAuth redirect endpoint.
func WithRoute(pattern string, h http.Handler) Option {
	return func(s *Server) {
		if s.routes == nil {
			s.routes = make(map[string]http.Handler)
		}
		s.routes[pattern] = h
	}
}

// WithConnection sets the auth connection signed out of when a request names none.
func WithConnection(name string) Option {
	return func(s *Server) { s.connection = name }
}

// NewHandler creates the HTTP handler for the engine.
//
//	POST /api/messages                          process one turn
//	POST /api/conversations/{id}/signout        sign the user out
//	GET  /api/conversations/{id}/stream         websocket of outbound activities
//	GET  /api/dialog                            dialog definition (YAML)
//	GET  /health
//	GET  /metrics                               when a metrics handler is set
//	*    extra routes                           see WithRoute
func NewHandler(engine Engine, opts ...Option) http.Handler {
	s := &Server{
		Engine:         engine,
		logger:         logging.NewNop(),
		failureMessage: DefaultFailureMessage,
		clock:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.Streams == nil {
		s.Streams = NewStreamManager(s.logger)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(enableCORS)

	r.Get("/health", s.GetHealth)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}
	for pattern, h := range s.routes {
		r.Handle(pattern, h)
	}
	r.Route("/api", func(r chi.Router) {
		r.Post("/messages", s.PostMessage)
		r.Get("/dialog", s.GetDialog)
		r.Post("/conversations/{id}/signout", s.PostSignOut)
		r.Get("/conversations/{id}/stream", s.Stream)
	})
	return r
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// MessageResponse is the body returned by POST /api/messages.
type MessageResponse struct {
	Activities []domain.Activity `json:"activities"`
}

// PostMessage handles POST /api/messages.
func (s *Server) PostMessage(w http.ResponseWriter, r *http.Request) {
	var turn domain.ConversationTurn
	if err := json.NewDecoder(r.Body).Decode(&turn); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		s.logger.Warn("PostMessage: invalid request body", "err", err)
		return
	}

	if turn.Text != "" {
		clean, err := runner.SanitizeInput(turn.Text)
		if err != nil {
			http.Error(w, fmt.Sprintf("Invalid input: %v", err), http.StatusBadRequest)
			s.logger.Warn("PostMessage: input rejected", "err", err, "size", len(turn.Text))
			return
		}
		turn.Text = clean
	}
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = s.clock().UTC()
	}

	activities, err := s.Engine.ProcessTurn(r.Context(), turn)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrInvalidTurn):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case len(activities) > 0:
		// Committed but not delivered to the stream; the caller still gets the replies.
		s.logger.Warn("PostMessage: delivery failed", "err", err, "conversation_id", turn.ConversationID)
	default:
		s.logger.Error("PostMessage: turn failed", "err", err, "conversation_id", turn.ConversationID)
		writeJSON(w, http.StatusInternalServerError, MessageResponse{Activities: []domain.Activity{{
			ID:             uuid.NewString(),
			Type:           domain.TurnMessage,
			ConversationID: turn.ConversationID,
			ReplyToID:      turn.ID,
			Recipient:      turn.From,
			Text:           s.failureMessage,
		}}}, s.logger)
		return
	}
	if activities == nil {
		activities = []domain.Activity{}
	}
	writeJSON(w, http.StatusOK, MessageResponse{Activities: activities}, s.logger)
}

// SignOutRequest is the body of POST /api/conversations/{id}/signout.
type SignOutRequest struct {
	ChannelID  string `json:"channelId,omitempty"`
	UserID     string `json:"userId"`
	Connection string `json:"connection,omitempty"`
}

// PostSignOut handles POST /api/conversations/{id}/signout.
func (s *Server) PostSignOut(w http.ResponseWriter, r *http.Request) {
	var body SignOutRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if body.UserID == "" {
		http.Error(w, "userId is required", http.StatusBadRequest)
		return
	}
	connection := body.Connection
	if connection == "" {
		connection = s.connection
	}
	ref := domain.ConversationRef{
		ChannelID:      body.ChannelID,
		ConversationID: chi.URLParam(r, "id"),
		UserID:         body.UserID,
	}
	if err := s.Engine.SignOut(r.Context(), ref, connection); err != nil {
		http.Error(w, "Sign out failed", http.StatusInternalServerError)
		s.logger.Error("PostSignOut failed", "err", err, "conversation_id", ref.ConversationID)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetDialog handles GET /api/dialog.
func (s *Server) GetDialog(w http.ResponseWriter, r *http.Request) {
	data, err := yamlfile.MarshalDialog(s.Engine.Dialog())
	if err != nil {
		http.Error(w, "Failed to encode dialog", http.StatusInternalServerError)
		s.logger.Error("GetDialog failed", "err", err)
		return
	}
	w.Header().Set("Content-Type", "text/yaml")
	_, _ = w.Write(data)
}

// GetHealth handles GET /health.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, s.logger)
}

func writeJSON(w http.ResponseWriter, status int, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("response encode failed", "err", err)
	}
}
