package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/louisbranch/dialog/internal/platform/timeouts"
	"github.com/louisbranch/dialog/internal/services/dialog/domain/command"
	"github.com/louisbranch/dialog/internal/services/dialog/domain/engine"
	"github.com/louisbranch/dialog/internal/services/dialog/query"
)

// Caller identity headers.
const (
	HeaderActorType     = "X-Dialog-Actor-Type"
	HeaderActorID       = "X-Dialog-Actor-Id"
	HeaderRequestID     = "X-Request-Id"
	HeaderCorrelationID = "X-Correlation-Id"
)

// CommandExecutor runs conversation commands.
type CommandExecutor interface {
	Execute(ctx context.Context, cmd command.Command) (engine.Result, error)
}

// ProjectionSyncer brings a conversation's projection up to date.
type ProjectionSyncer interface {
	CatchUp(ctx context.Context, conversationID string) (int, error)
	Rebuild(ctx context.Context, conversationID string) (int, error)
}

// Server serves the conversation HTTP API.
type Server struct {
	commands    CommandExecutor
	queries     *query.Service
	projections ProjectionSyncer
	newID       func() (string, error)
	logger      *slog.Logger
	events      EventSubscriber

	closeStreams sync.Once
	streamsDone  chan struct{}
}

// Option configures a Server.
type Option func(*Server)

// WithIDGenerator sets how missing conversation and message ids are minted.
func WithIDGenerator(newID func() (string, error)) Option {
	return func(s *Server) {
		if newID != nil {
			s.newID = newID
		}
	}
}

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewServer builds a Server. projections may be nil, in which case command
// responses omit the refreshed conversation view.
func NewServer(commands CommandExecutor, queries *query.Service, projections ProjectionSyncer, newID func() (string, error), opts ...Option) *Server {
	s := &Server{
		commands:    commands,
		queries:     queries,
		projections: projections,
		newID:       newID,
		logger:      slog.Default(),
		streamsDone: make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// RegisterRoutes registers every endpoint on mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	if mux == nil {
		return
	}
	mux.HandleFunc("POST /v1/conversations", s.handleStart)
	mux.HandleFunc("GET /v1/conversations", s.handleList)
	mux.HandleFunc("GET /v1/conversations/{id}", s.handleGet)
	mux.HandleFunc("POST /v1/conversations/{id}/messages", s.handleSendMessage)
	mux.HandleFunc("GET /v1/conversations/{id}/messages", s.handleHistory)
	mux.HandleFunc("POST /v1/conversations/{id}/participants", s.handleAddParticipant)
	mux.HandleFunc("POST /v1/conversations/{id}/pause", s.handlePause)
	mux.HandleFunc("POST /v1/conversations/{id}/resume", s.handleResume)
	mux.HandleFunc("POST /v1/conversations/{id}/end", s.handleEnd)
	mux.HandleFunc("PATCH /v1/conversations/{id}/context", s.handleUpdateContext)
	mux.HandleFunc("POST /v1/conversations/{id}/rebuild", s.handleRebuild)
	mux.HandleFunc("GET /v1/statistics", s.handleStatistics)
	mux.HandleFunc("GET /v1/events", s.handleEvents)
	mux.HandleFunc("GET /up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
}

// Handler returns a mux with every route registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

// syncProjection catches up the projection so the response reflects the
// command. Failures only delay visibility, so they are logged.
func (s *Server) syncProjection(ctx context.Context, conversationID string) (query.ConversationView, bool) {
	if s.projections == nil || s.queries == nil {
		return query.ConversationView{}, false
	}
	ctx, cancel := context.WithTimeout(ctx, timeouts.ProjectionCatchUp)
	defer cancel()
	if _, err := s.projections.CatchUp(ctx, conversationID); err != nil {
		s.logger.WarnContext(ctx, "projection catch-up failed",
			slog.String("conversation_id", conversationID),
			slog.Any("error", err),
		)
		return query.ConversationView{}, false
	}
	view, found, err := s.queries.GetConversation(ctx, conversationID)
	if err != nil || !found {
		return query.ConversationView{}, false
	}
	return view, true
}

func pathID(r *http.Request) string {
	return strings.TrimSpace(r.PathValue("id"))
}
