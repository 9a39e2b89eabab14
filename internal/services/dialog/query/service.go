package query

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/samber/lo"

	apperrors "github.com/louisbranch/dialog/internal/platform/errors"
	"github.com/louisbranch/dialog/internal/platform/pagination"
	"github.com/louisbranch/dialog/internal/services/dialog/core/filter"
	"github.com/louisbranch/dialog/internal/services/dialog/storage"
	"github.com/louisbranch/dialog/internal/storage/cursor"
)

// Page size limits shared by listings and history.
var (
	ConversationPageSize = pagination.PageSizeConfig{Default: 50, Max: 200}
	HistoryPageSize      = pagination.PageSizeConfig{Default: 100, Max: 500}
)

// Service answers conversation reads from projections.
type Service struct {
	Conversations storage.ConversationStore
	Messages      storage.MessageStore
}

// NewService reads both summaries and history from store.
func NewService(store storage.ProjectionStore) *Service {
	return &Service{Conversations: store, Messages: store}
}

// ListRequest selects one page of conversations.
type ListRequest struct {
	// Filter is an AIP-160 expression over status, participant_id,
	// started_at and last_activity_at.
	Filter    string
	PageSize  int
	PageToken string
}

// ListResponse is one page of conversations ordered by (started_at, id).
type ListResponse struct {
	Conversations []ConversationView `json:"conversations"`
	NextPageToken string             `json:"next_page_token,omitempty"`
}

// HistoryRequest selects a page of messages after AfterSeq.
type HistoryRequest struct {
	ConversationID string
	AfterSeq       uint64
	PageSize       int
}

// HistoryResponse is one page of history. NextAfterSeq is zero on the last page.
type HistoryResponse struct {
	Messages     []MessageView `json:"messages"`
	NextAfterSeq uint64        `json:"next_after_seq,omitempty"`
}

// GetConversation returns the summary for id and whether it exists.
func (s *Service) GetConversation(ctx context.Context, id string) (ConversationView, bool, error) {
	if err := s.validate(); err != nil {
		return ConversationView{}, false, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return ConversationView{}, false, apperrors.New(apperrors.CodeValidationFailed, "conversation id is required")
	}
	rec, err := s.Conversations.GetConversation(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return ConversationView{}, false, nil
	}
	if err != nil {
		return ConversationView{}, false, fmt.Errorf("get conversation: %w", err)
	}
	return conversationView(rec), true, nil
}

// ListConversations returns conversations matching req.Filter.
func (s *Service) ListConversations(ctx context.Context, req ListRequest) (ListResponse, error) {
	if err := s.validate(); err != nil {
		return ListResponse{}, err
	}
	expr := strings.TrimSpace(req.Filter)
	parsed, err := filter.ParseConversationFilter(expr)
	if err != nil {
		return ListResponse{}, err
	}

	query := storage.ConversationQuery{Filter: parsed}
	if token := strings.TrimSpace(req.PageToken); token != "" {
		c, err := cursor.Decode(token)
		if err != nil {
			return ListResponse{}, apperrors.Wrap(apperrors.CodeInvalidPageToken, "page token is invalid", err)
		}
		if err := cursor.ValidateFilterHash(c, expr); err != nil {
			return ListResponse{}, apperrors.Wrap(apperrors.CodeInvalidPageToken, "page token does not match filter", err)
		}
		query.After = &storage.ConversationKey{StartedAt: c.Time(), ID: c.ID}
	}

	pageSize := pagination.ClampPageSize(req.PageSize, ConversationPageSize)
	query.Limit = pageSize + 1
	records, err := s.Conversations.ListConversations(ctx, query)
	if err != nil {
		return ListResponse{}, fmt.Errorf("list conversations: %w", err)
	}

	resp := ListResponse{}
	if len(records) > pageSize {
		records = records[:pageSize]
		last := records[len(records)-1]
		token, err := cursor.Encode(cursor.New(last.StartedAt, last.ID, expr))
		if err != nil {
			return ListResponse{}, fmt.Errorf("encode page token: %w", err)
		}
		resp.NextPageToken = token
	}
	resp.Conversations = lo.Map(records, func(rec storage.ConversationRecord, _ int) ConversationView {
		return conversationView(rec)
	})
	return resp, nil
}

// GetHistory returns a page of messages for one conversation.
func (s *Service) GetHistory(ctx context.Context, req HistoryRequest) (HistoryResponse, error) {
	_, found, err := s.GetConversation(ctx, req.ConversationID)
	if err != nil {
		return HistoryResponse{}, err
	}
	id := strings.TrimSpace(req.ConversationID)
	if !found {
		return HistoryResponse{}, apperrors.WithMetadata(apperrors.CodeConversationNotFound,
			fmt.Sprintf("conversation %s not found", id),
			map[string]string{"conversation_id": id})
	}

	pageSize := pagination.ClampPageSize(req.PageSize, HistoryPageSize)
	records, err := s.Messages.ListMessages(ctx, id, req.AfterSeq, pageSize+1)
	if err != nil {
		return HistoryResponse{}, fmt.Errorf("list messages: %w", err)
	}
	resp := HistoryResponse{}
	if len(records) > pageSize {
		records = records[:pageSize]
		resp.NextAfterSeq = records[len(records)-1].Seq
	}
	resp.Messages = lo.Map(records, messageView)
	return resp, nil
}

// Statistics aggregates counters across every projected conversation.
func (s *Service) Statistics(ctx context.Context) (StatisticsView, error) {
	if err := s.validate(); err != nil {
		return StatisticsView{}, err
	}
	stats, err := s.Conversations.GetStatistics(ctx)
	if err != nil {
		return StatisticsView{}, fmt.Errorf("get statistics: %w", err)
	}
	view := StatisticsView{
		Total:                stats.Total,
		ByStatus:             make(map[string]int, len(stats.ByStatus)),
		TotalMessages:        stats.TotalMessages,
		DistinctParticipants: stats.DistinctParticipants,
	}
	for status, count := range stats.ByStatus {
		view.ByStatus[string(status)] = count
	}
	if stats.Total > 0 {
		view.AverageMessages = float64(stats.TotalMessages) / float64(stats.Total)
	}
	return view, nil
}

func (s *Service) validate() error {
	if s == nil || s.Conversations == nil || s.Messages == nil {
		return errors.New("query service requires conversation and message stores")
	}
	return nil
}
