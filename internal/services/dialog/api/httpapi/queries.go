package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	apperrors "github.com/louisbranch/dialog/internal/platform/errors"
	"github.com/louisbranch/dialog/internal/services/dialog/query"
)

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)
	view, found, err := s.queries.GetConversation(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !found {
		s.writeError(w, r, apperrors.WithMetadata(apperrors.CodeConversationNotFound,
			fmt.Sprintf("conversation %s not found", id),
			map[string]string{"conversation_id": id}))
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	values := r.URL.Query()
	pageSize, err := intParam(values.Get("page_size"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp, err := s.queries.ListConversations(r.Context(), query.ListRequest{
		Filter:    values.Get("filter"),
		PageSize:  pageSize,
		PageToken: values.Get("page_token"),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	values := r.URL.Query()
	pageSize, err := intParam(values.Get("page_size"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var afterSeq uint64
	if raw := strings.TrimSpace(values.Get("after_seq")); raw != "" {
		afterSeq, err = strconv.ParseUint(raw, 10, 64)
		if err != nil {
			s.writeError(w, r, badRequest("after_seq must be a non-negative integer"))
			return
		}
	}
	resp, err := s.queries.GetHistory(r.Context(), query.HistoryRequest{
		ConversationID: pathID(r),
		AfterSeq:       afterSeq,
		PageSize:       pageSize,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := s.queries.Statistics(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func intParam(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0, badRequest("page_size must be a non-negative integer")
	}
	return value, nil
}
