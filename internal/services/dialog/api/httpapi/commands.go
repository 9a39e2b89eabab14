package httpapi

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/louisbranch/dialog/internal/platform/errors"
	"github.com/louisbranch/dialog/internal/services/dialog/domain/command"
	"github.com/louisbranch/dialog/internal/services/dialog/domain/conversation"
	"github.com/louisbranch/dialog/internal/services/dialog/domain/message"
	"github.com/louisbranch/dialog/internal/services/dialog/domain/participant"
	"github.com/louisbranch/dialog/internal/services/dialog/query"
)

type startRequest struct {
	ID           string               `json:"id"`
	Participants []participant.Record `json:"participants"`
	Context      map[string]string    `json:"context"`
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

type contextRequest struct {
	Mode   conversation.ContextMode `json:"mode"`
	Values map[string]string        `json:"values"`
	Remove []string                 `json:"remove"`
}

type commandResponse struct {
	ConversationID string                  `json:"conversation_id"`
	LastSeq        uint64                  `json:"last_seq"`
	Events         []string                `json:"events"`
	Conversation   *query.ConversationView `json:"conversation,omitempty"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	id := strings.TrimSpace(req.ID)
	if id == "" {
		generated, err := s.mintID()
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		id = generated
	}
	participants, err := participant.FromRecords(req.Participants)
	if err != nil {
		s.writeError(w, r, badRequest("invalid participants: %v", err))
		return
	}
	s.execute(w, r, http.StatusCreated, conversation.StartConversation{
		ConversationID: id,
		Participants:   participants,
		Context:        req.Context,
	})
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req message.Record
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.ID) == "" {
		generated, err := s.mintID()
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		req.ID = generated
	}
	if strings.TrimSpace(req.SenderID) == "" {
		req.SenderID = strings.TrimSpace(r.Header.Get(HeaderActorID))
	}
	if req.Kind == "" {
		req.Kind = message.ContentKindText
	}
	msg, err := message.FromRecord(req, time.Time{})
	if err != nil {
		s.writeError(w, r, badRequest("invalid message: %v", err))
		return
	}
	s.execute(w, r, http.StatusOK, conversation.SendMessage{ConversationID: pathID(r), Message: msg})
}

func (s *Server) handleAddParticipant(w http.ResponseWriter, r *http.Request) {
	var req participant.Record
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := participant.FromRecord(req)
	if err != nil {
		s.writeError(w, r, badRequest("invalid participant: %v", err))
		return
	}
	s.execute(w, r, http.StatusOK, conversation.AddParticipant{ConversationID: pathID(r), Participant: p})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.execute(w, r, http.StatusOK, conversation.PauseConversation{ConversationID: pathID(r), Reason: req.Reason})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.execute(w, r, http.StatusOK, conversation.ResumeConversation{ConversationID: pathID(r)})
}

func (s *Server) handleEnd(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.execute(w, r, http.StatusOK, conversation.EndConversation{ConversationID: pathID(r), Reason: req.Reason})
}

func (s *Server) handleUpdateContext(w http.ResponseWriter, r *http.Request) {
	var req contextRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.execute(w, r, http.StatusOK, conversation.UpdateContext{
		ConversationID: pathID(r),
		Mode:           req.Mode,
		Values:         req.Values,
		Remove:         req.Remove,
	})
}

func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	if s.projections == nil {
		writeJSON(w, http.StatusNotImplemented, errorResponse{Error: errorDetail{
			Code:    apperrors.CodeUnknown,
			Message: "projection rebuild is not available",
		}})
		return
	}
	id := pathID(r)
	applied, err := s.projections.Rebuild(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversation_id": id, "applied": applied})
}

func (s *Server) execute(w http.ResponseWriter, r *http.Request, status int, intent conversation.Intent) {
	actor := conversation.Actor{
		Type: command.ActorType(strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderActorType)))),
		ID:   strings.TrimSpace(r.Header.Get(HeaderActorID)),
	}
	meta := conversation.Meta{
		RequestID:     strings.TrimSpace(r.Header.Get(HeaderRequestID)),
		CorrelationID: strings.TrimSpace(r.Header.Get(HeaderCorrelationID)),
	}
	cmd, err := conversation.Encode(intent, actor, meta)
	if err != nil {
		s.writeError(w, r, badRequest("%v", err))
		return
	}
	result, err := s.commands.Execute(r.Context(), cmd)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := commandResponse{
		ConversationID: cmd.ConversationID,
		LastSeq:        result.LastSeq,
		Events:         make([]string, 0, len(result.Decision.Events)),
	}
	for _, evt := range result.Decision.Events {
		resp.Events = append(resp.Events, string(evt.Type))
	}
	if view, ok := s.syncProjection(r.Context(), cmd.ConversationID); ok {
		resp.Conversation = &view
	}
	writeJSON(w, status, resp)
}

func (s *Server) mintID() (string, error) {
	if s.newID == nil {
		return "", badRequest("id is required")
	}
	id, err := s.newID()
	if err != nil {
		return "", fmt.Errorf("mint id: %w", err)
	}
	return id, nil
}
