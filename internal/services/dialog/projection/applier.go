package projection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/dialog/internal/services/dialog/domain/conversation"
	"github.com/louisbranch/dialog/internal/services/dialog/domain/event"
	"github.com/louisbranch/dialog/internal/services/dialog/storage"
)

// ErrSummaryMissing indicates an event arrived for a conversation whose
// start has not been projected.
var ErrSummaryMissing = errors.New("conversation summary missing")

// Applier applies log events to the projection store.
type Applier struct {
	Store storage.ProjectionStore
}

// HandleEvent projects one event. Events at or below the summary's last
// sequence were already applied and are skipped.
func (a Applier) HandleEvent(ctx context.Context, evt event.Event) error {
	if a.Store == nil {
		return fmt.Errorf("projection store is required")
	}
	conversationID := strings.TrimSpace(evt.ConversationID)

	current, err := a.Store.GetConversation(ctx, conversationID)
	found := err == nil
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	if found && evt.Seq <= current.LastSeq {
		return nil
	}
	if !found && evt.Type != conversation.EventTypeStarted {
		return fmt.Errorf("%w: %s seq %d", ErrSummaryMissing, conversationID, evt.Seq)
	}

	next, history, err := Project(current, evt)
	if err != nil {
		return fmt.Errorf("project %s seq %d: %w", evt.Type, evt.Seq, err)
	}
	return a.Store.SaveProjection(ctx, next, history...)
}

// Project returns the summary after evt and any history entries evt adds.
// rec is not modified.
func Project(rec storage.ConversationRecord, evt event.Event) (storage.ConversationRecord, []storage.MessageRecord, error) {
	next := rec.Clone()
	at := ensureTimestamp(evt.Timestamp)
	var history []storage.MessageRecord

	switch evt.Type {
	case conversation.EventTypeStarted:
		var payload conversation.StartPayload
		if err := decode(evt, &payload); err != nil {
			return rec, nil, err
		}
		next = applyStarted(evt, payload, at)
	case conversation.EventTypeMessageSent:
		var payload conversation.SendMessagePayload
		if err := decode(evt, &payload); err != nil {
			return rec, nil, err
		}
		history = append(history, applyMessageSent(&next, evt, payload, at))
	case conversation.EventTypeParticipantAdded:
		var payload conversation.AddParticipantPayload
		if err := decode(evt, &payload); err != nil {
			return rec, nil, err
		}
		applyParticipantAdded(&next, payload, at)
	case conversation.EventTypePaused:
		var payload conversation.PausePayload
		if err := decode(evt, &payload); err != nil {
			return rec, nil, err
		}
		next.Status = conversation.StatusPaused
		next.PauseReason = payload.Reason
	case conversation.EventTypeResumed:
		next.Status = conversation.StatusActive
		next.PauseReason = ""
	case conversation.EventTypeEnded:
		var payload conversation.EndPayload
		if err := decode(evt, &payload); err != nil {
			return rec, nil, err
		}
		next.Status = conversation.StatusEnded
		next.EndReason = payload.Reason
		endedAt := at
		next.EndedAt = &endedAt
	case conversation.EventTypeContextUpdated:
		var payload conversation.UpdateContextPayload
		if err := decode(evt, &payload); err != nil {
			return rec, nil, err
		}
		next.Context = conversation.ApplyContextUpdate(next.Context, payload)
	}

	next.LastSeq = evt.Seq
	if at.After(next.LastActivityAt) {
		next.LastActivityAt = at
	}
	return next, history, nil
}

// ensureTimestamp normalizes timestamps so projections always persist UTC.
func ensureTimestamp(ts time.Time) time.Time {
	return ts.UTC().Truncate(time.Millisecond)
}

func decode(evt event.Event, target any) error {
	if err := json.Unmarshal(evt.PayloadJSON, target); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}
