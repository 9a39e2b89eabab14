package event

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/dialog/internal/services/dialog/core/encoding"
)

var (
	// ErrSequenceGap indicates a missing or out-of-order sequence number.
	ErrSequenceGap = errors.New("event sequence gap")
	// ErrHashMismatch indicates an event whose content no longer matches its hash.
	ErrHashMismatch = errors.New("event hash mismatch")
	// ErrChainBroken indicates an event that does not link to its predecessor.
	ErrChainBroken = errors.New("event chain broken")
)

// EventHash computes the content hash of an event. Sequence and chain fields
// are excluded so the hash is stable before the store assigns them.
func EventHash(evt Event) (string, error) {
	payload := json.RawMessage(evt.PayloadJSON)
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	envelope := map[string]any{
		"conversation_id": evt.ConversationID,
		"timestamp":       evt.Timestamp.UTC().Format(time.RFC3339Nano),
		"event_type":      string(evt.Type),
		"actor_type":      string(evt.ActorType),
		"payload":         payload,
	}
	optional := map[string]string{
		"actor_id":       evt.ActorID,
		"entity_type":    evt.EntityType,
		"entity_id":      evt.EntityID,
		"request_id":     evt.RequestID,
		"correlation_id": evt.CorrelationID,
		"causation_id":   evt.CausationID,
	}
	for key, value := range optional {
		if value != "" {
			envelope[key] = value
		}
	}
	return encoding.ContentHash(envelope)
}

// ChainHash computes the SHA-256 hash that links an event to its predecessor.
// The event's Hash must already be set.
func ChainHash(evt Event, prevHash string) (string, error) {
	if strings.TrimSpace(evt.Hash) == "" {
		return "", errors.New("event hash is required")
	}
	canonical, err := encoding.CanonicalJSON(map[string]any{
		"conversation_id": evt.ConversationID,
		"seq":             evt.Seq,
		"event_hash":      evt.Hash,
		"prev_hash":       prevHash,
	})
	if err != nil {
		return "", fmt.Errorf("canonical chain json: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// Seal assigns seq and the integrity fields, linking evt to prevChainHash.
func Seal(evt Event, seq uint64, prevChainHash string) (Event, error) {
	evt.Seq = seq
	hash, err := EventHash(evt)
	if err != nil {
		return Event{}, fmt.Errorf("compute event hash: %w", err)
	}
	evt.Hash = hash
	evt.PrevHash = prevChainHash
	chainHash, err := ChainHash(evt, prevChainHash)
	if err != nil {
		return Event{}, fmt.Errorf("compute chain hash: %w", err)
	}
	evt.ChainHash = chainHash
	return evt, nil
}

// SealBatch seals events as a contiguous run following afterSeq.
func SealBatch(events []Event, afterSeq uint64, prevChainHash string) ([]Event, error) {
	sealed := make([]Event, len(events))
	prev := prevChainHash
	for i, evt := range events {
		next, err := Seal(evt, afterSeq+uint64(i)+1, prev)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
		sealed[i] = next
		prev = next.ChainHash
	}
	return sealed, nil
}

// VerifyChain checks that events form a contiguous, untampered run following
// afterSeq whose first event links to prevChainHash.
func VerifyChain(events []Event, afterSeq uint64, prevChainHash string) error {
	expectedSeq := afterSeq + 1
	prev := prevChainHash
	for _, evt := range events {
		if evt.Seq != expectedSeq {
			return fmt.Errorf("%w: conversation %s expected seq %d, got %d", ErrSequenceGap, evt.ConversationID, expectedSeq, evt.Seq)
		}
		hash, err := EventHash(evt)
		if err != nil {
			return fmt.Errorf("seq %d: %w", evt.Seq, err)
		}
		if hash != evt.Hash {
			return fmt.Errorf("%w: conversation %s seq %d", ErrHashMismatch, evt.ConversationID, evt.Seq)
		}
		if evt.PrevHash != prev {
			return fmt.Errorf("%w: conversation %s seq %d", ErrChainBroken, evt.ConversationID, evt.Seq)
		}
		chainHash, err := ChainHash(evt, prev)
		if err != nil {
			return fmt.Errorf("seq %d: %w", evt.Seq, err)
		}
		if chainHash != evt.ChainHash {
			return fmt.Errorf("%w: conversation %s seq %d", ErrChainBroken, evt.ConversationID, evt.Seq)
		}
		prev = evt.ChainHash
		expectedSeq++
	}
	return nil
}
