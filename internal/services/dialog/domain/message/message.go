// Package message defines conversation messages and their content variants.
package message

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// MaxBodyBytes caps text bodies and structured payloads.
const MaxBodyBytes = 64 * 1024

var (
	// ErrIDRequired indicates a message without an id.
	ErrIDRequired = errors.New("message id is required")
	// ErrSenderRequired indicates a message without a sender.
	ErrSenderRequired = errors.New("message sender is required")
	// ErrContentRequired indicates a message without content.
	ErrContentRequired = errors.New("message content is required")
	// ErrBodyEmpty indicates a text message with a blank body.
	ErrBodyEmpty = errors.New("message body is empty")
	// ErrBodyTooLarge indicates content above MaxBodyBytes.
	ErrBodyTooLarge = errors.New("message body is too large")
	// ErrFormatTypeRequired indicates structured content without a format type.
	ErrFormatTypeRequired = errors.New("structured format type is required")
	// ErrPayloadInvalid indicates structured content whose payload is not JSON.
	ErrPayloadInvalid = errors.New("structured payload must be valid json")
	// ErrAttachmentInvalid indicates a malformed attachment reference.
	ErrAttachmentInvalid = errors.New("attachment is invalid")
)

var validate = validator.New()

// ContentKind discriminates content variants on the wire.
type ContentKind string

const (
	ContentKindText       ContentKind = "text"
	ContentKindStructured ContentKind = "structured"
)

// Content is the body of a message. Text and Structured are the only variants.
type Content interface {
	ContentKind() ContentKind
	isContent()
}

// Text is plain text content.
type Text struct {
	Body string
}

func (Text) ContentKind() ContentKind { return ContentKindText }
func (Text) isContent()               {}

// Structured is typed machine content such as a tool result or form.
type Structured struct {
	FormatType string
	Payload    json.RawMessage
}

func (Structured) ContentKind() ContentKind { return ContentKindStructured }
func (Structured) isContent()               {}

// Attachment references an object held by an external store. Only the
// reference is ever recorded.
type Attachment struct {
	ObjectID  string `json:"object_id" validate:"required,max=512"`
	MediaType string `json:"media_type" validate:"required,max=255"`
	Name      string `json:"name,omitempty" validate:"max=512"`
	SizeBytes int64  `json:"size_bytes,omitempty" validate:"gte=0"`
}

// Message is one utterance in a conversation.
type Message struct {
	ID          string
	SenderID    string
	Content     Content
	Attachments []Attachment
	Metadata    map[string]string
	// Timestamp is assigned by the conversation when the message is accepted.
	Timestamp time.Time
}

// Record is the serialized form stored in event payloads.
type Record struct {
	ID          string            `json:"id"`
	SenderID    string            `json:"sender_id"`
	Kind        ContentKind       `json:"kind"`
	Body        string            `json:"body,omitempty"`
	FormatType  string            `json:"format_type,omitempty"`
	Payload     json.RawMessage   `json:"payload,omitempty"`
	Attachments []Attachment      `json:"attachments,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// ToRecord converts a message to its serialized form.
func ToRecord(m Message) Record {
	record := Record{
		ID:          m.ID,
		SenderID:    m.SenderID,
		Attachments: append([]Attachment(nil), m.Attachments...),
		Metadata:    maps.Clone(m.Metadata),
	}
	switch c := m.Content.(type) {
	case Text:
		record.Kind = ContentKindText
		record.Body = c.Body
	case Structured:
		record.Kind = ContentKindStructured
		record.FormatType = c.FormatType
		record.Payload = append(json.RawMessage(nil), c.Payload...)
	}
	return record
}

// FromRecord decodes a record, stamping it with timestamp.
func FromRecord(r Record, timestamp time.Time) (Message, error) {
	m := Message{
		ID:          r.ID,
		SenderID:    r.SenderID,
		Attachments: append([]Attachment(nil), r.Attachments...),
		Metadata:    maps.Clone(r.Metadata),
		Timestamp:   timestamp,
	}
	switch r.Kind {
	case ContentKindText:
		m.Content = Text{Body: r.Body}
	case ContentKindStructured:
		m.Content = Structured{FormatType: r.FormatType, Payload: append(json.RawMessage(nil), r.Payload...)}
	default:
		return Message{}, fmt.Errorf("%w: kind %q", ErrContentRequired, r.Kind)
	}
	return m, nil
}

// Normalize trims identifiers and validates content and attachments.
func Normalize(m Message) (Message, error) {
	m.ID = strings.TrimSpace(m.ID)
	m.SenderID = strings.TrimSpace(m.SenderID)
	if m.ID == "" {
		return Message{}, ErrIDRequired
	}
	if m.SenderID == "" {
		return Message{}, ErrSenderRequired
	}
	switch c := m.Content.(type) {
	case Text:
		if strings.TrimSpace(c.Body) == "" {
			return Message{}, ErrBodyEmpty
		}
		if len(c.Body) > MaxBodyBytes {
			return Message{}, ErrBodyTooLarge
		}
	case Structured:
		c.FormatType = strings.TrimSpace(c.FormatType)
		if c.FormatType == "" {
			return Message{}, ErrFormatTypeRequired
		}
		if len(c.Payload) == 0 || !json.Valid(c.Payload) {
			return Message{}, ErrPayloadInvalid
		}
		if len(c.Payload) > MaxBodyBytes {
			return Message{}, ErrBodyTooLarge
		}
		m.Content = c
	default:
		return Message{}, ErrContentRequired
	}
	m.Attachments = append([]Attachment(nil), m.Attachments...)
	for i, attachment := range m.Attachments {
		attachment.ObjectID = strings.TrimSpace(attachment.ObjectID)
		attachment.MediaType = strings.TrimSpace(attachment.MediaType)
		if err := validate.Struct(attachment); err != nil {
			return Message{}, fmt.Errorf("%w: attachment %d: %v", ErrAttachmentInvalid, i, err)
		}
		m.Attachments[i] = attachment
	}
	if len(m.Attachments) == 0 {
		m.Attachments = nil
	}
	if len(m.Metadata) == 0 {
		m.Metadata = nil
	} else {
		m.Metadata = maps.Clone(m.Metadata)
	}
	return m, nil
}

// Preview returns a short single-line summary of the content.
func Preview(c Content, limit int) string {
	var text string
	switch v := c.(type) {
	case Text:
		text = v.Body
	case Structured:
		text = "[" + v.FormatType + "]"
	}
	text = strings.Join(strings.Fields(text), " ")
	if limit > 0 && len([]rune(text)) > limit {
		return string([]rune(text)[:limit]) + "…"
	}
	return text
}
