package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageKind discriminates envelope payloads on the message channel.
type MessageKind string

const (
	KindBidRequest      MessageKind = "bid-request"
	KindBid             MessageKind = "bid"
	KindResponseRequest MessageKind = "response-request"
	KindResponse        MessageKind = "response"
	KindContextUpdate   MessageKind = "context-update"
	KindEnd             MessageKind = "end"
	KindError           MessageKind = "error"
)

var validKinds = map[MessageKind]struct{}{
	KindBidRequest:      {},
	KindBid:             {},
	KindResponseRequest: {},
	KindResponse:        {},
	KindContextUpdate:   {},
	KindEnd:             {},
	KindError:           {},
}

// Envelope is the only externally-visible message shape on the channel.
type Envelope struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversation_id"`
	Turn           int             `json:"turn"`
	SenderID       string          `json:"sender_id"`
	Kind           MessageKind     `json:"kind"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
}

// Validate performs schema validation on an inbound envelope. Malformed
// envelopes are dropped and logged by callers, never fatal to a conversation.
func (e *Envelope) Validate() error {
	if e.ID == "" {
		return NewMalformedMessageError("envelope missing id")
	}
	if e.ConversationID == "" {
		return NewMalformedMessageError("envelope missing conversation id")
	}
	if e.Turn < 0 {
		return NewMalformedMessageError(fmt.Sprintf("envelope has negative turn %d", e.Turn))
	}
	if _, ok := validKinds[e.Kind]; !ok {
		return NewMalformedMessageError(fmt.Sprintf("unknown envelope kind %q", e.Kind))
	}
	return nil
}

// ResponsePayload is the typed payload of a KindResponse envelope.
type ResponsePayload struct {
	Content      string     `json:"content"`
	Usage        TokenUsage `json:"usage"`
	Model        string     `json:"model,omitempty"`
	FinishReason string     `json:"finish_reason,omitempty"`
}

// BidRequestPayload is the typed payload of a KindBidRequest envelope.
type BidRequestPayload struct {
	Deadline time.Time      `json:"deadline"`
	Context  CompactContext `json:"context"`
}

// ResponseRequestPayload is the typed payload of a KindResponseRequest envelope.
type ResponseRequestPayload struct {
	Deadline time.Time      `json:"deadline"`
	Context  CompactContext `json:"context"`
}

// EndPayload is the typed payload of a KindEnd envelope.
type EndPayload struct {
	Reason EndReason `json:"reason"`
	Detail string    `json:"detail,omitempty"`
}

// ErrorPayload is the typed payload of a KindError envelope.
type ErrorPayload struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// DecodePayload decodes an envelope payload into the given typed struct,
// returning a malformed-message error on schema failure. This replaces any
// best-effort pattern scanning with an explicit typed failure path.
func DecodePayload(e *Envelope, v any) error {
	if err := e.Validate(); err != nil {
		return err
	}
	if len(e.Payload) == 0 {
		return NewMalformedMessageError(fmt.Sprintf("%s envelope %s has empty payload", e.Kind, e.ID))
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return NewMalformedMessageError(fmt.Sprintf("decode %s payload: %v", e.Kind, err))
	}
	return nil
}

// EncodePayload marshals a typed payload for embedding in an envelope.
func EncodePayload(v any) (json.RawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return data, nil
}
