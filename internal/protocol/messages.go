package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/iammarcin/backend-sub006/internal/reliability"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientAudioChunk        MessageType = "client_audio_chunk"
	TypeClientControl           MessageType = "client_control"
	TypeTranslationPartial      MessageType = "translation_partial"
	TypeTranslationCommitted    MessageType = "translation_committed"
	TypeAssistantTextDelta      MessageType = "assistant_text_delta"
	TypeAssistantReasoningDelta MessageType = "assistant_reasoning_delta"
	TypeAssistantCitations      MessageType = "assistant_citations"
	TypeAssistantAudio          MessageType = "assistant_audio_chunk"
	TypeTurnComplete            MessageType = "turn_complete"
	TypeSystemEvent             MessageType = "system_event"
	TypeErrorEvent              MessageType = "realtime.error"
)

// Client control actions.
const (
	ActionCommit = "commit"
	ActionCancel = "cancel"
	ActionStop   = "stop"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

type ClientAudioChunk struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	Seq         int         `json:"seq"`
	PCM16Base64 string      `json:"pcm16_base64"`
	SampleRate  int         `json:"sample_rate"`
	TSMs        int64       `json:"ts_ms"`
}

type ClientControl struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Action    string      `json:"action"`
	TSMs      int64       `json:"ts_ms,omitempty"`
}

// TranslationPartial is the live preview of the user's speech, rebuilt and
// re-sent whole after every transcription fragment.
type TranslationPartial struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Text      string      `json:"text"`
	TSMs      int64       `json:"ts_ms"`
}

// TranslationCommitted carries the final transcript for the turn.
type TranslationCommitted struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Text      string      `json:"text"`
	TSMs      int64       `json:"ts_ms"`
}

type AssistantTextDelta struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	TurnID    string      `json:"turn_id"`
	TextDelta string      `json:"text_delta"`
}

type AssistantReasoningDelta struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	TurnID    string      `json:"turn_id"`
	TextDelta string      `json:"text_delta"`
	Tool      string      `json:"tool,omitempty"`
}

type AssistantCitations struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	TurnID    string      `json:"turn_id"`
	Delta     string      `json:"delta"`
}

type AssistantAudioChunk struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	TurnID      string      `json:"turn_id"`
	Seq         int         `json:"seq"`
	Format      string      `json:"format"`
	AudioBase64 string      `json:"audio_base64"`
}

type TurnComplete struct {
	Type       MessageType `json:"type"`
	SessionID  string      `json:"session_id"`
	TurnID     string      `json:"turn_id"`
	Reason     string      `json:"reason"`
	DurationMS int64       `json:"duration_ms,omitempty"`
}

type SystemEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Detail    string      `json:"detail,omitempty"`
}

// ErrorEvent wraps the sanitized client view of an upstream failure.
type ErrorEvent struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	Code        string      `json:"code"`
	Message     string      `json:"message"`
	Recoverable bool        `json:"recoverable"`
}

// ErrorFromPayload lifts a sanitized reliability payload into the wire shape.
func ErrorFromPayload(sessionID, code string, p reliability.ClientPayload) ErrorEvent {
	return ErrorEvent{
		Type:        TypeErrorEvent,
		SessionID:   sessionID,
		Code:        code,
		Message:     p.Message,
		Recoverable: p.Recoverable,
	}
}

// ParseClientMessage decodes and validates one inbound websocket frame. Only
// client-originated types are accepted; server-to-client types coming back in
// are rejected like any other unknown type.
func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientAudioChunk:
		var msg ClientAudioChunk
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.PCM16Base64 == "" || msg.SampleRate <= 0 {
			return nil, errors.New("invalid client_audio_chunk")
		}
		return msg, nil
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.Action == "" {
			return nil, errors.New("invalid client_control")
		}
		switch msg.Action {
		case ActionCommit, ActionCancel, ActionStop:
		default:
			return nil, fmt.Errorf("unknown control action %q", msg.Action)
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
