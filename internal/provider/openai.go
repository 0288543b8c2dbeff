package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// OpenAIConfig configures the OpenAI Realtime websocket provider.
type OpenAIConfig struct {
	APIKey          string
	BaseURL         string
	Model           string
	TranscribeModel string
}

// OpenAIProvider speaks the OpenAI Realtime protocol over a websocket and
// normalizes its server events into Envelope values.
type OpenAIProvider struct {
	cfg OpenAIConfig
}

func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "wss://api.openai.com/v1/realtime"
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = "gpt-4o-realtime-preview"
	}
	if strings.TrimSpace(cfg.TranscribeModel) == "" {
		cfg.TranscribeModel = "gpt-4o-mini-transcribe"
	}
	return &OpenAIProvider{cfg: cfg}
}

func (p *OpenAIProvider) StartSession(ctx context.Context, _ string, settings SessionSettings) (Session, <-chan Envelope, error) {
	u, err := url.Parse(p.cfg.BaseURL)
	if err != nil {
		return nil, nil, err
	}
	q := u.Query()
	q.Set("model", p.cfg.Model)
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+p.cfg.APIKey)
	headers.Set("OpenAI-Beta", "realtime=v1")

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		return nil, nil, fmt.Errorf("dial realtime websocket: %w", err)
	}

	events := make(chan Envelope, 256)
	s := &openAISession{conn: conn, events: events, done: make(chan struct{})}

	if err := s.sendSessionUpdate(settings, p.cfg.TranscribeModel); err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("session update: %w", err)
	}

	go s.readLoop()
	return s, events, nil
}

type openAISession struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	events    chan Envelope
	done      chan struct{}
}

func (s *openAISession) sendSessionUpdate(settings SessionSettings, transcribeModel string) error {
	modalities := []string{}
	if settings.TextOutput {
		modalities = append(modalities, "text")
	}
	if settings.AudioOutput {
		modalities = append(modalities, "audio")
	}
	if len(modalities) == 0 {
		modalities = append(modalities, "text")
	}

	session := map[string]any{
		"modalities":          modalities,
		"instructions":        settings.Instructions,
		"input_audio_format":  "pcm16",
		"output_audio_format": "pcm16",
		"input_audio_transcription": map[string]any{
			"model":    transcribeModel,
			"language": settings.TargetLanguage,
		},
	}
	if settings.VADEnabled {
		session["turn_detection"] = map[string]any{"type": "server_vad"}
	} else {
		session["turn_detection"] = nil
	}

	return s.writeJSON(map[string]any{"type": "session.update", "session": session})
}

func (s *openAISession) SendAudio(_ context.Context, audioBase64 string) error {
	return s.writeJSON(map[string]any{
		"type":  "input_audio_buffer.append",
		"audio": audioBase64,
	})
}

func (s *openAISession) CommitAudio(_ context.Context) error {
	if err := s.writeJSON(map[string]any{"type": "input_audio_buffer.commit"}); err != nil {
		return err
	}
	return s.writeJSON(map[string]any{"type": "response.create"})
}

func (s *openAISession) CancelResponse(_ context.Context) error {
	return s.writeJSON(map[string]any{"type": "response.cancel"})
}

func (s *openAISession) writeJSON(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(v)
}

// serverEvent is the superset of incoming OpenAI Realtime event fields this
// gateway cares about. Field presence depends on the event type.
type serverEvent struct {
	Type       string `json:"type"`
	Delta      string `json:"delta,omitempty"`
	Text       string `json:"text,omitempty"`
	Transcript string `json:"transcript,omitempty"`
	ItemID     string `json:"item_id,omitempty"`
	Name       string `json:"name,omitempty"`
	Arguments  string `json:"arguments,omitempty"`
	Response   *struct {
		ID string `json:"id"`
	} `json:"response,omitempty"`
	Error *struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// readLoop is the sole sender on s.events and closes it when the socket
// drops, so Close never races a send on a closed channel.
func (s *openAISession) readLoop() {
	defer close(s.events)
	defer s.closeConn()
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		var ev serverEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			continue
		}
		env, ok := normalizeServerEvent(ev)
		if !ok {
			continue
		}
		select {
		case s.events <- env:
		case <-s.done:
			return
		}
	}
}

// normalizeServerEvent maps one wire event to the envelope the engine
// consumes. Events the engine has no use for are dropped here.
func normalizeServerEvent(ev serverEvent) (Envelope, bool) {
	switch ev.Type {
	case SubTranscriptionDelta:
		return Envelope{Type: EventTranscription, Payload: Payload{Event: ev.Type, Delta: ev.Delta, Text: ev.Delta, ItemID: ev.ItemID}}, true
	case SubTranscriptionCompleted:
		return Envelope{Type: EventTranscription, Payload: Payload{Event: ev.Type, Text: ev.Transcript, ItemID: ev.ItemID}}, true
	case SubResponseCreated, SubResponseDone:
		responseID := ""
		if ev.Response != nil {
			responseID = ev.Response.ID
		}
		return Envelope{Type: EventResponse, Payload: Payload{Event: ev.Type, ResponseID: responseID}}, true
	case SubTextDelta, SubReasoningDelta, SubAnnotationsDelta:
		return Envelope{Type: EventResponse, Payload: Payload{Event: ev.Type, Delta: ev.Delta}}, true
	case SubTextDone:
		return Envelope{Type: EventResponse, Payload: Payload{Event: ev.Type, Text: ev.Text}}, true
	case SubAudioDelta:
		return Envelope{Type: EventResponse, Payload: Payload{Event: ev.Type, AudioBase64: ev.Delta}}, true
	case SubAudioDone:
		return Envelope{Type: EventResponse, Payload: Payload{Event: ev.Type}}, true
	case SubToolArgsDone:
		return Envelope{Type: EventResponse, Payload: Payload{Event: ev.Type, ToolName: ev.Name, ToolArgs: ev.Arguments}}, true
	case SubError:
		p := Payload{Event: SubError}
		if ev.Error != nil {
			p.ErrorCode = ev.Error.Code
			p.ErrorMessage = ev.Error.Message
		}
		return Envelope{Type: EventError, Payload: p}, true
	default:
		// session.created, rate_limits.updated, buffer acks and future event
		// types are irrelevant to turn sequencing.
		return Envelope{}, false
	}
}

// Close tears down the socket. The event channel is closed by readLoop once
// its pending read fails.
func (s *openAISession) Close() error {
	s.closeConn()
	return nil
}

func (s *openAISession) closeConn() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}
