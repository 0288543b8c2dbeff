package provider

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
)

// MockProvider is a local fallback provider used when no API key is
// configured. Each committed utterance yields one deterministic scripted turn.
type MockProvider struct{}

func NewMockProvider() *MockProvider { return &MockProvider{} }

func (p *MockProvider) StartSession(_ context.Context, _ string, settings SessionSettings) (Session, <-chan Envelope, error) {
	events := make(chan Envelope, 256)
	s := &mockSession{events: events, settings: settings}
	return s, events, nil
}

type mockSession struct {
	mu       sync.Mutex
	events   chan Envelope
	settings SessionSettings
	chunks   int
	turns    int
	closed   bool
}

func (s *mockSession) SendAudio(_ context.Context, audioBase64 string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.chunks++
	if audioBase64 != "" {
		s.emit(Envelope{Type: EventTranscription, Payload: Payload{Event: SubTranscriptionDelta, Delta: "...", Text: "..."}})
	}
	return nil
}

func (s *mockSession) CommitAudio(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	if s.chunks == 0 {
		// Mirror the provider-side VAD artifact for an empty commit.
		s.emit(Envelope{Type: EventError, Payload: Payload{
			Event:        SubError,
			ErrorCode:    "input_audio_buffer_commit_empty",
			ErrorMessage: "buffer only contains 0.00ms of audio",
		}})
		return nil
	}

	s.turns++
	responseID := fmt.Sprintf("resp_mock_%d", s.turns)
	s.emit(Envelope{Type: EventTranscription, Payload: Payload{Event: SubTranscriptionCompleted, Text: "simulated user utterance"}})
	s.emit(Envelope{Type: EventResponse, Payload: Payload{Event: SubResponseCreated, ResponseID: responseID}})
	if s.settings.TextOutput {
		s.emit(Envelope{Type: EventResponse, Payload: Payload{Event: SubTextDelta, Delta: "simulated "}})
		s.emit(Envelope{Type: EventResponse, Payload: Payload{Event: SubTextDelta, Delta: "reply"}})
		s.emit(Envelope{Type: EventResponse, Payload: Payload{Event: SubTextDone, Text: "simulated reply"}})
	}
	if s.settings.AudioOutput {
		pcm := base64.StdEncoding.EncodeToString([]byte("mock-pcm"))
		s.emit(Envelope{Type: EventResponse, Payload: Payload{Event: SubAudioDelta, AudioBase64: pcm}})
		s.emit(Envelope{Type: EventResponse, Payload: Payload{Event: SubAudioDone}})
	}
	s.emit(Envelope{Type: EventResponse, Payload: Payload{Event: SubResponseDone, ResponseID: responseID}})
	s.chunks = 0
	return nil
}

func (s *mockSession) CancelResponse(_ context.Context) error { return nil }

func (s *mockSession) emit(env Envelope) {
	select {
	case s.events <- env:
	default:
		// Scripted sessions should never outrun a 256-slot buffer; dropping
		// beats blocking a test forever if one does.
	}
}

func (s *mockSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.events)
	return nil
}
