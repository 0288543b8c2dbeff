package realtime

import (
	"testing"

	"github.com/iammarcin/backend-sub006/internal/provider"
	"github.com/iammarcin/backend-sub006/internal/reliability"
	"github.com/iammarcin/backend-sub006/internal/session"
	"github.com/iammarcin/backend-sub006/internal/streaming"
)

func newTestAdapter(t *testing.T, settings session.Settings) (*Adapter, *TurnState, *TurnContext, *streaming.Manager, <-chan streaming.StreamEvent) {
	t.Helper()
	state := NewTurnState()
	if err := state.ConfigureForModalities(settings.AudioOutput, settings.TextOutput, settings.AudioInput); err != nil {
		t.Fatalf("ConfigureForModalities() error = %v", err)
	}
	if err := state.StartUserTurn(); err != nil {
		t.Fatalf("StartUserTurn() error = %v", err)
	}
	turnCtx := NewTurnContext()
	streams := streaming.NewManager()
	q := streams.AddQueue(16)
	a := NewAdapter(state, turnCtx, streams, "s1", settings, nil, nil)
	return a, state, turnCtx, streams, q
}

func envelope(event string, p provider.Payload) provider.Envelope {
	p.Event = event
	return provider.Envelope{Payload: p}
}

func drainEvents(q <-chan streaming.StreamEvent) []streaming.StreamEvent {
	var out []streaming.StreamEvent
	for {
		select {
		case ev := <-q:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestAdapterTranscriptionDeltaUpdatesContextNotStream(t *testing.T) {
	a, _, turnCtx, streams, q := newTestAdapter(t, session.Settings{
		AudioInput: true, TextOutput: true, LiveTranslation: true,
	})

	if err := a.HandleProviderEvent(envelope(provider.SubTranscriptionDelta, provider.Payload{Text: "Hola"})); err != nil {
		t.Fatalf("HandleProviderEvent() error = %v", err)
	}
	if err := a.HandleProviderEvent(envelope(provider.SubTranscriptionDelta, provider.Payload{Text: "mundo"})); err != nil {
		t.Fatalf("HandleProviderEvent() error = %v", err)
	}

	if got := turnCtx.LiveTranslationText(); got != "Hola mundo" {
		t.Fatalf("LiveTranslationText() = %q, want %q", got, "Hola mundo")
	}
	if evs := drainEvents(q); len(evs) != 0 {
		t.Fatalf("transcription deltas pushed %d stream events, want 0", len(evs))
	}
	if chunks := streams.Results(ResultsKeyTranslationChunks); len(chunks) != 2 {
		t.Fatalf("accumulated chunks = %d, want 2", len(chunks))
	}
}

func TestAdapterTranscriptionDeltaAccumulatesWithPreviewOff(t *testing.T) {
	a, _, turnCtx, streams, _ := newTestAdapter(t, session.Settings{
		AudioInput: true, TextOutput: true, LiveTranslation: false,
	})

	if err := a.HandleProviderEvent(envelope(provider.SubTranscriptionDelta, provider.Payload{Text: "Hola"})); err != nil {
		t.Fatalf("HandleProviderEvent() error = %v", err)
	}

	if turnCtx.LiveTranslationText() != "" {
		t.Fatalf("live preview updated with translation disabled")
	}
	if chunks := streams.Results(ResultsKeyTranslationChunks); len(chunks) != 1 {
		t.Fatalf("accumulated chunks = %d, want 1", len(chunks))
	}
}

func TestAdapterTranscriptionCompletedIdempotent(t *testing.T) {
	a, state, turnCtx, streams, _ := newTestAdapter(t, session.Settings{
		AudioInput: true, TextOutput: true, LiveTranslation: true,
	})

	done := envelope(provider.SubTranscriptionCompleted, provider.Payload{Text: "Hola mundo."})
	if err := a.HandleProviderEvent(done); err != nil {
		t.Fatalf("HandleProviderEvent() error = %v", err)
	}
	if err := a.HandleProviderEvent(done); err != nil {
		t.Fatalf("repeat HandleProviderEvent() error = %v", err)
	}

	if !state.HasUserTranscript() {
		t.Fatalf("transcript flag not set")
	}
	if got := turnCtx.LiveTranslationText(); got != "Hola mundo." {
		t.Fatalf("LiveTranslationText() = %q, want final text", got)
	}
	if chunks := streams.Results(ResultsKeyTranslationChunks); len(chunks) != 1 {
		t.Fatalf("duplicate final stored %d entries, want 1", len(chunks))
	}
}

func TestAdapterResponseLifecycle(t *testing.T) {
	a, state, _, streams, q := newTestAdapter(t, session.Settings{
		AudioInput: true, TextOutput: true, AudioOutput: true,
	})

	if err := a.HandleProviderEvent(envelope(provider.SubResponseCreated, provider.Payload{ResponseID: "resp_9"})); err != nil {
		t.Fatalf("response.created error = %v", err)
	}
	if state.Phase() != PhaseAIResponse || state.ResponseID() != "resp_9" {
		t.Fatalf("state after response.created: phase=%s id=%s", state.Phase(), state.ResponseID())
	}

	if err := a.HandleProviderEvent(envelope(provider.SubTextDelta, provider.Payload{Delta: "Hi "})); err != nil {
		t.Fatalf("text delta error = %v", err)
	}
	if err := a.HandleProviderEvent(envelope(provider.SubTextDelta, provider.Payload{Delta: "there"})); err != nil {
		t.Fatalf("text delta error = %v", err)
	}
	if err := a.HandleProviderEvent(envelope(provider.SubTextDone, provider.Payload{})); err != nil {
		t.Fatalf("text done error = %v", err)
	}
	if err := a.HandleProviderEvent(envelope(provider.SubAudioDelta, provider.Payload{AudioBase64: "AAEC"})); err != nil {
		t.Fatalf("audio delta error = %v", err)
	}
	if err := a.HandleProviderEvent(envelope(provider.SubAudioDone, provider.Payload{})); err != nil {
		t.Fatalf("audio done error = %v", err)
	}
	if err := a.HandleProviderEvent(envelope(provider.SubTranscriptionCompleted, provider.Payload{Text: "hello"})); err != nil {
		t.Fatalf("transcription completed error = %v", err)
	}
	if err := a.HandleProviderEvent(envelope(provider.SubResponseDone, provider.Payload{})); err != nil {
		t.Fatalf("response done error = %v", err)
	}

	if !state.IsTurnComplete() {
		t.Fatalf("turn incomplete after full event sequence")
	}

	evs := drainEvents(q)
	var texts, audios int
	for _, ev := range evs {
		switch ev.Type {
		case streaming.EventText:
			texts++
		case streaming.EventAudio:
			audios++
		}
	}
	if texts != 2 || audios != 1 {
		t.Fatalf("stream events: %d text, %d audio; want 2 and 1", texts, audios)
	}
	if got := streams.Results(ResultsKeyResponseText); len(got) != 2 {
		t.Fatalf("response text accumulator = %d entries, want 2", len(got))
	}
}

func TestAdapterUnknownTagIsNoOp(t *testing.T) {
	a, state, _, _, q := newTestAdapter(t, session.Settings{AudioInput: true, TextOutput: true})

	if err := a.HandleProviderEvent(envelope("response.some_future_thing.delta", provider.Payload{Delta: "x"})); err != nil {
		t.Fatalf("unknown tag error = %v", err)
	}
	if evs := drainEvents(q); len(evs) != 0 {
		t.Fatalf("unknown tag pushed %d events, want 0", len(evs))
	}
	if state.Phase() != PhaseUserTurn {
		t.Fatalf("unknown tag changed phase to %s", state.Phase())
	}
}

func TestAdapterVADEmptyCommitIsSilent(t *testing.T) {
	a, _, _, _, q := newTestAdapter(t, session.Settings{
		AudioInput: true, TextOutput: true, VADEnabled: true,
	})

	err := a.HandleProviderEvent(envelope(provider.SubError, provider.Payload{
		ErrorCode:    reliability.CodeBufferCommitEmpty,
		ErrorMessage: "buffer too small",
	}))
	if err != nil {
		t.Fatalf("expected nil for VAD artifact, got %v", err)
	}
	if evs := drainEvents(q); len(evs) != 0 {
		t.Fatalf("VAD artifact pushed %d events, want 0", len(evs))
	}
}

func TestAdapterEmptyCommitWithoutVADIsReal(t *testing.T) {
	a, _, _, _, _ := newTestAdapter(t, session.Settings{
		AudioInput: true, TextOutput: true, VADEnabled: false,
	})

	err := a.HandleProviderEvent(envelope(provider.SubError, provider.Payload{
		ErrorCode: reliability.CodeBufferCommitEmpty,
	}))
	// Informational either way, but it must at least hit the classifier
	// rather than the VAD fast path.
	if err != nil {
		t.Fatalf("informational code returned error %v", err)
	}
}

func TestAdapterFatalErrorSanitizedAndReturned(t *testing.T) {
	a, _, _, _, q := newTestAdapter(t, session.Settings{AudioInput: true, TextOutput: true})

	rtErr := a.HandleProviderEvent(envelope(provider.SubError, provider.Payload{
		ErrorCode:    "invalid_api_key",
		ErrorMessage: "key sk-abc123 was rejected",
	}))
	if rtErr == nil {
		t.Fatalf("fatal error not surfaced")
	}
	if !rtErr.CloseSession {
		t.Fatalf("invalid_api_key must close the session")
	}

	evs := drainEvents(q)
	if len(evs) != 1 || evs[0].Type != streaming.EventError {
		t.Fatalf("stream events = %+v, want one error event", evs)
	}
	payload, ok := evs[0].Content.(reliability.ClientPayload)
	if !ok {
		t.Fatalf("error content type = %T", evs[0].Content)
	}
	if payload.Recoverable {
		t.Fatalf("fatal error marked recoverable")
	}
	if payload.Message == "key sk-abc123 was rejected" {
		t.Fatalf("provider detail leaked to the client")
	}
}

func TestAdapterUnknownErrorCodeFailsClosed(t *testing.T) {
	a, _, _, _, _ := newTestAdapter(t, session.Settings{AudioInput: true, TextOutput: true})

	rtErr := a.HandleProviderEvent(envelope(provider.SubError, provider.Payload{
		ErrorCode: "entirely_new_failure_mode",
	}))
	if rtErr == nil || !rtErr.CloseSession {
		t.Fatalf("unknown code must classify fatal, got %+v", rtErr)
	}
}

func TestAdapterResetTurnClearsAccumulators(t *testing.T) {
	a, _, _, streams, _ := newTestAdapter(t, session.Settings{AudioInput: true, TextOutput: true})

	if err := a.HandleProviderEvent(envelope(provider.SubTranscriptionCompleted, provider.Payload{Text: "hello"})); err != nil {
		t.Fatalf("transcription completed error = %v", err)
	}
	if err := a.HandleProviderEvent(envelope(provider.SubTextDelta, provider.Payload{Delta: "hi"})); err != nil {
		t.Fatalf("text delta error = %v", err)
	}

	a.ResetTurn()

	if got := streams.Results(ResultsKeyTranslationChunks); len(got) != 0 {
		t.Fatalf("translation chunks survive reset: %d", len(got))
	}
	if got := streams.Results(ResultsKeyResponseText); len(got) != 0 {
		t.Fatalf("response text survives reset: %d", len(got))
	}

	// A new final after reset stores again.
	if err := a.HandleProviderEvent(envelope(provider.SubTranscriptionCompleted, provider.Payload{Text: "again"})); err != nil {
		t.Fatalf("transcription completed error = %v", err)
	}
	if got := streams.Results(ResultsKeyTranslationChunks); len(got) != 1 {
		t.Fatalf("post-reset final stored %d entries, want 1", len(got))
	}
}
