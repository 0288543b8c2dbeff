package provider

import "context"

// EventType is the coarse category of a normalized provider event.
type EventType string

const (
	EventTranscription EventType = "transcription"
	EventResponse      EventType = "response"
	EventError         EventType = "error"
	EventSession       EventType = "session"
)

// Provider sub-type tags seen on Payload.Event. The adapter dispatches on
// these; tags it does not know are ignored for forward compatibility.
const (
	SubTranscriptionDelta     = "conversation.item.input_audio_transcription.delta"
	SubTranscriptionCompleted = "conversation.item.input_audio_transcription.completed"
	SubResponseCreated        = "response.created"
	SubTextDelta              = "response.output_text.delta"
	SubTextDone               = "response.output_text.done"
	SubAudioDelta             = "response.output_audio.delta"
	SubAudioDone              = "response.output_audio.done"
	SubReasoningDelta         = "response.reasoning_summary.delta"
	SubAnnotationsDelta       = "response.annotations.delta"
	SubToolArgsDone           = "response.function_call_arguments.done"
	SubResponseDone           = "response.done"
	SubError                  = "error"
)

// Payload carries the normalized fields of one upstream event. Event is the
// provider sub-type tag; the remaining fields are populated per tag.
type Payload struct {
	Event        string
	Text         string
	Delta        string
	AudioBase64  string
	ResponseID   string
	ItemID       string
	ToolName     string
	ToolArgs     string
	ErrorCode    string
	ErrorMessage string
}

// Envelope is the normalized event consumed by the turn engine.
type Envelope struct {
	Type    EventType
	Payload Payload
}

// SessionSettings configures one upstream realtime session.
type SessionSettings struct {
	Instructions   string
	TargetLanguage string
	VADEnabled     bool
	AudioOutput    bool
	TextOutput     bool
}

// Session is an open bidirectional stream to the realtime provider.
type Session interface {
	// SendAudio appends a base64 PCM16 chunk to the provider's input buffer.
	SendAudio(ctx context.Context, audioBase64 string) error
	// CommitAudio marks end of user speech and requests a response.
	CommitAudio(ctx context.Context) error
	// CancelResponse aborts the in-flight model response, if any.
	CancelResponse(ctx context.Context) error
	Close() error
}

// Provider opens realtime sessions. Implementations normalize their wire
// format into Envelope values; they do not retry on failure.
type Provider interface {
	StartSession(ctx context.Context, sessionID string, settings SessionSettings) (Session, <-chan Envelope, error)
}
