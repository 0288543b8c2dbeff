package realtime

import (
	"log/slog"

	"github.com/iammarcin/backend-sub006/internal/observability"
	"github.com/iammarcin/backend-sub006/internal/provider"
	"github.com/iammarcin/backend-sub006/internal/reliability"
	"github.com/iammarcin/backend-sub006/internal/session"
	"github.com/iammarcin/backend-sub006/internal/streaming"
)

// Accumulator keys. Results collected under these keys survive queue
// eviction, so persistence sees the full turn even when a slow consumer
// shed stream events.
const (
	// ResultsKeyTranslationChunks collects raw transcription chunks plus the
	// final text for later assembly.
	ResultsKeyTranslationChunks = "translation_chunks"
	// ResultsKeyResponseText collects assistant text deltas in arrival order.
	ResultsKeyResponseText = "response_text"
)

// Adapter consumes normalized provider envelopes and applies them to the
// turn's state machine, translation context and fan-out hub. It is owned by
// one session task and never called concurrently.
type Adapter struct {
	state     *TurnState
	turnCtx   *TurnContext
	streams   *streaming.Manager
	sessionID string
	settings  session.Settings
	metrics   *observability.Metrics
	log       *slog.Logger

	finalTranscriptStored bool
}

func NewAdapter(
	state *TurnState,
	turnCtx *TurnContext,
	streams *streaming.Manager,
	sessionID string,
	settings session.Settings,
	metrics *observability.Metrics,
	log *slog.Logger,
) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{
		state:     state,
		turnCtx:   turnCtx,
		streams:   streams,
		sessionID: sessionID,
		settings:  settings,
		metrics:   metrics,
		log:       log,
	}
}

// ResetTurn clears per-turn adapter bookkeeping between turns.
func (a *Adapter) ResetTurn() {
	a.finalTranscriptStored = false
	a.streams.ResetResults(ResultsKeyTranslationChunks)
	a.streams.ResetResults(ResultsKeyResponseText)
}

// HandleProviderEvent dispatches one envelope. Unknown sub-type tags are
// no-ops so newer provider protocol revisions cannot break the session.
// The returned error, when non-nil, tells the session loop how to react to
// an upstream failure; all other events return nil.
func (a *Adapter) HandleProviderEvent(env provider.Envelope) *reliability.RealtimeError {
	switch env.Payload.Event {
	case provider.SubTranscriptionDelta:
		a.handleTranscriptionDelta(env.Payload)
	case provider.SubTranscriptionCompleted:
		a.handleTranscriptionCompleted(env.Payload)
	case provider.SubResponseCreated:
		if err := a.state.StartAIResponse(env.Payload.ResponseID); err != nil {
			// Duplicate response.created for the same turn; keep the first id.
			a.log.Debug("ignoring response start", "session_id", a.sessionID, "err", err)
		}
	case provider.SubTextDelta:
		a.streams.AppendResult(ResultsKeyResponseText, env.Payload.Delta)
		a.streams.Push(streaming.StreamEvent{Type: streaming.EventText, Content: env.Payload.Delta})
	case provider.SubTextDone:
		a.state.SetAIText()
	case provider.SubAudioDelta:
		a.streams.Push(streaming.StreamEvent{Type: streaming.EventAudio, Content: env.Payload.AudioBase64})
	case provider.SubAudioDone:
		a.state.SetAIAudio()
	case provider.SubReasoningDelta:
		a.streams.Push(streaming.StreamEvent{Type: streaming.EventReasoning, Content: env.Payload.Delta})
	case provider.SubAnnotationsDelta:
		a.streams.Push(streaming.StreamEvent{Type: streaming.EventCitations, Content: env.Payload.Delta})
	case provider.SubToolArgsDone:
		a.streams.Push(streaming.StreamEvent{
			Type:     streaming.EventReasoning,
			Content:  env.Payload.ToolArgs,
			Metadata: map[string]string{"tool": env.Payload.ToolName},
		})
	case provider.SubResponseDone:
		a.state.MarkResponseDone()
	case provider.SubError:
		return a.handleProviderError(env.Payload)
	default:
		// Forward compatibility: tags we do not know are silently skipped.
	}
	return nil
}

func (a *Adapter) handleTranscriptionDelta(p provider.Payload) {
	if a.settings.LiveTranslation {
		a.turnCtx.AppendLiveTranslation(p.Text, false)
	}
	// Raw chunks are always accumulated, even with the live preview off.
	a.streams.AppendResult(ResultsKeyTranslationChunks, p.Text)
}

func (a *Adapter) handleTranscriptionCompleted(p provider.Payload) {
	a.turnCtx.AppendLiveTranslation(p.Text, true)
	a.state.SetUserTranscript()
	if a.finalTranscriptStored {
		// Duplicate terminal signal: the flag is re-asserted and the final
		// text above overwrote the context, but the results list keeps a
		// single final entry.
		return
	}
	a.finalTranscriptStored = true
	a.streams.AppendResult(ResultsKeyTranslationChunks, p.Text)
}

func (a *Adapter) handleProviderError(p provider.Payload) *reliability.RealtimeError {
	if reliability.IsExpectedVADError(p.ErrorCode, a.settings.VADEnabled) {
		a.log.Debug("vad commit on empty buffer",
			"session_id", a.sessionID,
			"code", p.ErrorCode)
		if a.metrics != nil {
			a.metrics.ProviderErrors.WithLabelValues(p.ErrorCode, string(reliability.SeverityInformational)).Inc()
		}
		return nil
	}

	rtErr := reliability.FromClassification(p.ErrorCode, p.ErrorMessage)
	if a.metrics != nil {
		a.metrics.ProviderErrors.WithLabelValues(rtErr.Code, string(rtErr.Severity)).Inc()
	}
	a.log.Error("provider error", "session_id", a.sessionID, "detail", rtErr.ToLogMessage())

	if rtErr.Severity == reliability.SeverityInformational {
		return nil
	}

	a.streams.Push(streaming.StreamEvent{
		Type:     streaming.EventError,
		Content:  rtErr.ToClientPayload(),
		Metadata: map[string]string{"code": rtErr.Code},
	})
	return rtErr
}
