// Package realtime drives conversational turns over a bidirectional provider
// stream: it owns the per-turn state machine, the live translation context,
// the provider event adapter and the session loop tying them together.
package realtime

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iammarcin/backend-sub006/internal/audio"
	"github.com/iammarcin/backend-sub006/internal/history"
	"github.com/iammarcin/backend-sub006/internal/observability"
	"github.com/iammarcin/backend-sub006/internal/protocol"
	"github.com/iammarcin/backend-sub006/internal/provider"
	"github.com/iammarcin/backend-sub006/internal/registry"
	"github.com/iammarcin/backend-sub006/internal/reliability"
	"github.com/iammarcin/backend-sub006/internal/session"
	"github.com/iammarcin/backend-sub006/internal/streaming"
)

const (
	persistTimeout      = 2 * time.Second
	criticalSendTimeout = 600 * time.Millisecond
)

// Engine runs realtime sessions against a streaming provider. One Engine
// serves the whole process; each websocket connection gets its own
// RunConnection call with private turn state.
type Engine struct {
	sessions  *session.Manager
	provider  provider.Provider
	store     history.Store
	conns     *registry.Registry
	validator *audio.Validator
	metrics   *observability.Metrics
	log       *slog.Logger

	instructions    string
	streamQueueSize int
}

func NewEngine(
	sessions *session.Manager,
	prov provider.Provider,
	store history.Store,
	conns *registry.Registry,
	validator *audio.Validator,
	metrics *observability.Metrics,
	log *slog.Logger,
	instructions string,
	streamQueueSize int,
) *Engine {
	if log == nil {
		log = slog.Default()
	}
	if streamQueueSize <= 0 {
		streamQueueSize = 64
	}
	return &Engine{
		sessions:        sessions,
		provider:        prov,
		store:           store,
		conns:           conns,
		validator:       validator,
		metrics:         metrics,
		log:             log,
		instructions:    instructions,
		streamQueueSize: streamQueueSize,
	}
}

// RunConnection drives the session lifecycle for one websocket connection.
// It returns nil on orderly shutdown (context cancelled, inbound closed) and
// the fatal error when the upstream session cannot continue.
func (e *Engine) RunConnection(ctx context.Context, s *session.Session, inbound <-chan any, outbound chan<- any) error {
	provSession, provEvents, err := e.provider.StartSession(ctx, s.ID, provider.SessionSettings{
		Instructions:   e.instructions,
		TargetLanguage: s.Settings.TargetLanguage,
		VADEnabled:     s.Settings.VADEnabled,
		AudioOutput:    s.Settings.AudioOutput,
		TextOutput:     s.Settings.TextOutput,
	})
	if err != nil {
		e.send(ctx, outbound, protocol.ErrorEvent{
			Type:        protocol.TypeErrorEvent,
			SessionID:   s.ID,
			Code:        "provider_connect_failed",
			Message:     "Could not reach the realtime provider.",
			Recoverable: true,
		}, true)
		return err
	}
	defer provSession.Close()

	state := NewTurnState()
	if err := state.ConfigureForModalities(s.Settings.AudioOutput, s.Settings.TextOutput, s.Settings.AudioInput); err != nil {
		return err
	}
	turnCtx := NewTurnContext()

	streams := streaming.NewManager()
	streams.SetDropHandler(func(idx int, evicted streaming.StreamEvent) {
		if e.metrics != nil {
			e.metrics.FanoutDrops.WithLabelValues(consumerName(idx)).Inc()
		}
	})
	clientQueue := streams.AddQueue(e.streamQueueSize)
	auditQueue := streams.AddQueue(e.streamQueueSize)
	go e.drainAudit(ctx, s.ID, auditQueue)

	adapter := NewAdapter(state, turnCtx, streams, s.ID, s.Settings, e.metrics, e.log)

	e.log.Info("session loop started",
		"session_id", s.ID,
		"user_id", s.UserID,
		"vad", s.Settings.VADEnabled,
		"live_translation", s.Settings.LiveTranslation)
	if e.metrics != nil {
		e.metrics.SessionEvents.WithLabelValues("loop_start").Inc()
	}

	audioSeq := 0

	abort := func(reason string) {
		if state.Phase() == PhaseUserTurn || state.Phase() == PhaseAIResponse {
			cancelCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			_ = provSession.CancelResponse(cancelCtx)
			cancel()
			state.MarkCancelled()
			streams.SignalCompletion(reason)
		}
	}

	for {
		select {
		case <-ctx.Done():
			abort("connection_closed")
			return nil

		case msg, ok := <-inbound:
			if !ok {
				abort("connection_closed")
				return nil
			}
			if err := e.handleClientMessage(ctx, s, msg, provSession, state, streams, adapter, turnCtx, clientQueue, outbound, &audioSeq); err != nil {
				return err
			}

		case env, ok := <-provEvents:
			if !ok {
				// Upstream closed underneath us. An in-flight turn is lost.
				abort("provider_closed")
				e.send(ctx, outbound, protocol.ErrorEvent{
					Type:        protocol.TypeErrorEvent,
					SessionID:   s.ID,
					Code:        "provider_stream_closed",
					Message:     "The realtime provider closed the stream.",
					Recoverable: false,
				}, true)
				return nil
			}
			if err := e.handleProviderEnvelope(ctx, s, env, adapter, state, turnCtx, streams, clientQueue, outbound, &audioSeq); err != nil {
				return err
			}

		case ev := <-clientQueue:
			e.forwardStreamEvent(ctx, s, ev, state, outbound, &audioSeq)
		}
	}
}

func (e *Engine) handleClientMessage(
	ctx context.Context,
	s *session.Session,
	msg any,
	provSession provider.Session,
	state *TurnState,
	streams *streaming.Manager,
	adapter *Adapter,
	turnCtx *TurnContext,
	clientQueue <-chan streaming.StreamEvent,
	outbound chan<- any,
	audioSeq *int,
) error {
	switch m := msg.(type) {
	case protocol.ClientAudioChunk:
		_ = e.sessions.Touch(s.ID)
		if e.metrics != nil {
			e.metrics.WSMessages.WithLabelValues("in", string(protocol.TypeClientAudioChunk)).Inc()
		}

		if err := e.validator.ValidateRate(m.SampleRate); err != nil {
			var vErr *audio.ValidationError
			if errors.As(err, &vErr) {
				e.rejectAudio(ctx, s.ID, outbound, vErr.Reason, vErr.Detail)
			}
			return nil
		}
		raw, err := base64.StdEncoding.DecodeString(m.PCM16Base64)
		if err != nil {
			e.rejectAudio(ctx, s.ID, outbound, "invalid_base64", "audio payload is not valid base64")
			return nil
		}
		if err := e.validator.ValidateFormat(raw, audio.FormatPCM16); err != nil {
			reason, detail := "invalid_audio", err.Error()
			var vErr *audio.ValidationError
			if errors.As(err, &vErr) {
				reason, detail = vErr.Reason, vErr.Detail
			}
			e.rejectAudio(ctx, s.ID, outbound, reason, detail)
			return nil
		}

		// First accepted frame after a finished turn opens the next one.
		switch state.Phase() {
		case PhaseCompleted, PhaseCancelled:
			if err := state.Reset(); err != nil {
				return err
			}
			fallthrough
		case PhaseIdle:
			if err := state.StartUserTurn(); err != nil {
				return err
			}
			turnCtx.Reset()
			adapter.ResetTurn()
			*audioSeq = 0
		}

		if err := provSession.SendAudio(ctx, m.PCM16Base64); err != nil {
			e.log.Warn("send audio failed", "session_id", s.ID, "err", err)
			e.send(ctx, outbound, protocol.ErrorEvent{
				Type:        protocol.TypeErrorEvent,
				SessionID:   s.ID,
				Code:        "provider_send_failed",
				Message:     "Could not forward audio upstream, please retry.",
				Recoverable: true,
			}, true)
		}
		return nil

	case protocol.ClientControl:
		_ = e.sessions.Touch(s.ID)
		if e.metrics != nil {
			e.metrics.WSMessages.WithLabelValues("in", string(protocol.TypeClientControl)).Inc()
		}

		switch m.Action {
		case protocol.ActionCommit, protocol.ActionStop:
			if err := provSession.CommitAudio(ctx); err != nil {
				e.log.Warn("commit failed", "session_id", s.ID, "err", err)
			}
		case protocol.ActionCancel:
			if err := provSession.CancelResponse(ctx); err != nil {
				e.log.Warn("cancel failed", "session_id", s.ID, "err", err)
			}
			// Whatever the queue already holds belongs before the terminal
			// message on the wire, so flush while the turn is still live.
			e.flushClientEvents(ctx, s, state, clientQueue, outbound, audioSeq)
			state.MarkCancelled()
			streams.SignalCompletion("cancelled")
			if e.metrics != nil {
				e.metrics.SessionEvents.WithLabelValues("turn_cancelled").Inc()
			}
			e.send(ctx, outbound, protocol.TurnComplete{
				Type:      protocol.TypeTurnComplete,
				SessionID: s.ID,
				TurnID:    state.ResponseID(),
				Reason:    "cancelled",
			}, true)
		}
		return nil

	default:
		// Unknown inbound values were already filtered by the protocol layer.
		return nil
	}
}

func (e *Engine) handleProviderEnvelope(
	ctx context.Context,
	s *session.Session,
	env provider.Envelope,
	adapter *Adapter,
	state *TurnState,
	turnCtx *TurnContext,
	streams *streaming.Manager,
	clientQueue <-chan streaming.StreamEvent,
	outbound chan<- any,
	audioSeq *int,
) error {
	rtErr := adapter.HandleProviderEvent(env)

	switch env.Payload.Event {
	case provider.SubTranscriptionDelta:
		if s.Settings.LiveTranslation {
			e.send(ctx, outbound, protocol.TranslationPartial{
				Type:      protocol.TypeTranslationPartial,
				SessionID: s.ID,
				Text:      turnCtx.LiveTranslationText(),
				TSMs:      time.Now().UnixMilli(),
			}, false)
		}
	case provider.SubTranscriptionCompleted:
		e.send(ctx, outbound, protocol.TranslationCommitted{
			Type:      protocol.TypeTranslationCommitted,
			SessionID: s.ID,
			Text:      turnCtx.LiveTranslationText(),
			TSMs:      time.Now().UnixMilli(),
		}, true)
	}

	if rtErr != nil {
		if rtErr.MarkError && e.metrics != nil {
			e.metrics.SessionEvents.WithLabelValues("turn_error").Inc()
		}
		if rtErr.CloseSession {
			streams.SignalCompletion("fatal_error")
			// Give the client queue one drain pass so the error event reaches
			// the socket before we return.
			e.flushClientEvents(ctx, s, state, clientQueue, outbound, audioSeq)
			return rtErr
		}
		// Recoverable: the sanitized payload is already on the stream. The
		// turn it interrupted will not complete, so put the machine back.
		state.MarkCancelled()
		streams.SignalCompletion("error")
		return nil
	}

	if state.Phase() == PhaseAIResponse && state.IsTurnComplete() {
		return e.finalizeTurn(ctx, s, state, turnCtx, streams, adapter, clientQueue, outbound, audioSeq)
	}
	return nil
}

// finalizeTurn persists the completed turn, emits the completion marker and
// returns the machine to idle for the next turn.
func (e *Engine) finalizeTurn(
	ctx context.Context,
	s *session.Session,
	state *TurnState,
	turnCtx *TurnContext,
	streams *streaming.Manager,
	adapter *Adapter,
	clientQueue <-chan streaming.StreamEvent,
	outbound chan<- any,
	audioSeq *int,
) error {
	if err := state.StartPersisting(); err != nil {
		return err
	}
	persistStart := time.Now()

	record := history.TurnRecord{
		ID:           uuid.NewString(),
		UserID:       s.UserID,
		SessionID:    s.ID,
		ResponseID:   state.ResponseID(),
		Transcript:   turnCtx.LiveTranslationText(),
		ResponseText: joinResults(streams.Results(ResultsKeyResponseText)),
		DurationMS:   time.Since(state.StartedAt()).Milliseconds(),
		CreatedAt:    time.Now().UTC(),
	}

	saved := true
	if e.store != nil {
		saveCtx, cancel := context.WithTimeout(ctx, persistTimeout)
		if err := e.store.SaveTurn(saveCtx, record); err != nil {
			// Persistence is best effort; the turn still completes.
			saved = false
			e.log.Error("save turn failed", "session_id", s.ID, "err", err)
		}
		cancel()
	}
	if e.metrics != nil {
		e.metrics.ObservePhase("persisting", time.Since(persistStart))
	}

	if err := state.MarkCompleted(); err != nil {
		return err
	}

	var durMS int64
	if d, ok := state.TurnDurationMS(); ok {
		durMS = d
		if e.metrics != nil {
			e.metrics.ObserveTurnDuration(time.Duration(d) * time.Millisecond)
		}
	}
	if e.metrics != nil {
		e.metrics.SessionEvents.WithLabelValues("turn_completed").Inc()
	}
	_ = e.sessions.RecordTurn(s.ID)

	streams.SignalCompletion("completed")

	// Drain queued content deltas first so the completion message is the last
	// thing the client sees for this turn.
	e.flushClientEvents(ctx, s, state, clientQueue, outbound, audioSeq)

	e.send(ctx, outbound, protocol.TurnComplete{
		Type:       protocol.TypeTurnComplete,
		SessionID:  s.ID,
		TurnID:     state.ResponseID(),
		Reason:     "completed",
		DurationMS: durMS,
	}, true)

	if e.conns != nil && saved {
		e.conns.PushToUser(s.UserID, map[string]any{
			"type":                "system_event",
			"code":                "turn_saved",
			registry.SessionIDKey: s.ID,
			"turn_id":             record.ID,
		})
	}

	e.log.Info("turn completed",
		"session_id", s.ID,
		"response_id", record.ResponseID,
		"duration_ms", durMS,
		"persisted", saved)
	return nil
}

// forwardStreamEvent translates one fanned-out event into its wire shape.
func (e *Engine) forwardStreamEvent(
	ctx context.Context,
	s *session.Session,
	ev streaming.StreamEvent,
	state *TurnState,
	outbound chan<- any,
	audioSeq *int,
) {
	// Content produced by a turn the client already cancelled is stale; the
	// terminal message went out, so drop it instead of trailing it.
	switch ev.Type {
	case streaming.EventText, streaming.EventReasoning, streaming.EventCitations, streaming.EventAudio:
		if state.Phase() == PhaseCancelled {
			return
		}
	}

	switch ev.Type {
	case streaming.EventText:
		e.send(ctx, outbound, protocol.AssistantTextDelta{
			Type:      protocol.TypeAssistantTextDelta,
			SessionID: s.ID,
			TurnID:    state.ResponseID(),
			TextDelta: asString(ev.Content),
		}, false)
	case streaming.EventReasoning:
		e.send(ctx, outbound, protocol.AssistantReasoningDelta{
			Type:      protocol.TypeAssistantReasoningDelta,
			SessionID: s.ID,
			TurnID:    state.ResponseID(),
			TextDelta: asString(ev.Content),
			Tool:      ev.Metadata["tool"],
		}, false)
	case streaming.EventCitations:
		e.send(ctx, outbound, protocol.AssistantCitations{
			Type:      protocol.TypeAssistantCitations,
			SessionID: s.ID,
			TurnID:    state.ResponseID(),
			Delta:     asString(ev.Content),
		}, false)
	case streaming.EventAudio:
		*audioSeq++
		e.send(ctx, outbound, protocol.AssistantAudioChunk{
			Type:        protocol.TypeAssistantAudio,
			SessionID:   s.ID,
			TurnID:      state.ResponseID(),
			Seq:         *audioSeq,
			Format:      audio.FormatPCM16,
			AudioBase64: asString(ev.Content),
		}, false)
	case streaming.EventError:
		payload, ok := ev.Content.(reliability.ClientPayload)
		if !ok {
			return
		}
		e.send(ctx, outbound, protocol.ErrorFromPayload(s.ID, ev.Metadata["code"], payload), true)
	case streaming.EventComplete:
		// Turn completion is announced by finalizeTurn and the cancel paths;
		// the marker only orders the queue.
	}
}

// flushClientEvents drains whatever the client queue currently holds, keeping
// queued content ahead of whichever terminal message follows: a completion
// marker, a cancellation, or a fatal error.
func (e *Engine) flushClientEvents(
	ctx context.Context,
	s *session.Session,
	state *TurnState,
	clientQueue <-chan streaming.StreamEvent,
	outbound chan<- any,
	audioSeq *int,
) {
	for {
		select {
		case ev := <-clientQueue:
			e.forwardStreamEvent(ctx, s, ev, state, outbound, audioSeq)
		default:
			return
		}
	}
}

func (e *Engine) rejectAudio(ctx context.Context, sessionID string, outbound chan<- any, reason, detail string) {
	if e.metrics != nil {
		e.metrics.AudioRejects.WithLabelValues(reason).Inc()
	}
	e.log.Debug("audio frame rejected", "session_id", sessionID, "reason", reason, "detail", detail)
	e.send(ctx, outbound, protocol.SystemEvent{
		Type:      protocol.TypeSystemEvent,
		SessionID: sessionID,
		Code:      "audio_rejected",
		Detail:    reason,
	}, false)
}

// drainAudit consumes the audit queue so a stalled client never distorts the
// audit view of the turn. Events land in the structured log.
func (e *Engine) drainAudit(ctx context.Context, sessionID string, q <-chan streaming.StreamEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-q:
			e.log.Debug("stream event",
				"session_id", sessionID,
				"event", string(ev.Type),
				"bytes", len(asString(ev.Content)))
		}
	}
}

// send pushes one message toward the websocket writer. Critical messages wait
// briefly for a congested writer; everything else drops rather than stalling
// the loop.
func (e *Engine) send(ctx context.Context, outbound chan<- any, msg any, critical bool) {
	msgType := outboundType(msg)
	record := func(result string) {
		if e.metrics != nil {
			e.metrics.WSMessages.WithLabelValues("out", msgType+"_"+result).Inc()
		}
	}

	if critical {
		timer := time.NewTimer(criticalSendTimeout)
		defer timer.Stop()
		select {
		case outbound <- msg:
			record("delivered")
		case <-timer.C:
			record("timeout")
		case <-ctx.Done():
			record("dropped")
		}
		return
	}

	select {
	case outbound <- msg:
		record("delivered")
	default:
		record("dropped")
	}
}

func outboundType(msg any) string {
	switch m := msg.(type) {
	case protocol.TranslationPartial:
		return string(m.Type)
	case protocol.TranslationCommitted:
		return string(m.Type)
	case protocol.AssistantTextDelta:
		return string(m.Type)
	case protocol.AssistantReasoningDelta:
		return string(m.Type)
	case protocol.AssistantCitations:
		return string(m.Type)
	case protocol.AssistantAudioChunk:
		return string(m.Type)
	case protocol.TurnComplete:
		return string(m.Type)
	case protocol.SystemEvent:
		return string(m.Type)
	case protocol.ErrorEvent:
		return string(m.Type)
	default:
		return "unknown"
	}
}

func consumerName(idx int) string {
	switch idx {
	case 0:
		return "client"
	case 1:
		return "audit"
	default:
		return "extra"
	}
}

func joinResults(values []any) string {
	var b strings.Builder
	for _, v := range values {
		b.WriteString(asString(v))
	}
	return b.String()
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}
