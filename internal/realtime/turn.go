package realtime

import (
	"errors"
	"fmt"
	"time"
)

// Phase is a turn's lifecycle stage.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseUserTurn   Phase = "user_turn"
	PhaseAIResponse Phase = "ai_response"
	PhasePersisting Phase = "persisting"
	PhaseCompleted  Phase = "completed"
	PhaseCancelled  Phase = "cancelled"
)

var (
	ErrTurnInProgress = errors.New("turn already in progress")
	ErrTurnIncomplete = errors.New("turn is not complete")
)

// TurnState tracks the phase machine for one turn. It is owned exclusively by
// its session task: no locking, no cross-task mutation.
type TurnState struct {
	phase Phase

	requireAudioOut bool
	requireTextOut  bool
	requireAudioIn  bool

	hasUserTranscript bool
	hasAIText         bool
	hasAIAudio        bool
	responseDone      bool
	cancelled         bool

	responseID string

	startedAt         time.Time
	responseStartedAt time.Time
	persistStartedAt  time.Time
	endedAt           time.Time
}

func NewTurnState() *TurnState {
	return &TurnState{phase: PhaseIdle}
}

// ConfigureForModalities sets which completion flags a turn must collect
// before it can be considered complete. Must precede StartUserTurn.
func (t *TurnState) ConfigureForModalities(audioOut, textOut, audioIn bool) error {
	switch t.phase {
	case PhaseIdle, PhaseCompleted, PhaseCancelled:
	default:
		return fmt.Errorf("configure modalities in phase %s: %w", t.phase, ErrTurnInProgress)
	}
	t.requireAudioOut = audioOut
	t.requireTextOut = textOut
	t.requireAudioIn = audioIn
	return nil
}

// StartUserTurn begins a new turn. Rejected while a turn is mid-flight.
func (t *TurnState) StartUserTurn() error {
	switch t.phase {
	case PhaseIdle, PhaseCompleted, PhaseCancelled:
	default:
		return fmt.Errorf("start user turn in phase %s: %w", t.phase, ErrTurnInProgress)
	}
	t.phase = PhaseUserTurn
	t.hasUserTranscript = false
	t.hasAIText = false
	t.hasAIAudio = false
	t.responseDone = false
	t.cancelled = false
	t.responseID = ""
	t.startedAt = time.Now().UTC()
	t.responseStartedAt = time.Time{}
	t.persistStartedAt = time.Time{}
	t.endedAt = time.Time{}
	return nil
}

// StartAIResponse transitions into the model's response and stores the
// correlation id.
func (t *TurnState) StartAIResponse(responseID string) error {
	if t.phase != PhaseUserTurn {
		return fmt.Errorf("start ai response in phase %s", t.phase)
	}
	t.phase = PhaseAIResponse
	t.responseID = responseID
	t.responseStartedAt = time.Now().UTC()
	return nil
}

// MarkResponseDone records the upstream terminal signal without changing phase.
func (t *TurnState) MarkResponseDone() { t.responseDone = true }

func (t *TurnState) SetUserTranscript() { t.hasUserTranscript = true }

func (t *TurnState) SetAIText() { t.hasAIText = true }

func (t *TurnState) SetAIAudio() { t.hasAIAudio = true }

// IsTurnComplete reports whether the response finished and every enabled
// modality collected its artifact. Permanently false once cancelled.
func (t *TurnState) IsTurnComplete() bool {
	if t.cancelled {
		return false
	}
	if !t.responseDone {
		return false
	}
	if t.requireAudioIn && !t.hasUserTranscript {
		return false
	}
	if t.requireTextOut && !t.hasAIText {
		return false
	}
	if t.requireAudioOut && !t.hasAIAudio {
		return false
	}
	return true
}

// StartPersisting moves a complete turn into the persistence phase.
func (t *TurnState) StartPersisting() error {
	if t.phase != PhaseAIResponse {
		return fmt.Errorf("start persisting in phase %s", t.phase)
	}
	if !t.IsTurnComplete() {
		return ErrTurnIncomplete
	}
	t.phase = PhasePersisting
	t.persistStartedAt = time.Now().UTC()
	return nil
}

// MarkCompleted finishes the turn and records its end time.
func (t *TurnState) MarkCompleted() error {
	if t.phase != PhasePersisting {
		return fmt.Errorf("mark completed in phase %s", t.phase)
	}
	t.phase = PhaseCompleted
	t.endedAt = time.Now().UTC()
	return nil
}

// MarkCancelled aborts the turn from any non-terminal phase.
func (t *TurnState) MarkCancelled() {
	switch t.phase {
	case PhaseCompleted, PhaseCancelled:
		return
	}
	t.phase = PhaseCancelled
	t.cancelled = true
	t.endedAt = time.Now().UTC()
}

// Reset returns a terminated turn to idle for reuse on the same session.
func (t *TurnState) Reset() error {
	switch t.phase {
	case PhaseCompleted, PhaseCancelled:
	default:
		return fmt.Errorf("reset in phase %s", t.phase)
	}
	required := [3]bool{t.requireAudioOut, t.requireTextOut, t.requireAudioIn}
	*t = TurnState{phase: PhaseIdle}
	t.requireAudioOut, t.requireTextOut, t.requireAudioIn = required[0], required[1], required[2]
	return nil
}

// TurnDurationMS is defined only after MarkCompleted.
func (t *TurnState) TurnDurationMS() (int64, bool) {
	if t.phase != PhaseCompleted || t.startedAt.IsZero() || t.endedAt.IsZero() {
		return 0, false
	}
	return t.endedAt.Sub(t.startedAt).Milliseconds(), true
}

func (t *TurnState) Phase() Phase { return t.phase }

func (t *TurnState) StartedAt() time.Time { return t.startedAt }

func (t *TurnState) ResponseID() string { return t.responseID }

func (t *TurnState) HasUserTranscript() bool { return t.hasUserTranscript }

func (t *TurnState) HasAIText() bool { return t.hasAIText }

func (t *TurnState) HasAIAudio() bool { return t.hasAIAudio }
