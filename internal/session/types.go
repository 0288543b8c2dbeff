package session

import "time"

// CreateRequest defines payload for creating a new realtime session.
type CreateRequest struct {
	UserID          string `json:"user_id"`
	AudioInput      *bool  `json:"audio_input,omitempty"`
	TextOutput      *bool  `json:"text_output,omitempty"`
	AudioOutput     *bool  `json:"audio_output,omitempty"`
	LiveTranslation *bool  `json:"live_translation,omitempty"`
	TargetLanguage  string `json:"target_language,omitempty"`
}

// CreateResponse returns created session metadata.
type CreateResponse struct {
	SessionID       string    `json:"session_id"`
	UserID          string    `json:"user_id"`
	Status          Status    `json:"status"`
	Settings        Settings  `json:"settings"`
	StartedAt       time.Time `json:"started_at"`
	LastActivityAt  time.Time `json:"last_activity_at"`
	InactivityTTLMS int64     `json:"inactivity_ttl_ms"`
}
