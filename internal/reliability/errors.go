package reliability

import (
	"fmt"
	"time"
)

// RealtimeError carries both the client-facing and the log-facing view of an
// upstream failure. The two views never share text: Detail stays in the logs.
type RealtimeError struct {
	Severity     Severity
	Code         string
	MarkError    bool
	CloseSession bool
	Message      string
	Detail       string
}

// ClientPayload is the sanitized error shape pushed to the websocket client.
type ClientPayload struct {
	Type        string `json:"type"`
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
}

// RateLimitError builds a recoverable error advising the client when to retry.
func RateLimitError(retryAfter time.Duration) *RealtimeError {
	secs := int(retryAfter.Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return &RealtimeError{
		Severity:     SeverityRecoverable,
		Code:         "rate_limit_exceeded",
		MarkError:    true,
		CloseSession: false,
		Message:      fmt.Sprintf("Too many requests, retry in %ds.", secs),
		Detail:       fmt.Sprintf("provider rate limit, retry_after=%s", retryAfter),
	}
}

// TranslationFailedError builds a recoverable error for a failed translation turn.
func TranslationFailedError(detail string) *RealtimeError {
	return &RealtimeError{
		Severity:     SeverityRecoverable,
		Code:         "translation_failed",
		MarkError:    true,
		CloseSession: false,
		Message:      "Translation failed for this turn, please try again.",
		Detail:       detail,
	}
}

// InternalError wraps an unexpected failure. The wrapped error text is kept
// out of the client payload.
func InternalError(err error) *RealtimeError {
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	return &RealtimeError{
		Severity:     SeverityFatal,
		Code:         "internal_error",
		MarkError:    true,
		CloseSession: true,
		Message:      "An internal error occurred.",
		Detail:       detail,
	}
}

// FromClassification builds a RealtimeError for an upstream code using the
// classification table and a provider-supplied human message.
func FromClassification(code, providerMessage string) *RealtimeError {
	c := ClassifyError(code)
	message := "An internal error occurred."
	switch c.Severity {
	case SeverityRecoverable:
		message = "A temporary issue interrupted this turn, please try again."
	case SeverityInformational:
		message = ""
	}
	return &RealtimeError{
		Severity:     c.Severity,
		Code:         code,
		MarkError:    c.MarkError,
		CloseSession: c.CloseSession,
		Message:      message,
		Detail:       providerMessage,
	}
}

func (e *RealtimeError) Error() string {
	return fmt.Sprintf("realtime error %s (%s)", e.Code, e.Severity)
}

// ToClientPayload returns the sanitized shape for the client. Internal detail
// is never included here.
func (e *RealtimeError) ToClientPayload() ClientPayload {
	return ClientPayload{
		Type:        "realtime.error",
		Message:     e.Message,
		Recoverable: e.Severity != SeverityFatal,
	}
}

// ToLogMessage returns the full internal view for structured logs.
func (e *RealtimeError) ToLogMessage() string {
	return fmt.Sprintf("severity=%s code=%s mark_error=%t close_session=%t detail=%q",
		e.Severity, e.Code, e.MarkError, e.CloseSession, e.Detail)
}
