package reliability

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestClassifyErrorKnownCodes(t *testing.T) {
	cases := []struct {
		code         string
		severity     Severity
		markError    bool
		closeSession bool
	}{
		{CodeBufferCommitEmpty, SeverityInformational, false, false},
		{"rate_limit_exceeded", SeverityRecoverable, true, false},
		{"session_expired", SeverityFatal, true, true},
	}
	for _, tc := range cases {
		got := ClassifyError(tc.code)
		if got.Severity != tc.severity || got.MarkError != tc.markError || got.CloseSession != tc.closeSession {
			t.Fatalf("ClassifyError(%q) = %+v, want {%s %t %t}", tc.code, got, tc.severity, tc.markError, tc.closeSession)
		}
	}
}

func TestClassifyErrorUnknownCodeFailsClosed(t *testing.T) {
	got := ClassifyError("something_never_seen_before")
	if got.Severity != SeverityFatal || !got.MarkError || !got.CloseSession {
		t.Fatalf("unknown code classified as %+v, want fatal/true/true", got)
	}
}

func TestIsExpectedVADError(t *testing.T) {
	if !IsExpectedVADError(CodeBufferCommitEmpty, true) {
		t.Fatalf("buffer-empty with VAD on should be expected")
	}
	if IsExpectedVADError(CodeBufferCommitEmpty, false) {
		t.Fatalf("buffer-empty with VAD off should not be expected")
	}
	if IsExpectedVADError("rate_limit_exceeded", true) {
		t.Fatalf("non-VAD code should never be expected")
	}
}

func TestRateLimitErrorPayload(t *testing.T) {
	e := RateLimitError(3 * time.Second)
	p := e.ToClientPayload()
	if p.Type != "realtime.error" {
		t.Fatalf("payload type = %q, want realtime.error", p.Type)
	}
	if !p.Recoverable {
		t.Fatalf("rate limit error should be recoverable")
	}
	if !strings.Contains(p.Message, "3s") {
		t.Fatalf("message %q should mention the retry interval", p.Message)
	}
}

func TestInternalErrorNeverLeaksDetail(t *testing.T) {
	e := InternalError(errors.New("pgx: connection refused on 10.0.0.3"))
	p := e.ToClientPayload()
	if p.Recoverable {
		t.Fatalf("internal error should not be recoverable")
	}
	if strings.Contains(p.Message, "10.0.0.3") || strings.Contains(p.Message, "pgx") {
		t.Fatalf("client message %q leaks internal detail", p.Message)
	}
	logMsg := e.ToLogMessage()
	if !strings.Contains(logMsg, "10.0.0.3") {
		t.Fatalf("log message %q should retain internal detail", logMsg)
	}
	if logMsg == p.Message {
		t.Fatalf("log message must not be reused as client message")
	}
}

func TestTranslationFailedErrorRecoverable(t *testing.T) {
	e := TranslationFailedError("upstream returned empty final transcript")
	if e.CloseSession {
		t.Fatalf("translation failure should not close the session")
	}
	if !e.ToClientPayload().Recoverable {
		t.Fatalf("translation failure should be recoverable")
	}
}
