package reliability

// Severity ranks upstream realtime errors by how much of the session they take down.
type Severity string

const (
	SeverityInformational Severity = "informational"
	SeverityRecoverable   Severity = "recoverable"
	SeverityFatal         Severity = "fatal"
)

// CodeBufferCommitEmpty is raised by provider-side VAD when an end-of-turn
// commit arrives with no buffered speech. Harmless when VAD is on.
const CodeBufferCommitEmpty = "input_audio_buffer_commit_empty"

// Classification describes how the session loop should react to an upstream error code.
type Classification struct {
	Severity     Severity
	MarkError    bool
	CloseSession bool
}

var classifications = map[string]Classification{
	CodeBufferCommitEmpty:        {Severity: SeverityInformational, MarkError: false, CloseSession: false},
	"response_cancel_not_active": {Severity: SeverityInformational, MarkError: false, CloseSession: false},
	"rate_limit_exceeded":        {Severity: SeverityRecoverable, MarkError: true, CloseSession: false},
	"response_timeout":           {Severity: SeverityRecoverable, MarkError: true, CloseSession: false},
	"session_expired":            {Severity: SeverityFatal, MarkError: true, CloseSession: true},
	"invalid_api_key":            {Severity: SeverityFatal, MarkError: true, CloseSession: true},
	"server_error":               {Severity: SeverityFatal, MarkError: true, CloseSession: true},
}

// ClassifyError maps an upstream error code to a severity and session action.
// Unknown codes classify as fatal: an error we cannot name is an error we
// cannot prove the session survived.
func ClassifyError(code string) Classification {
	if c, ok := classifications[code]; ok {
		return c
	}
	return Classification{Severity: SeverityFatal, MarkError: true, CloseSession: true}
}

// IsExpectedVADError reports whether code is the buffer-empty commit signal
// raised by provider-side voice activity detection. Only meaningful while VAD
// is enabled; with VAD off the same code indicates a real client bug.
func IsExpectedVADError(code string, vadEnabled bool) bool {
	return vadEnabled && code == CodeBufferCommitEmpty
}
