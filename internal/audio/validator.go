package audio

import (
	"encoding/binary"
	"fmt"
	"strings"
	"time"
)

// FormatPCM16 is the only inbound encoding the gateway accepts: little-endian
// 16-bit PCM, mono.
const FormatPCM16 = "pcm16"

const sampleWidth = 2

// ValidationError describes why an inbound audio frame was rejected before it
// reached the transcription provider. Reason is a stable machine tag.
type ValidationError struct {
	Reason string
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("audio rejected (%s): %s", e.Reason, e.Detail)
}

// Validator runs pre-flight checks on inbound PCM frames. Rejecting a frame
// here is cheap; rejecting it provider-side burns transcription quota and
// comes back as an opaque upstream error.
type Validator struct {
	format     string
	sampleRate int
	minBytes   int
}

// NewValidator builds a validator for the configured input format, sample rate
// and minimum analysis window.
func NewValidator(format string, sampleRate int, minFrame time.Duration) *Validator {
	if sampleRate <= 0 {
		sampleRate = 24000
	}
	if minFrame <= 0 {
		minFrame = 100 * time.Millisecond
	}
	minSamples := int(int64(sampleRate) * minFrame.Milliseconds() / 1000)
	return &Validator{
		format:     strings.ToLower(strings.TrimSpace(format)),
		sampleRate: sampleRate,
		minBytes:   minSamples * sampleWidth,
	}
}

// ValidateFormat checks one inbound frame against the expected format and
// rejects payloads that are guaranteed to transcribe to nothing: empty,
// truncated, sub-window, pure silence, or clipped throughout.
func (v *Validator) ValidateFormat(data []byte, expectedFormat string) error {
	if strings.ToLower(strings.TrimSpace(expectedFormat)) != v.format {
		return &ValidationError{
			Reason: "unsupported_format",
			Detail: fmt.Sprintf("expected %s, got %q", v.format, expectedFormat),
		}
	}
	if len(data) == 0 {
		return &ValidationError{Reason: "empty_payload", Detail: "no audio bytes"}
	}
	if len(data)%sampleWidth != 0 {
		return &ValidationError{
			Reason: "misaligned_payload",
			Detail: fmt.Sprintf("%d bytes is not a multiple of the %d-byte sample width", len(data), sampleWidth),
		}
	}
	if len(data) < v.minBytes {
		return &ValidationError{
			Reason: "frame_too_short",
			Detail: fmt.Sprintf("%d bytes, need at least %d for analysis", len(data), v.minBytes),
		}
	}

	var energy uint64
	clipped := true
	for i := 0; i+sampleWidth <= len(data); i += sampleWidth {
		s := int16(binary.LittleEndian.Uint16(data[i:]))
		mag := int64(s)
		if mag < 0 {
			mag = -mag
		}
		energy += uint64(mag)
		if s != 32767 && s != -32768 {
			clipped = false
		}
	}
	if energy == 0 {
		return &ValidationError{Reason: "silent_payload", Detail: "signal energy is zero across the whole buffer"}
	}
	if clipped {
		return &ValidationError{Reason: "clipped_payload", Detail: "every sample sits at maximum amplitude"}
	}
	return nil
}

// ValidateRate checks the sample rate a client declared for a frame against
// the rate this deployment is configured for. Sample rate is metadata, not
// something recoverable from the bytes, so a mismatch is rejected outright
// instead of resampled.
func (v *Validator) ValidateRate(declared int) error {
	if declared != v.sampleRate {
		return &ValidationError{
			Reason: "sample_rate_mismatch",
			Detail: fmt.Sprintf("declared %d Hz, expected %d", declared, v.sampleRate),
		}
	}
	return nil
}

// MinFrameBytes reports the minimum accepted frame size in bytes.
func (v *Validator) MinFrameBytes() int {
	return v.minBytes
}
