package realtime

import "strings"

// TurnContext accumulates the live translation artifacts for one turn.
// Providers stream incremental fragments followed by a single authoritative
// completed payload; the context reconciles both so the live preview is never
// lost mid-stream.
type TurnContext struct {
	liveTranslationText string
	parts               []string
}

func NewTurnContext() *TurnContext {
	return &TurnContext{}
}

// AppendLiveTranslation folds one fragment into the running translation.
// Non-final fragments build a best-effort space-joined preview. A final
// non-empty fragment becomes the authoritative text; a final empty fragment
// keeps whatever the preview had accumulated. Either final form clears parts.
func (c *TurnContext) AppendLiveTranslation(fragment string, final bool) {
	fragment = strings.TrimSpace(fragment)

	if final {
		if fragment != "" {
			c.liveTranslationText = fragment
		}
		c.parts = nil
		return
	}

	if fragment == "" {
		return
	}
	c.parts = append(c.parts, fragment)
	c.liveTranslationText = strings.Join(c.parts, " ")
}

// LiveTranslationText returns the current best-known translation.
func (c *TurnContext) LiveTranslationText() string { return c.liveTranslationText }

// PartCount reports how many fragments the live preview currently holds.
func (c *TurnContext) PartCount() int { return len(c.parts) }

// Reset clears both fields between turns.
func (c *TurnContext) Reset() {
	c.liveTranslationText = ""
	c.parts = nil
}
