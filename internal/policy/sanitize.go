package policy

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Sanitization patterns, compiled once. The input patterns neutralize the
// common prompt-injection shapes before the message reaches the planner's
// LLM backend; the error patterns redact credentials before an error
// string is stored on a step or returned to a caller.
var (
	reIgnoreInstructions = regexp.MustCompile(`(?is)(ignore|forget|disregard).{0,40}(previous|prior|earlier|above).{0,40}(instruction|command|directive|prompt)`)
	reRoleOverride       = regexp.MustCompile(`(?is)(you are|act as|pretend to be|roleplay as).{0,40}(system|admin|root|assistant)`)
	reCodeFence          = regexp.MustCompile("(?s)```.*?```")

	reJWT        = regexp.MustCompile(`[A-Za-z0-9_-]{20,}\.[A-Za-z0-9_-]{20,}\.[A-Za-z0-9_-]{20,}`)
	reAPIKey     = regexp.MustCompile(`\b[A-Za-z0-9]{32,}\b`)
	reCredential = regexp.MustCompile(`(?i)(password|passwd|pwd|secret|token|key)\s*[:=]\s*\S+`)
	reDSN        = regexp.MustCompile(`(?i)(postgres(ql)?|mysql|mongodb|redis)://\S+`)
)

// SanitizeMessage strips prompt-injection patterns from a user message and
// caps its length. The result may be empty; callers decide whether an
// empty message is an error.
func SanitizeMessage(msg string) string {
	msg = reIgnoreInstructions.ReplaceAllString(msg, "")
	msg = reRoleOverride.ReplaceAllString(msg, "")
	msg = reCodeFence.ReplaceAllString(msg, "")
	msg = strings.TrimSpace(msg)
	if len(msg) > 10_000 {
		cut := 10_000
		// Back up so the cap never splits a multi-byte rune.
		for cut > 0 && !utf8.RuneStart(msg[cut]) {
			cut--
		}
		msg = msg[:cut]
	}
	return msg
}

// SanitizeError redacts tokens, API keys, credentials, and connection
// strings from an error message so step records and API responses never
// leak secrets picked up from a connector failure.
func SanitizeError(msg string) string {
	msg = reJWT.ReplaceAllString(msg, "[TOKEN_REDACTED]")
	msg = reDSN.ReplaceAllString(msg, "[DSN_REDACTED]")
	msg = reCredential.ReplaceAllString(msg, "$1=[REDACTED]")
	msg = reAPIKey.ReplaceAllString(msg, "[KEY_REDACTED]")
	return msg
}
