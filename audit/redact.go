package audit

import "regexp"

// botTokenPattern matches Telegram's own "bot<digits>:<base64ish>" token
// shape, as it appears e.g. embedded in a leaked webhook URL.
var botTokenPattern = regexp.MustCompile(`bot\d+:[A-Za-z0-9_-]+`)

// bareTokenPattern matches a bare "<digits>:<base64ish>" secret shape
// (the same token without its "bot" prefix) — at least 9 digits and 20
// body characters to avoid false-positiving on e.g. timestamps or ratios.
var bareTokenPattern = regexp.MustCompile(`\d{9,}:[A-Za-z0-9_-]{20,}`)

// Redact replaces any bot-token-shaped substring in text with a
// placeholder, so neither the real token nor a look-alike ever reaches a
// log line or a persisted transcript.
func Redact(text string) string {
	text = botTokenPattern.ReplaceAllString(text, "bot[REDACTED]")
	text = bareTokenPattern.ReplaceAllString(text, "[REDACTED_TOKEN]")
	return text
}
