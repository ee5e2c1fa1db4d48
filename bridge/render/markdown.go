package render

import (
	"regexp"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// numberedListGap matches a bare "N." line followed by a blank line and an
// indented continuation — the shape engines commonly produce for numbered
// observations — and collapses it onto one line.
var numberedListGap = regexp.MustCompile(`(?m)^(\d+)\.\n\n[ \t\x{00A0}]*(.+)$`)

// RenderMarkdown converts a small, engine-output-shaped subset of Markdown
// (bold, inline code, fenced code blocks, loose numbered lists) into plain
// text plus the Telegram message entities describing its formatting. It is
// not a general Markdown renderer: anything outside this subset passes
// through as literal text.
func RenderMarkdown(src string) (string, []tgbotapi.MessageEntity) {
	src = numberedListGap.ReplaceAllString(src, "$1. $2")

	runes := []rune(src)
	var out []rune
	var entities []tgbotapi.MessageEntity

	for i := 0; i < len(runes); {
		switch {
		case matchesAt(runes, i, "```"):
			consumed, text, entity, ok := parseFence(runes, i, len(out))
			if !ok {
				out = append(out, runes[i])
				i++
				continue
			}
			out = append(out, text...)
			entities = append(entities, entity...)
			i += consumed

		case matchesAt(runes, i, "**"):
			end := indexOf(runes, i+2, "**")
			if end < 0 {
				out = append(out, runes[i])
				i++
				continue
			}
			inner := runes[i+2 : end]
			entities = append(entities, tgbotapi.MessageEntity{
				Type:   "bold",
				Offset: len(out),
				Length: len(inner),
			})
			out = append(out, inner...)
			i = end + 2

		case runes[i] == '`':
			end := indexOfRune(runes, i+1, '`')
			if end < 0 {
				out = append(out, runes[i])
				i++
				continue
			}
			inner := runes[i+1 : end]
			entities = append(entities, tgbotapi.MessageEntity{
				Type:   "code",
				Offset: len(out),
				Length: len(inner),
			})
			out = append(out, inner...)
			i = end + 1

		default:
			out = append(out, runes[i])
			i++
		}
	}

	return string(out) + "\n\n", entities
}

// parseFence parses a ```lang\n...\n``` block starting at runes[i] (which
// must begin with "```"). outOffset is the rune offset the block's content
// would land at in the caller's output buffer. Returns the number of input
// runes consumed, the content runes to emit, and the pre+code entity pair.
func parseFence(runes []rune, i, outOffset int) (int, []rune, []tgbotapi.MessageEntity, bool) {
	j := i + 3
	langStart := j
	for j < len(runes) && runes[j] != '\n' {
		j++
	}
	if j >= len(runes) {
		return 0, nil, nil, false
	}
	lang := string(runes[langStart:j])
	j++ // skip the newline after the language tag

	end := indexOf(runes, j, "```")
	if end < 0 {
		return 0, nil, nil, false
	}
	code := runes[j:end]
	code = []rune(strings.TrimSuffix(string(code), "\n"))

	entities := []tgbotapi.MessageEntity{
		{Type: "pre", Offset: outOffset, Length: len(code), Language: lang},
		{Type: "code", Offset: outOffset, Length: len(code)},
	}
	return (end + 3) - i, code, entities, true
}

func matchesAt(runes []rune, i int, needle string) bool {
	n := []rune(needle)
	if i+len(n) > len(runes) {
		return false
	}
	for k, r := range n {
		if runes[i+k] != r {
			return false
		}
	}
	return true
}

func indexOf(runes []rune, from int, needle string) int {
	for i := from; i+len(needle) <= len(runes); i++ {
		if matchesAt(runes, i, needle) {
			return i
		}
	}
	return -1
}

func indexOfRune(runes []rune, from int, r rune) int {
	for i := from; i < len(runes); i++ {
		if runes[i] == r {
			return i
		}
	}
	return -1
}
