package utils

import (
	"bytes"
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var (
	strict = bluemonday.StrictPolicy()
	md     = goldmark.New(goldmark.WithExtensions(extension.Strikethrough))
)

// SanitizeBody strips any markup from a message body. Markdown syntax is
// left alone; only HTML is removed.
func SanitizeBody(body string) string {
	cleaned := strict.Sanitize(body)
	return strings.TrimSpace(html.UnescapeString(cleaned))
}

// Preview renders markdown to plain text, collapses whitespace and truncates
// to maxRunes, appending an ellipsis when cut.
func Preview(body string, maxRunes int) string {
	if body == "" {
		return ""
	}
	var buf bytes.Buffer
	text := body
	if err := md.Convert([]byte(body), &buf); err == nil {
		text = html.UnescapeString(strict.Sanitize(buf.String()))
	}
	text = strings.Join(strings.Fields(text), " ")
	if maxRunes <= 0 || utf8.RuneCountInString(text) <= maxRunes {
		return text
	}
	runes := []rune(text)
	return strings.TrimSpace(string(runes[:maxRunes])) + "…"
}
