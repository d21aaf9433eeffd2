package mbox

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"

	"github.com/dhcgn/patchtrack/model"
)

// Markdown renders a decoded message the way it is posted as a comment:
// a short header block followed by the body in a fenced code block.
func Markdown(msg model.Message) string {
	var sb strings.Builder

	if msg.From != "" {
		fmt.Fprintf(&sb, "**From**: %s\n", escapeMarkdown(msg.From))
	}
	if msg.Subject != "" {
		fmt.Fprintf(&sb, "**Subject**: %s\n", escapeMarkdown(msg.Subject))
	}
	if len(msg.Cc) > 0 {
		fmt.Fprintf(&sb, "**Cc**: %s\n", escapeMarkdown(strings.Join(msg.Cc, ", ")))
	}
	if msg.Body == "" {
		return sb.String()
	}
	if sb.Len() > 0 {
		sb.WriteString("\n")
	}

	fence := "```"
	for strings.Contains(msg.Body, fence) {
		fence += "`"
	}
	sb.WriteString(fence)
	sb.WriteString("\n")
	sb.WriteString(msg.Body)
	if !strings.HasSuffix(msg.Body, "\n") {
		sb.WriteString("\n")
	}
	sb.WriteString(fence)
	sb.WriteString("\n")

	return sb.String()
}

// HTML renders the Markdown form of msg.
func HTML(msg model.Message) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(Markdown(msg)), &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return buf.String(), nil
}

var markdownEscaper = strings.NewReplacer(
	`\`, `\\`,
	"*", `\*`,
	"_", `\_`,
	"`", "\\`",
	"<", "&lt;",
	">", "&gt;",
	"[", `\[`,
	"]", `\]`,
)

func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}
