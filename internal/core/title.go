package core

import "strings"

const (
	DefaultTitleMaxLength = 60
	titleEllipsis         = "..."
)

// GenerateTitle derives a conversation title from its first message: trim,
// collapse runs of whitespace, and cut to maxLen runes ending in "...".
func GenerateTitle(message string, maxLen int) string {
	if maxLen <= len(titleEllipsis) {
		maxLen = DefaultTitleMaxLength
	}

	cleaned := strings.Join(strings.Fields(message), " ")
	runes := []rune(cleaned)
	if len(runes) <= maxLen {
		return cleaned
	}
	return string(runes[:maxLen-len(titleEllipsis)]) + titleEllipsis
}
