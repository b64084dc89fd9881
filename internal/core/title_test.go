package core

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
)

func TestGenerateTitle(t *testing.T) {
	long := strings.Repeat("a", 100)

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"collapses whitespace", "   hello   world  ", "hello world"},
		{"tabs and newlines", "save\n\tfor\r\nretirement", "save for retirement"},
		{"exactly at limit", strings.Repeat("b", 60), strings.Repeat("b", 60)},
		{"truncated", long, strings.Repeat("a", 57) + "..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, GenerateTitle(tt.input, 60))
		})
	}
}

func TestGenerateTitleTruncatedLengthEqualsLimit(t *testing.T) {
	got := GenerateTitle(strings.Repeat("word ", 40), 60)
	require.Equal(t, 60, utf8.RuneCountInString(got))
	require.True(t, strings.HasSuffix(got, "..."))
}

func TestGenerateTitleCountsRunes(t *testing.T) {
	got := GenerateTitle(strings.Repeat("€", 70), 60)
	require.Equal(t, strings.Repeat("€", 57)+"...", got)
}

func TestGenerateTitleFallsBackToDefaultLimit(t *testing.T) {
	got := GenerateTitle(strings.Repeat("x", 80), 2)
	require.Equal(t, DefaultTitleMaxLength, utf8.RuneCountInString(got))
}
