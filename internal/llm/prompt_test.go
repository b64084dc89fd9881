package llm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSystemInstructionWithoutProfile(t *testing.T) {
	require.Equal(t, FinancialAdvisorSystemPrompt, SystemInstruction(""))
	require.Equal(t, FinancialAdvisorSystemPrompt, SystemInstruction("   "))
}

func TestSystemInstructionWithProfile(t *testing.T) {
	got := SystemInstruction("conservative")
	require.True(t, strings.HasPrefix(got, FinancialAdvisorSystemPrompt))
	require.True(t, strings.HasSuffix(got,
		"\n\nUser Context: The user has indicated a conservative risk profile. "+
			"Consider this when providing information, but always present multiple perspectives."))
}

func TestValidRiskProfile(t *testing.T) {
	require.True(t, ValidRiskProfile("balanced"))
	require.False(t, ValidRiskProfile("yolo"))
	require.False(t, ValidRiskProfile(""))
}
