package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs the assembler on the given source and returns the '.hack' output lines.
func assemble(t *testing.T, source string) []string {
	t.Helper()

	input := filepath.Join(t.TempDir(), "Prog.asm")
	require.NoError(t, os.WriteFile(input, []byte(source), 0o644))

	status := Handler([]string{input}, map[string]string{})
	require.Equal(t, 0, status)

	content, err := os.ReadFile(filepath.Join(filepath.Dir(input), "Prog.hack"))
	require.NoError(t, err)

	trimmed := strings.TrimSuffix(string(content), "\n")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "\n")
}

func TestAssembleArithmetic(t *testing.T) {
	source := strings.Join([]string{
		"@2", "D=A", "@3", "D=D+A", "@0", "M=D",
	}, "\n")

	assert.Equal(t, []string{
		"0000000000000010",
		"1110110000010000",
		"0000000000000011",
		"1110000010010000",
		"0000000000000000",
		"1110001100001000",
	}, assemble(t, source))
}

func TestAssembleLabelResolution(t *testing.T) {
	source := "(LOOP)\n@LOOP\n0;JMP"

	assert.Equal(t, []string{
		"0000000000000000",
		"1110101010000111",
	}, assemble(t, source))
}

func TestAssembleVariableAllocation(t *testing.T) {
	// Unseen symbols are allocated from RAM 16 upwards in first-appearance order
	source := strings.Join([]string{
		"@first", "M=1", "@second", "M=1", "@first", "D=M",
	}, "\n")

	lines := assemble(t, source)
	require.Len(t, lines, 6)
	assert.Equal(t, "0000000000010000", lines[0]) // first  -> 16
	assert.Equal(t, "0000000000010001", lines[2]) // second -> 17
	assert.Equal(t, "0000000000010000", lines[4]) // first resolves to the same slot
}

func TestAssembleCommentInvariance(t *testing.T) {
	clean := "@2\nD=A\n@3\nD=D+A"
	decorated := strings.Join([]string{
		"// a comment heavy rendition of the same program",
		"",
		"@2    // load 2",
		"D=A",
		"",
		"@3",
		"D=D+A // accumulate",
	}, "\n")

	assert.Equal(t, assemble(t, clean), assemble(t, decorated))
}

func TestAssembleBuiltInSymbols(t *testing.T) {
	lines := assemble(t, "@SCREEN\n@KBD\n@0\n@32767")

	assert.Equal(t, []string{
		"0100000000000000",
		"0110000000000000",
		"0000000000000000",
		"0111111111111111",
	}, lines)
}

func TestAssembleFailures(t *testing.T) {
	t.Run("Bad extension", func(t *testing.T) {
		input := filepath.Join(t.TempDir(), "Prog.txt")
		require.NoError(t, os.WriteFile(input, []byte("@2"), 0o644))

		assert.Equal(t, -1, Handler([]string{input}, map[string]string{}))
	})

	t.Run("Missing path", func(t *testing.T) {
		input := filepath.Join(t.TempDir(), "Ghost.asm")
		assert.Equal(t, -1, Handler([]string{input}, map[string]string{}))
	})

	t.Run("Out of bounds address", func(t *testing.T) {
		input := filepath.Join(t.TempDir(), "Prog.asm")
		require.NoError(t, os.WriteFile(input, []byte("@40000"), 0o644))

		assert.Equal(t, -1, Handler([]string{input}, map[string]string{}))
	})

	t.Run("No arguments", func(t *testing.T) {
		assert.Equal(t, -1, Handler([]string{}, map[string]string{}))
	})
}
