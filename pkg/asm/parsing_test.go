package asm_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"its-hmny.dev/hack-toolchain/pkg/asm"
)

func TestParseClassification(t *testing.T) {
	source := strings.Join([]string{
		"@2",
		"D=A",
		"(LOOP)",
		"@LOOP",
		"0;JMP",
	}, "\n")

	parser := asm.NewParser(strings.NewReader(source))
	program, err := parser.Parse()
	require.NoError(t, err)
	require.Len(t, program, 5)

	assert.Equal(t, asm.AInstruction{Location: "2"}, program[0])
	assert.Equal(t, asm.CInstruction{Dest: "D", Comp: "A"}, program[1])
	assert.Equal(t, asm.LabelDecl{Name: "LOOP"}, program[2])
	assert.Equal(t, asm.AInstruction{Location: "LOOP"}, program[3])
	assert.Equal(t, asm.CInstruction{Comp: "0", Jump: "JMP"}, program[4])
}

func TestParseCInstShapes(t *testing.T) {
	source := strings.Join([]string{
		"D=D+1",       // assign only
		"D;JNE",       // jump only
		"AM=M-1;JEQ",  // both assign and jump
		"MD=D|M",      // multi-register dest
		"AMD=-1",      // full dest mask
	}, "\n")

	parser := asm.NewParser(strings.NewReader(source))
	program, err := parser.Parse()
	require.NoError(t, err)
	require.Len(t, program, 5)

	assert.Equal(t, asm.CInstruction{Dest: "D", Comp: "D+1"}, program[0])
	assert.Equal(t, asm.CInstruction{Comp: "D", Jump: "JNE"}, program[1])
	assert.Equal(t, asm.CInstruction{Dest: "AM", Comp: "M-1", Jump: "JEQ"}, program[2])
	assert.Equal(t, asm.CInstruction{Dest: "MD", Comp: "D|M"}, program[3])
	assert.Equal(t, asm.CInstruction{Dest: "AMD", Comp: "-1"}, program[4])
}

func TestParseCommentInvariance(t *testing.T) {
	// The same program with and without comment decorations must parse to the
	// same in-memory representation (comments and blank lines leave no trace)
	clean := strings.Join([]string{
		"@sum",
		"M=0",
		"(LOOP)",
		"@sum",
		"MD=M+1",
		"@LOOP",
		"D;JLT",
	}, "\n")

	decorated := strings.Join([]string{
		"// Accumulator demo",
		"",
		"@sum",
		"M=0       // reset the accumulator",
		"",
		"(LOOP)    // main loop entry",
		"@sum",
		"MD=M+1",
		"@LOOP",
		"D;JLT     // keep spinning while negative",
		"// trailing remark",
	}, "\n")

	cleanParser := asm.NewParser(strings.NewReader(clean))
	cleanProgram, err := cleanParser.Parse()
	require.NoError(t, err)

	decoratedParser := asm.NewParser(strings.NewReader(decorated))
	decoratedProgram, err := decoratedParser.Parse()
	require.NoError(t, err)

	assert.Equal(t, cleanProgram, decoratedProgram)
}
