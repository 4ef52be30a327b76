package vm_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"its-hmny.dev/hack-toolchain/pkg/asm"
	"its-hmny.dev/hack-toolchain/pkg/vm"
)

// Lowers the given operations (as a single module named 'Foo' in an output named
// 'Out') and renders the result as assembly text, one command per line.
func lower(t *testing.T, operations ...vm.Operation) []string {
	t.Helper()

	lowerer := vm.NewLowerer(vm.Program{{Name: "Foo", Operations: operations}}, "Out")
	program, err := lowerer.Lower()
	require.NoError(t, err)

	codegen := asm.NewCodeGenerator(program)
	lines, err := codegen.Generate()
	require.NoError(t, err)
	return lines
}

func TestLowerPush(t *testing.T) {
	t.Run("Constant", func(t *testing.T) {
		lines := lower(t, vm.MemoryOp{Operation: vm.Push, Segment: vm.Constant, Offset: 7})
		assert.Equal(t, []string{"@7", "D=A", "@SP", "A=M", "M=D", "@SP", "M=M+1"}, lines)
	})

	t.Run("Temp", func(t *testing.T) {
		// Temp lives at the fixed RAM window 5..12, offset 3 resolves to address 8
		lines := lower(t, vm.MemoryOp{Operation: vm.Push, Segment: vm.Temp, Offset: 3})
		assert.Equal(t, []string{"@8", "D=M", "@SP", "A=M", "M=D", "@SP", "M=M+1"}, lines)
	})

	t.Run("Pointer", func(t *testing.T) {
		lines := lower(t, vm.MemoryOp{Operation: vm.Push, Segment: vm.Pointer, Offset: 0})
		assert.Equal(t, "@THIS", lines[0])
		lines = lower(t, vm.MemoryOp{Operation: vm.Push, Segment: vm.Pointer, Offset: 1})
		assert.Equal(t, "@THAT", lines[0])
	})

	t.Run("Static", func(t *testing.T) {
		// The static symbol is prefixed with the module (file) basename
		lines := lower(t, vm.MemoryOp{Operation: vm.Push, Segment: vm.Static, Offset: 5})
		assert.Equal(t, []string{"@Foo.5", "D=M", "@SP", "A=M", "M=D", "@SP", "M=M+1"}, lines)
	})

	t.Run("Indirect segments", func(t *testing.T) {
		lines := lower(t, vm.MemoryOp{Operation: vm.Push, Segment: vm.Local, Offset: 2})
		assert.Equal(t, []string{
			"@2", "D=A", "@LCL", "A=D+M", "D=M",
			"@SP", "A=M", "M=D", "@SP", "M=M+1",
		}, lines)

		lines = lower(t, vm.MemoryOp{Operation: vm.Push, Segment: vm.Argument, Offset: 0})
		assert.Equal(t, "@ARG", lines[2])
		lines = lower(t, vm.MemoryOp{Operation: vm.Push, Segment: vm.This, Offset: 1})
		assert.Equal(t, "@THIS", lines[2])
		lines = lower(t, vm.MemoryOp{Operation: vm.Push, Segment: vm.That, Offset: 4})
		assert.Equal(t, "@THAT", lines[2])
	})
}

func TestLowerPop(t *testing.T) {
	t.Run("Temp", func(t *testing.T) {
		lines := lower(t, vm.MemoryOp{Operation: vm.Pop, Segment: vm.Temp, Offset: 2})
		assert.Equal(t, []string{"@SP", "M=M-1", "A=M", "D=M", "@7", "M=D"}, lines)
	})

	t.Run("Pointer", func(t *testing.T) {
		lines := lower(t, vm.MemoryOp{Operation: vm.Pop, Segment: vm.Pointer, Offset: 1})
		assert.Equal(t, []string{"@SP", "M=M-1", "A=M", "D=M", "@THAT", "M=D"}, lines)
	})

	t.Run("Static", func(t *testing.T) {
		lines := lower(t, vm.MemoryOp{Operation: vm.Pop, Segment: vm.Static, Offset: 2})
		assert.Equal(t, []string{"@SP", "M=M-1", "A=M", "D=M", "@Foo.2", "M=D"}, lines)
	})

	t.Run("Indirect segments", func(t *testing.T) {
		// The popped value and the computed target address are parked in scratch
		// assembly variables, the assembler auto-allocates them from RAM 16 onwards
		lines := lower(t, vm.MemoryOp{Operation: vm.Pop, Segment: vm.Local, Offset: 1})
		assert.Equal(t, []string{
			"@SP", "M=M-1", "A=M", "D=M",
			"@popdata0", "M=D",
			"@1", "D=A", "@LCL", "D=D+M",
			"@local.0", "M=D",
			"@popdata0", "D=M",
			"@local.0", "A=M", "M=D",
		}, lines)
	})

	t.Run("Scratch counters advance per pop", func(t *testing.T) {
		lines := lower(t,
			vm.MemoryOp{Operation: vm.Pop, Segment: vm.Local, Offset: 0},
			vm.MemoryOp{Operation: vm.Pop, Segment: vm.Argument, Offset: 3},
		)
		assert.Contains(t, lines, "@popdata0")
		assert.Contains(t, lines, "@local.0")
		assert.Contains(t, lines, "@popdata1")
		assert.Contains(t, lines, "@argument.1")
	})

	t.Run("Constant", func(t *testing.T) {
		lowerer := vm.NewLowerer(vm.Program{{Name: "Foo", Operations: []vm.Operation{
			vm.MemoryOp{Operation: vm.Pop, Segment: vm.Constant, Offset: 1},
		}}}, "Out")
		_, err := lowerer.Lower()
		assert.ErrorIs(t, err, vm.ErrInvalidCommand)
	})
}

func TestLowerMemoryOpBounds(t *testing.T) {
	test := func(op vm.MemoryOp) {
		t.Helper()
		lowerer := vm.NewLowerer(vm.Program{{Name: "Foo", Operations: []vm.Operation{op}}}, "Out")
		_, err := lowerer.Lower()
		assert.ErrorIs(t, err, vm.ErrInvalidCommand)
	}

	test(vm.MemoryOp{Operation: vm.Push, Segment: vm.Pointer, Offset: 2})
	test(vm.MemoryOp{Operation: vm.Pop, Segment: vm.Pointer, Offset: 5})
	test(vm.MemoryOp{Operation: vm.Push, Segment: vm.Temp, Offset: 8})
	test(vm.MemoryOp{Operation: vm.Push, Segment: vm.Constant, Offset: 40000})
}

func TestLowerArithmetic(t *testing.T) {
	t.Run("Binary", func(t *testing.T) {
		// The combining step runs with D holding y (the former top) and M
		// addressing x beneath it, 'sub' therefore computes x - y
		lines := lower(t, vm.ArithmeticOp{Operation: vm.Add})
		assert.Equal(t, []string{
			"@SP", "M=M-1", "A=M", "D=M",
			"@SP", "M=M-1", "A=M", "M=D+M",
			"@SP", "M=M+1",
		}, lines)

		assert.Equal(t, "M=M-D", lower(t, vm.ArithmeticOp{Operation: vm.Sub})[7])
		assert.Equal(t, "M=D&M", lower(t, vm.ArithmeticOp{Operation: vm.And})[7])
		assert.Equal(t, "M=D|M", lower(t, vm.ArithmeticOp{Operation: vm.Or})[7])
	})

	t.Run("Unary", func(t *testing.T) {
		lines := lower(t, vm.ArithmeticOp{Operation: vm.Neg})
		assert.Equal(t, []string{"@SP", "M=M-1", "A=M", "M=-M", "@SP", "M=M+1"}, lines)

		assert.Equal(t, "M=!M", lower(t, vm.ArithmeticOp{Operation: vm.Not})[3])
	})

	t.Run("Comparison", func(t *testing.T) {
		lines := lower(t, vm.ArithmeticOp{Operation: vm.Eq})
		assert.Equal(t, []string{
			"@SP", "M=M-1", "A=M", "D=M",
			"@SP", "M=M-1", "A=M", "D=M-D",
			"@EQ.TRUE.0", "D;JEQ",
			"@SP", "A=M", "M=0",
			"@EQ.SKIP.0", "0;JMP",
			"(EQ.TRUE.0)",
			"@SP", "A=M", "M=-1",
			"(EQ.SKIP.0)",
			"@SP", "M=M+1",
		}, lines)

		assert.Contains(t, lower(t, vm.ArithmeticOp{Operation: vm.Gt}), "D;JGT")
		assert.Contains(t, lower(t, vm.ArithmeticOp{Operation: vm.Lt}), "D;JLT")
	})

	t.Run("Comparison labels stay unique", func(t *testing.T) {
		lines := lower(t,
			vm.ArithmeticOp{Operation: vm.Eq},
			vm.ArithmeticOp{Operation: vm.Eq},
			vm.ArithmeticOp{Operation: vm.Gt},
		)
		assert.Contains(t, lines, "(EQ.TRUE.0)")
		assert.Contains(t, lines, "(EQ.TRUE.1)")
		// Each comparison opcode owns its own counter sequence
		assert.Contains(t, lines, "(GT.TRUE.0)")
	})
}

func TestLowerBranching(t *testing.T) {
	t.Run("Top-level scope", func(t *testing.T) {
		// Outside any function the labels are scoped by the output file basename
		lines := lower(t,
			vm.LabelDecl{Name: "END"},
			vm.GotoOp{Jump: vm.Unconditional, Label: "END"},
		)
		assert.Equal(t, []string{"(Out$END)", "@Out$END", "0;JMP"}, lines)
	})

	t.Run("Function scope", func(t *testing.T) {
		lines := lower(t,
			vm.FuncDecl{Name: "Main.main", NLocal: 0},
			vm.LabelDecl{Name: "LOOP"},
			vm.GotoOp{Jump: vm.Conditional, Label: "LOOP"},
		)
		assert.Contains(t, lines, "(Main.main$LOOP)")
		// The conditional jump pops the stack's top and branches on non-zero
		assert.Equal(t,
			[]string{"@SP", "M=M-1", "A=M", "D=M", "@Main.main$LOOP", "D;JNE"},
			lines[len(lines)-6:],
		)
	})
}

func TestLowerFuncDecl(t *testing.T) {
	lines := lower(t, vm.FuncDecl{Name: "Foo.bar", NLocal: 2})
	assert.Equal(t, []string{
		"(Foo.bar)",
		"@SP", "D=M", "@LCL", "M=D",
		// Two local variables, each initialized by pushing a zero
		"@SP", "A=M", "M=0", "@SP", "M=M+1",
		"@SP", "A=M", "M=0", "@SP", "M=M+1",
	}, lines)
}

func TestLowerFuncCall(t *testing.T) {
	lines := lower(t, vm.FuncCallOp{Name: "Foo.bar", NArgs: 2})
	assert.Equal(t, []string{
		// Push the return address, then the caller's LCL, ARG, THIS and THAT
		"@Out$ret.1", "D=A", "@SP", "A=M", "M=D", "@SP", "M=M+1",
		"@LCL", "D=M", "@SP", "A=M", "M=D", "@SP", "M=M+1",
		"@ARG", "D=M", "@SP", "A=M", "M=D", "@SP", "M=M+1",
		"@THIS", "D=M", "@SP", "A=M", "M=D", "@SP", "M=M+1",
		"@THAT", "D=M", "@SP", "A=M", "M=D", "@SP", "M=M+1",
		// ARG = SP - nArgs - 5
		"@7", "D=A", "@SP", "D=M-D", "@ARG", "M=D",
		// LCL = SP, jump to the callee, declare the comeback point
		"@SP", "D=M", "@LCL", "M=D",
		"@Foo.bar", "0;JMP",
		"(Out$ret.1)",
	}, lines)
}

func TestLowerFuncCallLabels(t *testing.T) {
	// Return address counters are per-scope and start from 1
	lines := lower(t,
		vm.FuncCallOp{Name: "Foo.bar", NArgs: 0},
		vm.FuncCallOp{Name: "Foo.bar", NArgs: 0},
		vm.FuncDecl{Name: "Main.main", NLocal: 0},
		vm.FuncCallOp{Name: "Foo.bar", NArgs: 0},
	)
	assert.Contains(t, lines, "(Out$ret.1)")
	assert.Contains(t, lines, "(Out$ret.2)")
	assert.Contains(t, lines, "(Main.main$ret.1)")
}

func TestLowerReturn(t *testing.T) {
	lines := lower(t, vm.ReturnOp{})
	assert.Equal(t, []string{
		// endFrame = LCL
		"@LCL", "D=M", "@endFrame", "M=D",
		// retAddr = *(endFrame - 5)
		"@5", "D=A", "@endFrame", "A=M-D", "D=M", "@retAddr", "M=D",
		// *ARG = pop()
		"@SP", "M=M-1", "A=M", "D=M", "@ARG", "A=M", "M=D",
		// SP = ARG + 1
		"@ARG", "D=M", "@SP", "M=D+1",
		// THAT = *(endFrame - 1)
		"@endFrame", "A=M-1", "D=M", "@THAT", "M=D",
		// THIS = *(endFrame - 2)
		"@2", "D=A", "@endFrame", "A=M-D", "D=M", "@THIS", "M=D",
		// ARG = *(endFrame - 3)
		"@3", "D=A", "@endFrame", "A=M-D", "D=M", "@ARG", "M=D",
		// LCL = *(endFrame - 4)
		"@4", "D=A", "@endFrame", "A=M-D", "D=M", "@LCL", "M=D",
		// goto retAddr
		"@retAddr", "A=M", "0;JMP",
	}, lines)
}

func TestLowerStaticUsesModuleName(t *testing.T) {
	// The static prefix follows the originating file, not the enclosing function:
	// a 'Bar.baz' function living in module 'Foo' still addresses 'Foo.<n>' slots
	lines := lower(t,
		vm.FuncDecl{Name: "Bar.baz", NLocal: 0},
		vm.MemoryOp{Operation: vm.Push, Segment: vm.Static, Offset: 0},
	)
	assert.Contains(t, lines, "@Foo.0")
}

func TestLowerSharedCountersAcrossModules(t *testing.T) {
	// In directory mode every module feeds the same output file, the counters
	// must keep increasing across module boundaries to avoid label collisions
	lowerer := vm.NewLowerer(vm.Program{
		{Name: "First", Operations: []vm.Operation{vm.ArithmeticOp{Operation: vm.Eq}}},
		{Name: "Second", Operations: []vm.Operation{vm.ArithmeticOp{Operation: vm.Eq}}},
	}, "Out")
	program, err := lowerer.Lower()
	require.NoError(t, err)

	codegen := asm.NewCodeGenerator(program)
	lines, err := codegen.Generate()
	require.NoError(t, err)

	assert.Contains(t, lines, "(EQ.TRUE.0)")
	assert.Contains(t, lines, "(EQ.TRUE.1)")
	assert.NotContains(t, lines, "(EQ.TRUE.2)")
}

func TestLowerBootstrap(t *testing.T) {
	lowerer := vm.NewLowerer(vm.Program{}, "Out")
	program, err := lowerer.Bootstrap()
	require.NoError(t, err)

	codegen := asm.NewCodeGenerator(program)
	lines, err := codegen.Generate()
	require.NoError(t, err)

	// SP = 256, then a full call frame transferring control to Sys.init
	assert.Equal(t, []string{"@256", "D=A", "@SP", "M=D"}, lines[:4])
	assert.Contains(t, lines, "@Sys.init")
	assert.Contains(t, lines, "(Out$ret.1)")
}

func TestLowerDeterminism(t *testing.T) {
	operations := []vm.Operation{
		vm.MemoryOp{Operation: vm.Push, Segment: vm.Constant, Offset: 5},
		vm.MemoryOp{Operation: vm.Push, Segment: vm.Constant, Offset: 3},
		vm.ArithmeticOp{Operation: vm.Sub},
		vm.ArithmeticOp{Operation: vm.Eq},
		vm.MemoryOp{Operation: vm.Pop, Segment: vm.Local, Offset: 0},
	}

	first := lower(t, operations...)
	second := lower(t, operations...)
	assert.Equal(t, first, second)
}
