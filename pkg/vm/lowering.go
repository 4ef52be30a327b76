package vm

import (
	"fmt"
	"os"
	"strings"

	"github.com/kr/pretty"
	"github.com/pkg/errors"

	"its-hmny.dev/hack-toolchain/pkg/asm"
)

// ----------------------------------------------------------------------------
// Translation tables

// This section contains the translation tables used throughout the lowering phase.
//
// Much like the codegen tables of the 'hack' package they condense the per-opcode
// decisions in data instead of branching logic:
//	- 'SegmentPointerTable': Base pointer alias for the indirect memory segments
//  - 'IntrinsicTable': Combining instruction for the binary arithmetic/bitwise ops
//  - 'UnaryTable': In-place instruction for the unary ops
//  - 'ComparisonTable': Jump directive implementing each comparison op

var (
	SegmentPointerTable = map[SegmentType]string{
		Local: "LCL", Argument: "ARG", This: "THIS", That: "THAT",
	}

	// The combining step runs with D holding the topmost operand (y) and M
	// addressing the operand beneath it (x), 'sub' is therefore 'M-D' (x - y).
	IntrinsicTable = map[ArithOpType]asm.CInstruction{
		Add: {Dest: "M", Comp: "D+M"},
		Sub: {Dest: "M", Comp: "M-D"},
		And: {Dest: "M", Comp: "D&M"},
		Or:  {Dest: "M", Comp: "D|M"},
	}

	UnaryTable = map[ArithOpType]asm.CInstruction{
		Neg: {Dest: "M", Comp: "-M"},
		Not: {Dest: "M", Comp: "!M"},
	}

	ComparisonTable = map[ArithOpType]string{
		Eq: "JEQ", Gt: "JGT", Lt: "JLT",
	}
)

// ----------------------------------------------------------------------------
// Vm Lowerer

// The Lowerer takes a 'vm.Program' and produces its 'asm.Program' counterpart.
//
// Every operation is expanded to an assembly sequence honoring the Hack stack
// convention: SP points one past the topmost element, a push writes to *SP and then
// increments SP, a pop decrements SP and then reads *SP.
//
// The Lowerer is the only stateful piece of the pipeline and its state lives for the
// whole output file (which may aggregate multiple modules in directory mode):
// - the current function name, scoping labels and call return-addresses
// - the current module name, prefixing static variable symbols
// - the unique-label counters, shared across all modules so that the emitted
//   labels and scratch symbols stay globally unique within one output
type Lowerer struct {
	program  Program           // The set of modules to lower into one Asm program
	output   string            // Basename of the output file, the label scope outside any function
	module   string            // Name of the module being lowered (the static prefix)
	function string            // Name of the enclosing function, empty when at top-level
	counters map[string]uint16 // Monotonic counters backing the unique labels/scratch symbols
}

// Initializes and returns to the caller a brand new 'Lowerer' struct.
// Requires the Program 'p' to be non-nil and the output basename 'output' to be
// provided (it scopes top-level labels and the bootstrap's return address).
func NewLowerer(p Program, output string) *Lowerer {
	return &Lowerer{program: p, output: output, counters: map[string]uint16{}}
}

// Produces the bootstrap preamble: the Stack Pointer is set to its base location
// (RAM 256) and control is transferred to Sys.init through a full call frame, so
// that even the entrypoint observes the standard calling convention.
// Must be invoked before 'Lower' since it consumes values from the shared counters.
func (l *Lowerer) Bootstrap() (asm.Program, error) {
	preamble := asm.Program{
		asm.AInstruction{Location: "256"},
		asm.CInstruction{Dest: "D", Comp: "A"},
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "M", Comp: "D"},
	}

	call, err := l.handleFuncCall(FuncCallOp{Name: "Sys.init", NArgs: 0})
	if err != nil {
		return nil, err
	}

	return append(preamble, call...), nil
}

// Triggers the lowering process. It iterates module by module (and operation by
// operation) recursively calling the specified helper function based on the
// operation type, concatenating every expansion into one monolithic program.
func (l *Lowerer) Lower() (asm.Program, error) {
	program := asm.Program{}

	for _, module := range l.program {
		l.module = module.Name

		for _, operation := range module.Operations {
			var expansion []asm.Instruction
			var err error

			switch tOperation := operation.(type) {
			case MemoryOp:
				expansion, err = l.handleMemoryOp(tOperation)
			case ArithmeticOp:
				expansion, err = l.handleArithmeticOp(tOperation)
			case LabelDecl:
				expansion, err = l.handleLabelDecl(tOperation)
			case GotoOp:
				expansion, err = l.handleGotoOp(tOperation)
			case FuncDecl:
				expansion, err = l.handleFuncDecl(tOperation)
			case FuncCallOp:
				expansion, err = l.handleFuncCall(tOperation)
			case ReturnOp:
				expansion, err = l.handleReturnOp(tOperation)
			default:
				err = errors.Errorf("unrecognized operation '%T'", operation)
			}

			if err != nil {
				return nil, err
			}
			program = append(program, expansion...)
		}
	}

	// Feature flag: Enables pretty printing of the lowered program on the console
	if os.Getenv("PRINT_IR") != "" {
		pretty.Println(program)
	}

	return program, nil
}

// Consumes and returns the next value of the counter registered under 'key'.
func (l *Lowerer) nextCounter(key string) uint16 {
	current := l.counters[key]
	l.counters[key]++
	return current
}

// Returns the given label name prefixed with the current scope: the enclosing
// function when inside one, the output file basename otherwise.
func (l *Lowerer) scopedLabel(name string) string {
	if l.function != "" {
		return fmt.Sprintf("%s$%s", l.function, name)
	}
	return fmt.Sprintf("%s$%s", l.output, name)
}

// The canonical push tail: writes the D register at *SP and increments SP.
func pushDataRegister() []asm.Instruction {
	return []asm.Instruction{
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "A", Comp: "M"},
		asm.CInstruction{Dest: "M", Comp: "D"},
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "M", Comp: "M+1"},
	}
}

// The canonical pop head: decrements SP and reads *SP into the D register.
func popDataRegister() []asm.Instruction {
	return []asm.Instruction{
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "M", Comp: "M-1"},
		asm.CInstruction{Dest: "A", Comp: "M"},
		asm.CInstruction{Dest: "D", Comp: "M"},
	}
}

// Specialized function to expand a 'vm.MemoryOp' to its assembly sequence.
func (l *Lowerer) handleMemoryOp(op MemoryOp) ([]asm.Instruction, error) {
	// Bound checking on segments that do have an upperbound to the allowed offsets
	if op.Segment == Pointer && op.Offset > 1 {
		return nil, errors.Wrapf(ErrInvalidCommand, "invalid 'pointer' offset, got %d", op.Offset)
	}
	if op.Segment == Temp && op.Offset > 7 {
		return nil, errors.Wrapf(ErrInvalidCommand, "invalid 'temp' offset, got %d", op.Offset)
	}
	if op.Segment == Constant && op.Offset >= 1<<15 {
		return nil, errors.Wrapf(ErrInvalidCommand, "invalid 'constant' value, got %d", op.Offset)
	}

	switch op.Operation {
	case Push:
		return l.handlePush(op.Segment, op.Offset)
	case Pop:
		return l.handlePop(op.Segment, op.Offset)
	}

	return nil, errors.Wrapf(ErrInvalidCommand, "unrecognized OperationType '%s'", op.Operation)
}

// Expands a push operation: loads the requested value into D and pushes it.
func (l *Lowerer) handlePush(segment SegmentType, offset uint16) ([]asm.Instruction, error) {
	switch segment {
	case Constant: // The value is the offset itself, loaded as an immediate
		return append([]asm.Instruction{
			asm.AInstruction{Location: fmt.Sprint(offset)},
			asm.CInstruction{Dest: "D", Comp: "A"},
		}, pushDataRegister()...), nil

	case Temp: // The temp segment lives at the fixed RAM window 5..12
		return append([]asm.Instruction{
			asm.AInstruction{Location: fmt.Sprint(5 + offset)},
			asm.CInstruction{Dest: "D", Comp: "M"},
		}, pushDataRegister()...), nil

	case Pointer: // Offset 0 aliases THIS, offset 1 aliases THAT
		return append([]asm.Instruction{
			asm.AInstruction{Location: pointerAlias(offset)},
			asm.CInstruction{Dest: "D", Comp: "M"},
		}, pushDataRegister()...), nil

	case Static: // Statics are per-module assembly variables named '<module>.<offset>'
		return append([]asm.Instruction{
			asm.AInstruction{Location: fmt.Sprintf("%s.%d", l.module, offset)},
			asm.CInstruction{Dest: "D", Comp: "M"},
		}, pushDataRegister()...), nil

	case Local, Argument, This, That: // Indirect segments: addr = *base_ptr + offset
		return append([]asm.Instruction{
			asm.AInstruction{Location: fmt.Sprint(offset)},
			asm.CInstruction{Dest: "D", Comp: "A"},
			asm.AInstruction{Location: SegmentPointerTable[segment]},
			asm.CInstruction{Dest: "A", Comp: "D+M"},
			asm.CInstruction{Dest: "D", Comp: "M"},
		}, pushDataRegister()...), nil
	}

	return nil, errors.Wrapf(ErrInvalidCommand, "unrecognized SegmentType '%s'", segment)
}

// Expands a pop operation: pops the stack's top into D and stores it at the
// requested location.
func (l *Lowerer) handlePop(segment SegmentType, offset uint16) ([]asm.Instruction, error) {
	switch segment {
	case Temp:
		return append(popDataRegister(),
			asm.AInstruction{Location: fmt.Sprint(5 + offset)},
			asm.CInstruction{Dest: "M", Comp: "D"},
		), nil

	case Pointer:
		return append(popDataRegister(),
			asm.AInstruction{Location: pointerAlias(offset)},
			asm.CInstruction{Dest: "M", Comp: "D"},
		), nil

	case Static:
		return append(popDataRegister(),
			asm.AInstruction{Location: fmt.Sprintf("%s.%d", l.module, offset)},
			asm.CInstruction{Dest: "M", Comp: "D"},
		), nil

	case Local, Argument, This, That:
		// The target address has to be computed while the popped value is kept
		// around, both are parked in scratch assembly variables ('popdata<n>' and
		// '<segment>.<n>') that the assembler auto-allocates from RAM 16 onwards.
		// The counters are shared across the whole output so every pop gets its
		// own pair of slots.
		popdata := fmt.Sprintf("popdata%d", l.nextCounter("popdata"))
		target := fmt.Sprintf("%s.%d", segment, l.nextCounter("popaddr"))

		sequence := append(popDataRegister(),
			asm.AInstruction{Location: popdata},
			asm.CInstruction{Dest: "M", Comp: "D"},
			asm.AInstruction{Location: fmt.Sprint(offset)},
			asm.CInstruction{Dest: "D", Comp: "A"},
			asm.AInstruction{Location: SegmentPointerTable[segment]},
			asm.CInstruction{Dest: "D", Comp: "D+M"},
			asm.AInstruction{Location: target},
			asm.CInstruction{Dest: "M", Comp: "D"},
			asm.AInstruction{Location: popdata},
			asm.CInstruction{Dest: "D", Comp: "M"},
			asm.AInstruction{Location: target},
			asm.CInstruction{Dest: "A", Comp: "M"},
			asm.CInstruction{Dest: "M", Comp: "D"},
		)
		return sequence, nil

	case Constant: // There's no meaningful way to store into a constant
		return nil, errors.Wrap(ErrInvalidCommand, "unable to pop into the 'constant' segment")
	}

	return nil, errors.Wrapf(ErrInvalidCommand, "unrecognized SegmentType '%s'", segment)
}

// Resolves a 'pointer' segment offset to the built-in alias it manipulates.
func pointerAlias(offset uint16) string {
	if offset == 0 {
		return "THIS"
	}
	return "THAT"
}

// Specialized function to expand a 'vm.ArithmeticOp' to its assembly sequence.
func (l *Lowerer) handleArithmeticOp(op ArithmeticOp) ([]asm.Instruction, error) {
	// Binary operations: pop y into D, address x in place and combine into M
	if combine, found := IntrinsicTable[op.Operation]; found {
		sequence := append(popDataRegister(),
			asm.AInstruction{Location: "SP"},
			asm.CInstruction{Dest: "M", Comp: "M-1"},
			asm.CInstruction{Dest: "A", Comp: "M"},
			combine,
			asm.AInstruction{Location: "SP"},
			asm.CInstruction{Dest: "M", Comp: "M+1"},
		)
		return sequence, nil
	}

	// Unary operations: rewrite the stack's top in place
	if rewrite, found := UnaryTable[op.Operation]; found {
		return []asm.Instruction{
			asm.AInstruction{Location: "SP"},
			asm.CInstruction{Dest: "M", Comp: "M-1"},
			asm.CInstruction{Dest: "A", Comp: "M"},
			rewrite,
			asm.AInstruction{Location: "SP"},
			asm.CInstruction{Dest: "M", Comp: "M+1"},
		}, nil
	}

	// Comparison operations: compute x - y and branch on the requested condition,
	// the true path writes -1 (all bits set) on the stack, the fall-through writes 0,
	// both converge on the SKIP label. Every occurrence consumes a counter value so
	// the labels remain unique within the whole output file.
	if jump, found := ComparisonTable[op.Operation]; found {
		id := l.nextCounter(string(op.Operation))
		trueLabel := fmt.Sprintf("%s.TRUE.%d", strings.ToUpper(string(op.Operation)), id)
		skipLabel := fmt.Sprintf("%s.SKIP.%d", strings.ToUpper(string(op.Operation)), id)

		sequence := append(popDataRegister(),
			asm.AInstruction{Location: "SP"},
			asm.CInstruction{Dest: "M", Comp: "M-1"},
			asm.CInstruction{Dest: "A", Comp: "M"},
			asm.CInstruction{Dest: "D", Comp: "M-D"},
			asm.AInstruction{Location: trueLabel},
			asm.CInstruction{Comp: "D", Jump: jump},
			asm.AInstruction{Location: "SP"},
			asm.CInstruction{Dest: "A", Comp: "M"},
			asm.CInstruction{Dest: "M", Comp: "0"},
			asm.AInstruction{Location: skipLabel},
			asm.CInstruction{Comp: "0", Jump: "JMP"},
			asm.LabelDecl{Name: trueLabel},
			asm.AInstruction{Location: "SP"},
			asm.CInstruction{Dest: "A", Comp: "M"},
			asm.CInstruction{Dest: "M", Comp: "-1"},
			asm.LabelDecl{Name: skipLabel},
			asm.AInstruction{Location: "SP"},
			asm.CInstruction{Dest: "M", Comp: "M+1"},
		)
		return sequence, nil
	}

	return nil, errors.Wrapf(ErrInvalidCommand, "unrecognized ArithOpType '%s'", op.Operation)
}

// Specialized function to expand a 'vm.LabelDecl' to its assembly counterpart.
func (l *Lowerer) handleLabelDecl(op LabelDecl) ([]asm.Instruction, error) {
	if op.Name == "" {
		return nil, errors.Wrap(ErrInvalidCommand, "unable to declare a label with an empty name")
	}

	return []asm.Instruction{asm.LabelDecl{Name: l.scopedLabel(op.Name)}}, nil
}

// Specialized function to expand a 'vm.GotoOp' to its assembly sequence.
func (l *Lowerer) handleGotoOp(op GotoOp) ([]asm.Instruction, error) {
	if op.Label == "" {
		return nil, errors.Wrap(ErrInvalidCommand, "unable to jump to an empty label")
	}

	switch op.Jump {
	case Unconditional:
		return []asm.Instruction{
			asm.AInstruction{Location: l.scopedLabel(op.Label)},
			asm.CInstruction{Comp: "0", Jump: "JMP"},
		}, nil

	case Conditional: // Pops the stack's top and jumps whenever it is non-zero
		return append(popDataRegister(),
			asm.AInstruction{Location: l.scopedLabel(op.Label)},
			asm.CInstruction{Comp: "D", Jump: "JNE"},
		), nil
	}

	return nil, errors.Wrapf(ErrInvalidCommand, "unrecognized JumpType '%s'", op.Jump)
}

// Specialized function to expand a 'vm.FuncDecl' to its assembly sequence.
//
// The declaration introduces the function's entrypoint label, anchors LCL to the
// current SP and pushes a zero for each declared local variable. It also switches
// the Lowerer's scope: every label and call site that follows belongs to this
// function until the next declaration.
func (l *Lowerer) handleFuncDecl(op FuncDecl) ([]asm.Instruction, error) {
	if op.Name == "" {
		return nil, errors.Wrap(ErrInvalidCommand, "unable to declare a function with an empty name")
	}

	l.function = op.Name

	sequence := []asm.Instruction{
		asm.LabelDecl{Name: op.Name},
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: "LCL"},
		asm.CInstruction{Dest: "M", Comp: "D"},
	}

	for i := uint16(0); i < op.NLocal; i++ {
		sequence = append(sequence,
			asm.AInstruction{Location: "SP"},
			asm.CInstruction{Dest: "A", Comp: "M"},
			asm.CInstruction{Dest: "M", Comp: "0"},
			asm.AInstruction{Location: "SP"},
			asm.CInstruction{Dest: "M", Comp: "M+1"},
		)
	}

	return sequence, nil
}

// Specialized function to expand a 'vm.FuncCallOp' to its assembly sequence.
//
// The caller's frame (return address, LCL, ARG, THIS, THAT) is saved on the stack,
// then ARG is repositioned to the first pushed argument (SP - nArgs - 5), LCL is
// anchored to the new SP and control jumps to the callee. The generated return
// address label is unique within the output file thanks to the per-scope counter.
func (l *Lowerer) handleFuncCall(op FuncCallOp) ([]asm.Instruction, error) {
	if op.Name == "" {
		return nil, errors.Wrap(ErrInvalidCommand, "unable to call a function with an empty name")
	}

	prefix := l.scopedLabel("ret.")
	l.counters[prefix]++ // Return address counters start from 1
	retLabel := fmt.Sprintf("%s%d", prefix, l.counters[prefix])

	sequence := append([]asm.Instruction{
		// Push the return address (the label itself, as a value)
		asm.AInstruction{Location: retLabel},
		asm.CInstruction{Dest: "D", Comp: "A"},
	}, pushDataRegister()...)

	// Save the caller's segment pointers right after the return address
	for _, pointer := range []string{"LCL", "ARG", "THIS", "THAT"} {
		sequence = append(sequence,
			asm.AInstruction{Location: pointer},
			asm.CInstruction{Dest: "D", Comp: "M"},
		)
		sequence = append(sequence, pushDataRegister()...)
	}

	sequence = append(sequence,
		// Reposition ARG below the saved frame: ARG = SP - nArgs - 5
		asm.AInstruction{Location: fmt.Sprint(5 + op.NArgs)},
		asm.CInstruction{Dest: "D", Comp: "A"},
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "D", Comp: "M-D"},
		asm.AInstruction{Location: "ARG"},
		asm.CInstruction{Dest: "M", Comp: "D"},
		// Anchor LCL to the new stack top
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: "LCL"},
		asm.CInstruction{Dest: "M", Comp: "D"},
		// Transfer control to the callee and declare the comeback point
		asm.AInstruction{Location: op.Name},
		asm.CInstruction{Comp: "0", Jump: "JMP"},
		asm.LabelDecl{Name: retLabel},
	)

	return sequence, nil
}

// Specialized function to expand a 'vm.ReturnOp' to its assembly sequence.
//
// The saved five-word frame sits at endFrame-5 .. endFrame-1 (endFrame being the
// callee's LCL): [retAddr, LCL, ARG, THIS, THAT]. The return value replaces the
// caller's first argument, SP collapses right past it, the saved pointers are
// restored innermost-last and control jumps back to the saved return address.
// 'endFrame' and 'retAddr' are scratch assembly variables auto-allocated from 16.
func (l *Lowerer) handleReturnOp(ReturnOp) ([]asm.Instruction, error) {
	sequence := []asm.Instruction{
		// endFrame = LCL
		asm.AInstruction{Location: "LCL"},
		asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: "endFrame"},
		asm.CInstruction{Dest: "M", Comp: "D"},
		// retAddr = *(endFrame - 5), saved upfront since *ARG = pop() may
		// overwrite it when the callee has no arguments
		asm.AInstruction{Location: "5"},
		asm.CInstruction{Dest: "D", Comp: "A"},
		asm.AInstruction{Location: "endFrame"},
		asm.CInstruction{Dest: "A", Comp: "M-D"},
		asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: "retAddr"},
		asm.CInstruction{Dest: "M", Comp: "D"},
	}

	// *ARG = pop()
	sequence = append(sequence, popDataRegister()...)
	sequence = append(sequence,
		asm.AInstruction{Location: "ARG"},
		asm.CInstruction{Dest: "A", Comp: "M"},
		asm.CInstruction{Dest: "M", Comp: "D"},
		// SP = ARG + 1
		asm.AInstruction{Location: "ARG"},
		asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "M", Comp: "D+1"},
		// THAT = *(endFrame - 1)
		asm.AInstruction{Location: "endFrame"},
		asm.CInstruction{Dest: "A", Comp: "M-1"},
		asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: "THAT"},
		asm.CInstruction{Dest: "M", Comp: "D"},
		// THIS = *(endFrame - 2)
		asm.AInstruction{Location: "2"},
		asm.CInstruction{Dest: "D", Comp: "A"},
		asm.AInstruction{Location: "endFrame"},
		asm.CInstruction{Dest: "A", Comp: "M-D"},
		asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: "THIS"},
		asm.CInstruction{Dest: "M", Comp: "D"},
		// ARG = *(endFrame - 3)
		asm.AInstruction{Location: "3"},
		asm.CInstruction{Dest: "D", Comp: "A"},
		asm.AInstruction{Location: "endFrame"},
		asm.CInstruction{Dest: "A", Comp: "M-D"},
		asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: "ARG"},
		asm.CInstruction{Dest: "M", Comp: "D"},
		// LCL = *(endFrame - 4)
		asm.AInstruction{Location: "4"},
		asm.CInstruction{Dest: "D", Comp: "A"},
		asm.AInstruction{Location: "endFrame"},
		asm.CInstruction{Dest: "A", Comp: "M-D"},
		asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: "LCL"},
		asm.CInstruction{Dest: "M", Comp: "D"},
		// goto retAddr
		asm.AInstruction{Location: "retAddr"},
		asm.CInstruction{Dest: "A", Comp: "M"},
		asm.CInstruction{Comp: "0", Jump: "JMP"},
	)

	return sequence, nil
}
