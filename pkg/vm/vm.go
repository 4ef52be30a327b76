package vm

// ----------------------------------------------------------------------------
// General information

// This section contains some general information about the VM intermediate language.
//
// We declare a shared 'Operation' interface for every macro operation available for the
// language and we define some other useful top-level struct such as Program and Module.
// Is important to note that a VM program can be composed of multiple translation units
// that can be also referenced as file or modules or also classes.

// A VM Program is just an ordered set of multiple modules/files, in the VM spec each
// class is translated to its own .vm file (just like Java .class file) that can be
// handled as its own translation unit during the parsing phase. The order matters for
// the codegen phase: the modules are concatenated into one monolithic .asm output.
type Program []Module

// A VM Module is a named linear list of VM operations/instructions. The name is the
// short basename (no extension) of the originating .vm file and is the only per-file
// state that outlives parsing: 'static i' in module F maps to the assembly symbol F.i.
type Module struct {
	Name       string      // Short basename of the source file, used as the static prefix
	Operations []Operation // The linear list of operations in the translation unit
}

// Used to put together all operation in the VM language (Memory, Arithmetic, ... ops).
type Operation interface{}

// ----------------------------------------------------------------------------
// Memory Op

// In memory representation of a Memory operation for the VM language.
//
// In the VM intermediate language there are only two possible memory operation on the stack.
// We could either push a new value taken from the specified segment location on the stack's
// top or take the stack's top and saves its value at the specified segment location.
type MemoryOp struct {
	Operation OperationType // The type of operation, either 'push' or 'pop'
	Segment   SegmentType   // The named memory segment to use (this, that, temp, ...)
	Offset    uint16        // The specific location/offset inside of the memory segment
}

type OperationType string // Enum to manage the operation allowed for a MemoryOp

const (
	Push OperationType = "push"
	Pop  OperationType = "pop"
)

type SegmentType string // Enum to manage the segment accessible for a MemoryOp

const (
	Temp     SegmentType = "temp"     // Real segment used to store intermediate computations
	Constant SegmentType = "constant" // Virtual segment used to access numeric constant

	Local    SegmentType = "local"    // Real segment used to store local function variables
	Static   SegmentType = "static"   // Real segment used to store shared/static variables
	Argument SegmentType = "argument" // Real segment used to store function's argument

	This    SegmentType = "this"    // Virtual segment used to point to a specific memory location
	That    SegmentType = "that"    // Virtual segment used to point to a specific memory location
	Pointer SegmentType = "pointer" // Real segment w/ 2 location used to set the 'this' and 'that' pointers
)

// ----------------------------------------------------------------------------
// Arithmetic Op

// In memory representation of a Arithmetic operation for the VM language.
//
// In the VM intermediate language there are just a handful of operation available.
// In particular each operation acts directly on the top of the stack, of course we have both unary
// and binary operation, the specific management of each op will be handled in the lowering phase.
type ArithmeticOp struct{ Operation ArithOpType }

type ArithOpType string // Enum to manage the operation allowed for an ArithmeticOp

const (
	Eq ArithOpType = "eq" // Comparison operations
	Gt ArithOpType = "gt"
	Lt ArithOpType = "lt"

	Add ArithOpType = "add" // Arithmetic operations
	Sub ArithOpType = "sub"
	Neg ArithOpType = "neg"

	Not ArithOpType = "not" // Bitwise operations
	And ArithOpType = "and"
	Or  ArithOpType = "or"
)

// ----------------------------------------------------------------------------
// Branching Ops

// In memory representation of a label declaration for the VM language.
//
// Labels are scoped: the lowering phase prefixes the user provided name with the
// enclosing function (or the output file basename when at top-level), so the same
// label name can be reused freely across different functions.
type LabelDecl struct {
	Name string // The symbol/ident chosen by the user for the label
}

// In memory representation of a jump operation for the VM language.
//
// Jumps can either be unconditional ('goto') or conditioned on the stack's top
// ('if-goto', that pops the topmost value and jumps when it is non-zero).
type GotoOp struct {
	Jump  JumpType // Whether the jump is conditional or not
	Label string   // The target label, scoped like 'LabelDecl'
}

type JumpType string // Enum to manage the jump flavors available for a GotoOp

const (
	Unconditional JumpType = "goto"
	Conditional   JumpType = "if-goto"
)

// ----------------------------------------------------------------------------
// Function Ops

// In memory representation of a function declaration for the VM language.
//
// A function declaration introduces a globally unique entrypoint label and reserves
// (zero-initialized) stack slots for its local variables. It also opens a new label
// scope: every 'label'/'goto'/'if-goto' until the next declaration belongs to it.
type FuncDecl struct {
	Name   string // Fully qualified function name (e.g. Main.fibonacci)
	NLocal uint16 // How many local variables to allocate on the stack
}

// In memory representation of a function call operation for the VM language.
//
// The call saves the caller's frame (return address, LCL, ARG, THIS, THAT) on the
// stack, repositions ARG and LCL for the callee and transfers control to it.
type FuncCallOp struct {
	Name  string // Fully qualified name of the callee
	NArgs uint16 // How many arguments have been pushed on the stack by the caller
}

// In memory representation of a return operation for the VM language.
//
// The return places the callee's result at the caller's top-of-frame, restores the
// caller's saved segment pointers and jumps back to the saved return address.
type ReturnOp struct{}
