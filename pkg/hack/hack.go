package hack

// ----------------------------------------------------------------------------
// General information

// This section contains some general information about the Hack instruction set.
//
// We declare a shared 'Instruction' interface for both A and C instructions as well
// as a 'SymbolTable' type used to resolve user defined labels during the codegen
// phase. The 'MaxAddressableMemory' constant bounds the addresses an A Instruction
// can reference: one instruction is 16 bit wide and the first bit is the opcode,
// leaving 15 bits to index the computer memory.

// Just used to put together A and C instructions struct, use type switch to disambiguate.
type Instruction interface{}

// A Hack program is a linear list of instructions, labels have already been resolved
// away at this point (they live in the companion 'SymbolTable').
type Program []Instruction

// Mapping from user defined labels/variables to their resolved memory locations.
type SymbolTable map[string]uint16

const MaxAddressableMemory uint16 = 1 << 15 // First address not indexable by an A Instruction.

// ----------------------------------------------------------------------------
// A Instructions

// In memory representation of an A Instruction for the Hack architecture spec.
//
// The A instruction has only one functionality in the Hack computer, it instructs
// the CPU to load a specific memory address from the computer memory (this includes
// both the RAM as well as the memory mapped I/O such as Keyboard and Screen).
//
// The location can be expressed in multiple way:
// - A raw memory address (e.g. 1, 2, 3)
// - A user defined label or variable (e.g. LOOP, counter, popdata4)
// - A built-in symbol from the Hack architecture spec (e.g. SP, THIS, SCREEN)
type AInstruction struct {
	LocType LocationType // The type of the location identified by 'LocName' field
	LocName string       // A generic "payload" (the label/builtin/raw symbol)
}

type LocationType uint8 // Enumeration for all the different type of location (built-in, label, raw)

const (
	Raw     LocationType = 0 // Raw address literal (e.g. @2345, @8989)
	Label   LocationType = 1 // User-defined location w/ a user given name (e.g. @MAIN, @LOOP)
	BuiltIn LocationType = 2 // Predefined associations by the Hack specs (@SCREEN, @KBD, @R1)
)

// ----------------------------------------------------------------------------
// C Instructions

// In memory representation of an C Instruction for the Hack architecture spec.
//
// The C instruction handles the computation side of the Hack computer, it instructs
// the CPU on what operation to execute and which registers to use, also it allows to
// specify jump conditions to change the execution flow at runtime.
//
// All three fields are kept in their mnemonic form ("D+1", "AM", "JNE"), the
// translation to bit-codes happens in the codegen phase through the lookup tables.
type CInstruction struct {
	Comp string // The 'computation' bit-codes, defines the calculation that the CPU should perform
	Dest string // The 'destination' bit-codes, defines if/where the result should be saved
	Jump string // The 'jump' bit-codes, define on what premise the jump to another instruction should occur
}
