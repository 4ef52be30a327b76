package asm

import (
	"strconv"

	"github.com/pkg/errors"

	"its-hmny.dev/hack-toolchain/pkg/hack"
)

// ----------------------------------------------------------------------------
// Asm Lowerer

// The Lowerer takes an 'asm.Program' and produces its 'hack.Program' counterpart.
//
// This is the first pass of the classic two-pass symbol resolution: while walking the
// program each label declaration is bound to the ROM offset of the next real instruction
// (labels consume no ROM slot, so the binding is simply the length of the converted
// program so far). The second half of the resolution (variables allocated from RAM 16
// onwards) belongs to the 'hack' code generator, which owns the variable counter.
type Lowerer struct{ program Program }

// Initializes and returns to the caller a brand new 'Lowerer' struct.
// Requires the argument Program to be not nil nor empty.
func NewLowerer(p Program) Lowerer {
	return Lowerer{program: p}
}

// Triggers the lowering process. It iterates instruction by instruction and calls the
// specified helper function based on the instruction type, accumulating the converted
// 'hack.Instruction' list and the label Symbol Table as it goes.
func (l *Lowerer) Lower() (hack.Program, hack.SymbolTable, error) {
	converted, table := hack.Program{}, hack.SymbolTable{}

	if len(l.program) == 0 {
		return nil, nil, errors.New("the given 'program' is empty")
	}

	for _, asmInst := range l.program {
		switch tAsmInst := asmInst.(type) {
		case AInstruction: // Converts 'asm.AInstruction' to 'hack.AInstruction'
			hackInst, err := l.HandleAInst(tAsmInst)
			if hackInst == nil || err != nil {
				return nil, nil, err
			}
			converted = append(converted, hackInst)

		case CInstruction: // Converts 'asm.CInstruction' to 'hack.CInstruction'
			hackInst, err := l.HandleCInst(tAsmInst)
			if hackInst == nil || err != nil {
				return nil, nil, err
			}
			converted = append(converted, hackInst)

		case LabelDecl: // Adds 'asm.LabelDecl' to the 'hack.SymbolTable'
			label, err := l.HandleLabelDecl(tAsmInst)
			if label == "" || err != nil {
				return nil, nil, err
			}
			// The label binds to the ROM address of the instruction that follows
			// it, the ROM counter is just the number of instructions lowered so far
			table[label] = uint16(len(converted))

		default: // Error case, unrecognized operation type
			return nil, nil, errors.Errorf("unrecognized instruction '%T'", asmInst)
		}
	}

	return converted, table, nil
}

// Specialized function to convert a 'asm.AInstruction' node to an 'hack.AInstruction'.
func (Lowerer) HandleAInst(inst AInstruction) (hack.Instruction, error) {
	if inst.Location == "" {
		return nil, errors.New("unable to lower an A instruction with no location")
	}

	// Based on one of the following cases below (the type of the symbol) we do different things:
	// 1) If it's present in the BuiltInTable we set the 'LocType' to 'BuiltIn' accordingly
	if _, found := hack.BuiltInTable[inst.Location]; found {
		return hack.AInstruction{LocType: hack.BuiltIn, LocName: inst.Location}, nil
	}
	// 2) If it's a numeric literal we set the 'LocType' to 'Raw', the literal has to fit
	// in the 15 bit available to the A Instruction else the whole lowering is aborted
	// (a leading digit is not allowed in user defined symbols, so there's no fallback)
	if first := inst.Location[0]; first >= '0' && first <= '9' {
		if _, err := strconv.ParseUint(inst.Location, 10, 15); err != nil {
			return nil, errors.Errorf("raw location '%s' doesn't fit in 15 bits", inst.Location)
		}
		return hack.AInstruction{LocType: hack.Raw, LocName: inst.Location}, nil
	}
	// 3) Else it's a user defined label and we set 'LocType' to 'Label' accordingly
	return hack.AInstruction{LocType: hack.Label, LocName: inst.Location}, nil
}

// Specialized function to convert a 'asm.CInstruction' node to an 'hack.CInstruction'.
// Every combination of 'Dest' and 'Jump' (both, either or neither) is well formed as
// long as 'Comp' is provided, the mnemonic validation belongs to the codegen tables.
func (Lowerer) HandleCInst(inst CInstruction) (hack.Instruction, error) {
	if inst.Comp == "" { // Pre-check: CInstruction.Comp should always be provided
		return nil, errors.New("'Comp' sub-instruction should always be provided")
	}

	return hack.CInstruction{Dest: inst.Dest, Comp: inst.Comp, Jump: inst.Jump}, nil
}

// Specialized function to extract from a 'asm.LabelDecl' node the identifier of the label.
func (Lowerer) HandleLabelDecl(inst LabelDecl) (string, error) {
	if inst.Name == "" {
		return "", errors.New("unable to bind a label with an empty name")
	}

	return inst.Name, nil
}
