package asm

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"its-hmny.dev/hack-toolchain/pkg/hack"
)

// ----------------------------------------------------------------------------
// Code Generator

// Takes a set of 'asm.Instruction' and spits out their textual counterparts.
//
// This is the back end of the VM translation pipeline: the VM lowerer produces an
// 'asm.Program' and this generator renders it as Hack assembly text, one command per
// line ("@VALUE", "(NAME)", "[DEST=]COMP[;JUMP]"). The translation can be done
// without any additional data structure but the program itself.
type CodeGenerator struct {
	program Program // The set of instructions to convert in Asm textual format
}

// Initializes and returns to the caller a brand new 'CodeGenerator' struct.
// Requires that argument Program 'p' (what we want to translate) is non-nil.
func NewCodeGenerator(p Program) CodeGenerator {
	return CodeGenerator{program: p}
}

// Translate each instruction in the 'program' field to the Asm textual format.
//
// Each instruction will pass through the following step: evaluation, validation and
// then conversion to its textual representation (a string) so that it can be further
// elaborated by the caller (e.g. dumping to a file, runtime interpretation, ...).
func (cg *CodeGenerator) Generate() ([]string, error) {
	asm := make([]string, 0, len(cg.program))

	for _, instruction := range cg.program {
		var generated string = ""
		var err error = nil

		switch tInstruction := instruction.(type) {
		case AInstruction:
			generated, err = cg.GenerateAInst(tInstruction)
		case CInstruction:
			generated, err = cg.GenerateCInst(tInstruction)
		case LabelDecl:
			generated, err = cg.GenerateLabelDecl(tInstruction)
		default:
			err = errors.Errorf("unrecognized instruction '%T'", instruction)
		}

		if err != nil {
			return nil, err
		}
		asm = append(asm, generated)
	}

	return asm, nil
}

// Specialized function to convert an A Instruction to the Asm format ("@LOCATION").
func (CodeGenerator) GenerateAInst(inst AInstruction) (string, error) {
	if inst.Location == "" {
		return "", errors.New("unable to produce A instruction with empty location")
	}

	return fmt.Sprintf("@%s", inst.Location), nil
}

// Specialized function to convert a C Instruction to the Asm format.
// The rendered shape is "[DEST=]COMP[;JUMP]", 'comp' being the only mandatory section.
func (cg *CodeGenerator) GenerateCInst(inst CInstruction) (string, error) {
	if inst.Comp == "" {
		return "", errors.New("expected 'comp' directive in C Instruction")
	}

	var builder strings.Builder
	if inst.Dest != "" {
		builder.WriteString(inst.Dest)
		builder.WriteString("=")
	}
	builder.WriteString(inst.Comp)
	if inst.Jump != "" {
		builder.WriteString(";")
		builder.WriteString(inst.Jump)
	}

	return builder.String(), nil
}

// Specialized function to convert a Label Declaration to the Asm format ("(NAME)").
// Built-in symbols of the Hack architecture cannot be redefined as labels.
func (cg *CodeGenerator) GenerateLabelDecl(inst LabelDecl) (string, error) {
	if inst.Name == "" {
		return "", errors.New("unable to produce empty label declaration")
	}
	if _, found := hack.BuiltInTable[inst.Name]; found {
		return "", errors.Errorf("unable to override built-in label '%s'", inst.Name)
	}

	return fmt.Sprintf("(%s)", inst.Name), nil
}
