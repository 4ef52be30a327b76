package main

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/teris-io/cli"

	"its-hmny.dev/hack-toolchain/pkg/asm"
	"its-hmny.dev/hack-toolchain/pkg/hack"
)

var (
	// Raised when an input path doesn't carry the '.asm' extension
	ErrBadExtension = errors.New("input file should have .asm extension")
	// Raised when an input path doesn't exist on the filesystem
	ErrMissingPath = errors.New("input path doesn't exist")
)

var Description = strings.ReplaceAll(`
The Hack Assembler takes assembly language code written in the Hack assembly language
and translates it into machine code that can be executed by the Hack computer. The process
involves parsing the assembly code, resolving symbols, and generating machine code.
`, "\n", " ")

var HackAssembler = cli.New(Description).
	// 'AsOptional()' allows to have more than one input .asm file
	WithArg(cli.NewArg("inputs", "One or more assembler (.asm) files to be compiled").
		AsOptional().WithType(cli.TypeString)).
	WithAction(Handler)

func Handler(args []string, options map[string]string) int {
	if len(args) < 1 {
		fmt.Printf("ERROR: Not enough arguments provided, use --help\n")
		return -1
	}

	// Every input is translated on its own, the first failure ends the whole run
	for _, input := range args {
		if err := Assemble(input); err != nil {
			fmt.Printf("ERROR: %s\n", err)
			return -1
		}
	}

	return 0
}

// Assembles one '.asm' input into its '.hack' counterpart, written alongside.
func Assemble(input string) error {
	stem, found := strings.CutSuffix(input, ".asm")
	if !found {
		return errors.Wrap(ErrBadExtension, input)
	}
	if _, err := os.Stat(input); os.IsNotExist(err) {
		return errors.Wrap(ErrMissingPath, input)
	}

	content, err := os.ReadFile(input)
	if err != nil {
		return errors.Wrap(err, "unable to open input file")
	}

	// Instantiate a parser for the Asm program
	parser := asm.NewParser(bytes.NewReader(content))
	// Parses the input file content and extract an AST (as a 'asm.Program') from it.
	asmProgram, err := parser.Parse()
	if err != nil {
		return errors.Wrap(err, "unable to complete 'parsing' pass")
	}

	// Instantiate a lowerer to convert the program from Asm to Hack
	lowerer := asm.NewLowerer(asmProgram)
	// Lowers the asm.Program to an in-memory/IR representation of its Hack counterpart,
	// binding every label declaration to its ROM offset along the way.
	hackProgram, table, err := lowerer.Lower()
	if err != nil {
		return errors.Wrap(err, "unable to complete 'lowering' pass")
	}

	// Now, instantiates a code generator for the Hack (compiled) program
	codegen := hack.NewCodeGenerator(hackProgram, table)
	// Iterates over each instruction and spits out the relative binary representation.
	compiled, err := codegen.Generate()
	if err != nil {
		return errors.Wrap(err, "unable to complete 'codegen' pass")
	}

	output, err := os.Create(stem + ".hack")
	if err != nil {
		return errors.Wrap(err, "unable to open output file")
	}
	defer output.Close()

	for _, comp := range compiled {
		if _, err := fmt.Fprintf(output, "%s\n", comp); err != nil {
			return errors.Wrap(err, "unable to write output file")
		}
	}

	return nil
}

func main() { os.Exit(HackAssembler.Run(os.Args, os.Stdout)) }
