package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/teris-io/cli"

	"its-hmny.dev/hack-toolchain/pkg/asm"
	"its-hmny.dev/hack-toolchain/pkg/config"
	"its-hmny.dev/hack-toolchain/pkg/vm"
)

var (
	// Raised when a file input path doesn't carry the '.vm' extension
	ErrBadExtension = errors.New("input file should have .vm extension")
	// Raised when an input path doesn't exist on the filesystem
	ErrMissingPath = errors.New("input path doesn't exist")
)

var Description = strings.ReplaceAll(`
The VM Translator translates programs (composed of multiple modules/files) written in
the VM language into Hack assembly code that can be further elaborated. The VM language
is a higher-level (bytecode'like) language tailored for use with the Hack computer arch.
A file input produces a sibling '.asm' file, a directory input produces one '.asm' file
with the concatenated translation of every '.vm' file found inside (non-recursive).
`, "\n", " ")

var VmTranslator = cli.New(Description).
	// 'AsOptional()' allows to have more than one input path (.vm file or directory)
	WithArg(cli.NewArg("inputs", "One or more .vm files or directories to be translated").
		AsOptional().WithType(cli.TypeString)).
	WithOption(cli.NewOption("config", "Alternative location for the config.toml file").
		WithType(cli.TypeString)).
	WithAction(Handler)

func Handler(args []string, options map[string]string) int {
	if len(args) < 1 {
		fmt.Printf("ERROR: Not enough arguments provided, use --help\n")
		return -1
	}

	cfg, err := LoadConfig(options)
	if err != nil {
		fmt.Printf("ERROR: %s\n", err)
		return -1
	}
	cfg.Apply()

	// Every input path gets its own output file, the first failure ends the whole run
	for _, input := range args {
		if err := Translate(input, cfg); err != nil {
			fmt.Printf("ERROR: %s\n", err)
			return -1
		}
	}

	return 0
}

// Loads the toolchain configuration, either from the default location or from
// the '--config' override provided on the command line.
func LoadConfig(options map[string]string) (*config.Config, error) {
	if path, found := options["config"]; found && path != "" {
		return config.LoadFrom(path)
	}
	return config.Load()
}

// Translates one input path (a '.vm' file or a directory of '.vm' files) into a
// single monolithic '.asm' output.
func Translate(input string, cfg *config.Config) error {
	info, err := os.Stat(input)
	if os.IsNotExist(err) {
		return errors.Wrap(ErrMissingPath, input)
	}
	if err != nil {
		return errors.Wrap(err, "unable to inspect input path")
	}

	// Resolves the list of translation units and the output destination: a directory
	// produces '<dir>/<dir-basename>.asm' out of every '.vm' file found inside (in
	// lexicographic order, so that the translation stays deterministic), a plain
	// file produces a sibling '.asm' with the same stem.
	sources, output := []string{}, ""
	if info.IsDir() {
		entries, err := os.ReadDir(input)
		if err != nil {
			return errors.Wrap(err, "unable to list input directory")
		}

		sources = lo.FilterMap(entries, func(entry os.DirEntry, _ int) (string, bool) {
			return filepath.Join(input, entry.Name()),
				!entry.IsDir() && filepath.Ext(entry.Name()) == ".vm"
		})
		output = filepath.Join(input, filepath.Base(filepath.Clean(input))+".asm")
	} else {
		stem, found := strings.CutSuffix(input, ".vm")
		if !found {
			return errors.Wrap(ErrBadExtension, input)
		}
		sources, output = []string{input}, stem+".asm"
	}

	// Allocates a 'vm.Program' with one 'vm.Module' per translation unit, each
	// parsed independently and then sent as a whole to the lowering phase (that
	// will create a monolithic compiled output).
	program := vm.Program{}
	for _, source := range sources {
		content, err := os.ReadFile(source)
		if err != nil {
			return errors.Wrap(err, "unable to open input file")
		}

		// Instantiate a parser for the Vm module
		parser := vm.NewParser(bytes.NewReader(content))
		// Parses the input file content and extract the operation list from it.
		operations, err := parser.Parse()
		if err != nil {
			return errors.Wrapf(err, "unable to complete 'parsing' pass on %s", source)
		}

		// The module keeps the short basename around, it's the static variable prefix
		name := strings.TrimSuffix(filepath.Base(source), ".vm")
		program = append(program, vm.Module{Name: name, Operations: operations})
	}

	// Feature flag: Echoes back the canonical form of every parsed module, useful
	// to spot normalization mishaps when a translation misbehaves
	if os.Getenv("DUMP_VM") != "" {
		echo := vm.NewCodeGenerator(program)
		if rendered, err := echo.Generate(); err == nil {
			for name, lines := range rendered {
				fmt.Printf("// %s\n%s\n", name, strings.Join(lines, "\n"))
			}
		}
	}

	// Instantiate a lowerer to convert the program from Vm to Asm, the output
	// basename scopes top-level labels and the bootstrap's return address
	lowerer := vm.NewLowerer(program, strings.TrimSuffix(filepath.Base(output), ".asm"))

	// The bootstrap preamble sets the Stack Pointer to its base location (RAM 256)
	// and transfers control to Sys.init through a regular call frame. It is emitted
	// for both single-file and directory outputs, the config file can switch it off
	// for test programs that run under an emulator with its own preamble.
	asmProgram := asm.Program{}
	if cfg.Translator.EmitBootstrap {
		preamble, err := lowerer.Bootstrap()
		if err != nil {
			return errors.Wrap(err, "unable to emit bootstrap preamble")
		}
		asmProgram = append(asmProgram, preamble...)
	}

	// Lowers the vm.Program to an in-memory/IR representation of its Asm counterpart.
	lowered, err := lowerer.Lower()
	if err != nil {
		return errors.Wrap(err, "unable to complete 'lowering' pass")
	}
	asmProgram = append(asmProgram, lowered...)

	// Now, instantiates a code generator for the Asm (compiled) program
	codegen := asm.NewCodeGenerator(asmProgram)
	// Iterates over each instruction and spits out the relative textual representation.
	compiled, err := codegen.Generate()
	if err != nil {
		return errors.Wrap(err, "unable to complete 'codegen' pass")
	}

	file, err := os.Create(output)
	if err != nil {
		return errors.Wrap(err, "unable to open output file")
	}
	defer file.Close()

	for _, comp := range compiled {
		if _, err := fmt.Fprintf(file, "%s\n", comp); err != nil {
			return errors.Wrap(err, "unable to write output file")
		}
	}

	return nil
}

func main() { os.Exit(VmTranslator.Run(os.Args, os.Stdout)) }
