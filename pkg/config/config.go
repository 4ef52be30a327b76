package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// Config represents the toolchain configuration, loaded by the VM translator
// binary (the assembler binary reads no configuration file).
type Config struct {
	// VM translator settings
	Translator struct {
		// The bootstrap (SP = 256 + call Sys.init 0) is emitted by default in both
		// single-file and directory mode, course test programs that run under the
		// CPU emulator with their own preamble can switch it off here.
		EmitBootstrap bool `toml:"emit_bootstrap"`
	} `toml:"translator"`

	// Debugging settings, mapped onto the env feature flags read by the parsers
	Debug struct {
		Folder    string `toml:"folder"`     // Where AST exports are written (DEBUG_FOLDER)
		ExportAST bool   `toml:"export_ast"` // Dump a Graphviz view of the parsed AST (EXPORT_AST)
		PrintAST  bool   `toml:"print_ast"`  // Pretty print the parsed AST on stdout (PRINT_AST)
		PrintIR   bool   `toml:"print_ir"`   // Pretty print the lowered program on stdout (PRINT_IR)
	} `toml:"debug"`
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Translator.EmitBootstrap = true
	cfg.Debug.Folder = "."

	return cfg
}

// GetConfigPath returns the location of the user's config file
// (~/.config/hack-toolchain/config.toml, falling back to the working directory).
func GetConfigPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "config.toml"
	}

	return filepath.Join(homeDir, ".config", "hack-toolchain", "config.toml")
}

// Load loads the configuration from the default config file.
func Load() (*Config, error) {
	return LoadFrom(GetConfigPath())
}

// LoadFrom loads the configuration from the specified file, a missing file is
// not an error and simply yields the defaults.
func LoadFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	return cfg, nil
}

// Apply exports the debugging toggles as the env feature flags understood by
// the parsing and lowering packages.
func (c *Config) Apply() {
	if c.Debug.Folder != "" {
		os.Setenv("DEBUG_FOLDER", c.Debug.Folder)
	}
	if c.Debug.ExportAST {
		os.Setenv("EXPORT_AST", "1")
	}
	if c.Debug.PrintAST {
		os.Setenv("PRINT_AST", "1")
	}
	if c.Debug.PrintIR {
		os.Setenv("PRINT_IR", "1")
	}
}
