package main

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// configFile is looked up in the working directory, the way shells look
// up rc files. Absence is not an error.
const configFile = "lox.toml"

// Config tunes the interpreter's debug and GC behavior. Every field
// defaults to off; command-line flags override whatever the file says.
type Config struct {
	GC struct {
		Stress bool `toml:"stress"`
		Log    bool `toml:"log"`
	} `toml:"gc"`
	Debug struct {
		TraceExecution bool `toml:"trace_execution"`
		PrintCode      bool `toml:"print_code"`
	} `toml:"debug"`
}

// loadConfig reads lox.toml if present and enabled.
func loadConfig(skip bool) Config {
	var cfg Config
	if skip {
		return cfg
	}

	if _, err := toml.DecodeFile(configFile, &cfg); err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Warning: error loading %s: %v\n", configFile, err)
		}
	}
	return cfg
}
