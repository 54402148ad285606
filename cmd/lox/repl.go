package main

import (
	"fmt"
	"io"
	"os"

	"github.com/chzyer/readline"
	"github.com/fatih/color"

	"github.com/chazu/lox/pkg/bytecode"
)

// runREPL reads one line at a time and interprets it in a shared VM, so
// globals persist across lines. Errors are reported and the session
// continues.
func runREPL(vm *bytecode.VM) {
	rl, err := readline.New("> ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error starting REPL: %v\n", err)
		os.Exit(1)
	}
	defer rl.Close()

	banner := color.New(color.FgCyan)
	banner.Fprintln(os.Stderr, "Lox REPL. Quit with ctrl-D.")

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading input: %v\n", err)
			break
		}

		vm.Interpret(line)
	}
}
