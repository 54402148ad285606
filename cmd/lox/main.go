// Lox CLI - the main entry point for running Lox programs
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/tliron/commonlog"

	"github.com/chazu/lox/pkg/bytecode"

	_ "github.com/tliron/commonlog/simple"
)

// Exit codes follow the BSD sysexits convention: 64 usage, 65 data
// (compile) error, 70 internal software (runtime) error, 74 I/O error.
const (
	exitUsage   = 64
	exitCompile = 65
	exitRuntime = 70
	exitIO      = 74
)

func main() {
	verbose := flag.Bool("v", false, "Verbose logging")
	trace := flag.Bool("trace", false, "Trace each instruction as it executes")
	printCode := flag.Bool("print-code", false, "Disassemble each function after compiling it")
	gcStress := flag.Bool("gc-stress", false, "Run the garbage collector on every allocation")
	noConfig := flag.Bool("no-config", false, "Skip loading lox.toml")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: lox [options] [path]\n\n")
		fmt.Fprintf(os.Stderr, "Runs the Lox script at path, or starts a REPL when no path is given.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  lox                  # Start REPL\n")
		fmt.Fprintf(os.Stderr, "  lox script.lox       # Run a script\n")
		fmt.Fprintf(os.Stderr, "  lox -trace fib.lox   # Run with an execution trace\n")
	}
	flag.Parse()

	cfg := loadConfig(*noConfig)

	// Flags override the config file.
	if *trace {
		cfg.Debug.TraceExecution = true
	}
	if *printCode {
		cfg.Debug.PrintCode = true
	}
	if *gcStress {
		cfg.GC.Stress = true
	}

	verbosity := 0
	if *verbose || cfg.GC.Log {
		verbosity = 2
	}
	commonlog.Configure(verbosity, nil)

	heap := bytecode.NewHeap()
	heap.Stress = cfg.GC.Stress

	vm := bytecode.NewVM(bytecode.WithHeap(heap))
	vm.Trace = cfg.Debug.TraceExecution
	vm.PrintCode = cfg.Debug.PrintCode

	args := flag.Args()
	switch len(args) {
	case 0:
		runREPL(vm)
	case 1:
		runFile(vm, args[0])
	default:
		fmt.Fprintln(os.Stderr, "Usage: lox [path]")
		os.Exit(exitUsage)
	}
}

// runFile interprets a whole script and maps the result to an exit code.
func runFile(vm *bytecode.VM, path string) {
	source, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Could not open file %q.\n", path)
		os.Exit(exitIO)
	}

	switch vm.Interpret(string(source)) {
	case bytecode.InterpretCompileError:
		os.Exit(exitCompile)
	case bytecode.InterpretRuntimeError:
		os.Exit(exitRuntime)
	}
}
