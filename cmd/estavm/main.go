// estavm: stack machine toolchain and execution service.
//
// Subcommands:
//
//	asm     assemble text to a program image
//	disasm  print the instructions of a program image
//	run     execute a program image and print the final state
//	store   manage the local program store
//	serve   run the JSON-RPC execution service
//	version print version and exit
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/estalang/estavm/internal/types"
	"github.com/estalang/estavm/pkg/asm"
	"github.com/estalang/estavm/pkg/bytecode"
	"github.com/estalang/estavm/pkg/programstore"
	"github.com/estalang/estavm/pkg/rpc"
	"github.com/estalang/estavm/pkg/runstore"
	"github.com/estalang/estavm/pkg/vm"
)

// Version information
var (
	Version   = "1.0.0"
	GitCommit = "dev"
)

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "asm":
		err = cmdAsm(os.Args[2:])
	case "disasm":
		err = cmdDisasm(os.Args[2:])
	case "run":
		err = cmdRun(os.Args[2:])
	case "store":
		err = cmdStore(os.Args[2:])
	case "serve":
		err = cmdServe(os.Args[2:])
	case "version":
		fmt.Printf("estavm %s (%s)\n", Version, GitCommit)
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		log.Fatalf("estavm %s: %v", os.Args[1], err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: estavm <asm|disasm|run|store|serve|version> [flags]")
}

// cmdAsm assembles a text program to an image file.
func cmdAsm(args []string) error {
	fs := flag.NewFlagSet("asm", flag.ExitOnError)
	output := fs.String("o", "", "Output image path (default: input with .esbc extension)")
	fs.Parse(args)

	if fs.NArg() != 1 {
		return fmt.Errorf("expected exactly one input file")
	}
	input := fs.Arg(0)

	src, err := os.ReadFile(input)
	if err != nil {
		return err
	}

	prog, err := asm.Assemble(string(src))
	if err != nil {
		return err
	}

	image, err := bytecode.Encode(prog)
	if err != nil {
		return err
	}

	out := *output
	if out == "" {
		ext := filepath.Ext(input)
		out = input[:len(input)-len(ext)] + ".esbc"
	}

	if err := os.WriteFile(out, image, 0644); err != nil {
		return err
	}

	log.Printf("Assembled %d instructions to %s (program %s)",
		len(prog), out, types.HashProgram(image))
	return nil
}

// cmdDisasm prints the instructions of an image file.
func cmdDisasm(args []string) error {
	fs := flag.NewFlagSet("disasm", flag.ExitOnError)
	fs.Parse(args)

	if fs.NArg() != 1 {
		return fmt.Errorf("expected exactly one image file")
	}

	image, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return err
	}

	prog, err := bytecode.Decode(image)
	if err != nil {
		return err
	}

	fmt.Print(asm.Disassemble(prog))
	return nil
}

// cmdRun executes an image file and prints the final machine state.
func cmdRun(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	maxSteps := fs.Uint64("max-steps", 0, "Step limit (0 = unbounded)")
	trace := fs.Bool("trace", false, "Print every executed instruction")
	fs.Parse(args)

	if fs.NArg() != 1 {
		return fmt.Errorf("expected exactly one image file")
	}

	image, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return err
	}

	prog, err := bytecode.Decode(image)
	if err != nil {
		return err
	}

	opts := vm.Options{MaxSteps: *maxSteps}
	if *trace {
		opts.Trace = func(step vm.Step) {
			fmt.Printf("%4d  %-16s stack=%v\n", step.PC, step.Ins, step.Stack)
		}
	}

	m := vm.New(prog, opts)
	runErr := m.Run()

	fmt.Printf("steps:  %d\n", m.Steps())
	fmt.Printf("stack:  %v\n", m.Stack())
	fmt.Printf("memory: %v\n", m.Memory())
	if runErr != nil {
		return fmt.Errorf("fault: %w", runErr)
	}
	return nil
}

// cmdStore manages the local program store.
func cmdStore(args []string) error {
	fs := flag.NewFlagSet("store", flag.ExitOnError)
	dataDir := fs.String("data-dir", defaultDataDir(), "Data directory")
	fs.Parse(args)

	if fs.NArg() < 1 {
		return fmt.Errorf("expected a store action: add, get, rm, list")
	}

	store, err := programstore.Open(programstore.DefaultConfig(filepath.Join(*dataDir, "programs.db")))
	if err != nil {
		return err
	}
	defer store.Close()

	switch action := fs.Arg(0); action {
	case "add":
		if fs.NArg() != 2 {
			return fmt.Errorf("add expects an image file")
		}
		image, err := os.ReadFile(fs.Arg(1))
		if err != nil {
			return err
		}
		prog, err := bytecode.Decode(image)
		if err != nil {
			return err
		}
		id, err := store.Put(prog)
		if err != nil {
			return err
		}
		fmt.Println(id)
		return nil

	case "get":
		if fs.NArg() != 2 {
			return fmt.Errorf("get expects a program ID")
		}
		id, err := types.ProgramIDFromBase58(fs.Arg(1))
		if err != nil {
			return err
		}
		prog, err := store.Get(id)
		if err != nil {
			return err
		}
		fmt.Print(asm.Disassemble(prog))
		return nil

	case "rm":
		if fs.NArg() != 2 {
			return fmt.Errorf("rm expects a program ID")
		}
		id, err := types.ProgramIDFromBase58(fs.Arg(1))
		if err != nil {
			return err
		}
		return store.Delete(id)

	case "list":
		metas, err := store.List()
		if err != nil {
			return err
		}
		for _, meta := range metas {
			fmt.Printf("%s  %d instructions\n", meta.ID, meta.Instructions)
		}
		return nil

	default:
		return fmt.Errorf("unknown store action %q", action)
	}
}

// cmdServe runs the JSON-RPC execution service.
func cmdServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	dataDir := fs.String("data-dir", defaultDataDir(), "Data directory")
	rpcAddr := fs.String("rpc-addr", rpc.DefaultConfig().Addr, "RPC server listen address")
	maxSteps := fs.Uint64("max-steps", rpc.DefaultConfig().MaxSteps, "Per-run step budget (0 = unbounded)")
	logRequests := fs.Bool("log-requests", false, "Log every RPC request")
	fs.Parse(args)

	log.Printf("Starting estavm %s", Version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Printf("Received signal %v, shutting down...", sig)
		cancel()
	}()

	programs, err := programstore.Open(programstore.DefaultConfig(filepath.Join(*dataDir, "programs.db")))
	if err != nil {
		return fmt.Errorf("open program store: %w", err)
	}
	defer programs.Close()

	runs, err := runstore.Open(runstore.DefaultConfig(filepath.Join(*dataDir, "runs")))
	if err != nil {
		return fmt.Errorf("open run store: %w", err)
	}
	defer runs.Close()

	log.Printf("Program store: %d programs", programs.Count())
	log.Printf("Run store: %d runs", runs.Count())

	config := rpc.DefaultConfig()
	config.Addr = *rpcAddr
	config.MaxSteps = *maxSteps
	config.LogRequests = *logRequests

	server := rpc.New(config, programs, runs)
	log.Printf("RPC server listening on %s", config.Addr)
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("rpc server: %w", err)
	}

	log.Println("Shutdown complete")
	return nil
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".estavm"
	}
	return filepath.Join(home, ".estavm")
}
