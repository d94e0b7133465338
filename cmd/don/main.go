// Command don parses a .don build script, links it, and runs one or more
// named targets on don's virtual machine.
//
// Argument handling follows spec.md §6.1 (-i script, -d disassemble,
// "--" end of options, trailing target names) re-expressed as a kong
// CLI, per SPEC_FULL.md §4.3 -- replacing the teacher's hand-rolled
// os.Args switch (kristofer/smog's cmd/smog/main.go) with a declarative
// struct kong parses and validates.
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"
	"github.com/spf13/afero"

	"github.com/buildgraph/don/pkg/bytecode"
	"github.com/buildgraph/don/pkg/cache"
	"github.com/buildgraph/don/pkg/config"
	"github.com/buildgraph/don/pkg/donlog"
	"github.com/buildgraph/don/pkg/heap"
	"github.com/buildgraph/don/pkg/linker"
	"github.com/buildgraph/don/pkg/parser"
	"github.com/buildgraph/don/pkg/vm"
	"github.com/buildgraph/don/pkg/workqueue"
)

// cli is don's complete command-line surface. Targets defaults to
// ["default"] when the user gives none, per spec.md §6.1.
var cli struct {
	Script   string   `short:"i" default:"build.don" help:"Build script to run."`
	Disasm   bool     `short:"d" help:"Disassemble every function before executing it."`
	Verbose  bool     `short:"v" help:"Enable debug-level logging."`
	NoCache  bool     `help:"Disable the persistent build cache."`
	CacheDir string   `default:".don-cache" help:"Directory holding the persistent cache's index files."`
	Targets  []string `arg:"" optional:"" help:"Targets to build (default: \"default\")."`
}

func main() {
	kong.Parse(&cli,
		kong.Name("don"),
		kong.Description("A small build-automation tool driven by an indentation-based script."),
	)

	log := donlog.New(cli.Verbose)
	defer log.Sync()

	cfg, err := config.New(cli.Script, cli.Disasm, cli.Verbose, cli.NoCache, cli.CacheDir, cli.Targets)
	if err != nil {
		log.Sugar().Error(err)
		os.Exit(1)
	}

	source, err := os.ReadFile(cfg.Script)
	if err != nil {
		log.Sugar().Errorf("reading %s: %v", cfg.Script, err)
		os.Exit(1)
	}

	prog, diags, hasErrors := parser.Parse(cfg.Script, string(source))
	for _, d := range diags {
		log.Sugar().Warn(d.String())
	}
	if hasErrors {
		log.Sugar().Error("parsing failed")
		os.Exit(1)
	}

	linked, linkErrs, hasErrors := linker.Link(prog)
	for _, e := range linkErrs {
		log.Sugar().Warn(e)
	}
	if hasErrors {
		log.Sugar().Error("linking failed")
		os.Exit(1)
	}

	if cfg.Disasm {
		fmt.Fprint(os.Stderr, bytecode.Disassemble(linked))
	}

	for _, name := range cfg.Targets {
		if _, ok := linked.Targets[name]; !ok {
			log.Sugar().Errorf("unknown target %q", name)
			os.Exit(1)
		}
	}

	fs := afero.NewOsFs()
	var store *cache.Cache
	if !cfg.NoCache {
		store, err = cache.Open(fs, cfg.CacheDir)
		if err != nil {
			log.Sugar().Errorf("opening cache: %v", err)
			os.Exit(1)
		}
	}

	ctx := heap.NewContext()
	queue := workqueue.New()
	workqueue.RegisterDefaults(queue, fs, os.Stdout, store)
	interp := vm.NewInterpreter(ctx, linked, queue)

	runErr := interp.RunTargets(cfg.Targets)

	if store != nil {
		if err := store.Close(); err != nil {
			log.Sugar().Errorf("closing cache: %v", err)
			if runErr == nil {
				os.Exit(1)
			}
		}
	}

	if runErr != nil {
		log.Sugar().Errorf("run failed: %v", runErr)
		os.Exit(1)
	}
}
