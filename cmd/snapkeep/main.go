package main

import (
	"context"
	"fmt"
	"os"

	"github.com/hpungsan/snapkeep/internal/config"
	"github.com/hpungsan/snapkeep/internal/index"
	"github.com/hpungsan/snapkeep/internal/logging"
	"github.com/hpungsan/snapkeep/internal/mcp"
	"github.com/hpungsan/snapkeep/internal/ops"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"status": true, "reconcile": true, "list": true, "labels": true,
	"fetch": true, "restore": true, "save": true, "edit": true,
	"delete": true, "compare": true, "serve": true, "mcp": true,
	"help": true,
}

// isCLIMode determines if we should run CLI vs MCP server.
func isCLIMode(args []string) bool {
	if len(args) < 2 {
		return false // No args → MCP server
	}
	arg := args[1]
	if cliCommands[arg] {
		return true
	}
	return isHelpOrVersion(args)
}

// isHelpOrVersion returns true if the user is requesting help or version info.
func isHelpOrVersion(args []string) bool {
	if len(args) < 2 {
		return false
	}
	arg := args[1]
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" || arg == "help"
}

// isTerminal returns true if stdin is a terminal (not piped).
func isTerminal() bool {
	stat, _ := os.Stdin.Stat()
	return (stat.Mode() & os.ModeCharDevice) != 0
}

// printBanner displays a friendly banner when run interactively without args.
func printBanner() {
	fmt.Println(`
   ___ _ __   __ _ _ __ | | _____  ___ _ __
  / __| '_ \ / _' | '_ \| |/ / _ \/ _ \ '_ \
  \__ \ | | | (_| | |_) |   <  __/  __/ |_) |
  |___/_| |_|\__,_| .__/|_|\_\___|\___| .__/
                  |_|                 |_|

  Save and restore sets of live values

  Usage: snapkeep <command> [options]
         snapkeep --help

  MCP server mode requires piped input.`)
}

func main() {
	os.Exit(run())
}

func run() int {
	// No args + interactive terminal → show banner and exit
	if len(os.Args) < 2 && isTerminal() {
		printBanner()
		return 0
	}

	// Handle --help/--version before any setup
	if isHelpOrVersion(os.Args) {
		app := newCLIApp(nil, nil, nil)
		if err := app.Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
		return 0
	}

	// Unknown argument + terminal → show error (don't start MCP server)
	if len(os.Args) >= 2 && !isCLIMode(os.Args) && isTerminal() {
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", os.Args[1])
		fmt.Fprintf(os.Stderr, "Run 'snapkeep --help' for usage.\n")
		return 1
	}

	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: could not determine working directory: %v\n", err)
		return 1
	}

	globalDir := config.GlobalDir()
	cfg, err := config.LoadWithRepo(globalDir, cwd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to load config: %v\n", err)
		return 1
	}

	logger := logging.New(cfg.Log)
	defer logger.Close() //nolint:errcheck

	opts := []ops.Option{ops.WithLogger(logger.Logger)}
	if !cfg.IndexDisabled {
		database, err := index.Init(globalDir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: failed to initialize index: %v\n", err)
			return 1
		}
		defer database.Close()
		index.ConfigurePool(database, cfg)
		opts = append(opts, ops.WithIndex(index.NewStore(database)))
	}

	layer, err := ops.NewLive(context.Background(), cfg, logger.Logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to start live layer: %v\n", err)
		return 1
	}
	defer layer.Close() //nolint:errcheck

	svc := ops.New(cfg, layer, opts...)

	if isCLIMode(os.Args) {
		app := newCLIApp(svc, cfg, logger.Logger)
		if err := app.Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
		return 0
	}

	// MCP server mode (default)
	if err := mcp.Run(svc, cfg, Version); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}
