// spectertty wraps a child process in a pseudo-terminal and streams its
// I/O as newline-delimited JSON frames.
//
// This is the CLI's entry point. It owns argument parsing, help rendering,
// and exit-code propagation; nothing about PTY handling or frame emission
// lives here, so this file is the whole of this program's coupling to
// Cobra.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/spectertty/spectertty/internal/config"
	"github.com/spectertty/spectertty/internal/diagnostics"
	"github.com/spectertty/spectertty/internal/session"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	var (
		jsonFrames      bool
		tokenMode       string
		recordPath      string
		cols            int
		rows            int
		idleMs          int
		promptPatterns  []string
		bufferBytes     int
		overflowTimeout time.Duration
		verbose         bool
	)

	rootCmd := &cobra.Command{
		Use:           "spectertty -- COMMAND [ARGS...]",
		Short:         "Run a command under a PTY and stream typed JSON frames",
		Version:       Version,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.Flags()
	flags.BoolVar(&jsonFrames, "json", false, "emit newline-delimited JSON frames on stdout")
	flags.StringVar(&tokenMode, "token-mode", string(config.ModeRaw), "output transform: raw|compact|parsed")
	flags.StringVar(&recordPath, "record", "", "asciinema-v2 cast output file")
	flags.IntVar(&cols, "cols", config.DefaultCols, "initial PTY columns")
	flags.IntVar(&rows, "rows", config.DefaultRows, "initial PTY rows")
	flags.IntVar(&idleMs, "idle", config.DefaultIdleMs, "idle timeout in milliseconds")
	flags.StringArrayVar(&promptPatterns, "prompt-regex", nil, "prompt regex; may repeat")
	flags.IntVar(&bufferBytes, "buffer", config.DefaultBufferBytes, "frame sink queue capacity in bytes")
	flags.DurationVar(&overflowTimeout, "overflow-timeout", config.DefaultOverflowTimeout, "grace period before killing the child on sustained overflow")
	flags.BoolVar(&verbose, "verbose", false, "verbose diagnostics on stderr")

	var exitCode int

	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		diagnostics.SetVerbose(verbose)
		setupLogging(verbose)

		if len(args) == 0 {
			exitCode = session.ExitUsageError
			return fmt.Errorf("no command given; usage: spectertty [flags] -- COMMAND [ARGS...]")
		}

		cfg := config.Default()
		cfg.Command = args[0]
		cfg.Args = args[1:]
		cfg.JSONFrames = jsonFrames
		cfg.TokenMode = config.TokenMode(tokenMode)
		cfg.RecordPath = recordPath
		cfg.Cols = cols
		cfg.Rows = rows
		cfg.IdleTimeout = time.Duration(idleMs) * time.Millisecond
		cfg.PromptPatterns = promptPatterns
		cfg.BufferBytes = bufferBytes
		cfg.OverflowTimeout = overflowTimeout
		cfg.Verbose = verbose

		patterns, err := cfg.Validate()
		if err != nil {
			exitCode = session.ExitUsageError
			return err
		}

		logger := slog.Default()
		sup := session.New(cfg, patterns, os.Stdout, logger)
		exitCode = sup.Run(context.Background())
		return nil
	}

	if err := rootCmd.Execute(); err != nil {
		diagnostics.Error("%v", err)
		if exitCode == 0 {
			exitCode = session.ExitUsageError
		}
	}

	return exitCode
}

func setupLogging(verbose bool) {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelInfo
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}
