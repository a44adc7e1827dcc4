package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"gamegate/internal/artifact"
	"gamegate/internal/config"
	"gamegate/internal/logging"
	"gamegate/internal/report"
	"gamegate/internal/verifier"
	"gamegate/internal/watch"

	"github.com/spf13/cobra"
)

const verifyUsage = "Usage: gamegate verify games/<game>.html"

var (
	allowNoRuntime bool
	strictRuntime  bool
	watchMode      bool
	outputFormat   string
	sdkPath        string
)

// newRuntime returns the runtime check used by verify. nil selects the
// go-rod harness; tests swap in a stub.
var newRuntime = func(*config.Config) verifier.Runtime { return nil }

var verifyCmd = &cobra.Command{
	Use:   "verify <game.html>",
	Short: "Verify a minigame against the host contract",
	Long: `Runs every static rule, then plays the game in headless Chromium with a fake
host SDK and waits for endGame. Prints one line per check and exits 1 if any
check failed.

Without a usable browser the runtime check fails; --allow-no-runtime turns that
into a warning and --strict-runtime turns it back.`,
	Args: cobra.ArbitraryArgs,
	RunE: runVerify,
}

func init() {
	verifyCmd.Flags().BoolVar(&allowNoRuntime, "allow-no-runtime", false, "Report an unavailable browser as WARN instead of FAIL")
	verifyCmd.Flags().BoolVar(&strictRuntime, "strict-runtime", false, "Keep an unavailable browser as FAIL even with --allow-no-runtime")
	verifyCmd.Flags().BoolVar(&watchMode, "watch", false, "Re-verify whenever the file changes")
	verifyCmd.Flags().StringVar(&outputFormat, "format", "text", "Report format: text or json")
	verifyCmd.Flags().StringVar(&sdkPath, "sdk", "", "Path to maribro-sdk.js (default: <game dir>/../public/maribro-sdk.js)")
}

func runVerify(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if len(args) != 1 {
		fmt.Fprintln(out, verifyUsage)
		return exitError{code: 1}
	}
	if outputFormat != "text" && outputFormat != "json" {
		return fmt.Errorf("unknown --format %q (valid: text, json)", outputFormat)
	}
	path := args[0]

	if allowNoRuntime {
		cfg.Verify.AllowNoRuntime = true
	}
	if strictRuntime {
		cfg.Verify.StrictRuntime = true
	}
	if sdkPath != "" {
		cfg.Verify.SDKPath = sdkPath
	}
	v := verifier.FromConfig(cfg, newRuntime(cfg))

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	code, err := verifyOnce(ctx, v, path, out)
	if err != nil {
		return err
	}
	if !watchMode {
		return exitCode(code)
	}
	return watchAndVerify(ctx, v, path, out, code)
}

// verifyOnce prints a report for path and returns its exit code. A missing
// file is a usage error: a notice and code 1, no report.
func verifyOnce(ctx context.Context, v *verifier.Verifier, path string, out io.Writer) (int, error) {
	a, err := artifact.Load(path)
	if err != nil {
		if errors.Is(err, artifact.ErrNotFound) {
			fmt.Fprintf(out, "File not found: %s\n", path)
			return 1, nil
		}
		return 1, err
	}
	rep := v.Verify(ctx, a)
	if err := writeReport(rep, out); err != nil {
		return 1, err
	}
	return rep.ExitCode(), nil
}

func writeReport(rep *report.Report, out io.Writer) error {
	if outputFormat == "json" {
		return rep.WriteJSON(out)
	}
	return rep.WriteText(out)
}

// watchAndVerify re-runs the pipeline on every settled change until ctx is
// cancelled, then exits with the code of the most recent run.
func watchAndVerify(ctx context.Context, v *verifier.Verifier, path string, out io.Writer, first int) error {
	var last atomic.Int32
	last.Store(int32(first))

	w, err := watch.New(path, 0, func(ctx context.Context, p string) {
		fmt.Fprintln(out, "----")
		code, err := verifyOnce(ctx, v, p, out)
		if err != nil {
			logging.Get(logging.CategoryWatch).Error("verify %s: %v", p, err)
		}
		last.Store(int32(code))
	})
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		return err
	}
	logging.Get(logging.CategoryWatch).Info("waiting for changes to %s (Ctrl-C to stop)", w.Path())

	select {
	case <-ctx.Done():
	case <-w.Done():
	}
	w.Stop()
	return exitCode(int(last.Load()))
}
