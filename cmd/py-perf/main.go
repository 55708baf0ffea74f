//go:build linux

// Command py-perf samples the call stacks of a live CPython process
// using an in-kernel eBPF stack walker and reports the result as a
// pprof profile, a collapsed-stack ("folded") text file, or a
// flamegraph SVG.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/kakkoyun/py-perf/internal/controller"
	"github.com/kakkoyun/py-perf/internal/profile"
)

var verbose bool

func main() {
	root := &cobra.Command{
		Use:           "py-perf",
		Short:         "A sampling profiler for live Python processes",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable verbose BPF logging")

	root.AddCommand(newInfoCommand(), newRecordCommand())

	if err := root.Execute(); err != nil {
		printErrorChain(err)
		os.Exit(1)
	}
}

// printErrorChain prints err followed by every wrapped cause on its own
// line, matching original_source/src/main.rs's anyhow-chain printing.
func printErrorChain(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	for cause := unwrap(err); cause != nil; cause = unwrap(cause) {
		fmt.Fprintf(os.Stderr, "caused by: %v\n", cause)
	}
}

func unwrap(err error) error {
	u, ok := err.(interface{ Unwrap() error })
	if !ok {
		return nil
	}
	return u.Unwrap()
}

func newLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).
		With().Timestamp().Logger()
}

func requireRoot() error {
	if os.Geteuid() != 0 {
		return fmt.Errorf("py-perf must run as root to load BPF programs")
	}
	return nil
}

func newInfoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Print information about the running kernel relevant to py-perf",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInfo()
		},
	}
}

func runInfo() error {
	if err := requireRoot(); err != nil {
		return err
	}

	var uname syscall.Utsname
	if err := syscall.Uname(&uname); err != nil {
		return fmt.Errorf("uname: %w", err)
	}
	fmt.Printf("Kernel release: %s\n", utsnameToString(uname.Release))

	_, err := os.Stat("/sys/kernel/debug/tracing")
	fmt.Printf("DebugFS mounted: %t\n", err == nil)
	return nil
}

func utsnameToString(field [65]int8) string {
	b := make([]byte, 0, len(field))
	for _, c := range field {
		if c == 0 {
			break
		}
		b = append(b, byte(c))
	}
	return string(b)
}

func newRecordCommand() *cobra.Command {
	var (
		pid       int
		duration  time.Duration
		frequency uint64
		format    string
	)

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a profile of a running Python process",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecord(pid, duration, frequency, format)
		},
	}

	cmd.Flags().IntVar(&pid, "pid", 0, "pid of the process to profile (required)")
	cmd.Flags().DurationVar(&duration, "duration", 10*time.Second, "how long to record for")
	cmd.Flags().Uint64Var(&frequency, "frequency", 19, "sampling frequency in Hz")
	cmd.Flags().StringVar(&format, "format", "pprof", "output format: pprof, flamegraph or folded")
	_ = cmd.MarkFlagRequired("pid")

	return cmd
}

func runRecord(pid int, duration time.Duration, frequency uint64, format string) error {
	if err := requireRoot(); err != nil {
		return err
	}
	if pid == 0 {
		return fmt.Errorf("--pid is required and must not be 0")
	}
	switch format {
	case "pprof", "flamegraph", "folded":
	default:
		return fmt.Errorf("unsupported --format %q: want pprof, flamegraph or folded", format)
	}

	logger := newLogger()

	ctrl, err := controller.New(procfsResolver{}, duration, frequency, verbose, controller.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("initialize profiler: %w", err)
	}
	defer func() {
		if err := ctrl.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to close profiler")
		}
	}()

	if err := ctrl.Register(pid); err != nil {
		return fmt.Errorf("register target process: %w", err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)

	cancel := make(chan struct{})
	timer := time.AfterFunc(duration, func() { close(cancel) })
	defer timer.Stop()

	go func() {
		select {
		case <-sig:
			close(cancel)
		case <-cancel:
		}
	}()

	logger.Info().Int("pid", pid).Dur("duration", duration).Uint64("frequency", frequency).Msg("recording")

	prof, err := ctrl.Start(context.Background(), cancel)
	if err != nil {
		return fmt.Errorf("record profile: %w", err)
	}

	return writeReport(prof.Report(), format)
}

// outputFilename builds "py-perf_{MMDDYYYY_HHhMMmSSs}_{kind}.{ext}", per
// original_source/src/main.rs's output file naming.
func outputFilename(kind, ext string) string {
	return fmt.Sprintf("py-perf_%s_%s.%s", time.Now().Format("01022006_15h04m05s"), kind, ext)
}

func writeReport(report *profile.Report, format string) error {
	var (
		kind string
		ext  string
		fn   func(w io.Writer) error
	)
	switch format {
	case "pprof":
		kind, ext, fn = "profile", "pb", report.Pprof
	case "flamegraph":
		kind, ext, fn = "flamegraph", "svg", report.Flamegraph
	case "folded":
		kind, ext, fn = "folded", "txt", report.Folded
	}

	name := outputFilename(kind, ext)
	f, err := os.Create(name)
	if err != nil {
		return fmt.Errorf("create output file %s: %w", name, err)
	}
	defer f.Close()

	if err := fn(f); err != nil {
		return fmt.Errorf("write %s report: %w", format, err)
	}

	fmt.Printf("wrote %s\n", name)
	return nil
}
