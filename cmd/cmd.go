// Package cmd builds the zb CLI's cobra command tree. It is the thin,
// flag-parsing layer on top of kernel, engine, and report; nothing here is
// meant to be imported by other Go packages.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/arctir/zb/engine"
	"github.com/arctir/zb/host"
	"github.com/arctir/zb/kernel"
	"github.com/arctir/zb/report"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// timeOpts holds the resolved flags for `zb time`.
type timeOpts struct {
	outputPath string
	grace      time.Duration
}

func newTimeOpts(fs *pflag.FlagSet) timeOpts {
	outputPath, _ := fs.GetString(outputFlag)
	grace, _ := fs.GetDuration(graceFlag)
	return timeOpts{outputPath: outputPath, grace: grace}
}

// exitEngineFailure is the engine's own fatal exit code, distinct from
// anything the traced root could produce, following the git-bisect-style
// convention that this run itself is inconclusive rather than reporting a
// real outcome.
const exitEngineFailure = 125

const (
	outputFlag = "output"
	graceFlag  = "grace"
)

var zbCmd = &cobra.Command{
	Use:   "zb",
	Short: "zb is a small collection of replacements for everyday Unix tools.",
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

var timeCmd = &cobra.Command{
	Use:   "time -- COMMAND [ARG...]",
	Short: "Trace a command and its full descendant tree, reporting wall, CPU, memory, I/O, and fault accounting per process.",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runTime,
}

func init() {
	timeCmd.Flags().String(outputFlag, "", "Write the full report to FILE in addition to stdout.")
	timeCmd.Flags().Duration(graceFlag, engine.DefaultGracePeriod, "How long to keep draining a signaled run before detaching from survivors.")
	zbCmd.AddCommand(timeCmd)
}

// SetupCLI constructs the zb command tree.
func SetupCLI() *cobra.Command {
	return zbCmd
}

func runTime(cmd *cobra.Command, args []string) error {
	opts := newTimeOpts(cmd.Flags())

	argv := args
	if dash := cmd.ArgsLenAtDash(); dash >= 0 {
		argv = args[dash:]
	}
	if len(argv) == 0 {
		return fmt.Errorf("zb time: please pass a command to trace, e.g. `zb time -- sleep 1`")
	}

	tracer := kernel.NewTracer()
	engOpts := engine.NewOptions(engine.WithGracePeriod(opts.grace))
	eng := engine.New(tracer, engOpts)

	result, err := eng.Run(context.Background(), argv, os.Environ(), "")
	if err != nil {
		if errors.Is(err, kernel.ErrAttachRefused) {
			reportAttachRefused()
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitEngineFailure)
	}

	if result.Table.HasOrphans() {
		fmt.Fprintln(os.Stderr, "zb time: one or more descendants were attributed to a synthetic root because their parent pid was never observed")
	}

	tree := report.Tree(result.Table)
	groups := report.GroupBy(result.Table)
	summary := report.Summary(result.Table, tree)
	summary.Incomplete = result.Incomplete
	summary.DetachedCount = result.Detached

	if err := report.Render(os.Stdout, tree, groups, summary); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitEngineFailure)
	}

	if opts.outputPath != "" {
		f, ferr := os.Create(opts.outputPath)
		if ferr != nil {
			fmt.Fprintln(os.Stderr, ferr)
			os.Exit(exitEngineFailure)
		}
		defer f.Close()
		if err := report.Render(f, tree, groups, summary); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(exitEngineFailure)
		}
	}

	os.Exit(exitStatusFor(result.ExitStatus))
	return nil
}

// exitStatusFor maps the traced root's accounting status (>= 0 is its own
// exit code, < 0 is -signal) onto the shell's 128+signal convention.
func exitStatusFor(status int) int {
	if status >= 0 {
		return status
	}
	return 128 - status
}

// reportAttachRefused surfaces the platform's permission model by name
// (classic ptrace, restricted ptrace, admin-only attach, no attach)
// alongside the raw attach failure.
func reportAttachRefused() {
	reader := host.NewLinuxReader(host.LinuxReaderConfig{})
	scope, err := reader.PtraceScope()
	if err != nil {
		fmt.Fprintln(os.Stderr, "zb time: trace attachment refused and ptrace_scope could not be read")
		return
	}
	fmt.Fprintf(os.Stderr, "zb time: trace attachment refused (yama ptrace_scope: %s)\n", scope)
}
