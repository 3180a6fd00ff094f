package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aretw0/scripthost"
	"github.com/aretw0/scripthost/internal/presentation/tui"
	"github.com/aretw0/scripthost/pkg/coordinator"
	"github.com/aretw0/scripthost/pkg/observability"
	"github.com/spf13/cobra"
)

const (
	defaultSessionName = "THREAD [NPC] [1-GBBP] [Belt VIII-II] [Guristas Fleet]"
	defaultScriptDir   = "./evemu/scripts"
	defaultLogDir      = "./evemu/log/threads"
	defaultScript      = "test.lua"
)

type runOptions struct {
	name     string
	scripts  string
	logs     string
	script   string
	threaded bool
	repeat   bool
	report   bool
	poll     time.Duration
	duration time.Duration
	vars     []string
}

var runCmd = &cobra.Command{
	Use:   "run [script]",
	Short: "Execute a script in a single session and print its variables",
	Long: `Creates a session, executes the script and prints the requested global variables.

Synchronous by default. With --threaded the script runs on a worker: once, or on every
poll with --repeat, until --duration elapses or the process is interrupted.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := runOptions{script: defaultScript}
		if len(args) > 0 {
			opts.script = args[0]
		}
		flags := cmd.Flags()
		opts.name, _ = flags.GetString("name")
		opts.scripts, _ = flags.GetString("scripts")
		opts.logs, _ = flags.GetString("logs")
		opts.threaded, _ = flags.GetBool("threaded")
		opts.repeat, _ = flags.GetBool("repeat")
		opts.report, _ = flags.GetBool("report")
		opts.poll, _ = flags.GetDuration("poll")
		opts.duration, _ = flags.GetDuration("duration")
		opts.vars, _ = flags.GetStringArray("var")

		if opts.repeat && !opts.threaded {
			return fmt.Errorf("--repeat requires --threaded")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		tui.PrintBanner(cmd.ErrOrStderr(), strings.TrimSpace(scripthost.Version))
		return runSession(ctx, cmd.OutOrStdout(), opts)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().String("name", defaultSessionName, "Session name (also names the log file)")
	runCmd.Flags().String("scripts", defaultScriptDir, "Directory the script is resolved in")
	runCmd.Flags().String("logs", defaultLogDir, "Directory of the session log")
	runCmd.Flags().Bool("threaded", false, "Run the script on a worker")
	runCmd.Flags().Duration("poll", time.Second, "Worker poll interval")
	runCmd.Flags().Bool("repeat", false, "Repeat the script on every poll (worker only)")
	runCmd.Flags().Duration("duration", 0, "How long a worker keeps running (0 waits for one pass, or for an interrupt with --repeat)")
	runCmd.Flags().StringArray("var", nil, "Variable to print after execution (repeatable, default width and height)")
	runCmd.Flags().Bool("report", false, "Print a rendered report of every variable")
}

func runSession(ctx context.Context, out io.Writer, opts runOptions) error {
	fmt.Fprintf(out, "\nCreating session %q...\n", opts.name)

	c, err := scripthost.New(opts.name, opts.scripts,
		coordinator.WithLogDir(opts.logs),
		coordinator.WithThreading(opts.threaded),
		coordinator.WithPollInterval(opts.poll),
		coordinator.WithLogger(logger),
		coordinator.WithLifecycleHooks(observability.LoggingHooks(logger)),
	)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.ExecuteScript(ctx, opts.script); err != nil {
		return err
	}

	if opts.threaded {
		if err := drive(ctx, c, opts); err != nil {
			return err
		}
	}

	vars := opts.vars
	if len(vars) == 0 {
		vars = []string{"width", "height"}
	}
	fmt.Fprintf(out, "\n%s\n", formatVariables(c, vars))

	if opts.report {
		rendered, err := tui.NewRenderer()(tui.SnapshotMarkdown(c.Snapshot()))
		if err != nil {
			return fmt.Errorf("failed to render report: %w", err)
		}
		fmt.Fprint(out, rendered)
	}
	return nil
}

// drive requests the passes, waits as asked, then terminates the worker and joins it.
func drive(ctx context.Context, c *coordinator.Coordinator, opts runOptions) error {
	request := c.RunScript
	if opts.repeat {
		request = c.RepeatScript
	}
	if err := request(); err != nil {
		return err
	}

	switch {
	case opts.duration > 0:
		select {
		case <-time.After(opts.duration):
		case <-ctx.Done():
		}
	case opts.repeat:
		<-ctx.Done()
	default:
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for !c.Executed() {
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	if err := c.TerminateScript(); err != nil {
		return err
	}
	waitCtx, cancel := context.WithTimeout(context.Background(), opts.poll+5*time.Second)
	defer cancel()
	return c.Wait(waitCtx)
}

func formatVariables(c *coordinator.Coordinator, names []string) string {
	vars := c.Snapshot().Variables
	parts := make([]string, 0, len(names))
	for _, name := range names {
		v, ok := vars[name]
		if !ok {
			parts = append(parts, name+" = nil")
			continue
		}
		parts = append(parts, fmt.Sprintf("%s = %v", name, v))
	}
	return strings.Join(parts, ", ")
}
