package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/formrecovery/internal/engine"
	"github.com/roach88/formrecovery/internal/model"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Mode        string
	ForceDryRun bool

	// RunIDs allows overriding the run ID generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	RunIDs engine.RunIDGenerator
}

// RunResult is the outcome of one recovery run.
type RunResult struct {
	RequestedMode string `json:"requested_mode"`
	Mode          string `json:"mode"`
	Forms         int    `json:"forms"`
	model.RunStats
	Interrupted bool `json:"interrupted,omitempty"`
}

// String renders the text form of the result.
func (r RunResult) String() string {
	s := fmt.Sprintf("Recovery run (%s): %d processed, %d updated, %d skipped, %d errors",
		r.Mode, r.Processed, r.Updated, r.Skipped, r.Errors)
	if r.RequestedMode != r.Mode {
		s += fmt.Sprintf("\n%s was requested; dry run is forced", r.RequestedMode)
	}
	if r.Interrupted {
		s += "\nRun interrupted before every form was processed"
	}
	return s
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one recovery pass over every configured form",
		Long: `Run one recovery pass over every configured form.

Each form's submissions are fetched in full, mapped to contact properties
and matched to a contact by email. Only empty properties are filled.

Smoke mode (the default) decides every update and writes nothing. Write
mode applies the updates unless dry run is forced by --force-dry-run or
the configuration.

Events are written as JSON lines to stdout, or to log.events_file.
Ctrl-C stops the run at the next submission boundary.

Example:
  formrecovery run --config recovery.yaml
  formrecovery run --config recovery.yaml --mode write
  formrecovery run --mode write --force-dry-run --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecovery(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Mode, "mode", string(model.ModeSmoke), "run mode (smoke|write)")
	cmd.Flags().BoolVar(&opts.ForceDryRun, "force-dry-run", false, "never write, whatever the mode")

	return cmd
}

func runRecovery(opts *RunOptions, cmd *cobra.Command) error {
	mode, err := model.ParseMode(opts.Mode)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --mode", err)
	}

	a, err := newApp(opts.RootOptions, cmd, opts.RunIDs)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			a.logger.Error("error closing files", "error", closeErr)
		}
	}()

	formatter := newFormatter(opts.RootOptions, cmd)
	formatter.VerboseLog("Configuration: %s (%d forms)", a.cfg.Source, len(a.cfg.Forms))

	ctx, cancel := signalContext(cmd, a.logger)
	defer cancel()

	stats, runErr := a.orch.Run(ctx, engine.Request{Mode: mode, ForceDryRun: opts.ForceDryRun})

	result := RunResult{
		RequestedMode: string(mode),
		Mode:          string(mode.Effective(opts.ForceDryRun || a.cfg.Run.ForceDryRun)),
		Forms:         len(a.cfg.Forms),
		RunStats:      stats,
		Interrupted:   runErr != nil,
	}
	if err := formatter.Success(result); err != nil {
		return err
	}

	if runErr != nil {
		if errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded) {
			return WrapExitError(ExitFailure, "run interrupted", runErr)
		}
		return WrapExitError(ExitFailure, "run failed", runErr)
	}
	return nil
}

// signalContext derives a context from the command's that is cancelled on
// SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command, logger *slog.Logger) (context.Context, context.CancelFunc) {
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan) // Prevent signal handler leak
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
			// Parent context cancelled or command finished
		}
	}()
	return ctx, cancel
}
