package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/formrecovery/internal/config"
	"github.com/roach88/formrecovery/internal/engine"
	"github.com/roach88/formrecovery/internal/eventlog"
	"github.com/roach88/formrecovery/internal/hubspot"
	"github.com/roach88/formrecovery/internal/pacing"
)

// userAgent identifies this tool to HubSpot.
const userAgent = "formrecovery/1"

// app is one wired process: configuration, logger, event sink and
// orchestrator. Close releases the files it opened.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	events  io.Writer
	orch    *engine.Orchestrator
	closers []io.Closer
}

// loadConfig resolves the configuration for a command. Problems are
// command errors (exit code 2).
func loadConfig(opts *RootOptions, skipToken bool) (*config.Config, error) {
	cfg, err := config.Load(config.LoadOptions{
		Path:      opts.ConfigPath,
		Lookup:    opts.Lookup,
		SkipToken: skipToken,
	})
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load configuration", err)
	}
	return cfg, nil
}

// newApp loads the configuration and wires the orchestrator. A nil
// runIDs generates UUIDv7 run IDs.
func newApp(opts *RootOptions, cmd *cobra.Command, runIDs engine.RunIDGenerator) (*app, error) {
	cfg, err := loadConfig(opts, false)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg}
	if err := a.openLogger(opts.Verbose, cmd.ErrOrStderr()); err != nil {
		_ = a.Close()
		return nil, WrapExitError(ExitCommandError, "failed to open log file", err)
	}
	if err := a.openEvents(cmd.OutOrStdout()); err != nil {
		_ = a.Close()
		return nil, WrapExitError(ExitCommandError, "failed to open events file", err)
	}

	eventLevel := slog.LevelInfo
	if opts.Verbose || cfg.SlogLevel() == slog.LevelDebug {
		eventLevel = slog.LevelDebug
	}
	logger := a.logger
	events := a.events
	orch, err := engine.New(a.connect, engine.Options{
		Forms:         cfg.Forms,
		EmailField:    cfg.Run.EmailField,
		ForceDryRun:   cfg.Run.ForceDryRun,
		DedupeByEmail: cfg.Run.DedupeByEmail,
		Fetch:         cfg.FetchOptions(),
		Resolve:       cfg.ResolverOptions(),
		ProgressEvery: cfg.Run.ProgressEvery,
		RunIDs:        runIDs,
		Recorders: func(runID string) *eventlog.Recorder {
			return eventlog.NewRecorder(eventlog.Options{
				RunID:    runID,
				Writer:   events,
				Logger:   logger,
				MinLevel: eventLevel,
			})
		},
		Logger: logger,
	})
	if err != nil {
		_ = a.Close()
		return nil, WrapExitError(ExitCommandError, "failed to build orchestrator", err)
	}
	a.orch = orch
	return a, nil
}

// openLogger builds the process logger: stderr plus the optional log
// file, text or JSON.
func (a *app) openLogger(verbose bool, stderr io.Writer) error {
	level := a.cfg.SlogLevel()
	if verbose {
		level = slog.LevelDebug
	}

	w := stderr
	if a.cfg.Log.File != "" {
		f, err := os.OpenFile(a.cfg.Log.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, f)
		w = io.MultiWriter(stderr, f)
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(a.cfg.Log.Format, "json") {
		handler = slog.NewJSONHandler(w, handlerOpts)
	} else {
		handler = slog.NewTextHandler(w, handlerOpts)
	}
	a.logger = slog.New(handler)
	return nil
}

// openEvents selects the event sink: log.events_file when set, stdout
// otherwise. Recorders of every run share it.
func (a *app) openEvents(stdout io.Writer) error {
	w := stdout
	if a.cfg.Log.EventsFile != "" {
		f, err := os.OpenFile(a.cfg.Log.EventsFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, f)
		w = f
	}
	a.events = eventlog.NewSyncWriter(w)
	return nil
}

// connect builds the upstream client of one run with its own governor.
func (a *app) connect(runID string) (engine.Upstream, error) {
	logger := a.logger.With("run_id", runID)
	governor := pacing.NewGovernor(a.cfg.PacingPolicy(),
		pacing.WithCeiling(a.cfg.HubSpot.RequestsPerSecond, 1),
		pacing.WithLogger(logger),
	)
	client, err := hubspot.NewClient(hubspot.Options{
		BaseURL:    a.cfg.HubSpot.BaseURL,
		Token:      a.cfg.Token,
		HTTPClient: &http.Client{Timeout: a.cfg.HubSpot.Timeout.Std()},
		Pacer:      governor,
		MaxRetries: a.cfg.HubSpot.MaxRetries,
		UserAgent:  userAgent,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build hubspot client: %w", err)
	}
	return client, nil
}

// Close releases opened files, newest first.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	a.closers = nil
	return errors.Join(errs...)
}
