package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/formrecovery/internal/engine"
	"github.com/roach88/formrecovery/internal/httpapi"
)

// shutdownTimeout bounds the graceful drain of in-flight requests.
const shutdownTimeout = 10 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr string

	// RunIDs allows overriding the run ID generator (for testing).
	RunIDs engine.RunIDGenerator

	// Listening, if set, receives the bound address once the server
	// accepts connections (for testing).
	Listening chan<- string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the recovery trigger over HTTP",
		Long: `Serve the recovery trigger and health endpoints over HTTP.

Routes:
  POST /run       run every configured form; body {"mode", "force_dry_run"}
  POST /run-all   alias of /run
  GET  /health    liveness plus the configured form ids

At most one run is in flight; an overlapping trigger gets 409. Ctrl-C
stops an in-flight run at the next submission boundary and shuts the
server down.

Example:
  formrecovery serve --config recovery.yaml
  formrecovery serve --addr :9090`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (default server.addr)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	a, err := newApp(opts.RootOptions, cmd, opts.RunIDs)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			a.logger.Error("error closing files", "error", closeErr)
		}
	}()

	addr := opts.Addr
	if addr == "" {
		addr = a.cfg.Server.Addr
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("failed to listen on %s", addr), err)
	}

	ctx, cancel := signalContext(cmd, a.logger)
	defer cancel()

	gin.SetMode(gin.ReleaseMode)
	router := httpapi.NewRouter(a.orch, httpapi.Options{
		Logger:          a.logger,
		TriggerInterval: a.cfg.Server.TriggerInterval.Std(),
		BaseContext:     ctx,
	})
	srv := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("server listening", "addr", ln.Addr().String(), "forms", len(a.cfg.Forms))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, stop := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer stop()
		a.logger.Info("server shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	if opts.Listening != nil {
		opts.Listening <- ln.Addr().String()
	}

	if err := g.Wait(); err != nil {
		return WrapExitError(ExitFailure, "server error", err)
	}
	a.logger.Info("server stopped gracefully")
	return nil
}
