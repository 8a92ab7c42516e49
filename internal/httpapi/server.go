// Package httpapi exposes recovery runs over HTTP.
//
// Routes:
//
//	POST /run       run every configured form; body {"mode", "force_dry_run"}
//	POST /run-all   alias of /run
//	GET  /health    liveness plus the configured form ids
//
// At most one run is in flight per process: an overlapping trigger gets
// 409. A run is detached from the triggering connection, so a client that
// disconnects does not cancel it.
package httpapi

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/roach88/formrecovery/internal/engine"
	"github.com/roach88/formrecovery/internal/model"
)

// Runner executes recovery runs. *engine.Orchestrator implements it.
type Runner interface {
	Run(ctx context.Context, req engine.Request) (model.RunStats, error)
	ListConfiguredForms() []string
}

// Options configures the router.
type Options struct {
	Logger *slog.Logger

	// TriggerInterval is the minimum spacing of run triggers. Zero
	// disables the limit.
	TriggerInterval time.Duration

	// BaseContext is the parent of every run context. Cancelling it
	// stops an in-flight run at the next submission boundary. Nil means
	// context.Background().
	BaseContext context.Context
}

// RunRequest is the body of POST /run.
type RunRequest struct {
	Mode        string `json:"mode"`
	ForceDryRun bool   `json:"force_dry_run"`
}

// Server holds the run gate and the runner.
type Server struct {
	runner  Runner
	logger  *slog.Logger
	base    context.Context
	running atomic.Bool
}

// NewRouter builds the gin engine with the middleware chain and routes.
func NewRouter(runner Runner, opts Options) *gin.Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	base := opts.BaseContext
	if base == nil {
		base = context.Background()
	}
	s := &Server{runner: runner, logger: logger, base: base}

	r := gin.New()
	r.Use(RequestID(), Recovery(logger), RequestLogger(logger))

	trigger := TriggerLimit(opts.TriggerInterval, logger)
	r.POST("/run", trigger, s.handleRun)
	r.POST("/run-all", trigger, s.handleRun)
	r.GET("/health", s.handleHealth)
	return r
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"forms":   s.runner.ListConfiguredForms(),
		"running": s.running.Load(),
	})
}

func (s *Server) handleRun(c *gin.Context) {
	var body RunRequest
	if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body: " + err.Error()})
		return
	}
	mode, err := model.ParseMode(body.Mode)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if !s.running.CompareAndSwap(false, true) {
		c.JSON(http.StatusConflict, gin.H{"error": "a recovery run is already in progress"})
		return
	}
	defer s.running.Store(false)

	req := engine.Request{Mode: mode, ForceDryRun: body.ForceDryRun}
	s.logger.Info("run triggered",
		"mode", mode,
		"force_dry_run", body.ForceDryRun,
		"request_id", GetRequestID(c),
	)

	// The run outlives the request connection but not the process.
	ctx := context.WithoutCancel(c.Request.Context())
	ctx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		select {
		case <-s.base.Done():
			stop()
		case <-ctx.Done():
		}
	}()

	stats, err := s.runner.Run(ctx, req)
	if err != nil {
		s.logger.Error("run failed", "error", err, "request_id", GetRequestID(c))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":     err.Error(),
			"processed": stats.Processed,
			"updated":   stats.Updated,
			"skipped":   stats.Skipped,
			"errors":    stats.Errors,
		})
		return
	}
	c.JSON(http.StatusOK, stats)
}
