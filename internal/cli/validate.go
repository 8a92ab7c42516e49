package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/formrecovery/internal/config"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	SkipToken bool
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Source   string   `json:"source"`
	Forms    int      `json:"forms,omitempty"`
	Problems []string `json:"problems,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration without running",
		Long: `Validate the resolved configuration: the YAML file, the environment
overrides and the credential.

Every problem is reported, not just the first. Does not contact HubSpot.

Exit codes:
  0 - Configuration is valid
  1 - Configuration has problems`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.SkipToken, "skip-token", false, "do not require "+config.EnvToken)

	return cmd
}

func runValidate(opts *ValidateOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	cfg, err := config.Load(config.LoadOptions{
		Path:      opts.ConfigPath,
		Lookup:    opts.Lookup,
		SkipToken: opts.SkipToken,
	})
	if err != nil {
		var ce *config.ConfigError
		if !errors.As(err, &ce) {
			_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
			return WrapExitError(ExitCommandError, "failed to load configuration", err)
		}
		result := ValidationResult{Source: ce.Source, Problems: ce.Problems}
		if err := formatter.Failure(ErrCodeConfigInvalid, ce.Problems[0], result); err != nil {
			return err
		}
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d problem(s)", len(ce.Problems)))
	}

	formatter.VerboseLog("Loaded %s: %d form(s)", cfg.Source, len(cfg.Forms))
	return formatter.Success(ValidationResult{Valid: true, Source: cfg.Source, Forms: len(cfg.Forms)})
}

func (r ValidationResult) String() string {
	if r.Valid {
		return fmt.Sprintf("✓ Configuration valid (%s, %d form(s))", r.Source, r.Forms)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "✗ Validation failed (%s)\n\n", r.Source)
	for _, p := range r.Problems {
		fmt.Fprintf(&b, "  %s\n", p)
	}
	fmt.Fprintf(&b, "\n%d problem(s) found", len(r.Problems))
	return b.String()
}
