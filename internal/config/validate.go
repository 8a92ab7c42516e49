package config

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

//go:embed schema.cue
var schemaSource string

// ConfigError lists every problem found in a configuration. It is fatal:
// no run starts with an invalid configuration.
type ConfigError struct {
	Source   string
	Problems []string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if len(e.Problems) == 1 {
		return fmt.Sprintf("invalid configuration (%s): %s", e.Source, e.Problems[0])
	}
	return fmt.Sprintf("invalid configuration (%s): %d problems: %s",
		e.Source, len(e.Problems), strings.Join(e.Problems, "; "))
}

// IsConfigError reports whether err is a ConfigError.
// Uses errors.As to handle wrapped errors.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// Validate checks cfg against the embedded schema and the Go-side rules.
// requireToken adds the credential check.
func Validate(cfg *Config, requireToken bool) error {
	problems := schemaProblems(cfg)

	seen := make(map[string]bool, len(cfg.Forms))
	for _, f := range cfg.Forms {
		if f.ID != "" && seen[f.ID] {
			problems = append(problems, fmt.Sprintf("forms: form %q is configured twice", f.ID))
		}
		seen[f.ID] = true
	}
	// The schema orders the pauses; the policy also accounts for jitter.
	if len(problems) == 0 {
		if err := cfg.PacingPolicy().Validate(); err != nil {
			problems = append(problems, "pacing: "+err.Error())
		}
	}
	if requireToken && cfg.Token == "" {
		problems = append(problems, EnvToken+" is not set")
	}

	if len(problems) > 0 {
		return &ConfigError{Source: cfg.Source, Problems: problems}
	}
	return nil
}

// schemaProblems unifies the rendered config with #Config and returns one
// message per violation.
func schemaProblems(cfg *Config) []string {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return []string{fmt.Sprintf("schema: %v", err)}
	}

	doc := ctx.Encode(render(cfg))
	v := schema.LookupPath(cue.ParsePath("#Config")).Unify(doc)
	err := v.Validate(cue.Concrete(true), cue.All())
	if err == nil {
		return nil
	}

	var problems []string
	for _, e := range cueerrors.Errors(err) {
		problems = append(problems, strings.TrimSpace(e.Error()))
	}
	return problems
}

// render converts cfg to the plain document the schema describes.
func render(cfg *Config) map[string]any {
	forms := make([]any, 0, len(cfg.Forms))
	for _, f := range cfg.Forms {
		fields := make([]any, 0, f.Fields.Len())
		for _, p := range f.Fields.Pairs() {
			fields = append(fields, map[string]any{"field": p.ExternalField, "property": p.TargetProperty})
		}
		forms = append(forms, map[string]any{"id": f.ID, "fields": fields})
	}

	logDoc := map[string]any{
		"level":  strings.ToLower(cfg.Log.Level),
		"format": strings.ToLower(cfg.Log.Format),
	}
	if cfg.Log.File != "" {
		logDoc["file"] = cfg.Log.File
	}
	if cfg.Log.EventsFile != "" {
		logDoc["events_file"] = cfg.Log.EventsFile
	}

	return map[string]any{
		"hubspot": map[string]any{
			"base_url":            cfg.HubSpot.BaseURL,
			"timeout_ms":          cfg.HubSpot.Timeout.Std().Milliseconds(),
			"max_retries":         cfg.HubSpot.MaxRetries,
			"requests_per_second": cfg.HubSpot.RequestsPerSecond,
		},
		"fetch": map[string]any{
			"page_size":         cfg.Fetch.PageSize,
			"max_pages":         cfg.Fetch.MaxPages,
			"max_stalled_pages": cfg.Fetch.MaxStalledPages,
		},
		"pacing": map[string]any{
			"baseline_ms":   cfg.Pacing.Baseline.Std().Milliseconds(),
			"mid_pause_ms":  cfg.Pacing.MidPause.Std().Milliseconds(),
			"low_pause_ms":  cfg.Pacing.LowPause.Std().Milliseconds(),
			"low_threshold": cfg.Pacing.LowThreshold,
			"mid_threshold": cfg.Pacing.MidThreshold,
			"jitter_min_ms": cfg.Pacing.JitterMin.Std().Milliseconds(),
			"jitter_max_ms": cfg.Pacing.JitterMax.Std().Milliseconds(),
		},
		"run": map[string]any{
			"force_dry_run":     cfg.Run.ForceDryRun,
			"dedupe_by_email":   cfg.Run.DedupeByEmail,
			"email_field":       cfg.Run.EmailField,
			"identity_property": cfg.Run.IdentityProperty,
			"multiple_matches":  strings.ToLower(strings.TrimSpace(cfg.Run.MultipleMatches)),
			"progress_every":    cfg.Run.ProgressEvery,
		},
		"forms": forms,
		"log":   logDoc,
		"server": map[string]any{
			"addr":                cfg.Server.Addr,
			"trigger_interval_ms": cfg.Server.TriggerInterval.Std().Milliseconds(),
		},
	}
}
