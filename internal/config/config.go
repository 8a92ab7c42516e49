// Package config loads the immutable configuration of a recovery process.
//
// A configuration comes from an optional YAML file with environment
// overrides on top. The environment alone is enough to run: the variable
// names are the ones the service has always used, so an existing
// deployment keeps working without a file.
//
// The resolved configuration is validated twice:
//   - Against an embedded CUE schema that closes the structure and
//     constrains each value (ranges, enumerations, ordering between
//     pauses and thresholds)
//   - By Go checks for what the schema cannot see (duplicate form ids,
//     the credential, the jitter spread of the pacing table)
//
// Every violation is collected into one *ConfigError.
//
// Components never read the environment. The CLI loads a Config once and
// passes what each component needs.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/formrecovery/internal/engine"
	"github.com/roach88/formrecovery/internal/hubspot"
	"github.com/roach88/formrecovery/internal/model"
	"github.com/roach88/formrecovery/internal/pacing"
)

// Config is the resolved configuration of one process.
type Config struct {
	HubSpot HubSpotConfig    `yaml:"hubspot"`
	Fetch   FetchConfig      `yaml:"fetch"`
	Pacing  PacingConfig     `yaml:"pacing"`
	Run     RunConfig        `yaml:"run"`
	Forms   []model.FormSpec `yaml:"forms"`
	Log     LogConfig        `yaml:"log"`
	Server  ServerConfig     `yaml:"server"`

	// Token is the private app token. It only ever comes from
	// HUBSPOT_PRIVATE_APP_TOKEN.
	Token string `yaml:"-"`

	// Source describes where the configuration came from, for messages.
	Source string `yaml:"-"`
}

// HubSpotConfig configures the upstream client.
type HubSpotConfig struct {
	BaseURL           string   `yaml:"base_url"`
	Timeout           Duration `yaml:"timeout"`
	MaxRetries        int      `yaml:"max_retries"`
	RequestsPerSecond float64  `yaml:"requests_per_second"`
}

// FetchConfig bounds pagination.
type FetchConfig struct {
	PageSize        int `yaml:"page_size"`
	MaxPages        int `yaml:"max_pages"`
	MaxStalledPages int `yaml:"max_stalled_pages"`
}

// PacingConfig is the pacing table in file form.
type PacingConfig struct {
	Baseline     Duration `yaml:"baseline"`
	MidPause     Duration `yaml:"mid_pause"`
	LowPause     Duration `yaml:"low_pause"`
	LowThreshold int      `yaml:"low_threshold"`
	MidThreshold int      `yaml:"mid_threshold"`
	JitterMin    Duration `yaml:"jitter_min"`
	JitterMax    Duration `yaml:"jitter_max"`
}

// RunConfig configures the orchestrator.
type RunConfig struct {
	ForceDryRun      bool   `yaml:"force_dry_run"`
	DedupeByEmail    bool   `yaml:"dedupe_by_email"`
	EmailField       string `yaml:"email_field"`
	IdentityProperty string `yaml:"identity_property"`
	MultipleMatches  string `yaml:"multiple_matches"`
	ProgressEvery    int    `yaml:"progress_every"`
}

// LogConfig configures diagnostics and the event stream.
type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	EventsFile string `yaml:"events_file"`
}

// ServerConfig configures the HTTP trigger.
type ServerConfig struct {
	Addr            string   `yaml:"addr"`
	TriggerInterval Duration `yaml:"trigger_interval"`
}

// Duration is a time.Duration written as a Go duration string ("300ms").
type Duration time.Duration

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a string like \"300ms\"", node.Line)
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(node.Value))
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML writes the duration string.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Default returns a configuration with every default applied and no forms.
func Default() *Config {
	p := pacing.DefaultPolicy()
	return &Config{
		HubSpot: HubSpotConfig{
			BaseURL:           hubspot.DefaultBaseURL,
			Timeout:           Duration(30 * time.Second),
			MaxRetries:        0,
			RequestsPerSecond: 10,
		},
		Fetch: FetchConfig{
			PageSize:        engine.DefaultPageSize,
			MaxStalledPages: engine.DefaultMaxStalledPages,
		},
		Pacing: PacingConfig{
			Baseline:     Duration(p.Baseline),
			MidPause:     Duration(p.MidPause),
			LowPause:     Duration(p.LowPause),
			LowThreshold: p.LowThreshold,
			MidThreshold: p.MidThreshold,
			JitterMin:    Duration(p.JitterMin),
			JitterMax:    Duration(p.JitterMax),
		},
		Run: RunConfig{
			EmailField:       engine.DefaultEmailField,
			IdentityProperty: engine.DefaultIdentityProperty,
			MultipleMatches:  string(engine.MatchFirst),
			ProgressEvery:    engine.DefaultProgressEvery,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr:            ":8080",
			TriggerInterval: Duration(time.Second),
		},
	}
}

// PacingPolicy returns the pacing table.
func (c *Config) PacingPolicy() pacing.Policy {
	return pacing.Policy{
		Baseline:     c.Pacing.Baseline.Std(),
		MidPause:     c.Pacing.MidPause.Std(),
		LowPause:     c.Pacing.LowPause.Std(),
		LowThreshold: c.Pacing.LowThreshold,
		MidThreshold: c.Pacing.MidThreshold,
		JitterMin:    c.Pacing.JitterMin.Std(),
		JitterMax:    c.Pacing.JitterMax.Std(),
	}
}

// FetchOptions returns the fetcher settings.
func (c *Config) FetchOptions() engine.FetchOptions {
	return engine.FetchOptions{
		PageSize:        c.Fetch.PageSize,
		MaxPages:        c.Fetch.MaxPages,
		MaxStalledPages: c.Fetch.MaxStalledPages,
	}
}

// ResolverOptions returns the resolver settings. The policy was validated
// at load time.
func (c *Config) ResolverOptions() engine.ResolverOptions {
	policy, _ := engine.ParseMatchPolicy(c.Run.MultipleMatches)
	return engine.ResolverOptions{
		IdentityProperty: c.Run.IdentityProperty,
		MultipleMatches:  policy,
	}
}

// FormIDs returns the configured form ids in order.
func (c *Config) FormIDs() []string {
	ids := make([]string, len(c.Forms))
	for i, f := range c.Forms {
		ids[i] = f.ID
	}
	return ids
}

// SlogLevel maps the configured level name.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
