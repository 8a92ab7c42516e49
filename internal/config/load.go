package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/formrecovery/internal/model"
)

// Environment variables read by Load.
const (
	EnvConfigPath = "FORMRECOVERY_CONFIG"
	EnvFormMap    = "HUBSPOT_FORM_PROPERTY_MAP"
	EnvBaseURL    = "HUBSPOT_BASE_URL"
	EnvToken      = "HUBSPOT_PRIVATE_APP_TOKEN"
	EnvLogFile    = "LOG_FILE"
	EnvPort       = "PORT"
	EnvForceDry   = "FORCE_DRY_RUN"
)

// LookupFunc reads one environment variable. os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

// LoadOptions controls Load.
type LoadOptions struct {
	// Path is the YAML file. Empty means FORMRECOVERY_CONFIG, and if that
	// is unset too, environment-only configuration.
	Path string

	// Lookup reads the environment. Nil means os.LookupEnv.
	Lookup LookupFunc

	// SkipToken accepts a configuration without a token. Only commands
	// that never call HubSpot set it.
	SkipToken bool
}

// Load resolves, overlays and validates the configuration. Any problem is
// returned as a *ConfigError.
func Load(opts LoadOptions) (*Config, error) {
	lookup := opts.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}

	cfg := Default()
	cfg.Source = "environment"

	path := opts.Path
	if path == "" {
		path, _ = lookup(EnvConfigPath)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, &ConfigError{Source: path, Problems: []string{err.Error()}}
		}
		if err := decodeYAML(data, cfg); err != nil {
			return nil, &ConfigError{Source: path, Problems: []string{err.Error()}}
		}
		cfg.Source = path
	}

	if problems := applyEnv(cfg, lookup); len(problems) > 0 {
		return nil, &ConfigError{Source: cfg.Source, Problems: problems}
	}

	if err := Validate(cfg, !opts.SkipToken); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults without touching the environment.
// The result is validated except for the token.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	cfg.Source = "inline"
	if err := decodeYAML(data, cfg); err != nil {
		return nil, &ConfigError{Source: cfg.Source, Problems: []string{err.Error()}}
	}
	if err := Validate(cfg, false); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decodeYAML rejects unknown keys so a typo never silently falls back to
// a default.
func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("parse yaml: %w", err)
	}
	return nil
}

// applyEnv overlays the environment on cfg and returns every problem found.
func applyEnv(cfg *Config, lookup LookupFunc) []string {
	var problems []string

	if v, ok := nonEmpty(lookup, EnvFormMap); ok {
		forms, err := model.DecodeFormMap([]byte(v))
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", EnvFormMap, err))
		} else {
			cfg.Forms = forms
		}
	}
	if v, ok := nonEmpty(lookup, EnvBaseURL); ok {
		cfg.HubSpot.BaseURL = strings.TrimRight(v, "/")
	}
	if v, ok := nonEmpty(lookup, EnvLogFile); ok {
		cfg.Log.File = v
	}
	if v, ok := nonEmpty(lookup, EnvPort); ok {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			problems = append(problems, fmt.Sprintf("%s: %q is not a TCP port", EnvPort, v))
		} else {
			cfg.Server.Addr = ":" + strconv.Itoa(port)
		}
	}
	if v, ok := nonEmpty(lookup, EnvForceDry); ok {
		force, err := strconv.ParseBool(v)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: %q is not a boolean", EnvForceDry, v))
		} else {
			cfg.Run.ForceDryRun = force
		}
	}
	if v, ok := nonEmpty(lookup, EnvToken); ok {
		cfg.Token = v
	}
	return problems
}

func nonEmpty(lookup LookupFunc, key string) (string, bool) {
	v, ok := lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}
