package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/roach88/formrecovery/internal/config"
	"github.com/roach88/formrecovery/internal/testutil"
)

const testToken = "test-token"

// envLookup serves environment variables from a map so the host
// environment never leaks into a test.
func envLookup(env map[string]string) config.LookupFunc {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

// writeConfig writes a configuration pointed at baseURL with pacing fast
// enough for tests and one form f1 mapping email and plan. Events go to
// events.jsonl next to the file.
func writeConfig(t *testing.T, baseURL string, extra string) (path, eventsPath string) {
	t.Helper()
	dir := t.TempDir()
	path = filepath.Join(dir, "recovery.yaml")
	eventsPath = filepath.Join(dir, "events.jsonl")

	content := fmt.Sprintf(`hubspot:
  base_url: %s
  requests_per_second: 0
  max_retries: 0
pacing:
  baseline: 1ms
  mid_pause: 2ms
  low_pause: 3ms
  jitter_min: 100ms
  jitter_max: 100ms
forms:
  - id: f1
    fields:
      email: email
      plan: plan_tier
log:
  level: warn
  events_file: %s
%s`, baseURL, eventsPath, extra)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path, eventsPath
}

// newFake returns a fake HubSpot with form f1 holding one submission for
// a@x.com whose contact has an empty plan_tier.
func newFake(t *testing.T) *testutil.FakeHubSpot {
	t.Helper()
	fake := testutil.NewFakeHubSpot()
	t.Cleanup(fake.Close)
	fake.RequireToken(testToken)
	fake.AddForm("f1", testutil.Sub("email", "a@x.com", "plan", "gold"))
	fake.AddContact("1", map[string]string{"email": "a@x.com", "plan_tier": ""})
	return fake
}

// execute runs the root command with args and returns stdout and stderr.
func execute(opts *RootOptions, args ...string) (string, string, error) {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	cmd := newRootCommand(opts)
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

// findCommand returns the named subcommand of a fresh root.
func findCommand(t *testing.T, name string) *cobra.Command {
	t.Helper()
	sub, _, err := NewRootCommand().Find([]string{name})
	require.NoError(t, err)
	return sub
}
