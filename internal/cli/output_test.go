package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputFormatter_JSONSuccessIsOneLine(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	require.NoError(t, formatter.Success(RunResult{RequestedMode: "smoke", Mode: "smoke", Forms: 2}))

	assert.Equal(t, 1, bytes.Count(buf.Bytes(), []byte("\n")), "results share stdout with JSON-line events")
	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Nil(t, resp.Error)
	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(2), data["forms"])
}

func TestOutputFormatter_TextSuccessUsesString(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, formatter.Success(ValidationResult{Valid: true, Source: "recovery.yaml", Forms: 3}))
	assert.Equal(t, "✓ Configuration valid (recovery.yaml, 3 form(s))\n", buf.String())
}

func TestOutputFormatter_JSONFailureKeepsData(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	result := ValidationResult{Source: "env", Problems: []string{"a", "b"}}
	require.NoError(t, formatter.Failure(ErrCodeConfigInvalid, "a", result))

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
		Error  *CLIError        `json:"error"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, []string{"a", "b"}, resp.Data.Problems)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeConfigInvalid, resp.Error.Code)
}

func TestOutputFormatter_TextFailure(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, formatter.Failure(ErrCodeTestFailed, "1 scenario(s) failed", TestResult{Passed: 2, Failed: 1, Total: 3}))
	assert.Contains(t, buf.String(), "Test Summary: 2 passed, 1 failed, 3 total")
	assert.NotContains(t, buf.String(), "All scenarios passed")
}

func TestOutputFormatter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	require.NoError(t, formatter.Error(ErrCodeGeneric, "permission denied", map[string]string{"path": "recovery.yaml"}))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeGeneric, resp.Error.Code)
	assert.Equal(t, "permission denied", resp.Error.Message)
	assert.NotNil(t, resp.Error.Details)
}

func TestOutputFormatter_TextErrorGoesToDiagnostics(t *testing.T) {
	out := &bytes.Buffer{}
	diag := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: out, ErrWriter: diag, Verbose: true}

	require.NoError(t, formatter.Error(ErrCodeGeneric, "permission denied", "recovery.yaml"))
	assert.Empty(t, out.String())
	assert.Contains(t, diag.String(), "Error [E_GENERIC]: permission denied")
	assert.Contains(t, diag.String(), "Details: recovery.yaml")
}

func TestOutputFormatter_VerboseLog(t *testing.T) {
	tests := []struct {
		name    string
		verbose bool
		errOut  bool
	}{
		{"quiet", false, true},
		{"verbose to stderr", true, true},
		{"verbose without stderr", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := &bytes.Buffer{}
			diag := &bytes.Buffer{}
			formatter := &OutputFormatter{Format: "json", Writer: out, Verbose: tt.verbose}
			if tt.errOut {
				formatter.ErrWriter = diag
			}

			formatter.VerboseLog("Loaded %s", "recovery.yaml")

			switch {
			case !tt.verbose:
				assert.Empty(t, out.String())
				assert.Empty(t, diag.String())
			case tt.errOut:
				assert.Empty(t, out.String(), "diagnostics never corrupt JSON output")
				assert.Equal(t, "Loaded recovery.yaml\n", diag.String())
			default:
				assert.Equal(t, "Loaded recovery.yaml\n", out.String())
			}
		})
	}
}

func TestExitError(t *testing.T) {
	cause := errors.New("boom")
	err := WrapExitError(ExitCommandError, "failed to listen on :80", cause)

	assert.Equal(t, "failed to listen on :80: boom", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Equal(t, ExitFailure, GetExitCode(cause))
	assert.Equal(t, "run failed", NewExitError(ExitFailure, "run failed").Error())
}
