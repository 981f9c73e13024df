package cli

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validateResponse decodes a JSON CLIResponse carrying a ValidationResult.
type validateResponse struct {
	Status string           `json:"status"`
	Data   ValidationResult `json:"data"`
	Error  *CLIError        `json:"error"`
}

func executeValidate(t *testing.T, format, path string) (*bytes.Buffer, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{path})
	return buf, cmd.Execute()
}

func TestValidateValidConfig(t *testing.T) {
	buf, err := executeValidate(t, "text", runConfig)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "✓ Config valid: 3 facilities, duration 8")
}

func TestValidateValidConfigJSON(t *testing.T) {
	buf, err := executeValidate(t, "json", runConfig)
	require.NoError(t, err)

	var resp validateResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	assert.Equal(t, 3, resp.Data.Facilities)
}

func TestValidateSchemaErrors(t *testing.T) {
	buf, err := executeValidate(t, "text", "testdata/schema.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	out := buf.String()
	assert.Contains(t, out, "✗ Validation failed")
	assert.Contains(t, out, ErrCodeValidation)
	assert.Contains(t, out, "line ")
}

func TestValidateSchemaErrorsJSON(t *testing.T) {
	buf, err := executeValidate(t, "json", "testdata/schema.yaml")
	require.Error(t, err)

	var resp validateResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.False(t, resp.Data.Valid)
	require.NotEmpty(t, resp.Data.Errors)
	for _, issue := range resp.Data.Errors {
		assert.Equal(t, ErrCodeValidation, issue.Code)
		assert.NotEmpty(t, issue.Field)
	}
	assert.Greater(t, resp.Data.Errors[0].Line, 0)
}

func TestValidateBuildError(t *testing.T) {
	buf, err := executeValidate(t, "json", "testdata/budget.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp validateResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	require.Len(t, resp.Data.Errors, 1)
	assert.Equal(t, "EFFICIENCY_BUDGET", resp.Data.Errors[0].Code)
	assert.Equal(t, "facilities.sep", resp.Data.Errors[0].Field)
	assert.Equal(t, "EFFICIENCY_BUDGET", resp.Error.Code)
}

func TestValidateMissingFile(t *testing.T) {
	buf, err := executeValidate(t, "text", "testdata/none.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, buf.String(), "Error ["+ErrCodeNotFound+"]")
}

func TestValidateConfig(t *testing.T) {
	issues, cfg := ValidateConfig("inline.yaml", []byte(`
version: 1
simulation: {duration: 1}
facilities:
  - name: repo
    archetype: Sink
    sink: {in_commods: [waste]}
`))
	assert.Empty(t, issues)
	require.NotNil(t, cfg)
	assert.Equal(t, "repo", cfg.Facilities[0].Name)
}

func TestValidateConfigUnknownArchetype(t *testing.T) {
	issues, cfg := ValidateConfig("inline.yaml", []byte(`
version: 1
simulation: {duration: 1}
facilities:
  - name: x
    archetype: Reactor
`))
	assert.Nil(t, cfg)
	require.Len(t, issues, 1)
	assert.Contains(t, issues[0].Message, "Reactor")
}
