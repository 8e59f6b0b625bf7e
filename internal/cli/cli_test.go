package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmr-tortoise/ramen-harness/internal/config"
	"github.com/mmr-tortoise/ramen-harness/internal/model"
)

// executeCommand runs the root command with args and returns what it wrote
// to stdout and stderr.
func executeCommand(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()

	// Isolate from configuration present on the developer machine.
	t.Setenv(config.EnvConfigPath, "")
	t.Setenv(config.EnvShell, "")
	t.Setenv(config.EnvLogLevel, "")

	root := NewRootCommand()
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)

	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

// exitCode extracts the code of a HarnessError, or -1.
func exitCode(err error) model.ExitCode {
	var harnessErr *model.HarnessError
	if errors.As(err, &harnessErr) {
		return harnessErr.Code
	}
	return -1
}

// pinEnvironment makes sure variables changed by the scenario command are
// restored after the test.
func pinEnvironment(t *testing.T) {
	t.Helper()
	t.Setenv("OCAMLRUNPARAM", "")
	t.Setenv("RAMEN_VARIANTS", "")
	t.Setenv("RAMEN_FAULT_INJECTION_RATE", "")
	t.Setenv("RAMEN_PERSIST_DIR", "")
}

func TestCheck(t *testing.T) {
	tests := []struct {
		name        string
		description string
		count       string
		stdin       string
		wantCode    model.ExitCode
		wantOut     string
	}{
		{name: "few in range", description: "a few", count: "3", wantCode: model.ExitSuccess, wantOut: "ok: 3"},
		{name: "none but some", description: "no", count: "2", wantCode: model.ExitQuantityMismatch, wantOut: "FAIL: 2"},
		{name: "exact", description: "2 workers", count: "2", wantCode: model.ExitSuccess, wantOut: "ok: 2"},
		{name: "unrecognized", description: "plenty", count: "2", wantCode: model.ExitInvalidQuantity},
		{name: "bad count", description: "some", count: "many", wantCode: model.ExitGeneralError},
		{name: "stdin lines", description: "a few", count: "-", stdin: "a\n\nb\n", wantCode: model.ExitSuccess, wantOut: "ok: 2"},
		{name: "empty stdin", description: "no", count: "-", wantCode: model.ExitSuccess, wantOut: "ok: 0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, _, err := executeCommand(t, tt.stdin, "check", tt.description, tt.count)
			if tt.wantCode == model.ExitSuccess {
				require.NoError(t, err)
			} else {
				assert.Equal(t, tt.wantCode, exitCode(err))
			}
			if tt.wantOut != "" {
				assert.Contains(t, out, tt.wantOut)
			}
		})
	}
}

func TestCheck_JSON(t *testing.T) {
	out, _, err := executeCommand(t, "", "--json", "check", "lots of", "3")
	assert.Equal(t, model.ExitQuantityMismatch, exitCode(err))

	var got checkResultJSON
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, checkResultJSON{
		Description: "lots of",
		Category:    "many",
		Min:         10,
		Max:         300,
		Observed:    3,
		OK:          false,
	}, got)
}

func TestRun(t *testing.T) {
	out, _, err := executeCommand(t, "", "run", "echo", "hello", "world")
	require.NoError(t, err)
	assert.Equal(t, "hello world\n", out)
}

func TestRun_Failure(t *testing.T) {
	out, errOut, err := executeCommand(t, "", "run", "sh", "-c", "'echo partial; echo broken >&2; exit 3'")
	assert.Equal(t, model.ExitScenarioFailed, exitCode(err))
	assert.Equal(t, "partial\n", out)
	assert.Equal(t, "broken\n", errOut)
	assert.Contains(t, err.Error(), "status 3")
}

func TestRun_JSON(t *testing.T) {
	out, _, err := executeCommand(t, "", "--json", "run", "echo", "hi")
	require.NoError(t, err)

	var got model.CommandResult
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, model.CommandResult{Stdout: "hi\n", Stderr: "", ExitCode: 0}, got)
}

func TestScenario_Passed(t *testing.T) {
	pinEnvironment(t)
	start, err := os.Getwd()
	require.NoError(t, err)

	out, _, err := executeCommand(t, "", "scenario", "--", "sh", "-c", `'pwd -P; echo "$RAMEN_PERSIST_DIR"; echo "$RAMEN_VARIANTS"'`)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	root := lines[0]
	assert.True(t, strings.HasPrefix(filepath.Base(root), "ramen_cucumber_tests_"))
	assert.Equal(t, filepath.Join(root, "ramen_persist_dir"), lines[1])
	assert.Equal(t, "TheBigOne=on", lines[2])

	assert.NoDirExists(t, root, "workspace of a passed scenario should be removed")
	wd, err := os.Getwd()
	require.NoError(t, err)
	assert.Equal(t, start, wd)
}

func TestScenario_FailedKeepsWorkspace(t *testing.T) {
	pinEnvironment(t)

	out, _, err := executeCommand(t, "", "--json", "scenario", "--", "sh", "-c", "'exit 1'")
	assert.Equal(t, model.ExitScenarioFailed, exitCode(err))

	var got scenarioResultJSON
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	t.Cleanup(func() { _ = os.RemoveAll(got.Workspace) })

	assert.Equal(t, "failed", got.Outcome)
	assert.True(t, got.Kept)
	assert.Equal(t, 1, got.Result.ExitCode)
	assert.DirExists(t, got.Workspace)
	assert.Empty(t, got.Daemons)
}

func TestScenario_Daemons(t *testing.T) {
	pinEnvironment(t)

	out, _, err := executeCommand(t, "", "--json", "scenario",
		"--daemon", "sh -c 'touch first.ready; exec sleep 30'",
		"--daemon", "sh -c 'touch second.ready; exec sleep 30'",
		"--wait-for", "first.ready and second.ready",
		"--keep",
		"--", "ls")
	require.NoError(t, err)

	var got scenarioResultJSON
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	t.Cleanup(func() { _ = os.RemoveAll(got.Workspace) })

	assert.Equal(t, "passed", got.Outcome)
	assert.True(t, got.Kept, "--keep keeps a passing workspace")
	assert.Len(t, got.Daemons, 2)
	assert.Contains(t, got.Result.Stdout, "first.ready")
	assert.Contains(t, got.Result.Stdout, "second.ready")
	assert.FileExists(t, filepath.Join(got.Workspace, "logs", "daemon-1.log"))
}

func TestScenario_BadDaemon(t *testing.T) {
	pinEnvironment(t)

	_, _, err := executeCommand(t, "", "scenario",
		"--daemon", "sh -c 'exit 0'",
		"--wait-for", "never",
		"--wait-timeout", "200ms",
		"--", "true")
	assert.Equal(t, model.ExitProcessError, exitCode(err))
	assert.Contains(t, err.Error(), "did not appear")
}

func TestSweep_Workspaces(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("TMPDIR", tmp)
	require.NoError(t, os.Mkdir(filepath.Join(tmp, "ramen_cucumber_tests_123"), 0o755))
	require.NoError(t, os.Mkdir(filepath.Join(tmp, "unrelated"), 0o755))

	out, _, err := executeCommand(t, "", "sweep", "--workspaces", "--skip-docker")
	require.NoError(t, err)

	assert.Contains(t, out, "ramen_cucumber_tests_123")
	assert.NoDirExists(t, filepath.Join(tmp, "ramen_cucumber_tests_123"))
	assert.DirExists(t, filepath.Join(tmp, "unrelated"))

	out, _, err = executeCommand(t, "", "sweep", "--workspaces", "--skip-docker")
	require.NoError(t, err)
	assert.Equal(t, "Nothing to remove.\n", out)
}

func TestConfig(t *testing.T) {
	out, _, err := executeCommand(t, "", "config")
	require.NoError(t, err)
	assert.Contains(t, out, "persist_dir_var: RAMEN_PERSIST_DIR")
	assert.Contains(t, out, "RAMEN_VARIANTS: TheBigOne=on")

	// The YAML output is itself a valid configuration file.
	path := filepath.Join(t.TempDir(), "roundtrip.yaml")
	require.NoError(t, os.WriteFile(path, []byte(out), 0o644))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.Default().Environment, cfg.Environment)
}

func TestConfig_EnvOverride(t *testing.T) {
	t.Setenv(config.EnvStopTimeout, "")
	root := NewRootCommand()
	var stdout bytes.Buffer
	root.SetOut(&stdout)
	root.SetArgs([]string{"--json", "config"})
	t.Setenv(config.EnvConfigPath, "")
	t.Setenv(config.EnvShell, "/bin/bash")

	require.NoError(t, root.Execute())

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &got))
	assert.Equal(t, "/bin/bash", got["shell"])
}

func TestConfig_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: loud\n"), 0o644))

	_, _, err := executeCommand(t, "", "--config", path, "config")
	assert.Equal(t, model.ExitConfigError, exitCode(err))
}

func TestPrintError(t *testing.T) {
	var buf bytes.Buffer
	printError(&buf, "count out of range", errors.New("expected 0, got 2"))
	assert.Equal(t, "Error: count out of range: expected 0, got 2\n", buf.String())

	jsonOutput = true
	t.Cleanup(func() { jsonOutput = false })
	buf.Reset()
	printError(&buf, "count out of range", nil)

	var got map[string]map[string]string
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "count out of range", got["error"]["message"])
}
