package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmr-tortoise/ramen-harness/internal/model"
)

// writeConfigFile writes content to a file named name inside a temporary
// directory and returns its path.
func writeConfigFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// TestDefault verifies the defaults reproduce the historical harness setup.
func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "/bin/sh", cfg.Shell)
	assert.Equal(t, "RAMEN_PERSIST_DIR", cfg.Environment.PersistDirVar)
	assert.Equal(t, "ramen_persist_dir", cfg.Environment.PersistSubdir)
	assert.Equal(t, "TheBigOne=on", cfg.Environment.Pinned["RAMEN_VARIANTS"])
	assert.Equal(t, "0", cfg.Environment.Pinned["RAMEN_FAULT_INJECTION_RATE"])
	assert.Equal(t, []string{"OCAMLRUNPARAM"}, cfg.Environment.Unset)
	assert.Equal(t, "ramen_cucumber_tests_", cfg.Workspace.Prefix)
	assert.Zero(t, cfg.Daemons.StopTimeout, "unbounded wait by default")
}

// TestLoad_Formats verifies that the same settings load identically from
// every supported format.
func TestLoad_Formats(t *testing.T) {
	files := map[string]string{
		"harness.yaml": `
shell: /bin/bash
environment:
  persist_dir_var: MY_PERSIST
  pinned:
    RAMEN_VARIANTS: TheBigOne=off
workspace:
  prefix: scen_
daemons:
  stop_timeout: 5s
ports:
  start: 40000
  end: 40100
log_level: debug
`,
		"harness.jsonc": `{
  // hand-edited
  "shell": "/bin/bash",
  "environment": {
    "persist_dir_var": "MY_PERSIST",
    "pinned": {"RAMEN_VARIANTS": "TheBigOne=off"},
  },
  "workspace": {"prefix": "scen_"},
  "daemons": {"stop_timeout": "5s"}, /* bounded */
  "ports": {"start": 40000, "end": 40100},
  "log_level": "debug",
}`,
		"harness.toml": `
shell = "/bin/bash"
log_level = "debug"

[environment]
persist_dir_var = "MY_PERSIST"

[environment.pinned]
RAMEN_VARIANTS = "TheBigOne=off"

[workspace]
prefix = "scen_"

[daemons]
stop_timeout = "5s"

[ports]
start = 40000
end = 40100
`,
	}

	for name, content := range files {
		t.Run(name, func(t *testing.T) {
			cfg, err := Load(writeConfigFile(t, name, content))
			require.NoError(t, err)
			require.NoError(t, cfg.Validate())

			assert.Equal(t, "/bin/bash", cfg.Shell)
			assert.Equal(t, "MY_PERSIST", cfg.Environment.PersistDirVar)
			assert.Equal(t, "TheBigOne=off", cfg.Environment.Pinned["RAMEN_VARIANTS"])
			assert.Equal(t, "scen_", cfg.Workspace.Prefix)
			assert.Equal(t, 5*time.Second, cfg.Daemons.StopTimeout.Std())
			assert.Equal(t, PortRange{Start: 40000, End: 40100}, cfg.Ports)
			assert.Equal(t, "debug", cfg.LogLevel)

			// Fields absent from the file keep their defaults.
			assert.Equal(t, "ramen_persist_dir", cfg.Environment.PersistSubdir)
			assert.Equal(t, "logs", cfg.Workspace.LogDir)
		})
	}
}

// TestLoad_Errors verifies missing files, unknown extensions and bad content.
func TestLoad_Errors(t *testing.T) {
	t.Run("not found", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
		var harnessErr *model.HarnessError
		require.True(t, errors.As(err, &harnessErr))
		assert.Equal(t, model.ExitConfigError, harnessErr.Code)
	})

	t.Run("unsupported extension", func(t *testing.T) {
		_, err := Load(writeConfigFile(t, "harness.ini", "shell=/bin/sh"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported config format")
	})

	t.Run("bad duration", func(t *testing.T) {
		_, err := Load(writeConfigFile(t, "harness.yaml", "daemons:\n  stop_timeout: soon\n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid duration")
	})

	t.Run("malformed json", func(t *testing.T) {
		_, err := Load(writeConfigFile(t, "harness.json", `{"shell": `))
		assert.Error(t, err)
	})
}

// TestApplyEnv verifies RAMEN_HARNESS_* overrides.
func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvLogLevel:      "trace",
		EnvShell:         "/bin/dash",
		EnvStopTimeout:   "250ms",
		EnvKeepWorkspace: "true",
	}
	cfg := Default()
	require.NoError(t, cfg.ApplyEnv(func(k string) string { return env[k] }))

	assert.Equal(t, "trace", cfg.LogLevel)
	assert.Equal(t, "/bin/dash", cfg.Shell)
	assert.Equal(t, 250*time.Millisecond, cfg.Daemons.StopTimeout.Std())
	assert.True(t, cfg.Workspace.KeepAlways)

	bad := Default()
	err := bad.ApplyEnv(func(k string) string {
		if k == EnvStopTimeout {
			return "forever"
		}
		return ""
	})
	assert.Error(t, err)
}

// TestValidate verifies that every problem is reported.
func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Shell = " "
	cfg.Environment.PersistDirVar = ""
	cfg.Daemons.StopTimeout = Duration(-time.Second)
	cfg.Ports = PortRange{Start: 5000, End: 4000}
	cfg.LogLevel = "loud"
	cfg.Environment.Pinned["A=B"] = "x"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"shell", "persist_dir_var", "stop_timeout", "ports", "log_level", "A=B"} {
		assert.Contains(t, err.Error(), want)
	}
}

// TestResolve_Lookup verifies the lookup order: explicit path, environment,
// working directory, defaults.
func TestResolve_Lookup(t *testing.T) {
	dir := t.TempDir()
	oldWD, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(oldWD) })

	t.Setenv(EnvConfigPath, "")
	cfg, err := Resolve("")
	require.NoError(t, err)
	assert.Equal(t, Default().Shell, cfg.Shell, "defaults without any file")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "ramen-harness.yaml"), []byte("shell: /bin/cwd\n"), 0o644))
	cfg, err = Resolve("")
	require.NoError(t, err)
	assert.Equal(t, "/bin/cwd", cfg.Shell)

	envPath := writeConfigFile(t, "env.toml", `shell = "/bin/env"`)
	t.Setenv(EnvConfigPath, envPath)
	cfg, err = Resolve("")
	require.NoError(t, err)
	assert.Equal(t, "/bin/env", cfg.Shell)

	flagPath := writeConfigFile(t, "flag.json", `{"shell": "/bin/flag"}`)
	cfg, err = Resolve(flagPath)
	require.NoError(t, err)
	assert.Equal(t, "/bin/flag", cfg.Shell)
}
