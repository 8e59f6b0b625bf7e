// Package config loads the ramen-harness configuration.
//
// The configuration names the environment variables the harness sets or
// clears for the system under test, the shell used to run command lines,
// workspace and daemon settings, and logging. Files may be written in YAML,
// JSON with comments (JSONC) or TOML; the format is chosen by extension.
// Fields absent from a file keep their defaults, and RAMEN_HARNESS_*
// environment variables override both.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/mmr-tortoise/ramen-harness/internal/model"
)

// Environment variables read by the harness itself.
const (
	EnvConfigPath    = "RAMEN_HARNESS_CONFIG"
	EnvLogLevel      = "RAMEN_HARNESS_LOG_LEVEL"
	EnvShell         = "RAMEN_HARNESS_SHELL"
	EnvStopTimeout   = "RAMEN_HARNESS_STOP_TIMEOUT"
	EnvKeepWorkspace = "RAMEN_HARNESS_KEEP_WORKSPACE"
)

// DefaultFileNames are looked up in the working directory, in this order,
// when no configuration path is given.
var DefaultFileNames = []string{
	"ramen-harness.yaml",
	"ramen-harness.yml",
	"ramen-harness.json",
	"ramen-harness.jsonc",
	"ramen-harness.toml",
}

// Config is the complete harness configuration.
type Config struct {
	// Shell interprets command lines ("<shell> -c <line>").
	Shell string `yaml:"shell" json:"shell" toml:"shell"`

	// Environment describes the variables set or cleared for the system
	// under test.
	Environment EnvironmentConfig `yaml:"environment" json:"environment" toml:"environment"`

	// Workspace controls the per-scenario temporary directory.
	Workspace WorkspaceConfig `yaml:"workspace" json:"workspace" toml:"workspace"`

	// Daemons controls how long-running processes are stopped.
	Daemons DaemonConfig `yaml:"daemons" json:"daemons" toml:"daemons"`

	// Ports is the range handed out to daemons by Scenario.FreePort.
	Ports PortRange `yaml:"ports" json:"ports" toml:"ports"`

	// Docker configures containerized daemons.
	Docker DockerConfig `yaml:"docker" json:"docker" toml:"docker"`

	// LogLevel is a logrus level name: trace, debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level" toml:"log_level"`
}

// EnvironmentConfig names the environment variables of the system under test.
type EnvironmentConfig struct {
	// PersistDirVar is set per scenario to the workspace persistence directory.
	PersistDirVar string `yaml:"persist_dir_var" json:"persist_dir_var" toml:"persist_dir_var"`

	// PersistSubdir is the directory inside the workspace PersistDirVar
	// points to.
	PersistSubdir string `yaml:"persist_subdir" json:"persist_subdir" toml:"persist_subdir"`

	// Pinned variables are set once at harness start so that runs are
	// reproducible (experiment variants, fault injection rate).
	Pinned map[string]string `yaml:"pinned" json:"pinned" toml:"pinned"`

	// Unset variables are cleared once at harness start; they would make
	// the programs under test print runtime diagnostics on stderr.
	Unset []string `yaml:"unset" json:"unset" toml:"unset"`
}

// WorkspaceConfig controls the scenario workspace.
type WorkspaceConfig struct {
	// Prefix starts the name of every workspace directory.
	Prefix string `yaml:"prefix" json:"prefix" toml:"prefix"`

	// KeepAlways keeps the workspace even when the scenario passes.
	KeepAlways bool `yaml:"keep_always" json:"keep_always" toml:"keep_always"`

	// LogDir is the directory inside the workspace receiving daemon output.
	LogDir string `yaml:"log_dir" json:"log_dir" toml:"log_dir"`
}

// DaemonConfig controls daemon termination.
type DaemonConfig struct {
	// StopTimeout bounds the wait after the interrupt before a daemon is
	// killed. Zero waits indefinitely.
	StopTimeout Duration `yaml:"stop_timeout" json:"stop_timeout" toml:"stop_timeout"`
}

// PortRange is an inclusive port range.
type PortRange struct {
	Start int `yaml:"start" json:"start" toml:"start"`
	End   int `yaml:"end" json:"end" toml:"end"`
}

// DockerConfig configures containerized daemons.
type DockerConfig struct {
	// Host overrides the Docker daemon address; empty auto-detects.
	Host string `yaml:"host" json:"host" toml:"host"`

	// AutoRemove removes containers once they have been drained.
	AutoRemove bool `yaml:"auto_remove" json:"auto_remove" toml:"auto_remove"`
}

// Default returns the configuration used when no file is found.
func Default() Config {
	// These values reproduce the environment the ramen test suite has
	// always run with.
	return Config{
		Shell: "/bin/sh",
		Environment: EnvironmentConfig{
			PersistDirVar: "RAMEN_PERSIST_DIR",
			PersistSubdir: "ramen_persist_dir",
			Pinned: map[string]string{
				"RAMEN_VARIANTS":             "TheBigOne=on",
				"RAMEN_FAULT_INJECTION_RATE": "0",
			},
			Unset: []string{"OCAMLRUNPARAM"},
		},
		Workspace: WorkspaceConfig{
			Prefix: "ramen_cucumber_tests_",
			LogDir: "logs",
		},
		// Below the Linux ephemeral range (32768+), so the kernel does not
		// hand out the same ports to outgoing connections.
		Ports:    PortRange{Start: 20000, End: 32000},
		Docker:   DockerConfig{AutoRemove: true},
		LogLevel: "info",
	}
}

// Load reads the file at path on top of the defaults. The format is chosen
// by extension: .yaml/.yml, .json/.jsonc, .toml.
func Load(path string) (Config, error) {
	// Decoding into the defaults is what makes absent fields keep them.
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, model.WrapHarnessError(model.ExitConfigError,
				fmt.Sprintf("config file not found: %s", path), err)
		}
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	case ".json", ".jsonc":
		// Strip comments and trailing commas; config files are edited by
		// hand and commonly annotated.
		err = json.Unmarshal(jsonc.ToJSON(data), &cfg)
	case ".toml":
		_, err = toml.Decode(string(data), &cfg)
	default:
		return cfg, model.NewHarnessError(model.ExitConfigError,
			fmt.Sprintf("unsupported config format %q (use .yaml, .json, .jsonc or .toml)", ext))
	}
	if err != nil {
		return cfg, model.WrapHarnessError(model.ExitConfigError,
			fmt.Sprintf("failed to parse %s", path), err)
	}

	return cfg, nil
}

// Resolve finds and loads the configuration: the explicit path if given,
// else $RAMEN_HARNESS_CONFIG, else the first DefaultFileNames entry present
// in the working directory, else the defaults. Environment overrides are
// applied and the result is validated.
func Resolve(path string) (Config, error) {
	// Step 1: locate the file, if any.
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path == "" {
		for _, name := range DefaultFileNames {
			if _, err := os.Stat(name); err == nil {
				path = name
				break
			}
		}
	}

	// Step 2: file values over defaults. An explicit path that does not
	// exist is an error; only auto-discovery may find nothing.
	cfg := Default()
	if path != "" {
		var err error
		if cfg, err = Load(path); err != nil {
			return cfg, err
		}
	}

	// Step 3: environment over file, then validate the merged result.
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyEnv applies the RAMEN_HARNESS_* overrides read through getenv.
// Empty values are ignored, so an exported-but-empty variable does not
// clear a setting.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := strings.TrimSpace(getenv(EnvLogLevel)); v != "" {
		c.LogLevel = v
	}
	if v := strings.TrimSpace(getenv(EnvShell)); v != "" {
		c.Shell = v
	}
	if v := strings.TrimSpace(getenv(EnvStopTimeout)); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return model.WrapHarnessError(model.ExitConfigError,
				fmt.Sprintf("invalid %s %q", EnvStopTimeout, v), err)
		}
		c.Daemons.StopTimeout = Duration(d)
	}
	if v := strings.TrimSpace(getenv(EnvKeepWorkspace)); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return model.WrapHarnessError(model.ExitConfigError,
				fmt.Sprintf("invalid %s %q", EnvKeepWorkspace, v), err)
		}
		c.Workspace.KeepAlways = b
	}
	return nil
}

// validLogLevels are the level names logrus.ParseLevel accepts that make
// sense for the harness.
var validLogLevels = map[string]bool{
	"trace": true, "debug": true, "info": true, "warn": true, "warning": true, "error": true,
}

// Validate reports every problem of the configuration at once.
func (c Config) Validate() error {
	// Collect rather than return early; a user fixing a file wants the
	// whole list.
	var errs []error
	if strings.TrimSpace(c.Shell) == "" {
		errs = append(errs, errors.New("shell must not be empty"))
	}
	if strings.TrimSpace(c.Environment.PersistDirVar) == "" {
		errs = append(errs, errors.New("environment.persist_dir_var must not be empty"))
	}
	if strings.TrimSpace(c.Workspace.Prefix) == "" {
		errs = append(errs, errors.New("workspace.prefix must not be empty"))
	}
	if c.Daemons.StopTimeout < 0 {
		errs = append(errs, fmt.Errorf("daemons.stop_timeout must not be negative (got %s)", c.Daemons.StopTimeout))
	}
	if c.Ports.Start < 1 || c.Ports.End > 65535 || c.Ports.Start > c.Ports.End {
		errs = append(errs, fmt.Errorf("ports: invalid range %d-%d", c.Ports.Start, c.Ports.End))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Errorf("log_level: unknown level %q", c.LogLevel))
	}
	for name := range c.Environment.Pinned {
		if name == "" || strings.Contains(name, "=") {
			errs = append(errs, fmt.Errorf("environment.pinned: invalid variable name %q", name))
		}
	}

	if len(errs) > 0 {
		return model.WrapHarnessError(model.ExitConfigError, "invalid configuration", errors.Join(errs...))
	}
	return nil
}
