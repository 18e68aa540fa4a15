// Package config loads foreman's configuration from an optional YAML file
// and FOREMAN_* environment variables, layered over built-in defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration.
type Config struct {
	Agent         Agent         `mapstructure:"agent"`
	Orchestration Orchestration `mapstructure:"orchestration"`
	Worktree      Worktree      `mapstructure:"worktree"`
	Logging       Logging       `mapstructure:"logging"`
}

// Agent configures the supervised agent CLI processes.
type Agent struct {
	Command          string        `mapstructure:"command"`
	Args             []string      `mapstructure:"args"`
	OutputBufferSize int           `mapstructure:"output_buffer_size"`
	RunningDelay     time.Duration `mapstructure:"running_delay"`
	SettleDelay      time.Duration `mapstructure:"settle_delay"`
	SubmitDelay      time.Duration `mapstructure:"submit_delay"`
	FallbackDelay    time.Duration `mapstructure:"fallback_delay"`
	StripEnvPrefixes []string      `mapstructure:"strip_env_prefixes"`
	Cols             uint16        `mapstructure:"cols"`
	Rows             uint16        `mapstructure:"rows"`
}

// Orchestration configures the task orchestrator.
type Orchestration struct {
	MaxConcurrentWorkers int `mapstructure:"max_concurrent_workers"`
	MarkerBufferSize     int `mapstructure:"marker_buffer_size"`
}

// Worktree configures git worktree provisioning.
type Worktree struct {
	BranchPrefix string `mapstructure:"branch_prefix"`
}

// Logging configures the structured log output.
type Logging struct {
	Level string `mapstructure:"level"`
	Dir   string `mapstructure:"dir"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("agent.command", "claude")
	v.SetDefault("agent.args", []string{"--dangerously-skip-permissions"})
	v.SetDefault("agent.output_buffer_size", 256*1024)
	v.SetDefault("agent.running_delay", 2*time.Second)
	v.SetDefault("agent.settle_delay", 1*time.Second)
	v.SetDefault("agent.submit_delay", 500*time.Millisecond)
	v.SetDefault("agent.fallback_delay", 5*time.Second)
	v.SetDefault("agent.strip_env_prefixes", []string{"CLAUDECODE", "CLAUDE_CODE_", "FOREMAN_AGENT"})
	v.SetDefault("agent.cols", 200)
	v.SetDefault("agent.rows", 50)

	v.SetDefault("orchestration.max_concurrent_workers", 3)
	v.SetDefault("orchestration.marker_buffer_size", 128*1024)

	v.SetDefault("worktree.branch_prefix", "foreman")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.dir", ".foreman/logs")
}

// Load reads configuration. With an empty path it searches for foreman.yaml
// in the working directory and ~/.config/foreman, and a missing file is not
// an error; an explicit path must exist. Environment variables override file
// values, e.g. FOREMAN_ORCHESTRATION_MAX_CONCURRENT_WORKERS.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("foreman")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/foreman")
	}

	v.SetEnvPrefix("FOREMAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
