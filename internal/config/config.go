// Package config handles configuration loading for planfleet.
// It supports XDG config paths, project-level overrides, and environment
// variables prefixed with PLANFLEET_.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config holds all configuration for planfleet.
type Config struct {
	Poller  PollerConfig  `mapstructure:"poller"`
	Agents  AgentsConfig  `mapstructure:"agents"`
	Critics CriticsConfig `mapstructure:"critics"`
	Runtime RuntimeConfig `mapstructure:"runtime"`
	// Repos maps repository IDs used in task labels to local checkout roots.
	// A missing map defaults to {"default": <project root>}.
	Repos map[string]string `mapstructure:"repos"`
}

// PollerConfig holds dispatch-loop timing settings.
type PollerConfig struct {
	// Interval is how often each active plan is synced against the task store.
	Interval time.Duration `mapstructure:"interval"`
	// StagnationThreshold is how long an unchanged deferred set must persist
	// before a stagnation warning is emitted.
	StagnationThreshold time.Duration `mapstructure:"stagnation_threshold"`
	// CycleCheckInterval caps how often dependency-cycle detection runs.
	CycleCheckInterval time.Duration `mapstructure:"cycle_check_interval"`
	// StaleAssignmentAge is how old a pending assignment with no live agent
	// must be before it is recovered.
	StaleAssignmentAge time.Duration `mapstructure:"stale_assignment_age"`
}

// AgentsConfig holds agent provisioning settings.
type AgentsConfig struct {
	// MaxParallel is the default per-plan cap on concurrently active worktrees.
	MaxParallel int `mapstructure:"max_parallel"`
	// Model is the default model identifier passed to agent containers.
	Model string `mapstructure:"model"`
	// WorktreeDir is the base directory task worktrees are created under.
	// Empty means ~/.cache/planfleet/worktrees.
	WorktreeDir string `mapstructure:"worktree_dir"`
	// MemoryDir is the base directory for ephemeral agent memory.
	// Empty means ~/.local/share/planfleet/memory.
	MemoryDir string `mapstructure:"memory_dir"`
}

// CriticsConfig holds review-pipeline settings.
type CriticsConfig struct {
	// Enabled toggles the review pipeline. Disabled plans complete tasks
	// straight through the reducer.
	Enabled bool `mapstructure:"enabled"`
	// MaxIterations caps review rounds per worktree. Zero disables reviews.
	MaxIterations int `mapstructure:"max_iterations"`
	// MaxFixupsPerTask caps the total fixup tasks a worktree may accumulate.
	MaxFixupsPerTask int `mapstructure:"max_fixups_per_task"`
	// UseAPI routes critic reviews through the Anthropic API instead of a
	// container when true.
	UseAPI bool `mapstructure:"use_api"`
	// Model overrides the review model; empty uses the agent default.
	Model string `mapstructure:"model"`
}

// RuntimeConfig holds container runtime settings.
type RuntimeConfig struct {
	// Image is the sandbox image agents run in.
	Image string `mapstructure:"image"`
	// StopGrace is how long a running container gets to exit voluntarily
	// after its task closes before it is force-stopped.
	StopGrace time.Duration `mapstructure:"stop_grace"`
	// ExtraFlags are appended to every container start.
	ExtraFlags []string `mapstructure:"extra_flags"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Poller: PollerConfig{
			Interval:            5 * time.Second,
			StagnationThreshold: 5 * time.Minute,
			CycleCheckInterval:  60 * time.Second,
			StaleAssignmentAge:  2 * time.Minute,
		},
		Agents: AgentsConfig{
			MaxParallel: 4,
			Model:       "claude-sonnet-4-20250514",
		},
		Critics: CriticsConfig{
			Enabled:          true,
			MaxIterations:    2,
			MaxFixupsPerTask: 3,
		},
		Runtime: RuntimeConfig{
			Image:     "planfleet/agent-sandbox:latest",
			StopGrace: 3 * time.Second,
		},
	}
}

// ConfigDir returns the XDG config directory for planfleet.
func ConfigDir() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, _ := os.UserHomeDir()
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "planfleet")
}

// newViper builds a viper instance with defaults and search paths set.
func newViper(projectRoot string) *viper.Viper {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(ConfigDir())
	if projectRoot != "" {
		// Project-level override wins over the XDG file.
		v.AddConfigPath(filepath.Join(projectRoot, ".planfleet"))
	}
	v.SetEnvPrefix("PLANFLEET")
	v.AutomaticEnv()

	def := Default()
	v.SetDefault("poller.interval", def.Poller.Interval)
	v.SetDefault("poller.stagnation_threshold", def.Poller.StagnationThreshold)
	v.SetDefault("poller.cycle_check_interval", def.Poller.CycleCheckInterval)
	v.SetDefault("poller.stale_assignment_age", def.Poller.StaleAssignmentAge)
	v.SetDefault("agents.max_parallel", def.Agents.MaxParallel)
	v.SetDefault("agents.model", def.Agents.Model)
	v.SetDefault("agents.worktree_dir", def.Agents.WorktreeDir)
	v.SetDefault("agents.memory_dir", def.Agents.MemoryDir)
	v.SetDefault("critics.enabled", def.Critics.Enabled)
	v.SetDefault("critics.max_iterations", def.Critics.MaxIterations)
	v.SetDefault("critics.max_fixups_per_task", def.Critics.MaxFixupsPerTask)
	v.SetDefault("critics.use_api", def.Critics.UseAPI)
	v.SetDefault("critics.model", def.Critics.Model)
	v.SetDefault("runtime.image", def.Runtime.Image)
	v.SetDefault("runtime.stop_grace", def.Runtime.StopGrace)
	return v
}

// Load reads configuration for the given project root. A missing config
// file is not an error; defaults and environment variables apply.
func Load(projectRoot string) (*Config, error) {
	v := newViper(projectRoot)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Watch reloads configuration whenever the config file changes and calls
// onChange with the new value. Invalid edits are ignored and reported.
func Watch(projectRoot string, onChange func(*Config), onError func(error)) {
	v := newViper(projectRoot)
	if err := v.ReadInConfig(); err != nil {
		// Nothing on disk to watch yet.
		return
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if e.Op&(fsnotify.Write|fsnotify.Create) == 0 {
			return
		}
		var cfg Config
		if err := v.Unmarshal(&cfg); err != nil {
			if onError != nil {
				onError(fmt.Errorf("reload config: %w", err))
			}
			return
		}
		if err := cfg.Validate(); err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		onChange(&cfg)
	})
	v.WatchConfig()
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Poller.Interval <= 0 {
		return fmt.Errorf("poller.interval must be positive")
	}
	if c.Agents.MaxParallel < 1 {
		return fmt.Errorf("agents.max_parallel must be at least 1")
	}
	if c.Critics.MaxIterations < 0 {
		return fmt.Errorf("critics.max_iterations must not be negative")
	}
	if c.Critics.MaxFixupsPerTask < 0 {
		return fmt.Errorf("critics.max_fixups_per_task must not be negative")
	}
	return nil
}
