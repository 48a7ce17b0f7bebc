package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Server     ServerConfig     `toml:"server"`
	Network    NetworkConfig    `toml:"network"`
	Navigation NavigationConfig `toml:"navigation"`
	Crowd      CrowdConfig      `toml:"crowd"`
	AI         AIConfig         `toml:"ai"`
	Database   DatabaseConfig   `toml:"database"`
	Logging    LoggingConfig    `toml:"logging"`
}

type ServerConfig struct {
	Name      string `toml:"name"`
	ID        int    `toml:"id"`
	StartTime int64  // set at boot, not from config
}

type NetworkConfig struct {
	BindAddress       string        `toml:"bind_address"`
	TickRate          time.Duration `toml:"tick_rate"`
	InQueueSize       int           `toml:"in_queue_size"`
	OutQueueSize      int           `toml:"out_queue_size"`
	MaxPacketsPerTick int           `toml:"max_packets_per_tick"`
	MaxPacketsPerSec  int           `toml:"max_packets_per_sec"` // per feed, 0 = unlimited
	MaxFeeds          int           `toml:"max_feeds"`           // 0 = unlimited
	WriteTimeout      time.Duration `toml:"write_timeout"`
	ReadTimeout       time.Duration `toml:"read_timeout"`
}

// NavigationConfig points at the external navigation engine.
type NavigationConfig struct {
	ServiceURL       string        `toml:"service_url"`
	RequestTimeout   time.Duration `toml:"request_timeout"` // per remote call
	HealthTimeout    time.Duration `toml:"health_timeout"`
	HealthRetries    int           `toml:"health_retries"`
	HealthRetryDelay time.Duration `toml:"health_retry_delay"`
}

type CrowdConfig struct {
	MaxAgents       int           `toml:"max_agents"`
	CleanupInterval time.Duration `toml:"cleanup_interval"`
	BrakeForce      float64       `toml:"brake_force"`
	SpeedThreshold  float64       `toml:"speed_threshold"` // below this the previous heading is kept
	CycleTimeout    time.Duration `toml:"cycle_timeout"`   // upper bound on one crowd tick's remote work
	MaxParallel     int           `toml:"max_parallel"`    // concurrent agent queries per tick
}

// AIConfig holds gameplay policy consumed by the AI layer. Radii and speeds
// live in the profile table; these are global knobs.
type AIConfig struct {
	ScriptsDir    string        `toml:"scripts_dir"`
	ProfilesPath  string        `toml:"profiles_path"`
	SpawnListPath string        `toml:"spawn_list_path"`
	GracePeriod   time.Duration `toml:"grace_period"`   // new players are ignored this long
	TargetRefresh time.Duration `toml:"target_refresh"` // min gap between target updates per NPC
	LineOfSight   bool          `toml:"line_of_sight"`
	Standalone    bool          `toml:"standalone"` // spawn from spawn_list instead of waiting for a feed
}

type DatabaseConfig struct {
	DSN             string        `toml:"dsn"` // empty disables persistence
	MaxOpenConns    int           `toml:"max_open_conns"`
	MaxIdleConns    int           `toml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `toml:"conn_max_lifetime"`
	StatsInterval   time.Duration `toml:"stats_interval"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "json" or "console"
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := Defaults()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	cfg.Server.StartTime = time.Now().Unix()
	return cfg, nil
}

// Validate rejects settings the tick loop cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Network.TickRate <= 0 {
		errs = append(errs, errors.New("network.tick_rate must be positive"))
	}
	if c.Crowd.MaxAgents <= 0 {
		errs = append(errs, errors.New("crowd.max_agents must be positive"))
	}
	if c.Crowd.CleanupInterval <= 0 {
		errs = append(errs, errors.New("crowd.cleanup_interval must be positive"))
	}
	if c.Crowd.CycleTimeout <= 0 {
		errs = append(errs, errors.New("crowd.cycle_timeout must be positive"))
	}
	if c.Navigation.ServiceURL == "" {
		errs = append(errs, errors.New("navigation.service_url is required"))
	}
	if c.Navigation.RequestTimeout <= 0 {
		errs = append(errs, errors.New("navigation.request_timeout must be positive"))
	}
	return errors.Join(errs...)
}

func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Name: "crowdnav",
			ID:   1,
		},
		Network: NetworkConfig{
			BindAddress:       "127.0.0.1:7010",
			TickRate:          50 * time.Millisecond, // 20Hz
			InQueueSize:       256,
			OutQueueSize:      1024,
			MaxPacketsPerTick: 64,
			MaxPacketsPerSec:  4000,
			MaxFeeds:          4,
			WriteTimeout:      10 * time.Second,
			ReadTimeout:       60 * time.Second,
		},
		Navigation: NavigationConfig{
			ServiceURL:       "http://127.0.0.1:8080",
			RequestTimeout:   250 * time.Millisecond,
			HealthTimeout:    2 * time.Second,
			HealthRetries:    5,
			HealthRetryDelay: time.Second,
		},
		Crowd: CrowdConfig{
			MaxAgents:       50,
			CleanupInterval: 5 * time.Minute,
			BrakeForce:      10.0,
			SpeedThreshold:  0.1,
			CycleTimeout:    45 * time.Millisecond,
			MaxParallel:     16,
		},
		AI: AIConfig{
			ScriptsDir:    "scripts",
			ProfilesPath:  "data/yaml/profiles.yaml",
			SpawnListPath: "data/yaml/spawn_list.yaml",
			GracePeriod:   10 * time.Second,
			TargetRefresh: 100 * time.Millisecond,
			LineOfSight:   true,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    4,
			MaxIdleConns:    1,
			ConnMaxLifetime: 30 * time.Minute,
			StatsInterval:   time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}
