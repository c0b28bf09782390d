package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const (
	EngineMemory = "memory"
	EngineWebRTC = "webrtc"
)

type RateConfig struct {
	MessagesPerSecond float64 `mapstructure:"messages_per_second"`
	Burst             int     `mapstructure:"burst"`
}

type JoinRateConfig struct {
	Limit    int           `mapstructure:"limit"`
	Interval time.Duration `mapstructure:"interval"`
}

type Config struct {
	Mode            string         `mapstructure:"mode"`
	Port            int            `mapstructure:"port"`
	LogLevel        string         `mapstructure:"log_level"`
	ReadLimit       int64          `mapstructure:"read_limit"`
	PingPeriod      time.Duration  `mapstructure:"ping_period"`
	HeartbeatMisses int            `mapstructure:"heartbeat_misses"`
	WriteWait       time.Duration  `mapstructure:"write_wait"`
	SendBuffer      int            `mapstructure:"send_buffer"`
	Secret          string         `mapstructure:"secret"`
	Engine          string         `mapstructure:"engine"`
	ICEServers      []string       `mapstructure:"ice_servers"`
	GatherTimeout   time.Duration  `mapstructure:"gather_timeout"`
	Rate            RateConfig     `mapstructure:"rate"`
	JoinRate        JoinRateConfig `mapstructure:"join_rate"`
	// DropBudget is how many events a slow connection may lose before it is kicked.
	DropBudget int `mapstructure:"drop_budget"`
}

// PongWait is how long a connection may stay silent before it is considered dead.
func (c *Config) PongWait() time.Duration {
	return c.PingPeriod * time.Duration(c.HeartbeatMisses)
}

func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.PingPeriod <= 0 {
		return errors.New("ping_period must be positive")
	}
	if c.HeartbeatMisses < 1 {
		return errors.New("heartbeat_misses must be at least 1")
	}
	if c.DropBudget < 0 {
		return errors.New("drop_budget must not be negative")
	}
	if c.SendBuffer < 1 {
		return errors.New("send_buffer must be at least 1")
	}
	switch c.Engine {
	case EngineMemory, EngineWebRTC:
	default:
		return fmt.Errorf("unknown engine %q", c.Engine)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("read_limit", 65536)
	v.SetDefault("ping_period", "20s")
	v.SetDefault("heartbeat_misses", 3)
	v.SetDefault("write_wait", "5s")
	v.SetDefault("send_buffer", 64)
	v.SetDefault("secret", "huddle-dev-secret")
	v.SetDefault("engine", EngineMemory)
	v.SetDefault("ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("gather_timeout", "2s")
	v.SetDefault("rate.messages_per_second", 50)
	v.SetDefault("rate.burst", 100)
	v.SetDefault("join_rate.limit", 5)
	v.SetDefault("join_rate.interval", "10s")
	v.SetDefault("drop_budget", 0)
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("HUDDLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	log.Info().
		Str("module", "config").
		Str("mode", cfg.Mode).
		Int("port", cfg.Port).
		Str("engine", cfg.Engine).
		Msg("config ready")
	return &cfg, nil
}
