package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v2"
)

// RateLimit bounds the requests a single IP may make per window.
type RateLimit struct {
	Max    int           `yaml:"max" env:"MAX_CONNECTION_LIMIT_PER_IP"`
	Window time.Duration `yaml:"window" env:"RATE_LIMIT_WINDOW"`
	// RedisAddr shares the counters through Redis when set.
	RedisAddr string `yaml:"redis_addr" env:"REDIS_ADDR"`
}

type Rooms struct {
	// Mode is "fixed" for a pre-provisioned pool or "dynamic" for rooms
	// created on request.
	Mode     string `yaml:"mode" env:"ROOM_MODE"`
	PoolSize int    `yaml:"pool_size" env:"ROOM_POOL_SIZE"`
}

type Config struct {
	Port string `yaml:"port" env:"PORT"`
	// FrontendHost is the allowed websocket origin. Empty allows any origin.
	FrontendHost   string        `yaml:"frontend_host" env:"FRONTEND_URL"`
	IdleTimeout    time.Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
	PingInterval   time.Duration `yaml:"ping_interval" env:"PING_INTERVAL"`
	MaxMessageSize int64         `yaml:"max_message_size" env:"MAX_MESSAGE_SIZE"`
	SendBuffer     int           `yaml:"send_buffer" env:"SEND_BUFFER"`

	RateLimit RateLimit `yaml:"rate_limit"`
	Rooms     Rooms     `yaml:"rooms"`
}

// legacyEnv holds the variable names of earlier deployments. They apply below
// their current equivalents.
type legacyEnv struct {
	Port          string `env:"HTTP_SERVER_PORT"`
	WindowMinutes int    `env:"WINDOW_REMEMBER_REQUEST_IN_MINUTES"`
}

func (l legacyEnv) apply(cfg *Config) {
	if l.Port != "" {
		cfg.Port = l.Port
	}
	if l.WindowMinutes > 0 {
		cfg.RateLimit.Window = time.Duration(l.WindowMinutes) * time.Minute
	}
}

func Default() Config {
	return Config{
		Port:           "8800",
		IdleTimeout:    60 * time.Second,
		PingInterval:   25 * time.Second,
		MaxMessageSize: 64 * 1024,
		SendBuffer:     64,
		RateLimit: RateLimit{
			Max:    100,
			Window: 15 * time.Minute,
		},
		Rooms: Rooms{
			Mode:     "fixed",
			PoolSize: 5,
		},
	}
}

// ParseConfig layers defaults, the YAML file named by -config (or
// CONFIG_FILE), legacy environment names, the environment and finally the
// flags in args.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := Default()
	var path string
	fs.StringVar(&path, "config", os.Getenv("CONFIG_FILE"), "Path to a YAML config file")
	fs.StringVar(&cfg.Port, "port", cfg.Port, "Port to host the server on")
	fs.StringVar(&cfg.FrontendHost, "frontendHost", cfg.FrontendHost, "The frontend host allowed to connect")
	fs.StringVar(&cfg.Rooms.Mode, "roomMode", cfg.Rooms.Mode, "Room mode, fixed or dynamic")
	fs.IntVar(&cfg.Rooms.PoolSize, "roomPoolSize", cfg.Rooms.PoolSize, "Number of rooms in fixed mode")

	// The first pass only finds the config file; flags are applied again
	// once the file and environment have been read.
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg = Default()
	if path != "" {
		if err := readFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	var legacy legacyEnv
	if err := env.Parse(&legacy); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	legacy.apply(&cfg)
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func readFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return fmt.Errorf("parse yaml config: %w", err)
	}
	return nil
}

func (c Config) Validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("port is required"))
	}
	switch c.Rooms.Mode {
	case "fixed":
		if c.Rooms.PoolSize <= 0 {
			errs = append(errs, fmt.Errorf("room pool size must be positive, got %d", c.Rooms.PoolSize))
		}
	case "dynamic":
	default:
		errs = append(errs, fmt.Errorf("unknown room mode %q", c.Rooms.Mode))
	}
	if c.IdleTimeout <= 0 {
		errs = append(errs, errors.New("idle timeout must be positive"))
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.IdleTimeout {
		errs = append(errs, fmt.Errorf("ping interval %s must be positive and shorter than idle timeout %s",
			c.PingInterval, c.IdleTimeout))
	}
	if c.MaxMessageSize <= 0 {
		errs = append(errs, errors.New("max message size must be positive"))
	}
	if c.SendBuffer <= 0 {
		errs = append(errs, errors.New("send buffer must be positive"))
	}
	if c.RateLimit.Max <= 0 || c.RateLimit.Window <= 0 {
		errs = append(errs, errors.New("rate limit max and window must be positive"))
	}
	return errors.Join(errs...)
}
