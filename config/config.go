package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Bot        BotConfig        `yaml:"bot"`
	Connector  ConnectorConfig  `yaml:"connector"`
	Push       PushConfig       `yaml:"push"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
	Registry   RegistryConfig   `yaml:"registry"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Log        LogConfig        `yaml:"log"`
}

// WorkerPoolConfig holds the configuration for the notification worker pool.
type WorkerPoolConfig struct {
	Size      int `yaml:"size"`
	QueueSize int `yaml:"queue_size"`
}

// PushConfig holds the VAPID keys and delivery options for web push notifications.
type PushConfig struct {
	PublicKey      string        `yaml:"vapid_public_key"`
	PrivateKey     string        `yaml:"vapid_private_key"`
	KeyFile        string        `yaml:"vapid_key_file"`
	Subject        string        `yaml:"subject"`
	TTL            int           `yaml:"ttl"`
	TimeoutSeconds int           `yaml:"timeout_seconds"`
	Timeout        time.Duration `yaml:"-"`
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	WebDir          string  `yaml:"web_dir"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
}

// BotConfig holds the dialog behaviour.
type BotConfig struct {
	AppID               string        `yaml:"app_id"`
	Greeting            string        `yaml:"greeting"`
	StopCommand         string        `yaml:"stop_command"`
	LoopIntervalSeconds int           `yaml:"loop_interval_seconds"`
	LoopInterval        time.Duration `yaml:"-"`
}

// ConnectorConfig holds the outbound channel client settings.
type ConnectorConfig struct {
	HTTPProxy      string        `yaml:"http_proxy"`
	TimeoutSeconds int           `yaml:"timeout_seconds"`
	Timeout        time.Duration `yaml:"-"`
}

// RegistryConfig selects where push subscriptions are kept.
type RegistryConfig struct {
	Driver       string `yaml:"driver"` // memory, gorm or redis
	ForgetOnGone *bool  `yaml:"forget_on_gone"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	Dialect                string `yaml:"dialect"` // postgres or sqlite
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// RedisConfig holds the redis connection configuration.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level   string `yaml:"level"`
	Console bool   `yaml:"console"`
}

const defaultGreeting = `Greetings, human! I am a webchat notification bot using the WebChat control! ` +
	`Say **"hello"** and I will send a message every 5 seconds. If you accepted notifications, you will get one! ` +
	`If you close the tab but leave the browser opened, you will get a notification when I talk. ` +
	`Oh, and say **"stop"** to shut me off :)`

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns a configuration built only from the environment and defaults.
// It is used when no config file is present.
func Default() (*Config, error) {
	var cfg Config
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// ForgetOnGoneEnabled reports whether permanently failing subscriptions are removed.
func (r RegistryConfig) ForgetOnGoneEnabled() bool {
	return r.ForgetOnGone == nil || *r.ForgetOnGone
}

func (cfg *Config) applyEnv() error {
	port := os.Getenv("PORT")
	if port == "" {
		port = os.Getenv("port")
	}
	if port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", port, err)
		}
		cfg.Server.Port = p
	}
	if appID := os.Getenv("MICROSOFT_APP_ID"); appID != "" {
		cfg.Bot.AppID = appID
	}
	return nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 443
	}
	if cfg.Server.WebDir == "" {
		cfg.Server.WebDir = "./web"
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}

	if cfg.Bot.Greeting == "" {
		cfg.Bot.Greeting = defaultGreeting
	}
	if cfg.Bot.StopCommand == "" {
		cfg.Bot.StopCommand = "stop"
	}
	if cfg.Bot.LoopIntervalSeconds <= 0 {
		cfg.Bot.LoopIntervalSeconds = 5
	}
	cfg.Bot.LoopInterval = time.Duration(cfg.Bot.LoopIntervalSeconds) * time.Second

	if cfg.Connector.TimeoutSeconds <= 0 {
		cfg.Connector.TimeoutSeconds = 30
	}
	cfg.Connector.Timeout = time.Duration(cfg.Connector.TimeoutSeconds) * time.Second

	if cfg.Push.KeyFile == "" {
		cfg.Push.KeyFile = "./vapidKey.json"
	}
	if cfg.Push.Subject == "" {
		cfg.Push.Subject = "mailto:example@yourdomain.org"
	}
	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 1
	}
	if cfg.Push.TimeoutSeconds <= 0 {
		cfg.Push.TimeoutSeconds = 10
	}
	cfg.Push.Timeout = time.Duration(cfg.Push.TimeoutSeconds) * time.Second

	if cfg.WorkerPool.Size <= 0 {
		cfg.WorkerPool.Size = 1
	}
	if cfg.WorkerPool.QueueSize <= 0 {
		cfg.WorkerPool.QueueSize = 64
	}

	if cfg.Registry.Driver == "" {
		cfg.Registry.Driver = "memory"
	}
	if cfg.Database.Dialect == "" {
		cfg.Database.Dialect = "sqlite"
	}
	if cfg.Database.DSN == "" && cfg.Database.Dialect == "sqlite" {
		cfg.Database.DSN = "pushbot.db"
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = "pushbot:sub:"
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}
