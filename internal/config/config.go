package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Listen struct {
	BindIP   string `yaml:"bind_ip" env-default:"0.0.0.0"`
	Port     string `yaml:"port" env-default:"5000"`
	TLS      bool   `yaml:"tls_enabled" env-default:"false"`
	CertFile string `yaml:"cert_file" env-default:""`
	KeyFile  string `yaml:"key_file" env-default:""`
}

type Config struct {
	IsDebug           bool   `yaml:"is_debug" env:"EVCS_DEBUG" env-default:"false"`
	LogLevel          string `yaml:"log_level" env:"EVCS_LOG_LEVEL" env-default:"info"`
	TimeZone          string `yaml:"time_zone" env-default:"UTC"`
	HeartbeatInterval int    `yaml:"heartbeat_interval" env-default:"600"`
	CommandTimeout    int    `yaml:"command_timeout" env-default:"10"`
	StartPendingTTL   int    `yaml:"start_pending_ttl" env-default:"120"`
	Listen            Listen `yaml:"listen"`
	Api               Listen `yaml:"api" env-prefix:"API_"`
	Mongo             struct {
		Enabled  bool   `yaml:"enabled" env:"MONGO_ENABLED" env-default:"false"`
		Host     string `yaml:"host" env:"MONGO_HOST" env-default:"127.0.0.1"`
		Port     string `yaml:"port" env:"MONGO_PORT" env-default:"27017"`
		User     string `yaml:"user" env:"MONGO_USER" env-default:""`
		Password string `yaml:"password" env:"MONGO_PASSWORD" env-default:""`
		Database string `yaml:"database" env:"MONGO_DATABASE" env-default:"evcs"`
	} `yaml:"mongo"`
	Telegram struct {
		Enabled bool   `yaml:"enabled" env-default:"false"`
		ApiKey  string `yaml:"api_key" env:"TELEGRAM_API_KEY" env-default:""`
	} `yaml:"telegram"`
	Pusher struct {
		Enabled bool   `yaml:"enabled" env-default:"false"`
		AppID   string `yaml:"app_id" env-default:""`
		Key     string `yaml:"key" env-default:""`
		Secret  string `yaml:"secret" env:"PUSHER_SECRET" env-default:""`
		Cluster string `yaml:"cluster" env-default:"eu"`
	} `yaml:"pusher"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" env-default:"false"`
		BindIP  string `yaml:"bind_ip" env-default:"0.0.0.0"`
		Port    string `yaml:"port" env-default:"9100"`
	} `yaml:"metrics"`
}

func (c *Config) CommandTimeoutDuration() time.Duration {
	return time.Duration(c.CommandTimeout) * time.Second
}

func (c *Config) StartPendingDuration() time.Duration {
	return time.Duration(c.StartPendingTTL) * time.Second
}

var instance *Config
var once sync.Once

// GetConfig reads the configuration once; subsequent calls return the same instance
func GetConfig(path string) (*Config, error) {
	var err error
	once.Do(func() {
		instance, err = ReadConfig(path)
	})
	if instance == nil && err == nil {
		err = fmt.Errorf("configuration not loaded")
	}
	return instance, err
}

func ReadConfig(path string) (*Config, error) {
	conf := &Config{}
	if err := cleanenv.ReadConfig(path, conf); err != nil {
		desc, _ := cleanenv.GetDescription(conf, nil)
		return nil, fmt.Errorf("reading config %s: %w\n%s", path, err, desc)
	}
	if conf.CommandTimeout <= 0 {
		return nil, fmt.Errorf("command_timeout must be positive")
	}
	return conf, nil
}
