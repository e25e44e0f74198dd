package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/obwan02/Actionator/internal/scheduler"
)

// Config holds all actionator server configuration.
// Priority: env vars > settings file > defaults.
type Config struct {
	ListenAddr    string            `json:"listen_addr" yaml:"listen_addr"`
	APIPrefix     string            `json:"api_prefix" yaml:"api_prefix"`
	DBPath        string            `json:"db_path" yaml:"db_path"`
	LogLevel      string            `json:"log_level" yaml:"log_level"`
	LogFormat     string            `json:"log_format" yaml:"log_format"`
	QueueCapacity int               `json:"queue_capacity" yaml:"queue_capacity"`
	SendTimeout   Duration          `json:"send_timeout" yaml:"send_timeout"`
	PoolSize      int               `json:"pool_size" yaml:"pool_size"`
	MCP           bool              `json:"mcp" yaml:"mcp"`
	Shell         bool              `json:"shell" yaml:"shell"`
	ShellWorkDirs []string          `json:"shell_workdirs,omitempty" yaml:"shell_workdirs,omitempty"`
	MQTTBroker    string            `json:"mqtt_broker,omitempty" yaml:"mqtt_broker,omitempty"`
	MQTTTopic     string            `json:"mqtt_topic,omitempty" yaml:"mqtt_topic,omitempty"`
	NATSURL       string            `json:"nats_url,omitempty" yaml:"nats_url,omitempty"`
	NATSSubject   string            `json:"nats_subject,omitempty" yaml:"nats_subject,omitempty"`
	Schedules     []scheduler.Entry `json:"schedules,omitempty" yaml:"schedules,omitempty"`
}

// Duration is a time.Duration written as a Go duration string ("5s").
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func defaultConfig() Config {
	return Config{
		ListenAddr:    ":4200",
		APIPrefix:     "/api/v1",
		DBPath:        filepath.Join(actionatorDir(), "actionator.db"),
		LogLevel:      "info",
		LogFormat:     "text",
		QueueCapacity: 1024,
		SendTimeout:   Duration(5 * time.Second),
		PoolSize:      10,
	}
}

func actionatorDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".actionator"
	}
	return filepath.Join(home, ".actionator")
}

// defaultSettingsPath returns the first settings file found in the
// actionator directory, or "" when there is none.
func defaultSettingsPath() string {
	for _, name := range []string{"settings.yaml", "settings.yml", "settings.json"} {
		p := filepath.Join(actionatorDir(), name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// loadConfig layers defaults, the settings file at path and ACTIONATOR_*
// env vars. An empty path falls back to the default settings file, which
// may be absent; an explicit path must exist.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	explicit := path != ""
	if !explicit {
		path = defaultSettingsPath()
	}
	if path != "" {
		if err := readSettings(path, &cfg); err != nil {
			if explicit || !os.IsNotExist(err) {
				return cfg, err
			}
		}
	}

	if err := applyEnv(&cfg, os.Getenv); err != nil {
		return cfg, err
	}
	return cfg, cfg.validate()
}

func readSettings(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	str := map[string]*string{
		"ACTIONATOR_LISTEN_ADDR":  &cfg.ListenAddr,
		"ACTIONATOR_API_PREFIX":   &cfg.APIPrefix,
		"ACTIONATOR_DB_PATH":      &cfg.DBPath,
		"ACTIONATOR_LOG_LEVEL":    &cfg.LogLevel,
		"ACTIONATOR_LOG_FORMAT":   &cfg.LogFormat,
		"ACTIONATOR_MQTT_BROKER":  &cfg.MQTTBroker,
		"ACTIONATOR_MQTT_TOPIC":   &cfg.MQTTTopic,
		"ACTIONATOR_NATS_URL":     &cfg.NATSURL,
		"ACTIONATOR_NATS_SUBJECT": &cfg.NATSSubject,
	}
	for key, dst := range str {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"ACTIONATOR_QUEUE_CAPACITY": &cfg.QueueCapacity,
		"ACTIONATOR_POOL_SIZE":      &cfg.PoolSize,
	}
	for key, dst := range ints {
		if v := getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = n
		}
	}

	bools := map[string]*bool{
		"ACTIONATOR_MCP":   &cfg.MCP,
		"ACTIONATOR_SHELL": &cfg.Shell,
	}
	for key, dst := range bools {
		if v := getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = b
		}
	}

	if v := getenv("ACTIONATOR_SEND_TIMEOUT"); v != "" {
		if err := cfg.SendTimeout.UnmarshalText([]byte(v)); err != nil {
			return fmt.Errorf("ACTIONATOR_SEND_TIMEOUT: %w", err)
		}
	}
	return nil
}

func (c Config) validate() error {
	if c.QueueCapacity <= 0 {
		return fmt.Errorf("queue_capacity must be positive, got %d", c.QueueCapacity)
	}
	if c.PoolSize <= 0 {
		return fmt.Errorf("pool_size must be positive, got %d", c.PoolSize)
	}
	if c.SendTimeout <= 0 {
		return fmt.Errorf("send_timeout must be positive")
	}
	if c.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}
	return nil
}
