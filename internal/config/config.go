package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/muurk/vtobridge/internal/engine"
	"gopkg.in/yaml.v3"
)

// Environment variables that override the file
const (
	EnvAddress  = "VTO_BRIDGE_ADDRESS"
	EnvPort     = "VTO_BRIDGE_PORT"
	EnvUsername = "VTO_BRIDGE_USERNAME"
	EnvPassword = "VTO_BRIDGE_PASSWORD"
	EnvMQTT     = "VTO_BRIDGE_MQTT_BROKER"
	EnvNATS     = "VTO_BRIDGE_NATS_URL"
)

const (
	DefaultUsername       = "admin"
	DefaultTopicPrefix    = "vto-bridge"
	DefaultSubjectPrefix  = "vto"
	DefaultDialTimeoutSec = 10
)

// Serialises Save
var fileMutex sync.Mutex

// Config is the bridge configuration file
type Config struct {
	Device            Device `yaml:"device"`
	LogLevel          string `yaml:"log_level,omitempty"`
	Verbose           bool   `yaml:"verbose,omitempty"`
	HaltOnAuthFailure bool   `yaml:"halt_on_auth_failure,omitempty"`
	HTTP              HTTP   `yaml:"http,omitempty"`
	MQTT              MQTT   `yaml:"mqtt,omitempty"`
	NATS              NATS   `yaml:"nats,omitempty"`
}

// Device is the VTO endpoint and credentials
type Device struct {
	Address     string `yaml:"address"`
	Port        int    `yaml:"port,omitempty"`
	Username    string `yaml:"username,omitempty"`
	Password    string `yaml:"password,omitempty"`
	DialTimeout int    `yaml:"dial_timeout,omitempty"`
}

// HTTP configures the status and command API. Empty Listen disables it.
type HTTP struct {
	Listen string `yaml:"listen,omitempty"`
}

// MQTT configures the MQTT bridge. Empty Broker disables it.
type MQTT struct {
	Broker      string `yaml:"broker,omitempty"`
	TopicPrefix string `yaml:"topic_prefix,omitempty"`
	Username    string `yaml:"username,omitempty"`
	Password    string `yaml:"password,omitempty"`
}

// NATS configures the NATS bridge. Empty URL disables it.
type NATS struct {
	URL           string `yaml:"url,omitempty"`
	SubjectPrefix string `yaml:"subject_prefix,omitempty"`
}

// Default returns a configuration with every optional field filled in
func Default() *Config {
	return &Config{
		Device: Device{
			Port:        engine.DefaultPort,
			Username:    DefaultUsername,
			DialTimeout: DefaultDialTimeoutSec,
		},
		MQTT: MQTT{TopicPrefix: DefaultTopicPrefix},
		NATS: NATS{SubjectPrefix: DefaultSubjectPrefix},
	}
}

// Load reads the file at path, or the default location when path is empty,
// and applies environment overrides. A missing default file is not an
// error; a missing explicit file is.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		var err error
		path, err = GetConfigPath()
		if err != nil {
			return nil, fmt.Errorf("failed to get config path: %w", err)
		}
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.fillDefaults()
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvAddress); ok {
		c.Device.Address = v
	}
	if v, ok := lookup(EnvPort); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvPort, v, err)
		}
		c.Device.Port = port
	}
	if v, ok := lookup(EnvUsername); ok {
		c.Device.Username = v
	}
	if v, ok := lookup(EnvPassword); ok {
		c.Device.Password = v
	}
	if v, ok := lookup(EnvMQTT); ok {
		c.MQTT.Broker = v
	}
	if v, ok := lookup(EnvNATS); ok {
		c.NATS.URL = v
	}
	return nil
}

func (c *Config) fillDefaults() {
	d := Default()
	if c.Device.Port == 0 {
		c.Device.Port = d.Device.Port
	}
	if c.Device.Username == "" {
		c.Device.Username = d.Device.Username
	}
	if c.Device.DialTimeout == 0 {
		c.Device.DialTimeout = d.Device.DialTimeout
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = d.MQTT.TopicPrefix
	}
	if c.NATS.SubjectPrefix == "" {
		c.NATS.SubjectPrefix = d.NATS.SubjectPrefix
	}
}

// Validate reports every problem with the configuration at once. The
// password is not checked here since it may still be prompted for.
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.Device.Address) == "" {
		problems = append(problems, "device.address is required")
	}
	if c.Device.Port < 1 || c.Device.Port > 65535 {
		problems = append(problems, fmt.Sprintf("device.port %d is out of range", c.Device.Port))
	}
	if c.Device.Username == "" {
		problems = append(problems, "device.username is required")
	}
	if c.Device.DialTimeout < 0 {
		problems = append(problems, "device.dial_timeout must not be negative")
	}
	if c.MQTT.Broker != "" {
		if err := validateURL(c.MQTT.Broker, "tcp", "ssl", "tls", "ws", "wss", "mqtt", "mqtts"); err != nil {
			problems = append(problems, "mqtt.broker: "+err.Error())
		}
	}
	if c.NATS.URL != "" {
		if err := validateURL(c.NATS.URL, "nats", "tls", "ws", "wss"); err != nil {
			problems = append(problems, "nats.url: "+err.Error())
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

func validateURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	for _, s := range schemes {
		if u.Scheme == s {
			if u.Host == "" {
				return fmt.Errorf("%q has no host", raw)
			}
			return nil
		}
	}
	return fmt.Errorf("unsupported scheme %q", u.Scheme)
}

// EffectiveLogLevel resolves log_level and the verbose toggle
func (c *Config) EffectiveLogLevel() string {
	if c.Verbose {
		return "debug"
	}
	return c.LogLevel
}

// EngineConfig converts the device section for the engine
func (c *Config) EngineConfig() engine.Config {
	return engine.Config{
		Address:           c.Device.Address,
		Port:              c.Device.Port,
		Username:          c.Device.Username,
		Password:          c.Device.Password,
		HaltOnAuthFailure: c.HaltOnAuthFailure,
		DialTimeout:       time.Duration(c.Device.DialTimeout) * time.Second,
	}
}

// Save writes the configuration to path, atomically and readable only by
// the current user since it may hold credentials
func (c *Config) Save(path string) error {
	fileMutex.Lock()
	defer fileMutex.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# VTO bridge configuration
#
# The device password may be left out and supplied through
# ` + EnvPassword + ` or the interactive prompt instead.
#
# Location: ` + path + `

`)
	data = append(header, data...)

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temporary config file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save config file: %w", err)
	}
	return nil
}
