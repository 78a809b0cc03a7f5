// Package config loads and merges configuration from a TOML file and
// environment variable overrides.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/sweeney/nut-monitor/internal/nut"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "NUT_MONITOR_"

// Duration wraps time.Duration so that BurntSushi/toml can decode "30s"-style
// strings via the encoding.TextUnmarshaler interface.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	dur, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = dur
	return nil
}

// NUTConfig holds upsd connection settings.
type NUTConfig struct {
	Host           string   `toml:"host"`
	Port           int      `toml:"port"`
	Username       string   `toml:"username"`
	Password       string   `toml:"password"`
	PollInterval   Duration `toml:"poll_interval"`
	DialTimeout    Duration `toml:"dial_timeout"`
	RequestTimeout Duration `toml:"request_timeout"`
}

// Params returns the connection parameters for one attempt.
func (c NUTConfig) Params() nut.Params {
	return nut.Params{Host: c.Host, Port: c.Port, Username: c.Username, Password: c.Password}
}

// Options returns the client timeouts.
func (c NUTConfig) Options() nut.Options {
	return nut.Options{DialTimeout: c.DialTimeout.Duration, RequestTimeout: c.RequestTimeout.Duration}
}

// MQTTConfig holds MQTT broker connection settings.
type MQTTConfig struct {
	Enabled     bool   `toml:"enabled"`
	Broker      string `toml:"broker"`
	Username    string `toml:"username"`
	Password    string `toml:"password"`
	ClientID    string `toml:"client_id"`
	TopicPrefix string `toml:"topic_prefix"`
	Retained    bool   `toml:"retained"`
	QOS         byte   `toml:"qos"`
	TLSCACert   string `toml:"tls_ca_cert"`
}

// MetricsConfig holds the Prometheus endpoint settings. An empty Listen
// disables the endpoint.
type MetricsConfig struct {
	Listen string `toml:"listen"`
}

// Config is the top-level configuration struct.
type Config struct {
	NUT     NUTConfig     `toml:"nut"`
	MQTT    MQTTConfig    `toml:"mqtt"`
	Metrics MetricsConfig `toml:"metrics"`
}

// Load reads config from the first existing path in paths, then applies
// environment variable overrides. Missing files are skipped silently;
// a malformed file returns an error. Calling Load() with no arguments
// returns pure defaults plus any env overrides.
func Load(paths ...string) (*Config, error) {
	cfg := defaults()

	for _, path := range paths {
		if path == "" {
			continue
		}
		if _, statErr := os.Stat(path); statErr == nil {
			if _, err := toml.DecodeFile(path, cfg); err != nil {
				return nil, fmt.Errorf("parsing config %q: %w", path, err)
			}
			break // first found file wins
		} else if !os.IsNotExist(statErr) {
			return nil, fmt.Errorf("checking config path %q: %w", path, statErr)
		}
	}

	applyEnvOverrides(cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		NUT: NUTConfig{
			Host:           "localhost",
			Port:           nut.DefaultPort,
			PollInterval:   Duration{2 * time.Second},
			DialTimeout:    Duration{5 * time.Second},
			RequestTimeout: Duration{10 * time.Second},
		},
		MQTT: MQTTConfig{
			Broker:      "tcp://localhost:1883",
			ClientID:    "nut-monitor",
			TopicPrefix: "nut",
			Retained:    true,
			QOS:         1,
		},
	}
}

func (c *Config) validate() error {
	if c.NUT.Host == "" {
		return fmt.Errorf("config: nut.host must not be empty")
	}
	if c.NUT.Port < 1 || c.NUT.Port > 65535 {
		return fmt.Errorf("config: nut.port %d out of range", c.NUT.Port)
	}
	if c.NUT.PollInterval.Duration <= 0 {
		return fmt.Errorf("config: nut.poll_interval must be positive, got %v", c.NUT.PollInterval.Duration)
	}
	if c.MQTT.QOS > 2 {
		return fmt.Errorf("config: mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QOS)
	}
	return nil
}

// override binds one environment variable (without EnvPrefix) to a setter.
// A setter error means the value is logged and ignored.
type override struct {
	name string
	set  func(cfg *Config, v string) error
}

var overrides = []override{
	{"NUT_HOST", func(c *Config, v string) error { c.NUT.Host = v; return nil }},
	{"NUT_PORT", func(c *Config, v string) error { return setInt(&c.NUT.Port, v) }},
	{"NUT_USERNAME", func(c *Config, v string) error { c.NUT.Username = v; return nil }},
	{"NUT_PASSWORD", func(c *Config, v string) error { c.NUT.Password = v; return nil }},
	{"NUT_POLL_INTERVAL", func(c *Config, v string) error { return setDuration(&c.NUT.PollInterval, v) }},
	{"NUT_DIAL_TIMEOUT", func(c *Config, v string) error { return setDuration(&c.NUT.DialTimeout, v) }},
	{"NUT_REQUEST_TIMEOUT", func(c *Config, v string) error { return setDuration(&c.NUT.RequestTimeout, v) }},
	{"MQTT_ENABLED", func(c *Config, v string) error { return setBool(&c.MQTT.Enabled, v) }},
	{"MQTT_BROKER", func(c *Config, v string) error { c.MQTT.Broker = v; return nil }},
	{"MQTT_USERNAME", func(c *Config, v string) error { c.MQTT.Username = v; return nil }},
	{"MQTT_PASSWORD", func(c *Config, v string) error { c.MQTT.Password = v; return nil }},
	{"MQTT_CLIENT_ID", func(c *Config, v string) error { c.MQTT.ClientID = v; return nil }},
	{"MQTT_TOPIC_PREFIX", func(c *Config, v string) error { c.MQTT.TopicPrefix = v; return nil }},
	{"MQTT_RETAINED", func(c *Config, v string) error { return setBool(&c.MQTT.Retained, v) }},
	{"MQTT_QOS", func(c *Config, v string) error {
		q, err := strconv.ParseUint(v, 10, 8)
		if err != nil {
			return err
		}
		c.MQTT.QOS = byte(q)
		return nil
	}},
	{"MQTT_TLS_CA_CERT", func(c *Config, v string) error { c.MQTT.TLSCACert = v; return nil }},
	{"METRICS_LISTEN", func(c *Config, v string) error { c.Metrics.Listen = v; return nil }},
}

// applyEnvOverrides copies any set NUT_MONITOR_* environment variables into cfg.
func applyEnvOverrides(cfg *Config) {
	for _, o := range overrides {
		name := EnvPrefix + o.name
		v := os.Getenv(name)
		if v == "" {
			continue
		}
		if err := o.set(cfg, v); err != nil {
			log.Printf("config: ignoring invalid %s=%q: %v", name, v, err)
		}
	}
}

func setInt(dst *int, v string) error {
	n, err := strconv.Atoi(v)
	if err != nil {
		return err
	}
	*dst = n
	return nil
}

func setDuration(dst *Duration, v string) error {
	d, err := time.ParseDuration(v)
	if err != nil {
		return err
	}
	dst.Duration = d
	return nil
}

func setBool(dst *bool, v string) error {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return err
	}
	*dst = b
	return nil
}
