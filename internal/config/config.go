// Package config loads runtime options from flags, environment and an optional config file using Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. TINNICAP_POLL_INTERVAL.
const EnvPrefix = "TINNICAP"

// Options holds process-level configuration. User settings (limits, mode, cooldown)
// live in the settings file instead.
type Options struct {
	// Settings is the path of the JSON settings file.
	Settings string `mapstructure:"settings"`
	// Backend selects the audio host: auto, coreaudio, pactl or memory.
	Backend string `mapstructure:"backend"`
	// Fixture seeds the memory backend from a YAML or TOML file.
	Fixture string `mapstructure:"fixture"`
	// PollInterval is the enforcement tick period.
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// Addr is the listen address of the web UI.
	Addr string `mapstructure:"addr"`

	Log     LogOptions     `mapstructure:"log"`
	Notify  NotifyOptions  `mapstructure:"notify"`
	MQTT    MQTTOptions    `mapstructure:"mqtt"`
	Influx  InfluxOptions  `mapstructure:"influx"`
	History HistoryOptions `mapstructure:"history"`
}

type LogOptions struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type NotifyOptions struct {
	Desktop bool `mapstructure:"desktop"`
}

// MQTTOptions enables event publishing when Broker is set.
type MQTTOptions struct {
	Broker      string `mapstructure:"broker"`
	ClientID    string `mapstructure:"client_id"`
	TopicPrefix string `mapstructure:"topic_prefix"`
	QoS         int    `mapstructure:"qos"`
}

// InfluxOptions enables violation metrics when URL is set.
type InfluxOptions struct {
	URL           string        `mapstructure:"url"`
	Token         string        `mapstructure:"token"`
	Org           string        `mapstructure:"org"`
	Bucket        string        `mapstructure:"bucket"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

// HistoryOptions enables the violation history when Path is set.
type HistoryOptions struct {
	Path string `mapstructure:"path"`
}

// New returns a Viper instance with defaults and environment binding applied.
// Callers bind their flags to it before calling Load.
func New() *viper.Viper {
	v := viper.New()

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("settings", DefaultSettingsPath())
	v.SetDefault("backend", "auto")
	v.SetDefault("fixture", "")
	v.SetDefault("poll_interval", DefaultPollInterval)
	v.SetDefault("addr", DefaultAddr)
	v.SetDefault("log.level", "")
	v.SetDefault("log.format", "text")
	v.SetDefault("notify.desktop", true)
	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.client_id", "tinnicap")
	v.SetDefault("mqtt.topic_prefix", "tinnicap")
	v.SetDefault("mqtt.qos", 0)
	v.SetDefault("influx.url", "")
	v.SetDefault("influx.token", "")
	v.SetDefault("influx.org", "tinnicap")
	v.SetDefault("influx.bucket", "tinnicap")
	v.SetDefault("influx.flush_interval", 10*time.Second)
	v.SetDefault("history.path", "")
	return v
}

// Load reads configFile (if non-empty), then builds and validates Options.
func Load(v *viper.Viper, configFile string) (*Options, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", configFile, err)
		}
	}

	var opts Options
	if err := v.Unmarshal(&opts); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := Validate(&opts); err != nil {
		return nil, err
	}
	return &opts, nil
}
