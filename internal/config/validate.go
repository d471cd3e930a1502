package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

const (
	// DefaultPollInterval matches the half-second polling of the menu bar app.
	DefaultPollInterval = 500 * time.Millisecond
	// MinPollInterval keeps the host from being hammered.
	MinPollInterval = 50 * time.Millisecond
	// DefaultAddr keeps the web UI on loopback.
	DefaultAddr = "127.0.0.1:7171"
)

var knownBackends = []string{"auto", "coreaudio", "pactl", "memory"}

// Validate normalizes opts in place and rejects values that cannot work.
func Validate(opts *Options) error {
	opts.Backend = strings.ToLower(strings.TrimSpace(opts.Backend))
	if opts.Backend == "" {
		opts.Backend = "auto"
	}
	if !slices.Contains(knownBackends, opts.Backend) {
		return fmt.Errorf("config: backend must be one of %s, got %q", strings.Join(knownBackends, ", "), opts.Backend)
	}

	if opts.PollInterval == 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.PollInterval < MinPollInterval {
		return fmt.Errorf("config: poll_interval must be >= %v, got %v", MinPollInterval, opts.PollInterval)
	}

	if opts.Settings == "" {
		return errors.New("config: settings path must be set")
	}

	switch strings.ToLower(opts.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("config: log.format must be text or json, got %q", opts.Log.Format)
	}

	if opts.MQTT.QoS < 0 || opts.MQTT.QoS > 2 {
		return fmt.Errorf("config: mqtt.qos must be 0, 1 or 2, got %d", opts.MQTT.QoS)
	}

	if opts.Influx.URL != "" && opts.Influx.Bucket == "" {
		return errors.New("config: influx.bucket must be set when influx.url is")
	}
	return nil
}
