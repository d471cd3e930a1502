package cli

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"tinnicap/internal/config"
	"tinnicap/internal/logging"
)

var (
	cfgFile   string
	verbosity int

	v    *viper.Viper
	opts *config.Options
)

// persistentKeys maps persistent flag names to their configuration keys.
var persistentKeys = map[string]string{
	"settings":      "settings",
	"backend":       "backend",
	"fixture":       "fixture",
	"poll-interval": "poll_interval",
	"log-level":     "log.level",
	"log-format":    "log.format",
	"mqtt-broker":   "mqtt.broker",
	"influx-url":    "influx.url",
	"history":       "history.path",
}

// NewRootCmd creates the root CLI command.
// This is the primary adapter that translates CLI inputs to use case calls.
func NewRootCmd() *cobra.Command {
	v = config.New()
	opts = nil

	cmd := &cobra.Command{
		Use:          "tinnicap",
		Short:        "Per-device output volume limits",
		Long:         "Watches the output volume of every audio device and caps (or warns about) devices that exceed their configured limit.",
		SilenceUsage: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (yaml, toml or json)")
	pf.CountVarP(&verbosity, "verbose", "v", "increase log verbosity (-v, -vv, ... up to 4)")
	pf.String("settings", config.DefaultSettingsPath(), "settings file holding limits, mode and cooldown")
	pf.String("backend", "auto", "audio backend: auto, coreaudio, pactl or memory")
	pf.String("fixture", "", "YAML or TOML device fixture for the memory backend")
	pf.Duration("poll-interval", config.DefaultPollInterval, "enforcement tick period")
	pf.String("log-level", "", "log level (error|warn|info|debug|trace), overrides -v")
	pf.String("log-format", "text", "log format: text or json")
	pf.String("mqtt-broker", "", "publish events to this MQTT broker, e.g. tcp://localhost:1883")
	pf.String("influx-url", "", "write violation metrics to this InfluxDB v2 server")
	pf.String("history", "", "SQLite database recording violations (bare --history uses the default path)")
	pf.Lookup("history").NoOptDefVal = config.DefaultHistoryPath()
	bindFlags(pf, persistentKeys)

	cmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(v, cfgFile)
		if err != nil {
			return err
		}
		opts = loaded

		logging.Setup(cmd.ErrOrStderr(), opts.Log.Format)
		if opts.Log.Level != "" {
			return logging.SetLevel(opts.Log.Level)
		}
		logging.SetVerbosity(verbosity)
		return nil
	}

	cmd.AddCommand(
		newDaemonCmd(),
		newServeCmd(),
		newDevicesCmd(),
		newLimitCmd(),
		newModeCmd(),
		newCooldownCmd(),
		newEnforceCmd(),
		newHistoryCmd(),
		newConfigCmd(),
		newShellCmd(),
	)

	return cmd
}

// bindFlags binds each named flag of fs to its configuration key.
func bindFlags(fs *pflag.FlagSet, keys map[string]string) {
	for name, key := range keys {
		if f := fs.Lookup(name); f != nil {
			_ = v.BindPFlag(key, f)
		}
	}
}
