package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	AppEnv   string
	LogLevel slog.Level

	ControllerIndex  int
	ExporterHost     string
	ExporterPort     int
	BluetoothctlPath string
	BtmonPath        string
	LineBuffer       int

	// InputFile replays saved btmon output instead of driving BlueZ.
	// "-" reads standard input.
	InputFile string

	BeaconsFile string
	// Beacons maps upper-case beacon addresses to their alias.
	Beacons map[string]string

	MQTTEnabled     bool
	MQTTBroker      string
	MQTTPort        int
	MQTTClientID    string
	MQTTTopicPrefix string
}

// ExporterAddr is the listen address of the metrics endpoint.
func (c Config) ExporterAddr() string {
	return net.JoinHostPort(c.ExporterHost, strconv.Itoa(c.ExporterPort))
}

// Replay reports whether events come from InputFile rather than btmon.
func (c Config) Replay() bool {
	return c.InputFile != ""
}

// Load reads the environment, applies command line overrides from args,
// loads the beacon file and validates the result.
func Load(args []string, usage io.Writer) (Config, error) {
	cfg, err := LoadFromEnv()
	if err != nil {
		return Config{}, err
	}
	if err := cfg.applyFlags(args, usage); err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	if cfg.BeaconsFile != "" {
		beacons, err := LoadBeacons(cfg.BeaconsFile)
		if err != nil {
			return Config{}, err
		}
		cfg.Beacons = beacons
	}
	return cfg, nil
}

// LoadFromEnv reads every setting from the environment. EXPORTER_PORT may be
// left unset here and supplied on the command line instead.
func LoadFromEnv() (Config, error) {
	appEnv := strings.TrimSpace(os.Getenv("APP_ENV"))
	if appEnv == "" {
		appEnv = "dev"
	}
	switch appEnv {
	case "dev", "prod":
	default:
		return Config{}, fmt.Errorf("invalid APP_ENV %q (allowed: dev, prod)", appEnv)
	}

	logLevelStr := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if logLevelStr == "" {
		logLevelStr = "info"
	}
	level, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}

	controllerIndex, err := envInt("BT_CONTROLLER_INDEX", 0)
	if err != nil {
		return Config{}, err
	}
	exporterPort, err := envInt("EXPORTER_PORT", 0)
	if err != nil {
		return Config{}, err
	}
	lineBuffer, err := envInt("LINE_BUFFER", 1024)
	if err != nil {
		return Config{}, err
	}

	mqttEnabled := false
	if s := strings.TrimSpace(os.Getenv("MQTT_ENABLED")); s != "" {
		mqttEnabled, err = strconv.ParseBool(s)
		if err != nil {
			return Config{}, fmt.Errorf("invalid MQTT_ENABLED %q: %w", s, err)
		}
	}

	mqttPort, err := envInt("MQTT_PORT", 1883)
	if err != nil {
		return Config{}, err
	}

	return Config{
		AppEnv:   appEnv,
		LogLevel: level,

		ControllerIndex:  controllerIndex,
		ExporterHost:     strings.TrimSpace(os.Getenv("EXPORTER_HOST")),
		ExporterPort:     exporterPort,
		BluetoothctlPath: envString("BLUETOOTHCTL_PATH", "bluetoothctl"),
		BtmonPath:        envString("BTMON_PATH", "btmon"),
		LineBuffer:       lineBuffer,
		InputFile:        strings.TrimSpace(os.Getenv("INPUT_FILE")),
		BeaconsFile:      strings.TrimSpace(os.Getenv("BEACONS_FILE")),

		MQTTEnabled:     mqttEnabled,
		MQTTBroker:      envString("MQTT_BROKER", "localhost"),
		MQTTPort:        mqttPort,
		MQTTClientID:    envString("MQTT_CLIENT_ID", "ls-ruuvi"),
		MQTTTopicPrefix: envString("MQTT_TOPIC_PREFIX", "ruuvi"),
	}, nil
}

func (c *Config) applyFlags(args []string, usage io.Writer) error {
	fs := flag.NewFlagSet("ls-ruuvi", flag.ContinueOnError)
	if usage != nil {
		fs.SetOutput(usage)
	}

	const (
		indexUsage = "BT controller index (env BT_CONTROLLER_INDEX)"
		portUsage  = "Prometheus exporter port (env EXPORTER_PORT)"
		inputUsage = "replay btmon output from file, - for stdin (env INPUT_FILE)"
	)
	fs.IntVar(&c.ControllerIndex, "i", c.ControllerIndex, indexUsage)
	fs.IntVar(&c.ControllerIndex, "index-controller", c.ControllerIndex, indexUsage)
	fs.IntVar(&c.ExporterPort, "p", c.ExporterPort, portUsage)
	fs.IntVar(&c.ExporterPort, "exporter-port", c.ExporterPort, portUsage)
	fs.StringVar(&c.InputFile, "f", c.InputFile, inputUsage)
	fs.StringVar(&c.InputFile, "input-file", c.InputFile, inputUsage)
	fs.StringVar(&c.BeaconsFile, "beacons", c.BeaconsFile, "YAML file with beacon aliases (env BEACONS_FILE)")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	return nil
}

func (c Config) validate() error {
	var errs []error
	if c.ExporterPort == 0 {
		errs = append(errs, errors.New("exporter port is required (-p or EXPORTER_PORT)"))
	} else if c.ExporterPort < 1 || c.ExporterPort > 65535 {
		errs = append(errs, fmt.Errorf("exporter port %d out of range", c.ExporterPort))
	}
	if c.ControllerIndex < 0 {
		errs = append(errs, fmt.Errorf("controller index must not be negative, got %d", c.ControllerIndex))
	}
	if c.LineBuffer <= 0 {
		errs = append(errs, fmt.Errorf("LINE_BUFFER must be positive, got %d", c.LineBuffer))
	}
	if c.MQTTEnabled {
		if c.MQTTPort < 1 || c.MQTTPort > 65535 {
			errs = append(errs, fmt.Errorf("MQTT_PORT %d out of range", c.MQTTPort))
		}
		if strings.ContainsAny(c.MQTTTopicPrefix, "+#") {
			errs = append(errs, fmt.Errorf("MQTT_TOPIC_PREFIX %q must not contain wildcards", c.MQTTTopicPrefix))
		}
	}
	return errors.Join(errs...)
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return v, nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}
