package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/moonly/moonly/pkg/media"
	"github.com/moonly/moonly/pkg/signaling"
	"github.com/moonly/moonly/pkg/telemetry"
	"github.com/moonly/moonly/pkg/webrtc_ext"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Call client configuration.
type Config struct {
	// Peer connection configuration (ICE servers).
	WebRTC webrtc_ext.Config `yaml:"webrtc"`
	// Files that play the role of the capture devices.
	Devices media.FileDevicesConfig `yaml:"devices"`
	// How the call is signaled to the remote party.
	Signaling signaling.Config `yaml:"signaling"`
	// Tracing configuration, disabled if no exporter is set.
	Telemetry telemetry.Config `yaml:"telemetry"`
	// Starting from which level to log stuff.
	LogLevel string `yaml:"log"`
}

// Tries to load a config from the `CONFIG` environment variable.
// If the environment variable is not set, tries to load a config from the
// provided path to the config file (YAML). Returns an error if the config could
// not be loaded.
func LoadConfig(path string) (*Config, error) {
	config, err := LoadConfigFromEnv()
	if err != nil {
		if !errors.Is(err, ErrNoConfigEnvVar) {
			return nil, err
		}

		return LoadConfigFromPath(path)
	}

	return config, nil
}

// ErrNoConfigEnvVar is returned when the CONFIG environment variable is not set.
var ErrNoConfigEnvVar = errors.New("environment variable not set or invalid")

// Tries to load the config from environment variable (`CONFIG`).
func LoadConfigFromEnv() (*Config, error) {
	configEnv := os.Getenv("CONFIG")
	if configEnv == "" {
		return nil, ErrNoConfigEnvVar
	}

	return LoadConfigFromString(configEnv)
}

// Tries to load a config from the provided path.
func LoadConfigFromPath(path string) (*Config, error) {
	logrus.WithField("path", path).Info("loading config")

	file, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	return LoadConfigFromString(string(file))
}

// Load config from the provided string.
// Returns an error if the string is not a valid YAML or if the values are invalid.
func LoadConfigFromString(configString string) (*Config, error) {
	logrus.Info("loading config from string")

	var config Config
	if err := yaml.Unmarshal([]byte(configString), &config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML file: %w", err)
	}

	if err := config.Signaling.Validate(); err != nil {
		return nil, fmt.Errorf("invalid signaling config: %w", err)
	}

	for _, server := range config.WebRTC.ICEServers {
		if len(server.URLs) == 0 {
			return nil, errors.New("ICE server without URLs")
		}
	}

	if config.Devices.Microphone == "" && config.Devices.Camera == "" {
		return nil, errors.New("neither microphone nor camera is configured")
	}

	config.WebRTC = config.WebRTC.WithDefaults()

	return &config, nil
}

// Parses the configured log level, `info` if not set.
func (c Config) Level() (logrus.Level, error) {
	if c.LogLevel == "" {
		return logrus.InfoLevel, nil
	}

	return logrus.ParseLevel(c.LogLevel)
}
