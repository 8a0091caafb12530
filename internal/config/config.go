package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/SaemsCodes/offline-radio/internal/mesh"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Config is the complete node configuration.
type Config struct {
	HTTP    HTTPConfig    `yaml:"http"`
	Audio   AudioConfig   `yaml:"audio"`
	Mesh    MeshConfig    `yaml:"mesh"`
	Logging LoggingConfig `yaml:"logging"`
}

// HTTPConfig configures the local API server.
type HTTPConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// AudioConfig selects the pipeline quality preset and codec.
type AudioConfig struct {
	Quality string `yaml:"quality"` // low, medium, high, ultra
	Codec   string `yaml:"codec"`   // opus, pcm16
}

// MeshConfig configures the UDP block transport and the static neighbor table.
type MeshConfig struct {
	BindAddress string                   `yaml:"bind_address"`
	Port        int                      `yaml:"port"`
	RouteTTL    int                      `yaml:"route_ttl_seconds"`
	Neighbors   map[string]mesh.Neighbor `yaml:"neighbors"`
}

// LoggingConfig configures the zerolog level.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Address: "127.0.0.1",
			Port:    8090,
		},
		Audio: AudioConfig{
			Quality: "medium",
			Codec:   "opus",
		},
		Mesh: MeshConfig{
			BindAddress: "0.0.0.0",
			Port:        7355,
			RouteTTL:    60,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads and validates the configuration file. A missing file yields the
// defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for values no component can run with.
func (c *Config) Validate() error {
	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http port %d out of range", c.HTTP.Port)
	}
	if c.Mesh.Port < 1 || c.Mesh.Port > 65535 {
		return fmt.Errorf("mesh port %d out of range", c.Mesh.Port)
	}
	if c.Mesh.RouteTTL < 0 {
		return fmt.Errorf("route ttl %d must not be negative", c.Mesh.RouteTTL)
	}

	switch strings.ToLower(c.Audio.Quality) {
	case "low", "medium", "high", "ultra":
	default:
		return fmt.Errorf("unknown audio quality %q", c.Audio.Quality)
	}

	switch strings.ToLower(c.Audio.Codec) {
	case "opus", "pcm16":
	default:
		return fmt.Errorf("unknown audio codec %q", c.Audio.Codec)
	}
	return nil
}

// NodeID returns the stable node identity, creating and persisting a new uuid
// on first use. The id survives restarts so mesh peers can address this node
// consistently.
func NodeID(dir string) (string, error) {
	path := filepath.Join(dir, "node-id")

	data, err := os.ReadFile(path)
	if err == nil {
		id := strings.TrimSpace(string(data))
		if _, parseErr := uuid.Parse(id); parseErr == nil {
			return id, nil
		}
		// Corrupt id file: regenerate rather than fail startup.
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("read node id: %w", err)
	}

	id := uuid.New().String()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("persist node id: %w", err)
	}
	return id, nil
}
