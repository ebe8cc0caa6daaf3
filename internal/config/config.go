// Package config handles configuration loading and persistence for the
// Emberline server. The configuration is loaded once in main, before any
// connection exists, and handed to the engine as an immutable value.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

const (
	DefaultConfigDir  = "config"
	DefaultConfigFile = "config.json"
	DefaultGamePort   = 25565
	DefaultAPIPort    = 5000
)

// Config is the root configuration structure for Emberline.
type Config struct {
	Network     NetworkConfig   `json:"network"`
	Game        GameConfig      `json:"game"`
	Security    SecurityConfig  `json:"security"`
	API         APIConfig       `json:"api"`
	MQTT        MQTTConfig      `json:"mqtt"`
	Database    DatabaseConfig  `json:"database"`
	Logging     LoggingConfig   `json:"logging"`
}

// NetworkConfig contains the listener and protocol settings.
type NetworkConfig struct {
	BindAddress string `json:"bind_address"`
	Port        int    `json:"port"`

	// CompressionThreshold is the minimum uncompressed packet body size
	// that triggers compression. Negative disables compression entirely.
	CompressionThreshold int `json:"compression_threshold"`

	// MaxFrameSize bounds the declared length of any single frame.
	MaxFrameSize int `json:"max_frame_size"`

	// HandshakeTimeoutSec bounds the whole Handshaking -> Play sequence.
	HandshakeTimeoutSec int `json:"handshake_timeout_sec"`
}

// GameConfig contains the player-facing settings.
type GameConfig struct {
	MOTD        string `json:"motd"`
	MaxPlayers  int    `json:"max_players"`
	FaviconPath string `json:"favicon_path"`
}

// SecurityConfig contains login and key material settings.
type SecurityConfig struct {
	// OnlineMode selects whether third-party identity verification is
	// required during login.
	OnlineMode bool `json:"online_mode"`

	// SessionServerURL overrides the Mojang hasJoined endpoint. Empty
	// means the default.
	SessionServerURL string `json:"session_server_url"`

	// AuthTimeoutSec bounds the external session verification call.
	AuthTimeoutSec int `json:"auth_timeout_sec"`

	// PrivateKeyFile is the PEM file holding the server's RSA keypair;
	// generated on first run when missing.
	PrivateKeyFile string `json:"private_key_file"`
}

// APIConfig contains the admin REST API settings.
type APIConfig struct {
	Enabled        bool     `json:"enabled"`
	Port           int      `json:"port"`
	AllowedOrigins []string `json:"allowed_origins"`
	RateLimitRPS   int      `json:"rate_limit_rps"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled   bool   `json:"enabled"`
	BrokerURL string `json:"broker_url"`
	Port      int    `json:"port"`
	UseTLS    bool   `json:"use_tls"`
	ClientID  string `json:"client_id"`
}

// DatabaseConfig holds the SQLite store settings.
type DatabaseConfig struct {
	Path string `json:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level     string `json:"level"`
	Directory string `json:"directory"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Network: NetworkConfig{
			BindAddress:          "0.0.0.0",
			Port:                 DefaultGamePort,
			CompressionThreshold: 256,
			MaxFrameSize:         2 * 1024 * 1024,
			HandshakeTimeoutSec:  30,
		},
		Game: GameConfig{
			MOTD:       "An Emberline Server",
			MaxPlayers: 50,
		},
		Security: SecurityConfig{
			OnlineMode:     true,
			AuthTimeoutSec: 15,
			PrivateKeyFile: "config/server_rsa.pem",
		},
		API: APIConfig{
			Enabled:      true,
			Port:         DefaultAPIPort,
			RateLimitRPS: 20,
		},
		MQTT: MQTTConfig{
			Enabled: false,
			Port:    8883,
			UseTLS:  true,
		},
		Database: DatabaseConfig{
			Path: "config/emberline.db",
		},
		Logging: LoggingConfig{
			Level:     "info",
			Directory: "logs",
		},
	}
}

// Load reads configuration from a JSON file, creating it with defaults on
// first run. Unknown fields added by newer versions survive a re-save.
func Load(configDir string) (*Config, error) {
	configPath := filepath.Join(configDir, DefaultConfigFile)

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", configPath).Msg("config file not found, creating default")
			cfg := DefaultConfig()
			if saveErr := Save(cfg, configPath); saveErr != nil {
				return nil, fmt.Errorf("failed to save default config: %w", saveErr)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig() // start with defaults, then overlay
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	log.Info().Str("path", configPath).Msg("configuration loaded")
	return cfg, nil
}

// Save writes a configuration to disk.
func Save(cfg *Config, configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", configPath).Msg("configuration saved")
	return nil
}

// Validate reports configuration values the engine cannot run with.
func Validate(cfg *Config) error {
	if cfg.Network.Port <= 0 || cfg.Network.Port > 65535 {
		return fmt.Errorf("network.port %d out of range", cfg.Network.Port)
	}
	if cfg.Network.MaxFrameSize <= 0 {
		return fmt.Errorf("network.max_frame_size must be positive")
	}
	if cfg.Game.MaxPlayers <= 0 {
		return fmt.Errorf("game.max_players must be positive")
	}
	if cfg.Security.OnlineMode && cfg.Security.PrivateKeyFile == "" {
		return fmt.Errorf("security.private_key_file is required in online mode")
	}
	return nil
}
