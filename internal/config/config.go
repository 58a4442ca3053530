// Package config provides Viper-based configuration loading for the lobby server.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig holds the client-facing TCP listener settings.
type ServerConfig struct {
	// Host is the bind address for the lobby listener.
	Host string `mapstructure:"host"`
	// Port is the preferred TCP port for the lobby listener.
	Port int `mapstructure:"port"`
	// FallbackPorts are tried in order when Port cannot be bound.
	FallbackPorts []int `mapstructure:"fallback_ports"`
	// ReadTimeout is the per-frame read timeout. Zero disables it.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout bounds every frame write so a stalled peer cannot stall broadcasts.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// SendQueueSize is the number of outbound frames buffered per connection.
	SendQueueSize int `mapstructure:"send_queue_size"`
	// MaxFrameBytes is the largest frame payload accepted from a client.
	MaxFrameBytes int `mapstructure:"max_frame_bytes"`
}

// Addr returns the "host:port" listen address for the preferred port.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Addrs returns the preferred address followed by every fallback address.
func (s ServerConfig) Addrs() []string {
	addrs := []string{s.Addr()}
	for _, p := range s.FallbackPorts {
		addrs = append(addrs, fmt.Sprintf("%s:%d", s.Host, p))
	}
	return addrs
}

// LobbyConfig holds lobby behaviour limits.
type LobbyConfig struct {
	// MaxChatMessages is the chat history capacity of every lobby.
	MaxChatMessages int `mapstructure:"max_chat_messages"`
	// DefaultMaxPlayers applies when the game settings carry no max_players.
	DefaultMaxPlayers int `mapstructure:"default_max_players"`
	// MaxHookFailures is the number of consecutive game hook failures that force a game to end.
	MaxHookFailures int `mapstructure:"max_hook_failures"`
}

// GamesConfig locates the game catalogue.
type GamesConfig struct {
	// CatalogDir holds one YAML file per game. Built-in defaults apply when it does not exist.
	CatalogDir string `mapstructure:"catalog_dir"`
}

// ScriptingConfig holds Lua game settings.
type ScriptingConfig struct {
	// ScriptDir is the directory relative script paths in the catalogue resolve against.
	ScriptDir string `mapstructure:"script_dir"`
	// InstructionLimit caps the Lua opcodes executed per hook call.
	InstructionLimit int `mapstructure:"instruction_limit"`
}

// AdminConfig holds the operator gRPC endpoint settings.
type AdminConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
}

// Addr returns the "host:port" admin address.
func (a AdminConfig) Addr() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Lobby     LobbyConfig     `mapstructure:"lobby"`
	Games     GamesConfig     `mapstructure:"games"`
	Scripting ScriptingConfig `mapstructure:"scripting"`
	Admin     AdminConfig     `mapstructure:"admin"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	if err := validateServer(c.Server); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateLobby(c.Lobby); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateScripting(c.Scripting); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateAdmin(c.Admin); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateLogging(c.Logging); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validPort(p int) bool {
	return p >= 0 && p <= 65535
}

func validateServer(s ServerConfig) error {
	var errs []string
	if !validPort(s.Port) {
		errs = append(errs, fmt.Sprintf("server.port must be 0-65535, got %d", s.Port))
	}
	for _, p := range s.FallbackPorts {
		if !validPort(p) {
			errs = append(errs, fmt.Sprintf("server.fallback_ports entries must be 0-65535, got %d", p))
		}
	}
	if s.ReadTimeout < 0 {
		errs = append(errs, "server.read_timeout must not be negative")
	}
	if s.WriteTimeout <= 0 {
		errs = append(errs, "server.write_timeout must be positive")
	}
	if s.SendQueueSize < 1 {
		errs = append(errs, fmt.Sprintf("server.send_queue_size must be >= 1, got %d", s.SendQueueSize))
	}
	if s.MaxFrameBytes < 1 {
		errs = append(errs, fmt.Sprintf("server.max_frame_bytes must be >= 1, got %d", s.MaxFrameBytes))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateLobby(l LobbyConfig) error {
	var errs []string
	if l.MaxChatMessages < 1 {
		errs = append(errs, fmt.Sprintf("lobby.max_chat_messages must be >= 1, got %d", l.MaxChatMessages))
	}
	if l.DefaultMaxPlayers < 1 {
		errs = append(errs, fmt.Sprintf("lobby.default_max_players must be >= 1, got %d", l.DefaultMaxPlayers))
	}
	if l.MaxHookFailures < 1 {
		errs = append(errs, fmt.Sprintf("lobby.max_hook_failures must be >= 1, got %d", l.MaxHookFailures))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateScripting(s ScriptingConfig) error {
	if s.InstructionLimit < 0 {
		return fmt.Errorf("scripting.instruction_limit must be >= 0, got %d", s.InstructionLimit)
	}
	return nil
}

func validateAdmin(a AdminConfig) error {
	if !a.Enabled {
		return nil
	}
	var errs []string
	if a.Host == "" {
		errs = append(errs, "admin.host must not be empty")
	}
	if !validPort(a.Port) {
		errs = append(errs, fmt.Sprintf("admin.port must be 0-65535, got %d", a.Port))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result. An empty path loads defaults and environment only.
//
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := viper.New()

	// Environment variable overrides with LOBBY_ prefix
	v.SetEnvPrefix("LOBBY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
	}

	return LoadFromViper(v)
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default returns the configuration produced by defaults alone.
func Default() Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 5555)
	v.SetDefault("server.fallback_ports", []int{})
	v.SetDefault("server.read_timeout", "0s")
	v.SetDefault("server.write_timeout", "5s")
	v.SetDefault("server.send_queue_size", 256)
	v.SetDefault("server.max_frame_bytes", 16<<20)

	v.SetDefault("lobby.max_chat_messages", 50)
	v.SetDefault("lobby.default_max_players", 10)
	v.SetDefault("lobby.max_hook_failures", 3)

	v.SetDefault("games.catalog_dir", "content/games")

	v.SetDefault("scripting.script_dir", "content/scripts")
	v.SetDefault("scripting.instruction_limit", 100_000)

	v.SetDefault("admin.enabled", true)
	v.SetDefault("admin.host", "127.0.0.1")
	v.SetDefault("admin.port", 5556)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
