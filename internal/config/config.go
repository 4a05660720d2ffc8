// Package config loads the server configuration.
//
// Values are layered, later sources winning: built-in defaults, then the
// YAML file named by --config or TODO_MCP_CONFIG, then environment
// variables, then command-line flags that were explicitly set.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joeshaw/envdecode"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/ggoodman/mcp-todo/todo/redisstore"
)

// Store backends.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
	StoreFile   = "file"
)

// Log formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// EnvConfigPath names the environment variable holding the config file path.
const EnvConfigPath = "TODO_MCP_CONFIG"

// Config is the complete server configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Log    LogConfig    `yaml:"log"`
	Store  StoreConfig  `yaml:"store"`

	// DefaultUser owns todos and is reported as the peer identity when a
	// request does not name a user. ENV: TODO_DEFAULT_USER
	DefaultUser string `yaml:"default_user" env:"TODO_DEFAULT_USER"`
}

// ServerConfig is what the server reports about itself during initialize.
type ServerConfig struct {
	// ENV: TODO_MCP_NAME
	Name string `yaml:"name" env:"TODO_MCP_NAME"`
	// ENV: TODO_MCP_VERSION
	Version      string `yaml:"version" env:"TODO_MCP_VERSION"`
	Instructions string `yaml:"instructions"`
}

// LogConfig configures the stderr logger.
type LogConfig struct {
	// Level is one of debug, info, warn or error. ENV: TODO_MCP_LOG_LEVEL
	Level string `yaml:"level" env:"TODO_MCP_LOG_LEVEL"`
	// Format is text or json. ENV: TODO_MCP_LOG_FORMAT
	Format string `yaml:"format" env:"TODO_MCP_LOG_FORMAT"`
}

// StoreConfig selects and configures the todo store.
type StoreConfig struct {
	// Backend is memory, redis or file. ENV: TODO_STORE
	Backend string `yaml:"backend" env:"TODO_STORE"`
	// File is the JSON document used by the file backend. ENV: TODO_STORE_FILE
	File  string      `yaml:"file" env:"TODO_STORE_FILE"`
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig configures the redis backend. It carries no env defaults of
// its own so that file values survive unset variables.
type RedisConfig struct {
	// ENV: REDIS_ADDR
	Addr string `yaml:"addr" env:"REDIS_ADDR"`
	// ENV: REDIS_DB
	DB int `yaml:"db" env:"REDIS_DB,strict"`
	// ENV: TODO_REDIS_PREFIX
	KeyPrefix string `yaml:"key_prefix" env:"TODO_REDIS_PREFIX"`
}

// StoreConfig converts to the redis store's own configuration.
func (r RedisConfig) StoreConfig() redisstore.Config {
	return redisstore.Config{RedisAddr: r.Addr, DB: r.DB, KeyPrefix: r.KeyPrefix}
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Name: "todo-mcp-server", Version: "1.0.0"},
		Log:    LogConfig{Level: "info", Format: FormatText},
		Store: StoreConfig{
			Backend: StoreMemory,
			Redis: RedisConfig{
				Addr:      redisstore.DefaultAddr,
				KeyPrefix: redisstore.DefaultKeyPrefix,
			},
		},
		DefaultUser: "user1",
	}
}

// Load builds a configuration from defaults, the YAML file at path (or the
// one named by TODO_MCP_CONFIG when path is empty) and the environment. A
// named file that cannot be read is an error; no file at all is not.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("config: environment: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// Flag names registered by RegisterFlags.
const (
	FlagConfig      = "config"
	FlagName        = "name"
	FlagVersion     = "server-version"
	FlagLogLevel    = "log-level"
	FlagLogFormat   = "log-format"
	FlagStore       = "store"
	FlagStoreFile   = "store-file"
	FlagRedisAddr   = "redis-addr"
	FlagRedisDB     = "redis-db"
	FlagRedisPrefix = "redis-prefix"
	FlagDefaultUser = "default-user"
)

// RegisterFlags defines the configuration flags on fs. Defaults shown in
// help text are the built-in ones; only flags the user sets take effect.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.StringP(FlagConfig, "c", "", "path to a YAML config file (env "+EnvConfigPath+")")
	fs.String(FlagName, d.Server.Name, "server name reported during initialize")
	fs.String(FlagVersion, d.Server.Version, "server version reported during initialize")
	fs.String(FlagLogLevel, d.Log.Level, "log level: debug, info, warn or error")
	fs.String(FlagLogFormat, d.Log.Format, "log format: text or json")
	fs.String(FlagStore, d.Store.Backend, "todo store: memory, redis or file")
	fs.String(FlagStoreFile, "", "JSON file used by the file store")
	fs.String(FlagRedisAddr, d.Store.Redis.Addr, "redis address used by the redis store")
	fs.Int(FlagRedisDB, 0, "redis database used by the redis store")
	fs.String(FlagRedisPrefix, d.Store.Redis.KeyPrefix, "key prefix used by the redis store")
	fs.String(FlagDefaultUser, d.DefaultUser, "user that owns todos when a request names none")
}

// ApplyFlags overrides c with every flag that was set on fs.
func (c *Config) ApplyFlags(fs *pflag.FlagSet) error {
	strs := map[string]*string{
		FlagName:        &c.Server.Name,
		FlagVersion:     &c.Server.Version,
		FlagLogLevel:    &c.Log.Level,
		FlagLogFormat:   &c.Log.Format,
		FlagStore:       &c.Store.Backend,
		FlagStoreFile:   &c.Store.File,
		FlagRedisAddr:   &c.Store.Redis.Addr,
		FlagRedisPrefix: &c.Store.Redis.KeyPrefix,
		FlagDefaultUser: &c.DefaultUser,
	}
	for name, dst := range strs {
		if !fs.Changed(name) {
			continue
		}
		v, err := fs.GetString(name)
		if err != nil {
			return err
		}
		*dst = v
	}
	if fs.Changed(FlagRedisDB) {
		v, err := fs.GetInt(FlagRedisDB)
		if err != nil {
			return err
		}
		c.Store.Redis.DB = v
	}
	return nil
}

// LoadWithFlags is Load followed by ApplyFlags, taking the config path from
// the --config flag.
func LoadWithFlags(fs *pflag.FlagSet) (*Config, error) {
	path, _ := fs.GetString(FlagConfig)
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyFlags(fs); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// Validate checks enumerated values and makes the store file path absolute.
func (c *Config) Validate() error {
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	switch c.Log.Format {
	case FormatText, FormatJSON:
	default:
		return fmt.Errorf("config: unknown log format %q", c.Log.Format)
	}
	if c.DefaultUser == "" {
		return errors.New("config: default user must not be empty")
	}
	switch c.Store.Backend {
	case StoreMemory, StoreRedis:
	case StoreFile:
		if c.Store.File == "" {
			return errors.New("config: the file store requires a file path")
		}
		abs, err := filepath.Abs(c.Store.File)
		if err != nil {
			return fmt.Errorf("config: store file: %w", err)
		}
		c.Store.File = abs
	default:
		return fmt.Errorf("config: unknown store backend %q", c.Store.Backend)
	}
	return nil
}

// SlogLevel parses Log.Level.
func (c *Config) SlogLevel() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("config: log level: %w", err)
	}
	return l, nil
}
