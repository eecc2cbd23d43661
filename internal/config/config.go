// Package config loads paceline settings from defaults, an optional config
// file, PACELINE_* environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/sheerbytes/paceline/internal/chunkio"
	"github.com/sheerbytes/paceline/internal/pacing"
	"github.com/sheerbytes/paceline/internal/transfer"
)

// EnvPrefix prefixes every environment variable, e.g. PACELINE_LOG_LEVEL.
const EnvPrefix = "PACELINE"

const (
	DefaultPort        = 8080
	DefaultWorkers     = 5
	DefaultDefaultFile = "file_to_send.txt"
	DefaultLinger      = 5 * time.Second
	DefaultShutdown    = 30 * time.Second
	DefaultParallel    = 4
)

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=debug info warn warning error DEBUG INFO WARN WARNING ERROR"`
	Format string `mapstructure:"format" validate:"required,oneof=text json"`
}

// TransferConfig holds engine settings shared by client and server.
type TransferConfig struct {
	// BaseRate is bytes per second, split between active transfers.
	BaseRate   int           `mapstructure:"base_rate" validate:"gte=1"`
	MaxRetries int           `mapstructure:"max_retries" validate:"gte=1,lte=100"`
	RetryDelay time.Duration `mapstructure:"retry_delay" validate:"gte=0"`
	Pacing     string        `mapstructure:"pacing" validate:"oneof=whole-second token-bucket none"`
	ChunkMode  string        `mapstructure:"chunk_mode" validate:"oneof=full strict"`
}

// ServerConfig holds configuration for paceserv and the node's server half.
type ServerConfig struct {
	Addr      string `mapstructure:"addr" validate:"required"`
	Transport string `mapstructure:"transport" validate:"required,oneof=tcp quic ws"`
	// Root confines every stored and retrieved file.
	Root    string `mapstructure:"root" validate:"required"`
	Workers int    `mapstructure:"workers" validate:"gte=1,lte=1024"`
	// HTTPAddr serves /healthz, /metrics and /sessions. Empty disables it.
	HTTPAddr        string        `mapstructure:"http_addr"`
	DefaultFile     string        `mapstructure:"default_file" validate:"required"`
	Linger          time.Duration `mapstructure:"linger" validate:"gte=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
	// MaxSessions caps live sessions; 0 means unlimited.
	MaxSessions int `mapstructure:"max_sessions" validate:"gte=0"`
	// ConnectRate limits new connections per second from one IP; 0 disables
	// the limit.
	ConnectRate  float64 `mapstructure:"connect_rate" validate:"gte=0"`
	ConnectBurst int     `mapstructure:"connect_burst" validate:"gte=0"`

	Log      LogConfig      `mapstructure:"log"`
	Transfer TransferConfig `mapstructure:"transfer"`
}

// ClientConfig holds configuration for pace put and get.
type ClientConfig struct {
	Transport string        `mapstructure:"transport" validate:"required,oneof=tcp quic ws"`
	Parallel  int           `mapstructure:"parallel" validate:"gte=1,lte=64"`
	Progress  bool          `mapstructure:"progress"`
	Linger    time.Duration `mapstructure:"linger" validate:"gte=0"`

	Log      LogConfig      `mapstructure:"log"`
	Transfer TransferConfig `mapstructure:"transfer"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// New returns a viper instance wired for PACELINE_* environment variables.
// configPath names an optional YAML/TOML/JSON file; a missing file is not an
// error.
func New(configPath string) (*viper.Viper, error) {
	v := viper.New()
	setupViper(v, configPath)
	if configPath != "" {
		if _, err := readConfigFile(v); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// setupViper configures environment variable lookup.
// Example: PACELINE_TRANSFER_BASE_RATE=40
func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

func setCommonDefaults(v *viper.Viper) {
	v.SetDefault("transport", "tcp")
	v.SetDefault("linger", DefaultLinger)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("transfer.base_rate", transfer.DefaultBaseRate)
	v.SetDefault("transfer.max_retries", transfer.DefaultMaxRetries)
	v.SetDefault("transfer.retry_delay", transfer.DefaultRetryDelay)
	v.SetDefault("transfer.pacing", pacing.NameWholeSecond)
	v.SetDefault("transfer.chunk_mode", chunkio.ModeFull.String())
}

// SetServerDefaults registers every server key so environment variables can
// override it.
func SetServerDefaults(v *viper.Viper) {
	setCommonDefaults(v)
	v.SetDefault("addr", fmt.Sprintf(":%d", DefaultPort))
	v.SetDefault("root", ".")
	v.SetDefault("workers", DefaultWorkers)
	v.SetDefault("http_addr", "")
	v.SetDefault("default_file", DefaultDefaultFile)
	v.SetDefault("shutdown_timeout", DefaultShutdown)
	v.SetDefault("max_sessions", 0)
	v.SetDefault("connect_rate", 0)
	v.SetDefault("connect_burst", 0)
}

// SetClientDefaults registers every client key.
func SetClientDefaults(v *viper.Viper) {
	setCommonDefaults(v)
	v.SetDefault("parallel", DefaultParallel)
	v.SetDefault("progress", true)
}

// LoadServer unmarshals and validates the server configuration.
func LoadServer(v *viper.Viper) (*ServerConfig, error) {
	var cfg ServerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// LoadClient unmarshals and validates the client configuration.
func LoadClient(v *viper.Viper) (*ClientConfig, error) {
	var cfg ClientConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate checks field constraints.
func (c *ServerConfig) Validate() error {
	return validate.Struct(c)
}

// Validate checks field constraints.
func (c *ClientConfig) Validate() error {
	return validate.Struct(c)
}

// EngineConfig converts the settings into a transfer.Config.
func (t TransferConfig) EngineConfig() (transfer.Config, error) {
	factory, err := pacing.ParseFactory(t.Pacing, t.BaseRate)
	if err != nil {
		return transfer.Config{}, err
	}
	mode, ok := chunkio.ParseMode(t.ChunkMode)
	if !ok {
		return transfer.Config{}, fmt.Errorf("unknown chunk mode %q", t.ChunkMode)
	}
	return transfer.NormalizeConfig(transfer.Config{
		BaseRate:   t.BaseRate,
		MaxRetries: t.MaxRetries,
		RetryDelay: t.RetryDelay,
		ChunkMode:  mode,
		Pacing:     factory,
	}), nil
}

// BindFlags binds config keys to command-line flags. A flag only overrides
// the environment and config file when it is set explicitly.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet, keys map[string]string) error {
	for key, flag := range keys {
		f := fs.Lookup(flag)
		if f == nil {
			return fmt.Errorf("unknown flag %q for key %q", flag, key)
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %q: %w", flag, err)
		}
	}
	return nil
}

// AddrFromPort turns a port argument into a listen address on all
// interfaces.
func AddrFromPort(port string) (string, error) {
	n, err := strconv.Atoi(port)
	if err != nil || n < 1 || n > 65535 {
		return "", fmt.Errorf("invalid port %q", port)
	}
	return fmt.Sprintf(":%d", n), nil
}
