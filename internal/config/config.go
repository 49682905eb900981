// Package config loads and validates the Krate server configuration.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (KRATE_*)
//  2. Configuration file (YAML)
//  3. Default values
//
// The loaded Config struct is passed into each component at construction;
// nothing reads the environment after startup.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Activity ActivityConfig `mapstructure:"activity"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type ServerConfig struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string `mapstructure:"addr" validate:"required"`

	// PublicURL is the externally reachable base URL used to build share links.
	PublicURL string `mapstructure:"public_url" validate:"required,url"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0"`
}

type DatabaseConfig struct {
	// Driver selects the GORM dialect.
	// Valid values: sqlite, mysql
	Driver string `mapstructure:"driver" validate:"required,oneof=sqlite mysql"`

	// DSN is the driver-specific connection string. For sqlite this is a file
	// path or ":memory:".
	DSN string `mapstructure:"dsn" validate:"required"`
}

// StorageConfig selects the blob store backend. Only the section matching
// Type is used.
type StorageConfig struct {
	// Valid values: local, memory, s3
	Type string `mapstructure:"type" validate:"required,oneof=local memory s3"`

	Local LocalStorageConfig `mapstructure:"local"`
	S3    S3StorageConfig    `mapstructure:"s3"`
}

type LocalStorageConfig struct {
	// BaseDir is the directory blobs are written into.
	BaseDir string `mapstructure:"base_dir"`
}

type S3StorageConfig struct {
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	KeyPrefix string `mapstructure:"key_prefix"`

	// Endpoint overrides the AWS endpoint (MinIO, Localstack).
	Endpoint string `mapstructure:"endpoint"`

	// Static credentials. Empty means the default AWS credential chain.
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

type AuthConfig struct {
	// Mode selects the token verifier.
	// Valid values: oidc, static
	Mode string `mapstructure:"mode" validate:"required,oneof=oidc static"`

	// Issuer and ClientID configure the OIDC verifier (mode=oidc).
	Issuer   string `mapstructure:"issuer"`
	ClientID string `mapstructure:"client_id"`

	// StaticTokens maps token -> user id (mode=static, dev/test only).
	StaticTokens map[string]string `mapstructure:"static_tokens"`
}

type ActivityConfig struct {
	// RetentionDays is the age past which activity records are pruned.
	RetentionDays int `mapstructure:"retention_days" validate:"required,gt=0"`

	// PruneInterval is how often the serve loop runs retention pruning.
	// Zero disables the background job.
	PruneInterval time.Duration `mapstructure:"prune_interval"`
}

type LoggingConfig struct {
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`
}

// Load loads configuration from file, environment, and defaults.
// An empty configPath skips the file and uses env + defaults only.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetEnvPrefix("KRATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.public_url", "http://localhost:8080")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "krate.db")
	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.local.base_dir", "uploads")
	v.SetDefault("auth.mode", "oidc")
	v.SetDefault("auth.issuer", "http://localhost:8080")
	v.SetDefault("auth.client_id", "krate-webapp")
	v.SetDefault("activity.retention_days", 90)
	v.SetDefault("activity.prune_interval", 12*time.Hour)
	v.SetDefault("logging.level", "INFO")
}
