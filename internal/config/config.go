package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by the config
const EnvPrefix = "RAGSTORE"

// ElasticsearchConfig holds connection and index settings for the
// Elasticsearch backend.
type ElasticsearchConfig struct {
	URL            string         `mapstructure:"url"`
	Username       string         `mapstructure:"username"`
	Password       string         `mapstructure:"password"`
	APIKey         string         `mapstructure:"api_key"`
	Index          string         `mapstructure:"index"`
	Refresh        string         `mapstructure:"refresh"`
	ExtraMappings  map[string]any `mapstructure:"extra_mappings"`
	MetadataFields []string       `mapstructure:"metadata_fields"`
}

// StoreConfig selects the vector store backend
type StoreConfig struct {
	Backend       string              `mapstructure:"backend"`
	DataDir       string              `mapstructure:"data_dir"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
}

// LogConfig configures logging
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Config is the root application configuration structure
type Config struct {
	EmbeddingDim int         `mapstructure:"embedding_dim"`
	TopK         int         `mapstructure:"top_k"`
	Store        StoreConfig `mapstructure:"store"`
	Log          LogConfig   `mapstructure:"log"`
}

// SetDefaults registers default values on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("embedding_dim", 768)
	v.SetDefault("top_k", 3)
	v.SetDefault("store.backend", "memory")
	v.SetDefault("store.data_dir", defaultDataDir())
	v.SetDefault("store.elasticsearch.url", "http://localhost:9200")
	v.SetDefault("store.elasticsearch.index", "documents")
	v.SetDefault("store.elasticsearch.refresh", "wait_for")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Init prepares v to read cfgFile, or $HOME/.ragstore.yaml when cfgFile is
// empty, and RAGSTORE_* environment variables. A .env file in the working
// directory is loaded into the environment first, if present.
func Init(v *viper.Viper, cfgFile string) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
		v.SetConfigType("yaml")
		v.SetConfigName(".ragstore")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}
	return nil
}

// Load decodes v into a validated Config
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for values the application cannot use
func (c *Config) Validate() error {
	if c.EmbeddingDim <= 0 {
		return fmt.Errorf("embedding_dim must be positive, got %d", c.EmbeddingDim)
	}
	if c.TopK <= 0 {
		return fmt.Errorf("top_k must be positive, got %d", c.TopK)
	}
	switch c.Store.Backend {
	case "memory":
		if c.Store.DataDir == "" {
			return errors.New("store.data_dir is required for the memory backend")
		}
	case "elasticsearch":
		if c.Store.Elasticsearch.URL == "" {
			return errors.New("store.elasticsearch.url is required")
		}
		if c.Store.Elasticsearch.Index == "" {
			return errors.New("store.elasticsearch.index is required")
		}
		switch c.Store.Elasticsearch.Refresh {
		case "", "true", "false", "wait_for":
		default:
			return fmt.Errorf("store.elasticsearch.refresh must be true, false or wait_for, got %q", c.Store.Elasticsearch.Refresh)
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	return nil
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".ragstore"
	}
	return filepath.Join(home, ".ragstore", "vectors")
}
