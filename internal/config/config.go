// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/tubemeta/tubemeta/internal/tube"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Invidious InvidiousConfig `mapstructure:"invidious"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Storage   StorageConfig   `mapstructure:"storage"`
	DB        DBConfig        `mapstructure:"db"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls the HTTP API server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// FetchConfig governs which metadata is fetched and how it is selected.
// An empty Languages list disables caption fetching.
type FetchConfig struct {
	Fields        []string `mapstructure:"fields"`
	ThumbnailSize string   `mapstructure:"thumbnail_size"`
	Languages     []string `mapstructure:"languages"`
	Persist       bool     `mapstructure:"persist"`
}

// InvidiousConfig controls mirror discovery and retry behavior.
type InvidiousConfig struct {
	URL         string `mapstructure:"url"`
	MaxAttempts int    `mapstructure:"max_attempts"`
}

// HTTPConfig configures the HTTP fetch primitive.
type HTTPConfig struct {
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	UserAgent      string `mapstructure:"user_agent"`
}

// StorageConfig selects and parameterizes the blob store.
type StorageConfig struct {
	Provider    string `mapstructure:"provider"`
	BaseDir     string `mapstructure:"base_dir"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// DBConfig controls the durable record store.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// NotifyConfig selects the publisher used for record-updated events.
type NotifyConfig struct {
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TUBEMETA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("fetch.fields", []string{
		string(tube.FieldThumbnails),
		string(tube.FieldDescription),
		string(tube.FieldLength),
	})
	v.SetDefault("fetch.thumbnail_size", string(tube.ThumbnailSmall))
	v.SetDefault("fetch.languages", []string{"english"})
	v.SetDefault("fetch.persist", false)
	v.SetDefault("invidious.max_attempts", 3)
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.user_agent", "tubemeta/0.1")
	v.SetDefault("storage.provider", "local")
	v.SetDefault("storage.base_dir", "blobs")
	v.SetDefault("storage.prefix", "videos")
	v.SetDefault("storage.content_type", "application/json")
	v.SetDefault("db.table", "video_records")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("notify.provider", "memory")
	v.SetDefault("notify.topic", "tubemeta.records")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Invidious.MaxAttempts <= 0 {
		return fmt.Errorf("invidious.max_attempts must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	switch c.Storage.Provider {
	case "local", "gcs", "noop":
	default:
		return fmt.Errorf("unknown storage provider: %s", c.Storage.Provider)
	}
	if c.Storage.Provider == "gcs" && c.Storage.GCSBucket == "" {
		return fmt.Errorf("storage.gcs_bucket must be set when storage.provider is gcs")
	}
	switch c.Notify.Provider {
	case "memory", "pubsub":
	default:
		return fmt.Errorf("unknown notify provider: %s", c.Notify.Provider)
	}
	if c.Notify.Provider == "pubsub" && (c.Notify.ProjectID == "" || c.Notify.Topic == "") {
		return fmt.Errorf("notify.project_id and notify.topic must be set when notify.provider is pubsub")
	}
	if c.Fetch.Persist && c.DB.DSN == "" {
		return fmt.Errorf("db.dsn must be set when fetch.persist is enabled")
	}
	return nil
}

// Fields converts the configured field names to their typed form.
func (c Config) Fields() []tube.Field {
	out := make([]tube.Field, 0, len(c.Fetch.Fields))
	for _, f := range c.Fetch.Fields {
		out = append(out, tube.Field(f))
	}
	return out
}

// RequestTimeout converts the HTTP timeout config into a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}
