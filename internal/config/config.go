package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/stafflinehq/staffline/internal/record"
)

const (
	envPrefix              = "STAFFLINE"
	defaultHTTPAddress     = "127.0.0.1:7700"
	defaultCachePath       = "staffline.db"
	defaultLogLevel        = "info"
	defaultDatabaseID      = "staffline"
	defaultSyncIntervalSec = 120
)

// AppConfig captures runtime configuration for the sync daemon. Missing
// required remote settings are a fatal initialization error, never a per-call
// error.
type AppConfig struct {
	HTTPAddress    string
	CachePath      string
	CacheRedisURL  string
	RemoteEndpoint string
	ProjectID      string
	DatabaseID     string
	CollectionIDs  map[record.Collection]string
	SessionToken   string
	SyncInterval   time.Duration
	LogLevel       string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper
// instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("cache.path", defaultCachePath)
	configViper.SetDefault("remote.database_id", defaultDatabaseID)
	configViper.SetDefault("sync.interval_seconds", defaultSyncIntervalSec)
	configViper.SetDefault("log.level", defaultLogLevel)
	for _, collection := range record.Collections() {
		configViper.SetDefault("remote.collections."+collection.String(), collection.String())
	}
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	collectionIDs := make(map[record.Collection]string, len(record.Collections()))
	for _, collection := range record.Collections() {
		collectionIDs[collection] = configViper.GetString("remote.collections." + collection.String())
	}

	cfg := AppConfig{
		HTTPAddress:    configViper.GetString("http.address"),
		CachePath:      configViper.GetString("cache.path"),
		CacheRedisURL:  configViper.GetString("cache.redis_url"),
		RemoteEndpoint: configViper.GetString("remote.endpoint"),
		ProjectID:      configViper.GetString("remote.project_id"),
		DatabaseID:     configViper.GetString("remote.database_id"),
		CollectionIDs:  collectionIDs,
		SessionToken:   configViper.GetString("session.token"),
		SyncInterval:   time.Duration(configViper.GetInt("sync.interval_seconds")) * time.Second,
		LogLevel:       configViper.GetString("log.level"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.RemoteEndpoint) == "" {
		return fmt.Errorf("remote.endpoint is required")
	}
	if strings.TrimSpace(c.ProjectID) == "" {
		return fmt.Errorf("remote.project_id is required")
	}
	if strings.TrimSpace(c.DatabaseID) == "" {
		return fmt.Errorf("remote.database_id is required")
	}
	if strings.TrimSpace(c.CachePath) == "" && strings.TrimSpace(c.CacheRedisURL) == "" {
		return fmt.Errorf("cache.path or cache.redis_url is required")
	}
	for _, collection := range record.Collections() {
		if strings.TrimSpace(c.CollectionIDs[collection]) == "" {
			return fmt.Errorf("remote.collections.%s is required", collection)
		}
	}
	if c.SyncInterval <= 0 {
		return fmt.Errorf("sync.interval_seconds must be positive")
	}
	return nil
}
