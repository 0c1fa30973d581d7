package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/rpattn/customdata/internal/cache"
	"github.com/rpattn/customdata/internal/db"
	"github.com/rpattn/customdata/internal/shopify"
	"github.com/rpattn/customdata/internal/transformer"
)

// EnvPrefix prefixes every environment override, e.g. CUSTOMDATA_SHOP_DOMAIN.
const EnvPrefix = "CUSTOMDATA"

// Cache backends.
const (
	CacheNone     = "none"
	CacheMemory   = "memory"
	CacheFile     = "file"
	CacheRedis    = "redis"
	CachePostgres = "postgres"
)

type Config struct {
	Shop     ShopConfig     `mapstructure:"shop"`
	Catalog  CatalogConfig  `mapstructure:"catalog"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Database DatabaseConfig `mapstructure:"database"`
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
}

type ShopConfig struct {
	Domain      string `mapstructure:"domain"`
	AccessToken string `mapstructure:"access_token"`
	APIVersion  string `mapstructure:"api_version"`
	// SchemaPath points at a native admin schema SDL; empty uses the bundled one.
	SchemaPath string `mapstructure:"schema_path"`
}

// Endpoint is the admin GraphQL endpoint of the shop.
func (s ShopConfig) Endpoint() string {
	return shopify.AdminEndpoint(s.Domain, s.APIVersion)
}

type CatalogConfig struct {
	Namespace      string `mapstructure:"namespace"`
	OwnerInterface string `mapstructure:"owner_interface"`
	// File serves definitions from an exported csv or xlsx instead of the admin API.
	File        string `mapstructure:"file"`
	RootListing bool   `mapstructure:"root_listing"`
	BatchSize   int    `mapstructure:"batch_size"`
}

type CacheConfig struct {
	Backend string        `mapstructure:"backend"`
	TTL     time.Duration `mapstructure:"ttl"`
	Prefix  string        `mapstructure:"prefix"`
	Dir     string        `mapstructure:"dir"`
	Redis   RedisConfig   `mapstructure:"redis"`
}

// Store returns the shared store settings.
func (c CacheConfig) Store() cache.Config {
	return cache.Config{DefaultTTL: c.TTL, Prefix: c.Prefix}
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// DB converts the section into the connection settings of the db package.
func (d DatabaseConfig) DB() db.Config {
	return db.Config{
		Host:     d.Host,
		Port:     d.Port,
		User:     d.User,
		Password: d.Password,
		DBName:   d.DBName,
		SSLMode:  d.SSLMode,
	}
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// Playground serves the explorer UI at `/`.
	Playground bool `mapstructure:"playground"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

func setDefaults(v *viper.Viper) {
	dbDefaults := db.DefaultConfig()
	cacheDefaults := cache.DefaultConfig()

	v.SetDefault("shop.domain", "")
	v.SetDefault("shop.access_token", "")
	v.SetDefault("shop.api_version", shopify.DefaultAPIVersion)
	v.SetDefault("shop.schema_path", "")

	v.SetDefault("catalog.namespace", transformer.DefaultNamespace)
	v.SetDefault("catalog.owner_interface", "")
	v.SetDefault("catalog.file", "")
	v.SetDefault("catalog.root_listing", true)
	v.SetDefault("catalog.batch_size", 10)

	v.SetDefault("cache.backend", CacheMemory)
	v.SetDefault("cache.ttl", cacheDefaults.DefaultTTL)
	v.SetDefault("cache.prefix", cacheDefaults.Prefix)
	v.SetDefault("cache.dir", "tmp/cache")
	v.SetDefault("cache.redis.addr", "localhost:6379")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)

	v.SetDefault("database.host", dbDefaults.Host)
	v.SetDefault("database.port", dbDefaults.Port)
	v.SetDefault("database.user", dbDefaults.User)
	v.SetDefault("database.password", dbDefaults.Password)
	v.SetDefault("database.dbname", dbDefaults.DBName)
	v.SetDefault("database.sslmode", dbDefaults.SSLMode)

	v.SetDefault("server.addr", ":3000")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.playground", true)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
}

// Load reads config.yaml from configPath when present and applies
// CUSTOMDATA_* environment overrides on top of the defaults.
func Load(configPath string, logger zerolog.Logger) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		logger.Debug().Str("path", configPath).Msg("no config.yaml found, using defaults and env vars")
	} else {
		logger.Debug().Str("file", v.ConfigFileUsed()).Msg("loaded config file")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Cache.Backend {
	case CacheNone, CacheMemory, CacheFile, CacheRedis, CachePostgres:
	default:
		return fmt.Errorf("cache.backend must be one of none, memory, file, redis, postgres, got: %s", c.Cache.Backend)
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}

// RequireShop reports the settings missing to reach the admin API.
func (c Config) RequireShop() error {
	var errs []error
	if c.Shop.Domain == "" {
		errs = append(errs, fmt.Errorf("shop.domain is required (%s_SHOP_DOMAIN)", EnvPrefix))
	}
	if c.Shop.AccessToken == "" {
		errs = append(errs, fmt.Errorf("shop.access_token is required (%s_SHOP_ACCESS_TOKEN)", EnvPrefix))
	}
	return errors.Join(errs...)
}
