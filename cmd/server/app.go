package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/vektah/gqlparser/v2/ast"

	"github.com/rpattn/customdata/internal/cache"
	"github.com/rpattn/customdata/internal/catalog"
	"github.com/rpattn/customdata/internal/config"
	"github.com/rpattn/customdata/internal/customdata"
	"github.com/rpattn/customdata/internal/db"
	"github.com/rpattn/customdata/internal/ingestion"
	"github.com/rpattn/customdata/internal/shopify"
)

// app holds the configuration and everything built from it for one command.
type app struct {
	cfg     config.Config
	logger  zerolog.Logger
	closers []func()
}

func newApp(flags *rootFlags, stderr io.Writer) (*app, error) {
	bootstrap := newLogger(stderr, config.LogConfig{Level: "info"})
	cfg, err := config.Load(flags.configPath, bootstrap)
	if err != nil {
		return nil, err
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}
	if _, err := zerolog.ParseLevel(cfg.Log.Level); err != nil {
		return nil, fmt.Errorf("failed to parse log level: %w", err)
	}
	return &app{cfg: cfg, logger: newLogger(stderr, cfg.Log)}, nil
}

func newLogger(w io.Writer, cfg config.LogConfig) zerolog.Logger {
	if cfg.Pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func (a *app) baseSchema() (*ast.Schema, error) {
	return shopify.LoadSchema(a.cfg.Shop.SchemaPath)
}

func (a *app) shopClient() *shopify.Client {
	return shopify.NewClient(a.cfg.Shop.Endpoint(), a.cfg.Shop.AccessToken,
		shopify.WithClientLogger(a.logger.With().Str("component", "shopify").Logger()))
}

// catalogSource reads definitions from a catalog file when one is configured,
// otherwise from the admin API behind the configured cache.
func (a *app) catalogSource(ctx context.Context) (catalog.Source, error) {
	if a.cfg.Catalog.File != "" {
		a.logger.Info().Str("file", a.cfg.Catalog.File).Msg("serving catalog from file")
		return ingestion.NewFileSource(a.cfg.Catalog.File), nil
	}
	if err := a.cfg.RequireShop(); err != nil {
		return nil, err
	}

	loader := catalog.NewLoader(a.shopClient(), a.cfg.Catalog.Namespace,
		catalog.WithBatchSize(a.cfg.Catalog.BatchSize),
		catalog.WithLoaderLogger(a.logger.With().Str("component", "catalog").Logger()),
	)
	store, err := a.cacheStore(ctx)
	if err != nil {
		return nil, err
	}
	if store == nil {
		return loader, nil
	}
	return cache.NewCatalogSource(loader, store, a.cfg.Catalog.Namespace, a.cfg.Cache.TTL,
		a.logger.With().Str("component", "cache").Logger()), nil
}

func (a *app) cacheStore(ctx context.Context) (cache.Store, error) {
	storeCfg := a.cfg.Cache.Store()
	switch a.cfg.Cache.Backend {
	case config.CacheNone:
		return nil, nil
	case config.CacheMemory:
		return cache.NewMemoryStore(storeCfg), nil
	case config.CacheFile:
		return cache.NewFileStore(a.cfg.Cache.Dir, storeCfg)
	case config.CacheRedis:
		store, err := cache.NewRedisStore(ctx, cache.RedisConfig{
			Addr:     a.cfg.Cache.Redis.Addr,
			Password: a.cfg.Cache.Redis.Password,
			DB:       a.cfg.Cache.Redis.DB,
			Config:   storeCfg,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = store.Close() })
		return store, nil
	case config.CachePostgres:
		dbCfg := a.cfg.Database.DB()
		if err := db.RunMigrations(dbCfg, a.logger); err != nil {
			return nil, err
		}
		conn, err := db.NewConnection(ctx, dbCfg, a.logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, conn.Close)
		return cache.NewPostgresStore(conn, storeCfg), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", a.cfg.Cache.Backend)
	}
}

// client builds the custom data client. Nothing is loaded yet.
func (a *app) client(ctx context.Context) (*customdata.Client, error) {
	base, err := a.baseSchema()
	if err != nil {
		return nil, err
	}
	source, err := a.catalogSource(ctx)
	if err != nil {
		return nil, err
	}

	opts := []customdata.Option{
		customdata.WithLogger(a.logger),
		customdata.WithNamespace(a.cfg.Catalog.Namespace),
		customdata.WithOwnerInterface(a.cfg.Catalog.OwnerInterface),
	}
	if !a.cfg.Catalog.RootListing {
		opts = append(opts, customdata.WithoutRootListing())
	}
	return customdata.New(base, source, a.shopClient(), opts...), nil
}

// loadedClient builds the client and loads the catalog.
func (a *app) loadedClient(ctx context.Context) (*customdata.Client, error) {
	client, err := a.client(ctx)
	if err != nil {
		return nil, err
	}
	a.logger.Info().Msg("loading custom data schema")
	if err := client.EagerLoad(ctx); err != nil {
		return nil, err
	}
	return client, nil
}
