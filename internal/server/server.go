package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/99designs/gqlgen/graphql/playground"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/vektah/gqlparser/v2/ast"

	"github.com/rpattn/customdata/internal/catalog"
	"github.com/rpattn/customdata/internal/customdata"
	"github.com/rpattn/customdata/internal/export"
	"github.com/rpattn/customdata/internal/ingestion"
	"github.com/rpattn/customdata/internal/middleware"
)

// Routes.
const (
	GraphQLPath       = "/graphql"
	RefreshPath       = "/refresh"
	CatalogPath       = "/catalog"
	CatalogExportPath = "/catalog/export"
	HealthPath        = "/healthz"
)

// Service is what the HTTP layer needs from the custom data client.
type Service interface {
	Execute(ctx context.Context, req customdata.Request) (*customdata.Result, error)
	Refresh(ctx context.Context) error
	Install(ctx context.Context, cat *catalog.Catalog) (string, error)
	Generation() (customdata.Generation, bool)
	Catalog() *catalog.Catalog
	Schema() *ast.Schema
}

type Options struct {
	Shop           string
	AllowedOrigins []string
	Playground     bool
	Logger         zerolog.Logger
}

// NewHandler wires every route behind CORS and request logging.
func NewHandler(service Service, opts Options) http.Handler {
	mux := http.NewServeMux()
	mux.Handle(GraphQLPath, &graphqlHandler{service: service})
	mux.Handle(RefreshPath, &refreshHandler{service: service})
	mux.Handle(CatalogPath, ingestion.NewHTTPHandler(service))
	mux.Handle(CatalogExportPath, export.NewHTTPHandler(service, opts.Shop, opts.Logger))
	mux.HandleFunc(HealthPath, func(w http.ResponseWriter, r *http.Request) {
		generation, ok := service.Generation()
		if !ok {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "loading"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "generation": generation})
	})
	if opts.Playground {
		mux.Handle("/", playground.Handler("Custom data explorer", GraphQLPath))
	}

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	corsHandler := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{middleware.RequestIDHeader},
	})

	return corsHandler.Handler(middleware.LoggingMiddleware(opts.Logger)(mux))
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func Run(ctx context.Context, addr string, handler http.Handler, shutdownTimeout time.Duration, logger zerolog.Logger) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("starting custom data server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info().Msg("server exited")
	return nil
}
