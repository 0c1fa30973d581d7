package customdata

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/vektah/gqlparser/v2/ast"

	"github.com/rpattn/customdata/internal/catalog"
	"github.com/rpattn/customdata/internal/composer"
	"github.com/rpattn/customdata/internal/shopify"
	"github.com/rpattn/customdata/internal/transformer"
)

// ErrNotLoaded is returned when a request arrives before any catalog was loaded.
var ErrNotLoaded = errors.New("custom data schema not loaded")

// Backend executes rewritten queries against the native API.
type Backend interface {
	Do(ctx context.Context, req shopify.Request) (*shopify.Response, error)
}

// Invalidator is implemented by catalog sources that cache.
type Invalidator interface {
	Invalidate(ctx context.Context, ownerTypes []string) error
}

// snapshot is one immutable generation of the served schema.
type snapshot struct {
	id          uuid.UUID
	digest      string
	catalog     *catalog.Catalog
	schema      *ast.Schema
	transformer *transformer.Transformer
	loadedAt    time.Time
}

// Generation describes the snapshot currently served.
type Generation struct {
	ID       uuid.UUID `json:"id"`
	Digest   string    `json:"digest"`
	LoadedAt time.Time `json:"loadedAt"`
}

type Option func(*Client)

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithNamespace sets the metafield namespace extensions are read from.
func WithNamespace(namespace string) Option {
	return func(c *Client) {
		if namespace != "" {
			c.namespace = namespace
		}
	}
}

// WithOwnerInterface sets the native interface whose implementors carry metafields.
func WithOwnerInterface(name string) Option {
	return func(c *Client) {
		if name != "" {
			c.ownerInterface = name
		}
	}
}

// WithOwnerTypes limits which native types get an extensions field.
func WithOwnerTypes(names ...string) Option {
	return func(c *Client) { c.ownerTypes = append([]string(nil), names...) }
}

// WithoutRootListing disables the per-metaobject root listing fields.
func WithoutRootListing() Option {
	return func(c *Client) { c.rootListing = false }
}

// Client serves a virtual custom data schema on top of a native backend.
type Client struct {
	base           *ast.Schema
	source         catalog.Source
	backend        Backend
	logger         zerolog.Logger
	namespace      string
	ownerInterface string
	ownerTypes     []string
	rootListing    bool

	current atomic.Pointer[snapshot]
	// loadMu serializes refreshes; readers never take it.
	loadMu sync.Mutex
}

// New creates a client. Nothing is loaded until EagerLoad, Refresh or the
// first Execute.
func New(base *ast.Schema, source catalog.Source, backend Backend, opts ...Option) *Client {
	c := &Client{
		base:           base,
		source:         source,
		backend:        backend,
		logger:         zerolog.Nop(),
		namespace:      transformer.DefaultNamespace,
		ownerInterface: composer.DefaultOwnerInterface,
		rootListing:    true,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.ownerTypes == nil {
		c.ownerTypes = c.nativeOwnerTypes()
	}
	return c
}

func (c *Client) nativeOwnerTypes() []string {
	iface := c.base.Types[c.ownerInterface]
	if iface == nil {
		return nil
	}
	var names []string
	for _, def := range c.base.GetPossibleTypes(iface) {
		if def.Kind == ast.Object {
			names = append(names, def.Name)
		}
	}
	sort.Strings(names)
	return catalog.SupportedOwnerTypes(names)
}

// OwnerTypes lists the native types whose metafields are loaded.
func (c *Client) OwnerTypes() []string {
	return append([]string(nil), c.ownerTypes...)
}

// EagerLoad loads the catalog unless a snapshot is already being served.
func (c *Client) EagerLoad(ctx context.Context) error {
	if c.current.Load() != nil {
		return nil
	}
	c.loadMu.Lock()
	defer c.loadMu.Unlock()
	if c.current.Load() != nil {
		return nil
	}
	return c.reload(ctx)
}

// Refresh drops any cached catalog and rebuilds the schema from the source.
// The previous snapshot keeps serving until the new one is ready.
func (c *Client) Refresh(ctx context.Context) error {
	c.loadMu.Lock()
	defer c.loadMu.Unlock()

	if inv, ok := c.source.(Invalidator); ok {
		if err := inv.Invalidate(ctx, c.ownerTypes); err != nil {
			c.logger.Warn().Err(err).Msg("failed to invalidate cached catalog")
		}
	}
	return c.reload(ctx)
}

func (c *Client) reload(ctx context.Context) error {
	cat, err := c.source.Load(ctx, c.ownerTypes)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	_, err = c.install(cat)
	return err
}

// Install serves the given catalog in place of the loaded one and returns its digest.
func (c *Client) Install(ctx context.Context, cat *catalog.Catalog) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c.loadMu.Lock()
	defer c.loadMu.Unlock()

	snap, err := c.install(cat)
	if err != nil {
		return "", err
	}
	return snap.digest, nil
}

func (c *Client) install(cat *catalog.Catalog) (*snapshot, error) {
	start := time.Now()

	opts := []composer.Option{composer.WithOwnerInterface(c.ownerInterface)}
	if !c.rootListing {
		opts = append(opts, composer.WithoutRootListing())
	}
	schema, err := composer.Compose(c.base, cat, opts...)
	if err != nil {
		return nil, fmt.Errorf("compose schema: %w", err)
	}
	digest, err := catalog.Digest(cat)
	if err != nil {
		return nil, err
	}

	snap := &snapshot{
		id:      uuid.New(),
		digest:  digest,
		catalog: cat,
		schema:  schema,
		transformer: transformer.New(schema,
			transformer.WithNamespace(c.namespace),
			transformer.WithOwnerInterface(c.ownerInterface),
		),
		loadedAt: time.Now(),
	}
	c.current.Store(snap)

	c.logger.Info().
		Str("generation", snap.id.String()).
		Str("digest", digest).
		Int("types", len(schema.Types)).
		Dur("took", time.Since(start)).
		Msg("custom data schema ready")
	return snap, nil
}

// Catalog returns the catalog being served, or nil before the first load.
func (c *Client) Catalog() *catalog.Catalog {
	if snap := c.current.Load(); snap != nil {
		return snap.catalog
	}
	return nil
}

// Schema returns the virtual schema being served, or nil before the first load.
func (c *Client) Schema() *ast.Schema {
	if snap := c.current.Load(); snap != nil {
		return snap.schema
	}
	return nil
}

// Generation describes the served snapshot. ok is false before the first load.
func (c *Client) Generation() (Generation, bool) {
	snap := c.current.Load()
	if snap == nil {
		return Generation{}, false
	}
	return Generation{ID: snap.id, Digest: snap.digest, LoadedAt: snap.loadedAt}, true
}

func (c *Client) served(ctx context.Context) (*snapshot, error) {
	if snap := c.current.Load(); snap != nil {
		return snap, nil
	}
	if err := c.EagerLoad(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotLoaded, err)
	}
	return c.current.Load(), nil
}
