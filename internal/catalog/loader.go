package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/graph-gophers/dataloader"
	"github.com/rs/zerolog"
)

// QueryExecutor runs a GraphQL document against the backend admin API and
// decodes the data payload into out.
type QueryExecutor interface {
	Query(ctx context.Context, query string, variables map[string]any, out any) error
}

// Source yields a catalog. The loader pulls one from the backend; cached
// sources wrap another Source.
type Source interface {
	Load(ctx context.Context, ownerTypes []string) (*Catalog, error)
}

// ownerTypeEnums maps native typenames to the backend's MetafieldOwnerType values.
var ownerTypeEnums = map[string]string{
	"Article":         "ARTICLE",
	"Blog":            "BLOG",
	"Collection":      "COLLECTION",
	"Company":         "COMPANY",
	"CompanyLocation": "COMPANY_LOCATION",
	"Customer":        "CUSTOMER",
	"DraftOrder":      "DRAFTORDER",
	"Location":        "LOCATION",
	"Market":          "MARKET",
	"Order":           "ORDER",
	"Page":            "PAGE",
	"Product":         "PRODUCT",
	"ProductVariant":  "PRODUCTVARIANT",
	"Shop":            "SHOP",
}

// OwnerTypeEnum returns the MetafieldOwnerType for a native typename.
func OwnerTypeEnum(typename string) (string, bool) {
	enum, ok := ownerTypeEnums[typename]
	return enum, ok
}

// SupportedOwnerTypes filters typenames down to those the backend can list definitions for, sorted.
func SupportedOwnerTypes(typenames []string) []string {
	out := make([]string, 0, len(typenames))
	for _, name := range typenames {
		if _, ok := ownerTypeEnums[name]; ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

const definitionPageSize = 250

const metaobjectDefinitionsQuery = `query MetaobjectDefinitions($first: Int!, $after: String) {
  metaobjectDefinitions(first: $first, after: $after) {
    nodes {
      id
      type
      description
      fieldDefinitions {
        key
        description
        type { name }
        validations { name value }
      }
    }
    pageInfo { hasNextPage endCursor }
  }
}`

const metafieldDefinitionSelection = `nodes {
      key
      namespace
      description
      ownerType
      type { name }
      validations { name value }
    }
    pageInfo { hasNextPage endCursor }`

const metafieldDefinitionsQuery = `query MetafieldDefinitions($ownerType: MetafieldOwnerType!, $namespace: String, $first: Int!, $after: String) {
  metafieldDefinitions(ownerType: $ownerType, namespace: $namespace, first: $first, after: $after) {
    ` + metafieldDefinitionSelection + `
  }
}`

type pageInfo struct {
	HasNextPage bool    `json:"hasNextPage"`
	EndCursor   *string `json:"endCursor"`
}

type typeRef struct {
	Name string `json:"name"`
}

type fieldDefinitionNode struct {
	Key         string       `json:"key"`
	Namespace   string       `json:"namespace"`
	Description *string      `json:"description"`
	OwnerType   string       `json:"ownerType"`
	Type        typeRef      `json:"type"`
	Validations []Validation `json:"validations"`
}

func (n fieldDefinitionNode) definition(ownerType string) MetafieldDefinition {
	def := MetafieldDefinition{
		Key:         n.Key,
		Type:        n.Type.Name,
		Validations: n.Validations,
		OwnerType:   ownerType,
	}
	if n.Description != nil {
		def.Description = *n.Description
	}
	return def
}

type metafieldDefinitionConnection struct {
	Nodes    []fieldDefinitionNode `json:"nodes"`
	PageInfo pageInfo              `json:"pageInfo"`
}

type metaobjectDefinitionNode struct {
	ID               string                `json:"id"`
	Type             string                `json:"type"`
	Description      *string               `json:"description"`
	FieldDefinitions []fieldDefinitionNode `json:"fieldDefinitions"`
}

type metaobjectDefinitionsData struct {
	MetaobjectDefinitions struct {
		Nodes    []metaobjectDefinitionNode `json:"nodes"`
		PageInfo pageInfo                  `json:"pageInfo"`
	} `json:"metaobjectDefinitions"`
}

// Loader pulls catalog metadata from the backend.
type Loader struct {
	executor     QueryExecutor
	namespace    string
	logger       zerolog.Logger
	batchSize    int
	batchWait    time.Duration
	pageSize     int
	metaobjectsQ string
}

// LoaderOption customizes a Loader.
type LoaderOption func(*Loader)

// WithBatchSize caps how many owner types share one backend query.
func WithBatchSize(n int) LoaderOption {
	return func(l *Loader) {
		if n > 0 {
			l.batchSize = n
		}
	}
}

// WithLoaderLogger sets the logger.
func WithLoaderLogger(logger zerolog.Logger) LoaderOption {
	return func(l *Loader) { l.logger = logger }
}

// NewLoader creates a loader reading metafield definitions of the given namespace.
func NewLoader(executor QueryExecutor, namespace string, opts ...LoaderOption) *Loader {
	l := &Loader{
		executor:     executor,
		namespace:    namespace,
		logger:       zerolog.Nop(),
		batchSize:    10,
		batchWait:    2 * time.Millisecond,
		pageSize:     definitionPageSize,
		metaobjectsQ: metaobjectDefinitionsQuery,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load fetches every metaobject definition and the metafield definitions of
// the given native owner types.
func (l *Loader) Load(ctx context.Context, ownerTypes []string) (*Catalog, error) {
	start := time.Now()

	metaobjects, err := l.loadMetaobjects(ctx)
	if err != nil {
		return nil, err
	}

	metafields, err := l.loadMetafields(ctx, SupportedOwnerTypes(ownerTypes))
	if err != nil {
		return nil, err
	}

	l.logger.Info().
		Int("metaobjects", len(metaobjects)).
		Int("metafields", len(metafields)).
		Dur("took", time.Since(start)).
		Msg("loaded catalog metadata")

	return New(metaobjects, metafields), nil
}

func (l *Loader) loadMetaobjects(ctx context.Context) ([]MetaobjectDefinition, error) {
	var defs []MetaobjectDefinition
	var after *string
	for {
		vars := map[string]any{"first": l.pageSize}
		if after != nil {
			vars["after"] = *after
		}

		var out metaobjectDefinitionsData
		if err := l.executor.Query(ctx, l.metaobjectsQ, vars, &out); err != nil {
			return nil, fmt.Errorf("failed to load metaobject definitions: %w", err)
		}

		for _, node := range out.MetaobjectDefinitions.Nodes {
			def := MetaobjectDefinition{ID: node.ID, Type: node.Type}
			if node.Description != nil {
				def.Description = *node.Description
			}
			for _, f := range node.FieldDefinitions {
				def.Fields = append(def.Fields, f.definition(""))
			}
			defs = append(defs, def)
		}

		page := out.MetaobjectDefinitions.PageInfo
		if !page.HasNextPage || page.EndCursor == nil {
			return defs, nil
		}
		after = page.EndCursor
	}
}

func (l *Loader) loadMetafields(ctx context.Context, ownerTypes []string) ([]MetafieldDefinition, error) {
	if len(ownerTypes) == 0 {
		return nil, nil
	}

	loader := dataloader.NewBatchedLoader(
		l.batchFn,
		dataloader.WithBatchCapacity(l.batchSize),
		dataloader.WithWait(l.batchWait),
	)

	results, errs := loader.LoadMany(ctx, dataloader.NewKeysFromStrings(ownerTypes))()
	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("failed to load metafield definitions for %s: %w", ownerTypes[i], err)
		}
	}

	var defs []MetafieldDefinition
	for _, res := range results {
		if batch, ok := res.([]MetafieldDefinition); ok {
			defs = append(defs, batch...)
		}
	}
	return defs, nil
}

// batchFn resolves many owner types with one aliased backend query, then
// follows pagination per owner type.
func (l *Loader) batchFn(ctx context.Context, keys dataloader.Keys) []*dataloader.Result {
	owners := keys.Keys()
	enums := make([]string, len(owners))
	for i, owner := range owners {
		enum, ok := OwnerTypeEnum(owner)
		if !ok {
			return failAll(len(keys), fmt.Errorf("unsupported metafield owner type %s", owner))
		}
		enums[i] = enum
	}

	out := make(map[string]metafieldDefinitionConnection, len(enums))
	vars := map[string]any{"first": l.pageSize, "namespace": l.namespace}
	if err := l.executor.Query(ctx, batchedMetafieldDefinitionsQuery(enums), vars, &out); err != nil {
		return failAll(len(keys), err)
	}

	results := make([]*dataloader.Result, len(owners))
	for i, owner := range owners {
		conn, ok := out[batchAlias(i)]
		if !ok {
			results[i] = &dataloader.Result{Error: errors.New("missing batch result")}
			continue
		}

		defs := make([]MetafieldDefinition, 0, len(conn.Nodes))
		for _, node := range conn.Nodes {
			defs = append(defs, node.definition(owner))
		}

		if conn.PageInfo.HasNextPage && conn.PageInfo.EndCursor != nil {
			rest, err := l.loadRemainingMetafields(ctx, owner, enums[i], *conn.PageInfo.EndCursor)
			if err != nil {
				results[i] = &dataloader.Result{Error: err}
				continue
			}
			defs = append(defs, rest...)
		}

		results[i] = &dataloader.Result{Data: defs}
	}
	return results
}

func (l *Loader) loadRemainingMetafields(ctx context.Context, owner, enum, cursor string) ([]MetafieldDefinition, error) {
	var defs []MetafieldDefinition
	after := cursor
	for {
		var out struct {
			MetafieldDefinitions metafieldDefinitionConnection `json:"metafieldDefinitions"`
		}
		vars := map[string]any{
			"ownerType": enum,
			"namespace": l.namespace,
			"first":     l.pageSize,
			"after":     after,
		}
		if err := l.executor.Query(ctx, metafieldDefinitionsQuery, vars, &out); err != nil {
			return nil, err
		}
		for _, node := range out.MetafieldDefinitions.Nodes {
			defs = append(defs, node.definition(owner))
		}
		page := out.MetafieldDefinitions.PageInfo
		if !page.HasNextPage || page.EndCursor == nil {
			return defs, nil
		}
		after = *page.EndCursor
	}
}

func batchAlias(i int) string {
	return fmt.Sprintf("o%d", i)
}

func batchedMetafieldDefinitionsQuery(enums []string) string {
	var b strings.Builder
	b.WriteString("query MetafieldDefinitionsBatch($namespace: String, $first: Int!) {\n")
	for i, enum := range enums {
		fmt.Fprintf(&b, "  %s: metafieldDefinitions(ownerType: %s, namespace: $namespace, first: $first) {\n    %s\n  }\n",
			batchAlias(i), enum, metafieldDefinitionSelection)
	}
	b.WriteString("}")
	return b.String()
}

func failAll(n int, err error) []*dataloader.Result {
	results := make([]*dataloader.Result, n)
	for i := range results {
		results[i] = &dataloader.Result{Error: err}
	}
	return results
}
