package customdata

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"

	"github.com/rpattn/customdata/internal/catalog"
	"github.com/rpattn/customdata/internal/shopify"
	"github.com/rpattn/customdata/internal/transformer"
)

func recipeCatalog() *catalog.Catalog {
	return catalog.New(
		[]catalog.MetaobjectDefinition{{
			ID:     "gid://1",
			Type:   "recipe",
			Fields: []catalog.MetafieldDefinition{{Key: "title", Type: "single_line_text_field"}},
		}},
		[]catalog.MetafieldDefinition{{
			Key:         "featured_recipe",
			Type:        "metaobject_reference",
			OwnerType:   "Product",
			Validations: []catalog.Validation{{Name: catalog.ValidationMetaobjectDefinitionID, Value: "gid://1"}},
		}},
	)
}

type stubSource struct {
	mu          sync.Mutex
	cat         *catalog.Catalog
	err         error
	loads       int
	owners      []string
	invalidated int
}

func (s *stubSource) Load(ctx context.Context, ownerTypes []string) (*catalog.Catalog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads++
	s.owners = ownerTypes
	return s.cat, s.err
}

func (s *stubSource) Invalidate(ctx context.Context, ownerTypes []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidated++
	return nil
}

type stubBackend struct {
	requests []shopify.Request
	response string
	err      error
}

func (b *stubBackend) Do(ctx context.Context, req shopify.Request) (*shopify.Response, error) {
	b.requests = append(b.requests, req)
	if b.err != nil {
		return nil, b.err
	}
	var resp shopify.Response
	dec := json.NewDecoder(strings.NewReader(b.response))
	dec.UseNumber()
	if err := dec.Decode(&resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func newClient(t *testing.T, source *stubSource, backend *stubBackend) *Client {
	t.Helper()
	base, err := shopify.LoadSchema("")
	if err != nil {
		t.Fatalf("failed to load native schema: %v", err)
	}
	return New(base, source, backend)
}

func TestExecuteRewritesAndReconstructs(t *testing.T) {
	backend := &stubBackend{response: `{"data":{"product":{"title":"Shoe","__ex_featuredRecipe":{"reference":{"title":{"value":"Pasta"}}}}}}`}
	client := newClient(t, &stubSource{cat: recipeCatalog()}, backend)

	result, err := client.Execute(context.Background(), Request{
		Query: `query Shoe($id: ID!) { product(id: $id) { title extensions { featuredRecipe { title } } } }`,
		Variables: map[string]any{"id": "gid://shopify/Product/1"},
	})
	if err != nil {
		t.Fatalf("expected execute to succeed, got %v", err)
	}
	if len(result.Response.Errors) > 0 {
		t.Fatalf("unexpected errors: %v", result.Response.Errors)
	}
	if got := string(result.Response.Data); got != `{"product":{"title":"Shoe","extensions":{"featuredRecipe":{"title":"Pasta"}}}}` {
		t.Fatalf("unexpected data %s", got)
	}

	if len(backend.requests) != 1 {
		t.Fatalf("expected one backend request, got %d", len(backend.requests))
	}
	sent := backend.requests[0]
	if sent.OperationName != "Shoe" || sent.Variables["id"] != "gid://shopify/Product/1" {
		t.Fatalf("unexpected backend request %+v", sent)
	}
	if !strings.Contains(sent.Query, `metafield(key: "custom.featured_recipe")`) {
		t.Fatalf("expected rewritten query, got %s", sent.Query)
	}
	for _, stage := range []string{StageTransformRequest, StageProxy, StageTransformResponse} {
		if _, ok := result.Trace[stage]; !ok {
			t.Fatalf("expected %s in trace, got %v", stage, result.Trace)
		}
	}
}

func TestExecuteLoadsLazilyOnce(t *testing.T) {
	source := &stubSource{cat: recipeCatalog()}
	backend := &stubBackend{response: `{"data":{"shop":{"name":"Demo"}}}`}
	client := newClient(t, source, backend)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = client.EagerLoad(context.Background())
		}()
	}
	wg.Wait()

	if source.loads != 1 {
		t.Fatalf("expected a single load, got %d", source.loads)
	}
	if len(source.owners) == 0 {
		t.Fatalf("expected owner types to be requested")
	}
}

func TestExecuteReportsQueryErrors(t *testing.T) {
	backend := &stubBackend{}
	client := newClient(t, &stubSource{cat: recipeCatalog()}, backend)

	cases := map[string]string{
		"validation":     `{ product(id: "1") { nope } }`,
		"reserved alias": `{ product(id: "1") { __typehint: title } }`,
	}
	for name, query := range cases {
		result, err := client.Execute(context.Background(), Request{Query: query})
		if err != nil {
			t.Fatalf("%s: expected query errors, got %v", name, err)
		}
		if len(result.Response.Errors) == 0 {
			t.Fatalf("%s: expected errors in response", name)
		}
	}
	if len(backend.requests) != 0 {
		t.Fatalf("expected nothing to be proxied, got %d requests", len(backend.requests))
	}

	result, _ := client.Execute(context.Background(), Request{Query: `{ product(id: "1") { __typehint: title } }`})
	var gqlErr *gqlerror.Error
	if !errors.As(result.Response.Errors[0], &gqlErr) || !errors.Is(gqlErr, transformer.ErrReservedAlias) {
		t.Fatalf("expected reserved alias error, got %v", result.Response.Errors)
	}
}

func TestExecuteRejectsBadVariables(t *testing.T) {
	client := newClient(t, &stubSource{cat: recipeCatalog()}, &stubBackend{})
	result, err := client.Execute(context.Background(), Request{
		Query: `query($id: ID!) { product(id: $id) { title } }`,
	})
	if err != nil {
		t.Fatalf("expected query errors, got %v", err)
	}
	if len(result.Response.Errors) == 0 {
		t.Fatalf("expected missing variable to be reported")
	}
}

func TestExecutePassesBackendErrors(t *testing.T) {
	backend := &stubBackend{response: `{"data":{"product":null},"errors":[{"message":"Throttled"}],"extensions":{"cost":{"requestedQueryCost":1}}}`}
	client := newClient(t, &stubSource{cat: recipeCatalog()}, backend)

	result, err := client.Execute(context.Background(), Request{Query: `{ product(id: "1") { title } }`})
	if err != nil {
		t.Fatalf("expected execute to succeed, got %v", err)
	}
	if len(result.Response.Errors) != 1 || result.Response.Errors[0].Message != "Throttled" {
		t.Fatalf("expected backend error, got %v", result.Response.Errors)
	}
	if result.Response.Extensions["cost"] == nil {
		t.Fatalf("expected backend extensions to pass through")
	}
	if string(result.Response.Data) != `{"product":null}` {
		t.Fatalf("unexpected data %s", result.Response.Data)
	}
}

func TestExecuteFailsOnTransportErrors(t *testing.T) {
	boom := errors.New("connection refused")
	client := newClient(t, &stubSource{cat: recipeCatalog()}, &stubBackend{err: boom})
	if _, err := client.Execute(context.Background(), Request{Query: `{ product(id: "1") { title } }`}); !errors.Is(err, boom) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestExecuteFailsWhenCatalogCannotLoad(t *testing.T) {
	client := newClient(t, &stubSource{err: errors.New("unauthorized")}, &stubBackend{})
	if _, err := client.Execute(context.Background(), Request{Query: `{ shop { name } }`}); !errors.Is(err, ErrNotLoaded) {
		t.Fatalf("expected ErrNotLoaded, got %v", err)
	}
}

func TestRefreshSwapsSnapshot(t *testing.T) {
	source := &stubSource{cat: catalog.New(nil, nil)}
	client := newClient(t, source, &stubBackend{})
	ctx := context.Background()

	if err := client.EagerLoad(ctx); err != nil {
		t.Fatalf("expected load to succeed, got %v", err)
	}
	before, _ := client.Generation()
	if client.Schema().Types["RecipeMetaobject"] != nil {
		t.Fatalf("expected empty catalog to add no metaobject types")
	}

	source.cat = recipeCatalog()
	if err := client.Refresh(ctx); err != nil {
		t.Fatalf("expected refresh to succeed, got %v", err)
	}
	after, _ := client.Generation()
	if before.ID == after.ID || before.Digest == after.Digest {
		t.Fatalf("expected a new generation, got %+v then %+v", before, after)
	}
	if source.invalidated != 1 {
		t.Fatalf("expected refresh to invalidate the source, got %d", source.invalidated)
	}
	if client.Schema().Types["RecipeMetaobject"] == nil {
		t.Fatalf("expected refreshed schema to include the recipe type")
	}

	source.err = errors.New("down")
	if err := client.Refresh(ctx); err == nil {
		t.Fatalf("expected failed refresh to report an error")
	}
	if current, _ := client.Generation(); current.ID != after.ID {
		t.Fatalf("expected failed refresh to keep serving the previous snapshot")
	}
}

func TestInstallRejectsUncomposableCatalogs(t *testing.T) {
	client := newClient(t, &stubSource{cat: recipeCatalog()}, &stubBackend{})
	dangling := catalog.New(nil, []catalog.MetafieldDefinition{{
		Key:         "featured_recipe",
		Type:        "metaobject_reference",
		OwnerType:   "Product",
		Validations: []catalog.Validation{{Name: catalog.ValidationMetaobjectDefinitionID, Value: "gid://404"}},
	}})
	if _, err := client.Install(context.Background(), dangling); !errors.Is(err, catalog.ErrDanglingMetaobjectReference) {
		t.Fatalf("expected dangling reference error, got %v", err)
	}
	if client.Catalog() != nil {
		t.Fatalf("expected nothing to be installed")
	}

	digest, err := client.Install(context.Background(), recipeCatalog())
	if err != nil || digest == "" {
		t.Fatalf("expected install to succeed, got %q (%v)", digest, err)
	}
}

func TestIntrospectionIsAnsweredLocally(t *testing.T) {
	backend := &stubBackend{}
	client := newClient(t, &stubSource{cat: recipeCatalog()}, backend)

	result, err := client.Execute(context.Background(), Request{Query: `
		query {
			__typename
			__type(name: "RecipeMetaobject") {
				kind
				name
				fields { name type { kind ofType { name } } }
			}
			missing: __type(name: "Nope") { name }
			__schema { queryType { ...TypeName } }
		}
		fragment TypeName on __Type { name }
	`})
	if err != nil {
		t.Fatalf("expected introspection to succeed, got %v", err)
	}
	if len(result.Response.Errors) > 0 {
		t.Fatalf("unexpected errors: %v", result.Response.Errors)
	}
	if len(backend.requests) != 0 {
		t.Fatalf("expected introspection not to be proxied")
	}

	var data struct {
		Typename string `json:"__typename"`
		Type     struct {
			Kind   string `json:"kind"`
			Name   string `json:"name"`
			Fields []struct {
				Name string `json:"name"`
				Type struct {
					Kind   string `json:"kind"`
					OfType *struct {
						Name string `json:"name"`
					} `json:"ofType"`
				} `json:"type"`
			} `json:"fields"`
		} `json:"__type"`
		Missing *struct{} `json:"missing"`
		Schema  struct {
			QueryType struct {
				Name string `json:"name"`
			} `json:"queryType"`
		} `json:"__schema"`
	}
	if err := json.Unmarshal(result.Response.Data, &data); err != nil {
		t.Fatalf("failed to decode data: %v", err)
	}
	if data.Type.Kind != "OBJECT" || data.Type.Name != "RecipeMetaobject" || len(data.Type.Fields) != 2 {
		t.Fatalf("unexpected type %+v", data.Type)
	}
	if id := data.Type.Fields[0]; id.Name != "id" || id.Type.Kind != "NON_NULL" || id.Type.OfType == nil || id.Type.OfType.Name != "ID" {
		t.Fatalf("unexpected id field %+v", id)
	}
	if data.Missing != nil {
		t.Fatalf("expected unknown type to be null")
	}
	if data.Schema.QueryType.Name != data.Typename || data.Typename == "" {
		t.Fatalf("expected query root name, got %+v", data)
	}
}

func TestIntrospectionCannotMixWithData(t *testing.T) {
	client := newClient(t, &stubSource{cat: recipeCatalog()}, &stubBackend{})
	result, err := client.Execute(context.Background(), Request{Query: `{ shop { name } __schema { queryType { name } } }`})
	if err != nil {
		t.Fatalf("expected query errors, got %v", err)
	}
	if len(result.Response.Errors) != 1 {
		t.Fatalf("expected a single error, got %v", result.Response.Errors)
	}
}

func TestOwnerTypesFollowNativeSchema(t *testing.T) {
	client := newClient(t, &stubSource{cat: recipeCatalog()}, &stubBackend{})
	owners := client.OwnerTypes()
	found := false
	for _, owner := range owners {
		if owner == "Product" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected Product among owner types, got %v", owners)
	}

	base := &ast.Schema{Types: map[string]*ast.Definition{}}
	if got := New(base, &stubSource{}, &stubBackend{}).OwnerTypes(); len(got) != 0 {
		t.Fatalf("expected no owner types without the owner interface, got %v", got)
	}
}
