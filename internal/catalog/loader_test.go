package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"sync"
	"testing"
)

var batchAliasPattern = regexp.MustCompile(`(o\d+): metafieldDefinitions\(ownerType: (\w+)`)

type mockExecutor struct {
	mu          sync.Mutex
	metaobjects []map[string]any
	metafields  map[string][]map[string]any
	// pages holds continuation pages per owner enum, served by cursor.
	pages map[string]map[string]any
	calls []string
	err   error
}

func (m *mockExecutor) Query(_ context.Context, query string, variables map[string]any, out any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}

	var payload any
	switch {
	case strings.HasPrefix(query, "query MetaobjectDefinitions("):
		m.calls = append(m.calls, "metaobjects")
		payload = m.metaobjectPage(variables)
	case strings.HasPrefix(query, "query MetafieldDefinitionsBatch("):
		m.calls = append(m.calls, "batch")
		data := map[string]any{}
		for _, match := range batchAliasPattern.FindAllStringSubmatch(query, -1) {
			alias, enum := match[1], match[2]
			hasNext := m.pages[enum] != nil
			data[alias] = map[string]any{
				"nodes":    m.metafields[enum],
				"pageInfo": map[string]any{"hasNextPage": hasNext, "endCursor": "c1"},
			}
		}
		payload = data
	case strings.HasPrefix(query, "query MetafieldDefinitions("):
		enum, _ := variables["ownerType"].(string)
		m.calls = append(m.calls, "page:"+enum)
		payload = map[string]any{"metafieldDefinitions": m.pages[enum]}
	default:
		return errors.New("unexpected query")
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func (m *mockExecutor) metaobjectPage(variables map[string]any) map[string]any {
	if _, ok := variables["after"]; !ok && len(m.metaobjects) > 1 {
		return map[string]any{"metaobjectDefinitions": map[string]any{
			"nodes":    m.metaobjects[:1],
			"pageInfo": map[string]any{"hasNextPage": true, "endCursor": "m1"},
		}}
	}
	rest := m.metaobjects
	if len(rest) > 1 {
		rest = rest[1:]
	}
	return map[string]any{"metaobjectDefinitions": map[string]any{
		"nodes":    rest,
		"pageInfo": map[string]any{"hasNextPage": false, "endCursor": nil},
	}}
}

func fieldNode(key, typ string, validations ...map[string]any) map[string]any {
	if validations == nil {
		validations = []map[string]any{}
	}
	return map[string]any{
		"key":         key,
		"namespace":   "custom",
		"description": nil,
		"type":        map[string]any{"name": typ},
		"validations": validations,
	}
}

func TestLoaderPullsMetaobjectsAndBatchesOwnerTypes(t *testing.T) {
	exec := &mockExecutor{
		metaobjects: []map[string]any{
			{"id": "gid://1", "type": "recipe", "description": "Recipes", "fieldDefinitions": []map[string]any{fieldNode("title", "single_line_text_field")}},
			{"id": "gid://2", "type": "taco", "description": nil, "fieldDefinitions": []map[string]any{fieldNode("name", "single_line_text_field")}},
		},
		metafields: map[string][]map[string]any{
			"PRODUCT": {fieldNode("featured_recipe", "metaobject_reference",
				map[string]any{"name": ValidationMetaobjectDefinitionID, "value": "gid://1"})},
			"COLLECTION": {fieldNode("season", "single_line_text_field")},
		},
		pages: map[string]map[string]any{
			"PRODUCT": {
				"nodes":    []map[string]any{fieldNode("rating", "rating")},
				"pageInfo": map[string]any{"hasNextPage": false, "endCursor": nil},
			},
		},
	}

	loader := NewLoader(exec, "custom")
	cat, err := loader.Load(context.Background(), []string{"Product", "Collection", "Metaobject"})
	if err != nil {
		t.Fatalf("expected load to succeed, got %v", err)
	}

	if len(cat.Metaobjects()) != 2 {
		t.Fatalf("expected both metaobject pages to be read, got %d", len(cat.Metaobjects()))
	}
	recipe, ok := cat.MetaobjectByID("gid://1")
	if !ok || recipe.Description != "Recipes" || len(recipe.Fields) != 1 {
		t.Fatalf("unexpected recipe definition %+v", recipe)
	}

	product := cat.MetafieldsForType("Product")
	if len(product) != 2 || product[0].Key != "featured_recipe" || product[1].Key != "rating" {
		t.Fatalf("expected batched and paginated product metafields, got %+v", product)
	}
	if product[0].OwnerType != "Product" {
		t.Fatalf("expected owner type to be the native typename, got %s", product[0].OwnerType)
	}
	if _, err := cat.LinkedMetaobject(product[0]); err != nil {
		t.Fatalf("expected loaded validation to resolve, got %v", err)
	}
	if got := cat.MetafieldsForType("Collection"); len(got) != 1 {
		t.Fatalf("expected collection metafields, got %+v", got)
	}

	var pageCalls int
	for _, call := range exec.calls {
		if call == "page:PRODUCT" {
			pageCalls++
		}
	}
	if pageCalls != 1 {
		t.Fatalf("expected one continuation page for PRODUCT, got calls %v", exec.calls)
	}
}

func TestLoaderPropagatesBackendErrors(t *testing.T) {
	exec := &mockExecutor{err: errors.New("throttled")}

	_, err := NewLoader(exec, "custom").Load(context.Background(), []string{"Product"})
	if err == nil || !strings.Contains(err.Error(), "throttled") {
		t.Fatalf("expected backend error to propagate, got %v", err)
	}
}

func TestBatchedQueryAliasesOwnerTypes(t *testing.T) {
	query := batchedMetafieldDefinitionsQuery([]string{"PRODUCT", "COLLECTION"})

	matches := batchAliasPattern.FindAllStringSubmatch(query, -1)
	if len(matches) != 2 {
		t.Fatalf("expected two aliased selections, got %q", query)
	}
	if matches[0][1] != "o0" || matches[0][2] != "PRODUCT" || matches[1][1] != "o1" || matches[1][2] != "COLLECTION" {
		t.Fatalf("unexpected aliases %v", matches)
	}
}

func TestSupportedOwnerTypesFiltersAndSorts(t *testing.T) {
	got := SupportedOwnerTypes([]string{"ProductVariant", "Metaobject", "Collection"})
	if len(got) != 2 || got[0] != "Collection" || got[1] != "ProductVariant" {
		t.Fatalf("unexpected owner types %v", got)
	}
}
