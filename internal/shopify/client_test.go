package shopify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestClientDo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(accessTokenHeader) != "secret" {
			t.Errorf("expected access token header, got %q", r.Header.Get(accessTokenHeader))
		}
		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		if req.OperationName != "Shop" || req.Variables["id"] != "1" {
			t.Errorf("unexpected request %+v", req)
		}
		_, _ = w.Write([]byte(`{"data":{"shop":{"count":12345678901234567}},"errors":[{"message":"throttled","path":["shop"]}]}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "secret")
	resp, err := client.Do(context.Background(), Request{
		Query:         "query Shop { shop { count } }",
		OperationName: "Shop",
		Variables:     map[string]any{"id": "1"},
	})
	if err != nil {
		t.Fatalf("expected request to succeed, got %v", err)
	}

	shop := resp.Data["shop"].(map[string]any)
	if n, ok := shop["count"].(json.Number); !ok || n.String() != "12345678901234567" {
		t.Fatalf("expected numbers to be preserved, got %#v", shop["count"])
	}
	if len(resp.Errors) != 1 || resp.Errors[0].Message != "throttled" {
		t.Fatalf("expected backend errors to be returned, got %v", resp.Errors)
	}
}

func TestClientQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"shop":{"name":"Demo"}}}`))
	}))
	defer srv.Close()

	var out struct {
		Shop struct {
			Name string `json:"name"`
		} `json:"shop"`
	}
	if err := NewClient(srv.URL, "").Query(context.Background(), "{ shop { name } }", nil, &out); err != nil {
		t.Fatalf("expected query to succeed, got %v", err)
	}
	if out.Shop.Name != "Demo" {
		t.Fatalf("expected decoded data, got %+v", out)
	}
}

func TestClientQueryFailsOnGraphQLErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"errors":[{"message":"access denied"}]}`))
	}))
	defer srv.Close()

	err := NewClient(srv.URL, "").Query(context.Background(), "{ shop { name } }", nil, nil)
	if err == nil || !strings.Contains(err.Error(), "access denied") {
		t.Fatalf("expected graphql error, got %v", err)
	}
}

func TestClientUnexpectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "").Do(context.Background(), Request{Query: "{ shop { name } }"})
	if !errors.Is(err, ErrUnexpectedStatus) {
		t.Fatalf("expected unexpected status error, got %v", err)
	}
}

func TestAdminEndpoint(t *testing.T) {
	if got := AdminEndpoint("demo.myshopify.com", ""); got != "https://demo.myshopify.com/admin/api/"+DefaultAPIVersion+"/graphql.json" {
		t.Fatalf("unexpected endpoint %q", got)
	}
}

func TestLoadBundledSchema(t *testing.T) {
	schema, err := LoadSchema("")
	if err != nil {
		t.Fatalf("expected bundled schema to load, got %v", err)
	}
	if schema.Query == nil || schema.Query.Name != "QueryRoot" {
		t.Fatalf("expected QueryRoot query type")
	}
	if schema.Types["HasMetafields"] == nil || schema.Types["Metaobject"] == nil {
		t.Fatalf("expected metafield owner interface and metaobject type")
	}
}
