package ingestion

import (
	"bytes"
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rpattn/customdata/internal/catalog"
	"github.com/rpattn/customdata/internal/export"
	"github.com/rpattn/customdata/internal/metafield"
)

func sampleCatalog() *catalog.Catalog {
	return catalog.New(
		[]catalog.MetaobjectDefinition{{
			ID:          "gid://1",
			Type:        "recipe",
			Description: "A recipe.",
			Fields: []catalog.MetafieldDefinition{
				{Key: "title", Type: "single_line_text_field"},
				{Key: "servings", Type: "number_integer", Description: "Portions"},
			},
		}},
		[]catalog.MetafieldDefinition{
			{
				Key:         "featured_recipe",
				Type:        "metaobject_reference",
				OwnerType:   "Product",
				Validations: []catalog.Validation{{Name: catalog.ValidationMetaobjectDefinitionID, Value: "gid://1"}},
			},
			{Key: "banner", Type: "file_reference", OwnerType: "Collection"},
		},
	)
}

func digest(t *testing.T, cat *catalog.Catalog) string {
	t.Helper()
	d, err := catalog.Digest(cat)
	if err != nil {
		t.Fatalf("failed to digest catalog: %v", err)
	}
	return d
}

func TestParseCatalogRoundTripsExports(t *testing.T) {
	want := sampleCatalog()

	for _, format := range []export.Format{export.FormatCSV, export.FormatXLSX} {
		var buf bytes.Buffer
		if err := export.Write(&buf, format, want, nil); err != nil {
			t.Fatalf("%s: failed to export: %v", format, err)
		}
		got, err := ParseCatalog("catalog."+string(format), buf.Bytes())
		if err != nil {
			t.Fatalf("%s: failed to parse export: %v", format, err)
		}
		if digest(t, got) != digest(t, want) {
			t.Fatalf("%s: expected round trip to preserve the catalog, got %+v", format, got.Snapshot())
		}
	}
}

func TestParseCatalogCSVToleratesLayout(t *testing.T) {
	payload := append([]byte{0xEF, 0xBB, 0xBF}, []byte(
		"\n"+
			"Record, Owner, Key, Type\n"+
			"metaobject_field,gid://1,title,single_line_text_field\n"+
			",,,\n"+
			"metaobject,gid://1,recipe,\n"+
			"metafield,Product,subtitle,single_line_text_field\n")...)

	cat, err := ParseCatalog("defs.CSV", payload)
	if err != nil {
		t.Fatalf("expected parse to succeed, got %v", err)
	}
	def, ok := cat.MetaobjectByID("gid://1")
	if !ok || def.Type != "recipe" || len(def.Fields) != 1 {
		t.Fatalf("expected recipe with one field, got %+v", def)
	}
	if fields := cat.MetafieldsForType("Product"); len(fields) != 1 || fields[0].Key != "subtitle" {
		t.Fatalf("expected product subtitle, got %+v", fields)
	}
}

func TestParseCatalogRejectsUnsupportedFormat(t *testing.T) {
	if _, err := ParseCatalog("catalog.json", []byte("{}")); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestParseCatalogReportsRows(t *testing.T) {
	cases := map[string]struct {
		payload string
		row     int
		target  error
	}{
		"unknown type": {
			payload: "record,owner,key,type\nmetafield,Product,x,mystery_type\n",
			row:     2,
			target:  metafield.ErrUnknownMetafieldType,
		},
		"orphan field": {
			payload: "record,owner,key,type\nmetaobject,gid://1,recipe,\nmetaobject_field,gid://9,title,single_line_text_field\n",
			row:     3,
			target:  ErrInvalidCatalog,
		},
		"bad validations": {
			payload: "record,owner,key,type,description,validations\nmetafield,Product,x,metaobject_reference,,not-json\n",
			row:     2,
			target:  ErrInvalidCatalog,
		},
		"unknown record": {
			payload: "record,owner,key,type\nwidget,Product,x,boolean\n",
			row:     2,
			target:  ErrInvalidCatalog,
		},
	}

	for name, tc := range cases {
		_, err := ParseCatalog("defs.csv", []byte(tc.payload))
		var rowErr *RowError
		if !errors.As(err, &rowErr) {
			t.Fatalf("%s: expected RowError, got %v", name, err)
		}
		if rowErr.Row != tc.row {
			t.Fatalf("%s: expected row %d, got %d", name, tc.row, rowErr.Row)
		}
		if !errors.Is(err, tc.target) {
			t.Fatalf("%s: expected %v, got %v", name, tc.target, err)
		}
	}
}

func TestParseCatalogRequiresColumns(t *testing.T) {
	if _, err := ParseCatalog("defs.csv", []byte("record,owner\nmetafield,Product\n")); !errors.Is(err, ErrInvalidCatalog) {
		t.Fatalf("expected ErrInvalidCatalog, got %v", err)
	}
}

func TestFileSourceFiltersOwnerTypes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.csv")
	var buf bytes.Buffer
	if err := export.WriteCSV(&buf, sampleCatalog()); err != nil {
		t.Fatalf("failed to export: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		t.Fatalf("failed to write catalog: %v", err)
	}

	cat, err := NewFileSource(path).Load(context.Background(), []string{"Product"})
	if err != nil {
		t.Fatalf("expected load to succeed, got %v", err)
	}
	if owners := cat.OwnerTypes(); len(owners) != 1 || owners[0] != "Product" {
		t.Fatalf("expected only Product metafields, got %v", owners)
	}
	if len(cat.Metaobjects()) != 1 {
		t.Fatalf("expected metaobjects to be kept, got %d", len(cat.Metaobjects()))
	}
}

func TestFileSourceMissingFile(t *testing.T) {
	if _, err := NewFileSource(filepath.Join(t.TempDir(), "nope.csv")).Load(context.Background(), nil); err == nil {
		t.Fatalf("expected missing file to fail")
	}
}

type stubInstaller struct {
	installed *catalog.Catalog
	err       error
}

func (s *stubInstaller) Install(ctx context.Context, cat *catalog.Catalog) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.installed = cat
	return catalog.Digest(cat)
}

func upload(t *testing.T, handler http.Handler, name string, payload []byte) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", name)
	if err != nil {
		t.Fatalf("failed to create form file: %v", err)
	}
	_, _ = part.Write(payload)
	_ = writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/catalog", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHandlerInstallsUpload(t *testing.T) {
	var buf bytes.Buffer
	if err := export.WriteCSV(&buf, sampleCatalog()); err != nil {
		t.Fatalf("failed to export: %v", err)
	}
	installer := &stubInstaller{}
	rec := upload(t, NewHTTPHandler(installer), "catalog.csv", buf.Bytes())

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if installer.installed == nil {
		t.Fatalf("expected catalog to be installed")
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte(`"metafields": 2`)) {
		t.Fatalf("expected summary in body, got %s", rec.Body.String())
	}
}

func TestHandlerRejectsBadUploads(t *testing.T) {
	installer := &stubInstaller{}
	if rec := upload(t, NewHTTPHandler(installer), "catalog.txt", []byte("x")); rec.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected 415, got %d", rec.Code)
	}

	installer.err = errors.New("compose failed")
	var buf bytes.Buffer
	_ = export.WriteCSV(&buf, sampleCatalog())
	if rec := upload(t, NewHTTPHandler(installer), "catalog.csv", buf.Bytes()); rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}

	rec := httptest.NewRecorder()
	NewHTTPHandler(installer).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/catalog", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}
