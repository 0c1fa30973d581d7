package export

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/vektah/gqlparser/v2/ast"

	"github.com/rpattn/customdata/internal/catalog"
)

// Snapshot exposes the catalog and virtual schema currently served.
type Snapshot interface {
	Catalog() *catalog.Catalog
	Schema() *ast.Schema
}

type Handler struct {
	snapshot Snapshot
	shop     string
	logger   zerolog.Logger
	now      func() time.Time
}

// NewHTTPHandler serves the current catalog as a download. The format is
// taken from the `format` query parameter.
func NewHTTPHandler(snapshot Snapshot, shop string, logger zerolog.Logger) http.Handler {
	return &Handler{snapshot: snapshot, shop: shop, logger: logger, now: time.Now}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	format, err := ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	cat := h.snapshot.Catalog()
	if cat == nil {
		http.Error(w, "catalog not loaded", http.StatusServiceUnavailable)
		return
	}

	var buf bytes.Buffer
	if err := Write(&buf, format, cat, h.snapshot.Schema()); err != nil {
		h.logger.Error().Err(err).Msg("catalog export failed")
		http.Error(w, "export failed", http.StatusInternalServerError)
		return
	}

	filename := FileName(h.shop, format, h.now())
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", filename))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	_, _ = w.Write(buf.Bytes())
}
