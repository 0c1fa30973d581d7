package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rpattn/customdata/internal/catalog"
)

// Installer swaps the served catalog for an uploaded one.
type Installer interface {
	Install(ctx context.Context, cat *catalog.Catalog) (string, error)
}

// Summary is returned after a successful upload.
type Summary struct {
	FileName    string `json:"fileName"`
	Metaobjects int    `json:"metaobjects"`
	Metafields  int    `json:"metafields"`
	Digest      string `json:"digest"`
}

// Handler exposes catalog upload as an HTTP endpoint.
type Handler struct {
	installer Installer
}

// NewHTTPHandler wraps the installer with a POST endpoint taking a multipart `file`.
func NewHTTPHandler(installer Installer) http.Handler {
	return &Handler{installer: installer}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, fmt.Sprintf("invalid form data: %v", err), http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, fmt.Sprintf("file required: %v", err), http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to read file: %v", err), http.StatusBadRequest)
		return
	}

	cat, err := ParseCatalog(header.Filename, data)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, ErrUnsupportedFormat) {
			status = http.StatusUnsupportedMediaType
		}
		http.Error(w, err.Error(), status)
		return
	}

	digest, err := h.installer.Install(r.Context(), cat)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	snap := cat.Snapshot()
	writeJSON(w, http.StatusOK, Summary{
		FileName:    header.Filename,
		Metaobjects: len(snap.Metaobjects),
		Metafields:  len(snap.Metafields),
		Digest:      digest,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
