package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/99designs/gqlgen/graphql"
	"github.com/rs/zerolog"
	"github.com/vektah/gqlparser/v2/gqlerror"

	"github.com/rpattn/customdata/internal/customdata"
)

const maxBodyBytes = 1 << 20

type graphqlHandler struct {
	service Service
}

func (h *graphqlHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := zerolog.Ctx(r.Context())

	req, err := decodeRequest(r)
	if err != nil {
		writeGraphQLError(w, http.StatusBadRequest, err)
		return
	}

	result, err := h.service.Execute(r.Context(), req)
	switch {
	case errors.Is(err, customdata.ErrNotLoaded):
		logger.Error().Err(err).Msg("custom data schema unavailable")
		writeGraphQLError(w, http.StatusServiceUnavailable, err)
		return
	case err != nil:
		logger.Error().Err(err).Msg("backend request failed")
		writeGraphQLError(w, http.StatusBadGateway, err)
		return
	}

	event := logger.Debug()
	for stage, took := range result.Trace {
		event = event.Dur(stage, took)
	}
	event.Str("operation", req.OperationName).Str("backend_query", result.Query).Msg("graphql request")

	writeJSON(w, http.StatusOK, result.Response)
}

func decodeRequest(r *http.Request) (customdata.Request, error) {
	var req customdata.Request
	switch r.Method {
	case http.MethodGet:
		q := r.URL.Query()
		req.Query = q.Get("query")
		req.OperationName = q.Get("operationName")
		if raw := q.Get("variables"); raw != "" {
			if err := json.Unmarshal([]byte(raw), &req.Variables); err != nil {
				return req, fmt.Errorf("invalid variables: %w", err)
			}
		}
	case http.MethodPost:
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			return req, fmt.Errorf("failed to read body: %w", err)
		}
		if err := json.Unmarshal(body, &req); err != nil {
			return req, fmt.Errorf("invalid request body: %w", err)
		}
	default:
		return req, fmt.Errorf("method %s not allowed", r.Method)
	}
	if req.Query == "" {
		return req, errors.New("query is required")
	}
	return req, nil
}

type refreshHandler struct {
	service Service
}

func (h *refreshHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := h.service.Refresh(r.Context()); err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("schema refresh failed")
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error()})
		return
	}
	generation, _ := h.service.Generation()
	writeJSON(w, http.StatusOK, map[string]any{"status": "refreshed", "generation": generation})
}

func writeGraphQLError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, &graphql.Response{Errors: gqlerror.List{gqlerror.Wrap(err)}})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
