package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/vektah/gqlparser/v2/gqlerror"
)

const (
	// DefaultAPIVersion is the admin API version requests are sent to.
	DefaultAPIVersion = "2025-01"

	accessTokenHeader = "X-Shopify-Access-Token"
)

// ErrUnexpectedStatus is returned when the backend answers with a non-200 status.
var ErrUnexpectedStatus = errors.New("unexpected backend status")

// Request is a GraphQL request sent to the backend.
type Request struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
}

// Response is a raw backend GraphQL response. Numbers are kept as json.Number.
type Response struct {
	Data       map[string]any `json:"data"`
	Errors     gqlerror.List  `json:"errors,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

// AdminEndpoint builds the admin GraphQL endpoint of a shop domain.
func AdminEndpoint(shop, version string) string {
	if version == "" {
		version = DefaultAPIVersion
	}
	return fmt.Sprintf("https://%s/admin/api/%s/graphql.json", shop, version)
}

// Client sends GraphQL requests to the admin API.
type Client struct {
	endpoint    string
	accessToken string
	httpClient  *http.Client
	logger      zerolog.Logger
}

type ClientOption func(*Client)

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func WithClientLogger(logger zerolog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a client for a GraphQL endpoint.
func NewClient(endpoint, accessToken string, opts ...ClientOption) *Client {
	c := &Client{
		endpoint:    endpoint,
		accessToken: accessToken,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		logger:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do sends a request and returns the decoded response. GraphQL errors are
// returned inside the response, not as an error.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	body, err := c.post(ctx, req)
	if err != nil {
		return nil, err
	}

	var resp Response
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &resp, nil
}

// Query runs a query and decodes its data into out. GraphQL errors fail the call.
func (c *Client) Query(ctx context.Context, query string, variables map[string]any, out any) error {
	body, err := c.post(ctx, Request{Query: query, Variables: variables})
	if err != nil {
		return err
	}

	var resp struct {
		Data   json.RawMessage `json:"data"`
		Errors gqlerror.List   `json:"errors"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if len(resp.Errors) > 0 {
		return fmt.Errorf("backend query failed: %w", resp.Errors)
	}
	if out == nil || len(resp.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Data, out); err != nil {
		return fmt.Errorf("failed to decode response data: %w", err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, req Request) ([]byte, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.accessToken != "" {
		httpReq.Header.Set(accessTokenHeader, c.accessToken)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	c.logger.Debug().
		Str("operation", req.OperationName).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("backend request")

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w %d: %s", ErrUnexpectedStatus, resp.StatusCode, truncateForError(body))
	}
	return body, nil
}

// truncateForError keeps error messages short.
func truncateForError(body []byte) string {
	s := string(body)
	if len(s) > 200 {
		return s[:200] + "... (truncated)"
	}
	return s
}
