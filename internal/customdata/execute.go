package customdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/99designs/gqlgen/graphql"
	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"github.com/vektah/gqlparser/v2/validator"

	"github.com/rpattn/customdata/internal/shopify"
)

// Trace stage names.
const (
	StageTransformRequest  = "transform_request"
	StageProxy             = "proxy"
	StageTransformResponse = "transform_response"
)

// Request is a client GraphQL request against the virtual schema.
type Request struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
}

// Trace holds the duration of each stage a request went through.
type Trace map[string]time.Duration

// Result is the outcome of one Execute call.
type Result struct {
	Response *graphql.Response
	// Query is the backend query that was sent, empty when nothing was proxied.
	Query      string
	Trace      Trace
	Generation Generation
}

// Execute validates a client request against the virtual schema, rewrites it,
// sends it to the backend and reshapes the answer. Query errors are reported
// in the response; the returned error is reserved for failures to reach the
// backend or to load the schema.
func (c *Client) Execute(ctx context.Context, req Request) (*Result, error) {
	snap, err := c.served(ctx)
	if err != nil {
		return nil, err
	}
	result := &Result{
		Response:   &graphql.Response{},
		Trace:      Trace{},
		Generation: Generation{ID: snap.id, Digest: snap.digest, LoadedAt: snap.loadedAt},
	}

	doc, errs := gqlparser.LoadQuery(snap.schema, req.Query)
	if len(errs) > 0 {
		result.Response.Errors = errs
		return result, nil
	}
	op := doc.Operations.ForName(req.OperationName)
	if op == nil {
		result.Response.Errors = gqlerror.List{gqlerror.Errorf("operation %q not found", req.OperationName)}
		return result, nil
	}
	variables, varErr := validator.VariableValues(snap.schema, op, req.Variables)
	if varErr != nil {
		result.Response.Errors = queryErrors(varErr)
		return result, nil
	}

	switch introspectionKind(op) {
	case introspectionOnly:
		data, err := introspect(snap.schema, op, variables)
		if err != nil {
			result.Response.Errors = queryErrors(err)
			return result, nil
		}
		result.Response.Data = data
		return result, nil
	case introspectionMixed:
		result.Response.Errors = gqlerror.List{gqlerror.Errorf("introspection fields cannot be combined with data fields")}
		return result, nil
	}

	start := time.Now()
	transformed, err := snap.transformer.Transform(doc, req.OperationName, variables)
	result.Trace[StageTransformRequest] = time.Since(start)
	if err != nil {
		result.Response.Errors = queryErrors(err)
		return result, nil
	}
	result.Query = transformed.Query()

	start = time.Now()
	resp, err := c.backend.Do(ctx, shopify.Request{
		Query:         result.Query,
		OperationName: transformed.OperationName(),
		Variables:     req.Variables,
	})
	result.Trace[StageProxy] = time.Since(start)
	if err != nil {
		return nil, fmt.Errorf("proxy request: %w", err)
	}
	result.Response.Errors = resp.Errors
	result.Response.Extensions = resp.Extensions

	start = time.Now()
	data, err := transformed.Reconstruct(resp.Data)
	result.Trace[StageTransformResponse] = time.Since(start)
	if err != nil {
		result.Response.Errors = append(result.Response.Errors, queryErrors(err)...)
		return result, nil
	}
	if data != nil {
		encoded, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("encode response: %w", err)
		}
		result.Response.Data = encoded
	}

	c.logger.Debug().
		Str("operation", transformed.OperationName()).
		Dur(StageTransformRequest, result.Trace[StageTransformRequest]).
		Dur(StageProxy, result.Trace[StageProxy]).
		Dur(StageTransformResponse, result.Trace[StageTransformResponse]).
		Msg("executed custom data request")
	return result, nil
}

func queryErrors(err error) gqlerror.List {
	var list gqlerror.List
	if errors.As(err, &list) {
		return list
	}
	var gqlErr *gqlerror.Error
	if errors.As(err, &gqlErr) {
		return gqlerror.List{gqlErr}
	}
	return gqlerror.List{gqlerror.Wrap(err)}
}

type introspectionUse int

const (
	introspectionNone introspectionUse = iota
	introspectionOnly
	introspectionMixed
)

// introspectionKind classifies the root fields of an operation. A bare
// __typename counts as neither.
func introspectionKind(op *ast.OperationDefinition) introspectionUse {
	var meta, data bool
	var visit func(set ast.SelectionSet)
	visit = func(set ast.SelectionSet) {
		for _, sel := range set {
			switch s := sel.(type) {
			case *ast.Field:
				switch s.Name {
				case "__schema", "__type":
					meta = true
				case "__typename":
				default:
					data = true
				}
			case *ast.InlineFragment:
				visit(s.SelectionSet)
			case *ast.FragmentSpread:
				if s.Definition != nil {
					visit(s.Definition.SelectionSet)
				}
			}
		}
	}
	visit(op.SelectionSet)

	switch {
	case meta && data:
		return introspectionMixed
	case meta:
		return introspectionOnly
	case !data:
		return introspectionOnly
	default:
		return introspectionNone
	}
}
