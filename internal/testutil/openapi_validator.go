package testutil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/legacy"
)

// Endpoints that serve text, HTML or the document itself.
var unvalidatedPaths = map[string]struct{}{
	"/healthz":          {},
	"/readyz":           {},
	"/docs":             {},
	"/api/openapi.yaml": {},
}

// OpenAPIValidator checks API exchanges against the OpenAPI document.
type OpenAPIValidator struct {
	router routers.Router
}

// LoadOpenAPIValidator loads and validates the document at specPath.
func LoadOpenAPIValidator(specPath string) (*OpenAPIValidator, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromFile(specPath)
	if err != nil {
		return nil, fmt.Errorf("load openapi document %s: %w", specPath, err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("validate openapi document: %w", err)
	}

	router, err := legacy.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("build openapi router: %w", err)
	}
	return &OpenAPIValidator{router: router}, nil
}

// Check validates the request that was sent, with its payload, and the
// response it produced. The response body is restored for the caller.
func (v *OpenAPIValidator) Check(t *testing.T, req *http.Request, payload []byte, resp *http.Response) {
	t.Helper()

	if _, skip := unvalidatedPaths[req.URL.Path]; skip {
		return
	}

	// The router matches on the path alone, without the test server host.
	routeReq, err := http.NewRequest(req.Method, req.URL.RequestURI(), nil)
	if err != nil {
		t.Errorf("openapi: build route request: %v", err)
		return
	}
	route, params, err := v.router.FindRoute(routeReq)
	if err != nil {
		t.Errorf("openapi: no route for %s %s: %v", req.Method, req.URL.Path, err)
		return
	}

	replay := req.Clone(context.Background())
	replay.Body = io.NopCloser(bytes.NewReader(payload))

	input := &openapi3filter.RequestValidationInput{
		Request:    replay,
		PathParams: params,
		Route:      route,
		Options:    &openapi3filter.Options{MultiError: true},
	}
	// Negative tests send malformed requests on purpose. Only the response
	// contract is enforced for them.
	if resp.StatusCode < http.StatusBadRequest {
		if err := openapi3filter.ValidateRequest(context.Background(), input); err != nil {
			t.Errorf("openapi: request %s %s: %s", req.Method, req.URL.Path, clip(err.Error(), 500))
		}
	}

	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(body))
	if err != nil {
		t.Errorf("openapi: read response body: %v", err)
		return
	}

	err = openapi3filter.ValidateResponse(context.Background(), &openapi3filter.ResponseValidationInput{
		RequestValidationInput: input,
		Status:                 resp.StatusCode,
		Header:                 resp.Header,
		Body:                   io.NopCloser(bytes.NewReader(body)),
		Options: &openapi3filter.Options{
			MultiError:            true,
			IncludeResponseStatus: true,
		},
	})
	if err != nil {
		t.Errorf("openapi: response %s %s (status %d): %s\nbody: %s",
			req.Method, req.URL.Path, resp.StatusCode, clip(err.Error(), 500), clip(string(body), 200))
	}
}

func clip(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
