package testutil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/legacy"
)

// OpenAPIValidator checks requests and responses against api/openapi/openapi.yaml.
type OpenAPIValidator struct {
	router routers.Router
}

// NewOpenAPIValidator loads the spec at specPath or fails the test.
func NewOpenAPIValidator(t *testing.T, specPath string) *OpenAPIValidator {
	t.Helper()

	v, err := LoadOpenAPIValidator(specPath)
	if err != nil {
		t.Fatalf("load OpenAPI validator: %v", err)
	}
	return v
}

// LoadOpenAPIValidator loads and validates the OpenAPI document. Use it from TestMain.
func LoadOpenAPIValidator(specPath string) (*OpenAPIValidator, error) {
	loader := openapi3.NewLoader()

	doc, err := loader.LoadFromFile(specPath)
	if err != nil {
		return nil, fmt.Errorf("load OpenAPI spec from %s: %w", specPath, err)
	}

	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("validate OpenAPI spec: %w", err)
	}

	router, err := legacy.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("create OpenAPI router: %w", err)
	}

	return &OpenAPIValidator{router: router}, nil
}

// Probes answer in plain text and are not described by the document.
func skipValidation(path string) bool {
	return path == "/healthz" || path == "/readyz"
}

func (v *OpenAPIValidator) findRoute(t *testing.T, method, path string) (*routers.Route, map[string]string, bool) {
	t.Helper()

	routeReq, err := http.NewRequest(method, path, nil)
	if err != nil {
		t.Errorf("create route request: %v", err)
		return nil, nil, false
	}

	route, params, err := v.router.FindRoute(routeReq)
	if err != nil {
		t.Errorf("OpenAPI: no route found for %s %s: %v", method, path, err)
		return nil, nil, false
	}
	return route, params, true
}

// ValidateRequest checks req, including its body, against the document.
// The body is restored afterwards.
func (v *OpenAPIValidator) ValidateRequest(t *testing.T, req *http.Request) {
	t.Helper()

	if skipValidation(req.URL.Path) {
		return
	}

	route, params, ok := v.findRoute(t, req.Method, req.URL.Path)
	if !ok {
		return
	}

	var body []byte
	if req.Body != nil {
		body, _ = io.ReadAll(req.Body)
		req.Body = io.NopCloser(bytes.NewReader(body))
	}

	clone := req.Clone(context.Background())
	clone.Body = io.NopCloser(bytes.NewReader(body))

	input := &openapi3filter.RequestValidationInput{
		Request:    clone,
		PathParams: params,
		Route:      route,
		Options: &openapi3filter.Options{
			MultiError:         true,
			AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
		},
	}

	if err := openapi3filter.ValidateRequest(context.Background(), input); err != nil {
		t.Errorf("OpenAPI request validation failed for %s %s: %v", req.Method, req.URL.Path, err)
	}
}

// ValidateResponse checks a response status, headers and body against the
// operation matching req.
func (v *OpenAPIValidator) ValidateResponse(t *testing.T, req *http.Request, status int, header http.Header, body []byte) {
	t.Helper()

	if skipValidation(req.URL.Path) {
		return
	}

	route, params, ok := v.findRoute(t, req.Method, req.URL.Path)
	if !ok {
		return
	}

	input := &openapi3filter.ResponseValidationInput{
		RequestValidationInput: &openapi3filter.RequestValidationInput{
			Request:    req,
			PathParams: params,
			Route:      route,
		},
		Status: status,
		Header: header,
		Body:   io.NopCloser(bytes.NewReader(body)),
		Options: &openapi3filter.Options{
			MultiError:            true,
			IncludeResponseStatus: true,
		},
	}

	if err := openapi3filter.ValidateResponse(context.Background(), input); err != nil {
		errMsg := err.Error()
		if len(errMsg) > 500 {
			errMsg = errMsg[:500] + "..."
		}
		t.Errorf("OpenAPI response validation failed for %s %s (status %d):\n%s\nResponse body: %s",
			req.Method, req.URL.Path, status, errMsg, truncateBody(body))
	}
}

// ValidateRecorder validates an in-process handler exchange.
func (v *OpenAPIValidator) ValidateRecorder(t *testing.T, req *http.Request, rec *httptest.ResponseRecorder) {
	t.Helper()
	v.ValidateResponse(t, req, rec.Code, rec.Header(), rec.Body.Bytes())
}

func truncateBody(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
