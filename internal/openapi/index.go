// Package openapi embeds the OpenAPI description of the eapp HTTP API,
// indexes its operations and serves it to clients.
package openapi

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"slices"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
)

//go:embed eapp.yaml
var embedded []byte

// Operation is one documented route with its parameters resolved.
type Operation struct {
	OperationID  string
	Method       string
	PathTemplate string
	Parameters   []*openapi3.Parameter
	RequestBody  *openapi3.RequestBody
	Responses    *openapi3.Responses
}

// Index looks operations up by operationId or by method and chi-style path
// template.
type Index struct {
	version string
	ops     map[string]Operation
	routes  map[string]string
	body    []byte
}

// Load indexes the embedded API description.
func Load() (*Index, error) {
	return LoadData(embedded)
}

// LoadData parses and validates doc, then indexes it. Duplicate
// operationIds are rejected.
func LoadData(doc []byte) (*Index, error) {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = false

	t, err := loader.LoadFromData(doc)
	if err != nil {
		return nil, fmt.Errorf("openapi: parse: %w", err)
	}
	if err := t.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("openapi: invalid document: %w", err)
	}
	body, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("openapi: encode: %w", err)
	}

	idx := &Index{
		version: t.Info.Version,
		ops:     map[string]Operation{},
		routes:  map[string]string{},
		body:    body,
	}
	for path, item := range t.Paths.Map() {
		for method, op := range item.Operations() {
			if err := idx.add(path, method, item, op); err != nil {
				return nil, err
			}
		}
	}
	return idx, nil
}

func (idx *Index) add(path, method string, item *openapi3.PathItem, op *openapi3.Operation) error {
	if op.OperationID == "" {
		return nil
	}
	if prev, dup := idx.ops[op.OperationID]; dup {
		return fmt.Errorf("openapi: operationId %q used by %s %s and %s %s",
			op.OperationID, prev.Method, prev.PathTemplate, method, path)
	}

	o := Operation{
		OperationID:  op.OperationID,
		Method:       method,
		PathTemplate: path,
		Parameters:   append(resolved(item.Parameters), resolved(op.Parameters)...),
		Responses:    op.Responses,
	}
	if op.RequestBody != nil {
		o.RequestBody = op.RequestBody.Value
	}
	idx.ops[o.OperationID] = o
	idx.routes[routeKey(method, path)] = o.OperationID
	return nil
}

// resolved drops unresolved refs; path-level parameters come first.
func resolved(refs openapi3.Parameters) []*openapi3.Parameter {
	var out []*openapi3.Parameter
	for _, ref := range refs {
		if ref != nil && ref.Value != nil {
			out = append(out, ref.Value)
		}
	}
	return out
}

func routeKey(method, path string) string {
	return strings.ToUpper(method) + " " + path
}

// Version is the document's info.version.
func (idx *Index) Version() string { return idx.version }

func (idx *Index) GetOperation(operationID string) (Operation, bool) {
	op, ok := idx.ops[operationID]
	return op, ok
}

// Lookup maps a method and path template to its operationId.
func (idx *Index) Lookup(method, pathTemplate string) (string, bool) {
	id, ok := idx.routes[routeKey(method, pathTemplate)]
	return id, ok
}

func (idx *Index) AllOperationIDs() []string {
	return slices.Sorted(maps.Keys(idx.ops))
}

// Handler serves the document as JSON.
func (idx *Index) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(idx.body)
	})
}
