// Package llms builds core/context.Tool values from typed Go structs via
// JSON Schema reflection, so a tool's parameters are declared once as a
// Go type instead of hand-written JSON.
package llms

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/invopop/jsonschema"

	convctx "github.com/voxloop/conductor/core/context"
)

var reflector = jsonschema.Reflector{DoNotReference: true}

// NewTool reflects Input's type into a JSON Schema and wraps handler into
// a convctx.Tool. Input is used only for its type; handler receives the
// JSON-decoded value of that type on every call.
func NewTool[Input any](name, description string, handler func(Input) (any, error)) convctx.Tool {
	var zero Input
	schema := reflector.Reflect(zero)

	return convctx.Tool{
		Name:        name,
		Description: description,
		Schema:      schema,
		Call: func(input any) (any, error) {
			typed, err := decode[Input](input)
			if err != nil {
				return nil, fmt.Errorf("decode tool input for %q: %w", name, err)
			}
			return handler(typed)
		},
	}
}

// decode accepts either a JSON-shaped map/raw message (the common case,
// from a wire LLM client) or a value that is already the right concrete
// type (the common case in tests).
func decode[T any](input any) (T, error) {
	var out T
	if typed, ok := input.(T); ok {
		return typed, nil
	}
	if reflect.ValueOf(input).Kind() == reflect.Invalid {
		return out, nil
	}
	raw, err := json.Marshal(input)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, err
	}
	return out, nil
}
