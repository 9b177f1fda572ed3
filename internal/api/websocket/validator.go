package websocket

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema/subscribe-v1.json
var subscribeSchemaJSON string

// Validator checks client requests against the embedded JSON schema.
type Validator struct {
	schema *jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	compiler := jsonschema.NewCompiler()

	if err := compiler.AddResource("subscribe-v1.json",
		strings.NewReader(subscribeSchemaJSON)); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}

	schema, err := compiler.Compile("subscribe-v1.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}

	return &Validator{schema: schema}, nil
}

// ParseSubscribe validates data and decodes it.
func (v *Validator) ParseSubscribe(data []byte) (SubscribeRequest, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return SubscribeRequest{}, fmt.Errorf("invalid JSON: %w", err)
	}

	if err := v.schema.Validate(doc); err != nil {
		return SubscribeRequest{}, fmt.Errorf("schema validation failed: %w", err)
	}

	var req SubscribeRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return SubscribeRequest{}, fmt.Errorf("failed to unmarshal request: %w", err)
	}
	return req, nil
}
