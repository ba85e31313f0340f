// Package envelope defines the wire form the source pipeline hands to
// hubrelay and turns validated envelopes into engine deliveries.
package envelope

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/agentworkforce/hubrelay/internal/hubspot"
)

const (
	KindTrack    = "track"
	KindIdentify = "identify"
)

const envelopeSchemaJSON = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["type", "message"],
	"properties": {
		"id": {"type": "string"},
		"type": {"enum": ["track", "identify"]},
		"sentAt": {"type": "string"},
		"message": {"type": "object"}
	}
}`

var (
	schemaOnce sync.Once
	schemaErr  error
	schema     *jsonschema.Schema
)

func envelopeSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(envelopeSchemaJSON))
		if err != nil {
			schemaErr = err
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("envelope.json", doc); err != nil {
			schemaErr = err
			return
		}
		schema, schemaErr = compiler.Compile("envelope.json")
	})
	return schema, schemaErr
}

// Envelope is one unit of work from the source pipeline: a track or identify
// message plus a delivery identity used for journaling and deduplication.
type Envelope struct {
	ID      string
	Kind    string
	Message hubspot.Document
}

// Parse validates raw envelope JSON against the schema and builds the typed
// envelope. Envelopes without an id are assigned one.
func Parse(data []byte) (Envelope, error) {
	compiled, err := envelopeSchema()
	if err != nil {
		return Envelope{}, err
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if err := compiled.Validate(doc); err != nil {
		return Envelope{}, fmt.Errorf("validate envelope: %w", err)
	}
	body := doc.(map[string]any)
	id, _ := body["id"].(string)
	if strings.TrimSpace(id) == "" {
		id = uuid.NewString()
	}
	kind, _ := body["type"].(string)
	message, _ := body["message"].(map[string]any)
	return Envelope{
		ID:      id,
		Kind:    kind,
		Message: hubspot.Document(message),
	}, nil
}
