package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Inbound payloads whose shape clients control get schema-checked before the
// engine touches them. Structural rules live here; dynamic limits (name
// length, chat length) are clamped by the engine from config.

const userSchemaJSON = `{
  "type": "object",
  "properties": {
    "type": { "const": "user" },
    "name": { "type": "string", "minLength": 1, "maxLength": 32 },
    "position": {
      "type": "array",
      "items": { "type": "integer" },
      "minItems": 3,
      "maxItems": 3
    },
    "avatar": { "type": "string", "maxLength": 4096 },
    "emotes": {
      "type": "array",
      "items": { "enum": ["wvy", "shk", "rbw", "spn"] },
      "maxItems": 4,
      "uniqueItems": true
    }
  },
  "additionalProperties": false
}`

const blockSchemaJSON = `{
  "type": "object",
  "properties": {
    "type": { "const": "block" },
    "coords": {
      "type": "array",
      "items": { "type": "integer" },
      "minItems": 3,
      "maxItems": 3
    },
    "value": { "type": "integer", "minimum": 0, "maximum": 8 }
  },
  "required": ["coords"],
  "additionalProperties": false
}`

const echoSchemaJSON = `{
  "type": "object",
  "properties": {
    "type": { "const": "echo" },
    "position": {
      "type": "array",
      "items": { "type": "integer" },
      "minItems": 3,
      "maxItems": 3
    },
    "text": { "type": "string", "maxLength": 512 }
  },
  "required": ["position", "text"],
  "additionalProperties": false
}`

type Schemas struct {
	user  *jsonschema.Schema
	block *jsonschema.Schema
	echo  *jsonschema.Schema
}

func CompileSchemas() (*Schemas, error) {
	compile := func(name, src string) (*jsonschema.Schema, error) {
		s, err := jsonschema.CompileString(name+".schema.json", src)
		if err != nil {
			return nil, fmt.Errorf("compile %s schema: %w", name, err)
		}
		return s, nil
	}

	var s Schemas
	var err error
	if s.user, err = compile("user", userSchemaJSON); err != nil {
		return nil, err
	}
	if s.block, err = compile("block", blockSchemaJSON); err != nil {
		return nil, err
	}
	if s.echo, err = compile("echo", echoSchemaJSON); err != nil {
		return nil, err
	}
	return &s, nil
}

// MustCompileSchemas is for tests and startup paths where the embedded
// schemas are known-good.
func MustCompileSchemas() *Schemas {
	s, err := CompileSchemas()
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Schemas) ValidateUser(raw []byte) error  { return validateRaw(s.user, raw) }
func (s *Schemas) ValidateBlock(raw []byte) error { return validateRaw(s.block, raw) }
func (s *Schemas) ValidateEcho(raw []byte) error  { return validateRaw(s.echo, raw) }

func validateRaw(schema *jsonschema.Schema, raw []byte) error {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	return schema.Validate(v)
}

// ValidationText reduces a schema error to a one-line, field-naming message
// suitable for a reject payload.
func ValidationText(err error) string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return err.Error()
	}
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	field := strings.TrimPrefix(ve.InstanceLocation, "/")
	if field == "" {
		return ve.Message
	}
	return field + ": " + ve.Message
}
