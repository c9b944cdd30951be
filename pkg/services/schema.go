package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nexuspro/flows/pkg/graph"
	"github.com/nexuspro/flows/pkg/models"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// Graph document formats accepted by Decode.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// graphSchema describes the document shape of a graph. Graph semantics are
// checked afterwards by graph.Validate.
const graphSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["name", "nodes", "edges", "entry_node_id"],
  "properties": {
    "id": {"type": "string"},
    "name": {"type": "string", "minLength": 1},
    "description": {"type": "string"},
    "flow": {"enum": ["automation", "chatbot"]},
    "version": {"type": "integer"},
    "entry_node_id": {"type": "string", "minLength": 1},
    "variables": {"type": "object", "additionalProperties": {"type": "string"}},
    "nodes": {
      "type": "object",
      "minProperties": 1,
      "additionalProperties": {"$ref": "#/definitions/node"}
    },
    "edges": {"type": "array", "items": {"$ref": "#/definitions/edge"}}
  },
  "definitions": {
    "duration": {"type": ["string", "number"]},
    "params": {"type": "object", "additionalProperties": {"type": "string"}},
    "node": {
      "type": "object",
      "required": ["id", "kind"],
      "properties": {
        "id": {"type": "string", "minLength": 1},
        "kind": {"enum": ["trigger", "action", "condition", "delay"]},
        "name": {"type": "string"},
        "position_x": {"type": "integer"},
        "position_y": {"type": "integer"},
        "trigger": {
          "type": "object",
          "required": ["type"],
          "properties": {
            "type": {"enum": ["new_lead", "inbound_message", "schedule"]},
            "schedule": {"type": "string"}
          },
          "additionalProperties": false
        },
        "action": {
          "type": "object",
          "required": ["type"],
          "properties": {
            "type": {"type": "string", "minLength": 1},
            "params": {"$ref": "#/definitions/params"},
            "duration": {"$ref": "#/definitions/duration"}
          },
          "additionalProperties": false
        },
        "condition": {
          "type": "object",
          "required": ["expression"],
          "properties": {"expression": {"type": "string", "minLength": 1}},
          "additionalProperties": false
        },
        "delay": {
          "type": "object",
          "required": ["duration"],
          "properties": {"duration": {"$ref": "#/definitions/duration"}},
          "additionalProperties": false
        }
      }
    },
    "edge": {
      "type": "object",
      "required": ["id", "source_node_id", "target_node_id"],
      "properties": {
        "id": {"type": "string", "minLength": 1},
        "source_node_id": {"type": "string", "minLength": 1},
        "source_port": {"type": "string"},
        "target_node_id": {"type": "string", "minLength": 1}
      },
      "additionalProperties": false
    }
  }
}`

var compiledGraphSchema = func() *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(graphSchema))
	if err != nil {
		panic(err)
	}

	return schema
}()

// DetectFormat guesses the format of a graph document: JSON when it starts
// with an object, YAML otherwise.
func DetectFormat(data []byte) string {
	if bytes.HasPrefix(bytes.TrimSpace(data), []byte("{")) {
		return FormatJSON
	}

	return FormatYAML
}

// Decode parses a JSON or YAML graph document and checks it against the
// graph schema. Schema failures come back as a *graph.ValidationError listing
// every mismatch.
func Decode(data []byte, format string) (*models.WorkflowGraph, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = DetectFormat(data)
	}

	var document []byte

	switch format {
	case FormatJSON:
		document = data
	case FormatYAML, "yml":
		var raw any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, NewValidationError("Decode", "invalid_yaml", err.Error(), ErrInvalidRequest)
		}

		converted, err := json.Marshal(raw)
		if err != nil {
			return nil, NewValidationError("Decode", "invalid_yaml", err.Error(), ErrInvalidRequest)
		}

		document = converted
	default:
		return nil, NewValidationError("Decode", "unsupported_format", fmt.Sprintf("format %q", format), ErrUnsupportedFormat)
	}

	result, err := compiledGraphSchema.Validate(gojsonschema.NewBytesLoader(document))
	if err != nil {
		return nil, NewValidationError("Decode", "invalid_document", err.Error(), ErrInvalidRequest)
	}

	if !result.Valid() {
		violations := make([]graph.Violation, 0, len(result.Errors()))
		for _, schemaErr := range result.Errors() {
			violations = append(violations, graph.Violation{Target: schemaErr.Field(), Reason: schemaErr.Description()})
		}

		return nil, &graph.ValidationError{Violations: violations}
	}

	var g models.WorkflowGraph
	if err := json.Unmarshal(document, &g); err != nil {
		return nil, NewValidationError("Decode", "invalid_document", err.Error(), ErrInvalidRequest)
	}

	return &g, nil
}
