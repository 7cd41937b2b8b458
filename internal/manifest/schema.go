package manifest

import (
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const manifestSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["version", "repos"],
  "additionalProperties": false,
  "properties": {
    "version": {"type": "integer"},
    "workspace": {"type": "string"},
    "defaults": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "host": {"type": "string"},
        "namespace": {"type": "string"},
        "fallback_branch": {"type": "string"},
        "retry_count": {"type": "integer", "minimum": 1},
        "retry_delay_seconds": {"type": "integer", "minimum": 0}
      }
    },
    "repos": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["name"],
        "additionalProperties": false,
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "host": {"type": "string"},
          "namespace": {"type": "string"},
          "branch": {"type": "string"},
          "fallback_branch": {"type": "string"},
          "retry_count": {"type": "integer", "minimum": 1},
          "retry_delay_seconds": {"type": "integer", "minimum": 0}
        }
      }
    }
  }
}`

var manifestSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	raw, err := jsonschema.UnmarshalJSON(strings.NewReader(manifestSchemaJSON))
	if err != nil {
		panic(err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("manifest.schema.json", raw); err != nil {
		panic(err)
	}

	schema, err := compiler.Compile("manifest.schema.json")
	if err != nil {
		panic(err)
	}

	return schema
}
