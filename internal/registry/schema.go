package registry

import (
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// bundleSchemaJSON constrains the wire shape of a published bundle before
// it is unmarshaled into a Bundle: type_id and enum_id keys must be
// non-empty, version keys are object properties validated structurally by
// the unmarshal step afterward (JSON Schema can't express numeric-string
// key patterns cleanly, so only the coarse shape is checked here).
const bundleSchemaJSON = `{
	"type": "object",
	"required": ["bundle_id", "types"],
	"properties": {
		"bundle_id": {"type": "string", "minLength": 1},
		"types": {
			"type": "object",
			"additionalProperties": {
				"type": "object",
				"additionalProperties": {
					"type": "object",
					"additionalProperties": {
						"type": "object",
						"required": ["name", "type"],
						"properties": {
							"name": {"type": "string", "minLength": 1},
							"type": {"type": "string", "minLength": 1},
							"optional": {"type": "boolean"},
							"enum_id": {"type": "string"},
							"nested_type_id": {"type": "string"},
							"semantic": {"type": "string"}
						}
					}
				}
			}
		},
		"enums": {
			"type": "object",
			"additionalProperties": {
				"type": "object",
				"additionalProperties": {"type": "string"}
			}
		}
	}
}`

var (
	bundleSchemaOnce sync.Once
	bundleSchema     *jsonschema.Schema
	bundleSchemaErr  error
)

func compiledBundleSchema() (*jsonschema.Schema, error) {
	bundleSchemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource("bundle.json", strings.NewReader(bundleSchemaJSON)); err != nil {
			bundleSchemaErr = err
			return
		}
		bundleSchema, bundleSchemaErr = c.Compile("bundle.json")
	})
	return bundleSchema, bundleSchemaErr
}

// ValidateBundleShape checks a decoded JSON value (as produced by
// json.Unmarshal into any) against the bundle's structural schema before
// the caller attempts to decode it into a Bundle.
func ValidateBundleShape(v any) error {
	schema, err := compiledBundleSchema()
	if err != nil {
		return err
	}
	return schema.Validate(v)
}
