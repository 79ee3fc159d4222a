package utils

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// JSONSchema reflects T into an inlined JSON schema map.
func JSONSchema[T any]() (map[string]any, error) {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}

	var value T
	schema := reflector.Reflect(value)

	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return nil, WrapIfNotNil(err)
	}

	var schemaMap map[string]any
	err = json.Unmarshal(schemaJSON, &schemaMap)
	if err != nil {
		return nil, WrapIfNotNil(err)
	}

	return schemaMap, nil
}
