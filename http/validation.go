package http

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"

	gamefi "github.com/FJDeFi/Embodied-AI-Agent-for-GameFi-Ecosystem"
)

// Body schemas check shape and types only. Domain rules such as the rarity
// range are enforced by gamefi.ValidateRequest so every surface reports them
// the same way.
const (
	createAssetSchema = `{
		"type": "object",
		"properties": {
			"name": {"type": "string"},
			"category": {"type": "string"},
			"rarity": {"type": "integer"}
		},
		"required": ["name", "category", "rarity"],
		"additionalProperties": false
	}`

	transferAssetSchema = `{
		"type": "object",
		"properties": {
			"assetId": {"type": "integer", "minimum": 0},
			"toAddress": {"type": "string"}
		},
		"required": ["assetId", "toAddress"],
		"additionalProperties": false
	}`
)

var (
	createSchema   = mustSchema(createAssetSchema)
	transferSchema = mustSchema(transferAssetSchema)
)

func mustSchema(src string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(fmt.Sprintf("invalid body schema: %v", err))
	}
	return schema
}

// validateBody checks body against schema. The returned error lists each
// failing field under Details.
func validateBody(schema *gojsonschema.Schema, body []byte, message string) *gamefi.GatewayError {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return gamefi.NewGatewayError(gamefi.ErrCodeValidation, "Request body is not valid JSON", nil)
	}
	if result.Valid() {
		return nil
	}

	details := make(map[string]interface{})
	for _, desc := range result.Errors() {
		field := desc.Field()
		if prop, ok := desc.Details()["property"].(string); ok && field == "(root)" {
			field = prop
		}
		details[field] = desc.Description()
	}
	return gamefi.NewGatewayError(gamefi.ErrCodeValidation, message, details)
}
