package analysis

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const schemaURL = "receipt-analysis.json"

// resultSchema describes the shape of models.AnalysisResult: types and
// required keys. Value constraints are enforced by the validation pass so
// that all violations can be reported together. A null items list passes the
// schema and is reported as "no line items".
func resultSchema() map[string]any {
	number := map[string]any{"type": "number"}
	str := map[string]any{"type": "string"}

	return map[string]any{
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"type":    "object",
		"properties": map[string]any{
			"merchantName": str,
			"items": map[string]any{
				"type": []string{"array", "null"},
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"name":       str,
						"quantity":   number,
						"unitPrice":  number,
						"totalPrice": number,
					},
					"required": []string{"name", "quantity", "unitPrice", "totalPrice"},
				},
			},
			"totalAmount": number,
			"currency":    str,
			"categories": map[string]any{
				"type":  []string{"array", "null"},
				"items": str,
			},
		},
		"required": []string{"merchantName", "items", "totalAmount", "currency"},
	}
}

// compileSchema compiles resultSchema and returns it with its JSON rendering
// used in format instructions.
func compileSchema() (*jsonschema.Schema, string, error) {
	b, err := json.MarshalIndent(resultSchema(), "", "  ")
	if err != nil {
		return nil, "", fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaURL, bytes.NewReader(b)); err != nil {
		return nil, "", fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile(schemaURL)
	if err != nil {
		return nil, "", fmt.Errorf("compile schema: %w", err)
	}
	return schema, string(b), nil
}
