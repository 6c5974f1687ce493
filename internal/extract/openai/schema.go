package openai

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// buildInvoiceJSONSchema returns the JSON Schema the model must answer with. Amounts may come
// back as numbers or as the text printed on the document; both are normalized later.
func buildInvoiceJSONSchema() map[string]any {
	line := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"description":   textProp(),
			"product_code":  textProp(),
			"unit":          textProp(),
			"quantity":      amountProp(),
			"unit_price":    amountProp(),
			"line_price":    amountProp(),
			"amount":        amountProp(),
			"tax_indicator": textProp(),
			"discount":      textProp(),
			"reference":     textProp(),
		},
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"supplier_name":    textProp(),
			"supplier_tax_id":  textProp(),
			"supplier_address": textProp(),
			"customer_name":    textProp(),
			"customer_tax_id":  textProp(),
			"customer_address": textProp(),
			"invoice_number":   textProp(),
			"invoice_date":     textProp(),
			"sale_date":        textProp(),
			"print_date":       textProp(),
			"delivery_date":    textProp(),
			"due_date":         textProp(),
			"currency":         map[string]any{"type": []string{"string", "null"}, "maxLength": 3},
			"subtotal":         amountProp(),
			"total_tax":        amountProp(),
			"invoice_total":    amountProp(),
			"lines":            map[string]any{"type": "array", "items": line},
		},
		"required": []string{"lines"},
	}
}

func textProp() map[string]any {
	return map[string]any{"type": []string{"string", "null"}}
}

func amountProp() map[string]any {
	return map[string]any{"type": []string{"number", "string", "null"}}
}

// validateJSONAgainstSchema validates data against schemaMap.
func validateJSONAgainstSchema(schemaMap map[string]any, data []byte) error {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(b)); err != nil {
		return fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}
