package types

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// typedDataSchema describes the eth_signTypedData_v4 payload shape accepted
// from the pricing backend.
const typedDataSchema = `{
  "type": "object",
  "required": ["types", "primaryType", "domain", "message"],
  "properties": {
    "types": {
      "type": "object",
      "minProperties": 1,
      "additionalProperties": {
        "type": "array",
        "items": {
          "type": "object",
          "required": ["name", "type"],
          "properties": {
            "name": {"type": "string", "minLength": 1},
            "type": {"type": "string", "minLength": 1}
          }
        }
      }
    },
    "primaryType": {"type": "string", "minLength": 1},
    "domain": {
      "type": "object",
      "properties": {
        "name": {"type": "string"},
        "version": {"type": "string"},
        "verifyingContract": {"type": "string"}
      }
    },
    "message": {"type": "object"}
  }
}`

var typedDataSchemaLoader = gojsonschema.NewStringLoader(typedDataSchema)

// ValidateTypedData checks a raw typed-data payload against the expected
// schema and reports every violation in a single error.
func ValidateTypedData(raw []byte) error {
	result, err := gojsonschema.Validate(typedDataSchemaLoader, gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("typed data schema validation failed: %w", err)
	}
	if result.Valid() {
		return nil
	}

	var problems []string
	for _, desc := range result.Errors() {
		problems = append(problems, fmt.Sprintf("%s: %s", desc.Context().String(), desc.Description()))
	}
	return fmt.Errorf("invalid typed data: %s", strings.Join(problems, "; "))
}

// ToTypedData validates and unmarshals bytes to typed data
func ToTypedData(data []byte) (*TypedData, error) {
	if err := ValidateTypedData(data); err != nil {
		return nil, err
	}
	var td TypedData
	if err := json.Unmarshal(data, &td); err != nil {
		return nil, err
	}
	return &td, nil
}
