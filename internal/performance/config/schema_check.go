package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed testconfig.schema.json
var testConfigSchema []byte

const schemaResource = "testconfig.schema.json"

var (
	compiledSchema     *jsonschema.Schema
	compiledSchemaErr  error
	compiledSchemaOnce sync.Once
)

func loadSchema() (*jsonschema.Schema, error) {
	compiledSchemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(schemaResource, bytes.NewReader(testConfigSchema)); err != nil {
			compiledSchemaErr = fmt.Errorf("invalid schema: %w", err)
			return
		}
		compiledSchema, compiledSchemaErr = compiler.Compile(schemaResource)
		if compiledSchemaErr != nil {
			compiledSchemaErr = fmt.Errorf("invalid schema: %w", compiledSchemaErr)
		}
	})
	return compiledSchema, compiledSchemaErr
}

// SchemaErrors lists the places where a document does not match the
// configuration schema.
type SchemaErrors []error

func (se SchemaErrors) Error() string {
	var sb strings.Builder
	sb.WriteString("config does not match schema: ")
	for i, err := range se {
		if i > 0 {
			sb.WriteString("; ")
		}
		sb.WriteString(err.Error())
	}
	return sb.String()
}

// CheckSchema validates raw configuration data against the embedded JSON
// schema. YAML documents are converted to their JSON form first.
func CheckSchema(data []byte, format Format) error {
	schema, err := loadSchema()
	if err != nil {
		return err
	}

	doc, err := decodeDocument(data, format)
	if err != nil {
		return err
	}

	if err := schema.Validate(doc); err != nil {
		var validationErr *jsonschema.ValidationError
		if errors.As(err, &validationErr) {
			return extractSchemaErrors(validationErr)
		}
		return err
	}
	return nil
}

// decodeDocument returns data as the generic value tree the schema
// validator expects: maps, slices, strings, bools and json.Number.
func decodeDocument(data []byte, format Format) (interface{}, error) {
	jsonData := data
	if format != FormatJSON {
		var doc interface{}
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
		converted, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("failed to convert YAML config: %w", err)
		}
		jsonData = converted
	}

	dec := json.NewDecoder(bytes.NewReader(jsonData))
	dec.UseNumber()

	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse JSON config: %w", err)
	}
	return doc, nil
}

// extractSchemaErrors flattens the validator's error tree into leaf errors.
func extractSchemaErrors(err *jsonschema.ValidationError) SchemaErrors {
	if len(err.Causes) == 0 {
		location := err.InstanceLocation
		if location == "" {
			location = "/"
		}
		return SchemaErrors{fmt.Errorf("at %s: %s", location, err.Message)}
	}

	var out SchemaErrors
	for _, cause := range err.Causes {
		out = append(out, extractSchemaErrors(cause)...)
	}
	return out
}
