package api

import (
	"embed"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schemas/*.json
var schemaFiles embed.FS

const (
	schemaActivity     = "activity"
	schemaDayTemplate  = "day_template"
	schemaWeekTemplate = "week_template"
	schemaApplyDay     = "apply_day"
)

// validators holds the compiled request body schemas.
type validators map[string]*gojsonschema.Schema

func loadValidators() (validators, error) {
	v := validators{}
	for _, name := range []string{schemaActivity, schemaDayTemplate, schemaWeekTemplate, schemaApplyDay} {
		data, err := schemaFiles.ReadFile("schemas/" + name + ".json")
		if err != nil {
			return nil, fmt.Errorf("failed to read schema %s: %w", name, err)
		}
		schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to create schema %s: %w", name, err)
		}
		v[name] = schema
	}
	return v, nil
}

// validate checks body against the named schema and returns a readable
// list of violations.
func (v validators) validate(name string, body []byte) error {
	schema, ok := v[name]
	if !ok {
		return fmt.Errorf("unknown schema %q", name)
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if !result.Valid() {
		var errs []string
		for _, desc := range result.Errors() {
			errs = append(errs, desc.String())
		}
		return fmt.Errorf("validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
