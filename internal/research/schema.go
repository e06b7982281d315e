package research

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mohammad-safakhou/deepresearch/internal/helpers"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

const (
	schemaDecision = "decision.json"
	schemaOutline  = "outline.json"
	schemaQueries  = "queries.json"
	schemaSections = "sections.json"
)

var (
	compileOnce sync.Once
	schemas     map[string]*jsonschema.Schema
	compileErr  error
)

func compiledSchemas() (map[string]*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		names := []string{schemaDecision, schemaOutline, schemaQueries, schemaSections}
		for _, name := range names {
			raw, err := schemaFS.ReadFile("schemas/" + name)
			if err != nil {
				compileErr = fmt.Errorf("read schema %s: %w", name, err)
				return
			}
			if err := compiler.AddResource(name, bytes.NewReader(raw)); err != nil {
				compileErr = fmt.Errorf("add schema resource %s: %w", name, err)
				return
			}
		}
		out := make(map[string]*jsonschema.Schema, len(names))
		for _, name := range names {
			s, err := compiler.Compile(name)
			if err != nil {
				compileErr = fmt.Errorf("compile schema %s: %w", name, err)
				return
			}
			out[name] = s
		}
		schemas = out
	})
	return schemas, compileErr
}

// decodeModelJSON pulls the first JSON value out of a model reply, validates it
// against the named schema and decodes it into out.
func decodeModelJSON(reply, schemaName string, out any) error {
	all, err := compiledSchemas()
	if err != nil {
		return err
	}
	raw, err := helpers.ExtractJSON(reply)
	if err != nil {
		return fmt.Errorf("model reply has no JSON: %w", err)
	}
	var doc interface{}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return fmt.Errorf("model reply is not valid JSON: %w", err)
	}
	if err := all[schemaName].Validate(doc); err != nil {
		return fmt.Errorf("model reply does not match %s: %w", schemaName, err)
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("decode %s: %w", schemaName, err)
	}
	return nil
}
