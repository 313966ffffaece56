package workflow

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

//go:embed workflow.schema.json
var schemaJSON []byte

var (
	workflowSchema *jsonschema.Schema
	compileOnce    sync.Once
	compileErr     error
)

// compileSchema compiles the embedded schema once.
func compileSchema() error {
	compileOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
		if err != nil {
			compileErr = fmt.Errorf("unmarshal workflow schema: %w", err)
			return
		}

		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("workflow.schema.json", doc); err != nil {
			compileErr = fmt.Errorf("add workflow schema resource: %w", err)
			return
		}

		workflowSchema, err = compiler.Compile("workflow.schema.json")
		if err != nil {
			compileErr = fmt.Errorf("compile workflow schema: %w", err)
		}
	})
	return compileErr
}

// validate checks YAML data against the workflow schema. The YAML is
// converted to its JSON data model first.
func validate(data []byte) error {
	if err := compileSchema(); err != nil {
		return err
	}

	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parsing workflow: %w", err)
	}
	if raw == nil {
		return fmt.Errorf("workflow is empty")
	}

	encoded, err := json.Marshal(normalize(raw))
	if err != nil {
		return fmt.Errorf("converting workflow: %w", err)
	}
	var v any
	if err := json.Unmarshal(encoded, &v); err != nil {
		return fmt.Errorf("converting workflow: %w", err)
	}

	if err := workflowSchema.Validate(v); err != nil {
		return fmt.Errorf("workflow validation failed: %w", err)
	}
	return nil
}

// normalize rewrites maps with non-string keys so they can be encoded as JSON.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			t[k] = normalize(val)
		}
		return t
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalize(val)
		}
		return out
	case []any:
		for i, val := range t {
			t[i] = normalize(val)
		}
		return t
	}
	return v
}
