package config

import (
	_ "embed"
	"fmt"

	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaSource []byte

// ValidateWithCue validates raw YAML configuration against the embedded
// CUE schema. Structural errors (wrong types, out-of-range values)
// surface here before decoding.
func ValidateWithCue(yamlBytes []byte) error {
	var configData map[string]interface{}
	if err := yaml.Unmarshal(yamlBytes, &configData); err != nil {
		return fmt.Errorf("cannot unmarshal YAML config: %w", err)
	}

	ctx := cuecontext.New()
	schemaVal := ctx.CompileBytes(schemaSource)
	if err := schemaVal.Err(); err != nil {
		return fmt.Errorf("cannot compile schema: %w", err)
	}
	configVal := ctx.Encode(configData)
	if err := configVal.Err(); err != nil {
		return fmt.Errorf("cannot encode config: %w", err)
	}

	if err := schemaVal.Subsume(configVal); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}
