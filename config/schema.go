// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package config

import (
	_ "embed"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/soothill/printer-power-manager/pkg/errors"
	"github.com/soothill/printer-power-manager/pkg/util"
)

//go:embed schema.json
var schemaJSON []byte

// ValidateWithSchema checks a configuration file against the embedded JSON
// schema. Unlike Validate it also rejects unknown keys.
//
// Example usage:
//
//	err := config.ValidateWithSchema("config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
func ValidateWithSchema(configPath string) error {
	schemaLoader := gojsonschema.NewBytesLoader(schemaJSON)

	configData, err := util.ReadFileSafely(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	var configObj any
	err = yaml.Unmarshal(configData, &configObj)
	if err != nil {
		return fmt.Errorf("failed to parse config YAML: %w", err)
	}

	configJSON, err := json.Marshal(configObj)
	if err != nil {
		return fmt.Errorf("failed to convert config to JSON: %w", err)
	}

	documentLoader := gojsonschema.NewBytesLoader(configJSON)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	if !result.Valid() {
		return formatValidationErrors(result.Errors())
	}

	return nil
}

// formatValidationErrors formats JSON schema validation errors into a readable message
func formatValidationErrors(results []gojsonschema.ResultError) error {
	if len(results) == 0 {
		return nil
	}

	var b strings.Builder
	b.WriteString("configuration validation errors:\n")
	for i, r := range results {
		fmt.Fprintf(&b, "  %d. %s: %s\n", i+1, r.Field(), r.Description())
	}
	return errors.NewConfigError("schema", "", stderrors.New(b.String()))
}

// GetSchemaJSON returns the embedded JSON schema.
func GetSchemaJSON() string {
	return string(schemaJSON)
}
