package appconfig

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// configSchema describes the on-disk configuration document.
const configSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "openRouterApiKey": {"type": "string"},
    "openRouterUrl": {"type": "string"},
    "referer": {"type": "string"},
    "title": {"type": "string"},
    "defaultModels": {"type": "array", "items": {"type": "string", "minLength": 1}},
    "maxTokens": {"type": "integer", "minimum": 0},
    "temperature": {"type": "number", "minimum": 0, "maximum": 2},
    "remoteTimeout": {"type": "integer", "minimum": 0},
    "localTimeout": {"type": "integer", "minimum": 0},
    "strictContent": {"type": "boolean"},
    "debug": {"type": "boolean"},
    "logFile": {"type": "string"},
    "listenAddr": {"type": "string"},
    "metrics": {"type": "boolean"},
    "metricsFile": {"type": "string"},
    "backends": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "endpoint"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "name": {"type": "string"},
          "model": {"type": "string"},
          "description": {"type": "string"},
          "endpoint": {"type": "string", "minLength": 1},
          "apiKey": {"type": "string"},
          "protocol": {"type": "string", "enum": ["", "ollama", "generate-chat", "openai-compatible", "openai", "llama.cpp", "llamacpp", "custom"]},
          "maxTokens": {"type": "integer", "minimum": 0},
          "temperature": {"type": "number", "minimum": 0, "maximum": 2},
          "enabled": {"type": "boolean"},
          "timeout": {"type": "integer", "minimum": 0},
          "profile": {"type": "string"}
        }
      }
    }
  }
}`

// ValidateSchema checks a JSON configuration document against the configuration schema.
func ValidateSchema(data []byte) error {
	schemaLoader := gojsonschema.NewStringLoader(configSchema)
	documentLoader := gojsonschema.NewBytesLoader(data)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	if result.Valid() {
		return nil
	}

	var issues []string
	for _, desc := range result.Errors() {
		issues = append(issues, desc.String())
	}
	return errors.New("config does not match schema: " + strings.Join(issues, "; "))
}

// ValidateFile schema-checks the JSON file at path. Non-JSON files are left to viper.
func ValidateFile(path string) error {
	if path == "" || !strings.EqualFold(filepath.Ext(path), ".json") {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("could not read config file %q: %w", path, err)
	}
	return ValidateSchema(data)
}
