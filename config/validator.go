package config

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/c360/editorbridge/errors"
)

// configSchema validates the shape and ranges of the configuration
// document before semantic checks run.
const configSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "server": {
      "type": "object",
      "properties": {
        "port": {"type": "integer", "minimum": 1, "maximum": 65535},
        "path": {"type": "string", "pattern": "^/"}
      },
      "required": ["port", "path"]
    },
    "bridge": {
      "type": "object",
      "properties": {
        "log_capacity": {"type": "integer", "minimum": 1},
        "buffer_timeout_seconds": {"type": "integer", "minimum": 1},
        "liveness_timeout_seconds": {"type": "integer", "minimum": 1},
        "probe_interval_seconds": {"type": "integer", "minimum": 1},
        "sweep_interval_seconds": {"type": "integer", "minimum": 1},
        "request_timeout_seconds": {"type": "integer", "minimum": 1}
      }
    },
    "logging": {
      "type": "object",
      "properties": {
        "level": {"type": "string", "enum": ["debug", "info", "warn", "error"]},
        "format": {"type": "string", "enum": ["json", "text"]}
      }
    }
  },
  "required": ["server", "bridge"]
}`

// validateSchema validates the config against the embedded JSON schema.
func validateSchema(c *Config) error {
	doc, err := json.Marshal(c)
	if err != nil {
		return errors.WrapFatal(err, "config", "validateSchema", "marshal config")
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(configSchema),
		gojsonschema.NewBytesLoader(doc),
	)
	if err != nil {
		return errors.WrapFatal(err, "config", "validateSchema", "run schema validation")
	}

	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}
		return errors.WrapFatal(
			fmt.Errorf("%w: %s", errors.ErrInvalidConfig, strings.Join(details, "; ")),
			"config", "validateSchema", "schema validation")
	}
	return nil
}
