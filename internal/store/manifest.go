package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xeipuuv/gojsonschema"
)

// Manifest is the durability commit point for a version: once it exists the
// payload is fully written. It binds the version to its checksum and metadata.
type Manifest struct {
	ModelName    string            `json:"model_name"`
	Version      string            `json:"version"`
	ModelFile    string            `json:"model_file"`
	Checksum     string            `json:"checksum"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	SiblingFiles []string          `json:"sibling_files,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

const manifestSchema = `{
  "type": "object",
  "required": ["model_name", "version", "model_file", "checksum", "created_at"],
  "properties": {
    "model_name":    {"type": "string", "minLength": 1},
    "version":       {"type": "string", "minLength": 1},
    "model_file":    {"type": "string", "minLength": 1},
    "checksum":      {"type": "string", "pattern": "^[0-9a-f]{64}$"},
    "metadata":      {"type": "object", "additionalProperties": {"type": "string"}},
    "sibling_files": {"type": "array", "items": {"type": "string"}},
    "created_at":    {"type": "string"}
  }
}`

var manifestSchemaLoader = gojsonschema.NewStringLoader(manifestSchema)

// parseManifest validates raw manifest JSON against the schema and decodes it.
// A manifest that fails validation is treated as corrupt by the caller.
func parseManifest(raw []byte) (*Manifest, error) {
	result, err := gojsonschema.Validate(manifestSchemaLoader, gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("validate manifest: %w", err)
	}
	if !result.Valid() {
		return nil, fmt.Errorf("manifest schema violation: %v", result.Errors())
	}

	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return &m, nil
}
