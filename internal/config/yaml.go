package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// YAML support. The file format is JSON; a .yaml/.yml extension is accepted
// by converting the document to JSON first, so one strict decoder (unknown
// fields rejected) validates both formats, at startup and on watcher reload.

func coerceToJSONBytes(path string, data []byte) ([]byte, string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
	default:
		return data, "json", nil
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, "yaml", fmt.Errorf("yaml unmarshal: %w", err)
	}
	b, err := json.Marshal(stringifyKeys(doc))
	if err != nil {
		return nil, "yaml", fmt.Errorf("yaml to json: %w", err)
	}
	return b, "yaml", nil
}

// stringifyKeys rewrites every map in the document with string keys.
// YAML permits non-string keys; encoding/json does not.
func stringifyKeys(in any) any {
	switch doc := in.(type) {
	case map[any]any:
		out := make(map[string]any, len(doc))
		for k, v := range doc {
			out[fmt.Sprint(k)] = stringifyKeys(v)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(doc))
		for k, v := range doc {
			out[k] = stringifyKeys(v)
		}
		return out
	case []any:
		out := make([]any, len(doc))
		for i, v := range doc {
			out[i] = stringifyKeys(v)
		}
		return out
	default:
		return in
	}
}
