package config

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

func isYAML(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// yamlToJSON re-encodes a YAML document as JSON so the strict JSON decoder
// handles both formats. An empty document becomes {}.
func yamlToJSON(data []byte) ([]byte, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if doc == nil {
		return []byte("{}"), nil
	}
	v, err := jsonCompatible(doc, "")
	if err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

// jsonCompatible rejects mapping keys that are not strings; JSON objects
// cannot carry them and a config never needs them.
func jsonCompatible(in any, at string) (any, error) {
	switch x := in.(type) {
	case map[string]any:
		for k, v := range x {
			cv, err := jsonCompatible(v, at+"."+k)
			if err != nil {
				return nil, err
			}
			x[k] = cv
		}
		return x, nil
	case map[any]any:
		out := make(map[string]any, len(x))
		for k, v := range x {
			ks, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("yaml %s: non-string key %v", strings.TrimPrefix(at, "."), k)
			}
			cv, err := jsonCompatible(v, at+"."+ks)
			if err != nil {
				return nil, err
			}
			out[ks] = cv
		}
		return out, nil
	case []any:
		for i, v := range x {
			cv, err := jsonCompatible(v, fmt.Sprintf("%s[%d]", at, i))
			if err != nil {
				return nil, err
			}
			x[i] = cv
		}
		return x, nil
	}
	return in, nil
}

// fingerprint identifies a decoded config, so a save that only touches
// comments or formatting is not republished.
func fingerprint(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	h := fnv.New64a()
	if err := json.NewEncoder(h).Encode(cfg); err != nil {
		return 0
	}
	return h.Sum64()
}
