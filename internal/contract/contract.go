// Package contract loads declarative ctxpack contracts from JSON or YAML
// files into a format-independent Value tree.
//
// A contract is an open-ended tree of primitives, ordered sequences, and
// string-keyed mappings. Loading normalizes both source formats into the
// same Go shape so that identity derivation (internal/identity) never
// has to know which format a contract was authored in.
package contract

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Value is a node in a contract tree: nil, bool, json.Number, string,
// []Value (ordered sequence), or map[string]Value (mapping).
type Value = any

// Load reads a contract from path, dispatching on its extension.
// ".json" is parsed as JSON; ".yaml"/".yml" is parsed as YAML and
// normalized into the same shape JSON would produce. Any other
// extension is tried as JSON.
func Load(path string) (map[string]Value, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is an explicit CLI argument
	if err != nil {
		return nil, fmt.Errorf("read contract file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return parseYAML(data)
	default:
		return parseJSON(data)
	}
}

// parseJSON decodes a JSON contract, preserving integers as
// json.Number so canonical re-encoding never introduces a decimal
// point that wasn't in the source.
func parseJSON(data []byte) (map[string]Value, error) {
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()

	var root map[string]Value
	if err := dec.Decode(&root); err != nil {
		return nil, fmt.Errorf("parse contract JSON: %w", err)
	}

	return root, nil
}

// parseYAML decodes a YAML contract and normalizes it into the same
// tree shape parseJSON produces (json.Number for numeric scalars,
// map[string]Value for mappings, []Value for sequences).
func parseYAML(data []byte) (map[string]Value, error) {
	var root map[string]any
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parse contract YAML: %w", err)
	}

	normalized, err := normalize(root)
	if err != nil {
		return nil, err
	}

	asMap, ok := normalized.(map[string]Value)
	if !ok {
		return nil, fmt.Errorf("contract root must be a mapping, got %T", normalized)
	}

	return asMap, nil
}

// normalize walks a yaml.v3-decoded value and converts it into the
// JSON-loader's shape: ints/floats become json.Number, nested mappings
// become map[string]Value, and map[any]any keys (which yaml.v3 only
// produces for non-string keys) are rejected as unsupported.
func normalize(v any) (Value, error) {
	switch t := v.(type) {
	case nil, bool, string:
		return t, nil
	case int:
		return json.Number(strconv.Itoa(t)), nil
	case int64:
		return json.Number(strconv.FormatInt(t, 10)), nil
	case uint64:
		return json.Number(strconv.FormatUint(t, 10)), nil
	case float64:
		return json.Number(strconv.FormatFloat(t, 'g', -1, 64)), nil
	case map[string]any:
		out := make(map[string]Value, len(t))

		for k, val := range t {
			normalizedVal, err := normalize(val)
			if err != nil {
				return nil, err
			}

			out[k] = normalizedVal
		}

		return out, nil
	case []any:
		out := make([]Value, len(t))

		for i, val := range t {
			normalizedVal, err := normalize(val)
			if err != nil {
				return nil, err
			}

			out[i] = normalizedVal
		}

		return out, nil
	default:
		return nil, fmt.Errorf("unsupported contract value type %T", v)
	}
}
