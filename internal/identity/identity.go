// Package identity canonicalizes a contract and derives its stable
// ctx://sha256:<hex> URI.
//
// Derivation is pure: it never touches the network or the cache. The
// only I/O is hashing the directories named by inputs[].path.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf16"

	"github.com/rozetyp/ctxpack/internal/contract"
)

// ShortIDLength is the number of leading hex characters used as the
// OCI registry tag.
const ShortIDLength = 12

const uriPrefix = "ctx://sha256:"

var uriPattern = regexp.MustCompile(`^ctx://sha256:[0-9a-f]{64}$`)

// DigestDirFunc hashes a directory into a lowercase-hex digest. The
// Coordinator supplies digest.DigestDir; tests can substitute a stub.
type DigestDirFunc func(path string) (string, error)

// DeriveURI computes the content-addressed URI of a contract.
//
// Steps (spec-exact): deep-copy the contract, replace any inputs[].path
// with inputs[].digest via digestDir, strip outputs, canonically
// encode with sorted keys at every level, and hash the result.
func DeriveURI(c map[string]contract.Value, digestDir DigestDirFunc) (string, error) {
	copied := deepCopyMap(c)

	if rawInputs, ok := copied["inputs"]; ok {
		inputs, ok := rawInputs.([]contract.Value)
		if !ok {
			return "", fmt.Errorf("contract field %q must be a sequence", "inputs")
		}

		resolved := make([]contract.Value, len(inputs))

		for i, rawItem := range inputs {
			item, ok := rawItem.(map[string]contract.Value)
			if !ok {
				return "", fmt.Errorf("contract inputs[%d] must be a mapping", i)
			}

			item = deepCopyMap(item)

			if rawPath, hasPath := item["path"]; hasPath {
				path, ok := rawPath.(string)
				if !ok {
					return "", fmt.Errorf("contract inputs[%d].path must be a string", i)
				}

				digest, err := digestDir(path)
				if err != nil {
					return "", fmt.Errorf("digest input path %q: %w", path, err)
				}

				item["digest"] = digest
				delete(item, "path")
			}

			resolved[i] = item
		}

		copied["inputs"] = resolved
	}

	delete(copied, "outputs")

	encoded, err := CanonicalJSON(copied)
	if err != nil {
		return "", fmt.Errorf("canonicalize contract: %w", err)
	}

	sum := sha256.Sum256(encoded)

	return uriPrefix + hex.EncodeToString(sum[:]), nil
}

// CanonicalJSON encodes v as JSON with keys sorted at every level,
// ASCII-safe output, and no insignificant whitespace. This is the
// single source of identity: two contracts that canonicalize to the
// same bytes have the same URI.
func CanonicalJSON(v contract.Value) ([]byte, error) {
	var buf strings.Builder

	if err := encodeValue(&buf, v); err != nil {
		return nil, err
	}

	return []byte(buf.String()), nil
}

func encodeValue(buf *strings.Builder, v contract.Value) error {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if t {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case json.Number:
		buf.WriteString(t.String())
	case string:
		encodeString(buf, t)
	case []contract.Value:
		buf.WriteByte('[')

		for i, item := range t {
			if i > 0 {
				buf.WriteByte(',')
			}

			if err := encodeValue(buf, item); err != nil {
				return err
			}
		}

		buf.WriteByte(']')
	case map[string]contract.Value:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}

		sort.Strings(keys)

		buf.WriteByte('{')

		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}

			encodeString(buf, k)
			buf.WriteByte(':')

			if err := encodeValue(buf, t[k]); err != nil {
				return err
			}
		}

		buf.WriteByte('}')
	default:
		return fmt.Errorf("canonical JSON: unsupported value type %T", v)
	}

	return nil
}

// encodeString writes a JSON string literal with every non-ASCII or
// control rune \u-escaped (runes above U+FFFF as a UTF-16 surrogate
// pair), so canonical output never depends on the encoding environment
// reading it back.
func encodeString(buf *strings.Builder, s string) {
	buf.WriteByte('"')

	for _, r := range s {
		switch r {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		default:
			switch {
			case r > 0xffff:
				hi, lo := utf16.EncodeRune(r)
				fmt.Fprintf(buf, `\u%04x\u%04x`, hi, lo)
			case r < 0x20 || r > 0x7e:
				fmt.Fprintf(buf, `\u%04x`, r)
			default:
				buf.WriteRune(r)
			}
		}
	}

	buf.WriteByte('"')
}

func deepCopyMap(m map[string]contract.Value) map[string]contract.Value {
	out := make(map[string]contract.Value, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}

	return out
}

func deepCopyValue(v contract.Value) contract.Value {
	switch t := v.(type) {
	case map[string]contract.Value:
		return deepCopyMap(t)
	case []contract.Value:
		out := make([]contract.Value, len(t))
		for i, item := range t {
			out[i] = deepCopyValue(item)
		}

		return out
	default:
		return v
	}
}

// ParseURI validates the ctx:// URI grammar and returns the full
// 64-character hex digest.
func ParseURI(uri string) (string, error) {
	if !uriPattern.MatchString(uri) {
		return "", fmt.Errorf("malformed ctx URI: %q", uri)
	}

	return strings.TrimPrefix(uri, uriPrefix), nil
}

// ShortID returns the first ShortIDLength hex characters of a URI's
// digest, used as the OCI registry tag.
func ShortID(uri string) (string, error) {
	hex, err := ParseURI(uri)
	if err != nil {
		return "", err
	}

	return hex[:ShortIDLength], nil
}

// URI reconstructs a ctx:// URI from a full 64-character hex digest.
func URI(fullHex string) string {
	return uriPrefix + fullHex
}
