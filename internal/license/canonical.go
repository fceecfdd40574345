package license

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Canonicalize returns the bytes that are signed and verified for a document:
// a compact JSON object of every field except the signature, keys sorted
// lexicographically, without HTML escaping. Signer and verifier must both go
// through this function.
//
// For a parsed document the values are the ones received on the wire, so a
// document signed elsewhere canonicalizes to the bytes its issuer signed
// even when its timestamps are not in TimestampLayout or optional fields are
// absent. A field changed after parsing falls back to its typed value.
func Canonicalize(doc *Document) ([]byte, error) {
	if doc == nil {
		return nil, fmt.Errorf("canonicalize: nil document")
	}
	return CanonicalizeFields(doc.signedFields())
}

// CanonicalizeFields encodes a record deterministically. encoding/json sorts
// map keys, so the result does not depend on insertion order. A "signature"
// key is always dropped. Nested objects keep only keys that also appear at
// the top level, matching JSON.stringify with a key-list replacer.
func CanonicalizeFields(fields map[string]any) ([]byte, error) {
	allowed := make(map[string]bool, len(fields))
	for k := range fields {
		if k != fieldSignature {
			allowed[k] = true
		}
	}
	record := make(map[string]any, len(allowed))
	for k := range allowed {
		record[k] = filterNested(fields[k], allowed)
	}

	out, err := encodeValue(record)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: %w", err)
	}
	return out, nil
}

func filterNested(v any, allowed map[string]bool) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, nested := range x {
			if allowed[k] {
				out[k] = filterNested(nested, allowed)
			}
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, nested := range x {
			out[i] = filterNested(nested, allowed)
		}
		return out
	default:
		return v
	}
}

// signedFields returns the record covered by the signature.
func (d *Document) signedFields() map[string]any {
	fields := map[string]any{
		fieldType:      string(d.Type),
		fieldEmail:     d.Email,
		fieldTier:      string(d.Tier),
		fieldMachineID: d.MachineID,
		fieldIssuedAt:  FormatTimestamp(d.IssuedAt),
		fieldExpiresAt: FormatTimestamp(d.ExpiresAt),
	}
	if d.Version != 0 {
		fields[fieldVersion] = d.Version
	}
	if d.received == nil {
		return fields
	}

	for _, k := range wireOrder {
		v, ok := d.received[k]
		switch {
		case !ok && d.isZero(k):
			delete(fields, k)
		case ok && d.matches(k, v):
			fields[k] = v
		}
	}
	for k, v := range d.received {
		if !isWireField(k) {
			fields[k] = v
		}
	}
	return fields
}

// matches reports whether a received value still describes the typed field.
func (d *Document) matches(key string, v any) bool {
	switch key {
	case fieldVersion:
		if n, ok := v.(float64); ok && n != 0 {
			return n == float64(d.Version)
		}
		return !truthy(v) && d.Version == 0
	case fieldType:
		s, ok := v.(string)
		return ok && s == string(d.Type)
	case fieldTier:
		s, ok := v.(string)
		return ok && s == string(d.Tier)
	case fieldEmail:
		return matchesString(v, d.Email)
	case fieldMachineID:
		return matchesString(v, d.MachineID)
	case fieldIssuedAt:
		return matchesTime(v, d.IssuedAt)
	case fieldExpiresAt:
		return matchesTime(v, d.ExpiresAt)
	}
	return false
}

func (d *Document) isZero(key string) bool {
	switch key {
	case fieldVersion:
		return d.Version == 0
	case fieldType:
		return d.Type == ""
	case fieldTier:
		return d.Tier == ""
	case fieldEmail:
		return d.Email == ""
	case fieldMachineID:
		return d.MachineID == ""
	case fieldIssuedAt:
		return d.IssuedAt.IsZero()
	case fieldExpiresAt:
		return d.ExpiresAt.IsZero()
	}
	return false
}

// matchesString accepts a non-string value for an empty field, since parsing
// leaves the typed field empty in that case.
func matchesString(v any, typed string) bool {
	if s, ok := v.(string); ok {
		return s == typed
	}
	return typed == ""
}

func matchesTime(v any, typed time.Time) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	t, err := ParseTimestamp(s)
	return err == nil && t.Equal(typed)
}

func isWireField(k string) bool {
	if k == fieldSignature {
		return true
	}
	for _, f := range wireOrder {
		if k == f {
			return true
		}
	}
	return false
}

// extraKeys returns the sorted keys of fields that are not wire fields.
func extraKeys(fields map[string]any) []string {
	var keys []string
	for k := range fields {
		if !isWireField(k) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// encodeValue encodes v as compact JSON without HTML escaping. U+2028 and
// U+2029 are written raw, as JSON.stringify does.
func encodeValue(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return unescapeLineSeparators(bytes.TrimSuffix(buf.Bytes(), []byte("\n"))), nil
}

// unescapeLineSeparators rewrites the \u2028 and \u2029 escapes that
// encoding/json always emits. An escape preceded by an escaped backslash is
// literal text and is left alone.
func unescapeLineSeparators(b []byte) []byte {
	if !bytes.Contains(b, []byte(`\u202`)) {
		return b
	}
	out := make([]byte, 0, len(b))
	for i := 0; i < len(b); i++ {
		if b[i] != '\\' {
			out = append(out, b[i])
			continue
		}
		if i+5 < len(b) && b[i+1] == 'u' && string(b[i+2:i+5]) == "202" && (b[i+5] == '8' || b[i+5] == '9') {
			if b[i+5] == '8' {
				out = append(out, "\u2028"...)
			} else {
				out = append(out, "\u2029"...)
			}
			i += 5
			continue
		}
		// Copy any other escape pair whole so an escaped backslash is never
		// mistaken for the start of a \u escape.
		out = append(out, b[i])
		if i+1 < len(b) {
			out = append(out, b[i+1])
			i++
		}
	}
	return out
}
