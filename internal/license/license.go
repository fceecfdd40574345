// Package license provides license documents, signing, validation and feature
// gating for the OCA query tool.
package license

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Version is the only license document format version this build understands.
const Version = 1

// TimestampLayout is the wire format for issuedAt/expiresAt: ISO-8601 UTC with
// millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// Type identifies which trust domain issued a license.
type Type string

const (
	// TypeTrial is self-issued by the application with the embedded trial key.
	TypeTrial Type = "trial"
	// TypePaid is issued by the operator's offline generator.
	TypePaid Type = "paid"
)

// IsValid checks if the type is a recognized value.
func (t Type) IsValid() bool {
	return t == TypeTrial || t == TypePaid
}

// Tier represents the entitlement level of a license.
type Tier string

const (
	// TierTrial is the time-limited evaluation tier.
	TierTrial Tier = "trial"
	// TierProfessional is the paid tier for individual users.
	TierProfessional Tier = "professional"
	// TierEnterprise is the paid tier with no limits.
	TierEnterprise Tier = "enterprise"
)

// ValidTiers returns all valid license tiers.
func ValidTiers() []Tier {
	return []Tier{TierTrial, TierProfessional, TierEnterprise}
}

// PaidTiers returns the tiers the offline generator may issue.
func PaidTiers() []Tier {
	return []Tier{TierProfessional, TierEnterprise}
}

// IsValid checks if the tier is a recognized value.
func (t Tier) IsValid() bool {
	for _, valid := range ValidTiers() {
		if t == valid {
			return true
		}
	}
	return false
}

// IsPaid reports whether the tier can only be granted by a paid license.
func (t Tier) IsPaid() bool {
	for _, paid := range PaidTiers() {
		if t == paid {
			return true
		}
	}
	return false
}

// DisplayName returns the human-readable tier name.
func (t Tier) DisplayName() string {
	switch t {
	case TierTrial:
		return "Trial"
	case TierProfessional:
		return "Professional"
	case TierEnterprise:
		return "Enterprise"
	default:
		return string(t)
	}
}

// Document is a signed, time-bounded, machine-bound license.
// Any field change after signing invalidates Signature.
type Document struct {
	Version   int
	Type      Type
	Email     string
	Tier      Tier
	MachineID string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Signature string

	// received holds the decoded wire values, signature excluded, of a
	// parsed document. Nil for documents built in Go.
	received map[string]any
}

// Wire field names in emission order. The signature always comes last.
const (
	fieldVersion   = "version"
	fieldType      = "type"
	fieldEmail     = "email"
	fieldTier      = "tier"
	fieldMachineID = "machineId"
	fieldIssuedAt  = "issuedAt"
	fieldExpiresAt = "expiresAt"
	fieldSignature = "signature"
)

var wireOrder = []string{
	fieldVersion, fieldType, fieldEmail, fieldTier, fieldMachineID, fieldIssuedAt, fieldExpiresAt,
}

// FormatTimestamp renders t in the wire timestamp layout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp parses an RFC 3339 timestamp or a bare UTC date.
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		d, dErr := time.Parse(time.DateOnly, s)
		if dErr != nil {
			return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
		}
		t = d
	}
	return t.UTC(), nil
}

// Unsigned returns a copy of the document with the signature removed.
func (d *Document) Unsigned() *Document {
	c := *d
	c.Signature = ""
	return &c
}

// IsTrial reports whether the document was self-issued by the application.
func (d *Document) IsTrial() bool {
	return d.Type == TypeTrial
}

// MarshalJSON emits the wire form in the conventional field order. A zero
// version and an empty signature are omitted. Values of a parsed document are
// written back as received unless the field has since been changed.
func (d Document) MarshalJSON() ([]byte, error) {
	fields := d.signedFields()

	keys := make([]string, 0, len(fields)+1)
	for _, k := range wireOrder {
		if _, ok := fields[k]; ok {
			keys = append(keys, k)
		}
	}
	keys = append(keys, extraKeys(fields)...)
	if d.Signature != "" {
		fields[fieldSignature] = d.Signature
		keys = append(keys, fieldSignature)
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := encodeValue(k)
		if err != nil {
			return nil, err
		}
		val, err := encodeValue(fields[k])
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", k, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes the wire form. It is lenient about absent fields;
// use ParseDocument when the structural reason matters.
func (d *Document) UnmarshalJSON(data []byte) error {
	doc, reason := ParseDocument(data)
	if reason != "" {
		return &ParseError{Reason: reason}
	}
	*d = *doc
	return nil
}

// ParseError reports why a document could not be decoded.
type ParseError struct {
	Reason Reason
}

func (e *ParseError) Error() string {
	return "parse license: " + e.Reason.Message()
}

// ParseDocument decodes a wire document and runs the structural checks that
// precede temporal, identity and signature checks. An empty Reason means the
// returned document is well formed. Each field is classified on its own, so
// a value of the wrong JSON type fails the step that owns the field.
func ParseDocument(data []byte) (*Document, Reason) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, ReasonFormat
	}

	var raw map[string]any
	if err := json.Unmarshal(trimmed, &raw); err != nil || raw == nil {
		return nil, ReasonFormat
	}

	doc := &Document{}

	if v := raw[fieldVersion]; truthy(v) {
		if n, ok := v.(float64); !ok || n != Version {
			return nil, ReasonVersionMismatch
		}
		doc.Version = Version
	}

	typ, _ := raw[fieldType].(string)
	if !Type(typ).IsValid() {
		return nil, ReasonUnknownType
	}
	doc.Type = Type(typ)

	tier, _ := raw[fieldTier].(string)
	if !Tier(tier).IsValid() {
		return nil, ReasonUnknownTier
	}
	doc.Tier = Tier(tier)

	if !truthy(raw[fieldIssuedAt]) || !truthy(raw[fieldExpiresAt]) {
		return nil, ReasonMissingField
	}
	issuedRaw, ok1 := raw[fieldIssuedAt].(string)
	expiresRaw, ok2 := raw[fieldExpiresAt].(string)
	if !ok1 || !ok2 {
		return nil, ReasonDateParse
	}
	issuedAt, err := ParseTimestamp(issuedRaw)
	if err != nil {
		return nil, ReasonDateParse
	}
	expiresAt, err := ParseTimestamp(expiresRaw)
	if err != nil {
		return nil, ReasonDateParse
	}
	doc.IssuedAt = issuedAt
	doc.ExpiresAt = expiresAt

	doc.Email, _ = raw[fieldEmail].(string)
	doc.MachineID, _ = raw[fieldMachineID].(string)
	doc.Signature, _ = raw[fieldSignature].(string)

	delete(raw, fieldSignature)
	doc.received = raw

	return doc, ""
}

// truthy reports whether a decoded JSON value counts as present: not null,
// false, zero or the empty string.
func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case float64:
		return x != 0
	case string:
		return x != ""
	default:
		return true
	}
}
