package license

import "errors"

// Reason is the closed set of causes for an invalid license.
type Reason string

const (
	ReasonFormat           Reason = "FormatError"
	ReasonVersionMismatch  Reason = "VersionMismatch"
	ReasonUnknownType      Reason = "UnknownType"
	ReasonUnknownTier      Reason = "UnknownTier"
	ReasonMissingField     Reason = "MissingField"
	ReasonDateParse        Reason = "DateParseError"
	ReasonExpired          Reason = "Expired"
	ReasonClockTamper      Reason = "ClockTamper"
	ReasonMachineMismatch  Reason = "MachineMismatch"
	ReasonSignatureInvalid Reason = "SignatureInvalid"
	ReasonInternal         Reason = "InternalError"
)

// Reasons returns every reason in the order the validator checks for them.
func Reasons() []Reason {
	return []Reason{
		ReasonFormat,
		ReasonVersionMismatch,
		ReasonUnknownType,
		ReasonUnknownTier,
		ReasonMissingField,
		ReasonDateParse,
		ReasonExpired,
		ReasonClockTamper,
		ReasonMachineMismatch,
		ReasonSignatureInvalid,
		ReasonInternal,
	}
}

// Message returns a user-facing description of the reason.
func (r Reason) Message() string {
	switch r {
	case ReasonFormat:
		return "Invalid license format"
	case ReasonVersionMismatch:
		return "License version mismatch"
	case ReasonUnknownType:
		return "Invalid license type"
	case ReasonUnknownTier:
		return "Invalid license tier"
	case ReasonMissingField:
		return "License is missing a required field"
	case ReasonDateParse:
		return "Invalid license dates"
	case ReasonExpired:
		return "License has expired"
	case ReasonClockTamper:
		return "License issued date is in the future"
	case ReasonMachineMismatch:
		return "License is bound to a different machine"
	case ReasonSignatureInvalid:
		return "Invalid license signature"
	case ReasonInternal:
		return "License validation error"
	case "":
		return ""
	default:
		return string(r)
	}
}

var (
	// ErrEmptyMachineID indicates a trial was requested without a machine fingerprint.
	ErrEmptyMachineID = errors.New("machine ID is required")
	// ErrInvalidPublicKey indicates public key material could not be parsed.
	ErrInvalidPublicKey = errors.New("invalid public key")
	// ErrInvalidPrivateKey indicates private key material could not be parsed.
	ErrInvalidPrivateKey = errors.New("invalid private key")
	// ErrWeakKey indicates an RSA key below the minimum modulus size.
	ErrWeakKey = errors.New("RSA key must be at least 2048 bits")
	// ErrNotFound is returned by a Store when nothing has been persisted yet.
	ErrNotFound = errors.New("not found")
)
