package license

import (
	"fmt"
	"time"

	"github.com/filecoin-project/go-clock"
	"github.com/rs/zerolog"
)

const (
	// ExpiringSoonDays is the threshold for the first expiry warning.
	ExpiringSoonDays = 30

	// ExpiringSoonFinalDays is the threshold for the final expiry warning.
	ExpiringSoonFinalDays = 7

	day = 24 * time.Hour
)

// MachineIDSource returns the fingerprint of the current host.
type MachineIDSource interface {
	MachineID() string
}

// MachineIDFunc adapts a function to MachineIDSource.
type MachineIDFunc func() string

// MachineID implements MachineIDSource.
func (f MachineIDFunc) MachineID() string { return f() }

// ValidationObserver receives the outcome of every validation pass.
type ValidationObserver interface {
	ObserveValidation(result ValidationResult)
}

// ValidateOptions adjusts a single validation pass.
type ValidateOptions struct {
	// SkipMachineCheck suppresses machine binding. Used by operator tooling
	// and self-tests, never by the application's own license check.
	SkipMachineCheck bool
}

// ValidationResult is the outcome of a validation pass. Reason and Message are
// set iff Valid is false; the day counters and License are set iff Valid is
// true.
type ValidationResult struct {
	Valid               bool      `json:"valid"`
	Reason              Reason    `json:"error,omitempty"`
	Message             string    `json:"message,omitempty"`
	DaysRemaining       int       `json:"daysRemaining,omitempty"`
	IsExpiringSoon      bool      `json:"isExpiringSoon,omitempty"`
	IsExpiringSoonFinal bool      `json:"isExpiringSoonFinal,omitempty"`
	License             *Document `json:"license,omitempty"`
}

// Invalid builds a failed result for reason.
func Invalid(reason Reason) ValidationResult {
	return ValidationResult{Reason: reason, Message: reason.Message()}
}

// ResultLabel returns "valid" or the failure reason.
func (r ValidationResult) ResultLabel() string {
	if r.Valid {
		return "valid"
	}
	return string(r.Reason)
}

// ValidatorConfig holds configuration for the validator.
type ValidatorConfig struct {
	Keys     *KeyRing
	Machine  MachineIDSource
	Clock    clock.Clock
	Logger   zerolog.Logger
	Observer ValidationObserver
}

// Validator checks license documents. It holds no mutable state and is safe
// for concurrent use.
type Validator struct {
	keys     *KeyRing
	machine  MachineIDSource
	clock    clock.Clock
	logger   zerolog.Logger
	observer ValidationObserver
}

// NewValidator creates a new license validator.
func NewValidator(cfg ValidatorConfig) *Validator {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Validator{
		keys:     cfg.Keys,
		machine:  cfg.Machine,
		clock:    clk,
		logger:   cfg.Logger.With().Str("component", "license_validator").Logger(),
		observer: cfg.Observer,
	}
}

// ValidateJSON decodes and validates a stored license blob.
func (v *Validator) ValidateJSON(data []byte, opts ValidateOptions) ValidationResult {
	return v.finish(v.guard(func() ValidationResult {
		doc, reason := ParseDocument(data)
		if reason != "" {
			return Invalid(reason)
		}
		return v.check(doc, opts)
	}))
}

// Validate checks an already decoded document. A nil document is a format error.
func (v *Validator) Validate(doc *Document, opts ValidateOptions) ValidationResult {
	return v.finish(v.guard(func() ValidationResult {
		if doc == nil {
			return Invalid(ReasonFormat)
		}
		if doc.Version != 0 && doc.Version != Version {
			return Invalid(ReasonVersionMismatch)
		}
		if !doc.Type.IsValid() {
			return Invalid(ReasonUnknownType)
		}
		if !doc.Tier.IsValid() {
			return Invalid(ReasonUnknownTier)
		}
		if doc.IssuedAt.IsZero() || doc.ExpiresAt.IsZero() {
			return Invalid(ReasonMissingField)
		}
		return v.check(doc, opts)
	}))
}

// guard converts a panic anywhere in the pass into InternalError.
func (v *Validator) guard(fn func() ValidationResult) (result ValidationResult) {
	defer func() {
		if r := recover(); r != nil {
			v.logger.Error().Interface("panic", r).Msg("license validation panicked")
			result = Invalid(ReasonInternal)
		}
	}()
	return fn()
}

func (v *Validator) finish(result ValidationResult) ValidationResult {
	if result.Valid {
		v.logger.Debug().
			Str("tier", string(result.License.Tier)).
			Int("days_remaining", result.DaysRemaining).
			Msg("license valid")
	} else {
		v.logger.Debug().Str("reason", string(result.Reason)).Msg("license invalid")
	}
	if v.observer != nil {
		v.observer.ObserveValidation(result)
	}
	return result
}

// check runs the temporal, identity and cryptographic steps on a structurally
// valid document.
func (v *Validator) check(doc *Document, opts ValidateOptions) ValidationResult {
	now := v.clock.Now()

	if now.After(doc.ExpiresAt) {
		return Invalid(ReasonExpired)
	}
	if doc.IssuedAt.After(now) {
		return Invalid(ReasonClockTamper)
	}

	if doc.MachineID == "" {
		return Invalid(ReasonMissingField)
	}
	if !opts.SkipMachineCheck {
		if v.machine == nil {
			v.logger.Error().Msg("no machine identity source configured")
			return Invalid(ReasonInternal)
		}
		if doc.MachineID != v.machine.MachineID() {
			return Invalid(ReasonMachineMismatch)
		}
	}

	if doc.Signature == "" {
		return Invalid(ReasonMissingField)
	}
	if v.keys.KeyFor(doc.Type) == nil {
		v.logger.Error().Str("type", string(doc.Type)).Msg("no public key for license type")
		return Invalid(ReasonInternal)
	}
	if !Verify(v.keys, doc, doc.Signature) {
		return Invalid(ReasonSignatureInvalid)
	}

	days := DaysRemaining(doc.ExpiresAt.Sub(now))
	return ValidationResult{
		Valid:               true,
		DaysRemaining:       days,
		IsExpiringSoon:      days <= ExpiringSoonDays,
		IsExpiringSoonFinal: days <= ExpiringSoonFinalDays,
		License:             doc,
	}
}

// DaysRemaining returns the ceiling of d in whole days. Non-positive
// durations yield 0.
func DaysRemaining(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + day - 1) / day)
}

// String returns a short human-readable summary of the result.
func (r ValidationResult) String() string {
	if !r.Valid {
		return fmt.Sprintf("invalid (%s): %s", r.Reason, r.Message)
	}
	return fmt.Sprintf("valid %s license, %d days remaining", r.License.Tier.DisplayName(), r.DaysRemaining)
}
