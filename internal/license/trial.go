package license

import (
	"fmt"
	"time"

	"github.com/filecoin-project/go-clock"
)

// TrialDuration is the fixed length of a self-issued trial.
const TrialDuration = 30 * 24 * time.Hour

// DefaultTrialEmail is recorded on trials created without an email address.
const DefaultTrialEmail = "trial@local"

// TrialIssuerConfig holds configuration for the trial issuer.
type TrialIssuerConfig struct {
	// Signer defaults to the embedded trial key.
	Signer *Signer
	Clock  clock.Clock
}

// TrialIssuer creates self-signed trial licenses bound to a machine.
type TrialIssuer struct {
	signer *Signer
	clock  clock.Clock
}

// NewTrialIssuer creates a trial issuer.
func NewTrialIssuer(cfg TrialIssuerConfig) (*TrialIssuer, error) {
	signer := cfg.Signer
	if signer == nil {
		s, err := TrialSigner()
		if err != nil {
			return nil, err
		}
		signer = s
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &TrialIssuer{signer: signer, clock: clk}, nil
}

// CreateTrialLicense issues a trial starting at start (now when zero). The
// caller supplies a persisted install date to stop reinstall renewals and must
// not call this when a license is already stored.
func (t *TrialIssuer) CreateTrialLicense(machineID, email string, start time.Time) (*Document, error) {
	if machineID == "" {
		return nil, ErrEmptyMachineID
	}
	if email == "" {
		email = DefaultTrialEmail
	}
	if start.IsZero() {
		start = t.clock.Now()
	}
	start = start.UTC().Truncate(time.Millisecond)

	doc := &Document{
		Version:   Version,
		Type:      TypeTrial,
		Email:     email,
		Tier:      TierTrial,
		MachineID: machineID,
		IssuedAt:  start,
		ExpiresAt: start.Add(TrialDuration),
	}
	if err := t.signer.SignDocument(doc); err != nil {
		return nil, fmt.Errorf("sign trial license: %w", err)
	}
	return doc, nil
}
