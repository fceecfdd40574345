package license

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrMissingEmail indicates a paid license was requested without an email.
	ErrMissingEmail = errors.New("email is required")
	// ErrNotPaidTier indicates a tier that the offline generator may not issue.
	ErrNotPaidTier = errors.New("tier must be professional or enterprise")
	// ErrInvalidExpiry indicates an expiry that does not follow issuance.
	ErrInvalidExpiry = errors.New("expiry must be after issue time")
)

// PaidLicenseParams describes a paid license to issue offline.
type PaidLicenseParams struct {
	Email     string
	Tier      Tier
	MachineID string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// NewPaidDocument validates params and builds an unsigned paid document.
func NewPaidDocument(p PaidLicenseParams) (*Document, error) {
	email := strings.TrimSpace(p.Email)
	if email == "" {
		return nil, ErrMissingEmail
	}
	if !p.Tier.IsPaid() {
		return nil, fmt.Errorf("%w: %q", ErrNotPaidTier, p.Tier)
	}
	machineID := strings.TrimSpace(p.MachineID)
	if machineID == "" {
		return nil, ErrEmptyMachineID
	}
	issued := p.IssuedAt.UTC().Truncate(time.Millisecond)
	expires := p.ExpiresAt.UTC().Truncate(time.Millisecond)
	if !expires.After(issued) {
		return nil, ErrInvalidExpiry
	}

	return &Document{
		Version:   Version,
		Type:      TypePaid,
		Email:     email,
		Tier:      p.Tier,
		MachineID: machineID,
		IssuedAt:  issued,
		ExpiresAt: expires,
	}, nil
}

// SignPaidLicense builds and signs a paid document with the operator's key.
func SignPaidLicense(signer *Signer, p PaidLicenseParams) (*Document, error) {
	if signer == nil {
		return nil, ErrInvalidPrivateKey
	}
	doc, err := NewPaidDocument(p)
	if err != nil {
		return nil, err
	}
	if err := signer.SignDocument(doc); err != nil {
		return nil, fmt.Errorf("sign paid license: %w", err)
	}
	return doc, nil
}
