package license

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignPaidLicense(t *testing.T) {
	signer := testPaidSigner(t)
	issued := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	doc, err := SignPaidLicense(signer, PaidLicenseParams{
		Email:     "  buyer@example.com ",
		Tier:      TierProfessional,
		MachineID: "host-9",
		IssuedAt:  issued,
		ExpiresAt: issued.AddDate(1, 0, 0),
	})
	require.NoError(t, err)

	assert.Equal(t, TypePaid, doc.Type)
	assert.Equal(t, Version, doc.Version)
	assert.Equal(t, "buyer@example.com", doc.Email)
	assert.True(t, Verify(&KeyRing{Paid: signer.PublicKey()}, doc, doc.Signature))
}

func TestNewPaidDocument_InvalidInputs(t *testing.T) {
	issued := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	valid := PaidLicenseParams{
		Email:     "buyer@example.com",
		Tier:      TierEnterprise,
		MachineID: "host-9",
		IssuedAt:  issued,
		ExpiresAt: issued.Add(time.Hour),
	}

	tests := []struct {
		name   string
		modify func(p *PaidLicenseParams)
		want   error
	}{
		{"empty email", func(p *PaidLicenseParams) { p.Email = " " }, ErrMissingEmail},
		{"trial tier", func(p *PaidLicenseParams) { p.Tier = TierTrial }, ErrNotPaidTier},
		{"unknown tier", func(p *PaidLicenseParams) { p.Tier = "gold" }, ErrNotPaidTier},
		{"empty machine id", func(p *PaidLicenseParams) { p.MachineID = "" }, ErrEmptyMachineID},
		{"expiry equals issue", func(p *PaidLicenseParams) { p.ExpiresAt = p.IssuedAt }, ErrInvalidExpiry},
		{"expiry before issue", func(p *PaidLicenseParams) { p.ExpiresAt = p.IssuedAt.Add(-time.Hour) }, ErrInvalidExpiry},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid
			tt.modify(&p)
			doc, err := NewPaidDocument(p)
			assert.Nil(t, doc)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}

	_, err := SignPaidLicense(nil, valid)
	assert.True(t, errors.Is(err, ErrInvalidPrivateKey))
}
