package issuer

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MacJediWizard/ocaquery/internal/license"
	"github.com/filecoin-project/go-clock"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var issuedAt = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestIssuer(t *testing.T) (*Issuer, afero.Fs, *clock.Mock) {
	t.Helper()
	fs := afero.NewMemMapFs()
	clk := clock.NewMock()
	clk.Set(issuedAt)
	iss, err := New(Config{
		Fs:        fs,
		KeysDir:   "/ops/keys",
		OutputDir: "/ops/generated",
		Clock:     clk,
		Logger:    zerolog.Nop(),
	})
	require.NoError(t, err)
	return iss, fs, clk
}

func TestGenerateKeyPair(t *testing.T) {
	iss, fs, _ := newTestIssuer(t)

	kp, err := iss.GenerateKeyPair(0, false)
	require.NoError(t, err)
	assert.Equal(t, "/ops/keys/private.pem", filepath.ToSlash(kp.PrivatePath))
	assert.Contains(t, string(kp.PublicPEM), "BEGIN PUBLIC KEY")

	info, err := fs.Stat(kp.PrivatePath)
	require.NoError(t, err)
	assert.Equal(t, 0, int(info.Mode().Perm()&0077), "private key must be owner-only")

	priv, err := afero.ReadFile(fs, kp.PrivatePath)
	require.NoError(t, err)
	signer, err := license.NewSignerFromPEM(priv)
	require.NoError(t, err)

	pub, err := iss.PublicKey()
	require.NoError(t, err)
	assert.True(t, pub.Equal(signer.PublicKey()))

	t.Run("refuses to overwrite", func(t *testing.T) {
		_, err := iss.GenerateKeyPair(2048, false)
		assert.True(t, errors.Is(err, ErrKeyExists))
	})

	t.Run("overwrite replaces key", func(t *testing.T) {
		kp2, err := iss.GenerateKeyPair(2048, true)
		require.NoError(t, err)
		assert.NotEqual(t, kp.PublicPEM, kp2.PublicPEM)
	})

	t.Run("rejects weak keys", func(t *testing.T) {
		_, err := iss.GenerateKeyPair(1024, true)
		assert.True(t, errors.Is(err, license.ErrWeakKey))
	})
}

func TestIssueLicense(t *testing.T) {
	iss, fs, _ := newTestIssuer(t)
	_, err := iss.GenerateKeyPair(2048, false)
	require.NoError(t, err)

	out, err := iss.IssueLicense(IssueRequest{
		Email:     "customer@example.com",
		Tier:      license.TierProfessional,
		MachineID: "abc123",
		Years:     1,
	})
	require.NoError(t, err)

	doc := out.Document
	assert.Equal(t, license.TypePaid, doc.Type)
	assert.Equal(t, license.TierProfessional, doc.Tier)
	assert.True(t, doc.IssuedAt.Equal(issuedAt), "issuedAt is the literal current time")
	assert.True(t, doc.ExpiresAt.Equal(issuedAt.AddDate(1, 0, 0)))
	assert.Equal(t, "/ops/generated/license-customer_example_com-1704067200000.json", filepath.ToSlash(out.Path))

	stored, err := afero.ReadFile(fs, out.Path)
	require.NoError(t, err)
	assert.Equal(t, out.JSON, stored)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(stored, &fields))
	assert.Equal(t, "2024-01-01T00:00:00.000Z", fields["issuedAt"])
	assert.Equal(t, "2025-01-01T00:00:00.000Z", fields["expiresAt"])

	res, err := iss.VerifyLicense(stored)
	require.NoError(t, err)
	assert.True(t, res.Valid, res.String())
	assert.Equal(t, 366, res.DaysRemaining)
}

func TestIssueLicense_VerifiesInApplication(t *testing.T) {
	iss, _, _ := newTestIssuer(t)
	kp, err := iss.GenerateKeyPair(2048, false)
	require.NoError(t, err)

	out, err := iss.IssueLicense(IssueRequest{
		Email:     "customer@example.com",
		Tier:      license.TierEnterprise,
		MachineID: "host-42",
		Duration:  90 * 24 * time.Hour,
	})
	require.NoError(t, err)

	// Simulates the application after the operator embedded public.pem.
	paid, err := license.ParsePublicKeyPEM(kp.PublicPEM)
	require.NoError(t, err)
	clk := clock.NewMock()
	clk.Set(issuedAt.Add(24 * time.Hour))
	v := license.NewValidator(license.ValidatorConfig{
		Keys:    &license.KeyRing{Paid: paid},
		Machine: license.MachineIDFunc(func() string { return "host-42" }),
		Clock:   clk,
		Logger:  zerolog.Nop(),
	})

	res := v.ValidateJSON(out.JSON, license.ValidateOptions{})
	require.True(t, res.Valid, res.String())
	assert.Equal(t, 89, res.DaysRemaining)
}

func TestIssueLicense_InvalidRequests(t *testing.T) {
	iss, _, _ := newTestIssuer(t)
	_, err := iss.GenerateKeyPair(2048, false)
	require.NoError(t, err)

	valid := IssueRequest{Email: "a@b.c", Tier: license.TierEnterprise, MachineID: "m", Months: 6}

	tests := []struct {
		name   string
		modify func(r *IssueRequest)
		want   error
	}{
		{"missing email", func(r *IssueRequest) { r.Email = "" }, license.ErrMissingEmail},
		{"trial tier", func(r *IssueRequest) { r.Tier = license.TierTrial }, license.ErrNotPaidTier},
		{"unknown tier", func(r *IssueRequest) { r.Tier = "platinum" }, license.ErrNotPaidTier},
		{"missing machine id", func(r *IssueRequest) { r.MachineID = "" }, license.ErrEmptyMachineID},
		{"no duration", func(r *IssueRequest) { r.Months = 0 }, ErrInvalidDuration},
		{"negative years", func(r *IssueRequest) { r.Years = -1 }, ErrInvalidDuration},
		{"negative duration", func(r *IssueRequest) { r.Months = 0; r.Duration = -time.Hour }, ErrInvalidDuration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid
			tt.modify(&req)
			out, err := iss.IssueLicense(req)
			assert.Nil(t, out)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestIssueLicense_WithoutKeys(t *testing.T) {
	iss, _, _ := newTestIssuer(t)
	_, err := iss.IssueLicense(IssueRequest{Email: "a@b.c", Tier: license.TierProfessional, MachineID: "m", Years: 1})
	assert.True(t, errors.Is(err, ErrPrivateKeyNotFound))

	_, err = iss.PublicKey()
	assert.True(t, errors.Is(err, ErrPrivateKeyNotFound))
}

func TestVerifyLicense_DetectsTampering(t *testing.T) {
	iss, _, _ := newTestIssuer(t)
	_, err := iss.GenerateKeyPair(2048, false)
	require.NoError(t, err)
	out, err := iss.IssueLicense(IssueRequest{Email: "a@b.c", Tier: license.TierProfessional, MachineID: "m", Years: 1})
	require.NoError(t, err)

	tampered := strings.Replace(string(out.JSON), `"professional"`, `"enterprise"`, 1)
	res, err := iss.VerifyLicense([]byte(tampered))
	require.NoError(t, err)
	assert.Equal(t, license.ReasonSignatureInvalid, res.Reason)
}

func TestRecordFilename(t *testing.T) {
	ts := time.UnixMilli(1700000000123)
	assert.Equal(t, "license-j_doe_corp_example_co_uk-1700000000123.json", RecordFilename("j.doe+corp@example.co.uk", ts))
	assert.Equal(t, "license-___-1700000000123.json", RecordFilename("../", ts))
}

func TestNew_RequiresDirs(t *testing.T) {
	_, err := New(Config{OutputDir: "/o"})
	assert.Error(t, err)
	_, err = New(Config{KeysDir: "/k"})
	assert.Error(t, err)
}
