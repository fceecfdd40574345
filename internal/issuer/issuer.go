// Package issuer implements the operator's offline license generator: RSA
// keypair generation and issuance of signed paid licenses. It is never linked
// into the shipped application.
package issuer

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/MacJediWizard/ocaquery/internal/license"
	"github.com/filecoin-project/go-clock"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

const (
	// PrivateKeyFile is the operator's signing key inside the keys directory.
	PrivateKeyFile = "private.pem"
	// PublicKeyFile is the matching public key to embed in the application.
	PublicKeyFile = "public.pem"

	// DefaultKeyBits is the RSA modulus size used when none is given.
	DefaultKeyBits = 2048
)

var (
	// ErrPrivateKeyNotFound indicates issue-license was run before generate-keypair.
	ErrPrivateKeyNotFound = errors.New("private key not found, run generate-keypair first")
	// ErrKeyExists indicates generate-keypair would overwrite an existing key.
	ErrKeyExists = errors.New("private key already exists")
	// ErrInvalidDuration indicates a missing or non-positive license duration.
	ErrInvalidDuration = errors.New("license duration must be positive")
)

var unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9]`)

// Config holds configuration for the issuer.
type Config struct {
	Fs        afero.Fs
	KeysDir   string
	OutputDir string
	Clock     clock.Clock
	Logger    zerolog.Logger
}

// Issuer generates keys and issues paid licenses from an operator-controlled
// directory.
type Issuer struct {
	fs        afero.Fs
	keysDir   string
	outputDir string
	clock     clock.Clock
	logger    zerolog.Logger
}

// New creates an issuer.
func New(cfg Config) (*Issuer, error) {
	if cfg.KeysDir == "" {
		return nil, errors.New("keys directory is required")
	}
	if cfg.OutputDir == "" {
		return nil, errors.New("output directory is required")
	}
	fs := cfg.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Issuer{
		fs:        fs,
		keysDir:   cfg.KeysDir,
		outputDir: cfg.OutputDir,
		clock:     clk,
		logger:    cfg.Logger.With().Str("component", "license_issuer").Logger(),
	}, nil
}

// KeyPair describes a freshly generated signing keypair.
type KeyPair struct {
	PrivatePath string
	PublicPath  string
	PublicPEM   []byte
}

// GenerateKeyPair creates a new RSA signing keypair. The private key is
// written with owner-only permissions; the public PEM is returned so the
// operator can embed it in the application. An existing private key is only
// replaced when overwrite is set.
func (i *Issuer) GenerateKeyPair(bits int, overwrite bool) (*KeyPair, error) {
	if bits == 0 {
		bits = DefaultKeyBits
	}
	if bits < license.MinKeyBits {
		return nil, license.ErrWeakKey
	}

	privPath := filepath.Join(i.keysDir, PrivateKeyFile)
	pubPath := filepath.Join(i.keysDir, PublicKeyFile)

	exists, err := afero.Exists(i.fs, privPath)
	if err != nil {
		return nil, fmt.Errorf("check existing key: %w", err)
	}
	if exists && !overwrite {
		return nil, fmt.Errorf("%w: %s", ErrKeyExists, privPath)
	}

	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("generate RSA key: %w", err)
	}
	privPEM, err := license.EncodePrivateKeyPEM(key)
	if err != nil {
		return nil, err
	}
	pubPEM, err := license.EncodePublicKeyPEM(&key.PublicKey)
	if err != nil {
		return nil, err
	}

	if err := i.fs.MkdirAll(i.keysDir, 0700); err != nil {
		return nil, fmt.Errorf("create keys directory: %w", err)
	}
	if err := afero.WriteFile(i.fs, privPath, privPEM, 0600); err != nil {
		return nil, fmt.Errorf("write private key: %w", err)
	}
	if err := afero.WriteFile(i.fs, pubPath, pubPEM, 0644); err != nil {
		return nil, fmt.Errorf("write public key: %w", err)
	}

	i.logger.Info().
		Int("bits", bits).
		Str("private_key", privPath).
		Str("public_key", pubPath).
		Msg("generated license signing keypair")

	return &KeyPair{PrivatePath: privPath, PublicPath: pubPath, PublicPEM: pubPEM}, nil
}

func (i *Issuer) signer() (*license.Signer, error) {
	data, err := afero.ReadFile(i.fs, filepath.Join(i.keysDir, PrivateKeyFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrPrivateKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	return license.NewSignerFromPEM(data)
}

// PublicKey loads the operator's public key from the keys directory.
func (i *Issuer) PublicKey() (*rsa.PublicKey, error) {
	data, err := afero.ReadFile(i.fs, filepath.Join(i.keysDir, PublicKeyFile))
	if errors.Is(err, os.ErrNotExist) {
		signer, sErr := i.signer()
		if sErr != nil {
			return nil, sErr
		}
		return signer.PublicKey(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	return license.ParsePublicKeyPEM(data)
}

// IssueRequest describes a paid license to issue.
type IssueRequest struct {
	Email     string
	Tier      license.Tier
	MachineID string
	// Duration is used when Years and Months are both zero.
	Duration time.Duration
	Years    int
	Months   int
}

// expiry computes the expiry for a license issued at issued.
func (r IssueRequest) expiry(issued time.Time) (time.Time, error) {
	if r.Years < 0 || r.Months < 0 {
		return time.Time{}, ErrInvalidDuration
	}
	if r.Years > 0 || r.Months > 0 {
		return issued.AddDate(r.Years, r.Months, 0), nil
	}
	if r.Duration <= 0 {
		return time.Time{}, ErrInvalidDuration
	}
	return issued.Add(r.Duration), nil
}

// Issued is the result of issuing a license.
type Issued struct {
	Document *license.Document
	JSON     []byte
	Path     string
}

// IssueLicense validates req, signs a paid license with the operator's key
// and writes a copy to the output directory.
func (i *Issuer) IssueLicense(req IssueRequest) (*Issued, error) {
	issued := i.clock.Now().UTC()
	expires, err := req.expiry(issued)
	if err != nil {
		return nil, err
	}

	params := license.PaidLicenseParams{
		Email:     req.Email,
		Tier:      req.Tier,
		MachineID: req.MachineID,
		IssuedAt:  issued,
		ExpiresAt: expires,
	}
	// Argument errors take precedence over missing key material.
	if _, err := license.NewPaidDocument(params); err != nil {
		return nil, err
	}

	signer, err := i.signer()
	if err != nil {
		return nil, err
	}
	doc, err := license.SignPaidLicense(signer, params)
	if err != nil {
		return nil, err
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal license: %w", err)
	}

	if err := i.fs.MkdirAll(i.outputDir, 0700); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	path := filepath.Join(i.outputDir, RecordFilename(doc.Email, issued))
	if err := afero.WriteFile(i.fs, path, data, 0600); err != nil {
		return nil, fmt.Errorf("write license record: %w", err)
	}

	i.logger.Info().
		Str("tier", string(doc.Tier)).
		Time("expires_at", doc.ExpiresAt).
		Str("path", path).
		Msg("issued paid license")

	return &Issued{Document: doc, JSON: data, Path: path}, nil
}

// RecordFilename names the operator's local copy of an issued license.
func RecordFilename(email string, issued time.Time) string {
	safe := unsafeFilenameChars.ReplaceAllString(strings.TrimSpace(email), "_")
	return fmt.Sprintf("license-%s-%d.json", safe, issued.UnixMilli())
}

// VerifyLicense checks a license document with the operator's public key for
// paid licenses and the embedded key for trials. Machine binding is not
// checked because the operator runs on a different host.
func (i *Issuer) VerifyLicense(data []byte) (license.ValidationResult, error) {
	ring, err := license.DefaultKeyRing()
	if err != nil {
		return license.ValidationResult{}, err
	}
	paid, err := i.PublicKey()
	if err != nil {
		return license.ValidationResult{}, err
	}
	ring.Paid = paid

	v := license.NewValidator(license.ValidatorConfig{
		Keys:   ring,
		Clock:  i.clock,
		Logger: i.logger,
	})
	return v.ValidateJSON(data, license.ValidateOptions{SkipMachineCheck: true}), nil
}
