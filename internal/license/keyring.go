package license

import (
	"crypto/rsa"
	"crypto/x509"
	_ "embed"
	"encoding/pem"
	"fmt"
)

// MinKeyBits is the smallest RSA modulus accepted for license keys.
const MinKeyBits = 2048

//go:embed keys/trial_public.pem
var trialPublicKeyPEM []byte

// paid_public.pem is replaced by the operator after running
// `licensegen generate-keypair`.
//
//go:embed keys/paid_public.pem
var paidPublicKeyPEM []byte

// KeyRing holds the public keys used to verify each license type.
type KeyRing struct {
	Trial *rsa.PublicKey
	Paid  *rsa.PublicKey
}

// KeyFor returns the verification key for a license type, or nil.
func (k *KeyRing) KeyFor(t Type) *rsa.PublicKey {
	if k == nil {
		return nil
	}
	switch t {
	case TypeTrial:
		return k.Trial
	case TypePaid:
		return k.Paid
	default:
		return nil
	}
}

// DefaultKeyRing parses the public keys embedded in the application.
func DefaultKeyRing() (*KeyRing, error) {
	trial, err := ParsePublicKeyPEM(trialPublicKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("trial public key: %w", err)
	}
	paid, err := ParsePublicKeyPEM(paidPublicKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("paid public key: %w", err)
	}
	return &KeyRing{Trial: trial, Paid: paid}, nil
}

// TrialPublicKeyPEM returns the embedded trial public key.
func TrialPublicKeyPEM() []byte {
	return append([]byte(nil), trialPublicKeyPEM...)
}

// PaidPublicKeyPEM returns the embedded paid public key.
func PaidPublicKeyPEM() []byte {
	return append([]byte(nil), paidPublicKeyPEM...)
}

// ParsePublicKeyPEM decodes a PKIX ("PUBLIC KEY") or PKCS#1 ("RSA PUBLIC KEY")
// RSA public key.
func ParsePublicKeyPEM(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block", ErrInvalidPublicKey)
	}

	var pub *rsa.PublicKey
	switch block.Type {
	case "PUBLIC KEY":
		key, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
		}
		rsaKey, ok := key.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("%w: not an RSA key", ErrInvalidPublicKey)
		}
		pub = rsaKey
	case "RSA PUBLIC KEY":
		key, err := x509.ParsePKCS1PublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
		}
		pub = key
	default:
		return nil, fmt.Errorf("%w: unexpected PEM type %q", ErrInvalidPublicKey, block.Type)
	}

	if pub.N.BitLen() < MinKeyBits {
		return nil, ErrWeakKey
	}
	return pub, nil
}

// ParsePrivateKeyPEM decodes a PKCS#8 ("PRIVATE KEY") or PKCS#1
// ("RSA PRIVATE KEY") RSA private key.
func ParsePrivateKeyPEM(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block", ErrInvalidPrivateKey)
	}

	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("%w: not an RSA key", ErrInvalidPrivateKey)
		}
		return rsaKey, nil
	}

	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
	}
	return key, nil
}

// EncodePublicKeyPEM encodes a public key as PKIX PEM.
func EncodePublicKeyPEM(pub *rsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// EncodePrivateKeyPEM encodes a private key as PKCS#8 PEM.
func EncodePrivateKeyPEM(priv *rsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("marshal private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}
