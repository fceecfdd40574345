package license

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// Signer produces RSA-SHA256 (PKCS#1 v1.5) signatures over canonical bytes.
// The paid signer only exists inside the offline generator; the trial signer
// is built from the key embedded in the application.
type Signer struct {
	key *rsa.PrivateKey
}

// NewSigner creates a signer for the given private key.
func NewSigner(key *rsa.PrivateKey) (*Signer, error) {
	if key == nil {
		return nil, ErrInvalidPrivateKey
	}
	if key.N.BitLen() < MinKeyBits {
		return nil, ErrWeakKey
	}
	return &Signer{key: key}, nil
}

// NewSignerFromPEM creates a signer from a PEM-encoded private key.
func NewSignerFromPEM(data []byte) (*Signer, error) {
	key, err := ParsePrivateKeyPEM(data)
	if err != nil {
		return nil, err
	}
	return NewSigner(key)
}

// PublicKey returns the verification half of the signing key.
func (s *Signer) PublicKey() *rsa.PublicKey {
	return &s.key.PublicKey
}

// Sign signs canonical bytes and returns the base64 signature.
func (s *Signer) Sign(canonical []byte) (string, error) {
	digest := sha256.Sum256(canonical)
	sig, err := rsa.SignPKCS1v15(rand.Reader, s.key, crypto.SHA256, digest[:])
	if err != nil {
		return "", fmt.Errorf("sign license: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// SignDocument canonicalizes doc and sets its Signature.
func (s *Signer) SignDocument(doc *Document) error {
	canonical, err := Canonicalize(doc)
	if err != nil {
		return err
	}
	sig, err := s.Sign(canonical)
	if err != nil {
		return err
	}
	doc.Signature = sig
	return nil
}

// Verify checks signature against the document's canonical bytes using the
// key ring entry for doc.Type. It never mutates doc and reports false for any
// mismatch, unknown type, missing key or malformed signature encoding.
func Verify(keys *KeyRing, doc *Document, signature string) bool {
	if doc == nil || signature == "" {
		return false
	}
	pub := keys.KeyFor(doc.Type)
	if pub == nil {
		return false
	}

	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}

	canonical, err := Canonicalize(doc)
	if err != nil {
		return false
	}
	digest := sha256.Sum256(canonical)
	return rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], sig) == nil
}
