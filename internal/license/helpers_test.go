package license

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/filecoin-project/go-clock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const fixtureMachineID = "abc123"

var (
	testKeyOnce sync.Once
	testKey     *rsa.PrivateKey
	testKeyErr  error
)

// testPaidSigner returns a signer backed by a throwaway 2048-bit key shared
// by every test in the package.
func testPaidSigner(t *testing.T) *Signer {
	t.Helper()
	testKeyOnce.Do(func() {
		testKey, testKeyErr = rsa.GenerateKey(rand.Reader, 2048)
	})
	require.NoError(t, testKeyErr)
	s, err := NewSigner(testKey)
	require.NoError(t, err)
	return s
}

// testKeyRing verifies trial documents with the embedded trial key and paid
// documents with the throwaway key from testPaidSigner.
func testKeyRing(t *testing.T) *KeyRing {
	t.Helper()
	trial, err := TrialSigner()
	require.NoError(t, err)
	return &KeyRing{Trial: trial.PublicKey(), Paid: testPaidSigner(t).PublicKey()}
}

func mockClockAt(t time.Time) *clock.Mock {
	m := clock.NewMock()
	m.Set(t)
	return m
}

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return ts
}

func loadFixture(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return data
}

// fixtureFields decodes a fixture into a mutable map.
func fixtureFields(t *testing.T, name string) map[string]any {
	t.Helper()
	var fields map[string]any
	require.NoError(t, json.Unmarshal(loadFixture(t, name), &fields))
	return fields
}

func encodeFields(t *testing.T, fields map[string]any) []byte {
	t.Helper()
	data, err := json.Marshal(fields)
	require.NoError(t, err)
	return data
}

func newTestValidator(t *testing.T, keys *KeyRing, now time.Time, machineID string) *Validator {
	t.Helper()
	return NewValidator(ValidatorConfig{
		Keys:    keys,
		Machine: MachineIDFunc(func() string { return machineID }),
		Clock:   mockClockAt(now),
		Logger:  zerolog.Nop(),
	})
}
