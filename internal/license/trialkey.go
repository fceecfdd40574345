package license

import (
	"encoding/base64"
	"fmt"
	"sync"
)

// The trial private key ships inside the application so it can self-issue
// trial licenses. It is XOR-obfuscated against a passphrase assembled from
// fragments at runtime. This is a deterrent against casual extraction only;
// anyone with the binary can recover the key. Paid licenses never depend on it.

var trialPassphraseFragments = []string{"qT7#", "ocaQ", "-shield", "/2025", "!xv"}

var trialKeyBlob = "" +
	"XHkaDkIhJBZkPUg5NyUybmZ1En5kIVtceRoOZS4oGGgFOSAnLSBufHJVXlAQHRgTDlRfISAA" +
	"aDUpKDYvJmRRR1VSchI3FhF2YgAqIxB8NykzAl9dGFQGRExCAA57PV1UJEwJH1oeATghLyV3" +
	"XVtqRHhAPRdlU0UNMAg0VSc4HEpdMBxTd19tbw44FGFxU0RaUThDNRs4FV4OXntKVT9sExI4" +
	"P2V6CVJZJnwgUR5ORwp2QEZbXlkCPCJlVmgLMRAFHkcEGSAtKmZrX1ZAcB8vRQwAeVwnBz9e" +
	"JyAYMy4nJUFpdGJPNhUcM2EVFhYjCUZBDRMCR1NXYmBBf2ZXIBYGYhAkLlUrZEcsUBQ0EU11" +
	"R1seajNFFwFFewgkUSN9Kh9jLycoG0dEflpHNxIiOxxIPS85J3waGBE/VSdpZllceRgtAT04" +
	"AGw/JSckYkUpJhwOBkxkegZEZxoMBhUGGwwuFFtjGl8NVCIofXxEdQNVPxciGQF3IhsuZx9F" +
	"DVwOOjNEdlF2f2RNODIXfnkiJjY1bBFDBFYuXHtVVXwAUi0vIWJ4KVlRCAlVMBAxJAspbXNx" +
	"d3ZGHzMwBE5HLgwoF0AULFlUJgkAcFxQWkYUREMWeWldJQonQQcSIz0VJxZaZQN9Qjp8KGN/" +
	"Ry4KImZ9CiY5DCEJRXR7XU9rTC4AFmRAWxNTN2g1AicUGxQXVnxzVEkKJBRhXhokAhliaUsq" +
	"IjYdDRt0AjhETkEENBZuQCINUR1hNFgILycBaFNJVl1pIS5FFVVrJVQRIUEqAC0vDhRmBlkA" +
	"c1kSGiQ1eWFWFwgZejk4UCokbn5nXAoedS44MmB+chZXJ2J3AQYzBg82eXhgUGJOCS8nJgV5" +
	"FyZSNnoHPjksOw8aVwR4TEAsEhNleko+EhQSXitiIBMBPRZbAQpeRisPEAx1DA4tWSVsQCMb" +
	"FhtQS1t1WEcTOxEiMWQXDhUuGkAGBT0kBit8VH9oX3gBLgM7YWUrWms1WQQkJjA2BVxwU39b" +
	"URpCBBlcUlwwOClIFlFQIwsKfwNVVnJqDEIJBWZoLQQwFURHBz1TKgJtS3twb3AcRhYYPWFA" +
	"MAw6YxA+XT8GEV1VRGp/RjcEGDBOSjohJmkfEBw5KAQnZHAFfGRGGSwaP29EGwIoEGgLWVpW" +
	"GwkAGVZhdEdyQTwVdkQsNg4FRzwpIiNcJ1ZXaQAFUSwYIiVgFyFVKQliNSoxM0MwQHp+XX1W" +
	"IAZBIGMIFxoDHUwfAygnAk9mVTpaZnEZQz8gGHAKAio+T1xfBi4hLW5AR0VncDM0FgVzeSkT" +
	"U356SwY/AD9cWkVEZ0xYSgM4I08bPSYnElUdCQUWZgxpelx7VHQzRzo2AGU3BFhnWxk8UDYt" +
	"JlgEdFseTQFAFmZkWQpVWDBORx8xNQ8RQVtoW0dVVzIaMXZ0VjA7AWx5LkILJUsYWUBqTBkg" +
	"RyYTXUJeBVVgGzs7QjIAI3pEUkF7Vj89Mh0GTSAaDh5MXCEPUgEGVQdjXVZMGR09EGdAF2lY" +
	"JVQjJiUUWVJYeXJVc2oLBxs7VWcBTFc/dEReHCE4MR50ckpPcU1BPGZQR1sCKBVvCgQ/VAUh" +
	"Y2JaRkdXIQUzXnhICgtQAFkAKR9SWAxWQQhEXWdXAzlkYlkuGjZ6Tj8hPj0dMmEBZXRWRwI7" +
	"Ph11cgBIMSJ9GQ9QVwZde1RcZm0rHkQSP1NsBhkWI15FEC5XIRdEa35BWApKExweU2g4IggA" +
	"FAdeGlE5DEEFdgRYdjc5BBxaVxU7BT1sHC8oKCUCSDhKWmIZORowJ39bXykwPERKCQdTIT5o" +
	"WUNnZUhNMB8sXnMAKi9+QCcyEFECBWNDZlwDcjMzFxF1FR4gLzxjKikgbyInYEhRfFpRUzMG" +
	"OGRLCRYFAx0gXgUnXgtudFgAbWJXPloZXXEdWhsjYSU9JzxVBVd0f2tvUAI0IS1HVlgbKRAn" +
	"S1kxICQXGGt9Yw1QDQRHZn8SJgBSJ3UFLlodNA1cdkdiDUVTTgRsdEQ2JiA/bBxZLRYKDldZ" +
	"WVpMbkpDOHscDGUpBBoYNxIELAEgHFNlQGNmGTU+M0MbCyIWP0shHS5OHR5sQkdUeHk7RB9m" +
	"XUcCUVM1YRs+LTM1Bn90dAJ3Vk8he2JkF0Q1LxRGGjAqKBsyfXRgYVNYUx9GNgcXAFEoKUwU" +
	"MBoRAVFGW3J8XUU2PRAxXHYgTCoTVEI7UQ8vHn5fCQY/Qj5PHwRGcQ4ULAlbFjIdThs2bHxh" +
	"GWwccltceRoOKi0lcX0hIT8kOCEPeXVrGAxVW1xe"

var (
	trialSignerOnce sync.Once
	trialSigner     *Signer
	trialSignerErr  error
)

func trialPassphrase() []byte {
	var p []byte
	for _, f := range trialPassphraseFragments {
		p = append(p, f...)
	}
	return p
}

// xorStream applies a repeating-key XOR. It is its own inverse.
func xorStream(data, key []byte) []byte {
	out := make([]byte, len(data))
	if len(key) == 0 {
		copy(out, data)
		return out
	}
	for i, b := range data {
		out[i] = b ^ key[i%len(key)]
	}
	return out
}

// ObfuscateKey encodes a PEM private key into the blob format embedded above.
// Operators use it when rotating the trial keypair.
func ObfuscateKey(pemData []byte) string {
	return base64.StdEncoding.EncodeToString(xorStream(pemData, trialPassphrase()))
}

// DeobfuscateKey reverses ObfuscateKey.
func DeobfuscateKey(blob string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return nil, fmt.Errorf("decode trial key blob: %w", err)
	}
	return xorStream(raw, trialPassphrase()), nil
}

// TrialSigner returns the signer for self-issued trial licenses. The key is
// decoded once per process.
func TrialSigner() (*Signer, error) {
	trialSignerOnce.Do(func() {
		pemData, err := DeobfuscateKey(trialKeyBlob)
		if err != nil {
			trialSignerErr = err
			return
		}
		trialSigner, trialSignerErr = NewSignerFromPEM(pemData)
		if trialSignerErr != nil {
			trialSignerErr = fmt.Errorf("trial signing key: %w", trialSignerErr)
		}
	})
	return trialSigner, trialSignerErr
}
