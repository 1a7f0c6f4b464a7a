package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// HashLicenseKey menghasilkan SHA256 hash (hex string) untuk lookup
func HashLicenseKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// MaskKey hides everything past the key prefix so raw keys never reach logs.
func MaskKey(key string) string {
	if len(key) <= 8 {
		return "***"
	}
	return key[:8] + "***"
}

// VerifyHMAC checks an HMAC-SHA256 hex signature in constant time. Returns
// false, never an error, when the secret is empty.
func VerifyHMAC(secret, payload []byte, signatureHex string) bool {
	if len(secret) == 0 {
		return false
	}

	sig, err := hex.DecodeString(signatureHex)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return hmac.Equal(sig, mac.Sum(nil))
}
