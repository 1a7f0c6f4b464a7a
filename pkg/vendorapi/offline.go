package vendorapi

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"
)

// OfflineResult is the outcome of a signature-only key verification.
// Verification failure means "cannot confirm valid", never "confirmed
// invalid": policy must not downgrade on it directly.
type OfflineResult struct {
	Valid   bool
	Code    Code
	Detail  string
	Payload *OfflinePayload
}

// OfflinePayload is the signed document embedded in an offline-verifiable
// license key.
type OfflinePayload struct {
	LicenseID string     `json:"lid"`
	PolicyID  string     `json:"pid,omitempty"`
	Plan      string     `json:"plan,omitempty"`
	Expiry    *time.Time `json:"exp,omitempty"`
}

const offlineKeyPrefix = "key/"

// OfflineVerifier checks license keys against a locally configured ed25519
// public key, with no network call. The expected key format is
// "key/<base64 payload>.<base64 signature>"; the signature covers the
// "key/<base64 payload>" segment.
type OfflineVerifier struct {
	publicKey ed25519.PublicKey
}

// NewOfflineVerifier accepts the public key as hex or base64; an empty or
// undecodable key yields a verifier that answers NO_PUBLIC_KEY.
func NewOfflineVerifier(encodedKey string) *OfflineVerifier {
	if encodedKey == "" {
		return &OfflineVerifier{}
	}

	if raw, err := hex.DecodeString(encodedKey); err == nil && len(raw) == ed25519.PublicKeySize {
		return &OfflineVerifier{publicKey: ed25519.PublicKey(raw)}
	}
	if raw, err := base64.StdEncoding.DecodeString(encodedKey); err == nil && len(raw) == ed25519.PublicKeySize {
		return &OfflineVerifier{publicKey: ed25519.PublicKey(raw)}
	}

	return &OfflineVerifier{}
}

func (v *OfflineVerifier) Configured() bool {
	return len(v.publicKey) == ed25519.PublicKeySize
}

// Verify never panics and never performs I/O.
func (v *OfflineVerifier) Verify(licenseKey string) OfflineResult {
	if !v.Configured() {
		return OfflineResult{Valid: false, Code: CodeNoPublicKey, Detail: "no offline verification key configured"}
	}

	if !strings.HasPrefix(licenseKey, offlineKeyPrefix) {
		return OfflineResult{Valid: false, Code: CodeInvalidFormat, Detail: "license key is not offline-verifiable"}
	}

	rest := strings.TrimPrefix(licenseKey, offlineKeyPrefix)
	parts := strings.SplitN(rest, ".", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return OfflineResult{Valid: false, Code: CodeInvalidFormat, Detail: "expected key/<payload>.<signature>"}
	}

	payloadRaw, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return OfflineResult{Valid: false, Code: CodeInvalidFormat, Detail: "payload is not base64"}
	}

	sig, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil || len(sig) != ed25519.SignatureSize {
		return OfflineResult{Valid: false, Code: CodeInvalidFormat, Detail: "signature is not base64"}
	}

	signed := []byte(offlineKeyPrefix + parts[0])
	if !ed25519.Verify(v.publicKey, signed, sig) {
		return OfflineResult{Valid: false, Code: CodeInvalidSignature, Detail: "signature verification failed"}
	}

	var payload OfflinePayload
	if err := json.Unmarshal(payloadRaw, &payload); err != nil {
		return OfflineResult{Valid: false, Code: CodeInvalidFormat, Detail: "payload is not valid JSON"}
	}

	if payload.Expiry != nil && time.Now().After(*payload.Expiry) {
		return OfflineResult{Valid: false, Code: CodeExpired, Detail: "embedded expiry has passed", Payload: &payload}
	}

	return OfflineResult{Valid: true, Code: CodeValid, Payload: &payload}
}
