package vendorapi

import "statuslicense/pkg/security"

// WebhookVerifier authenticates vendor-initiated status pushes.
type WebhookVerifier struct {
	secret []byte
}

func NewWebhookVerifier(secret string) *WebhookVerifier {
	if secret == "" {
		return &WebhookVerifier{}
	}
	return &WebhookVerifier{secret: []byte(secret)}
}

// VerifySignature returns false, never an error, when no key is configured.
func (w *WebhookVerifier) VerifySignature(payload []byte, signature string) bool {
	return security.VerifyHMAC(w.secret, payload, signature)
}
