package notification

import "time"

type Kind string

const (
	KindLicenseSuspended    Kind = "license_suspended"
	KindGracePeriodReminder Kind = "grace_period_reminder"
	KindGracePeriodEnded    Kind = "grace_period_ended"
	KindDowngradeNotice     Kind = "downgrade_notice"
	KindExpiryWarning       Kind = "expiry_warning"
)

// Intent is a notification request handed off to the dispatch queue.
// The engine emits intents; delivery channels live behind Sink.
type Intent struct {
	Kind           Kind      `json:"kind"`
	OrganizationID string    `json:"organization_id"`
	LicenseID      string    `json:"license_id"`
	LicenseeEmail  string    `json:"licensee_email,omitempty"`
	LicenseeName   string    `json:"licensee_name,omitempty"`
	Plan           string    `json:"plan,omitempty"`
	DaysRemaining  int       `json:"days_remaining,omitempty"`
	IsUrgent       bool      `json:"is_urgent,omitempty"`
	IsFinal        bool      `json:"is_final,omitempty"`
	ExpiresAt      time.Time `json:"expires_at,omitempty"`
	Detail         string    `json:"detail,omitempty"`
}
