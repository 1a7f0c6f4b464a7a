package billing

import (
	"time"

	"gorm.io/datatypes"
)

type EventType string

const (
	EventLicenseActivated     EventType = "license_activated"
	EventLicenseDeactivated   EventType = "license_deactivated"
	EventEntitlementsSynced   EventType = "entitlements_synced"
	EventValidationFailed     EventType = "validation_failed"
	EventGracePeriodStarted   EventType = "grace_period_started"
	EventGracePeriodReminder  EventType = "grace_period_reminder"
	EventGracePeriodRecovered EventType = "grace_period_recovered"
	EventGracePeriodEnded     EventType = "grace_period_ended"
	EventDowngraded           EventType = "downgraded"
)

type Source string

const (
	SourceSystem        Source = "system"
	SourceVendorWebhook Source = "vendor_webhook"
	SourceAdmin         Source = "admin"
)

// BillingEvent is one row in the append-only license audit ledger.
// Events are never updated or deleted after creation, except by
// organization-level cascade deletion.
type BillingEvent struct {
	ID             string         `json:"id" gorm:"primaryKey"`
	OrganizationID string         `json:"organization_id" gorm:"index"`
	LicenseID      string         `json:"license_id" gorm:"index"`
	Type           EventType      `json:"type"`
	Source         Source         `json:"source"`
	Detail         string         `json:"detail"`
	PreviousState  datatypes.JSON `json:"previous_state"`
	NewState       datatypes.JSON `json:"new_state"`
	Metadata       datatypes.JSON `json:"metadata"`
	CreatedAt      time.Time      `json:"created_at" gorm:"index"`
}

func (BillingEvent) TableName() string {
	return "billing_events"
}
