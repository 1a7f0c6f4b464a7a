package license

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusExpired   Status = "expired"
	StatusSuspended Status = "suspended"
	StatusRevoked   Status = "revoked"
)

type GraceState string

// Grace sub-states. "expired" means the grace period elapsed and the
// organization was downgraded; only a fresh activation leaves it.
const (
	GraceStateNone    GraceState = "none"
	GraceStateActive  GraceState = "active"
	GraceStateExpired GraceState = "expired"
)

type ValidationOutcome string

const (
	ResultSuccess ValidationOutcome = "success"
	ResultFailed  ValidationOutcome = "failed"
	ResultNone    ValidationOutcome = ""
)

// License is the locally persisted view of an organization's vendor
// license. One license per organization.
type License struct {
	ID             string `json:"id" gorm:"primaryKey"`
	OrganizationID string `json:"organization_id" gorm:"uniqueIndex"`

	VendorLicenseID string `json:"vendor_license_id" gorm:"index"`
	PolicyID        string `json:"policy_id"`
	Plan            string `json:"plan"`

	// Key is the raw vendor key, needed for revalidation calls. KeyHash
	// is what lookups and logs use; the raw key never appears in either.
	Key       string `json:"-"`
	KeyHash   string `json:"-" gorm:"index"`
	KeyMasked string `json:"key_masked"`

	Status    Status     `json:"status" gorm:"index"`
	ValidFrom *time.Time `json:"valid_from"`
	ExpiresAt *time.Time `json:"expires_at"`

	LastValidatedAt      *time.Time        `json:"last_validated_at"`
	LastValidationResult ValidationOutcome `json:"last_validation_result"`
	LastValidationCode   string            `json:"last_validation_code"`
	ConsecutiveFailures  int               `json:"consecutive_failures"`

	GraceState     GraceState     `json:"grace_state" gorm:"index"`
	GraceStartedAt *time.Time     `json:"grace_started_at"`
	GraceEndsAt    *time.Time     `json:"grace_ends_at"`
	// GraceMilestones records which reminder thresholds already fired,
	// as a JSON array of days-remaining values. Monotonic: values are
	// added, never removed, while a grace period runs.
	GraceMilestones datatypes.JSON `json:"grace_milestones"`

	// Entitlements caches the merged entitlement set from the last
	// successful validation so reads never need the vendor.
	Entitlements datatypes.JSON `json:"entitlements"`

	MachineID          string `json:"machine_id"`
	MachineFingerprint string `json:"machine_fingerprint"`
	MachineName        string `json:"machine_name"`

	LicenseeName  string `json:"licensee_name"`
	LicenseeEmail string `json:"licensee_email"`

	Metadata datatypes.JSON `json:"metadata"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

func (License) TableName() string {
	return "licenses"
}

// InGrace reports whether a grace period is currently running.
func (l *License) InGrace() bool {
	return l.GraceState == GraceStateActive
}

// ValidationType classifies what produced a validation attempt.
type ValidationType string

const (
	ValidationOnline    ValidationType = "online"
	ValidationOffline   ValidationType = "offline"
	ValidationScheduled ValidationType = "scheduled"
	ValidationManual    ValidationType = "manual"
)

// ValidationRecord is one row in the validation audit trail.
type ValidationRecord struct {
	ID                 string    `json:"id" gorm:"primaryKey"`
	LicenseID          string    `json:"license_id" gorm:"index"`
	Type               string    `json:"type"` // online | offline | scheduled | manual
	Valid              bool      `json:"valid"`
	Code               string    `json:"code"`
	Detail             string    `json:"detail"`
	Source             string    `json:"source"` // vendor | offline
	MachineFingerprint string    `json:"machine_fingerprint,omitempty"`
	CreatedAt          time.Time `json:"created_at" gorm:"index"`
}

func (ValidationRecord) TableName() string {
	return "license_validations"
}

const (
	SourceVendor  = "vendor"
	SourceOffline = "offline"
)
