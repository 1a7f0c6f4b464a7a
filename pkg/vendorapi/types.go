package vendorapi

import "time"

// Code is the vendor's validation status code.
type Code string

const (
	CodeValid            Code = "VALID"
	CodeExpired          Code = "EXPIRED"
	CodeSuspended        Code = "SUSPENDED"
	CodeBanned           Code = "BANNED"
	CodeOverdue          Code = "OVERDUE"
	CodeNoMachine        Code = "NO_MACHINE"
	CodeNoMachines       Code = "NO_MACHINES"
	CodeFingerprintMiss  Code = "FINGERPRINT_SCOPE_MISMATCH"
	CodeNotFound         Code = "NOT_FOUND"
	CodeNoPublicKey      Code = "NO_PUBLIC_KEY"
	CodeInvalidFormat    Code = "INVALID_FORMAT"
	CodeInvalidSignature Code = "INVALID_SIGNATURE"
)

// LicenseStatus values reported by the vendor on the license resource.
const (
	VendorStatusActive    = "ACTIVE"
	VendorStatusExpired   = "EXPIRED"
	VendorStatusSuspended = "SUSPENDED"
	VendorStatusBanned    = "BANNED"
	VendorStatusInactive  = "INACTIVE"
)

// License is the vendor's license record.
type License struct {
	ID       string
	Key      string
	Status   string
	PolicyID string
	Name     string
	Expiry   *time.Time
	Metadata map[string]interface{}
}

// Entitlement is one vendor entitlement grant: a code plus a free-form
// metadata bag that the entitlement mapper translates into typed limits
// and flags.
type Entitlement struct {
	ID       string
	Code     string
	Name     string
	Metadata map[string]string
}

// ValidationResult is the outcome of a key validation call.
type ValidationResult struct {
	Valid        bool
	Code         Code
	Detail       string
	License      *License
	Entitlements []Entitlement
}

// Machine is the vendor's activation record for a fingerprint.
type Machine struct {
	ID          string
	Fingerprint string
	Name        string
}

// jsonapi wire shapes. The vendor speaks JSON:API: a primary resource under
// data, related resources under included, call outcome under meta.
type document struct {
	Data     *resource              `json:"data,omitempty"`
	Included []resource             `json:"included,omitempty"`
	Meta     map[string]interface{} `json:"meta,omitempty"`
	Errors   []apiError             `json:"errors,omitempty"`
}

type listDocument struct {
	Data   []resource `json:"data"`
	Errors []apiError `json:"errors,omitempty"`
}

type resource struct {
	Type       string                 `json:"type"`
	ID         string                 `json:"id"`
	Attributes map[string]interface{} `json:"attributes"`
}

type apiError struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Code   string `json:"code"`
}
