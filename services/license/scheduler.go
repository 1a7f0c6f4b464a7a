package license

import "time"

const (
	// healthyInterval is how often a license with no recent failures is
	// revalidated against the vendor.
	healthyInterval = 24 * time.Hour
	// retryInterval is the tighter cadence used while validations are
	// failing, so recovery is noticed quickly.
	retryInterval = 6 * time.Hour
)

// IsValidationDue decides whether a license should be revalidated now.
// A license that has never been validated is always due.
func IsValidationDue(lastValidatedAt *time.Time, lastResult ValidationOutcome, consecutiveFailures int, now time.Time) bool {
	if lastValidatedAt == nil {
		return true
	}

	interval := healthyInterval
	if consecutiveFailures > 0 || lastResult == ResultFailed {
		interval = retryInterval
	}

	return now.Sub(*lastValidatedAt) >= interval
}
