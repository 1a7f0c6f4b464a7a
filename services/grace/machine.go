package grace

import (
	"math"
	"time"

	"statuslicense/services/license"
)

type Action string

const (
	// ActionSkipped means nothing is due for this license on this pass.
	ActionSkipped Action = "skipped"
	// ActionSkippedMalformed means the row is in an impossible state
	// (active grace with no deadline) and was left alone.
	ActionSkippedMalformed Action = "skipped_malformed"
	ActionReminderSent     Action = "reminder_sent"
	ActionDowngraded       Action = "downgraded"
)

// Decision is what the state machine wants done for one license at one
// point in time. It carries no side effects.
type Decision struct {
	Action        Action
	DaysRemaining int
}

// DaysRemaining is ceil((endsAt - now) / 1 day). The final day of the
// window reads as 0, the day before as 1.
func DaysRemaining(endsAt, now time.Time) int {
	return int(math.Ceil(endsAt.Sub(now).Hours() / 24))
}

// Decide evaluates the grace state machine for one license. Pure: the
// caller owns applying the decision atomically.
func Decide(l *license.License, now time.Time) Decision {
	if l.GraceState != license.GraceStateActive {
		return Decision{Action: ActionSkipped}
	}
	if l.GraceEndsAt == nil {
		return Decision{Action: ActionSkippedMalformed}
	}

	if now.After(*l.GraceEndsAt) {
		return Decision{Action: ActionDowngraded}
	}

	days := DaysRemaining(*l.GraceEndsAt, now)
	for _, m := range license.ReminderMilestones {
		if days == m && !l.MilestoneSent(m) {
			return Decision{Action: ActionReminderSent, DaysRemaining: days}
		}
	}

	return Decision{Action: ActionSkipped, DaysRemaining: days}
}
