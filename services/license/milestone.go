package license

import (
	"encoding/json"
	"sort"

	"gorm.io/datatypes"
)

// ReminderMilestones are the days-remaining values at which a grace
// period reminder is sent, from first warning to final notice.
var ReminderMilestones = []int{5, 3, 1, 0}

// MilestonesSent decodes the sent-reminder set. Undecodable data reads
// as empty, which at worst re-sends a reminder rather than losing one.
func (l *License) MilestonesSent() []int {
	if len(l.GraceMilestones) == 0 {
		return nil
	}
	var out []int
	if err := json.Unmarshal(l.GraceMilestones, &out); err != nil {
		return nil
	}
	return out
}

func (l *License) MilestoneSent(day int) bool {
	for _, d := range l.MilestonesSent() {
		if d == day {
			return true
		}
	}
	return false
}

// MarkMilestone adds a milestone to the sent set. The set only grows;
// re-marking an already sent milestone is a no-op.
func (l *License) MarkMilestone(day int) {
	sent := l.MilestonesSent()
	for _, d := range sent {
		if d == day {
			return
		}
	}
	sent = append(sent, day)
	sort.Sort(sort.Reverse(sort.IntSlice(sent)))

	b, err := json.Marshal(sent)
	if err != nil {
		return
	}
	l.GraceMilestones = datatypes.JSON(b)
}
