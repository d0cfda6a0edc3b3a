package triage

import "time"

var targetWaits = [...]time.Duration{
	LevelResuscitation: 0,
	LevelEmergent:      10 * time.Minute,
	LevelUrgent:        30 * time.Minute,
	LevelLessUrgent:    60 * time.Minute,
	LevelNonUrgent:     120 * time.Minute,
}

// TargetWait is the longest a patient at level should wait before being
// seen. Unknown levels get the ESI 4 target.
func TargetWait(l Level) time.Duration {
	if !l.Valid() {
		return targetWaits[LevelLessUrgent]
	}
	return targetWaits[l]
}

var recommendedActions = map[Level][]string{
	LevelResuscitation: {
		"Immediate resuscitation room",
		"Call trauma/code team",
		"Continuous monitoring",
		"Prepare emergency medications",
	},
	LevelEmergent: {
		"High acuity area placement",
		"Immediate physician assessment",
		"Cardiac monitoring",
		"IV access and labs",
	},
	LevelUrgent: {
		"Urgent care area",
		"Labs and imaging as needed",
		"Pain management",
		"Regular vital sign checks",
	},
	LevelLessUrgent: {
		"Fast track if available",
		"Single resource likely",
		"Reassess if wait exceeds 1 hour",
	},
	LevelNonUrgent: {
		"Non-urgent care",
		"Consider referral to clinic",
		"Patient education materials",
	},
}

// RecommendedActions returns the care actions for level. The slice is a copy.
func RecommendedActions(l Level) []string {
	src := recommendedActions[l]
	out := make([]string, len(src))
	copy(out, src)
	return out
}
