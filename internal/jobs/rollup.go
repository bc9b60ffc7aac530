package jobs

// Rollup derives a job's status from its item statuses. Checks run in order:
// anything in flight wins, then mixed terminal outcomes, then all-failed.
// Skipped items are ignored by every predicate.
func Rollup(statuses []ItemStatus) JobStatus {
	var inFlight, failed, completed bool
	for _, s := range statuses {
		switch {
		case s == ItemFailed:
			failed = true
		case s == ItemCompleted:
			completed = true
		case !IsTerminal(s):
			inFlight = true
		}
	}
	switch {
	case inFlight:
		return JobRunning
	case failed && completed:
		return JobPartialFailed
	case failed:
		return JobFailed
	default:
		return JobCompleted
	}
}

// IsTerminal reports whether s is a final item state.
func IsTerminal(s ItemStatus) bool {
	return s == ItemCompleted || s == ItemFailed || s == ItemSkipped
}
