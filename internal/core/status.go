package core

// Status is the lifecycle state of a ReviewJob.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusFetching   Status = "fetching"
	StatusReviewing  Status = "reviewing"
	StatusDelivering Status = "delivering"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// IsValid reports whether s is one of the known statuses.
func (s Status) IsValid() bool {
	switch s {
	case StatusQueued, StatusFetching, StatusReviewing, StatusDelivering, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// CanTransition reports whether a job in status s may move to next.
//
// Jobs advance one step at a time through queued, fetching, reviewing and
// delivering to completed. Any non-terminal status may fail. The in-flight
// statuses may return to queued for a retry, and fetching may complete
// directly when there is nothing to review.
func (s Status) CanTransition(next Status) bool {
	if s.IsTerminal() {
		return false
	}
	if next == StatusFailed {
		return true
	}
	switch s {
	case StatusQueued:
		return next == StatusFetching
	case StatusFetching:
		return next == StatusReviewing || next == StatusCompleted || next == StatusQueued
	case StatusReviewing:
		return next == StatusDelivering || next == StatusQueued
	case StatusDelivering:
		return next == StatusCompleted || next == StatusQueued
	}
	return false
}
