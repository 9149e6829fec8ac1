package core

// Status is the persisted state of a RetryTask.
type Status string

// Task statuses. FAILED and SUCCESS are terminal; rows in a terminal state
// are deleted once downstream notification completes.
const (
	StatusPending    Status = "PENDING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusRetrying   Status = "RETRYING"
	StatusWaiting    Status = "WAITING"
	StatusFailed     Status = "FAILED"
	StatusSuccess    Status = "SUCCESS"
	StatusCancelled  Status = "CANCELLED"
	StatusRequeued   Status = "REQUEUED"
)

// AllStatuses lists every status in declaration order.
var AllStatuses = []Status{
	StatusPending, StatusInProgress, StatusRetrying, StatusWaiting,
	StatusFailed, StatusSuccess, StatusCancelled, StatusRequeued,
}

// ParseStatus returns the Status named by s, or false if s is not a status.
func ParseStatus(s string) (Status, bool) {
	for _, st := range AllStatuses {
		if string(st) == s {
			return st, true
		}
	}
	return "", false
}

// validTransitions defines the allowed status transitions. IN_PROGRESS has
// no self-transition: a second run of the same attempt must not start while
// the first holds the row.
var validTransitions = map[Status][]Status{
	StatusPending:    {StatusInProgress, StatusRetrying, StatusWaiting, StatusFailed, StatusCancelled, StatusRequeued},
	StatusInProgress: {StatusRetrying, StatusWaiting, StatusFailed, StatusSuccess, StatusCancelled},
	StatusRetrying:   {StatusInProgress, StatusRetrying, StatusWaiting, StatusFailed, StatusCancelled, StatusRequeued},
	StatusWaiting:    {StatusInProgress, StatusRetrying, StatusFailed, StatusSuccess, StatusCancelled, StatusRequeued},
	StatusRequeued:   {StatusInProgress, StatusRetrying, StatusWaiting, StatusFailed, StatusCancelled},
	StatusFailed:     {},
	StatusSuccess:    {},
	StatusCancelled:  {},
}

// IsValidTransition checks if a status transition is allowed.
func IsValidTransition(from, to Status) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, t := range targets {
		if t == to {
			return true
		}
	}
	return false
}

// IsTerminalStatus returns true if the status ends the task's life.
func IsTerminalStatus(s Status) bool {
	return s == StatusFailed || s == StatusSuccess
}

// IsSchedulable returns true if a queued job may still execute the task.
func IsSchedulable(s Status) bool {
	switch s {
	case StatusPending, StatusRetrying, StatusRequeued, StatusWaiting, StatusInProgress:
		return true
	}
	return false
}
