package core

// Downstream scheme account status codes.
const (
	StatusActive                 = 1
	StatusPendingAccount         = 0
	StatusInvalidCredentials     = 403
	StatusValidationError        = 401
	StatusCardNumberError        = 436
	StatusCardNotRegistered      = 438
	StatusJoinInProgress         = 441
	StatusJoinAsyncInProgress    = 442
	StatusAccountAlreadyExists   = 445
	StatusUnknownError           = 520
	StatusEndSiteDown            = 530
	StatusResourceLimitReached   = 533
	StatusNotSent                = 535
	StatusServiceConnectionError = 537
	StatusJoinError              = 538
	StatusRateLimited            = 539
	StatusEnrolFailed            = 901
	StatusRegistrationFailed     = 902
)

// FailedJoinStatus picks the terminal classification for a join that will
// not be retried. A card number already on the account means the user was
// registering an existing card rather than enrolling a new one.
func FailedJoinStatus(kind ErrorKind, hasCardNumber bool) int {
	switch {
	case kind == KindAccountAlreadyExists:
		return StatusAccountAlreadyExists
	case hasCardNumber:
		return StatusRegistrationFailed
	default:
		return StatusEnrolFailed
	}
}
