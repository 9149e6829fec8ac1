package core

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure at the merchant-call boundary. The set is
// closed; anything that is not a *MerchantError is KindUnknown.
type ErrorKind string

const (
	KindServiceUnavailable   ErrorKind = "END_SITE_DOWN"
	KindRateLimited          ErrorKind = "RATE_LIMITED"
	KindNotSent              ErrorKind = "NOT_SENT"
	KindServerError          ErrorKind = "SERVICE_CONNECTION_ERROR"
	KindRetryUnavailable     ErrorKind = "RESOURCE_LIMIT_REACHED"
	KindValidation           ErrorKind = "VALIDATION"
	KindAccountAlreadyExists ErrorKind = "ACCOUNT_ALREADY_EXISTS"
	KindCardNotRegistered    ErrorKind = "CARD_NOT_REGISTERED"
	KindCardNumberError      ErrorKind = "CARD_NUMBER_ERROR"
	KindStatusLoginFailed    ErrorKind = "STATUS_LOGIN_FAILED"
	KindJoinError            ErrorKind = "JOIN_ERROR"
	KindCallbackTimeout      ErrorKind = "CALLBACK_TIMEOUT"
	KindUnknown              ErrorKind = "UNKNOWN"
)

type kindInfo struct {
	code       int
	serverSide bool
	retryable  bool
}

var kinds = map[ErrorKind]kindInfo{
	KindServiceUnavailable:   {code: StatusEndSiteDown, serverSide: true, retryable: true},
	KindRateLimited:          {code: StatusRateLimited, retryable: true},
	KindNotSent:              {code: StatusNotSent, retryable: true},
	KindServerError:          {code: StatusServiceConnectionError, serverSide: true, retryable: true},
	KindRetryUnavailable:     {code: StatusResourceLimitReached, serverSide: true, retryable: true},
	KindValidation:           {code: StatusValidationError},
	KindAccountAlreadyExists: {code: StatusAccountAlreadyExists},
	KindCardNotRegistered:    {code: StatusCardNotRegistered},
	KindCardNumberError:      {code: StatusCardNumberError},
	KindStatusLoginFailed:    {code: StatusInvalidCredentials},
	KindJoinError:            {code: StatusJoinError},
	KindCallbackTimeout:      {code: StatusJoinAsyncInProgress, retryable: true},
	KindUnknown:              {code: StatusUnknownError},
}

// Known reports whether k is a declared kind.
func (k ErrorKind) Known() bool {
	_, ok := kinds[k]
	return ok && k != KindUnknown
}

// ServerSide reports whether the failure is on the merchant's side (5xx).
func (k ErrorKind) ServerSide() bool { return kinds[k].serverSide }

// Retryable reports whether the kind is server-side or explicitly retryable.
func (k ErrorKind) Retryable() bool {
	info := kinds[k]
	return info.serverSide || info.retryable
}

// StatusCode is the downstream account status reported for this failure.
func (k ErrorKind) StatusCode() int {
	if info, ok := kinds[k]; ok {
		return info.code
	}
	return StatusUnknownError
}

// MerchantError is the typed failure returned by every merchant integration.
type MerchantError struct {
	Kind    ErrorKind
	Message string
	// Code is the merchant's own error code, when it sent one.
	Code string
	Err  error
}

func (e *MerchantError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Code != "" {
		return fmt.Sprintf("[%s/%s] %s", e.Kind, e.Code, msg)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, msg)
}

func (e *MerchantError) Unwrap() error { return e.Err }

// NewMerchantError builds a MerchantError of the given kind.
func NewMerchantError(kind ErrorKind, message string) *MerchantError {
	return &MerchantError{Kind: kind, Message: message}
}

// KindOf returns the ErrorKind carried by err, or KindUnknown.
func KindOf(err error) ErrorKind {
	var me *MerchantError
	if errors.As(err, &me) && me.Kind != "" {
		return me.Kind
	}
	return KindUnknown
}

// NotFoundError is returned when a lookup yields no usable row or entry.
type NotFoundError struct {
	Resource string
	Key      string
	Reason   string
}

func (e *NotFoundError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s '%s' not found: %s", e.Resource, e.Key, e.Reason)
	}
	return fmt.Sprintf("%s '%s' not found", e.Resource, e.Key)
}

// NewNotFoundError builds a NotFoundError.
func NewNotFoundError(resource, key string) *NotFoundError {
	return &NotFoundError{Resource: resource, Key: key}
}

// IsNotFound reports whether err is, or wraps, a *NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

var (
	// ErrDuplicateTask is returned when an account already has a live task.
	ErrDuplicateTask = errors.New("retry task already exists for scheme account")
	// ErrInvalidTransition is returned when a mutation would break the state machine.
	ErrInvalidTransition = errors.New("invalid task status transition")
)

// TransitionError records a refused status change.
type TransitionError struct {
	From, To Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s -> %s", ErrInvalidTransition, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// Standard error codes used in HTTP error responses.
const (
	ErrCodeInvalidRequest  = "invalid_request"
	ErrCodeValidationError = "validation_error"
	ErrCodeNotFound        = "not_found"
	ErrCodeConflict        = "conflict"
	ErrCodeInternalError   = "internal_error"
)

// APIError is the JSON error envelope written by HTTP handlers.
type APIError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
	Details   map[string]any `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func NewInvalidRequestError(message string, details map[string]any) *APIError {
	return &APIError{
		Code:    ErrCodeInvalidRequest,
		Message: message,
		Details: details,
	}
}

func NewAPINotFoundError(resourceType, resourceID string) *APIError {
	return &APIError{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s '%s' not found.", resourceType, resourceID),
		Details: map[string]any{
			"resource_type": resourceType,
			"resource_id":   resourceID,
		},
	}
}

func NewConflictError(message string, details map[string]any) *APIError {
	return &APIError{
		Code:    ErrCodeConflict,
		Message: message,
		Details: details,
	}
}

func NewValidationError(message string, details map[string]any) *APIError {
	return &APIError{
		Code:    ErrCodeValidationError,
		Message: message,
		Details: details,
	}
}

func NewInternalError(message string) *APIError {
	return &APIError{
		Code:      ErrCodeInternalError,
		Message:   message,
		Retryable: true,
	}
}
