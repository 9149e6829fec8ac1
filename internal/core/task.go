package core

import (
	"encoding/json"
	"time"
)

const (
	ServiceName = "midas"
	Version     = "1.4.0"
	TimeFormat  = "2006-01-02T15:04:05.000Z"
)

// FormatTime formats a time as ISO 8601 UTC with millisecond precision.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// JourneyType names the business flow a task drives to completion.
type JourneyType string

const (
	JourneyAttemptJoin  JourneyType = "attempt-join"
	JourneyAttemptLogin JourneyType = "attempt-login"
)

// Valid reports whether j is one of the known journeys.
func (j JourneyType) Valid() bool {
	return j == JourneyAttemptJoin || j == JourneyAttemptLogin
}

// RetryTask is one in-flight external operation for a single scheme account.
// At most one exists per SchemeAccountID; terminal tasks are deleted.
type RetryTask struct {
	ID               int64           `json:"id"`
	MessageUID       string          `json:"message_uid"`
	SchemeAccountID  int64           `json:"scheme_account_id"`
	JourneyType      JourneyType     `json:"journey_type"`
	SchemeIdentifier string          `json:"scheme_identifier"`
	RequestData      json.RawMessage `json:"request_data"`
	Attempts         int             `json:"attempts"`
	CallbackRetries  int             `json:"callback_retries"`
	Status           Status          `json:"status"`
	AwaitingCallback bool            `json:"awaiting_callback"`
	NextAttemptTime  *time.Time      `json:"next_attempt_time,omitempty"`
	ExtraData        json.RawMessage `json:"extra_data,omitempty"`
	TimeCreated      time.Time       `json:"time_created"`
	TimeUpdated      time.Time       `json:"time_updated"`
}

// FromLogin reports whether the task belongs to the login/balance journey.
func (t *RetryTask) FromLogin() bool {
	return t.JourneyType == JourneyAttemptLogin
}

// UserInfo is the context the front door or message bus attached to the
// original request. It is re-submitted verbatim on every retry.
type UserInfo struct {
	UserSet         string `json:"user_set,omitempty"`
	BinkUserID      string `json:"bink_user_id,omitempty"`
	Channel         string `json:"channel,omitempty"`
	SchemeAccountID int64  `json:"scheme_account_id"`
	JourneyType     string `json:"journey_type,omitempty"`
	Status          int    `json:"status,omitempty"`
	PendingAccount  bool   `json:"pending,omitempty"`
}

// RequestData is the decoded form of RetryTask.RequestData.
type RequestData struct {
	UserInfo    UserInfo        `json:"user_info"`
	Credentials json.RawMessage `json:"credentials"`
	Consents    []Consent       `json:"consents,omitempty"`
}

// DecodeRequestData unmarshals the opaque request blob of a task.
func (t *RetryTask) DecodeRequestData() (*RequestData, error) {
	var rd RequestData
	if len(t.RequestData) == 0 {
		return &rd, nil
	}
	if err := json.Unmarshal(t.RequestData, &rd); err != nil {
		return nil, err
	}
	return &rd, nil
}

// Keys written into RetryTask.ExtraData by the retry path.
const (
	ExtraLastErrorKind    = "last_error_kind"
	ExtraTerminalNotified = "terminal_notified"
)

// Extra decodes ExtraData. A missing or malformed document reads as empty.
func (t *RetryTask) Extra() map[string]any {
	extra := map[string]any{}
	if len(t.ExtraData) > 0 {
		if err := json.Unmarshal(t.ExtraData, &extra); err != nil {
			return map[string]any{}
		}
	}
	return extra
}

// LastErrorKind is the classification of the most recent failed attempt,
// or KindUnknown if none was recorded.
func (t *RetryTask) LastErrorKind() ErrorKind {
	if s, ok := t.Extra()[ExtraLastErrorKind].(string); ok && s != "" {
		return ErrorKind(s)
	}
	return KindUnknown
}

// TerminalNotified reports whether the terminal outcome was already sent
// downstream.
func (t *RetryTask) TerminalNotified() bool {
	v, _ := t.Extra()[ExtraTerminalNotified].(bool)
	return v
}

// ConsentStatus tracks a marketing consent captured alongside a join.
type ConsentStatus string

const (
	ConsentPending ConsentStatus = "PENDING"
	ConsentSuccess ConsentStatus = "SUCCESS"
	ConsentFailed  ConsentStatus = "FAILED"
)

// Consent is a single consent answer submitted with a join request.
type Consent struct {
	ID    int64  `json:"id,omitempty"`
	Slug  string `json:"slug"`
	Value string `json:"value"`
}

// CreateRequest carries everything needed to persist a new task.
type CreateRequest struct {
	UserInfo         UserInfo
	Credentials      json.RawMessage
	Consents         []Consent
	JourneyType      JourneyType
	MessageUID       string
	SchemeIdentifier string
	SchemeAccountID  int64
}

// Balance is the merchant-reported balance of an account.
type Balance struct {
	Points      float64  `json:"points"`
	Value       *float64 `json:"value,omitempty"`
	ValueLabel  string   `json:"value_label,omitempty"`
	Reward      string   `json:"reward_tier,omitempty"`
	Vouchers    []any    `json:"vouchers,omitempty"`
	UpdatedAt   string   `json:"updated_at,omitempty"`
	Description string   `json:"description,omitempty"`
}

// Transaction is a single merchant-side transaction.
type Transaction struct {
	Date        string  `json:"date"`
	Description string  `json:"description"`
	Points      float64 `json:"points"`
	Value       float64 `json:"value,omitempty"`
	Location    string  `json:"location,omitempty"`
	Hash        string  `json:"hash,omitempty"`
}
