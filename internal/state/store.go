package state

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"github.com/piukhq/midas-sub000/internal/core"
)

// RetryTaskModel is the retry_task row.
type RetryTaskModel struct {
	ID               int64  `gorm:"primaryKey"`
	MessageUID       string `gorm:"type:varchar(64);not null;uniqueIndex"`
	SchemeAccountID  int64  `gorm:"not null;uniqueIndex"`
	JourneyType      string `gorm:"type:varchar(32);not null"`
	SchemeIdentifier string `gorm:"type:varchar(128);not null"`
	RequestData      datatypes.JSON
	Attempts         int    `gorm:"not null"`
	CallbackRetries  int    `gorm:"not null"`
	Status           string `gorm:"type:varchar(16);not null;index"`
	AwaitingCallback bool   `gorm:"not null;index"`
	NextAttemptTime  *time.Time
	ExtraData        datatypes.JSON
	TimeCreated      time.Time `gorm:"autoCreateTime"`
	TimeUpdated      time.Time `gorm:"autoUpdateTime"`
}

func (RetryTaskModel) TableName() string {
	return "retry_task"
}

// UserConsentModel is a consent answer captured with a join. Rows outlive
// the task so the terminal outcome can still be recorded after deletion.
type UserConsentModel struct {
	ID              int64     `gorm:"primaryKey"`
	SchemeAccountID int64     `gorm:"not null;index"`
	MessageUID      string    `gorm:"type:varchar(64);not null"`
	Slug            string    `gorm:"type:varchar(128);not null"`
	Value           string    `gorm:"type:text"`
	Status          string    `gorm:"type:varchar(16);not null;index"`
	TimeCreated     time.Time `gorm:"autoCreateTime"`
	TimeUpdated     time.Time `gorm:"autoUpdateTime"`
}

func (UserConsentModel) TableName() string {
	return "user_consent"
}

// Store persists retry tasks. Every mutation runs in its own transaction,
// is conditional on the status the caller last read, and refreshes task in
// place on success.
type Store interface {
	Create(ctx context.Context, req *core.CreateRequest) (*core.RetryTask, error)
	Get(ctx context.Context, schemeAccountID int64) (*core.RetryTask, error)
	GetByMessageUID(ctx context.Context, messageUID string) (*core.RetryTask, error)
	Delete(ctx context.Context, task *core.RetryTask) error

	// UpdateForRetry increments attempts.
	UpdateForRetry(ctx context.Context, task *core.RetryTask, status core.Status, next time.Time) error
	// ResetForCallbackAttempt increments callback_retries and resets attempts to 0.
	ResetForCallbackAttempt(ctx context.Context, task *core.RetryTask, status core.Status, next time.Time) error
	// UpdateCallbackAttempt increments callback_retries only.
	UpdateCallbackAttempt(ctx context.Context, task *core.RetryTask, next time.Time) error
	FailCallback(ctx context.Context, task *core.RetryTask) error

	MarkInProgress(ctx context.Context, task *core.RetryTask) error
	// Reclaim restarts an IN_PROGRESS task left untouched since cutoff.
	Reclaim(ctx context.Context, task *core.RetryTask, cutoff time.Time) error
	MarkWaiting(ctx context.Context, task *core.RetryTask) error
	MarkFailed(ctx context.Context, task *core.RetryTask) error
	MarkSuccess(ctx context.Context, task *core.RetryTask) error
	Requeue(ctx context.Context, task *core.RetryTask) error
	Annotate(ctx context.Context, task *core.RetryTask, extra map[string]any) error

	ListByStatus(ctx context.Context, status core.Status, limit int) ([]*core.RetryTask, error)
	// ListStale returns tasks whose scheduled or queued work should have run
	// before cutoff, and WAITING tasks untouched since waitingCutoff.
	ListStale(ctx context.Context, cutoff, waitingCutoff time.Time, limit int) ([]*core.RetryTask, error)

	// SetConsentStatus moves every consent of the account in status from to status to.
	SetConsentStatus(ctx context.Context, schemeAccountID int64, from, to core.ConsentStatus) (int64, error)

	Ping(ctx context.Context) error
}

// ModelToTask converts a row into the domain type.
func ModelToTask(m *RetryTaskModel) *core.RetryTask {
	t := &core.RetryTask{
		ID:               m.ID,
		MessageUID:       m.MessageUID,
		SchemeAccountID:  m.SchemeAccountID,
		JourneyType:      core.JourneyType(m.JourneyType),
		SchemeIdentifier: m.SchemeIdentifier,
		Attempts:         m.Attempts,
		CallbackRetries:  m.CallbackRetries,
		Status:           core.Status(m.Status),
		AwaitingCallback: m.AwaitingCallback,
		TimeCreated:      m.TimeCreated,
		TimeUpdated:      m.TimeUpdated,
	}
	if len(m.RequestData) > 0 {
		t.RequestData = json.RawMessage(m.RequestData)
	}
	if len(m.ExtraData) > 0 {
		t.ExtraData = json.RawMessage(m.ExtraData)
	}
	if m.NextAttemptTime != nil {
		next := m.NextAttemptTime.UTC()
		t.NextAttemptTime = &next
	}
	return t
}

// BuildRequestData assembles the request blob re-submitted on every retry.
func BuildRequestData(req *core.CreateRequest) (json.RawMessage, error) {
	return json.Marshal(core.RequestData{
		UserInfo:    req.UserInfo,
		Credentials: req.Credentials,
		Consents:    req.Consents,
	})
}
