package workqueue

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/hibiken/asynq"

	"github.com/piukhq/midas-sub000/internal/core"
)

// Task types registered on the worker mux.
const (
	TypeAttemptJoin     = "attempt-join"
	TypeAttemptLogin    = "attempt-login"
	TypeCallbackConfirm = "join-callback-confirm"
)

// Payload is the job argument set. Attempts and CallbackRetries are the
// task counters at enqueue time; a job whose counters no longer match the
// stored task is stale.
type Payload struct {
	SchemeAccountID  int64           `json:"scheme_account_id"`
	MessageUID       string          `json:"message_uid"`
	SchemeIdentifier string          `json:"scheme_identifier"`
	RequestData      json.RawMessage `json:"request_data,omitempty"`
	Attempts         int             `json:"attempts"`
	CallbackRetries  int             `json:"callback_retries"`
}

// PayloadFor snapshots task into a job payload.
func PayloadFor(task *core.RetryTask) Payload {
	return Payload{
		SchemeAccountID:  task.SchemeAccountID,
		MessageUID:       task.MessageUID,
		SchemeIdentifier: task.SchemeIdentifier,
		RequestData:      task.RequestData,
		Attempts:         task.Attempts,
		CallbackRetries:  task.CallbackRetries,
	}
}

// Matches reports whether the payload was enqueued for the current state of task.
func (p Payload) Matches(task *core.RetryTask) bool {
	return p.MessageUID == task.MessageUID &&
		p.Attempts == task.Attempts &&
		p.CallbackRetries == task.CallbackRetries
}

// DecodePayload parses the payload of an asynq task.
func DecodePayload(t *asynq.Task) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return p, fmt.Errorf("decode %s payload: %w", t.Type(), err)
	}
	if p.SchemeAccountID <= 0 {
		return p, fmt.Errorf("decode %s payload: missing scheme_account_id", t.Type())
	}
	return p, nil
}

// TypeFor maps a journey to the task type that re-enters it.
func TypeFor(journey core.JourneyType) string {
	if journey == core.JourneyAttemptLogin {
		return TypeAttemptLogin
	}
	return TypeAttemptJoin
}

// JobID is the deterministic asynq task id for one attempt of a task:
// <journey>:<scheme_account_id>:<attempts>:<callback_retries>.
func JobID(taskType string, task *core.RetryTask, suffix ...string) string {
	parts := []string{
		taskType,
		strconv.FormatInt(task.SchemeAccountID, 10),
		strconv.Itoa(task.Attempts),
		strconv.Itoa(task.CallbackRetries),
	}
	parts = append(parts, suffix...)
	return strings.Join(parts, ":")
}
