// Package bus consumes loyalty card events from the message bus and turns
// them into tasks or removal calls.
package bus

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cast"

	"github.com/piukhq/midas-sub000/internal/core"
)

// Event types.
const (
	TypeJoinRequested  = "loyalty_card.join"
	TypeAccountRemoved = "loyalty_card.removed"
)

// TypeAttribute is the message attribute or header naming the event type.
const TypeAttribute = "type"

// Message is one event read from a source.
type Message struct {
	ID         string
	Body       []byte
	Attributes map[string]string
}

// Type returns the event type from the type attribute, falling back to a
// "type" field in the body.
func (m Message) Type() string {
	if t := m.Attributes[TypeAttribute]; t != "" {
		return t
	}
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(m.Body, &head); err == nil {
		return head.Type
	}
	return ""
}

// JoinRequested asks for a new loyalty account to be enrolled.
type JoinRequested struct {
	Channel         string
	TransactionID   string
	BinkUserID      string
	SchemeAccountID int64
	Scheme          string
	Credentials     json.RawMessage
	Consents        []core.Consent
}

// AccountRemoved reports that a user deleted a loyalty card.
type AccountRemoved struct {
	Channel         string
	TransactionID   string
	BinkUserID      string
	RequestID       string
	SchemeAccountID int64
	Scheme          string
	Credentials     json.RawMessage
}

var errMissingField = errors.New("missing field")

func decodeBody(body []byte) (map[string]any, error) {
	fields := map[string]any{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	return fields, nil
}

// DecodeJoinRequested parses a join event. The account id travels as
// request_id; credentials are join_data itself or, in the newer shape, the
// value nested under join_data.encrypted_credentials.
func DecodeJoinRequested(body []byte) (*JoinRequested, error) {
	fields, err := decodeBody(body)
	if err != nil {
		return nil, err
	}
	id, err := cast.ToInt64E(fields["request_id"])
	if err != nil || id <= 0 {
		return nil, fmt.Errorf("join event: %w: request_id", errMissingField)
	}
	scheme := cast.ToString(fields["loyalty_plan"])
	if scheme == "" {
		return nil, fmt.Errorf("join event: %w: loyalty_plan", errMissingField)
	}

	creds, err := joinCredentials(fields["join_data"])
	if err != nil {
		return nil, err
	}
	consents, err := decodeConsents(fields["consents"])
	if err != nil {
		return nil, err
	}

	return &JoinRequested{
		Channel:         cast.ToString(fields["channel"]),
		TransactionID:   cast.ToString(fields["transaction_id"]),
		BinkUserID:      cast.ToString(fields["bink_user_id"]),
		SchemeAccountID: id,
		Scheme:          scheme,
		Credentials:     creds,
		Consents:        consents,
	}, nil
}

func joinCredentials(joinData any) (json.RawMessage, error) {
	if joinData == nil {
		return nil, fmt.Errorf("join event: %w: join_data", errMissingField)
	}
	if m, ok := joinData.(map[string]any); ok {
		if nested, ok := m["encrypted_credentials"]; ok {
			joinData = nested
		}
	}
	raw, err := json.Marshal(joinData)
	if err != nil {
		return nil, fmt.Errorf("encode join credentials: %w", err)
	}
	return raw, nil
}

func decodeConsents(v any) ([]core.Consent, error) {
	items, ok := v.([]any)
	if !ok {
		return nil, nil
	}
	consents := make([]core.Consent, 0, len(items))
	for _, item := range items {
		m, err := cast.ToStringMapE(item)
		if err != nil {
			return nil, fmt.Errorf("join event: bad consent: %w", err)
		}
		consents = append(consents, core.Consent{
			ID:    cast.ToInt64(m["id"]),
			Slug:  cast.ToString(m["slug"]),
			Value: cast.ToString(m["value"]),
		})
	}
	return consents, nil
}

// DecodeAccountRemoved parses a removal event.
func DecodeAccountRemoved(body []byte) (*AccountRemoved, error) {
	fields, err := decodeBody(body)
	if err != nil {
		return nil, err
	}
	id, err := cast.ToInt64E(fields["account_id"])
	if err != nil || id <= 0 {
		return nil, fmt.Errorf("removal event: %w: account_id", errMissingField)
	}
	scheme := cast.ToString(fields["loyalty_plan"])
	if scheme == "" {
		return nil, fmt.Errorf("removal event: %w: loyalty_plan", errMissingField)
	}

	var creds json.RawMessage
	if v, ok := fields["credentials"]; ok && v != nil {
		if creds, err = json.Marshal(v); err != nil {
			return nil, fmt.Errorf("encode removal credentials: %w", err)
		}
	}

	return &AccountRemoved{
		Channel:         cast.ToString(fields["channel"]),
		TransactionID:   cast.ToString(fields["transaction_id"]),
		BinkUserID:      cast.ToString(fields["bink_user_id"]),
		RequestID:       cast.ToString(fields["request_id"]),
		SchemeAccountID: id,
		Scheme:          scheme,
		Credentials:     creds,
	}, nil
}

// CreateRequest builds the task for a join event. Events without a
// transaction id get a fresh correlation id.
func (j *JoinRequested) CreateRequest() *core.CreateRequest {
	uid := j.TransactionID
	if uid == "" {
		uid = core.NewMessageUID()
	}
	return &core.CreateRequest{
		UserInfo: core.UserInfo{
			BinkUserID:      j.BinkUserID,
			Channel:         j.Channel,
			SchemeAccountID: j.SchemeAccountID,
			JourneyType:     string(core.JourneyAttemptJoin),
		},
		Credentials:      j.Credentials,
		Consents:         j.Consents,
		JourneyType:      core.JourneyAttemptJoin,
		MessageUID:       uid,
		SchemeIdentifier: j.Scheme,
		SchemeAccountID:  j.SchemeAccountID,
	}
}
