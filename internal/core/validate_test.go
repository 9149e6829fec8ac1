package core

import (
	"encoding/json"
	"testing"
)

func validCreateRequest() *CreateRequest {
	return &CreateRequest{
		UserInfo:         UserInfo{SchemeAccountID: 10, BinkUserID: "7"},
		Credentials:      json.RawMessage(`{"email":"a@b.com"}`),
		JourneyType:      JourneyAttemptJoin,
		MessageUID:       "c1f1a7a4-0000-7000-8000-000000000000",
		SchemeIdentifier: "iceland-bonus-card",
		SchemeAccountID:  10,
	}
}

func TestValidateCreateRequest_Valid(t *testing.T) {
	if err := ValidateCreateRequest(validCreateRequest()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateCreateRequest_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*CreateRequest)
		field  string
	}{
		{"missing account", func(r *CreateRequest) { r.SchemeAccountID = 0 }, "scheme_account_id"},
		{"missing uid", func(r *CreateRequest) { r.MessageUID = "" }, "message_uid"},
		{"bad journey", func(r *CreateRequest) { r.JourneyType = "attempt-dance" }, "journey_type"},
		{"bad scheme", func(r *CreateRequest) { r.SchemeIdentifier = "Iceland Bonus" }, "scheme_identifier"},
		{"null credentials", func(r *CreateRequest) { r.Credentials = json.RawMessage("null") }, "credentials"},
		{"broken credentials", func(r *CreateRequest) { r.Credentials = json.RawMessage("{") }, "credentials"},
		{"consent without slug", func(r *CreateRequest) { r.Consents = []Consent{{Value: "true"}} }, "consents[0].slug"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validCreateRequest()
			tt.mutate(req)
			err := ValidateCreateRequest(req)
			if err == nil {
				t.Fatal("expected error")
			}
			if err.Code != ErrCodeInvalidRequest {
				t.Errorf("code = %q", err.Code)
			}
			if got := err.Details["field"]; got != tt.field {
				t.Errorf("field = %v, want %q", got, tt.field)
			}
		})
	}
}

func TestDecodeRequestData(t *testing.T) {
	task := &RetryTask{RequestData: json.RawMessage(`{"user_info":{"scheme_account_id":3,"channel":"com.bink.wallet"},"credentials":{"card_number":"123"}}`)}
	rd, err := task.DecodeRequestData()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rd.UserInfo.SchemeAccountID != 3 || rd.UserInfo.Channel != "com.bink.wallet" {
		t.Errorf("user info = %+v", rd.UserInfo)
	}
	if string(rd.Credentials) != `{"card_number":"123"}` {
		t.Errorf("credentials = %s", rd.Credentials)
	}

	empty := &RetryTask{}
	if _, err := empty.DecodeRequestData(); err != nil {
		t.Errorf("empty request data: %v", err)
	}
}
