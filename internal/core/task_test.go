package core

import (
	"encoding/json"
	"testing"
)

func TestRetryTaskExtra(t *testing.T) {
	tests := []struct {
		name     string
		extra    string
		kind     ErrorKind
		notified bool
	}{
		{"empty", ``, KindUnknown, false},
		{"malformed", `{"last_error_kind":`, KindUnknown, false},
		{"kind only", `{"last_error_kind":"RATE_LIMITED"}`, KindRateLimited, false},
		{"notified", `{"last_error_kind":"JOIN_ERROR","terminal_notified":true}`, KindJoinError, true},
		{"wrong types", `{"last_error_kind":3,"terminal_notified":"yes"}`, KindUnknown, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := &RetryTask{ExtraData: json.RawMessage(tt.extra)}
			if got := task.LastErrorKind(); got != tt.kind {
				t.Errorf("LastErrorKind() = %q, want %q", got, tt.kind)
			}
			if got := task.TerminalNotified(); got != tt.notified {
				t.Errorf("TerminalNotified() = %v, want %v", got, tt.notified)
			}
		})
	}
}
