package agents

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/piukhq/midas-sub000/internal/core"
)

func TestRegistry_Resolve(t *testing.T) {
	reg := Default()

	agent, err := reg.Resolve(StubSlug)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, ok := agent.(Remover); !ok {
		t.Error("stub agent should implement Remover")
	}

	_, err = reg.Resolve("unknown-scheme")
	if !core.IsNotFound(err) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestRegistry_IsClosed(t *testing.T) {
	entries := map[string]Constructor{"a": NewStub}
	reg := NewRegistry(entries)
	entries["b"] = NewStub

	if _, err := reg.Resolve("b"); err == nil {
		t.Error("registry must not see entries added after construction")
	}
	if got := reg.Slugs(); len(got) != 1 || got[0] != "a" {
		t.Errorf("slugs = %v", got)
	}
}

func TestStubOutcomes(t *testing.T) {
	tests := []struct {
		email string
		kind  core.ErrorKind
	}{
		{"down@example.com", core.KindServiceUnavailable},
		{"ratelimit@example.com", core.KindRateLimited},
		{"exists@example.com", core.KindAccountAlreadyExists},
		{"invalid@example.com", core.KindValidation},
		{"panic@example.com", core.KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.email, func(t *testing.T) {
			req := &Request{Credentials: map[string]any{"email": tt.email}}
			_, err := NewStub().Join(context.Background(), req)
			if err == nil {
				t.Fatal("expected error")
			}
			if got := core.KindOf(err); got != tt.kind {
				t.Errorf("kind = %s, want %s", got, tt.kind)
			}
		})
	}
}

func TestStubJoin(t *testing.T) {
	res, err := NewStub().Join(context.Background(), &Request{
		SchemeAccountID: 12,
		Credentials:     map[string]any{"email": "someone@example.com"},
	})
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if res.AwaitingCallback {
		t.Error("sync join should not await callback")
	}
	if res.Identifiers["card_number"] != "6332000000000012" {
		t.Errorf("identifiers = %v", res.Identifiers)
	}

	res, err = NewStub().Join(context.Background(), &Request{Credentials: map[string]any{"email": "async@example.com"}})
	if err != nil || !res.AwaitingCallback {
		t.Errorf("async join = %+v, %v", res, err)
	}
}

func TestRequestCardNumber(t *testing.T) {
	req := &Request{Credentials: map[string]any{"barcode": "999"}}
	if got := req.CardNumber(); got != "999" {
		t.Errorf("CardNumber = %q", got)
	}
	req = &Request{Credentials: map[string]any{"email": "x"}}
	if got := req.CardNumber(); got != "" {
		t.Errorf("CardNumber = %q, want empty", got)
	}
}

func TestDecodeCredentials(t *testing.T) {
	creds, err := DecodeCredentials(json.RawMessage(`{"card_number":"1","points":3}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if creds["card_number"] != "1" {
		t.Errorf("creds = %v", creds)
	}
	if creds, err := DecodeCredentials(nil); err != nil || len(creds) != 0 {
		t.Errorf("empty decode = %v, %v", creds, err)
	}
	if _, err := DecodeCredentials(json.RawMessage(`[1]`)); err == nil {
		t.Error("expected error for non-object credentials")
	}
}
