package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/piukhq/midas-sub000/internal/core"
)

// StubSlug is the scheme served by the stub integration.
const StubSlug = "bink-test-scheme"

// Stub is a deterministic integration for local environments. The outcome
// is chosen by the local part of the "email" credential:
//
//	down@      end site down
//	ratelimit@ rate limited
//	exists@    account already exists
//	invalid@   validation error
//	async@     join completes by callback
//	panic@     unclassified error
type Stub struct{}

// NewStub returns a Stub agent.
func NewStub() Agent { return &Stub{} }

// Default returns the registry served by the stock binary.
func Default() *Registry {
	return NewRegistry(map[string]Constructor{
		StubSlug: NewStub,
	})
}

func (s *Stub) outcome(req *Request) error {
	email, _ := req.Credentials["email"].(string)
	local, _, _ := strings.Cut(email, "@")
	switch local {
	case "down":
		return core.NewMerchantError(core.KindServiceUnavailable, "stub end site down")
	case "ratelimit":
		return core.NewMerchantError(core.KindRateLimited, "stub rate limited")
	case "exists":
		return core.NewMerchantError(core.KindAccountAlreadyExists, "stub account exists")
	case "invalid":
		return core.NewMerchantError(core.KindValidation, "stub validation failed")
	case "panic":
		return fmt.Errorf("stub unexpected failure")
	}
	return nil
}

func (s *Stub) Login(ctx context.Context, req *Request) error {
	return s.outcome(req)
}

func (s *Stub) Join(ctx context.Context, req *Request) (*JoinResult, error) {
	if err := s.outcome(req); err != nil {
		return nil, err
	}
	email, _ := req.Credentials["email"].(string)
	if strings.HasPrefix(email, "async@") {
		return &JoinResult{AwaitingCallback: true}, nil
	}
	return &JoinResult{Identifiers: map[string]string{
		"card_number": fmt.Sprintf("6332%012d", req.SchemeAccountID),
	}}, nil
}

func (s *Stub) Balance(ctx context.Context, req *Request) (*core.Balance, error) {
	value := 1.5
	return &core.Balance{Points: 150, Value: &value, ValueLabel: "£1.50"}, nil
}

func (s *Stub) Transactions(ctx context.Context, req *Request) ([]core.Transaction, error) {
	return []core.Transaction{
		{Date: "2026-01-02T10:00:00Z", Description: "Stub purchase", Points: 50},
	}, nil
}

func (s *Stub) Remove(ctx context.Context, req *Request) error {
	return s.outcome(req)
}
