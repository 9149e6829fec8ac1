package agents

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/piukhq/midas-sub000/internal/core"
)

// Request is what a merchant integration receives for one call.
type Request struct {
	SchemeAccountID int64
	Scheme          string
	MessageUID      string
	UserInfo        core.UserInfo
	Credentials     map[string]any
	Consents        []core.Consent
}

// CardNumber returns the card number already held for the account, if any.
func (r *Request) CardNumber() string {
	for _, key := range []string{"card_number", "barcode"} {
		if v, ok := r.Credentials[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// JoinResult is the outcome of a successful join call.
type JoinResult struct {
	// AwaitingCallback is set when the merchant completes the join out of band.
	AwaitingCallback bool
	// Identifiers are credentials assigned by the merchant, e.g. card_number.
	Identifiers map[string]string
}

// Agent is one merchant integration. Every failure is a *core.MerchantError.
type Agent interface {
	Login(ctx context.Context, req *Request) error
	Join(ctx context.Context, req *Request) (*JoinResult, error)
	Balance(ctx context.Context, req *Request) (*core.Balance, error)
	Transactions(ctx context.Context, req *Request) ([]core.Transaction, error)
}

// Remover is implemented by agents that must be told when an account is removed.
type Remover interface {
	Remove(ctx context.Context, req *Request) error
}

// Constructor builds a fresh agent for one journey execution.
type Constructor func() Agent

// Registry maps scheme slugs to agent constructors. It is fixed once built.
type Registry struct {
	constructors map[string]Constructor
}

// NewRegistry creates a registry from an explicit slug table.
func NewRegistry(entries map[string]Constructor) *Registry {
	constructors := make(map[string]Constructor, len(entries))
	for slug, c := range entries {
		constructors[slug] = c
	}
	return &Registry{constructors: constructors}
}

// Resolve returns a new agent for slug, or a *core.NotFoundError.
func (r *Registry) Resolve(slug string) (Agent, error) {
	c, ok := r.constructors[slug]
	if !ok || c == nil {
		return nil, &core.NotFoundError{Resource: "scheme", Key: slug, Reason: "no registered integration"}
	}
	return c(), nil
}

// Slugs lists the registered schemes in sorted order.
func (r *Registry) Slugs() []string {
	slugs := make([]string, 0, len(r.constructors))
	for slug := range r.constructors {
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)
	return slugs
}

// DecodeCredentials turns the stored credential blob into a map.
func DecodeCredentials(raw json.RawMessage) (map[string]any, error) {
	creds := map[string]any{}
	if len(raw) == 0 || string(raw) == "null" {
		return creds, nil
	}
	if err := json.Unmarshal(raw, &creds); err != nil {
		return nil, err
	}
	return creds, nil
}
