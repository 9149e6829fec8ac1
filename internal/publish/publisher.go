package publish

import (
	"context"
	"log/slog"

	"github.com/piukhq/midas-sub000/internal/core"
)

// Downstream is the account service that receives journey results.
type Downstream interface {
	PostStatus(ctx context.Context, schemeAccountID int64, update StatusUpdate) error
	PostBalance(ctx context.Context, schemeAccountID int64, balance *core.Balance) error
	PostTransactions(ctx context.Context, schemeAccountID int64, txs []core.Transaction) error
	PutCredentials(ctx context.Context, schemeAccountID int64, identifiers map[string]string) error
	DeleteCredentials(ctx context.Context, schemeAccountID int64) error
}

// Results is everything a finished journey reports.
type Results struct {
	SchemeAccountID int64
	Journey         string
	UserInfo        core.UserInfo
	Status          int
	Balance         *core.Balance
	Transactions    []core.Transaction
}

// Publisher fans results out to the downstream service on a shared pool.
type Publisher struct {
	pool       *Pool
	downstream Downstream
	logger     *slog.Logger
}

// NewPublisher creates a publisher. The pool is shared by every journey in the process.
func NewPublisher(pool *Pool, downstream Downstream, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{pool: pool, downstream: downstream, logger: logger}
}

// PublishResults submits status, balance and transactions, then waits for
// all three, even once ctx is done. Failures are logged and not retried.
func (p *Publisher) PublishResults(ctx context.Context, r Results) {
	id := r.SchemeAccountID

	futures := []*Future{
		p.pool.Submit(func() error {
			return p.downstream.PostStatus(ctx, id, StatusUpdate{Status: r.Status, Journey: r.Journey, UserInfo: r.UserInfo})
		}),
		p.pool.Submit(func() error {
			if r.Balance == nil {
				return nil
			}
			return p.downstream.PostBalance(ctx, id, r.Balance)
		}),
		p.pool.Submit(func() error {
			if r.Transactions == nil {
				return nil
			}
			return p.downstream.PostTransactions(ctx, id, r.Transactions)
		}),
	}

	streams := []string{"status", "balance", "transactions"}
	for i, err := range WaitAll(futures...) {
		if err != nil {
			p.logger.WarnContext(ctx, "publish failed",
				"stream", streams[i],
				"scheme_account_id", id,
				"error", err,
			)
		}
	}
}

// Status sends a single status notification synchronously.
func (p *Publisher) Status(ctx context.Context, schemeAccountID int64, status int, journey string, userInfo core.UserInfo) error {
	return p.downstream.PostStatus(ctx, schemeAccountID, StatusUpdate{Status: status, Journey: journey, UserInfo: userInfo})
}

// UpdateCredentials stores identifiers the merchant assigned during a join.
func (p *Publisher) UpdateCredentials(ctx context.Context, schemeAccountID int64, identifiers map[string]string) error {
	if len(identifiers) == 0 {
		return nil
	}
	return p.downstream.PutCredentials(ctx, schemeAccountID, identifiers)
}

// DeleteCredentials removes the credentials of a failed join.
func (p *Publisher) DeleteCredentials(ctx context.Context, schemeAccountID int64) error {
	return p.downstream.DeleteCredentials(ctx, schemeAccountID)
}
