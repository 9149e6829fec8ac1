package core

import (
	"context"
	"log/slog"
)

// Outcome describes a finished journey for observers.
type Outcome struct {
	SchemeAccountID int64
	Scheme          string
	Channel         string
	Kind            ErrorKind
	Attempts        int
}

// Observer receives journey outcomes. Implementations must not block.
type Observer interface {
	OnLoginSuccess(ctx context.Context, o Outcome)
	OnLoginFail(ctx context.Context, o Outcome)
	OnJoinSuccess(ctx context.Context, o Outcome)
	OnJoinFail(ctx context.Context, o Outcome)
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) OnLoginSuccess(context.Context, Outcome) {}
func (NopObserver) OnLoginFail(context.Context, Outcome)    {}
func (NopObserver) OnJoinSuccess(context.Context, Outcome)  {}
func (NopObserver) OnJoinFail(context.Context, Outcome)     {}

// Observers fans one event out to several observers.
type Observers []Observer

func (os Observers) OnLoginSuccess(ctx context.Context, o Outcome) {
	for _, obs := range os {
		obs.OnLoginSuccess(ctx, o)
	}
}

func (os Observers) OnLoginFail(ctx context.Context, o Outcome) {
	for _, obs := range os {
		obs.OnLoginFail(ctx, o)
	}
}

func (os Observers) OnJoinSuccess(ctx context.Context, o Outcome) {
	for _, obs := range os {
		obs.OnJoinSuccess(ctx, o)
	}
}

func (os Observers) OnJoinFail(ctx context.Context, o Outcome) {
	for _, obs := range os {
		obs.OnJoinFail(ctx, o)
	}
}

// Reporter is the observability sink for errors that need human follow-up.
type Reporter interface {
	Report(ctx context.Context, err error, attrs ...any)
}

// LogReporter reports errors to a structured logger.
type LogReporter struct {
	Logger *slog.Logger
}

func (r LogReporter) Report(ctx context.Context, err error, attrs ...any) {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.ErrorContext(ctx, "unexpected error", append([]any{"error", err}, attrs...)...)
}
