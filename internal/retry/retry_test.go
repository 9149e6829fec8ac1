package retry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/piukhq/midas-sub000/internal/core"
	"github.com/piukhq/midas-sub000/internal/state"
	"github.com/piukhq/midas-sub000/internal/workqueue"
)

type enqueued struct {
	kind string
	task core.RetryTask
	at   time.Time
}

type queueMock struct {
	mu        sync.Mutex
	calls     []enqueued
	enqueueFn func(kind string, task *core.RetryTask) error
}

func (m *queueMock) record(kind string, task *core.RetryTask, at time.Time) error {
	m.mu.Lock()
	m.calls = append(m.calls, enqueued{kind: kind, task: *task, at: at})
	m.mu.Unlock()
	if m.enqueueFn != nil {
		return m.enqueueFn(kind, task)
	}
	return nil
}

func (m *queueMock) EnqueueNow(ctx context.Context, task *core.RetryTask) error {
	return m.record("now", task, time.Time{})
}

func (m *queueMock) EnqueueAt(ctx context.Context, task *core.RetryTask, at time.Time) error {
	return m.record("at", task, at)
}

func (m *queueMock) Requeue(ctx context.Context, task *core.RetryTask) error {
	return m.record("requeue", task, time.Time{})
}

func (m *queueMock) EnqueueCallbackConfirm(ctx context.Context, task *core.RetryTask, at time.Time) error {
	return m.record("confirm", task, at)
}

type statusCall struct {
	id      int64
	status  int
	journey string
}

type notifierMock struct {
	mu        sync.Mutex
	statuses  []statusCall
	deletes   []int64
	statusErr error
	deleteErr error
}

func (m *notifierMock) Status(ctx context.Context, id int64, status int, journey string, ui core.UserInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses = append(m.statuses, statusCall{id, status, journey})
	return m.statusErr
}

func (m *notifierMock) DeleteCredentials(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes = append(m.deletes, id)
	return m.deleteErr
}

type ledgerMock struct {
	claimed map[string]bool
}

func (m *ledgerMock) Claim(ctx context.Context, key string, entry state.LedgerEntry) (bool, error) {
	if m.claimed[key] {
		return false, nil
	}
	m.claimed[key] = true
	return true, nil
}

type reporterMock struct {
	mu   sync.Mutex
	errs []error
}

func (m *reporterMock) Report(ctx context.Context, err error, attrs ...any) {
	m.mu.Lock()
	m.errs = append(m.errs, err)
	m.mu.Unlock()
}

type observerMock struct {
	core.NopObserver
	joinFails, loginFails int
}

func (m *observerMock) OnJoinFail(ctx context.Context, o core.Outcome)  { m.joinFails++ }
func (m *observerMock) OnLoginFail(ctx context.Context, o core.Outcome) { m.loginFails++ }

type completerMock struct {
	calls []map[string]string
}

func (m *completerMock) CompleteJoin(ctx context.Context, task *core.RetryTask, identifiers map[string]string) error {
	m.calls = append(m.calls, identifiers)
	return nil
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store    *state.GormStore
	queue    *queueMock
	notifier *notifierMock
	reporter *reporterMock
	observer *observerMock
	coord    *Coordinator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := state.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &fixture{
		store:    state.NewGormStore(db, 2, log),
		queue:    &queueMock{},
		notifier: &notifierMock{},
		reporter: &reporterMock{},
		observer: &observerMock{},
	}
	f.coord = NewCoordinator(Deps{
		Store:    f.store,
		Queue:    f.queue,
		Policy:   core.RetryPolicy{BackoffBase: 3, Unit: time.Minute, MaxRetries: 3, MaxCallbackRetries: 4},
		Notifier: f.notifier,
		Observer: f.observer,
		Reporter: f.reporter,
		Logger:   log,
	})
	f.coord.now = func() time.Time { return fixedNow }
	return f
}

func (f *fixture) create(t *testing.T, id int64, journey core.JourneyType, creds string) *core.RetryTask {
	t.Helper()
	task, err := f.store.Create(context.Background(), &core.CreateRequest{
		UserInfo:         core.UserInfo{SchemeAccountID: id, Channel: "com.bink.wallet"},
		Credentials:      json.RawMessage(creds),
		Consents:         []core.Consent{{Slug: "newsletter", Value: "true"}},
		JourneyType:      journey,
		MessageUID:       fmt.Sprintf("uid-%d", id),
		SchemeIdentifier: "iceland-bonus-card",
		SchemeAccountID:  id,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return task
}

func (f *fixture) retryTimes(t *testing.T, task *core.RetryTask, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if err := f.store.UpdateForRetry(context.Background(), task, core.StatusRetrying, fixedNow); err != nil {
			t.Fatalf("update for retry: %v", err)
		}
	}
}

func TestHandleFailure_FirstRetryableFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.create(t, 1, core.JourneyAttemptJoin, `{"email":"a@b.com"}`)
	if err := f.store.MarkInProgress(ctx, task); err != nil {
		t.Fatalf("mark in progress: %v", err)
	}

	status, next, err := f.coord.HandleFailure(ctx, task, core.NewMerchantError(core.KindServiceUnavailable, "down"))
	if err != nil {
		t.Fatalf("handle failure: %v", err)
	}
	if status != core.StatusRetrying {
		t.Fatalf("status = %s, want RETRYING", status)
	}
	want := fixedNow.Add(3 * time.Minute)
	if next == nil || !next.Equal(want) {
		t.Fatalf("next = %v, want now + base*60s = %v", next, want)
	}

	stored, err := f.store.Get(ctx, 1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != core.StatusRetrying || stored.Attempts != 1 {
		t.Errorf("stored = %+v", stored)
	}
	if stored.NextAttemptTime == nil || !stored.NextAttemptTime.Equal(want) {
		t.Errorf("stored next_attempt_time = %v", stored.NextAttemptTime)
	}

	if len(f.queue.calls) != 1 || f.queue.calls[0].kind != "at" || !f.queue.calls[0].at.Equal(want) {
		t.Fatalf("enqueue calls = %+v", f.queue.calls)
	}
	if f.queue.calls[0].task.Attempts != 1 {
		t.Errorf("scheduled job carries attempts %d, want 1", f.queue.calls[0].task.Attempts)
	}
	if len(f.notifier.statuses) != 0 {
		t.Error("retried task must be invisible downstream")
	}
}

func TestHandleFailure_ExhaustedFailsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.create(t, 2, core.JourneyAttemptJoin, `{"email":"a@b.com"}`)
	f.retryTimes(t, task, 3)
	stale := *task

	status, next, err := f.coord.HandleFailure(ctx, task, core.NewMerchantError(core.KindRateLimited, "slow"))
	if err != nil {
		t.Fatalf("handle failure: %v", err)
	}
	if status != core.StatusFailed || next != nil {
		t.Fatalf("status = %s next = %v, want FAILED with no schedule", status, next)
	}
	if _, err := f.store.Get(ctx, 2); !core.IsNotFound(err) {
		t.Errorf("task should be deleted, got %v", err)
	}
	if len(f.queue.calls) != 0 {
		t.Errorf("terminal failure scheduled %d jobs", len(f.queue.calls))
	}
	if len(f.notifier.statuses) != 1 {
		t.Fatalf("status notifications = %d, want 1", len(f.notifier.statuses))
	}
	if got := f.notifier.statuses[0]; got.status != core.StatusEnrolFailed || got.journey != "join" {
		t.Errorf("notification = %+v", got)
	}
	if len(f.notifier.deletes) != 1 {
		t.Errorf("credential deletes = %d, want 1", len(f.notifier.deletes))
	}
	if f.observer.joinFails != 1 {
		t.Errorf("join fail events = %d", f.observer.joinFails)
	}

	n, err := f.store.SetConsentStatus(ctx, 2, core.ConsentFailed, core.ConsentFailed)
	if err != nil || n != 1 {
		t.Errorf("consents in FAILED = %d, %v", n, err)
	}

	// A redelivered job holding the old row must not notify again.
	if _, _, err := f.coord.HandleFailure(ctx, &stale, core.NewMerchantError(core.KindRateLimited, "slow")); err == nil {
		t.Error("expected error for a task that no longer exists")
	}
	if len(f.notifier.statuses) != 1 {
		t.Errorf("status notifications after redelivery = %d, want 1", len(f.notifier.statuses))
	}
}

func TestHandleFailure_FailedJoinClassification(t *testing.T) {
	tests := []struct {
		name  string
		creds string
		kind  core.ErrorKind
		want  int
	}{
		{"already exists", `{"email":"a@b.com"}`, core.KindAccountAlreadyExists, core.StatusAccountAlreadyExists},
		{"card present", `{"card_number":"6332"}`, core.KindValidation, core.StatusRegistrationFailed},
		{"no card", `{"email":"a@b.com"}`, core.KindValidation, core.StatusEnrolFailed},
		{"unknown error", `{"email":"a@b.com"}`, core.KindUnknown, core.StatusEnrolFailed},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			id := int64(100 + i)
			task := f.create(t, id, core.JourneyAttemptJoin, tt.creds)

			var cause error = core.NewMerchantError(tt.kind, "nope")
			if tt.kind == core.KindUnknown {
				cause = errors.New("surprise")
			}
			status, _, err := f.coord.HandleFailure(context.Background(), task, cause)
			if err != nil {
				t.Fatalf("handle failure: %v", err)
			}
			if status != core.StatusFailed {
				t.Fatalf("status = %s, want FAILED immediately", status)
			}
			if len(f.notifier.statuses) != 1 || f.notifier.statuses[0].status != tt.want {
				t.Errorf("notifications = %+v, want status %d", f.notifier.statuses, tt.want)
			}
		})
	}
}

func TestHandleFailure_LoginRetriesAnyKind(t *testing.T) {
	f := newFixture(t)
	task := f.create(t, 3, core.JourneyAttemptLogin, `{"username":"x"}`)

	status, _, err := f.coord.HandleFailure(context.Background(), task, core.NewMerchantError(core.KindStatusLoginFailed, "bad password"))
	if err != nil {
		t.Fatalf("handle failure: %v", err)
	}
	if status != core.StatusRetrying {
		t.Errorf("login status = %s, want RETRYING", status)
	}
}

func TestHandleFailure_LoginTerminal(t *testing.T) {
	f := newFixture(t)
	task := f.create(t, 4, core.JourneyAttemptLogin, `{"username":"x"}`)
	f.retryTimes(t, task, 3)

	status, _, err := f.coord.HandleFailure(context.Background(), task, core.NewMerchantError(core.KindServiceUnavailable, "down"))
	if err != nil || status != core.StatusFailed {
		t.Fatalf("status = %s err = %v", status, err)
	}
	if len(f.notifier.statuses) != 1 {
		t.Fatalf("notifications = %d", len(f.notifier.statuses))
	}
	if got := f.notifier.statuses[0]; got.status != core.StatusEndSiteDown || got.journey != "login" {
		t.Errorf("notification = %+v", got)
	}
	if len(f.notifier.deletes) != 0 {
		t.Error("login failure must not delete credentials")
	}
	if f.observer.loginFails != 1 {
		t.Errorf("login fail events = %d", f.observer.loginFails)
	}
}

func TestFail_NotificationErrorsAreSwallowed(t *testing.T) {
	f := newFixture(t)
	f.notifier.statusErr = errors.New("hermes down")
	f.notifier.deleteErr = errors.New("hermes down")
	task := f.create(t, 5, core.JourneyAttemptJoin, `{"email":"a@b.com"}`)

	if err := f.coord.Fail(context.Background(), task, core.KindJoinError); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if _, err := f.store.Get(context.Background(), 5); !core.IsNotFound(err) {
		t.Errorf("task should still be deleted, got %v", err)
	}
}

func TestFail_LedgerPreventsDoubleNotify(t *testing.T) {
	f := newFixture(t)
	f.coord.ledger = &ledgerMock{claimed: map[string]bool{state.LedgerKey("uid-6", 6): true}}
	task := f.create(t, 6, core.JourneyAttemptJoin, `{"email":"a@b.com"}`)

	if err := f.coord.Fail(context.Background(), task, core.KindJoinError); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if len(f.notifier.statuses) != 0 || len(f.notifier.deletes) != 0 {
		t.Errorf("already-claimed outcome notified again: %+v", f.notifier.statuses)
	}
	if _, err := f.store.Get(context.Background(), 6); !core.IsNotFound(err) {
		t.Errorf("task should be deleted, got %v", err)
	}
}

// flakyDeleteStore fails the first row removal.
type flakyDeleteStore struct {
	*state.GormStore
	deletes int
}

func (s *flakyDeleteStore) Delete(ctx context.Context, task *core.RetryTask) error {
	s.deletes++
	if s.deletes == 1 {
		return errors.New("connection reset")
	}
	return s.GormStore.Delete(ctx, task)
}

func TestFail_RedeliveryAfterDeleteErrorNotifiesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	store := &flakyDeleteStore{GormStore: f.store}
	f.coord.store = store
	task := f.create(t, 8, core.JourneyAttemptJoin, `{"email":"a@b.com"}`)
	f.retryTimes(t, task, 3)

	if _, _, err := f.coord.HandleFailure(ctx, task, core.NewMerchantError(core.KindAccountAlreadyExists, "taken")); err == nil {
		t.Fatal("expected the delete error to be returned")
	}
	stored, err := f.store.Get(ctx, 8)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != core.StatusFailed || !stored.TerminalNotified() {
		t.Fatalf("stored = %+v, want FAILED with the notification recorded", stored)
	}
	if got := stored.LastErrorKind(); got != core.KindAccountAlreadyExists {
		t.Errorf("last error kind = %s", got)
	}

	// The worker resumes a FAILED row with its recorded kind.
	if err := f.coord.Fail(ctx, stored, stored.LastErrorKind()); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if len(f.notifier.statuses) != 1 {
		t.Errorf("status notifications = %d, want 1", len(f.notifier.statuses))
	}
	if f.notifier.statuses[0].status != core.StatusAccountAlreadyExists {
		t.Errorf("notified status %d, want %d", f.notifier.statuses[0].status, core.StatusAccountAlreadyExists)
	}
	if len(f.notifier.deletes) != 1 {
		t.Errorf("credential deletes = %d, want 1", len(f.notifier.deletes))
	}
	if _, err := f.store.Get(ctx, 8); !core.IsNotFound(err) {
		t.Errorf("task should be deleted, got %v", err)
	}
	if f.observer.joinFails != 1 {
		t.Errorf("join fail events = %d, want 1", f.observer.joinFails)
	}
}

func TestHandleFailure_EnqueueErrorIsReported(t *testing.T) {
	f := newFixture(t)
	f.queue.enqueueFn = func(kind string, task *core.RetryTask) error { return errors.New("redis down") }
	task := f.create(t, 7, core.JourneyAttemptJoin, `{"email":"a@b.com"}`)

	status, _, err := f.coord.HandleFailure(context.Background(), task, core.NewMerchantError(core.KindNotSent, "x"))
	if err != nil {
		t.Fatalf("handle failure: %v", err)
	}
	if status != core.StatusRetrying {
		t.Errorf("status = %s", status)
	}
	if len(f.reporter.errs) != 1 {
		t.Errorf("reported = %d, want 1", len(f.reporter.errs))
	}
}

func newReconciler(f *fixture) (*Reconciler, *completerMock) {
	c := &completerMock{}
	return NewReconciler(f.coord, c), c
}

func (f *fixture) waiting(t *testing.T, id int64) *core.RetryTask {
	t.Helper()
	ctx := context.Background()
	task := f.create(t, id, core.JourneyAttemptJoin, `{"email":"async@b.com"}`)
	if err := f.store.MarkInProgress(ctx, task); err != nil {
		t.Fatalf("mark in progress: %v", err)
	}
	if err := f.store.MarkWaiting(ctx, task); err != nil {
		t.Fatalf("mark waiting: %v", err)
	}
	return task
}

func TestCallbackFailure_CycleResetsAttempts(t *testing.T) {
	f := newFixture(t)
	r, _ := newReconciler(f)
	ctx := context.Background()

	task := f.create(t, 10, core.JourneyAttemptJoin, `{"email":"a@b.com"}`)
	f.retryTimes(t, task, 2)

	status, next, err := r.HandleCallbackFailure(ctx, task, core.NewMerchantError(core.KindCallbackTimeout, "late"))
	if err != nil {
		t.Fatalf("callback failure: %v", err)
	}
	if status != core.StatusRetrying {
		t.Fatalf("status = %s", status)
	}
	if task.Attempts != 0 || task.CallbackRetries != 1 {
		t.Errorf("after first callback failure attempts=%d callback_retries=%d, want 0 and 1", task.Attempts, task.CallbackRetries)
	}
	if want := fixedNow.Add(3 * time.Minute); next == nil || !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}

	f.retryTimes(t, task, 1)
	if _, _, err := r.HandleCallbackFailure(ctx, task, core.NewMerchantError(core.KindCallbackTimeout, "late")); err != nil {
		t.Fatalf("second callback failure: %v", err)
	}
	if task.CallbackRetries != 2 {
		t.Errorf("callback_retries = %d, want 2", task.CallbackRetries)
	}
	if task.Attempts != 1 {
		t.Errorf("subsequent callback failure reset attempts to %d", task.Attempts)
	}

	for _, c := range f.queue.calls {
		if c.kind != "at" {
			t.Errorf("callback retry enqueued as %q, want a full join attempt", c.kind)
		}
	}
}

func TestCallbackFailure_ThresholdFails(t *testing.T) {
	f := newFixture(t)
	r, _ := newReconciler(f)
	ctx := context.Background()
	task := f.create(t, 11, core.JourneyAttemptJoin, `{"email":"a@b.com"}`)

	for i := 0; i < 3; i++ {
		if _, _, err := r.HandleCallbackFailure(ctx, task, core.NewMerchantError(core.KindCallbackTimeout, "late")); err != nil {
			t.Fatalf("callback failure %d: %v", i, err)
		}
	}
	if task.CallbackRetries != 3 {
		t.Fatalf("callback_retries = %d, want MAX-1 = 3", task.CallbackRetries)
	}
	scheduled := len(f.queue.calls)

	status, next, err := r.HandleCallbackFailure(ctx, task, core.NewMerchantError(core.KindServiceUnavailable, "down"))
	if err != nil {
		t.Fatalf("final callback failure: %v", err)
	}
	if status != core.StatusFailed || next != nil {
		t.Errorf("status = %s next = %v, want FAILED", status, next)
	}
	if len(f.queue.calls) != scheduled {
		t.Error("exhausted callback must not schedule further work")
	}
	if _, err := f.store.Get(ctx, 11); !core.IsNotFound(err) {
		t.Errorf("task should be deleted, got %v", err)
	}
	if len(f.notifier.statuses) != 1 {
		t.Errorf("notifications = %d, want 1", len(f.notifier.statuses))
	}
}

func TestAwaitCallback_SchedulesConfirmation(t *testing.T) {
	f := newFixture(t)
	r, _ := newReconciler(f)
	ctx := context.Background()
	task := f.create(t, 12, core.JourneyAttemptJoin, `{"email":"async@b.com"}`)
	if err := f.store.MarkInProgress(ctx, task); err != nil {
		t.Fatalf("mark in progress: %v", err)
	}

	if err := r.AwaitCallback(ctx, task, time.Hour); err != nil {
		t.Fatalf("await: %v", err)
	}
	if task.Status != core.StatusWaiting || !task.AwaitingCallback || task.NextAttemptTime != nil {
		t.Errorf("task = %+v", task)
	}
	if len(f.queue.calls) != 1 || f.queue.calls[0].kind != "confirm" || !f.queue.calls[0].at.Equal(fixedNow.Add(time.Hour)) {
		t.Errorf("enqueue calls = %+v", f.queue.calls)
	}
}

func TestConfirmTimeout(t *testing.T) {
	f := newFixture(t)
	r, _ := newReconciler(f)
	ctx := context.Background()
	task := f.waiting(t, 13)

	stale := workqueue.PayloadFor(task)
	stale.CallbackRetries = 5
	if err := r.ConfirmTimeout(ctx, stale); err != nil {
		t.Fatalf("stale confirm: %v", err)
	}
	if got, _ := f.store.Get(ctx, 13); got.Status != core.StatusWaiting {
		t.Fatalf("stale confirmation changed status to %s", got.Status)
	}

	if err := r.ConfirmTimeout(ctx, workqueue.PayloadFor(task)); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	got, err := f.store.Get(ctx, 13)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != core.StatusRetrying || got.CallbackRetries != 1 || got.AwaitingCallback {
		t.Errorf("after timeout = %+v", got)
	}

	if err := r.ConfirmTimeout(ctx, workqueue.Payload{SchemeAccountID: 999}); err != nil {
		t.Errorf("confirm for a missing task should be a no-op, got %v", err)
	}
}

func TestHandleCallback(t *testing.T) {
	f := newFixture(t)
	r, completer := newReconciler(f)
	ctx := context.Background()

	if err := r.HandleCallback(ctx, Callback{MessageUID: "nope", Success: true}); !core.IsNotFound(err) {
		t.Fatalf("unknown uid: %v", err)
	}

	pending := f.create(t, 20, core.JourneyAttemptJoin, `{"email":"a@b.com"}`)
	if err := r.HandleCallback(ctx, Callback{MessageUID: pending.MessageUID, Success: true}); !errors.Is(err, ErrNotAwaitingCallback) {
		t.Fatalf("not awaiting: %v", err)
	}

	waiting := f.waiting(t, 21)
	if err := r.HandleCallback(ctx, Callback{MessageUID: waiting.MessageUID, Scheme: "other", Success: true}); !core.IsNotFound(err) {
		t.Fatalf("scheme mismatch: %v", err)
	}
	ids := map[string]string{"card_number": "6332"}
	if err := r.HandleCallback(ctx, Callback{MessageUID: waiting.MessageUID, Scheme: "iceland-bonus-card", Success: true, Identifiers: ids}); err != nil {
		t.Fatalf("success callback: %v", err)
	}
	if len(completer.calls) != 1 || completer.calls[0]["card_number"] != "6332" {
		t.Errorf("completer calls = %v", completer.calls)
	}

	retryable := f.waiting(t, 22)
	if err := r.HandleCallback(ctx, Callback{MessageUID: retryable.MessageUID, ErrorCode: "end_site_down"}); err != nil {
		t.Fatalf("retryable failure: %v", err)
	}
	if got, _ := f.store.Get(ctx, 22); got.Status != core.StatusRetrying || got.CallbackRetries != 1 {
		t.Errorf("retryable callback failure = %+v", got)
	}

	terminal := f.waiting(t, 23)
	if err := r.HandleCallback(ctx, Callback{MessageUID: terminal.MessageUID, ErrorCode: "ACCOUNT_ALREADY_EXISTS"}); err != nil {
		t.Fatalf("terminal failure: %v", err)
	}
	if _, err := f.store.Get(ctx, 23); !core.IsNotFound(err) {
		t.Errorf("terminal callback failure should delete the task, got %v", err)
	}
	last := f.notifier.statuses[len(f.notifier.statuses)-1]
	if last.id != 23 || last.status != core.StatusAccountAlreadyExists {
		t.Errorf("last notification = %+v", last)
	}
}

func TestCallbackKind(t *testing.T) {
	if k := (Callback{ErrorCode: "rate_limited"}).Kind(); k != core.KindRateLimited {
		t.Errorf("kind = %s", k)
	}
	if k := (Callback{ErrorCode: "X123"}).Kind(); k != core.KindJoinError {
		t.Errorf("undeclared code kind = %s, want JOIN_ERROR", k)
	}
}
