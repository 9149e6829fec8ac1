package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/piukhq/midas-sub000/internal/core"
)

// GormStore implements Store on a relational database through gorm.
type GormStore struct {
	db         *gorm.DB
	txAttempts int
	logger     *slog.Logger
	now        func() time.Time
}

// NewGormStore creates a store. txAttempts bounds the rollback-and-retry
// loop around each write; values below 1 mean a single attempt.
func NewGormStore(db *gorm.DB, txAttempts int, logger *slog.Logger) *GormStore {
	if txAttempts < 1 {
		txAttempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GormStore{
		db:         db,
		txAttempts: txAttempts,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// OpenPostgres opens the production database.
func OpenPostgres(dsn string, maxOpenConns int) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if maxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(maxOpenConns)
		sqlDB.SetMaxIdleConns(maxOpenConns)
	}
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

// Migrate creates or alters the retry_task and user_consent tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&RetryTaskModel{}, &UserConsentModel{})
}

func (s *GormStore) Create(ctx context.Context, req *core.CreateRequest) (*core.RetryTask, error) {
	requestData, err := BuildRequestData(req)
	if err != nil {
		return nil, fmt.Errorf("encode request data: %w", err)
	}

	now := s.now()
	row := RetryTaskModel{
		MessageUID:       req.MessageUID,
		SchemeAccountID:  req.SchemeAccountID,
		JourneyType:      string(req.JourneyType),
		SchemeIdentifier: req.SchemeIdentifier,
		RequestData:      datatypes.JSON(requestData),
		Status:           string(core.StatusPending),
		TimeCreated:      now,
		TimeUpdated:      now,
	}

	err = s.withTx(ctx, func(tx *gorm.DB) error {
		row.ID = 0
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		if len(req.Consents) == 0 {
			return nil
		}
		consents := make([]UserConsentModel, 0, len(req.Consents))
		for _, c := range req.Consents {
			consents = append(consents, UserConsentModel{
				SchemeAccountID: req.SchemeAccountID,
				MessageUID:      req.MessageUID,
				Slug:            c.Slug,
				Value:           c.Value,
				Status:          string(core.ConsentPending),
			})
		}
		return tx.Create(&consents).Error
	})
	if err != nil {
		if isDuplicateKey(err) {
			return nil, core.ErrDuplicateTask
		}
		return nil, fmt.Errorf("create retry task: %w", err)
	}

	return ModelToTask(&row), nil
}

// Get returns the single task for an account. Zero rows and more than one
// row are both NotFound.
func (s *GormStore) Get(ctx context.Context, schemeAccountID int64) (*core.RetryTask, error) {
	var rows []RetryTaskModel
	if err := s.db.WithContext(ctx).
		Where("scheme_account_id = ?", schemeAccountID).
		Limit(2).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("get retry task: %w", err)
	}
	return single(rows, strconv.FormatInt(schemeAccountID, 10))
}

func (s *GormStore) GetByMessageUID(ctx context.Context, messageUID string) (*core.RetryTask, error) {
	var rows []RetryTaskModel
	if err := s.db.WithContext(ctx).
		Where("message_uid = ?", messageUID).
		Limit(2).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("get retry task: %w", err)
	}
	return single(rows, messageUID)
}

func single(rows []RetryTaskModel, key string) (*core.RetryTask, error) {
	switch len(rows) {
	case 1:
		return ModelToTask(&rows[0]), nil
	case 0:
		return nil, core.NewNotFoundError("retry task", key)
	default:
		return nil, &core.NotFoundError{Resource: "retry task", Key: key, Reason: "multiple rows"}
	}
}

// Delete removes the task row. Deleting a task that is already gone is not an error.
func (s *GormStore) Delete(ctx context.Context, task *core.RetryTask) error {
	err := s.withTx(ctx, func(tx *gorm.DB) error {
		return tx.Delete(&RetryTaskModel{}, task.ID).Error
	})
	if err != nil {
		return fmt.Errorf("delete retry task: %w", err)
	}
	return nil
}

func (s *GormStore) UpdateForRetry(ctx context.Context, task *core.RetryTask, status core.Status, next time.Time) error {
	return s.transition(ctx, task, status, map[string]any{
		"attempts":          gorm.Expr("attempts + 1"),
		"next_attempt_time": next.UTC(),
		"awaiting_callback": false,
	})
}

func (s *GormStore) ResetForCallbackAttempt(ctx context.Context, task *core.RetryTask, status core.Status, next time.Time) error {
	return s.transition(ctx, task, status, map[string]any{
		"callback_retries":  gorm.Expr("callback_retries + 1"),
		"attempts":          0,
		"next_attempt_time": next.UTC(),
		"awaiting_callback": false,
	})
}

func (s *GormStore) UpdateCallbackAttempt(ctx context.Context, task *core.RetryTask, next time.Time) error {
	return s.transition(ctx, task, core.StatusRetrying, map[string]any{
		"callback_retries":  gorm.Expr("callback_retries + 1"),
		"next_attempt_time": next.UTC(),
		"awaiting_callback": false,
	})
}

func (s *GormStore) FailCallback(ctx context.Context, task *core.RetryTask) error {
	return s.transition(ctx, task, core.StatusFailed, map[string]any{
		"next_attempt_time": nil,
		"awaiting_callback": false,
	})
}

func (s *GormStore) MarkInProgress(ctx context.Context, task *core.RetryTask) error {
	return s.transition(ctx, task, core.StatusInProgress, map[string]any{
		"next_attempt_time": nil,
	})
}

// Reclaim restarts an IN_PROGRESS task whose run has not touched the row
// since cutoff. The run that held it is taken to be dead.
func (s *GormStore) Reclaim(ctx context.Context, task *core.RetryTask, cutoff time.Time) error {
	if task.Status != core.StatusInProgress {
		return &core.TransitionError{From: task.Status, To: core.StatusInProgress}
	}
	return s.applyWhere(ctx, task, task.Status, func(db *gorm.DB) *gorm.DB {
		return db.Where("time_updated < ?", cutoff.UTC())
	}, map[string]any{"next_attempt_time": nil})
}

// MarkWaiting parks the task until a merchant callback arrives.
func (s *GormStore) MarkWaiting(ctx context.Context, task *core.RetryTask) error {
	return s.transition(ctx, task, core.StatusWaiting, map[string]any{
		"next_attempt_time": nil,
		"awaiting_callback": true,
	})
}

func (s *GormStore) MarkFailed(ctx context.Context, task *core.RetryTask) error {
	return s.transition(ctx, task, core.StatusFailed, map[string]any{
		"next_attempt_time": nil,
	})
}

func (s *GormStore) MarkSuccess(ctx context.Context, task *core.RetryTask) error {
	return s.transition(ctx, task, core.StatusSuccess, map[string]any{
		"next_attempt_time": nil,
		"awaiting_callback": false,
	})
}

func (s *GormStore) Requeue(ctx context.Context, task *core.RetryTask) error {
	return s.transition(ctx, task, core.StatusRequeued, map[string]any{
		"next_attempt_time": nil,
		"awaiting_callback": false,
	})
}

// Annotate merges extra into the task's extra_data.
func (s *GormStore) Annotate(ctx context.Context, task *core.RetryTask, extra map[string]any) error {
	merged := map[string]any{}
	if len(task.ExtraData) > 0 {
		if err := json.Unmarshal(task.ExtraData, &merged); err != nil {
			merged = map[string]any{}
		}
	}
	for k, v := range extra {
		merged[k] = v
	}
	data, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("encode extra data: %w", err)
	}
	return s.apply(ctx, task, task.Status, map[string]any{"extra_data": datatypes.JSON(data)})
}

// transition validates the status change before applying it.
func (s *GormStore) transition(ctx context.Context, task *core.RetryTask, to core.Status, updates map[string]any) error {
	if !core.IsValidTransition(task.Status, to) {
		s.logger.Warn("refusing invalid status transition",
			"scheme_account_id", task.SchemeAccountID,
			"from", task.Status,
			"to", to,
		)
		return &core.TransitionError{From: task.Status, To: to}
	}
	updates["status"] = string(to)
	return s.apply(ctx, task, task.Status, updates)
}

// apply updates the row only if it still has the status the caller read,
// then reloads it into task.
func (s *GormStore) apply(ctx context.Context, task *core.RetryTask, expected core.Status, updates map[string]any) error {
	return s.applyWhere(ctx, task, expected, nil, updates)
}

// applyWhere is apply with an extra condition on the row.
func (s *GormStore) applyWhere(ctx context.Context, task *core.RetryTask, expected core.Status, scope func(*gorm.DB) *gorm.DB, updates map[string]any) error {
	updates["time_updated"] = s.now()

	var row RetryTaskModel
	err := s.withTx(ctx, func(tx *gorm.DB) error {
		query := tx.Model(&RetryTaskModel{}).
			Where("id = ? AND status = ?", task.ID, string(expected))
		if scope != nil {
			query = scope(query)
		}
		res := query.Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return &core.NotFoundError{
				Resource: "retry task",
				Key:      strconv.FormatInt(task.SchemeAccountID, 10),
				Reason:   fmt.Sprintf("no row in status %s", expected),
			}
		}
		return tx.First(&row, task.ID).Error
	})
	if err != nil {
		return fmt.Errorf("update retry task: %w", err)
	}

	*task = *ModelToTask(&row)
	return nil
}

func (s *GormStore) ListByStatus(ctx context.Context, status core.Status, limit int) ([]*core.RetryTask, error) {
	query := s.db.WithContext(ctx).Order("time_updated asc")
	if status != "" {
		query = query.Where("status = ?", string(status))
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var rows []RetryTaskModel
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list retry tasks: %w", err)
	}
	return toTasks(rows), nil
}

// untouchedStatuses are swept once their row has not changed since the
// cutoff: queued work that never ran, runs that died, and terminal rows
// whose cleanup did not finish.
var untouchedStatuses = []string{
	string(core.StatusPending),
	string(core.StatusRequeued),
	string(core.StatusInProgress),
	string(core.StatusSuccess),
	string(core.StatusFailed),
	string(core.StatusCancelled),
}

func (s *GormStore) ListStale(ctx context.Context, cutoff, waitingCutoff time.Time, limit int) ([]*core.RetryTask, error) {
	cutoff = cutoff.UTC()
	query := s.db.WithContext(ctx).
		Where("(status = ? AND next_attempt_time < ?) OR (status IN ? AND time_updated < ?) OR (status = ? AND time_updated < ?)",
			string(core.StatusRetrying), cutoff,
			untouchedStatuses, cutoff,
			string(core.StatusWaiting), waitingCutoff.UTC(),
		).
		Order("time_updated asc")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var rows []RetryTaskModel
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list stale retry tasks: %w", err)
	}
	return toTasks(rows), nil
}

func (s *GormStore) SetConsentStatus(ctx context.Context, schemeAccountID int64, from, to core.ConsentStatus) (int64, error) {
	var affected int64
	err := s.withTx(ctx, func(tx *gorm.DB) error {
		res := tx.Model(&UserConsentModel{}).
			Where("scheme_account_id = ? AND status = ?", schemeAccountID, string(from)).
			Updates(map[string]any{
				"status":       string(to),
				"time_updated": s.now(),
			})
		affected = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, fmt.Errorf("update consents: %w", err)
	}
	return affected, nil
}

func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func toTasks(rows []RetryTaskModel) []*core.RetryTask {
	tasks := make([]*core.RetryTask, 0, len(rows))
	for i := range rows {
		tasks = append(tasks, ModelToTask(&rows[i]))
	}
	return tasks
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "SQLSTATE 23505")
}
