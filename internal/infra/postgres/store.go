package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dragon-marcel/mat-gwiazda/internal/app"
	"github.com/dragon-marcel/mat-gwiazda/internal/domain"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

// SQLSTATE codes reported as domain.ErrWriteConflict.
const (
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
	sqlStateUniqueViolation      = "23505"
)

// Store implements app.Store on Postgres. Each unit runs in a REPEATABLE READ
// transaction; locks are SELECT ... FOR UPDATE and are released at commit.
type Store struct {
	db    *bun.DB
	clock func() time.Time
}

// Open connects to dsn through pgdriver.
func Open(dsn string) *bun.DB {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	return bun.NewDB(sqldb, pgdialect.New())
}

func NewStore(db *bun.DB) *Store {
	return &Store{db: db, clock: time.Now}
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx app.Tx) error) error {
	opts := &sql.TxOptions{Isolation: sql.LevelRepeatableRead}
	err := s.db.RunInTx(ctx, opts, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, &txn{tx: tx, now: s.now})
	})
	return mapConflict(err)
}

// CreateUser inserts a new user outside the attempt lifecycle.
func (s *Store) CreateUser(ctx context.Context, user domain.User) (domain.User, error) {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	if user.Level < 1 {
		user.Level = 1
	}
	now := s.now()
	user.CreatedAt = now
	user.UpdatedAt = now
	if _, err := s.db.NewInsert().Model(toUserRow(user)).Exec(ctx); err != nil {
		return domain.User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (domain.User, error) {
	var row userRow
	err := s.db.NewSelect().Model(&row).Where("id = ?", id).Scan(ctx)
	if err != nil {
		return domain.User{}, notFound(err, domain.ErrUserNotFound)
	}
	return row.domain(), nil
}

func (s *Store) ListAttempts(ctx context.Context, userID uuid.UUID) ([]domain.Attempt, error) {
	var rows []attemptRow
	err := s.db.NewSelect().Model(&rows).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	out := make([]domain.Attempt, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.domain())
	}
	return out, nil
}

func (s *Store) GetTask(ctx context.Context, id uuid.UUID) (domain.Task, error) {
	var row taskRow
	if err := s.db.NewSelect().Model(&row).Where("id = ?", id).Scan(ctx); err != nil {
		return domain.Task{}, notFound(err, domain.ErrTaskNotFound)
	}
	return row.domain(), nil
}

func (s *Store) ListTasks(ctx context.Context, filter domain.TaskFilter) ([]domain.Task, int, error) {
	var rows []taskRow
	q := s.db.NewSelect().Model(&rows)
	if filter.Level != nil {
		q = q.Where("level = ?", *filter.Level)
	}
	if filter.Active != nil {
		q = q.Where("is_active = ?", *filter.Active)
	}
	if filter.CreatedByID != nil {
		q = q.Where("created_by_id = ?", *filter.CreatedByID)
	}
	total, err := q.Order("created_at DESC").
		Limit(filter.Size).
		Offset(filter.Page * filter.Size).
		ScanAndCount(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("list tasks: %w", err)
	}
	out := make([]domain.Task, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.domain())
	}
	return out, total, nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) now() time.Time {
	return s.clock().UTC()
}

type txn struct {
	tx  bun.Tx
	now func() time.Time
}

func (t *txn) LockUser(ctx context.Context, id uuid.UUID) (domain.User, error) {
	var row userRow
	err := t.tx.NewSelect().Model(&row).Where("id = ?", id).For("UPDATE").Scan(ctx)
	if err != nil {
		return domain.User{}, notFound(err, domain.ErrUserNotFound)
	}
	return row.domain(), nil
}

func (t *txn) LockAttempt(ctx context.Context, id uuid.UUID) (domain.Attempt, error) {
	var row attemptRow
	err := t.tx.NewSelect().Model(&row).Where("id = ?", id).For("UPDATE").Scan(ctx)
	if err != nil {
		return domain.Attempt{}, notFound(err, domain.ErrAttemptNotFound)
	}
	return row.domain(), nil
}

func (t *txn) GetAttempt(ctx context.Context, id uuid.UUID) (domain.Attempt, error) {
	var row attemptRow
	if err := t.tx.NewSelect().Model(&row).Where("id = ?", id).Scan(ctx); err != nil {
		return domain.Attempt{}, notFound(err, domain.ErrAttemptNotFound)
	}
	return row.domain(), nil
}

func (t *txn) FindOpenAttemptByUser(ctx context.Context, userID uuid.UUID) (*domain.Attempt, error) {
	var row attemptRow
	err := t.tx.NewSelect().Model(&row).
		Where("user_id = ?", userID).
		Where("finalized = FALSE").
		Order("created_at DESC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find open attempt: %w", err)
	}
	a := row.domain()
	return &a, nil
}

func (t *txn) GetTask(ctx context.Context, id uuid.UUID) (domain.Task, error) {
	var row taskRow
	if err := t.tx.NewSelect().Model(&row).Where("id = ?", id).Scan(ctx); err != nil {
		return domain.Task{}, notFound(err, domain.ErrTaskNotFound)
	}
	return row.domain(), nil
}

func (t *txn) UserExists(ctx context.Context, id uuid.UUID) (bool, error) {
	exists, err := t.tx.NewSelect().Model((*userRow)(nil)).Where("id = ?", id).Exists(ctx)
	if err != nil {
		return false, fmt.Errorf("check user: %w", err)
	}
	return exists, nil
}

func (t *txn) SaveUser(ctx context.Context, user *domain.User) error {
	now := t.now()
	user.UpdatedAt = now
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
		user.CreatedAt = now
		_, err := t.tx.NewInsert().Model(toUserRow(*user)).Exec(ctx)
		return wrap("insert user", err)
	}
	_, err := t.tx.NewUpdate().Model(toUserRow(*user)).WherePK().Exec(ctx)
	return wrap("update user", err)
}

func (t *txn) SaveTask(ctx context.Context, task *domain.Task) error {
	now := t.now()
	task.UpdatedAt = now
	if task.ID == uuid.Nil {
		task.ID = uuid.New()
		task.CreatedAt = now
		_, err := t.tx.NewInsert().Model(toTaskRow(*task)).Exec(ctx)
		return wrap("insert task", err)
	}
	_, err := t.tx.NewUpdate().Model(toTaskRow(*task)).WherePK().Exec(ctx)
	return wrap("update task", err)
}

func (t *txn) SaveAttempt(ctx context.Context, attempt *domain.Attempt) error {
	if attempt.ID == uuid.Nil {
		attempt.ID = uuid.New()
		attempt.CreatedAt = t.now()
		_, err := t.tx.NewInsert().Model(toAttemptRow(*attempt)).Exec(ctx)
		return wrap("insert attempt", err)
	}
	_, err := t.tx.NewUpdate().Model(toAttemptRow(*attempt)).WherePK().Exec(ctx)
	return wrap("update attempt", err)
}

func notFound(err, sentinel error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return sentinel
	}
	return err
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// mapConflict turns serialization failures, deadlocks and a second open attempt
// for the same user into domain.ErrWriteConflict so the unit is retried.
func mapConflict(err error) error {
	if err == nil {
		return nil
	}
	var pgErr pgdriver.Error
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Field('C') {
	case sqlStateSerializationFailure, sqlStateDeadlockDetected, sqlStateUniqueViolation:
		return fmt.Errorf("%w: %w", domain.ErrWriteConflict, err)
	}
	return err
}
