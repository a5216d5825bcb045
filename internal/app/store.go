package app

import (
	"context"

	"github.com/dragon-marcel/mat-gwiazda/internal/domain"
	"github.com/google/uuid"
)

// Store runs atomic units of work against users, tasks and attempts.
type Store interface {
	// WithinTx runs fn as one atomic unit. Row locks taken through the Tx are held
	// until fn returns and the unit commits or rolls back. A collision with a
	// concurrently committed unit is reported as domain.ErrWriteConflict.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	GetUser(ctx context.Context, id uuid.UUID) (domain.User, error)
	ListAttempts(ctx context.Context, userID uuid.UUID) ([]domain.Attempt, error)
	GetTask(ctx context.Context, id uuid.UUID) (domain.Task, error)
	// ListTasks returns the requested page of tasks matching filter, newest first,
	// and the total number of matches.
	ListTasks(ctx context.Context, filter domain.TaskFilter) ([]domain.Task, int, error)
}

// Tx is the view of the store inside an atomic unit.
// Callers must lock a user before any attempt of that user.
type Tx interface {
	LockUser(ctx context.Context, id uuid.UUID) (domain.User, error)
	LockAttempt(ctx context.Context, id uuid.UUID) (domain.Attempt, error)
	GetAttempt(ctx context.Context, id uuid.UUID) (domain.Attempt, error)
	FindOpenAttemptByUser(ctx context.Context, userID uuid.UUID) (*domain.Attempt, error)
	GetTask(ctx context.Context, id uuid.UUID) (domain.Task, error)
	UserExists(ctx context.Context, id uuid.UUID) (bool, error)

	// Save methods upsert; on insert they assign the generated id to the argument.
	SaveUser(ctx context.Context, user *domain.User) error
	SaveTask(ctx context.Context, task *domain.Task) error
	SaveAttempt(ctx context.Context, attempt *domain.Attempt) error
}

// LevelRepository resolves learning levels (cache/backing store).
type LevelRepository interface {
	GetLevel(ctx context.Context, level int) (domain.LearningLevel, error)
}

// ContentSource turns a topic seed into a task payload.
type ContentSource interface {
	Generate(ctx context.Context, req domain.ContentRequest) (domain.GeneratedTask, error)
}

// EventPublisher receives lifecycle events after their unit has committed.
type EventPublisher interface {
	Publish(ctx context.Context, evt domain.Event) error
}

// Metrics records service outcomes.
type Metrics interface {
	AssignmentServed(reused bool)
	AttemptFinalized(correct bool)
	ConflictRetried(operation string)
	ContentFailed()
}

type noopMetrics struct{}

func (noopMetrics) AssignmentServed(bool)  {}
func (noopMetrics) AttemptFinalized(bool)  {}
func (noopMetrics) ConflictRetried(string) {}
func (noopMetrics) ContentFailed()         {}
