package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/dragon-marcel/mat-gwiazda/internal/domain"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DeactivationPolicy decides which finalized attempts retire their task.
type DeactivationPolicy string

const (
	// DeactivateAlways retires every consumed task, correct or not.
	DeactivateAlways DeactivationPolicy = "always"
	// DeactivateIncorrectOnly keeps correctly answered tasks active.
	DeactivateIncorrectOnly DeactivationPolicy = "incorrect-only"
)

// ParseDeactivationPolicy maps a config value to a policy. Empty means DeactivateAlways.
func ParseDeactivationPolicy(raw string) (DeactivationPolicy, error) {
	switch DeactivationPolicy(raw) {
	case "", DeactivateAlways:
		return DeactivateAlways, nil
	case DeactivateIncorrectOnly:
		return DeactivateIncorrectOnly, nil
	}
	return "", fmt.Errorf("unknown deactivation policy %q", raw)
}

func (p DeactivationPolicy) deactivates(correct bool) bool {
	if p == DeactivateIncorrectOnly {
		return !correct
	}
	return true
}

// PracticeService contains the attempt lifecycle use cases.
type PracticeService struct {
	store          Store
	levels         LevelRepository
	content        ContentSource
	events         []EventPublisher
	metrics        Metrics
	retrier        Retrier
	policy         DeactivationPolicy
	threshold      int
	contentTimeout time.Duration
	tracer         trace.Tracer
	now            func() time.Time
}

// Option customizes a PracticeService.
type Option func(*PracticeService)

// WithRetrier replaces the default conflict retrier.
func WithRetrier(r Retrier) Option {
	return func(s *PracticeService) { s.retrier = r }
}

// WithDeactivationPolicy sets which finalized tasks are retired.
func WithDeactivationPolicy(p DeactivationPolicy) Option {
	return func(s *PracticeService) { s.policy = p }
}

// WithLevelThreshold overrides domain.LevelThreshold.
func WithLevelThreshold(points int) Option {
	return func(s *PracticeService) { s.threshold = points }
}

// WithContentTimeout bounds a single content-source call.
func WithContentTimeout(d time.Duration) Option {
	return func(s *PracticeService) { s.contentTimeout = d }
}

// WithEventPublishers registers post-commit event sinks.
func WithEventPublishers(publishers ...EventPublisher) Option {
	return func(s *PracticeService) { s.events = append(s.events, publishers...) }
}

// WithMetrics records outcomes into m.
func WithMetrics(m Metrics) Option {
	return func(s *PracticeService) { s.metrics = m }
}

// WithClock is test-only for deterministic timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *PracticeService) { s.now = now }
}

func NewPracticeService(store Store, levels LevelRepository, content ContentSource, opts ...Option) *PracticeService {
	s := &PracticeService{
		store:          store,
		levels:         levels,
		content:        content,
		metrics:        noopMetrics{},
		retrier:        DefaultRetrier(),
		policy:         DeactivateAlways,
		threshold:      domain.LevelThreshold,
		contentTimeout: 30 * time.Second,
		tracer:         otel.Tracer("mat-gwiazda/app"),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListProgress returns every attempt of a user, newest first.
func (s *PracticeService) ListProgress(ctx context.Context, userID uuid.UUID) ([]domain.Attempt, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrInvalidRequest)
	}
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	return s.store.ListAttempts(ctx, userID)
}

// GetTask returns the client view of a task.
func (s *PracticeService) GetTask(ctx context.Context, id uuid.UUID) (domain.TaskView, error) {
	if id == uuid.Nil {
		return domain.TaskView{}, fmt.Errorf("%w: task id is required", domain.ErrInvalidRequest)
	}
	task, err := s.store.GetTask(ctx, id)
	if err != nil {
		return domain.TaskView{}, err
	}
	return task.View(), nil
}

// ListTasks returns one page of task views matching filter. A zero size means
// domain.DefaultTaskPageSize.
func (s *PracticeService) ListTasks(ctx context.Context, filter domain.TaskFilter) (domain.TaskPage, error) {
	if filter.Page < 0 {
		return domain.TaskPage{}, fmt.Errorf("%w: page must not be negative", domain.ErrInvalidRequest)
	}
	if filter.Size == 0 {
		filter.Size = domain.DefaultTaskPageSize
	}
	if filter.Size < 0 || filter.Size > domain.MaxTaskPageSize {
		return domain.TaskPage{}, fmt.Errorf("%w: size must be in [1, %d]", domain.ErrInvalidRequest, domain.MaxTaskPageSize)
	}
	tasks, total, err := s.store.ListTasks(ctx, filter)
	if err != nil {
		return domain.TaskPage{}, err
	}
	items := make([]domain.TaskView, 0, len(tasks))
	for _, t := range tasks {
		items = append(items, t.View())
	}
	return domain.TaskPage{Items: items, Page: filter.Page, Size: filter.Size, Total: total}, nil
}

// retrierFor returns s.retrier with retries reported to metrics for operation.
func (s *PracticeService) retrierFor(operation string) Retrier {
	r := s.retrier
	onRetry := r.OnRetry
	r.OnRetry = func(attempt int, err error) {
		log.Printf("%s: write conflict on attempt %d, retrying: %v", operation, attempt, err)
		s.metrics.ConflictRetried(operation)
		if onRetry != nil {
			onRetry(attempt, err)
		}
	}
	return r
}

func (s *PracticeService) publish(ctx context.Context, evt domain.Event) {
	for _, p := range s.events {
		if err := p.Publish(ctx, evt); err != nil {
			log.Printf("publish %s for attempt %s failed: %v", evt.Type, evt.AttemptID, err)
		}
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func userAttr(id *uuid.UUID) attribute.KeyValue {
	if id == nil {
		return attribute.String("user.id", "")
	}
	return attribute.String("user.id", id.String())
}
