package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dragon-marcel/mat-gwiazda/internal/app"
	"github.com/dragon-marcel/mat-gwiazda/internal/domain"
	"github.com/google/uuid"
)

// Store is an in-memory implementation of app.Store.
//
// Each user and attempt row has a lock token; LockUser/LockAttempt block until the
// token is free or ctx is done, and hold it until the unit ends. Writes are staged
// per unit and applied at commit. Rows written without a lock are version-checked
// at commit and a concurrent change surfaces as domain.ErrWriteConflict.
type Store struct {
	mu       sync.Mutex
	users    map[uuid.UUID]row[domain.User]
	tasks    map[uuid.UUID]row[domain.Task]
	attempts map[uuid.UUID]row[domain.Attempt]
	locks    map[rowKey]chan struct{}
	clock    func() time.Time

	// injected conflicts, consumed one per commit
	conflicts int
}

type row[T any] struct {
	value   T
	version int64
}

type table int

const (
	usersTable table = iota
	tasksTable
	attemptsTable
)

type rowKey struct {
	table table
	id    uuid.UUID
}

func NewStore() *Store {
	return &Store{
		users:    make(map[uuid.UUID]row[domain.User]),
		tasks:    make(map[uuid.UUID]row[domain.Task]),
		attempts: make(map[uuid.UUID]row[domain.Attempt]),
		locks:    make(map[rowKey]chan struct{}),
		clock:    time.Now,
	}
}

// InjectConflicts makes the next n commits fail with domain.ErrWriteConflict.
func (s *Store) InjectConflicts(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conflicts = n
}

// CreateUser inserts a user outside any unit (registration is not part of the lifecycle).
func (s *Store) CreateUser(_ context.Context, user domain.User) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	if user.Level < 1 {
		user.Level = 1
	}
	now := s.clock().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now
	s.users[user.ID] = row[domain.User]{value: user, version: 1}
	return user, nil
}

func (s *Store) GetUser(_ context.Context, id uuid.UUID) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.users[id]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return r.value, nil
}

// GetTask reads a committed task.
func (s *Store) GetTask(_ context.Context, id uuid.UUID) (domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.tasks[id]
	if !ok {
		return domain.Task{}, domain.ErrTaskNotFound
	}
	return cloneTask(r.value), nil
}

func (s *Store) ListAttempts(_ context.Context, userID uuid.UUID) ([]domain.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Attempt, 0)
	for _, r := range s.attempts {
		if r.value.OwnedBy(userID) {
			out = append(out, r.value)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *Store) ListTasks(_ context.Context, filter domain.TaskFilter) ([]domain.Task, int, error) {
	s.mu.Lock()
	matched := make([]domain.Task, 0)
	for _, r := range s.tasks {
		if taskMatches(r.value, filter) {
			matched = append(matched, cloneTask(r.value))
		}
	}
	s.mu.Unlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	total := len(matched)
	start := filter.Page * filter.Size
	if start >= total {
		return []domain.Task{}, total, nil
	}
	end := min(start+filter.Size, total)
	return matched[start:end], total, nil
}

func taskMatches(task domain.Task, f domain.TaskFilter) bool {
	if f.Level != nil && task.Level != *f.Level {
		return false
	}
	if f.Active != nil && task.Active != *f.Active {
		return false
	}
	if f.CreatedByID != nil && (task.CreatedByID == nil || *task.CreatedByID != *f.CreatedByID) {
		return false
	}
	return true
}

// Ping always succeeds; it lets the in-memory store stand in for health checks.
func (s *Store) Ping(context.Context) error {
	return nil
}

// TaskCount returns the number of committed tasks.
func (s *Store) TaskCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// OpenAttempts returns committed open attempts of userID.
func (s *Store) OpenAttempts(userID uuid.UUID) []domain.Attempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Attempt
	for _, r := range s.attempts {
		if r.value.OwnedBy(userID) && !r.value.Finalized {
			out = append(out, r.value)
		}
	}
	return out
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx app.Tx) error) error {
	t := &unit{
		store:    s,
		held:     make(map[rowKey]chan struct{}),
		read:     make(map[rowKey]int64),
		users:    make(map[uuid.UUID]domain.User),
		tasks:    make(map[uuid.UUID]domain.Task),
		attempts: make(map[uuid.UUID]domain.Attempt),
	}
	defer t.release()

	if err := fn(ctx, t); err != nil {
		return err
	}
	return t.commit()
}

func (s *Store) lockToken(key rowKey) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.locks[key]
	if !ok {
		token = make(chan struct{}, 1)
		s.locks[key] = token
	}
	return token
}

// unit is one atomic unit of work against Store.
type unit struct {
	store *Store
	held  map[rowKey]chan struct{}
	// versions observed by unlocked reads, checked at commit for rows written
	read map[rowKey]int64

	users    map[uuid.UUID]domain.User
	tasks    map[uuid.UUID]domain.Task
	attempts map[uuid.UUID]domain.Attempt
	inserted map[rowKey]bool
}

func (t *unit) lock(ctx context.Context, key rowKey) error {
	if _, ok := t.held[key]; ok {
		return nil
	}
	token := t.store.lockToken(key)
	select {
	case token <- struct{}{}:
		t.held[key] = token
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *unit) release() {
	for key, token := range t.held {
		<-token
		delete(t.held, key)
	}
}

func (t *unit) LockUser(ctx context.Context, id uuid.UUID) (domain.User, error) {
	if err := t.lock(ctx, rowKey{usersTable, id}); err != nil {
		return domain.User{}, err
	}
	return t.user(id)
}

func (t *unit) LockAttempt(ctx context.Context, id uuid.UUID) (domain.Attempt, error) {
	if err := t.lock(ctx, rowKey{attemptsTable, id}); err != nil {
		return domain.Attempt{}, err
	}
	return t.GetAttempt(ctx, id)
}

func (t *unit) user(id uuid.UUID) (domain.User, error) {
	if u, ok := t.users[id]; ok {
		return u, nil
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	r, ok := t.store.users[id]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	t.observe(rowKey{usersTable, id}, r.version)
	return r.value, nil
}

func (t *unit) GetAttempt(_ context.Context, id uuid.UUID) (domain.Attempt, error) {
	if a, ok := t.attempts[id]; ok {
		return a, nil
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	r, ok := t.store.attempts[id]
	if !ok {
		return domain.Attempt{}, domain.ErrAttemptNotFound
	}
	t.observe(rowKey{attemptsTable, id}, r.version)
	return r.value, nil
}

func (t *unit) FindOpenAttemptByUser(_ context.Context, userID uuid.UUID) (*domain.Attempt, error) {
	candidates := make([]domain.Attempt, 0)
	for _, a := range t.attempts {
		if a.OwnedBy(userID) && !a.Finalized {
			candidates = append(candidates, a)
		}
	}
	t.store.mu.Lock()
	for id, r := range t.store.attempts {
		if _, staged := t.attempts[id]; staged {
			continue
		}
		if r.value.OwnedBy(userID) && !r.value.Finalized {
			t.observe(rowKey{attemptsTable, id}, r.version)
			candidates = append(candidates, r.value)
		}
	}
	t.store.mu.Unlock()

	if len(candidates) == 0 {
		return nil, nil
	}
	sortNewestFirst(candidates)
	a := candidates[0]
	return &a, nil
}

func (t *unit) GetTask(_ context.Context, id uuid.UUID) (domain.Task, error) {
	if task, ok := t.tasks[id]; ok {
		return cloneTask(task), nil
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	r, ok := t.store.tasks[id]
	if !ok {
		return domain.Task{}, domain.ErrTaskNotFound
	}
	t.observe(rowKey{tasksTable, id}, r.version)
	return cloneTask(r.value), nil
}

func (t *unit) UserExists(_ context.Context, id uuid.UUID) (bool, error) {
	if _, ok := t.users[id]; ok {
		return true, nil
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	_, ok := t.store.users[id]
	return ok, nil
}

func (t *unit) SaveUser(_ context.Context, user *domain.User) error {
	now := t.store.now()
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
		user.CreatedAt = now
		t.markInserted(rowKey{usersTable, user.ID})
	}
	user.UpdatedAt = now
	t.users[user.ID] = *user
	return nil
}

func (t *unit) SaveTask(_ context.Context, task *domain.Task) error {
	now := t.store.now()
	if task.ID == uuid.Nil {
		task.ID = uuid.New()
		task.CreatedAt = now
		t.markInserted(rowKey{tasksTable, task.ID})
	}
	task.UpdatedAt = now
	t.tasks[task.ID] = cloneTask(*task)
	return nil
}

func (t *unit) SaveAttempt(_ context.Context, attempt *domain.Attempt) error {
	if attempt.ID == uuid.Nil {
		attempt.ID = uuid.New()
		attempt.CreatedAt = t.store.now()
		t.markInserted(rowKey{attemptsTable, attempt.ID})
	}
	t.attempts[attempt.ID] = *attempt
	return nil
}

func (t *unit) observe(key rowKey, version int64) {
	if _, ok := t.read[key]; !ok {
		t.read[key] = version
	}
}

func (t *unit) markInserted(key rowKey) {
	if t.inserted == nil {
		t.inserted = make(map[rowKey]bool)
	}
	t.inserted[key] = true
}

func (t *unit) commit() error {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conflicts > 0 {
		s.conflicts--
		return fmt.Errorf("%w: injected", domain.ErrWriteConflict)
	}

	for id := range t.users {
		if err := t.check(rowKey{usersTable, id}, versionOf(s.users, id)); err != nil {
			return err
		}
	}
	for id := range t.tasks {
		if err := t.check(rowKey{tasksTable, id}, versionOf(s.tasks, id)); err != nil {
			return err
		}
	}
	for id := range t.attempts {
		if err := t.check(rowKey{attemptsTable, id}, versionOf(s.attempts, id)); err != nil {
			return err
		}
	}

	for id, u := range t.users {
		s.users[id] = row[domain.User]{value: u, version: versionOf(s.users, id) + 1}
	}
	for id, task := range t.tasks {
		s.tasks[id] = row[domain.Task]{value: task, version: versionOf(s.tasks, id) + 1}
	}
	for id, a := range t.attempts {
		s.attempts[id] = row[domain.Attempt]{value: a, version: versionOf(s.attempts, id) + 1}
	}
	return nil
}

// check rejects a write whose row changed since this unit read it.
// Caller holds s.mu.
func (t *unit) check(key rowKey, current int64) error {
	if t.inserted[key] {
		if current != 0 {
			return fmt.Errorf("%w: duplicate id %s", domain.ErrWriteConflict, key.id)
		}
		return nil
	}
	seen, ok := t.read[key]
	if !ok {
		// blind write
		return nil
	}
	if seen != current {
		return fmt.Errorf("%w: row %s changed concurrently", domain.ErrWriteConflict, key.id)
	}
	return nil
}

func (s *Store) now() time.Time {
	return s.clock().UTC()
}

func versionOf[T any](rows map[uuid.UUID]row[T], id uuid.UUID) int64 {
	return rows[id].version
}

func cloneTask(task domain.Task) domain.Task {
	options := make([]string, len(task.Options))
	copy(options, task.Options)
	task.Options = options
	return task
}

func sortNewestFirst(attempts []domain.Attempt) {
	sort.SliceStable(attempts, func(i, j int) bool {
		return attempts[i].CreatedAt.After(attempts[j].CreatedAt)
	})
}
