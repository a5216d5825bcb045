package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dragon-marcel/mat-gwiazda/internal/app"
	"github.com/dragon-marcel/mat-gwiazda/internal/domain"
	"github.com/google/uuid"
)

func TestStoreCommitsUnitAtomically(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	user, _ := store.CreateUser(ctx, domain.NewUser("ala"))

	var attemptID uuid.UUID
	err := store.WithinTx(ctx, func(ctx context.Context, tx app.Tx) error {
		u, err := tx.LockUser(ctx, user.ID)
		if err != nil {
			return err
		}
		task := domain.Task{Prompt: "p", Options: []string{"a", "b"}, Active: true}
		if err := tx.SaveTask(ctx, &task); err != nil {
			return err
		}
		attempt := domain.Attempt{UserID: &u.ID, TaskID: task.ID, AttemptNumber: 1}
		if err := tx.SaveAttempt(ctx, &attempt); err != nil {
			return err
		}
		attemptID = attempt.ID
		u.ActiveAttemptID = &attempt.ID
		return tx.SaveUser(ctx, &u)
	})
	if err != nil {
		t.Fatalf("unit failed: %v", err)
	}

	got, _ := store.GetUser(ctx, user.ID)
	if got.ActiveAttemptID == nil || *got.ActiveAttemptID != attemptID {
		t.Fatalf("expected active attempt %s, got %+v", attemptID, got.ActiveAttemptID)
	}
	if store.TaskCount() != 1 {
		t.Fatalf("expected one task, got %d", store.TaskCount())
	}
}

func TestStoreRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	user, _ := store.CreateUser(ctx, domain.NewUser("ola"))

	boom := errors.New("boom")
	err := store.WithinTx(ctx, func(ctx context.Context, tx app.Tx) error {
		u, _ := tx.LockUser(ctx, user.ID)
		u.Points = 99
		_ = tx.SaveUser(ctx, &u)
		task := domain.Task{Prompt: "p", Options: []string{"a", "b"}}
		_ = tx.SaveTask(ctx, &task)
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	got, _ := store.GetUser(ctx, user.ID)
	if got.Points != 0 || store.TaskCount() != 0 {
		t.Fatalf("expected no partial writes, got points=%d tasks=%d", got.Points, store.TaskCount())
	}
}

func TestStoreUserLockBlocksSecondUnit(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	user, _ := store.CreateUser(ctx, domain.NewUser("ela"))

	locked := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- store.WithinTx(ctx, func(ctx context.Context, tx app.Tx) error {
			u, err := tx.LockUser(ctx, user.ID)
			if err != nil {
				return err
			}
			close(locked)
			<-release
			u.Points = 10
			return tx.SaveUser(ctx, &u)
		})
	}()
	<-locked

	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	err := store.WithinTx(waitCtx, func(ctx context.Context, tx app.Tx) error {
		_, err := tx.LockUser(ctx, user.ID)
		return err
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected second unit to block on the row lock, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first unit: %v", err)
	}

	err = store.WithinTx(ctx, func(ctx context.Context, tx app.Tx) error {
		u, err := tx.LockUser(ctx, user.ID)
		if err != nil {
			return err
		}
		if u.Points != 10 {
			t.Errorf("expected committed points 10, got %d", u.Points)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("third unit: %v", err)
	}
}

func TestStoreDetectsConcurrentChangeOfUnlockedRow(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	var taskID uuid.UUID
	_ = store.WithinTx(ctx, func(ctx context.Context, tx app.Tx) error {
		task := domain.Task{Prompt: "p", Options: []string{"a", "b"}, Active: true}
		err := tx.SaveTask(ctx, &task)
		taskID = task.ID
		return err
	})

	err := store.WithinTx(ctx, func(ctx context.Context, tx app.Tx) error {
		task, err := tx.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		// concurrent writer commits in between
		if err := store.WithinTx(ctx, func(ctx context.Context, other app.Tx) error {
			t2, _ := other.GetTask(ctx, taskID)
			t2.Explanation = "changed"
			return other.SaveTask(ctx, &t2)
		}); err != nil {
			return err
		}
		task.Active = false
		return tx.SaveTask(ctx, &task)
	})
	if !errors.Is(err, domain.ErrWriteConflict) {
		t.Fatalf("expected write conflict, got %v", err)
	}
}

func TestStoreInjectedConflicts(t *testing.T) {
	store := NewStore()
	store.InjectConflicts(1)
	noop := func(context.Context, app.Tx) error { return nil }
	if err := store.WithinTx(context.Background(), noop); !errors.Is(err, domain.ErrWriteConflict) {
		t.Fatalf("expected injected conflict, got %v", err)
	}
	if err := store.WithinTx(context.Background(), noop); err != nil {
		t.Fatalf("expected second commit to pass, got %v", err)
	}
}

func TestStoreNotFound(t *testing.T) {
	store := NewStore()
	err := store.WithinTx(context.Background(), func(ctx context.Context, tx app.Tx) error {
		if _, err := tx.LockUser(ctx, uuid.New()); !errors.Is(err, domain.ErrUserNotFound) {
			t.Errorf("expected ErrUserNotFound, got %v", err)
		}
		if _, err := tx.LockAttempt(ctx, uuid.New()); !errors.Is(err, domain.ErrAttemptNotFound) {
			t.Errorf("expected ErrAttemptNotFound, got %v", err)
		}
		open, err := tx.FindOpenAttemptByUser(ctx, uuid.New())
		if err != nil || open != nil {
			t.Errorf("expected no open attempt, got %v %v", open, err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unit: %v", err)
	}
}

func TestStoreListTasksFiltersAndPages(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	creator := uuid.New()

	seed := []domain.Task{
		{Level: 1, Prompt: "1 + 1", Options: []string{"1", "2"}, Active: true},
		{Level: 1, Prompt: "2 + 1", Options: []string{"3", "4"}, Active: false, CreatedByID: &creator},
		{Level: 2, Prompt: "5 - 2", Options: []string{"3", "4"}, Active: true, CreatedByID: &creator},
		{Level: 1, Prompt: "3 + 3", Options: []string{"6", "7"}, Active: true},
	}
	ids := make([]uuid.UUID, len(seed))
	for i := range seed {
		now := base.Add(time.Duration(i) * time.Minute)
		store.clock = func() time.Time { return now }
		task := seed[i]
		if err := store.WithinTx(ctx, func(ctx context.Context, tx app.Tx) error {
			return tx.SaveTask(ctx, &task)
		}); err != nil {
			t.Fatalf("seed task %d: %v", i, err)
		}
		ids[i] = task.ID
	}

	level1 := 1
	tasks, total, err := store.ListTasks(ctx, domain.TaskFilter{Level: &level1, Size: 10})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 3 || len(tasks) != 3 || tasks[0].ID != ids[3] || tasks[2].ID != ids[0] {
		t.Fatalf("expected level 1 tasks newest first, got total=%d %+v", total, tasks)
	}

	active := true
	tasks, total, _ = store.ListTasks(ctx, domain.TaskFilter{Active: &active, CreatedByID: &creator, Size: 10})
	if total != 1 || tasks[0].ID != ids[2] {
		t.Fatalf("expected only the active task of creator, got total=%d %+v", total, tasks)
	}

	tasks, total, _ = store.ListTasks(ctx, domain.TaskFilter{Page: 1, Size: 3})
	if total != 4 || len(tasks) != 1 || tasks[0].ID != ids[0] {
		t.Fatalf("expected oldest task alone on page 1, got total=%d %+v", total, tasks)
	}

	tasks, total, _ = store.ListTasks(ctx, domain.TaskFilter{Page: 5, Size: 3})
	if total != 4 || len(tasks) != 0 {
		t.Fatalf("expected empty page past the end, got total=%d %+v", total, tasks)
	}
}
