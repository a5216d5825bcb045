package app

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/dragon-marcel/mat-gwiazda/internal/domain"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Assign returns the user's open attempt or creates a new task+attempt pair.
//
// The content source is called with no row locks held: the user is locked once to
// look for an open attempt, released, and locked again after generation, when the
// open-attempt check is repeated before anything is written. Concurrent calls for
// the same user therefore converge on a single attempt.
func (s *PracticeService) Assign(ctx context.Context, req domain.AssignRequest) (assignment domain.Assignment, err error) {
	ctx, span := s.tracer.Start(ctx, "practice.assign", trace.WithAttributes(
		userAttr(req.UserID),
		attribute.Int("task.level", req.Level),
	))
	defer func() { endSpan(span, err) }()

	if req.Level <= 0 {
		return domain.Assignment{}, fmt.Errorf("%w: level must be positive", domain.ErrInvalidRequest)
	}

	if req.UserID != nil {
		existing, found, err := s.peekOpenAttempt(ctx, *req.UserID)
		if err != nil {
			return domain.Assignment{}, err
		}
		if found {
			span.AddEvent("attempt.reused")
			s.metrics.AssignmentServed(true)
			return existing, nil
		}
	}

	if req.CreatedByID != nil {
		if err := s.checkCreator(ctx, *req.CreatedByID); err != nil {
			return domain.Assignment{}, err
		}
	}

	level, err := s.levels.GetLevel(ctx, req.Level)
	if err != nil {
		return domain.Assignment{}, fmt.Errorf("resolve level %d: %w", req.Level, err)
	}

	generated, err := s.generate(ctx, level)
	if err != nil {
		s.metrics.ContentFailed()
		return domain.Assignment{}, err
	}
	span.AddEvent("content.generated")

	assignment, err = Retry(ctx, s.retrierFor("assign"), func(ctx context.Context) (domain.Assignment, error) {
		return s.createAttempt(ctx, req, generated)
	})
	if err != nil {
		return domain.Assignment{}, err
	}

	s.metrics.AssignmentServed(assignment.Reused)
	if assignment.Reused {
		span.AddEvent("attempt.reused")
		return assignment, nil
	}

	span.AddEvent("attempt.created", trace.WithAttributes(attribute.String("attempt.id", assignment.AttemptID.String())))
	s.publish(ctx, domain.Event{
		Type:       domain.EventAttemptAssigned,
		UserID:     req.UserID,
		AttemptID:  assignment.AttemptID,
		OccurredAt: s.now(),
	})
	log.Printf("assigned attempt %s (task %s, level %d)", assignment.AttemptID, assignment.Task.ID, req.Level)
	return assignment, nil
}

// peekOpenAttempt locks the user only to look for a reusable attempt; it writes nothing.
func (s *PracticeService) peekOpenAttempt(ctx context.Context, userID uuid.UUID) (domain.Assignment, bool, error) {
	type peek struct {
		assignment domain.Assignment
		found      bool
	}
	res, err := Retry(ctx, s.retrierFor("assign"), func(ctx context.Context) (peek, error) {
		var out peek
		err := s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
			user, err := tx.LockUser(ctx, userID)
			if err != nil {
				return err
			}
			out.assignment, out.found, err = openAttemptOf(ctx, tx, &user)
			return err
		})
		return out, err
	})
	return res.assignment, res.found, err
}

func (s *PracticeService) checkCreator(ctx context.Context, creatorID uuid.UUID) error {
	exists, err := Retry(ctx, s.retrierFor("assign"), func(ctx context.Context) (bool, error) {
		var exists bool
		err := s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
			var err error
			exists, err = tx.UserExists(ctx, creatorID)
			return err
		})
		return exists, err
	})
	if err != nil {
		return err
	}
	if !exists {
		return domain.ErrBadReference
	}
	return nil
}

func (s *PracticeService) generate(ctx context.Context, level domain.LearningLevel) (domain.GeneratedTask, error) {
	if s.contentTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.contentTimeout)
		defer cancel()
	}

	generated, err := s.content.Generate(ctx, domain.ContentRequest{Seed: level.Description, Level: level.Level})
	if err != nil {
		log.Printf("content generation for level %d failed: %v", level.Level, err)
		if errors.Is(err, domain.ErrContentGeneration) {
			return domain.GeneratedTask{}, err
		}
		return domain.GeneratedTask{}, fmt.Errorf("%w: %w", domain.ErrContentGeneration, err)
	}
	if err := generated.Validate(); err != nil {
		log.Printf("content source returned an invalid task for level %d: %v", level.Level, err)
		return domain.GeneratedTask{}, err
	}
	return generated, nil
}

// createAttempt is one atomic unit: re-validate the user's state, then persist
// task, attempt and the user's active pointer together.
func (s *PracticeService) createAttempt(ctx context.Context, req domain.AssignRequest, generated domain.GeneratedTask) (domain.Assignment, error) {
	var out domain.Assignment
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		var user *domain.User
		if req.UserID != nil {
			locked, err := tx.LockUser(ctx, *req.UserID)
			if err != nil {
				return err
			}
			before := locked.ActiveAttemptID
			existing, found, err := openAttemptOf(ctx, tx, &locked)
			if err != nil {
				return err
			}
			if found {
				out = existing
				if before == nil || *before != existing.AttemptID {
					return tx.SaveUser(ctx, &locked)
				}
				return nil
			}
			user = &locked
		}

		options := make([]string, len(generated.Options))
		copy(options, generated.Options)
		task := domain.Task{
			Level:              req.Level,
			Prompt:             generated.Prompt,
			Options:            options,
			CorrectOptionIndex: generated.CorrectIndex,
			Explanation:        generated.Explanation,
			Active:             true,
			CreatedByID:        req.CreatedByID,
		}
		if err := tx.SaveTask(ctx, &task); err != nil {
			return fmt.Errorf("save task: %w", err)
		}

		attempt := domain.Attempt{
			UserID:        req.UserID,
			TaskID:        task.ID,
			AttemptNumber: 1,
		}
		if err := tx.SaveAttempt(ctx, &attempt); err != nil {
			return fmt.Errorf("save attempt: %w", err)
		}

		if user != nil {
			attemptID := attempt.ID
			user.ActiveAttemptID = &attemptID
			if err := tx.SaveUser(ctx, user); err != nil {
				return fmt.Errorf("save user: %w", err)
			}
		}

		out = domain.Assignment{Task: task.View(), AttemptID: attempt.ID}
		return nil
	})
	return out, err
}

// openAttemptOf resolves the user's open attempt. A pointer to a finalized or
// missing attempt is cleared on user (the caller decides whether to persist it).
// An open attempt without a pointer is re-attached.
func openAttemptOf(ctx context.Context, tx Tx, user *domain.User) (domain.Assignment, bool, error) {
	var attempt *domain.Attempt
	if user.ActiveAttemptID != nil {
		a, err := tx.GetAttempt(ctx, *user.ActiveAttemptID)
		switch {
		case err == nil && !a.Finalized && a.OwnedBy(user.ID):
			attempt = &a
		case err == nil || errors.Is(err, domain.ErrAttemptNotFound):
			// stale reference
			user.ActiveAttemptID = nil
		default:
			return domain.Assignment{}, false, err
		}
	}
	if attempt == nil {
		a, err := tx.FindOpenAttemptByUser(ctx, user.ID)
		if err != nil {
			return domain.Assignment{}, false, err
		}
		if a == nil {
			return domain.Assignment{}, false, nil
		}
		attempt = a
		attemptID := a.ID
		user.ActiveAttemptID = &attemptID
	}

	task, err := tx.GetTask(ctx, attempt.TaskID)
	if err != nil {
		return domain.Assignment{}, false, fmt.Errorf("load task of attempt %s: %w", attempt.ID, err)
	}
	return domain.Assignment{Task: task.View(), AttemptID: attempt.ID, Reused: true}, true, nil
}
