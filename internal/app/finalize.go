package app

import (
	"context"
	"fmt"
	"log"
	"math"

	"github.com/dragon-marcel/mat-gwiazda/internal/domain"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Finalize scores an open attempt and advances the owner's progression.
// User, task and attempt change in one atomic unit; the user row is locked before
// the attempt row.
func (s *PracticeService) Finalize(ctx context.Context, req domain.SubmitRequest) (result domain.ScoreResult, err error) {
	ctx, span := s.tracer.Start(ctx, "practice.finalize", trace.WithAttributes(
		attribute.String("user.id", req.UserID.String()),
		attribute.String("attempt.id", req.AttemptID.String()),
	))
	defer func() { endSpan(span, err) }()

	if req.UserID == uuid.Nil || req.AttemptID == uuid.Nil {
		return domain.ScoreResult{}, fmt.Errorf("%w: userId and attemptId are required", domain.ErrInvalidRequest)
	}
	if req.TimeTakenMs != nil && (*req.TimeTakenMs < 0 || *req.TimeTakenMs > math.MaxInt32) {
		return domain.ScoreResult{}, fmt.Errorf("%w: timeTakenMs must be in [0, %d]", domain.ErrInvalidRequest, math.MaxInt32)
	}

	result, err = Retry(ctx, s.retrierFor("finalize"), func(ctx context.Context) (domain.ScoreResult, error) {
		return s.finalizeOnce(ctx, req)
	})
	if err != nil {
		return domain.ScoreResult{}, err
	}

	s.metrics.AttemptFinalized(result.IsCorrect)
	span.SetAttributes(attribute.Bool("attempt.correct", result.IsCorrect))
	userID := req.UserID
	s.publish(ctx, domain.Event{
		Type:       domain.EventAttemptFinalized,
		UserID:     &userID,
		AttemptID:  result.AttemptID,
		Score:      &result,
		OccurredAt: s.now(),
	})
	log.Printf("finalized attempt %s: userId=%s isCorrect=%t points=%d", result.AttemptID, req.UserID, result.IsCorrect, result.UserTotalPoints)
	return result, nil
}

func (s *PracticeService) finalizeOnce(ctx context.Context, req domain.SubmitRequest) (domain.ScoreResult, error) {
	var out domain.ScoreResult
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		user, err := tx.LockUser(ctx, req.UserID)
		if err != nil {
			return err
		}
		attempt, err := tx.LockAttempt(ctx, req.AttemptID)
		if err != nil {
			return err
		}

		if !attempt.OwnedBy(user.ID) {
			return domain.ErrNotOwner
		}
		if attempt.Finalized {
			return domain.ErrAlreadyFinalized
		}

		task, err := tx.GetTask(ctx, attempt.TaskID)
		if err != nil {
			return fmt.Errorf("load task of attempt %s: %w", attempt.ID, err)
		}

		selected := req.SelectedOptionIndex
		if selected != nil && (*selected < 0 || *selected >= len(task.Options)) {
			return fmt.Errorf("%w: %d not in [0, %d)", domain.ErrInvalidSelection, *selected, len(task.Options))
		}

		correct := selected != nil && *selected == task.CorrectOptionIndex
		points := 0
		if correct {
			points = 1
		}

		award := domain.AwardWithThreshold(user.Points, points, s.threshold)
		user.Points = award.NewPoints
		user.Level += award.LevelsGained
		user.Stars += award.StarsGained
		if user.ActiveAttemptID != nil && *user.ActiveAttemptID == attempt.ID {
			user.ActiveAttemptID = nil
		}

		if s.policy.deactivates(correct) && task.Active {
			task.Active = false
			if err := tx.SaveTask(ctx, &task); err != nil {
				return fmt.Errorf("save task: %w", err)
			}
		}

		finalizedAt := s.now().UTC()
		if selected != nil {
			idx := *selected
			attempt.SelectedOptionIndex = &idx
		}
		if req.TimeTakenMs != nil {
			ms := *req.TimeTakenMs
			attempt.TimeTakenMs = &ms
		}
		attempt.IsCorrect = correct
		attempt.PointsAwarded = points
		attempt.LevelUp = award.LevelsGained > 0
		attempt.Finalized = true
		attempt.FinalizedAt = &finalizedAt

		if err := tx.SaveUser(ctx, &user); err != nil {
			return fmt.Errorf("save user: %w", err)
		}
		if err := tx.SaveAttempt(ctx, &attempt); err != nil {
			return fmt.Errorf("save attempt: %w", err)
		}

		out = domain.ScoreResult{
			AttemptID:       attempt.ID,
			UserID:          user.ID,
			IsCorrect:       correct,
			PointsAwarded:   points,
			UserTotalPoints: user.Points,
			StarsAwarded:    award.StarsGained,
			LeveledUp:       attempt.LevelUp,
			NewLevel:        user.Level,
			Explanation:     task.Explanation,
		}
		return nil
	})
	return out, err
}
