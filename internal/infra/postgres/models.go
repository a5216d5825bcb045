package postgres

import (
	"time"

	"github.com/dragon-marcel/mat-gwiazda/internal/domain"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type userRow struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID              uuid.UUID  `bun:"id,pk,type:uuid"`
	Name            string     `bun:"name,notnull"`
	Points          int        `bun:"points,notnull"`
	Level           int        `bun:"level,notnull"`
	Stars           int        `bun:"stars,notnull"`
	ActiveAttemptID *uuid.UUID `bun:"active_attempt_id,type:uuid"`
	CreatedAt       time.Time  `bun:"created_at,notnull"`
	UpdatedAt       time.Time  `bun:"updated_at,notnull"`
}

type taskRow struct {
	bun.BaseModel `bun:"table:tasks,alias:t"`

	ID                 uuid.UUID  `bun:"id,pk,type:uuid"`
	Level              int        `bun:"level,notnull"`
	Prompt             string     `bun:"prompt,notnull"`
	Options            []string   `bun:"options,type:jsonb,notnull"`
	CorrectOptionIndex int        `bun:"correct_option_index,notnull"`
	Explanation        string     `bun:"explanation,notnull"`
	Active             bool       `bun:"is_active,notnull"`
	CreatedByID        *uuid.UUID `bun:"created_by_id,type:uuid"`
	CreatedAt          time.Time  `bun:"created_at,notnull"`
	UpdatedAt          time.Time  `bun:"updated_at,notnull"`
}

type attemptRow struct {
	bun.BaseModel `bun:"table:attempts,alias:a"`

	ID                  uuid.UUID  `bun:"id,pk,type:uuid"`
	UserID              *uuid.UUID `bun:"user_id,type:uuid"`
	TaskID              uuid.UUID  `bun:"task_id,type:uuid,notnull"`
	AttemptNumber       int        `bun:"attempt_number,notnull"`
	SelectedOptionIndex *int       `bun:"selected_option_index"`
	IsCorrect           bool       `bun:"is_correct,notnull"`
	PointsAwarded       int        `bun:"points_awarded,notnull"`
	LevelUp             bool       `bun:"level_up,notnull"`
	TimeTakenMs         *int       `bun:"time_taken_ms"`
	Finalized           bool       `bun:"finalized,notnull"`
	CreatedAt           time.Time  `bun:"created_at,notnull"`
	FinalizedAt         *time.Time `bun:"finalized_at"`
}

func toUserRow(u domain.User) *userRow {
	return &userRow{
		ID:              u.ID,
		Name:            u.Name,
		Points:          u.Points,
		Level:           u.Level,
		Stars:           u.Stars,
		ActiveAttemptID: u.ActiveAttemptID,
		CreatedAt:       u.CreatedAt,
		UpdatedAt:       u.UpdatedAt,
	}
}

func (r userRow) domain() domain.User {
	return domain.User{
		ID:              r.ID,
		Name:            r.Name,
		Points:          r.Points,
		Level:           r.Level,
		Stars:           r.Stars,
		ActiveAttemptID: r.ActiveAttemptID,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

func toTaskRow(t domain.Task) *taskRow {
	return &taskRow{
		ID:                 t.ID,
		Level:              t.Level,
		Prompt:             t.Prompt,
		Options:            append([]string(nil), t.Options...),
		CorrectOptionIndex: t.CorrectOptionIndex,
		Explanation:        t.Explanation,
		Active:             t.Active,
		CreatedByID:        t.CreatedByID,
		CreatedAt:          t.CreatedAt,
		UpdatedAt:          t.UpdatedAt,
	}
}

func (r taskRow) domain() domain.Task {
	return domain.Task{
		ID:                 r.ID,
		Level:              r.Level,
		Prompt:             r.Prompt,
		Options:            r.Options,
		CorrectOptionIndex: r.CorrectOptionIndex,
		Explanation:        r.Explanation,
		Active:             r.Active,
		CreatedByID:        r.CreatedByID,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
}

func toAttemptRow(a domain.Attempt) *attemptRow {
	return &attemptRow{
		ID:                  a.ID,
		UserID:              a.UserID,
		TaskID:              a.TaskID,
		AttemptNumber:       a.AttemptNumber,
		SelectedOptionIndex: a.SelectedOptionIndex,
		IsCorrect:           a.IsCorrect,
		PointsAwarded:       a.PointsAwarded,
		LevelUp:             a.LevelUp,
		TimeTakenMs:         a.TimeTakenMs,
		Finalized:           a.Finalized,
		CreatedAt:           a.CreatedAt,
		FinalizedAt:         a.FinalizedAt,
	}
}

func (r attemptRow) domain() domain.Attempt {
	return domain.Attempt{
		ID:                  r.ID,
		UserID:              r.UserID,
		TaskID:              r.TaskID,
		AttemptNumber:       r.AttemptNumber,
		SelectedOptionIndex: r.SelectedOptionIndex,
		IsCorrect:           r.IsCorrect,
		PointsAwarded:       r.PointsAwarded,
		LevelUp:             r.LevelUp,
		TimeTakenMs:         r.TimeTakenMs,
		Finalized:           r.Finalized,
		CreatedAt:           r.CreatedAt,
		FinalizedAt:         r.FinalizedAt,
	}
}
