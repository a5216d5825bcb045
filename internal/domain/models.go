package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// User is the progression-bearing subject. Points never decrease.
type User struct {
	ID              uuid.UUID  `json:"id"`
	Name            string     `json:"userName"`
	Points          int        `json:"points"`
	Level           int        `json:"currentLevel"`
	Stars           int        `json:"stars"`
	ActiveAttemptID *uuid.UUID `json:"activeAttemptId,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// NewUser returns a user at the starting level with no progress.
func NewUser(name string) User {
	return User{Name: name, Level: 1}
}

// Task is a single generated practice item.
type Task struct {
	ID                 uuid.UUID
	Level              int
	Prompt             string
	Options            []string
	CorrectOptionIndex int
	Explanation        string
	Active             bool
	CreatedByID        *uuid.UUID
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// View hides the correct option index from non-privileged callers.
func (t Task) View() TaskView {
	options := make([]string, len(t.Options))
	copy(options, t.Options)
	return TaskView{
		ID:          t.ID,
		Level:       t.Level,
		Prompt:      t.Prompt,
		Options:     options,
		Explanation: t.Explanation,
	}
}

// TaskView is the client-facing shape of a task.
type TaskView struct {
	ID          uuid.UUID `json:"id"`
	Level       int       `json:"level"`
	Prompt      string    `json:"prompt"`
	Options     []string  `json:"options"`
	Explanation string    `json:"explanation,omitempty"`
}

// Task listing defaults.
const (
	DefaultTaskPageSize = 20
	MaxTaskPageSize     = 100
)

// TaskFilter selects tasks for listing. Nil fields do not filter.
type TaskFilter struct {
	Level       *int
	Active      *bool
	CreatedByID *uuid.UUID
	Page        int
	Size        int
}

// TaskPage is one page of task views, newest first.
type TaskPage struct {
	Items []TaskView `json:"items"`
	Page  int        `json:"page"`
	Size  int        `json:"size"`
	Total int        `json:"total"`
}

// Attempt links a user to a task from assignment until it is scored.
// The only transition is open -> finalized.
type Attempt struct {
	ID                  uuid.UUID  `json:"id"`
	UserID              *uuid.UUID `json:"userId,omitempty"`
	TaskID              uuid.UUID  `json:"taskId"`
	AttemptNumber       int        `json:"attemptNumber"`
	SelectedOptionIndex *int       `json:"selectedOptionIndex,omitempty"`
	IsCorrect           bool       `json:"isCorrect"`
	PointsAwarded       int        `json:"pointsAwarded"`
	LevelUp             bool       `json:"levelUp"`
	TimeTakenMs         *int       `json:"timeTakenMs,omitempty"`
	Finalized           bool       `json:"finalized"`
	CreatedAt           time.Time  `json:"createdAt"`
	FinalizedAt         *time.Time `json:"finalizedAt,omitempty"`
}

// OwnedBy reports whether the attempt belongs to userID.
func (a Attempt) OwnedBy(userID uuid.UUID) bool {
	return a.UserID != nil && *a.UserID == userID
}

// LearningLevel is static reference data; its description seeds task generation.
type LearningLevel struct {
	Level       int    `json:"level"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// GeneratedTask is the payload returned by a content source.
type GeneratedTask struct {
	Prompt       string   `json:"prompt"`
	Options      []string `json:"options"`
	CorrectIndex int      `json:"correctIndex"`
	Explanation  string   `json:"explanation,omitempty"`
}

// Validate checks the payload shape a task needs to be playable.
func (g GeneratedTask) Validate() error {
	if strings.TrimSpace(g.Prompt) == "" {
		return &PayloadError{Reason: "prompt is empty"}
	}
	if len(g.Options) < 2 {
		return &PayloadError{Reason: "options must contain at least 2 elements"}
	}
	if g.CorrectIndex < 0 || g.CorrectIndex >= len(g.Options) {
		return &PayloadError{Reason: "correctIndex is out of bounds"}
	}
	return nil
}

// PayloadError describes why a generated task was rejected.
type PayloadError struct {
	Reason string
}

func (e *PayloadError) Error() string { return "invalid generated task: " + e.Reason }

// Unwrap lets callers match a rejected payload as a generation failure.
func (e *PayloadError) Unwrap() error { return ErrContentGeneration }

// AssignRequest asks for a task for an optional user.
type AssignRequest struct {
	UserID      *uuid.UUID `json:"userId,omitempty"`
	Level       int        `json:"level"`
	CreatedByID *uuid.UUID `json:"createdById,omitempty"`
}

// Assignment is the result of an assign call.
type Assignment struct {
	Task      TaskView  `json:"task"`
	AttemptID uuid.UUID `json:"attemptId"`
	Reused    bool      `json:"-"`
}

// SubmitRequest carries a user's answer for an open attempt.
type SubmitRequest struct {
	UserID              uuid.UUID `json:"userId"`
	AttemptID           uuid.UUID `json:"attemptId"`
	SelectedOptionIndex *int      `json:"selectedOptionIndex,omitempty"`
	TimeTakenMs         *int      `json:"timeTakenMs,omitempty"`
}

// ScoreResult summarizes a finalized attempt.
type ScoreResult struct {
	AttemptID       uuid.UUID `json:"attemptId"`
	UserID          uuid.UUID `json:"userId"`
	IsCorrect       bool      `json:"isCorrect"`
	PointsAwarded   int       `json:"pointsAwarded"`
	UserTotalPoints int       `json:"userTotalPoints"`
	StarsAwarded    int       `json:"starsAwarded"`
	LeveledUp       bool      `json:"leveledUp"`
	NewLevel        int       `json:"newLevel"`
	Explanation     string    `json:"explanation,omitempty"`
}

// Event types published after a unit commits.
const (
	EventAttemptAssigned  = "attempt.assigned"
	EventAttemptFinalized = "attempt.finalized"
)

// Event is a post-commit notification about the attempt lifecycle.
type Event struct {
	Type       string       `json:"type"`
	UserID     *uuid.UUID   `json:"userId,omitempty"`
	AttemptID  uuid.UUID    `json:"attemptId"`
	Score      *ScoreResult `json:"score,omitempty"`
	OccurredAt time.Time    `json:"occurredAt"`
}

// ContentRequest is what a content source needs to produce a task.
type ContentRequest struct {
	Seed  string
	Level int
}
