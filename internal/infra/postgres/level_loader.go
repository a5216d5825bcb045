package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/dragon-marcel/mat-gwiazda/internal/domain"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// LevelLoader reads learning levels from Postgres.
type LevelLoader struct {
	pool *pgxpool.Pool
}

func NewLevelLoader(pool *pgxpool.Pool) *LevelLoader {
	return &LevelLoader{pool: pool}
}

func (l *LevelLoader) LoadLevel(ctx context.Context, level int) (domain.LearningLevel, error) {
	out := domain.LearningLevel{Level: level}
	err := l.pool.QueryRow(ctx, `SELECT title, description FROM learning_levels WHERE level=$1`, level).
		Scan(&out.Title, &out.Description)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.LearningLevel{}, fmt.Errorf("%w: %d", domain.ErrLevelNotFound, level)
	}
	if err != nil {
		return domain.LearningLevel{}, fmt.Errorf("load level: %w", err)
	}
	return out, nil
}
