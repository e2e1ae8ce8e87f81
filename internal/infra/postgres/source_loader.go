package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"quiz-battle-service/internal/domain"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// SourceLoader loads topic and quiz JSONB documents from Postgres.
type SourceLoader struct {
	pool *pgxpool.Pool
}

func NewSourceLoader(pool *pgxpool.Pool) *SourceLoader {
	return &SourceLoader{pool: pool}
}

func (l *SourceLoader) LoadTopic(ctx context.Context, id string) (domain.Topic, error) {
	var topic domain.Topic
	if err := l.load(ctx, `SELECT data FROM topics WHERE id=$1`, id, &topic); err != nil {
		return domain.Topic{}, fmt.Errorf("load topic %s: %w", id, err)
	}
	topic.ID = id
	return topic, nil
}

func (l *SourceLoader) LoadQuiz(ctx context.Context, id string) (domain.Quiz, error) {
	var quiz domain.Quiz
	if err := l.load(ctx, `SELECT data FROM quizzes WHERE id=$1`, id, &quiz); err != nil {
		return domain.Quiz{}, fmt.Errorf("load quiz %s: %w", id, err)
	}
	quiz.ID = id
	return quiz, nil
}

func (l *SourceLoader) load(ctx context.Context, query, id string, dst any) error {
	var raw []byte
	err := l.pool.QueryRow(ctx, query, id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrSourceNotFound
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	return nil
}
