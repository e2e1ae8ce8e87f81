package app

import (
	"context"
	"fmt"

	"quiz-battle-service/internal/domain"
)

// SourceResolver turns a source reference into the canonical question list.
type SourceResolver interface {
	Resolve(ctx context.Context, ref domain.SourceRef) ([]domain.CanonicalQuestion, error)
}

// SourceAdapter resolves topics and quizzes through a SourceRepository.
type SourceAdapter struct {
	sources SourceRepository
}

func NewSourceAdapter(sources SourceRepository) *SourceAdapter {
	return &SourceAdapter{sources: sources}
}

// Resolve loads the referenced document and normalizes its questions.
func (a *SourceAdapter) Resolve(ctx context.Context, ref domain.SourceRef) ([]domain.CanonicalQuestion, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}

	var source domain.QuestionSource
	switch ref.Kind {
	case domain.SourceTopic:
		topic, err := a.sources.GetTopic(ctx, ref.ID)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", ref, err)
		}
		source = topic
	case domain.SourceQuiz:
		quiz, err := a.sources.GetQuiz(ctx, ref.ID)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", ref, err)
		}
		source = quiz
	}
	return source.Canonical()
}
