package domain

import (
	"fmt"
	"strings"
)

// SourceKind tags where a battle's questions come from.
type SourceKind string

const (
	SourceTopic SourceKind = "topic"
	SourceQuiz  SourceKind = "quiz"
)

// DefaultQuestionPoints is awarded for questions that do not set their own value.
const DefaultQuestionPoints = 10

// SourceRef is an opaque pointer to a topic or a quiz document.
type SourceRef struct {
	Kind SourceKind `json:"kind"`
	ID   string     `json:"id"`
}

// Validate checks the reference is well formed.
func (r SourceRef) Validate() error {
	if r.Kind != SourceTopic && r.Kind != SourceQuiz {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidSource, r.Kind)
	}
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidSource)
	}
	return nil
}

func (r SourceRef) String() string {
	return string(r.Kind) + ":" + r.ID
}

// CanonicalQuestion is the grading shape shared by every source.
type CanonicalQuestion struct {
	Text          string   `json:"text"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correctAnswer"`
	Points        int      `json:"points"`
}

// Grade reports whether answer matches the correct option and the points it earns.
func (q CanonicalQuestion) Grade(answer string) (bool, int) {
	if strings.TrimSpace(answer) == q.CorrectAnswer {
		return true, q.Points
	}
	return false, 0
}

// QuestionSource is implemented by every document that can feed a battle.
type QuestionSource interface {
	Canonical() ([]CanonicalQuestion, error)
}

// TopicQuestion is a question embedded in a topic; the answer is stored as option text.
type TopicQuestion struct {
	Question      string   `json:"question"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correctAnswer"`
	Points        int      `json:"points,omitempty"`
}

// Topic is a study topic carrying its own question set.
type Topic struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	Questions []TopicQuestion `json:"questions"`
}

// Canonical normalizes the topic's embedded questions.
func (t Topic) Canonical() ([]CanonicalQuestion, error) {
	if len(t.Questions) == 0 {
		return nil, ErrEmptyQuestionSet
	}
	out := make([]CanonicalQuestion, 0, len(t.Questions))
	for i, q := range t.Questions {
		options := trimOptions(q.Options)
		if len(options) < 2 {
			return nil, fmt.Errorf("%w: topic %s question %d has fewer than two options", ErrMalformedQuestion, t.ID, i)
		}
		answer := strings.TrimSpace(q.CorrectAnswer)
		if !contains(options, answer) {
			return nil, fmt.Errorf("%w: topic %s question %d answer is not an option", ErrMalformedQuestion, t.ID, i)
		}
		out = append(out, CanonicalQuestion{
			Text:          strings.TrimSpace(q.Question),
			Options:       options,
			CorrectAnswer: answer,
			Points:        pointsOrDefault(q.Points),
		})
	}
	return out, nil
}

// QuizQuestion is a question of a standalone quiz; the answer is an option index.
type QuizQuestion struct {
	Text          string   `json:"text"`
	Options       []string `json:"options"`
	CorrectAnswer int      `json:"correctAnswer"`
	Points        int      `json:"points,omitempty"`
}

// Quiz is a standalone quiz document.
type Quiz struct {
	ID        string         `json:"id"`
	Title     string         `json:"title"`
	Questions []QuizQuestion `json:"questions"`
}

// Canonical maps each index-based answer to the literal option text.
func (q Quiz) Canonical() ([]CanonicalQuestion, error) {
	if len(q.Questions) == 0 {
		return nil, ErrEmptyQuestionSet
	}
	out := make([]CanonicalQuestion, 0, len(q.Questions))
	for i, question := range q.Questions {
		options := trimOptions(question.Options)
		if len(options) < 2 {
			return nil, fmt.Errorf("%w: quiz %s question %d has fewer than two options", ErrMalformedQuestion, q.ID, i)
		}
		if question.CorrectAnswer < 0 || question.CorrectAnswer >= len(options) {
			return nil, fmt.Errorf("%w: quiz %s question %d answer index %d out of range", ErrMalformedQuestion, q.ID, i, question.CorrectAnswer)
		}
		out = append(out, CanonicalQuestion{
			Text:          strings.TrimSpace(question.Text),
			Options:       options,
			CorrectAnswer: options[question.CorrectAnswer],
			Points:        pointsOrDefault(question.Points),
		})
	}
	return out, nil
}

func trimOptions(options []string) []string {
	out := make([]string, len(options))
	for i, o := range options {
		out[i] = strings.TrimSpace(o)
	}
	return out
}

func contains(options []string, value string) bool {
	for _, o := range options {
		if o == value {
			return true
		}
	}
	return false
}

func pointsOrDefault(points int) int {
	if points <= 0 {
		return DefaultQuestionPoints
	}
	return points
}
