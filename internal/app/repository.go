package app

import (
	"context"
	"time"

	"quiz-battle-service/internal/domain"
)

// SessionRepository abstracts how battle sessions are stored (in-memory, Redis, Postgres).
// Every mutating method is a single conditional update evaluated by the store, so
// concurrent callers never overwrite each other's changes.
type SessionRepository interface {
	// Insert stores a new session; it fails with domain.ErrCodeTaken if the code exists.
	Insert(ctx context.Context, session domain.Session) error
	// Get returns the session or domain.ErrSessionNotFound, including after expiry.
	Get(ctx context.Context, code string) (domain.Session, error)
	// AddParticipant appends p while the session is waiting and grows the pool by stake.
	// It fails with domain.ErrAlreadyJoined or domain.ErrInvalidTransition.
	AddParticipant(ctx context.Context, code string, p domain.Participant, stake int) error
	// Transition applies t only if the session still matches its guard.
	Transition(ctx context.Context, code string, t domain.Transition) error
	// RecordAnswer credits one answer and returns the participant's new score.
	RecordAnswer(ctx context.Context, code string, answer domain.AnswerRecord) (int, error)
	// DeleteExpired drops sessions past their retention window.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// SourceRepository loads question documents (from cache/backing store).
type SourceRepository interface {
	GetTopic(ctx context.Context, id string) (domain.Topic, error)
	GetQuiz(ctx context.Context, id string) (domain.Quiz, error)
}

// Ledger is the external points account used for wagers and rewards.
type Ledger interface {
	Credit(ctx context.Context, userID string, amount int, reason string) error
	// Debit fails with domain.ErrInsufficientBalance when the balance is below amount.
	Debit(ctx context.Context, userID string, amount int, reason string) error
}

// Notifier fans out "session changed" signals to push clients.
type Notifier interface {
	Publish(ctx context.Context, code string) error
	// Subscribe returns a channel of change signals; the caller must invoke cancel.
	Subscribe(ctx context.Context, code string) (<-chan struct{}, func(), error)
}

// Recorder receives battle metrics.
type Recorder interface {
	BattleCreated(mode domain.Mode)
	ParticipantJoined(mode domain.Mode)
	TransitionApplied(event string)
	AnswerRecorded(correct bool)
	Settled(mode domain.Mode, paid int, failures int)
}

type noopRecorder struct{}

func (noopRecorder) BattleCreated(domain.Mode)     {}
func (noopRecorder) ParticipantJoined(domain.Mode) {}
func (noopRecorder) TransitionApplied(string)      {}
func (noopRecorder) AnswerRecorded(bool)           {}
func (noopRecorder) Settled(domain.Mode, int, int) {}

type noopNotifier struct{}

func (noopNotifier) Publish(context.Context, string) error { return nil }

func (noopNotifier) Subscribe(context.Context, string) (<-chan struct{}, func(), error) {
	ch := make(chan struct{})
	return ch, func() {}, nil
}
