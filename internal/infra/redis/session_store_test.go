package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"quiz-battle-service/internal/domain"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestSessionStoreRoundTrip(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()
	session := sampleSession()

	if err := store.Insert(ctx, session); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := store.Insert(ctx, session); !errors.Is(err, domain.ErrCodeTaken) {
		t.Fatalf("expected code taken, got %v", err)
	}
	if err := store.AddParticipant(ctx, session.Code, domain.Participant{ID: "p1", DisplayName: "Pat"}, 100); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := store.AddParticipant(ctx, session.Code, domain.Participant{ID: "p1"}, 100); !errors.Is(err, domain.ErrAlreadyJoined) {
		t.Fatalf("expected already joined, got %v", err)
	}
	if err := store.AddParticipant(ctx, session.Code, domain.Participant{ID: "p2", DisplayName: "Sam"}, 100); err != nil {
		t.Fatalf("join: %v", err)
	}

	got, err := store.Get(ctx, session.Code)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.HostID != "host" || got.Mode != domain.ModeWager || got.TotalPool != 200 || got.Status != domain.StatusWaiting {
		t.Fatalf("unexpected session %+v", got)
	}
	if len(got.Questions) != 2 || got.Questions[1].CorrectAnswer != "6" {
		t.Fatalf("questions not stored: %+v", got.Questions)
	}
	if len(got.Participants) != 2 || got.Participants[0].ID != "p1" || got.Participants[1].DisplayName != "Sam" {
		t.Fatalf("roster order not kept: %+v", got.Participants)
	}
	if got.Source != session.Source || !got.ExpiresAt.Equal(session.ExpiresAt) {
		t.Fatalf("metadata not stored: %+v", got)
	}
}

func TestSessionStoreLifecycle(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()
	session := sampleSession()
	_ = store.Insert(ctx, session)
	_ = store.AddParticipant(ctx, session.Code, domain.Participant{ID: "p1"}, 0)

	if _, err := store.RecordAnswer(ctx, session.Code, domain.AnswerRecord{ParticipantID: "p1", QuestionIndex: 0}); !errors.Is(err, domain.ErrQuestionClosed) {
		t.Fatalf("expected closed before start, got %v", err)
	}

	started := session.CreatedAt.Add(time.Second)
	start := domain.Transition{FromStatus: domain.StatusWaiting, FromIndex: domain.AnyIndex, ToStatus: domain.StatusInProgress, ToIndex: 0, StartedAt: started}
	if err := store.Transition(ctx, session.Code, start); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := store.Transition(ctx, session.Code, start); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected second start to fail, got %v", err)
	}
	if err := store.AddParticipant(ctx, session.Code, domain.Participant{ID: "late"}, 0); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected join after start to fail, got %v", err)
	}

	score, err := store.RecordAnswer(ctx, session.Code, domain.AnswerRecord{ParticipantID: "p1", QuestionIndex: 0, Correct: true, Points: 10})
	if err != nil || score != 10 {
		t.Fatalf("record answer: score %d err %v", score, err)
	}
	if _, err := store.RecordAnswer(ctx, session.Code, domain.AnswerRecord{ParticipantID: "p1", QuestionIndex: 0, Correct: true, Points: 10}); !errors.Is(err, domain.ErrAlreadyAnswered) {
		t.Fatalf("expected already answered, got %v", err)
	}
	if _, err := store.RecordAnswer(ctx, session.Code, domain.AnswerRecord{ParticipantID: "ghost", QuestionIndex: 0}); !errors.Is(err, domain.ErrNotParticipant) {
		t.Fatalf("expected not participant, got %v", err)
	}

	got, _ := store.Get(ctx, session.Code)
	if got.Participants[0].LastAnswerCorrect == nil || !*got.Participants[0].LastAnswerCorrect {
		t.Fatalf("expected last answer feedback, got %+v", got.Participants[0])
	}
	if !got.QuestionStartedAt.Equal(started) {
		t.Fatalf("expected question start %v, got %v", started, got.QuestionStartedAt)
	}

	advance := domain.Transition{FromStatus: domain.StatusInProgress, FromIndex: 0, ToStatus: domain.StatusInProgress, ToIndex: 1, StartedAt: started.Add(10 * time.Second)}
	if err := store.Transition(ctx, session.Code, advance); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if err := store.Transition(ctx, session.Code, advance); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected stale advance to fail, got %v", err)
	}
	got, _ = store.Get(ctx, session.Code)
	if got.CurrentIndex != 1 || got.Participants[0].LastAnswerCorrect != nil {
		t.Fatalf("advance did not reset feedback: %+v", got)
	}

	finish := domain.Transition{FromStatus: domain.StatusInProgress, FromIndex: domain.AnyIndex, ToStatus: domain.StatusFinished, ToIndex: domain.AnyIndex}
	if err := store.Transition(ctx, session.Code, finish); err != nil {
		t.Fatalf("finish: %v", err)
	}
	got, _ = store.Get(ctx, session.Code)
	if got.Status != domain.StatusFinished || got.CurrentIndex != 1 || !got.Participants[0].Finished || got.Participants[0].Score != 10 {
		t.Fatalf("unexpected finished session %+v", got)
	}
	if _, err := store.RecordAnswer(ctx, session.Code, domain.AnswerRecord{ParticipantID: "p1", QuestionIndex: 1}); !errors.Is(err, domain.ErrQuestionClosed) {
		t.Fatalf("expected closed after finish, got %v", err)
	}
}

func TestSessionStoreConcurrentAnswersCountOnce(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()
	session := sampleSession()
	session.Code = "RACE22"
	_ = store.Insert(ctx, session)
	_ = store.AddParticipant(ctx, "RACE22", domain.Participant{ID: "p1"}, 0)
	_ = store.Transition(ctx, "RACE22", domain.Transition{FromStatus: domain.StatusWaiting, FromIndex: domain.AnyIndex, ToStatus: domain.StatusInProgress, ToIndex: 0, StartedAt: session.CreatedAt})

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.RecordAnswer(ctx, "RACE22", domain.AnswerRecord{ParticipantID: "p1", QuestionIndex: 0, Correct: true, Points: 10}); err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	got, _ := store.Get(ctx, "RACE22")
	if accepted != 1 || got.Participants[0].Score != 10 {
		t.Fatalf("expected exactly one accepted answer, got %d (score %d)", accepted, got.Participants[0].Score)
	}
}

func TestSessionStoreExpiry(t *testing.T) {
	store, clock := newStore(t)
	ctx := context.Background()
	session := sampleSession()
	_ = store.Insert(ctx, session)

	*clock = session.ExpiresAt
	if _, err := store.Get(ctx, session.Code); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected expired battle to be hidden, got %v", err)
	}
	removed, err := store.DeleteExpired(ctx, *clock)
	if err != nil || removed != 1 {
		t.Fatalf("expected one removal, got %d err %v", removed, err)
	}
	*clock = session.CreatedAt
	if _, err := store.Get(ctx, session.Code); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected keys to be deleted, got %v", err)
	}
}

func TestSessionStoreUnknownCode(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()
	if _, err := store.Get(ctx, "NOPE22"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := store.AddParticipant(ctx, "NOPE22", domain.Participant{ID: "p1"}, 0); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := store.Transition(ctx, "NOPE22", domain.Transition{FromStatus: domain.StatusWaiting, FromIndex: domain.AnyIndex}); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func newStore(t *testing.T) (*SessionStore, *time.Time) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := newClient(mr)
	t.Cleanup(func() { _ = client.Close() })

	clock := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return NewSessionStoreWithClock(client, func() time.Time { return clock }), &clock
}

func newClient(mr *miniredis.Miniredis) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
}

func sampleSession() domain.Session {
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return domain.Session{
		Code:   "ABC234",
		HostID: "host",
		Source: domain.SourceRef{Kind: domain.SourceQuiz, ID: "quiz-1"},
		Questions: []domain.CanonicalQuestion{
			{Text: "2+2", Options: []string{"3", "4"}, CorrectAnswer: "4", Points: 10},
			{Text: "3+3", Options: []string{"6", "7"}, CorrectAnswer: "6", Points: 10},
		},
		Status:       domain.StatusWaiting,
		TimerSeconds: 30,
		Mode:         domain.ModeWager,
		WagerAmount:  100,
		CreatedAt:    created,
		ExpiresAt:    created.Add(domain.DefaultRetention),
	}
}
