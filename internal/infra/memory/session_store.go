package memory

import (
	"context"
	"sync"
	"time"

	"quiz-battle-service/internal/domain"
)

// SessionStore is an in-memory implementation of app.SessionRepository.
// The map lock guards the code index; each battle has its own lock so
// mutations on different battles never contend.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	now      func() time.Time
}

type answerKey struct {
	participantID string
	index         int
}

type entry struct {
	mu       sync.Mutex
	session  domain.Session
	answered map[answerKey]struct{}
}

func NewSessionStore() *SessionStore {
	return NewSessionStoreWithClock(time.Now)
}

// NewSessionStoreWithClock allows deterministic expiry in tests.
func NewSessionStoreWithClock(now func() time.Time) *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*entry),
		now:      now,
	}
}

func (s *SessionStore) Insert(_ context.Context, session domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.sessions[session.Code]; ok && !s.expired(existing) {
		return domain.ErrCodeTaken
	}
	s.sessions[session.Code] = &entry{
		session:  cloneSession(session),
		answered: make(map[answerKey]struct{}),
	}
	return nil
}

func (s *SessionStore) Get(_ context.Context, code string) (domain.Session, error) {
	e, err := s.lookup(code)
	if err != nil {
		return domain.Session{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneSession(e.session), nil
}

func (s *SessionStore) AddParticipant(_ context.Context, code string, p domain.Participant, stake int) error {
	e, err := s.lookup(code)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.session.Participant(p.ID); ok {
		return domain.ErrAlreadyJoined
	}
	if e.session.Status != domain.StatusWaiting {
		return domain.ErrInvalidTransition
	}
	p.Score = 0
	p.LastAnswerCorrect = nil
	e.session.Participants = append(e.session.Participants, p)
	e.session.TotalPool += stake
	return nil
}

func (s *SessionStore) Transition(_ context.Context, code string, t domain.Transition) error {
	e, err := s.lookup(code)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session.Status != t.FromStatus {
		return domain.ErrInvalidTransition
	}
	if t.FromIndex != domain.AnyIndex && e.session.CurrentIndex != t.FromIndex {
		return domain.ErrInvalidTransition
	}

	e.session.Status = t.ToStatus
	if t.ToIndex != domain.AnyIndex {
		e.session.CurrentIndex = t.ToIndex
	}
	if !t.StartedAt.IsZero() {
		e.session.QuestionStartedAt = t.StartedAt
	}
	for i := range e.session.Participants {
		switch t.ToStatus {
		case domain.StatusInProgress:
			e.session.Participants[i].LastAnswerCorrect = nil
		case domain.StatusFinished:
			e.session.Participants[i].Finished = true
		}
	}
	return nil
}

func (s *SessionStore) RecordAnswer(_ context.Context, code string, answer domain.AnswerRecord) (int, error) {
	e, err := s.lookup(code)
	if err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session.Status != domain.StatusInProgress || e.session.CurrentIndex != answer.QuestionIndex {
		return 0, domain.ErrQuestionClosed
	}
	idx := -1
	for i := range e.session.Participants {
		if e.session.Participants[i].ID == answer.ParticipantID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return 0, domain.ErrNotParticipant
	}
	key := answerKey{participantID: answer.ParticipantID, index: answer.QuestionIndex}
	if _, ok := e.answered[key]; ok {
		return 0, domain.ErrAlreadyAnswered
	}
	e.answered[key] = struct{}{}

	participant := &e.session.Participants[idx]
	participant.Score += answer.Points
	correct := answer.Correct
	participant.LastAnswerCorrect = &correct
	return participant.Score, nil
}

func (s *SessionStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for code, e := range s.sessions {
		if !e.session.ExpiresAt.IsZero() && !now.Before(e.session.ExpiresAt) {
			delete(s.sessions, code)
			removed++
		}
	}
	return removed, nil
}

func (s *SessionStore) lookup(code string) (*entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.sessions[code]
	if !ok || s.expired(e) {
		return nil, domain.ErrSessionNotFound
	}
	return e, nil
}

// expired reads ExpiresAt without the entry lock; it is written once at insert.
func (s *SessionStore) expired(e *entry) bool {
	return !e.session.ExpiresAt.IsZero() && !s.now().Before(e.session.ExpiresAt)
}

func cloneSession(session domain.Session) domain.Session {
	out := session
	out.Participants = make([]domain.Participant, len(session.Participants))
	for i, p := range session.Participants {
		if p.LastAnswerCorrect != nil {
			v := *p.LastAnswerCorrect
			p.LastAnswerCorrect = &v
		}
		out.Participants[i] = p
	}
	return out
}
