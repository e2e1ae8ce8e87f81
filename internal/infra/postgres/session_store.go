package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"quiz-battle-service/internal/domain"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"
)

// SessionStore is a Postgres implementation of app.SessionRepository on bun.
// Lifecycle changes are conditional UPDATEs on battle_sessions; answers are
// deduplicated by the battle_answers primary key.
type SessionStore struct {
	db  *bun.DB
	now func() time.Time
}

func NewSessionStore(db *bun.DB) *SessionStore {
	return &SessionStore{db: db, now: time.Now}
}

func (s *SessionStore) Insert(ctx context.Context, session domain.Session) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		// an expired battle may still hold the code until the janitor runs
		if _, err := tx.NewDelete().
			Model((*battleRow)(nil)).
			Where("code = ?", session.Code).
			Where("expires_at <= ?", s.now()).
			Exec(ctx); err != nil {
			return fmt.Errorf("release expired code %s: %w", session.Code, err)
		}
		if _, err := tx.NewInsert().Model(newBattleRow(session)).Exec(ctx); err != nil {
			if isUniqueViolation(err) {
				return domain.ErrCodeTaken
			}
			return fmt.Errorf("insert battle %s: %w", session.Code, err)
		}
		return nil
	})
}

func (s *SessionStore) Get(ctx context.Context, code string) (domain.Session, error) {
	var session domain.Session
	opts := &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
	err := s.db.RunInTx(ctx, opts, func(ctx context.Context, tx bun.Tx) error {
		row := new(battleRow)
		err := tx.NewSelect().
			Model(row).
			Where("code = ?", code).
			Where("expires_at > ?", s.now()).
			Scan(ctx)
		if err != nil {
			return notFound(err)
		}
		var participants []participantRow
		if err := tx.NewSelect().
			Model(&participants).
			Where("code = ?", code).
			Order("seq ASC").
			Scan(ctx); err != nil {
			return fmt.Errorf("load participants of %s: %w", code, err)
		}
		session = row.toDomain(participants)
		return nil
	})
	if err != nil {
		return domain.Session{}, err
	}
	return session, nil
}

func (s *SessionStore) AddParticipant(ctx context.Context, code string, p domain.Participant, stake int) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		status, _, err := s.lockSession(ctx, tx, code, "UPDATE")
		if err != nil {
			return err
		}
		exists, err := tx.NewSelect().
			Model((*participantRow)(nil)).
			Where("code = ?", code).
			Where("participant_id = ?", p.ID).
			Exists(ctx)
		if err != nil {
			return fmt.Errorf("check participant: %w", err)
		}
		if exists {
			return domain.ErrAlreadyJoined
		}
		if status != domain.StatusWaiting {
			return domain.ErrInvalidTransition
		}

		row := &participantRow{
			Code:          code,
			ParticipantID: p.ID,
			DisplayName:   p.DisplayName,
			Avatar:        p.Avatar,
			JoinedAt:      p.JoinedAt,
		}
		if _, err := tx.NewInsert().Model(row).Exec(ctx); err != nil {
			return fmt.Errorf("insert participant: %w", err)
		}
		if stake > 0 {
			if _, err := tx.NewUpdate().
				Model((*battleRow)(nil)).
				Set("total_pool = total_pool + ?", stake).
				Where("code = ?", code).
				Exec(ctx); err != nil {
				return fmt.Errorf("grow pool: %w", err)
			}
		}
		return nil
	})
}

func (s *SessionStore) Transition(ctx context.Context, code string, t domain.Transition) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		q := tx.NewUpdate().
			Model((*battleRow)(nil)).
			Set("status = ?", string(t.ToStatus)).
			Where("code = ?", code).
			Where("status = ?", string(t.FromStatus)).
			Where("expires_at > ?", s.now())
		if t.FromIndex != domain.AnyIndex {
			q = q.Where("current_index = ?", t.FromIndex)
		}
		if t.ToIndex != domain.AnyIndex {
			q = q.Set("current_index = ?", t.ToIndex)
		}
		if !t.StartedAt.IsZero() {
			q = q.Set("question_started_at = ?", t.StartedAt)
		}
		res, err := q.Exec(ctx)
		if err != nil {
			return fmt.Errorf("transition battle %s: %w", code, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			if _, _, err := s.lockSession(ctx, tx, code, "SHARE"); err != nil {
				return err
			}
			return domain.ErrInvalidTransition
		}

		update := tx.NewUpdate().Model((*participantRow)(nil)).Where("code = ?", code)
		switch t.ToStatus {
		case domain.StatusInProgress:
			update = update.Set("last_answer_correct = NULL")
		case domain.StatusFinished:
			update = update.Set("finished = TRUE")
		default:
			return nil
		}
		if _, err := update.Exec(ctx); err != nil {
			return fmt.Errorf("update participants of %s: %w", code, err)
		}
		return nil
	})
}

func (s *SessionStore) RecordAnswer(ctx context.Context, code string, answer domain.AnswerRecord) (int, error) {
	var total int
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		// FOR SHARE blocks a concurrent advance until this answer commits
		status, index, err := s.lockSession(ctx, tx, code, "SHARE")
		if err != nil {
			return err
		}
		if status != domain.StatusInProgress || index != answer.QuestionIndex {
			return domain.ErrQuestionClosed
		}
		exists, err := tx.NewSelect().
			Model((*participantRow)(nil)).
			Where("code = ?", code).
			Where("participant_id = ?", answer.ParticipantID).
			Exists(ctx)
		if err != nil {
			return fmt.Errorf("check participant: %w", err)
		}
		if !exists {
			return domain.ErrNotParticipant
		}

		res, err := tx.NewInsert().
			Model(&answerRow{
				Code:          code,
				ParticipantID: answer.ParticipantID,
				QuestionIndex: answer.QuestionIndex,
				Correct:       answer.Correct,
				Points:        answer.Points,
			}).
			On("CONFLICT DO NOTHING").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("insert answer: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return domain.ErrAlreadyAnswered
		}

		return tx.NewUpdate().
			Model((*participantRow)(nil)).
			Set("score = score + ?", answer.Points).
			Set("last_answer_correct = ?", answer.Correct).
			Where("code = ?", code).
			Where("participant_id = ?", answer.ParticipantID).
			Returning("score").
			Scan(ctx, &total)
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (s *SessionStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.NewDelete().
		Model((*battleRow)(nil)).
		Where("expires_at <= ?", now).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("delete expired battles: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SessionStore) lockSession(ctx context.Context, tx bun.Tx, code, lock string) (domain.Status, int, error) {
	var (
		status string
		index  int
	)
	err := tx.NewSelect().
		Model((*battleRow)(nil)).
		Column("status", "current_index").
		Where("code = ?", code).
		Where("expires_at > ?", s.now()).
		For(lock).
		Scan(ctx, &status, &index)
	if err != nil {
		return "", 0, notFound(err)
	}
	return domain.Status(status), index, nil
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrSessionNotFound
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr pgdriver.Error
	return errors.As(err, &pgErr) && pgErr.Field('C') == "23505"
}
