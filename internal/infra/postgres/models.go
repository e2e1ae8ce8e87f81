package postgres

import (
	"time"

	"quiz-battle-service/internal/domain"
	"github.com/uptrace/bun"
)

type battleRow struct {
	bun.BaseModel `bun:"table:battle_sessions,alias:bs"`

	Code              string                     `bun:"code,pk"`
	HostID            string                     `bun:"host_id,notnull"`
	SourceKind        string                     `bun:"source_kind,notnull"`
	SourceID          string                     `bun:"source_id,notnull"`
	Questions         []domain.CanonicalQuestion `bun:"questions,type:jsonb,notnull"`
	Status            string                     `bun:"status,notnull"`
	CurrentIndex      int                        `bun:"current_index,notnull"`
	QuestionStartedAt time.Time                  `bun:"question_started_at,nullzero"`
	TimerSeconds      int                        `bun:"timer_seconds,notnull"`
	Mode              string                     `bun:"mode,notnull"`
	WagerAmount       int                        `bun:"wager_amount,notnull"`
	TotalPool         int                        `bun:"total_pool,notnull"`
	CreatedAt         time.Time                  `bun:"created_at,notnull"`
	ExpiresAt         time.Time                  `bun:"expires_at,notnull"`
}

type participantRow struct {
	bun.BaseModel `bun:"table:battle_participants,alias:bp"`

	Code              string    `bun:"code,pk"`
	ParticipantID     string    `bun:"participant_id,pk"`
	Seq               int64     `bun:"seq,nullzero"`
	DisplayName       string    `bun:"display_name,notnull"`
	Avatar            string    `bun:"avatar,notnull"`
	Score             int       `bun:"score,notnull"`
	LastAnswerCorrect *bool     `bun:"last_answer_correct"`
	Finished          bool      `bun:"finished,notnull"`
	JoinedAt          time.Time `bun:"joined_at,notnull"`
}

type answerRow struct {
	bun.BaseModel `bun:"table:battle_answers,alias:ba"`

	Code          string `bun:"code,pk"`
	ParticipantID string `bun:"participant_id,pk"`
	QuestionIndex int    `bun:"question_index,pk"`
	Correct       bool   `bun:"correct,notnull"`
	Points        int    `bun:"points,notnull"`
}

func newBattleRow(s domain.Session) *battleRow {
	return &battleRow{
		Code:              s.Code,
		HostID:            s.HostID,
		SourceKind:        string(s.Source.Kind),
		SourceID:          s.Source.ID,
		Questions:         s.Questions,
		Status:            string(s.Status),
		CurrentIndex:      s.CurrentIndex,
		QuestionStartedAt: s.QuestionStartedAt,
		TimerSeconds:      s.TimerSeconds,
		Mode:              string(s.Mode),
		WagerAmount:       s.WagerAmount,
		TotalPool:         s.TotalPool,
		CreatedAt:         s.CreatedAt,
		ExpiresAt:         s.ExpiresAt,
	}
}

func (r *battleRow) toDomain(participants []participantRow) domain.Session {
	s := domain.Session{
		Code:              r.Code,
		HostID:            r.HostID,
		Source:            domain.SourceRef{Kind: domain.SourceKind(r.SourceKind), ID: r.SourceID},
		Questions:         r.Questions,
		Status:            domain.Status(r.Status),
		CurrentIndex:      r.CurrentIndex,
		QuestionStartedAt: r.QuestionStartedAt,
		TimerSeconds:      r.TimerSeconds,
		Mode:              domain.Mode(r.Mode),
		WagerAmount:       r.WagerAmount,
		TotalPool:         r.TotalPool,
		CreatedAt:         r.CreatedAt,
		ExpiresAt:         r.ExpiresAt,
		Participants:      make([]domain.Participant, 0, len(participants)),
	}
	for _, p := range participants {
		s.Participants = append(s.Participants, domain.Participant{
			ID:                p.ParticipantID,
			DisplayName:       p.DisplayName,
			Avatar:            p.Avatar,
			Score:             p.Score,
			LastAnswerCorrect: p.LastAnswerCorrect,
			Finished:          p.Finished,
			JoinedAt:          p.JoinedAt,
		})
	}
	return s
}
