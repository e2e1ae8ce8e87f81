package app

import (
	"math"
	"sort"
	"time"

	"quiz-battle-service/internal/domain"
)

// BuildView renders the session for viewerID at time now. A spectating host
// sees every correct answer; anyone on the roster, including a host who joined
// to play, only sees answers of questions that are closed.
func BuildView(session domain.Session, viewerID string, now time.Time, pollInterval time.Duration) domain.SessionView {
	isHost := session.IsHost(viewerID)
	_, playing := session.Participant(viewerID)
	seesAll := isHost && !playing

	view := domain.SessionView{
		Code:                 session.Code,
		HostID:               session.HostID,
		Status:               session.Status,
		Mode:                 session.Mode,
		WagerAmount:          session.WagerAmount,
		TotalPool:            session.TotalPool,
		CurrentQuestionIndex: session.CurrentIndex,
		QuestionCount:        len(session.Questions),
		TimerDurationSeconds: session.TimerSeconds,
		PollIntervalSeconds:  int(pollInterval / time.Second),
		ServerTime:           now,
		ExpiresAt:            session.ExpiresAt,
		Participants:         append([]domain.Participant(nil), session.Participants...),
		Leaderboard:          Leaderboard(session.Participants),
		ViewerIsHost:         isHost,
	}

	view.Questions = make([]domain.QuestionView, len(session.Questions))
	for i, q := range session.Questions {
		qv := domain.QuestionView{
			Index:   i,
			Text:    q.Text,
			Options: append([]string(nil), q.Options...),
			Points:  q.Points,
		}
		if seesAll || answerRevealed(session, i) {
			qv.CorrectAnswer = q.CorrectAnswer
		}
		view.Questions[i] = qv
	}

	if session.Status == domain.StatusInProgress && session.CurrentIndex < len(view.Questions) {
		current := view.Questions[session.CurrentIndex]
		view.CurrentQuestion = &current
		started := session.QuestionStartedAt
		view.QuestionStartTime = &started
		view.RemainingSeconds = RemainingSeconds(started, session.TimerSeconds, now)
	}
	return view
}

func answerRevealed(session domain.Session, index int) bool {
	switch session.Status {
	case domain.StatusFinished:
		return true
	case domain.StatusInProgress:
		return index < session.CurrentIndex
	default:
		return false
	}
}

// RemainingSeconds is duration - (now - startedAt), rounded up and clamped at zero.
func RemainingSeconds(startedAt time.Time, durationSeconds int, now time.Time) int {
	left := time.Duration(durationSeconds)*time.Second - now.Sub(startedAt)
	if left <= 0 {
		return 0
	}
	return int(math.Ceil(left.Seconds()))
}

// Leaderboard orders participants by score, keeping join order for ties.
func Leaderboard(participants []domain.Participant) []domain.LeaderboardEntry {
	entries := make([]domain.LeaderboardEntry, 0, len(participants))
	for _, p := range participants {
		entries = append(entries, domain.LeaderboardEntry{
			UserID:      p.ID,
			DisplayName: p.DisplayName,
			Score:       p.Score,
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Score > entries[j].Score
	})
	for i := range entries {
		if i > 0 && entries[i].Score == entries[i-1].Score {
			entries[i].Rank = entries[i-1].Rank
			continue
		}
		entries[i].Rank = i + 1
	}
	return entries
}
