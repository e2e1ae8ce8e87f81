package domain

import "time"

// QuestionView is a question as shown to a client. CorrectAnswer is only set
// when the viewer is allowed to see it.
type QuestionView struct {
	Index         int      `json:"index"`
	Text          string   `json:"text"`
	Options       []string `json:"options"`
	Points        int      `json:"points"`
	CorrectAnswer string   `json:"correctAnswer,omitempty"`
}

// LeaderboardEntry is a snapshot-friendly view of a participant.
type LeaderboardEntry struct {
	Rank        int    `json:"rank"`
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Score       int    `json:"score"`
}

// SessionView is the polled read model of a battle.
type SessionView struct {
	Code                 string             `json:"code"`
	HostID               string             `json:"hostId"`
	Status               Status             `json:"status"`
	Mode                 Mode               `json:"mode"`
	WagerAmount          int                `json:"wagerAmount,omitempty"`
	TotalPool            int                `json:"totalPool"`
	CurrentQuestionIndex int                `json:"currentQuestionIndex"`
	QuestionCount        int                `json:"questionCount"`
	Questions            []QuestionView     `json:"questions"`
	CurrentQuestion      *QuestionView      `json:"currentQuestion,omitempty"`
	QuestionStartTime    *time.Time         `json:"questionStartTime,omitempty"`
	TimerDurationSeconds int                `json:"timerDurationSeconds"`
	RemainingSeconds     int                `json:"remainingSeconds"`
	PollIntervalSeconds  int                `json:"pollIntervalSeconds"`
	ServerTime           time.Time          `json:"serverTime"`
	ExpiresAt            time.Time          `json:"expiresAt"`
	Participants         []Participant      `json:"participants"`
	Leaderboard          []LeaderboardEntry `json:"leaderboard"`
	ViewerIsHost         bool               `json:"viewerIsHost"`
}
