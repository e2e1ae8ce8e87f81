package domain

import (
	"strings"
	"time"
)

// Status is the lifecycle state of a battle.
type Status string

const (
	StatusWaiting    Status = "waiting"
	StatusInProgress Status = "in_progress"
	StatusFinished   Status = "finished"
)

// Mode selects the reward policy applied at finish.
type Mode string

const (
	ModeClassic Mode = "classic"
	ModeWager   Mode = "wager"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeClassic || m == ModeWager
}

const (
	// CodeLength is the number of characters in a join code.
	CodeLength = 6
	// DefaultTimerSeconds is the per-question countdown when none is requested.
	DefaultTimerSeconds = 30
	// DefaultRetention bounds how long a battle is kept, regardless of status.
	DefaultRetention = 2 * time.Hour
)

// NormalizeCode upper-cases and trims a user-typed join code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Identity is the caller as resolved by the identity collaborator.
type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Avatar      string `json:"avatar,omitempty"`
}

// Participant is a member of a battle with their running score.
type Participant struct {
	ID                string    `json:"id"`
	DisplayName       string    `json:"displayName"`
	Avatar            string    `json:"avatar,omitempty"`
	Score             int       `json:"score"`
	LastAnswerCorrect *bool     `json:"lastAnswerCorrect,omitempty"`
	Finished          bool      `json:"finished"`
	JoinedAt          time.Time `json:"joinedAt"`
}

// Session is the stored aggregate of one battle.
type Session struct {
	Code              string              `json:"code"`
	HostID            string              `json:"hostId"`
	Source            SourceRef           `json:"source"`
	Questions         []CanonicalQuestion `json:"questions"`
	Status            Status              `json:"status"`
	CurrentIndex      int                 `json:"currentQuestionIndex"`
	QuestionStartedAt time.Time           `json:"questionStartTime"`
	TimerSeconds      int                 `json:"timerDurationSeconds"`
	Mode              Mode                `json:"mode"`
	WagerAmount       int                 `json:"wagerAmount"`
	TotalPool         int                 `json:"totalPool"`
	Participants      []Participant       `json:"participants"`
	CreatedAt         time.Time           `json:"createdAt"`
	ExpiresAt         time.Time           `json:"expiresAt"`
}

// Participant returns the member with the given id.
func (s Session) Participant(id string) (Participant, bool) {
	for _, p := range s.Participants {
		if p.ID == id {
			return p, true
		}
	}
	return Participant{}, false
}

// IsHost reports whether id controls the lifecycle of s.
func (s Session) IsHost(id string) bool {
	return id != "" && s.HostID == id
}

// IsLastQuestion reports whether the current question is the final one.
func (s Session) IsLastQuestion() bool {
	return s.CurrentIndex+1 >= len(s.Questions)
}

// Transition is a conditional state change applied atomically by a session store.
// The store applies it only when the session is still in FromStatus and, when
// FromIndex is not AnyIndex, still on FromIndex.
type Transition struct {
	FromStatus Status
	FromIndex  int
	ToStatus   Status
	ToIndex    int
	StartedAt  time.Time
}

// AnyIndex disables the index guard of a Transition.
const AnyIndex = -1

// AnswerRecord is the single mutation produced by an accepted answer.
type AnswerRecord struct {
	ParticipantID string
	QuestionIndex int
	Correct       bool
	Points        int
}

// AnswerResult is returned to the participant who submitted an answer.
type AnswerResult struct {
	QuestionIndex int    `json:"questionIndex"`
	IsCorrect     bool   `json:"isCorrect"`
	PointsAwarded int    `json:"pointsAwarded"`
	TotalScore    int    `json:"totalScore"`
	CorrectAnswer string `json:"correctAnswer"`
}
