package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"quiz-battle-service/internal/domain"
	"golang.org/x/sync/errgroup"
)

const (
	ReasonBattleReward = "battle reward"
	ReasonWagerWin     = "battle wager winnings"
	ReasonWagerStake   = "battle wager"
	ReasonWagerRefund  = "battle wager refund"

	creditParallelism = 8
)

// Credit is one payout owed to a participant.
type Credit struct {
	ParticipantID string `json:"participantId"`
	Amount        int    `json:"amount"`
}

// CreditFailure records a payout the ledger rejected.
type CreditFailure struct {
	ParticipantID string `json:"participantId"`
	Amount        int    `json:"amount"`
	Error         string `json:"error"`
}

// Settlement summarizes the rewards of a finished battle.
type Settlement struct {
	Mode            domain.Mode     `json:"mode"`
	TotalPool       int             `json:"totalPool"`
	MaxScore        int             `json:"maxScore"`
	Winners         []string        `json:"winners"`
	RewardPerWinner int             `json:"rewardPerWinner"`
	Credits         []Credit        `json:"credits"`
	Paid            int             `json:"paid"`
	Undistributed   int             `json:"undistributed"`
	Failures        []CreditFailure `json:"failures,omitempty"`
}

// ComputePayouts decides who is owed what without touching the ledger.
//
// Classic battles pay every participant their own score. Wager battles split the
// pool evenly among the top scorers; nobody is paid when the top score is zero
// and the integer-division remainder stays unallocated.
func ComputePayouts(session domain.Session) Settlement {
	s := Settlement{Mode: session.Mode, TotalPool: session.TotalPool}
	for _, p := range session.Participants {
		if p.Score > s.MaxScore {
			s.MaxScore = p.Score
		}
	}

	switch session.Mode {
	case domain.ModeWager:
		if s.MaxScore > 0 {
			for _, p := range session.Participants {
				if p.Score == s.MaxScore {
					s.Winners = append(s.Winners, p.ID)
				}
			}
		}
		if len(s.Winners) == 0 {
			s.Undistributed = session.TotalPool
			return s
		}
		s.RewardPerWinner = session.TotalPool / len(s.Winners)
		s.Undistributed = session.TotalPool % len(s.Winners)
		if s.RewardPerWinner == 0 {
			return s
		}
		for _, id := range s.Winners {
			s.Credits = append(s.Credits, Credit{ParticipantID: id, Amount: s.RewardPerWinner})
		}
	default:
		for _, p := range session.Participants {
			if p.Score > 0 {
				s.Credits = append(s.Credits, Credit{ParticipantID: p.ID, Amount: p.Score})
			}
		}
	}
	return s
}

// Settler applies payouts through the ledger.
type Settler struct {
	ledger Ledger
	logger *slog.Logger
}

func NewSettler(ledger Ledger, logger *slog.Logger) *Settler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Settler{ledger: ledger, logger: logger}
}

// Settle credits every payout independently. A failed credit is logged and
// reported in the result; successful credits are never rolled back.
func (s *Settler) Settle(ctx context.Context, session domain.Session) Settlement {
	result := ComputePayouts(session)
	reason := ReasonBattleReward
	if session.Mode == domain.ModeWager {
		reason = ReasonWagerWin
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(creditParallelism)
	for _, credit := range result.Credits {
		credit := credit
		g.Go(func() error {
			err := s.ledger.Credit(ctx, credit.ParticipantID, credit.Amount, reason)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				err = fmt.Errorf("%w: %s: %v", domain.ErrLedgerCreditFailed, credit.ParticipantID, err)
				s.logger.Error("reward credit failed",
					"code", session.Code,
					"participant", credit.ParticipantID,
					"amount", credit.Amount,
					"error", err,
				)
				result.Failures = append(result.Failures, CreditFailure{
					ParticipantID: credit.ParticipantID,
					Amount:        credit.Amount,
					Error:         err.Error(),
				})
				return nil
			}
			result.Paid += credit.Amount
			return nil
		})
	}
	_ = g.Wait()

	s.logger.Info("battle settled",
		"code", session.Code,
		"mode", session.Mode,
		"paid", result.Paid,
		"failures", len(result.Failures),
		"undistributed", result.Undistributed,
	)
	return result
}
