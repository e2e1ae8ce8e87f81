package client

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"time"

	"quiz-battle-service/internal/domain"
)

const defaultPollInterval = 3 * time.Second

// Synchronizer polls a battle and keeps a local countdown. Run as the host it
// also drives the battle: it starts once enough participants joined, advances
// when the timer of the current question runs out and finishes after the last
// one. Lost races with another host tab are expected and ignored.
type Synchronizer struct {
	client          *Client
	code            string
	host            bool
	minParticipants int
	logger          *slog.Logger
	now             func() time.Time

	// OnView, if set, receives every polled view with the locally computed remaining seconds.
	OnView func(view domain.SessionView, remaining int)
}

type SyncOption func(*Synchronizer)

// AsHost makes the synchronizer drive the lifecycle, starting once minParticipants joined.
// A minParticipants of zero leaves starting to someone else.
func AsHost(minParticipants int) SyncOption {
	return func(s *Synchronizer) {
		s.host = true
		s.minParticipants = minParticipants
	}
}

func WithLogger(logger *slog.Logger) SyncOption {
	return func(s *Synchronizer) { s.logger = logger }
}

func WithClock(now func() time.Time) SyncOption {
	return func(s *Synchronizer) { s.now = now }
}

func NewSynchronizer(client *Client, code string, opts ...SyncOption) *Synchronizer {
	s := &Synchronizer{
		client: client,
		code:   domain.NormalizeCode(code),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run polls until the battle finishes or ctx is done, and returns the final view.
// Failed polls and lifecycle calls are retried on the next interval; only
// permanent API errors such as an unknown code end the run early.
func (s *Synchronizer) Run(ctx context.Context) (domain.SessionView, error) {
	var last domain.SessionView
	for {
		view, err := s.client.Status(ctx, s.code)
		if err != nil {
			if err := s.retryable(ctx, err); err != nil {
				return last, err
			}
			s.logger.Warn("poll failed, retrying", "code", s.code, "error", err)
			if err := s.sleep(ctx, pollInterval(last)); err != nil {
				return last, err
			}
			continue
		}
		last = view
		received := s.now()
		remaining := Remaining(view, received, received)
		if s.OnView != nil {
			s.OnView(view, int(math.Ceil(remaining.Seconds())))
		}

		wait := pollInterval(view)
		switch view.Status {
		case domain.StatusFinished:
			return view, nil
		case domain.StatusWaiting:
			if s.host && s.minParticipants > 0 && len(view.Participants) >= s.minParticipants {
				_, err := s.client.Start(ctx, s.code)
				if err := s.settle(ctx, "start", err); err != nil {
					return view, err
				}
				continue
			}
		case domain.StatusInProgress:
			if s.host && remaining <= 0 {
				if err := s.settle(ctx, "advance", s.step(ctx, view)); err != nil {
					return view, err
				}
				continue
			}
			if s.host && remaining < wait {
				wait = remaining
			}
		}

		if err := s.sleep(ctx, wait); err != nil {
			return view, err
		}
	}
}

func (s *Synchronizer) step(ctx context.Context, view domain.SessionView) error {
	if view.CurrentQuestionIndex+1 >= view.QuestionCount {
		_, err := s.client.Finish(ctx, s.code)
		if err == nil {
			s.logger.Info("battle finished", "code", s.code)
		}
		return err
	}
	_, err := s.client.Advance(ctx, s.code, view.CurrentQuestionIndex)
	if err == nil {
		s.logger.Info("question advanced", "code", s.code, "question", view.CurrentQuestionIndex+1)
	}
	return err
}

// settle classifies the outcome of a lifecycle call. A lost race counts as
// done; a transient failure is logged and returns nil so the next poll retries.
func (s *Synchronizer) settle(ctx context.Context, action string, err error) error {
	if err == nil {
		return nil
	}
	if err := s.tolerate(err); err == nil {
		return nil
	}
	if err := s.retryable(ctx, err); err != nil {
		return err
	}
	s.logger.Warn(action+" failed, retrying", "code", s.code, "error", err)
	return s.sleep(ctx, time.Second)
}

// retryable returns nil for transient failures and the error itself when
// retrying cannot help: a cancelled ctx or a 4xx answer from the API.
func (s *Synchronizer) retryable(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr.Status < http.StatusInternalServerError && apiErr.Status != http.StatusTooManyRequests {
		return err
	}
	return nil
}

func (s *Synchronizer) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// tolerate swallows InvalidTransition: someone else already moved the battle.
func (s *Synchronizer) tolerate(err error) error {
	if errors.Is(err, domain.ErrInvalidTransition) {
		s.logger.Debug("transition lost to a concurrent caller", "code", s.code)
		return nil
	}
	return err
}

// Remaining recomputes the countdown of a view received at local time
// receivedAt, as of local time now. The server/local clock offset observed at
// receipt is applied so skewed client clocks still count down correctly.
func Remaining(view domain.SessionView, receivedAt, now time.Time) time.Duration {
	if view.QuestionStartTime == nil {
		return 0
	}
	serverNow := now.Add(view.ServerTime.Sub(receivedAt))
	left := time.Duration(view.TimerDurationSeconds)*time.Second - serverNow.Sub(*view.QuestionStartTime)
	if left < 0 {
		return 0
	}
	return left
}

func pollInterval(view domain.SessionView) time.Duration {
	if view.PollIntervalSeconds <= 0 {
		return defaultPollInterval
	}
	return time.Duration(view.PollIntervalSeconds) * time.Second
}
