package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"quiz-battle-service/internal/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Settings tunes the battle lifecycle.
type Settings struct {
	DefaultTimerSeconds int
	Retention           time.Duration
	PollInterval        time.Duration
	CodeAttempts        int
}

// DefaultSettings mirrors the behaviour clients were built against.
func DefaultSettings() Settings {
	return Settings{
		DefaultTimerSeconds: domain.DefaultTimerSeconds,
		Retention:           domain.DefaultRetention,
		PollInterval:        3 * time.Second,
		CodeAttempts:        5,
	}
}

// settleTimeout bounds the payout phase of Finish, which outlives the request.
const settleTimeout = 30 * time.Second

// Option customizes a BattleService.
type Option func(*BattleService)

func WithSettings(settings Settings) Option {
	return func(s *BattleService) { s.settings = settings }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *BattleService) { s.logger = logger }
}

func WithNotifier(notifier Notifier) Option {
	return func(s *BattleService) { s.notifier = notifier }
}

func WithRecorder(recorder Recorder) Option {
	return func(s *BattleService) { s.recorder = recorder }
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *BattleService) { s.tracer = tracer }
}

// WithClock is test-only for deterministic timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *BattleService) { s.now = now }
}

func WithCodeGenerator(gen CodeGenerator) Option {
	return func(s *BattleService) { s.codes = gen }
}

// BattleService contains the battle use cases.
type BattleService struct {
	sessions SessionRepository
	sources  SourceResolver
	ledger   Ledger
	settler  *Settler
	notifier Notifier
	recorder Recorder
	tracer   trace.Tracer
	logger   *slog.Logger
	settings Settings
	now      func() time.Time
	codes    CodeGenerator
}

func NewBattleService(store SessionRepository, sources SourceResolver, ledger Ledger, opts ...Option) *BattleService {
	s := &BattleService{
		sessions: store,
		sources:  sources,
		ledger:   ledger,
		notifier: noopNotifier{},
		recorder: noopRecorder{},
		tracer:   noop.NewTracerProvider().Tracer("battle"),
		logger:   slog.Default(),
		settings: DefaultSettings(),
		now:      time.Now,
		codes:    RandomCode,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.settler = NewSettler(ledger, s.logger)
	return s
}

// Settings returns the effective lifecycle settings.
func (s *BattleService) Settings() Settings {
	return s.settings
}

// Notifier exposes the change feed for push transports.
func (s *BattleService) Notifier() Notifier {
	return s.notifier
}

// CreateRequest describes a new battle.
type CreateRequest struct {
	HostID       string
	Source       domain.SourceRef
	Mode         domain.Mode
	WagerAmount  int
	TimerSeconds int
}

// FinishResult is the final view of a battle together with its payouts.
type FinishResult struct {
	View       domain.SessionView `json:"session"`
	Settlement Settlement         `json:"settlement"`
}

// Create resolves the question source once and stores a waiting battle under a fresh code.
func (s *BattleService) Create(ctx context.Context, req CreateRequest) (domain.Session, error) {
	ctx, span := s.tracer.Start(ctx, "battle.Create")
	defer span.End()

	if strings.TrimSpace(req.HostID) == "" {
		return domain.Session{}, domain.ErrUnauthorized
	}
	if req.Mode == "" {
		req.Mode = domain.ModeClassic
	}
	if !req.Mode.Valid() {
		return domain.Session{}, fmt.Errorf("%w: %q", domain.ErrInvalidMode, req.Mode)
	}
	if req.Mode == domain.ModeWager && req.WagerAmount <= 0 {
		return domain.Session{}, fmt.Errorf("%w: wager amount must be positive", domain.ErrInvalidMode)
	}
	if req.Mode == domain.ModeClassic {
		req.WagerAmount = 0
	}
	if req.TimerSeconds <= 0 {
		req.TimerSeconds = s.settings.DefaultTimerSeconds
	}

	questions, err := s.sources.Resolve(ctx, req.Source)
	if err != nil {
		return domain.Session{}, s.fail(span, err)
	}

	now := s.now()
	session := domain.Session{
		HostID:       req.HostID,
		Source:       req.Source,
		Questions:    questions,
		Status:       domain.StatusWaiting,
		TimerSeconds: req.TimerSeconds,
		Mode:         req.Mode,
		WagerAmount:  req.WagerAmount,
		Participants: []domain.Participant{},
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.settings.Retention),
	}

	attempts := max(s.settings.CodeAttempts, 1)
	for i := 0; i < attempts; i++ {
		code, err := s.codes()
		if err != nil {
			return domain.Session{}, s.fail(span, fmt.Errorf("generate code: %w", err))
		}
		session.Code = domain.NormalizeCode(code)
		err = s.sessions.Insert(ctx, session)
		if errors.Is(err, domain.ErrCodeTaken) {
			s.logger.Warn("join code collision, retrying", "code", session.Code, "attempt", i+1)
			continue
		}
		if err != nil {
			return domain.Session{}, s.fail(span, err)
		}
		span.SetAttributes(attribute.String("battle.code", session.Code))
		s.recorder.BattleCreated(session.Mode)
		s.logger.Info("battle created",
			"code", session.Code,
			"host", session.HostID,
			"source", session.Source.String(),
			"mode", session.Mode,
			"questions", len(questions),
		)
		return session, nil
	}
	return domain.Session{}, s.fail(span, fmt.Errorf("allocate join code after %d attempts: %w", attempts, domain.ErrCodeTaken))
}

// Join adds the identity to a waiting battle. In wager mode the stake is debited
// before the participant is appended; joining twice is a no-op.
func (s *BattleService) Join(ctx context.Context, code string, who domain.Identity) (domain.SessionView, error) {
	ctx, span := s.startSpan(ctx, "battle.Join", code)
	defer span.End()

	if strings.TrimSpace(who.ID) == "" {
		return domain.SessionView{}, s.fail(span, domain.ErrUnauthorized)
	}
	session, err := s.sessions.Get(ctx, domain.NormalizeCode(code))
	if err != nil {
		return domain.SessionView{}, s.fail(span, err)
	}
	if _, ok := session.Participant(who.ID); ok {
		return s.view(session, who.ID), nil
	}
	if session.Status != domain.StatusWaiting {
		return domain.SessionView{}, s.fail(span, fmt.Errorf("%w: battle is %s", domain.ErrInvalidTransition, session.Status))
	}

	stake := 0
	if session.Mode == domain.ModeWager {
		stake = session.WagerAmount
		if err := s.ledger.Debit(ctx, who.ID, stake, ReasonWagerStake); err != nil {
			return domain.SessionView{}, s.fail(span, fmt.Errorf("debit wager: %w", err))
		}
	}

	displayName := strings.TrimSpace(who.DisplayName)
	if displayName == "" {
		displayName = who.ID
	}
	participant := domain.Participant{
		ID:          who.ID,
		DisplayName: displayName,
		Avatar:      who.Avatar,
		JoinedAt:    s.now(),
	}
	if err := s.sessions.AddParticipant(ctx, session.Code, participant, stake); err != nil {
		if stake > 0 {
			s.refund(ctx, session.Code, who.ID, stake)
		}
		if !errors.Is(err, domain.ErrAlreadyJoined) {
			return domain.SessionView{}, s.fail(span, err)
		}
	} else {
		s.recorder.ParticipantJoined(session.Mode)
		s.logger.Info("participant joined", "code", session.Code, "participant", who.ID, "stake", stake)
		s.publish(ctx, session.Code)
	}

	return s.Status(ctx, session.Code, who.ID)
}

// Status is the polled read of a battle as seen by viewerID.
func (s *BattleService) Status(ctx context.Context, code, viewerID string) (domain.SessionView, error) {
	session, err := s.sessions.Get(ctx, domain.NormalizeCode(code))
	if err != nil {
		return domain.SessionView{}, err
	}
	return s.view(session, viewerID), nil
}

// Start moves a waiting battle with at least one participant to its first question.
func (s *BattleService) Start(ctx context.Context, code, hostID string) (domain.SessionView, error) {
	ctx, span := s.startSpan(ctx, "battle.Start", code)
	defer span.End()

	session, err := s.controlled(ctx, code, hostID)
	if err != nil {
		return domain.SessionView{}, s.fail(span, err)
	}
	if session.Status != domain.StatusWaiting {
		return domain.SessionView{}, s.fail(span, fmt.Errorf("%w: cannot start a battle that is %s", domain.ErrInvalidTransition, session.Status))
	}
	if len(session.Participants) == 0 {
		return domain.SessionView{}, s.fail(span, fmt.Errorf("%w: no participants have joined", domain.ErrInvalidTransition))
	}

	err = s.sessions.Transition(ctx, session.Code, domain.Transition{
		FromStatus: domain.StatusWaiting,
		FromIndex:  domain.AnyIndex,
		ToStatus:   domain.StatusInProgress,
		ToIndex:    0,
		StartedAt:  s.now(),
	})
	if err != nil {
		return domain.SessionView{}, s.fail(span, err)
	}
	return s.afterTransition(ctx, session.Code, hostID, "start")
}

// Advance moves to the next question. expectedIndex must match the current index so
// a racing auto-advance and manual click only move the battle once.
func (s *BattleService) Advance(ctx context.Context, code, hostID string, expectedIndex int) (domain.SessionView, error) {
	ctx, span := s.startSpan(ctx, "battle.Advance", code)
	defer span.End()

	session, err := s.controlled(ctx, code, hostID)
	if err != nil {
		return domain.SessionView{}, s.fail(span, err)
	}
	if session.Status != domain.StatusInProgress {
		return domain.SessionView{}, s.fail(span, fmt.Errorf("%w: cannot advance a battle that is %s", domain.ErrInvalidTransition, session.Status))
	}
	if session.CurrentIndex != expectedIndex {
		return domain.SessionView{}, s.fail(span, fmt.Errorf("%w: battle is on question %d, not %d", domain.ErrInvalidTransition, session.CurrentIndex, expectedIndex))
	}
	if session.IsLastQuestion() {
		return domain.SessionView{}, s.fail(span, fmt.Errorf("%w: no question after %d", domain.ErrInvalidTransition, session.CurrentIndex))
	}

	err = s.sessions.Transition(ctx, session.Code, domain.Transition{
		FromStatus: domain.StatusInProgress,
		FromIndex:  expectedIndex,
		ToStatus:   domain.StatusInProgress,
		ToIndex:    expectedIndex + 1,
		StartedAt:  s.now(),
	})
	if err != nil {
		return domain.SessionView{}, s.fail(span, err)
	}
	return s.afterTransition(ctx, session.Code, hostID, "advance")
}

// Finish closes the battle and settles rewards. Only the caller that wins the
// transition settles, so payouts happen once.
func (s *BattleService) Finish(ctx context.Context, code, hostID string) (FinishResult, error) {
	ctx, span := s.startSpan(ctx, "battle.Finish", code)
	defer span.End()

	session, err := s.controlled(ctx, code, hostID)
	if err != nil {
		return FinishResult{}, s.fail(span, err)
	}
	if session.Status != domain.StatusInProgress {
		return FinishResult{}, s.fail(span, fmt.Errorf("%w: cannot finish a battle that is %s", domain.ErrInvalidTransition, session.Status))
	}

	err = s.sessions.Transition(ctx, session.Code, domain.Transition{
		FromStatus: domain.StatusInProgress,
		FromIndex:  domain.AnyIndex,
		ToStatus:   domain.StatusFinished,
		ToIndex:    domain.AnyIndex,
	})
	if err != nil {
		return FinishResult{}, s.fail(span, err)
	}
	s.recorder.TransitionApplied("finish")

	// The battle is finished from here on and cannot be settled again, so a
	// caller that disconnects must not abort the payouts.
	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()

	final, err := s.sessions.Get(settleCtx, session.Code)
	if err != nil {
		return FinishResult{}, s.fail(span, err)
	}
	settlement := s.settler.Settle(settleCtx, final)
	s.recorder.Settled(final.Mode, settlement.Paid, len(settlement.Failures))
	s.publish(settleCtx, final.Code)

	return FinishResult{View: s.view(final, hostID), Settlement: settlement}, nil
}

// Submit grades one answer. questionIndex pins the question the participant saw;
// when nil the current question is assumed.
func (s *BattleService) Submit(ctx context.Context, code, participantID, answer string, questionIndex *int) (domain.AnswerResult, error) {
	ctx, span := s.startSpan(ctx, "battle.Submit", code)
	defer span.End()

	session, err := s.sessions.Get(ctx, domain.NormalizeCode(code))
	if err != nil {
		return domain.AnswerResult{}, s.fail(span, err)
	}
	switch session.Status {
	case domain.StatusWaiting:
		return domain.AnswerResult{}, s.fail(span, fmt.Errorf("%w: battle has not started", domain.ErrInvalidTransition))
	case domain.StatusFinished:
		return domain.AnswerResult{}, s.fail(span, fmt.Errorf("%w: battle is finished", domain.ErrQuestionClosed))
	}
	if _, ok := session.Participant(participantID); !ok {
		return domain.AnswerResult{}, s.fail(span, domain.ErrNotParticipant)
	}

	index := session.CurrentIndex
	if questionIndex != nil && *questionIndex != index {
		return domain.AnswerResult{}, s.fail(span, fmt.Errorf("%w: question %d is not open", domain.ErrQuestionClosed, *questionIndex))
	}

	question := session.Questions[index]
	correct, points := question.Grade(answer)
	total, err := s.sessions.RecordAnswer(ctx, session.Code, domain.AnswerRecord{
		ParticipantID: participantID,
		QuestionIndex: index,
		Correct:       correct,
		Points:        points,
	})
	if err != nil {
		return domain.AnswerResult{}, s.fail(span, err)
	}
	s.recorder.AnswerRecorded(correct)
	s.publish(ctx, session.Code)

	return domain.AnswerResult{
		QuestionIndex: index,
		IsCorrect:     correct,
		PointsAwarded: points,
		TotalScore:    total,
		CorrectAnswer: question.CorrectAnswer,
	}, nil
}

func (s *BattleService) controlled(ctx context.Context, code, hostID string) (domain.Session, error) {
	session, err := s.sessions.Get(ctx, domain.NormalizeCode(code))
	if err != nil {
		return domain.Session{}, err
	}
	if !session.IsHost(hostID) {
		return domain.Session{}, domain.ErrUnauthorized
	}
	return session, nil
}

func (s *BattleService) afterTransition(ctx context.Context, code, viewerID, event string) (domain.SessionView, error) {
	s.recorder.TransitionApplied(event)
	s.publish(ctx, code)
	session, err := s.sessions.Get(ctx, code)
	if err != nil {
		return domain.SessionView{}, err
	}
	s.logger.Info("battle transitioned",
		"code", code,
		"event", event,
		"status", session.Status,
		"question", session.CurrentIndex,
	)
	return s.view(session, viewerID), nil
}

func (s *BattleService) refund(ctx context.Context, code, participantID string, amount int) {
	if err := s.ledger.Credit(ctx, participantID, amount, ReasonWagerRefund); err != nil {
		s.logger.Error("wager refund failed", "code", code, "participant", participantID, "amount", amount, "error", err)
	}
}

func (s *BattleService) publish(ctx context.Context, code string) {
	if err := s.notifier.Publish(ctx, code); err != nil {
		s.logger.Warn("publish battle update failed", "code", code, "error", err)
	}
}

func (s *BattleService) view(session domain.Session, viewerID string) domain.SessionView {
	return BuildView(session, viewerID, s.now(), s.settings.PollInterval)
}

func (s *BattleService) startSpan(ctx context.Context, name, code string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(attribute.String("battle.code", domain.NormalizeCode(code))))
}

func (s *BattleService) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
