package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"quiz-battle-service/internal/domain"
	"github.com/redis/go-redis/v9"
)

// SessionStore is a Redis implementation of app.SessionRepository, so several
// service instances can drive the same battle.
//
// A battle is spread over a few keys sharing the {code} hash tag:
//
//	battle:{CODE}:meta      HASH  lifecycle fields (status, index, pool, ...)
//	battle:{CODE}:questions STRING canonical questions as JSON
//	battle:{CODE}:roster    LIST  participant ids in join order
//	battle:{CODE}:players   HASH  id -> profile JSON
//	battle:{CODE}:scores    HASH  id -> score
//	battle:{CODE}:last      HASH  id -> "1"/"0" for the current question
//	battle:{CODE}:answered  SET   "id:index" of accepted answers
//
// Every mutation is one Lua script, so the guard and the write are atomic.
// All keys carry the retention window as their TTL.
type SessionStore struct {
	client *redis.Client
	now    func() time.Time
}

func NewSessionStore(client *redis.Client) *SessionStore {
	return NewSessionStoreWithClock(client, time.Now)
}

// NewSessionStoreWithClock allows deterministic expiry in tests.
func NewSessionStoreWithClock(client *redis.Client, now func() time.Time) *SessionStore {
	return &SessionStore{client: client, now: now}
}

// script results below zero map to domain errors
const (
	resultNotFound      = -1
	resultInvalid       = -2
	resultClosed        = -3
	resultNotMember     = -4
	resultAnswered      = -5
	resultAlreadyExists = -6
)

var insertScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return -6
end
for i = 3, #ARGV, 2 do
  redis.call('HSET', KEYS[1], ARGV[i], ARGV[i + 1])
end
redis.call('SET', KEYS[2], ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[1])
redis.call('PEXPIRE', KEYS[2], ARGV[1])
return 1
`)

var joinScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
if redis.call('HEXISTS', KEYS[3], ARGV[1]) == 1 then
  return -6
end
if redis.call('HGET', KEYS[1], 'status') ~= 'waiting' then
  return -2
end
redis.call('RPUSH', KEYS[2], ARGV[1])
redis.call('HSET', KEYS[3], ARGV[1], ARGV[2])
redis.call('HSET', KEYS[4], ARGV[1], '0')
redis.call('HINCRBY', KEYS[1], 'pool', ARGV[3])
local ttl = redis.call('PTTL', KEYS[1])
if ttl > 0 then
  for i = 2, #KEYS do
    redis.call('PEXPIRE', KEYS[i], ttl)
  end
end
return 1
`)

var transitionScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
if redis.call('HGET', KEYS[1], 'status') ~= ARGV[1] then
  return -2
end
if ARGV[2] ~= '-1' and redis.call('HGET', KEYS[1], 'index') ~= ARGV[2] then
  return -2
end
redis.call('HSET', KEYS[1], 'status', ARGV[3])
if ARGV[4] ~= '-1' then
  redis.call('HSET', KEYS[1], 'index', ARGV[4])
end
if ARGV[5] ~= '' then
  redis.call('HSET', KEYS[1], 'started_at', ARGV[5])
end
if ARGV[3] == 'in_progress' then
  redis.call('DEL', KEYS[2])
end
return 1
`)

var answerScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
if redis.call('HGET', KEYS[1], 'status') ~= 'in_progress' or redis.call('HGET', KEYS[1], 'index') ~= ARGV[2] then
  return -3
end
if redis.call('HEXISTS', KEYS[2], ARGV[1]) == 0 then
  return -4
end
if redis.call('SADD', KEYS[5], ARGV[1] .. ':' .. ARGV[2]) == 0 then
  return -5
end
local score = redis.call('HINCRBY', KEYS[3], ARGV[1], ARGV[4])
redis.call('HSET', KEYS[4], ARGV[1], ARGV[3])
local ttl = redis.call('PTTL', KEYS[1])
if ttl > 0 then
  redis.call('PEXPIRE', KEYS[4], ttl)
  redis.call('PEXPIRE', KEYS[5], ttl)
end
return score
`)

type profile struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"displayName"`
	Avatar      string    `json:"avatar,omitempty"`
	JoinedAt    time.Time `json:"joinedAt"`
}

func (s *SessionStore) Insert(ctx context.Context, session domain.Session) error {
	ttl := session.ExpiresAt.Sub(s.now())
	if session.ExpiresAt.IsZero() {
		ttl = domain.DefaultRetention
	}
	if ttl <= 0 {
		return fmt.Errorf("insert battle %s: already expired", session.Code)
	}
	questions, err := json.Marshal(session.Questions)
	if err != nil {
		return fmt.Errorf("encode questions: %w", err)
	}

	args := []interface{}{
		ttl.Milliseconds(),
		questions,
		"host", session.HostID,
		"source_kind", string(session.Source.Kind),
		"source_id", session.Source.ID,
		"mode", string(session.Mode),
		"wager", session.WagerAmount,
		"pool", session.TotalPool,
		"status", string(session.Status),
		"index", session.CurrentIndex,
		"started_at", unixMilli(session.QuestionStartedAt),
		"timer", session.TimerSeconds,
		"created_at", unixMilli(session.CreatedAt),
		"expires_at", unixMilli(session.ExpiresAt),
	}
	res, err := insertScript.Run(ctx, s.client, []string{metaKey(session.Code), questionsKey(session.Code)}, args...).Int()
	if err != nil {
		return fmt.Errorf("insert battle %s: %w", session.Code, err)
	}
	return resultError(res, domain.ErrCodeTaken)
}

func (s *SessionStore) Get(ctx context.Context, code string) (domain.Session, error) {
	var (
		meta      *redis.MapStringStringCmd
		questions *redis.StringCmd
		roster    *redis.StringSliceCmd
		players   *redis.MapStringStringCmd
		scores    *redis.MapStringStringCmd
		last      *redis.MapStringStringCmd
	)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		meta = pipe.HGetAll(ctx, metaKey(code))
		questions = pipe.Get(ctx, questionsKey(code))
		roster = pipe.LRange(ctx, rosterKey(code), 0, -1)
		players = pipe.HGetAll(ctx, playersKey(code))
		scores = pipe.HGetAll(ctx, scoresKey(code))
		last = pipe.HGetAll(ctx, lastKey(code))
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return domain.Session{}, fmt.Errorf("get battle %s: %w", code, err)
	}
	fields := meta.Val()
	if len(fields) == 0 {
		return domain.Session{}, domain.ErrSessionNotFound
	}

	session, err := decodeMeta(code, fields)
	if err != nil {
		return domain.Session{}, err
	}
	if !session.ExpiresAt.IsZero() && !s.now().Before(session.ExpiresAt) {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	if raw := questions.Val(); raw != "" {
		if err := json.Unmarshal([]byte(raw), &session.Questions); err != nil {
			return domain.Session{}, fmt.Errorf("decode questions of %s: %w", code, err)
		}
	}

	profiles := players.Val()
	scoreByID := scores.Val()
	lastByID := last.Val()
	session.Participants = make([]domain.Participant, 0, len(roster.Val()))
	for _, id := range roster.Val() {
		var pr profile
		if raw, ok := profiles[id]; ok {
			if err := json.Unmarshal([]byte(raw), &pr); err != nil {
				return domain.Session{}, fmt.Errorf("decode participant %s: %w", id, err)
			}
		}
		p := domain.Participant{
			ID:          id,
			DisplayName: pr.DisplayName,
			Avatar:      pr.Avatar,
			JoinedAt:    pr.JoinedAt,
			Finished:    session.Status == domain.StatusFinished,
		}
		p.Score, _ = strconv.Atoi(scoreByID[id])
		if v, ok := lastByID[id]; ok {
			correct := v == "1"
			p.LastAnswerCorrect = &correct
		}
		session.Participants = append(session.Participants, p)
	}
	return session, nil
}

func (s *SessionStore) AddParticipant(ctx context.Context, code string, p domain.Participant, stake int) error {
	raw, err := json.Marshal(profile{ID: p.ID, DisplayName: p.DisplayName, Avatar: p.Avatar, JoinedAt: p.JoinedAt})
	if err != nil {
		return fmt.Errorf("encode participant: %w", err)
	}
	keys := []string{metaKey(code), rosterKey(code), playersKey(code), scoresKey(code)}
	res, err := joinScript.Run(ctx, s.client, keys, p.ID, raw, stake).Int()
	if err != nil {
		return fmt.Errorf("join battle %s: %w", code, err)
	}
	return resultError(res, domain.ErrAlreadyJoined)
}

func (s *SessionStore) Transition(ctx context.Context, code string, t domain.Transition) error {
	startedAt := ""
	if !t.StartedAt.IsZero() {
		startedAt = strconv.FormatInt(t.StartedAt.UnixMilli(), 10)
	}
	args := []interface{}{
		string(t.FromStatus),
		strconv.Itoa(t.FromIndex),
		string(t.ToStatus),
		strconv.Itoa(t.ToIndex),
		startedAt,
	}
	res, err := transitionScript.Run(ctx, s.client, []string{metaKey(code), lastKey(code)}, args...).Int()
	if err != nil {
		return fmt.Errorf("transition battle %s: %w", code, err)
	}
	return resultError(res, nil)
}

func (s *SessionStore) RecordAnswer(ctx context.Context, code string, answer domain.AnswerRecord) (int, error) {
	correct := "0"
	if answer.Correct {
		correct = "1"
	}
	keys := []string{metaKey(code), playersKey(code), scoresKey(code), lastKey(code), answeredKey(code)}
	res, err := answerScript.Run(ctx, s.client, keys,
		answer.ParticipantID, strconv.Itoa(answer.QuestionIndex), correct, answer.Points).Int()
	if err != nil {
		return 0, fmt.Errorf("record answer in %s: %w", code, err)
	}
	if res < 0 {
		return 0, resultError(res, nil)
	}
	return res, nil
}

// DeleteExpired removes battles whose retention ended but whose keys are still
// around, e.g. when the Redis clock lags behind the service clock.
func (s *SessionStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	removed := 0
	iter := s.client.Scan(ctx, 0, "battle:*:meta", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		raw, err := s.client.HGet(ctx, key, "expires_at").Result()
		if err != nil {
			continue
		}
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || ms == 0 || now.Before(time.UnixMilli(ms)) {
			continue
		}
		code := codeFromMetaKey(key)
		if err := s.client.Del(ctx, battleKeys(code)...).Err(); err != nil {
			return removed, fmt.Errorf("delete battle %s: %w", code, err)
		}
		removed++
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("scan battles: %w", err)
	}
	return removed, nil
}

func decodeMeta(code string, fields map[string]string) (domain.Session, error) {
	session := domain.Session{
		Code:   code,
		HostID: fields["host"],
		Source: domain.SourceRef{Kind: domain.SourceKind(fields["source_kind"]), ID: fields["source_id"]},
		Mode:   domain.Mode(fields["mode"]),
		Status: domain.Status(fields["status"]),
	}
	ints := map[string]*int{
		"wager": &session.WagerAmount,
		"pool":  &session.TotalPool,
		"index": &session.CurrentIndex,
		"timer": &session.TimerSeconds,
	}
	for field, dst := range ints {
		v, err := strconv.Atoi(fields[field])
		if err != nil {
			return domain.Session{}, fmt.Errorf("decode %s of %s: %w", field, code, err)
		}
		*dst = v
	}
	session.QuestionStartedAt = fromUnixMilli(fields["started_at"])
	session.CreatedAt = fromUnixMilli(fields["created_at"])
	session.ExpiresAt = fromUnixMilli(fields["expires_at"])
	return session, nil
}

// resultError maps a script result; exists is what "already present" means to the caller.
func resultError(res int, exists error) error {
	switch res {
	case resultNotFound:
		return domain.ErrSessionNotFound
	case resultInvalid:
		return domain.ErrInvalidTransition
	case resultClosed:
		return domain.ErrQuestionClosed
	case resultNotMember:
		return domain.ErrNotParticipant
	case resultAnswered:
		return domain.ErrAlreadyAnswered
	case resultAlreadyExists:
		return exists
	}
	return nil
}

func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromUnixMilli(raw string) time.Time {
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func metaKey(code string) string      { return "battle:{" + code + "}:meta" }
func questionsKey(code string) string { return "battle:{" + code + "}:questions" }
func rosterKey(code string) string    { return "battle:{" + code + "}:roster" }
func playersKey(code string) string   { return "battle:{" + code + "}:players" }
func scoresKey(code string) string    { return "battle:{" + code + "}:scores" }
func lastKey(code string) string      { return "battle:{" + code + "}:last" }
func answeredKey(code string) string  { return "battle:{" + code + "}:answered" }

func battleKeys(code string) []string {
	return []string{
		metaKey(code), questionsKey(code), rosterKey(code), playersKey(code),
		scoresKey(code), lastKey(code), answeredKey(code),
	}
}

func codeFromMetaKey(key string) string {
	const prefix, suffix = "battle:{", "}:meta"
	if len(key) < len(prefix)+len(suffix) {
		return ""
	}
	return key[len(prefix) : len(key)-len(suffix)]
}
