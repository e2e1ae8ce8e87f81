package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"quiz-battle-service/internal/app"
	"quiz-battle-service/internal/domain"
	transport "quiz-battle-service/internal/transport/http"
)

// Client calls the battle REST API as one identity.
type Client struct {
	baseURL  string
	http     *http.Client
	identity domain.Identity
	token    string
}

type Option func(*Client)

// WithHTTPClient replaces the default client (10s timeout).
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithToken authenticates with a bearer token instead of X-User-* headers.
func WithToken(token string) Option {
	return func(cl *Client) { cl.token = token }
}

func New(baseURL string, identity domain.Identity, opts ...Option) *Client {
	c := &Client{
		baseURL:  baseURL,
		http:     &http.Client{Timeout: 10 * time.Second},
		identity: identity,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Identity returns who the client acts as.
func (c *Client) Identity() domain.Identity {
	return c.identity
}

// CreateResponse is returned by Create.
type CreateResponse struct {
	Code    string             `json:"code"`
	JoinURL string             `json:"joinUrl"`
	Session domain.SessionView `json:"session"`
}

// CreateRequest mirrors the POST /api/battles body.
type CreateRequest struct {
	Source       domain.SourceRef `json:"source"`
	Mode         domain.Mode      `json:"mode,omitempty"`
	WagerAmount  int              `json:"wagerAmount,omitempty"`
	TimerSeconds int              `json:"timerSeconds,omitempty"`
}

func (c *Client) Create(ctx context.Context, req CreateRequest) (CreateResponse, error) {
	var out CreateResponse
	err := c.do(ctx, http.MethodPost, "/api/battles", req, &out)
	return out, err
}

func (c *Client) Join(ctx context.Context, code string) (domain.SessionView, error) {
	var out domain.SessionView
	err := c.do(ctx, http.MethodPost, battlePath(code, "/join"), nil, &out)
	return out, err
}

func (c *Client) Status(ctx context.Context, code string) (domain.SessionView, error) {
	var out domain.SessionView
	err := c.do(ctx, http.MethodGet, battlePath(code, ""), nil, &out)
	return out, err
}

func (c *Client) Start(ctx context.Context, code string) (domain.SessionView, error) {
	var out domain.SessionView
	err := c.do(ctx, http.MethodPatch, battlePath(code, "/start"), nil, &out)
	return out, err
}

func (c *Client) Advance(ctx context.Context, code string, expectedIndex int) (domain.SessionView, error) {
	var out domain.SessionView
	err := c.do(ctx, http.MethodPatch, battlePath(code, "/advance"), map[string]int{"expectedIndex": expectedIndex}, &out)
	return out, err
}

func (c *Client) Finish(ctx context.Context, code string) (app.FinishResult, error) {
	var out app.FinishResult
	err := c.do(ctx, http.MethodPatch, battlePath(code, "/finish"), nil, &out)
	return out, err
}

func (c *Client) Submit(ctx context.Context, code, answer string, questionIndex int) (domain.AnswerResult, error) {
	var out domain.AnswerResult
	body := map[string]any{"answer": answer, "questionIndex": questionIndex}
	err := c.do(ctx, http.MethodPost, battlePath(code, "/answers"), body, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	} else {
		req.Header.Set("X-User-ID", c.identity.ID)
		req.Header.Set("X-User-Name", c.identity.DisplayName)
		if c.identity.Avatar != "" {
			req.Header.Set("X-User-Avatar", c.identity.Avatar)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &Error{Status: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func battlePath(code, suffix string) string {
	return "/api/battles/" + url.PathEscape(domain.NormalizeCode(code)) + suffix
}

// Error is a non-2xx API response. It unwraps to the matching domain error so
// callers can use errors.Is(err, domain.ErrInvalidTransition).
type Error struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"error"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
}

var codeErrors = map[string]error{
	transport.ErrCodeNotFound:            domain.ErrSessionNotFound,
	transport.ErrCodeSourceNotFound:      domain.ErrSourceNotFound,
	transport.ErrCodeNotHost:             domain.ErrUnauthorized,
	transport.ErrCodeNotParticipant:      domain.ErrNotParticipant,
	transport.ErrCodeInvalidTransition:   domain.ErrInvalidTransition,
	transport.ErrCodeQuestionClosed:      domain.ErrQuestionClosed,
	transport.ErrCodeAlreadyAnswered:     domain.ErrAlreadyAnswered,
	transport.ErrCodeInsufficientBalance: domain.ErrInsufficientBalance,
	transport.ErrCodeInvalidSource:       domain.ErrInvalidSource,
	transport.ErrCodeInvalidMode:         domain.ErrInvalidMode,
	transport.ErrCodeEmptyQuestionSet:    domain.ErrEmptyQuestionSet,
	transport.ErrCodeMalformedQuestion:   domain.ErrMalformedQuestion,
}

func (e *Error) Unwrap() error {
	return codeErrors[e.Code]
}
