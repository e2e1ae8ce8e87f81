package domain

import "errors"

var (
	// ErrSessionNotFound is returned for unknown or expired join codes.
	ErrSessionNotFound = errors.New("battle session not found")
	// ErrUnauthorized is returned when a non-host identity drives the lifecycle.
	ErrUnauthorized = errors.New("only the host may control this battle")
	// ErrInvalidTransition is returned when an operation does not fit the current state.
	ErrInvalidTransition = errors.New("invalid battle state transition")
	// ErrInsufficientBalance is returned by the ledger when a debit would overdraw the account.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrAlreadyAnswered is returned when a participant answers the same question twice.
	ErrAlreadyAnswered = errors.New("question already answered")
	// ErrQuestionClosed is returned when an answer targets a question that is no longer open.
	ErrQuestionClosed = errors.New("question is closed")
	// ErrNotParticipant is returned when an identity acts on a battle it has not joined.
	ErrNotParticipant = errors.New("participant not found in battle")
	// ErrEmptyQuestionSet indicates a question source resolved to zero questions.
	ErrEmptyQuestionSet = errors.New("question source has no questions")
	// ErrMalformedQuestion indicates a source question that cannot be graded.
	ErrMalformedQuestion = errors.New("malformed question")
	// ErrSourceNotFound indicates the referenced topic or quiz could not be loaded.
	ErrSourceNotFound = errors.New("question source not found")
	// ErrInvalidSource indicates an unknown source kind or empty reference.
	ErrInvalidSource = errors.New("invalid question source reference")
	// ErrInvalidMode indicates an unknown mode or a wager mode without a positive stake.
	ErrInvalidMode = errors.New("invalid battle mode")
	// ErrLedgerCreditFailed wraps an individual reward credit that could not be applied.
	ErrLedgerCreditFailed = errors.New("ledger credit failed")
	// ErrCodeTaken is a store-level signal that a generated join code already exists.
	ErrCodeTaken = errors.New("join code already in use")
	// ErrAlreadyJoined is a store-level signal that the participant is already on the roster.
	ErrAlreadyJoined = errors.New("participant already joined")
)
