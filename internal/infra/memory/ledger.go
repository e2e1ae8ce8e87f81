package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"quiz-battle-service/internal/domain"
	"github.com/google/uuid"
)

// LedgerEntry is one audited balance change.
type LedgerEntry struct {
	ID        uuid.UUID
	UserID    string
	Delta     int
	Reason    string
	CreatedAt time.Time
}

// Ledger is an in-memory points ledger. Accounts that were never seen start
// with the opening balance.
type Ledger struct {
	mu       sync.Mutex
	opening  int
	balances map[string]int
	entries  []LedgerEntry
}

func NewLedger(openingBalance int) *Ledger {
	return &Ledger{
		opening:  openingBalance,
		balances: make(map[string]int),
	}
}

func (l *Ledger) Credit(_ context.Context, userID string, amount int, reason string) error {
	if amount < 0 {
		return fmt.Errorf("credit %s: negative amount %d", userID, amount)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[userID] = l.balanceLocked(userID) + amount
	l.appendLocked(userID, amount, reason)
	return nil
}

func (l *Ledger) Debit(_ context.Context, userID string, amount int, reason string) error {
	if amount < 0 {
		return fmt.Errorf("debit %s: negative amount %d", userID, amount)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	balance := l.balanceLocked(userID)
	if balance < amount {
		return fmt.Errorf("%w: %s has %d, needs %d", domain.ErrInsufficientBalance, userID, balance, amount)
	}
	l.balances[userID] = balance - amount
	l.appendLocked(userID, -amount, reason)
	return nil
}

// Balance returns the current balance of userID.
func (l *Ledger) Balance(userID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balanceLocked(userID)
}

// SetBalance overrides an account balance.
func (l *Ledger) SetBalance(userID string, balance int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[userID] = balance
}

// Entries returns a copy of the audit log.
func (l *Ledger) Entries() []LedgerEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]LedgerEntry(nil), l.entries...)
}

func (l *Ledger) balanceLocked(userID string) int {
	if balance, ok := l.balances[userID]; ok {
		return balance
	}
	return l.opening
}

func (l *Ledger) appendLocked(userID string, delta int, reason string) {
	l.entries = append(l.entries, LedgerEntry{
		ID:        uuid.New(),
		UserID:    userID,
		Delta:     delta,
		Reason:    reason,
		CreatedAt: time.Now(),
	})
}
