package postgres

import (
	"context"
	"errors"
	"fmt"

	"quiz-battle-service/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// Ledger keeps point balances in ledger_accounts with an append-only
// ledger_entries audit table. Accounts seen for the first time open with
// openingBalance.
type Ledger struct {
	pool           *pgxpool.Pool
	openingBalance int
}

func NewLedger(pool *pgxpool.Pool, openingBalance int) *Ledger {
	return &Ledger{pool: pool, openingBalance: openingBalance}
}

func (l *Ledger) Credit(ctx context.Context, userID string, amount int, reason string) error {
	err := l.pool.BeginFunc(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO ledger_accounts (user_id, balance) VALUES ($1, $2 + $3)
			ON CONFLICT (user_id) DO UPDATE SET balance = ledger_accounts.balance + $3, updated_at = now()`,
			userID, l.openingBalance, amount); err != nil {
			return err
		}
		return insertEntry(ctx, tx, userID, amount, reason)
	})
	if err != nil {
		return fmt.Errorf("credit %s: %w", userID, err)
	}
	return nil
}

func (l *Ledger) Debit(ctx context.Context, userID string, amount int, reason string) error {
	err := l.pool.BeginFunc(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO ledger_accounts (user_id, balance) VALUES ($1, $2)
			ON CONFLICT (user_id) DO NOTHING`, userID, l.openingBalance); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `
			UPDATE ledger_accounts SET balance = balance - $2, updated_at = now()
			WHERE user_id = $1 AND balance >= $2`, userID, amount)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrInsufficientBalance
		}
		return insertEntry(ctx, tx, userID, -amount, reason)
	})
	if err != nil {
		return fmt.Errorf("debit %s: %w", userID, err)
	}
	return nil
}

// Balance returns the current balance, or the opening balance for unknown accounts.
func (l *Ledger) Balance(ctx context.Context, userID string) (int, error) {
	var balance int
	err := l.pool.QueryRow(ctx, `SELECT balance FROM ledger_accounts WHERE user_id=$1`, userID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return l.openingBalance, nil
	}
	if err != nil {
		return 0, fmt.Errorf("balance %s: %w", userID, err)
	}
	return balance, nil
}

func insertEntry(ctx context.Context, tx pgx.Tx, userID string, delta int, reason string) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO ledger_entries (id, user_id, delta, reason) VALUES ($1, $2, $3, $4)`,
		uuid.NewString(), userID, delta, reason)
	return err
}
