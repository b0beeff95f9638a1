package credits

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/openreel/publisher-be/shared/postgresql"
)

// Ledger provides atomic credit operations against per-owner balances with an
// append-only transaction trail. Every mutation locks the owner's balance row
// for the duration of its transaction, so concurrent debits from different
// videos serialize instead of racing.
type Ledger struct {
	db     *sqlx.DB
	logger *slog.Logger
}

func NewLedger(pg *postgresql.Client, logger *slog.Logger) *Ledger {
	return &Ledger{
		db:     pg.GetDB(),
		logger: logger,
	}
}

const balanceColumns = `
	owner_id, credits_remaining, credits_used_this_period,
	period_start, period_end, monthly_allotment, updated_at
`

// Balance returns the owner's current balance.
func (l *Ledger) Balance(ctx context.Context, owner int64) (*Balance, error) {
	var b Balance
	query := `SELECT ` + balanceColumns + ` FROM credit_balances WHERE owner_id = $1`

	err := l.db.GetContext(ctx, &b, query, owner)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBalanceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get credit balance: %w", err)
	}

	return &b, nil
}

// Transactions returns the owner's most recent ledger entries, newest first.
func (l *Ledger) Transactions(ctx context.Context, owner int64, limit int) ([]Transaction, error) {
	if limit <= 0 {
		limit = 50
	}

	type txRow struct {
		ID            int64           `db:"id"`
		Owner         int64           `db:"owner_id"`
		VideoRef      sql.NullString  `db:"video_ref"`
		Type          TransactionType `db:"type"`
		Amount        int64           `db:"amount"`
		BalanceBefore int64           `db:"balance_before"`
		BalanceAfter  int64           `db:"balance_after"`
		Metadata      []byte          `db:"metadata"`
		CreatedAt     time.Time       `db:"created_at"`
	}

	var rows []txRow
	query := `
		SELECT id, owner_id, video_ref, type, amount,
		       balance_before, balance_after, metadata, created_at
		FROM credit_transactions
		WHERE owner_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`

	if err := l.db.SelectContext(ctx, &rows, query, owner, limit); err != nil {
		return nil, fmt.Errorf("failed to list credit transactions: %w", err)
	}

	txns := make([]Transaction, 0, len(rows))
	for _, r := range rows {
		txns = append(txns, Transaction{
			ID:            r.ID,
			Owner:         r.Owner,
			VideoRef:      r.VideoRef.String,
			Type:          r.Type,
			Amount:        r.Amount,
			BalanceBefore: r.BalanceBefore,
			BalanceAfter:  r.BalanceAfter,
			Metadata:      r.Metadata,
			CreatedAt:     r.CreatedAt,
		})
	}

	return txns, nil
}

// Debit removes credits from the owner's balance for a processed video.
// Returns ErrInsufficientCredits without mutating anything when the balance
// cannot cover the amount.
func (l *Ledger) Debit(ctx context.Context, owner int64, amount int64, videoRef string, metadata map[string]any) (*Transaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("debit amount must be positive, got %d", amount)
	}

	return l.apply(ctx, owner, TxDebit, videoRef, metadata, func(b *Balance) error {
		if b.CreditsRemaining < amount {
			return ErrInsufficientCredits
		}
		b.CreditsRemaining -= amount
		b.CreditsUsedThisPeriod += amount
		return nil
	})
}

// Refund returns previously debited credits to the owner.
func (l *Ledger) Refund(ctx context.Context, owner int64, amount int64, videoRef string, metadata map[string]any) (*Transaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("refund amount must be positive, got %d", amount)
	}

	return l.apply(ctx, owner, TxRefund, videoRef, metadata, func(b *Balance) error {
		b.CreditsRemaining += amount
		b.CreditsUsedThisPeriod -= amount
		if b.CreditsUsedThisPeriod < 0 {
			b.CreditsUsedThisPeriod = 0
		}
		return nil
	})
}

// Grant adds credits outside the billing cycle, creating the balance row for
// first-time owners.
func (l *Ledger) Grant(ctx context.Context, owner int64, amount int64, metadata map[string]any) (*Transaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("grant amount must be positive, got %d", amount)
	}

	if err := l.ensureBalance(ctx, owner); err != nil {
		return nil, err
	}

	return l.apply(ctx, owner, TxGrant, "", metadata, func(b *Balance) error {
		b.CreditsRemaining += amount
		return nil
	})
}

// Reset restores the balance to the monthly allotment, zeroes the usage
// counter and advances the billing period.
func (l *Ledger) Reset(ctx context.Context, owner int64) (*Transaction, error) {
	now := time.Now().UTC()

	return l.apply(ctx, owner, TxReset, "", nil, func(b *Balance) error {
		b.CreditsRemaining = b.MonthlyAllotment
		b.CreditsUsedThisPeriod = 0

		start := b.PeriodEnd
		if start.IsZero() || start.After(now) {
			start = now
		}
		b.PeriodStart = start
		b.PeriodEnd = start.AddDate(0, 1, 0)
		return nil
	})
}

// SetMonthlyAllotment updates the owner's plan size, creating the balance row
// for first-time owners. It does not touch the current balance; the next
// Reset applies the new allotment.
func (l *Ledger) SetMonthlyAllotment(ctx context.Context, owner int64, allotment int64) error {
	if allotment < 0 {
		return fmt.Errorf("monthly allotment must not be negative, got %d", allotment)
	}

	if err := l.ensureBalance(ctx, owner); err != nil {
		return err
	}

	_, err := l.db.ExecContext(ctx, `
		UPDATE credit_balances SET monthly_allotment = $2, updated_at = $3 WHERE owner_id = $1
	`, owner, allotment, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set monthly allotment: %w", err)
	}

	return nil
}

func (l *Ledger) ensureBalance(ctx context.Context, owner int64) error {
	now := time.Now().UTC()
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO credit_balances (
			owner_id, credits_remaining, credits_used_this_period,
			period_start, period_end, monthly_allotment, updated_at
		) VALUES ($1, 0, 0, $2, $3, 0, $2)
		ON CONFLICT (owner_id) DO NOTHING
	`, owner, now, now.AddDate(0, 1, 0))
	if err != nil {
		return fmt.Errorf("failed to ensure credit balance: %w", err)
	}

	return nil
}

// apply runs one ledger mutation: it locks the balance row, lets mutate
// adjust it, persists the result and appends the transaction entry with
// before/after snapshots, all in a single database transaction. The entry's
// signed amount is the change in credits_remaining.
func (l *Ledger) apply(ctx context.Context, owner int64, txType TransactionType, videoRef string, metadata map[string]any, mutate func(*Balance) error) (*Transaction, error) {
	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin ledger transaction: %w", err)
	}
	defer tx.Rollback()

	var b Balance
	query := `SELECT ` + balanceColumns + ` FROM credit_balances WHERE owner_id = $1 FOR UPDATE`

	err = tx.GetContext(ctx, &b, query, owner)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBalanceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock credit balance: %w", err)
	}

	before := b.CreditsRemaining
	if err := mutate(&b); err != nil {
		return nil, err
	}
	after := b.CreditsRemaining

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		UPDATE credit_balances
		SET credits_remaining = $2,
		    credits_used_this_period = $3,
		    period_start = $4,
		    period_end = $5,
		    updated_at = $6
		WHERE owner_id = $1
	`, owner, b.CreditsRemaining, b.CreditsUsedThisPeriod, b.PeriodStart, b.PeriodEnd, now)
	if err != nil {
		return nil, fmt.Errorf("failed to update credit balance: %w", err)
	}

	var metaJSON []byte
	if len(metadata) > 0 {
		if metaJSON, err = json.Marshal(metadata); err != nil {
			return nil, fmt.Errorf("failed to encode transaction metadata: %w", err)
		}
	}

	txn := &Transaction{
		Owner:         owner,
		VideoRef:      videoRef,
		Type:          txType,
		Amount:        after - before,
		BalanceBefore: before,
		BalanceAfter:  after,
		Metadata:      metaJSON,
		CreatedAt:     now,
	}

	err = tx.GetContext(ctx, &txn.ID, `
		INSERT INTO credit_transactions (
			owner_id, video_ref, type, amount,
			balance_before, balance_after, metadata, created_at
		) VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, owner, videoRef, txType, txn.Amount, before, after, nullBytes(metaJSON), now)
	if err != nil {
		return nil, fmt.Errorf("failed to append credit transaction: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit ledger transaction: %w", err)
	}

	l.logger.Info("credit transaction applied",
		slog.Int64("owner", owner),
		slog.String("type", string(txType)),
		slog.Int64("amount", txn.Amount),
		slog.Int64("balance_after", after),
		slog.String("video_ref", videoRef),
	)

	return txn, nil
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
