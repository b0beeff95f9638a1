package credits

import (
	"context"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSchema = `
CREATE TABLE IF NOT EXISTS credit_balances (
	owner_id BIGINT PRIMARY KEY,
	credits_remaining BIGINT NOT NULL DEFAULT 0,
	credits_used_this_period BIGINT NOT NULL DEFAULT 0,
	period_start TIMESTAMPTZ NOT NULL,
	period_end TIMESTAMPTZ NOT NULL,
	monthly_allotment BIGINT NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS credit_transactions (
	id BIGSERIAL PRIMARY KEY,
	owner_id BIGINT NOT NULL,
	video_ref TEXT,
	type TEXT NOT NULL,
	amount BIGINT NOT NULL,
	balance_before BIGINT NOT NULL,
	balance_after BIGINT NOT NULL,
	metadata JSONB,
	created_at TIMESTAMPTZ NOT NULL
);
`

// newTestLedger connects to a local Postgres and skips the test when none is
// reachable. It creates the ledger tables when missing so the test runs
// against a blank database.
func newTestLedger(t *testing.T) *Ledger {
	t.Helper()

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		dsn = "host=localhost port=5432 user=postgres password=postgres dbname=postgres sslmode=disable"
	}

	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		t.Skipf("postgres not available: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, err := db.Exec(testSchema); err != nil {
		t.Fatalf("failed to create ledger tables: %v", err)
	}

	return &Ledger{
		db:     db,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func testOwner() int64 {
	return rand.Int63()
}

func TestLedger_GrantDebitRefund(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	owner := testOwner()

	// grant provisions the balance row for a first-time owner
	txn, err := l.Grant(ctx, owner, 10, map[string]any{"reason": "signup"})
	require.NoError(t, err)
	assert.Equal(t, TxGrant, txn.Type)
	assert.Equal(t, int64(10), txn.Amount)
	assert.Equal(t, int64(0), txn.BalanceBefore)
	assert.Equal(t, int64(10), txn.BalanceAfter)

	txn, err = l.Debit(ctx, owner, 3, "video-1", map[string]any{"pass": 1})
	require.NoError(t, err)
	assert.Equal(t, TxDebit, txn.Type)
	assert.Equal(t, int64(-3), txn.Amount)
	assert.Equal(t, int64(10), txn.BalanceBefore)
	assert.Equal(t, int64(7), txn.BalanceAfter)
	assert.Equal(t, "video-1", txn.VideoRef)

	b, err := l.Balance(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, int64(7), b.CreditsRemaining)
	assert.Equal(t, int64(3), b.CreditsUsedThisPeriod)

	// a debit beyond the balance changes nothing
	_, err = l.Debit(ctx, owner, 100, "video-2", nil)
	assert.ErrorIs(t, err, ErrInsufficientCredits)

	b, err = l.Balance(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, int64(7), b.CreditsRemaining)
	assert.Equal(t, int64(3), b.CreditsUsedThisPeriod)

	txn, err = l.Refund(ctx, owner, 2, "video-1", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), txn.Amount)
	assert.Equal(t, int64(9), txn.BalanceAfter)

	b, err = l.Balance(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, int64(9), b.CreditsRemaining)
	assert.Equal(t, int64(1), b.CreditsUsedThisPeriod)
}

func TestLedger_TransactionTrailInvariants(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	owner := testOwner()

	_, err := l.Grant(ctx, owner, 20, nil)
	require.NoError(t, err)
	_, err = l.Debit(ctx, owner, 5, "video-1", nil)
	require.NoError(t, err)
	_, err = l.Debit(ctx, owner, 7, "video-2", nil)
	require.NoError(t, err)
	_, err = l.Refund(ctx, owner, 7, "video-2", nil)
	require.NoError(t, err)

	txns, err := l.Transactions(ctx, owner, 50)
	require.NoError(t, err)
	require.Len(t, txns, 4)

	// newest first
	assert.Equal(t, TxRefund, txns[0].Type)
	assert.Equal(t, TxGrant, txns[3].Type)

	var running int64
	for i := len(txns) - 1; i >= 0; i-- {
		txn := txns[i]
		assert.Equal(t, txn.BalanceAfter, txn.BalanceBefore+txn.Amount,
			"entry %d violates balance_after = balance_before + amount", txn.ID)
		assert.Equal(t, running, txn.BalanceBefore, "entry %d does not chain", txn.ID)
		running += txn.Amount
	}

	b, err := l.Balance(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, running, b.CreditsRemaining, "balance must equal the running sum of the trail")
}

func TestLedger_Reset(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	owner := testOwner()

	_, err := l.Grant(ctx, owner, 5, nil)
	require.NoError(t, err)
	require.NoError(t, l.SetMonthlyAllotment(ctx, owner, 50))

	_, err = l.Debit(ctx, owner, 2, "video-1", nil)
	require.NoError(t, err)

	txn, err := l.Reset(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, TxReset, txn.Type)
	assert.Equal(t, int64(3), txn.BalanceBefore)
	assert.Equal(t, int64(50), txn.BalanceAfter)
	assert.Equal(t, int64(47), txn.Amount)

	b, err := l.Balance(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, int64(50), b.CreditsRemaining)
	assert.Equal(t, int64(0), b.CreditsUsedThisPeriod)
	assert.Equal(t, b.PeriodEnd, b.PeriodStart.AddDate(0, 1, 0))
	assert.WithinDuration(t, time.Now().UTC(), b.PeriodStart, time.Minute)
}

func TestLedger_MissingBalance(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	owner := testOwner()

	_, err := l.Balance(ctx, owner)
	assert.ErrorIs(t, err, ErrBalanceNotFound)

	_, err = l.Debit(ctx, owner, 1, "video-1", nil)
	assert.ErrorIs(t, err, ErrBalanceNotFound)

	_, err = l.Refund(ctx, owner, 1, "video-1", nil)
	assert.ErrorIs(t, err, ErrBalanceNotFound)
}

func TestLedger_ConcurrentDebitsSerialize(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	owner := testOwner()

	_, err := l.Grant(ctx, owner, 3, nil)
	require.NoError(t, err)

	const attempts = 5
	var wg sync.WaitGroup
	results := make(chan error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Debit(ctx, owner, 1, "video-1", nil)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var ok, insufficient int
	for err := range results {
		switch {
		case err == nil:
			ok++
		case assert.ErrorIs(t, err, ErrInsufficientCredits):
			insufficient++
		}
	}

	// the row lock admits exactly as many debits as the balance covers
	assert.Equal(t, 3, ok)
	assert.Equal(t, 2, insufficient)

	b, err := l.Balance(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, int64(0), b.CreditsRemaining)
}
