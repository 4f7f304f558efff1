package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/aristath/stocksim/internal/domain"
	testingpkg "github.com/aristath/stocksim/internal/testing"
	"github.com/aristath/stocksim/pkg/date"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepo(t *testing.T, loc *time.Location) *TransactionRepository {
	t.Helper()
	return NewTransactionRepository(testingpkg.NewMemoryDB(t, "ledger"), loc, zerolog.Nop())
}

func TestCreate_FillsDefaults(t *testing.T) {
	repo := newRepo(t, time.UTC)
	ctx := context.Background()

	tx := domain.Transaction{
		UserID:   "alice",
		StockID:  "stk-acme",
		Type:     domain.TransactionTypeBuy,
		Quantity: 4,
		Price:    decimal.RequireFromString("12.25"),
	}
	require.NoError(t, repo.Create(ctx, &tx))

	assert.NotEmpty(t, tx.ID)
	assert.Equal(t, domain.TransactionStatusExecuted, tx.Status)
	assert.Equal(t, "49", tx.TotalAmount.String())
	assert.False(t, tx.Timestamp.IsZero())

	got, err := repo.GetByID(ctx, tx.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, tx.TotalAmount.Equal(got.TotalAmount))
	assert.Equal(t, tx.Timestamp.UnixNano(), got.Timestamp.UnixNano())
}

func TestCreate_Validation(t *testing.T) {
	repo := newRepo(t, time.UTC)
	ctx := context.Background()

	tests := []struct {
		name string
		tx   domain.Transaction
		want error
	}{
		{"zero quantity", domain.Transaction{Type: domain.TransactionTypeBuy, Quantity: 0, Price: decimal.NewFromInt(1)}, domain.ErrInvalidQuantity},
		{"zero price", domain.Transaction{Type: domain.TransactionTypeSell, Quantity: 1, Price: decimal.Zero}, domain.ErrInvalidPrice},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := tt.tx
			assert.ErrorIs(t, repo.Create(ctx, &tx), tt.want)
		})
	}

	bad := domain.Transaction{Type: "HOLD", Quantity: 1, Price: decimal.NewFromInt(1)}
	assert.Error(t, repo.Create(ctx, &bad))
}

func TestListByUser_OrderAndBound(t *testing.T) {
	athens, err := time.LoadLocation("Europe/Athens")
	require.NoError(t, err)
	repo := newRepo(t, athens)
	ctx := context.Background()

	// 2024-01-01 23:30 in Athens is 21:30 UTC; 2024-01-02 00:30 Athens is 22:30 UTC on Jan 1
	base := time.Date(2024, 1, 1, 21, 30, 0, 0, time.UTC)
	txs := []domain.Transaction{
		testingpkg.NewTransactionFixture("t2", "alice", "s1", domain.TransactionTypeBuy, 1, "10", base.Add(time.Hour)),
		testingpkg.NewTransactionFixture("t1", "alice", "s1", domain.TransactionTypeBuy, 1, "10", base),
		testingpkg.NewTransactionFixture("t3", "alice", "s1", domain.TransactionTypeSell, 1, "10", base.Add(time.Hour)),
		testingpkg.NewTransactionFixture("other", "bob", "s1", domain.TransactionTypeBuy, 1, "10", base),
	}
	for i := range txs {
		require.NoError(t, repo.Create(ctx, &txs[i]))
	}

	all, err := repo.ListByUser(ctx, "alice", date.Date{})
	require.NoError(t, err)
	ids := make([]string, 0, len(all))
	for _, tx := range all {
		ids = append(ids, tx.ID)
	}
	assert.Equal(t, []string{"t1", "t2", "t3"}, ids) // equal timestamps keep insertion order

	upToJan1, err := repo.ListByUser(ctx, "alice", date.New(2024, 1, 1))
	require.NoError(t, err)
	require.Len(t, upToJan1, 1)
	assert.Equal(t, "t1", upToJan1[0].ID)
}

func TestFingerprintChangesWithLedger(t *testing.T) {
	repo := newRepo(t, time.UTC)
	ctx := context.Background()

	empty, err := repo.Fingerprint(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "0:", empty.String())

	tx := testingpkg.NewTransactionFixture("t1", "alice", "s1", domain.TransactionTypeBuy, 1, "10", time.Now())
	require.NoError(t, repo.Create(ctx, &tx))

	one, err := repo.Fingerprint(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "1:t1", one.String())

	deleted, err := repo.Delete(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = repo.Delete(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, deleted)

	after, err := repo.Fingerprint(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, empty, after)
}

func TestGetByID_NotFound(t *testing.T) {
	repo := newRepo(t, time.UTC)
	got, err := repo.GetByID(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}
