package portfolio

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aristath/stocksim/internal/domain"
	"github.com/aristath/stocksim/internal/events"
	"github.com/aristath/stocksim/internal/modules/ledger"
	"github.com/aristath/stocksim/internal/modules/market"
	testingpkg "github.com/aristath/stocksim/internal/testing"
	"github.com/aristath/stocksim/pkg/date"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var serviceNow = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

type serviceFixture struct {
	service   *Service
	ledger    *ledger.TransactionRepository
	stocks    *market.StockRepository
	prices    *market.PricePointRepository
	positions *PositionRepository
	cache     *ValuationCache
	bus       *events.Bus
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	log := zerolog.Nop()

	marketDB := testingpkg.NewMemoryDB(t, "market")
	ledgerDB := testingpkg.NewMemoryDB(t, "ledger")
	portfolioDB := testingpkg.NewMemoryDB(t, "portfolio")

	f := &serviceFixture{
		ledger:    ledger.NewTransactionRepository(ledgerDB, time.UTC, log),
		stocks:    market.NewStockRepository(marketDB, log),
		prices:    market.NewPricePointRepository(marketDB, log),
		positions: NewPositionRepository(portfolioDB, log),
		cache:     NewValuationCache(testingpkg.NewMemoryDB(t, "cache"), log),
		bus:       events.NewBus(log),
	}
	for _, stock := range testingpkg.NewStockFixtures() {
		require.NoError(t, f.stocks.Upsert(context.Background(), &stock))
	}

	f.service = NewService(f.ledger, f.stocks, f.prices, f.positions, f.cache,
		events.NewManager(f.bus, log),
		Options{MaxHistoryDays: 60, TopN: 3, MaterialityPct: 1},
		time.UTC, log)
	f.service.now = func() time.Time { return serviceNow }
	return f
}

func (f *serviceFixture) record(t *testing.T, txs ...domain.Transaction) {
	t.Helper()
	for i := range txs {
		require.NoError(t, f.ledger.Create(context.Background(), &txs[i]))
	}
}

func (f *serviceFixture) snapshot(t *testing.T, stockID string, day date.Date, price string) {
	t.Helper()
	p := dec(price)
	_, err := f.prices.ApplyBatch(context.Background(), nil, []domain.PriceUpdate{
		{StockID: stockID, Day: day, PreviousClose: p, Price: p, Volume: 1000},
	})
	require.NoError(t, err)
}

func userTx(id, userID, stockID string, typ domain.TransactionType, qty int64, price string, at time.Time) domain.Transaction {
	return testingpkg.NewTransactionFixture(id, userID, stockID, typ, qty, price, at)
}

func TestService_HistoryWorkedExample(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	d1 := date.New(2024, time.March, 1)

	f.record(t,
		buy("t1", "stk-acme", 10, "100", at(d1, 10)),
		sell("t2", "stk-acme", 4, "120", at(d1.Add(4), 10)),
	)
	f.snapshot(t, "stk-acme", d1, "100")
	f.snapshot(t, "stk-acme", d1.Add(2), "110")
	f.snapshot(t, "stk-acme", d1.Add(4), "120")
	f.snapshot(t, "stk-acme", d1.Add(5), "115")

	series, err := f.service.History(ctx, "user-1", d1, d1.Add(5))
	require.NoError(t, err)
	assert.Equal(t, []string{"1000", "1000", "1100", "1100", "720", "690"}, values(series))

	// forward-fill from a snapshot before the window
	single, err := f.service.History(ctx, "user-1", d1.Add(1), d1.Add(1))
	require.NoError(t, err)
	assert.Equal(t, []string{"1000"}, values(single))

	a, err := f.service.Analytics(ctx, "user-1", 0)
	require.NoError(t, err)
	require.Len(t, a.PerStock, 1)
	assert.Equal(t, "80", a.PerStock[0].Realized.String())
	assert.Equal(t, "100", a.PerStock[0].AverageBuyPrice.String())
	assert.Equal(t, "Technology", a.SectorAllocation[0].Sector)
}

func TestService_HistoryCacheFollowsLedger(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	d1 := date.New(2024, time.March, 1)

	f.record(t, buy("t1", "stk-volt", 2, "40", at(d1, 10)))

	first, err := f.service.History(ctx, "user-1", d1, d1.Add(2))
	require.NoError(t, err)
	assert.Equal(t, []string{"80", "80", "80"}, values(first))

	cached, ok, err := f.cache.Get(ctx, CacheKey("user-1", d1, d1.Add(2)), mustFingerprint(t, f))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, values(first), values(cached))

	f.record(t, buy("t2", "stk-volt", 1, "50", at(d1.Add(1), 10)))
	second, err := f.service.History(ctx, "user-1", d1, d1.Add(2))
	require.NoError(t, err)
	assert.Equal(t, []string{"80", "150", "150"}, values(second))

	f.snapshot(t, "stk-volt", d1.Add(2), "60")
	third, err := f.service.History(ctx, "user-1", d1, d1.Add(2))
	require.NoError(t, err)
	assert.Equal(t, []string{"80", "150", "180"}, values(third))
}

func mustFingerprint(t *testing.T, f *serviceFixture) string {
	t.Helper()
	fp, err := f.service.fingerprint(context.Background(), "user-1")
	require.NoError(t, err)
	return fp
}

func TestService_HistoryRangeBounds(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	d1 := date.New(2024, time.March, 1)

	empty, err := f.service.History(ctx, "user-1", d1, d1.Add(-1))
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = f.service.History(ctx, "user-1", d1, d1.Add(60))
	assert.ErrorIs(t, err, domain.ErrInvalidDateRange)

	series, err := f.service.History(ctx, "nobody", d1, d1.Add(59))
	require.NoError(t, err)
	assert.Len(t, series, 60)

	perf, err := f.service.Performance(ctx, "nobody", d1, d1.Add(9), 3)
	require.NoError(t, err)
	assert.Equal(t, 10, perf.Days)
	assert.Len(t, perf.SMA, 8)
}

func TestService_RecordTrade(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	var recorded []*events.Event
	f.bus.Subscribe(events.TradeRecorded, func(e *events.Event) { recorded = append(recorded, e) })

	tx, err := f.service.RecordTrade(ctx, "user-1", TradeRequest{Symbol: "acme", Type: domain.TransactionTypeBuy, Quantity: 5})
	require.NoError(t, err)
	assert.Equal(t, "stk-acme", tx.StockID)
	assert.True(t, dec("100").Equal(tx.Price))
	assert.Equal(t, "500", tx.TotalAmount.String())
	assert.Equal(t, serviceNow, tx.Timestamp)
	require.Len(t, recorded, 1)
	assert.Equal(t, tx.ID, recorded[0].Data["transaction_id"])

	positions, err := f.service.Positions(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, int64(5), positions[0].Quantity)

	_, err = f.service.RecordTrade(ctx, "user-1", TradeRequest{Symbol: "ACME", Type: domain.TransactionTypeSell, Quantity: 6})
	assert.ErrorIs(t, err, domain.ErrInvalidTransactionSequence)

	_, err = f.service.RecordTrade(ctx, "user-1", TradeRequest{Symbol: "TEST", Type: domain.TransactionTypeBuy, Quantity: 1})
	assert.ErrorIs(t, err, domain.ErrStockNotTradable)

	_, err = f.service.RecordTrade(ctx, "user-1", TradeRequest{Symbol: "OLD", Type: domain.TransactionTypeBuy, Quantity: 1})
	assert.ErrorIs(t, err, domain.ErrStockNotTradable)

	_, err = f.service.RecordTrade(ctx, "user-1", TradeRequest{Symbol: "NOPE", Type: domain.TransactionTypeBuy, Quantity: 1})
	assert.ErrorIs(t, err, domain.ErrStockNotFound)

	_, err = f.service.RecordTrade(ctx, "user-1", TradeRequest{Symbol: "ACME", Type: domain.TransactionTypeBuy, Quantity: 0})
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)

	_, err = f.service.RecordTrade(ctx, "user-1", TradeRequest{Symbol: "ACME", Type: "SHORT", Quantity: 1})
	assert.ErrorIs(t, err, domain.ErrInvalidTransactionType)

	sold, err := f.service.RecordTrade(ctx, "user-1", TradeRequest{Symbol: "ACME", Type: domain.TransactionTypeSell, Quantity: 5})
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionTypeSell, sold.Type)

	positions, err = f.service.Positions(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, positions)

	txs, err := f.service.Transactions(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, txs, 2)
}

func TestService_DeleteTransaction(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	f.record(t,
		buy("t1", "stk-acme", 5, "90", day0),
		sell("t2", "stk-acme", 3, "95", day0.Add(time.Hour)),
		userTx("t3", "user-2", "stk-acme", domain.TransactionTypeBuy, 1, "90", day0),
	)

	err := f.service.DeleteTransaction(ctx, "user-1", "t1")
	assert.ErrorIs(t, err, domain.ErrInvalidTransactionSequence)

	err = f.service.DeleteTransaction(ctx, "user-1", "t3")
	assert.ErrorIs(t, err, domain.ErrTransactionNotFound)

	err = f.service.DeleteTransaction(ctx, "user-1", "missing")
	assert.ErrorIs(t, err, domain.ErrTransactionNotFound)

	require.NoError(t, f.service.DeleteTransaction(ctx, "user-1", "t2"))
	positions, err := f.service.Positions(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, int64(5), positions[0].Quantity)
}

func TestService_ReconcileCorrectsDrift(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	f.record(t,
		buy("t1", "stk-acme", 4, "50", day0),
		buy("t2", "stk-volt", 2, "40", day0),
	)
	require.NoError(t, f.positions.Replace(ctx, "user-1", []domain.Position{
		{StockID: "stk-acme", Quantity: 9, AverageBuyPrice: dec("50"), CurrentValue: dec("1"), ProfitLoss: dec("0"), UpdatedAt: day0},
		{StockID: "stk-old", Quantity: 1, AverageBuyPrice: dec("1"), CurrentValue: dec("1"), ProfitLoss: dec("0"), UpdatedAt: day0},
	}))

	var reconciled []*events.Event
	f.bus.Subscribe(events.PositionsReconciled, func(e *events.Event) { reconciled = append(reconciled, e) })

	result, err := f.service.Reconcile(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, result.Drift, 3)
	assert.Equal(t, "stk-acme", result.Drift[0].StockID)
	assert.Equal(t, int64(9), result.Drift[0].StoredQuantity)
	assert.Equal(t, int64(4), result.Drift[0].DerivedQuantity)

	stored, err := f.positions.ListByPortfolio(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, "stk-acme", stored[0].StockID)
	assert.Equal(t, "400", stored[0].CurrentValue.String())
	assert.Equal(t, "200", stored[0].ProfitLoss.String())
	assert.Equal(t, serviceNow.Unix(), stored[0].UpdatedAt.Unix())

	again, err := f.service.Reconcile(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, again.Drift)
	assert.Len(t, reconciled, 2)
}

func TestService_ReconcileAllSkipsCorruptLedger(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	f.record(t,
		userTx("a1", "alice", "stk-acme", domain.TransactionTypeBuy, 2, "90", day0),
		userTx("b1", "bob", "stk-acme", domain.TransactionTypeSell, 1, "90", day0),
	)
	require.NoError(t, f.positions.Replace(ctx, "carol", []domain.Position{
		{StockID: "stk-acme", Quantity: 1, AverageBuyPrice: dec("1"), CurrentValue: dec("1"), ProfitLoss: dec("0"), UpdatedAt: day0},
	}))

	var failures []*events.Event
	f.bus.Subscribe(events.ErrorOccurred, func(e *events.Event) { failures = append(failures, e) })

	summary, err := f.service.ReconcileAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Users)
	assert.Equal(t, 2, summary.Reconciled)
	assert.Equal(t, []string{"bob"}, summary.FailedUsers)
	assert.Equal(t, 2, summary.Drifted)
	assert.Len(t, failures, 1)

	carol, err := f.positions.ListByPortfolio(ctx, "carol")
	require.NoError(t, err)
	assert.Empty(t, carol)
}

func TestService_Leaderboard(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	f.record(t,
		userTx("a1", "alice", "stk-acme", domain.TransactionTypeBuy, 1, "80", day0),   // +25%
		userTx("b1", "bob", "stk-volt", domain.TransactionTypeBuy, 10, "42.10", day0), // 0%, 421
		userTx("c1", "carol", "stk-acme", domain.TransactionTypeBuy, 1, "100", day0),  // 0%, 100
		userTx("d1", "dave", "stk-acme", domain.TransactionTypeSell, 1, "100", day0),  // corrupt
		userTx("e1", "erin", "stk-volt", domain.TransactionTypeBuy, 1, "42.10", day0), // 0%, 42.10
		userTx("f1", "frank", "stk-volt", domain.TransactionTypeBuy, 1, "42.10", day0),
	)

	board, err := f.service.Leaderboard(ctx, 0)
	require.NoError(t, err)

	ids := make([]string, len(board))
	for i, e := range board {
		ids[i] = e.UserID
		assert.Equal(t, i+1, e.Rank)
	}
	assert.Equal(t, []string{"alice", "bob", "carol", "erin", "frank"}, ids)
	assert.Equal(t, "25", board[0].ReturnPct.String())

	top, err := f.service.Leaderboard(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, top, 2)
}

type mockTransactionStore struct {
	mock.Mock
}

func (m *mockTransactionStore) Create(ctx context.Context, tx *domain.Transaction) error {
	return m.Called(ctx, tx).Error(0)
}

func (m *mockTransactionStore) ListByUser(ctx context.Context, userID string, upTo date.Date) ([]domain.Transaction, error) {
	args := m.Called(ctx, userID, upTo)
	txs, _ := args.Get(0).([]domain.Transaction)
	return txs, args.Error(1)
}

func (m *mockTransactionStore) GetByID(ctx context.Context, id string) (*domain.Transaction, error) {
	args := m.Called(ctx, id)
	tx, _ := args.Get(0).(*domain.Transaction)
	return tx, args.Error(1)
}

func (m *mockTransactionStore) ListUsers(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	users, _ := args.Get(0).([]string)
	return users, args.Error(1)
}

func (m *mockTransactionStore) Fingerprint(ctx context.Context, userID string) (ledger.Fingerprint, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(ledger.Fingerprint), args.Error(1)
}

func (m *mockTransactionStore) Delete(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func TestService_ReconcileAllStopsOnStorageError(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	store := new(mockTransactionStore)
	store.On("ListUsers", mock.Anything).Return([]string{"alice", "bob"}, nil)
	store.On("ListByUser", mock.Anything, "alice", date.Date{}).Return(nil, errors.New("disk I/O error"))

	service := NewService(store, f.stocks, f.prices, f.positions, nil, nil, Options{}, time.UTC, zerolog.Nop())
	summary, err := service.ReconcileAll(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk I/O error")
	assert.Equal(t, 0, summary.Reconciled)
	store.AssertNotCalled(t, "ListByUser", mock.Anything, "bob", mock.Anything)
}

func TestService_HistoryWithoutCacheSkipsFingerprint(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	d1 := date.New(2024, time.March, 1)

	store := new(mockTransactionStore)
	store.On("ListByUser", mock.Anything, "alice", d1.Add(1)).Return([]domain.Transaction{
		userTx("a1", "alice", "stk-acme", domain.TransactionTypeBuy, 3, "10", at(d1, 9)),
	}, nil)

	service := NewService(store, f.stocks, f.prices, f.positions, nil, nil, Options{}, time.UTC, zerolog.Nop())
	series, err := service.History(ctx, "alice", d1, d1.Add(1))
	require.NoError(t, err)
	assert.Equal(t, []string{"30", "30"}, values(series))
	store.AssertNotCalled(t, "Fingerprint", mock.Anything, mock.Anything)
	store.AssertExpectations(t)
}
