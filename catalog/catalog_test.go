package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/teranos/marketpulse/db"
	"github.com/teranos/marketpulse/errors"
	"github.com/teranos/marketpulse/feed"
	mptest "github.com/teranos/marketpulse/internal/testing"
)

var testNow = time.Date(2024, 6, 3, 12, 0, 0, 0, time.UTC)

func TestStore_UpsertStockKeepsIdentity(t *testing.T) {
	ctx := context.Background()
	store := NewStore(mptest.CreateTestDB(t))

	id, err := store.UpsertStock(ctx, Stock{Symbol: " aapl ", Name: "Apple", Sector: "Technology", Active: true}, testNow)
	require.NoError(t, err)

	again, err := store.UpsertStock(ctx, Stock{Symbol: "AAPL", Name: "Apple Inc.", Exchange: "XNAS", Active: true}, testNow.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, id, again)

	st, err := store.GetBySymbol(ctx, "aapl")
	require.NoError(t, err)
	assert.Equal(t, "AAPL", st.Symbol)
	assert.Equal(t, "Apple Inc.", st.Name)
	assert.Equal(t, "XNAS", st.Exchange)
	assert.Equal(t, "Technology", st.Sector, "empty sector never erases a stored one")
	assert.True(t, st.Active)
	assert.Equal(t, testNow.Add(time.Hour), st.UpdatedAt)

	_, err = store.UpsertStock(ctx, Stock{Symbol: "  "}, testNow)
	assert.True(t, errors.IsInvalidRequest(err))
}

func TestStore_ListAndEntities(t *testing.T) {
	ctx := context.Background()
	store := NewStore(mptest.CreateTestDB(t))

	for _, sym := range []string{"MSFT", "AAPL", "KO"} {
		_, err := store.UpsertStock(ctx, Stock{Symbol: sym, Name: sym, Active: true}, testNow)
		require.NoError(t, err)
	}
	require.NoError(t, store.Deactivate(ctx, "ko", testNow))
	assert.True(t, errors.IsNotFound(store.Deactivate(ctx, "ZZZ", testNow)))

	all, err := store.List(ctx, false, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "AAPL", all[0].Symbol, "ordered by symbol")

	active, err := store.List(ctx, true, 0)
	require.NoError(t, err)
	assert.Len(t, active, 2)

	limited, err := store.List(ctx, false, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	entities, err := store.Entities(ctx)
	require.NoError(t, err)
	require.Len(t, entities, 2)
	assert.Equal(t, "MSFT", entities[0].Symbol, "enumeration follows insertion order")
	assert.Equal(t, "AAPL", entities[1].Symbol)

	total, activeCount, err := store.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Equal(t, 2, activeCount)
}

func TestStore_EntitiesBySymbols(t *testing.T) {
	ctx := context.Background()
	store := NewStore(mptest.CreateTestDB(t))
	for _, sym := range []string{"AAPL", "MSFT"} {
		_, err := store.UpsertStock(ctx, Stock{Symbol: sym, Active: true}, testNow)
		require.NoError(t, err)
	}

	entities, err := store.EntitiesBySymbols(ctx, []string{"msft", "AAPL", "MSFT"})
	require.NoError(t, err)
	require.Len(t, entities, 2)
	assert.Equal(t, "MSFT", entities[0].Symbol)
	assert.Equal(t, "AAPL", entities[1].Symbol)

	_, err = store.EntitiesBySymbols(ctx, []string{"AAPL", "NOPE", "ZZZ"})
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
	assert.Contains(t, err.Error(), "NOPE, ZZZ")
}

func TestStore_RecentlyPriced(t *testing.T) {
	ctx := context.Background()
	conn := mptest.CreateTestDB(t)
	store := NewStore(conn)

	fresh := mptest.InsertStock(t, conn, "FRESH")
	stale := mptest.InsertStock(t, conn, "STALE")
	mptest.InsertStock(t, conn, "NEVER")

	for id, at := range map[int64]time.Time{fresh: testNow.Add(-12 * time.Hour), stale: testNow.Add(-72 * time.Hour)} {
		_, err := conn.Exec(`INSERT INTO stock_prices (stock_id, timestamp, open, high, low, close, volume)
			VALUES (?, ?, '1', '1', '1', '1', 100)`, id, db.FormatTime(at))
		require.NoError(t, err)
	}

	entities, err := store.RecentlyPriced(ctx, testNow.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.Equal(t, "FRESH", entities[0].Symbol)
}

func TestSeed_Idempotent(t *testing.T) {
	ctx := context.Background()
	store := NewStore(mptest.CreateTestDB(t))

	n, err := Seed(ctx, store, testNow)
	require.NoError(t, err)
	assert.Equal(t, len(DefaultStocks), n)

	_, err = Seed(ctx, store, testNow)
	require.NoError(t, err)

	total, active, err := store.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(DefaultStocks), total)
	assert.Equal(t, len(DefaultStocks), active)
}

// pagedFeed serves ticker pages keyed by cursor
type pagedFeed struct {
	feed.Client
	pages   map[string]feed.TickerPage
	failAt  string
	cursors []string
}

func (f *pagedFeed) ListTickers(_ context.Context, cursor string) (feed.TickerPage, error) {
	f.cursors = append(f.cursors, cursor)
	if cursor == f.failAt && f.failAt != "" {
		return feed.TickerPage{}, errors.New("feed unavailable")
	}
	return f.pages[cursor], nil
}

func twoPageFeed() *pagedFeed {
	return &pagedFeed{pages: map[string]feed.TickerPage{
		"": {
			Tickers: []feed.Ticker{
				{Symbol: "AAPL", Name: "Apple Inc.", Exchange: "XNAS", Active: true},
				{Symbol: "MSFT", Name: "", Exchange: "XNAS", Active: true},
			},
			NextCursor: "p2",
		},
		"p2": {
			Tickers: []feed.Ticker{{Symbol: "KO", Name: "Coca-Cola", Exchange: "XNYS", Active: true}},
		},
	}}
}

// Test Case 1: Full sync
// Given: A feed listing two pages of tickers
// When: The catalog is synced without a page limit
// Then: Both pages are stored and the cursor from page one is followed
func TestSync_FollowsCursor(t *testing.T) {
	ctx := context.Background()
	store := NewStore(mptest.CreateTestDB(t))
	client := twoPageFeed()

	res, err := Sync(ctx, client, store, 0, testNow, zap.NewNop().Sugar())
	require.NoError(t, err)
	assert.Equal(t, SyncResult{Pages: 2, Upserted: 3, Complete: true}, res)
	assert.Equal(t, []string{"", "p2"}, client.cursors)

	msft, err := store.GetBySymbol(ctx, "MSFT")
	require.NoError(t, err)
	assert.Equal(t, "MSFT", msft.Name, "empty name falls back to the symbol")
}

func TestSync_PageLimit(t *testing.T) {
	store := NewStore(mptest.CreateTestDB(t))

	res, err := Sync(context.Background(), twoPageFeed(), store, 1, testNow, zap.NewNop().Sugar())
	require.NoError(t, err)
	assert.Equal(t, SyncResult{Pages: 1, Upserted: 2}, res)
}

// Test Case 2: Feed fails part way
// Given: The second page request fails
// When: The catalog is synced
// Then: The error is returned and the first page stays stored
func TestSync_KeepsPagesBeforeError(t *testing.T) {
	ctx := context.Background()
	store := NewStore(mptest.CreateTestDB(t))
	client := twoPageFeed()
	client.failAt = "p2"

	res, err := Sync(ctx, client, store, 0, testNow, zap.NewNop().Sugar())
	require.Error(t, err)
	assert.Equal(t, 2, res.Upserted)
	assert.False(t, res.Complete)

	total, _, err := store.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
}
