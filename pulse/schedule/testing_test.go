package schedule

import (
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/teranos/marketpulse/db"
	mptest "github.com/teranos/marketpulse/internal/testing"
)

var testNow = time.Date(2024, 6, 3, 12, 0, 0, 0, time.UTC)

// fakeClock returns immediately from After, advancing its own time instead
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	now := c.now
	c.mu.Unlock()

	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

func nopLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

// seedEntities inserts n stocks named S00..S(n-1) and returns them in insert order
func seedEntities(t *testing.T, conn *sql.DB, n int) []Entity {
	t.Helper()
	entities := make([]Entity, n)
	for i := 0; i < n; i++ {
		symbol := fmt.Sprintf("S%02d", i)
		entities[i] = Entity{ID: mptest.InsertStock(t, conn, symbol), Symbol: symbol}
	}
	return entities
}

func insertPrice(t *testing.T, conn *sql.DB, stockID int64, at time.Time, volume int64) {
	t.Helper()
	_, err := conn.Exec(`INSERT INTO stock_prices (stock_id, timestamp, open, high, low, close, volume)
		VALUES (?, ?, '10', '10', '10', '10', ?)`, stockID, db.FormatTime(at), volume)
	require.NoError(t, err)
}
