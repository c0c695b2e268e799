package catalog

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/marketpulse/errors"
	"github.com/teranos/marketpulse/feed"
	"github.com/teranos/marketpulse/logger"
)

// SyncResult reports what a catalog sync wrote
type SyncResult struct {
	Pages    int
	Upserted int
	Complete bool // false when stopped by maxPages or an error
}

// Sync pages through the feed's active ticker listing and upserts every
// ticker. Each page is written as soon as it arrives, so an error part way
// keeps the pages already stored. maxPages <= 0 means no page limit.
func Sync(ctx context.Context, client feed.Client, store *Store, maxPages int, now time.Time, log *zap.SugaredLogger) (SyncResult, error) {
	ixLog := logger.AddIXSymbol(log)
	var res SyncResult
	cursor := ""

	for {
		if maxPages > 0 && res.Pages >= maxPages {
			ixLog.Infow("Catalog sync stopped at page limit", "pages", res.Pages, logger.FieldCount, res.Upserted)
			return res, nil
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}

		page, err := client.ListTickers(ctx, cursor)
		if err != nil {
			return res, errors.Wrapf(err, "list tickers page %d", res.Pages+1)
		}
		res.Pages++

		stocks := make([]Stock, 0, len(page.Tickers))
		for _, t := range page.Tickers {
			name := t.Name
			if name == "" {
				name = t.Symbol
			}
			stocks = append(stocks, Stock{
				Symbol:   t.Symbol,
				Name:     name,
				Exchange: t.Exchange,
				Active:   t.Active,
			})
		}
		n, err := store.UpsertStocks(ctx, stocks, now)
		if err != nil {
			return res, err
		}
		res.Upserted += n
		ixLog.Infow("Catalog page stored", "page", res.Pages, logger.FieldCount, n, "total", res.Upserted)

		if page.NextCursor == "" {
			res.Complete = true
			return res, nil
		}
		cursor = page.NextCursor
	}
}
