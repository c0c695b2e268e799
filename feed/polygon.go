package feed

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/teranos/marketpulse/am"
	"github.com/teranos/marketpulse/errors"
	"github.com/teranos/marketpulse/internal/httpclient"
	"github.com/teranos/marketpulse/logger"
	"github.com/teranos/marketpulse/pulse/budget"
	"github.com/teranos/marketpulse/version"
)

// Ledger endpoint names
const (
	EndpointAggregates = "aggregates"
	EndpointFinancials = "financials"
	EndpointTickers    = "tickers"
)

// DefaultInitialBackoff is the first retry delay; later delays grow exponentially
const DefaultInitialBackoff = 2 * time.Second

// maxErrorBody caps how much of a failed response is read for its message
const maxErrorBody = 4 << 10

// Acquirer blocks until one more outbound call fits the budget
type Acquirer interface {
	Acquire(ctx context.Context) error
}

// CallRecorder observes every attempt, including retries
type CallRecorder interface {
	Record(ctx context.Context, c budget.Call) error
}

// Options configures a PolygonClient
type Options struct {
	BaseURL        string
	APIKey         string
	Timeout        time.Duration // Default: 30s
	MaxRetries     int           // retries after the first attempt; negative means none
	InitialBackoff time.Duration // Default: 2s
	Limiter        Acquirer      // required
	Recorders      []CallRecorder
	Transport      http.RoundTripper
	Now            func() time.Time
}

// PolygonClient talks to a Polygon-style REST API
type PolygonClient struct {
	base           *url.URL
	apiKey         string
	http           *httpclient.Client
	limiter        Acquirer
	maxRetries     int
	initialBackoff time.Duration
	recorders      []CallRecorder
	now            func() time.Time
	log            *zap.SugaredLogger
}

var _ Client = (*PolygonClient)(nil)

// NewPolygonClient creates a feed client. A missing API key is a fatal
// configuration error.
func NewPolygonClient(opts Options, log *zap.SugaredLogger) (*PolygonClient, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.WithHint(
			errors.Wrap(am.ErrMissingCredential, "create feed client"),
			"set MARKETPULSE_FEED_API_KEY or POLYGON_API_KEY",
		)
	}
	if opts.Limiter == nil {
		return nil, errors.Wrap(errors.ErrInvalidRequest, "feed client requires a limiter")
	}
	base, err := url.Parse(opts.BaseURL)
	if err != nil || base.Host == "" {
		return nil, errors.Wrapf(errors.ErrInvalidRequest, "feed base url %q is not absolute", opts.BaseURL)
	}

	initial := opts.InitialBackoff
	if initial <= 0 {
		initial = DefaultInitialBackoff
	}
	retries := opts.MaxRetries
	if retries < 0 {
		retries = 0
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &PolygonClient{
		base:   base,
		apiKey: opts.APIKey,
		http: httpclient.New(httpclient.Options{
			Timeout:   opts.Timeout,
			Transport: opts.Transport,
			UserAgent: version.UserAgent(),
		}),
		limiter:        opts.Limiter,
		maxRetries:     retries,
		initialBackoff: initial,
		recorders:      opts.Recorders,
		now:            now,
		log:            logger.AddIXSymbol(log),
	}, nil
}

// NewFromConfig builds a client from the feed section of cfg
func NewFromConfig(cfg *am.Config, limiter Acquirer, log *zap.SugaredLogger, recorders ...CallRecorder) (*PolygonClient, error) {
	return NewPolygonClient(Options{
		BaseURL:    cfg.Feed.BaseURL,
		APIKey:     cfg.Feed.APIKey,
		Timeout:    time.Duration(cfg.Feed.TimeoutSeconds) * time.Second,
		MaxRetries: cfg.Feed.MaxRetries,
		Limiter:    limiter,
		Recorders:  recorders,
	}, log)
}

type aggregatesResponse struct {
	Status  string `json:"status"`
	Results []struct {
		T  int64           `json:"t"`
		O  decimal.Decimal `json:"o"`
		H  decimal.Decimal `json:"h"`
		L  decimal.Decimal `json:"l"`
		C  decimal.Decimal `json:"c"`
		V  float64         `json:"v"`
		VW decimal.Decimal `json:"vw"`
		N  int64           `json:"n"`
	} `json:"results"`
}

// FetchSeries returns adjusted daily bars, oldest first
func (c *PolygonClient) FetchSeries(ctx context.Context, symbol string, from, to time.Time) ([]Bar, error) {
	sym := strings.ToUpper(symbol)
	path := []string{"v2", "aggs", "ticker", sym, "range", "1", "day", from.UTC().Format("2006-01-02"), to.UTC().Format("2006-01-02")}
	params := url.Values{
		"adjusted": {"true"},
		"sort":     {"asc"},
		"limit":    {"5000"},
	}

	var resp aggregatesResponse
	if err := c.get(ctx, EndpointAggregates, sym, path, params, &resp); err != nil {
		return nil, err
	}

	bars := make([]Bar, 0, len(resp.Results))
	for _, r := range resp.Results {
		bars = append(bars, Bar{
			Timestamp:    time.UnixMilli(r.T).UTC(),
			Open:         r.O,
			High:         r.H,
			Low:          r.L,
			Close:        r.C,
			Volume:       int64(r.V),
			VWAP:         r.VW,
			Transactions: r.N,
		})
	}
	return bars, nil
}

type lineItem struct {
	Value *float64 `json:"value"`
}

type financialsResponse struct {
	Results []struct {
		FiscalYear   flexInt `json:"fiscal_year"`
		FiscalPeriod string  `json:"fiscal_period"`
		StartDate    string  `json:"start_date"`
		EndDate      string  `json:"end_date"`
		FilingDate   string  `json:"filing_date"`
		Financials   struct {
			IncomeStatement map[string]lineItem `json:"income_statement"`
			BalanceSheet    map[string]lineItem `json:"balance_sheet"`
		} `json:"financials"`
	} `json:"results"`
}

// FetchPeriodicMetrics returns up to ten statements, newest first as listed.
// Statements without a fiscal year are skipped.
func (c *PolygonClient) FetchPeriodicMetrics(ctx context.Context, symbol string, period Period) ([]Financials, error) {
	sym := strings.ToUpper(symbol)
	params := url.Values{
		"ticker": {sym},
		"period": {string(period)},
		"limit":  {"10"},
	}

	var resp financialsResponse
	if err := c.get(ctx, EndpointFinancials, sym, []string{"vX", "reference", "financials"}, params, &resp); err != nil {
		return nil, err
	}

	out := make([]Financials, 0, len(resp.Results))
	for _, r := range resp.Results {
		if r.FiscalYear == 0 {
			continue
		}
		is, bs := r.Financials.IncomeStatement, r.Financials.BalanceSheet
		out = append(out, Financials{
			FiscalYear:   int(r.FiscalYear),
			FiscalPeriod: r.FiscalPeriod,
			StartDate:    parseDate(r.StartDate),
			EndDate:      parseDate(r.EndDate),
			FilingDate:   parseDate(r.FilingDate),
			Revenue:      is["revenues"].Value,
			NetIncome:    is["net_income_loss"].Value,
			EPS:          is["basic_earnings_per_share"].Value,
			Assets:       bs["assets"].Value,
			Liabilities:  bs["liabilities"].Value,
			Equity:       bs["equity"].Value,
		})
	}
	return out, nil
}

type tickersResponse struct {
	Results []struct {
		Ticker          string `json:"ticker"`
		Name            string `json:"name"`
		PrimaryExchange string `json:"primary_exchange"`
		Type            string `json:"type"`
		Active          bool   `json:"active"`
	} `json:"results"`
	NextURL string `json:"next_url"`
}

// ListTickers returns one page of active stock tickers
func (c *PolygonClient) ListTickers(ctx context.Context, cursor string) (TickerPage, error) {
	params := url.Values{
		"market": {"stocks"},
		"active": {"true"},
		"limit":  {"1000"},
	}
	if cursor != "" {
		params.Set("cursor", cursor)
	}

	var resp tickersResponse
	if err := c.get(ctx, EndpointTickers, "", []string{"v3", "reference", "tickers"}, params, &resp); err != nil {
		return TickerPage{}, err
	}

	page := TickerPage{Tickers: make([]Ticker, 0, len(resp.Results))}
	for _, r := range resp.Results {
		page.Tickers = append(page.Tickers, Ticker{
			Symbol:   strings.ToUpper(r.Ticker),
			Name:     r.Name,
			Exchange: r.PrimaryExchange,
			Type:     r.Type,
			Active:   r.Active,
		})
	}
	page.NextCursor = cursorFrom(resp.NextURL)
	return page, nil
}

// get runs one logical request with limiter admission and transient retries
func (c *PolygonClient) get(ctx context.Context, endpoint, symbol string, path []string, params url.Values, out any) error {
	attempts := 0
	op := func() error {
		attempts++
		if err := c.limiter.Acquire(ctx); err != nil {
			return backoff.Permanent(err)
		}
		err := c.do(ctx, endpoint, symbol, path, params, out)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initialBackoff
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.maxRetries)), ctx)

	notify := func(err error, wait time.Duration) {
		c.log.Warnw("Feed request failed, retrying",
			logger.FieldEndpoint, endpoint,
			logger.FieldSymbol, symbol,
			logger.FieldAttempt, attempts,
			logger.FieldHTTPStatus, StatusOf(err),
			logger.FieldWait, wait.String(),
			logger.FieldError, err,
		)
	}

	err := backoff.RetryNotify(op, policy, notify)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return errors.Wrapf(err, "feed %s %s cancelled", endpoint, symbol)
	}
	return errors.Mark(errors.Wrapf(err, "feed %s %s failed after %d attempt(s)", endpoint, symbol, attempts), ErrRequestFailed)
}

// do performs a single attempt and records it
func (c *PolygonClient) do(ctx context.Context, endpoint, symbol string, path []string, params url.Values, out any) error {
	u := c.base.JoinPath(path...)
	q := url.Values{}
	for k, v := range params {
		q[k] = v
	}
	q.Set("apiKey", c.apiKey)
	u.RawQuery = q.Encode()

	call := budget.Call{Endpoint: endpoint, Symbol: symbol, CalledAt: c.now()}
	defer func() {
		call.Duration = c.now().Sub(call.CalledAt)
		c.record(ctx, call)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		call.Err = err.Error()
		return errors.Wrapf(err, "build %s request", endpoint)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		call.Err = err.Error()
		return errors.Wrapf(err, "feed %s", endpoint)
	}
	defer resp.Body.Close()
	call.StatusCode = resp.StatusCode

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		reqErr := &RequestError{
			Status:   resp.StatusCode,
			Endpoint: endpoint,
			Message:  errorMessage(resp.Body),
		}
		call.Err = reqErr.Error()
		return reqErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		call.Err = err.Error()
		return errors.Wrapf(err, "decode %s response", endpoint)
	}
	call.Success = true
	return nil
}

func (c *PolygonClient) record(ctx context.Context, call budget.Call) {
	// the ledger keeps cancelled attempts too
	ctx = context.WithoutCancel(ctx)
	for _, r := range c.recorders {
		if err := r.Record(ctx, call); err != nil {
			c.log.Warnw("Failed to record feed call", logger.FieldEndpoint, call.Endpoint, logger.FieldError, err)
		}
	}
}

// errorMessage extracts the feed's error text from a failed response body
func errorMessage(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, maxErrorBody))
	if err != nil || len(raw) == 0 {
		return ""
	}
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &payload) == nil {
		if payload.Error != "" {
			return payload.Error
		}
		return payload.Message
	}
	return ""
}

// cursorFrom pulls the pagination cursor out of a next_url
func cursorFrom(nextURL string) string {
	if nextURL == "" {
		return ""
	}
	u, err := url.Parse(nextURL)
	if err != nil {
		return ""
	}
	return u.Query().Get("cursor")
}

func parseDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil
	}
	return &t
}

// flexInt accepts a JSON number or a numeric string; anything else decodes as 0
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		*f = 0
		return nil
	}
	*f = flexInt(n)
	return nil
}
