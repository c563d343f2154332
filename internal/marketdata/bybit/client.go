// Package bybit downloads historical OHLCV bars from the Bybit v5 public
// market API.
package bybit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"signal-edge/internal/dataset"
	"signal-edge/internal/model"
)

const (
	DefaultBaseURL = "https://api.bybit.com"
	klinePath      = "/v5/market/kline"

	// PageLimit is the maximum number of klines Bybit returns per request.
	PageLimit = 1000
	// DefaultWindow is the span requested per history window.
	DefaultWindow = 31 * 24 * time.Hour
	// DefaultPace is the minimum spacing between requests.
	DefaultPace = 1200 * time.Millisecond
)

// ErrUnsupportedTimeframe is returned for timeframe labels without a Bybit
// interval.
var ErrUnsupportedTimeframe = errors.New("bybit: unsupported timeframe")

// DefaultStart is the first day fetched when no earlier data exists.
var DefaultStart = time.Date(2022, 7, 1, 0, 0, 0, 0, time.UTC)

var intervals = map[string]string{
	"1m":  "1",
	"3m":  "3",
	"5m":  "5",
	"15m": "15",
	"30m": "30",
	"1h":  "60",
	"2h":  "120",
	"4h":  "240",
	"6h":  "360",
	"12h": "720",
	"1d":  "D",
	"1w":  "W",
	"1M":  "M",
}

// Interval maps a timeframe label such as "15m" to the Bybit interval code.
func Interval(tf string) (string, error) {
	iv, ok := intervals[tf]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedTimeframe, tf)
	}
	return iv, nil
}

// Symbol converts "BTC/USDT" to the exchange form "BTCUSDT".
func Symbol(s string) string {
	return strings.ToUpper(strings.ReplaceAll(s, "/", ""))
}

// Client fetches klines. It is safe for concurrent use; all requests share
// one pacing limiter.
type Client struct {
	baseURL  string
	category string
	window   time.Duration
	http     *http.Client
	limiter  *rate.Limiter
	log      *slog.Logger

	// OnPage, if set, is called with the number of bars in each page.
	OnPage func(n int)
}

// NewClient creates a spot-market client against baseURL (DefaultBaseURL
// when empty).
func NewClient(baseURL string, log *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		category: "spot",
		window:   DefaultWindow,
		http:     &http.Client{Timeout: 15 * time.Second},
		limiter:  rate.NewLimiter(rate.Every(DefaultPace), 1),
		log:      log,
	}
}

// WithCategory selects the product category ("spot", "linear", "inverse").
func (c *Client) WithCategory(category string) *Client {
	c.category = category
	return c
}

// WithPace overrides the minimum spacing between requests.
func (c *Client) WithPace(every time.Duration) *Client {
	c.limiter = rate.NewLimiter(rate.Every(every), 1)
	return c
}

// WithWindow overrides the span requested per history window.
func (c *Client) WithWindow(d time.Duration) *Client {
	if d > 0 {
		c.window = d
	}
	return c
}

type klineResponse struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		Symbol string     `json:"symbol"`
		List   [][]string `json:"list"`
	} `json:"result"`
}

// History downloads [from, to) window by window and returns the merged,
// normalized series.
func (c *Client) History(ctx context.Context, symbol, tf string, from, to time.Time) (model.Series, dataset.NormalizeStats, error) {
	iv, err := Interval(tf)
	if err != nil {
		return nil, dataset.NormalizeStats{}, err
	}
	sym := Symbol(symbol)

	var all model.Series
	for start := from; start.Before(to); start = start.Add(c.window) {
		end := start.Add(c.window)
		if end.After(to) {
			end = to
		}
		bars, err := c.fetchWindow(ctx, sym, iv, start, end)
		if err != nil {
			return nil, dataset.NormalizeStats{}, fmt.Errorf("%s %s %s..%s: %w",
				sym, tf, start.Format(time.DateOnly), end.Format(time.DateOnly), err)
		}
		c.log.Debug("window fetched", "symbol", sym, "tf", tf,
			"start", start.Format(time.DateOnly), "bars", len(bars))
		all = append(all, bars...)
	}

	out, stats := dataset.Normalize(all)
	return out, stats, nil
}

// fetchWindow fetches [start, end) by walking newest-first pages backwards.
func (c *Client) fetchWindow(ctx context.Context, sym, iv string, start, end time.Time) (model.Series, error) {
	startMs := start.UnixMilli()
	endMs := end.UnixMilli() - 1

	var out model.Series
	for endMs >= startMs {
		page, err := c.Klines(ctx, sym, iv, startMs, endMs, PageLimit)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(page) < PageLimit {
			break
		}
		// page is chronological; step below its oldest bar.
		endMs = page[0].TS.UnixMilli() - 1
	}
	return out, nil
}

// Klines performs one request and returns the page in chronological order.
// startMs and endMs are inclusive unix milliseconds.
func (c *Client) Klines(ctx context.Context, sym, interval string, startMs, endMs int64, limit int) (model.Series, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("category", c.category)
	q.Set("symbol", sym)
	q.Set("interval", interval)
	q.Set("start", strconv.FormatInt(startMs, 10))
	q.Set("end", strconv.FormatInt(endMs, 10))
	q.Set("limit", strconv.Itoa(limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+klinePath+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("kline request failed: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var data klineResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("decode kline response: %w", err)
	}
	if data.RetCode != 0 {
		return nil, fmt.Errorf("kline request rejected: %d %s", data.RetCode, data.RetMsg)
	}

	bars, err := parseList(data.Result.List)
	if err != nil {
		return nil, err
	}
	if c.OnPage != nil {
		c.OnPage(len(bars))
	}
	return bars, nil
}

// parseList converts newest-first [start, open, high, low, close, volume,
// turnover] rows into a chronological series.
func parseList(list [][]string) (model.Series, error) {
	out := make(model.Series, 0, len(list))
	for i := len(list) - 1; i >= 0; i-- {
		row := list[i]
		if len(row) < 6 {
			return nil, fmt.Errorf("kline row %d has %d fields", i, len(row))
		}
		ms, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("kline row %d: start time %q", i, row[0])
		}
		var v [5]float64
		for k := range v {
			if v[k], err = strconv.ParseFloat(row[k+1], 64); err != nil {
				return nil, fmt.Errorf("kline row %d: field %d %q", i, k+1, row[k+1])
			}
		}
		out = append(out, model.Bar{
			TS:     time.UnixMilli(ms).UTC(),
			Open:   v[0],
			High:   v[1],
			Low:    v[2],
			Close:  v[3],
			Volume: v[4],
		})
	}
	return out, nil
}
