package bybit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"
)

// fakeKlines serves one-minute bars for any [start, end] range, newest
// first and capped at limit, the way the real endpoint pages.
func fakeKlines(t *testing.T, calls *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		if r.URL.Path != "/v5/market/kline" {
			http.NotFound(w, r)
			return
		}
		q := r.URL.Query()
		if q.Get("symbol") != "BTCUSDT" || q.Get("interval") != "1" || q.Get("category") != "spot" {
			t.Errorf("unexpected query: %s", r.URL.RawQuery)
		}
		start, _ := strconv.ParseInt(q.Get("start"), 10, 64)
		end, _ := strconv.ParseInt(q.Get("end"), 10, 64)
		limit, _ := strconv.Atoi(q.Get("limit"))

		const step = int64(time.Minute / time.Millisecond)
		first := (start + step - 1) / step * step
		var rows []string
		for ts := end / step * step; ts >= first && len(rows) < limit; ts -= step {
			p := float64(ts/step%1000) + 100
			rows = append(rows, fmt.Sprintf(`["%d","%g","%g","%g","%g","1.5","0"]`, ts, p, p+1, p-1, p+0.5))
		}
		body := `{"retCode":0,"retMsg":"OK","result":{"symbol":"BTCUSDT","list":[`
		for i, r := range rows {
			if i > 0 {
				body += ","
			}
			body += r
		}
		body += `]}}`
		w.Write([]byte(body))
	}))
}

func TestInterval(t *testing.T) {
	cases := map[string]string{"1m": "1", "15m": "15", "1h": "60", "12h": "720", "1d": "D", "1w": "W", "1M": "M"}
	for tf, want := range cases {
		if got, err := Interval(tf); err != nil || got != want {
			t.Errorf("Interval(%q) = %q, %v; want %q", tf, got, err, want)
		}
	}
	if _, err := Interval("7m"); !errors.Is(err, ErrUnsupportedTimeframe) {
		t.Errorf("Interval(7m) err = %v", err)
	}
}

func TestSymbol(t *testing.T) {
	if got := Symbol("btc/usdt"); got != "BTCUSDT" {
		t.Errorf("Symbol = %q", got)
	}
}

func TestHistory_PagesAndWindows(t *testing.T) {
	var calls int32
	srv := fakeKlines(t, &calls)
	defer srv.Close()

	var pages int
	c := NewClient(srv.URL, nil).WithPace(time.Millisecond).WithWindow(24 * time.Hour)
	c.OnPage = func(n int) { pages++ }

	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(36 * time.Hour)
	s, stats, err := c.History(context.Background(), "BTC/USDT", "1m", from, to)
	if err != nil {
		t.Fatalf("History: %v", err)
	}

	want := int(to.Sub(from) / time.Minute)
	if len(s) != want {
		t.Fatalf("bars = %d, want %d", len(s), want)
	}
	if stats.Duplicates != 0 || stats.Dropped != 0 {
		t.Errorf("unexpected normalize stats %+v", stats)
	}
	if !s[0].TS.Equal(from) || !s[len(s)-1].TS.Equal(to.Add(-time.Minute)) {
		t.Errorf("span = %v..%v", s[0].TS, s[len(s)-1].TS)
	}
	for i := 1; i < len(s); i++ {
		if s[i].TS.Sub(s[i-1].TS) != time.Minute {
			t.Fatalf("gap at %d: %v -> %v", i, s[i-1].TS, s[i].TS)
		}
	}
	if s[0].High != s[0].Open+1 || s[0].Close != s[0].Open+0.5 || s[0].Volume != 1.5 {
		t.Errorf("bar fields = %+v", s[0])
	}
	// Day one is 1440 bars (two pages), day two half a day (one page).
	if n := atomic.LoadInt32(&calls); n != 3 || pages != 3 {
		t.Errorf("calls = %d pages = %d, want 3", n, pages)
	}
}

func TestHistory_UnsupportedTimeframe(t *testing.T) {
	c := NewClient("http://127.0.0.1:0", nil)
	_, _, err := c.History(context.Background(), "BTC/USDT", "7m", time.Now().Add(-time.Hour), time.Now())
	if !errors.Is(err, ErrUnsupportedTimeframe) {
		t.Errorf("err = %v", err)
	}
}

func TestKlines_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"retCode":10001,"retMsg":"params error","result":{}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil).WithPace(time.Millisecond)
	if _, err := c.Klines(context.Background(), "BTCUSDT", "1", 0, 1, 10); err == nil {
		t.Error("expected error for non-zero retCode")
	}
}

func TestKlines_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil).WithPace(time.Millisecond)
	if _, err := c.Klines(context.Background(), "BTCUSDT", "1", 0, 1, 10); err == nil {
		t.Error("expected error for HTTP 429")
	}
}

func TestKlines_Cancelled(t *testing.T) {
	c := NewClient("http://127.0.0.1:0", nil).WithPace(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	// First Wait consumes the burst token.
	c.limiter.Wait(ctx)
	cancel()
	if _, err := c.Klines(ctx, "BTCUSDT", "1", 0, 1, 10); err == nil {
		t.Error("expected error when cancelled while paced")
	}
}

func TestParseList(t *testing.T) {
	s, err := parseList([][]string{
		{"120000", "2", "3", "1", "2.5", "10", "0"},
		{"60000", "1", "2", "0.5", "1.5", "5", "0"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(s) != 2 || s[0].TS.UnixMilli() != 60000 || s[1].Close != 2.5 {
		t.Errorf("parsed = %+v", s)
	}
	if _, err := parseList([][]string{{"1", "x", "1", "1", "1", "1"}}); err == nil {
		t.Error("expected error for bad price")
	}
	if _, err := parseList([][]string{{"1", "1"}}); err == nil {
		t.Error("expected error for short row")
	}
}
