package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"signal-edge/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

const (
	keyPrefix      = "rsistats:report:"
	ReportsChannel = "rsistats:reports"

	defaultTTL       = 24 * time.Hour
	defaultMaxBuffer = 256
)

// Config configures the report cache.
type Config struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
	TTL      time.Duration // report expiry, default 24h
}

// Cache stores finished reports keyed by dataset+plan fingerprint and
// announces each stored report on ReportsChannel. Calls go through a
// circuit breaker; puts rejected while the breaker is open are buffered
// and replayed once it closes.
type Cache struct {
	client *goredis.Client
	cb     *CircuitBreaker
	ttl    time.Duration

	mu      sync.Mutex
	pending map[string]*model.Report
	order   []string
	maxBuf  int

	// Callbacks (optional)
	OnBuffer func(pending int) // a put was buffered; called under the buffer lock
	OnFlush  func(count int)   // buffered puts were replayed
}

// New connects to Redis, pings it and returns a cache.
func New(cfg Config) (*Cache, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return NewWithClient(client, NewCircuitBreaker(5, 10*time.Second), cfg.TTL), nil
}

// NewWithClient wraps an existing client. ttl <= 0 uses 24h.
func NewWithClient(client *goredis.Client, cb *CircuitBreaker, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	c := &Cache{
		client:  client,
		cb:      cb,
		ttl:     ttl,
		pending: make(map[string]*model.Report),
		maxBuf:  defaultMaxBuffer,
	}

	prev := cb.OnStateChange
	cb.OnStateChange = func(from, to State) {
		if prev != nil {
			prev(from, to)
		}
		if to == StateClosed {
			go c.Flush(context.Background())
		}
	}
	return c
}

// Client returns the underlying Redis client for health checks.
func (c *Cache) Client() *goredis.Client { return c.client }

// Breaker returns the circuit breaker guarding Redis calls.
func (c *Cache) Breaker() *CircuitBreaker { return c.cb }

// ReportKey returns the Redis key for a fingerprint.
func ReportKey(fingerprint string) string {
	return keyPrefix + fingerprint
}

// Get returns the cached report for fingerprint, or nil, nil on a miss.
func (c *Cache) Get(ctx context.Context, fingerprint string) (*model.Report, error) {
	var data []byte
	err := c.cb.Execute(func() error {
		b, err := c.client.Get(ctx, ReportKey(fingerprint)).Bytes()
		if errors.Is(err, goredis.Nil) {
			return nil
		}
		data = b
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("redis get report: %w", err)
	}
	if data == nil {
		return nil, nil
	}

	var report model.Report
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("decode cached report: %w", err)
	}
	return &report, nil
}

// Put stores report under fingerprint with the cache TTL and publishes a
// summary. While the breaker is open the put is buffered and Put returns nil.
func (c *Cache) Put(ctx context.Context, fingerprint string, report *model.Report) error {
	err := c.cb.Execute(func() error {
		return c.write(ctx, fingerprint, report)
	})
	if errors.Is(err, ErrCircuitOpen) {
		c.buffer(fingerprint, report)
		return nil
	}
	return err
}

func (c *Cache) write(ctx context.Context, fingerprint string, report *model.Report) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if err := c.client.Set(ctx, ReportKey(fingerprint), string(data), c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set report: %w", err)
	}
	msg, err := SummaryMessage(fingerprint, report)
	if err != nil {
		return err
	}
	if err := c.client.Publish(ctx, ReportsChannel, msg).Err(); err != nil {
		return fmt.Errorf("redis publish report: %w", err)
	}
	return nil
}

func (c *Cache) buffer(fingerprint string, report *model.Report) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.pending[fingerprint]; !ok {
		if len(c.order) >= c.maxBuf {
			// Buffer full: drop oldest
			delete(c.pending, c.order[0])
			c.order = c.order[1:]
		}
		c.order = append(c.order, fingerprint)
	}
	c.pending[fingerprint] = report

	if c.OnBuffer != nil {
		c.OnBuffer(len(c.order))
	}
}

// Flush replays buffered puts. Puts that fail again are dropped and logged.
func (c *Cache) Flush(ctx context.Context) int {
	c.mu.Lock()
	if len(c.order) == 0 {
		c.mu.Unlock()
		return 0
	}
	order, pending := c.order, c.pending
	c.order = nil
	c.pending = make(map[string]*model.Report)
	c.mu.Unlock()

	flushed := 0
	for _, fp := range order {
		if err := c.write(ctx, fp, pending[fp]); err != nil {
			log.Printf("[redis] flush %s failed: %v", fp, err)
			continue
		}
		flushed++
	}

	log.Printf("[redis] flushed %d buffered reports", flushed)
	if c.OnFlush != nil {
		c.OnFlush(flushed)
	}
	return flushed
}

// PendingCount returns the number of buffered puts.
func (c *Cache) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.order)
}

// Summary is the message published on ReportsChannel.
type Summary struct {
	Fingerprint string    `json:"fingerprint"`
	Timeframe   string    `json:"timeframe"`
	Symbol      string    `json:"symbol,omitempty"`
	GeneratedAt time.Time `json:"generated_at"`
	Combos      int       `json:"combos"`
	Failed      int       `json:"failed"`
	BestCombo   string    `json:"best_combo,omitempty"`
	BestHorizon int       `json:"best_horizon,omitempty"`
	BestAdv     float64   `json:"best_advantage,omitempty"`
}

// SummaryMessage builds the JSON summary published for report.
func SummaryMessage(fingerprint string, report *model.Report) (string, error) {
	s := Summary{
		Fingerprint: fingerprint,
		Timeframe:   report.Timeframe,
		Symbol:      report.Symbol,
		GeneratedAt: report.GeneratedAt,
		Combos:      len(report.Results),
		Failed:      len(report.Failures),
	}
	found := false
	for _, k := range report.Keys() {
		res := report.Results[k]
		if v, n, ok := res.BestAdvantage(); ok && (!found || v > s.BestAdv) {
			s.BestCombo, s.BestHorizon, s.BestAdv, found = k.String(), n, v, true
		}
	}
	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("encode summary: %w", err)
	}
	return string(data), nil
}

// Close closes the Redis client.
func (c *Cache) Close() error {
	return c.client.Close()
}
