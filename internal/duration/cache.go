package duration

import (
	"context"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/mikey-austin/summarist/internal/metrics"
	"github.com/mikey-austin/summarist/internal/ports"
	"github.com/mikey-austin/summarist/pkg/summa"
)

const (
	defaultCapacity    = 4096
	defaultConcurrency = 8
)

// CacheConfig tunes the duration cache.
type CacheConfig struct {
	// Capacity bounds the number of remembered books. Evicted entries are re-probed on demand.
	Capacity int
	// Concurrency limits parallel probes during batch resolution.
	Concurrency int
	// Timeout bounds each probe.
	Timeout time.Duration
}

// Cache memoizes probe results per book id. A nil value records that the
// book has no audio or that probing failed.
type Cache struct {
	log     *zap.Logger
	prober  ports.DurationProber
	metrics *metrics.Metrics
	config  CacheConfig
	entries *lru.Cache[string, *float64]
	group   singleflight.Group
}

// NewCache creates a cache over prober.
func NewCache(log *zap.Logger, prober ports.DurationProber, cfg CacheConfig, m *metrics.Metrics) (*Cache, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = defaultCapacity
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultProbeTimeout
	}
	entries, err := lru.New[string, *float64](cfg.Capacity)
	if err != nil {
		return nil, err
	}
	return &Cache{log: log, prober: prober, metrics: m, config: cfg, entries: entries}, nil
}

// Lookup returns the cached value without probing.
func (c *Cache) Lookup(id string) (*float64, bool) {
	return c.entries.Get(id)
}

// Len reports the number of cached entries.
func (c *Cache) Len() int {
	return c.entries.Len()
}

// Clear drops all entries.
func (c *Cache) Clear() {
	c.entries.Purge()
	c.metrics.CacheSize(0)
}

// Resolve returns the cached duration for id, probing mediaRef on a miss.
// Concurrent misses for the same id share one probe.
func (c *Cache) Resolve(ctx context.Context, id string, mediaRef string) *float64 {
	if seconds, ok := c.entries.Get(id); ok {
		return seconds
	}
	if strings.TrimSpace(mediaRef) == "" {
		c.store(id, nil)
		return nil
	}

	value, _, _ := c.group.Do(id, func() (any, error) {
		if seconds, ok := c.entries.Get(id); ok {
			return seconds, nil
		}
		started := time.Now()
		seconds, err := Probe(context.WithoutCancel(ctx), c.prober, mediaRef, c.config.Timeout)
		c.metrics.Probed(started, err)
		if err != nil {
			c.log.Warn("duration probe failed", zap.String("book_id", id), zap.Error(err))
		}
		c.store(id, seconds)
		return seconds, nil
	})
	seconds, _ := value.(*float64)
	return seconds
}

// ResolveAll probes every book with audio that is not yet cached and waits
// for all probes to settle.
func (c *Cache) ResolveAll(ctx context.Context, books []summa.Book) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.config.Concurrency)
	for _, book := range books {
		if !book.HasAudio() {
			continue
		}
		if _, ok := c.entries.Peek(book.ID); ok {
			continue
		}
		g.Go(func() error {
			c.Resolve(gctx, book.ID, book.AudioLink)
			return nil
		})
	}
	_ = g.Wait()
}

// ResolveBatch starts ResolveAll in the background and returns immediately.
// The returned channel closes once every probe has settled.
func (c *Cache) ResolveBatch(ctx context.Context, books []summa.Book) <-chan struct{} {
	done := make(chan struct{})
	snapshot := append([]summa.Book(nil), books...)
	go func() {
		defer close(done)
		c.ResolveAll(ctx, snapshot)
	}()
	return done
}

func (c *Cache) store(id string, seconds *float64) {
	c.entries.Add(id, seconds)
	c.metrics.CacheSize(c.entries.Len())
}
