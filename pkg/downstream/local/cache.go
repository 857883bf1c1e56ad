package local

import (
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/zhenghaven/ModularDNS/pkg/downstream"
	"github.com/zhenghaven/ModularDNS/pkg/handler"
	"github.com/zhenghaven/ModularDNS/pkg/msgentry"
	"github.com/zhenghaven/ModularDNS/pkg/recstack"
)

// DefaultCacheTTL is used when no answer entry carries a TTL,
// matching CacheItem's defaultTTL=3600.0.
const DefaultCacheTTL = 3600

// CacheItem is one stored cache entry: the entries it would return,
// the wall-clock time it expires, matching CacheItem.py's ttl
// computation (min of the answers' TTLs, or defaultTTL if none
// carried a TTL — every AnswerRecord here always does, but the
// minimum-of-zero case is guarded against below all the same).
type CacheItem struct {
	Answers    []msgentry.AnswerRecord
	Additional []msgentry.AdditionalRecord
	expiresAt  time.Time
}

// NewCacheItem wraps resp with its effective TTL, matching
// CacheItem.__init__.
func NewCacheItem(answers []msgentry.AnswerRecord, additional []msgentry.AdditionalRecord, defaultTTL uint32, now time.Time) CacheItem {
	ttl := defaultTTL
	if ttl == 0 {
		ttl = DefaultCacheTTL
	}
	minTTL := uint32(0)
	found := false
	for _, a := range answers {
		if !found || a.TTL < minTTL {
			minTTL = a.TTL
			found = true
		}
	}
	if found {
		ttl = minTTL
	}
	return CacheItem{
		Answers:    answers,
		Additional: additional,
		expiresAt:  now.Add(time.Duration(ttl) * time.Second),
	}
}

func (c CacheItem) expired(now time.Time) bool {
	return !now.Before(c.expiresAt)
}

// cacheKey fingerprints a question for both the storage map and the
// singleflight dedup group, hashed with xxhash the way
// semihalev-sdns/cache.Key fingerprints its own question keys.
func cacheKey(q msgentry.Question) uint64 {
	fp := q.Name + "\x00" + strconv.Itoa(int(q.Qtype)) + "\x00" + strconv.Itoa(int(q.Qclass))
	return xxhash.Sum64String(fp)
}

// Cache is a question-keyed, at-most-one-entry cache in front of a
// fallback QuestionHandler, matching Cache.py. Concurrent misses on
// the same fingerprint are collapsed into one fallback call via
// golang.org/x/sync/singleflight, grounded on the teacher's
// plugin/executable/cache use of the same package for its lazy-
// refresh path.
type Cache struct {
	handler.Base

	fallback   handler.QuestionHandler
	defaultTTL uint32

	mu    sync.RWMutex
	items map[uint64]CacheItem

	group singleflight.Group

	hitTotal  prometheus.Counter
	missTotal prometheus.Counter
}

// CacheConfig matches Local.Cache's FromConfig options.
type CacheConfig struct {
	Fallback   string // "s:<name>" reference
	DefaultTTL uint32
}

// CacheFromConfig resolves the fallback reference and builds a Cache,
// matching Cache.FromConfig.
func CacheFromConfig(dc *downstream.Collection, cfg CacheConfig, logger *zap.Logger, reg prometheus.Registerer) (*Cache, error) {
	fallback, err := dc.GetHandlerByQuestion(cfg.Fallback)
	if err != nil {
		return nil, err
	}
	return NewCache(fallback, cfg.DefaultTTL, logger, reg), nil
}

// NewCache constructs a Cache in front of fallback.
func NewCache(fallback handler.QuestionHandler, defaultTTL uint32, logger *zap.Logger, reg prometheus.Registerer) *Cache {
	c := &Cache{
		Base:       handler.NewBase("Cache", logger),
		fallback:   fallback,
		defaultTTL: defaultTTL,
		items:      make(map[uint64]CacheItem),
		hitTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "modulardns_cache_hit_total",
			Help: "Number of Cache lookups served from the cache.",
		}),
		missTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "modulardns_cache_miss_total",
			Help: "Number of Cache lookups that invoked the fallback handler.",
		}),
	}
	if reg != nil {
		reg.MustRegister(c.hitTotal, c.missTotal)
	}
	return c
}

type cacheResult struct {
	answers    []msgentry.AnswerRecord
	additional []msgentry.AdditionalRecord
}

// HandleQuestion returns a cached copy on hit; on miss it delegates
// to fallback (deduplicated per fingerprint), stores the result
// (last-write-wins), and returns a copy. Fallback errors are never
// cached, matching the Design Note decision in SPEC_FULL.md.
func (c *Cache) HandleQuestion(q msgentry.Question, senderAddr net.Addr, stack recstack.Stack) ([]msgentry.AnswerRecord, []msgentry.AdditionalRecord, error) {
	stack, err := c.CheckRecursionDepth(stack, "HandleQuestion")
	if err != nil {
		return nil, nil, err
	}

	key := cacheKey(q)
	now := time.Now()

	if item, ok := c.lookup(key, now); ok {
		c.hitTotal.Inc()
		return copyAnswers(item.Answers), copyAdditional(item.Additional), nil
	}

	c.missTotal.Inc()
	v, err, _ := c.group.Do(strconv.FormatUint(key, 16), func() (any, error) {
		// Re-check under the singleflight group in case another
		// caller already populated the entry while we queued.
		if item, ok := c.lookup(key, time.Now()); ok {
			return cacheResult{answers: item.Answers, additional: item.Additional}, nil
		}

		answers, additional, err := c.fallback.HandleQuestion(q, senderAddr, stack)
		if err != nil {
			return nil, err
		}

		item := NewCacheItem(answers, additional, c.defaultTTL, time.Now())
		c.mu.Lock()
		c.items[key] = item
		c.mu.Unlock()

		return cacheResult{answers: answers, additional: additional}, nil
	})
	if err != nil {
		return nil, nil, err
	}
	res := v.(cacheResult)
	return copyAnswers(res.answers), copyAdditional(res.additional), nil
}

func (c *Cache) lookup(key uint64, now time.Time) (CacheItem, bool) {
	c.mu.RLock()
	item, ok := c.items[key]
	c.mu.RUnlock()
	if !ok {
		return CacheItem{}, false
	}
	if item.expired(now) {
		c.mu.Lock()
		if cur, stillOk := c.items[key]; stillOk && cur.expired(time.Now()) {
			delete(c.items, key)
		}
		c.mu.Unlock()
		return CacheItem{}, false
	}
	return item, true
}

func (c *Cache) Terminate() {}

func copyAnswers(in []msgentry.AnswerRecord) []msgentry.AnswerRecord {
	out := make([]msgentry.AnswerRecord, len(in))
	copy(out, in)
	return out
}

func copyAdditional(in []msgentry.AdditionalRecord) []msgentry.AdditionalRecord {
	out := make([]msgentry.AdditionalRecord, len(in))
	copy(out, in)
	return out
}
