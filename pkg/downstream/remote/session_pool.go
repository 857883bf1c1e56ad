package remote

import (
	"sync"
	"time"

	"github.com/miekg/dns"
	"go.uber.org/zap"

	"github.com/zhenghaven/ModularDNS/pkg/lru"
	"github.com/zhenghaven/ModularDNS/pkg/recstack"
)

// DefaultSessionTTL keeps an idle protocol session alive for 10
// minutes before it is evicted, matching
// ConcurrentMgr.MAX_SESSION_TTL.
const DefaultSessionTTL = 600 * time.Second

// SessionWarningSizeLimit matches ConcurrentMgrCache.WARNING_SIZE_LIMIT:
// a pool holding this many live sessions logs a warning, since it
// likely indicates a caller is not giving sessions back, or that far
// more concurrent callers exist than intended.
const SessionWarningSizeLimit = 500

// sessionPoolHardCap bounds the idle LRU's backing store; the teacher's
// lru.LRU requires a positive max size and silently evicts past it, so
// this is a safety net far above SessionWarningSizeLimit rather than a
// normal operating ceiling.
const sessionPoolHardCap = 1 << 16

type pooledSession struct {
	proto    Protocol
	lastUsed time.Time
}

// SessionPool lazily creates Protocol instances via newSession and
// keeps idle ones around for reuse up to ttl, matching
// ConcurrentMgr/ObjFactoryCache.py: one session serves one caller at
// a time (enforced by being checked out of the idle pool for the
// duration of a call), and callers always return what they checked
// out. The idle set is the teacher's pkg/lru.LRU, generalized here
// with a per-entry idle timestamp and swept both lazily (on Get, via
// Clean) and by ticker (StartJanitor), instead of the teacher's
// pure capacity-based eviction.
type SessionPool struct {
	newSession func() Protocol
	ttl        time.Duration
	logger     *zap.Logger

	mu      sync.Mutex
	idle    *lru.LRU[uint64, *pooledSession]
	nextKey uint64
	numLive int
	closed  bool

	stopJanitor chan struct{}
}

// NewSessionPool builds a SessionPool backed by newSession, matching
// ConcurrentMgr.__init__.
func NewSessionPool(newSession func() Protocol, ttl time.Duration, logger *zap.Logger) *SessionPool {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &SessionPool{newSession: newSession, ttl: ttl, logger: logger}
	p.idle = lru.NewLRU[uint64, *pooledSession](sessionPoolHardCap, func(_ uint64, s *pooledSession) {
		s.proto.Terminate()
		p.numLive--
	})
	return p
}

// purgeExpiredLocked drops idle sessions that have been sitting
// unused longer than ttl, the lazy-purge-on-Get half of "Housekeeping
// of session pool" (SPEC_FULL.md §4.4).
func (p *SessionPool) purgeExpiredLocked(now time.Time) {
	p.idle.Clean(func(_ uint64, s *pooledSession) bool {
		return now.Sub(s.lastUsed) > p.ttl
	})
}

// get checks out the oldest idle session, or creates a new one if the
// pool is empty, matching ObjFactoryCache.Get.
func (p *SessionPool) get() *pooledSession {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.purgeExpiredLocked(time.Now())

	if _, s, ok := p.idle.PopOldest(); ok {
		return s
	}

	p.numLive++
	if p.numLive >= SessionWarningSizeLimit {
		p.logger.Warn("number of live sessions exceeds warning limit",
			zap.Int("count", p.numLive),
			zap.Int("limit", SessionWarningSizeLimit))
	}
	return &pooledSession{proto: p.newSession()}
}

// put returns a checked-out session to the idle pool, matching
// ObjFactoryCache.Put.
func (p *SessionPool) put(s *pooledSession) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		s.proto.Terminate()
		p.numLive--
		return
	}
	s.lastUsed = time.Now()
	p.nextKey++
	p.idle.Add(p.nextKey, s)
}

// Query checks out a session, queries through it, and returns it to
// the pool regardless of outcome, matching ConcurrentMgr.Query.
func (p *SessionPool) Query(q *dns.Msg, stack recstack.Stack) (*dns.Msg, RemoteInfo, error) {
	s := p.get()
	resp, info, err := s.proto.Query(q, stack)
	p.put(s)
	return resp, info, err
}

// StartJanitor runs purgeExpiredLocked on interval until Terminate is
// called, the periodic-ticker half of "Housekeeping of session pool".
// Starting it is optional: a pool only ever queried frequently enough
// self-sweeps via get() anyway, but an idle pool needs the ticker to
// reclaim stale sessions.
func (p *SessionPool) StartJanitor(interval time.Duration) {
	p.mu.Lock()
	if p.stopJanitor != nil {
		p.mu.Unlock()
		return
	}
	p.stopJanitor = make(chan struct{})
	stop := p.stopJanitor
	p.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.mu.Lock()
				p.purgeExpiredLocked(time.Now())
				p.mu.Unlock()
			case <-stop:
				return
			}
		}
	}()
}

// Terminate releases every idle session and stops the janitor;
// sessions still checked out by an in-flight Query terminate
// themselves when returned to a closed pool, matching
// ConcurrentMgr.Terminate/ObjFactoryCache's shutdown sweep.
func (p *SessionPool) Terminate() {
	p.mu.Lock()
	p.closed = true
	if p.stopJanitor != nil {
		close(p.stopJanitor)
		p.stopJanitor = nil
	}
	for {
		if _, s, ok := p.idle.PopOldest(); ok {
			s.proto.Terminate()
			p.numLive--
		} else {
			break
		}
	}
	p.mu.Unlock()
}
