// Package session holds in-flight signing sessions between the hash
// issuance and the signature receipt.
//
// Sessions live only in memory: a process restart invalidates them all
// and clients restart the flow. The store is sharded 16 ways by an FNV
// hash of the session id, each shard guarded by its own mutex with an
// LRU list for overflow eviction. A background reaper sweeps expired
// entries every sweep interval.
package session

import (
	"container/list"
	"errors"
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"geocamd/internal/codec"
)

// Defaults mirror the service limits.
const (
	DefaultTTL           = 10 * time.Minute
	DefaultMaxSessions   = 1024
	DefaultSweepInterval = 60 * time.Second

	shardCount = 16
)

// Errors
var (
	ErrUnknownSession = errors.New("session: unknown session id")
	ErrSessionExpired = errors.New("session: session expired")
)

// Session is one pending two-phase signing exchange.
type Session struct {
	ID           string
	Raster       *codec.Raster
	PublicKeyB64 string
	HashHex      string
	OriginalSize int
	CreatedAt    time.Time
}

// NewID allocates an opaque 128-bit session identifier.
func NewID() string {
	return uuid.NewString()
}

// Config tunes the store. Zero values fall back to the defaults above.
type Config struct {
	TTL           time.Duration
	MaxSessions   int
	SweepInterval time.Duration
	Logger        *slog.Logger

	// OnEvict, when set, is called once per session evicted for
	// capacity. OnExpire, when set, is called after each sweep with
	// the number of expired sessions removed.
	OnEvict  func()
	OnExpire func(n int)

	// Now overrides the clock, for tests.
	Now func() time.Time
}

type entry struct {
	session *Session
	elem    *list.Element // position in the shard's LRU list
}

type shard struct {
	mu       sync.Mutex
	sessions map[string]*entry
	order    *list.List // front = oldest
}

// Store is the sharded session map.
type Store struct {
	cfg    Config
	shards [shardCount]*shard
	count  atomic.Int64
	done   chan struct{}
	wg     sync.WaitGroup
}

// New creates a store and starts its reaper goroutine.
func New(cfg Config) *Store {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = DefaultMaxSessions
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	s := &Store{cfg: cfg, done: make(chan struct{})}
	for i := range s.shards {
		s.shards[i] = &shard{
			sessions: make(map[string]*entry),
			order:    list.New(),
		}
	}
	s.wg.Add(1)
	go s.reap()
	return s
}

// Close stops the reaper. Pending sessions are discarded.
func (s *Store) Close() {
	close(s.done)
	s.wg.Wait()
}

func (s *Store) shardFor(id string) *shard {
	h := fnv.New32a()
	h.Write([]byte(id))
	return s.shards[h.Sum32()%shardCount]
}

// Put stores a session. While the store is at capacity the globally
// oldest entry is evicted first, whichever shard holds it.
func (s *Store) Put(sess *Session) {
	for int(s.count.Load()) >= s.cfg.MaxSessions {
		if !s.evictOldest() {
			break
		}
	}

	sh := s.shardFor(sess.ID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if old, ok := sh.sessions[sess.ID]; ok {
		sh.order.Remove(old.elem)
		s.count.Add(-1)
	}
	elem := sh.order.PushBack(sess)
	sh.sessions[sess.ID] = &entry{session: sess, elem: elem}
	s.count.Add(1)
}

// evictOldest drops the session with the earliest creation time across
// all shards and reports whether anything was removed. Shards are
// locked one at a time, so a concurrent Take can beat the second lock;
// the entry then at the victim shard's front is still among the oldest
// and is removed instead.
func (s *Store) evictOldest() bool {
	var (
		victim *shard
		oldest time.Time
	)
	for _, sh := range s.shards {
		sh.mu.Lock()
		if front := sh.order.Front(); front != nil {
			created := front.Value.(*Session).CreatedAt
			if victim == nil || created.Before(oldest) {
				victim = sh
				oldest = created
			}
		}
		sh.mu.Unlock()
	}
	if victim == nil {
		return false
	}

	victim.mu.Lock()
	front := victim.order.Front()
	if front == nil {
		victim.mu.Unlock()
		return false
	}
	sess := front.Value.(*Session)
	victim.order.Remove(front)
	delete(victim.sessions, sess.ID)
	s.count.Add(-1)
	victim.mu.Unlock()

	s.cfg.Logger.Warn("session store full, evicted oldest session",
		"evicted_id", sess.ID, "max_sessions", s.cfg.MaxSessions)
	if s.cfg.OnEvict != nil {
		s.cfg.OnEvict()
	}
	return true
}

// Take removes and returns the session, enforcing consume-once
// semantics. Expired sessions are removed and reported as such.
func (s *Store) Take(id string) (*Session, error) {
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.sessions[id]
	if !ok {
		return nil, ErrUnknownSession
	}
	sh.order.Remove(e.elem)
	delete(sh.sessions, id)
	s.count.Add(-1)

	if s.cfg.Now().Sub(e.session.CreatedAt) > s.cfg.TTL {
		return nil, ErrSessionExpired
	}
	return e.session, nil
}

// Abandon drops a session without completing it.
func (s *Store) Abandon(id string) bool {
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.sessions[id]
	if !ok {
		return false
	}
	sh.order.Remove(e.elem)
	delete(sh.sessions, id)
	s.count.Add(-1)
	return true
}

// Len reports the number of stored sessions.
func (s *Store) Len() int {
	return int(s.count.Load())
}

// reap sweeps expired sessions until Close.
func (s *Store) reap() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Sweep removes every expired session and returns how many it dropped.
func (s *Store) Sweep() int {
	cutoff := s.cfg.Now().Add(-s.cfg.TTL)
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for e := sh.order.Front(); e != nil; {
			next := e.Next()
			sess := e.Value.(*Session)
			if sess.CreatedAt.After(cutoff) {
				break // list is insertion-ordered, the rest are newer
			}
			sh.order.Remove(e)
			delete(sh.sessions, sess.ID)
			s.count.Add(-1)
			removed++
			e = next
		}
		sh.mu.Unlock()
	}
	if removed > 0 {
		s.cfg.Logger.Debug("swept expired sessions", "removed", removed)
		if s.cfg.OnExpire != nil {
			s.cfg.OnExpire(removed)
		}
	}
	return removed
}
