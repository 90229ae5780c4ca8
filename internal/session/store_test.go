package session

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, cfg Config) *Store {
	t.Helper()
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = time.Hour // keep the reaper quiet in tests
	}
	s := New(cfg)
	t.Cleanup(s.Close)
	return s
}

func TestPutTake(t *testing.T) {
	s := newTestStore(t, Config{})
	sess := &Session{ID: NewID(), HashHex: "abc", CreatedAt: time.Now()}
	s.Put(sess)

	got, err := s.Take(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.HashHex, got.HashHex)
	assert.Equal(t, 0, s.Len())
}

func TestTakeConsumesExactlyOnce(t *testing.T) {
	s := newTestStore(t, Config{})
	sess := &Session{ID: NewID(), CreatedAt: time.Now()}
	s.Put(sess)

	_, err := s.Take(sess.ID)
	require.NoError(t, err)
	_, err = s.Take(sess.ID)
	assert.ErrorIs(t, err, ErrUnknownSession)
}

func TestTakeUnknown(t *testing.T) {
	s := newTestStore(t, Config{})
	_, err := s.Take("no-such-session")
	assert.ErrorIs(t, err, ErrUnknownSession)
}

func TestTakeExpired(t *testing.T) {
	now := time.Now()
	clock := &now
	var mu sync.Mutex
	s := newTestStore(t, Config{
		TTL: 10 * time.Minute,
		Now: func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			return *clock
		},
	})

	sess := &Session{ID: NewID(), CreatedAt: now}
	s.Put(sess)

	mu.Lock()
	later := now.Add(10*time.Minute + time.Second)
	clock = &later
	mu.Unlock()

	_, err := s.Take(sess.ID)
	assert.ErrorIs(t, err, ErrSessionExpired)
	assert.Equal(t, 0, s.Len(), "expired session must be removed")
}

func TestAbandon(t *testing.T) {
	s := newTestStore(t, Config{})
	sess := &Session{ID: NewID(), CreatedAt: time.Now()}
	s.Put(sess)

	assert.True(t, s.Abandon(sess.ID))
	assert.False(t, s.Abandon(sess.ID))
	_, err := s.Take(sess.ID)
	assert.ErrorIs(t, err, ErrUnknownSession)
}

func TestOverflowEvicts(t *testing.T) {
	// The ids spread across shards, so the cap must hold globally,
	// not per shard.
	evicted := 0
	s := newTestStore(t, Config{MaxSessions: 8, OnEvict: func() { evicted++ }})
	base := time.Now()
	for i := 0; i < 20; i++ {
		s.Put(&Session{ID: fmt.Sprintf("sess-%03d", i), CreatedAt: base.Add(time.Duration(i) * time.Second)})
	}
	assert.Equal(t, 8, s.Len())
	assert.Equal(t, 12, evicted)

	// Eviction is oldest-first: the last 8 inserts survive.
	for i := 12; i < 20; i++ {
		_, err := s.Take(fmt.Sprintf("sess-%03d", i))
		assert.NoError(t, err, "newest sessions must survive eviction")
	}
}

func TestSweepRemovesOnlyExpired(t *testing.T) {
	now := time.Now()
	expired := 0
	s := newTestStore(t, Config{
		TTL:      time.Minute,
		Now:      func() time.Time { return now },
		OnExpire: func(n int) { expired += n },
	})

	s.Put(&Session{ID: "old", CreatedAt: now.Add(-2 * time.Minute)})
	s.Put(&Session{ID: "fresh", CreatedAt: now})

	removed := s.Sweep()
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, expired)
	_, err := s.Take("fresh")
	assert.NoError(t, err)
}

func TestConcurrentAccess(t *testing.T) {
	s := newTestStore(t, Config{MaxSessions: 4096})
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				id := fmt.Sprintf("g%d-i%d", g, i)
				s.Put(&Session{ID: id, CreatedAt: time.Now()})
				if _, err := s.Take(id); err != nil {
					t.Errorf("Take(%s) failed: %v", id, err)
					return
				}
			}
		}(g)
	}
	wg.Wait()
	assert.Equal(t, 0, s.Len())
}

func TestNewIDIsOpaqueAndUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewID()
		require.NotEmpty(t, id)
		require.False(t, seen[id], "duplicate session id %s", id)
		seen[id] = true
	}
}
