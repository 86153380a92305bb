// ABOUTME: Conformance tests run against every Store backend plus Cache key layout tests.
// ABOUTME: Redis runs only when MARKET_GATEWAY_TEST_REDIS points at a server.

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// go-redis pool reaper when the redis suite runs
		goleak.IgnoreTopFunction("github.com/redis/go-redis/v9/internal/pool.(*ConnPool).reaper"),
		goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"),
	)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type backend struct {
	name  string
	open  func(t *testing.T, clock *testClock) Store
	clock bool // whether expiry follows the test clock
}

func backends() []backend {
	bs := []backend{
		{
			name:  "memory",
			clock: true,
			open: func(t *testing.T, clock *testClock) Store {
				return NewMemory(WithMemoryClock(clock.Now))
			},
		},
		{
			name:  "sqlite",
			clock: true,
			open: func(t *testing.T, clock *testClock) Store {
				s, err := NewSQLite(filepath.Join(t.TempDir(), "cache.db"), slog.Default())
				require.NoError(t, err)
				s.now = clock.Now
				return s
			},
		},
	}
	if url := os.Getenv("MARKET_GATEWAY_TEST_REDIS"); url != "" {
		bs = append(bs, backend{
			name: "redis",
			open: func(t *testing.T, _ *testClock) Store {
				s, err := NewRedis(url, fmt.Sprintf("test:%d:", time.Now().UnixNano()))
				require.NoError(t, err)
				return s
			},
		})
	}
	return bs
}

func TestStoreConformance(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()

			t.Run("get missing key", func(t *testing.T) {
				clock := &testClock{now: time.Unix(1_700_000_000, 0)}
				s := b.open(t, clock)
				defer s.Close()

				_, err := s.Get(ctx, "absent")
				assert.True(t, errors.Is(err, ErrNotFound))
			})

			t.Run("set then get", func(t *testing.T) {
				clock := &testClock{now: time.Unix(1_700_000_000, 0)}
				s := b.open(t, clock)
				defer s.Close()

				require.NoError(t, s.Set(ctx, "k", []byte("v1"), time.Hour))
				got, err := s.Get(ctx, "k")
				require.NoError(t, err)
				assert.Equal(t, []byte("v1"), got)

				require.NoError(t, s.Set(ctx, "k", []byte("v2"), time.Hour))
				got, err = s.Get(ctx, "k")
				require.NoError(t, err)
				assert.Equal(t, []byte("v2"), got)
			})

			t.Run("setnx only writes once", func(t *testing.T) {
				clock := &testClock{now: time.Unix(1_700_000_000, 0)}
				s := b.open(t, clock)
				defer s.Close()

				ok, err := s.SetNX(ctx, "msg", []byte("1"), time.Hour)
				require.NoError(t, err)
				assert.True(t, ok)

				ok, err = s.SetNX(ctx, "msg", []byte("2"), time.Hour)
				require.NoError(t, err)
				assert.False(t, ok)

				got, err := s.Get(ctx, "msg")
				require.NoError(t, err)
				assert.Equal(t, []byte("1"), got)
			})

			t.Run("ping", func(t *testing.T) {
				clock := &testClock{now: time.Unix(1_700_000_000, 0)}
				s := b.open(t, clock)
				defer s.Close()
				assert.NoError(t, s.Ping(ctx))
			})

			if !b.clock {
				return
			}

			t.Run("entries expire", func(t *testing.T) {
				clock := &testClock{now: time.Unix(1_700_000_000, 0)}
				s := b.open(t, clock)
				defer s.Close()

				require.NoError(t, s.Set(ctx, "k", []byte("v"), time.Hour))
				clock.Advance(59 * time.Minute)
				_, err := s.Get(ctx, "k")
				require.NoError(t, err)

				clock.Advance(2 * time.Minute)
				_, err = s.Get(ctx, "k")
				assert.True(t, errors.Is(err, ErrNotFound))
			})

			t.Run("setnx succeeds after expiry", func(t *testing.T) {
				clock := &testClock{now: time.Unix(1_700_000_000, 0)}
				s := b.open(t, clock)
				defer s.Close()

				ok, err := s.SetNX(ctx, "msg", []byte("1"), time.Minute)
				require.NoError(t, err)
				require.True(t, ok)

				clock.Advance(2 * time.Minute)
				ok, err = s.SetNX(ctx, "msg", []byte("2"), time.Minute)
				require.NoError(t, err)
				assert.True(t, ok)
			})
		})
	}
}

func TestMemoryEviction(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(WithMaxEntries(3))
	defer m.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, m.Set(ctx, fmt.Sprintf("k%d", i), []byte("v"), time.Hour))
	}
	assert.Equal(t, 3, m.Len())

	_, err := m.Get(ctx, "k0")
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = m.Get(ctx, "k4")
	assert.NoError(t, err)
}

func TestMemoryRemoveExpired(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{now: time.Unix(1_700_000_000, 0)}
	m := NewMemory(WithMemoryClock(clock.Now))
	defer m.Close()

	require.NoError(t, m.Set(ctx, "short", []byte("v"), time.Second))
	require.NoError(t, m.Set(ctx, "long", []byte("v"), time.Hour))
	clock.Advance(time.Minute)

	m.removeExpired()
	assert.Equal(t, 1, m.Len())
}

func TestMemoryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	defer m.Close()

	value := []byte("abc")
	require.NoError(t, m.Set(ctx, "k", value, time.Hour))
	value[0] = 'x'

	got, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)
}

func TestMemoryCloseIdempotent(t *testing.T) {
	m := NewMemory()
	assert.NoError(t, m.Close())
	assert.NoError(t, m.Close())
}

func TestMemorySetNXConcurrent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	defer m.Close()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := m.SetNX(ctx, "same", []byte("x"), time.Hour); ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestSQLitePurge(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{now: time.Unix(1_700_000_000, 0)}
	s, err := NewSQLite(filepath.Join(t.TempDir(), "nested", "cache.db"), slog.Default())
	require.NoError(t, err)
	defer s.Close()
	s.now = clock.Now

	require.NoError(t, s.Set(ctx, "a", []byte("1"), time.Second))
	require.NoError(t, s.Set(ctx, "b", []byte("2"), time.Hour))
	clock.Advance(time.Minute)

	n, err := s.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestCache(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	cache := NewCache(store, 0, slog.Default())
	defer cache.Close()

	assert.Equal(t, DefaultTTL, cache.TTL())

	require.NoError(t, cache.Put(ctx, "req-1", KindTools, []byte(`{"tools":[]}`)))
	got, err := store.Get(ctx, "session:req-1:tools")
	require.NoError(t, err)
	assert.Equal(t, `{"tools":[]}`, string(got))

	got, err = cache.Fetch(ctx, "req-1", KindTools)
	require.NoError(t, err)
	assert.Equal(t, `{"tools":[]}`, string(got))

	_, err = cache.Fetch(ctx, "req-1", KindResult)
	assert.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, cache.Put(ctx, "", KindResult, []byte("x")))
	assert.Equal(t, 1, store.Len(), "empty ids are never cached")
}

func TestKeyAndKind(t *testing.T) {
	assert.Equal(t, "session:42:result", Key("42", KindResult))
	assert.Equal(t, "session:abc:tools", Key("abc", KindTools))

	k, ok := ParseKind("result")
	assert.True(t, ok)
	assert.Equal(t, KindResult, k)
	_, ok = ParseKind("other")
	assert.False(t, ok)
}

func TestOpen(t *testing.T) {
	s, err := Open(Options{}, slog.Default())
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, s)
	s.Close()

	s, err = Open(Options{Backend: BackendSQLite, Path: filepath.Join(t.TempDir(), "c.db")}, slog.Default())
	require.NoError(t, err)
	assert.IsType(t, &SQLite{}, s)
	s.Close()

	_, err = Open(Options{Backend: BackendSQLite}, slog.Default())
	assert.Error(t, err)

	_, err = Open(Options{Backend: BackendRedis, RedisURL: "not-a-url"}, slog.Default())
	assert.Error(t, err)

	_, err = Open(Options{Backend: "etcd"}, slog.Default())
	assert.True(t, errors.Is(err, ErrUnknownBackend))
}
