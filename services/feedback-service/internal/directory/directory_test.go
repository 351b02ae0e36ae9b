package directory

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLookup struct {
	users map[string]*slack.User
	err   error
	calls int
}

func (f *fakeLookup) GetUserByEmailContext(_ context.Context, email string) (*slack.User, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	u, ok := f.users[email]
	if !ok {
		return nil, slack.SlackErrorResponse{Err: "users_not_found"}
	}
	return u, nil
}

type memCache struct {
	mu      sync.Mutex
	data    map[string]string
	ttls    map[string]time.Duration
	readErr error
}

func newMemCache() *memCache {
	return &memCache{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (c *memCache) Get(_ context.Context, key string) *redis.StringCmd {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readErr != nil {
		return redis.NewStringResult("", c.readErr)
	}
	v, ok := c.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (c *memCache) Set(_ context.Context, key string, value interface{}, ttl time.Duration) *redis.StatusCmd {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value.(string)
	c.ttls[key] = ttl
	return redis.NewStatusResult("OK", nil)
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSlackResolver(t *testing.T) {
	api := &fakeLookup{users: map[string]*slack.User{
		"john.doe@company.com": {ID: "U111"},
		"gone@company.com":     {ID: "U222", Deleted: true},
	}}
	r := NewSlackResolver(api, time.Second)

	id, err := r.Resolve(context.Background(), " John.Doe@Company.com ")
	require.NoError(t, err)
	assert.Equal(t, "U111", id)

	_, err = r.Resolve(context.Background(), "nobody@company.com")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = r.Resolve(context.Background(), "gone@company.com")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = r.Resolve(context.Background(), "")
	require.ErrorIs(t, err, ErrNotFound)

	api.err = errors.New("ratelimited")
	_, err = r.Resolve(context.Background(), "john.doe@company.com")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestCachedResolverCachesHitsAndMisses(t *testing.T) {
	api := &fakeLookup{users: map[string]*slack.User{"john.doe@company.com": {ID: "U111"}}}
	cache := newMemCache()
	r := NewCachedResolver(NewSlackResolver(api, time.Second), cache, discard(), CacheConfig{})

	for i := 0; i < 3; i++ {
		id, err := r.Resolve(context.Background(), "john.doe@company.com")
		require.NoError(t, err)
		assert.Equal(t, "U111", id)
	}
	for i := 0; i < 2; i++ {
		_, err := r.Resolve(context.Background(), "nobody@company.com")
		require.ErrorIs(t, err, ErrNotFound)
	}
	assert.Equal(t, 2, api.calls)
	assert.Equal(t, 24*time.Hour, cache.ttls["slack-user:john.doe@company.com"])
	assert.Equal(t, 15*time.Minute, cache.ttls["slack-user:nobody@company.com"])
}

func TestCachedResolverFallsThroughOnCacheError(t *testing.T) {
	api := &fakeLookup{users: map[string]*slack.User{"john.doe@company.com": {ID: "U111"}}}
	cache := newMemCache()
	cache.readErr = errors.New("connection refused")
	r := NewCachedResolver(NewSlackResolver(api, time.Second), cache, discard(), CacheConfig{})

	id, err := r.Resolve(context.Background(), "john.doe@company.com")
	require.NoError(t, err)
	assert.Equal(t, "U111", id)
}

func TestCachedResolverDoesNotCacheTransientErrors(t *testing.T) {
	api := &fakeLookup{err: errors.New("timeout")}
	cache := newMemCache()
	r := NewCachedResolver(NewSlackResolver(api, time.Second), cache, discard(), CacheConfig{})

	_, err := r.Resolve(context.Background(), "john.doe@company.com")
	require.Error(t, err)
	assert.Empty(t, cache.data)
}

type gatedResolver struct {
	started chan struct{}
	release chan struct{}
}

func (g *gatedResolver) Resolve(ctx context.Context, _ string) (string, error) {
	select {
	case g.started <- struct{}{}:
	default:
	}
	<-g.release
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return "U111", nil
}

func TestCachedResolverSharedLookupOutlivesFirstCaller(t *testing.T) {
	gate := &gatedResolver{started: make(chan struct{}, 1), release: make(chan struct{})}
	cache := newMemCache()
	r := NewCachedResolver(gate, cache, discard(), CacheConfig{Timeout: 5 * time.Second})

	firstCtx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := r.Resolve(firstCtx, "john.doe@company.com")
		firstErr <- err
	}()
	<-gate.started

	type result struct {
		id  string
		err error
	}
	second := make(chan result, 1)
	go func() {
		id, err := r.Resolve(context.Background(), "john.doe@company.com")
		second <- result{id: id, err: err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	require.ErrorIs(t, <-firstErr, context.Canceled)

	close(gate.release)
	got := <-second
	require.NoError(t, got.err)
	assert.Equal(t, "U111", got.id)
	assert.Equal(t, "U111", cache.data["slack-user:john.doe@company.com"])
}

func TestPassthrough(t *testing.T) {
	id, err := Passthrough{}.Resolve(context.Background(), " John.Doe@Company.com")
	require.NoError(t, err)
	assert.Equal(t, "john.doe@company.com", id)
	_, err = Passthrough{}.Resolve(context.Background(), " ")
	require.ErrorIs(t, err, ErrNotFound)
}
