// Package directory maps interviewer emails to Slack user ids.
package directory

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/slack-go/slack"
	"golang.org/x/sync/singleflight"
)

var ErrNotFound = errors.New("directory: no slack user for email")

type Resolver interface {
	Resolve(ctx context.Context, email string) (string, error)
}

type UserLookup interface {
	GetUserByEmailContext(ctx context.Context, email string) (*slack.User, error)
}

// SlackResolver looks users up through the Slack Web API.
type SlackResolver struct {
	api     UserLookup
	timeout time.Duration
}

func NewSlackResolver(api UserLookup, timeout time.Duration) *SlackResolver {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SlackResolver{api: api, timeout: timeout}
}

func (r *SlackResolver) Resolve(ctx context.Context, email string) (string, error) {
	email = normalize(email)
	if email == "" {
		return "", ErrNotFound
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	user, err := r.api.GetUserByEmailContext(ctx, email)
	if err != nil {
		if isUserNotFound(err) {
			return "", ErrNotFound
		}
		return "", err
	}
	if user == nil || user.ID == "" || user.Deleted {
		return "", ErrNotFound
	}
	return user.ID, nil
}

func isUserNotFound(err error) bool {
	var serr slack.SlackErrorResponse
	if errors.As(err, &serr) {
		return serr.Err == "users_not_found"
	}
	return strings.Contains(err.Error(), "users_not_found")
}

// Passthrough uses the normalized email as the recipient id. It pairs with
// the no-op sender when Slack is not configured.
type Passthrough struct{}

func (Passthrough) Resolve(_ context.Context, email string) (string, error) {
	email = normalize(email)
	if email == "" {
		return "", ErrNotFound
	}
	return email, nil
}

// Cache is the part of a Redis client the cached resolver uses.
type Cache interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

const missingMarker = "-"

type CacheConfig struct {
	Prefix      string
	TTL         time.Duration
	NegativeTTL time.Duration
	// Timeout bounds a shared lookup once it no longer follows any
	// single caller's context.
	Timeout time.Duration
}

// CachedResolver keeps lookups in Redis. Misses are cached for a shorter
// period so new hires are picked up. Cache failures fall through to the
// underlying resolver.
type CachedResolver struct {
	next   Resolver
	cache  Cache
	cfg    CacheConfig
	logger *slog.Logger
	group  singleflight.Group
}

func NewCachedResolver(next Resolver, cache Cache, logger *slog.Logger, cfg CacheConfig) *CachedResolver {
	if cfg.Prefix == "" {
		cfg.Prefix = "slack-user"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.NegativeTTL <= 0 {
		cfg.NegativeTTL = 15 * time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &CachedResolver{next: next, cache: cache, cfg: cfg, logger: logger}
}

func (r *CachedResolver) Resolve(ctx context.Context, email string) (string, error) {
	email = normalize(email)
	if email == "" {
		return "", ErrNotFound
	}
	key := r.cfg.Prefix + ":" + email

	cached, err := r.cache.Get(ctx, key).Result()
	switch {
	case err == nil && cached == missingMarker:
		return "", ErrNotFound
	case err == nil && cached != "":
		return cached, nil
	case err != nil && !errors.Is(err, redis.Nil):
		r.logger.Warn("directory cache read failed", "err", err)
	}

	// Concurrent callers share one flight, so it must outlive whichever
	// caller started it.
	ch := r.group.DoChan(email, func() (any, error) {
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.Timeout)
		defer cancel()
		id, err := r.next.Resolve(flightCtx, email)
		switch {
		case errors.Is(err, ErrNotFound):
			r.store(flightCtx, key, missingMarker, r.cfg.NegativeTTL)
		case err == nil:
			r.store(flightCtx, key, id, r.cfg.TTL)
		}
		return id, err
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (r *CachedResolver) store(ctx context.Context, key, value string, ttl time.Duration) {
	if err := r.cache.Set(ctx, key, value, ttl).Err(); err != nil {
		r.logger.Warn("directory cache write failed", "err", err)
	}
}

func normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
