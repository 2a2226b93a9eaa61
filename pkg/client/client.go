// Package client is the evaluation orchestration layer: it merges contexts,
// caches entity definitions with a short TTL, dispatches to the pure
// evaluation functions, and degrades gracefully where a call has a sensible
// default.
package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron"
	"golang.org/x/sync/singleflight"

	"github.com/togglebox/togglebox/pkg/eval"
	"github.com/togglebox/togglebox/pkg/logger"
	"github.com/togglebox/togglebox/pkg/model"
	"github.com/togglebox/togglebox/pkg/stats"
)

const defaultCacheTTL = 30 * time.Second

// Fetcher supplies entity definitions from the persistence or HTTP
// collaborator. Implementations may return model.ErrFlagNotFound and friends,
// or a *model.NetworkError for transient failures.
type Fetcher interface {
	GetFlag(ctx context.Context, platform, environment, flagKey string) (model.Flag, error)
	GetExperiment(ctx context.Context, platform, environment, experimentKey string) (model.Experiment, error)
	GetConfig(ctx context.Context, platform, environment, key string) (model.FlagValue, error)
	ListFlags(ctx context.Context, platform, environment string) ([]model.Flag, error)
	ListExperiments(ctx context.Context, platform, environment string) ([]model.Experiment, error)
	ListConfig(ctx context.Context, platform, environment string) (map[string]model.FlagValue, error)
}

// Update is emitted on the Updates channel after a background refresh.
type Update struct {
	At  time.Time
	Err error
}

// Config configures a Client.
type Config struct {
	Platform    string
	Environment string

	// BaseContext is merged under every per-call context.
	BaseContext model.EvaluationContext

	Fetcher Fetcher
	Sink    stats.Sink

	// CacheTTL bounds definition staleness; zero means the default.
	CacheTTL time.Duration

	// PollInterval, when set, re-fetches all three tiers on a schedule.
	PollInterval time.Duration
}

type cacheKey struct {
	kind string // "flag" | "experiment" | "config"
	name string
}

type cacheEntry struct {
	value    interface{}
	storedAt time.Time
}

// Client is safe for concurrent use. The refresh single-flight guard is the
// only mutual-exclusion point beyond the cache lock.
type Client struct {
	platform    string
	environment string
	baseCtx     model.EvaluationContext
	ttl         time.Duration

	fetcher   Fetcher
	sink      stats.Sink
	evaluator *eval.FlagEvaluator
	assignor  *eval.Assignor
	log       *logger.Logger

	mu    sync.RWMutex
	cache map[cacheKey]cacheEntry
	now   func() time.Time

	sf      singleflight.Group
	cron    *cron.Cron
	updates chan Update

	closeOnce sync.Once
}

// New builds a Client. Missing platform or environment is a configuration
// error raised here, never during evaluation.
func New(cfg Config) (*Client, error) {
	if cfg.Platform == "" {
		return nil, &model.ConfigurationError{Field: "platform", Detail: "must not be empty"}
	}
	if cfg.Environment == "" {
		return nil, &model.ConfigurationError{Field: "environment", Detail: "must not be empty"}
	}
	if cfg.Fetcher == nil {
		return nil, &model.ConfigurationError{Field: "fetcher", Detail: "must not be nil"}
	}

	sink := cfg.Sink
	if sink == nil {
		sink = stats.Noop{}
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}

	c := &Client{
		platform:    cfg.Platform,
		environment: cfg.Environment,
		baseCtx:     cfg.BaseContext,
		ttl:         ttl,
		fetcher:     cfg.Fetcher,
		sink:        sink,
		evaluator:   eval.NewFlagEvaluator(sink),
		assignor:    eval.NewAssignor(sink),
		log:         logger.New("client"),
		cache:       map[cacheKey]cacheEntry{},
		now:         time.Now,
		updates:     make(chan Update, 1),
	}

	if cfg.PollInterval > 0 {
		c.cron = cron.New()
		if err := c.cron.AddFunc(fmt.Sprintf("@every %s", cfg.PollInterval), func() {
			c.refresh(context.Background())
		}); err != nil {
			return nil, &model.ConfigurationError{Field: "pollInterval", Detail: err.Error()}
		}
		c.cron.Start()
	}

	return c, nil
}

// Updates delivers a notification after each background refresh. The channel
// is buffered and never blocks the poller; a slow consumer simply misses
// intermediate updates.
func (c *Client) Updates() <-chan Update {
	return c.updates
}

// Close stops background polling.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		if c.cron != nil {
			c.cron.Stop()
		}
	})
}

// mergeContext resolves the effective context for a call: base fields,
// overridden per-call.
func (c *Client) mergeContext(ectx model.EvaluationContext) model.EvaluationContext {
	return c.baseCtx.Merge(ectx)
}

func (c *Client) cached(key cacheKey) (interface{}, bool) {
	c.mu.RLock()
	entry, ok := c.cache[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if c.now().Sub(entry.storedAt) > c.ttl {
		// expired entries are evicted lazily on read
		c.mu.Lock()
		if current, still := c.cache[key]; still && current.storedAt == entry.storedAt {
			delete(c.cache, key)
		}
		c.mu.Unlock()
		return nil, false
	}
	return entry.value, true
}

func (c *Client) put(key cacheKey, value interface{}) {
	c.mu.Lock()
	c.cache[key] = cacheEntry{value: value, storedAt: c.now()}
	c.mu.Unlock()
}

func (c *Client) flag(ctx context.Context, flagKey string) (model.Flag, error) {
	key := cacheKey{kind: "flag", name: flagKey}
	if v, ok := c.cached(key); ok {
		return v.(model.Flag), nil
	}
	flag, err := c.fetcher.GetFlag(ctx, c.platform, c.environment, flagKey)
	if err != nil {
		return model.Flag{}, err
	}
	c.put(key, flag)
	return flag, nil
}

func (c *Client) experiment(ctx context.Context, experimentKey string) (model.Experiment, error) {
	key := cacheKey{kind: "experiment", name: experimentKey}
	if v, ok := c.cached(key); ok {
		return v.(model.Experiment), nil
	}
	exp, err := c.fetcher.GetExperiment(ctx, c.platform, c.environment, experimentKey)
	if err != nil {
		return model.Experiment{}, err
	}
	c.put(key, exp)
	return exp, nil
}

// refresh re-fetches all three tiers. Overlapping refreshes collapse into one
// through the single-flight group.
func (c *Client) refresh(ctx context.Context) {
	_, err, _ := c.sf.Do("refresh", func() (interface{}, error) {
		flags, err := c.fetcher.ListFlags(ctx, c.platform, c.environment)
		if err != nil {
			return nil, err
		}
		exps, err := c.fetcher.ListExperiments(ctx, c.platform, c.environment)
		if err != nil {
			return nil, err
		}
		config, err := c.fetcher.ListConfig(ctx, c.platform, c.environment)
		if err != nil {
			return nil, err
		}

		now := c.now()
		c.mu.Lock()
		for _, f := range flags {
			c.cache[cacheKey{kind: "flag", name: f.FlagKey}] = cacheEntry{value: f, storedAt: now}
		}
		for _, e := range exps {
			c.cache[cacheKey{kind: "experiment", name: e.ExperimentKey}] = cacheEntry{value: e, storedAt: now}
		}
		for k, v := range config {
			c.cache[cacheKey{kind: "config", name: k}] = cacheEntry{value: v, storedAt: now}
		}
		c.mu.Unlock()
		return nil, nil
	})

	if err != nil {
		c.log.Errorf("refresh failed: %v", err)
	}
	select {
	case c.updates <- Update{At: c.now(), Err: err}:
	default:
	}
}

// Refresh forces a definitions refresh outside the polling schedule.
func (c *Client) Refresh(ctx context.Context) {
	c.refresh(ctx)
}
