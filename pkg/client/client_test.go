package client

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/togglebox/togglebox/pkg/model"
)

type stubFetcher struct {
	mu          sync.Mutex
	flags       map[string]model.Flag
	experiments map[string]model.Experiment
	config      map[string]model.FlagValue

	flagCalls int32
	listCalls int32
	listDelay time.Duration
	err       error
}

func newStubFetcher() *stubFetcher {
	return &stubFetcher{
		flags:       map[string]model.Flag{},
		experiments: map[string]model.Experiment{},
		config:      map[string]model.FlagValue{},
	}
}

func (f *stubFetcher) GetFlag(_ context.Context, _, _, flagKey string) (model.Flag, error) {
	atomic.AddInt32(&f.flagCalls, 1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return model.Flag{}, f.err
	}
	flag, ok := f.flags[flagKey]
	if !ok {
		return model.Flag{}, model.ErrFlagNotFound
	}
	return flag, nil
}

func (f *stubFetcher) GetExperiment(_ context.Context, _, _, experimentKey string) (model.Experiment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return model.Experiment{}, f.err
	}
	exp, ok := f.experiments[experimentKey]
	if !ok {
		return model.Experiment{}, model.ErrExperimentNotFound
	}
	return exp, nil
}

func (f *stubFetcher) GetConfig(_ context.Context, _, _, key string) (model.FlagValue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.config[key]
	if !ok {
		return model.FlagValue{}, model.ErrConfigNotFound
	}
	return v, nil
}

func (f *stubFetcher) ListFlags(_ context.Context, _, _ string) ([]model.Flag, error) {
	atomic.AddInt32(&f.listCalls, 1)
	if f.listDelay > 0 {
		time.Sleep(f.listDelay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var out []model.Flag
	for _, flag := range f.flags {
		out = append(out, flag)
	}
	return out, nil
}

func (f *stubFetcher) ListExperiments(_ context.Context, _, _ string) ([]model.Experiment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Experiment
	for _, exp := range f.experiments {
		out = append(out, exp)
	}
	return out, nil
}

func (f *stubFetcher) ListConfig(_ context.Context, _, _ string) (map[string]model.FlagValue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]model.FlagValue{}
	for k, v := range f.config {
		out[k] = v
	}
	return out, nil
}

func boolFlag(key string, enabled bool) model.Flag {
	return model.Flag{
		Platform:     "web",
		Environment:  "production",
		FlagKey:      key,
		Enabled:      enabled,
		FlagType:     model.FlagTypeBoolean,
		ValueA:       model.BoolValue(true),
		ValueB:       model.BoolValue(false),
		DefaultValue: model.ServeA,
	}
}

func runningExperiment(key string) model.Experiment {
	return model.Experiment{
		Platform:         "web",
		Environment:      "production",
		ExperimentKey:    key,
		Status:           model.StatusRunning,
		Variations: []model.Variation{
			{Key: "control", Value: model.StringValue("old"), IsControl: true},
			{Key: "treatment", Value: model.StringValue("new")},
		},
		ControlVariation: "control",
		TrafficAllocation: []model.Allocation{
			{VariationKey: "control", Percentage: 50},
			{VariationKey: "treatment", Percentage: 50},
		},
	}
}

func newTestClient(t *testing.T, fetcher Fetcher, cfg Config) *Client {
	t.Helper()
	cfg.Platform = "web"
	cfg.Environment = "production"
	cfg.Fetcher = fetcher
	c, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestNew_ConfigurationErrors(t *testing.T) {
	_, err := New(Config{Environment: "production", Fetcher: newStubFetcher()})
	var cfgErr *model.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "platform", cfgErr.Field)

	_, err = New(Config{Platform: "web", Fetcher: newStubFetcher()})
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "environment", cfgErr.Field)

	_, err = New(Config{Platform: "web", Environment: "production"})
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "fetcher", cfgErr.Field)
}

func TestIsFlagEnabled_DegradesOnFetchFailure(t *testing.T) {
	fetcher := newStubFetcher()
	c := newTestClient(t, fetcher, Config{})

	assert.False(t, c.IsFlagEnabled(context.Background(), "missing", model.NewContext("u1"), false))
	assert.True(t, c.IsFlagEnabled(context.Background(), "missing", model.NewContext("u1"), true))

	fetcher.flags["f"] = boolFlag("f", true)
	assert.True(t, c.IsFlagEnabled(context.Background(), "f", model.NewContext("u1"), false))
}

func TestGetVariant_PropagatesFetchErrors(t *testing.T) {
	fetcher := newStubFetcher()
	c := newTestClient(t, fetcher, Config{})

	_, err := c.GetVariant(context.Background(), "missing", model.NewContext("u1"))
	assert.ErrorIs(t, err, model.ErrExperimentNotFound)

	fetcher.experiments["exp"] = runningExperiment("exp")
	a, err := c.GetVariant(context.Background(), "exp", model.NewContext("u1"))
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, "exp", a.ExperimentKey)
}

func TestClient_ContextMerge(t *testing.T) {
	fetcher := newStubFetcher()
	flag := boolFlag("geo", true)
	flag.Targeting.Countries = []model.CountryRule{{Country: "CA", ServeValue: model.ServeB}}
	fetcher.flags["geo"] = flag

	c := newTestClient(t, fetcher, Config{
		BaseContext: model.NewContext("base-user").WithCountry("CA"),
	})

	// base context supplies the country
	res, err := c.EvaluateFlag(context.Background(), "geo", model.EvaluationContext{})
	require.NoError(t, err)
	assert.Equal(t, model.ServeB, res.ServedValue)

	// per-call override wins
	res, err = c.EvaluateFlag(context.Background(), "geo", model.EvaluationContext{Country: "FR"})
	require.NoError(t, err)
	assert.Equal(t, model.ServeA, res.ServedValue)
}

func TestClient_CacheAndTTL(t *testing.T) {
	fetcher := newStubFetcher()
	fetcher.flags["f"] = boolFlag("f", true)
	c := newTestClient(t, fetcher, Config{CacheTTL: time.Minute})

	now := time.Now()
	c.now = func() time.Time { return now }

	_, err := c.EvaluateFlag(context.Background(), "f", model.NewContext("u1"))
	require.NoError(t, err)
	_, err = c.EvaluateFlag(context.Background(), "f", model.NewContext("u1"))
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&fetcher.flagCalls), "second call is served from cache")

	// past the TTL the entry is expired, not merely stale
	now = now.Add(2 * time.Minute)
	_, err = c.EvaluateFlag(context.Background(), "f", model.NewContext("u1"))
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&fetcher.flagCalls))
}

func TestClient_RefreshSingleFlight(t *testing.T) {
	fetcher := newStubFetcher()
	fetcher.flags["f"] = boolFlag("f", true)
	fetcher.listDelay = 50 * time.Millisecond
	c := newTestClient(t, fetcher, Config{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Refresh(context.Background())
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&fetcher.listCalls), int32(2),
		"concurrent refreshes must collapse")
}

func TestClient_RefreshPrimesCache(t *testing.T) {
	fetcher := newStubFetcher()
	fetcher.flags["f"] = boolFlag("f", true)
	fetcher.config["theme"] = model.StringValue("dark")
	c := newTestClient(t, fetcher, Config{})

	c.Refresh(context.Background())

	assert.Equal(t, "dark", c.ConfigString(context.Background(), "theme", "light"))
	_, err := c.EvaluateFlag(context.Background(), "f", model.NewContext("u1"))
	require.NoError(t, err)
	assert.Equal(t, int32(0), atomic.LoadInt32(&fetcher.flagCalls),
		"evaluation after refresh hits the cache")
}

func TestClient_UpdatesChannel(t *testing.T) {
	fetcher := newStubFetcher()
	c := newTestClient(t, fetcher, Config{})

	c.Refresh(context.Background())

	select {
	case update := <-c.Updates():
		assert.NoError(t, update.Err)
	case <-time.After(time.Second):
		t.Fatal("no update notification after refresh")
	}
}

func TestClient_ConfigHelpers(t *testing.T) {
	fetcher := newStubFetcher()
	fetcher.config["retries"] = model.NumberValue(5)
	fetcher.config["banner"] = model.StringValue("hello")
	fetcher.config["beta"] = model.BoolValue(true)
	c := newTestClient(t, fetcher, Config{})

	ctx := context.Background()
	assert.Equal(t, 5.0, c.ConfigNumber(ctx, "retries", 1))
	assert.Equal(t, "hello", c.ConfigString(ctx, "banner", ""))
	assert.True(t, c.ConfigBool(ctx, "beta", false))

	// missing keys degrade to the caller's default
	assert.Equal(t, 1.0, c.ConfigNumber(ctx, "missing", 1))
	assert.Equal(t, "fallback", c.ConfigString(ctx, "missing", "fallback"))
}

type recordingSink struct {
	mu          sync.Mutex
	conversions []string
	events      []string
}

func (r *recordingSink) TrackFlagEvaluation(string, model.Serve, string, string, string) {}
func (r *recordingSink) TrackExperimentExposure(string, string, string)                  {}

func (r *recordingSink) TrackConversion(experimentKey, metricID, variationKey, userID string, value *float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conversions = append(r.conversions, experimentKey+"/"+metricID+"/"+variationKey)
}

func (r *recordingSink) TrackEvent(eventName, userID string, data map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, eventName)
}

func TestClient_TrackConversion(t *testing.T) {
	fetcher := newStubFetcher()
	fetcher.experiments["exp"] = runningExperiment("exp")
	sink := &recordingSink{}
	c := newTestClient(t, fetcher, Config{Sink: sink})

	ctx := context.Background()
	c.TrackConversion(ctx, "exp", model.NewContext("u1"), "m1", nil)

	require.Len(t, sink.conversions, 1)
	// the recorded variation matches the deterministic assignment
	a, err := c.GetVariant(ctx, "exp", model.NewContext("u1"))
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, "exp/m1/"+a.VariationKey, sink.conversions[0])

	// conversions never fail the caller, even for unknown experiments
	c.TrackConversion(ctx, "missing", model.NewContext("u1"), "m1", nil)
	assert.Len(t, sink.conversions, 1)
}

func TestClient_TrackEvent(t *testing.T) {
	fetcher := newStubFetcher()
	sink := &recordingSink{}
	c := newTestClient(t, fetcher, Config{Sink: sink})

	c.TrackEvent("signup", model.NewContext("u1"), map[string]interface{}{"plan": "pro"})
	assert.Equal(t, []string{"signup"}, sink.events)
}

func TestClient_Polling(t *testing.T) {
	fetcher := newStubFetcher()
	fetcher.flags["f"] = boolFlag("f", true)
	c := newTestClient(t, fetcher, Config{PollInterval: time.Second})
	_ = c

	// cron schedules at whole-second granularity; just assert the poller
	// was installed and shuts down cleanly via t.Cleanup(c.Close)
	require.NotNil(t, c.cron)
}
