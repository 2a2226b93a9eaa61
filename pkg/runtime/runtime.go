// Package runtime wires the sync provider, store, stats queue, client and
// HTTP service together.
package runtime

import (
	"context"

	"github.com/togglebox/togglebox/pkg/client"
	"github.com/togglebox/togglebox/pkg/logger"
	"github.com/togglebox/togglebox/pkg/service"
	"github.com/togglebox/togglebox/pkg/stats"
	"github.com/togglebox/togglebox/pkg/store"
	syncprovider "github.com/togglebox/togglebox/pkg/sync"
)

// Config carries everything the runtime needs to start serving.
type Config struct {
	Platform     string
	Environment  string
	Port         int32
	URI          string // definitions file path
	ClientConfig client.Config
	Recorder     stats.Recorder
}

// logRecorder is the default stats pipeline: events are logged and dropped.
// A real deployment swaps in an HTTP or queue-backed Recorder.
type logRecorder struct {
	log *logger.Logger
}

func (r logRecorder) Record(_ context.Context, events []stats.Event) error {
	for _, ev := range events {
		r.log.Debugf("event %s %s user=%s key=%s variant=%s",
			ev.ID, ev.Type, ev.UserID, ev.Key, ev.Variant)
	}
	return nil
}

// Start builds the dependency graph and serves until ctx is cancelled.
func Start(ctx context.Context, cfg Config) error {
	log := logger.New("runtime")

	st := store.New(logger.New("store"))

	if cfg.URI != "" {
		provider := syncprovider.NewFilepathProvider(cfg.URI, syncprovider.NewTarget(st))
		if err := provider.Init(ctx); err != nil {
			return err
		}
		log.Infof("definitions loaded from %s", cfg.URI)
	}

	recorder := cfg.Recorder
	if recorder == nil {
		recorder = logRecorder{log: logger.New("stats-recorder")}
	}
	queue := stats.NewQueue(recorder)
	defer queue.Close()

	clientCfg := cfg.ClientConfig
	clientCfg.Platform = cfg.Platform
	clientCfg.Environment = cfg.Environment
	clientCfg.Fetcher = st
	clientCfg.Sink = queue

	c, err := client.New(clientCfg)
	if err != nil {
		return err
	}
	defer c.Close()

	httpService := service.NewHTTPService(&service.HTTPServiceConfiguration{Port: cfg.Port})
	log.Infof("serving %s/%s on :%d", cfg.Platform, cfg.Environment, cfg.Port)
	return httpService.Serve(ctx, c)
}

// compile-time check: the store satisfies the client's fetcher contract
var _ client.Fetcher = (*store.Store)(nil)
