package pipeline

import (
	"context"
	"time"

	"github.com/ppiankov/popfix/internal/cache"
	"github.com/ppiankov/popfix/internal/logging"
	"github.com/ppiankov/popfix/internal/metrics"
	"github.com/ppiankov/popfix/internal/model"
	"github.com/ppiankov/popfix/internal/util"
	"github.com/ppiankov/popfix/internal/wikidata"
	"github.com/ppiankov/popfix/internal/worker"
)

// NewClient builds the API client described by cfg: per-host rate limits
// (slowed down to the robots.txt Crawl-delay when asked), the optional
// layered cache, and fetch metrics.
func NewClient(ctx context.Context, cfg *model.Config, m *metrics.Metrics) *wikidata.Client {
	log := logging.FromContext(ctx)

	limiter := worker.NewLimiter(cfg.RateLimiting.RequestsPerSecond, cfg.RateLimiting.BurstSize)
	opts := []wikidata.Option{wikidata.WithLimiter(limiter)}

	if cfg.Cache.Enabled {
		lc := cache.NewLayeredCache(cfg.Cache.MemoryTTL, util.ExpandHome(cfg.Cache.Dir), cfg.Cache.DiskTTL)
		opts = append(opts, wikidata.WithCache(lc, cfg.Cache.DiskTTL))
	}
	if m != nil {
		opts = append(opts, wikidata.WithObserver(m.ObserveFetch))
	}

	client := wikidata.NewClient(cfg.HTTP, cfg.Endpoints, opts...)

	if cfg.RateLimiting.HonorCrawlDelay {
		robots := util.NewRobotsChecker(cfg.HTTP.UserAgent, 10*time.Second)
		for host, delay := range robots.CrawlDelays(ctx, client.Hosts()) {
			if limiter.ApplyCrawlDelay(host, delay) {
				log.Debug().Str("host", host).Dur("crawl_delay", delay).Msg("rate lowered to crawl delay")
			}
		}
	}

	return client
}
