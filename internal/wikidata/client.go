// Package wikidata talks to the Wikibase REST API and the SPARQL query
// service: it fetches entity statements and the code→entity mapping.
package wikidata

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ppiankov/popfix/internal/cache"
	"github.com/ppiankov/popfix/internal/logging"
	"github.com/ppiankov/popfix/internal/model"
	"github.com/ppiankov/popfix/internal/util"
)

// fetchSleepFunc waits between retries and returns early when ctx is done
// (injectable for tests)
var fetchSleepFunc = sleepContext

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RateLimiter paces requests per host
type RateLimiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// AttemptObserver is told the outcome of every request attempt
// ("ok", "retry", "error", "cache_hit").
type AttemptObserver func(outcome string)

// Client fetches entities and code mappings
type Client struct {
	httpClient  *http.Client
	userAgent   string
	maxBytes    int64
	entityBase  string
	sparqlURL   string
	maxRetries  int
	baseBackoff time.Duration
	limiter     RateLimiter
	cache       cache.Cache
	cacheTTL    time.Duration
	observe     AttemptObserver
}

// Option customizes a Client
type Option func(*Client)

// WithLimiter paces every request through the limiter
func WithLimiter(l RateLimiter) Option {
	return func(c *Client) { c.limiter = l }
}

// WithCache stores code listing bodies in the given cache. Entity bodies
// are never cached: they change as soon as the emitted commands are applied.
func WithCache(cc cache.Cache, ttl time.Duration) Option {
	return func(c *Client) {
		c.cache = cc
		c.cacheTTL = ttl
	}
}

// WithObserver reports request outcomes, e.g. to metrics
func WithObserver(fn AttemptObserver) Option {
	return func(c *Client) { c.observe = fn }
}

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a client from configuration
func NewClient(httpCfg model.HTTPConfig, endpoints model.EndpointsConfig, opts ...Option) *Client {
	maxBytes := httpCfg.MaxBodyBytes
	if maxBytes <= 0 {
		maxBytes = 20_000_000
	}
	retries := httpCfg.MaxRetries
	if retries <= 0 {
		retries = 1
	}
	userAgent := httpCfg.UserAgent
	if userAgent == "" {
		userAgent = model.DefaultUserAgent
	}

	c := &Client{
		httpClient: &http.Client{
			Timeout: httpCfg.Timeout,
			Transport: &http.Transport{
				Proxy: util.NewProxyFunc(httpCfg.HTTPProxy, httpCfg.HTTPSProxy, httpCfg.NoProxy),
			},
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 3 {
					return fmt.Errorf("stopped after 3 redirects")
				}
				return nil
			},
		},
		userAgent:   userAgent,
		maxBytes:    maxBytes,
		entityBase:  strings.TrimRight(endpoints.EntityBaseURL, "/"),
		sparqlURL:   endpoints.SPARQLURL,
		maxRetries:  retries,
		baseBackoff: httpCfg.BaseBackoff,
	}

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// EntityURL returns the REST URL of an item
func (c *Client) EntityURL(qid string) string {
	return c.entityBase + "/entities/items/" + url.PathEscape(qid)
}

// Hosts returns the hosts this client talks to
func (c *Client) Hosts() []string {
	var hosts []string
	for _, raw := range []string{c.entityBase, c.sparqlURL} {
		if u, err := url.Parse(raw); err == nil && u.Host != "" {
			hosts = append(hosts, u.Scheme+"://"+u.Host)
		}
	}
	return hosts
}

// FetchEntity retrieves an item and decodes its population statements.
// The item is always fetched live.
func (c *Client) FetchEntity(ctx context.Context, qid string) (*model.Entity, error) {
	body, err := c.getWithRetry(ctx, c.EntityURL(qid), "application/json")
	if err != nil {
		return nil, err
	}

	entity, err := DecodeEntity(body, model.PropPopulation)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", qid, err)
	}
	if entity.ID == "" {
		entity.ID = qid
	}
	return entity, nil
}

// getCached performs a GET through the cache. A cached body that decode
// rejects is evicted and fetched again.
func (c *Client) getCached(ctx context.Context, rawURL, accept string, decode func([]byte) error) error {
	log := logging.FromContext(ctx)
	key := cache.CacheKey(rawURL)

	if c.cache != nil {
		if body, ok := c.cache.Get(key); ok {
			c.record("cache_hit")
			err := decode(body)
			if err == nil {
				return nil
			}
			log.Warn().Err(err).Str("url", rawURL).Msg("evicting unreadable cache entry")
			if err := c.cache.Delete(key); err != nil {
				log.Warn().Err(err).Str("url", rawURL).Msg("cache delete failed")
			}
		}
	}

	body, err := c.getWithRetry(ctx, rawURL, accept)
	if err != nil {
		return err
	}
	if err := decode(body); err != nil {
		return err
	}

	if c.cache != nil {
		if err := c.cache.Set(key, body, c.cacheTTL); err != nil {
			log.Warn().Err(err).Str("url", rawURL).Msg("cache write failed")
		}
	}
	return nil
}

// CacheStats returns the hit counts of a layered cache, if one is in use
func (c *Client) CacheStats() (cache.Stats, bool) {
	sc, ok := c.cache.(interface{ Stats() cache.Stats })
	if !ok {
		return cache.Stats{}, false
	}
	return sc.Stats(), true
}

// getWithRetry retries transient failures with exponential backoff
func (c *Client) getWithRetry(ctx context.Context, rawURL, accept string) ([]byte, error) {
	log := logging.FromContext(ctx)

	var lastErr error
	tries := 0
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		tries++
		body, err := c.getOnce(ctx, rawURL, accept)
		if err == nil {
			c.record("ok")
			return body, nil
		}
		lastErr = err

		if !isRetryable(ctx, err) || attempt == c.maxRetries-1 {
			break
		}

		c.record("retry")
		backoff := time.Duration(1<<uint(attempt)) * c.baseBackoff
		log.Warn().Err(err).Str("url", rawURL).Int("attempt", attempt+1).Dur("backoff", backoff).Msg("retrying")
		if err := fetchSleepFunc(ctx, backoff); err != nil {
			lastErr = errors.Join(lastErr, err)
			break
		}
	}

	c.record("error")
	fe := &FetchError{URL: rawURL, Err: lastErr, Attempts: tries}
	var se *statusError
	if errors.As(lastErr, &se) {
		fe.StatusCode = se.code
	}
	return nil, fe
}

func (c *Client) getOnce(ctx context.Context, rawURL, accept string) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, rawURL); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", accept)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err) // *url.Error
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &statusError{code: resp.StatusCode, status: resp.Status}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

func (c *Client) record(outcome string) {
	if c.observe != nil {
		c.observe(outcome)
	}
}

// isRetryable reports transient failures: 5xx, 429 and transport errors.
// Nothing is retried once the context is done.
func isRetryable(ctx context.Context, err error) bool {
	if err == nil || ctx.Err() != nil {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || (se.code >= 500 && se.code < 600)
	}
	var ue *url.Error
	return errors.As(err, &ue)
}
