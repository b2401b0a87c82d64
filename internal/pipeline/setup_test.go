package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/popfix/internal/cache"
	"github.com/ppiankov/popfix/internal/ledger"
	"github.com/ppiankov/popfix/internal/model"
	"github.com/ppiankov/popfix/internal/reconcile"
)

const restEntity = `{"id":"Q7","statements":{"P1082":[{"property":{"id":"P1082"},
  "value":{"type":"value","content":{"amount":"+500"}},
  "qualifiers":[%s]}]}}`

const pointInTime = `{"property":{"id":"P585"},"value":{"type":"value","content":{"time":"+2010-08-01T00:00:00Z","precision":%d}}}`

func testConfig(t *testing.T, base string) *model.Config {
	t.Helper()
	cfg := model.DefaultConfig()
	cfg.Endpoints.EntityBaseURL = base
	cfg.Endpoints.SPARQLURL = base + "/sparql"
	cfg.RateLimiting.HonorCrawlDelay = false
	cfg.RateLimiting.RequestsPerSecond = 0
	cfg.Cache.Dir = t.TempDir()
	return cfg
}

func TestNewClient_SecondRunSeesAppliedFix(t *testing.T) {
	var fixed atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		qualifiers := fmt.Sprintf(pointInTime, 11) + "," + fmt.Sprintf(pointInTime, 9)
		if fixed.Load() {
			qualifiers = fmt.Sprintf(pointInTime, 11)
		}
		_, _ = fmt.Fprintf(w, restEntity, qualifiers)
	}))
	defer server.Close()

	cfg := testConfig(t, server.URL)
	require.True(t, cfg.Cache.Enabled)
	resolver := reconcile.NewResolver(ledger.Empty(), cfg.Reconcile)

	first := New(NewClient(context.Background(), cfg, nil), resolver)
	report, err := first.ProcessEntity(context.Background(), "Q7")
	require.NoError(t, err)
	assert.Equal(t, model.StatusFixed, report.Status)
	require.Len(t, report.Commands, 1)

	// The commands were applied; a new run with the same cache dir re-reads the entity
	fixed.Store(true)

	second := New(NewClient(context.Background(), cfg, nil), resolver)
	report, err = second.ProcessEntity(context.Background(), "Q7")
	require.NoError(t, err)
	assert.Equal(t, model.StatusConsistent, report.Status)
	assert.Empty(t, report.Commands)
}

func TestNewClient_CachesCodeListingAcrossRuns(t *testing.T) {
	var listings atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		listings.Add(1)
		_, _ = fmt.Fprint(w, `{"results":{"bindings":[{"item":{"value":"http://www.wikidata.org/entity/Q7"},"code":{"value":"1100015"}}]}}`)
	}))
	defer server.Close()

	cfg := testConfig(t, server.URL)
	var stats []cache.Stats
	for range 2 {
		client := NewClient(context.Background(), cfg, nil)
		got, err := client.CodeBindings(context.Background(), cfg.Endpoints.CodeProperty)
		require.NoError(t, err)
		require.Len(t, got, 1)
		s, ok := client.CacheStats()
		require.True(t, ok)
		stats = append(stats, s)
	}
	assert.Equal(t, int32(1), listings.Load())
	assert.Equal(t, cache.Stats{Misses: 1}, stats[0])
	assert.Equal(t, cache.Stats{DiskHits: 1}, stats[1])
}
