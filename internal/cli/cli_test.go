package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/popfix/internal/cache"
	"github.com/ppiankov/popfix/internal/journal"
	"github.com/ppiankov/popfix/internal/model"
	"github.com/ppiankov/popfix/internal/pipeline"
)

func newTestViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

func TestSetDefaultsRoundTrip(t *testing.T) {
	v := newTestViper()
	require.NoError(t, setDefaults(v, model.DefaultConfig()))

	cfg := &model.Config{}
	require.NoError(t, v.Unmarshal(cfg))

	def := model.DefaultConfig()
	assert.Equal(t, def.HTTP.Timeout, cfg.HTTP.Timeout)
	assert.Equal(t, def.Reconcile.Mode, cfg.Reconcile.Mode)
	assert.Equal(t, def.Reconcile.Rules, cfg.Reconcile.Rules)
	assert.Equal(t, def.Concurrency.Workers, cfg.Concurrency.Workers)
}

func TestEnvironmentOverridesDefaults(t *testing.T) {
	t.Setenv("POPFIX_RECONCILE_MODE", "continue")
	t.Setenv("POPFIX_HTTP_TIMEOUT", "5s")
	t.Setenv("POPFIX_CONCURRENCY_WORKERS", "9")

	v := newTestViper()
	require.NoError(t, setDefaults(v, model.DefaultConfig()))

	cfg := model.DefaultConfig()
	require.NoError(t, v.Unmarshal(cfg))

	assert.Equal(t, model.ModeContinue, cfg.Reconcile.Mode)
	assert.Equal(t, 5*time.Second, cfg.HTTP.Timeout)
	assert.Equal(t, 9, cfg.Concurrency.Workers)
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*model.Config)
		errMsg string
	}{
		{name: "defaults", mutate: func(*model.Config) {}},
		{name: "continue", mutate: func(c *model.Config) { c.Reconcile.Mode = model.ModeContinue }},
		{name: "unknown mode", mutate: func(c *model.Config) { c.Reconcile.Mode = "lenient" }, errMsg: "unknown mode"},
		{name: "no workers", mutate: func(c *model.Config) { c.Concurrency.Workers = 0 }, errMsg: "workers"},
		{name: "no retries", mutate: func(c *model.Config) { c.HTTP.MaxRetries = 0 }, errMsg: "max_retries"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := model.DefaultConfig()
			tt.mutate(cfg)
			err := validateConfig(cfg)
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestWriteDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "popfix", "config.yaml")
	require.NoError(t, writeDefaultConfig(path, false))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "# popfix configuration"))

	cfg := &model.Config{}
	require.NoError(t, yaml.Unmarshal(data, cfg))
	assert.Equal(t, model.DefaultConfig().Reconcile.Rules, cfg.Reconcile.Rules)

	err = writeDefaultConfig(path, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	assert.NoError(t, writeDefaultConfig(path, true))
}

func TestParseCodeFixes(t *testing.T) {
	fixes, err := parseCodeFixes([]string{"5300100=5300108", " 1 = 2 "})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"5300100": "5300108", "1": "2"}, fixes)

	for _, bad := range []string{"5300100", "=1", "1="} {
		_, err := parseCodeFixes([]string{bad})
		assert.Error(t, err, bad)
	}
}

func TestRenderRuns(t *testing.T) {
	started := time.Date(2025, 8, 29, 10, 0, 0, 0, time.UTC)
	runs := []journal.Run{
		{ID: 2, StartedAt: started, Mode: model.ModeStrict, Entities: 10, Failures: 1, Halted: true, FinishedAt: started.Add(time.Minute)},
		{ID: 1, StartedAt: started, Mode: model.ModeContinue, Entities: 5},
	}

	var buf bytes.Buffer
	renderRuns(&buf, runs)
	out := buf.String()

	assert.Contains(t, out, "#2")
	assert.Contains(t, out, "halted")
	assert.Contains(t, out, "unfinished")

	buf.Reset()
	renderRuns(&buf, nil)
	assert.Equal(t, "no runs recorded\n", buf.String())
}

func TestRenderOutcomes(t *testing.T) {
	var buf bytes.Buffer
	renderOutcomes(&buf, []journal.Outcome{
		{RunID: 3, QID: "Q1", Status: model.StatusFailed, MissingYears: []string{"+1991", "+2000"}},
		{RunID: 3, QID: "Q2", Status: model.StatusFailed, Error: "fetch failed"},
		{RunID: 3, QID: "Q3", Status: model.StatusFixed, Commands: []string{"-Q3|P1082|1"}},
	}, true)
	out := buf.String()

	assert.Contains(t, out, "#3 Q1  missing years: +1991, +2000")
	assert.Contains(t, out, "#3 Q2  fetch failed")
	assert.Contains(t, out, "#3 Q3  fixed, 1 command(s)")
}

func TestRenderPlans(t *testing.T) {
	st := model.Statement{
		Property: model.PropPopulation,
		Amount:   "100",
		Qualifiers: []model.Qualifier{
			model.PointInTime(0, "+2010-08-01T00:00:00Z", 11),
			model.PointInTime(1, "+2010-00-00T00:00:00Z", 9),
		},
	}
	drop := model.NewRemoveQualifier("Q1", "P1082", "100", "P585", "+2010-00-00T00:00:00Z/9")

	var buf bytes.Buffer
	renderPlans(&buf, "Q1", []pipeline.StatementPlan{{
		Statement:    st,
		PointsInTime: 2,
		Commands:     []model.Command{drop},
		Decisions:    []model.Decision{{Rule: model.RuleHigherPrecision, Dropped: "+2010-00-00T00:00:00Z/9"}},
	}})
	out := buf.String()

	assert.Contains(t, out, "Q1: 1 population statement(s)")
	assert.Contains(t, out, "rule: higher_precision")
	assert.Contains(t, out, drop.String())
	assert.Contains(t, out, "1 command(s)")
}

func TestClearCache(t *testing.T) {
	cfg := model.DefaultConfig().Cache
	cfg.Dir = filepath.Join(t.TempDir(), "cache")

	key := cache.CacheKey("https://query.wikidata.org/sparql?query=x")
	require.NoError(t, cache.NewDiskCache(cfg.Dir, cfg.DiskTTL).Set(key, []byte(`{}`), 0))

	dir, err := clearCache(cfg)
	require.NoError(t, err)
	assert.Equal(t, cfg.Dir, dir)

	_, ok := cache.NewLayeredCache(cfg.MemoryTTL, cfg.Dir, cfg.DiskTTL).Get(key)
	assert.False(t, ok)
	_, err = os.Stat(cfg.Dir)
	assert.True(t, os.IsNotExist(err))

	// Clearing an empty cache is not an error
	_, err = clearCache(cfg)
	assert.NoError(t, err)
}
