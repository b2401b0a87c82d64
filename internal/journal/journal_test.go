package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ppiankov/popfix/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRunLifecycle(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	started := time.Date(2025, 8, 29, 10, 0, 0, 0, time.UTC)
	report := &model.RunReport{
		StartedAt: started,
		Mode:      model.ModeContinue,
		Ledger:    "initial.qs",
		Output:    "fix.qs",
	}

	id, err := s.StartRun(ctx, report, "2025-08")
	require.NoError(t, err)
	assert.Positive(t, id)

	report.Entities = []model.EntityReport{
		{
			QID:    "Q1",
			Status: model.StatusFixed,
			Commands: []model.Command{
				model.NewRemoveStatement("Q1", "P1082", "+10"),
				model.NewRemoveQualifier("Q1", "P1082", "+10", "P585", "+2000-00-00T00:00:00Z/9"),
			},
			Duration: 40 * time.Millisecond,
		},
		{QID: "Q2", Status: model.StatusConsistent},
		{QID: "Q3", Status: model.StatusFailed, MissingYears: []string{"+1980", "+1991"}, Error: "Q3: missing qs commands for years: +1980, +1991"},
	}
	for i := range report.Entities {
		require.NoError(t, s.RecordEntity(ctx, id, i, &report.Entities[i]))
	}

	report.FinishedAt = started.Add(time.Minute)
	require.NoError(t, s.FinishRun(ctx, id, report))

	run, err := s.GetRun(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, started, run.StartedAt)
	assert.Equal(t, started.Add(time.Minute), run.FinishedAt)
	assert.Equal(t, "continue", run.Mode)
	assert.Equal(t, "2025-08", run.RulesVersion)
	assert.Equal(t, 3, run.Entities)
	assert.Equal(t, 1, run.Failures)
	assert.Equal(t, 2, run.Commands)
	assert.False(t, run.Halted)

	all, err := s.Outcomes(ctx, id, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"-Q1|P1082|+10", "REMOVE_QUAL|Q1|P1082|+10|P585|+2000-00-00T00:00:00Z/9"}, all[0].Commands)
	assert.Equal(t, 40*time.Millisecond, all[0].Duration)
	assert.Nil(t, all[1].Commands)

	failures, err := s.Failures(ctx, id)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, "Q3", failures[0].QID)
	assert.Equal(t, []string{"+1980", "+1991"}, failures[0].MissingYears)
}

func TestListRuns_NewestFirst(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	for i := 0; i < 3; i++ {
		_, err := s.StartRun(ctx, &model.RunReport{StartedAt: time.Now(), Mode: model.ModeStrict}, "")
		require.NoError(t, err)
	}

	runs, err := s.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Greater(t, runs[0].ID, runs[1].ID)
	assert.True(t, runs[0].FinishedAt.IsZero(), "unfinished run")
}

func TestEntityHistory(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	for _, status := range []model.EntityStatus{model.StatusFailed, model.StatusFixed} {
		id, err := s.StartRun(ctx, &model.RunReport{StartedAt: time.Now(), Mode: model.ModeStrict}, "")
		require.NoError(t, err)
		require.NoError(t, s.RecordEntity(ctx, id, 0, &model.EntityReport{QID: "Q42", Status: status}))
	}

	history, err := s.EntityHistory(ctx, "Q42")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, model.StatusFixed, history[0].Status)
	assert.Equal(t, model.StatusFailed, history[1].Status)
}

func TestUnknownRun(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	_, err := s.GetRun(ctx, 99)
	assert.ErrorIs(t, err, ErrRunNotFound)

	err = s.FinishRun(ctx, 99, &model.RunReport{})
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestReopenKeepsRuns(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "journal.db")

	s, err := Open(path)
	require.NoError(t, err)
	_, err = s.StartRun(ctx, &model.RunReport{StartedAt: time.Now(), Mode: model.ModeStrict}, "")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	runs, err := s.ListRuns(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}
