package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/popfix/internal/emit"
	"github.com/ppiankov/popfix/internal/ledger"
	"github.com/ppiankov/popfix/internal/metrics"
	"github.com/ppiankov/popfix/internal/model"
	"github.com/ppiankov/popfix/internal/reconcile"
)

// fakeFetcher serves entities from memory
type fakeFetcher struct {
	mu       sync.Mutex
	entities map[string]*model.Entity
	errs     map[string]error
	calls    []string
}

func (f *fakeFetcher) FetchEntity(ctx context.Context, qid string) (*model.Entity, error) {
	f.mu.Lock()
	f.calls = append(f.calls, qid)
	f.mu.Unlock()

	if err := f.errs[qid]; err != nil {
		return nil, err
	}
	if e, ok := f.entities[qid]; ok {
		return e, nil
	}
	return &model.Entity{ID: qid}, nil
}

func entity(qid string, statements ...model.Statement) *model.Entity {
	return &model.Entity{ID: qid, Statements: map[string][]model.Statement{model.PropPopulation: statements}}
}

func pop(amount string, qualifiers ...model.Qualifier) model.Statement {
	return model.Statement{Property: model.PropPopulation, Amount: amount, Qualifiers: qualifiers}
}

// sameYear needs one REMOVE_QUAL
func sameYear(qid string) *model.Entity {
	return entity(qid, pop("+100",
		model.PointInTime(0, "+2010-00-00T00:00:00Z", 9),
		model.PointInTime(1, "+2010-08-01T00:00:00Z", 11),
	))
}

// unresolvable needs ledger lines for +1991 and +2000
func unresolvable(qid string) *model.Entity {
	return entity(qid, pop("+100",
		model.PointInTime(0, "+1991-00-00T00:00:00Z", 9),
		model.Method(1, model.ItemEstimation),
		model.PointInTime(2, "+2000-00-00T00:00:00Z", 9),
	))
}

func newPipeline(f Fetcher, opts ...Option) *Pipeline {
	return New(f, reconcile.NewResolver(ledger.Empty(), model.ReconcileConfig{}), opts...)
}

func TestProcessEntity(t *testing.T) {
	f := &fakeFetcher{entities: map[string]*model.Entity{
		"Q1": sameYear("Q1"),
		"Q2": entity("Q2", pop("+5", model.PointInTime(0, "+2010-00-00T00:00:00Z", 9))),
		"Q3": unresolvable("Q3"),
	}}
	p := newPipeline(f)
	ctx := context.Background()

	fixed, err := p.ProcessEntity(ctx, "Q1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusFixed, fixed.Status)
	assert.Equal(t, 1, fixed.Duplicates)
	require.Len(t, fixed.Commands, 1)
	assert.Equal(t, model.DefaultEditSummary, fixed.Commands[0].Summary)

	ok, err := p.ProcessEntity(ctx, "Q2")
	require.NoError(t, err)
	assert.Equal(t, model.StatusConsistent, ok.Status)
	assert.Equal(t, 1, ok.Statements)

	failed, err := p.ProcessEntity(ctx, "Q3")
	require.Error(t, err)
	assert.ErrorIs(t, err, reconcile.ErrMissingYears)
	assert.Equal(t, model.StatusFailed, failed.Status)
	assert.Equal(t, []string{"+1991", "+2000"}, failed.MissingYears)
	assert.Equal(t, "Q3: missing qs commands for years: +1991, +2000", failed.Error)
	require.NotEmpty(t, failed.Commands, "partial commands are kept in the report")
	assert.Equal(t, model.CommandRemoveStatement, failed.Commands[0].Kind)
}

func TestProcessEntity_FetchError(t *testing.T) {
	boom := errors.New("connection refused")
	p := newPipeline(&fakeFetcher{errs: map[string]error{"Q9": boom}})

	r, err := p.ProcessEntity(context.Background(), "Q9")
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, model.StatusFailed, r.Status)
	assert.Empty(t, r.MissingYears)
}

func TestRun_Strict(t *testing.T) {
	qids := []string{"Q1", "Q2", "Q3", "Q4", "Q5"}
	f := &fakeFetcher{entities: map[string]*model.Entity{
		"Q1": sameYear("Q1"),
		"Q3": unresolvable("Q3"),
		"Q4": sameYear("Q4"),
	}}
	p := newPipeline(f, WithWorkers(3))

	var out bytes.Buffer
	sink := emit.New(&out)
	report := &model.RunReport{}

	err := p.Run(context.Background(), qids, report, RunOptions{Mode: model.ModeStrict, Sink: sink})
	require.Error(t, err)
	assert.ErrorIs(t, err, reconcile.ErrMissingYears)

	assert.True(t, report.Halted)
	require.Len(t, report.Entities, 3)
	assert.Equal(t, "Q3", report.Entities[2].QID)
	assert.Equal(t, model.StatusFailed, report.Entities[2].Status)

	// Q1's work is written, Q3's partial commands and Q4 are not
	assert.Equal(t, 1, strings.Count(out.String(), "\n"))
	assert.True(t, strings.HasPrefix(out.String(), "REMOVE_QUAL|Q1|"))
}

func TestRun_Continue(t *testing.T) {
	qids := []string{"Q1", "Q2", "Q3", "Q4"}
	f := &fakeFetcher{
		entities: map[string]*model.Entity{"Q1": sameYear("Q1"), "Q3": unresolvable("Q3"), "Q4": sameYear("Q4")},
		errs:     map[string]error{"Q2": errors.New("503")},
	}
	m := metrics.New()
	p := newPipeline(f, WithWorkers(2), WithMetrics(m))

	var out bytes.Buffer
	var seqs []int
	report := &model.RunReport{}
	err := p.Run(context.Background(), qids, report, RunOptions{
		Mode: model.ModeContinue,
		Sink: emit.New(&out),
		OnEntity: func(seq int, e *model.EntityReport) error {
			seqs = append(seqs, seq)
			return nil
		},
	})
	require.NoError(t, err)

	assert.False(t, report.Halted)
	assert.Equal(t, []int{0, 1, 2, 3}, seqs)
	assert.Equal(t, 2, report.Count(model.StatusFixed))
	assert.Equal(t, 2, report.Count(model.StatusFailed))
	assert.Equal(t, 2, report.CommandCount())
	assert.Equal(t, []string{"Q2", "Q3"}, []string{report.Failures()[0].QID, report.Failures()[1].QID})

	got := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, got, 2)
	assert.Contains(t, got[0], "|Q1|")
	assert.Contains(t, got[1], "|Q4|")
	assert.False(t, report.FinishedAt.IsZero())
}

func TestRun_InputOrderWithManyWorkers(t *testing.T) {
	var qids []string
	entities := map[string]*model.Entity{}
	for i := 1; i <= 40; i++ {
		q := fmt.Sprintf("Q%d", i)
		qids = append(qids, q)
		entities[q] = sameYear(q)
	}
	p := newPipeline(&fakeFetcher{entities: entities}, WithWorkers(8))

	var out bytes.Buffer
	report := &model.RunReport{}
	require.NoError(t, p.Run(context.Background(), qids, report, RunOptions{Sink: emit.New(&out)}))

	got := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, got, 40)
	for i, line := range got {
		assert.True(t, strings.HasPrefix(line, "REMOVE_QUAL|"+qids[i]+"|"), "line %d: %s", i, line)
	}
	assert.Equal(t, model.ModeStrict, report.Mode)
}

type failingSink struct{}

func (failingSink) Emit([]model.Command) error { return errors.New("disk full") }

func TestRun_SinkErrorAborts(t *testing.T) {
	p := newPipeline(&fakeFetcher{entities: map[string]*model.Entity{"Q1": sameYear("Q1")}})

	err := p.Run(context.Background(), []string{"Q1", "Q2"}, &model.RunReport{}, RunOptions{Mode: model.ModeContinue, Sink: failingSink{}})
	assert.ErrorContains(t, err, "emit Q1: disk full")
}

func TestRun_UnknownMode(t *testing.T) {
	p := newPipeline(&fakeFetcher{})
	err := p.Run(context.Background(), []string{"Q1"}, &model.RunReport{}, RunOptions{Mode: "lenient"})
	assert.Error(t, err)
}

func TestRun_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := newPipeline(&fakeFetcher{})
	err := p.Run(ctx, []string{"Q1", "Q2"}, &model.RunReport{}, RunOptions{Mode: model.ModeContinue})
	if err != nil {
		assert.ErrorIs(t, err, context.Canceled)
	}
}

func TestInspect(t *testing.T) {
	f := &fakeFetcher{entities: map[string]*model.Entity{
		"Q1": entity("Q1",
			pop("+5", model.PointInTime(0, "+2010-00-00T00:00:00Z", 9)),
			sameYear("Q1").Population()[0],
			unresolvable("Q1").Population()[0],
		),
	}}
	p := newPipeline(f)

	e, plans, err := p.Inspect(context.Background(), "Q1")
	require.NoError(t, err)
	assert.Equal(t, "Q1", e.ID)
	require.Len(t, plans, 3)

	assert.Equal(t, 1, plans[0].PointsInTime)
	assert.Empty(t, plans[0].Commands)
	assert.NoError(t, plans[0].Err)

	assert.Equal(t, 2, plans[1].PointsInTime)
	require.Len(t, plans[1].Decisions, 1)
	assert.Equal(t, model.RuleHigherPrecision, plans[1].Decisions[0].Rule)

	assert.ErrorIs(t, plans[2].Err, reconcile.ErrMissingYears)
}
