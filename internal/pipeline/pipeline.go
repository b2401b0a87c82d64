// Package pipeline fetches entities, reconciles their population statements
// and streams the resulting commands in input order.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ppiankov/popfix/internal/logging"
	"github.com/ppiankov/popfix/internal/metrics"
	"github.com/ppiankov/popfix/internal/model"
	"github.com/ppiankov/popfix/internal/reconcile"
	"github.com/ppiankov/popfix/internal/worker"
)

// Fetcher retrieves an entity with its population statements
type Fetcher interface {
	FetchEntity(ctx context.Context, qid string) (*model.Entity, error)
}

// Sink receives the commands of each successfully reconciled entity
type Sink interface {
	Emit(cmds []model.Command) error
}

// Pipeline orchestrates fetch and resolution for a batch of entities
type Pipeline struct {
	fetcher  Fetcher
	resolver *reconcile.Resolver
	metrics  *metrics.Metrics
	workers  int
	now      func() time.Time
}

// Option customizes a Pipeline
type Option func(*Pipeline)

// WithMetrics records entity outcomes
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithWorkers sets how many entities are fetched concurrently
func WithWorkers(n int) Option {
	return func(p *Pipeline) { p.workers = n }
}

// New creates a pipeline
func New(fetcher Fetcher, resolver *reconcile.Resolver, opts ...Option) *Pipeline {
	p := &Pipeline{
		fetcher:  fetcher,
		resolver: resolver,
		workers:  1,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Resolver returns the resolver in use
func (p *Pipeline) Resolver() *reconcile.Resolver {
	return p.resolver
}

// ProcessEntity fetches and reconciles one entity. The report is always
// returned; on error it carries the failure and any partial commands.
func (p *Pipeline) ProcessEntity(ctx context.Context, qid string) (*model.EntityReport, error) {
	start := p.now()
	report := &model.EntityReport{QID: qid}
	defer func() { report.Duration = p.now().Sub(start) }()

	entity, err := p.fetcher.FetchEntity(ctx, qid)
	if err != nil {
		report.Status = model.StatusFailed
		report.Error = err.Error()
		return report, err
	}

	statements := entity.Population()
	report.Statements = len(statements)

	res, err := p.resolver.Resolve(ctx, qid, statements)
	if res != nil {
		report.Duplicates = res.Duplicates
		report.Commands = res.Commands
		report.Decisions = res.Decisions
	}
	if err != nil {
		report.Status = model.StatusFailed
		report.Error = err.Error()
		var mye *reconcile.MissingYearsError
		if errors.As(err, &mye) {
			report.MissingYears = mye.Years
		}
		return report, err
	}

	if len(report.Commands) == 0 {
		report.Status = model.StatusConsistent
	} else {
		report.Status = model.StatusFixed
	}
	return report, nil
}

// RunOptions controls a batch run
type RunOptions struct {
	Mode string // model.ModeStrict or model.ModeContinue
	Sink Sink
	// OnEntity is called for every entity in input order, after its commands
	// reached the sink. An error aborts the run.
	OnEntity func(seq int, e *model.EntityReport) error
}

// Run reconciles the entities and fills report.Entities in input order.
// In strict mode the run halts at the first failing entity and returns its
// error; everything before it has already been emitted. In continue mode
// failures are only recorded.
func (p *Pipeline) Run(ctx context.Context, qids []string, report *model.RunReport, opts RunOptions) error {
	log := logging.FromContext(ctx)
	if opts.Mode == "" {
		opts.Mode = model.ModeStrict
	}
	if opts.Mode != model.ModeStrict && opts.Mode != model.ModeContinue {
		return fmt.Errorf("unknown mode %q (want %s or %s)", opts.Mode, model.ModeStrict, model.ModeContinue)
	}
	report.Mode = opts.Mode
	if report.StartedAt.IsZero() {
		report.StartedAt = p.now()
	}

	var runErr error
	batch := worker.NewBatchProcessor(p, p.workers)
	delivered := batch.ProcessEntities(ctx, qids, func(r *worker.EntityResult) bool {
		e := r.Report
		if e == nil {
			e = &model.EntityReport{QID: r.QID, Status: model.StatusFailed}
			if r.Error != nil {
				e.Error = r.Error.Error()
			}
		}

		if r.Error == nil && opts.Sink != nil {
			if err := opts.Sink.Emit(e.Commands); err != nil {
				runErr = fmt.Errorf("emit %s: %w", r.QID, err)
				return false
			}
		}

		report.Entities = append(report.Entities, *e)
		p.metrics.ObserveEntity(e)

		if opts.OnEntity != nil {
			if err := opts.OnEntity(r.Index, e); err != nil {
				runErr = err
				return false
			}
		}

		if r.Error != nil {
			log.Error().Err(r.Error).Str("qid", r.QID).Msg("entity failed")
			if opts.Mode == model.ModeStrict {
				report.Halted = true
				runErr = r.Error
				return false
			}
		}
		return true
	})

	report.FinishedAt = p.now()
	p.metrics.RunFinished(report.FinishedAt)

	if runErr != nil {
		return runErr
	}
	if delivered < len(qids) {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("run interrupted after %d of %d entities: %w", delivered, len(qids), err)
		}
	}
	return nil
}
