package pipeline

import (
	"context"

	"github.com/ppiankov/popfix/internal/model"
	"github.com/ppiankov/popfix/internal/reconcile"
)

// StatementPlan is the dry-run outcome for one statement
type StatementPlan struct {
	Statement    model.Statement
	PointsInTime int
	Commands     []model.Command
	Decisions    []model.Decision
	Err          error
}

// Inspect fetches an entity and plans every population statement
// independently, so one failing statement does not hide the others.
func (p *Pipeline) Inspect(ctx context.Context, qid string) (*model.Entity, []StatementPlan, error) {
	entity, err := p.fetcher.FetchEntity(ctx, qid)
	if err != nil {
		return nil, nil, err
	}

	var plans []StatementPlan
	for _, st := range entity.Population() {
		plan := StatementPlan{
			Statement:    st,
			PointsInTime: reconcile.PointInTimeCount(st),
		}
		plan.Commands, plan.Decisions, plan.Err = p.resolver.ResolveStatement(qid, st)
		plans = append(plans, plan)
	}
	return entity, plans, nil
}
