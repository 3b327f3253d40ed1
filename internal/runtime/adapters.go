package runtime

import (
	"context"

	"github.com/opsmail/emailpipeline/pkg/orchestrator"
	"github.com/opsmail/emailpipeline/pkg/router"
	"github.com/opsmail/emailpipeline/pkg/types"
)

// routerAdapter narrows *router.Router onto pkg/orchestrator.Router.
// Go requires exact type identity for interface satisfaction, and
// pkg/router.Decision/Thresholds are distinct named types from
// pkg/orchestrator's (kept distinct on purpose so orchestrator never
// imports the OPA dependency), so this adapter does the field-for-field
// conversion instead.
type routerAdapter struct {
	r *router.Router
}

func newRouterAdapter(r *router.Router) orchestrator.Router {
	return routerAdapter{r: r}
}

func (a routerAdapter) Decide(ctx context.Context, phase1 types.Phase1Result, ch types.Chain, th orchestrator.RoutingThresholds) (orchestrator.RoutingDecision, error) {
	decision, err := a.r.Decide(ctx, phase1, ch, router.Thresholds{
		HighValueThresholdMinor: th.HighValueThresholdMinor,
		HighValueKeywords:       th.HighValueKeywords,
		ChainCompleteThreshold:  th.ChainCompleteThreshold,
	})
	if err != nil {
		return orchestrator.RoutingDecision{}, err
	}
	return orchestrator.RoutingDecision{
		RunPhase2: decision.RunPhase2,
		RunPhase3: decision.RunPhase3,
		Priority:  decision.Priority,
	}, nil
}
