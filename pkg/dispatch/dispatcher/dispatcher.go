// Package dispatcher implements the Dispatch Service: the decision loop
// that scores candidates for an intervention, commits winners (handling
// preemption), and drives the periodic sweep across all pending
// interventions (spec.md §4.4).
package dispatcher

import (
	"context"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/emergency-platform/dispatch-engine/pkg/dispatch/cache"
	"github.com/emergency-platform/dispatch-engine/pkg/dispatch/gateway"
	"github.com/emergency-platform/dispatch-engine/pkg/dispatch/model"
	"github.com/emergency-platform/dispatch-engine/pkg/dispatch/scoring"
	"github.com/emergency-platform/dispatch-engine/pkg/metrics"
)

const (
	roleLead    = "lead"
	roleSupport = "support"
)

// Service is the narrow capability contract the scheduler and callback
// endpoint depend on.
type Service interface {
	DispatchForIntervention(ctx context.Context, interventionID string) ([]model.ScoredCandidate, error)
	PeriodicDispatch(ctx context.Context) (int, error)
}

// DispatchService is the production Service implementation.
type DispatchService struct {
	gateway gateway.Gateway
	cache   *cache.Cache
	locker  Locker
	log     logr.Logger
}

// New builds a DispatchService. Pass dispatcher.NoopLocker{} for locker when
// the optional per-intervention lock optimization is not wanted.
func New(gw gateway.Gateway, c *cache.Cache, locker Locker, log logr.Logger) *DispatchService {
	if locker == nil {
		locker = NoopLocker{}
	}
	return &DispatchService{
		gateway: gw,
		cache:   c,
		locker:  locker,
		log:     log.WithName("dispatch-service"),
	}
}

// DispatchForIntervention runs the full per-intervention algorithm from
// spec.md §4.4 and returns the candidates successfully committed.
func (d *DispatchService) DispatchForIntervention(ctx context.Context, interventionID string) ([]model.ScoredCandidate, error) {
	start := time.Now()
	defer func() { metrics.RecordDecisionDuration(time.Since(start)) }()

	log := d.log.WithValues("intervention_id", interventionID, "decision_id", uuid.NewString())

	release, acquired := d.locker.TryLock(ctx, interventionID)
	if acquired {
		defer release()
	} else {
		log.V(1).Info("per-intervention lock not acquired, proceeding without the optimization")
	}

	// Step 1: fetch candidates and target severity.
	candidates, targetSeverity, err := d.gateway.GetCandidates(ctx, interventionID)
	if err != nil {
		log.Error(err, "failed to fetch candidates")
		return nil, nil
	}
	if len(candidates) == 0 {
		log.Info("no candidates returned for intervention")
		return nil, nil
	}

	// Step 2: read the current config snapshot.
	cfg := d.cache.GetConfig()

	// get_candidates does not carry the event's recommended unit types
	// (spec.md §4.1); a callback-triggered single-intervention dispatch
	// looks them up via the pending-intervention listing. A failure here is
	// best-effort and only ever makes scoring more conservative (it drops
	// the capability bonus), never incorrectly favorable — so it does not
	// abort the dispatch.
	recommended := d.lookupRecommendedUnitTypes(ctx, interventionID, log)

	return d.dispatch(ctx, interventionID, candidates, targetSeverity, recommended, cfg, log)
}

func (d *DispatchService) lookupRecommendedUnitTypes(ctx context.Context, interventionID string, log logr.Logger) []string {
	pending, err := d.gateway.GetPendingInterventions(ctx)
	if err != nil {
		log.V(1).Info("could not look up recommended unit types, scoring without capability bonus")
		return nil
	}
	for _, p := range pending {
		if p.InterventionID == interventionID {
			return p.RecommendedUnitTypes
		}
	}
	return nil
}

// dispatchForInterventionWithHints is used internally by PeriodicDispatch,
// which already has the recommended unit type codes from the pending
// intervention listing and should not discard them.
func (d *DispatchService) dispatchForInterventionWithHints(ctx context.Context, pending model.PendingIntervention, log logr.Logger) ([]model.ScoredCandidate, error) {
	candidates, targetSeverity, err := d.gateway.GetCandidates(ctx, pending.InterventionID)
	if err != nil {
		log.Error(err, "failed to fetch candidates")
		return nil, nil
	}
	if len(candidates) == 0 {
		log.Info("no candidates returned for intervention")
		return nil, nil
	}

	cfg := d.cache.GetConfig()
	return d.dispatch(ctx, pending.InterventionID, candidates, targetSeverity, pending.RecommendedUnitTypes, cfg, log)
}

// dispatch is the shared committing core: steps 3-6 of spec.md §4.4.
func (d *DispatchService) dispatch(ctx context.Context, interventionID string, candidates []model.Candidate, targetSeverity int, recommendedUnitTypes []string, cfg model.Config, log logr.Logger) ([]model.ScoredCandidate, error) {
	ranked := scoring.RankCandidates(candidates, targetSeverity, recommendedUnitTypes, cfg, d.cache.GetBase)

	k := targetSeverity
	if len(ranked) < k {
		k = len(ranked)
	}
	if k <= 0 {
		return nil, nil
	}

	committed := make([]model.ScoredCandidate, 0, k)
	for i := 0; i < k; i++ {
		candidate := ranked[i]

		if candidate.RequiresPreemption {
			if err := d.gateway.ReleaseAssignment(ctx, candidate.Assignment.AssignmentID); err != nil {
				log.Error(err, "failed to release current assignment, skipping candidate",
					"unit_id", candidate.UnitID, "assignment_id", candidate.Assignment.AssignmentID)
				continue
			}
		}

		role := roleSupport
		if i == 0 {
			role = roleLead
		}

		if _, err := d.gateway.AssignUnit(ctx, interventionID, candidate.UnitID, role); err != nil {
			// PreemptionRace: release already succeeded above; the unit is
			// simply eligible again on the next cycle (spec.md §4.4, §7).
			log.Error(err, "failed to assign unit, continuing with next candidate",
				"unit_id", candidate.UnitID, "role", role)
			continue
		}

		metrics.RecordAssignment(candidate.RequiresPreemption)
		committed = append(committed, candidate)
	}

	log.Info("dispatch decision complete",
		"candidates_considered", len(candidates),
		"candidates_committed", len(committed),
		"target_severity", targetSeverity)

	return committed, nil
}

// PeriodicDispatch runs one sweep across all pending interventions that
// still need more units, summing the committed-unit counts. A failure for
// one intervention never aborts the sweep (spec.md §4.4).
func (d *DispatchService) PeriodicDispatch(ctx context.Context) (int, error) {
	interventions, err := d.gateway.GetPendingInterventions(ctx)
	if err != nil {
		d.log.Error(err, "failed to fetch pending interventions")
		return 0, nil
	}

	total := 0
	for _, pending := range interventions {
		if !pending.NeedsMoreUnits() {
			continue
		}
		log := d.log.WithValues("intervention_id", pending.InterventionID, "decision_id", uuid.NewString())
		committed, err := d.dispatchForInterventionWithHints(ctx, pending, log)
		if err != nil {
			log.Error(err, "dispatch failed for intervention during sweep, continuing")
			continue
		}
		total += len(committed)
	}

	metrics.RecordSweepAssignments(total)
	return total, nil
}
