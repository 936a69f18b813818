// Package scoring implements the dispatch engine's pure, stateless cost
// function: candidate + target severity + config => numeric cost, lower is
// better. Scoring never performs I/O and never reads the wall clock, so its
// output is a deterministic function of its inputs alone.
package scoring

import (
	"sort"

	"github.com/emergency-platform/dispatch-engine/pkg/dispatch/model"
)

// BaseCensus reports, per base code, how many idle units currently call it
// home. It is derived from the candidate list passed to one dispatch
// decision (spec.md §9 Open Question: "approximate using the candidate
// list" is the option this implementation takes), so it never requires a
// live backend round-trip of its own.
type BaseCensus map[string]int

// BuildBaseCensus counts, for every candidate, whether it is currently idle
// at its home base (not en route, not assigned elsewhere) and tallies those
// counts per base code.
func BuildBaseCensus(candidates []model.Candidate) BaseCensus {
	census := BaseCensus{}
	for _, c := range candidates {
		if c.HomeBaseCode == "" {
			continue
		}
		if isAtHomeBase(c) {
			census[c.HomeBaseCode]++
		}
	}
	return census
}

func isAtHomeBase(c model.Candidate) bool {
	return !c.IsAssignedElsewhere() && !c.EnRouteToTarget
}

// Score computes the cost of dispatching one candidate to an intervention of
// the given target severity, using recommendedUnitTypes from the event type
// and the reserve target for the candidate's home base (0 if unknown).
// A disqualified candidate (illegal preemption) carries model.InfiniteScore.
func Score(candidate model.Candidate, targetSeverity int, recommendedUnitTypes []string, cfg model.Config, census BaseCensus, baseReserveTarget int) model.ScoredCandidate {
	requiresPreemption := candidate.IsAssignedElsewhere()

	if requiresPreemption {
		if disqualified(candidate, targetSeverity, cfg) {
			return model.ScoredCandidate{
				Candidate:          candidate,
				Score:              model.InfiniteScore,
				RequiresPreemption: true,
			}
		}
	}

	total := cfg.WeightTravelTime * candidate.TravelSeconds
	total += cfg.WeightCoveragePenalty * coveragePenalty(candidate, census, baseReserveTarget, cfg.MinReservePerBase)
	total += cfg.WeightCapabilityMatch * capabilityMatch(candidate, recommendedUnitTypes)
	total += cfg.WeightEnRouteProgress * enRouteBonus(candidate)

	if requiresPreemption {
		total += cfg.WeightPreemptionDelta
		total += cfg.WeightReassignmentCost
	}

	return model.ScoredCandidate{
		Candidate:          candidate,
		Score:              total,
		RequiresPreemption: requiresPreemption,
	}
}

// disqualified implements the preemption legality rule: preemption is only
// permitted when the target severity meets the configured threshold and the
// candidate's current intervention is strictly lower severity.
func disqualified(candidate model.Candidate, targetSeverity int, cfg model.Config) bool {
	if targetSeverity < cfg.PreemptionSeverityThreshold {
		return true
	}
	if candidate.Assignment.Severity >= targetSeverity {
		return true
	}
	return false
}

// coveragePenalty is the count by which removing this unit would push its
// home base below its reserve target (the base's reserve_target, raised to
// min_reserve_per_base when lower), clamped at zero. A unit not
// currently idle at its base contributes no penalty to removing it.
func coveragePenalty(candidate model.Candidate, census BaseCensus, reserveTarget int, minReserve int) float64 {
	if !isAtHomeBase(candidate) {
		return 0
	}
	current := census[candidate.HomeBaseCode]
	remaining := current - 1
	target := reserveTarget
	if target < minReserve {
		target = minReserve
	}
	shortfall := target - remaining
	if shortfall < 0 {
		return 0
	}
	return float64(shortfall)
}

// capabilityMatch returns 1 when the candidate's unit type is recommended
// for this event, else 0. The configured weight is negative, so a match
// reduces the total score (a bonus), per spec.md §4.3.
func capabilityMatch(candidate model.Candidate, recommendedUnitTypes []string) float64 {
	for _, code := range recommendedUnitTypes {
		if code == candidate.UnitTypeCode {
			return 1
		}
	}
	return 0
}

// enRouteBonus returns -1 when the candidate is already en route to the
// target intervention, else 0.
func enRouteBonus(candidate model.Candidate) float64 {
	if candidate.EnRouteToTarget {
		return -1
	}
	return 0
}

// RankCandidates scores every candidate, drops disqualified ones, and sorts
// the rest ascending by score, breaking ties first by travel time and then
// by unit id lexicographically — the required tie-break per spec.md §4.4.
// At most cfg.MaxCandidatesPerDispatch candidates are examined; the base
// census is built from that bounded set so coverage math never looks past
// what was actually scored.
func RankCandidates(candidates []model.Candidate, targetSeverity int, recommendedUnitTypes []string, cfg model.Config, baseReserveLookup func(code string) (model.Base, bool)) []model.ScoredCandidate {
	if cfg.MaxCandidatesPerDispatch > 0 && len(candidates) > cfg.MaxCandidatesPerDispatch {
		candidates = candidates[:cfg.MaxCandidatesPerDispatch]
	}

	census := BuildBaseCensus(candidates)

	scored := make([]model.ScoredCandidate, 0, len(candidates))
	for _, c := range candidates {
		reserveTarget := 0
		if base, ok := baseReserveLookup(c.HomeBaseCode); ok {
			reserveTarget = base.ReserveTarget
		}
		sc := Score(c, targetSeverity, recommendedUnitTypes, cfg, census, reserveTarget)
		if sc.Disqualified() {
			continue
		}
		scored = append(scored, sc)
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score < scored[j].Score
		}
		if scored[i].TravelSeconds != scored[j].TravelSeconds {
			return scored[i].TravelSeconds < scored[j].TravelSeconds
		}
		return scored[i].UnitID < scored[j].UnitID
	})

	return scored
}
