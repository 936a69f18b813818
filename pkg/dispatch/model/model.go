// Package model holds the data types shared across the dispatch engine:
// the reference tables held by the static-data cache, the per-decision
// ephemera (candidates and their scores), and pending interventions.
package model

import "math"

// InfiniteScore is the sentinel cost assigned to a disqualified candidate.
// Scoring filters these out before a winner is ever selected.
const InfiniteScore = math.MaxFloat64

// Config is the typed form of DispatchConfig: a fixed set of tunable keys
// with documented defaults. It is read-mostly and swapped as a whole by the
// cache on refresh, never mutated field-by-field after construction.
type Config struct {
	WeightTravelTime             float64
	WeightCoveragePenalty        float64
	WeightCapabilityMatch        float64
	WeightEnRouteProgress        float64
	WeightPreemptionDelta        float64
	WeightReassignmentCost       float64
	MinReservePerBase            int
	PreemptionSeverityThreshold  int
	MaxCandidatesPerDispatch     int
}

// DefaultConfig returns the documented defaults, used both as the cache's
// pre-initialization state and as the fallback for any key a static-data
// bundle omits.
func DefaultConfig() Config {
	return Config{
		WeightTravelTime:            1.0,
		WeightCoveragePenalty:       0.3,
		WeightCapabilityMatch:       -50.0,
		WeightEnRouteProgress:       0.2,
		WeightPreemptionDelta:       -100.0,
		WeightReassignmentCost:      60.0,
		MinReservePerBase:           1,
		PreemptionSeverityThreshold: 2,
		MaxCandidatesPerDispatch:    10,
	}
}

// ConfigItem is one key/value pair as returned by GET /v1/dispatch/static.
type ConfigItem struct {
	Key   string  `json:"key"`
	Value float64 `json:"value"`
}

// ConfigFromItems builds a Config starting from DefaultConfig and applying
// every recognized key present in items. Unrecognized keys are ignored so
// the engine tolerates a backend that knows about newer tunables.
func ConfigFromItems(items []ConfigItem) Config {
	cfg := DefaultConfig()
	for _, item := range items {
		switch item.Key {
		case "weight_travel_time":
			cfg.WeightTravelTime = item.Value
		case "weight_coverage_penalty":
			cfg.WeightCoveragePenalty = item.Value
		case "weight_capability_match":
			cfg.WeightCapabilityMatch = item.Value
		case "weight_en_route_progress":
			cfg.WeightEnRouteProgress = item.Value
		case "weight_preemption_delta":
			cfg.WeightPreemptionDelta = item.Value
		case "weight_reassignment_cost":
			cfg.WeightReassignmentCost = item.Value
		case "min_reserve_per_base":
			cfg.MinReservePerBase = int(item.Value)
		case "preemption_severity_threshold":
			cfg.PreemptionSeverityThreshold = int(item.Value)
		case "max_candidates_per_dispatch":
			cfg.MaxCandidatesPerDispatch = int(item.Value)
		}
	}
	return cfg
}

// UnitType describes one kind of field unit: capability set and nominal speed.
type UnitType struct {
	Code           string   `json:"code"`
	Name           string   `json:"name"`
	Capabilities   []string `json:"capabilities"`
	NominalSpeedKmh float64 `json:"nominal_speed_kmh"`
}

// EventType describes one kind of incident, including which unit types are
// recommended for it.
type EventType struct {
	Code                string   `json:"code"`
	Name                string   `json:"name"`
	RecommendedUnitTypes []string `json:"recommended_unit_types"`
}

// Base is a physical location that hosts idle units.
type Base struct {
	Code          string  `json:"code"`
	Name          string  `json:"name"`
	Latitude      float64 `json:"latitude"`
	Longitude     float64 `json:"longitude"`
	ReserveTarget int     `json:"reserve_target"`
}

// CurrentAssignment is non-nil when a candidate is currently assigned
// elsewhere; its absence (nil) models the Idle state. This tagged-union
// shape (§9 Design Note of the spec) makes the preemption predicate
// exhaustive: requires_preemption reduces to "Assignment != nil".
type CurrentAssignment struct {
	AssignmentID    string `json:"assignment_id"`
	InterventionID  string `json:"intervention_id"`
	Severity        int    `json:"severity"`
}

// Candidate is one unit considered for a given intervention.
type Candidate struct {
	UnitID          string             `json:"unit_id"`
	CallSign        string             `json:"call_sign"`
	UnitTypeCode    string             `json:"unit_type_code"`
	Status          string             `json:"status"`
	Latitude        float64            `json:"latitude"`
	Longitude       float64            `json:"longitude"`
	HomeBaseCode    string             `json:"home_base_code"`
	TravelSeconds   float64            `json:"travel_seconds"`
	Assignment      *CurrentAssignment `json:"current_assignment,omitempty"`
	EnRouteToTarget bool               `json:"en_route_to_target"`
}

// IsAssignedElsewhere reports whether this candidate currently holds an
// assignment to some other intervention.
func (c Candidate) IsAssignedElsewhere() bool {
	return c.Assignment != nil
}

// ScoredCandidate is a Candidate annotated with its computed cost.
type ScoredCandidate struct {
	Candidate
	Score              float64
	RequiresPreemption bool
}

// Disqualified reports whether this candidate carries the sentinel score.
func (s ScoredCandidate) Disqualified() bool {
	return s.Score == InfiniteScore
}

// PendingIntervention is one open intervention that may still need units.
type PendingIntervention struct {
	InterventionID       string   `json:"intervention_id"`
	EventID              string   `json:"event_id"`
	Status               string   `json:"status"`
	Priority             int      `json:"priority"`
	EventSeverity        int      `json:"event_severity"`
	RecommendedUnitTypes []string `json:"recommended_unit_types"`
	TargetLatitude       float64  `json:"target_latitude"`
	TargetLongitude      float64  `json:"target_longitude"`
	AssignedCount        int      `json:"assigned_count"`
	CreatedAtUnix        int64    `json:"created_at_unix"`
}

// NeedsMoreUnits is true when this intervention has not yet reached its
// target unit count (the event severity).
func (p PendingIntervention) NeedsMoreUnits() bool {
	return p.AssignedCount < p.EventSeverity
}
