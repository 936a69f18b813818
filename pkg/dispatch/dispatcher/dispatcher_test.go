package dispatcher_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/go-logr/logr"

	"github.com/emergency-platform/dispatch-engine/pkg/dispatch/cache"
	"github.com/emergency-platform/dispatch-engine/pkg/dispatch/dispatcher"
	"github.com/emergency-platform/dispatch-engine/pkg/dispatch/model"
)

func TestDispatcher(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "dispatcher Suite")
}

// fakeGateway is a narrow, in-memory stand-in for gateway.Gateway that lets
// tests script candidates/pending lists and observe which mutating calls the
// dispatcher issued, in call order.
type fakeGateway struct {
	mu sync.Mutex

	candidatesByIntervention map[string][]model.Candidate
	severityByIntervention   map[string]int
	pending                  []model.PendingIntervention

	candidatesErr error
	pendingErr    error
	assignErr     map[string]error // keyed by unit id
	releaseErr    map[string]error // keyed by assignment id

	getCandidatesCalls int
	assignCalls        []assignCall
	releaseCalls       []string
}

type assignCall struct {
	InterventionID string
	UnitID         string
	Role           string
}

func (f *fakeGateway) GetStaticData(ctx context.Context) (cache.Bundle, error) {
	return cache.Bundle{}, nil
}

func (f *fakeGateway) GetCandidates(ctx context.Context, interventionID string) ([]model.Candidate, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCandidatesCalls++
	if f.candidatesErr != nil {
		return nil, 0, f.candidatesErr
	}
	return f.candidatesByIntervention[interventionID], f.severityByIntervention[interventionID], nil
}

func (f *fakeGateway) GetPendingInterventions(ctx context.Context) ([]model.PendingIntervention, error) {
	if f.pendingErr != nil {
		return nil, f.pendingErr
	}
	return f.pending, nil
}

func (f *fakeGateway) AssignUnit(ctx context.Context, interventionID, unitID, role string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.assignErr[unitID]; ok {
		return "", err
	}
	f.assignCalls = append(f.assignCalls, assignCall{interventionID, unitID, role})
	return "assignment-" + unitID, nil
}

func (f *fakeGateway) ReleaseAssignment(ctx context.Context, assignmentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.releaseErr[assignmentID]; ok {
		return err
	}
	f.releaseCalls = append(f.releaseCalls, assignmentID)
	return nil
}

func (f *fakeGateway) UpdateUnitStatus(ctx context.Context, unitID, status string) error {
	return nil
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		candidatesByIntervention: map[string][]model.Candidate{},
		severityByIntervention:   map[string]int{},
		assignErr:                map[string]error{},
		releaseErr:               map[string]error{},
	}
}

func newCacheWithConfig(cfg model.Config) *cache.Cache {
	c := cache.New(constSource{cfg: cfg}, logr.Discard())
	_ = c.Refresh(context.Background())
	return c
}

type constSource struct {
	cfg model.Config
}

func (s constSource) GetStaticData(ctx context.Context) (cache.Bundle, error) {
	return cache.Bundle{
		ConfigItems: []model.ConfigItem{
			{Key: "weight_travel_time", Value: s.cfg.WeightTravelTime},
			{Key: "weight_coverage_penalty", Value: s.cfg.WeightCoveragePenalty},
			{Key: "weight_capability_match", Value: s.cfg.WeightCapabilityMatch},
			{Key: "weight_en_route_progress", Value: s.cfg.WeightEnRouteProgress},
			{Key: "weight_preemption_delta", Value: s.cfg.WeightPreemptionDelta},
			{Key: "weight_reassignment_cost", Value: s.cfg.WeightReassignmentCost},
			{Key: "min_reserve_per_base", Value: float64(s.cfg.MinReservePerBase)},
			{Key: "preemption_severity_threshold", Value: float64(s.cfg.PreemptionSeverityThreshold)},
			{Key: "max_candidates_per_dispatch", Value: float64(s.cfg.MaxCandidatesPerDispatch)},
		},
	}, nil
}

var _ = Describe("DispatchService", func() {
	var (
		gw *fakeGateway
		c  *cache.Cache
	)

	BeforeEach(func() {
		gw = newFakeGateway()
		c = newCacheWithConfig(model.DefaultConfig())
	})

	Context("S1 — single match", func() {
		It("assigns the capability-matched unit as lead", func() {
			gw.candidatesByIntervention["I1"] = []model.Candidate{
				{UnitID: "U1", UnitTypeCode: "FPT", TravelSeconds: 100, HomeBaseCode: "B1"},
				{UnitID: "U2", UnitTypeCode: "VSAV", TravelSeconds: 60, HomeBaseCode: "B1"},
			}
			gw.severityByIntervention["I1"] = 1
			gw.pending = []model.PendingIntervention{
				{InterventionID: "I1", RecommendedUnitTypes: []string{"FPT"}},
			}

			svc := dispatcher.New(gw, c, nil, logr.Discard())
			committed, err := svc.DispatchForIntervention(context.Background(), "I1")

			Expect(err).NotTo(HaveOccurred())
			Expect(committed).To(HaveLen(1))
			Expect(committed[0].UnitID).To(Equal("U1"))
			Expect(gw.assignCalls).To(Equal([]assignCall{{"I1", "U1", "lead"}}))
		})
	})

	Context("S2 — severity-driven multi-dispatch", func() {
		It("assigns lead then support in ascending travel-time order, no fourth call", func() {
			gw.candidatesByIntervention["I2"] = []model.Candidate{
				{UnitID: "U3", UnitTypeCode: "FPT", TravelSeconds: 70},
				{UnitID: "U1", UnitTypeCode: "FPT", TravelSeconds: 50},
				{UnitID: "U2", UnitTypeCode: "FPT", TravelSeconds: 60},
			}
			gw.severityByIntervention["I2"] = 3

			svc := dispatcher.New(gw, c, nil, logr.Discard())
			committed, err := svc.DispatchForIntervention(context.Background(), "I2")

			Expect(err).NotTo(HaveOccurred())
			Expect(committed).To(HaveLen(3))
			Expect(gw.assignCalls).To(Equal([]assignCall{
				{"I2", "U1", "lead"},
				{"I2", "U2", "support"},
				{"I2", "U3", "support"},
			}))
		})
	})

	Context("S3 — preemption allowed", func() {
		It("releases the lower-severity assignment before assigning", func() {
			gw.candidatesByIntervention["I3"] = []model.Candidate{
				{
					UnitID: "U1", UnitTypeCode: "FPT", TravelSeconds: 100,
					Assignment: &model.CurrentAssignment{AssignmentID: "A-old", InterventionID: "I-low", Severity: 1},
				},
			}
			gw.severityByIntervention["I3"] = 3

			svc := dispatcher.New(gw, c, nil, logr.Discard())
			committed, err := svc.DispatchForIntervention(context.Background(), "I3")

			Expect(err).NotTo(HaveOccurred())
			Expect(committed).To(HaveLen(1))
			Expect(committed[0].RequiresPreemption).To(BeTrue())
			Expect(gw.releaseCalls).To(Equal([]string{"A-old"}))
			Expect(gw.assignCalls).To(Equal([]assignCall{{"I3", "U1", "lead"}}))
		})
	})

	Context("S4 — preemption denied", func() {
		It("filters the candidate and issues no release or assign calls", func() {
			gw.candidatesByIntervention["I4"] = []model.Candidate{
				{
					UnitID: "U1", UnitTypeCode: "FPT", TravelSeconds: 100,
					Assignment: &model.CurrentAssignment{AssignmentID: "A-old", InterventionID: "I-equal", Severity: 2},
				},
			}
			gw.severityByIntervention["I4"] = 2

			svc := dispatcher.New(gw, c, nil, logr.Discard())
			committed, err := svc.DispatchForIntervention(context.Background(), "I4")

			Expect(err).NotTo(HaveOccurred())
			Expect(committed).To(BeEmpty())
			Expect(gw.releaseCalls).To(BeEmpty())
			Expect(gw.assignCalls).To(BeEmpty())
		})
	})

	Context("S5 — backend outage", func() {
		It("returns empty with no assign calls when get_candidates fails", func() {
			gw.candidatesErr = errors.New("backend down")

			svc := dispatcher.New(gw, c, nil, logr.Discard())
			committed, err := svc.DispatchForIntervention(context.Background(), "I5")

			Expect(err).NotTo(HaveOccurred())
			Expect(committed).To(BeEmpty())
			Expect(gw.assignCalls).To(BeEmpty())
		})

		It("treats an empty candidate list the same way", func() {
			svc := dispatcher.New(gw, c, nil, logr.Discard())
			committed, err := svc.DispatchForIntervention(context.Background(), "I-empty")

			Expect(err).NotTo(HaveOccurred())
			Expect(committed).To(BeEmpty())
		})
	})

	Context("per-candidate assignment failure", func() {
		It("continues to the next candidate rather than aborting", func() {
			gw.candidatesByIntervention["I6"] = []model.Candidate{
				{UnitID: "U1", UnitTypeCode: "FPT", TravelSeconds: 50},
				{UnitID: "U2", UnitTypeCode: "FPT", TravelSeconds: 60},
			}
			gw.severityByIntervention["I6"] = 2
			gw.assignErr["U1"] = errors.New("backend rejected assignment")

			svc := dispatcher.New(gw, c, nil, logr.Discard())
			committed, err := svc.DispatchForIntervention(context.Background(), "I6")

			Expect(err).NotTo(HaveOccurred())
			Expect(committed).To(HaveLen(1))
			Expect(committed[0].UnitID).To(Equal("U2"))
		})
	})

	Context("property 7 — sweep boundedness", func() {
		It("performs exactly N get_candidates calls for N interventions needing units", func() {
			gw.pending = []model.PendingIntervention{
				{InterventionID: "P1", EventSeverity: 1, AssignedCount: 0},
				{InterventionID: "P2", EventSeverity: 2, AssignedCount: 2}, // fully staffed, skipped
				{InterventionID: "P3", EventSeverity: 3, AssignedCount: 1},
			}
			gw.candidatesByIntervention["P1"] = []model.Candidate{{UnitID: "U1", TravelSeconds: 10}}
			gw.severityByIntervention["P1"] = 1
			gw.candidatesByIntervention["P3"] = []model.Candidate{{UnitID: "U2", TravelSeconds: 10}}
			gw.severityByIntervention["P3"] = 3

			svc := dispatcher.New(gw, c, nil, logr.Discard())
			total, err := svc.PeriodicDispatch(context.Background())

			Expect(err).NotTo(HaveOccurred())
			Expect(gw.getCandidatesCalls).To(Equal(2))
			Expect(total).To(Equal(2))
		})

		It("does not abort the sweep when one intervention yields no candidates", func() {
			gw.pending = []model.PendingIntervention{
				{InterventionID: "P1", EventSeverity: 1, AssignedCount: 0},
				{InterventionID: "P2", EventSeverity: 1, AssignedCount: 0},
			}
			gw.candidatesByIntervention["P2"] = []model.Candidate{{UnitID: "U1", TravelSeconds: 10}}
			gw.severityByIntervention["P2"] = 1
			// P1 has no candidates registered -> empty list -> contributes 0, not an error.

			svc := dispatcher.New(gw, c, nil, logr.Discard())
			total, err := svc.PeriodicDispatch(context.Background())

			Expect(err).NotTo(HaveOccurred())
			Expect(total).To(Equal(1))
		})
	})
})
