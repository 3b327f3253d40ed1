package router

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/opsmail/emailpipeline/pkg/types"
)

var _ = Describe("Router", func() {
	var (
		r  *Router
		ctx context.Context
		th Thresholds
	)

	BeforeEach(func() {
		var err error
		r, err = NewRouter(nil)
		Expect(err).NotTo(HaveOccurred())
		ctx = context.Background()
		th = Thresholds{
			HighValueThresholdMinor: 5000000,
			HighValueKeywords:       []string{"competitor", "expedite"},
			ChainCompleteThreshold:  70,
		}
	})

	Describe("Decide", func() {
		Context("when urgency score is high", func() {
			It("should run Phase-2 and Phase-3 and mark high priority", func() {
				phase1 := types.Phase1Result{UrgencyScore: 2}
				chain := types.Chain{Completeness: 10}

				decision, err := r.Decide(ctx, phase1, chain, th)

				Expect(err).NotTo(HaveOccurred())
				Expect(decision.RunPhase2).To(BeTrue())
				Expect(decision.RunPhase3).To(BeTrue())
				Expect(decision.Priority).To(Equal(types.PriorityHigh))
			})
		})

		Context("when a high-value money entity is recognized", func() {
			It("should escalate to Phase-2 and Phase-3", func() {
				phase1 := types.Phase1Result{
					UrgencyScore: 0,
					Entities: types.Entities{
						MoneyValues: []types.MoneyValue{{MinorUnits: 6000000}},
					},
				}
				chain := types.Chain{Completeness: 0}

				decision, err := r.Decide(ctx, phase1, chain, th)

				Expect(err).NotTo(HaveOccurred())
				Expect(decision.RunPhase2).To(BeTrue())
				Expect(decision.RunPhase3).To(BeTrue())
			})
		})

		Context("when money and urgency both trigger", func() {
			It("should assign critical priority", func() {
				phase1 := types.Phase1Result{
					UrgencyScore: 2,
					Entities: types.Entities{
						MoneyValues: []types.MoneyValue{{MinorUnits: 6000000}},
					},
				}
				chain := types.Chain{Completeness: 0}

				decision, err := r.Decide(ctx, phase1, chain, th)

				Expect(err).NotTo(HaveOccurred())
				Expect(decision.Priority).To(Equal(types.PriorityCritical))
			})
		})

		Context("when a competitive keyword is present", func() {
			It("should escalate to Phase-2 and Phase-3", func() {
				phase1 := types.Phase1Result{
					UrgencyScore: 0,
					KeyPhrases:   []string{"competitor"},
				}
				chain := types.Chain{Completeness: 0}

				decision, err := r.Decide(ctx, phase1, chain, th)

				Expect(err).NotTo(HaveOccurred())
				Expect(decision.RunPhase2).To(BeTrue())
				Expect(decision.RunPhase3).To(BeTrue())
			})
		})

		Context("when an operator-configured keyword outside the fixed urgency-phrase list is present", func() {
			It("should still escalate to Phase-2 and Phase-3 via NormalizedText", func() {
				phase1 := types.Phase1Result{
					UrgencyScore:   0,
					NormalizedText: "please expedite this shipment",
				}
				chain := types.Chain{Completeness: 0}

				decision, err := r.Decide(ctx, phase1, chain, th)

				Expect(err).NotTo(HaveOccurred())
				Expect(decision.RunPhase2).To(BeTrue())
				Expect(decision.RunPhase3).To(BeTrue())
			})
		})

		Context("when the chain is complete but nothing else triggers", func() {
			It("should run Phase-2 only, at medium priority", func() {
				phase1 := types.Phase1Result{UrgencyScore: 0}
				chain := types.Chain{Completeness: 75}

				decision, err := r.Decide(ctx, phase1, chain, th)

				Expect(err).NotTo(HaveOccurred())
				Expect(decision.RunPhase2).To(BeTrue())
				Expect(decision.RunPhase3).To(BeFalse())
				Expect(decision.Priority).To(Equal(types.PriorityMedium))
			})
		})

		Context("when nothing triggers", func() {
			It("should run neither phase, at low priority", func() {
				phase1 := types.Phase1Result{UrgencyScore: 0}
				chain := types.Chain{Completeness: 5}

				decision, err := r.Decide(ctx, phase1, chain, th)

				Expect(err).NotTo(HaveOccurred())
				Expect(decision.RunPhase2).To(BeFalse())
				Expect(decision.RunPhase3).To(BeFalse())
				Expect(decision.Priority).To(Equal(types.PriorityLow))
			})
		})
	})

	Describe("LoadPolicy", func() {
		Context("with a syntactically invalid policy", func() {
			It("should return an error and keep the previous policy active", func() {
				err := r.LoadPolicy("package emailpipeline.router\n\nrun_phase2 := [")
				Expect(err).To(HaveOccurred())

				// Previous (default) policy must still be evaluable.
				decision, evalErr := r.Decide(ctx, types.Phase1Result{UrgencyScore: 2}, types.Chain{}, th)
				Expect(evalErr).NotTo(HaveOccurred())
				Expect(decision.RunPhase2).To(BeTrue())
			})
		})

		Context("with a valid custom policy", func() {
			It("should apply the new rules", func() {
				customPolicy := `
package emailpipeline.router

default run_phase2 := false
default run_phase3 := false
default priority := "low"

run_phase2 := true
priority := "critical"
`
				err := r.LoadPolicy(customPolicy)
				Expect(err).NotTo(HaveOccurred())

				decision, evalErr := r.Decide(ctx, types.Phase1Result{}, types.Chain{}, th)
				Expect(evalErr).NotTo(HaveOccurred())
				Expect(decision.RunPhase2).To(BeTrue())
				Expect(decision.Priority).To(Equal(types.PriorityCritical))
			})
		})
	})
})
