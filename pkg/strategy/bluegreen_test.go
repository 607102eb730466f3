package strategy

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"

	"github.com/kubernaut-deploy/orchestrator/pkg/types"
)

var _ = Describe("BlueGreen", func() {
	var (
		logger  *logrus.Logger
		request types.DeploymentRequest
	)

	BeforeEach(func() {
		logger = logrus.New()
		logger.SetOutput(GinkgoWriter)
		request = types.DeploymentRequest{
			ModuleName:        "checkout",
			Version:           "3.1.0",
			TargetEnvironment: types.EnvironmentProduction,
		}
	})

	Context("without a metrics provider (legacy mode)", func() {
		It("switches traffic after a fixed delay when deploy and smoke tests succeed", func() {
			bg := NewBlueGreen(logger, nil)
			bg.sleep = func(time.Duration) {}
			n1, n2 := newFakeNode("a"), newFakeNode("b")

			result := bg.Deploy(context.Background(), request, nodesOf(n1, n2))

			Expect(result.Success).To(BeTrue())
		})

		It("never rolls back on deploy failure, since green was standby", func() {
			bg := NewBlueGreen(logger, nil)
			bg.sleep = func(time.Duration) {}
			n1, n2 := newFakeNode("a"), newFakeNode("b")
			n2.failDeploy = true

			result := bg.Deploy(context.Background(), request, nodesOf(n1, n2))

			Expect(result.Success).To(BeFalse())
			Expect(result.RollbackPerformed).To(BeFalse())
			Expect(n1.rollbackCount()).To(Equal(0))
		})

		It("fails without rollback when smoke tests find an unhealthy node", func() {
			bg := NewBlueGreen(logger, nil)
			bg.sleep = func(time.Duration) {}
			n1, n2 := newFakeNode("a"), newFakeNode("b")
			n2.unhealthy = true

			result := bg.Deploy(context.Background(), request, nodesOf(n1, n2))

			Expect(result.Success).To(BeFalse())
			Expect(result.RollbackPerformed).To(BeFalse())
		})
	})

	Context("with a metrics provider", func() {
		It("waits for stabilization before smoke-testing and succeeds", func() {
			provider := &fakeMetricsProvider{samples: []Metrics{
				{ErrorRate: 0.01}, {ErrorRate: 0.01}, {ErrorRate: 0.01}, {ErrorRate: 0.01},
			}}
			bg := NewBlueGreen(logger, provider)
			bg.sleep = func(time.Duration) {}
			bg.StabilizationSamplesNeeded = 2
			n1, n2 := newFakeNode("a"), newFakeNode("b")

			result := bg.Deploy(context.Background(), request, nodesOf(n1, n2))

			Expect(result.Success).To(BeTrue())
		})

		It("fails when metrics never stabilize before the deadline", func() {
			// The first sample is the baseline; every later sample stays far
			// outside tolerance of it.
			provider := &fakeMetricsProvider{samples: []Metrics{{ErrorRate: 0.01}, {ErrorRate: 0.9}}}
			bg := NewBlueGreen(logger, provider)
			bg.StabilizationDeadline = 30 * time.Millisecond
			bg.StabilizationSampleInterval = 10 * time.Millisecond
			bg.sleep = time.Sleep
			n1, n2 := newFakeNode("a"), newFakeNode("b")

			result := bg.Deploy(context.Background(), request, nodesOf(n1, n2))

			Expect(result.Success).To(BeFalse())
			Expect(result.RollbackPerformed).To(BeFalse())
		})
	})
})
