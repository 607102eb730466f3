package strategy

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"

	"github.com/kubernaut-deploy/orchestrator/pkg/types"
)

var _ = Describe("Rolling", func() {
	var (
		logger  *logrus.Logger
		request types.DeploymentRequest
		r       *Rolling
	)

	BeforeEach(func() {
		logger = logrus.New()
		logger.SetOutput(GinkgoWriter)
		request = types.DeploymentRequest{
			ModuleName:        "billing",
			Version:           "2.0.0",
			TargetEnvironment: types.EnvironmentStaging,
		}
		r = NewRolling(logger)
		r.MaxConcurrent = 2
		r.sleep = func(time.Duration) {} // no real waiting in tests
	})

	It("deploys in batches of MaxConcurrent and succeeds when all are healthy", func() {
		n1, n2, n3, n4, n5 := newFakeNode("a"), newFakeNode("b"), newFakeNode("c"), newFakeNode("d"), newFakeNode("e")

		result := r.Deploy(context.Background(), request, nodesOf(n1, n2, n3, n4, n5))

		Expect(result.Success).To(BeTrue())
		Expect(result.NodeResults).To(HaveLen(5))
	})

	It("rolls back everything deployed so far when a later batch fails", func() {
		n1, n2, n3, n4 := newFakeNode("a"), newFakeNode("b"), newFakeNode("c"), newFakeNode("d")
		n3.failDeploy = true

		result := r.Deploy(context.Background(), request, nodesOf(n1, n2, n3, n4))

		Expect(result.Success).To(BeFalse())
		Expect(result.RollbackPerformed).To(BeTrue())
		Expect(n1.rollbackCount()).To(Equal(1))
		Expect(n2.rollbackCount()).To(Equal(1))
		Expect(n4.rollbackCount()).To(Equal(1), "n4 succeeded in the failing batch, so it is rolled back too")
	})

	It("rolls back when a post-batch health check finds an unhealthy node", func() {
		n1, n2, n3, n4 := newFakeNode("a"), newFakeNode("b"), newFakeNode("c"), newFakeNode("d")
		n1.unhealthy = true

		result := r.Deploy(context.Background(), request, nodesOf(n1, n2, n3, n4))

		Expect(result.Success).To(BeFalse())
		Expect(result.RollbackPerformed).To(BeTrue())
		Expect(n1.rollbackCount()).To(Equal(1))
		Expect(n2.rollbackCount()).To(Equal(1))
	})

	It("skips the health-check wait after the final batch", func() {
		n1, n2 := newFakeNode("a"), newFakeNode("b")
		slept := 0
		r.sleep = func(time.Duration) { slept++ }

		result := r.Deploy(context.Background(), request, nodesOf(n1, n2))

		Expect(result.Success).To(BeTrue())
		Expect(slept).To(Equal(0), "a single full batch is also the last batch, so no wait should occur")
	})
})
