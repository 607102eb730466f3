package strategy

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"

	"github.com/kubernaut-deploy/orchestrator/pkg/types"
)

var _ = Describe("Canary", func() {
	var (
		logger  *logrus.Logger
		request types.DeploymentRequest
	)

	BeforeEach(func() {
		logger = logrus.New()
		logger.SetOutput(GinkgoWriter)
		request = types.DeploymentRequest{
			ModuleName:        "search",
			Version:           "4.0.0",
			TargetEnvironment: types.EnvironmentProduction,
		}
	})

	It("rolls out through every phase and succeeds when the predicate never trips", func() {
		c := NewCanary(logger, nil)
		c.sleep = func(time.Duration) {}
		nodes := make([]*fakeNode, 10)
		for i := range nodes {
			nodes[i] = newFakeNode(string(rune('a' + i)))
		}

		result := c.Deploy(context.Background(), request, nodesOf(nodes[0], nodes[1], nodes[2], nodes[3], nodes[4], nodes[5], nodes[6], nodes[7], nodes[8], nodes[9]))

		Expect(result.Success).To(BeTrue())
		Expect(result.NodeResults).To(HaveLen(10))
	})

	It("rolls back every deployed node when the error-rate predicate trips mid-rollout", func() {
		provider := &fakeMetricsProvider{samples: []Metrics{{ErrorRate: 0.5}}}
		c := NewCanary(logger, provider)
		c.sleep = func(time.Duration) {}
		n := make([]*fakeNode, 10)
		for i := range n {
			n[i] = newFakeNode(string(rune('a' + i)))
		}

		result := c.Deploy(context.Background(), request, nodesOf(n[0], n[1], n[2], n[3], n[4], n[5], n[6], n[7], n[8], n[9]))

		Expect(result.Success).To(BeFalse())
		Expect(result.RollbackPerformed).To(BeTrue())
		Expect(n[0].rollbackCount()).To(Equal(1), "the first phase's node should have been rolled back")
	})

	It("rolls back only the nodes deployed so far when a node fails mid-phase", func() {
		c := NewCanary(logger, nil)
		c.sleep = func(time.Duration) {}
		n := make([]*fakeNode, 4)
		for i := range n {
			n[i] = newFakeNode(string(rune('a' + i)))
		}
		n[0].failDeploy = true

		result := c.Deploy(context.Background(), request, nodesOf(n[0], n[1], n[2], n[3]))

		Expect(result.Success).To(BeFalse())
		Expect(n[0].rollbackCount()).To(Equal(0), "a node that never succeeded should not be rolled back")
	})
})
