package strategy

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"

	"github.com/kubernaut-deploy/orchestrator/pkg/types"
)

var _ = Describe("Direct", func() {
	var (
		logger  *logrus.Logger
		request types.DeploymentRequest
	)

	BeforeEach(func() {
		logger = logrus.New()
		logger.SetOutput(GinkgoWriter)
		request = types.DeploymentRequest{
			ModuleName:        "auth",
			Version:           "1.0.0",
			TargetEnvironment: types.EnvironmentDevelopment,
		}
	})

	It("deploys to all nodes and succeeds when every node succeeds", func() {
		n1, n2, n3 := newFakeNode("a"), newFakeNode("b"), newFakeNode("c")
		d := NewDirect(logger)

		result := d.Deploy(context.Background(), request, nodesOf(n1, n2, n3))

		Expect(result.Success).To(BeTrue())
		Expect(result.NodeResults).To(HaveLen(3))
		Expect(result.RollbackPerformed).To(BeFalse())
	})

	It("rolls back every successful node when one node fails", func() {
		n1, n2 := newFakeNode("a"), newFakeNode("b")
		n2.failDeploy = true
		d := NewDirect(logger)

		result := d.Deploy(context.Background(), request, nodesOf(n1, n2))

		Expect(result.Success).To(BeFalse())
		Expect(result.RollbackPerformed).To(BeTrue())
		Expect(n1.rollbackCount()).To(Equal(1))
		Expect(n2.rollbackCount()).To(Equal(0), "a node that never succeeded should not be rolled back")
	})
})
