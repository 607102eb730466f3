package orchestrator

import (
	"context"
	"io"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"

	apperrors "github.com/kubernaut-deploy/orchestrator/internal/errors"
	"github.com/kubernaut-deploy/orchestrator/pkg/approval"
	"github.com/kubernaut-deploy/orchestrator/pkg/cluster"
	"github.com/kubernaut-deploy/orchestrator/pkg/events"
	"github.com/kubernaut-deploy/orchestrator/pkg/lock"
	"github.com/kubernaut-deploy/orchestrator/pkg/strategy"
	"github.com/kubernaut-deploy/orchestrator/pkg/tracker"
	"github.com/kubernaut-deploy/orchestrator/pkg/types"
)

type fakeNode struct {
	info       types.NodeInfo
	failDeploy bool
}

func (f *fakeNode) Info() types.NodeInfo { return f.info }
func (f *fakeNode) DeployModule(ctx context.Context, module types.ModuleRef) (types.NodeDeploymentResult, error) {
	if f.failDeploy {
		return types.NodeDeploymentResult{NodeID: f.info.NodeID, Success: false, Message: "boom"}, nil
	}
	return types.NodeDeploymentResult{NodeID: f.info.NodeID, Success: true}, nil
}
func (f *fakeNode) RollbackModule(ctx context.Context, moduleName string) (types.NodeRollbackResult, error) {
	return types.NodeRollbackResult{NodeID: f.info.NodeID, Success: true}, nil
}
func (f *fakeNode) GetHealth(ctx context.Context) (types.NodeHealth, error) {
	return types.NodeHealth{NodeID: f.info.NodeID, IsHealthy: true, Status: types.NodeStatusHealthy}, nil
}

type alwaysTimeoutLocker struct{}

func (alwaysTimeoutLocker) AcquireLock(ctx context.Context, resource string, timeout time.Duration) (lock.Handle, error) {
	return nil, apperrors.NewLockTimeoutError(resource)
}

func testLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newDirectOnlyOrchestrator(registry *cluster.Registry, locker lock.Locker, approvals *approval.Service, sink events.Sink) (*Orchestrator, *tracker.DeploymentTracker) {
	trk := tracker.New(time.Hour)
	direct := strategy.NewDirect(testLogger())
	o := New(registry, locker, trk, approvals, []strategy.Strategy{direct}, sink, testLogger())
	o.AcquireTimeout = time.Second
	o.ApprovalTimeout = time.Second
	return o, trk
}

var _ = Describe("Orchestrator", func() {
	var (
		registry *cluster.Registry
		locker   lock.Locker
		approvals *approval.Service
		sink     *events.RecordingSink
		request  types.DeploymentRequest
	)

	BeforeEach(func() {
		registry = cluster.NewRegistry()
		registry.Register(types.EnvironmentDevelopment, &fakeNode{info: types.NodeInfo{NodeID: "n1", Hostname: "a"}})
		registry.Register(types.EnvironmentDevelopment, &fakeNode{info: types.NodeInfo{NodeID: "n2", Hostname: "b"}})

		locker = lock.NewInProcessLocker()
		approvals = approval.New(approval.NewInMemoryRepository(), nil)
		sink = events.NewRecordingSink()

		request = types.DeploymentRequest{
			ExecutionID:       "exec-1",
			ModuleName:        "auth",
			Version:           "1.0.0",
			TargetEnvironment: types.EnvironmentDevelopment,
			Strategy:          types.StrategyDirect,
		}
	})

	It("runs the happy path to Succeeded and emits a terminal event", func() {
		o, trk := newDirectOnlyOrchestrator(registry, locker, approvals, sink)

		err := o.Execute(context.Background(), request)
		Expect(err).NotTo(HaveOccurred())

		state, getErr := trk.Get("exec-1")
		Expect(getErr).NotTo(HaveOccurred())
		Expect(state.Status).To(Equal(types.PipelineStatusSucceeded))
		Expect(sink.Names()).To(ContainElement(events.DeploymentSucceeded))
	})

	It("fails validation for an unknown environment without touching the lock", func() {
		o, trk := newDirectOnlyOrchestrator(registry, locker, approvals, sink)
		request.TargetEnvironment = types.Environment("Nonexistent")

		err := o.Execute(context.Background(), request)
		Expect(err).To(HaveOccurred())
		Expect(apperrors.IsType(err, apperrors.ErrorTypeUnknownEnvironment)).To(BeTrue())

		state, _ := trk.Get("exec-1")
		Expect(state.Status).To(Equal(types.PipelineStatusFailed))
		for _, stage := range state.Stages {
			Expect(stage.Name).NotTo(Equal("Acquiring"))
		}
	})

	It("fails with LockTimeout when the lock cannot be acquired", func() {
		o, trk := newDirectOnlyOrchestrator(registry, alwaysTimeoutLocker{}, approvals, sink)

		err := o.Execute(context.Background(), request)
		Expect(err).To(HaveOccurred())
		Expect(apperrors.IsType(err, apperrors.ErrorTypeLockTimeout)).To(BeTrue())

		state, _ := trk.Get("exec-1")
		Expect(state.Status).To(Equal(types.PipelineStatusFailed))
	})

	It("fails with ApprovalRejected and never reaches Executing", func() {
		o, trk := newDirectOnlyOrchestrator(registry, locker, approvals, sink)
		request.RequireApproval = true
		request.ApproverEmails = []string{"lead@example.com"}

		done := make(chan error, 1)
		go func() { done <- o.Execute(context.Background(), request) }()

		Eventually(func() types.PipelineStatus {
			state, _ := trk.Get("exec-1")
			return state.Status
		}, time.Second).Should(Equal(types.PipelineStatusAwaitingApproval))

		Expect(approvals.Reject(context.Background(), "exec-1", "lead@example.com", "not ready")).NotTo(HaveOccurred())

		var err error
		Eventually(done, time.Second).Should(Receive(&err))
		Expect(err).To(HaveOccurred())
		Expect(apperrors.IsType(err, apperrors.ErrorTypeApprovalRejected)).To(BeTrue())

		state, _ := trk.Get("exec-1")
		Expect(state.Status).To(Equal(types.PipelineStatusFailed))
		for _, stage := range state.Stages {
			Expect(stage.Name).NotTo(Equal(string(types.StrategyDirect)))
		}
	})

	It("fails with ApprovalExpired once the timeout sweeps", func() {
		o, trk := newDirectOnlyOrchestrator(registry, locker, approvals, sink)
		o.ApprovalTimeout = 10 * time.Millisecond
		request.RequireApproval = true
		request.ApproverEmails = []string{"lead@example.com"}

		done := make(chan error, 1)
		go func() { done <- o.Execute(context.Background(), request) }()

		time.Sleep(20 * time.Millisecond)
		_, sweepErr := approvals.Sweep(context.Background())
		Expect(sweepErr).NotTo(HaveOccurred())

		var err error
		Eventually(done, time.Second).Should(Receive(&err))
		Expect(err).To(HaveOccurred())
		Expect(apperrors.IsType(err, apperrors.ErrorTypeApprovalExpired)).To(BeTrue())

		state, _ := trk.Get("exec-1")
		Expect(state.Status).To(Equal(types.PipelineStatusFailed))
	})
})
