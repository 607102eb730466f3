package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"

	"github.com/kubernaut-deploy/orchestrator/pkg/approval"
	"github.com/kubernaut-deploy/orchestrator/pkg/cluster"
	"github.com/kubernaut-deploy/orchestrator/pkg/job"
	"github.com/kubernaut-deploy/orchestrator/pkg/metrics"
	"github.com/kubernaut-deploy/orchestrator/pkg/tracker"
	"github.com/kubernaut-deploy/orchestrator/pkg/types"
)

type fakeNode struct {
	info types.NodeInfo
}

func (f *fakeNode) Info() types.NodeInfo { return f.info }
func (f *fakeNode) DeployModule(ctx context.Context, module types.ModuleRef) (types.NodeDeploymentResult, error) {
	return types.NodeDeploymentResult{NodeID: f.info.NodeID, Success: true}, nil
}
func (f *fakeNode) RollbackModule(ctx context.Context, moduleName string) (types.NodeRollbackResult, error) {
	return types.NodeRollbackResult{NodeID: f.info.NodeID, Success: true}, nil
}
func (f *fakeNode) GetHealth(ctx context.Context) (types.NodeHealth, error) {
	return types.NodeHealth{NodeID: f.info.NodeID, IsHealthy: true, Status: types.NodeStatusHealthy}, nil
}

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

var _ = Describe("HTTP control plane", func() {
	var (
		srv *Server
		ts  *httptest.Server
		trk *tracker.DeploymentTracker
		jobs *job.InMemoryStore
		approvals *approval.Service
		registry *cluster.Registry
	)

	BeforeEach(func() {
		trk = tracker.New(time.Hour)
		jobs = job.NewInMemoryStore()
		approvals = approval.New(approval.NewInMemoryRepository(), nil)
		registry = cluster.NewRegistry()
		registry.Register(types.EnvironmentDevelopment, &fakeNode{info: types.NodeInfo{NodeID: "n1", Hostname: "a"}})

		srv = NewServer(trk, jobs, approvals, registry, metrics.NewProvider(), discardLogger())
		ts = httptest.NewServer(srv.Router())
	})

	AfterEach(func() {
		ts.Close()
	})

	It("accepts a valid deployment request with 202 and an execution id", func() {
		body := map[string]interface{}{
			"ModuleName":         "auth",
			"Version":            "1.0.0",
			"TargetEnvironment":  "Development",
			"DeploymentStrategy": "Direct",
			"RequesterEmail":     "dev@example.com",
		}
		raw, _ := json.Marshal(body)

		resp, err := http.Post(ts.URL+"/api/v1/deployments", "application/json", bytes.NewReader(raw))
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusAccepted))

		var out createDeploymentResponse
		Expect(json.NewDecoder(resp.Body).Decode(&out)).To(Succeed())
		Expect(out.ExecutionID).NotTo(BeEmpty())
		Expect(out.Status).To(Equal("Accepted"))
	})

	It("rejects a request missing required fields with 400", func() {
		raw, _ := json.Marshal(map[string]interface{}{"ModuleName": "auth"})
		resp, err := http.Post(ts.URL+"/api/v1/deployments", "application/json", bytes.NewReader(raw))
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
	})

	It("rejects an unknown target environment with 400", func() {
		body := map[string]interface{}{
			"ModuleName": "auth", "Version": "1.0.0", "TargetEnvironment": "Nonexistent",
			"DeploymentStrategy": "Direct", "RequesterEmail": "dev@example.com",
		}
		raw, _ := json.Marshal(body)
		resp, err := http.Post(ts.URL+"/api/v1/deployments", "application/json", bytes.NewReader(raw))
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
	})

	It("returns 404 for an unknown deployment id", func() {
		resp, err := http.Get(ts.URL + "/api/v1/deployments/does-not-exist")
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
	})

	It("reports a tracked execution's status", func() {
		trk.Start(types.DeploymentRequest{ExecutionID: "exec-1", ModuleName: "auth", Version: "1.0.0"})
		_ = trk.SetStatus("exec-1", types.PipelineStatusSucceeded)

		resp, err := http.Get(ts.URL + "/api/v1/deployments/exec-1")
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		var out deploymentStatusResponse
		Expect(json.NewDecoder(resp.Body).Decode(&out)).To(Succeed())
		Expect(out.Status).To(Equal("Succeeded"))
	})

	It("returns 409 when rollback is requested for a non-terminal execution", func() {
		trk.Start(types.DeploymentRequest{ExecutionID: "exec-2", ModuleName: "auth", Version: "1.0.0", TargetEnvironment: types.EnvironmentDevelopment})
		_ = trk.SetStatus("exec-2", types.PipelineStatusExecuting)

		resp, err := http.Post(ts.URL+"/api/v1/deployments/exec-2/rollback", "application/json", nil)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusConflict))
	})

	It("rolls back a succeeded execution across every node", func() {
		trk.Start(types.DeploymentRequest{ExecutionID: "exec-3", ModuleName: "auth", Version: "1.0.0", TargetEnvironment: types.EnvironmentDevelopment})
		_ = trk.SetStatus("exec-3", types.PipelineStatusSucceeded)

		resp, err := http.Post(ts.URL+"/api/v1/deployments/exec-3/rollback", "application/json", nil)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		var out rollbackResponse
		Expect(json.NewDecoder(resp.Body).Decode(&out)).To(Succeed())
		Expect(out.NodesAffected).To(Equal(1))
	})

	It("lists clusters and returns a cluster's detail", func() {
		resp, err := http.Get(ts.URL + "/api/v1/clusters")
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		var out []clusterSummaryDTO
		Expect(json.NewDecoder(resp.Body).Decode(&out)).To(Succeed())
		Expect(out).To(HaveLen(1))
		Expect(out[0].TotalNodes).To(Equal(1))

		detailResp, err := http.Get(ts.URL + "/api/v1/clusters/Development")
		Expect(err).NotTo(HaveOccurred())
		defer detailResp.Body.Close()
		Expect(detailResp.StatusCode).To(Equal(http.StatusOK))
	})

	It("reports healthy on GET /health", func() {
		resp, err := http.Get(ts.URL + "/health")
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
	})

	It("rejects an approval decision from an unlisted approver with 401", func() {
		trk.Start(types.DeploymentRequest{ExecutionID: "exec-4", ModuleName: "auth", Version: "1.0.0"})
		_, err := approvals.RequestApproval(context.Background(), "exec-4", "appr-1", types.DeploymentRequest{
			ExecutionID: "exec-4", ApproverEmails: []string{"lead@example.com"},
		}, time.Hour)
		Expect(err).NotTo(HaveOccurred())

		raw, _ := json.Marshal(approvalDecisionRequest{ApproverEmail: "stranger@example.com", Reason: "no"})
		resp, err := http.Post(ts.URL+"/api/v1/approvals/deployments/exec-4/approve", "application/json", bytes.NewReader(raw))
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
	})
})
