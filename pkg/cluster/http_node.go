package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	sharedhttp "github.com/kubernaut-deploy/orchestrator/pkg/shared/http"
	"github.com/kubernaut-deploy/orchestrator/pkg/types"
)

// HTTPNode talks to a node's deploy agent over HTTP. Its calls are wrapped
// in a circuit breaker so one unreachable node fails fast for the rest of
// a strategy's run instead of holding up the node's goroutine on every
// retry-worthy batch.
type HTTPNode struct {
	info    types.NodeInfo
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	baseURL string
}

func NewHTTPNode(info types.NodeInfo) *HTTPNode {
	name := fmt.Sprintf("node-client:%s", info.NodeID)
	return &HTTPNode{
		info:    info,
		client:  sharedhttp.NewDefaultClient(),
		baseURL: fmt.Sprintf("http://%s:%d", info.Hostname, info.Port),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}),
	}
}

func (n *HTTPNode) Info() types.NodeInfo { return n.info }

type deployRequestBody struct {
	ModuleName string `json:"module_name"`
	Version    string `json:"version"`
}

func (n *HTTPNode) DeployModule(ctx context.Context, module types.ModuleRef) (types.NodeDeploymentResult, error) {
	start := time.Now()
	body, _ := json.Marshal(deployRequestBody{ModuleName: module.ModuleName, Version: module.Version})

	_, err := n.breaker.Execute(func() (interface{}, error) {
		return n.post(ctx, "/modules/deploy", body)
	})
	if err != nil {
		return types.NodeDeploymentResult{NodeID: n.info.NodeID, Success: false, Message: err.Error(), Duration: timed(start)}, nil
	}
	return types.NodeDeploymentResult{NodeID: n.info.NodeID, Success: true, Message: "deployed", Duration: timed(start)}, nil
}

func (n *HTTPNode) RollbackModule(ctx context.Context, moduleName string) (types.NodeRollbackResult, error) {
	body, _ := json.Marshal(map[string]string{"module_name": moduleName})
	_, err := n.breaker.Execute(func() (interface{}, error) {
		return n.post(ctx, "/modules/rollback", body)
	})
	if err != nil {
		return types.NodeRollbackResult{NodeID: n.info.NodeID, Success: false, Message: err.Error()}, nil
	}
	return types.NodeRollbackResult{NodeID: n.info.NodeID, Success: true, Message: "rolled back"}, nil
}

func (n *HTTPNode) GetHealth(ctx context.Context) (types.NodeHealth, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.baseURL+"/health", nil)
	if err != nil {
		return types.NodeHealth{NodeID: n.info.NodeID, IsHealthy: false, Status: types.NodeStatusUnknown}, nil
	}

	resp, err := n.breaker.Execute(func() (interface{}, error) {
		return n.client.Do(req)
	})
	if err != nil {
		return types.NodeHealth{NodeID: n.info.NodeID, IsHealthy: false, Status: types.NodeStatusUnhealthy, LastHeartbeat: n.info.LastHeartbeat}, nil
	}
	httpResp := resp.(*http.Response)
	defer httpResp.Body.Close()

	healthy := httpResp.StatusCode == http.StatusOK
	status := types.NodeStatusHealthy
	if !healthy {
		status = types.NodeStatusUnhealthy
	}
	return types.NodeHealth{NodeID: n.info.NodeID, IsHealthy: healthy, Status: status, LastHeartbeat: time.Now()}, nil
}

func (n *HTTPNode) post(ctx context.Context, path string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("node %s returned status %d", n.info.NodeID, resp.StatusCode)
	}
	return resp, nil
}
