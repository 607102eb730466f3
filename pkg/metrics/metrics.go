// Package metrics implements the ClusterMetricsProvider seam SPEC_FULL.md
// §4 adds: an in-memory, ring-buffer-backed source of per-environment
// metrics samples. It is deliberately not an export pipeline — this core
// consumes metrics for its own strategy decisions, it does not publish
// them to Prometheus/OTel (both out of scope per spec §1).
package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/kubernaut-deploy/orchestrator/pkg/strategy"
	"github.com/kubernaut-deploy/orchestrator/pkg/types"
)

const defaultRingSize = 64

// Sample is one observation recorded for an environment.
type Sample struct {
	ErrorRate    float64
	AvgLatencyMS float64
	ObservedAt   time.Time
}

// Provider is an in-memory ClusterMetricsProvider implementation. Callers
// feed it samples (e.g. from node health checks or an external webhook);
// strategy.BlueGreen and strategy.Canary consume Snapshot through the
// strategy.MetricsProvider interface, and the /clusters/{env}/metrics
// endpoint reads the same ring buffers directly.
type Provider struct {
	mu      sync.Mutex
	ringSize int
	rings   map[types.Environment][]Sample
}

func NewProvider() *Provider {
	return &Provider{ringSize: defaultRingSize, rings: make(map[types.Environment][]Sample)}
}

// Record appends a sample for env, evicting the oldest sample once the
// ring reaches its capacity.
func (p *Provider) Record(env types.Environment, sample Sample) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ring := p.rings[env]
	ring = append(ring, sample)
	if len(ring) > p.ringSize {
		ring = ring[len(ring)-p.ringSize:]
	}
	p.rings[env] = ring
}

// Snapshot returns the average of every retained sample for env, as
// strategy.Metrics. An environment with no samples yet returns zero error
// rate and latency, stamped with the current time — callers treat that as
// "no signal, proceed".
func (p *Provider) Snapshot(_ context.Context, env types.Environment) (strategy.Metrics, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ring := p.rings[env]
	if len(ring) == 0 {
		return strategy.Metrics{SampledAt: time.Now()}, nil
	}
	var errSum, latSum float64
	for _, s := range ring {
		errSum += s.ErrorRate
		latSum += s.AvgLatencyMS
	}
	n := float64(len(ring))
	return strategy.Metrics{
		ErrorRate:    errSum / n,
		AvgLatencyMS: latSum / n,
		SampledAt:    ring[len(ring)-1].ObservedAt,
	}, nil
}

// Recent returns up to limit of the most recent samples for env, newest
// last, for the /clusters/{env}/metrics endpoint.
func (p *Provider) Recent(env types.Environment, limit int) []Sample {
	p.mu.Lock()
	defer p.mu.Unlock()
	ring := p.rings[env]
	if limit <= 0 || limit > len(ring) {
		limit = len(ring)
	}
	out := make([]Sample, limit)
	copy(out, ring[len(ring)-limit:])
	return out
}
