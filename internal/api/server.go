// Package api implements the HTTP control plane spec §6 defines, on top
// of go-chi/chi the way the teacher's gateway package wires its router
// and CORS middleware, with go-playground/validator doing request-body
// validation before a handler ever touches the orchestrator core.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/kubernaut-deploy/orchestrator/pkg/approval"
	"github.com/kubernaut-deploy/orchestrator/pkg/cluster"
	"github.com/kubernaut-deploy/orchestrator/pkg/job"
	"github.com/kubernaut-deploy/orchestrator/pkg/metrics"
	"github.com/kubernaut-deploy/orchestrator/pkg/tracker"
)

// Server holds every collaborator the HTTP handlers need. It never runs
// the pipeline itself: POST /deployments only enqueues a job row, leaving
// pkg/job.Processor to drive the orchestrator asynchronously.
type Server struct {
	tracker   *tracker.DeploymentTracker
	jobs      job.Store
	approvals *approval.Service
	registry  *cluster.Registry
	metrics   *metrics.Provider
	logger    logrus.FieldLogger
	validate  *validator.Validate

	CORSOrigins []string
}

func NewServer(
	t *tracker.DeploymentTracker,
	jobs job.Store,
	approvals *approval.Service,
	registry *cluster.Registry,
	metricsProvider *metrics.Provider,
	logger logrus.FieldLogger,
) *Server {
	return &Server{
		tracker:     t,
		jobs:        jobs,
		approvals:   approvals,
		registry:    registry,
		metrics:     metricsProvider,
		logger:      logger,
		validate:    validator.New(),
		CORSOrigins: []string{"*"},
	}
}

// Router builds the chi router for /api/v1, matching the teacher's
// CORS-middleware-then-routes layering.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Authorization"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/deployments", s.handleCreateDeployment)
		r.Get("/deployments", s.handleListDeployments)
		r.Get("/deployments/{id}", s.handleGetDeployment)
		r.Post("/deployments/{id}/rollback", s.handleRollback)
		r.Post("/deployments/{id}/cancel", s.handleCancel)
		r.Post("/approvals/deployments/{id}/approve", s.handleApprove)
		r.Post("/approvals/deployments/{id}/reject", s.handleReject)
		r.Get("/clusters", s.handleListClusters)
		r.Get("/clusters/{env}", s.handleGetCluster)
		r.Get("/clusters/{env}/metrics", s.handleClusterMetrics)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "time": time.Now().UTC().Format(time.RFC3339)})
}
