// Command orchestratord is the composition root for the deployment
// orchestrator: it loads config, wires every collaborator pkg/orchestrator
// needs, starts the background job processor, and serves the HTTP control
// plane until signalled to shut down. Exit codes follow spec §6: 0 on a
// clean shutdown, 1 on any startup or fatal runtime failure.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/kubernaut-deploy/orchestrator/internal/api"
	"github.com/kubernaut-deploy/orchestrator/internal/config"
	"github.com/kubernaut-deploy/orchestrator/internal/database"
	"github.com/kubernaut-deploy/orchestrator/pkg/approval"
	"github.com/kubernaut-deploy/orchestrator/pkg/cluster"
	"github.com/kubernaut-deploy/orchestrator/pkg/events"
	"github.com/kubernaut-deploy/orchestrator/pkg/idempotency"
	"github.com/kubernaut-deploy/orchestrator/pkg/job"
	"github.com/kubernaut-deploy/orchestrator/pkg/lock"
	"github.com/kubernaut-deploy/orchestrator/pkg/metrics"
	"github.com/kubernaut-deploy/orchestrator/pkg/orchestrator"
	"github.com/kubernaut-deploy/orchestrator/pkg/strategy"
	"github.com/kubernaut-deploy/orchestrator/pkg/tracker"
	"github.com/kubernaut-deploy/orchestrator/pkg/types"
)

func main() {
	if err := run(); err != nil {
		logrus.WithError(err).Error("orchestratord exited with an error")
		os.Exit(1)
	}
}

func run() error {
	configPath := os.Getenv("ORCHESTRATOR_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}

	watcher, err := config.NewWatcher(configPath, logrus.StandardLogger())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	go watcher.Run()
	defer watcher.Close()

	cfg := watcher.Current()
	logger := newLogger(cfg.Log)

	dbHandles, err := database.Connect(context.Background(), cfg.Database.ToDatabaseConfig(), logger)
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	defer dbHandles.Close()
	pool, sqlxDB := dbHandles.Pool, dbHandles.SQL

	var redisClient *redis.Client
	if cfg.LockBackend == config.BackendRedis || cfg.IdempotencyBackend == config.BackendRedis {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer redisClient.Close()
	}

	locker, err := buildLocker(cfg.LockBackend, pool, redisClient, logger)
	if err != nil {
		return err
	}
	idemStore := buildIdempotencyStore(cfg.IdempotencyBackend, redisClient)

	registry := cluster.NewRegistry()
	registerSeedNodes(registry, cfg.Nodes, idemStore)

	trk := tracker.New(tracker.DefaultRetention)
	metricsProvider := metrics.NewProvider()
	approvalRepo := approval.NewPostgresRepository(sqlxDB, logger)
	approvals := approval.New(approvalRepo, nil)

	notifyListener := approval.NewNotifyListener(cfg.Database.ToDatabaseConfig().ConnectionString(), approvals, logger)
	notifyCtx, cancelNotify := context.WithCancel(context.Background())
	defer cancelNotify()
	go func() {
		if err := notifyListener.Run(notifyCtx); err != nil && notifyCtx.Err() == nil {
			logger.WithError(err).Warn("approval notify listener stopped")
		}
	}()

	strategies := []strategy.Strategy{
		strategy.NewDirect(logger),
		strategy.NewRolling(logger),
		strategy.NewBlueGreen(logger, metricsProvider),
		strategy.NewCanary(logger, metricsProvider),
	}

	sink := events.NewMultiSink(events.NewLoggingSink(logger))
	orch := orchestrator.New(registry, locker, trk, approvals, strategies, sink, logger)
	orch.AcquireTimeout = cfg.Pipeline.AcquireTimeout
	orch.ApprovalTimeout = cfg.Pipeline.ApprovalTimeout
	orch.CancellationGrace = cfg.Pipeline.CancellationGrace

	jobStore := job.NewPostgresStore(pool, logger)
	processor := job.NewProcessor(jobStore, orch, logger)
	processor.MaxConcurrentJobs = cfg.Job.MaxConcurrentJobs
	processor.LeaseDuration = cfg.Job.LeaseDuration
	processor.PollInterval = cfg.Job.PollInterval

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go processor.Run(ctx)
	go runApprovalSweeper(ctx, approvals, cfg.Pipeline.ApprovalSweepInterval, logger)

	httpServer := buildHTTPServer(cfg, trk, jobStore, approvals, registry, metricsProvider, logger)
	serveErr := make(chan error, 1)
	go func() {
		logger.WithField("addr", cfg.HTTP.ListenAddr).Info("starting HTTP control plane")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("HTTP server stopped unexpectedly")
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serveErr:
		return fmt.Errorf("serving HTTP: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func newLogger(cfg config.LogConfig) *logrus.Logger {
	l := logrus.New()
	if level, err := logrus.ParseLevel(cfg.Level); err == nil {
		l.SetLevel(level)
	}
	if cfg.Format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{})
	}
	return l
}

func buildLocker(backend config.Backend, pool *pgxpool.Pool, redisClient *redis.Client, logger logrus.FieldLogger) (lock.Locker, error) {
	switch backend {
	case config.BackendPostgres:
		return lock.NewPostgresLocker(pool, logger), nil
	case config.BackendRedis:
		return lock.NewRedisLocker(redisClient, logger), nil
	case config.BackendInProcess:
		return lock.NewInProcessLocker(), nil
	default:
		return nil, fmt.Errorf("unknown lock backend %q", backend)
	}
}

func buildIdempotencyStore(backend config.Backend, redisClient *redis.Client) idempotency.Store {
	if backend == config.BackendRedis {
		return idempotency.NewRedisStore(redisClient, idempotency.DefaultTTL)
	}
	return idempotency.NewInMemoryStore(idempotency.DefaultTTL)
}

func registerSeedNodes(registry *cluster.Registry, seeds []config.SeedNode, idemStore idempotency.Store) {
	for _, s := range seeds {
		info := types.NodeInfo{
			NodeID:      s.NodeID,
			Hostname:    s.Hostname,
			Port:        s.Port,
			Environment: types.Environment(s.Environment),
			Status:      types.NodeStatusUnknown,
		}
		node := cluster.NewIdempotentNode(cluster.NewHTTPNode(info), idemStore)
		registry.Register(types.Environment(s.Environment), node)
	}
}

func buildHTTPServer(
	cfg config.Config,
	trk *tracker.DeploymentTracker,
	jobs job.Store,
	approvals *approval.Service,
	registry *cluster.Registry,
	metricsProvider *metrics.Provider,
	logger logrus.FieldLogger,
) *http.Server {
	srv := api.NewServer(trk, jobs, approvals, registry, metricsProvider, logger)
	srv.CORSOrigins = cfg.HTTP.CORSOrigins
	return &http.Server{
		Addr:         cfg.HTTP.ListenAddr,
		Handler:      srv.Router(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}
}

// runApprovalSweeper periodically expires approval requests past their
// deadline, per spec §4.5's timeout-driven auto-rejection. interval must
// stay at or under a second so expiry is visible to callers within the
// ≤1s promptness spec §4.5 asks for; Config.Pipeline.Validate enforces that.
func runApprovalSweeper(ctx context.Context, approvals *approval.Service, interval time.Duration, logger logrus.FieldLogger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := approvals.Sweep(ctx)
			if err != nil {
				logger.WithError(err).Warn("approval sweep failed")
				continue
			}
			if n > 0 {
				logger.WithField("expired", n).Info("expired pending approvals")
			}
		}
	}
}
