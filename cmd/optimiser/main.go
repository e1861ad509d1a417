package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/nebulous-cloud/optimiser-pipeline/internal/app"
	"github.com/nebulous-cloud/optimiser-pipeline/internal/config"
	"github.com/nebulous-cloud/optimiser-pipeline/internal/logger"
	"github.com/nebulous-cloud/optimiser-pipeline/internal/metrics"
	"github.com/nebulous-cloud/optimiser-pipeline/internal/transport"
	"github.com/nebulous-cloud/optimiser-pipeline/internal/worker"
	"github.com/nebulous-cloud/optimiser-pipeline/pkg/engine"
	"github.com/nebulous-cloud/optimiser-pipeline/pkg/model"
)

func main() {
	cfg := config.Defaults()

	flag.StringVar(&cfg.EnginePath, "engine-path", "", "Installation path of the back-end solver engine.")
	flag.StringVar(&cfg.ModelWorkDir, "model-work-dir", cfg.ModelWorkDir, "Directory model and data files are persisted to.")
	flag.StringVar(&cfg.BrokerURL, "broker-url", "", "URL of the message broker.")
	flag.IntVar(&cfg.BrokerPort, "broker-port", cfg.BrokerPort, "Port of the message broker.")
	flag.StringVar(&cfg.TenantID, "tenant-id", "", "Tenant identifier stamped on every outbound message (mandatory).")
	flag.StringVar(&cfg.SolverIdentity, "solver-identity", "", "This solver instance's identifier on the bus.")
	flag.IntVar(&cfg.WorkerPoolSize, "worker-pool-size", cfg.WorkerPoolSize, "Number of solver workers.")
	flag.StringVar(&cfg.BackendSolver, "backend-solver", cfg.BackendSolver, "Tag naming the back-end engine implementation to drive.")
	flag.StringVar(&cfg.Username, "username", "", "Broker credentials: username.")
	flag.StringVar(&cfg.Password, "password", "", "Broker credentials: password.")
	flag.Parse()

	setupLog, err := logger.InitLogger()
	if err != nil {
		fmt.Fprintln(os.Stderr, "unable to initialise logger:", err)
		os.Exit(1)
	}
	defer func() { _ = setupLog.Sync() }()

	if err := cfg.Validate(); err != nil {
		setupLog.Error("invalid configuration", zap.Error(err))
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	emitter := metrics.InitMetricsAndEmitter(registry)

	workers, err := buildWorkerPool(cfg)
	if err != nil {
		setupLog.Error("unable to build worker pool", zap.Error(err))
		os.Exit(1)
	}

	bus := transport.NewInMemory()
	pipeline := app.New(cfg, bus, workers, emitter)

	if err := pipeline.Run(); err != nil {
		setupLog.Error("unable to start pipeline", zap.Error(err))
		os.Exit(1)
	}
	defer pipeline.Close()

	control := pipeline.Control()
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigs
		control.Stop()
	}()

	control.WaitForTermination()
	setupLog.Info("shutdown complete")
}

// buildWorkerPool constructs one solver worker per configured pool
// slot, each with its own engine instance and model-file directory
// (workers must not share engine instances).
func buildWorkerPool(cfg config.Config) ([]*worker.Worker, error) {
	var newEngine func() engine.Engine
	switch cfg.BackendSolver {
	case "linear", "":
		newEngine = func() engine.Engine { return engine.NewLinearEngine() }
	default:
		return nil, fmt.Errorf("%w: unknown backend solver tag %q", model.ErrConfigInvalid, cfg.BackendSolver)
	}

	workers := make([]*worker.Worker, cfg.WorkerPoolSize)
	for i := range workers {
		id := fmt.Sprintf("%s-w%d", cfg.SolverIdentity, i)
		dir := filepath.Join(cfg.ModelWorkDir, fmt.Sprintf("worker-%d", i))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create worker directory %q: %w", dir, err)
		}
		workers[i] = worker.New(id, dir, newEngine())
	}
	return workers, nil
}
