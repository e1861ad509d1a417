package config

// Default values applied before CLI flags are parsed over them.
const (
	DefaultModelWorkDir   = "./work"
	DefaultBrokerPort     = 5672
	DefaultWorkerPoolSize = 1
	DefaultBackendSolver  = "linear"
)

// Defaults returns a Config seeded with the package defaults; callers
// overlay CLI flag values on top of it.
func Defaults() Config {
	return Config{
		ModelWorkDir:   DefaultModelWorkDir,
		BrokerPort:     DefaultBrokerPort,
		WorkerPoolSize: DefaultWorkerPoolSize,
		BackendSolver:  DefaultBackendSolver,
	}
}
