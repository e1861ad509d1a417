// Package config holds the typed startup configuration assembled from
// CLI flags and its validation.
package config

// Config is the full set of values the CLI accepts.
type Config struct {
	EnginePath      string // installation path of the back-end solver engine
	ModelWorkDir    string // directory model/data files are persisted to
	BrokerURL       string
	BrokerPort      int
	TenantID        string // mandatory: stamped on every outbound message and used as the inbound selector
	SolverIdentity  string // this solver instance's identifier on the bus
	WorkerPoolSize  int    // number of solver workers, must be >= 1
	BackendSolver   string // tag naming which engine implementation to drive
	Username        string
	Password        string
}
