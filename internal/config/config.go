package config

import (
	"fmt"

	"github.com/nebulous-cloud/optimiser-pipeline/pkg/model"
)

// Validate checks the fields CLI parsing cannot enforce by type alone.
// TenantID is mandatory; the pool size must be positive.
func (c Config) Validate() error {
	if c.TenantID == "" {
		return fmt.Errorf("%w: tenant id is mandatory", model.ErrConfigInvalid)
	}
	if c.BrokerURL == "" {
		return fmt.Errorf("%w: broker url is required", model.ErrConfigInvalid)
	}
	if c.WorkerPoolSize < 1 {
		return fmt.Errorf("%w: worker pool size must be >= 1", model.ErrConfigInvalid)
	}
	if c.ModelWorkDir == "" {
		return fmt.Errorf("%w: model working directory is required", model.ErrConfigInvalid)
	}
	return nil
}
