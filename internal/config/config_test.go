package config

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nebulous-cloud/optimiser-pipeline/pkg/model"
)

func TestConfig_ValidateRequiresTenantID(t *testing.T) {
	c := Defaults()
	c.BrokerURL = "tcp://broker:5672"
	err := c.Validate()
	assert.ErrorIs(t, err, model.ErrConfigInvalid)
}

func TestConfig_ValidateAcceptsCompleteConfig(t *testing.T) {
	c := Defaults()
	c.TenantID = "tenant-a"
	c.BrokerURL = "tcp://broker:5672"
	assert.NoError(t, c.Validate())
}

func TestConfig_ValidateRejectsZeroWorkerPool(t *testing.T) {
	c := Defaults()
	c.TenantID = "tenant-a"
	c.BrokerURL = "tcp://broker:5672"
	c.WorkerPoolSize = 0
	assert.ErrorIs(t, c.Validate(), model.ErrConfigInvalid)
}
