package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateDefaultConfig(t *testing.T) {
	assert.NoError(t, Validate(DefaultConfig()))
}

func TestValidateReductionFactorMustBeGreaterThanOne(t *testing.T) {
	config := DefaultConfig()
	config.ReductionFactor = 1
	assert.EqualError(t, Validate(config), "reduction-factor must be greater than 1")
}

func TestValidateGracePeriodMustBePositive(t *testing.T) {
	config := DefaultConfig()
	config.GracePeriod = 0
	assert.EqualError(t, Validate(config), "grace-period must be greater than 0")
}

func TestValidateMaxTBelowGracePeriod(t *testing.T) {
	config := DefaultConfig()
	config.MaxT = 2
	assert.EqualError(t, Validate(config), "max-t must be greater than or equal to grace-period")
}
