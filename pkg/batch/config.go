package batch

import (
	"fmt"
	"time"
)

// Config holds batch pacing configuration.
type Config struct {
	// RandomDelayEnabled adds a uniform [RandomDelayMin, RandomDelayMax]
	// pause before every request.
	RandomDelayEnabled bool
	RandomDelayMin     time.Duration
	RandomDelayMax     time.Duration

	// CooldownEnabled adds a uniform [CooldownMin, CooldownMax] pause after
	// every CooldownInterval keys. The counter is global to the run.
	CooldownEnabled  bool
	CooldownInterval int
	CooldownMin      time.Duration
	CooldownMax      time.Duration
}

// DefaultConfig returns the default pacing.
func DefaultConfig() Config {
	return Config{
		RandomDelayEnabled: true,
		RandomDelayMin:     1 * time.Second,
		RandomDelayMax:     3 * time.Second,
		CooldownEnabled:    true,
		CooldownInterval:   20,
		CooldownMin:        30 * time.Second,
		CooldownMax:        60 * time.Second,
	}
}

// Validate checks the configuration for errors.
func (c Config) Validate() error {
	if c.RandomDelayEnabled {
		if c.RandomDelayMin < 0 || c.RandomDelayMax < c.RandomDelayMin {
			return fmt.Errorf("random delay range [%v, %v] is invalid", c.RandomDelayMin, c.RandomDelayMax)
		}
	}
	if c.CooldownEnabled {
		if c.CooldownInterval < 1 {
			return fmt.Errorf("cooldown interval must be >= 1 (got %d)", c.CooldownInterval)
		}
		if c.CooldownMin < 0 || c.CooldownMax < c.CooldownMin {
			return fmt.Errorf("cooldown range [%v, %v] is invalid", c.CooldownMin, c.CooldownMax)
		}
	}
	return nil
}
