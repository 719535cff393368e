package batch

import "github.com/xraph/runqueue"

// DRRConfig tunes one Deficit Round Robin iteration.
type DRRConfig struct {
	// Quantum is the credit added to an environment on each visit.
	Quantum int

	// MaxDeficit caps accumulated credit. Zero means no cap.
	MaxDeficit int

	// MasterQueueLimit bounds the master queue members scanned per
	// iteration. Zero means no bound.
	MasterQueueLimit int

	// MaxItemsPerEnvironment bounds the items popped for one environment
	// per iteration. Zero means Quantum.
	MaxItemsPerEnvironment int
}

// DRRConfigFrom extracts the DRR settings from a runqueue.Config.
func DRRConfigFrom(cfg runqueue.Config) DRRConfig {
	return DRRConfig{
		Quantum:                cfg.Quantum,
		MaxDeficit:             cfg.MaxDeficit,
		MasterQueueLimit:       cfg.MasterQueueLimit,
		MaxItemsPerEnvironment: cfg.MaxItemsPerEnvironment,
	}
}

// Normalize fills zero values with their effective defaults.
func (c DRRConfig) Normalize() DRRConfig {
	if c.Quantum <= 0 {
		c.Quantum = runqueue.DefaultConfig().Quantum
	}
	if c.MaxItemsPerEnvironment <= 0 {
		c.MaxItemsPerEnvironment = c.Quantum
	}
	if c.MaxDeficit > 0 && c.MaxDeficit < c.Quantum {
		c.MaxDeficit = c.Quantum
	}
	return c
}

// EnvCredit applies one visit to an environment's deficit: the quantum is
// added and the result clamped to MaxDeficit.
func (c DRRConfig) EnvCredit(deficit int) int {
	deficit += c.Quantum
	if c.MaxDeficit > 0 && deficit > c.MaxDeficit {
		deficit = c.MaxDeficit
	}
	return deficit
}
