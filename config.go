package runqueue

import "time"

// Config holds the tunables shared by the batch queue consumers.
type Config struct {
	// Consumers is the number of consumer loops started by a batch queue.
	Consumers int

	// PollInterval is how long an idle consumer waits between DRR
	// iterations.
	PollInterval time.Duration

	// Quantum is the scheduling credit granted to an environment each time
	// a DRR iteration visits it.
	Quantum int

	// MaxDeficit caps the credit an environment may accumulate.
	MaxDeficit int

	// MasterQueueLimit is the maximum number of master queue members
	// scanned per DRR iteration.
	MasterQueueLimit int

	// MaxItemsPerEnvironment bounds the number of items popped for one
	// environment in a single DRR iteration. Zero means Quantum.
	MaxItemsPerEnvironment int

	// ShutdownTimeout is the maximum time Close waits for consumers.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Consumers:        1,
		PollInterval:     100 * time.Millisecond,
		Quantum:          5,
		MaxDeficit:       50,
		MasterQueueLimit: 1000,
		ShutdownTimeout:  30 * time.Second,
	}
}
