package config

// DefaultRepositoryConfig returns sensible per-repository defaults,
// which the loader applies after decoding to fields the TOML left unset.
func DefaultRepositoryConfig() RepositoryConfig {
	return RepositoryConfig{
		UpdateExistingWorktrees: true,
		Retry: RetryConfig{
			MaxAttempts:       "unlimited",
			MaxLFSRetries:     2,
			InitialDelayMs:    1000,
			MaxDelayMs:        600_000,
			BackoffMultiplier: 2,
			JitterMs:          0,
		},
		Parallelism: ParallelismConfig{
			MaxRepositories:     2,
			MaxWorktreeCreation: 1,
			MaxWorktreeUpdates:  3,
			MaxWorktreeRemoval:  3,
			MaxStatusChecks:     20,
		},
	}
}

// DefaultConfig returns an empty, valid-shaped configuration. Callers
// append repositories (or decode them from TOML) and then call Validate.
func DefaultConfig() Config {
	return Config{}
}
