package config

// Environment identifies the runtime environment where stockwatch operates.
type Environment string

const (
	// EnvDev marks the development environment.
	EnvDev Environment = "dev"
	// EnvStaging marks the staging environment.
	EnvStaging Environment = "staging"
	// EnvProd marks the production environment.
	EnvProd Environment = "prod"
)

// StateBackend names a snapshot persistence backend.
type StateBackend string

const (
	// BackendFile persists the snapshot as a JSON file on local disk.
	BackendFile StateBackend = "file"
	// BackendRedis persists the snapshot under a single Redis key.
	BackendRedis StateBackend = "redis"
)

const (
	// FilterMen is the first gender filter and the default notification destination.
	FilterMen = "Men"
	// FilterWomen is the second gender filter.
	FilterWomen = "Women"
)
