package repository

// Store combines all repository interfaces
type Store interface {
	DownloadRecordRepository
	PartialDownloadRepository
	RegistryRepository
	StatsRepository

	// Close closes the database connection
	Close() error

	// Ping checks database connectivity
	Ping() error
}
