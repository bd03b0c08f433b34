package port

import (
	"github.com/vertextoedge/offline-stream/internal/domain/repository"
)

// DownloadRecordRepository is an alias to domain repository interface
type DownloadRecordRepository = repository.DownloadRecordRepository

// PartialDownloadRepository is an alias to domain repository interface
type PartialDownloadRepository = repository.PartialDownloadRepository

// RegistryRepository is an alias to domain repository interface
type RegistryRepository = repository.RegistryRepository

// StatsRepository is an alias to domain repository interface
type StatsRepository = repository.StatsRepository

// Store is an alias to domain repository interface
type Store = repository.Store
