package storage

import (
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/prospector/internal/common"
	"github.com/ternarybob/prospector/internal/interfaces"
	"github.com/ternarybob/prospector/internal/storage/badger"
	"github.com/ternarybob/prospector/internal/storage/jsonfile"
)

// NewStorageManager creates a new storage manager based on config
func NewStorageManager(logger arbor.ILogger, config *common.Config) (interfaces.StorageManager, error) {
	switch config.Storage.Type {
	case "", "file":
		return jsonfile.NewManager(logger, config.Storage.Dir)
	case "badger":
		return badger.NewManager(logger, &config.Storage.Badger)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s (expected 'file' or 'badger')", config.Storage.Type)
	}
}
