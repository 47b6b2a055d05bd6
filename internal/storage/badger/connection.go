package badger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/prospector/internal/common"
	"github.com/timshannon/badgerhold/v4"
)

// BadgerDB owns the badgerhold store behind the job and credential storages
type BadgerDB struct {
	store  *badgerhold.Store
	logger arbor.ILogger
	path   string
}

// NewBadgerDB opens (or resets, when configured) the database at config.Path.
// Writes are synced so a progress record survives a crash right after it lands.
func NewBadgerDB(logger arbor.ILogger, config *common.BadgerConfig) (*BadgerDB, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("badger path is required")
	}

	if config.ResetOnStartup {
		logger.Debug().Str("path", config.Path).Msg("Resetting job database")
		if err := os.RemoveAll(config.Path); err != nil {
			logger.Warn().Err(err).Str("path", config.Path).Msg("Failed to reset job database")
		}
	}

	if err := os.MkdirAll(filepath.Dir(config.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	options := badgerhold.DefaultOptions
	options.Options = badger.DefaultOptions(config.Path).
		WithSyncWrites(true).
		WithLogger(badgerLogger{logger: logger}).
		WithLoggingLevel(badger.WARNING)

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database at %s: %w", config.Path, err)
	}

	logger.Debug().Str("path", config.Path).Msg("Badger database opened")
	return &BadgerDB{store: store, logger: logger, path: config.Path}, nil
}

// Store returns the underlying badgerhold store
func (b *BadgerDB) Store() *badgerhold.Store {
	return b.store
}

// Close closes the database
func (b *BadgerDB) Close() error {
	if b.store == nil {
		return nil
	}
	if err := b.store.Close(); err != nil {
		return fmt.Errorf("failed to close badger database at %s: %w", b.path, err)
	}
	return nil
}

// badgerLogger routes badger's internal logging into arbor
type badgerLogger struct {
	logger arbor.ILogger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error().Str("component", "badger").Msg(badgerLine(format, args))
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn().Str("component", "badger").Msg(badgerLine(format, args))
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug().Str("component", "badger").Msg(badgerLine(format, args))
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Trace().Str("component", "badger").Msg(badgerLine(format, args))
}

func badgerLine(format string, args []interface{}) string {
	return strings.TrimSpace(fmt.Sprintf(format, args...))
}
