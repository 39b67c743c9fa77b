// Package migrate applies the schema migrations shipped in migrations/
// before a run touches the database.
package migrate

import (
	"errors"

	"tenderwatch/pkg/logger"

	gomigrate "github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// Up applies all pending migrations from sourceDir against databaseURL.
// An already up-to-date schema is not an error.
func Up(sourceDir, databaseURL string) error {
	m, err := gomigrate.New("file://"+sourceDir, databaseURL)
	if err != nil {
		return err
	}
	defer func() {
		srcErr, dbErr := m.Close()
		if srcErr != nil {
			logger.Warn("Failed to close migration source", "err", srcErr)
		}
		if dbErr != nil {
			logger.Warn("Failed to close migration database handle", "err", dbErr)
		}
	}()

	if err := m.Up(); err != nil {
		if errors.Is(err, gomigrate.ErrNoChange) {
			logger.Debug("Schema already up to date")
			return nil
		}
		return err
	}

	logger.Info("Schema migrations applied")
	return nil
}
