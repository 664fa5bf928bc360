// Package repository implements the persistence ports on sqlx. One SQL core
// serves both drivers: queries are written with `?` bindvars and rebound per
// driver, so SQLite and Postgres share every statement.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/pulseboard/pulseboard-backend/internal/apperr"
)

// SQLRepository implements every repository port on a sqlx database handle.
type SQLRepository struct {
	db *sqlx.DB
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// Ping verifies database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Stats reports the number of open connections.
func (r *SQLRepository) Stats() int {
	return r.db.Stats().OpenConnections
}

// RunMigrations executes raw migration SQL.
func (r *SQLRepository) RunMigrations(migrationSQL string) error {
	_, err := r.db.Exec(migrationSQL)
	return err
}

// Ports bundles the repository ports backed by this database.
func (r *SQLRepository) Ports() *Repository {
	return &Repository{
		Metrics:    metricRepo{r},
		Samples:    sampleRepo{r},
		Events:     eventRepo{r},
		Dashboards: dashboardRepo{r},
		Widgets:    widgetRepo{r},
		Reports:    reportRepo{r},
		Alerts:     alertRepo{r},
	}
}

// rebind converts `?` bindvars to the driver's placeholder style.
func (r *SQLRepository) rebind(query string) string {
	return r.db.Rebind(query)
}

// isDuplicate reports whether err is a unique-constraint violation.
func isDuplicate(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505" // unique_violation
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// mapGetErr translates driver errors on single-row reads to apperr kinds.
func mapGetErr(err error, entity, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound(entity, id)
	}
	if err != nil {
		return apperr.Transient(entity+" read failed", err)
	}
	return nil
}
