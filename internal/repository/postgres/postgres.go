// Package postgres holds the PostgreSQL implementations of every
// service repository contract. One repo struct per consuming service,
// sharing the row-scan helpers; transition methods write the entity
// update, the StateTransition row and the AuditLog entry in a single
// transaction.
package postgres

import (
	"database/sql"
	"time"

	"github.com/lib/pq"

	"github.com/ignite/deliverability-engine/internal/config"
)

// Open connects to PostgreSQL and applies the pool settings.
func Open(cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifeMins) * time.Minute)
	return db, db.Ping()
}

// isUniqueViolation reports a 23505 unique-constraint failure.
func isUniqueViolation(err error) bool {
	if pqErr, ok := err.(*pq.Error); ok {
		return pqErr.Code == "23505"
	}
	return false
}
