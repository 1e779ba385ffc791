package store

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// DB wraps the connection to the gateway-owned Postgres store. The schema
// belongs to the gateway; this layer only reads rows and performs the two
// narrow writebacks the inbox needs (message status, chat unread count).
type DB struct {
	*sqlx.DB
}

// Open connects to Postgres and configures the pool.
func Open(databaseURL string) (*DB, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return &DB{db}, nil
}
