package store

import (
	"github.com/jmoiron/sqlx"
)

// DB wraps the SQLite connection of the local message store.
type DB struct {
	*sqlx.DB
}

// Open creates a new SQLite connection with WAL mode and recommended pragmas.
// Write transactions take the database lock up front (_txlock=immediate) so a
// concurrent invocation waits on the busy timeout instead of failing mid-batch.
func Open(path string) (*DB, error) {
	db, err := sqlx.Open(driverName, path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate")
	if err != nil {
		return nil, unavailable("open db", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, unavailable("ping db", err)
	}
	return &DB{db}, nil
}
