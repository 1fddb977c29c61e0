package store

import (
	"database/sql"

	"github.com/mattn/go-sqlite3"
	"golang.org/x/text/cases"
)

// driverName is go-sqlite3 with the casefold() SQL function registered on
// every connection. SQLite's lower() folds ASCII only.
const driverName = "sqlite3_mailctl"

func init() {
	sql.Register(driverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterFunc("casefold", casefold, true)
		},
	})
}

// casefold applies Unicode full case folding, so "Straße" and "STRASSE" compare equal.
func casefold(s string) string {
	return cases.Fold().String(s)
}
