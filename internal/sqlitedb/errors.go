package sqlitedb

import (
	"database/sql"
	"errors"

	"github.com/flemzord/memsync/internal/resilience"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Classify tags err with the resilience kind matching its SQLite result code.
// A busy or locked database is transient; constraint and corruption errors
// are integrity failures.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrConnDone) {
		return resilience.Tag(resilience.KindConnection, err)
	}
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return err
	}
	switch se.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return resilience.Tag(resilience.KindTimeout, err)
	case sqlite3.SQLITE_CONSTRAINT, sqlite3.SQLITE_CORRUPT, sqlite3.SQLITE_NOTADB, sqlite3.SQLITE_MISMATCH:
		return resilience.Tag(resilience.KindIntegrity, err)
	case sqlite3.SQLITE_CANTOPEN, sqlite3.SQLITE_IOERR:
		return resilience.Tag(resilience.KindConnection, err)
	case sqlite3.SQLITE_READONLY, sqlite3.SQLITE_PERM, sqlite3.SQLITE_AUTH:
		return resilience.Tag(resilience.KindPermission, err)
	}
	return err
}
