package sqlite

import "github.com/flemzord/memsync/internal/sqlitedb"

const createHistory = `CREATE TABLE IF NOT EXISTS history (
	id             TEXT PRIMARY KEY,
	memory_id      TEXT    NOT NULL,
	previous_value TEXT,
	new_value      TEXT,
	event          TEXT    NOT NULL,
	actor_id       TEXT,
	role           TEXT,
	created_at     TEXT    NOT NULL,
	updated_at     TEXT,
	is_deleted     INTEGER NOT NULL DEFAULT 0
)`

const createHistoryIndex = `CREATE INDEX IF NOT EXISTS idx_history_memory ON history(memory_id, created_at)`

var migrations = []sqlitedb.Migration{
	{Version: 1, Statements: []string{createHistory, createHistoryIndex}},
}
