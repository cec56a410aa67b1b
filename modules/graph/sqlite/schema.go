package sqlite

import "github.com/flemzord/memsync/internal/sqlitedb"

// Nodes are unique per name within one (user, agent, run) scope. Edges hang
// off nodes of a single scope and go away with them.
var migrations = []sqlitedb.Migration{
	{Version: 1, Statements: []string{
		`CREATE TABLE IF NOT EXISTS nodes (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			name       TEXT NOT NULL,
			user_id    TEXT NOT NULL DEFAULT '',
			agent_id   TEXT NOT NULL DEFAULT '',
			run_id     TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			UNIQUE (name, user_id, agent_id, run_id)
		)`,
		`CREATE TABLE IF NOT EXISTS edges (
			source_id    INTEGER NOT NULL REFERENCES nodes(id) ON DELETE CASCADE,
			target_id    INTEGER NOT NULL REFERENCES nodes(id) ON DELETE CASCADE,
			relationship TEXT    NOT NULL,
			created_at   TEXT    NOT NULL,
			PRIMARY KEY (source_id, relationship, target_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_edges_target ON edges(target_id)`,
		`CREATE INDEX IF NOT EXISTS idx_nodes_scope ON nodes(user_id, agent_id, run_id)`,
	}},
}
