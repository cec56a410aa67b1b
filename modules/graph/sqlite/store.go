package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/flemzord/memsync/internal/memory"
	"github.com/flemzord/memsync/internal/resilience"
	"github.com/flemzord/memsync/internal/sqlitedb"
)

// scopeColumns are the filter keys a node is scoped by. Other filter keys
// are ignored by the graph.
var scopeColumns = []string{memory.KeyUserID, memory.KeyAgentID, memory.KeyRunID}

// Store is a memory.GraphStore on SQLite.
type Store struct {
	db    *sql.DB
	llm   memory.LLM
	limit int
	now   func() time.Time
}

// NewStore wraps a migrated database. limit caps unbounded reads.
func NewStore(db *sql.DB, llm memory.LLM, limit int) *Store {
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	return &Store{db: db, llm: llm, limit: limit, now: time.Now}
}

// Add extracts relations from data, deletes the existing ones the LLM finds
// contradicted and inserts the new ones in one transaction.
func (s *Store) Add(ctx context.Context, data string, filters memory.Filters) (memory.GraphAddResult, error) {
	var res memory.GraphAddResult

	self := filters[memory.KeyUserID]
	if self == "" {
		self = memory.DefaultGraphUser
	}
	rels, err := s.extractRelations(ctx, data, normalize(self))
	if err != nil || len(rels) == 0 {
		return res, err
	}

	existing, err := s.touching(ctx, entityNames(rels), filters)
	if err != nil {
		return res, err
	}
	stale, err := s.contradicted(ctx, existing, data)
	if err != nil {
		return res, err
	}

	err = s.inTx(ctx, func(tx *sql.Tx) error {
		for _, r := range stale {
			n, err := deleteEdge(ctx, tx, r, filters)
			if err != nil {
				return err
			}
			if n > 0 {
				res.DeletedEntities = append(res.DeletedEntities, r)
			}
		}
		for _, r := range rels {
			added, err := s.insertEdge(ctx, tx, r, filters)
			if err != nil {
				return err
			}
			if added {
				res.AddedEntities = append(res.AddedEntities, r)
			}
		}
		_, err := pruneOrphans(ctx, tx)
		return err
	})
	if err != nil {
		return memory.GraphAddResult{}, err
	}
	return res, nil
}

// Search returns relations whose entities or relationship share a word with
// query, best matches first.
func (s *Store) Search(ctx context.Context, query string, filters memory.Filters, limit int) ([]memory.Relation, error) {
	terms := searchTerms(query)
	if len(terms) == 0 {
		return nil, nil
	}

	where, args := scopeWhere(filters, "src")
	var like []string
	for _, t := range terms {
		like = append(like, "src.name LIKE ? OR dst.name LIKE ? OR e.relationship LIKE ?")
		p := "%" + t + "%"
		args = append(args, p, p, p)
	}
	rels, err := s.queryEdges(ctx, where+" AND ("+strings.Join(like, " OR ")+")", args, 0)
	if err != nil {
		return nil, err
	}

	score := func(r memory.Relation) int {
		n := 0
		for _, t := range terms {
			if strings.Contains(r.Source, t) || strings.Contains(r.Destination, t) || strings.Contains(r.Relationship, t) {
				n++
			}
		}
		return n
	}
	sort.SliceStable(rels, func(i, j int) bool { return score(rels[i]) > score(rels[j]) })

	if limit <= 0 {
		limit = s.limit
	}
	if len(rels) > limit {
		rels = rels[:limit]
	}
	return rels, nil
}

// GetAll lists relations in scope, oldest first.
func (s *Store) GetAll(ctx context.Context, filters memory.Filters, limit int) ([]memory.Relation, error) {
	if limit <= 0 {
		limit = s.limit
	}
	where, args := scopeWhere(filters, "src")
	return s.queryEdges(ctx, where, args, limit)
}

// DeleteAll removes every node in scope together with its edges.
func (s *Store) DeleteAll(ctx context.Context, filters memory.Filters) error {
	where, args := scopeWhere(filters, "")
	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := detachDelete(ctx, tx, where, args)
		return err
	})
}

// Delete removes the relations extracted from data.
func (s *Store) Delete(ctx context.Context, data string, filters memory.Filters) error {
	self := filters[memory.KeyUserID]
	if self == "" {
		self = memory.DefaultGraphUser
	}
	rels, err := s.extractRelations(ctx, data, normalize(self))
	if err != nil || len(rels) == 0 {
		return err
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, r := range rels {
			if _, err := deleteEdge(ctx, tx, r, filters); err != nil {
				return err
			}
		}
		_, err := pruneOrphans(ctx, tx)
		return err
	})
}

// DetachDelete removes the nodes matching match, or with negate the nodes
// not matching it, together with their edges.
func (s *Store) DetachDelete(ctx context.Context, match memory.Filters, negate bool) (int, error) {
	for k := range match {
		if !slices.Contains(scopeColumns, k) {
			return 0, resilience.Tagf(resilience.KindValidation, "sqlite: cannot match graph nodes on %q", k)
		}
	}
	if len(match) == 0 && negate {
		return 0, nil
	}

	where, args := scopeWhere(match, "")
	if negate {
		where = "NOT (" + where + ")"
	}
	var n int
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		n, err = detachDelete(ctx, tx, where, args)
		return err
	})
	return n, err
}

// touching returns the relations in scope whose source or destination is one
// of names.
func (s *Store) touching(ctx context.Context, names []string, filters memory.Filters) ([]memory.Relation, error) {
	if len(names) == 0 {
		return nil, nil
	}
	where, args := scopeWhere(filters, "src")
	ph := strings.TrimSuffix(strings.Repeat("?,", len(names)), ",")
	where += " AND (src.name IN (" + ph + ") OR dst.name IN (" + ph + "))"
	for range 2 {
		for _, n := range names {
			args = append(args, n)
		}
	}
	return s.queryEdges(ctx, where, args, 0)
}

func (s *Store) queryEdges(ctx context.Context, where string, args []any, limit int) ([]memory.Relation, error) {
	q := `
		SELECT src.name, e.relationship, dst.name
		FROM edges e
		JOIN nodes src ON src.id = e.source_id
		JOIN nodes dst ON dst.id = e.target_id
		WHERE ` + where + `
		ORDER BY e.created_at ASC, e.rowid ASC`
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query edges: %w", sqlitedb.Classify(err))
	}
	defer func() { _ = rows.Close() }()

	var out []memory.Relation
	for rows.Next() {
		var r memory.Relation
		if err := rows.Scan(&r.Source, &r.Relationship, &r.Destination); err != nil {
			return nil, fmt.Errorf("sqlite: scan edge: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: edge rows: %w", sqlitedb.Classify(err))
	}
	return out, nil
}

func (s *Store) insertEdge(ctx context.Context, tx *sql.Tx, r memory.Relation, filters memory.Filters) (bool, error) {
	src, err := s.upsertNode(ctx, tx, r.Source, filters)
	if err != nil {
		return false, err
	}
	dst, err := s.upsertNode(ctx, tx, r.Destination, filters)
	if err != nil {
		return false, err
	}
	res, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO edges (source_id, target_id, relationship, created_at)
		VALUES (?, ?, ?, ?)`,
		src, dst, r.Relationship, s.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return false, fmt.Errorf("sqlite: insert edge: %w", sqlitedb.Classify(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: rows affected: %w", err)
	}
	return n > 0, nil
}

func (s *Store) upsertNode(ctx context.Context, tx *sql.Tx, name string, filters memory.Filters) (int64, error) {
	user, agent, run := filters[memory.KeyUserID], filters[memory.KeyAgentID], filters[memory.KeyRunID]
	if _, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO nodes (name, user_id, agent_id, run_id, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		name, user, agent, run, s.now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		return 0, fmt.Errorf("sqlite: insert node: %w", sqlitedb.Classify(err))
	}
	var id int64
	err := tx.QueryRowContext(ctx, `
		SELECT id FROM nodes WHERE name = ? AND user_id = ? AND agent_id = ? AND run_id = ?`,
		name, user, agent, run,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("sqlite: lookup node: %w", sqlitedb.Classify(err))
	}
	return id, nil
}

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin tx: %w", sqlitedb.Classify(err))
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", sqlitedb.Classify(err))
	}
	return nil
}

func deleteEdge(ctx context.Context, tx *sql.Tx, r memory.Relation, filters memory.Filters) (int64, error) {
	where, scopeArgs := scopeWhere(filters, "n")
	args := []any{r.Relationship, r.Source}
	args = append(args, scopeArgs...)
	args = append(args, r.Destination)
	args = append(args, scopeArgs...)

	res, err := tx.ExecContext(ctx, `
		DELETE FROM edges
		WHERE relationship = ?
		  AND source_id IN (SELECT n.id FROM nodes n WHERE n.name = ? AND `+where+`)
		  AND target_id IN (SELECT n.id FROM nodes n WHERE n.name = ? AND `+where+`)`,
		args...,
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite: delete edge: %w", sqlitedb.Classify(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: rows affected: %w", err)
	}
	return n, nil
}

// detachDelete removes the edges of the nodes matching where, then the nodes.
func detachDelete(ctx context.Context, tx *sql.Tx, where string, args []any) (int, error) {
	edgeArgs := append(append([]any{}, args...), args...)
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM edges
		WHERE source_id IN (SELECT id FROM nodes WHERE `+where+`)
		   OR target_id IN (SELECT id FROM nodes WHERE `+where+`)`,
		edgeArgs...,
	); err != nil {
		return 0, fmt.Errorf("sqlite: detach edges: %w", sqlitedb.Classify(err))
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM nodes WHERE "+where, args...)
	if err != nil {
		return 0, fmt.Errorf("sqlite: delete nodes: %w", sqlitedb.Classify(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: rows affected: %w", err)
	}
	return int(n), nil
}

// pruneOrphans removes nodes left without any edge.
func pruneOrphans(ctx context.Context, tx *sql.Tx) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		DELETE FROM nodes
		WHERE id NOT IN (SELECT source_id FROM edges)
		  AND id NOT IN (SELECT target_id FROM edges)`)
	if err != nil {
		return 0, fmt.Errorf("sqlite: prune nodes: %w", sqlitedb.Classify(err))
	}
	return res.RowsAffected()
}

// scopeWhere renders the scope filters as a SQL condition on the nodes
// aliased alias. Empty filters match everything.
func scopeWhere(f memory.Filters, alias string) (string, []any) {
	prefix := ""
	if alias != "" {
		prefix = alias + "."
	}
	var (
		conds []string
		args  []any
	)
	for _, k := range scopeColumns {
		if v := f[k]; v != "" {
			conds = append(conds, prefix+k+" = ?")
			args = append(args, v)
		}
	}
	if len(conds) == 0 {
		return "1 = 1", nil
	}
	return strings.Join(conds, " AND "), args
}

func entityNames(rels []memory.Relation) []string {
	seen := make(map[string]bool, len(rels)*2)
	var names []string
	for _, r := range rels {
		for _, n := range []string{r.Source, r.Destination} {
			if !seen[n] {
				seen[n] = true
				names = append(names, n)
			}
		}
	}
	return names
}

// searchTerms splits query into lower-case words of three letters or more.
func searchTerms(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r > 127)
	})
	var out []string
	for _, f := range fields {
		if len([]rune(f)) >= 3 {
			out = append(out, f)
		}
	}
	return out
}
