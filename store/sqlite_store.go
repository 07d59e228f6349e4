package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"iter"
	"time"

	_ "modernc.org/sqlite" // pure-Go sqlite driver, registered as "sqlite"
)

// SQLiteStore is a Store backed by a local sqlite database: one row per
// document, with the key and last-updated fields promoted to real columns
// (for efficient ordering/indexing) and the full document kept as a JSON
// payload column (so the document shape stays schemaless, matching the
// self-describing-document contract of store.Document).
//
// Uses database/sql over the modernc.org/sqlite pure-Go driver, one
// *sql.DB per attached store, generalized from a fixed entity-table
// layout to a single generic document table per Store.
type SQLiteStore struct {
	name             string
	path             string
	table            string
	key              string
	lastUpdatedField string

	db *sql.DB
}

// NewSQLiteStore creates a Store backed by the sqlite database file at
// path, storing documents in table.
func NewSQLiteStore(name, path, table, key, lastUpdatedField string) *SQLiteStore {
	return &SQLiteStore{
		name:             name,
		path:             path,
		table:            table,
		key:              key,
		lastUpdatedField: lastUpdatedField,
	}
}

// Connect implements Store: opens the database and ensures the document
// table exists. Idempotent.
func (s *SQLiteStore) Connect(ctx context.Context) error {
	if s.db != nil {
		return nil
	}
	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return fmt.Errorf("sqlitestore: open %s: %w", s.path, err)
	}
	schema := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		doc_key TEXT PRIMARY KEY,
		last_updated TEXT,
		payload TEXT NOT NULL
	)`, s.table)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return fmt.Errorf("sqlitestore: create table: %w", err)
	}
	s.db = db
	return nil
}

// Close implements Store. Idempotent.
func (s *SQLiteStore) Close(_ context.Context) error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Key implements Store.
func (s *SQLiteStore) Key() string { return s.key }

// LastUpdatedField implements Store.
func (s *SQLiteStore) LastUpdatedField() string { return s.lastUpdatedField }

// Name implements Store.
func (s *SQLiteStore) Name() string { return s.name }

func (s *SQLiteStore) all(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT payload FROM %s", s.table))
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: query: %w", err)
	}
	defer rows.Close()

	var out []Document
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var d Document
		if err := json.Unmarshal([]byte(payload), &d); err != nil {
			return nil, fmt.Errorf("sqlitestore: decode document: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Query implements Store. Filtering is done in Go over the decoded JSON
// payloads; the key column is the upsert/delete key, and the
// last-updated column gives LastUpdated a cheap SQL path.
func (s *SQLiteStore) Query(ctx context.Context, q Query) iter.Seq2[Document, error] {
	docs, err := s.all(ctx)
	if err != nil {
		return func(yield func(Document, error) bool) { yield(nil, err) }
	}
	criteria := normalize(q.Criteria)
	matched := make([]Document, 0, len(docs))
	for _, d := range docs {
		if criteria.Match(d) {
			matched = append(matched, d)
		}
	}
	if len(q.Sort) > 0 {
		sortDocuments(matched, q.Sort)
	}
	proj := withProjectionDefaults(q, s.key, s.lastUpdatedField)
	return func(yield func(Document, error) bool) {
		for i, d := range matched {
			if i < q.Skip {
				continue
			}
			if q.Limit > 0 && i >= q.Skip+q.Limit {
				return
			}
			if !yield(project(d, proj), nil) {
				return
			}
		}
	}
}

// QueryOne implements Store.
func (s *SQLiteStore) QueryOne(ctx context.Context, q Query) (Document, bool, error) {
	q.Limit = 1
	for d, err := range s.Query(ctx, q) {
		return d, true, err
	}
	return nil, false, nil
}

// Count implements Store.
func (s *SQLiteStore) Count(ctx context.Context, criteria Criteria) (int, error) {
	docs, err := s.all(ctx)
	if err != nil {
		return 0, err
	}
	criteria = normalize(criteria)
	n := 0
	for _, d := range docs {
		if criteria.Match(d) {
			n++
		}
	}
	return n, nil
}

// Distinct implements Store.
func (s *SQLiteStore) Distinct(ctx context.Context, field string, criteria Criteria) ([]any, error) {
	docs, err := s.all(ctx)
	if err != nil {
		return nil, err
	}
	criteria = normalize(criteria)
	seen := map[any]struct{}{}
	var out []any
	for _, d := range docs {
		if !criteria.Match(d) {
			continue
		}
		v, ok := d[field]
		if !ok {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out, nil
}

// GroupBy implements Store.
func (s *SQLiteStore) GroupBy(ctx context.Context, fields []string, criteria Criteria) (iter.Seq2[GroupKey, iter.Seq[Document]], error) {
	docs, err := s.all(ctx)
	if err != nil {
		return nil, err
	}
	criteria = normalize(criteria)
	groups := groupDocuments(docs, fields, criteria)
	return func(yield func(GroupKey, iter.Seq[Document]) bool) {
		for _, g := range groups {
			members := g.members
			seq := func(y func(Document) bool) {
				for _, d := range members {
					if !y(d) {
						return
					}
				}
			}
			if !yield(g.key, seq) {
				return
			}
		}
	}, nil
}

// Update implements Store: upsert via SQLite's ON CONFLICT clause, keyed
// by keyFields (default: the Store's own Key).
func (s *SQLiteStore) Update(ctx context.Context, docs []Document, keyFields []string) error {
	if len(keyFields) == 0 {
		keyFields = []string{s.key}
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlitestore: begin: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (doc_key, last_updated, payload) VALUES (?, ?, ?)
		 ON CONFLICT(doc_key) DO UPDATE SET last_updated = excluded.last_updated, payload = excluded.payload`,
		s.table))
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("sqlitestore: prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, d := range docs {
		k := fmt.Sprintf("%v", compositeKey(d, keyFields))
		var lu string
		if t, ok := docTime(d, s.lastUpdatedField); ok {
			lu = t.Format(time.RFC3339Nano)
		}
		payload, err := json.Marshal(d)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlitestore: encode document: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, k, lu, string(payload)); err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlitestore: upsert: %w", err)
		}
	}
	return tx.Commit()
}

// RemoveDocs implements Store.
func (s *SQLiteStore) RemoveDocs(ctx context.Context, criteria Criteria) (int, error) {
	docs, err := s.all(ctx)
	if err != nil {
		return 0, err
	}
	criteria = normalize(criteria)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlitestore: begin: %w", err)
	}
	n := 0
	for _, d := range docs {
		if !criteria.Match(d) {
			continue
		}
		k := fmt.Sprintf("%v", d[s.key])
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE doc_key = ?", s.table), k); err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("sqlitestore: delete: %w", err)
		}
		n++
	}
	return n, tx.Commit()
}

// EnsureIndex implements Store as a no-op. The key column is the table's
// primary key; the last-updated column has no index; a secondary index on
// an arbitrary JSON field is not created, since sqlite would need a
// generated column per field to index into the JSON payload and maggma-go
// has no schema describing which fields callers will index ahead of time.
// This mirrors MemoryStore/FileStore's no-op for the same reason, and is
// called out explicitly in DESIGN.md.
func (s *SQLiteStore) EnsureIndex(ctx context.Context, field string, unique bool) error {
	return nil
}

// LastUpdated implements Store.
func (s *SQLiteStore) LastUpdated(ctx context.Context) (time.Time, error) {
	var maxStr sql.NullString
	row := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT MAX(last_updated) FROM %s", s.table))
	if err := row.Scan(&maxStr); err != nil {
		return time.Time{}, fmt.Errorf("sqlitestore: last updated: %w", err)
	}
	if !maxStr.Valid || maxStr.String == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, maxStr.String)
	if err != nil {
		return time.Time{}, nil
	}
	return t, nil
}

// NewerIn implements Store.
func (s *SQLiteStore) NewerIn(ctx context.Context, other Store, criteria Criteria, exhaustive bool) ([]any, error) {
	return newerIn(ctx, s, other, criteria, exhaustive)
}
