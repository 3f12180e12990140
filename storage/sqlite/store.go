package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/jmcleod/tagvault/storage"
	"github.com/jmcleod/tagvault/storage/wqlsql"
	"github.com/jmcleod/tagvault/wql"
)

// Store is an open embedded storage instance.
type Store struct {
	db       *sql.DB
	compiler wqlsql.Compiler
	logger   *slog.Logger

	// SQLite admits one writer at a time; serializing here keeps writers from
	// spinning on busy_timeout.
	writeMu sync.Mutex
}

var _ storage.Storage = (*Store)(nil)

func newStore(db *sql.DB, logger *slog.Logger) *Store {
	return &Store{db: db, compiler: wqlsql.NewSQLite(), logger: logger}
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return storage.WrapIO("close", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	}
	return false
}

// write runs fn in an immediate transaction under the writer lock.
func (s *Store) write(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.WrapIO(op, err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(tx); err != nil {
		return storage.Translate(op, err)
	}
	if err := tx.Commit(); err != nil {
		return storage.WrapIO(op, err)
	}
	return nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func itemRowID(ctx context.Context, q querier, typ, id []byte) (int64, error) {
	var rowID int64
	err := q.QueryRowContext(ctx, `SELECT id FROM items WHERE type = ? AND name = ?`, typ, id).Scan(&rowID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, storage.ItemNotFound(typ, id)
	}
	return rowID, err
}

func numeric(t storage.Tag) any {
	if f, ok := wql.Numeric(t.Text()); ok {
		return f
	}
	return nil
}

func insertTags(ctx context.Context, tx *sql.Tx, rowID int64, typ, id []byte, tags []storage.Tag) error {
	for _, t := range tags {
		var err error
		if t.Plain() {
			_, err = tx.ExecContext(ctx,
				`INSERT INTO tags_plaintext (item_id, name, value, num) VALUES (?, ?, ?, ?)`,
				rowID, t.Name.Name, t.Text(), numeric(t))
		} else {
			_, err = tx.ExecContext(ctx,
				`INSERT INTO tags_encrypted (item_id, name, value) VALUES (?, ?, ?)`,
				rowID, t.Name.Name, t.Value)
		}
		if isUniqueViolation(err) {
			return fmt.Errorf("%s/%s tag %s: %w", typ, id, t.Name, storage.ErrItemAlreadyExists)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Add(ctx context.Context, typ, id []byte, value storage.EncryptedValue, tags []storage.Tag) error {
	if err := storage.ValidateTags(tags); err != nil {
		return err
	}
	return s.write(ctx, "add", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO items (type, name, value, key) VALUES (?, ?, ?, ?)`,
			typ, id, nonNil(value.Data), nonNil(value.Key))
		if isUniqueViolation(err) {
			return storage.ItemAlreadyExists(typ, id)
		}
		if err != nil {
			return err
		}
		rowID, err := res.LastInsertId()
		if err != nil {
			return err
		}
		return insertTags(ctx, tx, rowID, typ, id, tags)
	})
}

func (s *Store) Update(ctx context.Context, typ, id []byte, value storage.EncryptedValue) error {
	return s.write(ctx, "update", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE items SET value = ?, key = ? WHERE type = ? AND name = ?`,
			nonNil(value.Data), nonNil(value.Key), typ, id)
		if err != nil {
			return err
		}
		return requireRow(res, storage.ItemNotFound(typ, id))
	})
}

func (s *Store) AddTags(ctx context.Context, typ, id []byte, tags []storage.Tag) error {
	if err := storage.ValidateTags(tags); err != nil {
		return err
	}
	return s.write(ctx, "add tags", func(tx *sql.Tx) error {
		rowID, err := itemRowID(ctx, tx, typ, id)
		if err != nil {
			return err
		}
		return insertTags(ctx, tx, rowID, typ, id, tags)
	})
}

func (s *Store) UpdateTags(ctx context.Context, typ, id []byte, tags []storage.Tag) error {
	if err := storage.ValidateTags(tags); err != nil {
		return err
	}
	return s.write(ctx, "update tags", func(tx *sql.Tx) error {
		rowID, err := itemRowID(ctx, tx, typ, id)
		if err != nil {
			return err
		}
		for _, t := range tags {
			var res sql.Result
			if t.Plain() {
				res, err = tx.ExecContext(ctx,
					`UPDATE tags_plaintext SET value = ?, num = ? WHERE item_id = ? AND name = ?`,
					t.Text(), numeric(t), rowID, t.Name.Name)
			} else {
				res, err = tx.ExecContext(ctx,
					`UPDATE tags_encrypted SET value = ? WHERE item_id = ? AND name = ?`,
					t.Value, rowID, t.Name.Name)
			}
			if err != nil {
				return err
			}
			if err := requireRow(res, tagNotFound(typ, id, t.Name)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) DeleteTags(ctx context.Context, typ, id []byte, names []storage.TagName) error {
	if err := storage.ValidateTagNames(names); err != nil {
		return err
	}
	return s.write(ctx, "delete tags", func(tx *sql.Tx) error {
		rowID, err := itemRowID(ctx, tx, typ, id)
		if err != nil {
			return err
		}
		for _, n := range names {
			table := "tags_encrypted"
			if n.Plain {
				table = "tags_plaintext"
			}
			res, err := tx.ExecContext(ctx,
				`DELETE FROM `+table+` WHERE item_id = ? AND name = ?`, rowID, n.Name)
			if err != nil {
				return err
			}
			if err := requireRow(res, tagNotFound(typ, id, n)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) Delete(ctx context.Context, typ, id []byte) error {
	return s.write(ctx, "delete", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM items WHERE type = ? AND name = ?`, typ, id)
		if err != nil {
			return err
		}
		return requireRow(res, storage.ItemNotFound(typ, id))
	})
}

func (s *Store) Get(ctx context.Context, typ, id []byte, opts storage.RecordOptions) (*storage.Record, error) {
	var (
		rowID     int64
		data, key []byte
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, value, key FROM items WHERE type = ? AND name = ?`, typ, id).Scan(&rowID, &data, &key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ItemNotFound(typ, id)
	}
	if err != nil {
		return nil, storage.WrapIO("get", err)
	}

	r := &storage.Record{ID: id}
	if opts.RetrieveType {
		r.Type = typ
	}
	if opts.RetrieveValue {
		r.Value = &storage.EncryptedValue{Data: data, Key: key}
	}
	if opts.RetrieveTags {
		tags, err := fetchTags(ctx, s.db, []int64{rowID})
		if err != nil {
			return nil, storage.WrapIO("get", err)
		}
		r.Tags = tags[rowID]
	}
	return r, nil
}

func (s *Store) GetStorageMetadata(ctx context.Context) ([]byte, error) {
	var md []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM metadata WHERE id = 1`).Scan(&md)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("metadata row missing: %w", storage.ErrInvalidState)
	}
	if err != nil {
		return nil, storage.WrapIO("get metadata", err)
	}
	return md, nil
}

func (s *Store) SetStorageMetadata(ctx context.Context, metadata []byte) error {
	return s.write(ctx, "set metadata", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE metadata SET value = ? WHERE id = 1`, nonNil(metadata))
		if err != nil {
			return err
		}
		return requireRow(res, fmt.Errorf("metadata row missing: %w", storage.ErrInvalidState))
	})
}

func (s *Store) GetAll(ctx context.Context) (storage.Iterator, error) {
	opts := storage.SearchOptions{RetrieveRecords: true, RetrieveType: true, RetrieveValue: true, RetrieveTags: true}
	records, err := s.fetch(ctx, wqlsql.Statement{
		SQL: `SELECT i.id, i.name, i.value, i.key, i.type FROM items AS i ORDER BY i.id`,
	}, opts)
	if err != nil {
		return nil, storage.WrapIO("get all", err)
	}
	return storage.NewSliceIterator(records, nil), nil
}

func (s *Store) Search(ctx context.Context, typ []byte, query wql.Query, opts storage.SearchOptions) (storage.Iterator, error) {
	var total *int
	if opts.RetrieveTotalCount {
		stmt, err := s.compiler.Count(typ, query)
		if err != nil {
			return nil, invalidQuery(err)
		}
		var n int
		if err := s.db.QueryRowContext(ctx, stmt.SQL, stmt.Args...).Scan(&n); err != nil {
			return nil, storage.WrapIO("search", err)
		}
		total = &n
	}

	var records []*storage.Record
	if opts.RetrieveRecords {
		stmt, err := s.compiler.Search(typ, query, opts)
		if err != nil {
			return nil, invalidQuery(err)
		}
		if records, err = s.fetch(ctx, stmt, opts); err != nil {
			return nil, storage.WrapIO("search", err)
		}
	} else if !opts.RetrieveTotalCount {
		// Neither half requested still validates the query.
		if err := wql.Validate(query); err != nil {
			return nil, invalidQuery(err)
		}
	}
	return storage.NewSliceIterator(records, total), nil
}

// fetch runs a row statement shaped like wqlsql's Search output and loads tags
// for each row when requested.
func (s *Store) fetch(ctx context.Context, stmt wqlsql.Statement, opts storage.SearchOptions) ([]*storage.Record, error) {
	rows, err := s.db.QueryContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var (
		records []*storage.Record
		rowIDs  []int64
	)
	for rows.Next() {
		var (
			rowID                int64
			name, data, key, typ []byte
		)
		if err := rows.Scan(&rowID, &name, &data, &key, &typ); err != nil {
			return nil, err
		}
		r := &storage.Record{ID: name}
		if opts.RetrieveType {
			r.Type = nonNil(typ)
		}
		if opts.RetrieveValue {
			r.Value = &storage.EncryptedValue{Data: data, Key: key}
		}
		records = append(records, r)
		rowIDs = append(rowIDs, rowID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	if opts.RetrieveTags && len(records) > 0 {
		tags, err := fetchTags(ctx, s.db, rowIDs)
		if err != nil {
			return nil, err
		}
		for i, r := range records {
			r.Tags = tags[rowIDs[i]]
		}
	}
	return records, nil
}

// fetchTags loads the tags of the given items in batches, keyed by item row
// id. Every requested item maps to a non-nil slice.
func fetchTags(ctx context.Context, q querier, rowIDs []int64) (map[int64][]storage.Tag, error) {
	out := make(map[int64][]storage.Tag, len(rowIDs))
	for _, id := range rowIDs {
		out[id] = []storage.Tag{}
	}
	for _, stmt := range wqlsql.TagFetch(rowIDs, "value") {
		if err := scanTags(ctx, q, stmt, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func scanTags(ctx context.Context, q querier, stmt wqlsql.Statement, out map[int64][]storage.Tag) error {
	rows, err := q.QueryContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return err
	}
	defer rows.Close() //nolint:errcheck

	for rows.Next() {
		var (
			itemID      int64
			name, value []byte
			plain       bool
		)
		if err := rows.Scan(&itemID, &name, &value, &plain); err != nil {
			return err
		}
		if plain {
			out[itemID] = append(out[itemID], storage.PlainTag(name, string(value)))
		} else {
			out[itemID] = append(out[itemID], storage.EncryptedTag(name, nonNil(value)))
		}
	}
	return rows.Err()
}

func requireRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	switch {
	case n == 0:
		return notFound
	case n > 1:
		return fmt.Errorf("write affected %d rows: %w", n, storage.ErrInvalidState)
	}
	return nil
}

func tagNotFound(typ, id []byte, name storage.TagName) error {
	return fmt.Errorf("%s/%s tag %s: %w", typ, id, name, storage.ErrItemNotFound)
}

func invalidQuery(err error) error {
	return fmt.Errorf("%w: %v", storage.ErrInvalidStructure, err)
}

// nonNil keeps empty byte strings from being stored as NULL.
func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
