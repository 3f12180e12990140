package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jmcleod/tagvault/storage"
	"github.com/jmcleod/tagvault/storage/wqlsql"
	"github.com/jmcleod/tagvault/wql"
)

// Store is a session on one wallet. The pools it uses are shared and outlive it.
type Store struct {
	read, write *pgxpool.Pool
	walletID    int64
	compiler    wqlsql.Compiler
	logger      *slog.Logger
}

var _ storage.Storage = (*Store)(nil)

// WalletID returns the numeric scope every statement of this session uses.
func (s *Store) WalletID() int64 {
	return s.walletID
}

// Close releases the session. Pools stay cached for the life of the process.
func (s *Store) Close() error {
	return nil
}

// querier abstracts both *pgxpool.Pool and pgx.Tx for shared queries.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (s *Store) inTx(ctx context.Context, op string, fn func(tx pgx.Tx) error) error {
	tx, err := s.write.Begin(ctx)
	if err != nil {
		return storage.WrapIO(op, err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(tx); err != nil {
		return storage.Translate(op, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return storage.WrapIO(op, err)
	}
	return nil
}

// lockItem returns the row id of the item, locking it for the transaction.
func (s *Store) lockItem(ctx context.Context, tx pgx.Tx, typ, id []byte) (int64, error) {
	var rowID int64
	err := tx.QueryRow(ctx,
		`SELECT id FROM items WHERE wallet_id = $1 AND type = $2 AND name = $3 FOR UPDATE`,
		s.walletID, typ, id).Scan(&rowID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, storage.ItemNotFound(typ, id)
	}
	return rowID, err
}

func numeric(t storage.Tag) *float64 {
	if f, ok := wql.Numeric(t.Text()); ok {
		return &f
	}
	return nil
}

func (s *Store) insertTags(ctx context.Context, tx pgx.Tx, rowID int64, typ, id []byte, tags []storage.Tag) error {
	for _, t := range tags {
		var err error
		if t.Plain() {
			_, err = tx.Exec(ctx,
				`INSERT INTO tags_plaintext (wallet_id, item_id, name, value, num) VALUES ($1, $2, $3, $4, $5)`,
				s.walletID, rowID, t.Name.Name, t.Text(), numeric(t))
		} else {
			_, err = tx.Exec(ctx,
				`INSERT INTO tags_encrypted (wallet_id, item_id, name, value) VALUES ($1, $2, $3, $4)`,
				s.walletID, rowID, t.Name.Name, nonNil(t.Value))
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

// requireOne maps a write's row count onto the storage error kinds.
func requireOne(tag pgconn.CommandTag, notFound error) error {
	switch n := tag.RowsAffected(); {
	case n == 0:
		return notFound
	case n > 1:
		return fmt.Errorf("write affected %d rows: %w", n, storage.ErrInvalidState)
	}
	return nil
}

func (s *Store) Add(ctx context.Context, typ, id []byte, value storage.EncryptedValue, tags []storage.Tag) error {
	if err := storage.ValidateTags(tags); err != nil {
		return err
	}
	return s.inTx(ctx, "add", func(tx pgx.Tx) error {
		var rowID int64
		err := tx.QueryRow(ctx,
			`INSERT INTO items (wallet_id, type, name, value, key) VALUES ($1, $2, $3, $4, $5) RETURNING id`,
			s.walletID, typ, id, nonNil(value.Data), nonNil(value.Key)).Scan(&rowID)
		if isUniqueViolation(err) {
			return storage.ItemAlreadyExists(typ, id)
		}
		if err != nil {
			return err
		}
		return s.insertTags(ctx, tx, rowID, typ, id, tags)
	})
}

func (s *Store) Update(ctx context.Context, typ, id []byte, value storage.EncryptedValue) error {
	return s.inTx(ctx, "update", func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE items SET value = $1, key = $2 WHERE wallet_id = $3 AND type = $4 AND name = $5`,
			nonNil(value.Data), nonNil(value.Key), s.walletID, typ, id)
		if err != nil {
			return err
		}
		return requireOne(tag, storage.ItemNotFound(typ, id))
	})
}

func (s *Store) AddTags(ctx context.Context, typ, id []byte, tags []storage.Tag) error {
	if err := storage.ValidateTags(tags); err != nil {
		return err
	}
	return s.inTx(ctx, "add tags", func(tx pgx.Tx) error {
		rowID, err := s.lockItem(ctx, tx, typ, id)
		if err != nil {
			return err
		}
		return s.insertTags(ctx, tx, rowID, typ, id, tags)
	})
}

func (s *Store) UpdateTags(ctx context.Context, typ, id []byte, tags []storage.Tag) error {
	if err := storage.ValidateTags(tags); err != nil {
		return err
	}
	return s.inTx(ctx, "update tags", func(tx pgx.Tx) error {
		rowID, err := s.lockItem(ctx, tx, typ, id)
		if err != nil {
			return err
		}
		for _, t := range tags {
			var tag pgconn.CommandTag
			if t.Plain() {
				tag, err = tx.Exec(ctx,
					`UPDATE tags_plaintext SET value = $1, num = $2 WHERE item_id = $3 AND name = $4`,
					t.Text(), numeric(t), rowID, t.Name.Name)
			} else {
				tag, err = tx.Exec(ctx,
					`UPDATE tags_encrypted SET value = $1 WHERE item_id = $2 AND name = $3`,
					nonNil(t.Value), rowID, t.Name.Name)
			}
			if err != nil {
				return err
			}
			if err := requireOne(tag, tagNotFound(typ, id, t.Name)); err != nil {
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
	return s.inTx(ctx, "delete tags", func(tx pgx.Tx) error {
		rowID, err := s.lockItem(ctx, tx, typ, id)
		if err != nil {
			return err
		}
		for _, n := range names {
			table := "tags_encrypted"
			if n.Plain {
				table = "tags_plaintext"
			}
			tag, err := tx.Exec(ctx, `DELETE FROM `+table+` WHERE item_id = $1 AND name = $2`, rowID, n.Name)
			if err != nil {
				return err
			}
			if err := requireOne(tag, tagNotFound(typ, id, n)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) Delete(ctx context.Context, typ, id []byte) error {
	return s.inTx(ctx, "delete", func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`DELETE FROM items WHERE wallet_id = $1 AND type = $2 AND name = $3`, s.walletID, typ, id)
		if err != nil {
			return err
		}
		return requireOne(tag, storage.ItemNotFound(typ, id))
	})
}

func (s *Store) Get(ctx context.Context, typ, id []byte, opts storage.RecordOptions) (*storage.Record, error) {
	var (
		rowID     int64
		data, key []byte
	)
	err := s.read.QueryRow(ctx,
		`SELECT id, value, key FROM items WHERE wallet_id = $1 AND type = $2 AND name = $3`,
		s.walletID, typ, id).Scan(&rowID, &data, &key)
	if errors.Is(err, pgx.ErrNoRows) {
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
		tags, err := fetchTags(ctx, s.read, []int64{rowID})
		if err != nil {
			return nil, storage.WrapIO("get", err)
		}
		r.Tags = tags[rowID]
	}
	return r, nil
}

func (s *Store) GetStorageMetadata(ctx context.Context) ([]byte, error) {
	var md []byte
	err := s.read.QueryRow(ctx, `SELECT metadata FROM wallets WHERE id = $1`, s.walletID).Scan(&md)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("wallet %d: %w", s.walletID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, storage.WrapIO("get metadata", err)
	}
	return md, nil
}

func (s *Store) SetStorageMetadata(ctx context.Context, metadata []byte) error {
	tag, err := s.write.Exec(ctx, `UPDATE wallets SET metadata = $1 WHERE id = $2`, nonNil(metadata), s.walletID)
	if err != nil {
		return storage.WrapIO("set metadata", err)
	}
	return requireOne(tag, fmt.Errorf("wallet %d: %w", s.walletID, storage.ErrNotFound))
}

func (s *Store) GetAll(ctx context.Context) (storage.Iterator, error) {
	opts := storage.SearchOptions{RetrieveRecords: true, RetrieveType: true, RetrieveValue: true, RetrieveTags: true}
	records, err := s.fetch(ctx, wqlsql.Statement{
		SQL:  `SELECT i.id, i.name, i.value, i.key, i.type FROM items AS i WHERE i.wallet_id = $1 ORDER BY i.id`,
		Args: []any{s.walletID},
	}, opts)
	if err != nil {
		return nil, storage.WrapIO("get all", err)
	}
	return storage.NewSliceIterator(records, nil), nil
}

func (s *Store) Search(ctx context.Context, typ []byte, query wql.Query, opts storage.SearchOptions) (storage.Iterator, error) {
	if err := wql.Validate(query); err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrInvalidStructure, err)
	}

	var total *int
	if opts.RetrieveTotalCount {
		stmt, err := s.compiler.Count(typ, query)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", storage.ErrInvalidStructure, err)
		}
		var n int
		if err := s.read.QueryRow(ctx, stmt.SQL, stmt.Args...).Scan(&n); err != nil {
			return nil, storage.WrapIO("search", err)
		}
		total = &n
	}

	var records []*storage.Record
	if opts.RetrieveRecords {
		stmt, err := s.compiler.Search(typ, query, opts)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", storage.ErrInvalidStructure, err)
		}
		if records, err = s.fetch(ctx, stmt, opts); err != nil {
			return nil, storage.WrapIO("search", err)
		}
	}
	return storage.NewSliceIterator(records, total), nil
}

func (s *Store) fetch(ctx context.Context, stmt wqlsql.Statement, opts storage.SearchOptions) ([]*storage.Record, error) {
	rows, err := s.read.Query(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

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

	if opts.RetrieveTags && len(records) > 0 {
		tags, err := fetchTags(ctx, s.read, rowIDs)
		if err != nil {
			return nil, err
		}
		for i, r := range records {
			r.Tags = tags[rowIDs[i]]
		}
	}
	return records, nil
}

// fetchTags loads the tags of the given items, keyed by item row id. Every
// requested item maps to a non-nil slice.
func fetchTags(ctx context.Context, q querier, rowIDs []int64) (map[int64][]storage.Tag, error) {
	out := make(map[int64][]storage.Tag, len(rowIDs))
	for _, id := range rowIDs {
		out[id] = []storage.Tag{}
	}

	rows, err := q.Query(ctx, `SELECT item_id, name, value FROM tags_encrypted WHERE item_id = ANY($1)`, rowIDs)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var (
			itemID      int64
			name, value []byte
		)
		if err := rows.Scan(&itemID, &name, &value); err != nil {
			rows.Close()
			return nil, err
		}
		out[itemID] = append(out[itemID], storage.EncryptedTag(name, nonNil(value)))
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = q.Query(ctx, `SELECT item_id, name, value FROM tags_plaintext WHERE item_id = ANY($1)`, rowIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			itemID int64
			name   []byte
			value  string
		)
		if err := rows.Scan(&itemID, &name, &value); err != nil {
			return nil, err
		}
		out[itemID] = append(out[itemID], storage.PlainTag(name, value))
	}
	return out, rows.Err()
}

func tagNotFound(typ, id []byte, name storage.TagName) error {
	return fmt.Errorf("%s/%s tag %s: %w", typ, id, name, storage.ErrItemNotFound)
}

// nonNil keeps empty byte strings from being stored as NULL.
func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
