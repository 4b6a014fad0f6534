package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ValentinKolb/dTable/lib/blob"
	"github.com/ValentinKolb/dTable/lib/dberr"
	"github.com/ValentinKolb/dTable/lib/lockmgr"
	"github.com/ValentinKolb/dTable/lib/relation"
	"github.com/ValentinKolb/dTable/lib/table"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
)

// --------------------------------------------------------------------------
// Schema
// --------------------------------------------------------------------------

const (
	schemaVersion      = 2
	schemaLowerVersion = 4

	collectionType = "table"
	storageType    = "storage"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS info (key VARCHAR(20), value VARCHAR(20))`,
	`CREATE TABLE IF NOT EXISTS collections (
		name TEXT NOT NULL,
		col_columns TEXT,
		col_domains TEXT,
		type TEXT,
		rows INTEGER DEFAULT 0,
		indextype TEXT,
		lastedit TIMESTAMP
	)`,
	// documents is part of the master.db layout shared with document stores;
	// dTable only creates it and answers catalog queries on it
	`CREATE TABLE IF NOT EXISTS documents (
		document TEXT NOT NULL,
		directory TEXT,
		retention TEXT,
		type TEXT,
		size INTEGER DEFAULT 0,
		lastedit TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS storages (
		document TEXT NOT NULL,
		rows INTEGER DEFAULT 0,
		keys TEXT,
		retention TEXT,
		type TEXT,
		size INTEGER DEFAULT 0,
		lastedit TIMESTAMP
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS collections_name ON collections(name)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS documents_document ON documents(document)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS storages_document ON storages(document)`,
}

// Collection is the catalog entry of a collection.
type Collection struct {
	Name      string          `json:"name"`
	Columns   []string        `json:"columns"`
	Domains   []string        `json:"domains"`
	Type      string          `json:"type"`
	Rows      int             `json:"rows"`
	IndexType table.IndexType `json:"indextype"`
	LastEdit  time.Time       `json:"lastedit"`
}

// Storage is the catalog entry of a key-value storage.
type Storage struct {
	Name     string    `json:"document"`
	Rows     int       `json:"rows"`
	Keys     []string  `json:"keys"`
	Type     string    `json:"type"`
	Size     int64     `json:"size"`
	LastEdit time.Time `json:"lastedit"`
}

type collectionRow struct {
	Name      string         `db:"name"`
	Columns   sql.NullString `db:"col_columns"`
	Domains   sql.NullString `db:"col_domains"`
	Type      sql.NullString `db:"type"`
	Rows      sql.NullInt64  `db:"rows"`
	IndexType sql.NullString `db:"indextype"`
	LastEdit  sql.NullTime   `db:"lastedit"`
}

func (r collectionRow) decode() Collection {
	c := Collection{
		Name:      r.Name,
		Columns:   decodeList(r.Columns.String),
		Domains:   decodeList(r.Domains.String),
		Type:      r.Type.String,
		Rows:      int(r.Rows.Int64),
		IndexType: table.ParseIndexType(r.IndexType.String),
		LastEdit:  r.LastEdit.Time,
	}
	if c.Type == "" {
		c.Type = collectionType
	}
	return c
}

type storageRow struct {
	Document string         `db:"document"`
	Rows     sql.NullInt64  `db:"rows"`
	Keys     sql.NullString `db:"keys"`
	Type     sql.NullString `db:"type"`
	Size     sql.NullInt64  `db:"size"`
	LastEdit sql.NullTime   `db:"lastedit"`
}

func (r storageRow) decode() Storage {
	s := Storage{
		Name:     r.Document,
		Rows:     int(r.Rows.Int64),
		Type:     r.Type.String,
		Size:     r.Size.Int64,
		LastEdit: r.LastEdit.Time,
	}
	if r.Keys.String != "" {
		s.Keys = strings.Split(r.Keys.String, ",")
	}
	return s
}

// --------------------------------------------------------------------------
// Store
// --------------------------------------------------------------------------

// metaStore is the sqlite database holding the catalog. Writes run in one
// transaction each while the marker lock is held.
type metaStore struct {
	db   *sqlx.DB
	lock lockmgr.ILockManager
}

func openMetaStore(ctx context.Context, cfg Config) (*metaStore, error) {
	lock := lockmgr.NewLockManager(lockmgr.Config{Path: cfg.lockPath(), Budget: cfg.LockBudget})
	if _, err := lock.RemoveStale(); err != nil {
		return nil, fmt.Errorf("failed to remove stale write lock: %w", err)
	}

	db, err := sqlx.Open("sqlite3", cfg.metaPath()+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata store: %w", err)
	}
	// sqlite allows a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	m := &metaStore{db: db, lock: lock}
	if err := m.init(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return m, nil
}

func (m *metaStore) Close() error {
	return m.db.Close()
}

// init creates the schema and runs the upgrade hook for older versions
func (m *metaStore) init(ctx context.Context) error {
	return m.write(ctx, func(tx *sqlx.Tx) error {
		for _, stmt := range schema {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("failed to create schema: %w", err)
			}
		}

		var count int
		if err := tx.GetContext(ctx, &count, `SELECT COUNT(*) FROM info WHERE key = 'version'`); err != nil {
			return err
		}
		if count == 0 {
			_, err := tx.ExecContext(ctx, `INSERT INTO info (key, value) VALUES ('version', ?), ('lowerversion', ?)`,
				strconv.Itoa(schemaVersion), strconv.Itoa(schemaLowerVersion))
			return err
		}

		version, lower, err := readVersion(ctx, tx)
		if err != nil {
			return err
		}
		if version < schemaVersion || (version == schemaVersion && lower < schemaLowerVersion) {
			return upgrade(ctx, tx, version, lower)
		}
		return nil
	})
}

// Version returns the schema version pair.
func (m *metaStore) Version(ctx context.Context) (int, int, error) {
	return readVersion(ctx, m.db)
}

func readVersion(ctx context.Context, q sqlx.QueryerContext) (int, int, error) {
	var rows []struct {
		Key   string `db:"key"`
		Value string `db:"value"`
	}
	if err := sqlx.SelectContext(ctx, q, &rows, `SELECT key, value FROM info`); err != nil {
		return 0, 0, err
	}
	var version, lower int
	for _, r := range rows {
		v, err := strconv.Atoi(r.Value)
		if err != nil {
			continue
		}
		switch r.Key {
		case "version":
			version = v
		case "lowerversion":
			lower = v
		}
	}
	return version, lower, nil
}

// upgrade migrates an older catalog. No migration steps exist yet; the
// version rows are brought up to date.
func upgrade(ctx context.Context, tx *sqlx.Tx, version, lower int) error {
	log.Infof("upgrading catalog from version %d.%d to %d.%d", version, lower, schemaVersion, schemaLowerVersion)
	if _, err := tx.ExecContext(ctx, `UPDATE info SET value = ? WHERE key = 'version'`, strconv.Itoa(schemaVersion)); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `UPDATE info SET value = ? WHERE key = 'lowerversion'`, strconv.Itoa(schemaLowerVersion))
	return err
}

// write runs fn in a transaction while holding the write lock
func (m *metaStore) write(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	ownerID, err := m.lock.AcquireLock(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if _, rerr := m.lock.ReleaseLock(ownerID); rerr != nil {
			log.Errorf("failed to release write lock: %v", rerr)
		}
	}()

	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// read waits for running writers of other processes
func (m *metaStore) read(ctx context.Context) {
	m.lock.AwaitUnlocked(ctx)
}

// --------------------------------------------------------------------------
// Collections
// --------------------------------------------------------------------------

func (m *metaStore) insertCollection(ctx context.Context, name string, indexType table.IndexType) error {
	err := m.write(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO collections (name, col_columns, col_domains, type, rows, indextype, lastedit)
			 VALUES (?, '[]', '[]', ?, 0, ?, DATETIME())`,
			name, collectionType, string(indexType))
		return err
	})
	if isConstraintError(err) {
		return dberr.New(dberr.CodeDuplicateCollection, "collection %s already exists", name)
	}
	return err
}

// upsertCollection writes the metadata of a table, inserting the row if
// it is missing
func (m *metaStore) upsertCollection(ctx context.Context, info table.Info) error {
	return m.write(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO collections (name, col_columns, col_domains, type, rows, indextype, lastedit)
			 VALUES (?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(name) DO UPDATE SET
			   col_columns = excluded.col_columns,
			   col_domains = excluded.col_domains,
			   rows = excluded.rows,
			   indextype = excluded.indextype,
			   lastedit = excluded.lastedit`,
			info.Name, encodeList(info.Columns), encodeList(info.Domains), collectionType,
			info.Rows, string(info.IndexType), lastEdit(info.LastEdit))
		return err
	})
}

func (m *metaStore) getCollection(ctx context.Context, name string) (*Collection, error) {
	m.read(ctx)
	var row collectionRow
	err := m.db.GetContext(ctx, &row,
		`SELECT name, col_columns, col_domains, type, rows, indextype, lastedit FROM collections WHERE name = ?`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c := row.decode()
	return &c, nil
}

func (m *metaStore) listCollections(ctx context.Context) ([]Collection, error) {
	m.read(ctx)
	var rows []collectionRow
	if err := m.db.SelectContext(ctx, &rows,
		`SELECT name, col_columns, col_domains, type, rows, indextype, lastedit FROM collections ORDER BY name`); err != nil {
		return nil, err
	}
	out := make([]Collection, len(rows))
	for i, r := range rows {
		out[i] = r.decode()
	}
	return out, nil
}

func (m *metaStore) deleteCollection(ctx context.Context, name string) error {
	return m.write(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM collections WHERE name = ?`, name)
		return err
	})
}

// --------------------------------------------------------------------------
// Storages
// --------------------------------------------------------------------------

func (m *metaStore) insertStorage(ctx context.Context, name string) error {
	err := m.write(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO storages (document, rows, keys, type, size, lastedit) VALUES (?, 0, '', ?, 0, DATETIME())`,
			name, storageType)
		return err
	})
	if isConstraintError(err) {
		return dberr.New(dberr.CodeDuplicateCollection, "storage %s already exists", name)
	}
	return err
}

func (m *metaStore) upsertStorage(ctx context.Context, info blob.Info) error {
	return m.write(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO storages (document, rows, keys, type, size, lastedit)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(document) DO UPDATE SET
			   rows = excluded.rows,
			   keys = excluded.keys,
			   size = excluded.size,
			   lastedit = excluded.lastedit`,
			info.Name, info.Rows, strings.Join(info.Keys, ","), storageType, info.Size, lastEdit(info.LastEdit))
		return err
	})
}

func (m *metaStore) getStorage(ctx context.Context, name string) (*Storage, error) {
	m.read(ctx)
	var row storageRow
	err := m.db.GetContext(ctx, &row,
		`SELECT document, rows, keys, type, size, lastedit FROM storages WHERE document = ?`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s := row.decode()
	return &s, nil
}

func (m *metaStore) listStorages(ctx context.Context) ([]Storage, error) {
	m.read(ctx)
	var rows []storageRow
	if err := m.db.SelectContext(ctx, &rows,
		`SELECT document, rows, keys, type, size, lastedit FROM storages ORDER BY document`); err != nil {
		return nil, err
	}
	out := make([]Storage, len(rows))
	for i, r := range rows {
		out[i] = r.decode()
	}
	return out, nil
}

func (m *metaStore) deleteStorage(ctx context.Context, name string) error {
	return m.write(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM storages WHERE document = ?`, name)
		return err
	})
}

// --------------------------------------------------------------------------
// Raw queries
// --------------------------------------------------------------------------

// Query runs a read statement directly on the metadata database and
// returns the result as a relation with a positional index.
func (m *metaStore) Query(ctx context.Context, query string) (*relation.Relation, error) {
	m.read(ctx)
	rows, err := m.db.QueryxContext(ctx, query)
	if err != nil {
		return nil, dberr.Wrap(dberr.CodeQueryExecution, err, "catalog query failed")
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	rec := relation.Records{Columns: columns}
	for rows.Next() {
		values, err := rows.SliceScan()
		if err != nil {
			return nil, dberr.Wrap(dberr.CodeQueryExecution, err, "catalog query failed")
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		rec.Rows = append(rec.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, dberr.Wrap(dberr.CodeQueryExecution, err, "catalog query failed")
	}
	return relation.FromRecords(rec)
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

func encodeList(list []string) string {
	if list == nil {
		list = []string{}
	}
	b, _ := json.Marshal(list)
	return string(b)
}

func decodeList(s string) []string {
	out := []string{}
	if s == "" {
		return out
	}
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		log.Warningf("invalid list in catalog: %q", s)
		return []string{}
	}
	return out
}

func lastEdit(t time.Time) time.Time {
	if t.IsZero() || t.Unix() <= 0 {
		return time.Now().UTC()
	}
	return t.UTC()
}

func isConstraintError(err error) bool {
	var serr sqlite3.Error
	return errors.As(err, &serr) && serr.Code == sqlite3.ErrConstraint
}
