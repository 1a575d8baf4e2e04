// Package postgres implements store.Store on PostgreSQL JSONB tables.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/techtrend/internal/store"
	"github.com/JakeFAU/techtrend/internal/upsert"
)

var validIdentifier = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	SendBatch(context.Context, *pgx.Batch) pgx.BatchResults
	Begin(context.Context) (pgx.Tx, error)
	Close()
}

// Store keeps one table per collection with the document in a JSONB column
// and the natural key enforced by a unique expression index.
type Store struct {
	pool pool
}

// Open creates a pool from cfg and pings the server.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{pool: p}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: p}, nil
}

// TableName returns the table backing coll.
func TableName(coll upsert.Collection) string {
	return coll.Database + "_" + coll.Name
}

func keyExprs(coll upsert.Collection) string {
	exprs := make([]string, 0, len(coll.Keys))
	for _, k := range coll.Keys {
		exprs = append(exprs, fmt.Sprintf("(doc->>'%s')", k.Field))
	}
	return strings.Join(exprs, ", ")
}

// EnsureIndex creates the table and its unique natural-key index. Index
// order is irrelevant for uniqueness and is not declared.
func (s *Store) EnsureIndex(ctx context.Context, coll upsert.Collection) error {
	if err := coll.Validate(); err != nil {
		return err
	}
	table := TableName(coll)
	createTable := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL PRIMARY KEY,
	doc JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, table)
	if _, err := s.pool.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("create table %s: %w", table, err)
	}
	createIndex := fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS %s_natural_key ON %s (%s)`,
		table, table, keyExprs(coll))
	if _, err := s.pool.Exec(ctx, createIndex); err != nil {
		return fmt.Errorf("create index on %s: %w", table, err)
	}
	return nil
}

func upsertSQL(coll upsert.Collection) string {
	table := TableName(coll)
	return fmt.Sprintf(`INSERT INTO %s (doc) VALUES ($1)
ON CONFLICT (%s) DO UPDATE SET doc = EXCLUDED.doc, updated_at = now()
RETURNING (xmax = 0) AS inserted`, table, keyExprs(coll))
}

// BulkUpsert sends every item in one pgx.Batch. The batch runs as a single
// implicit transaction, so when the server rejects an item the whole batch is
// rolled back and replayed item by item behind savepoints: the rejected items
// are reported and every other item is committed.
func (s *Store) BulkUpsert(ctx context.Context, coll upsert.Collection, items []store.Item) (store.BulkResult, error) {
	if len(items) == 0 {
		return store.BulkResult{}, nil
	}
	sql := upsertSQL(coll)
	payloads := make([][]byte, len(items))
	batch := &pgx.Batch{}
	for i, item := range items {
		payload, err := json.Marshal(item.Document)
		if err != nil {
			return store.BulkResult{}, fmt.Errorf("marshal document %s: %w", item.Key, err)
		}
		payloads[i] = payload
		batch.Queue(sql, payload)
	}

	br := s.pool.SendBatch(ctx, batch)
	var (
		res       store.BulkResult
		failedErr error
	)
	for range items {
		var inserted bool
		if err := br.QueryRow().Scan(&inserted); err != nil {
			failedErr = err
			break
		}
		if inserted {
			res.Inserted++
		} else {
			res.Matched++
		}
	}
	if closeErr := br.Close(); failedErr == nil {
		failedErr = closeErr
	}
	if failedErr == nil {
		return res, nil
	}

	var pgErr *pgconn.PgError
	if !errors.As(failedErr, &pgErr) {
		return store.BulkResult{}, fmt.Errorf("bulk upsert into %s: %w", TableName(coll), failedErr)
	}
	return s.upsertEach(ctx, coll, items, payloads)
}

// upsertEach runs the upserts in one transaction, each behind a savepoint, so
// a rejected item is rolled back alone.
func (s *Store) upsertEach(ctx context.Context, coll upsert.Collection, items []store.Item, payloads [][]byte) (store.BulkResult, error) {
	table := TableName(coll)
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return store.BulkResult{}, fmt.Errorf("begin upsert into %s: %w", table, err)
	}
	abort := func(err error) (store.BulkResult, error) {
		_ = tx.Rollback(ctx)
		return store.BulkResult{}, err
	}

	sql := upsertSQL(coll)
	var res store.BulkResult
	for i, item := range items {
		if _, err := tx.Exec(ctx, "SAVEPOINT upsert_item"); err != nil {
			return abort(fmt.Errorf("savepoint in %s: %w", table, err))
		}
		var inserted bool
		err := tx.QueryRow(ctx, sql, payloads[i]).Scan(&inserted)
		var pgErr *pgconn.PgError
		switch {
		case errors.As(err, &pgErr):
			if _, err := tx.Exec(ctx, "ROLLBACK TO SAVEPOINT upsert_item"); err != nil {
				return abort(fmt.Errorf("rollback item %d in %s: %w", i, table, err))
			}
			res.Failures = append(res.Failures, store.ItemFailure{Index: i, Key: item.Key, Message: pgErr.Message})
			continue
		case err != nil:
			return abort(fmt.Errorf("upsert into %s: %w", table, err))
		}
		if _, err := tx.Exec(ctx, "RELEASE SAVEPOINT upsert_item"); err != nil {
			return abort(fmt.Errorf("release savepoint in %s: %w", table, err))
		}
		if inserted {
			res.Inserted++
		} else {
			res.Matched++
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return store.BulkResult{}, fmt.Errorf("commit upsert into %s: %w", table, err)
	}
	return res, nil
}

// FindAll selects matching documents and decodes them into results.
func (s *Store) FindAll(ctx context.Context, coll upsert.Collection, query store.Query, results any) error {
	sql, args, err := selectSQL(coll, query)
	if err != nil {
		return err
	}
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("query %s: %w", TableName(coll), err)
	}
	defer rows.Close()

	docs := make([]json.RawMessage, 0)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return fmt.Errorf("scan %s: %w", TableName(coll), err)
		}
		docs = append(docs, json.RawMessage(raw))
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate %s: %w", TableName(coll), err)
	}
	payload, err := json.Marshal(docs)
	if err != nil {
		return fmt.Errorf("encode rows: %w", err)
	}
	if err := json.Unmarshal(payload, results); err != nil {
		return fmt.Errorf("decode rows: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *Store) Close(context.Context) error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func selectSQL(coll upsert.Collection, q store.Query) (string, []any, error) {
	fields := make([]string, 0, len(q.Equals))
	for f := range q.Equals {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	var (
		where []string
		args  []any
	)
	for _, f := range fields {
		if !validIdentifier.MatchString(f) {
			return "", nil, fmt.Errorf("invalid field name %q", f)
		}
		args = append(args, textValue(q.Equals[f]))
		where = append(where, fmt.Sprintf("doc->>'%s' = $%d", f, len(args)))
	}
	order := "id"
	if q.Range != nil {
		if !validIdentifier.MatchString(q.Range.Field) {
			return "", nil, fmt.Errorf("invalid field name %q", q.Range.Field)
		}
		expr := fmt.Sprintf("(doc->>'%s')::timestamptz", q.Range.Field)
		args = append(args, q.Range.From.UTC(), q.Range.To.UTC())
		where = append(where, fmt.Sprintf("%s BETWEEN $%d AND $%d", expr, len(args)-1, len(args)))
		order = expr + ", id"
	}
	sql := "SELECT doc FROM " + TableName(coll)
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	sql += " ORDER BY " + order
	return sql, args, nil
}

func textValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	default:
		raw, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(raw)
	}
}
