// Package duckdb implements a provider on an embedded DuckDB database. Vectors
// are stored as FLOAT[] and ranked with list_cosine_similarity.
package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/23skdu/vecbench/internal/dataset"
	"github.com/23skdu/vecbench/internal/provider"
)

const Name = "duckdb"

// Provider stores each collection in its own table.
type Provider struct {
	db *sql.DB
}

// Open opens (or creates) the database at path. An empty path is in-memory.
func Open(path string) (*Provider, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to duckdb: %w", err)
	}
	return &Provider{db: db}, nil
}

func (p *Provider) Name() string { return Name }

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// vectorLiteral renders v in DuckDB list syntax for CAST(? AS FLOAT[]).
func vectorLiteral(v []float32) string {
	var b strings.Builder
	b.Grow(len(v) * 10)
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(x), 'g', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

func (p *Provider) Setup(ctx context.Context, collection string) error {
	_, err := p.db.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id UBIGINT NOT NULL,
		text VARCHAR,
		int_filter UINTEGER,
		keyword_filter VARCHAR,
		tag VARCHAR,
		dense FLOAT[]
	)`, quoteIdent(collection)))
	if err != nil {
		return fmt.Errorf("failed to create table %s: %w", collection, err)
	}
	return nil
}

// Upsert deletes the batch ids and inserts the new rows in one transaction.
// List columns cannot be updated in place, and the table has no primary key
// since a key deleted and re-inserted in one transaction fails its check.
func (p *Provider) Upsert(ctx context.Context, collection string, docs []dataset.Document) error {
	ids := make([]uint64, len(docs))
	for i, d := range docs {
		id, err := d.NumericID()
		if err != nil {
			return err
		}
		ids[i] = id
	}
	// The last occurrence of a repeated id wins.
	last := make(map[uint64]int, len(docs))
	for i, id := range ids {
		last[id] = i
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	placeholders := make([]string, 0, len(last))
	args := make([]any, 0, len(last))
	for i, id := range ids {
		if last[id] == i {
			placeholders = append(placeholders, "?")
			args = append(args, id)
		}
	}
	if len(args) == 0 {
		return nil
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id IN (%s)`,
		quoteIdent(collection), strings.Join(placeholders, ", ")), args...); err != nil {
		return fmt.Errorf("failed to delete replaced documents: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (id, text, int_filter, keyword_filter, tag, dense) VALUES (?, ?, ?, ?, ?, CAST(? AS FLOAT[]))`,
		quoteIdent(collection)))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, d := range docs {
		if last[ids[i]] != i {
			continue
		}
		var tag sql.NullString
		if d.Tag != nil {
			tag = sql.NullString{String: *d.Tag, Valid: true}
		}
		var dense sql.NullString
		if len(d.DenseEmbedding) > 0 {
			dense = sql.NullString{String: vectorLiteral(d.DenseEmbedding), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, ids[i], d.Text, int64(d.IntFilter), d.KeywordFilter, tag, dense); err != nil {
			return fmt.Errorf("failed to upsert document %s: %w", d.ID, err)
		}
	}
	return tx.Commit()
}

const selectColumns = `id, text, int_filter, keyword_filter, tag`

func scanDocuments(rows *sql.Rows) ([]dataset.Document, error) {
	defer rows.Close()
	var out []dataset.Document
	for rows.Next() {
		var (
			id        uint64
			text      sql.NullString
			intFilter sql.NullInt64
			keyword   sql.NullString
			tag       sql.NullString
		)
		if err := rows.Scan(&id, &text, &intFilter, &keyword, &tag); err != nil {
			return nil, err
		}
		d := dataset.Document{
			ID:            strconv.FormatUint(id, 10),
			Text:          text.String,
			IntFilter:     uint32(intFilter.Int64),
			KeywordFilter: keyword.String,
		}
		if tag.Valid {
			s := tag.String
			d.Tag = &s
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *Provider) QueryByID(ctx context.Context, collection, id string) (*dataset.Document, error) {
	key, err := strconv.ParseUint(id, 10, 64)
	if err != nil {
		return nil, nil
	}
	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`SELECT %s FROM %s WHERE id = ?`, selectColumns, quoteIdent(collection)), key)
	if err != nil {
		return nil, err
	}
	docs, err := scanDocuments(rows)
	if err != nil {
		return nil, err
	}
	return provider.Single(docs)
}

func (p *Provider) Query(ctx context.Context, collection string, vector []float32, topK int, filter provider.Filter) ([]dataset.Document, error) {
	var (
		where = []string{"dense IS NOT NULL"}
		args  []any
	)
	if filter.Int != nil {
		where = append(where, "int_filter <= ?")
		args = append(args, int64(*filter.Int))
	}
	for _, tok := range filter.Tokens() {
		where = append(where, "list_contains(string_split(keyword_filter, ' '), ?)")
		args = append(args, tok)
	}
	args = append(args, vectorLiteral(vector), topK)

	query := fmt.Sprintf(
		`SELECT %s FROM %s WHERE %s ORDER BY list_cosine_similarity(dense, CAST(? AS FLOAT[])) DESC, id LIMIT ?`,
		selectColumns, quoteIdent(collection), strings.Join(where, " AND "))

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanDocuments(rows)
}

func (p *Provider) Close(context.Context) error {
	return p.db.Close()
}

func (p *Provider) ListCollections(ctx context.Context) ([]string, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT table_name FROM information_schema.tables WHERE table_schema = 'main' ORDER BY table_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (p *Provider) DeleteCollection(ctx context.Context, name string) error {
	_, err := p.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdent(name))
	return err
}

var (
	_ provider.Provider = (*Provider)(nil)
	_ provider.Cleaner  = (*Provider)(nil)
)
