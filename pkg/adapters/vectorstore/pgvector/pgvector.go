// Package pgvector implements the VectorStore interface on PostgreSQL with
// the pgvector extension. Each collection is a table plus a row in a small
// catalog table. The extension has no namespace concept, so non-empty
// namespaces are rejected with unsupported-operation.
package pgvector

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tetherkit/tether/pkg/adapters/vectorstore"
	"github.com/tetherkit/tether/pkg/durable"
	"github.com/tetherkit/tether/pkg/errmodel"
	"github.com/tetherkit/tether/pkg/provconf"
)

const (
	catalogTable = "vector_collections"
	scrollPage   = 128
)

var identPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]{0,62}$`)

// Store is a pgvector-backed VectorStore.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store over an existing pool and ensures the catalog table and
// the vector extension exist.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Factory constructs a pgvector-backed VectorStore. cfg keys: dsn.
func Factory(ctx context.Context, cfg map[string]any) (vectorstore.VectorStore, error) {
	opts := map[string]string{}
	if v, ok := cfg["dsn"].(string); ok && v != "" {
		opts["dsn"] = v
	}
	dsn, err := provconf.Resolve("dsn", opts, "PGVECTOR_DSN")
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errmodel.FromNetwork(err)
	}
	return New(ctx, pool)
}

func (s *Store) Name() string { return "pgvector" }

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS ` + catalogTable + ` (
			name TEXT PRIMARY KEY,
			dimension INT NOT NULL
		)`,
	}
	for _, q := range stmts {
		if _, err := s.pool.Exec(ctx, q); err != nil {
			return wrap(err)
		}
	}
	return nil
}

func (s *Store) CreateCollection(ctx context.Context, coll string, dimension int) error {
	if dimension <= 0 {
		return errmodel.InvalidInput("pgvector: dimension must be positive")
	}
	table, err := tableName(coll)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO `+catalogTable+` (name, dimension) VALUES ($1, $2) ON CONFLICT (name) DO NOTHING`,
		coll, dimension)
	if err != nil {
		return wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return errmodel.New(errmodel.KindAlreadyExists, "pgvector: collection "+coll+" already exists", nil)
	}
	_, err = s.pool.Exec(ctx, fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			embedding vector(%d) NOT NULL,
			metadata JSONB
		)`, table, dimension))
	return wrap(err)
}

func (s *Store) DeleteCollection(ctx context.Context, coll string) error {
	table, err := tableName(coll)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM `+catalogTable+` WHERE name = $1`, coll)
	if err != nil {
		return wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return errmodel.NotFound(coll, "pgvector: collection "+coll+" not found")
	}
	_, err = s.pool.Exec(ctx, `DROP TABLE IF EXISTS `+table)
	return wrap(err)
}

func (s *Store) ListCollections(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT name FROM `+catalogTable+` ORDER BY name`)
	if err != nil {
		return nil, wrap(err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, wrap(err)
		}
		names = append(names, n)
	}
	return names, wrap(rows.Err())
}

func (s *Store) Upsert(ctx context.Context, coll, namespace string, vectors []vectorstore.Vector) error {
	if err := rejectNamespace(namespace); err != nil {
		return err
	}
	if len(vectors) == 0 {
		return nil
	}
	table, err := tableName(coll)
	if err != nil {
		return err
	}
	batch := &pgx.Batch{}
	for _, v := range vectors {
		if v.ID == "" {
			return errmodel.InvalidInput("pgvector: empty vector id")
		}
		md, merr := json.Marshal(v.Metadata)
		if merr != nil {
			return errmodel.InvalidInput("pgvector: metadata not serializable: " + merr.Error())
		}
		batch.Queue(fmt.Sprintf(
			`INSERT INTO %s (id, embedding, metadata) VALUES ($1, $2::vector, $3)
			 ON CONFLICT (id) DO UPDATE SET embedding = EXCLUDED.embedding, metadata = EXCLUDED.metadata`,
			table), v.ID, encodeVector(v.Values), md)
	}
	return wrap(s.pool.SendBatch(ctx, batch).Close())
}

func (s *Store) Get(ctx context.Context, coll, namespace string, ids []string) ([]vectorstore.Vector, error) {
	if err := rejectNamespace(namespace); err != nil {
		return nil, err
	}
	table, err := tableName(coll)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		`SELECT id, embedding::text, metadata FROM %s WHERE id = ANY($1) ORDER BY id`, table), ids)
	if err != nil {
		return nil, wrap(err)
	}
	defer rows.Close()
	return scanVectors(rows)
}

func (s *Store) Delete(ctx context.Context, coll, namespace string, ids []string) error {
	if err := rejectNamespace(namespace); err != nil {
		return err
	}
	table, err := tableName(coll)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ANY($1)`, table), ids)
	return wrap(err)
}

// DeleteByFilter deletes by JSONB containment. Postgres reports affected
// rows, so the count is exact.
func (s *Store) DeleteByFilter(ctx context.Context, coll, namespace string, filter vectorstore.Filter) (int64, bool, error) {
	if err := rejectNamespace(namespace); err != nil {
		return 0, false, err
	}
	table, err := tableName(coll)
	if err != nil {
		return 0, false, err
	}
	md, merr := json.Marshal(filter.Equals)
	if merr != nil {
		return 0, false, errmodel.InvalidInput("pgvector: filter not serializable: " + merr.Error())
	}
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE metadata @> $1::jsonb`, table), md)
	if err != nil {
		return 0, false, wrap(err)
	}
	return tag.RowsAffected(), false, nil
}

func (s *Store) Search(ctx context.Context, coll string, query vectorstore.Query) ([]vectorstore.Match, error) {
	if err := rejectNamespace(query.Namespace); err != nil {
		return nil, err
	}
	table, err := tableName(coll)
	if err != nil {
		return nil, err
	}
	k := query.TopK
	if k <= 0 {
		k = 10
	}
	md, merr := json.Marshal(query.Filter.Equals)
	if merr != nil {
		return nil, errmodel.InvalidInput("pgvector: filter not serializable: " + merr.Error())
	}
	where := ""
	if len(query.Filter.Equals) > 0 {
		where = `WHERE metadata @> $2::jsonb`
	}
	// Cosine distance operator; score = 1 - distance so higher is better.
	rows, qerr := s.pool.Query(ctx, fmt.Sprintf(
		`SELECT id, embedding::text, metadata, 1 - (embedding <=> $1::vector) AS score
		 FROM %s %s ORDER BY embedding <=> $1::vector LIMIT %d OFFSET %d`,
		table, where, k, query.Offset),
		queryArgs(encodeVector(query.Vector), md, where != "")...)
	if qerr != nil {
		return nil, wrap(qerr)
	}
	defer rows.Close()

	var matches []vectorstore.Match
	for rows.Next() {
		var (
			v     vectorstore.Vector
			emb   string
			md    []byte
			score float32
		)
		if err := rows.Scan(&v.ID, &emb, &md, &score); err != nil {
			return nil, wrap(err)
		}
		if v.Values, err = decodeVector(emb); err != nil {
			return nil, err
		}
		if err := decodeMetadata(md, &v.Metadata); err != nil {
			return nil, err
		}
		matches = append(matches, vectorstore.Match{Vector: v, Score: score})
	}
	return matches, wrap(rows.Err())
}

// Scroll pages through the collection ordered by id, pushing one page per
// query into the stream. Ordering by id keeps offset-based continuation
// stable across reconnects.
func (s *Store) Scroll(ctx context.Context, coll string, query vectorstore.Query) (durable.Source[vectorstore.ScrollEvent], error) {
	if err := rejectNamespace(query.Namespace); err != nil {
		return nil, err
	}
	table, err := tableName(coll)
	if err != nil {
		return nil, err
	}
	md, merr := json.Marshal(query.Filter.Equals)
	if merr != nil {
		return nil, errmodel.InvalidInput("pgvector: filter not serializable: " + merr.Error())
	}
	where := ""
	if len(query.Filter.Equals) > 0 {
		where = `WHERE metadata @> $1::jsonb`
	}

	scrollCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	q := durable.NewQueue[vectorstore.ScrollEvent](cancel)
	go func() {
		defer q.Finish()
		offset := query.Offset
		for {
			var args []any
			if where != "" {
				args = append(args, md)
			}
			rows, err := s.pool.Query(scrollCtx, fmt.Sprintf(
				`SELECT id, embedding::text, metadata FROM %s %s ORDER BY id LIMIT %d OFFSET %d`,
				table, where, scrollPage, offset), args...)
			if err != nil {
				q.Push(vectorstore.ScrollEvent{Err: errmodel.From(err)})
				return
			}
			vectors, verr := scanVectors(rows)
			if verr != nil {
				q.Push(vectorstore.ScrollEvent{Err: errmodel.From(verr)})
				return
			}
			for i := range vectors {
				q.Push(vectorstore.ScrollEvent{Hit: &vectorstore.Match{Vector: vectors[i]}})
			}
			if len(vectors) < scrollPage {
				q.Push(vectorstore.ScrollEvent{Done: true})
				return
			}
			offset += len(vectors)
		}
	}()
	return q, nil
}

func scanVectors(rows pgx.Rows) ([]vectorstore.Vector, error) {
	defer rows.Close()
	var out []vectorstore.Vector
	for rows.Next() {
		var (
			v   vectorstore.Vector
			emb string
			md  []byte
		)
		if err := rows.Scan(&v.ID, &emb, &md); err != nil {
			return nil, wrap(err)
		}
		var err error
		if v.Values, err = decodeVector(emb); err != nil {
			return nil, err
		}
		if err := decodeMetadata(md, &v.Metadata); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, wrap(rows.Err())
}

func queryArgs(vec string, md []byte, filtered bool) []any {
	if filtered {
		return []any{vec, md}
	}
	return []any{vec}
}

func rejectNamespace(ns string) error {
	if ns != "" {
		return errmodel.Unsupported("pgvector: namespaces are not supported")
	}
	return nil
}

func tableName(coll string) (string, error) {
	if !identPattern.MatchString(coll) {
		return "", errmodel.InvalidInput("pgvector: invalid collection name " + strconv.Quote(coll))
	}
	return "vec_" + coll, nil
}

// encodeVector renders the pgvector text literal, e.g. "[0.1,0.2]".
func encodeVector(values []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range values {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'g', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

func decodeVector(s string) ([]float32, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]float32, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, errmodel.Internal("pgvector: malformed vector literal", err)
		}
		out = append(out, float32(f))
	}
	return out, nil
}

func decodeMetadata(raw []byte, into *map[string]any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return errmodel.Internal("pgvector: malformed metadata", err)
	}
	return nil
}

func init() {
	_ = vectorstore.Register("pgvector", Factory)
}

func wrap(err error) error {
	if err == nil {
		return nil
	}
	return errmodel.From(err)
}
