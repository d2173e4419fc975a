// Package retrieval stores and searches document passages with PostgreSQL
// and pgvector.
package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog/log"

	edudoc "github.com/edudocai/edudoc"
)

// Querier is the database surface the store needs. Defined here, by the
// consumer, so tests can substitute a fake; *pgxpool.Pool satisfies it.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store implements edudoc.Retriever over a pgvector-backed passages table.
// Identical queries against an unchanged table return identical passages in
// identical order, which the dispatcher's retry semantics rely on.
type Store struct {
	db       Querier
	embedder ai.Embedder
	table    string
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithTable overrides the passages table name.
func WithTable(table string) StoreOption {
	return func(s *Store) {
		s.table = table
	}
}

// NewStore creates a passage store on the given database and embedder.
func NewStore(db Querier, embedder ai.Embedder, options ...StoreOption) *Store {
	s := &Store{
		db:       db,
		embedder: embedder,
		table:    "passages",
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// Retrieve implements edudoc.Retriever. An empty result is returned as an
// empty slice, never an error.
func (s *Store) Retrieve(ctx context.Context, query string, filter edudoc.MetadataFilter, k int) ([]edudoc.Passage, error) {
	vector, err := s.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	sql, args := s.buildSearchQuery(vector, filter, k)
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("passage search failed: %w", err)
	}
	defer rows.Close()

	var passages []edudoc.Passage
	for rows.Next() {
		var (
			p            edudoc.Passage
			metadataJSON []byte
		)
		if err := rows.Scan(&p.Text, &p.SourceDocumentID, &p.Offset, &metadataJSON, &p.Score); err != nil {
			return nil, fmt.Errorf("failed to scan passage row: %w", err)
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &p.Metadata); err != nil {
				log.Warn().Err(err).Str("source", p.SourceDocumentID).Msg("skipping unreadable passage metadata")
			}
		}
		passages = append(passages, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("passage search failed: %w", err)
	}

	log.Debug().Int("count", len(passages)).Int("k", k).Msg("retrieved passages")
	return passages, nil
}

// buildSearchQuery assembles the vector search statement. Filter values may
// be comma-separated lists; any listed value matches.
func (s *Store) buildSearchQuery(vector pgvector.Vector, filter edudoc.MetadataFilter, k int) (string, []any) {
	var b strings.Builder
	args := []any{vector}

	fmt.Fprintf(&b, "SELECT text, source_document_id, chunk_offset, metadata, 1 - (embedding <=> $1) AS score FROM %s", s.table)

	if len(filter) > 0 {
		b.WriteString(" WHERE ")
		clauses := make([]string, 0, len(filter))
		for key, value := range filter {
			values := splitFilterValues(value)
			args = append(args, key, values)
			clauses = append(clauses, fmt.Sprintf("metadata->>$%d = ANY($%d)", len(args)-1, len(args)))
		}
		b.WriteString(strings.Join(clauses, " AND "))
	}

	args = append(args, k)
	fmt.Fprintf(&b, " ORDER BY embedding <=> $1 LIMIT $%d", len(args))
	return b.String(), args
}

func splitFilterValues(value string) []string {
	parts := strings.Split(value, ",")
	values := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			values = append(values, p)
		}
	}
	return values
}

// Partitions implements edudoc.Retriever, enumerating the distinct document
// types seen at ingestion.
func (s *Store) Partitions(ctx context.Context) ([]string, error) {
	sql := fmt.Sprintf("SELECT DISTINCT metadata->>'%s' FROM %s WHERE metadata->>'%s' IS NOT NULL ORDER BY 1", edudoc.KeyDocumentType, s.table, edudoc.KeyDocumentType)
	rows, err := s.db.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("partition enumeration failed: %w", err)
	}
	defer rows.Close()

	var partitions []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("failed to scan partition row: %w", err)
		}
		partitions = append(partitions, p)
	}
	return partitions, rows.Err()
}

// Ingest embeds and upserts one passage. The (source, offset) pair is the
// passage's identity; re-ingesting a document overwrites its passages in
// place.
func (s *Store) Ingest(ctx context.Context, p edudoc.Passage) error {
	vector, err := s.embedQuery(ctx, p.Text)
	if err != nil {
		return err
	}

	metadataJSON, err := json.Marshal(p.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal passage metadata: %w", err)
	}

	sql := fmt.Sprintf(`INSERT INTO %s (source_document_id, chunk_offset, text, metadata, embedding)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (source_document_id, chunk_offset)
DO UPDATE SET text = EXCLUDED.text, metadata = EXCLUDED.metadata, embedding = EXCLUDED.embedding`, s.table)

	if _, err := s.db.Exec(ctx, sql, p.SourceDocumentID, p.Offset, p.Text, metadataJSON, vector); err != nil {
		return fmt.Errorf("failed to upsert passage %s/%d: %w", p.SourceDocumentID, p.Offset, err)
	}
	return nil
}

func (s *Store) embedQuery(ctx context.Context, text string) (pgvector.Vector, error) {
	resp, err := s.embedder.Embed(ctx, &ai.EmbedRequest{
		Input: []*ai.Document{
			{Content: []*ai.Part{ai.NewTextPart(text)}},
		},
	})
	if err != nil {
		return pgvector.Vector{}, fmt.Errorf("failed to embed text: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return pgvector.Vector{}, fmt.Errorf("embedder returned an empty vector")
	}
	return pgvector.NewVector(resp.Embeddings[0].Embedding), nil
}
