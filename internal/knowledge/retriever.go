// ABOUTME: Nearest-chunk retrieval from the pgvector knowledge base
// ABOUTME: Queries file_embeddings by cosine distance and totals ingestion token usage

package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultTopK is the number of chunks returned when k is not positive.
const DefaultTopK = 5

// Querier is the subset of pgxpool.Pool the retriever uses.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PGRetriever finds knowledge-base chunks nearest to an embedding.
type PGRetriever struct {
	db     Querier
	logger *slog.Logger
}

// NewPGRetriever creates a retriever over an existing pool or connection.
func NewPGRetriever(db Querier, logger *slog.Logger) *PGRetriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &PGRetriever{
		db:     db,
		logger: logger.With("component", "knowledge"),
	}
}

// Connect opens a pgx pool and verifies it with a ping.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging knowledge database: %w", err)
	}
	return pool, nil
}

// NearestChunks returns up to k chunk texts ordered by cosine distance.
func (r *PGRetriever) NearestChunks(ctx context.Context, embedding []float32, k int) ([]string, error) {
	if len(embedding) == 0 {
		return nil, nil
	}
	if k <= 0 {
		k = DefaultTopK
	}

	query := `
		SELECT text_content
		FROM file_embeddings
		ORDER BY embedding <=> $1::vector
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, embeddingToString(embedding), k)
	if err != nil {
		return nil, fmt.Errorf("search file embeddings: %w", err)
	}
	defer rows.Close()

	var chunks []string
	for rows.Next() {
		var text string
		if err := rows.Scan(&text); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		chunks = append(chunks, text)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	r.logger.Debug("retrieved chunks", "requested", k, "found", len(chunks))
	return chunks, nil
}

// EmbeddingTokens sums the tokens spent embedding knowledge-base chunks.
func (r *PGRetriever) EmbeddingTokens(ctx context.Context) (int64, error) {
	rows, err := r.db.Query(ctx, `SELECT COALESCE(SUM(embedding_tokens), 0)::bigint FROM file_embeddings`)
	if err != nil {
		return 0, fmt.Errorf("sum embedding tokens: %w", err)
	}
	total, err := pgx.CollectExactlyOneRow(rows, pgx.RowTo[int64])
	if err != nil {
		return 0, fmt.Errorf("sum embedding tokens: %w", err)
	}
	return total, nil
}

// embeddingToString renders an embedding in pgvector's text format.
func embeddingToString(embedding []float32) string {
	if len(embedding) == 0 {
		return "[]"
	}

	var b strings.Builder
	b.WriteByte('[')
	for i, val := range embedding {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(val), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}
