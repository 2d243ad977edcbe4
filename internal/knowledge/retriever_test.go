// ABOUTME: Tests for pgvector retrieval using a fake pgx querier
// ABOUTME: Verifies query arguments, row scanning, token totals and error wrapping

package knowledge

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRows struct {
	values []any
	idx    int
	err    error
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return r.err }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeRows) Next() bool {
	if r.idx >= len(r.values) {
		return false
	}
	r.idx++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	switch d := dest[0].(type) {
	case *string:
		*d = r.values[r.idx-1].(string)
	case *int64:
		*d = r.values[r.idx-1].(int64)
	default:
		return fmt.Errorf("unsupported scan target %T", dest[0])
	}
	return nil
}

func (r *fakeRows) Values() ([]any, error) {
	return []any{r.values[r.idx-1]}, nil
}

type fakeQuerier struct {
	rows *fakeRows
	err  error
	args []any
}

func (q *fakeQuerier) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	q.args = args
	if q.err != nil {
		return nil, q.err
	}
	return q.rows, nil
}

func TestNearestChunks(t *testing.T) {
	q := &fakeQuerier{rows: &fakeRows{values: []any{"Returns are accepted within 30 days.", "Shipping takes 3-5 days."}}}
	r := NewPGRetriever(q, nil)

	chunks, err := r.NearestChunks(t.Context(), []float32{0.5, -1, 0.25}, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"Returns are accepted within 30 days.", "Shipping takes 3-5 days."}, chunks)

	require.Len(t, q.args, 2)
	assert.Equal(t, "[0.5,-1,0.25]", q.args[0])
	assert.Equal(t, DefaultTopK, q.args[1])
}

func TestNearestChunks_EmptyEmbedding(t *testing.T) {
	q := &fakeQuerier{}
	r := NewPGRetriever(q, nil)

	chunks, err := r.NearestChunks(t.Context(), nil, 5)
	require.NoError(t, err)
	assert.Nil(t, chunks)
	assert.Nil(t, q.args, "no query for an empty embedding")
}

func TestNearestChunks_Errors(t *testing.T) {
	boom := errors.New("connection refused")

	r := NewPGRetriever(&fakeQuerier{err: boom}, nil)
	_, err := r.NearestChunks(t.Context(), []float32{1}, 3)
	assert.ErrorIs(t, err, boom)

	r = NewPGRetriever(&fakeQuerier{rows: &fakeRows{err: boom}}, nil)
	_, err = r.NearestChunks(t.Context(), []float32{1}, 3)
	assert.ErrorIs(t, err, boom)
}

func TestEmbeddingTokens(t *testing.T) {
	r := NewPGRetriever(&fakeQuerier{rows: &fakeRows{values: []any{int64(48213)}}}, nil)
	total, err := r.EmbeddingTokens(t.Context())
	require.NoError(t, err)
	assert.Equal(t, int64(48213), total)

	boom := errors.New("relation \"file_embeddings\" does not exist")
	r = NewPGRetriever(&fakeQuerier{err: boom}, nil)
	_, err = r.EmbeddingTokens(t.Context())
	assert.ErrorIs(t, err, boom)
}

func TestEmbeddingToString(t *testing.T) {
	assert.Equal(t, "[]", embeddingToString(nil))
	assert.Equal(t, "[1,2.5]", embeddingToString([]float32{1, 2.5}))
}
