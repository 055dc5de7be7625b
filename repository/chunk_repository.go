package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"axio-backend/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const embeddingDimensions = 768

// ChunkRepository handles database operations for evidence chunks,
// including the dense (pgvector) and sparse (full-text) searches used
// by the challenge pipeline. All reads from the pipeline are scoped to
// a case and, optionally, a party.
type ChunkRepository struct {
	db *pgxpool.Pool
}

// NewChunkRepository creates a new chunk repository
func NewChunkRepository(db *pgxpool.Pool) *ChunkRepository {
	return &ChunkRepository{db: db}
}

// formatVector formats an embedding vector as a string for pgx
func formatVector(embedding []float64) string {
	if len(embedding) == 0 {
		return "[]"
	}
	var parts []string
	for _, v := range embedding {
		parts = append(parts, fmt.Sprintf("%.6f", v))
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// InsertChunks stores chunks with their embeddings. Chunk rows are
// write-once: re-ingesting a document supersedes its chunks via document
// deletion rather than updating rows in place.
func (r *ChunkRepository) InsertChunks(ctx context.Context, chunks []models.Chunk, embeddings [][]float64) error {
	if len(chunks) != len(embeddings) {
		return fmt.Errorf("chunk/embedding count mismatch: %d vs %d", len(chunks), len(embeddings))
	}

	query := `
		INSERT INTO chunks (
			id, doc_id, case_id, party, filename, page,
			start_char, end_char, text, parent_text, section_title, embedding
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12::vector)`

	batch := &pgx.Batch{}
	for i, c := range chunks {
		var vec any
		if len(embeddings[i]) > 0 {
			if len(embeddings[i]) != embeddingDimensions {
				return fmt.Errorf("embedding must be %d dimensions, got %d", embeddingDimensions, len(embeddings[i]))
			}
			vec = formatVector(embeddings[i])
		}
		batch.Queue(query,
			c.ID, c.DocID, c.CaseID, c.Party, c.Filename, c.Page,
			c.StartChar, c.EndChar, c.Text, c.ParentText, c.SectionTitle, vec,
		)
	}

	results := r.db.SendBatch(ctx, batch)
	defer results.Close()
	for range chunks {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to insert chunk: %w", err)
		}
	}
	return nil
}

// SearchDense performs a nearest-neighbor search over chunk embeddings,
// scoped to a case and, when party is non-empty, to that party.
// Results are ordered by cosine similarity; Score is 1 - distance.
func (r *ChunkRepository) SearchDense(
	ctx context.Context,
	caseID string,
	party models.Party,
	embedding []float64,
	limit int,
) ([]models.Chunk, error) {
	if len(embedding) != embeddingDimensions {
		return nil, fmt.Errorf("embedding must be %d dimensions, got %d", embeddingDimensions, len(embedding))
	}

	vectorStr := formatVector(embedding)

	partyFilter := ""
	args := []interface{}{vectorStr, caseID, limit}
	if party != "" {
		partyFilter = "AND party = $4"
		args = append(args, party)
	}

	query := fmt.Sprintf(`
		SELECT
			id, doc_id, case_id, party, filename, page,
			start_char, end_char, text, parent_text, section_title,
			1 - (embedding <=> $1::vector) AS score
		FROM chunks
		WHERE case_id = $2
			AND embedding IS NOT NULL
			%s
		ORDER BY embedding <=> $1::vector, id
		LIMIT $3`, partyFilter)

	return r.queryChunks(ctx, query, args...)
}

// SearchSparse performs a lexical full-text search over chunk text,
// scoped to a case and, when party is non-empty, to that party.
// Results are ordered by ts_rank score.
func (r *ChunkRepository) SearchSparse(
	ctx context.Context,
	caseID string,
	party models.Party,
	queryText string,
	limit int,
) ([]models.Chunk, error) {
	partyFilter := ""
	args := []interface{}{queryText, caseID, limit}
	if party != "" {
		partyFilter = "AND party = $4"
		args = append(args, party)
	}

	query := fmt.Sprintf(`
		SELECT
			id, doc_id, case_id, party, filename, page,
			start_char, end_char, text, parent_text, section_title,
			ts_rank_cd(tsv, plainto_tsquery('english', $1)) AS score
		FROM chunks
		WHERE case_id = $2
			AND tsv @@ plainto_tsquery('english', $1)
			%s
		ORDER BY score DESC, id
		LIMIT $3`, partyFilter)

	return r.queryChunks(ctx, query, args...)
}

func (r *ChunkRepository) queryChunks(ctx context.Context, query string, args ...interface{}) ([]models.Chunk, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	var chunks []models.Chunk
	for rows.Next() {
		var c models.Chunk
		err := rows.Scan(
			&c.ID, &c.DocID, &c.CaseID, &c.Party, &c.Filename, &c.Page,
			&c.StartChar, &c.EndChar, &c.Text, &c.ParentText, &c.SectionTitle,
			&c.Score,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating chunks: %w", err)
	}
	return chunks, nil
}

// GetByID retrieves a single chunk; used by the citation resolver.
func (r *ChunkRepository) GetByID(ctx context.Context, id string) (*models.Chunk, error) {
	c := &models.Chunk{}
	query := `
		SELECT id, doc_id, case_id, party, filename, page,
			start_char, end_char, text, parent_text, section_title
		FROM chunks WHERE id = $1`

	err := r.db.QueryRow(ctx, query, id).Scan(
		&c.ID, &c.DocID, &c.CaseID, &c.Party, &c.Filename, &c.Page,
		&c.StartChar, &c.EndChar, &c.Text, &c.ParentText, &c.SectionTitle,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query chunk: %w", err)
	}
	return c, nil
}

// DeleteForDocument removes all chunks of a document
func (r *ChunkRepository) DeleteForDocument(ctx context.Context, docID string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM chunks WHERE doc_id = $1`, docID)
	if err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	return nil
}

// ListMissingEmbeddings returns chunks whose embedding was never stored,
// e.g. after a partially failed ingest. Used by cmd/reindex.
func (r *ChunkRepository) ListMissingEmbeddings(ctx context.Context, limit int) ([]models.Chunk, error) {
	query := `
		SELECT id, doc_id, case_id, party, filename, page,
			start_char, end_char, text, parent_text, section_title,
			0 AS score
		FROM chunks
		WHERE embedding IS NULL
		ORDER BY id
		LIMIT $1`

	return r.queryChunks(ctx, query, limit)
}

// UpdateEmbedding backfills the embedding of a single chunk. This is the
// only permitted chunk mutation and exists solely for reindex recovery.
func (r *ChunkRepository) UpdateEmbedding(ctx context.Context, chunkID string, embedding []float64) error {
	if len(embedding) != embeddingDimensions {
		return fmt.Errorf("embedding must be %d dimensions, got %d", embeddingDimensions, len(embedding))
	}
	_, err := r.db.Exec(ctx,
		`UPDATE chunks SET embedding = $2::vector WHERE id = $1 AND embedding IS NULL`,
		chunkID, formatVector(embedding),
	)
	if err != nil {
		return fmt.Errorf("failed to update embedding: %w", err)
	}
	return nil
}
