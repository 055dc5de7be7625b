package repository

import (
	"context"
	"errors"
	"fmt"

	"axio-backend/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DocumentRepository handles database operations for evidence documents
type DocumentRepository struct {
	db *pgxpool.Pool
}

// NewDocumentRepository creates a new document repository
func NewDocumentRepository(db *pgxpool.Pool) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// Create creates a new document
func (r *DocumentRepository) Create(ctx context.Context, d *models.Document) error {
	query := `
		INSERT INTO documents (id, case_id, party, filename, page_count, storage_path)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`

	err := r.db.QueryRow(ctx, query,
		d.ID, d.CaseID, d.Party, d.Filename, d.PageCount, d.StoragePath,
	).Scan(&d.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}
	return nil
}

// GetByID retrieves a document by ID
func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*models.Document, error) {
	d := &models.Document{}
	query := `
		SELECT id, case_id, party, filename, page_count, storage_path, created_at
		FROM documents WHERE id = $1`

	err := r.db.QueryRow(ctx, query, id).Scan(
		&d.ID, &d.CaseID, &d.Party, &d.Filename, &d.PageCount, &d.StoragePath, &d.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query document: %w", err)
	}
	return d, nil
}

// ListForCase retrieves all documents belonging to a case, newest first
func (r *DocumentRepository) ListForCase(ctx context.Context, caseID string) ([]models.Document, error) {
	query := `
		SELECT id, case_id, party, filename, page_count, storage_path, created_at
		FROM documents WHERE case_id = $1 ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, query, caseID)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	docs := make([]models.Document, 0)
	for rows.Next() {
		var d models.Document
		if err := rows.Scan(&d.ID, &d.CaseID, &d.Party, &d.Filename, &d.PageCount, &d.StoragePath, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating documents: %w", err)
	}
	return docs, nil
}

// FindPrior returns the existing document with the same case, party, and
// filename, if any. Used to supersede earlier uploads on re-ingest.
func (r *DocumentRepository) FindPrior(ctx context.Context, caseID string, party models.Party, filename string) (*models.Document, error) {
	d := &models.Document{}
	query := `
		SELECT id, case_id, party, filename, page_count, storage_path, created_at
		FROM documents WHERE case_id = $1 AND party = $2 AND filename = $3
		ORDER BY created_at DESC LIMIT 1`

	err := r.db.QueryRow(ctx, query, caseID, party, filename).Scan(
		&d.ID, &d.CaseID, &d.Party, &d.Filename, &d.PageCount, &d.StoragePath, &d.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query prior document: %w", err)
	}
	return d, nil
}

// Delete removes a document row. Chunks are removed by the ON DELETE
// CASCADE constraint on chunks.doc_id.
func (r *DocumentRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
