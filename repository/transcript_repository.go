package repository

import (
	"context"
	"fmt"

	"axio-backend/models"

	"github.com/jackc/pgx/v5/pgxpool"
)

// TranscriptRepository persists raw transcript turns so session buffers
// can be rebuilt after a server restart. The in-memory buffer remains the
// source of truth during a live session.
type TranscriptRepository struct {
	db *pgxpool.Pool
}

// NewTranscriptRepository creates a new transcript repository
func NewTranscriptRepository(db *pgxpool.Pool) *TranscriptRepository {
	return &TranscriptRepository{db: db}
}

// SaveTurn appends a raw turn for a session
func (r *TranscriptRepository) SaveTurn(ctx context.Context, sessionID, speaker, text string) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO transcript_turns (session_id, speaker, text) VALUES ($1, $2, $3)`,
		sessionID, speaker, text,
	)
	if err != nil {
		return fmt.Errorf("failed to insert transcript turn: %w", err)
	}
	return nil
}

// ListForSession returns all persisted turns for a session in arrival order
func (r *TranscriptRepository) ListForSession(ctx context.Context, sessionID string) ([]models.Turn, error) {
	rows, err := r.db.Query(ctx,
		`SELECT speaker, text, created_at FROM transcript_turns WHERE session_id = $1 ORDER BY id`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query transcript turns: %w", err)
	}
	defer rows.Close()

	var turns []models.Turn
	for rows.Next() {
		var t models.Turn
		if err := rows.Scan(&t.Speaker, &t.Text, &t.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan transcript turn: %w", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transcript turns: %w", err)
	}
	return turns, nil
}

// DeleteForSession removes all persisted turns for a session
func (r *TranscriptRepository) DeleteForSession(ctx context.Context, sessionID string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM transcript_turns WHERE session_id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete transcript turns: %w", err)
	}
	return nil
}
