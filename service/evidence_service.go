package service

import (
	"context"
	"errors"
	"fmt"

	"axio-backend/models"
	"axio-backend/repository"
)

// ChunkGetter loads a stored evidence chunk by ID
type ChunkGetter interface {
	GetByID(ctx context.Context, id string) (*models.Chunk, error)
}

// EvidenceService resolves citations into chunk context on demand.
// Resolution is lazy: nothing is fetched until a citation is expanded.
type EvidenceService struct {
	chunks ChunkGetter
}

// NewEvidenceService creates a new evidence service
func NewEvidenceService(chunks ChunkGetter) *EvidenceService {
	return &EvidenceService{chunks: chunks}
}

// ResolveCitation expands a citation into its full chunk context. A
// chunk that has been superseded since the citation was issued resolves
// to a ChunkGone fallback carrying the snippet captured at citation
// time, rather than an error: a stale citation is still evidence of
// what was shown.
func (s *EvidenceService) ResolveCitation(ctx context.Context, docID, chunkID, snippet string) (*models.ChunkContext, error) {
	chunk, err := s.chunks.GetByID(ctx, chunkID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return &models.ChunkContext{
				ChunkID:   chunkID,
				DocID:     docID,
				Text:      snippet,
				ChunkGone: true,
			}, nil
		}
		return nil, fmt.Errorf("failed to load chunk: %w", err)
	}

	ctxOut := &models.ChunkContext{
		ChunkID:      chunk.ID,
		DocID:        chunk.DocID,
		Text:         chunk.Text,
		SectionTitle: chunk.SectionTitle,
	}
	// Parent text is only context when it actually widens the chunk
	if chunk.ParentText != "" && chunk.ParentText != chunk.Text {
		ctxOut.ParentText = chunk.ParentText
	}
	return ctxOut, nil
}
