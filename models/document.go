package models

import (
	"time"
)

// Document represents an uploaded evidence document belonging to one party
type Document struct {
	ID          string    `json:"id"`
	CaseID      string    `json:"case_id"`
	Party       Party     `json:"party"`
	Filename    string    `json:"filename"`
	PageCount   int       `json:"page_count"`
	StoragePath string    `json:"storage_path"`
	CreatedAt   time.Time `json:"created_at"`
}

// Chunk is the unit of retrieval: a bounded span of a document's text.
// The ID is document-scoped: {doc_id}:{page}:{start}-{end}.
// ParentText is a larger surrounding span used only for display and
// generation context, never for ranking.
type Chunk struct {
	ID           string `json:"id"`
	DocID        string `json:"doc_id"`
	CaseID       string `json:"case_id"`
	Party        Party  `json:"party"`
	Filename     string `json:"filename"`
	Page         int    `json:"page"`
	StartChar    int    `json:"start_char"`
	EndChar      int    `json:"end_char"`
	Text         string `json:"text"`
	ParentText   string `json:"parent_text,omitempty"`
	SectionTitle string `json:"section_title,omitempty"`

	// Score carries the chunk's ranking score through the pipeline.
	// It holds the raw retrieval score after search, the fused score
	// after rank fusion, and the calibrated relevance score after
	// reranking. Never persisted.
	Score float64 `json:"score,omitempty"`
}
