package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"

	"axio-backend/models"
	"axio-backend/repository"
	"axio-backend/storage"

	"github.com/google/uuid"
)

const (
	// chunkSizeChars approximates 300 tokens of evidence text
	chunkSizeChars    = 1200
	chunkOverlapChars = 180
	// maxHeadingLen bounds what the section heuristic treats as a title
	maxHeadingLen = 120
)

var (
	ErrEmptyDocument   = errors.New("empty document")
	ErrUnsupportedFile = errors.New("unsupported file type")
	ErrNoText          = errors.New("no text extracted")
)

// Uploads accept pre-extracted text; pages are separated by form feeds.
var supportedExtensions = map[string]bool{
	".txt": true,
	".md":  true,
}

// DocumentStore persists document records
type DocumentStore interface {
	Create(ctx context.Context, d *models.Document) error
	FindPrior(ctx context.Context, caseID string, party models.Party, filename string) (*models.Document, error)
	GetByID(ctx context.Context, id string) (*models.Document, error)
	Delete(ctx context.Context, id string) error
}

// ChunkStore persists evidence chunks alongside their embeddings
type ChunkStore interface {
	InsertChunks(ctx context.Context, chunks []models.Chunk, embeddings [][]float64) error
	DeleteForDocument(ctx context.Context, docID string) error
}

// DocumentEmbedder batch-embeds chunk texts for dense indexing
type DocumentEmbedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float64, error)
}

// IngestService handles evidence intake: storing the raw upload,
// chunking pages section-aware, embedding, and indexing.
type IngestService struct {
	documents DocumentStore
	chunks    ChunkStore
	embedder  DocumentEmbedder
	blobs     storage.Storage
}

// IngestServiceOption is a functional option for IngestService
type IngestServiceOption func(*IngestService)

// IngestWithDocuments sets the document store
func IngestWithDocuments(d DocumentStore) IngestServiceOption {
	return func(s *IngestService) { s.documents = d }
}

// IngestWithChunks sets the chunk store
func IngestWithChunks(c ChunkStore) IngestServiceOption {
	return func(s *IngestService) { s.chunks = c }
}

// IngestWithEmbedder sets the document embedder
func IngestWithEmbedder(e DocumentEmbedder) IngestServiceOption {
	return func(s *IngestService) { s.embedder = e }
}

// IngestWithStorage sets the raw file store
func IngestWithStorage(b storage.Storage) IngestServiceOption {
	return func(s *IngestService) { s.blobs = b }
}

// NewIngestService creates a new ingest service
func NewIngestService(opts ...IngestServiceOption) *IngestService {
	s := &IngestService{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ingest stores and indexes one evidence document for a case and party.
// Re-uploading the same case/party/filename supersedes the prior
// version: its chunks are deleted, never mutated, so stale citations
// resolve through the gone-chunk fallback instead of pointing at
// changed text.
func (s *IngestService) Ingest(
	ctx context.Context,
	caseID string,
	party models.Party,
	filename string,
	content []byte,
) (*models.Document, error) {
	if !party.Valid() {
		return nil, fmt.Errorf("invalid party: %s", party)
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if !supportedExtensions[ext] {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFile, ext)
	}
	if len(content) == 0 {
		return nil, ErrEmptyDocument
	}

	prior, err := s.documents.FindPrior(ctx, caseID, party, filename)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("failed to check for prior document: %w", err)
	}

	docUUID := uuid.New()
	docID := fmt.Sprintf("%x", docUUID[:6])

	pages, pageCount := splitPages(content)
	if len(pages) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoText, filename)
	}

	storagePath, err := s.blobs.Upload(ctx, caseID, docID, filename, bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}

	doc := &models.Document{
		ID:          docID,
		CaseID:      caseID,
		Party:       party,
		Filename:    filename,
		PageCount:   pageCount,
		StoragePath: storagePath,
	}

	chunks := chunkPages(doc, pages)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoText, filename)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	embeddings, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, upstreamFailure("embed document", err)
	}

	if err := s.documents.Create(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to save document: %w", err)
	}
	if err := s.chunks.InsertChunks(ctx, chunks, embeddings); err != nil {
		return nil, fmt.Errorf("failed to save chunks: %w", err)
	}

	// The prior version goes away only after the replacement is live
	if prior != nil {
		if err := s.DeleteDocument(ctx, prior.ID); err != nil {
			log.Printf("Warning: failed to remove superseded document %s: %v", prior.ID, err)
		} else {
			log.Printf("Superseded document %s (%s) with %s", prior.ID, filename, docID)
		}
	}

	log.Printf("Ingested %s as %s: %d pages, %d chunks", filename, docID, pageCount, len(chunks))
	return doc, nil
}

// DeleteDocument removes a document, its chunks, and its stored file
func (s *IngestService) DeleteDocument(ctx context.Context, docID string) error {
	doc, err := s.documents.GetByID(ctx, docID)
	if err != nil {
		return err
	}
	if err := s.chunks.DeleteForDocument(ctx, docID); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	if err := s.documents.Delete(ctx, docID); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if err := s.blobs.Delete(ctx, doc.StoragePath); err != nil {
		log.Printf("Warning: failed to delete stored file %s: %v", doc.StoragePath, err)
	}
	return nil
}

// pageText is one non-empty page of extracted text
type pageText struct {
	num  int
	text string
}

// splitPages divides pre-extracted text on form-feed page separators.
// Blank pages keep their page number but produce no chunks.
func splitPages(content []byte) ([]pageText, int) {
	raw := strings.Split(string(content), "\f")
	pages := make([]pageText, 0, len(raw))
	for i, text := range raw {
		if strings.TrimSpace(text) == "" {
			continue
		}
		pages = append(pages, pageText{num: i + 1, text: text})
	}
	return pages, len(raw)
}

// chunkPages splits page text into overlapping chunks grouped by
// section. A short single-line paragraph in upper or title case that
// doesn't end in a period is treated as a section heading; the heading
// titles the chunks that follow it on the page.
func chunkPages(doc *models.Document, pages []pageText) []models.Chunk {
	var chunks []models.Chunk

	for _, page := range pages {
		var currentSection, sectionTitle string

		for _, para := range splitParagraphs(page.text) {
			if isHeading(para) {
				if strings.TrimSpace(currentSection) != "" {
					chunks = splitSection(chunks, doc, page.num, currentSection, sectionTitle)
					currentSection = ""
				}
				sectionTitle = para
				continue
			}

			currentSection += para + "\n\n"

			if len(currentSection) >= chunkSizeChars*2 {
				chunks = splitSection(chunks, doc, page.num, currentSection, sectionTitle)
				currentSection = ""
			}
		}

		if strings.TrimSpace(currentSection) != "" {
			chunks = splitSection(chunks, doc, page.num, currentSection, sectionTitle)
		}
	}

	return chunks
}

func splitParagraphs(text string) []string {
	parts := strings.Split(text, "\n\n")
	paras := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			paras = append(paras, p)
		}
	}
	return paras
}

func isHeading(para string) bool {
	if strings.Contains(para, "\n") || len(para) >= maxHeadingLen || strings.HasSuffix(para, ".") {
		return false
	}
	return isUpperCase(para) || isTitleCase(para)
}

func isUpperCase(s string) bool {
	hasLetter := false
	for _, r := range s {
		if r >= 'a' && r <= 'z' {
			return false
		}
		if r >= 'A' && r <= 'Z' {
			hasLetter = true
		}
	}
	return hasLetter
}

func isTitleCase(s string) bool {
	words := strings.Fields(s)
	if len(words) == 0 {
		return false
	}
	for _, w := range words {
		r := rune(w[0])
		if r >= 'a' && r <= 'z' {
			return false
		}
	}
	return true
}

// splitSection emits a section's chunks. Sections within the size
// budget become one chunk; larger ones are split with overlap, each
// slice preferring to break at a sentence or line boundary. Every chunk
// carries the full section as parent context.
func splitSection(chunks []models.Chunk, doc *models.Document, pageNum int, sectionText, sectionTitle string) []models.Chunk {
	text := strings.TrimSpace(sectionText)
	if text == "" {
		return chunks
	}
	parentText := text

	if len(text) <= chunkSizeChars {
		return append(chunks, models.Chunk{
			ID:           fmt.Sprintf("%s:%d:0-%d", doc.ID, pageNum, len(text)),
			DocID:        doc.ID,
			CaseID:       doc.CaseID,
			Party:        doc.Party,
			Filename:     doc.Filename,
			Page:         pageNum,
			StartChar:    0,
			EndChar:      len(text),
			Text:         text,
			ParentText:   parentText,
			SectionTitle: sectionTitle,
		})
	}

	start := 0
	for start < len(text) {
		end := start + chunkSizeChars
		if end > len(text) {
			end = len(text)
		}
		chunkText := text[start:end]

		if end < len(text) && len(chunkText) > 50 {
			breakAt := strings.LastIndex(chunkText, ". ")
			if n := strings.LastIndex(chunkText, "\n"); n > breakAt {
				breakAt = n
			}
			if breakAt > len(chunkText)/2 {
				end = start + breakAt + 1
				chunkText = text[start:end]
			}
		}

		chunks = append(chunks, models.Chunk{
			ID:           fmt.Sprintf("%s:%d:%d-%d", doc.ID, pageNum, start, end),
			DocID:        doc.ID,
			CaseID:       doc.CaseID,
			Party:        doc.Party,
			Filename:     doc.Filename,
			Page:         pageNum,
			StartChar:    start,
			EndChar:      end,
			Text:         strings.TrimSpace(chunkText),
			ParentText:   parentText,
			SectionTitle: sectionTitle,
		})

		if end >= len(text) {
			break
		}
		next := end - chunkOverlapChars
		if next < 0 {
			next = 0
		}
		// Overlap must always advance or the split would never finish
		if next <= chunks[len(chunks)-1].StartChar {
			break
		}
		start = next
	}

	return chunks
}
