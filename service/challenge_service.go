package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"axio-backend/models"
	"axio-backend/repository"

	"golang.org/x/sync/errgroup"
)

const (
	// retrievalTopK is the depth of each of the dense and sparse searches
	retrievalTopK = 20
	// rerankTopK caps how many fused candidates reach the cross-encoder
	rerankTopK = 10
	// relevanceThreshold is the confidence gate on reranked scores
	relevanceThreshold = 0.7
	// citationSnippetLen bounds the snippet carried by each citation
	citationSnippetLen = 300

	challengeTimeout = 60 * time.Second
	embedTimeout     = 10 * time.Second
	searchTimeout    = 5 * time.Second
	rerankTimeout    = 10 * time.Second
	generateTimeout  = 30 * time.Second
)

var (
	ErrSessionNotFound = errors.New("session not found")
	// ErrUpstreamUnavailable marks a failed or timed-out external call
	// (embedding, search, rerank, generation). The pipeline never
	// retries internally; the caller owns retry-by-user-action.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)

// Embedder computes the dense representation of a query
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float64, error)
}

// EvidenceSearcher runs the two scoped retrieval signals over the
// evidence store. An empty party searches the whole case.
type EvidenceSearcher interface {
	SearchDense(ctx context.Context, caseID string, party models.Party, embedding []float64, limit int) ([]models.Chunk, error)
	SearchSparse(ctx context.Context, caseID string, party models.Party, queryText string, limit int) ([]models.Chunk, error)
}

// Reranker scores a batch of candidate texts against the query on a
// single calibrated scale
type Reranker interface {
	Rerank(ctx context.Context, query string, documents []string, topN int) ([]RerankResult, error)
}

// Generator produces narrative text from a system instruction and prompt
type Generator interface {
	Generate(ctx context.Context, system, user string) (string, error)
}

// SessionStore resolves a session to its case and treatment
type SessionStore interface {
	GetByID(ctx context.Context, id string) (*models.Session, error)
}

// TranscriptSource provides the transcript window snapshot
type TranscriptSource interface {
	Snapshot(ctx context.Context, sessionID string, n int) ([]models.Turn, error)
}

// ChallengeService runs the challenge pipeline: transcript snapshot,
// query formation, concurrent hybrid retrieval, rank fusion, reranking,
// confidence gating, and treatment narration.
type ChallengeService struct {
	sessions    SessionStore
	transcripts TranscriptSource
	searcher    EvidenceSearcher
	embedder    Embedder
	reranker    Reranker
	generator   Generator
}

// ChallengeServiceOption is a functional option for ChallengeService
type ChallengeServiceOption func(*ChallengeService)

// ChallengeWithSessionStore sets the session store
func ChallengeWithSessionStore(s SessionStore) ChallengeServiceOption {
	return func(c *ChallengeService) { c.sessions = s }
}

// ChallengeWithTranscripts sets the transcript source
func ChallengeWithTranscripts(t TranscriptSource) ChallengeServiceOption {
	return func(c *ChallengeService) { c.transcripts = t }
}

// ChallengeWithSearcher sets the evidence searcher
func ChallengeWithSearcher(s EvidenceSearcher) ChallengeServiceOption {
	return func(c *ChallengeService) { c.searcher = s }
}

// ChallengeWithEmbedder sets the query embedder
func ChallengeWithEmbedder(e Embedder) ChallengeServiceOption {
	return func(c *ChallengeService) { c.embedder = e }
}

// ChallengeWithReranker sets the reranker
func ChallengeWithReranker(r Reranker) ChallengeServiceOption {
	return func(c *ChallengeService) { c.reranker = r }
}

// ChallengeWithGenerator sets the narrative generator
func ChallengeWithGenerator(g Generator) ChallengeServiceOption {
	return func(c *ChallengeService) { c.generator = g }
}

// NewChallengeService creates a new challenge service
func NewChallengeService(opts ...ChallengeServiceOption) *ChallengeService {
	s := &ChallengeService{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunChallenge executes one challenge for a session. A session with no
// transcript and a session whose evidence fails the confidence gate are
// both normal outcomes, reported as results rather than errors; only
// missing sessions and upstream failures return an error.
func (s *ChallengeService) RunChallenge(ctx context.Context, sessionID string) (*models.ChallengeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, challengeTimeout)
	defer cancel()

	sess, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	turns, err := s.transcripts.Snapshot(ctx, sessionID, defaultSnapshotTurns)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot transcript: %w", err)
	}
	if len(turns) == 0 {
		// No transcript yet: short-circuit before any search is issued.
		result := models.NewChallengeResult(sess.Treatment, "")
		result.NoEvidence = true
		return result, nil
	}

	queryText := formatTurns(turns)

	ectx, ecancel := context.WithTimeout(ctx, embedTimeout)
	queryVec, err := s.embedder.EmbedQuery(ectx, queryText)
	ecancel()
	if err != nil {
		// A lexical-only fallback would silently change grounding
		// quality, so embedding failure fails the whole challenge.
		return nil, upstreamFailure("embed query", err)
	}

	if sess.Treatment == models.TreatmentSideBySide {
		return s.runSideBySide(ctx, sess, queryText, queryVec)
	}
	return s.runNeutralizer(ctx, sess, queryText, queryVec)
}

// retrieveScope runs one full retrieval scope: concurrent dense and
// sparse searches, reciprocal-rank fusion, one batched rerank call, and
// the confidence gate. Returns only candidates at or above the
// threshold, ordered by relevance.
func (s *ChallengeService) retrieveScope(
	ctx context.Context,
	caseID string,
	party models.Party,
	queryText string,
	queryVec []float64,
) ([]models.Chunk, error) {
	var dense, sparse []models.Chunk

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c, cancel := context.WithTimeout(gctx, searchTimeout)
		defer cancel()
		var err error
		dense, err = s.searcher.SearchDense(c, caseID, party, queryVec, retrievalTopK)
		if err != nil {
			return upstreamFailure("dense search", err)
		}
		return nil
	})
	g.Go(func() error {
		c, cancel := context.WithTimeout(gctx, searchTimeout)
		defer cancel()
		var err error
		sparse, err = s.searcher.SearchSparse(c, caseID, party, queryText, retrievalTopK)
		if err != nil {
			return upstreamFailure("sparse search", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	fused := fuseReciprocalRank(dense, sparse)
	if len(fused) == 0 {
		return nil, nil
	}
	if len(fused) > rerankTopK {
		fused = fused[:rerankTopK]
	}

	documents := make([]string, len(fused))
	for i, c := range fused {
		documents[i] = c.Text
	}

	rctx, rcancel := context.WithTimeout(ctx, rerankTimeout)
	scored, err := s.reranker.Rerank(rctx, queryText, documents, len(fused))
	rcancel()
	if err != nil {
		return nil, upstreamFailure("rerank", err)
	}

	accepted := make([]models.Chunk, 0, len(scored))
	for _, r := range scored {
		if r.Score < relevanceThreshold {
			continue
		}
		c := fused[r.Index]
		c.Score = r.Score
		accepted = append(accepted, c)
	}
	sort.Slice(accepted, func(i, j int) bool {
		if accepted[i].Score == accepted[j].Score {
			return accepted[i].ID < accepted[j].ID
		}
		return accepted[i].Score > accepted[j].Score
	})
	return accepted, nil
}

func (s *ChallengeService) runNeutralizer(
	ctx context.Context,
	sess *models.Session,
	queryText string,
	queryVec []float64,
) (*models.ChallengeResult, error) {
	accepted, err := s.retrieveScope(ctx, sess.CaseID, "", queryText, queryVec)
	if err != nil {
		return nil, err
	}

	result := models.NewChallengeResult(models.TreatmentNeutralizer, queryText)
	if len(accepted) == 0 {
		result.NoEvidence = true
		return result, nil
	}

	citations := buildCitations(accepted)

	gctx, gcancel := context.WithTimeout(ctx, generateTimeout)
	summary, err := s.generator.Generate(gctx, neutralizerSystemPrompt, narrationPrompt(queryText, "Retrieved evidence", accepted))
	gcancel()
	if err != nil {
		return nil, upstreamFailure("narration", err)
	}

	result.Summary = s.validateNarrative(sess.ID, summary, citations)
	result.Citations = citations
	return result, nil
}

func (s *ChallengeService) runSideBySide(
	ctx context.Context,
	sess *models.Session,
	queryText string,
	queryVec []float64,
) (*models.ChallengeResult, error) {
	var acceptedA, acceptedB []models.Chunk

	// The two party scopes are independent retrieval runs, never mixed.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		acceptedA, err = s.retrieveScope(gctx, sess.CaseID, models.PartyA, queryText, queryVec)
		return err
	})
	g.Go(func() error {
		var err error
		acceptedB, err = s.retrieveScope(gctx, sess.CaseID, models.PartyB, queryText, queryVec)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := models.NewChallengeResult(models.TreatmentSideBySide, queryText)
	if len(acceptedA) == 0 && len(acceptedB) == 0 {
		result.NoEvidence = true
		return result, nil
	}

	citationsA := buildCitations(acceptedA)
	citationsB := buildCitations(acceptedB)
	var narrativeA, narrativeB string

	ng, nctx := errgroup.WithContext(ctx)
	if len(acceptedA) > 0 {
		ng.Go(func() error {
			c, cancel := context.WithTimeout(nctx, generateTimeout)
			defer cancel()
			text, err := s.generator.Generate(c, sideBySideSystemPrompt, narrationPrompt(queryText, "Party A documents", acceptedA))
			if err != nil {
				return upstreamFailure("party A narration", err)
			}
			narrativeA = text
			return nil
		})
	}
	if len(acceptedB) > 0 {
		ng.Go(func() error {
			c, cancel := context.WithTimeout(nctx, generateTimeout)
			defer cancel()
			text, err := s.generator.Generate(c, sideBySideSystemPrompt, narrationPrompt(queryText, "Party B documents", acceptedB))
			if err != nil {
				return upstreamFailure("party B narration", err)
			}
			narrativeB = text
			return nil
		})
	}
	if err := ng.Wait(); err != nil {
		return nil, err
	}

	// Each narrative validates only against its own party's citations,
	// so a cross-party marker is stripped like any other orphan.
	if narrativeA != "" {
		result.PartyAEvidence = s.validateNarrative(sess.ID, narrativeA, citationsA)
		result.PartyACitations = citationsA
	}
	if narrativeB != "" {
		result.PartyBEvidence = s.validateNarrative(sess.ID, narrativeB, citationsB)
		result.PartyBCitations = citationsB
	}
	return result, nil
}

// validateNarrative enforces the marker contract on generated text
func (s *ChallengeService) validateNarrative(sessionID, text string, citations []models.Citation) string {
	cleaned, stripped := stripOrphanMarkers(text, citations)
	if stripped > 0 {
		log.Printf("Warning: stripped %d unresolvable citation markers for session %s", stripped, sessionID)
	}
	return cleaned
}

// buildCitations projects gated chunks into response citations
func buildCitations(chunks []models.Chunk) []models.Citation {
	citations := make([]models.Citation, 0, len(chunks))
	for _, c := range chunks {
		snippet := c.Text
		if len(snippet) > citationSnippetLen {
			snippet = snippet[:citationSnippetLen]
		}
		citations = append(citations, models.Citation{
			ChunkID: c.ID,
			DocName: c.Filename,
			Page:    c.Page,
			Snippet: snippet,
		})
	}
	return citations
}

const neutralizerSystemPrompt = `You are Axio, a neutral evidence presenter for mediation.
Rules:
- remove emotional language
- use "the document states", not "he said"
- follow every substantive claim with a citation tag of the exact form [DocName, p.X], where DocName and X come from the evidence tags below
- be concise and factual
- do not add information that is not in the evidence
- do not take sides between the parties
- do not give legal advice`

const sideBySideSystemPrompt = `You are Axio, a neutral evidence presenter for mediation.
Rules:
- accurately reflect what the documents say
- follow every substantive claim with a citation tag of the exact form [DocName, p.X], where DocName and X come from the evidence tags below
- present evidence, not conclusions
- do not give legal advice`

// narrationPrompt builds the user prompt: the discussion window plus the
// gated evidence, each chunk prefixed with the citation tag the model
// must reuse. ParentText gives the model richer surrounding context but
// played no part in ranking.
func narrationPrompt(transcriptContext, evidenceLabel string, chunks []models.Chunk) string {
	var builder strings.Builder
	builder.WriteString("Current discussion:\n")
	builder.WriteString(transcriptContext)
	builder.WriteString("\n\n")
	builder.WriteString(evidenceLabel)
	builder.WriteString(":\n")
	for i, c := range chunks {
		if i > 0 {
			builder.WriteString("\n\n---\n\n")
		}
		fmt.Fprintf(&builder, "[%s, p.%d]\n", c.Filename, c.Page)
		if c.ParentText != "" {
			builder.WriteString(c.ParentText)
		} else {
			builder.WriteString(c.Text)
		}
	}
	return builder.String()
}

func upstreamFailure(stage string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrUpstreamUnavailable, stage, err)
}
