package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"axio-backend/models"
	"axio-backend/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSessionStore struct {
	sessions map[string]*models.Session
}

func (f *fakeSessionStore) GetByID(ctx context.Context, id string) (*models.Session, error) {
	s, ok := f.sessions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return s, nil
}

type fakeTranscripts struct {
	turns []models.Turn
}

func (f *fakeTranscripts) Snapshot(ctx context.Context, sessionID string, n int) ([]models.Turn, error) {
	if len(f.turns) > n {
		return f.turns[len(f.turns)-n:], nil
	}
	return f.turns, nil
}

type fakeEmbedder struct {
	err   error
	calls int
}

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float64, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	vec := make([]float64, 768)
	vec[0] = 1
	return vec, nil
}

// fakeSearcher serves chunks keyed by party scope ("" = whole case)
// and records every scope it was asked to search
type fakeSearcher struct {
	mu       sync.Mutex
	byParty  map[models.Party][]models.Chunk
	searched []models.Party
	err      error
}

func (f *fakeSearcher) record(party models.Party) {
	f.mu.Lock()
	f.searched = append(f.searched, party)
	f.mu.Unlock()
}

func (f *fakeSearcher) SearchDense(ctx context.Context, caseID string, party models.Party, embedding []float64, limit int) ([]models.Chunk, error) {
	f.record(party)
	if f.err != nil {
		return nil, f.err
	}
	return f.byParty[party], nil
}

func (f *fakeSearcher) SearchSparse(ctx context.Context, caseID string, party models.Party, queryText string, limit int) ([]models.Chunk, error) {
	f.record(party)
	if f.err != nil {
		return nil, f.err
	}
	return f.byParty[party], nil
}

// fakeReranker assigns each document the score configured for its text
type fakeReranker struct {
	scores map[string]float64
	err    error
	calls  int
}

func (f *fakeReranker) Rerank(ctx context.Context, query string, documents []string, topN int) ([]RerankResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	results := make([]RerankResult, len(documents))
	for i, d := range documents {
		results[i] = RerankResult{Index: i, Score: f.scores[d]}
	}
	return results, nil
}

type fakeGenerator struct {
	mu      sync.Mutex
	byLabel map[string]string // keyed by substring of the user prompt
	output  string
	err     error
	prompts []string
}

func (f *fakeGenerator) Generate(ctx context.Context, system, user string) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, user)
	f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	for label, out := range f.byLabel {
		if strings.Contains(user, label) {
			return out, nil
		}
	}
	return f.output, nil
}

func agreementChunk(id string, party models.Party) models.Chunk {
	return models.Chunk{
		ID:       id,
		DocID:    "doc1",
		CaseID:   "case1",
		Party:    party,
		Filename: "Agreement.pdf",
		Page:     2,
		Text:     "chunk text " + id,
	}
}

func newTestChallengeService(treatment models.Treatment, turns []models.Turn, searcher *fakeSearcher, reranker *fakeReranker, generator *fakeGenerator) (*ChallengeService, *fakeEmbedder) {
	embedder := &fakeEmbedder{}
	svc := NewChallengeService(
		ChallengeWithSessionStore(&fakeSessionStore{sessions: map[string]*models.Session{
			"sess1": {ID: "sess1", CaseID: "case1", Treatment: treatment},
		}}),
		ChallengeWithTranscripts(&fakeTranscripts{turns: turns}),
		ChallengeWithSearcher(searcher),
		ChallengeWithEmbedder(embedder),
		ChallengeWithReranker(reranker),
		ChallengeWithGenerator(generator),
	)
	return svc, embedder
}

func depositTurns() []models.Turn {
	return []models.Turn{
		{Speaker: "Party A", Text: "I definitely paid the deposit."},
		{Speaker: "Party B", Text: "I never received it."},
	}
}

func TestChallengeSessionNotFound(t *testing.T) {
	svc, _ := newTestChallengeService(models.TreatmentNeutralizer, nil, &fakeSearcher{}, &fakeReranker{}, &fakeGenerator{})

	_, err := svc.RunChallenge(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestChallengeNoTranscriptShortCircuits(t *testing.T) {
	searcher := &fakeSearcher{}
	svc, embedder := newTestChallengeService(models.TreatmentNeutralizer, nil, searcher, &fakeReranker{}, &fakeGenerator{})

	result, err := svc.RunChallenge(context.Background(), "sess1")
	require.NoError(t, err)

	assert.True(t, result.NoEvidence)
	assert.Empty(t, result.QueryUsed)
	assert.Zero(t, embedder.calls, "no embedding before any transcript exists")
	assert.Empty(t, searcher.searched, "no search before any transcript exists")
}

func TestChallengeNeutralizerAcceptsRelevantEvidence(t *testing.T) {
	chunk := agreementChunk("c1", models.PartyA)
	chunk.Text = "The security deposit of $2,000 was received on March 1."
	searcher := &fakeSearcher{byParty: map[models.Party][]models.Chunk{
		"": {chunk},
	}}
	reranker := &fakeReranker{scores: map[string]float64{chunk.Text: 0.91}}
	generator := &fakeGenerator{output: "The document states a $2,000 deposit was received [Agreement.pdf, p.2]."}

	svc, _ := newTestChallengeService(models.TreatmentNeutralizer, depositTurns(), searcher, reranker, generator)

	result, err := svc.RunChallenge(context.Background(), "sess1")
	require.NoError(t, err)

	assert.False(t, result.NoEvidence)
	assert.Equal(t, "neutralizer", result.Treatment)
	assert.Equal(t, "Party A: I definitely paid the deposit.\nParty B: I never received it.", result.QueryUsed)
	assert.Contains(t, result.Summary, "[Agreement.pdf, p.2]")
	require.Len(t, result.Citations, 1)
	assert.Equal(t, "c1", result.Citations[0].ChunkID)
	assert.Equal(t, "Agreement.pdf", result.Citations[0].DocName)
	assert.Equal(t, 2, result.Citations[0].Page)
}

func TestChallengeNeutralizerGatesIrrelevantEvidence(t *testing.T) {
	chunk := agreementChunk("c1", models.PartyA)
	searcher := &fakeSearcher{byParty: map[models.Party][]models.Chunk{
		"": {chunk},
	}}
	reranker := &fakeReranker{scores: map[string]float64{chunk.Text: 0.41}}
	generator := &fakeGenerator{output: "should never be called"}

	svc, _ := newTestChallengeService(models.TreatmentNeutralizer, depositTurns(), searcher, reranker, generator)

	result, err := svc.RunChallenge(context.Background(), "sess1")
	require.NoError(t, err)

	assert.True(t, result.NoEvidence)
	assert.NotEmpty(t, result.QueryUsed, "a failed gate still reports the query it ran")
	assert.Empty(t, result.Summary)
	assert.Empty(t, result.Citations)
	assert.Empty(t, generator.prompts, "below-threshold evidence must not be narrated")
}

func TestChallengeThresholdBoundaryAccepted(t *testing.T) {
	chunk := agreementChunk("c1", models.PartyA)
	searcher := &fakeSearcher{byParty: map[models.Party][]models.Chunk{
		"": {chunk},
	}}
	reranker := &fakeReranker{scores: map[string]float64{chunk.Text: 0.7}}
	generator := &fakeGenerator{output: "Accepted at the line [Agreement.pdf, p.2]."}

	svc, _ := newTestChallengeService(models.TreatmentNeutralizer, depositTurns(), searcher, reranker, generator)

	result, err := svc.RunChallenge(context.Background(), "sess1")
	require.NoError(t, err)
	assert.False(t, result.NoEvidence, "score exactly at the threshold is accepted")
	require.Len(t, result.Citations, 1)
}

func TestChallengeEmbedFailureFailsPipeline(t *testing.T) {
	searcher := &fakeSearcher{}
	svc, embedder := newTestChallengeService(models.TreatmentNeutralizer, depositTurns(), searcher, &fakeReranker{}, &fakeGenerator{})
	embedder.err = errors.New("embedding api down")

	_, err := svc.RunChallenge(context.Background(), "sess1")
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	assert.Empty(t, searcher.searched, "no search without an embedding")
}

func TestChallengeRerankFailureFailsPipeline(t *testing.T) {
	chunk := agreementChunk("c1", models.PartyA)
	searcher := &fakeSearcher{byParty: map[models.Party][]models.Chunk{
		"": {chunk},
	}}
	reranker := &fakeReranker{err: errors.New("rerank api down")}
	generator := &fakeGenerator{output: "should never be called"}

	svc, _ := newTestChallengeService(models.TreatmentNeutralizer, depositTurns(), searcher, reranker, generator)

	_, err := svc.RunChallenge(context.Background(), "sess1")
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	assert.Empty(t, generator.prompts, "no narration on a failed rerank")
}

func TestChallengeGenerationFailureFailsPipeline(t *testing.T) {
	chunk := agreementChunk("c1", models.PartyA)
	searcher := &fakeSearcher{byParty: map[models.Party][]models.Chunk{
		"": {chunk},
	}}
	reranker := &fakeReranker{scores: map[string]float64{chunk.Text: 0.9}}
	generator := &fakeGenerator{err: errors.New("generation api down")}

	svc, _ := newTestChallengeService(models.TreatmentNeutralizer, depositTurns(), searcher, reranker, generator)

	_, err := svc.RunChallenge(context.Background(), "sess1")
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
}

func TestChallengeStripsInventedMarkers(t *testing.T) {
	chunk := agreementChunk("c1", models.PartyA)
	searcher := &fakeSearcher{byParty: map[models.Party][]models.Chunk{
		"": {chunk},
	}}
	reranker := &fakeReranker{scores: map[string]float64{chunk.Text: 0.85}}
	generator := &fakeGenerator{output: "The deposit was paid [Agreement.pdf, p.2]. Repairs were promised [Inspection.pdf, p.7]."}

	svc, _ := newTestChallengeService(models.TreatmentNeutralizer, depositTurns(), searcher, reranker, generator)

	result, err := svc.RunChallenge(context.Background(), "sess1")
	require.NoError(t, err)

	assert.Contains(t, result.Summary, "[Agreement.pdf, p.2]")
	assert.NotContains(t, result.Summary, "Inspection.pdf")
}

func TestChallengeSideBySideScopesByParty(t *testing.T) {
	chunkA := agreementChunk("a1", models.PartyA)
	chunkA.Text = "party A lease text"
	chunkB := models.Chunk{
		ID: "b1", DocID: "doc2", CaseID: "case1", Party: models.PartyB,
		Filename: "Inspection.pdf", Page: 4, Text: "party B inspection text",
	}
	searcher := &fakeSearcher{byParty: map[models.Party][]models.Chunk{
		models.PartyA: {chunkA},
		models.PartyB: {chunkB},
	}}
	reranker := &fakeReranker{scores: map[string]float64{
		chunkA.Text: 0.92,
		chunkB.Text: 0.88,
	}}
	generator := &fakeGenerator{byLabel: map[string]string{
		"Party A documents": "Lease terms set the deposit [Agreement.pdf, p.2].",
		"Party B documents": "Inspection found damage [Inspection.pdf, p.4].",
	}}

	svc, _ := newTestChallengeService(models.TreatmentSideBySide, depositTurns(), searcher, reranker, generator)

	result, err := svc.RunChallenge(context.Background(), "sess1")
	require.NoError(t, err)

	assert.False(t, result.NoEvidence)
	assert.Contains(t, result.PartyAEvidence, "[Agreement.pdf, p.2]")
	assert.Contains(t, result.PartyBEvidence, "[Inspection.pdf, p.4]")
	require.Len(t, result.PartyACitations, 1)
	require.Len(t, result.PartyBCitations, 1)
	assert.Equal(t, "a1", result.PartyACitations[0].ChunkID)
	assert.Equal(t, "b1", result.PartyBCitations[0].ChunkID)

	// Both scopes searched, never the unscoped case
	for _, p := range searcher.searched {
		assert.NotEqual(t, models.Party(""), p, "side_by_side must never run an unscoped search")
	}
	assert.Len(t, searcher.searched, 4)
}

func TestChallengeSideBySideIndependentGating(t *testing.T) {
	chunkA := agreementChunk("a1", models.PartyA)
	chunkA.Text = "strong party A evidence"
	chunkB := models.Chunk{
		ID: "b1", DocID: "doc2", CaseID: "case1", Party: models.PartyB,
		Filename: "Inspection.pdf", Page: 4, Text: "weak party B evidence",
	}
	searcher := &fakeSearcher{byParty: map[models.Party][]models.Chunk{
		models.PartyA: {chunkA},
		models.PartyB: {chunkB},
	}}
	reranker := &fakeReranker{scores: map[string]float64{
		chunkA.Text: 0.9,
		chunkB.Text: 0.3,
	}}
	generator := &fakeGenerator{output: "Only party A is narrated [Agreement.pdf, p.2]."}

	svc, _ := newTestChallengeService(models.TreatmentSideBySide, depositTurns(), searcher, reranker, generator)

	result, err := svc.RunChallenge(context.Background(), "sess1")
	require.NoError(t, err)

	assert.False(t, result.NoEvidence, "one gated party does not make the whole result empty")
	assert.NotEmpty(t, result.PartyAEvidence)
	assert.Empty(t, result.PartyBEvidence)
	assert.Empty(t, result.PartyBCitations)
	assert.Len(t, generator.prompts, 1, "no narration for the gated party")
}

func TestChallengeSideBySideBothGatedIsNoEvidence(t *testing.T) {
	chunkA := agreementChunk("a1", models.PartyA)
	searcher := &fakeSearcher{byParty: map[models.Party][]models.Chunk{
		models.PartyA: {chunkA},
	}}
	reranker := &fakeReranker{scores: map[string]float64{chunkA.Text: 0.2}}
	generator := &fakeGenerator{output: "should never be called"}

	svc, _ := newTestChallengeService(models.TreatmentSideBySide, depositTurns(), searcher, reranker, generator)

	result, err := svc.RunChallenge(context.Background(), "sess1")
	require.NoError(t, err)

	assert.True(t, result.NoEvidence)
	assert.Empty(t, generator.prompts)
}

func TestChallengeRerankedOrderingWins(t *testing.T) {
	// Retrieval order c1, c2; reranker reverses it
	c1 := agreementChunk("c1", models.PartyA)
	c1.Text = "first retrieved"
	c2 := agreementChunk("c2", models.PartyA)
	c2.Text = "second retrieved"
	searcher := &fakeSearcher{byParty: map[models.Party][]models.Chunk{
		"": {c1, c2},
	}}
	reranker := &fakeReranker{scores: map[string]float64{
		c1.Text: 0.75,
		c2.Text: 0.95,
	}}
	generator := &fakeGenerator{output: "Both cited [Agreement.pdf, p.2]."}

	svc, _ := newTestChallengeService(models.TreatmentNeutralizer, depositTurns(), searcher, reranker, generator)

	result, err := svc.RunChallenge(context.Background(), "sess1")
	require.NoError(t, err)

	require.Len(t, result.Citations, 2)
	assert.Equal(t, "c2", result.Citations[0].ChunkID, "reranker score outranks retrieval order")
	assert.Equal(t, "c1", result.Citations[1].ChunkID)
	assert.Equal(t, 1, reranker.calls, "all candidates rerank in one batched call")
}

func TestChallengeCitationSnippetTruncated(t *testing.T) {
	chunk := agreementChunk("c1", models.PartyA)
	long := make([]byte, 500)
	for i := range long {
		long[i] = 'x'
	}
	chunk.Text = string(long)
	searcher := &fakeSearcher{byParty: map[models.Party][]models.Chunk{
		"": {chunk},
	}}
	reranker := &fakeReranker{scores: map[string]float64{chunk.Text: 0.8}}
	generator := &fakeGenerator{output: "Cited [Agreement.pdf, p.2]."}

	svc, _ := newTestChallengeService(models.TreatmentNeutralizer, depositTurns(), searcher, reranker, generator)

	result, err := svc.RunChallenge(context.Background(), "sess1")
	require.NoError(t, err)
	require.Len(t, result.Citations, 1)
	assert.Len(t, result.Citations[0].Snippet, citationSnippetLen)
}

func TestChallengeSearchFailureFailsPipeline(t *testing.T) {
	searcher := &fakeSearcher{err: fmt.Errorf("postgres down")}
	svc, _ := newTestChallengeService(models.TreatmentNeutralizer, depositTurns(), searcher, &fakeReranker{}, &fakeGenerator{})

	_, err := svc.RunChallenge(context.Background(), "sess1")
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
}
