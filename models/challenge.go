package models

// Citation is a response-time projection of a retrieved chunk. It is
// generated fresh on every challenge and never persisted.
type Citation struct {
	ChunkID string `json:"chunk_id"`
	DocName string `json:"doc_name"`
	Page    int    `json:"page"`
	Snippet string `json:"snippet"`
}

// ChallengeResult is the outcome of one challenge invocation. Fields for
// the treatment that was not used are left empty.
type ChallengeResult struct {
	Treatment  string `json:"treatment"`
	QueryUsed  string `json:"query_used"`
	NoEvidence bool   `json:"no_evidence"`

	// neutralizer fields
	Summary   string     `json:"summary"`
	Citations []Citation `json:"citations"`

	// side_by_side fields
	PartyAEvidence  string     `json:"party_a_evidence"`
	PartyACitations []Citation `json:"party_a_citations"`
	PartyBEvidence  string     `json:"party_b_evidence"`
	PartyBCitations []Citation `json:"party_b_citations"`
}

// NewChallengeResult returns a result with empty (non-nil) citation lists
// so clients always see arrays in the JSON payload.
func NewChallengeResult(treatment Treatment, queryUsed string) *ChallengeResult {
	return &ChallengeResult{
		Treatment:       string(treatment),
		QueryUsed:       queryUsed,
		Citations:       []Citation{},
		PartyACitations: []Citation{},
		PartyBCitations: []Citation{},
	}
}

// ChunkContext is the expanded view of a citation returned by the
// citation resolver. When the underlying chunk no longer exists,
// Text falls back to the citation's stored snippet and ChunkGone is set.
type ChunkContext struct {
	ChunkID      string `json:"chunk_id"`
	DocID        string `json:"doc_id"`
	Text         string `json:"text"`
	ParentText   string `json:"parent_text"`
	SectionTitle string `json:"section_title"`
	ChunkGone    bool   `json:"chunk_gone,omitempty"`
}
