package models

import (
	"time"
)

// Party labels the side of a mediation that submitted a document
type Party string

const (
	PartyA Party = "A"
	PartyB Party = "B"
)

// Valid reports whether the party label is one of the two known sides
func (p Party) Valid() bool {
	return p == PartyA || p == PartyB
}

// Treatment selects how gated evidence is narrated for a session
type Treatment string

const (
	TreatmentNeutralizer Treatment = "neutralizer"
	TreatmentSideBySide  Treatment = "side_by_side"
)

// Valid reports whether the treatment is a known output mode
func (t Treatment) Valid() bool {
	return t == TreatmentNeutralizer || t == TreatmentSideBySide
}

// Case represents a mediation case owning documents and sessions
type Case struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// Session represents one live mediation session within a case
type Session struct {
	ID        string    `json:"id"`
	CaseID    string    `json:"case_id"`
	Treatment Treatment `json:"treatment"`
	CreatedAt time.Time `json:"created_at"`
}
