package service

import (
	"testing"

	"axio-backend/models"
)

func TestExtractMarkers(t *testing.T) {
	text := "The deposit was paid [Lease Agreement.pdf, p.2] and later refunded [Receipt.txt, p.1]."

	markers := extractMarkers(text)
	if len(markers) != 2 {
		t.Fatalf("expected 2 markers, got %d", len(markers))
	}
	if markers[0].DocName != "Lease Agreement.pdf" || markers[0].Page != 2 {
		t.Errorf("unexpected first marker: %+v", markers[0])
	}
	if markers[1].DocName != "Receipt.txt" || markers[1].Page != 1 {
		t.Errorf("unexpected second marker: %+v", markers[1])
	}
}

func TestExtractMarkersIgnoresNonCitationBrackets(t *testing.T) {
	text := "See [appendix] and [note, page 3] but cite [Contract.txt, p.4]."

	markers := extractMarkers(text)
	if len(markers) != 1 {
		t.Fatalf("expected 1 marker, got %d", len(markers))
	}
	if markers[0].DocName != "Contract.txt" {
		t.Errorf("unexpected marker: %+v", markers[0])
	}
}

func TestStripOrphanMarkersKeepsResolvable(t *testing.T) {
	citations := []models.Citation{
		{DocName: "Agreement.pdf", Page: 2},
	}
	text := "The document states the deposit was $2,000 [Agreement.pdf, p.2]."

	cleaned, stripped := stripOrphanMarkers(text, citations)
	if stripped != 0 {
		t.Fatalf("expected no markers stripped, got %d", stripped)
	}
	if cleaned != text {
		t.Errorf("text changed unexpectedly: %q", cleaned)
	}
}

func TestStripOrphanMarkersRemovesInvented(t *testing.T) {
	citations := []models.Citation{
		{DocName: "Agreement.pdf", Page: 2},
	}
	text := "The deposit was $2,000 [Agreement.pdf, p.2]. The roof leaked [Inspection Report.pdf, p.9]."

	cleaned, stripped := stripOrphanMarkers(text, citations)
	if stripped != 1 {
		t.Fatalf("expected 1 marker stripped, got %d", stripped)
	}
	want := "The deposit was $2,000 [Agreement.pdf, p.2]. The roof leaked."
	if cleaned != want {
		t.Errorf("expected %q, got %q", want, cleaned)
	}
}

func TestStripOrphanMarkersPageMustMatch(t *testing.T) {
	citations := []models.Citation{
		{DocName: "Agreement.pdf", Page: 2},
	}
	text := "Clause four [Agreement.pdf, p.5] covers repairs."

	cleaned, stripped := stripOrphanMarkers(text, citations)
	if stripped != 1 {
		t.Fatalf("expected wrong-page marker stripped, got %d stripped", stripped)
	}
	if cleaned != "Clause four covers repairs." {
		t.Errorf("unexpected cleaned text: %q", cleaned)
	}
}

func TestStripOrphanMarkersCaseInsensitiveDocName(t *testing.T) {
	citations := []models.Citation{
		{DocName: "Lease.txt", Page: 1},
	}
	text := "Rent is due monthly [lease.txt, p.1]."

	_, stripped := stripOrphanMarkers(text, citations)
	if stripped != 0 {
		t.Errorf("expected case-insensitive doc name match, %d stripped", stripped)
	}
}

func TestStripOrphanMarkersEmptyCitationList(t *testing.T) {
	text := "Everything cited [Doc.txt, p.1] goes away [Other.txt, p.3]."

	cleaned, stripped := stripOrphanMarkers(text, nil)
	if stripped != 2 {
		t.Fatalf("expected both markers stripped, got %d", stripped)
	}
	if cleaned != "Everything cited goes away." {
		t.Errorf("unexpected cleaned text: %q", cleaned)
	}
}
