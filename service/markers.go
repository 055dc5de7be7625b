package service

import (
	"regexp"
	"strconv"
	"strings"

	"axio-backend/models"
)

// citationMarkerPattern matches the inline citation convention
// "[<document name>, p.<page>]" that links narrative text to the
// citation list. Downstream display parses the same pattern, so the
// narrative and its citation list must stay mutually consistent.
var citationMarkerPattern = regexp.MustCompile(`\[([^\[\]\n]+?), p\.(\d+)\]`)

type citationMarker struct {
	DocName string
	Page    int
	Raw     string
}

// extractMarkers returns every citation marker appearing in the text, in order
func extractMarkers(text string) []citationMarker {
	matches := citationMarkerPattern.FindAllStringSubmatch(text, -1)
	markers := make([]citationMarker, 0, len(matches))
	for _, m := range matches {
		page, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		markers = append(markers, citationMarker{
			DocName: strings.TrimSpace(m[1]),
			Page:    page,
			Raw:     m[0],
		})
	}
	return markers
}

// stripOrphanMarkers removes markers that do not resolve to an entry of
// the citation list. A marker the model invented is a generation defect;
// showing it unlinked would silently break the display layer, so the
// marker is stripped instead. Returns the cleaned text and the number of
// markers removed.
func stripOrphanMarkers(text string, citations []models.Citation) (string, int) {
	known := make(map[string]bool, len(citations))
	for _, c := range citations {
		known[markerKey(c.DocName, c.Page)] = true
	}

	stripped := 0
	cleaned := citationMarkerPattern.ReplaceAllStringFunc(text, func(raw string) string {
		m := citationMarkerPattern.FindStringSubmatch(raw)
		page, err := strconv.Atoi(m[2])
		if err != nil {
			stripped++
			return ""
		}
		if known[markerKey(strings.TrimSpace(m[1]), page)] {
			return raw
		}
		stripped++
		return ""
	})

	if stripped > 0 {
		cleaned = tidyAfterStrip(cleaned)
	}
	return cleaned, stripped
}

func markerKey(docName string, page int) string {
	return strings.ToLower(docName) + "|" + strconv.Itoa(page)
}

var (
	doubledSpaces    = regexp.MustCompile(`[ \t]{2,}`)
	spaceBeforePunct = regexp.MustCompile(` +([.,;:])`)
)

func tidyAfterStrip(text string) string {
	text = doubledSpaces.ReplaceAllString(text, " ")
	text = spaceBeforePunct.ReplaceAllString(text, "$1")
	lines := strings.Split(text, "\n")
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], " \t")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
