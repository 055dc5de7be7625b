package models

import (
	"time"
)

// Turn is one speaker segment of a live session transcript.
// Turns are append-only and ordered by arrival.
type Turn struct {
	Speaker   string    `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}
