package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"axio-backend/models"
)

const (
	// maxBufferTurns bounds the per-session buffer; older turns fall off
	maxBufferTurns = 10
	// defaultSnapshotTurns is the query window used by the challenge pipeline
	defaultSnapshotTurns = 5
)

// TurnStore persists raw turns for restart recovery
type TurnStore interface {
	SaveTurn(ctx context.Context, sessionID, speaker, text string) error
	ListForSession(ctx context.Context, sessionID string) ([]models.Turn, error)
	DeleteForSession(ctx context.Context, sessionID string) error
}

// TranscriptService owns the per-session transcript window buffers.
// Appends (from the live feed) and snapshots (from concurrent challenge
// calls) interleave safely: each buffer is guarded by its own mutex and
// a snapshot copies a fixed boundary of the turn list.
type TranscriptService struct {
	mu      sync.Mutex
	buffers map[string]*sessionBuffer
	store   TurnStore // optional; nil means in-memory only
}

type sessionBuffer struct {
	mu       sync.Mutex
	hydrated bool
	turns    []models.Turn
}

// NewTranscriptService creates a transcript service. The store may be
// nil, in which case buffers are purely in-memory.
func NewTranscriptService(store TurnStore) *TranscriptService {
	return &TranscriptService{
		buffers: make(map[string]*sessionBuffer),
		store:   store,
	}
}

func (s *TranscriptService) buffer(sessionID string) *sessionBuffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buffers[sessionID]
	if !ok {
		b = &sessionBuffer{}
		s.buffers[sessionID] = b
	}
	return b
}

// Append adds a turn to a session's buffer, consolidating consecutive
// segments from the same speaker into one turn, and persists the raw
// turn. Returns the turn as recorded in the buffer.
func (s *TranscriptService) Append(ctx context.Context, sessionID, speaker, text string) (models.Turn, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return models.Turn{}, fmt.Errorf("empty turn text")
	}

	b := s.buffer(sessionID)
	b.mu.Lock()
	if err := s.hydrateLocked(ctx, sessionID, b); err != nil {
		b.mu.Unlock()
		return models.Turn{}, err
	}
	appendConsolidated(&b.turns, speaker, text, time.Now().UTC())
	enforceWindow(&b.turns)
	recorded := b.turns[len(b.turns)-1]
	b.mu.Unlock()

	if s.store != nil {
		if err := s.store.SaveTurn(ctx, sessionID, speaker, text); err != nil {
			return recorded, fmt.Errorf("failed to persist turn: %w", err)
		}
	}
	return recorded, nil
}

// Snapshot returns a copy of the last n turns of a session, hydrating
// the buffer from persistence on first access. n <= 0 selects the
// default query window. The copy reflects exactly the turns appended
// before the call acquired the buffer.
func (s *TranscriptService) Snapshot(ctx context.Context, sessionID string, n int) ([]models.Turn, error) {
	if n <= 0 {
		n = defaultSnapshotTurns
	}

	b := s.buffer(sessionID)
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := s.hydrateLocked(ctx, sessionID, b); err != nil {
		return nil, err
	}

	start := len(b.turns) - n
	if start < 0 {
		start = 0
	}
	out := make([]models.Turn, len(b.turns)-start)
	copy(out, b.turns[start:])
	return out, nil
}

// Clear drops a session's buffer and its persisted turns
func (s *TranscriptService) Clear(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	delete(s.buffers, sessionID)
	s.mu.Unlock()

	if s.store != nil {
		return s.store.DeleteForSession(ctx, sessionID)
	}
	return nil
}

// hydrateLocked rebuilds an empty buffer from persisted turns by
// replaying them through the consolidation logic. Caller holds b.mu.
func (s *TranscriptService) hydrateLocked(ctx context.Context, sessionID string, b *sessionBuffer) error {
	if b.hydrated {
		return nil
	}
	b.hydrated = true
	if s.store == nil {
		return nil
	}

	rows, err := s.store.ListForSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to hydrate transcript buffer: %w", err)
	}
	for _, row := range rows {
		appendConsolidated(&b.turns, row.Speaker, row.Text, row.Timestamp)
	}
	enforceWindow(&b.turns)
	return nil
}

func appendConsolidated(turns *[]models.Turn, speaker, text string, at time.Time) {
	n := len(*turns)
	if n > 0 && (*turns)[n-1].Speaker == speaker {
		(*turns)[n-1].Text += " " + text
		(*turns)[n-1].Timestamp = at
		return
	}
	*turns = append(*turns, models.Turn{Speaker: speaker, Text: text, Timestamp: at})
}

func enforceWindow(turns *[]models.Turn) {
	if len(*turns) > maxBufferTurns {
		*turns = append([]models.Turn(nil), (*turns)[len(*turns)-maxBufferTurns:]...)
	}
}

// formatTurns renders a turn window as the speaker-prefixed query text
func formatTurns(turns []models.Turn) string {
	parts := make([]string, 0, len(turns))
	for _, t := range turns {
		parts = append(parts, t.Speaker+": "+t.Text)
	}
	return strings.Join(parts, "\n")
}
