package service

import (
	"context"
	"fmt"
	"testing"

	"axio-backend/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTurnStore records persisted turns and replays them on hydration
type fakeTurnStore struct {
	saved   []models.Turn
	cleared []string
	listErr error
}

func (f *fakeTurnStore) SaveTurn(ctx context.Context, sessionID, speaker, text string) error {
	f.saved = append(f.saved, models.Turn{Speaker: speaker, Text: text})
	return nil
}

func (f *fakeTurnStore) ListForSession(ctx context.Context, sessionID string) ([]models.Turn, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.saved, nil
}

func (f *fakeTurnStore) DeleteForSession(ctx context.Context, sessionID string) error {
	f.cleared = append(f.cleared, sessionID)
	f.saved = nil
	return nil
}

func TestTranscriptAppendAndSnapshot(t *testing.T) {
	svc := NewTranscriptService(nil)
	ctx := context.Background()

	_, err := svc.Append(ctx, "s1", "Mediator", "Let's discuss the deposit.")
	require.NoError(t, err)
	_, err = svc.Append(ctx, "s1", "Party A", "I paid two thousand dollars.")
	require.NoError(t, err)

	turns, err := svc.Snapshot(ctx, "s1", 5)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "Mediator", turns[0].Speaker)
	assert.Equal(t, "Party A", turns[1].Speaker)
}

func TestTranscriptConsolidatesSameSpeaker(t *testing.T) {
	svc := NewTranscriptService(nil)
	ctx := context.Background()

	_, err := svc.Append(ctx, "s1", "Party A", "The lease says")
	require.NoError(t, err)
	recorded, err := svc.Append(ctx, "s1", "Party A", "two thousand dollars.")
	require.NoError(t, err)

	assert.Equal(t, "The lease says two thousand dollars.", recorded.Text)

	turns, err := svc.Snapshot(ctx, "s1", 5)
	require.NoError(t, err)
	require.Len(t, turns, 1, "consecutive same-speaker segments should merge")
}

func TestTranscriptWindowDropsOldestTurns(t *testing.T) {
	svc := NewTranscriptService(nil)
	ctx := context.Background()

	speakers := []string{"Mediator", "Party A"}
	for i := 0; i < 15; i++ {
		_, err := svc.Append(ctx, "s1", speakers[i%2], fmt.Sprintf("turn %d", i))
		require.NoError(t, err)
	}

	turns, err := svc.Snapshot(ctx, "s1", maxBufferTurns+5)
	require.NoError(t, err)
	assert.Len(t, turns, maxBufferTurns)
	assert.Equal(t, "turn 5", turns[0].Text, "oldest turns should have fallen off")
}

func TestTranscriptSnapshotDefaultWindow(t *testing.T) {
	svc := NewTranscriptService(nil)
	ctx := context.Background()

	speakers := []string{"Mediator", "Party A"}
	for i := 0; i < 8; i++ {
		_, err := svc.Append(ctx, "s1", speakers[i%2], fmt.Sprintf("turn %d", i))
		require.NoError(t, err)
	}

	turns, err := svc.Snapshot(ctx, "s1", 0)
	require.NoError(t, err)
	assert.Len(t, turns, defaultSnapshotTurns)
}

func TestTranscriptSnapshotEmptySession(t *testing.T) {
	svc := NewTranscriptService(nil)

	turns, err := svc.Snapshot(context.Background(), "never-seen", 5)
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestTranscriptSnapshotIsACopy(t *testing.T) {
	svc := NewTranscriptService(nil)
	ctx := context.Background()

	_, err := svc.Append(ctx, "s1", "Mediator", "original")
	require.NoError(t, err)

	turns, err := svc.Snapshot(ctx, "s1", 5)
	require.NoError(t, err)
	turns[0].Text = "mutated"

	again, err := svc.Snapshot(ctx, "s1", 5)
	require.NoError(t, err)
	assert.Equal(t, "original", again[0].Text)
}

func TestTranscriptHydratesFromStore(t *testing.T) {
	store := &fakeTurnStore{saved: []models.Turn{
		{Speaker: "Mediator", Text: "Welcome back."},
		{Speaker: "Party B", Text: "The repairs were"},
		{Speaker: "Party B", Text: "never completed."},
	}}
	svc := NewTranscriptService(store)

	turns, err := svc.Snapshot(context.Background(), "s1", 5)
	require.NoError(t, err)
	require.Len(t, turns, 2, "hydration should replay consolidation")
	assert.Equal(t, "The repairs were never completed.", turns[1].Text)
}

func TestTranscriptPersistsRawTurns(t *testing.T) {
	store := &fakeTurnStore{}
	svc := NewTranscriptService(store)
	ctx := context.Background()

	_, err := svc.Append(ctx, "s1", "Party A", "first segment")
	require.NoError(t, err)
	_, err = svc.Append(ctx, "s1", "Party A", "second segment")
	require.NoError(t, err)

	// Raw turns persist unconsolidated; consolidation replays on hydrate
	require.Len(t, store.saved, 2)
}

func TestTranscriptClear(t *testing.T) {
	store := &fakeTurnStore{}
	svc := NewTranscriptService(store)
	ctx := context.Background()

	_, err := svc.Append(ctx, "s1", "Mediator", "to be cleared")
	require.NoError(t, err)
	require.NoError(t, svc.Clear(ctx, "s1"))

	turns, err := svc.Snapshot(ctx, "s1", 5)
	require.NoError(t, err)
	assert.Empty(t, turns)
	assert.Equal(t, []string{"s1"}, store.cleared)
}

func TestFormatTurns(t *testing.T) {
	turns := []models.Turn{
		{Speaker: "Mediator", Text: "What about the deposit?"},
		{Speaker: "Party A", Text: "It was $2,000."},
	}
	want := "Mediator: What about the deposit?\nParty A: It was $2,000."
	assert.Equal(t, want, formatTurns(turns))
}
