package generation

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/animemaker/server/internal/shared/logger"
)

func testBundle(n int) *StoryBundle {
	return &StoryBundle{
		Characters: testCharacters(),
		Script:     "Yuki faces the storm.",
		Scenes:     makeScenes(n),
	}
}

func TestAssembleSuccessfulRun(t *testing.T) {
	store := newFakeStore()
	a := NewAssembler(store, 0.07, logger.Nop())

	results := []ImageAttemptResult{
		{Success: true, ImageData: pngData, Attempts: 1},
		{Success: true, ImageData: pngData, Attempts: 2},
		{Success: true, ImageData: pngData, Attempts: 1},
	}

	snap := a.Assemble(context.Background(), "result_1", testBundle(3), results, GetPreset("standard"))
	require.Len(t, snap.Scenes, 3)

	for i, gs := range snap.Scenes {
		assert.Equal(t, testBundle(3).Scenes[i].ID, gs.SceneID)
		assert.Contains(t, gs.ImageURL, "/generated/scene_")
		assert.Equal(t, pngData, gs.ImageData)
		assert.Empty(t, gs.Error)
	}
	assert.Equal(t, 2, snap.Scenes[1].Attempts)
	assert.Equal(t, 3, snap.Metadata.TotalScenes)
	assert.InDelta(t, 0.21, snap.Metadata.ActualCost, 1e-9)
	assert.True(t, snap.Metadata.VerificationPending)

	// one partial snapshot per persisted image
	assert.Equal(t, []string{
		"result_1_partial_1.json",
		"result_1_partial_2.json",
		"result_1_partial_3.json",
	}, store.snapshotNames())

	// the raw payload stays in memory, never in serialized snapshots
	raw, err := json.Marshal(snap)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), pngData)
}

func TestAssembleFailedSceneKeepsOrderAndError(t *testing.T) {
	store := newFakeStore()
	a := NewAssembler(store, 0.07, logger.Nop())

	results := []ImageAttemptResult{
		{Success: true, ImageData: pngData, Attempts: 1},
		{Error: "all attempts failed", Attempts: 3},
		{Success: true, ImageData: pngData, Attempts: 1},
	}

	snap := a.Assemble(context.Background(), "result_2", testBundle(3), results, GetPreset("standard"))
	require.Len(t, snap.Scenes, 3)

	assert.Equal(t, "scene_2", snap.Scenes[1].SceneID)
	assert.Empty(t, snap.Scenes[1].ImageURL)
	assert.Equal(t, "all attempts failed", snap.Scenes[1].Error)
	assert.Equal(t, 3, snap.Scenes[1].Attempts)

	// cost counts only scenes with an image
	assert.InDelta(t, 0.14, snap.Metadata.ActualCost, 1e-9)
	assert.Len(t, store.snapshotNames(), 2)
}

func TestAssemblePersistFailureFallsBackInline(t *testing.T) {
	store := newFakeStore()
	store.failImages = true
	a := NewAssembler(store, 0.07, logger.Nop())

	results := []ImageAttemptResult{{Success: true, ImageData: pngData, Attempts: 1}}
	snap := a.Assemble(context.Background(), "result_3", testBundle(1), results, GetPreset("draft"))

	require.Len(t, snap.Scenes, 1)
	assert.Equal(t, pngData, snap.Scenes[0].ImageURL)
	assert.Empty(t, snap.Scenes[0].Error)
}

func TestAssembleDraftPresetSkipsVerificationPending(t *testing.T) {
	store := newFakeStore()
	a := NewAssembler(store, 0.07, logger.Nop())

	results := []ImageAttemptResult{{Success: true, ImageData: pngData, Attempts: 1}}
	snap := a.Assemble(context.Background(), "result_4", testBundle(1), results, GetPreset("draft"))

	assert.False(t, snap.Metadata.VerificationPending)
	assert.InDelta(t, 0.049, snap.Metadata.ActualCost, 1e-9)
	assert.InDelta(t, 0.049, snap.Metadata.EstimatedCost, 1e-9)
}
