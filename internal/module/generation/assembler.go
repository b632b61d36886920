package generation

import (
	"context"

	"github.com/animemaker/server/internal/module/storage"
	"github.com/animemaker/server/internal/shared/logger"
)

// Assembler folds per-scene attempt results into the durable scene list,
// persisting images and incremental snapshots along the way. Persistence
// failures degrade rather than abort: an image that cannot be stored is
// delivered inline as its data URL.
type Assembler struct {
	store        storage.Store
	log          *logger.Logger
	costPerScene float64
}

func NewAssembler(store storage.Store, costPerScene float64, log *logger.Logger) *Assembler {
	if costPerScene <= 0 {
		costPerScene = 0.07
	}
	return &Assembler{store: store, log: log.Component("generation.assemble"), costPerScene: costPerScene}
}

// Assemble walks results in scene order and returns the preliminary
// snapshot attached to the images_complete event. A partial snapshot is
// written after each persisted image so a crash mid-run still leaves a
// recoverable artifact.
func (a *Assembler) Assemble(ctx context.Context, runName string, bundle *StoryBundle, results []ImageAttemptResult, preset Preset) *Snapshot {
	scenes := make([]GeneratedScene, len(bundle.Scenes))
	saved := 0

	for i := range bundle.Scenes {
		src := &bundle.Scenes[i]
		res := results[i]

		gs := GeneratedScene{
			SceneID:     src.ID,
			Description: src.Description,
			Dialogue:    src.Dialogue,
			Setting:     src.Setting,
			Attempts:    res.Attempts,
		}

		if res.Success {
			gs.ImageURL = a.persistImage(ctx, src.ID, res.ImageData)
			gs.ImageData = res.ImageData
			saved++
		} else {
			gs.Error = res.Error
		}
		scenes[i] = gs

		if res.Success {
			partial := a.snapshot(bundle, scenes[:i+1], preset, saved)
			partial.Metadata.Partial = true
			partial.Metadata.CompletedScenes = saved
			name := storage.PartialName(runName, saved)
			if _, err := a.store.SaveSnapshot(ctx, name, partial); err != nil {
				a.log.Warn("partial snapshot not saved", "name", name, logger.Err(err))
			}
		}
	}

	snap := a.snapshot(bundle, scenes, preset, saved)
	snap.Metadata.VerificationPending = !preset.SkipVerification
	return snap
}

// persistImage stores one image and returns its URL, falling back to the
// inline data URL when the store rejects the write.
func (a *Assembler) persistImage(ctx context.Context, sceneID, data string) string {
	url, err := a.store.SaveImage(ctx, storage.ImageName(sceneID), data)
	if err != nil {
		a.log.Warn("image not persisted, delivering inline", logger.Scene(sceneID), logger.Err(err))
		return data
	}
	return url
}

func (a *Assembler) snapshot(bundle *StoryBundle, scenes []GeneratedScene, preset Preset, saved int) *Snapshot {
	cost := Cost(saved, a.costPerScene, preset)
	return &Snapshot{
		Script:     bundle.Script,
		Characters: bundle.Characters,
		Scenes:     scenes,
		Metadata: SnapshotMetadata{
			TotalScenes:   len(bundle.Scenes),
			Timestamp:     now(),
			EstimatedCost: Cost(len(bundle.Scenes), a.costPerScene, preset),
			ActualCost:    cost,
		},
	}
}
