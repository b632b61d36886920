package generation

import (
	"context"
	"fmt"

	"github.com/animemaker/server/internal/module/prompt"
	"github.com/animemaker/server/internal/module/storage"
	"github.com/animemaker/server/internal/shared/logger"
)

// RegenerateInput identifies one scene to re-run outside the main batch.
type RegenerateInput struct {
	Scene         Scene                              `json:"scene"`
	Characters    map[string]prompt.CharacterProfile `json:"characters"`
	Modifications string                             `json:"modifications"`
	QualityPreset string                             `json:"quality_preset"`
	Verify        bool                               `json:"verify"`
}

// Regenerate re-runs the attempt loop for a single scene, persists the
// new image and optionally re-verifies it. It streams the reduced
// regenerating to complete or error sequence and always closes the
// emitter.
func (o *Orchestrator) Regenerate(ctx context.Context, in RegenerateInput, sel RunInput, emitter *Emitter) {
	defer emitter.Close()
	log := o.log.With(logger.Scene(in.Scene.ID))

	defer func() {
		if rec := recover(); rec != nil {
			log.Error("regeneration panic", "panic", rec)
			o.terminate(emitter, "regenerate_error", fmt.Sprintf("regeneration failed: %v", rec))
		}
	}()

	models := o.resolveSelection(sel.Selection)
	preset := GetPreset(in.QualityPreset)

	scene := in.Scene
	if in.Modifications != "" {
		scene.ImagePrompt = fmt.Sprintf("%s, %s", scene.ImagePrompt, in.Modifications)
	}

	emitter.Emit(ProgressEvent{
		Stage:    StageRegenerating,
		Progress: progressStoryStart,
		Message:  "Regenerating scene image...",
	})

	res := o.images.runScene(ctx, sel.APIKey, models.ImageModel, &scene, preset.MaxAttempts)
	if !res.Success {
		log.Warn("regeneration failed", "reason", res.Error)
		o.terminate(emitter, "regenerate_error", res.Error)
		return
	}

	url, err := o.store.SaveImage(ctx, storage.ImageName(scene.ID), res.ImageData)
	if err != nil {
		log.Warn("regenerated image not persisted, delivering inline", logger.Err(err))
		url = res.ImageData
	}

	generated := []GeneratedScene{{
		SceneID:     scene.ID,
		ImageURL:    url,
		Description: scene.Description,
		Dialogue:    scene.Dialogue,
		Setting:     scene.Setting,
		Attempts:    res.Attempts,
		ImageData:   res.ImageData,
	}}

	if in.Verify && !preset.SkipVerification {
		emitter.Emit(ProgressEvent{
			Stage:    StageRegenerating,
			Progress: progressVerifyStart,
			Message:  "Verifying regenerated image...",
		})
		o.verifier.Run(ctx, sel.APIKey, models.VerificationModel, generated, []Scene{scene}, in.Characters, preset.Threshold(), nil)
	}

	snap := &Snapshot{
		Characters: in.Characters,
		Scenes:     generated,
		Metadata: SnapshotMetadata{
			TotalScenes: 1,
			Timestamp:   now(),
			ActualCost:  Cost(1, o.cfg.CostPerScene, preset),
		},
	}
	snap.Metadata.PassedVerification, snap.Metadata.NeedsReview = countVerdicts(generated)

	emitter.Emit(ProgressEvent{
		Stage:    StageComplete,
		Progress: progressComplete,
		Message:  "Scene regenerated",
		Data:     snap,
	})
	log.Info("scene regenerated", "attempts", res.Attempts)
}
