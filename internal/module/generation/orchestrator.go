package generation

import (
	"context"
	"fmt"
	"time"

	"github.com/animemaker/server/internal/module/prompt"
	"github.com/animemaker/server/internal/module/provider"
	"github.com/animemaker/server/internal/module/storage"
	"github.com/animemaker/server/internal/shared/logger"
	"github.com/animemaker/server/internal/shared/metrics"
)

// Progress allocation per stage. Story owns 0-40, images 40-80,
// verification 80-95, completion 100.
const (
	progressStoryStart  = 10
	progressStoryDone   = 40
	progressImageStart  = 45
	progressImageEnd    = 80
	progressVerifyStart = 85
	progressVerifyEnd   = 95
	progressComplete    = 100
)

// Config carries the pipeline knobs resolved from application config.
type Config struct {
	ImageConcurrency  int
	VerifyItemTimeout time.Duration
	VerifyTimeout     time.Duration
	CostPerScene      float64
	DefaultSelection  provider.Selection
}

// Orchestrator sequences story, image, assembly and verification for one
// run and owns the terminal state. It is the only component aware of the
// stage machine.
type Orchestrator struct {
	story     *StoryStep
	images    *ImageRunner
	assembler *Assembler
	verifier  *Verifier
	store     storage.Store
	log       *logger.Logger
	metrics   *metrics.Metrics
	cfg       Config
}

func NewOrchestrator(client ModelClient, store storage.Store, descCache *prompt.DescriptionCache, cfg Config, log *logger.Logger, m *metrics.Metrics) *Orchestrator {
	if cfg.CostPerScene <= 0 {
		cfg.CostPerScene = 0.07
	}
	return &Orchestrator{
		story:     NewStoryStep(client, log),
		images:    NewImageRunner(client, cfg.ImageConcurrency, log, m),
		assembler: NewAssembler(store, cfg.CostPerScene, log),
		verifier:  NewVerifier(client, descCache, cfg.VerifyItemTimeout, cfg.VerifyTimeout, log, m),
		store:     store,
		log:       log.Component("generation"),
		metrics:   m,
		cfg:       cfg,
	}
}

// RunInput is one generation run's resolved parameters.
type RunInput struct {
	Request   GenerationRequest
	Selection provider.Selection
	Preset    Preset
	APIKey    string
}

// Run drives one generation to its terminal event and closes the
// emitter. Every code path ends the stream with exactly one complete or
// error event.
func (o *Orchestrator) Run(ctx context.Context, in RunInput, emitter *Emitter) {
	defer emitter.Close()
	start := time.Now()
	runName := storage.NewRunName()
	log := o.log.With(logger.Run(runName))

	defer func() {
		if rec := recover(); rec != nil {
			log.Error("generation panic", "panic", rec)
			o.terminate(emitter, "error", fmt.Sprintf("generation failed: %v", rec))
		}
	}()

	sel := o.resolveSelection(in.Selection)
	log.Info("generation started",
		"scenes", in.Request.SceneCount,
		"preset", in.Preset.ID,
		"text_model", sel.TextModel,
		"image_model", sel.ImageModel,
	)

	emitter.Emit(ProgressEvent{Stage: StageStory, Progress: progressStoryStart, Message: "Generating story and characters..."})

	bundle, err := o.story.Generate(ctx, in.APIKey, sel.TextModel, &in.Request)
	if err != nil {
		log.Error("story generation failed", logger.Err(err))
		o.terminate(emitter, "error", err.Error())
		return
	}
	emitter.Emit(ProgressEvent{Stage: StageStory, Progress: progressStoryDone, Message: "Story generated"})

	total := len(bundle.Scenes)
	emitter.Emit(ProgressEvent{
		Stage:       StageImage,
		Progress:    progressImageStart,
		Message:     fmt.Sprintf("Generating %d scene images...", total),
		TotalScenes: total,
	})

	results := o.images.Run(ctx, in.APIKey, sel.ImageModel, bundle.Scenes, in.Preset.MaxAttempts, func(completed, total int) {
		emitter.Emit(ProgressEvent{
			Stage:        StageImage,
			Progress:     interpolate(progressStoryDone, progressImageEnd, completed, total),
			Message:      fmt.Sprintf("Generated image %d of %d", completed, total),
			CurrentScene: completed,
			TotalScenes:  total,
		})
	})

	snap := o.assembler.Assemble(ctx, runName, bundle, results, in.Preset)
	if _, err := o.store.SaveSnapshot(ctx, storage.FinalName(runName), snap); err != nil {
		log.Warn("preliminary snapshot not saved", logger.Err(err))
	}
	// The consumer may still be marshaling this event while verification
	// mutates snap, so it gets its own copy.
	emitter.Emit(ProgressEvent{
		Stage:       StageImagesComplete,
		Progress:    progressImageEnd,
		Message:     "All images processed",
		TotalScenes: total,
		Data:        snap.clone(),
	})

	if !in.Preset.SkipVerification {
		emitter.Emit(ProgressEvent{Stage: StageVerification, Progress: progressVerifyStart, Message: "Verifying image quality..."})
		o.verifier.Run(ctx, in.APIKey, sel.VerificationModel, snap.Scenes, bundle.Scenes, bundle.Characters, in.Preset.Threshold(), func(done, total int) {
			emitter.Emit(ProgressEvent{
				Stage:        StageVerification,
				Progress:     interpolate(progressVerifyStart, progressVerifyEnd, done, total),
				Message:      fmt.Sprintf("Verified %d of %d images", done, total),
				CurrentScene: done,
				TotalScenes:  total,
			})
		})
		snap.Metadata.VerificationCompleted = true
	}
	snap.Metadata.VerificationPending = false
	snap.Metadata.PassedVerification, snap.Metadata.NeedsReview = countVerdicts(snap.Scenes)
	snap.Metadata.Timestamp = now()

	if _, err := o.store.SaveSnapshot(ctx, storage.FinalName(runName), snap); err != nil {
		log.Warn("final snapshot not saved", logger.Err(err))
	} else if err := o.store.DeleteByPrefix(ctx, storage.PartialPrefix(runName)); err != nil {
		log.Warn("partial cleanup failed", logger.Err(err))
	}

	emitter.Emit(ProgressEvent{
		Stage:       StageComplete,
		Progress:    progressComplete,
		Message:     "Generation complete",
		TotalScenes: total,
		Data:        snap,
	})
	o.observe("complete", start)
	o.observeScenes(snap.Scenes)
	log.Info("generation complete",
		"scenes", total,
		"with_image", withImage(snap.Scenes),
		"duration", time.Since(start).Round(time.Millisecond),
	)
}

func (o *Orchestrator) resolveSelection(sel provider.Selection) provider.Selection {
	def := o.cfg.DefaultSelection
	if sel.TextModel == "" {
		sel.TextModel = def.TextModel
	}
	if sel.ImageModel == "" {
		sel.ImageModel = def.ImageModel
	}
	if sel.VerificationModel == "" {
		sel.VerificationModel = def.VerificationModel
	}
	return sel
}

// terminate emits the single error event ending a failed run.
func (o *Orchestrator) terminate(emitter *Emitter, state, message string) {
	emitter.Emit(ProgressEvent{Stage: StageError, Progress: 0, Message: message})
	if o.metrics != nil {
		o.metrics.GenerationsTotal.WithLabelValues(state).Inc()
	}
}

func (o *Orchestrator) observe(state string, start time.Time) {
	if o.metrics == nil {
		return
	}
	o.metrics.GenerationsTotal.WithLabelValues(state).Inc()
	o.metrics.GenerationDuration.Observe(time.Since(start).Seconds())
}

func (o *Orchestrator) observeScenes(scenes []GeneratedScene) {
	if o.metrics == nil {
		return
	}
	for i := range scenes {
		outcome := "success"
		if scenes[i].ImageURL == "" {
			outcome = "failure"
		}
		o.metrics.ScenesTotal.WithLabelValues(outcome).Inc()
	}
}

// interpolate maps completed/total linearly onto [from, to].
func interpolate(from, to, completed, total int) int {
	if total <= 0 {
		return to
	}
	return from + (to-from)*completed/total
}

// countVerdicts splits scenes with an image into passed and the rest.
// An absent verification counts as needing review so the two totals
// always cover every scene that produced an image.
func countVerdicts(scenes []GeneratedScene) (passed, needsReview int) {
	for i := range scenes {
		if scenes[i].ImageURL == "" {
			continue
		}
		if v := scenes[i].Verification; v != nil && v.Passed {
			passed++
		} else {
			needsReview++
		}
	}
	return passed, needsReview
}

func withImage(scenes []GeneratedScene) int {
	n := 0
	for i := range scenes {
		if scenes[i].ImageURL != "" {
			n++
		}
	}
	return n
}
