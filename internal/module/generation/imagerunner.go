package generation

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/animemaker/server/internal/shared/logger"
	"github.com/animemaker/server/internal/shared/metrics"
)

// Ordered prompt mutation strategies, indexed by attempt number. Attempt
// indices past the end of the list reuse the last strategy.
var promptMutations = []string{
	"",
	", ultra detailed, 8k masterpiece, perfect composition, award winning",
	", ultra detailed, 8k masterpiece, alternative angle, different perspective, professional lighting",
}

// MutatePrompt applies the attempt-indexed mutation strategy to a prompt.
// Attempt numbering is zero-based; attempt 0 leaves the prompt unchanged.
func MutatePrompt(base string, attempt int) string {
	if attempt <= 0 {
		return base
	}
	if attempt >= len(promptMutations) {
		attempt = len(promptMutations) - 1
	}
	return base + promptMutations[attempt]
}

// ImageRunner generates one image per scene under a shared concurrency
// cap, retrying each scene up to the preset's attempt limit. One scene's
// failure or panic never aborts its siblings.
type ImageRunner struct {
	client      ModelClient
	log         *logger.Logger
	metrics     *metrics.Metrics
	concurrency int
}

func NewImageRunner(client ModelClient, concurrency int, log *logger.Logger, m *metrics.Metrics) *ImageRunner {
	if concurrency <= 0 {
		concurrency = 3
	}
	return &ImageRunner{
		client:      client,
		log:         log.Component("generation.images"),
		metrics:     m,
		concurrency: concurrency,
	}
}

// Run produces one ImageAttemptResult per scene, in input order. onDone
// fires once per finished scene (success or exhausted failure) in
// completion order with a monotonically increasing completed count.
func (r *ImageRunner) Run(ctx context.Context, apiKey, model string, scenes []Scene, maxAttempts int, onDone func(completed, total int)) []ImageAttemptResult {
	results := make([]ImageAttemptResult, len(scenes))

	var (
		g         errgroup.Group
		mu        sync.Mutex
		completed int
	)
	g.SetLimit(r.concurrency)

	for i := range scenes {
		idx := i
		g.Go(func() error {
			results[idx] = r.runScene(ctx, apiKey, model, &scenes[idx], maxAttempts)

			// onDone runs under the lock so completed counts reach the
			// caller in strictly increasing order.
			mu.Lock()
			completed++
			if onDone != nil {
				onDone(completed, len(scenes))
			}
			mu.Unlock()
			return nil
		})
	}

	// workers never return an error; failures are data in results
	_ = g.Wait()
	return results
}

// runScene performs the attempt loop for one scene. Panics become a
// failure result so sibling work items keep running.
func (r *ImageRunner) runScene(ctx context.Context, apiKey, model string, scene *Scene, maxAttempts int) (out ImageAttemptResult) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("image worker panic", logger.Scene(scene.ID), "panic", rec)
			out = ImageAttemptResult{
				Error:    fmt.Sprintf("image generation panic: %v", rec),
				Attempts: max(out.Attempts, 1),
			}
		}
	}()

	if maxAttempts < 1 {
		maxAttempts = 1
	}

	lastErr := "image generation failed"
	for attempt := 0; attempt < maxAttempts; attempt++ {
		out.Attempts = attempt + 1
		if r.metrics != nil {
			r.metrics.ImageAttemptsTotal.Inc()
		}

		mutated := MutatePrompt(scene.ImagePrompt, attempt)
		res, err := r.client.GenerateImage(ctx, apiKey, model, mutated, scene.NegativePrompt)
		switch {
		case err != nil:
			lastErr = err.Error()
		case res.Success && res.ImageData != "":
			out.Success = true
			out.ImageData = res.ImageData
			r.log.Debug("image generated", logger.Scene(scene.ID), "attempt", attempt+1)
			return out
		case res.Error != "":
			lastErr = res.Error
		default:
			lastErr = "provider returned no image"
		}
		r.log.Warn("image attempt failed", logger.Scene(scene.ID), "attempt", attempt+1, "reason", lastErr)
	}

	out.Error = lastErr
	return out
}
