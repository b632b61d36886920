package generation

import (
	"context"
	"time"

	"github.com/animemaker/server/internal/module/prompt"
	"github.com/animemaker/server/internal/shared/logger"
	"github.com/animemaker/server/internal/shared/metrics"
)

// Verifier runs the advisory image checks. Every scene with an image is
// verified concurrently; each call races a per-item timeout and the whole
// batch races a global timeout. A verification that loses either race is
// simply absent. The verifier never returns an error to its caller.
type Verifier struct {
	client       ModelClient
	log          *logger.Logger
	metrics      *metrics.Metrics
	descCache    *prompt.DescriptionCache
	itemTimeout  time.Duration
	batchTimeout time.Duration
}

func NewVerifier(client ModelClient, descCache *prompt.DescriptionCache, itemTimeout, batchTimeout time.Duration, log *logger.Logger, m *metrics.Metrics) *Verifier {
	if itemTimeout <= 0 {
		itemTimeout = 15 * time.Second
	}
	if batchTimeout <= 0 {
		batchTimeout = 30 * time.Second
	}
	return &Verifier{
		client:       client,
		log:          log.Component("generation.verify"),
		metrics:      m,
		descCache:    descCache,
		itemTimeout:  itemTimeout,
		batchTimeout: batchTimeout,
	}
}

type verdict struct {
	index  int
	result *VerificationResult
}

// Run attaches verification results in place. onDone fires once per
// settled item (verified, failed or timed out) with a running count of
// settled items out of the number eligible.
func (v *Verifier) Run(ctx context.Context, apiKey, model string, generated []GeneratedScene, scenes []Scene, characters map[string]prompt.CharacterProfile, threshold float64, onDone func(done, total int)) {
	eligible := 0
	for i := range generated {
		if generated[i].ImageURL != "" {
			eligible++
		}
	}
	if eligible == 0 {
		return
	}

	verdicts := make(chan verdict, eligible)
	for i := range generated {
		if generated[i].ImageURL == "" {
			continue
		}
		go v.verifyWithTimeout(ctx, apiKey, model, i, &generated[i], sceneByID(scenes, generated[i].SceneID), characters, threshold, verdicts)
	}

	batch := time.NewTimer(v.batchTimeout)
	defer batch.Stop()

	settled := 0
	for settled < eligible {
		select {
		case vd := <-verdicts:
			settled++
			if vd.result != nil {
				generated[vd.index].Verification = vd.result
			}
			if onDone != nil {
				onDone(settled, eligible)
			}
		case <-batch.C:
			v.log.Warn("verification batch timeout", "settled", settled, "eligible", eligible)
			return
		}
	}
}

// verifyWithTimeout races one verification call against the per-item
// timeout. The losing call keeps running in the background; its result is
// discarded through the buffered inner channel.
func (v *Verifier) verifyWithTimeout(ctx context.Context, apiKey, model string, index int, gs *GeneratedScene, scene *Scene, characters map[string]prompt.CharacterProfile, threshold float64, out chan<- verdict) {
	inner := make(chan *VerificationResult, 1)
	go func() {
		inner <- v.verifyOne(ctx, apiKey, model, gs, scene, characters, threshold)
	}()

	item := time.NewTimer(v.itemTimeout)
	defer item.Stop()

	select {
	case res := <-inner:
		out <- verdict{index: index, result: res}
	case <-item.C:
		v.log.Warn("verification item timeout", logger.Scene(gs.SceneID))
		out <- verdict{index: index, result: nil}
	}
}

func (v *Verifier) verifyOne(ctx context.Context, apiKey, model string, gs *GeneratedScene, scene *Scene, characters map[string]prompt.CharacterProfile, threshold float64) *VerificationResult {
	sc := prompt.SceneContext{Description: gs.Description, Setting: gs.Setting}
	names := []string{}
	if scene != nil {
		sc = prompt.SceneContext{
			Description:    scene.Description,
			Setting:        scene.Setting,
			Mood:           scene.Mood,
			VisualElements: scene.VisualElements,
		}
		names = scene.CharactersPresent
	}
	descriptions := prompt.CharacterDescriptions(names, characters, v.descCache)

	// The stored ImageURL may be a relative path the remote vision model
	// cannot fetch, so the raw data URL is preferred.
	payload := gs.ImageData
	if payload == "" {
		payload = gs.ImageURL
	}

	text, err := v.client.AnalyzeImage(ctx, apiKey, model, prompt.Verification(sc, descriptions), payload)
	if err != nil {
		v.record("error")
		v.log.Warn("verification call failed", logger.Scene(gs.SceneID), logger.Err(err))
		return nil
	}

	var res VerificationResult
	if err := ExtractJSON(text, &res); err != nil {
		v.record("unparseable")
		v.log.Warn("verification response not parseable", logger.Scene(gs.SceneID), logger.Err(err))
		return nil
	}

	res.Passed = res.Score() >= threshold
	if res.Passed {
		v.record("passed")
	} else {
		v.record("needs_review")
	}
	return &res
}

func (v *Verifier) record(outcome string) {
	if v.metrics != nil {
		v.metrics.VerificationsTotal.WithLabelValues(outcome).Inc()
	}
}

func sceneByID(scenes []Scene, id string) *Scene {
	for i := range scenes {
		if scenes[i].ID == id {
			return &scenes[i]
		}
	}
	return nil
}
