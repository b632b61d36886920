package generation

import (
	"context"
	"fmt"

	"github.com/animemaker/server/internal/module/prompt"
	apperrors "github.com/animemaker/server/internal/shared/errors"
	"github.com/animemaker/server/internal/shared/logger"
)

// StoryStep turns a request into a StoryBundle with a single text call.
// Any failure here is fatal to the run.
type StoryStep struct {
	client ModelClient
	log    *logger.Logger
}

func NewStoryStep(client ModelClient, log *logger.Logger) *StoryStep {
	return &StoryStep{client: client, log: log.Component("generation.story")}
}

func (s *StoryStep) Generate(ctx context.Context, apiKey, model string, req *GenerationRequest) (*StoryBundle, error) {
	p := prompt.CompleteStory(req.Outline, req.Characters, req.Style, req.SceneCount, req.ComicMode)

	text, err := s.client.GenerateText(ctx, apiKey, model, p)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrStoryGeneration, err)
	}

	var bundle StoryBundle
	if err := ExtractJSON(text, &bundle); err != nil {
		s.log.Warn("story response not parseable", logger.Err(err))
		return nil, fmt.Errorf("%w: %v", apperrors.ErrStoryGeneration, err)
	}

	if err := validateBundle(&bundle); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrStoryGeneration, err)
	}

	normalizeScenes(bundle.Scenes)
	s.log.Info("story generated", "scenes", len(bundle.Scenes), "characters", len(bundle.Characters))
	return &bundle, nil
}

func validateBundle(b *StoryBundle) error {
	switch {
	case len(b.Characters) == 0:
		return fmt.Errorf("response missing characters")
	case b.Script == "":
		return fmt.Errorf("response missing script")
	case len(b.Scenes) == 0:
		return fmt.Errorf("response missing scenes")
	}
	for i, sc := range b.Scenes {
		if sc.ImagePrompt == "" {
			return fmt.Errorf("scene %d missing image prompt", i+1)
		}
	}
	return nil
}

// normalizeScenes assigns stable sequential IDs where the model left
// them out. IDs are the correlation key for every later phase.
func normalizeScenes(scenes []Scene) {
	for i := range scenes {
		if scenes[i].ID == "" {
			scenes[i].ID = fmt.Sprintf("scene_%d", i+1)
		}
	}
}
