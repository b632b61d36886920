package generation

import (
	"context"
	"fmt"

	"github.com/animemaker/server/internal/module/prompt"
	"github.com/animemaker/server/internal/module/provider"
	apperrors "github.com/animemaker/server/internal/shared/errors"
)

// IdeaRequest selects the flavor of a generated story idea.
type IdeaRequest struct {
	Genre      string `json:"genre"`
	Tone       string `json:"tone"`
	Complexity string `json:"complexity"`
}

// StoryIdea is a ready-to-submit starting point for a generation run.
type StoryIdea struct {
	Outline    string                  `json:"outline"`
	Characters []prompt.CharacterInput `json:"characters"`
	Style      string                  `json:"style"`
	Scenes     int                     `json:"scenes"`
}

// GenerateIdea asks the text model for a story premise the caller can
// feed back into a generation request.
func (o *Orchestrator) GenerateIdea(ctx context.Context, apiKey string, sel provider.Selection, req IdeaRequest) (*StoryIdea, error) {
	if req.Genre == "" {
		req.Genre = "adventure"
	}

	models := o.resolveSelection(sel)
	text, err := o.story.client.GenerateText(ctx, apiKey, models.TextModel, prompt.StoryIdea(req.Genre, req.Tone, req.Complexity))
	if err != nil {
		return nil, apperrors.Upstream("idea generation failed", err)
	}

	var idea StoryIdea
	if err := ExtractJSON(text, &idea); err != nil {
		return nil, apperrors.Upstream("idea response not parseable", err)
	}
	if idea.Outline == "" || len(idea.Characters) == 0 {
		return nil, apperrors.Upstream("idea response incomplete", fmt.Errorf("outline or characters missing"))
	}
	if idea.Scenes < 1 || idea.Scenes > 10 {
		idea.Scenes = 5
	}
	return &idea, nil
}
