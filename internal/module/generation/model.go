// Package generation implements the story-to-illustrated-scenes pipeline:
// one story call, bounded-concurrency image generation with retry, optional
// best-effort verification, and an ordered progress stream.
package generation

import (
	"context"
	"time"

	"github.com/animemaker/server/internal/module/prompt"
	"github.com/animemaker/server/internal/module/provider"
)

// ModelClient is the remote model provider as the pipeline consumes it.
// *provider.Client satisfies it.
type ModelClient interface {
	GenerateText(ctx context.Context, apiKey, model, prompt string) (string, error)
	GenerateImage(ctx context.Context, apiKey, model, prompt, negativePrompt string) (*provider.ImageResult, error)
	AnalyzeImage(ctx context.Context, apiKey, model, prompt, imageData string) (string, error)
}

// GenerationRequest is the caller's input. Immutable once submitted.
type GenerationRequest struct {
	Outline       string                  `json:"outline" binding:"required"`
	Characters    []prompt.CharacterInput `json:"characters" binding:"required,min=1,max=5"`
	Style         string                  `json:"style"`
	SceneCount    int                     `json:"scene_count" binding:"required,min=1,max=10"`
	ComicMode     bool                    `json:"comic_mode"`
	QualityPreset string                  `json:"quality_preset"`
}

// StoryBundle is the story step's output. Produced once per run and
// read-only afterwards; the scene count drives all downstream fan-out.
type StoryBundle struct {
	Characters map[string]prompt.CharacterProfile `json:"characters"`
	Script     string                             `json:"script"`
	Scenes     []Scene                            `json:"scenes"`
}

// Scene is one unit of the story receiving exactly one image. The ID is
// the correlation key across image generation, persistence and
// verification and stays stable through retries.
type Scene struct {
	ID                string   `json:"id"`
	Description       string   `json:"description"`
	CharactersPresent []string `json:"characters_present"`
	Setting           string   `json:"setting"`
	Mood              string   `json:"mood"`
	VisualElements    []string `json:"visual_elements"`
	Dialogue          string   `json:"dialogue,omitempty"`
	ImagePrompt       string   `json:"image_prompt"`
	NegativePrompt    string   `json:"negative_prompt,omitempty"`
}

// ImageAttemptResult is the transient per-scene outcome of the image
// phase, folded into a GeneratedScene by the assembler.
type ImageAttemptResult struct {
	Success   bool
	ImageData string
	Error     string
	Attempts  int
}

// GeneratedScene is the durable per-scene record. Once created it is only
// extended (verification attached), never replaced; array index equals
// scene order regardless of completion order.
type GeneratedScene struct {
	SceneID      string              `json:"scene_id"`
	ImageURL     string              `json:"image_url"`
	Description  string              `json:"description"`
	Dialogue     string              `json:"dialogue,omitempty"`
	Setting      string              `json:"setting"`
	Error        string              `json:"error,omitempty"`
	Attempts     int                 `json:"attempts"`
	Verification *VerificationResult `json:"verification,omitempty"`

	// ImageData is the raw data URL from the provider. Verification sends
	// it to the vision model because ImageURL may be a relative path the
	// model cannot fetch. Never serialized.
	ImageData string `json:"-"`
}

// VerificationResult is the advisory quality check for one image.
type VerificationResult struct {
	Passed                    bool     `json:"passed"`
	CharacterConsistencyScore float64  `json:"character_consistency_score"`
	SceneAccuracyScore        float64  `json:"scene_accuracy_score"`
	QualityScore              float64  `json:"quality_score"`
	Issues                    []string `json:"issues,omitempty"`
	Suggestions               string   `json:"suggestions,omitempty"`
}

// Score averages the three component scores.
func (v *VerificationResult) Score() float64 {
	return (v.CharacterConsistencyScore + v.SceneAccuracyScore + v.QualityScore) / 3
}

// SnapshotMetadata summarizes a snapshot's state.
type SnapshotMetadata struct {
	TotalScenes           int     `json:"total_scenes"`
	CompletedScenes       int     `json:"completed_scenes,omitempty"`
	PassedVerification    int     `json:"passed_verification"`
	NeedsReview           int     `json:"needs_review"`
	Timestamp             string  `json:"timestamp"`
	EstimatedCost         float64 `json:"estimated_cost"`
	ActualCost            float64 `json:"actual_cost"`
	Partial               bool    `json:"partial,omitempty"`
	VerificationPending   bool    `json:"verification_pending,omitempty"`
	VerificationCompleted bool    `json:"verification_completed"`
}

// Snapshot is the persisted representation of a run at a point in time.
// Every intermediate snapshot is independently valid; only the final one
// is authoritative.
type Snapshot struct {
	Script     string                             `json:"script"`
	Characters map[string]prompt.CharacterProfile `json:"characters"`
	Scenes     []GeneratedScene                   `json:"scenes"`
	Metadata   SnapshotMetadata                   `json:"metadata"`
}

// clone returns a copy whose scene list is independent of the original,
// safe to hand to a concurrent reader while verification keeps mutating
// the original's scenes and metadata.
func (s *Snapshot) clone() *Snapshot {
	c := *s
	c.Scenes = append([]GeneratedScene(nil), s.Scenes...)
	return &c
}

// Progress stages.
const (
	StageStory          = "story"
	StageImage          = "image"
	StageImagesComplete = "images_complete"
	StageVerification   = "verification"
	StageComplete       = "complete"
	StageError          = "error"
	StageRegenerating   = "regenerating"
)

// ProgressEvent is one unit of the ordered status stream.
type ProgressEvent struct {
	Stage        string    `json:"stage"`
	Progress     int       `json:"progress"`
	Message      string    `json:"message"`
	CurrentScene int       `json:"currentScene,omitempty"`
	TotalScenes  int       `json:"totalScenes,omitempty"`
	Data         *Snapshot `json:"data,omitempty"`
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}
