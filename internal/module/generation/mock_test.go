package generation

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"

	"github.com/animemaker/server/internal/module/provider"
)

var pngData = "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("png"))

// fakeClient implements ModelClient with pluggable behavior per call kind.
type fakeClient struct {
	textFn    func(ctx context.Context, apiKey, model, prompt string) (string, error)
	imageFn   func(ctx context.Context, apiKey, model, prompt, negative string) (*provider.ImageResult, error)
	analyzeFn func(ctx context.Context, apiKey, model, prompt, imageData string) (string, error)
}

func (f *fakeClient) GenerateText(ctx context.Context, apiKey, model, prompt string) (string, error) {
	if f.textFn == nil {
		return "", fmt.Errorf("unexpected GenerateText call")
	}
	return f.textFn(ctx, apiKey, model, prompt)
}

func (f *fakeClient) GenerateImage(ctx context.Context, apiKey, model, prompt, negative string) (*provider.ImageResult, error) {
	if f.imageFn == nil {
		return &provider.ImageResult{Success: true, ImageData: pngData}, nil
	}
	return f.imageFn(ctx, apiKey, model, prompt, negative)
}

func (f *fakeClient) AnalyzeImage(ctx context.Context, apiKey, model, prompt, imageData string) (string, error) {
	if f.analyzeFn == nil {
		return "", fmt.Errorf("unexpected AnalyzeImage call")
	}
	return f.analyzeFn(ctx, apiKey, model, prompt, imageData)
}

// fakeStore records writes in memory.
type fakeStore struct {
	mu         sync.Mutex
	images     map[string]string
	snapshots  []string
	deleted    []string
	failImages bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{images: make(map[string]string)}
}

func (s *fakeStore) SaveImage(ctx context.Context, name, data string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failImages {
		return "", fmt.Errorf("disk full")
	}
	s.images[name] = data
	return "/generated/" + name, nil
}

func (s *fakeStore) SaveSnapshot(ctx context.Context, name string, v any) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, name)
	return "/generated/" + name, nil
}

func (s *fakeStore) DeleteByPrefix(ctx context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, prefix)
	return nil
}

func (s *fakeStore) snapshotNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.snapshots...)
}

func makeScenes(n int) []Scene {
	scenes := make([]Scene, n)
	for i := range scenes {
		scenes[i] = Scene{
			ID:          fmt.Sprintf("scene_%d", i+1),
			Description: fmt.Sprintf("scene %d", i+1),
			Setting:     "rooftop",
			Mood:        "tense",
			ImagePrompt: fmt.Sprintf("anime scene %d", i+1),
		}
	}
	return scenes
}

func storyJSON(sceneCount int) string {
	var scenes []string
	for i := 1; i <= sceneCount; i++ {
		scenes = append(scenes, fmt.Sprintf(`{
			"id": "scene_%d",
			"description": "scene %d",
			"characters_present": ["Yuki"],
			"setting": "rooftop",
			"mood": "tense",
			"visual_elements": ["sunset"],
			"image_prompt": "anime scene %d",
			"negative_prompt": "blurry"
		}`, i, i, i))
	}
	return fmt.Sprintf(`{
		"characters": {
			"Yuki": {
				"name": "Yuki",
				"appearance": "silver hair, blue eyes",
				"outfit": "school uniform",
				"personality": "determined",
				"visual_markers": "scar above eyebrow",
				"color_palette": ["silver", "blue", "white"]
			}
		},
		"script": "Yuki faces the storm.",
		"scenes": [%s]
	}`, strings.Join(scenes, ","))
}

func verificationJSON(c, sa, q float64) string {
	return fmt.Sprintf(`{
		"passed": true,
		"character_consistency_score": %.2f,
		"scene_accuracy_score": %.2f,
		"quality_score": %.2f,
		"issues": [],
		"suggestions": "none"
	}`, c, sa, q)
}
