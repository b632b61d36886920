package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/animemaker/server/internal/module/generation"
	"github.com/animemaker/server/internal/module/provider"
	"github.com/animemaker/server/internal/module/prompt"
	"github.com/animemaker/server/internal/shared/logger"
)

type stubClient struct {
	mu        sync.Mutex
	textModel string
}

var stubImage = "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("png"))

func (s *stubClient) GenerateText(ctx context.Context, apiKey, model, p string) (string, error) {
	s.mu.Lock()
	s.textModel = model
	s.mu.Unlock()
	return `{
		"characters": {"Yuki": {"name": "Yuki", "appearance": "silver hair", "outfit": "uniform", "personality": "calm", "color_palette": ["silver", "blue", "white"]}},
		"script": "Yuki faces the storm.",
		"scenes": [{"id": "scene_1", "description": "a rooftop", "characters_present": ["Yuki"], "setting": "rooftop", "mood": "tense", "visual_elements": ["sunset"], "image_prompt": "anime rooftop"}]
	}`, nil
}

func (s *stubClient) GenerateImage(ctx context.Context, apiKey, model, p, negative string) (*provider.ImageResult, error) {
	return &provider.ImageResult{Success: true, ImageData: stubImage}, nil
}

func (s *stubClient) AnalyzeImage(ctx context.Context, apiKey, model, p, imageData string) (string, error) {
	return `{"passed": true, "character_consistency_score": 0.9, "scene_accuracy_score": 0.9, "quality_score": 0.9, "issues": [], "suggestions": "none"}`, nil
}

type nullStore struct{}

func (nullStore) SaveImage(ctx context.Context, name, data string) (string, error) {
	return "/generated/" + name, nil
}

func (nullStore) SaveSnapshot(ctx context.Context, name string, v any) (string, error) {
	return "/generated/" + name, nil
}

func (nullStore) DeleteByPrefix(ctx context.Context, prefix string) error { return nil }

type recordingHistory struct {
	mu     sync.Mutex
	titles []string
}

func (r *recordingHistory) Save(ctx context.Context, title, thumbnail string, input, result any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.titles = append(r.titles, title)
	return nil
}

func newTestHandler(t *testing.T, fallbackKey string) (*Handler, *stubClient, *recordingHistory) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	client := &stubClient{}
	history := &recordingHistory{}
	orch := generation.NewOrchestrator(client, nullStore{}, prompt.NewDescriptionCache(10, time.Minute), generation.Config{
		ImageConcurrency:  3,
		VerifyItemTimeout: time.Second,
		VerifyTimeout:     5 * time.Second,
		CostPerScene:      0.07,
		DefaultSelection: provider.Selection{
			TextModel:         "default-text",
			ImageModel:        "default-image",
			VerificationModel: "default-vision",
		},
	}, logger.Nop(), nil)

	h := New(orch, history, Config{FallbackAPIKey: fallbackKey}, logger.Nop())
	return h, client, history
}

func newRouter(h *Handler) *gin.Engine {
	r := gin.New()
	api := r.Group("/api")
	h.Register(api)
	return r
}

func parseFrames(t *testing.T, body string) []generation.ProgressEvent {
	t.Helper()
	var events []generation.ProgressEvent
	for _, line := range strings.Split(body, "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev generation.ProgressEvent
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		events = append(events, ev)
	}
	return events
}

const generateBody = `{
	"outline": "A rooftop duel",
	"characters": [{"name": "Yuki", "traits": "determined"}],
	"style": "shounen",
	"scene_count": 1,
	"quality_preset": "draft"
}`

func TestGenerateRequiresAPIKey(t *testing.T) {
	h, _, _ := newTestHandler(t, "")
	r := newRouter(h)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/generate", strings.NewReader(generateBody))
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	var resp struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "API_KEY_REQUIRED", resp.Code)
}

func TestGenerateFallsBackToConfiguredKey(t *testing.T) {
	h, _, _ := newTestHandler(t, "env-key")
	r := newRouter(h)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/generate", strings.NewReader(generateBody))
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/event-stream")
}

func TestGenerateStreamsProgressFrames(t *testing.T) {
	h, _, history := newTestHandler(t, "")
	r := newRouter(h)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/generate", strings.NewReader(generateBody))
	req.Header.Set(HeaderAPIKey, "user-key")
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	events := parseFrames(t, w.Body.String())
	require.NotEmpty(t, events)

	assert.Equal(t, generation.StageStory, events[0].Stage)
	terminal := events[len(events)-1]
	assert.Equal(t, generation.StageComplete, terminal.Stage)
	assert.Equal(t, 100, terminal.Progress)
	require.NotNil(t, terminal.Data)
	require.Len(t, terminal.Data.Scenes, 1)
	assert.NotEmpty(t, terminal.Data.Scenes[0].ImageURL)

	history.mu.Lock()
	defer history.mu.Unlock()
	require.Len(t, history.titles, 1)
	assert.Equal(t, "A rooftop duel", history.titles[0])
}

func TestHistoryTitleTruncatesOnRuneBoundary(t *testing.T) {
	h, _, history := newTestHandler(t, "")
	r := newRouter(h)

	outline := strings.Repeat("雨", 100)
	body := `{
		"outline": "` + outline + `",
		"characters": [{"name": "Yuki", "traits": "determined"}],
		"style": "shounen",
		"scene_count": 1,
		"quality_preset": "draft"
	}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/generate", strings.NewReader(body))
	req.Header.Set(HeaderAPIKey, "user-key")
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	history.mu.Lock()
	defer history.mu.Unlock()
	require.Len(t, history.titles, 1)
	title := history.titles[0]
	assert.True(t, utf8.ValidString(title))
	assert.Equal(t, strings.Repeat("雨", 80), title)
}

func TestGenerateRejectsInvalidBody(t *testing.T) {
	h, _, _ := newTestHandler(t, "")
	r := newRouter(h)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/generate", strings.NewReader(`{"outline": ""}`))
	req.Header.Set(HeaderAPIKey, "user-key")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestModelSelectionHeader(t *testing.T) {
	h, client, _ := newTestHandler(t, "")
	r := newRouter(h)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/generate", strings.NewReader(generateBody))
	req.Header.Set(HeaderAPIKey, "user-key")
	req.Header.Set(HeaderModelSelection, `{"textModel": "custom-text"}`)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	client.mu.Lock()
	defer client.mu.Unlock()
	assert.Equal(t, "custom-text", client.textModel)
}

func TestMalformedModelSelectionFallsBackToDefaults(t *testing.T) {
	h, client, _ := newTestHandler(t, "")
	r := newRouter(h)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/generate", strings.NewReader(generateBody))
	req.Header.Set(HeaderAPIKey, "user-key")
	req.Header.Set(HeaderModelSelection, `{not json`)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	client.mu.Lock()
	defer client.mu.Unlock()
	assert.Equal(t, "default-text", client.textModel)
}

func TestRegenerateStreamsReducedSequence(t *testing.T) {
	h, _, _ := newTestHandler(t, "")
	r := newRouter(h)

	body := `{
		"scene": {"id": "scene_1", "description": "a rooftop", "setting": "rooftop", "image_prompt": "anime rooftop"},
		"modifications": "make it rain",
		"quality_preset": "draft"
	}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/regenerate", strings.NewReader(body))
	req.Header.Set(HeaderAPIKey, "user-key")
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	events := parseFrames(t, w.Body.String())
	require.NotEmpty(t, events)
	assert.Equal(t, generation.StageRegenerating, events[0].Stage)
	assert.Equal(t, generation.StageComplete, events[len(events)-1].Stage)
}

func TestRegenerateValidatesScene(t *testing.T) {
	h, _, _ := newTestHandler(t, "")
	r := newRouter(h)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/regenerate", strings.NewReader(`{"scene": {"id": "scene_1"}}`))
	req.Header.Set(HeaderAPIKey, "user-key")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIdeaEndpoint(t *testing.T) {
	h, _, _ := newTestHandler(t, "")
	r := newRouter(h)

	ideaJSON := `{"outline": "Two rivals share an umbrella.", "characters": [{"name": "Aoi", "traits": "stoic"}], "style": "shoujo", "scenes": 4}`
	h.orch = replaceIdeaClient(t, ideaJSON)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/idea", strings.NewReader(`{"genre": "romance"}`))
	req.Header.Set(HeaderAPIKey, "user-key")
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var idea generation.StoryIdea
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &idea))
	assert.Equal(t, 4, idea.Scenes)
}

func TestPresetsEndpoint(t *testing.T) {
	h, _, _ := newTestHandler(t, "")
	r := newRouter(h)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/presets", nil)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Presets []generation.Preset `json:"presets"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Presets, 3)
	assert.Equal(t, "draft", resp.Presets[0].ID)
}

type ideaClient struct {
	stubClient
	ideaJSON string
}

func (c *ideaClient) GenerateText(ctx context.Context, apiKey, model, p string) (string, error) {
	return c.ideaJSON, nil
}

func replaceIdeaClient(t *testing.T, ideaJSON string) *generation.Orchestrator {
	t.Helper()
	return generation.NewOrchestrator(&ideaClient{ideaJSON: ideaJSON}, nullStore{}, prompt.NewDescriptionCache(10, time.Minute), generation.Config{
		DefaultSelection: provider.Selection{TextModel: "default-text"},
	}, logger.Nop(), nil)
}
