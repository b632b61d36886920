// Package handler exposes the generation pipeline over HTTP, streaming
// progress as server-sent events.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/animemaker/server/internal/module/generation"
	"github.com/animemaker/server/internal/module/provider"
	apperrors "github.com/animemaker/server/internal/shared/errors"
	"github.com/animemaker/server/internal/shared/logger"
	"github.com/animemaker/server/internal/shared/response"
)

// Request headers. The API key never travels in the body.
const (
	HeaderAPIKey         = "X-Api-Key"
	HeaderModelSelection = "X-Model-Selection"
)

// HistorySaver records finished runs. Optional; a nil saver disables
// history.
type HistorySaver interface {
	Save(ctx context.Context, title, thumbnail string, input, result any) error
}

// Config carries the handler's own knobs.
type Config struct {
	// FallbackAPIKey is used when the client sends no X-Api-Key header.
	FallbackAPIKey string
}

type Handler struct {
	orch    *generation.Orchestrator
	history HistorySaver
	cfg     Config
	log     *logger.Logger
}

func New(orch *generation.Orchestrator, history HistorySaver, cfg Config, log *logger.Logger) *Handler {
	return &Handler{orch: orch, history: history, cfg: cfg, log: log.Component("generation.handler")}
}

// Register mounts the generation routes.
func (h *Handler) Register(r gin.IRouter) {
	r.POST("/generate", h.Generate)
	r.POST("/regenerate", h.Regenerate)
	r.POST("/idea", h.Idea)
	r.GET("/presets", h.Presets)
}

// Generate runs the full pipeline and streams ProgressEvent frames.
func (h *Handler) Generate(c *gin.Context) {
	apiKey, ok := h.apiKey(c)
	if !ok {
		return
	}

	var req generation.GenerationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid generation request: "+err.Error())
		return
	}

	in := generation.RunInput{
		Request:   req,
		Selection: h.modelSelection(c),
		Preset:    generation.GetPreset(req.QualityPreset),
		APIKey:    apiKey,
	}

	emitter := generation.NewEmitter(64)
	go h.orch.Run(c.Request.Context(), in, emitter)
	h.stream(c, emitter, func(ev generation.ProgressEvent) {
		if ev.Stage == generation.StageComplete && ev.Data != nil {
			h.saveHistory(c.Request.Context(), &req, ev.Data)
		}
	})
}

// Regenerate re-runs a single scene and streams the reduced sequence.
func (h *Handler) Regenerate(c *gin.Context) {
	apiKey, ok := h.apiKey(c)
	if !ok {
		return
	}

	var req generation.RegenerateInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid regenerate request: "+err.Error())
		return
	}
	if req.Scene.ID == "" || req.Scene.ImagePrompt == "" {
		response.BadRequest(c, "scene id and image_prompt are required")
		return
	}

	run := generation.RunInput{Selection: h.modelSelection(c), APIKey: apiKey}
	emitter := generation.NewEmitter(16)
	go h.orch.Regenerate(c.Request.Context(), req, run, emitter)
	h.stream(c, emitter, nil)
}

// Idea returns a generated story premise as plain JSON.
func (h *Handler) Idea(c *gin.Context) {
	apiKey, ok := h.apiKey(c)
	if !ok {
		return
	}

	var req generation.IdeaRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		response.BadRequest(c, "invalid idea request: "+err.Error())
		return
	}

	idea, err := h.orch.GenerateIdea(c.Request.Context(), apiKey, h.modelSelection(c), req)
	if err != nil {
		response.FromError(c, err)
		return
	}
	c.JSON(http.StatusOK, idea)
}

// Presets lists the selectable quality presets.
func (h *Handler) Presets(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"presets": generation.Presets()})
}

// apiKey resolves the caller's key, ending the request with a stable
// API_KEY_REQUIRED error before any remote work when none is available.
func (h *Handler) apiKey(c *gin.Context) (string, bool) {
	key := c.GetHeader(HeaderAPIKey)
	if key == "" {
		key = h.cfg.FallbackAPIKey
	}
	if key == "" {
		response.FromError(c, apperrors.APIKeyRequired())
		return "", false
	}
	return key, true
}

// modelSelection parses the optional selection header. Malformed input
// falls back to the configured defaults.
func (h *Handler) modelSelection(c *gin.Context) provider.Selection {
	raw := c.GetHeader(HeaderModelSelection)
	if raw == "" {
		return provider.Selection{}
	}
	var sel provider.Selection
	if err := json.Unmarshal([]byte(raw), &sel); err != nil {
		h.log.Warn("malformed model selection header, using defaults", logger.Err(err))
		return provider.Selection{}
	}
	return sel
}

// stream drains the emitter writing one SSE frame per event. The channel
// is always drained to completion so the producer never blocks, even
// after the client goes away.
func (h *Handler) stream(c *gin.Context, emitter *generation.Emitter, onEvent func(generation.ProgressEvent)) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	clientGone := false
	for ev := range emitter.Events() {
		if onEvent != nil {
			onEvent(ev)
		}
		if clientGone {
			continue
		}

		data, err := json.Marshal(ev)
		if err != nil {
			h.log.Error("progress event not marshalable", logger.Err(err))
			continue
		}
		fmt.Fprintf(c.Writer, "data: %s\n\n", data)
		c.Writer.Flush()

		select {
		case <-c.Request.Context().Done():
			clientGone = true
		default:
		}
	}
}

func (h *Handler) saveHistory(ctx context.Context, req *generation.GenerationRequest, snap *generation.Snapshot) {
	if h.history == nil {
		return
	}

	title := req.Outline
	if runes := []rune(title); len(runes) > 80 {
		title = string(runes[:80])
	}
	thumbnail := ""
	for _, s := range snap.Scenes {
		if s.ImageURL != "" {
			thumbnail = s.ImageURL
			break
		}
	}

	if err := h.history.Save(ctx, title, thumbnail, req, snap); err != nil {
		h.log.Warn("history record not saved", logger.Err(err))
	}
}
