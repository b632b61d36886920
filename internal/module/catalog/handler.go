package catalog

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/animemaker/server/internal/shared/response"
)

// Handler exposes the model catalog.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Register(r gin.IRouter) {
	r.GET("/models", h.List)
}

// List answers GET /models?category=image&search=flash.
func (h *Handler) List(c *gin.Context) {
	models, err := h.svc.List(c.Request.Context(), Query{
		Category: c.Query("category"),
		Search:   c.Query("search"),
	})
	if err != nil {
		response.FromError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"models": models, "count": len(models)})
}
