package history

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/animemaker/server/internal/shared/response"
)

// Handler exposes the history records.
type Handler struct {
	repo Repository
}

func NewHandler(repo Repository) *Handler {
	return &Handler{repo: repo}
}

func (h *Handler) Register(r gin.IRouter) {
	r.GET("/history", h.List)
	r.GET("/history/:id", h.Get)
	r.DELETE("/history/:id", h.Delete)
}

func (h *Handler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	records, err := h.repo.List(c.Request.Context(), limit)
	if err != nil {
		response.FromError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": records, "count": len(records)})
}

func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid history id")
		return
	}

	rec, err := h.repo.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			response.NotFound(c, "history record not found")
			return
		}
		response.FromError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *Handler) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid history id")
		return
	}

	if err := h.repo.Delete(c.Request.Context(), id); err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			response.NotFound(c, "history record not found")
			return
		}
		response.FromError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}
