// Package catalog serves the provider's model list with an in-process
// TTL cache and category filtering.
package catalog

import (
	"context"
	"sort"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/animemaker/server/internal/module/provider"
	"github.com/animemaker/server/internal/shared/logger"
)

const (
	cacheKey   = "models"
	maxResults = 200
)

// Lister fetches the raw model catalog. *provider.Client satisfies it.
type Lister interface {
	ListModels(ctx context.Context) ([]provider.Model, error)
}

// Preferred model ids surface at the top of their category.
var preferred = []string{
	"x-ai/grok-4-fast:free",
	"google/gemini-2.5-flash-image-preview",
	"google/gemini-2.0-flash-001",
	"anthropic/claude-sonnet-4",
	"openai/gpt-4o",
}

// Service caches and filters the provider model catalog.
type Service struct {
	lister Lister
	cache  *gocache.Cache
	log    *logger.Logger
}

func NewService(lister Lister, ttl time.Duration, log *logger.Logger) *Service {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Service{
		lister: lister,
		cache:  gocache.New(ttl, ttl),
		log:    log.Component("catalog"),
	}
}

// Query narrows the returned catalog.
type Query struct {
	Category string // text, image or vision
	Search   string
}

// List returns the filtered catalog, fetching from the provider when the
// cache is cold. Results are preference-sorted and capped.
func (s *Service) List(ctx context.Context, q Query) ([]provider.Model, error) {
	models, err := s.all(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]provider.Model, 0, len(models))
	search := strings.ToLower(q.Search)
	for _, m := range models {
		if q.Category != "" && Category(m) != q.Category {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(m.ID), search) &&
			!strings.Contains(strings.ToLower(m.Name), search) {
			continue
		}
		out = append(out, m)
	}

	sortByPreference(out)
	if len(out) > maxResults {
		out = out[:maxResults]
	}
	return out, nil
}

// Reset drops the cached catalog. Used by tests and the admin surface.
func (s *Service) Reset() {
	s.cache.Flush()
}

func (s *Service) all(ctx context.Context) ([]provider.Model, error) {
	if cached, ok := s.cache.Get(cacheKey); ok {
		return cached.([]provider.Model), nil
	}

	models, err := s.lister.ListModels(ctx)
	if err != nil {
		return nil, err
	}
	s.cache.SetDefault(cacheKey, models)
	s.log.Debug("model catalog refreshed", "models", len(models))
	return models, nil
}

// Category classifies a model from its architecture modality, falling
// back to id heuristics when the provider omits it.
func Category(m provider.Model) string {
	modality := ""
	if m.Architecture != nil {
		modality = strings.ToLower(m.Architecture.Modality)
	}

	switch {
	case strings.Contains(modality, "->text+image"), strings.Contains(modality, "->image"):
		return "image"
	case strings.Contains(modality, "image") && strings.Contains(modality, "->text"):
		return "vision"
	case modality != "":
		return "text"
	case strings.Contains(m.ID, "image"), strings.Contains(m.ID, "dall-e"), strings.Contains(m.ID, "flux"):
		return "image"
	case strings.Contains(m.ID, "vision"):
		return "vision"
	default:
		return "text"
	}
}

func sortByPreference(models []provider.Model) {
	rank := func(id string) int {
		for i, p := range preferred {
			if p == id {
				return i
			}
		}
		return len(preferred)
	}
	sort.SliceStable(models, func(i, j int) bool {
		ri, rj := rank(models[i].ID), rank(models[j].ID)
		if ri != rj {
			return ri < rj
		}
		return models[i].ID < models[j].ID
	})
}
