package social

import (
	"context"
	"fmt"
	"sync"

	"github.com/content-engine/internal/models"
)

// Share is what gets posted to one account
type Share struct {
	Post  *models.Post
	Video *models.VideoGeneration // nil for text shares
	// Link points readers back at the full post
	Link string
}

// Publisher posts shares to one platform
type Publisher interface {
	Platform() models.Platform
	Publish(ctx context.Context, account *models.SocialMediaAccount, share Share) (string, error)
}

// Registry maps platforms to publishers
type Registry struct {
	mu         sync.RWMutex
	publishers map[models.Platform]Publisher
}

// NewRegistry creates a registry with the given publishers
func NewRegistry(publishers ...Publisher) *Registry {
	r := &Registry{publishers: make(map[models.Platform]Publisher)}
	for _, p := range publishers {
		r.Register(p)
	}
	return r
}

// Register adds or replaces the publisher for its platform
func (r *Registry) Register(p Publisher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.publishers[p.Platform()] = p
}

// Get returns the publisher for a platform
func (r *Registry) Get(platform models.Platform) (Publisher, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.publishers[platform]
	if !ok {
		return nil, fmt.Errorf("no publisher for platform %q", platform)
	}
	return p, nil
}

// Platforms lists the registered platforms
func (r *Registry) Platforms() []models.Platform {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.Platform, 0, len(r.publishers))
	for p := range r.publishers {
		out = append(out, p)
	}
	return out
}
