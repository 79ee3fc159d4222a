package remote

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/Nephrolytics-ai/polyglot-stt/pkg/logging"
	"github.com/Nephrolytics-ai/polyglot-stt/pkg/utils"
)

// ModelCache remembers, per requested model id, the alternate that the provider accepted.
// Each engine owns one for its lifetime.
type ModelCache struct {
	mu     sync.RWMutex
	models map[string]string
}

func NewModelCache() *ModelCache {
	return &ModelCache{models: make(map[string]string)}
}

func (c *ModelCache) Lookup(requested string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	working, ok := c.models[requested]
	return working, ok
}

func (c *ModelCache) Remember(requested string, working string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.models[requested] = working
}

// Candidates returns the ordered model ids to try for requested.
func (c *ModelCache) Candidates(requested string, fallbacks []string) []string {
	out := make([]string, 0, len(fallbacks)+2)
	seen := map[string]bool{}
	add := func(id string) {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			return
		}
		seen[id] = true
		out = append(out, id)
	}

	if working, ok := c.Lookup(requested); ok {
		add(working)
	}
	add(requested)
	for _, id := range fallbacks {
		add(id)
	}
	return out
}

// WithModelFallback calls attempt with the requested model and, while the provider
// rejects the model id, with each fallback in order. It returns the model that worked.
func WithModelFallback[T any](
	ctx context.Context,
	cache *ModelCache,
	requested string,
	fallbacks []string,
	attempt func(ctx context.Context, modelID string) (T, error),
) (T, string, error) {
	log := logging.NewComponentLogger(ctx, "engine.remote")

	var zero T
	candidates := cache.Candidates(requested, fallbacks)
	if len(candidates) == 0 {
		return zero, requested, utils.WrapIfNotNil(errors.New("no model id configured"))
	}

	var lastErr error
	for _, candidate := range candidates {
		value, err := attempt(ctx, candidate)
		if err == nil {
			if candidate != requested {
				cache.Remember(requested, candidate)
				log.Infof("model_fallback requested=%q working=%q", requested, candidate)
			}
			return value, candidate, nil
		}
		if !IsModelRejected(err) {
			return zero, candidate, err
		}
		log.Warnf("model_rejected model=%q error=%v", candidate, err)
		lastErr = err
	}

	return zero, requested, utils.WrapIfNotNil(lastErr)
}
