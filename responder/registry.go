package responder

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/parley/types"
)

// Registry holds the responders known to the scheduler, keyed by id.
// Safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	responders map[string]Responder
	logger     *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		responders: make(map[string]Responder),
		logger:     logger,
	}
}

// Register adds or replaces a responder.
func (r *Registry) Register(resp Responder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responders[resp.ID()] = resp
	r.logger.Info("responder registered", zap.String("responder_id", resp.ID()))
}

// Unregister removes a responder by id.
func (r *Registry) Unregister(responderID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.responders, responderID)
	r.logger.Info("responder unregistered", zap.String("responder_id", responderID))
}

// Get returns the responder for an id.
func (r *Registry) Get(responderID string) (Responder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	resp, ok := r.responders[responderID]
	if !ok {
		return nil, types.NewError(types.ErrResponder, "responder not registered").WithResponder(responderID)
	}
	return resp, nil
}

// IDs returns all registered responder ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.responders))
	for id := range r.responders {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// HealthyIDs returns the ids of responders whose health check passes.
func (r *Registry) HealthyIDs(ctx context.Context) []string {
	r.mu.RLock()
	snapshot := make([]Responder, 0, len(r.responders))
	for _, resp := range r.responders {
		snapshot = append(snapshot, resp)
	}
	r.mu.RUnlock()

	healthy := make([]string, 0, len(snapshot))
	for _, resp := range snapshot {
		if resp.HealthCheck(ctx) {
			healthy = append(healthy, resp.ID())
		}
	}
	sort.Strings(healthy)
	return healthy
}
