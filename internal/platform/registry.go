package platform

import (
	"fmt"
	"sort"
	"sync"

	"github.com/villa-sync/backend/internal/credential"
	"github.com/villa-sync/backend/internal/storage/models"
)

// Factory builds an adapter from decrypted credentials.
type Factory func(creds credential.Credentials) (Adapter, error)

// Registry maps platforms to adapter factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[models.Platform]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[models.Platform]Factory)}
}

// NewDefaultRegistry registers every supported platform. The four
// marketplaces run against store; "other" is the HTTP channel-manager client.
func NewDefaultRegistry(store *MockStore) *Registry {
	r := NewRegistry()
	for _, s := range marketplaceSchemas {
		r.Register(s.platform, mockFactory(s, store))
	}
	r.Register(models.PlatformOther, NewChannelManagerAdapter)
	return r
}

// Register sets the factory for a platform, replacing any previous one.
func (r *Registry) Register(p models.Platform, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[p] = f
}

// New builds the adapter for p.
func (r *Registry) New(p models.Platform, creds credential.Credentials) (Adapter, error) {
	r.mu.RLock()
	f, ok := r.factories[p]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPlatform, p)
	}
	return f(creds)
}

// Supports reports whether p has a registered adapter.
func (r *Registry) Supports(p models.Platform) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[p]
	return ok
}

// Platforms lists the registered platforms, sorted.
func (r *Registry) Platforms() []models.Platform {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Platform, 0, len(r.factories))
	for p := range r.factories {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// RequireCredentials checks that every named field is set.
func RequireCredentials(creds credential.Credentials, names ...string) error {
	var missing []string
	for _, name := range names {
		if creds.Get(name) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %v", ErrMissingCredential, missing)
	}
	return nil
}
