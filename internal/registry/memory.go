package registry

import (
	"context"
	"sync"

	"github.com/patrickmn/go-cache"

	"webchat-push-bot/internal/model"
)

// memoryRegistry keeps subscriptions for the lifetime of the process.
type memoryRegistry struct {
	items *cache.Cache
	// writeMu makes Forget's compare-and-delete atomic with respect to Upsert.
	writeMu sync.Mutex
}

// NewMemory creates an in-process registry. Entries never expire.
func NewMemory() Registry {
	return &memoryRegistry{items: cache.New(cache.NoExpiration, 0)}
}

func (r *memoryRegistry) Upsert(_ context.Context, userID string, sub model.Subscription) error {
	sub.UserID = userID
	r.writeMu.Lock()
	r.items.Set(userID, sub, cache.NoExpiration)
	r.writeMu.Unlock()
	return nil
}

func (r *memoryRegistry) Lookup(_ context.Context, userID string) (model.Subscription, bool, error) {
	v, ok := r.items.Get(userID)
	if !ok {
		return model.Subscription{}, false, nil
	}
	return v.(model.Subscription), true, nil
}

func (r *memoryRegistry) Forget(_ context.Context, userID, endpoint string) (bool, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	v, ok := r.items.Get(userID)
	if !ok || v.(model.Subscription).Endpoint != endpoint {
		return false, nil
	}
	r.items.Delete(userID)
	return true, nil
}

func (r *memoryRegistry) Close() error { return nil }
