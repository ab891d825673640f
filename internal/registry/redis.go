package registry

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"webchat-push-bot/internal/model"
)

// forgetScript deletes the hash only while its endpoint field still matches ARGV[1].
var forgetScript = redis.NewScript(`
if redis.call("HGET", KEYS[1], "endpoint") == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// redisRegistry stores one hash per user under prefix+userID.
type redisRegistry struct {
	client *redis.Client
	prefix string
}

// NewRedis creates a registry backed by client. Keys are namespaced with prefix.
func NewRedis(client *redis.Client, prefix string) Registry {
	return &redisRegistry{client: client, prefix: prefix}
}

func (r *redisRegistry) key(userID string) string {
	return r.prefix + userID
}

// Upsert replaces the whole hash in one transaction so readers never see a mixed record.
func (r *redisRegistry) Upsert(ctx context.Context, userID string, sub model.Subscription) error {
	key := r.key(userID)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key,
			"endpoint", sub.Endpoint,
			"p256dh", sub.P256DH,
			"auth", sub.Auth,
		)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to upsert subscription for user %s: %w", userID, err)
	}
	return nil
}

func (r *redisRegistry) Lookup(ctx context.Context, userID string) (model.Subscription, bool, error) {
	fields, err := r.client.HGetAll(ctx, r.key(userID)).Result()
	if err != nil {
		return model.Subscription{}, false, fmt.Errorf("failed to look up subscription for user %s: %w", userID, err)
	}
	if len(fields) == 0 {
		return model.Subscription{}, false, nil
	}
	return model.Subscription{
		UserID:   userID,
		Endpoint: fields["endpoint"],
		P256DH:   fields["p256dh"],
		Auth:     fields["auth"],
	}, true, nil
}

func (r *redisRegistry) Forget(ctx context.Context, userID, endpoint string) (bool, error) {
	n, err := forgetScript.Run(ctx, r.client, []string{r.key(userID)}, endpoint).Int()
	if err != nil {
		return false, fmt.Errorf("failed to delete subscription for user %s: %w", userID, err)
	}
	return n > 0, nil
}

func (r *redisRegistry) Close() error {
	return r.client.Close()
}
