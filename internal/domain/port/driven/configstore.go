package driven

import (
	"context"
	"time"
)

// ConfigStore defines the driven port for the host's persistent key-value
// configuration store. Values are opaque strings; a TTL of zero or less means
// no expiry. Get returns ("", nil) for a missing or expired key; absence is
// not an error.
type ConfigStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
