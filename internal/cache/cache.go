package cache

import (
	"context"
	"time"
)

// Cache stores JSON-encodable values for short-lived read models such as the
// incomplete-batch list and stock alerts.
type Cache interface {
	GetJSON(ctx context.Context, key string, dest any) (bool, error)
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

type Noop struct{}

func (Noop) GetJSON(_ context.Context, _ string, _ any) (bool, error) {
	return false, nil
}

func (Noop) SetJSON(_ context.Context, _ string, _ any, _ time.Duration) error {
	return nil
}

func (Noop) Delete(_ context.Context, _ ...string) error {
	return nil
}
