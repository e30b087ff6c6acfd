package dedupe

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

type MemGuard struct {
	data *expirable.LRU[int64, string]
}

var _ Guard = (*MemGuard)(nil)

func NewMemGuard(capacity int, ttl time.Duration) *MemGuard {
	return &MemGuard{
		data: expirable.NewLRU[int64, string](capacity, nil, ttl),
	}
}

func (g *MemGuard) Check(ctx context.Context, userID int64, key string) (bool, error) {
	if last, ok := g.data.Get(userID); ok && last == key {
		return true, nil
	}
	g.data.Add(userID, key)
	return false, nil
}
