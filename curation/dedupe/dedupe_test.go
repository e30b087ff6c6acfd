package dedupe

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMemGuardSingleSlot(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	g := NewMemGuard(10, time.Minute)

	dup, err := g.Check(ctx, 1, "a")
	assert.NoError(err)
	assert.False(dup)

	dup, err = g.Check(ctx, 1, "a")
	assert.NoError(err)
	assert.True(dup)

	// a new key takes over the user's slot
	dup, err = g.Check(ctx, 1, "b")
	assert.NoError(err)
	assert.False(dup)

	// the old key is no longer remembered
	dup, err = g.Check(ctx, 1, "a")
	assert.NoError(err)
	assert.False(dup)
}

func TestMemGuardPerUser(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	g := NewMemGuard(10, time.Minute)

	dup, err := g.Check(ctx, 1, "a")
	assert.NoError(err)
	assert.False(dup)

	dup, err = g.Check(ctx, 2, "a")
	assert.NoError(err)
	assert.False(dup)
}
