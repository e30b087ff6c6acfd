package curation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/nightcrew/gatekeep/models"
)

func TestCheckBanned(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng, _ := EngineTestFixture()

	assert.NoError(eng.CheckBanned(ctx, testUser(100)))

	// first contact creates the submitter record
	sub, err := eng.Store.GetSubmitter(ctx, 100)
	assert.NoError(err)
	assert.Equal("user100", sub.Username)

	assert.NoError(eng.Store.BanUser(ctx, &models.BannedUser{
		UserID:   100,
		Reason:   "spam",
		BannedAt: time.Now(),
		BannedBy: 1,
	}))
	assert.ErrorIs(eng.CheckBanned(ctx, testUser(100)), ErrBanned)

	assert.NoError(eng.Store.UnbanUser(ctx, 100))
	assert.NoError(eng.CheckBanned(ctx, testUser(100)))
}

func TestCheckReviewer(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng, _ := EngineTestFixture()

	_, err := eng.CheckReviewer(ctx, 7)
	assert.ErrorIs(err, ErrNotReviewer)

	addReviewers(t, eng, 7)
	rev, err := eng.CheckReviewer(ctx, 7)
	assert.NoError(err)
	assert.Equal(int64(7), rev.UserID)
}

func TestCheckDuplicate(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng, _ := EngineTestFixture()

	assert.NoError(eng.CheckDuplicate(ctx, 7, "approve_1:55"))
	assert.ErrorIs(eng.CheckDuplicate(ctx, 7, "approve_1:55"), ErrDuplicateAction)

	// a different interaction replaces the slot
	assert.NoError(eng.CheckDuplicate(ctx, 7, "reject_1:55"))
	assert.NoError(eng.CheckDuplicate(ctx, 7, "approve_1:55"))

	// slots are per-user
	assert.NoError(eng.CheckDuplicate(ctx, 8, "approve_1:55"))
}
