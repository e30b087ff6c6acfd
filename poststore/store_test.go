package poststore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/nightcrew/gatekeep/models"
)

var errRollback = errors.New("rollback requested")

func testStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatal(err)
	}
	store, err := NewStore(db)
	if err != nil {
		t.Fatal(err)
	}
	return store
}

func makePost(t *testing.T, store *Store, id int64) *models.Post {
	t.Helper()
	post := &models.Post{
		ID:          id,
		Text:        "content",
		SubmitterID: 100,
		Status:      models.StatusPending,
		CreatedAt:   time.Now(),
	}
	if err := store.CreatePost(context.Background(), post); err != nil {
		t.Fatal(err)
	}
	return post
}

func TestPostRoundtrip(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	store := testStore(t)

	_, err := store.GetPost(ctx, 1)
	assert.ErrorIs(err, ErrNotFound)

	makePost(t, store, 1)
	post, err := store.GetPost(ctx, 1)
	assert.NoError(err)
	assert.Equal("content", post.Text)
	assert.Equal(models.StatusPending, post.Status)
	assert.Nil(post.FinishedAt)
}

func TestSetPostStatusFinishedOnce(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	store := testStore(t)
	post := makePost(t, store, 1)

	assert.NoError(store.SetPostStatus(ctx, post, models.StatusNeedReason))
	assert.Nil(post.FinishedAt)

	assert.NoError(store.SetPostStatus(ctx, post, models.StatusRejected))
	assert.NotNil(post.FinishedAt)
	first := *post.FinishedAt

	// a second terminal write never moves the completion timestamp
	time.Sleep(10 * time.Millisecond)
	assert.NoError(store.SetPostStatus(ctx, post, models.StatusRejected))
	assert.Equal(first, *post.FinishedAt)

	reloaded, err := store.GetPost(ctx, 1)
	assert.NoError(err)
	assert.Equal(models.StatusRejected, reloaded.Status)
	assert.NotNil(reloaded.FinishedAt)
}

func TestVoteEvents(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	store := testStore(t)
	makePost(t, store, 1)

	reviewer := int64(7)
	_, err := store.GetVote(ctx, 1, reviewer)
	assert.ErrorIs(err, ErrNotFound)

	ev := &models.PostEvent{
		PostID:    1,
		ActorID:   &reviewer,
		Kind:      models.EventKindVote,
		Vote:      models.VoteApprove,
		CreatedAt: time.Now(),
	}
	assert.NoError(store.SaveEvent(ctx, ev))

	// system events by the same actor do not count as votes
	assert.NoError(store.AppendSystemEvent(ctx, 1, &reviewer, models.SystemCodeReason, "spam"))

	got, err := store.GetVote(ctx, 1, reviewer)
	assert.NoError(err)
	assert.Equal(models.VoteApprove, got.Vote)

	// in-place correction keeps a single row
	got.Vote = models.VoteReject
	assert.NoError(store.SaveEvent(ctx, got))
	events, err := store.ListEvents(ctx, 1)
	assert.NoError(err)
	assert.Len(events, 2)

	n, err := store.DeleteReviewerVotes(ctx, 1, reviewer)
	assert.NoError(err)
	assert.Equal(int64(1), n)

	// the system event survives vote deletion
	events, err = store.ListEvents(ctx, 1)
	assert.NoError(err)
	if assert.Len(events, 1) {
		assert.Equal(models.EventKindSystem, events[0].Kind)
	}

	n, err = store.DeleteReviewerVotes(ctx, 1, reviewer)
	assert.NoError(err)
	assert.Zero(n)
}

func TestListPendingExcluding(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	store := testStore(t)

	base := time.Now().Add(-time.Hour)
	for i := int64(1); i <= 3; i++ {
		post := &models.Post{
			ID:          i,
			SubmitterID: 100,
			Status:      models.StatusPending,
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		}
		assert.NoError(store.CreatePost(ctx, post))
	}
	approved := &models.Post{ID: 4, SubmitterID: 100, Status: models.StatusApproved, CreatedAt: base}
	assert.NoError(store.CreatePost(ctx, approved))

	reviewer := int64(7)
	ids, err := store.ListPendingExcluding(ctx, reviewer, 0, 10)
	assert.NoError(err)
	assert.Equal([]int64{1, 2, 3}, ids)

	ev := &models.PostEvent{PostID: 2, ActorID: &reviewer, Kind: models.EventKindVote, Vote: models.VoteApprove, CreatedAt: time.Now()}
	assert.NoError(store.SaveEvent(ctx, ev))

	ids, err = store.ListPendingExcluding(ctx, reviewer, 0, 10)
	assert.NoError(err)
	assert.Equal([]int64{1, 3}, ids)

	ids, err = store.ListPendingExcluding(ctx, reviewer, 0, 1)
	assert.NoError(err)
	assert.Equal([]int64{1}, ids)
}

func TestSubmitterUpsert(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	store := testStore(t)

	sub, err := store.UpsertSubmitter(ctx, 100, "alice", "Alice")
	assert.NoError(err)
	assert.Equal(int64(0), sub.SubmissionCount)

	// display fields refresh on every contact
	sub, err = store.UpsertSubmitter(ctx, 100, "alice2", "Alice A.")
	assert.NoError(err)
	assert.Equal("alice2", sub.Username)
	assert.Equal("Alice A.", sub.FullName)

	assert.NoError(store.BumpSubmissionCount(ctx, 100))
	assert.NoError(store.BumpSubmissionCount(ctx, 100))
	sub, err = store.GetSubmitter(ctx, 100)
	assert.NoError(err)
	assert.Equal(int64(2), sub.SubmissionCount)

	// bump creates the row when the submitter was never seen
	assert.NoError(store.BumpSubmissionCount(ctx, 200))
	sub, err = store.GetSubmitter(ctx, 200)
	assert.NoError(err)
	assert.Equal(int64(1), sub.SubmissionCount)
}

func TestBans(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	store := testStore(t)

	banned, err := store.IsBanned(ctx, 100)
	assert.NoError(err)
	assert.False(banned)

	assert.NoError(store.BanUser(ctx, &models.BannedUser{
		UserID:   100,
		Reason:   "spam",
		BannedAt: time.Now(),
		BannedBy: 7,
	}))
	banned, err = store.IsBanned(ctx, 100)
	assert.NoError(err)
	assert.True(banned)

	assert.NoError(store.UnbanUser(ctx, 100))
	banned, err = store.IsBanned(ctx, 100)
	assert.NoError(err)
	assert.False(banned)
}

func TestTransactionRollback(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	store := testStore(t)

	err := store.Transaction(ctx, func(tx *Store) error {
		if err := tx.CreatePost(ctx, &models.Post{ID: 1, SubmitterID: 100, Status: models.StatusPending, CreatedAt: time.Now()}); err != nil {
			return err
		}
		return errRollback
	})
	assert.ErrorIs(err, errRollback)

	_, err = store.GetPost(ctx, 1)
	assert.ErrorIs(err, ErrNotFound)
}
