package curation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/nightcrew/gatekeep/models"
	"github.com/nightcrew/gatekeep/transport"
)

func testUser(id int64) transport.User {
	return transport.User{
		ID:       id,
		Username: fmt.Sprintf("user%d", id),
		FullName: fmt.Sprintf("User %d", id),
	}
}

func mustCreatePost(t *testing.T, e *Engine, attachments int) *models.Post {
	t.Helper()
	var atts []models.Attachment
	for i := 0; i < attachments; i++ {
		atts = append(atts, models.Attachment{MediaType: "photo", MediaID: fmt.Sprintf("file-%d", i)})
	}
	post, err := e.CreateSubmission(context.Background(), Submission{
		Submitter:      testUser(100),
		Text:           "example submission",
		Attachments:    atts,
		SubmitterMsgID: 55,
	})
	if err != nil {
		t.Fatal(err)
	}
	return post
}

func addReviewers(t *testing.T, e *Engine, ids ...int64) {
	t.Helper()
	for _, id := range ids {
		if _, err := e.BecomeReviewer(context.Background(), testUser(id)); err != nil {
			t.Fatal(err)
		}
	}
}

func TestApprovalThreshold(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng, mock := EngineTestFixture()
	addReviewers(t, eng, 1, 2)
	post := mustCreatePost(t, eng, 0)

	out, err := eng.CastVote(ctx, 1, post.ID, VerdictApprove)
	assert.NoError(err)
	assert.Equal(models.StatusPending, out.Status)
	assert.False(out.Changed)

	out, err = eng.CastVote(ctx, 2, post.ID, VerdictApprove)
	assert.NoError(err)
	assert.Equal(models.StatusApproved, out.Status)
	assert.True(out.Changed)
	assert.False(out.NSFW)

	stored, err := eng.Store.GetPost(ctx, post.ID)
	assert.NoError(err)
	assert.Equal(models.StatusApproved, stored.Status)
	assert.NotNil(stored.FinishedAt)
	assert.NotZero(stored.PublishMsgID)

	events, err := eng.Store.ListEvents(ctx, post.ID)
	assert.NoError(err)
	var approvedEvents int
	for _, ev := range events {
		if ev.Kind == models.EventKindSystem && ev.Code == models.SystemCodeApproved {
			approvedEvents++
			assert.Nil(ev.ActorID)
		}
	}
	assert.Equal(1, approvedEvents)

	published := mock.SentTo(TestPublishChannel)
	if assert.Len(published, 1) {
		assert.Equal("example submission", published[0].Text)
	}
	notices := mock.SentTo(100)
	if assert.Len(notices, 1) {
		assert.Contains(notices[0].Text, "approved")
		assert.Equal(int64(55), notices[0].Opts.ReplyTo)
	}
}

func TestApproveNSFWPublish(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng, mock := EngineTestFixture()
	addReviewers(t, eng, 1, 2)
	post := mustCreatePost(t, eng, 2)

	_, err := eng.CastVote(ctx, 1, post.ID, VerdictApproveNSFW)
	assert.NoError(err)
	out, err := eng.CastVote(ctx, 2, post.ID, VerdictApprove)
	assert.NoError(err)
	assert.Equal(models.StatusApproved, out.Status)
	assert.True(out.NSFW)

	published := mock.SentTo(TestPublishChannel)
	if !assert.Len(published, 2) {
		return
	}
	marker, album := published[0], published[1]
	assert.Equal(nsfwMarkerText, marker.Text)
	assert.Len(album.Media, 2)
	if assert.NotNil(album.Opts) {
		assert.True(album.Opts.Spoiler)
	}

	// the marker link is patched to point just past the album
	lastAlbumID := album.Message.ID + 1
	wantLink := transport.MessageLink(TestPublishChannel, lastAlbumID+1)
	var patched bool
	for _, ed := range mock.Edits {
		if ed.MessageID == marker.Message.ID && ed.Opts != nil && ed.Opts.Keyboard != nil {
			assert.Equal(wantLink, ed.Opts.Keyboard[0][0].URL)
			patched = true
		}
	}
	assert.True(patched)

	stored, err := eng.Store.GetPost(ctx, post.ID)
	assert.NoError(err)
	assert.Equal(album.Message.ID, stored.PublishMsgID)
}

func TestRejectFlow(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng, mock := EngineTestFixture()
	addReviewers(t, eng, 1, 2)
	post := mustCreatePost(t, eng, 0)

	_, err := eng.CastVote(ctx, 1, post.ID, VerdictReject)
	assert.NoError(err)
	out, err := eng.CastVote(ctx, 2, post.ID, VerdictReject)
	assert.NoError(err)
	assert.Equal(models.StatusNeedReason, out.Status)
	assert.True(out.Changed)

	// nothing published while the reason is pending
	assert.Empty(mock.SentTo(TestRejectedChannel))

	// the controls message now carries the reason keyboard
	lastEdit := mock.Edits[len(mock.Edits)-1]
	assert.Equal(post.OperateMsgID, lastEdit.MessageID)
	if assert.NotNil(lastEdit.Opts) {
		assert.NotNil(lastEdit.Opts.Keyboard)
	}

	out, err = eng.ChooseReason(ctx, 2, post.ID, "out of scope")
	assert.NoError(err)
	assert.Equal(models.StatusRejected, out.Status)
	assert.Equal("out of scope", out.Reason)

	archived := mock.SentTo(TestRejectedChannel)
	assert.Len(archived, 1)
	notices := mock.SentTo(100)
	if assert.Len(notices, 1) {
		assert.Contains(notices[0].Text, "rejected")
		assert.Contains(notices[0].Text, "<b>out of scope</b>")
	}
}

func TestChooseReasonEmptyStillFinalizes(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng, _ := EngineTestFixture()
	addReviewers(t, eng, 1, 2)
	post := mustCreatePost(t, eng, 0)

	_, err := eng.CastVote(ctx, 1, post.ID, VerdictReject)
	assert.NoError(err)
	_, err = eng.CastVote(ctx, 2, post.ID, VerdictReject)
	assert.NoError(err)

	out, err := eng.ChooseReason(ctx, 2, post.ID, "")
	assert.NoError(err)
	assert.Equal(models.StatusRejected, out.Status)
	assert.Equal("", out.Reason)

	stored, err := eng.Store.GetPost(ctx, post.ID)
	assert.NoError(err)
	assert.Equal(models.StatusRejected, stored.Status)
	assert.NotNil(stored.FinishedAt)
}

func TestRejectDuplicateFinalizesImmediately(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng, _ := EngineTestFixture()
	addReviewers(t, eng, 1)
	post := mustCreatePost(t, eng, 0)

	// one vote suffices: the duplicate reason short-circuits the threshold
	out, err := eng.CastVote(ctx, 1, post.ID, VerdictRejectDuplicate)
	assert.NoError(err)
	assert.Equal(models.StatusRejected, out.Status)
	assert.True(out.Changed)
	assert.Equal(DuplicateRejectionReason, out.Reason)
}

func TestDuplicateVoteRejected(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng, _ := EngineTestFixture()
	addReviewers(t, eng, 1)
	post := mustCreatePost(t, eng, 0)

	_, err := eng.CastVote(ctx, 1, post.ID, VerdictApprove)
	assert.NoError(err)
	_, err = eng.CastVote(ctx, 1, post.ID, VerdictApprove)
	assert.ErrorIs(err, ErrDuplicateVote)

	events, err := eng.Store.ListEvents(ctx, post.ID)
	assert.NoError(err)
	assert.Len(events, 1)
}

func TestVoteCorrectionInPlace(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng, _ := EngineTestFixture()
	addReviewers(t, eng, 1)
	post := mustCreatePost(t, eng, 0)

	_, err := eng.CastVote(ctx, 1, post.ID, VerdictApprove)
	assert.NoError(err)
	out, err := eng.CastVote(ctx, 1, post.ID, VerdictReject)
	assert.NoError(err)
	assert.True(out.VoteChanged)

	events, err := eng.Store.ListEvents(ctx, post.ID)
	assert.NoError(err)
	if assert.Len(events, 1) {
		assert.Equal(models.VoteReject, events[0].Vote)
	}

	v, err := eng.QueryVote(ctx, 1, post.ID)
	assert.NoError(err)
	assert.Equal(models.VoteReject, v)
}

func TestApprovePrecedenceOverReject(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng, _ := EngineTestFixture()
	post := mustCreatePost(t, eng, 0)

	// both thresholds crossed in a single recompute: approval wins
	for i, vote := range []models.VoteValue{
		models.VoteApprove, models.VoteApprove, models.VoteReject, models.VoteReject,
	} {
		actor := int64(i + 1)
		err := eng.Store.SaveEvent(ctx, &models.PostEvent{
			PostID:    post.ID,
			ActorID:   &actor,
			Kind:      models.EventKindVote,
			Vote:      vote,
			CreatedAt: time.Now(),
		})
		assert.NoError(err)
	}

	out, err := eng.Recompute(ctx, post)
	assert.NoError(err)
	assert.Equal(models.StatusApproved, out.Status)
	assert.True(out.Changed)
}

func TestRecomputeIdempotentAfterApproval(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng, _ := EngineTestFixture()
	addReviewers(t, eng, 1, 2)
	post := mustCreatePost(t, eng, 0)

	_, err := eng.CastVote(ctx, 1, post.ID, VerdictApprove)
	assert.NoError(err)
	_, err = eng.CastVote(ctx, 2, post.ID, VerdictApprove)
	assert.NoError(err)

	stored, err := eng.Store.GetPost(ctx, post.ID)
	assert.NoError(err)
	out, err := eng.Recompute(ctx, stored)
	assert.NoError(err)
	assert.Equal(models.StatusApproved, out.Status)
	assert.False(out.Changed)

	events, err := eng.Store.ListEvents(ctx, post.ID)
	assert.NoError(err)
	var approvedEvents int
	for _, ev := range events {
		if ev.Kind == models.EventKindSystem && ev.Code == models.SystemCodeApproved {
			approvedEvents++
		}
	}
	assert.Equal(1, approvedEvents)
}

func TestRevokeVote(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng, _ := EngineTestFixture()
	addReviewers(t, eng, 1)
	post := mustCreatePost(t, eng, 0)

	assert.ErrorIs(eng.RevokeVote(ctx, 1, post.ID), ErrNoVote)

	_, err := eng.CastVote(ctx, 1, post.ID, VerdictApprove)
	assert.NoError(err)
	assert.NoError(eng.RevokeVote(ctx, 1, post.ID))

	_, err = eng.QueryVote(ctx, 1, post.ID)
	assert.ErrorIs(err, ErrNoVote)

	// revoking does not count as a cast; the same verdict is legal again
	_, err = eng.CastVote(ctx, 1, post.ID, VerdictApprove)
	assert.NoError(err)

	stored, err := eng.Store.GetPost(ctx, post.ID)
	assert.NoError(err)
	assert.Equal(models.StatusPending, stored.Status)
}

func TestOperationsOnFinalizedPost(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng, _ := EngineTestFixture()
	addReviewers(t, eng, 1, 2, 3)
	post := mustCreatePost(t, eng, 0)

	_, err := eng.CastVote(ctx, 1, post.ID, VerdictRejectDuplicate)
	assert.NoError(err)

	_, err = eng.CastVote(ctx, 2, post.ID, VerdictApprove)
	assert.ErrorIs(err, ErrPostFinalized)
	assert.ErrorIs(eng.RevokeVote(ctx, 1, post.ID), ErrInvalidState)
	_, err = eng.ChooseReason(ctx, 2, post.ID, "late")
	assert.ErrorIs(err, ErrInvalidState)
}

func TestVoteOnUnknownPost(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng, _ := EngineTestFixture()

	_, err := eng.CastVote(ctx, 1, 12345, VerdictApprove)
	assert.ErrorIs(err, ErrPostNotFound)
	_, err = eng.ChooseReason(ctx, 1, 12345, "x")
	assert.ErrorIs(err, ErrPostNotFound)
	assert.ErrorIs(eng.RevokeVote(ctx, 1, 12345), ErrPostNotFound)
}

func TestChooseReasonRequiresNeedReason(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng, _ := EngineTestFixture()
	addReviewers(t, eng, 1)
	post := mustCreatePost(t, eng, 0)

	_, err := eng.ChooseReason(ctx, 1, post.ID, "too early")
	assert.ErrorIs(err, ErrInvalidState)
}

func TestPublishFailureKeepsDecision(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng, mock := EngineTestFixture()
	addReviewers(t, eng, 1, 2)
	post := mustCreatePost(t, eng, 0)

	_, err := eng.CastVote(ctx, 1, post.ID, VerdictApprove)
	assert.NoError(err)

	mock.FailSends = errors.New("transport down")
	out, err := eng.CastVote(ctx, 2, post.ID, VerdictApprove)
	assert.NoError(err)
	assert.True(out.Changed)
	assert.Equal(models.StatusApproved, out.Status)

	// the decision is committed even though nothing went out
	stored, err := eng.Store.GetPost(ctx, post.ID)
	assert.NoError(err)
	assert.Equal(models.StatusApproved, stored.Status)
	assert.Zero(stored.PublishMsgID)
}

func TestStatisticsAfterOutcomes(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng, _ := EngineTestFixture()
	addReviewers(t, eng, 1, 2, 3)

	post := mustCreatePost(t, eng, 0)
	_, err := eng.CastVote(ctx, 1, post.ID, VerdictApprove)
	assert.NoError(err)
	_, err = eng.CastVote(ctx, 2, post.ID, VerdictReject)
	assert.NoError(err)
	_, err = eng.CastVote(ctx, 3, post.ID, VerdictReject)
	assert.NoError(err)
	_, err = eng.ChooseReason(ctx, 3, post.ID, "not funny enough")
	assert.NoError(err)

	r1, err := eng.Store.GetReviewer(ctx, 1)
	assert.NoError(err)
	assert.Equal(int64(1), r1.ApproveButRejectedCount)
	assert.NotNil(r1.LastReviewedAt)

	r2, err := eng.Store.GetReviewer(ctx, 2)
	assert.NoError(err)
	assert.Equal(int64(1), r2.RejectCount)

	sub, err := eng.Store.GetSubmitter(ctx, 100)
	assert.NoError(err)
	assert.Equal(int64(1), sub.RejectedCount)
	assert.Equal(int64(1), sub.SubmissionCount)
}

func TestOperateMessageAudit(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng, mock := EngineTestFixture()
	addReviewers(t, eng, 1, 2)
	post := mustCreatePost(t, eng, 0)

	_, err := eng.CastVote(ctx, 1, post.ID, VerdictApprove)
	assert.NoError(err)
	_, err = eng.CastVote(ctx, 2, post.ID, VerdictApprove)
	assert.NoError(err)

	var audit string
	for _, ed := range mock.Edits {
		if ed.MessageID == post.OperateMsgID {
			audit = ed.Text
		}
	}
	assert.True(strings.Contains(audit, "✅"))
	assert.Contains(audit, "#APPROVED")
	assert.Contains(audit, "#REVIEWER_1")
	assert.Contains(audit, "#REVIEWER_2")
	assert.Contains(audit, "#SUBMITTER_100")
}
