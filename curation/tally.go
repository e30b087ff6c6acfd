package curation

import (
	"context"
	"errors"
	"time"

	"github.com/nightcrew/gatekeep/models"
	"github.com/nightcrew/gatekeep/poststore"
)

// CastVote records one reviewer's verdict on a pending post and recomputes
// its status.
//
// A repeat of the reviewer's stored verdict fails with ErrDuplicateVote and
// writes nothing; a different verdict overwrites the stored vote in place (a
// correction, not a second ballot). rejectDuplicate additionally appends a
// system event carrying the fixed duplicate reason, which short-circuits the
// NEED_REASON step on recompute.
func (e *Engine) CastVote(ctx context.Context, reviewerID, postID int64, verdict Verdict) (*Outcome, error) {
	val, err := verdict.Value()
	if err != nil {
		return nil, err
	}
	var post *models.Post
	var voteChanged bool
	err = e.Store.Transaction(ctx, func(tx *poststore.Store) error {
		p, err := tx.GetPost(ctx, postID)
		if errors.Is(err, poststore.ErrNotFound) {
			return ErrPostNotFound
		}
		if err != nil {
			return err
		}
		if p.Status != models.StatusPending {
			return ErrPostFinalized
		}
		post = p

		existing, err := tx.GetVote(ctx, postID, reviewerID)
		switch {
		case err == nil:
			if existing.Vote == val {
				return ErrDuplicateVote
			}
			existing.Vote = val
			existing.CreatedAt = time.Now()
			voteChanged = true
			if err := tx.SaveEvent(ctx, existing); err != nil {
				return err
			}
		case errors.Is(err, poststore.ErrNotFound):
			ev := &models.PostEvent{
				PostID:    postID,
				ActorID:   &reviewerID,
				Kind:      models.EventKindVote,
				Vote:      val,
				CreatedAt: time.Now(),
			}
			if err := tx.SaveEvent(ctx, ev); err != nil {
				return err
			}
		default:
			return err
		}

		if verdict == VerdictRejectDuplicate {
			if err := tx.AppendSystemEvent(ctx, postID, &reviewerID, models.SystemCodeDuplicate, DuplicateRejectionReason); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	voteCount.WithLabelValues(string(verdict)).Inc()

	out, err := e.Recompute(ctx, post)
	if err != nil {
		return nil, err
	}
	out.VoteChanged = voteChanged
	return out, nil
}

// ChooseReason attaches a rejection reason to a post waiting in NEED_REASON.
// An empty reason is legal and means "no reason given"; either way the
// recompute that follows finalizes the post as REJECTED.
func (e *Engine) ChooseReason(ctx context.Context, reviewerID, postID int64, reason string) (*Outcome, error) {
	var post *models.Post
	err := e.Store.Transaction(ctx, func(tx *poststore.Store) error {
		p, err := tx.GetPost(ctx, postID)
		if errors.Is(err, poststore.ErrNotFound) {
			return ErrPostNotFound
		}
		if err != nil {
			return err
		}
		if p.Status != models.StatusNeedReason {
			return ErrInvalidState
		}
		post = p
		return tx.AppendSystemEvent(ctx, postID, &reviewerID, models.SystemCodeReason, reason)
	})
	if err != nil {
		return nil, err
	}
	return e.Recompute(ctx, post)
}

// RevokeVote deletes all of the reviewer's active votes on a still-pending
// post. It deliberately does not recompute: removing votes can never
// finalize a post.
func (e *Engine) RevokeVote(ctx context.Context, reviewerID, postID int64) error {
	return e.Store.Transaction(ctx, func(tx *poststore.Store) error {
		p, err := tx.GetPost(ctx, postID)
		if errors.Is(err, poststore.ErrNotFound) {
			return ErrPostNotFound
		}
		if err != nil {
			return err
		}
		if p.Status != models.StatusPending {
			return ErrInvalidState
		}
		n, err := tx.DeleteReviewerVotes(ctx, postID, reviewerID)
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNoVote
		}
		return nil
	})
}

// QueryVote returns the reviewer's current active vote on a post.
func (e *Engine) QueryVote(ctx context.Context, reviewerID, postID int64) (models.VoteValue, error) {
	ev, err := e.Store.GetVote(ctx, postID, reviewerID)
	if errors.Is(err, poststore.ErrNotFound) {
		return 0, ErrNoVote
	}
	if err != nil {
		return 0, err
	}
	return ev.Vote, nil
}

type tallyResult struct {
	approve int
	reject  int
	nsfw    int
	// first system event carrying a rejection reason (duplicate or chosen)
	reasonEvent *models.PostEvent
	// a synthetic approval was already recorded by an earlier recompute
	approvedEvent bool
}

func tallyEvents(events []models.PostEvent) tallyResult {
	var t tallyResult
	for i := range events {
		ev := &events[i]
		switch ev.Kind {
		case models.EventKindVote:
			switch ev.Vote {
			case models.VoteApprove:
				t.approve++
			case models.VoteReject:
				t.reject++
			case models.VoteApproveNSFW:
				t.nsfw++
			}
		case models.EventKindSystem:
			switch ev.Code {
			case models.SystemCodeReason, models.SystemCodeDuplicate:
				if t.reasonEvent == nil {
					t.reasonEvent = ev
				}
			case models.SystemCodeApproved:
				t.approvedEvent = true
			}
		}
	}
	return t
}

// Recompute derives the post's status from its full event log and commits
// the transition, then runs the committed transition's side effects.
//
// Order matters: a recorded rejection reason wins outright, then a prior
// synthetic approval (making recompute idempotent after threshold crossing),
// then the approve tally, then the reject tally.
//
// Two concurrent threshold-crossing votes can each observe PENDING and both
// append the synthetic approval event. That benign double-write is accepted
// rather than serializing all votes on a post; status writes remain monotonic
// either way.
func (e *Engine) Recompute(ctx context.Context, post *models.Post) (*Outcome, error) {
	out := &Outcome{}
	var events []models.PostEvent
	err := e.Store.Transaction(ctx, func(tx *poststore.Store) error {
		evs, err := tx.ListEvents(ctx, post.ID)
		if err != nil {
			return err
		}
		t := tallyEvents(evs)

		status := post.Status
		switch {
		case t.reasonEvent != nil:
			status = models.StatusRejected
			out.Reason = t.reasonEvent.Message
		case t.approvedEvent:
			status = models.StatusApproved
			out.NSFW = t.nsfw > 0
		case t.approve+t.nsfw >= e.Config.ApproveThreshold:
			if err := tx.AppendSystemEvent(ctx, post.ID, nil, models.SystemCodeApproved, ""); err != nil {
				return err
			}
			status = models.StatusApproved
			out.NSFW = t.nsfw > 0
		case t.reject >= e.Config.RejectThreshold:
			status = models.StatusNeedReason
		}

		if status != post.Status {
			if err := tx.SetPostStatus(ctx, post, status); err != nil {
				return err
			}
			out.Changed = true
		}
		out.Status = status
		events = evs
		return nil
	})
	if err != nil {
		return nil, err
	}

	if out.Changed {
		outcomeCount.WithLabelValues(out.Status.String()).Inc()
		if err := e.applyTransition(ctx, post, events, out); err != nil {
			// the decision is already committed; publication is best-effort
			publishFailureCount.Inc()
			e.Logger.Error("post transition side effects failed",
				"post", post.ID, "status", out.Status, "err", err)
		}
	}
	return out, nil
}
