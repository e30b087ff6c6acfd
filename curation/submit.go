package curation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nightcrew/gatekeep/models"
	"github.com/nightcrew/gatekeep/poststore"
	"github.com/nightcrew/gatekeep/transport"
)

// Submission is a finalized submission payload, assembled by the handler
// layer from the confirmation flow (and the media-group aggregator for
// multi-attachment posts).
type Submission struct {
	Submitter      transport.User
	Text           string
	Attachments    []models.Attachment
	SubmitterMsgID int64
}

// CreateSubmission posts the content into the review group with its vote
// controls and creates the Post record atomically. The post id is derived
// from the submission time and the review message id.
func (e *Engine) CreateSubmission(ctx context.Context, sub Submission) (*models.Post, error) {
	if sub.Text == "" && len(sub.Attachments) == 0 {
		return nil, ErrValidation
	}

	var reviewMsgID int64
	if len(sub.Attachments) == 0 {
		msg, err := e.Transport.SendMessage(ctx, e.Config.ReviewGroup, sub.Text, nil)
		if err != nil {
			return nil, fmt.Errorf("sending review copy: %w", err)
		}
		reviewMsgID = msg.ID
	} else {
		media := make([]transport.Media, 0, len(sub.Attachments))
		for _, a := range sub.Attachments {
			media = append(media, transport.Media{Type: a.MediaType, Ref: a.MediaID})
		}
		msgs, err := e.Transport.SendMediaGroup(ctx, e.Config.ReviewGroup, media, sub.Text, nil)
		if err != nil {
			return nil, fmt.Errorf("sending review copy: %w", err)
		}
		reviewMsgID = msgs[0].ID
	}

	postID, err := strconv.ParseInt(
		strconv.FormatInt(time.Now().Unix(), 10)+strconv.FormatInt(reviewMsgID, 10), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("deriving post id: %w", err)
	}

	operateText := fmt.Sprintf(
		"❔ Pending submission\nSubmitter: %s (@%s, %d)\n\n#USER_%d #SUBMITTER_%d #PENDING",
		sub.Submitter.FullName, sub.Submitter.Username, sub.Submitter.ID,
		sub.Submitter.ID, sub.Submitter.ID)
	operateMsg, err := e.Transport.SendMessage(ctx, e.Config.ReviewGroup, operateText, &transport.SendOpts{
		Keyboard: ReviewKeyboard(postID),
		ReplyTo:  reviewMsgID,
	})
	if err != nil {
		return nil, fmt.Errorf("sending operate message: %w", err)
	}

	attJSON, err := models.EncodeAttachments(sub.Attachments)
	if err != nil {
		return nil, fmt.Errorf("encoding attachments: %w", err)
	}
	post := &models.Post{
		ID:             postID,
		Text:           sub.Text,
		Attachments:    attJSON,
		SubmitterID:    sub.Submitter.ID,
		Status:         models.StatusPending,
		SubmitterMsgID: sub.SubmitterMsgID,
		ReviewMsgID:    reviewMsgID,
		OperateMsgID:   operateMsg.ID,
		CreatedAt:      time.Now(),
	}
	err = e.Store.Transaction(ctx, func(tx *poststore.Store) error {
		if err := tx.CreatePost(ctx, post); err != nil {
			return err
		}
		return tx.BumpSubmissionCount(ctx, sub.Submitter.ID)
	})
	if err != nil {
		return nil, err
	}
	submissionCount.Inc()
	e.Logger.Info("submission created", "post", post.ID, "submitter", sub.Submitter.ID,
		"attachments", len(sub.Attachments))
	return post, nil
}

// BecomeReviewer registers the user as a reviewer on first call. Returns
// false when they already opted in.
func (e *Engine) BecomeReviewer(ctx context.Context, user transport.User) (bool, error) {
	_, err := e.Store.GetReviewer(ctx, user.ID)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, poststore.ErrNotFound) {
		return false, err
	}
	rev := &models.Reviewer{
		UserID:   user.ID,
		Username: user.Username,
		FullName: user.FullName,
	}
	if err := e.Store.SaveReviewer(ctx, rev); err != nil {
		return false, err
	}
	return true, nil
}

// AppendComment attaches a reviewer note to a post's extension data. Notes
// ride along with the content when it is published.
func (e *Engine) AppendComment(ctx context.Context, reviewerID, postID int64, comment string) error {
	if comment == "" {
		return ErrValidation
	}
	return e.Store.Transaction(ctx, func(tx *poststore.Store) error {
		post, err := tx.GetPost(ctx, postID)
		if errors.Is(err, poststore.ErrNotFound) {
			return ErrPostNotFound
		}
		if err != nil {
			return err
		}
		if post.Status.Terminal() {
			return ErrPostFinalized
		}
		extra := decodeExtra(post.Extra)
		if extra == nil {
			extra = &models.PostExtra{}
		}
		extra.Comments = append(extra.Comments, models.PostComment{
			ReviewerID: reviewerID,
			Comment:    comment,
		})
		raw, err := json.Marshal(extra)
		if err != nil {
			return err
		}
		return tx.SetPostExtra(ctx, postID, string(raw))
	})
}

// RemoveComments drops all of one reviewer's notes from a post.
func (e *Engine) RemoveComments(ctx context.Context, reviewerID, postID int64) error {
	return e.Store.Transaction(ctx, func(tx *poststore.Store) error {
		post, err := tx.GetPost(ctx, postID)
		if errors.Is(err, poststore.ErrNotFound) {
			return ErrPostNotFound
		}
		if err != nil {
			return err
		}
		extra := decodeExtra(post.Extra)
		if extra == nil || len(extra.Comments) == 0 {
			return nil
		}
		kept := extra.Comments[:0]
		for _, c := range extra.Comments {
			if c.ReviewerID != reviewerID {
				kept = append(kept, c)
			}
		}
		extra.Comments = kept
		raw, err := json.Marshal(extra)
		if err != nil {
			return err
		}
		return tx.SetPostExtra(ctx, postID, string(raw))
	})
}

// ReplySubmitter relays a moderator's free-text reply to the submitter while
// the post is still in review.
func (e *Engine) ReplySubmitter(ctx context.Context, postID int64, text string) error {
	if text == "" {
		return ErrValidation
	}
	post, err := e.Store.GetPost(ctx, postID)
	if errors.Is(err, poststore.ErrNotFound) {
		return ErrPostNotFound
	}
	if err != nil {
		return err
	}
	e.Notifier.Reply(ctx, post, text)
	return nil
}
