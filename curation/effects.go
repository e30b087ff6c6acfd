package curation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nightcrew/gatekeep/models"
	"github.com/nightcrew/gatekeep/poststore"
	"github.com/nightcrew/gatekeep/transport"
)

var voteIcons = map[models.VoteValue]string{
	models.VoteApprove:     "🟢",
	models.VoteReject:      "🔴",
	models.VoteApproveNSFW: "🔞",
}

var voteLabels = map[models.VoteValue]string{
	models.VoteApprove:     "approved",
	models.VoteReject:      "rejected",
	models.VoteApproveNSFW: "approved as NSFW",
}

// applyTransition runs the side effects of a committed status change:
// rewrite the audit/controls message in the review group, publish or archive
// the content on terminal states, update statistics, notify the submitter.
func (e *Engine) applyTransition(ctx context.Context, post *models.Post, events []models.PostEvent, out *Outcome) error {
	if err := e.updateOperateMessage(ctx, post, events, out); err != nil {
		return fmt.Errorf("updating audit message: %w", err)
	}
	if out.Status == models.StatusNeedReason {
		// not terminal yet; a human (or automatic) reason is still required
		return nil
	}

	if err := e.publish(ctx, post, out); err != nil {
		return fmt.Errorf("publishing post %d: %w", post.ID, err)
	}
	if err := e.updateStatistics(ctx, post, events, out); err != nil {
		e.Logger.Warn("statistics update failed", "post", post.ID, "err", err)
	}
	e.Notifier.PostFinalized(ctx, post, out.Status, out.Reason)
	return nil
}

// updateOperateMessage rewrites the review-group controls message with the
// full audit trail, attaching the reason keyboard when a reason is pending.
func (e *Engine) updateOperateMessage(ctx context.Context, post *models.Post, events []models.PostEvent, out *Outcome) error {
	var header string
	switch out.Status {
	case models.StatusApproved:
		header = "✅ Submission approved."
	case models.StatusRejected:
		header = "❌ Submission rejected."
	case models.StatusNeedReason:
		header = "❌ Submission rejected, reason pending."
	}

	tags := []string{
		fmt.Sprintf("#USER_%d", post.SubmitterID),
		fmt.Sprintf("#SUBMITTER_%d", post.SubmitterID),
	}

	var sb strings.Builder
	sb.WriteString(header)
	sb.WriteString("\n")
	if sub, err := e.Store.GetSubmitter(ctx, post.SubmitterID); err == nil {
		fmt.Fprintf(&sb, "Submitter: %s (@%s, %d)\n", sub.FullName, sub.Username, sub.UserID)
	}
	sb.WriteString("Reviewers:\n")
	for i := range events {
		ev := &events[i]
		if ev.Kind != models.EventKindVote || ev.ActorID == nil {
			continue
		}
		tags = append(tags,
			fmt.Sprintf("#USER_%d", *ev.ActorID),
			fmt.Sprintf("#REVIEWER_%d", *ev.ActorID))
		name := fmt.Sprintf("%d", *ev.ActorID)
		username := ""
		if rev, err := e.Store.GetReviewer(ctx, *ev.ActorID); err == nil {
			name = rev.FullName
			username = rev.Username
		}
		fmt.Fprintf(&sb, "- %s %s (@%s %d) %s\n",
			voteIcons[ev.Vote], name, username, *ev.ActorID, voteLabels[ev.Vote])
	}
	if out.Status == models.StatusRejected {
		rejector := "system"
		if ev := findReasonEvent(events); ev != nil && ev.ActorID != nil {
			rejector = fmt.Sprintf("%d", *ev.ActorID)
		}
		fmt.Fprintf(&sb, "-❗️Rejected by %s, reason: %s\n", rejector, out.Reason)
	}
	if out.Status == models.StatusApproved {
		tags = append(tags, "#APPROVED")
	}
	sb.WriteString("\n")
	sb.WriteString(strings.Join(tags, " "))

	opts := &transport.SendOpts{}
	if out.Status == models.StatusNeedReason {
		opts.Keyboard = ReasonKeyboard(post.ID, e.Config.RejectionReasons)
	}
	return e.Transport.EditMessageText(ctx, e.Config.ReviewGroup, post.OperateMsgID, sb.String(), opts)
}

func findReasonEvent(events []models.PostEvent) *models.PostEvent {
	for i := range events {
		ev := &events[i]
		if ev.Kind == models.EventKindSystem &&
			(ev.Code == models.SystemCodeReason || ev.Code == models.SystemCodeDuplicate) {
			return ev
		}
	}
	return nil
}

// publish sends the content to the publish channel (approvals) or the
// rejected-archive channel (rejections) and records the outbound message id.
//
// NSFW approvals are a two-step publish: a spoiler marker goes out first with
// a placeholder link, and is patched to point past the album once the real
// message ids are known.
func (e *Engine) publish(ctx context.Context, post *models.Post, out *Outcome) error {
	chatID := e.Config.PublishChannel
	if out.Status == models.StatusRejected {
		chatID = e.Config.RejectedChannel
	}

	caption := post.Text
	if extra := decodeExtra(post.Extra); extra != nil && len(extra.Comments) > 0 {
		var notes []string
		for _, c := range extra.Comments {
			notes = append(notes, "<b>Reviewer note:</b> "+c.Comment)
		}
		caption += "\n\n" + strings.Join(notes, "\n\n")
	}

	atts, err := post.ParseAttachments()
	if err != nil {
		return fmt.Errorf("decoding attachments: %w", err)
	}

	var pubMsgID int64
	if len(atts) == 0 {
		msg, err := e.Transport.SendMessage(ctx, chatID, caption, nil)
		if err != nil {
			return err
		}
		pubMsgID = msg.ID
	} else {
		media := make([]transport.Media, 0, len(atts))
		for _, a := range atts {
			media = append(media, transport.Media{Type: a.MediaType, Ref: a.MediaID})
		}

		var marker *transport.Message
		if out.NSFW && out.Status == models.StatusApproved {
			marker, err = e.Transport.SendMessage(ctx, chatID, nsfwMarkerText, &transport.SendOpts{
				Keyboard: transport.Keyboard{{{Text: "Skip ahead", URL: "https://t.me/"}}},
			})
			if err != nil {
				// the album itself matters more than the marker
				e.Logger.Warn("NSFW marker send failed", "post", post.ID, "err", err)
				marker = nil
			}
		}

		msgs, err := e.Transport.SendMediaGroup(ctx, chatID, media, caption, &transport.SendOpts{Spoiler: out.NSFW})
		if err != nil {
			return err
		}
		pubMsgID = msgs[0].ID

		if marker != nil {
			// the forward link is only known after the album send completes
			next := transport.MessageLink(chatID, msgs[len(msgs)-1].ID+1)
			err := e.Transport.EditMessageText(ctx, chatID, marker.ID, nsfwMarkerText, &transport.SendOpts{
				Keyboard: transport.Keyboard{{{Text: "Skip ahead", URL: next}}},
			})
			if err != nil {
				e.Logger.Warn("NSFW marker link update failed", "post", post.ID, "err", err)
			}
		}
	}

	if err := e.Store.SetPublished(ctx, post.ID, pubMsgID); err != nil {
		return fmt.Errorf("recording published message id: %w", err)
	}
	post.PublishMsgID = pubMsgID
	return nil
}

const nsfwMarkerText = "⚠️ #NSFW ahead"

// updateStatistics bumps the submitter's and each voter's running counters
// for a finalized post.
func (e *Engine) updateStatistics(ctx context.Context, post *models.Post, events []models.PostEvent, out *Outcome) error {
	approved := out.Status == models.StatusApproved
	now := time.Now()
	return e.Store.Transaction(ctx, func(tx *poststore.Store) error {
		sub, err := tx.GetSubmitter(ctx, post.SubmitterID)
		if err != nil && !errors.Is(err, poststore.ErrNotFound) {
			return err
		}
		if sub != nil {
			if approved {
				sub.ApprovedCount++
			} else {
				sub.RejectedCount++
			}
			if err := tx.SaveSubmitter(ctx, sub); err != nil {
				return err
			}
		}

		for i := range events {
			ev := &events[i]
			if ev.Kind != models.EventKindVote || ev.ActorID == nil {
				continue
			}
			rev, err := tx.GetReviewer(ctx, *ev.ActorID)
			if err != nil {
				if errors.Is(err, poststore.ErrNotFound) {
					continue
				}
				return err
			}
			votedApprove := ev.Vote == models.VoteApprove || ev.Vote == models.VoteApproveNSFW
			switch {
			case votedApprove && approved:
				rev.ApproveCount++
			case votedApprove && !approved:
				rev.ApproveButRejectedCount++
			case !votedApprove && !approved:
				rev.RejectCount++
			default:
				rev.RejectButApprovedCount++
			}
			rev.LastReviewedAt = &now
			if err := tx.SaveReviewer(ctx, rev); err != nil {
				return err
			}
		}
		return nil
	})
}

func decodeExtra(raw string) *models.PostExtra {
	if raw == "" {
		return nil
	}
	var extra models.PostExtra
	if err := json.Unmarshal([]byte(raw), &extra); err != nil {
		return nil
	}
	return &extra
}
