// Package notify composes submitter-facing outcome notifications. Delivery
// is strictly best-effort: a submitter who blocked the bot must never break
// the review flow, so transport errors are logged and swallowed here.
package notify

import (
	"context"
	"log/slog"

	"github.com/nightcrew/gatekeep/models"
	"github.com/nightcrew/gatekeep/transport"
)

type Dispatcher struct {
	Logger    *slog.Logger
	Transport transport.Client

	PublishChannel  int64
	RejectedChannel int64
	// RetractNotify gates rejection notifications entirely.
	RetractNotify bool
}

// PostFinalized tells the submitter about a terminal outcome. Exactly one
// message is sent per call; rejection notices are suppressed when
// RetractNotify is off.
func (d *Dispatcher) PostFinalized(ctx context.Context, post *models.Post, status models.PostStatus, reason string) {
	var text string
	var kb transport.Keyboard
	switch status {
	case models.StatusApproved:
		text = "✅ Your submission has been approved!"
		if link := transport.MessageLink(d.PublishChannel, post.PublishMsgID); link != "" {
			row := []transport.Button{{Text: "View post", URL: link}}
			if disc := transport.DiscussionLink(d.PublishChannel, post.PublishMsgID); disc != "" {
				row = append(row, transport.Button{Text: "Discussion", URL: disc})
			}
			kb = transport.Keyboard{row}
		}
	case models.StatusRejected:
		if !d.RetractNotify {
			return
		}
		text = "❌ Your submission was rejected."
		if reason != "" {
			text += "\nReason: <b>" + reason + "</b>"
		}
		if link := transport.MessageLink(d.RejectedChannel, post.PublishMsgID); link != "" {
			kb = transport.Keyboard{{{Text: "View in archive", URL: link}}}
		}
	default:
		d.Logger.Warn("notify called for non-terminal status", "post", post.ID, "status", status)
		return
	}

	opts := &transport.SendOpts{Keyboard: kb, ReplyTo: post.SubmitterMsgID}
	if _, err := d.Transport.SendMessage(ctx, post.SubmitterID, text, opts); err != nil {
		d.Logger.Warn("submitter notification failed", "post", post.ID, "submitter", post.SubmitterID, "err", err)
	}
}

// Reply sends a plain free-text reply to the submitter, with no outcome links
// (moderator replies while a post is still pending).
func (d *Dispatcher) Reply(ctx context.Context, post *models.Post, text string) {
	opts := &transport.SendOpts{ReplyTo: post.SubmitterMsgID}
	if _, err := d.Transport.SendMessage(ctx, post.SubmitterID, text, opts); err != nil {
		d.Logger.Warn("submitter reply failed", "post", post.ID, "submitter", post.SubmitterID, "err", err)
	}
}
