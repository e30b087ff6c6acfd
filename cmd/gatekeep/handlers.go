package main

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/nightcrew/gatekeep/curation"
	"github.com/nightcrew/gatekeep/curation/mediagroup"
	"github.com/nightcrew/gatekeep/curation/queue"
	"github.com/nightcrew/gatekeep/models"
	"github.com/nightcrew/gatekeep/transport"
)

const confirmPrompt = "Submit this to the review queue?"

const helpText = `Send me text or media and I will forward it to the review queue.

Commands:
/reviewer - opt in as a reviewer
/next - fetch the next pending post to review
/cancel - clear your review session
/help - this message`

// HandleWebhook ingests one transport update. Processing errors are logged
// and swallowed: the transport redelivers on non-200 responses, and every
// handler is idempotent enough that redelivery of a half-processed update is
// worse than dropping it.
func (s *Server) HandleWebhook(c echo.Context) error {
	var upd transport.Update
	if err := c.Bind(&upd); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed update")
	}
	if err := s.processUpdate(c.Request().Context(), &upd); err != nil {
		s.logger.Error("update processing failed", "update", upd.ID, "err", err)
	}
	return c.NoContent(http.StatusOK)
}

func (s *Server) processUpdate(ctx context.Context, upd *transport.Update) error {
	switch {
	case upd.Message != nil:
		return s.handleMessage(ctx, upd.Message)
	case upd.CallbackQuery != nil:
		return s.handleCallback(ctx, upd.CallbackQuery)
	case upd.InlineQuery != nil:
		return s.handleInline(ctx, upd.InlineQuery)
	}
	return nil
}

func (s *Server) handleMessage(ctx context.Context, msg *transport.IncomingMsg) error {
	if msg.ChatType != "private" {
		return s.handleGroupAction(ctx, msg)
	}
	if strings.HasPrefix(msg.Text, "/") {
		return s.handleCommand(ctx, msg)
	}
	return s.handleSubmissionContent(ctx, msg)
}

func (s *Server) handleCommand(ctx context.Context, msg *transport.IncomingMsg) error {
	fields := strings.Fields(msg.Text)
	cmd := fields[0]
	// commands addressed to the bot by name still count
	if i := strings.IndexByte(cmd, '@'); i > 0 {
		cmd = cmd[:i]
	}

	switch cmd {
	case "/start", "/help":
		return s.replyText(ctx, msg, helpText)

	case "/reviewer":
		created, err := s.engine.BecomeReviewer(ctx, msg.From)
		if err != nil {
			return err
		}
		if !created {
			return s.replyText(ctx, msg, "You are already a reviewer.")
		}
		return s.replyText(ctx, msg, "You are now a reviewer. Send /next to start reviewing.")

	case "/next":
		if _, err := s.engine.CheckReviewer(ctx, msg.From.ID); err != nil {
			return s.replyText(ctx, msg, errorMessage(err))
		}
		postID, err := s.sessions.Next(ctx, msg.From.ID)
		if errors.Is(err, queue.ErrNoPendingWork) {
			return s.replyText(ctx, msg, "No pending posts left for you to review.")
		}
		if err != nil {
			return err
		}
		return s.presentPost(ctx, msg.ChatID, postID)

	case "/cancel":
		s.sessions.Cancel(msg.From.ID)
		return s.replyText(ctx, msg, "Review session cleared.")

	case "/ban", "/unban":
		return s.handleBanCommand(ctx, msg, cmd, fields[1:])

	default:
		return s.replyText(ctx, msg, "Unknown command. Send /help for usage.")
	}
}

func (s *Server) handleBanCommand(ctx context.Context, msg *transport.IncomingMsg, cmd string, args []string) error {
	if _, err := s.engine.CheckReviewer(ctx, msg.From.ID); err != nil {
		return s.replyText(ctx, msg, errorMessage(err))
	}
	if len(args) < 1 {
		return s.replyText(ctx, msg, fmt.Sprintf("Usage: %s <user id> [reason]", cmd))
	}
	userID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return s.replyText(ctx, msg, "Invalid user id.")
	}
	if cmd == "/unban" {
		if err := s.store.UnbanUser(ctx, userID); err != nil {
			return err
		}
		return s.replyText(ctx, msg, "User unbanned.")
	}
	ban := &models.BannedUser{
		UserID:   userID,
		Reason:   strings.Join(args[1:], " "),
		BannedAt: time.Now(),
		BannedBy: msg.From.ID,
	}
	if err := s.store.BanUser(ctx, ban); err != nil {
		return err
	}
	return s.replyText(ctx, msg, "User banned from submitting.")
}

// handleSubmissionContent takes a non-command private message as submission
// content. Media-group parts are buffered; everything else gets an immediate
// confirmation prompt.
func (s *Server) handleSubmissionContent(ctx context.Context, msg *transport.IncomingMsg) error {
	if err := s.engine.CheckBanned(ctx, msg.From); err != nil {
		if errors.Is(err, curation.ErrBanned) {
			return s.replyText(ctx, msg, errorMessage(err))
		}
		return err
	}
	if msg.Attachment == nil && msg.Body() == "" {
		return s.replyText(ctx, msg, "There is nothing to submit in that message.")
	}

	if msg.MediaGroupID != "" {
		if msg.Attachment == nil {
			return nil
		}
		s.agg.Add(msg.MediaGroupID, mediagroup.Item{
			Attachment: *msg.Attachment,
			MessageID:  msg.MessageID,
			From:       msg.ChatID,
		})
		return nil
	}

	_, err := s.bot.SendMessage(ctx, msg.ChatID, confirmPrompt, &transport.SendOpts{
		Keyboard: curation.ConfirmKeyboard(),
		ReplyTo:  msg.MessageID,
	})
	return err
}

func (s *Server) handleCallback(ctx context.Context, cq *transport.CallbackQuery) error {
	switch {
	case cq.Data == "cancel":
		return s.handleCancelCallback(ctx, cq)
	case cq.Data == "submitConfirm":
		return s.handleSubmitConfirm(ctx, cq, false)
	case cq.Data == "submitConfirm_real_name":
		return s.handleSubmitConfirm(ctx, cq, true)
	default:
		return s.handleReviewCallback(ctx, cq)
	}
}

func (s *Server) handleCancelCallback(ctx context.Context, cq *transport.CallbackQuery) error {
	var originals []int64
	if cq.ReplyTo != nil && cq.ReplyTo.MediaGroupID != "" {
		s.agg.Cancel(cq.ReplyTo.MediaGroupID)
		if items, ok := s.pendingGroups.LoadAndDelete(cq.ReplyTo.MediaGroupID); ok {
			for _, it := range items {
				originals = append(originals, it.MessageID)
			}
		}
	} else if cq.ReplyTo != nil {
		originals = append(originals, cq.ReplyTo.MessageID)
	}

	if err := s.bot.DeleteMessage(ctx, cq.ChatID, cq.MessageID); err != nil {
		s.logger.Warn("failed to delete confirmation prompt", "chat", cq.ChatID, "err", err)
	}
	if s.deleteOnCancel {
		for _, id := range originals {
			if err := s.bot.DeleteMessage(ctx, cq.ChatID, id); err != nil {
				s.logger.Warn("failed to delete original message", "chat", cq.ChatID, "msg", id, "err", err)
			}
		}
	}
	return s.bot.AnswerCallback(ctx, cq.ID, "Submission cancelled.", false)
}

func (s *Server) handleSubmitConfirm(ctx context.Context, cq *transport.CallbackQuery, signed bool) error {
	if cq.ReplyTo == nil {
		return s.bot.AnswerCallback(ctx, cq.ID, "This prompt has expired, send your content again.", true)
	}
	if err := s.engine.CheckDuplicate(ctx, cq.From.ID, cq.DedupeKey()); err != nil {
		if errors.Is(err, curation.ErrDuplicateAction) {
			return s.bot.AnswerCallback(ctx, cq.ID, "", false)
		}
		return err
	}

	text := cq.ReplyTo.Body()
	var atts []models.Attachment
	submitterMsgID := cq.ReplyTo.MessageID

	if gid := cq.ReplyTo.MediaGroupID; gid != "" {
		items, ok := s.pendingGroups.LoadAndDelete(gid)
		if !ok {
			return s.bot.AnswerCallback(ctx, cq.ID, "This prompt has expired, send your content again.", true)
		}
		for _, it := range items {
			atts = append(atts, it.Attachment)
		}
		submitterMsgID = items[0].MessageID
	} else if cq.ReplyTo.Attachment != nil {
		atts = append(atts, *cq.ReplyTo.Attachment)
	}

	if attribution := submissionAttribution(cq, signed); attribution != "" {
		text += "\n\nvia " + attribution
	}

	post, err := s.engine.CreateSubmission(ctx, curation.Submission{
		Submitter:      cq.From,
		Text:           text,
		Attachments:    atts,
		SubmitterMsgID: submitterMsgID,
	})
	if err != nil {
		s.logger.Error("submission failed", "submitter", cq.From.ID, "err", err)
		return s.bot.AnswerCallback(ctx, cq.ID, "Submission failed, try again later.", true)
	}

	if err := s.bot.EditMessageText(ctx, cq.ChatID, cq.MessageID, "✅ Submitted for review.", nil); err != nil {
		s.logger.Warn("failed to update confirmation prompt", "post", post.ID, "err", err)
	}
	return s.bot.AnswerCallback(ctx, cq.ID, "Submitted for review 💌", false)
}

// submissionAttribution renders the credit line appended to the submission
// body. Forwarded content credits the original author; otherwise a signed
// submission credits the submitter.
func submissionAttribution(cq *transport.CallbackQuery, signed bool) string {
	if cq.ReplyTo.ForwardFrom != "" {
		name := html.EscapeString(cq.ReplyTo.ForwardFrom)
		if cq.ReplyTo.ForwardLink != "" {
			return fmt.Sprintf("<a href=\"%s\">%s</a>", cq.ReplyTo.ForwardLink, name)
		}
		return name
	}
	if signed {
		return fmt.Sprintf("<a href=\"tg://user?id=%d\">%s</a>", cq.From.ID, html.EscapeString(cq.From.FullName))
	}
	return ""
}

var voteAnswers = map[models.VoteValue]string{
	models.VoteApprove:     "Your current vote: approve",
	models.VoteApproveNSFW: "Your current vote: approve as NSFW",
	models.VoteReject:      "Your current vote: reject",
}

func (s *Server) handleReviewCallback(ctx context.Context, cq *transport.CallbackQuery) error {
	if _, err := s.engine.CheckReviewer(ctx, cq.From.ID); err != nil {
		if errors.Is(err, curation.ErrNotReviewer) {
			return s.bot.AnswerCallback(ctx, cq.ID, errorMessage(err), true)
		}
		return err
	}

	if reasonArgs, ok := strings.CutPrefix(cq.Data, "reason_"); ok {
		return s.handleReasonCallback(ctx, cq, reasonArgs)
	}

	// longer prefixes first; approve_ is a prefix of approve_NSFW_
	var verdict curation.Verdict
	var rest string
	switch {
	case strings.HasPrefix(cq.Data, "approve_NSFW_"):
		verdict, rest = curation.VerdictApproveNSFW, cq.Data[len("approve_NSFW_"):]
	case strings.HasPrefix(cq.Data, "approve_"):
		verdict, rest = curation.VerdictApprove, cq.Data[len("approve_"):]
	case strings.HasPrefix(cq.Data, "rejectDuplicate_"):
		verdict, rest = curation.VerdictRejectDuplicate, cq.Data[len("rejectDuplicate_"):]
	case strings.HasPrefix(cq.Data, "reject_"):
		verdict, rest = curation.VerdictReject, cq.Data[len("reject_"):]
	case strings.HasPrefix(cq.Data, "voteQuery_"):
		return s.handleVoteQuery(ctx, cq, cq.Data[len("voteQuery_"):])
	case strings.HasPrefix(cq.Data, "voteRevoke_"):
		return s.handleVoteRevoke(ctx, cq, cq.Data[len("voteRevoke_"):])
	default:
		return s.bot.AnswerCallback(ctx, cq.ID, "Unknown action.", false)
	}

	postID, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return s.bot.AnswerCallback(ctx, cq.ID, "Unknown action.", false)
	}
	if err := s.engine.CheckDuplicate(ctx, cq.From.ID, cq.DedupeKey()); err != nil {
		if errors.Is(err, curation.ErrDuplicateAction) {
			return s.bot.AnswerCallback(ctx, cq.ID, "", false)
		}
		return err
	}

	out, err := s.engine.CastVote(ctx, cq.From.ID, postID, verdict)
	if err != nil {
		return s.bot.AnswerCallback(ctx, cq.ID, errorMessage(err), true)
	}
	return s.bot.AnswerCallback(ctx, cq.ID, voteOutcomeText(out), false)
}

func voteOutcomeText(out *curation.Outcome) string {
	var b strings.Builder
	if out.VoteChanged {
		b.WriteString("Vote updated.")
	} else {
		b.WriteString("Vote recorded.")
	}
	if out.Changed {
		switch out.Status {
		case models.StatusApproved:
			b.WriteString(" The post is approved.")
		case models.StatusRejected:
			b.WriteString(" The post is rejected.")
		case models.StatusNeedReason:
			b.WriteString(" Pick a rejection reason.")
		}
	}
	return b.String()
}

func (s *Server) handleReasonCallback(ctx context.Context, cq *transport.CallbackQuery, args string) error {
	idStr, sel, ok := strings.Cut(args, "_")
	if !ok {
		return s.bot.AnswerCallback(ctx, cq.ID, "Unknown action.", false)
	}
	postID, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return s.bot.AnswerCallback(ctx, cq.ID, "Unknown action.", false)
	}

	var reason string
	if sel != "skip" {
		idx, err := strconv.Atoi(sel)
		if err != nil || idx < 0 || idx >= len(s.engine.Config.RejectionReasons) {
			return s.bot.AnswerCallback(ctx, cq.ID, "Unknown rejection reason.", false)
		}
		reason = s.engine.Config.RejectionReasons[idx]
	}

	if err := s.engine.CheckDuplicate(ctx, cq.From.ID, cq.DedupeKey()); err != nil {
		if errors.Is(err, curation.ErrDuplicateAction) {
			return s.bot.AnswerCallback(ctx, cq.ID, "", false)
		}
		return err
	}

	if _, err := s.engine.ChooseReason(ctx, cq.From.ID, postID, reason); err != nil {
		return s.bot.AnswerCallback(ctx, cq.ID, errorMessage(err), true)
	}
	return s.bot.AnswerCallback(ctx, cq.ID, "The post is rejected.", false)
}

func (s *Server) handleVoteQuery(ctx context.Context, cq *transport.CallbackQuery, idStr string) error {
	postID, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return s.bot.AnswerCallback(ctx, cq.ID, "Unknown action.", false)
	}
	v, err := s.engine.QueryVote(ctx, cq.From.ID, postID)
	if err != nil {
		return s.bot.AnswerCallback(ctx, cq.ID, errorMessage(err), false)
	}
	return s.bot.AnswerCallback(ctx, cq.ID, voteAnswers[v], false)
}

func (s *Server) handleVoteRevoke(ctx context.Context, cq *transport.CallbackQuery, idStr string) error {
	postID, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return s.bot.AnswerCallback(ctx, cq.ID, "Unknown action.", false)
	}
	if err := s.engine.CheckDuplicate(ctx, cq.From.ID, cq.DedupeKey()); err != nil {
		if errors.Is(err, curation.ErrDuplicateAction) {
			return s.bot.AnswerCallback(ctx, cq.ID, "", false)
		}
		return err
	}
	if err := s.engine.RevokeVote(ctx, cq.From.ID, postID); err != nil {
		return s.bot.AnswerCallback(ctx, cq.ID, errorMessage(err), true)
	}
	return s.bot.AnswerCallback(ctx, cq.ID, "Your vote has been revoked.", false)
}

// inlineActionPattern matches the action messages composed through the
// switch-inline controls: <action>_<post id># <payload>.
var inlineActionPattern = regexp.MustCompile(`(?s)^(append|removeAppend|comment|reject|reply)_(\d+)#\s*(.*)$`)

// handleGroupAction executes an action message sent into the review group by
// picking an inline result. Anything else in a group is ignored.
func (s *Server) handleGroupAction(ctx context.Context, msg *transport.IncomingMsg) error {
	m := inlineActionPattern.FindStringSubmatch(msg.Text)
	if m == nil {
		return nil
	}
	action, payload := m[1], strings.TrimSpace(m[3])
	postID, err := strconv.ParseInt(m[2], 10, 64)
	if err != nil {
		return nil
	}

	if _, err := s.engine.CheckReviewer(ctx, msg.From.ID); err != nil {
		if errors.Is(err, curation.ErrNotReviewer) {
			return s.replyText(ctx, msg, errorMessage(err))
		}
		return err
	}

	switch action {
	case "append":
		err = s.engine.AppendComment(ctx, msg.From.ID, postID, payload)
		return s.actionReply(ctx, msg, err, "Note attached.")
	case "removeAppend":
		err = s.engine.RemoveComments(ctx, msg.From.ID, postID)
		return s.actionReply(ctx, msg, err, "Your notes were removed.")
	case "comment", "reply":
		err = s.engine.ReplySubmitter(ctx, postID, payload)
		return s.actionReply(ctx, msg, err, "Reply relayed to the submitter.")
	case "reject":
		_, err = s.engine.ChooseReason(ctx, msg.From.ID, postID, payload)
		return s.actionReply(ctx, msg, err, "The post is rejected.")
	}
	return nil
}

func (s *Server) actionReply(ctx context.Context, msg *transport.IncomingMsg, err error, success string) error {
	text := success
	if err != nil {
		text = errorMessage(err)
	}
	return s.replyText(ctx, msg, text)
}

var inlineTitles = map[string]string{
	"append":       "Attach a reviewer note",
	"removeAppend": "Remove my notes",
	"comment":      "Reply to the submitter",
	"reply":        "Reply to the submitter",
	"reject":       "Reject with this reason",
}

// handleInline answers inline queries composed through the switch-inline
// controls. Picking the result sends the action message into the review
// group, where handleGroupAction executes it.
func (s *Server) handleInline(ctx context.Context, iq *transport.InlineQuery) error {
	m := inlineActionPattern.FindStringSubmatch(iq.Query)
	if m == nil {
		return s.bot.AnswerInline(ctx, iq.ID, nil)
	}
	return s.bot.AnswerInline(ctx, iq.ID, []transport.InlineResult{{
		ID:    "1",
		Title: inlineTitles[m[1]],
		Text:  iq.Query,
	}})
}

// presentPost renders a pending post into a reviewer's private chat, followed
// by the vote controls.
func (s *Server) presentPost(ctx context.Context, chatID, postID int64) error {
	post, err := s.store.GetPost(ctx, postID)
	if err != nil {
		return err
	}
	atts, err := post.ParseAttachments()
	if err != nil {
		return err
	}

	var contentMsgID int64
	if len(atts) == 0 {
		msg, err := s.bot.SendMessage(ctx, chatID, post.Text, nil)
		if err != nil {
			return err
		}
		contentMsgID = msg.ID
	} else {
		media := make([]transport.Media, 0, len(atts))
		for _, a := range atts {
			media = append(media, transport.Media{Type: a.MediaType, Ref: a.MediaID})
		}
		msgs, err := s.bot.SendMediaGroup(ctx, chatID, media, post.Text, nil)
		if err != nil {
			return err
		}
		contentMsgID = msgs[0].ID
	}

	_, err = s.bot.SendMessage(ctx, chatID, "Cast your vote:", &transport.SendOpts{
		Keyboard: curation.ReviewKeyboard(post.ID),
		ReplyTo:  contentMsgID,
	})
	return err
}

func (s *Server) replyText(ctx context.Context, msg *transport.IncomingMsg, text string) error {
	_, err := s.bot.SendMessage(ctx, msg.ChatID, text, &transport.SendOpts{ReplyTo: msg.MessageID})
	return err
}

// errorMessage maps workflow failures onto reviewer- and submitter-facing
// acknowledgment text.
func errorMessage(err error) string {
	switch {
	case errors.Is(err, curation.ErrPostNotFound):
		return "Post not found."
	case errors.Is(err, curation.ErrPostFinalized):
		return "This post has already been finalized."
	case errors.Is(err, curation.ErrDuplicateVote):
		return "You already cast that vote."
	case errors.Is(err, curation.ErrInvalidState):
		return "That action is not available for this post right now."
	case errors.Is(err, curation.ErrNoVote):
		return "You have no active vote on this post."
	case errors.Is(err, curation.ErrNotReviewer):
		return "You are not a reviewer. Send /reviewer to opt in."
	case errors.Is(err, curation.ErrBanned):
		return "You are not allowed to submit."
	case errors.Is(err, curation.ErrValidation):
		return "There is nothing to submit in that message."
	default:
		return "Something went wrong, try again later."
	}
}
