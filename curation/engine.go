package curation

import (
	"log/slog"

	"github.com/nightcrew/gatekeep/curation/dedupe"
	"github.com/nightcrew/gatekeep/models"
	"github.com/nightcrew/gatekeep/notify"
	"github.com/nightcrew/gatekeep/poststore"
	"github.com/nightcrew/gatekeep/transport"
)

// Engine executes review operations, manages the post log, and drives the
// downstream side effects (audit message, publication, notification).
//
// All store mutations for one operation run inside a single transaction.
// Side effects run only after the transaction commits; a transport failure
// after commit leaves a finalized-but-unpublished post, which is an accepted
// at-least-once boundary reconciled manually by an operator.
type Engine struct {
	Logger    *slog.Logger
	Store     *poststore.Store
	Transport transport.Client
	Notifier  *notify.Dispatcher
	Dedupe    dedupe.Guard
	Config    Config
}

type Config struct {
	// Votes needed to finalize. Both must be >= 1.
	ApproveThreshold int
	RejectThreshold  int

	// Preset rejection reasons offered to reviewers.
	RejectionReasons []string

	PublishChannel  int64
	RejectedChannel int64
	ReviewGroup     int64

	// RetractNotify gates whether submitters are told about rejections.
	RetractNotify bool
}

// Verdict is the reviewer-facing vote choice. rejectDuplicate both records a
// reject vote and supplies the rejection reason in one step.
type Verdict string

const (
	VerdictApprove         Verdict = "approve"
	VerdictApproveNSFW     Verdict = "approveNSFW"
	VerdictReject          Verdict = "reject"
	VerdictRejectDuplicate Verdict = "rejectDuplicate"
)

// DuplicateRejectionReason is the fixed reason recorded by rejectDuplicate.
const DuplicateRejectionReason = "already published or submitted"

// Value maps a verdict onto the stored vote value.
func (v Verdict) Value() (models.VoteValue, error) {
	switch v {
	case VerdictApprove:
		return models.VoteApprove, nil
	case VerdictApproveNSFW:
		return models.VoteApproveNSFW, nil
	case VerdictReject, VerdictRejectDuplicate:
		return models.VoteReject, nil
	default:
		return 0, ErrValidation
	}
}

// Outcome is the tagged result of a recompute: what the post's status is
// now, whether this operation changed it, and what to surface to users.
type Outcome struct {
	Status models.PostStatus
	// Changed is set when this recompute moved the status forward.
	Changed bool
	// NSFW is set on approvals where any counted vote was approve-NSFW.
	NSFW bool
	// Reason carries the rejection reason (may be empty, meaning none given).
	Reason string
	// VoteChanged marks that the triggering cast replaced an earlier vote.
	VoteChanged bool
}
