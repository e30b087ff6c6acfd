package models

import (
	"encoding/json"
	"time"
)

// PostStatus is the review lifecycle state of a submission. Transitions are
// monotonic: PENDING -> {APPROVED, REJECTED, NEED_REASON}, NEED_REASON -> REJECTED.
type PostStatus int

const (
	StatusPending    PostStatus = 0
	StatusApproved   PostStatus = 1
	StatusRejected   PostStatus = 2
	StatusNeedReason PostStatus = 3
)

// Terminal indicates the post has completed review and can never change again.
func (s PostStatus) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

func (s PostStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusApproved:
		return "approved"
	case StatusRejected:
		return "rejected"
	case StatusNeedReason:
		return "need-reason"
	default:
		return "unknown"
	}
}

// VoteValue is a single reviewer's verdict on a post.
type VoteValue int

const (
	VoteApprove     VoteValue = 1
	VoteReject      VoteValue = 2
	VoteApproveNSFW VoteValue = 3
)

// PostEvent kinds
const (
	EventKindVote   = "vote"
	EventKindSystem = "system"
)

// System event codes. "reason" and "duplicate" events carry a rejection
// reason in Message (possibly empty, meaning no reason given); "approved" is
// the synthetic event appended when the approve threshold is crossed.
const (
	SystemCodeReason    = "reason"
	SystemCodeDuplicate = "duplicate"
	SystemCodeApproved  = "approved"
)

type Post struct {
	ID             int64      `gorm:"primaryKey"`
	Text           string     // rendered submission body (may be empty for media-only posts)
	Attachments    string     // JSON array of Attachment, immutable after creation
	SubmitterID    int64      `gorm:"not null;index"`
	Status         PostStatus `gorm:"not null;default:0;index"`
	SubmitterMsgID int64      // original message in the submitter's chat
	ReviewMsgID    int64      // copy of the content in the review group
	OperateMsgID   int64      // controls/audit message in the review group
	PublishMsgID   int64      // published message (rejected-archive message for rejections)
	Extra          string     // JSON extension data (reviewer comments)
	CreatedAt      time.Time  `gorm:"not null"`
	FinishedAt     *time.Time
}

// ParseAttachments decodes the post's attachment list. A post created without
// media has an empty list.
func (p *Post) ParseAttachments() ([]Attachment, error) {
	if p.Attachments == "" {
		return nil, nil
	}
	var out []Attachment
	if err := json.Unmarshal([]byte(p.Attachments), &out); err != nil {
		return nil, err
	}
	return out, nil
}

type Attachment struct {
	MediaType string `json:"media_type"`
	MediaID   string `json:"media_id"`
}

func EncodeAttachments(atts []Attachment) (string, error) {
	if atts == nil {
		atts = []Attachment{}
	}
	b, err := json.Marshal(atts)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// PostExtra is the free-form extension payload stored on Post.Extra.
type PostExtra struct {
	Comments []PostComment `json:"comment,omitempty"`
}

type PostComment struct {
	ReviewerID int64  `json:"reviewer_id"`
	Comment    string `json:"comment"`
}

// PostEvent is one immutable entry in a post's review log: either a
// reviewer's vote or a system-generated fact. For a given (post, actor) pair
// at most one vote event is active at a time; a repeat vote by the same actor
// updates the existing row in place. System events are append-only.
type PostEvent struct {
	ID        uint64 `gorm:"primaryKey"`
	PostID    int64  `gorm:"not null;index"`
	ActorID   *int64 `gorm:"index"` // nil for system events
	Kind      string `gorm:"not null"`
	Vote      VoteValue
	Code      string    // system events only
	Message   string    // rejection reason, for "reason"/"duplicate" system events
	CreatedAt time.Time `gorm:"not null"`
}

type Reviewer struct {
	UserID                  int64 `gorm:"primaryKey"`
	Username                string
	FullName                string
	ApproveCount            int64 `gorm:"not null;default:0"`
	RejectCount             int64 `gorm:"not null;default:0"`
	ApproveButRejectedCount int64 `gorm:"not null;default:0"`
	RejectButApprovedCount  int64 `gorm:"not null;default:0"`
	LastReviewedAt          *time.Time
}

type Submitter struct {
	UserID          int64 `gorm:"primaryKey"`
	Username        string
	FullName        string
	SubmissionCount int64 `gorm:"not null;default:0"`
	ApprovedCount   int64 `gorm:"not null;default:0"`
	RejectedCount   int64 `gorm:"not null;default:0"`
}

type BannedUser struct {
	UserID   int64 `gorm:"primaryKey"`
	Username string
	FullName string
	Reason   string
	BannedAt time.Time `gorm:"not null"`
	BannedBy int64
}
