package poststore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/nightcrew/gatekeep/models"
)

// ErrNotFound is returned when a requested record does not exist. Callers
// should match with errors.Is.
var ErrNotFound = errors.New("record not found")

// Store wraps a gorm handle with the operations the review workflow needs.
// All mutations for one logical operation are expected to run inside a single
// Transaction call.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(
		&models.Post{},
		&models.PostEvent{},
		&models.Reviewer{},
		&models.Submitter{},
		&models.BannedUser{},
	); err != nil {
		return nil, fmt.Errorf("migrating review schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Transaction runs fn against a store scoped to one database transaction,
// committing on nil and rolling back on error.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

func (s *Store) GetPost(ctx context.Context, id int64) (*models.Post, error) {
	var post models.Post
	if err := s.db.WithContext(ctx).First(&post, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &post, nil
}

func (s *Store) CreatePost(ctx context.Context, post *models.Post) error {
	return s.db.WithContext(ctx).Create(post).Error
}

// SetPostStatus writes the post's new status. The completion timestamp is set
// exactly once, when the post first enters a terminal state.
func (s *Store) SetPostStatus(ctx context.Context, post *models.Post, status models.PostStatus) error {
	updates := map[string]any{"status": status}
	if status.Terminal() && post.FinishedAt == nil {
		now := time.Now()
		post.FinishedAt = &now
		updates["finished_at"] = now
	}
	if err := s.db.WithContext(ctx).Model(&models.Post{}).Where("id = ?", post.ID).Updates(updates).Error; err != nil {
		return err
	}
	post.Status = status
	return nil
}

// SetPublished records the outbound message id of the published (or archived)
// content.
func (s *Store) SetPublished(ctx context.Context, postID int64, publishMsgID int64) error {
	return s.db.WithContext(ctx).Model(&models.Post{}).Where("id = ?", postID).
		Update("publish_msg_id", publishMsgID).Error
}

func (s *Store) SetPostExtra(ctx context.Context, postID int64, extra string) error {
	return s.db.WithContext(ctx).Model(&models.Post{}).Where("id = ?", postID).
		Update("extra", extra).Error
}

// GetVote returns the reviewer's active vote event on a post, or ErrNotFound.
func (s *Store) GetVote(ctx context.Context, postID, reviewerID int64) (*models.PostEvent, error) {
	var ev models.PostEvent
	err := s.db.WithContext(ctx).
		Where("post_id = ? AND actor_id = ? AND kind = ?", postID, reviewerID, models.EventKindVote).
		First(&ev).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &ev, nil
}

// SaveEvent inserts a new event, or updates it in place when it already has a
// row id (vote corrections).
func (s *Store) SaveEvent(ctx context.Context, ev *models.PostEvent) error {
	return s.db.WithContext(ctx).Save(ev).Error
}

// AppendSystemEvent appends an immutable system log entry for a post. A nil
// actor marks the event as engine-generated.
func (s *Store) AppendSystemEvent(ctx context.Context, postID int64, actor *int64, code, message string) error {
	ev := models.PostEvent{
		PostID:    postID,
		ActorID:   actor,
		Kind:      models.EventKindSystem,
		Code:      code,
		Message:   message,
		CreatedAt: time.Now(),
	}
	return s.db.WithContext(ctx).Create(&ev).Error
}

// ListEvents returns a post's full review log, oldest first.
func (s *Store) ListEvents(ctx context.Context, postID int64) ([]models.PostEvent, error) {
	var evs []models.PostEvent
	err := s.db.WithContext(ctx).
		Where("post_id = ?", postID).
		Order("created_at asc, id asc").
		Find(&evs).Error
	return evs, err
}

// DeleteReviewerVotes removes all of a reviewer's vote events for a post and
// reports how many rows were deleted.
func (s *Store) DeleteReviewerVotes(ctx context.Context, postID, reviewerID int64) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("post_id = ? AND actor_id = ? AND kind = ?", postID, reviewerID, models.EventKindVote).
		Delete(&models.PostEvent{})
	return res.RowsAffected, res.Error
}

// ListPendingExcluding returns one page of PENDING post ids in creation
// order, skipping any post the reviewer already has a log entry for. Used by
// the review distribution queue.
func (s *Store) ListPendingExcluding(ctx context.Context, reviewerID int64, offset, limit int) ([]int64, error) {
	var ids []int64
	err := s.db.WithContext(ctx).Model(&models.Post{}).
		Where("status = ?", models.StatusPending).
		Where("id NOT IN (?)", s.db.Model(&models.PostEvent{}).
			Select("post_id").Where("actor_id = ?", reviewerID)).
		Order("created_at asc, id asc").
		Offset(offset).Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}

func (s *Store) GetReviewer(ctx context.Context, userID int64) (*models.Reviewer, error) {
	var r models.Reviewer
	if err := s.db.WithContext(ctx).First(&r, "user_id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &r, nil
}

func (s *Store) SaveReviewer(ctx context.Context, r *models.Reviewer) error {
	return s.db.WithContext(ctx).Save(r).Error
}

// UpsertSubmitter creates the submitter row on first contact and refreshes
// the display fields on every later one.
func (s *Store) UpsertSubmitter(ctx context.Context, userID int64, username, fullName string) (*models.Submitter, error) {
	var sub models.Submitter
	err := s.db.WithContext(ctx).First(&sub, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		sub = models.Submitter{UserID: userID, Username: username, FullName: fullName}
		if err := s.db.WithContext(ctx).Create(&sub).Error; err != nil {
			return nil, err
		}
		return &sub, nil
	}
	if err != nil {
		return nil, err
	}
	sub.Username = username
	sub.FullName = fullName
	if err := s.db.WithContext(ctx).Save(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func (s *Store) GetSubmitter(ctx context.Context, userID int64) (*models.Submitter, error) {
	var sub models.Submitter
	if err := s.db.WithContext(ctx).First(&sub, "user_id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &sub, nil
}

func (s *Store) SaveSubmitter(ctx context.Context, sub *models.Submitter) error {
	return s.db.WithContext(ctx).Save(sub).Error
}

// BumpSubmissionCount increments the submitter's total, creating the row if
// it does not exist yet.
func (s *Store) BumpSubmissionCount(ctx context.Context, userID int64) error {
	res := s.db.WithContext(ctx).Model(&models.Submitter{}).
		Where("user_id = ?", userID).
		Update("submission_count", gorm.Expr("submission_count + 1"))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return s.db.WithContext(ctx).Create(&models.Submitter{UserID: userID, SubmissionCount: 1}).Error
	}
	return nil
}

func (s *Store) IsBanned(ctx context.Context, userID int64) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.BannedUser{}).
		Where("user_id = ?", userID).Count(&count).Error
	return count > 0, err
}

func (s *Store) BanUser(ctx context.Context, ban *models.BannedUser) error {
	return s.db.WithContext(ctx).Save(ban).Error
}

func (s *Store) UnbanUser(ctx context.Context, userID int64) error {
	return s.db.WithContext(ctx).Delete(&models.BannedUser{}, "user_id = ?", userID).Error
}
