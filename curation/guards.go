package curation

import (
	"context"
	"errors"
	"fmt"

	"github.com/nightcrew/gatekeep/models"
	"github.com/nightcrew/gatekeep/poststore"
	"github.com/nightcrew/gatekeep/transport"
)

// Cross-cutting checks composed around handlers, evaluated before any
// operation transaction opens.

// CheckBanned rejects banned users and upserts the submitter record (display
// fields refresh on every contact).
func (e *Engine) CheckBanned(ctx context.Context, user transport.User) error {
	banned, err := e.Store.IsBanned(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("ban lookup: %w", err)
	}
	if banned {
		return ErrBanned
	}
	if _, err := e.Store.UpsertSubmitter(ctx, user.ID, user.Username, user.FullName); err != nil {
		return fmt.Errorf("submitter upsert: %w", err)
	}
	return nil
}

// CheckReviewer verifies the user opted in as a reviewer.
func (e *Engine) CheckReviewer(ctx context.Context, userID int64) (*models.Reviewer, error) {
	rev, err := e.Store.GetReviewer(ctx, userID)
	if errors.Is(err, poststore.ErrNotFound) {
		return nil, ErrNotReviewer
	}
	if err != nil {
		return nil, err
	}
	return rev, nil
}

// CheckDuplicate runs the duplicate-action guard for one interaction key.
func (e *Engine) CheckDuplicate(ctx context.Context, userID int64, key string) error {
	dup, err := e.Dedupe.Check(ctx, userID, key)
	if err != nil {
		return fmt.Errorf("dedupe check: %w", err)
	}
	if dup {
		duplicateActionCount.Inc()
		return ErrDuplicateAction
	}
	return nil
}
