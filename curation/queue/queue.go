// Package queue hands pending posts to reviewers one at a time. Allocation
// is pull-based and session-local: nothing is locked in the store, so two
// reviewers may be shown the same post concurrently. The tally engine's
// one-active-vote-per-reviewer rule makes that a duplicate display, not a
// duplicate effect.
package queue

import (
	"context"
	"errors"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/nightcrew/gatekeep/poststore"
)

// ErrNoPendingWork means the store was scanned to exhaustion without finding
// a post this reviewer can still act on.
var ErrNoPendingWork = errors.New("no pending posts left to review")

const DefaultPageSize = 10

type Sessions struct {
	store    *poststore.Store
	pageSize int
	sessions *xsync.MapOf[int64, *session]
}

type session struct {
	mu      sync.Mutex
	backlog []int64
}

func NewSessions(store *poststore.Store, pageSize int) *Sessions {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Sessions{
		store:    store,
		pageSize: pageSize,
		sessions: xsync.NewMapOf[int64, *session](),
	}
}

// Next returns the next post id for the reviewer to look at. Buffered ids
// from a previous scan are drained before the store is queried again; a full
// scan with no hits reports ErrNoPendingWork.
func (s *Sessions) Next(ctx context.Context, reviewerID int64) (int64, error) {
	sess, _ := s.sessions.LoadOrCompute(reviewerID, func() *session {
		return &session{}
	})
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if len(sess.backlog) > 0 {
		id := sess.backlog[0]
		sess.backlog = sess.backlog[1:]
		return id, nil
	}

	// the exclusion happens in the store query, so one empty page means the
	// scan is exhausted
	ids, err := s.store.ListPendingExcluding(ctx, reviewerID, 0, s.pageSize)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, ErrNoPendingWork
	}
	sess.backlog = append(sess.backlog, ids[1:]...)
	return ids[0], nil
}

// Cancel releases the reviewer's buffered session state.
func (s *Sessions) Cancel(reviewerID int64) {
	s.sessions.Delete(reviewerID)
}
