// Package mediagroup coalesces attachments that arrive as separate transport
// events but belong to one logical submission. There is no end-of-group
// signal on the wire; a debounce window that restarts on every arrival is the
// only way to detect completion.
package mediagroup

import (
	"log/slog"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/nightcrew/gatekeep/models"
)

// Item is one buffered attachment plus the transport message that carried it.
type Item struct {
	Attachment models.Attachment
	MessageID  int64
	From       int64
}

// FinalizeFunc receives the completed group once the debounce window elapses
// with no further arrivals. It runs on a timer goroutine, never on the
// event-processing path.
type FinalizeFunc func(groupID string, items []Item)

type Aggregator struct {
	logger   *slog.Logger
	window   time.Duration
	finalize FinalizeFunc
	groups   *xsync.MapOf[string, *group]
}

type group struct {
	mu       sync.Mutex
	items    []Item
	timer    *time.Timer
	pending  bool
	deadline time.Time
}

func NewAggregator(logger *slog.Logger, window time.Duration, finalize FinalizeFunc) *Aggregator {
	return &Aggregator{
		logger:   logger.With("component", "mediagroup"),
		window:   window,
		finalize: finalize,
		groups:   xsync.NewMapOf[string, *group](),
	}
}

// Add buffers one attachment and restarts the group's debounce window.
func (a *Aggregator) Add(groupID string, item Item) {
	g, _ := a.groups.LoadOrCompute(groupID, func() *group {
		return &group{pending: true}
	})
	g.mu.Lock()
	if !g.pending {
		// lost a race with the timer finalizing this group id; treat the
		// arrival as the start of a fresh group
		g.mu.Unlock()
		fresh := &group{pending: true}
		a.groups.Store(groupID, fresh)
		g = fresh
		g.mu.Lock()
	}
	g.items = append(g.items, item)
	g.deadline = time.Now().Add(a.window)
	if g.timer == nil {
		grp := g
		g.timer = time.AfterFunc(a.window, func() { a.fire(groupID, grp) })
	} else {
		g.timer.Reset(a.window)
	}
	g.mu.Unlock()
}

// fire finalizes the group unless a late arrival re-armed the timer. The
// pending flag is checked and cleared under the group lock so the group
// cannot finalize twice.
func (a *Aggregator) fire(groupID string, g *group) {
	g.mu.Lock()
	if !g.pending {
		g.mu.Unlock()
		return
	}
	// an arrival may have moved the deadline while this callback waited on
	// the lock; that restart wins, so re-arm for the remainder instead of
	// finalizing early
	if remaining := time.Until(g.deadline); remaining > 0 {
		g.timer.Reset(remaining)
		g.mu.Unlock()
		return
	}
	g.pending = false
	items := g.items
	g.mu.Unlock()

	a.groups.Compute(groupID, func(cur *group, loaded bool) (*group, bool) {
		// only remove our own entry; a fresh group may already occupy the slot
		if cur == g {
			return nil, true
		}
		return cur, false
	})

	a.logger.Debug("media group finalized", "group", groupID, "items", len(items))
	a.finalize(groupID, items)
}

// Cancel drops all buffered state for a group, releasing its timer.
func (a *Aggregator) Cancel(groupID string) {
	g, ok := a.groups.LoadAndDelete(groupID)
	if !ok {
		return
	}
	g.mu.Lock()
	g.pending = false
	if g.timer != nil {
		g.timer.Stop()
	}
	g.mu.Unlock()
}

// Pending reports whether a group is still buffering.
func (a *Aggregator) Pending(groupID string) bool {
	g, ok := a.groups.Load(groupID)
	if !ok {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pending
}
