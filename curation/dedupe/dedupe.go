// Package dedupe implements the duplicate-action guard: a single-slot,
// per-user memory of the last processed interaction key. It only filters
// immediately repeated taps on the same control, not a general history.
package dedupe

import "context"

// Guard checks an interaction key against the user's last-seen slot.
//
// Check returns true when the key matches the stored slot (duplicate: caller
// acknowledges and stops, no side effects). Otherwise the slot is overwritten
// with the new key and false is returned: exactly one write on allow, zero on
// reject.
type Guard interface {
	Check(ctx context.Context, userID int64, key string) (bool, error)
}
