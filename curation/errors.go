package curation

import "errors"

// User-facing failures. Handlers turn these into acknowledgment messages and
// stop; none of them leave partial state behind.
var (
	ErrPostNotFound    = errors.New("post not found")
	ErrPostFinalized   = errors.New("post already finalized")
	ErrDuplicateVote   = errors.New("same vote already recorded")
	ErrDuplicateAction = errors.New("interaction already handled")
	ErrInvalidState    = errors.New("operation not valid for current post status")
	ErrNoVote          = errors.New("no vote recorded for this reviewer")
	ErrNotReviewer     = errors.New("user is not a reviewer")
	ErrBanned          = errors.New("user is banned from submitting")
	ErrValidation      = errors.New("invalid input")
)
