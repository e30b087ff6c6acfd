// Package curation implements the post review workflow: the lifecycle state
// machine, the vote tally engine, and the operations reviewers and
// submitters drive through the chat transport.
//
// Posts move PENDING -> {APPROVED, REJECTED, NEED_REASON} and
// NEED_REASON -> REJECTED, never backward. Every decision is recorded as an
// immutable event in the post's log; the current status is always a pure
// function of that log plus the configured thresholds.
package curation
