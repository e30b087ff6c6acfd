package curation

import (
	"fmt"

	"github.com/nightcrew/gatekeep/transport"
)

// ReviewKeyboard builds the vote controls attached to a post's operate
// message in the review group.
func ReviewKeyboard(postID int64) transport.Keyboard {
	return transport.Keyboard{
		{
			{Text: "🟢 Approve", Data: fmt.Sprintf("approve_%d", postID)},
			{Text: "🟡 Approve as NSFW", Data: fmt.Sprintf("approve_NSFW_%d", postID)},
		},
		{
			{Text: "🔴 Reject", Data: fmt.Sprintf("reject_%d", postID)},
			{Text: "🔴 Reject as duplicate", Data: fmt.Sprintf("rejectDuplicate_%d", postID)},
		},
		{
			{Text: "❔ My vote", Data: fmt.Sprintf("voteQuery_%d", postID)},
			{Text: "↩️ Revoke my vote", Data: fmt.Sprintf("voteRevoke_%d", postID)},
		},
		{
			{Text: "📝 Add note", SwitchInlineQuery: fmt.Sprintf("append_%d# ", postID)},
			{Text: "⬅️ Remove note", SwitchInlineQuery: fmt.Sprintf("removeAppend_%d#", postID)},
		},
		{
			{Text: "💬 Reply to submitter", SwitchInlineQuery: fmt.Sprintf("comment_%d# ", postID)},
		},
	}
}

// ReasonKeyboard lists the configured rejection reasons two per row, plus
// custom-reason and skip controls.
func ReasonKeyboard(postID int64, reasons []string) transport.Keyboard {
	var kb transport.Keyboard
	for i := 0; i < len(reasons); i += 2 {
		row := []transport.Button{
			{Text: reasons[i], Data: fmt.Sprintf("reason_%d_%d", postID, i)},
		}
		if i+1 < len(reasons) {
			row = append(row, transport.Button{Text: reasons[i+1], Data: fmt.Sprintf("reason_%d_%d", postID, i+1)})
		}
		kb = append(kb, row)
	}
	kb = append(kb, []transport.Button{
		{Text: "Custom reason", SwitchInlineQuery: fmt.Sprintf("reject_%d# ", postID)},
		{Text: "Skip reason", Data: fmt.Sprintf("reason_%d_skip", postID)},
	})
	kb = append(kb, []transport.Button{
		{Text: "💬 Reply to submitter", SwitchInlineQuery: fmt.Sprintf("reply_%d# ", postID)},
	})
	return kb
}

// ConfirmKeyboard is attached to the submission confirmation prompt.
func ConfirmKeyboard() transport.Keyboard {
	return transport.Keyboard{
		{
			{Text: "Submit with signature", Data: "submitConfirm_real_name"},
			{Text: "Submit anonymously", Data: "submitConfirm"},
		},
		{
			{Text: "Cancel", Data: "cancel"},
		},
	}
}
