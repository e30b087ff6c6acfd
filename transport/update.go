package transport

import (
	"strconv"

	"github.com/nightcrew/gatekeep/models"
)

// Update is one inbound event from the chat transport, already reduced to the
// fields the workflow consumes. The webhook layer is responsible for mapping
// the wire format into this shape.
type Update struct {
	ID            int64          `json:"update_id"`
	Message       *IncomingMsg   `json:"message,omitempty"`
	CallbackQuery *CallbackQuery `json:"callback_query,omitempty"`
	InlineQuery   *InlineQuery   `json:"inline_query,omitempty"`
}

// IncomingMsg is a message event (submission path, commands).
type IncomingMsg struct {
	MessageID    int64  `json:"message_id"`
	From         User   `json:"from"`
	ChatID       int64  `json:"chat_id"`
	ChatType     string `json:"chat_type"` // "private", "group", "supergroup", "channel"
	Text         string `json:"text,omitempty"`
	Caption      string `json:"caption,omitempty"`
	MediaGroupID string `json:"media_group_id,omitempty"`
	// Attachment is the single effective attachment of this message, if any.
	// Multi-attachment submissions arrive as separate events sharing
	// MediaGroupID, one attachment each.
	Attachment *models.Attachment `json:"attachment,omitempty"`
	ReplyTo    *IncomingMsg       `json:"reply_to,omitempty"`
	// ForwardFrom names the original author when the message was forwarded.
	ForwardFrom string `json:"forward_from,omitempty"`
	ForwardLink string `json:"forward_link,omitempty"`
}

// Body returns the message text, falling back to the media caption.
func (m *IncomingMsg) Body() string {
	if m.Text != "" {
		return m.Text
	}
	return m.Caption
}

// CallbackQuery is a control-button tap (review path).
type CallbackQuery struct {
	ID              string `json:"id"`
	From            User   `json:"from"`
	Data            string `json:"data"`
	MessageID       int64  `json:"message_id,omitempty"`
	ChatID          int64  `json:"chat_id,omitempty"`
	InlineMessageID string `json:"inline_message_id,omitempty"`
	// ReplyTo carries the message the tapped control was attached to, when
	// the transport provides it (submission confirmations reply to the
	// original content).
	ReplyTo *IncomingMsg `json:"reply_to,omitempty"`
}

// DedupeKey is the composite key the duplicate-action guard stores: the
// action payload plus the originating message or conversation identifier.
func (q *CallbackQuery) DedupeKey() string {
	if q.InlineMessageID != "" {
		return q.Data + q.InlineMessageID
	}
	return q.Data + strconv.FormatInt(q.MessageID, 10)
}

// InlineQuery is a free-text inline prompt (comment/reply composition).
type InlineQuery struct {
	ID    string `json:"id"`
	From  User   `json:"from"`
	Query string `json:"query"`
}
