// Package transport defines the chat-transport boundary of the review
// workflow: the minimal outbound capability the engine needs (send, edit,
// delete, acknowledge) and the inbound event shapes the daemon consumes.
// Delivery is at-least-once with idempotent side effects; the engine never
// relies on exactly-once semantics from this layer.
package transport

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Media kinds mirrored from the bot API.
const (
	MediaPhoto    = "photo"
	MediaVideo    = "video"
	MediaDocument = "document"
	MediaAudio    = "audio"
)

type Media struct {
	Type string
	Ref  string // opaque transport file reference
}

// Button is one inline control. Exactly one of Data, URL, or
// SwitchInlineQuery should be set.
type Button struct {
	Text              string
	Data              string
	URL               string
	SwitchInlineQuery string
}

type Keyboard [][]Button

type SendOpts struct {
	Keyboard       Keyboard
	ReplyTo        int64
	Spoiler        bool // mark media as spoiler/NSFW
	DisablePreview bool
}

// Message is the transport's handle for a sent message.
type Message struct {
	ID     int64
	ChatID int64
}

// InlineResult is one selectable option offered in response to an inline
// query. Picking it sends Text into the chat, with Keyboard attached.
type InlineResult struct {
	ID       string
	Title    string
	Text     string
	Keyboard Keyboard
}

// Client is the outbound transport capability. Implementations must not
// retry deliveries on their own: a failed send is reported to the caller and
// handled (or deliberately dropped) at the workflow layer.
type Client interface {
	SendMessage(ctx context.Context, chatID int64, text string, opts *SendOpts) (*Message, error)
	SendMediaGroup(ctx context.Context, chatID int64, media []Media, caption string, opts *SendOpts) ([]Message, error)
	EditMessageText(ctx context.Context, chatID, messageID int64, text string, opts *SendOpts) error
	DeleteMessage(ctx context.Context, chatID, messageID int64) error
	AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error
	AnswerInline(ctx context.Context, queryID string, results []InlineResult) error
}

// User identifies the human behind an inbound event.
type User struct {
	ID       int64
	Username string
	FullName string
}

// MessageLink renders the public URL of a message in a channel or supergroup.
// Private chats have no stable links; an empty string is returned.
func MessageLink(chatID, messageID int64) string {
	s := strconv.FormatInt(chatID, 10)
	if !strings.HasPrefix(s, "-100") {
		return ""
	}
	return fmt.Sprintf("https://t.me/c/%s/%d", s[len("-100"):], messageID)
}

// DiscussionLink renders the URL that opens the discussion thread attached to
// a published channel message.
func DiscussionLink(chatID, messageID int64) string {
	link := MessageLink(chatID, messageID)
	if link == "" {
		return ""
	}
	return link + "?thread=" + strconv.FormatInt(messageID, 10)
}
