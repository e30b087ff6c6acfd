package transport

import (
	"context"
	"fmt"
	"sync"
)

// MockClient records outbound transport calls for tests. Message ids are
// allocated sequentially per chat, mirroring how the real transport behaves
// closely enough for link-building assertions.
type MockClient struct {
	mu     sync.Mutex
	nextID int64

	Sent      []MockSent
	Edits     []MockEdit
	Deleted   []Message
	Callbacks []MockCallback
	Inline    []MockInline

	// FailSends makes delivery calls return this error, for exercising the
	// committed-but-unpublished boundary.
	FailSends error
}

type MockSent struct {
	ChatID  int64
	Text    string
	Media   []Media
	Opts    *SendOpts
	Message Message
}

type MockEdit struct {
	ChatID    int64
	MessageID int64
	Text      string
	Opts      *SendOpts
}

type MockCallback struct {
	ID    string
	Text  string
	Alert bool
}

type MockInline struct {
	QueryID string
	Results []InlineResult
}

var _ Client = (*MockClient)(nil)

func NewMockClient() *MockClient {
	return &MockClient{nextID: 1000}
}

func (c *MockClient) allocID() int64 {
	c.nextID++
	return c.nextID
}

func (c *MockClient) SendMessage(ctx context.Context, chatID int64, text string, opts *SendOpts) (*Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailSends != nil {
		return nil, c.FailSends
	}
	msg := Message{ID: c.allocID(), ChatID: chatID}
	c.Sent = append(c.Sent, MockSent{ChatID: chatID, Text: text, Opts: opts, Message: msg})
	return &msg, nil
}

func (c *MockClient) SendMediaGroup(ctx context.Context, chatID int64, media []Media, caption string, opts *SendOpts) ([]Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailSends != nil {
		return nil, c.FailSends
	}
	if len(media) == 0 {
		return nil, fmt.Errorf("empty media group")
	}
	msgs := make([]Message, 0, len(media))
	for range media {
		msgs = append(msgs, Message{ID: c.allocID(), ChatID: chatID})
	}
	c.Sent = append(c.Sent, MockSent{ChatID: chatID, Text: caption, Media: media, Opts: opts, Message: msgs[0]})
	return msgs, nil
}

func (c *MockClient) EditMessageText(ctx context.Context, chatID, messageID int64, text string, opts *SendOpts) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Edits = append(c.Edits, MockEdit{ChatID: chatID, MessageID: messageID, Text: text, Opts: opts})
	return nil
}

func (c *MockClient) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Deleted = append(c.Deleted, Message{ID: messageID, ChatID: chatID})
	return nil
}

func (c *MockClient) AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Callbacks = append(c.Callbacks, MockCallback{ID: callbackID, Text: text, Alert: alert})
	return nil
}

func (c *MockClient) AnswerInline(ctx context.Context, queryID string, results []InlineResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Inline = append(c.Inline, MockInline{QueryID: queryID, Results: results})
	return nil
}

// SentTo filters recorded sends by destination chat.
func (c *MockClient) SentTo(chatID int64) []MockSent {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []MockSent
	for _, s := range c.Sent {
		if s.ChatID == chatID {
			out = append(out, s)
		}
	}
	return out
}
