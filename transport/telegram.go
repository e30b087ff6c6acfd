package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/nightcrew/gatekeep/util"
)

// BotClient talks to a Telegram-style bot HTTP API.
//
// Sends use a plain client with a hard timeout and no retry logic: a failed
// delivery must surface to the workflow layer, which treats publication as
// best-effort once a decision is committed. Only the startup identity check
// goes through the retrying client.
type BotClient struct {
	BaseURL string // e.g. "https://api.telegram.org/bot"
	Token   string

	httpClient *http.Client
	limiter    *rate.Limiter
}

var _ Client = (*BotClient)(nil)

func NewBotClient(baseURL, token string, perSecond int) *BotClient {
	return &BotClient{
		BaseURL: baseURL,
		Token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(perSecond), perSecond),
	}
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

func (c *BotClient) call(ctx context.Context, client *http.Client, method string, params any, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	body, err := json.Marshal(params)
	if err != nil {
		return err
	}
	url := c.BaseURL + c.Token + "/" + method
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("transport %s: %w", method, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("transport %s: reading response: %w", method, err)
	}
	var apiResp apiResponse
	if err := json.Unmarshal(raw, &apiResp); err != nil {
		return fmt.Errorf("transport %s: decoding response: %w", method, err)
	}
	if !apiResp.OK {
		return fmt.Errorf("transport %s: api error: %s", method, apiResp.Description)
	}
	if out != nil {
		if err := json.Unmarshal(apiResp.Result, out); err != nil {
			return fmt.Errorf("transport %s: decoding result: %w", method, err)
		}
	}
	return nil
}

type wireMessage struct {
	MessageID int64 `json:"message_id"`
	Chat      struct {
		ID int64 `json:"id"`
	} `json:"chat"`
}

type wireButton struct {
	Text                         string `json:"text"`
	CallbackData                 string `json:"callback_data,omitempty"`
	URL                          string `json:"url,omitempty"`
	SwitchInlineQueryCurrentChat string `json:"switch_inline_query_current_chat,omitempty"`
}

type wireKeyboard struct {
	InlineKeyboard [][]wireButton `json:"inline_keyboard"`
}

func encodeKeyboard(kb Keyboard) *wireKeyboard {
	if kb == nil {
		return nil
	}
	out := wireKeyboard{}
	for _, row := range kb {
		wr := make([]wireButton, 0, len(row))
		for _, b := range row {
			wr = append(wr, wireButton{
				Text:                         b.Text,
				CallbackData:                 b.Data,
				URL:                          b.URL,
				SwitchInlineQueryCurrentChat: b.SwitchInlineQuery,
			})
		}
		out.InlineKeyboard = append(out.InlineKeyboard, wr)
	}
	return &out
}

func (c *BotClient) SendMessage(ctx context.Context, chatID int64, text string, opts *SendOpts) (*Message, error) {
	params := map[string]any{
		"chat_id":    chatID,
		"text":       text,
		"parse_mode": "HTML",
	}
	if opts != nil {
		if opts.Keyboard != nil {
			params["reply_markup"] = encodeKeyboard(opts.Keyboard)
		}
		if opts.ReplyTo != 0 {
			params["reply_to_message_id"] = opts.ReplyTo
		}
		if opts.DisablePreview {
			params["disable_web_page_preview"] = true
		}
	}
	var wm wireMessage
	if err := c.call(ctx, c.httpClient, "sendMessage", params, &wm); err != nil {
		return nil, err
	}
	return &Message{ID: wm.MessageID, ChatID: wm.Chat.ID}, nil
}

func (c *BotClient) SendMediaGroup(ctx context.Context, chatID int64, media []Media, caption string, opts *SendOpts) ([]Message, error) {
	spoiler := opts != nil && opts.Spoiler
	items := make([]map[string]any, 0, len(media))
	for i, m := range media {
		item := map[string]any{
			"type":  m.Type,
			"media": m.Ref,
		}
		// the caption rides on the first item and applies to the album
		if i == 0 && caption != "" {
			item["caption"] = caption
			item["parse_mode"] = "HTML"
		}
		if spoiler && (m.Type == MediaPhoto || m.Type == MediaVideo) {
			item["has_spoiler"] = true
		}
		items = append(items, item)
	}
	params := map[string]any{
		"chat_id": chatID,
		"media":   items,
	}
	var wms []wireMessage
	if err := c.call(ctx, c.httpClient, "sendMediaGroup", params, &wms); err != nil {
		return nil, err
	}
	out := make([]Message, 0, len(wms))
	for _, wm := range wms {
		out = append(out, Message{ID: wm.MessageID, ChatID: wm.Chat.ID})
	}
	return out, nil
}

func (c *BotClient) EditMessageText(ctx context.Context, chatID, messageID int64, text string, opts *SendOpts) error {
	params := map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
		"text":       text,
		"parse_mode": "HTML",
	}
	if opts != nil && opts.Keyboard != nil {
		params["reply_markup"] = encodeKeyboard(opts.Keyboard)
	}
	return c.call(ctx, c.httpClient, "editMessageText", params, nil)
}

func (c *BotClient) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	params := map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
	}
	return c.call(ctx, c.httpClient, "deleteMessage", params, nil)
}

func (c *BotClient) AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error {
	params := map[string]any{
		"callback_query_id": callbackID,
		"text":              text,
		"show_alert":        alert,
	}
	return c.call(ctx, c.httpClient, "answerCallbackQuery", params, nil)
}

func (c *BotClient) AnswerInline(ctx context.Context, queryID string, results []InlineResult) error {
	items := make([]map[string]any, 0, len(results))
	for _, r := range results {
		item := map[string]any{
			"type":  "article",
			"id":    r.ID,
			"title": r.Title,
			"input_message_content": map[string]any{
				"message_text": r.Text,
				"parse_mode":   "HTML",
			},
		}
		if r.Keyboard != nil {
			item["reply_markup"] = encodeKeyboard(r.Keyboard)
		}
		items = append(items, item)
	}
	params := map[string]any{
		"inline_query_id": queryID,
		"results":         items,
		"cache_time":      0,
		"is_personal":     true,
	}
	return c.call(ctx, c.httpClient, "answerInlineQuery", params, nil)
}

// Identify fetches the bot's own identity. Used once at startup as a
// credential check, so transient errors are retried.
func (c *BotClient) Identify(ctx context.Context) (*User, error) {
	var me struct {
		ID        int64  `json:"id"`
		Username  string `json:"username"`
		FirstName string `json:"first_name"`
	}
	if err := c.call(ctx, util.RobustHTTPClient(), "getMe", map[string]any{}, &me); err != nil {
		return nil, err
	}
	return &User{ID: me.ID, Username: me.Username, FullName: me.FirstName}, nil
}
