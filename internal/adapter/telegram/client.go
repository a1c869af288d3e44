package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/rl1809/fulfillment-sync/internal/port"
)

const DefaultBaseURL = "https://api.telegram.org"

type Config struct {
	BaseURL       string
	BotToken      string
	Timeout       time.Duration
	RatePerSecond float64
}

// Client talks to the Bot API. Calls are throttled so bulk status changes do not trip flood limits.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.BotToken,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
	}
}

type inlineKeyboard struct {
	InlineKeyboard [][]port.InlineButton `json:"inline_keyboard"`
}

type editMessageText struct {
	ChatID      string         `json:"chat_id"`
	MessageID   int64          `json:"message_id"`
	Text        string         `json:"text"`
	ReplyMarkup inlineKeyboard `json:"reply_markup"`
}

type answerCallbackQuery struct {
	CallbackQueryID string `json:"callback_query_id"`
	Text            string `json:"text,omitempty"`
	ShowAlert       bool   `json:"show_alert"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// EditMessage sends the text without a parse mode. An empty button list clears the keyboard.
func (c *Client) EditMessage(ctx context.Context, req port.EditMessageRequest) error {
	keyboard := make([][]port.InlineButton, 0, len(req.Buttons))
	for _, b := range req.Buttons {
		keyboard = append(keyboard, []port.InlineButton{b})
	}
	err := c.call(ctx, "editMessageText", editMessageText{
		ChatID:      req.ChatID,
		MessageID:   req.MessageID,
		Text:        req.Text,
		ReplyMarkup: inlineKeyboard{InlineKeyboard: keyboard},
	})
	if err != nil && strings.Contains(err.Error(), "message is not modified") {
		c.logger.Debug("message already up to date", zap.Int64("message_id", req.MessageID))
		return nil
	}
	return err
}

func (c *Client) AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error {
	return c.call(ctx, "answerCallbackQuery", answerCallbackQuery{
		CallbackQueryID: callbackID,
		Text:            text,
		ShowAlert:       alert,
	})
}

func (c *Client) call(ctx context.Context, method string, payload any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: rate limit wait: %w", method, err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s: encode: %w", method, err)
	}
	url := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: build request: %w", method, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%s: read response: %w", method, err)
	}
	var out apiResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("%s: status %d: %w", method, resp.StatusCode, port.ErrChatRejected)
	}
	if !out.OK {
		return fmt.Errorf("%s: %w: %s", method, port.ErrChatRejected, out.Description)
	}
	return nil
}
