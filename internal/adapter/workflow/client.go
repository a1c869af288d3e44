package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/fulfillment-sync/internal/port"
)

const userAgent = "fulfillment-sync"

// Client triggers the external order-pull workflow through its webhook URL.
type Client struct {
	url    string
	http   *http.Client
	logger *zap.Logger
}

func NewClient(url string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		url:    url,
		http:   &http.Client{Timeout: timeout},
		logger: logger,
	}
}

type triggerResponse struct {
	Message string `json:"message"`
	Added   int    `json:"added"`
}

func (c *Client) Trigger(ctx context.Context) (port.SyncResult, error) {
	resp, err := c.get(ctx)
	if err != nil {
		return port.SyncResult{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return port.SyncResult{}, port.ErrWorkflowNotFound
	case http.StatusBadGateway:
		return port.SyncResult{}, port.ErrWorkflowUnreachable
	default:
		return port.SyncResult{}, fmt.Errorf("workflow responded with code %d", resp.StatusCode)
	}

	result := port.SyncResult{Message: "Sync complete!"}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		c.logger.Warn("read workflow response", zap.Error(err))
		return result, nil
	}
	var body triggerResponse
	if err := json.Unmarshal(raw, &body); err != nil {
		return result, nil
	}
	result.Added = body.Added
	switch {
	case body.Message != "":
		result.Message = body.Message
	case body.Added > 0:
		result.Message = fmt.Sprintf("Synced! %d orders added.", body.Added)
	}
	return result, nil
}

func (c *Client) get(ctx context.Context) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build workflow request: %w", err)
	}
	req.Header.Set("ngrok-skip-browser-warning", "true")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call workflow: %w", err)
	}
	return resp, nil
}
