package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/atozbot/internal/models"
)

// ControllerClient talks to the controller's /api/bot endpoints. All calls go
// through one circuit breaker so a dead controller costs the loop nothing.
type ControllerClient struct {
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	logger     arbor.ILogger
}

// NewControllerClient creates a client for the controller at baseURL
func NewControllerClient(baseURL string, timeout time.Duration, logger arbor.ILogger) *ControllerClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	c := &ControllerClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "controller",
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Controller circuit breaker changed state")
		},
	})
	return c
}

// PostUpdate sends one realtime-update callback
func (c *ControllerClient) PostUpdate(ctx context.Context, update models.CallbackUpdate) error {
	return c.do(ctx, http.MethodPost, "/api/bot/realtime-update", update, nil)
}

// FetchConfiguration reads the active bot configuration
func (c *ControllerClient) FetchConfiguration(ctx context.Context) (*models.BotConfiguration, error) {
	var cfg models.BotConfiguration
	if err := c.do(ctx, http.MethodGet, "/api/bot/configuration", nil, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// NextTask dequeues the next pending task. Returns nil when the queue is empty.
func (c *ControllerClient) NextTask(ctx context.Context, sessionID string) (*models.Task, error) {
	var task models.Task
	path := "/api/bot/tasks/next?session_id=" + url.QueryEscape(sessionID)
	if err := c.do(ctx, http.MethodPost, path, nil, &task); err != nil {
		return nil, err
	}
	if task.ID == "" {
		return nil, nil
	}
	return &task, nil
}

// CompleteTask reports a task result
func (c *ControllerClient) CompleteTask(ctx context.Context, taskID string, success bool, result, errMsg string) error {
	body := map[string]any{
		"success": success,
		"result":  result,
		"error":   errMsg,
	}
	return c.do(ctx, http.MethodPost, "/api/bot/tasks/"+url.PathEscape(taskID)+"/complete", body, nil)
}

func (c *ControllerClient) do(ctx context.Context, method, path string, body any, out any) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.roundTrip(ctx, method, path, body, out)
	})
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	return nil
}

func (c *ControllerClient) roundTrip(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("controller returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
