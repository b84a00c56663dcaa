package pushkit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Client 仪表盘推送网关的 HTTP 客户端
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *logrus.Logger
}

// Config 客户端配置
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// VisitorMessage 推送给仪表盘的访客消息事件
type VisitorMessage struct {
	WorkspaceID string    `json:"workspace_id"`
	RoomID      string    `json:"room_id"`
	MessageID   string    `json:"message_id"`
	Content     string    `json:"content"`
	SenderName  string    `json:"sender_name"`
	Timestamp   time.Time `json:"timestamp"`
}

type queueChangedPayload struct {
	WorkspaceID  string `json:"workspace_id"`
	DepartmentID string `json:"department_id,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// NewClient 创建推送客户端
func NewClient(config *Config, logger *logrus.Logger) *Client {
	if logger == nil {
		logger = logrus.New()
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: config.BaseURL,
		apiKey:  config.APIKey,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger,
	}
}

// PushVisitorMessage 推送访客消息事件
func (c *Client) PushVisitorMessage(ctx context.Context, msg *VisitorMessage) error {
	return c.post(ctx, "/v1/push/visitor-message", msg)
}

// PushQueueChanged 推送排队状态变化事件
func (c *Client) PushQueueChanged(ctx context.Context, workspaceID, departmentID string) error {
	return c.post(ctx, "/v1/push/queue-changed", queueChangedPayload{
		WorkspaceID:  workspaceID,
		DepartmentID: departmentID,
	})
}

// HealthCheck 探测网关可用性
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return c.do(req)
}

func (c *Client) post(ctx context.Context, endpoint string, body interface{}) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	req.Header.Set("User-Agent", "Flowdesk-Push-Client/1.0")
	return c.do(req)
}

func (c *Client) do(req *http.Request) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	c.logger.Debugf("Push API Request: %s %s", req.Method, req.URL.String())
	c.logger.Debugf("Push API Response: %d %s", resp.StatusCode, string(body))

	if resp.StatusCode >= 400 {
		var errResp errorResponse
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
			return fmt.Errorf("API error [%d]: %s (code: %s)", resp.StatusCode, errResp.Error, errResp.Code)
		}
		return fmt.Errorf("API error [%d]", resp.StatusCode)
	}
	return nil
}
