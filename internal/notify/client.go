package notify

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"
)

// Client 负责向钉钉机器人webhook投递文本消息。
type Client struct {
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient 创建投递客户端。
func NewClient(timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type textMessage struct {
	MsgType string `json:"msgtype"`
	Text    struct {
		Content string `json:"content"`
	} `json:"text"`
}

type robotResponse struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

// Send 投递一条文本消息。HTTP非200或机器人返回非零 errcode 均视为失败。
func (c *Client) Send(ctx context.Context, webhookURL, content string) error {
	var msg textMessage
	msg.MsgType = "text"
	msg.Text.Content = content

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("notify: 序列化消息失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: 构造请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notify: 投递消息失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("notify: 投递返回HTTP %d", resp.StatusCode)
	}

	var robot robotResponse
	if err := json.NewDecoder(resp.Body).Decode(&robot); err != nil {
		return fmt.Errorf("notify: 解析响应失败: %w", err)
	}
	if robot.ErrCode != 0 {
		return fmt.Errorf("notify: 机器人拒绝消息 (errcode=%d): %s", robot.ErrCode, robot.ErrMsg)
	}

	c.logger.Debug("消息已投递", zap.Int("bytes", len(content)))
	return nil
}
