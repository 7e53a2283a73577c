// Package onebot OneBot v11（NapCat）协议适配：HTTP action 调用、事件解析、文件解析与上传结果分类。
package onebot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/Cooper3516833584/Cooper-bot/pkg/errors"
)

// ErrActionTimeout action 请求超时；上传动作据此判定为未确认
var ErrActionTimeout = apperrors.New(apperrors.KindTransientTransport, "OneBot 请求超时")

// Response action 回包
type Response struct {
	Status  string          `json:"status"`
	RetCode int             `json:"retcode"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Wording string          `json:"wording"`
}

// OK status=ok 且 retcode=0
func (r *Response) OK() bool {
	return r != nil && r.Status == "ok" && r.RetCode == 0
}

// Detail 失败说明：retcode=N 文本
func (r *Response) Detail() string {
	if r == nil {
		return ""
	}
	msg := strings.TrimSpace(r.Wording)
	if msg == "" {
		msg = strings.TrimSpace(r.Message)
	}
	if msg == "" {
		return fmt.Sprintf("retcode=%d", r.RetCode)
	}
	return fmt.Sprintf("retcode=%d %s", r.RetCode, msg)
}

// ClientOptions HTTP action 参数
type ClientOptions struct {
	BaseURL       string
	AccessToken   string
	ActionTimeout time.Duration
	UploadTimeout time.Duration
	FetchTimeout  time.Duration
}

// Client OneBot HTTP action 客户端；实现 transport.Messenger 与 transport.Uploader
type Client struct {
	base   string
	token  string
	opts   ClientOptions
	httpc  *http.Client
	logger *zap.Logger

	warnMu   sync.Mutex
	lastWarn map[string]time.Time
}

// NewClient 创建客户端
func NewClient(opts ClientOptions, logger *zap.Logger) *Client {
	if opts.ActionTimeout <= 0 {
		opts.ActionTimeout = 8 * time.Second
	}
	if opts.UploadTimeout <= 0 {
		opts.UploadTimeout = 300 * time.Second
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 180 * time.Second
	}
	return &Client{
		base:     strings.TrimRight(opts.BaseURL, "/"),
		token:    strings.TrimSpace(opts.AccessToken),
		opts:     opts,
		httpc:    &http.Client{},
		logger:   logger,
		lastWarn: make(map[string]time.Time),
	}
}

// Call 调用 action；回包为空时返回 (nil, nil)
func (c *Client) Call(ctx context.Context, action string, params any, timeout time.Duration) (*Response, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("编码 %s 参数失败: %w", action, err)
	}

	endpoint := c.base + "/" + action
	if c.token != "" {
		endpoint += "?access_token=" + url.QueryEscape(c.token)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w：%s", ErrActionTimeout, action)
		}
		return nil, apperrors.Wrap(apperrors.KindTransientTransport, "OneBot 请求失败", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w：%s", ErrActionTimeout, action)
		}
		return nil, apperrors.Wrap(apperrors.KindTransientTransport, "读取 OneBot 回包失败", err)
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, nil
	}

	var out Response
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, apperrors.Wrap(apperrors.KindPermanentTransport,
			fmt.Sprintf("OneBot 回包不是 JSON（HTTP %d）", resp.StatusCode), err)
	}
	return &out, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "timed out") || strings.Contains(s, "timeout")
}

// warnThrottled 同一 key 10 秒内只打一次 warning
func (c *Client) warnThrottled(key, msg string, fields ...zap.Field) {
	now := time.Now()
	c.warnMu.Lock()
	last := c.lastWarn[key]
	ok := now.Sub(last) >= 10*time.Second
	if ok {
		c.lastWarn[key] = now
	}
	c.warnMu.Unlock()
	if ok {
		c.logger.Warn(msg, fields...)
	}
}

// ────────────────────── 消息 ──────────────────────

// SendPrivate 发送私聊消息
func (c *Client) SendPrivate(ctx context.Context, userID int64, text string) error {
	return c.send(ctx, "send_private_msg", map[string]any{"user_id": userID, "message": text})
}

// SendGroup 发送群消息
func (c *Client) SendGroup(ctx context.Context, groupID int64, text string) error {
	return c.send(ctx, "send_group_msg", map[string]any{"group_id": groupID, "message": text})
}

func (c *Client) send(ctx context.Context, action string, params map[string]any) error {
	resp, err := c.Call(ctx, action, params, c.opts.ActionTimeout)
	if err != nil {
		c.warnThrottled(action, "OneBot 调用失败", zap.String("action", action), zap.Error(err))
		return err
	}
	if resp != nil && !resp.OK() {
		return apperrors.New(apperrors.KindPermanentTransport, action+" 失败："+resp.Detail())
	}
	return nil
}

// ────────────────────── 文件 ──────────────────────

// fileURI 绝对路径转 file:// URI；已带 scheme 的原样返回
func fileURI(p string) string {
	if strings.Contains(p, "://") {
		return p
	}
	if strings.HasPrefix(p, "/") {
		return "file://" + p
	}
	return p
}

// GetFile 通过 file_id 获取下载地址或 NapCat 本地路径；失败时按 2s、4s 重试两次
func (c *Client) GetFile(ctx context.Context, fileID string) (string, error) {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt) * 2 * time.Second):
			}
		}
		resp, err := c.Call(ctx, "get_file", map[string]any{"file_id": fileID}, c.opts.FetchTimeout)
		if err != nil {
			lastErr = err
			continue
		}
		if resp == nil {
			lastErr = apperrors.New(apperrors.KindTransientTransport, "get_file 无回包")
			continue
		}
		if !resp.OK() {
			return "", apperrors.New(apperrors.KindNotFound, "get_file 失败："+resp.Detail())
		}
		var data map[string]any
		if err := json.Unmarshal(resp.Data, &data); err != nil {
			return "", apperrors.Wrap(apperrors.KindPermanentTransport, "get_file 回包格式不对", err)
		}
		for _, k := range []string{"url", "download_url", "file", "file_path", "path"} {
			if s, ok := data[k].(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s), nil
			}
		}
		return "", nil
	}
	return "", lastErr
}
