package onebot

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/Cooper3516833584/Cooper-bot/internal/transport"
)

// UploadGroupFile 上传群文件；path 须为 NapCat 容器内可见路径
func (c *Client) UploadGroupFile(ctx context.Context, groupID int64, path, name string) transport.UploadStatus {
	params := map[string]any{"group_id": groupID, "file": fileURI(path), "name": name}
	resp, err := c.Call(ctx, "upload_group_file", params, c.opts.UploadTimeout)
	st := classify(resp, err)
	c.logUpload("upload_group_file", st, err)
	return st
}

// UploadPrivateFile 私聊发文件；viaGroupID 非 0 时附带 group_id 以群临时会话发送
func (c *Client) UploadPrivateFile(ctx context.Context, userID int64, path, name string, viaGroupID int64) transport.UploadStatus {
	params := map[string]any{"user_id": userID, "file": fileURI(path), "name": name}
	if viaGroupID != 0 {
		params["group_id"] = viaGroupID
	}
	resp, err := c.Call(ctx, "upload_private_file", params, c.opts.UploadTimeout)
	st := classify(resp, err)
	c.logUpload("upload_private_file", st, err)
	return st
}

func (c *Client) logUpload(action string, st transport.UploadStatus, err error) {
	switch st.Kind {
	case transport.UploadOK:
		return
	case transport.UploadUnconfirmed:
		// 上传动作常见“已执行但不回包”，只记 debug
		c.logger.Debug("上传未确认", zap.String("action", action), zap.Error(err))
	default:
		c.warnThrottled(action, "上传失败",
			zap.String("action", action),
			zap.String("kind", st.Kind.String()),
			zap.String("detail", st.Detail),
		)
	}
}

// classify 把 action 结果映射到封闭的上传结果枚举
// 平台错误文本的子串匹配只在这里进行
func classify(resp *Response, err error) transport.UploadStatus {
	if err != nil {
		if errors.Is(err, ErrActionTimeout) {
			return transport.UploadStatus{Kind: transport.UploadUnconfirmed}
		}
		return transport.UploadStatus{Kind: transport.UploadRejected, Detail: err.Error()}
	}
	if resp == nil {
		return transport.UploadStatus{Kind: transport.UploadUnconfirmed}
	}
	if resp.OK() {
		return transport.UploadStatus{Kind: transport.UploadOK}
	}

	detail := resp.Detail()
	lower := strings.ToLower(detail)
	switch {
	case strings.Contains(lower, "rich media transfer failed"):
		return transport.UploadStatus{Kind: transport.UploadRichMediaFailed, Detail: detail}
	case strings.Contains(lower, "enoent"), strings.Contains(lower, "no such file or directory"):
		return transport.UploadStatus{Kind: transport.UploadMissingFile, Detail: detail}
	default:
		return transport.UploadStatus{Kind: transport.UploadRejected, Detail: detail}
	}
}
