// Package delivery 把本地文件交给聊天平台：复制到平台可见的上传目录，按会话场景上传，
// 可重试失败按退避重试，群文件失败时改走群临时会话私聊，源文件仍失败时打包 zip 再试一次。
package delivery

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Cooper3516833584/Cooper-bot/internal/transport"
	apperrors "github.com/Cooper3516833584/Cooper-bot/pkg/errors"
	"github.com/Cooper3516833584/Cooper-bot/pkg/textutil"
	"github.com/Cooper3516833584/Cooper-bot/pkg/workerpool"
)

// Outcome 发送结果
type Outcome int

const (
	// OutcomeSent 平台确认成功
	OutcomeSent Outcome = iota + 1
	// OutcomePending 已提交但未确认，可能已经送达
	OutcomePending
	// OutcomeFailed 所有通道均失败
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSent:
		return "sent"
	case OutcomePending:
		return "pending"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result 一次投递的结果，Detail 为面向用户的补充说明
type Result struct {
	Outcome Outcome
	Detail  string
	ViaZip  bool
}

// Delivered 成功或未确认都视为已交付（用于记录导出时间）
func (r Result) Delivered() bool {
	return r.Outcome == OutcomeSent || r.Outcome == OutcomePending
}

// Staged 已复制到上传目录的文件
type Staged struct {
	Path       string // 平台可见路径
	MirrorPath string // 群聊时私聊目录中的镜像路径，用于兜底
	HostPath   string
	Name       string // 展示名
}

// Options 上传目录与重试策略
type Options struct {
	GroupHostDir        string
	GroupContainerDir   string
	PrivateHostDir      string
	PrivateContainerDir string
	TempDir             string
	ASCIISafeNames      bool
	RetryDelays         []time.Duration
	ZipFallback         bool
}

const (
	stagedStemMax   = 60
	fallbackStemMax = 40
	uuidHexLen      = 10

	detailRetried        = "（已自动重试后成功）"
	detailViaPrivate     = "（群文件发送失败，已改为私聊发送）"
	detailPrivatePending = "群文件失败，已尝试私聊发送"
	detailRichMediaHint  = "（NapCat/QQ 返回 rich media transfer failed：常见原因是账号风控、群文件权限不足、群文件容量已满，或 Windows↔Docker 挂载同步延迟）"
)

// archiveExts 本身已是压缩包的不再套一层 zip
var archiveExts = map[string]bool{".zip": true, ".rar": true, ".7z": true}

// Engine 文件投递引擎
type Engine struct {
	uploader transport.Uploader
	pool     *workerpool.Pool
	opts     Options
	logger   *zap.Logger

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// NewEngine 创建投递引擎
func NewEngine(uploader transport.Uploader, pool *workerpool.Pool, opts Options, logger *zap.Logger) *Engine {
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}
	return &Engine{
		uploader: uploader,
		pool:     pool,
		opts:     opts,
		logger:   logger,
		sleep:    sleepCtx,
		now:      time.Now,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ────────────────────── Stage ──────────────────────

// Stage 把 artifact 复制到上传目录，文件名为 <ascii主干>_<uuid前10位><扩展名>
// 群聊额外镜像一份到私聊目录；displayName 为空时用源文件名
func (e *Engine) Stage(ctx context.Context, artifact string, conv transport.Conversation, displayName string) (*Staged, error) {
	hostDir, contDir := e.opts.PrivateHostDir, e.opts.PrivateContainerDir
	mirror := false
	if conv.IsGroup() {
		hostDir, contDir = e.opts.GroupHostDir, e.opts.GroupContainerDir
		mirror = true
	}

	base := filepath.Base(artifact)
	stem, ext := textutil.SplitExt(textutil.ASCIIFilename(base, stagedStemMax))
	if ext == "" {
		_, ext = textutil.SplitExt(base)
	}
	staged := fmt.Sprintf("%s_%s%s", stem, strings.ReplaceAll(uuid.NewString(), "-", "")[:uuidHexLen], ext)
	dst := filepath.Join(hostDir, staged)

	err := e.pool.Do(ctx, func() error {
		if err := os.MkdirAll(hostDir, 0o755); err != nil {
			return err
		}
		srcSize, err := copyFile(artifact, dst)
		if err != nil {
			return err
		}
		info, err := os.Stat(dst)
		if err == nil && info.Size() <= 0 && srcSize > 0 {
			return fmt.Errorf("复制后文件大小为 0")
		}
		if mirror {
			if err := os.MkdirAll(e.opts.PrivateHostDir, 0o755); err == nil {
				if _, err := copyFile(artifact, filepath.Join(e.opts.PrivateHostDir, staged)); err != nil {
					e.logger.Warn("镜像到私聊上传目录失败", zap.String("file", staged), zap.Error(err))
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindIO, "staging 失败", err)
	}

	name := displayName
	if name == "" {
		name = base
	}
	if e.opts.ASCIISafeNames {
		name = textutil.ASCIIFilename(name, stagedStemMax)
	}

	out := &Staged{
		Path:     containerPath(contDir, staged),
		HostPath: dst,
		Name:     name,
	}
	if mirror {
		out.MirrorPath = containerPath(e.opts.PrivateContainerDir, staged)
	}
	return out, nil
}

func containerPath(dir, name string) string {
	return path.Join(strings.TrimRight(dir, "/"), name)
}

func copyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return 0, err
	}
	out, err := os.Create(dst)
	if err != nil {
		return 0, err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return 0, err
	}
	if err := out.Close(); err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// ────────────────────── Send ──────────────────────

// Send 按会话场景上传已 stage 的文件
// 群聊：群文件（含重试）→ 群临时会话私聊（含重试）；私聊：直接私发（含重试）
func (e *Engine) Send(ctx context.Context, st *Staged, conv transport.Conversation) Result {
	if !conv.IsGroup() {
		status, detail := e.withRetry(ctx, func() transport.UploadStatus {
			return e.uploader.UploadPrivateFile(ctx, conv.UserID, st.Path, st.Name, 0)
		})
		return toResult(status, detail)
	}

	gStatus, gDetail := e.withRetry(ctx, func() transport.UploadStatus {
		return e.uploader.UploadGroupFile(ctx, conv.GroupID, st.Path, st.Name)
	})
	switch gStatus.Kind {
	case transport.UploadOK:
		return Result{Outcome: OutcomeSent, Detail: gDetail}
	case transport.UploadUnconfirmed:
		return Result{Outcome: OutcomePending}
	}

	privatePath := st.Path
	if gStatus.Kind == transport.UploadMissingFile && st.MirrorPath != "" {
		privatePath = st.MirrorPath
	}
	e.logger.Warn("群文件发送失败，改走临时会话私聊",
		zap.Int64("group_id", conv.GroupID),
		zap.Int64("user_id", conv.UserID),
		zap.String("kind", gStatus.Kind.String()),
		zap.String("detail", gStatus.Detail),
	)

	pStatus, pDetail := e.withRetry(ctx, func() transport.UploadStatus {
		return e.uploader.UploadPrivateFile(ctx, conv.UserID, privatePath, st.Name, conv.GroupID)
	})
	switch pStatus.Kind {
	case transport.UploadOK:
		return Result{Outcome: OutcomeSent, Detail: detailViaPrivate + pDetail}
	case transport.UploadUnconfirmed:
		return Result{Outcome: OutcomePending, Detail: detailPrivatePending}
	}

	groupDetail := gStatus.Detail
	if groupDetail == "" {
		groupDetail = "群文件失败"
	}
	extra := ""
	if gStatus.Kind == transport.UploadRichMediaFailed || pStatus.Kind == transport.UploadRichMediaFailed {
		extra = detailRichMediaHint
	}
	return Result{
		Outcome: OutcomeFailed,
		Detail:  fmt.Sprintf("%s；私聊也失败：%s%s", groupDetail, pStatus.Detail, extra),
	}
}

// withRetry 只对可重试的失败按 RetryDelays 退避重试；第二个返回值为成功时的补充说明
func (e *Engine) withRetry(ctx context.Context, attempt func() transport.UploadStatus) (transport.UploadStatus, string) {
	status := attempt()
	if status.Kind == transport.UploadOK || !status.Transient() {
		return status, ""
	}
	for _, d := range e.opts.RetryDelays {
		if err := e.sleep(ctx, d); err != nil {
			return status, ""
		}
		status = attempt()
		switch {
		case status.Kind == transport.UploadOK:
			return status, detailRetried
		case !status.Transient():
			return status, ""
		}
	}
	return status, ""
}

func toResult(s transport.UploadStatus, okDetail string) Result {
	switch s.Kind {
	case transport.UploadOK:
		return Result{Outcome: OutcomeSent, Detail: okDetail}
	case transport.UploadUnconfirmed:
		return Result{Outcome: OutcomePending}
	default:
		return Result{Outcome: OutcomeFailed, Detail: s.Detail}
	}
}

// ────────────────────── Deliver ──────────────────────

// Deliver stage + send；非压缩包的源文件发送失败且开启 ZipFallback 时，打包成 zip 再发一次
func (e *Engine) Deliver(ctx context.Context, artifact string, conv transport.Conversation, displayName string) Result {
	st, err := e.Stage(ctx, artifact, conv, displayName)
	if err != nil {
		return Result{Outcome: OutcomeFailed, Detail: err.Error()}
	}
	res := e.Send(ctx, st, conv)
	if res.Outcome != OutcomeFailed || !e.opts.ZipFallback {
		return res
	}

	_, ext := textutil.SplitExt(filepath.Base(artifact))
	if archiveExts[strings.ToLower(ext)] {
		return res
	}

	e.logger.Info("源文件发送失败，改为打包 zip 发送",
		zap.String("file", filepath.Base(artifact)),
		zap.String("detail", res.Detail),
	)
	zres, ok := e.deliverZipped(ctx, artifact, conv, st.Name)
	if !ok {
		return res
	}
	return zres
}

func (e *Engine) deliverZipped(ctx context.Context, artifact string, conv transport.Conversation, shownName string) (Result, bool) {
	dir := filepath.Join(e.opts.TempDir, "send_fallback")
	stem, _ := textutil.SplitExt(filepath.Base(artifact))
	zipPath := filepath.Join(dir, fmt.Sprintf("%s_%d.zip", textutil.ASCIIStem(stem, fallbackStemMax), e.now().Unix()))

	err := e.pool.Do(ctx, func() error {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		return writeSingleZip(zipPath, artifact, filepath.Base(artifact))
	})
	if err != nil {
		e.logger.Warn("打包 zip 兜底失败", zap.String("file", artifact), zap.Error(err))
		return Result{}, false
	}
	defer os.Remove(zipPath)

	shownStem, _ := textutil.SplitExt(shownName)
	zipName := shownStem + ".zip"
	if e.opts.ASCIISafeNames {
		zipName = textutil.ASCIIFilename(zipName, stagedStemMax)
	}

	st, err := e.Stage(ctx, zipPath, conv, zipName)
	if err != nil {
		return Result{Outcome: OutcomeFailed, Detail: "zip " + err.Error(), ViaZip: true}, true
	}
	res := e.Send(ctx, st, conv)
	res.ViaZip = true
	if res.Outcome == OutcomeFailed {
		detail := res.Detail
		if detail == "" {
			detail = "失败"
		}
		res.Detail = "zip发送失败:" + detail
	}
	return res, true
}

// ────────────────────── 清理 ──────────────────────

// SweepStaged 清理上传目录中超过 maxAge 的 staging 文件；作为调度器清理钩子使用
func (e *Engine) SweepStaged(now time.Time, maxAge time.Duration) {
	for _, dir := range []string{e.opts.GroupHostDir, e.opts.PrivateHostDir} {
		if dir == "" {
			continue
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, ent := range entries {
			if !ent.Type().IsRegular() {
				continue
			}
			info, err := ent.Info()
			if err != nil || now.Sub(info.ModTime()) < maxAge {
				continue
			}
			if err := os.Remove(filepath.Join(dir, ent.Name())); err != nil {
				e.logger.Warn("清理 staging 文件失败", zap.String("file", ent.Name()), zap.Error(err))
			}
		}
	}
}
