package delivery

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/Cooper3516833584/Cooper-bot/internal/transport"
	"github.com/Cooper3516833584/Cooper-bot/pkg/workerpool"
)

// ── Mock Uploader ──

type uploadCall struct {
	scene transport.Scene
	path  string
	name  string
	via   int64
}

type mockUploader struct {
	mu      sync.Mutex
	group   []transport.UploadStatus
	private []transport.UploadStatus
	calls   []uploadCall
}

func next(queue *[]transport.UploadStatus) transport.UploadStatus {
	if len(*queue) == 0 {
		return transport.UploadStatus{Kind: transport.UploadOK}
	}
	s := (*queue)[0]
	*queue = (*queue)[1:]
	return s
}

func (m *mockUploader) UploadGroupFile(_ context.Context, _ int64, path, name string) transport.UploadStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, uploadCall{scene: transport.SceneGroup, path: path, name: name})
	return next(&m.group)
}

func (m *mockUploader) UploadPrivateFile(_ context.Context, _ int64, path, name string, via int64) transport.UploadStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, uploadCall{scene: transport.ScenePrivate, path: path, name: name, via: via})
	return next(&m.private)
}

var (
	richFail    = transport.UploadStatus{Kind: transport.UploadRichMediaFailed, Detail: "retcode=1200 rich media transfer failed"}
	missingFail = transport.UploadStatus{Kind: transport.UploadMissingFile, Detail: "retcode=1200 ENOENT"}
	rejected    = transport.UploadStatus{Kind: transport.UploadRejected, Detail: "retcode=100 权限不足"}
	unconfirmed = transport.UploadStatus{Kind: transport.UploadUnconfirmed}
)

var (
	groupConv   = transport.Conversation{Scene: transport.SceneGroup, UserID: 1001, GroupID: 100}
	privateConv = transport.Conversation{Scene: transport.ScenePrivate, UserID: 1001}
)

// ── 测试辅助 ──

func setupTestEngine(t *testing.T) (*Engine, *mockUploader, *[]time.Duration) {
	t.Helper()
	root := t.TempDir()
	up := &mockUploader{}
	e := NewEngine(up, workerpool.New(2), Options{
		GroupHostDir:        filepath.Join(root, "upload_group_file"),
		GroupContainerDir:   "/data/upload_group_file",
		PrivateHostDir:      filepath.Join(root, "upload_private_file"),
		PrivateContainerDir: "/data/upload_private_file/",
		TempDir:             filepath.Join(root, "temp"),
		RetryDelays:         []time.Duration{800 * time.Millisecond, 1800 * time.Millisecond},
		ZipFallback:         true,
	}, zap.NewNop())

	var slept []time.Duration
	e.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return e, up, &slept
}

func writeArtifact(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

// ── Stage 测试 ──

func TestEngine_Stage_GroupMirrorsToPrivate(t *testing.T) {
	e, _, _ := setupTestEngine(t)
	src := writeArtifact(t, "实验报告 v2.docx", "data")

	st, err := e.Stage(context.Background(), src, groupConv, "")
	if err != nil {
		t.Fatalf("Stage 失败: %v", err)
	}

	base := filepath.Base(st.HostPath)
	if !regexp.MustCompile(`^v2_[0-9a-f]{10}\.docx$`).MatchString(base) {
		t.Errorf("staging 文件名不符: %s", base)
	}
	if st.Path != "/data/upload_group_file/"+base {
		t.Errorf("容器路径不符: %s", st.Path)
	}
	if st.MirrorPath != "/data/upload_private_file/"+base {
		t.Errorf("镜像路径不符: %s", st.MirrorPath)
	}
	if _, err := os.Stat(filepath.Join(e.opts.PrivateHostDir, base)); err != nil {
		t.Errorf("群聊应镜像到私聊目录: %v", err)
	}
	if st.Name != "实验报告 v2.docx" {
		t.Errorf("默认展示名应为源文件名，实际 %s", st.Name)
	}
}

func TestEngine_Stage_ASCIINames(t *testing.T) {
	e, _, _ := setupTestEngine(t)
	e.opts.ASCIISafeNames = true
	src := writeArtifact(t, "a.zip", "z")

	st, err := e.Stage(context.Background(), src, privateConv, "作业1 café.zip")
	if err != nil {
		t.Fatal(err)
	}
	if st.Name != "1_cafe.zip" {
		t.Errorf("ASCII 展示名不符: %s", st.Name)
	}
	if st.MirrorPath != "" {
		t.Error("私聊不应镜像")
	}
}

func TestEngine_Stage_MissingSource(t *testing.T) {
	e, _, _ := setupTestEngine(t)
	_, err := e.Stage(context.Background(), filepath.Join(t.TempDir(), "nope.docx"), privateConv, "")
	if err == nil || !strings.HasPrefix(err.Error(), "staging 失败") {
		t.Errorf("源文件不存在应返回 staging 失败，实际: %v", err)
	}
}

// ── Send 测试 ──

func TestEngine_Send_Private(t *testing.T) {
	e, up, slept := setupTestEngine(t)
	st := &Staged{Path: "/data/upload_private_file/a.docx", Name: "a.docx"}

	res := e.Send(context.Background(), st, privateConv)
	if res.Outcome != OutcomeSent || res.Detail != "" {
		t.Errorf("期望直接成功，实际 %+v", res)
	}
	if len(up.calls) != 1 || up.calls[0].via != 0 || len(*slept) != 0 {
		t.Errorf("私聊应只调用一次且不带群号: %+v", up.calls)
	}
}

func TestEngine_Send_GroupRetryThenSuccess(t *testing.T) {
	e, up, slept := setupTestEngine(t)
	up.group = []transport.UploadStatus{richFail}

	res := e.Send(context.Background(), &Staged{Path: "/g/a", Name: "a"}, groupConv)
	if res.Outcome != OutcomeSent || res.Detail != detailRetried {
		t.Errorf("重试后应成功，实际 %+v", res)
	}
	if len(*slept) != 1 || (*slept)[0] != 800*time.Millisecond {
		t.Errorf("应按第一个退避间隔重试一次，实际 %v", *slept)
	}
}

func TestEngine_Send_GroupMissingFileFallsBackToMirror(t *testing.T) {
	e, up, slept := setupTestEngine(t)
	up.group = []transport.UploadStatus{missingFail, missingFail, missingFail}

	st := &Staged{Path: "/data/upload_group_file/a.docx", MirrorPath: "/data/upload_private_file/a.docx", Name: "a.docx"}
	res := e.Send(context.Background(), st, groupConv)

	if res.Outcome != OutcomeSent || !strings.HasPrefix(res.Detail, detailViaPrivate) {
		t.Fatalf("期望私聊兜底成功，实际 %+v", res)
	}
	if len(*slept) != 2 {
		t.Errorf("群文件应用尽全部重试，实际 %d 次", len(*slept))
	}
	last := up.calls[len(up.calls)-1]
	if last.scene != transport.ScenePrivate || last.path != st.MirrorPath || last.via != groupConv.GroupID {
		t.Errorf("兜底应以临时会话发送镜像文件: %+v", last)
	}
}

func TestEngine_Send_GroupRejectedUsesSamePath(t *testing.T) {
	e, up, slept := setupTestEngine(t)
	up.group = []transport.UploadStatus{rejected}

	st := &Staged{Path: "/data/upload_group_file/a.docx", MirrorPath: "/data/upload_private_file/a.docx", Name: "a.docx"}
	_ = e.Send(context.Background(), st, groupConv)

	if len(*slept) != 0 {
		t.Error("不可重试的失败不应重试")
	}
	if last := up.calls[len(up.calls)-1]; last.path != st.Path {
		t.Errorf("非缺文件失败时兜底应沿用原路径，实际 %s", last.path)
	}
}

func TestEngine_Send_Unconfirmed(t *testing.T) {
	e, up, _ := setupTestEngine(t)
	up.group = []transport.UploadStatus{unconfirmed}

	res := e.Send(context.Background(), &Staged{Path: "/g/a", Name: "a"}, groupConv)
	if res.Outcome != OutcomePending || !res.Delivered() {
		t.Errorf("未确认应视为已提交，实际 %+v", res)
	}
	if len(up.calls) != 1 {
		t.Error("未确认时不应再走兜底")
	}
}

func TestEngine_Send_BothFail(t *testing.T) {
	e, up, _ := setupTestEngine(t)
	up.group = []transport.UploadStatus{rejected}
	up.private = []transport.UploadStatus{richFail, richFail, richFail}

	res := e.Send(context.Background(), &Staged{Path: "/g/a", Name: "a"}, groupConv)
	if res.Outcome != OutcomeFailed || res.Delivered() {
		t.Fatalf("期望失败，实际 %+v", res)
	}
	if !strings.HasPrefix(res.Detail, "retcode=100 权限不足；私聊也失败：retcode=1200") || !strings.HasSuffix(res.Detail, detailRichMediaHint) {
		t.Errorf("失败说明不符: %s", res.Detail)
	}
}

// ── Deliver 测试 ──

func TestEngine_Deliver_ZipFallback(t *testing.T) {
	e, up, _ := setupTestEngine(t)
	up.private = []transport.UploadStatus{rejected}
	src := writeArtifact(t, "报告.docx", "doc")

	res := e.Deliver(context.Background(), src, privateConv, "")
	if res.Outcome != OutcomeSent || !res.ViaZip {
		t.Fatalf("期望 zip 兜底成功，实际 %+v", res)
	}
	last := up.calls[len(up.calls)-1]
	if last.name != "报告.zip" || !strings.HasSuffix(last.path, ".zip") {
		t.Errorf("zip 兜底展示名不符: %+v", last)
	}

	left, _ := filepath.Glob(filepath.Join(e.opts.TempDir, "send_fallback", "*.zip"))
	if len(left) != 0 {
		t.Errorf("临时 zip 应删除，剩余 %v", left)
	}
}

func TestEngine_Deliver_ArchiveNotRewrapped(t *testing.T) {
	e, up, _ := setupTestEngine(t)
	up.private = []transport.UploadStatus{rejected}
	src := writeArtifact(t, "作业1.zip", "zip")

	res := e.Deliver(context.Background(), src, privateConv, "")
	if res.Outcome != OutcomeFailed || res.ViaZip {
		t.Errorf("压缩包不应再套 zip，实际 %+v", res)
	}
	if len(up.calls) != 1 {
		t.Errorf("只应上传一次，实际 %d", len(up.calls))
	}
}

func TestEngine_Deliver_ZipFallbackDisabled(t *testing.T) {
	e, up, _ := setupTestEngine(t)
	e.opts.ZipFallback = false
	up.private = []transport.UploadStatus{rejected}

	res := e.Deliver(context.Background(), writeArtifact(t, "a.docx", "a"), privateConv, "")
	if res.Outcome != OutcomeFailed || res.Detail != rejected.Detail {
		t.Errorf("关闭兜底时应直接返回失败，实际 %+v", res)
	}
}

// ── SweepStaged 测试 ──

func TestEngine_SweepStaged(t *testing.T) {
	e, _, _ := setupTestEngine(t)
	st, err := e.Stage(context.Background(), writeArtifact(t, "a.docx", "a"), groupConv, "")
	if err != nil {
		t.Fatal(err)
	}

	e.SweepStaged(time.Now(), time.Hour)
	if _, err := os.Stat(st.HostPath); err != nil {
		t.Error("未过期的 staging 文件应保留")
	}
	e.SweepStaged(time.Now().Add(2*time.Hour), time.Hour)
	if _, err := os.Stat(st.HostPath); !os.IsNotExist(err) {
		t.Error("过期 staging 文件应删除")
	}
}
