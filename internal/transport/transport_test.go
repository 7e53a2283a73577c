package transport

import (
	"context"
	"testing"
)

type recordMessenger struct {
	private map[int64]string
	group   map[int64]string
}

func (r *recordMessenger) SendPrivate(_ context.Context, userID int64, text string) error {
	r.private[userID] = text
	return nil
}

func (r *recordMessenger) SendGroup(_ context.Context, groupID int64, text string) error {
	r.group[groupID] = text
	return nil
}

func TestReply_RoutesByScene(t *testing.T) {
	m := &recordMessenger{private: map[int64]string{}, group: map[int64]string{}}
	ctx := context.Background()

	_ = Reply(ctx, m, Conversation{Scene: SceneGroup, UserID: 1, GroupID: 100}, "群消息")
	_ = Reply(ctx, m, Conversation{Scene: ScenePrivate, UserID: 1}, "私聊消息")

	if m.group[100] != "群消息" || m.private[1] != "私聊消息" {
		t.Errorf("回复路由不符: %+v", m)
	}
}

func TestUploadStatus_Transient(t *testing.T) {
	cases := map[UploadKind]bool{
		UploadOK:              false,
		UploadUnconfirmed:     false,
		UploadMissingFile:     true,
		UploadRichMediaFailed: true,
		UploadRejected:        false,
	}
	for k, want := range cases {
		if got := (UploadStatus{Kind: k}).Transient(); got != want {
			t.Errorf("%s: 期望 %v，实际 %v", k, want, got)
		}
	}
}

func TestConversation_LockKeyPerUser(t *testing.T) {
	a := Conversation{Scene: SceneGroup, UserID: 7, GroupID: 100}
	b := Conversation{Scene: ScenePrivate, UserID: 7}
	if a.LockKey() != b.LockKey() {
		t.Error("同一用户的群聊与私聊应共用锁")
	}
}
