package onebot

import (
	"testing"

	"github.com/Cooper3516833584/Cooper-bot/config"
	"github.com/Cooper3516833584/Cooper-bot/internal/transport"
)

func TestParseEvent_GroupText(t *testing.T) {
	raw := `{"post_type":"message","message_type":"group","sub_type":"normal","message_id":123,
		"user_id":1001,"group_id":100,"raw_message":" /handin 实验一 3.1 20:00 ",
		"message":[{"type":"text","data":{"text":"/handin 实验一 3.1 20:00"}}],
		"sender":{"user_id":1001,"nickname":"小明","card":"张三"}}`

	msg, ok := ParseEvent([]byte(raw), nil)
	if !ok {
		t.Fatal("群消息应解析成功")
	}
	if msg.EventID != "123" {
		t.Errorf("EventID 不符: %q", msg.EventID)
	}
	if msg.Conv != (transport.Conversation{Scene: transport.SceneGroup, UserID: 1001, GroupID: 100}) {
		t.Errorf("会话不符: %+v", msg.Conv)
	}
	if msg.Text != "/handin 实验一 3.1 20:00" || msg.Nickname != "小明" {
		t.Errorf("文本或昵称不符: %q %q", msg.Text, msg.Nickname)
	}
}

func TestParseEvent_SegmentTextAndFiles(t *testing.T) {
	raw := `{"post_type":"message","message_type":"private","sub_type":"friend","message_id":"m1",
		"user_id":1001,
		"message":[
			{"type":"text","data":{"text":"交作业 "}},
			{"type":"file","data":{"file":"张三.docx","file_id":"fid1","url":"https://x/y","file_size":"2048"}},
			{"type":"file_upload","data":{"name":"李四.pdf","id":"fid2","size":4096}}
		]}`

	msg, ok := ParseEvent([]byte(raw), nil)
	if !ok {
		t.Fatal("私聊消息应解析成功")
	}
	if msg.Conv.Scene != transport.ScenePrivate || msg.Text != "交作业" {
		t.Errorf("场景或文本不符: %+v %q", msg.Conv, msg.Text)
	}
	if len(msg.Files) != 2 {
		t.Fatalf("期望 2 个文件，实际: %d", len(msg.Files))
	}
	want0 := transport.FileRef{Name: "张三.docx", ID: "fid1", URL: "https://x/y", Size: 2048}
	want1 := transport.FileRef{Name: "李四.pdf", ID: "fid2", Size: 4096}
	if msg.Files[0] != want0 || msg.Files[1] != want1 {
		t.Errorf("文件引用不符: %+v", msg.Files)
	}
}

func TestParseEvent_CQFileFallback(t *testing.T) {
	raw := `{"post_type":"message","message_type":"private","sub_type":"friend","user_id":1001,
		"message":"[CQ:file,file=王五.zip,file_id=fid3,file_size=10]",
		"raw_message":"[CQ:file,file=王五.zip,file_id=fid3,file_size=10]"}`

	msg, ok := ParseEvent([]byte(raw), nil)
	if !ok || len(msg.Files) != 1 {
		t.Fatalf("CQ 码应解析出 1 个文件: %+v", msg)
	}
	if msg.Files[0].Name != "王五.zip" || msg.Files[0].ID != "fid3" || msg.Files[0].Size != 10 {
		t.Errorf("文件引用不符: %+v", msg.Files[0])
	}
}

func TestParseEvent_Ignored(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"心跳", `{"post_type":"meta_event","meta_event_type":"heartbeat"}`},
		{"action 回包", `{"status":"ok","retcode":0,"data":null,"echo":"1"}`},
		{"缺发送者", `{"post_type":"message","message_type":"private","raw_message":"hi"}`},
		{"未知消息类型", `{"post_type":"message","message_type":"guild","user_id":1}`},
		{"非 JSON", `not json`},
	}
	for _, c := range cases {
		if _, ok := ParseEvent([]byte(c.raw), nil); ok {
			t.Errorf("%s 不应产生消息", c.name)
		}
	}
}

func TestParseEvent_Level(t *testing.T) {
	perms := NewStaticPermissions(config.PermissionConfig{AdminUsers: []int64{9}})
	raw := `{"post_type":"message","message_type":"private","sub_type":"friend","user_id":9,"raw_message":"hi"}`

	msg, _ := ParseEvent([]byte(raw), perms)
	if msg.Level != LevelAdmin {
		t.Errorf("管理员期望 3 级，实际: %d", msg.Level)
	}
}
