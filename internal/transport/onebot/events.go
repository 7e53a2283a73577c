package onebot

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Cooper3516833584/Cooper-bot/internal/transport"
)

// Event OneBot v11 上报事件中用到的字段
type Event struct {
	PostType    string          `json:"post_type"`
	MessageType string          `json:"message_type"`
	SubType     string          `json:"sub_type"`
	MessageID   json.RawMessage `json:"message_id"`
	UserID      int64           `json:"user_id"`
	GroupID     int64           `json:"group_id"`
	Time        int64           `json:"time"`
	RawMessage  string          `json:"raw_message"`
	Message     json.RawMessage `json:"message"`
	Sender      struct {
		UserID   int64  `json:"user_id"`
		Nickname string `json:"nickname"`
		Card     string `json:"card"`
	} `json:"sender"`
}

type segment struct {
	Type string                     `json:"type"`
	Data map[string]json.RawMessage `json:"data"`
}

var cqFileRe = regexp.MustCompile(`\[CQ:file,([^\]]+)\]`)

// ParseEvent 把原始上报解析为 Message；非消息事件或缺少发送者时返回 false
func ParseEvent(raw []byte, perms transport.PermissionResolver) (transport.Message, bool) {
	var evt Event
	if err := json.Unmarshal(raw, &evt); err != nil {
		return transport.Message{}, false
	}
	return evt.ToMessage(perms)
}

// ToMessage 归一化
func (e *Event) ToMessage(perms transport.PermissionResolver) (transport.Message, bool) {
	if e.PostType != "message" {
		return transport.Message{}, false
	}
	uid := e.Sender.UserID
	if uid == 0 {
		uid = e.UserID
	}
	if uid == 0 {
		return transport.Message{}, false
	}

	var conv transport.Conversation
	switch e.MessageType {
	case "group":
		conv = transport.Conversation{Scene: transport.SceneGroup, UserID: uid, GroupID: e.GroupID}
	case "private":
		// 群临时会话带 group_id，私发文件时需要
		conv = transport.Conversation{Scene: transport.ScenePrivate, UserID: uid, GroupID: e.GroupID}
	default:
		return transport.Message{}, false
	}

	nick := strings.TrimSpace(e.Sender.Nickname)
	if nick == "" {
		nick = strconv.FormatInt(uid, 10)
	}

	msg := transport.Message{
		EventID:    e.eventID(uid),
		Conv:       conv,
		Nickname:   nick,
		Text:       e.text(),
		Files:      e.files(),
		ReceivedAt: time.Now(),
	}
	if perms != nil {
		msg.Level = perms.Level(conv, strings.ToLower(e.SubType))
	}
	return msg, true
}

func (e *Event) eventID(uid int64) string {
	// message_id 可能是数字也可能是字符串
	if id := strings.Trim(string(e.MessageID), `"`); id != "" && id != "null" {
		return id
	}
	if e.Time == 0 {
		return ""
	}
	return strconv.FormatInt(uid, 10) + ":" + strconv.FormatInt(e.Time, 10)
}

// text 优先 raw_message，其次 message 字符串，最后拼接 text 段
func (e *Event) text() string {
	if s := strings.TrimSpace(e.RawMessage); s != "" {
		return s
	}
	var s string
	if json.Unmarshal(e.Message, &s) == nil {
		return strings.TrimSpace(s)
	}
	var b strings.Builder
	for _, seg := range e.segments() {
		if seg.Type == "text" {
			b.WriteString(dataString(seg.Data, "text"))
		}
	}
	return strings.TrimSpace(b.String())
}

func (e *Event) segments() []segment {
	var segs []segment
	if len(e.Message) == 0 || json.Unmarshal(e.Message, &segs) != nil {
		return nil
	}
	return segs
}

// files 提取 file 段；消息不是段数组时从 raw_message 的 CQ 码兜底
func (e *Event) files() []transport.FileRef {
	segs := e.segments()
	if segs != nil {
		var out []transport.FileRef
		for _, seg := range segs {
			switch strings.ToLower(seg.Type) {
			case "file", "file_upload", "file_msg":
			default:
				continue
			}
			out = append(out, transport.FileRef{
				Name: firstNonEmpty(dataString(seg.Data, "file"), dataString(seg.Data, "name")),
				ID:   firstNonEmpty(dataString(seg.Data, "file_id"), dataString(seg.Data, "id")),
				URL:  dataString(seg.Data, "url"),
				Size: parseSize(firstNonEmpty(dataString(seg.Data, "file_size"), dataString(seg.Data, "size"))),
			})
		}
		return out
	}

	src := e.RawMessage
	if src == "" {
		_ = json.Unmarshal(e.Message, &src)
	}
	m := cqFileRe.FindStringSubmatch(src)
	if m == nil {
		return nil
	}
	kv := map[string]string{}
	for _, part := range strings.Split(m[1], ",") {
		k, v, ok := strings.Cut(part, "=")
		if ok {
			kv[strings.TrimSpace(k)] = strings.TrimSpace(v)
		}
	}
	return []transport.FileRef{{
		Name: kv["file"],
		ID:   kv["file_id"],
		URL:  kv["url"],
		Size: parseSize(kv["file_size"]),
	}}
}

// dataString 段字段可能是字符串也可能是数字
func dataString(data map[string]json.RawMessage, key string) string {
	raw, ok := data[key]
	if !ok {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var n json.Number
	if json.Unmarshal(raw, &n) == nil {
		return n.String()
	}
	return ""
}

func parseSize(s string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
