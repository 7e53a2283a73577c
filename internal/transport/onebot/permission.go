package onebot

import (
	"strconv"
	"sync"

	"github.com/Cooper3516833584/Cooper-bot/config"
	"github.com/Cooper3516833584/Cooper-bot/internal/transport"
)

// 权限等级
const (
	LevelGuest  = 0
	LevelTemp   = 1
	LevelFriend = 2
	LevelAdmin  = 3
)

// StaticPermissions 基于配置的权限解析；实现 transport.PermissionResolver
// 群内发过言的用户在进程内至少记为 1 级
type StaticPermissions struct {
	admins      map[int64]struct{}
	defaultLvl  int
	userLevels  map[int64]int
	groupLevels map[int64]int

	mu       sync.RWMutex
	speakers map[int64]int
}

// NewStaticPermissions 从配置构建；非数字键忽略
func NewStaticPermissions(cfg config.PermissionConfig) *StaticPermissions {
	p := &StaticPermissions{
		admins:      make(map[int64]struct{}, len(cfg.AdminUsers)),
		defaultLvl:  cfg.DefaultLevel,
		userLevels:  parseLevels(cfg.UserLevels),
		groupLevels: parseLevels(cfg.GroupLevels),
		speakers:    map[int64]int{},
	}
	for _, id := range cfg.AdminUsers {
		p.admins[id] = struct{}{}
	}
	return p
}

func parseLevels(m map[string]int) map[int64]int {
	out := make(map[int64]int, len(m))
	for k, v := range m {
		id, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			continue
		}
		out[id] = v
	}
	return out
}

// IsAdmin 是否管理员
func (p *StaticPermissions) IsAdmin(userID int64) bool {
	_, ok := p.admins[userID]
	return ok
}

// Level 计算本条消息的权限等级
//   - 管理员：3
//   - 好友私聊：至少 1
//   - 陌生人私聊：0
//   - 群聊与群临时会话：取用户等级与群下限的较大者
func (p *StaticPermissions) Level(conv transport.Conversation, subType string) int {
	if conv.IsGroup() {
		p.touchSpeaker(conv.UserID)
	}

	switch {
	case p.IsAdmin(conv.UserID):
		return LevelAdmin
	case !conv.IsGroup() && subType == "friend":
		return max(p.base(conv.UserID), LevelTemp)
	case !conv.IsGroup() && subType != "group":
		return LevelGuest
	default:
		return max(p.base(conv.UserID), p.groupLevels[conv.GroupID])
	}
}

func (p *StaticPermissions) base(userID int64) int {
	lvl, ok := p.userLevels[userID]
	if !ok {
		lvl = p.defaultLvl
	}
	p.mu.RLock()
	bumped := p.speakers[userID]
	p.mu.RUnlock()
	return max(lvl, bumped)
}

func (p *StaticPermissions) touchSpeaker(userID int64) {
	p.mu.Lock()
	if p.speakers[userID] < LevelTemp {
		p.speakers[userID] = LevelTemp
	}
	p.mu.Unlock()
}
