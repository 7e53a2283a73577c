package repository

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Cooper3516833584/Cooper-bot/internal/model"
)

// TaskRepository 任务持久化接口
// 以整表快照为单位读写：Save 写入的是调用时刻的全部任务
type TaskRepository interface {
	Load(ctx context.Context) (map[string]*model.HandinTask, error)
	Save(ctx context.Context, tasks []*model.HandinTask) error
}

// Repository 所有 Repository 的聚合入口
type Repository struct {
	Task TaskRepository
}

// NewRepository 创建基于 PostgreSQL 的 Repository 聚合
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{
		Task: NewTaskRepo(db),
	}
}

// NewFileRepository 创建基于本地 JSON 文档的 Repository 聚合
func NewFileRepository(path string, logger *zap.Logger) *Repository {
	return &Repository{
		Task: NewJSONTaskRepo(path, logger),
	}
}
