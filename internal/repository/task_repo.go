package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Cooper3516833584/Cooper-bot/internal/model"
)

type taskRepo struct {
	db *gorm.DB
}

// NewTaskRepo 创建 PostgreSQL 版 TaskRepository
func NewTaskRepo(db *gorm.DB) TaskRepository {
	return &taskRepo{db: db}
}

func (r *taskRepo) Load(ctx context.Context) (map[string]*model.HandinTask, error) {
	var rows []*model.HandinTask
	if err := r.db.WithContext(ctx).Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]*model.HandinTask, len(rows))
	for _, t := range rows {
		out[t.TaskID] = t
	}
	return out, nil
}

// Save 在一个事务内 upsert 全部任务；任务记录永不删除
func (r *taskRepo) Save(ctx context.Context, tasks []*model.HandinTask) error {
	if len(tasks) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "task_id"}},
			UpdateAll: true,
		}).CreateInBatches(tasks, 200).Error
	})
}
