package service

import (
	"go.uber.org/zap"

	"github.com/Cooper3516833584/Cooper-bot/config"
	"github.com/Cooper3516833584/Cooper-bot/internal/repository"
)

// Service 所有 Service 的聚合入口
type Service struct {
	Task     TaskStore
	Export   ExportService
	Calendar CalendarService
}

// NewService 创建 Service 聚合
func NewService(
	cfg *config.Config,
	repo *repository.Repository,
	rosterSrc RosterSource,
	logger *zap.Logger,
) *Service {
	store := NewTaskStore(StoreOptions{
		ArchiveDir:       cfg.Handin.ArchiveDir,
		InboxDir:         cfg.Handin.InboxDir,
		LegacyGroupsDir:  cfg.Handin.LegacyGroupsDir,
		LegacyDirName:    cfg.Handin.LegacyDirName,
		ArchiveRetention: cfg.Handin.ArchiveRetention,
		InboxRetention:   cfg.Handin.InboxRetention,
		Location:         cfg.Handin.Location(),
	}, repo, rosterSrc, logger.Named("task"))

	return &Service{
		Task:     store,
		Export:   NewExportService(store, logger),
		Calendar: NewCalendarService(store, logger),
	}
}
