package services

import (
	"context"
	"fmt"
	"time"

	"flowdesk/internal/models"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// CacheReconciler 周期性地用数据库全量重建触发器缓存，给缓存漂移
// （部分同步失败留下的不一致）一个有界的存活窗口。
type CacheReconciler struct {
	db       *gorm.DB
	cache    TriggerCache
	triggers *TriggerService
	interval time.Duration
	cron     *cron.Cron
	logger   *logrus.Logger
}

func NewCacheReconciler(db *gorm.DB, cache TriggerCache, triggers *TriggerService, interval time.Duration, logger *logrus.Logger) *CacheReconciler {
	if logger == nil {
		logger = logrus.New()
	}
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &CacheReconciler{
		db:       db,
		cache:    cache,
		triggers: triggers,
		interval: interval,
		cron:     cron.New(),
		logger:   logger,
	}
}

// Start 注册并启动周期任务
func (r *CacheReconciler) Start() error {
	spec := fmt.Sprintf("@every %s", r.interval)
	_, err := r.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if err := r.ReconcileAll(ctx); err != nil {
			r.logger.Warnf("cache reconcile failed: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule cache reconcile: %w", err)
	}
	r.cron.Start()
	r.logger.Infof("Cache reconciler started, interval=%s", r.interval)
	return nil
}

// Stop 停止调度并等当前任务跑完
func (r *CacheReconciler) Stop() {
	<-r.cron.Stop().Done()
}

// ReconcileAll 逐工作区重建缓存
func (r *CacheReconciler) ReconcileAll(ctx context.Context) error {
	var workspaceIDs []string
	err := r.db.WithContext(ctx).
		Model(&models.Trigger{}).
		Distinct("workspace_id").
		Pluck("workspace_id", &workspaceIDs).Error
	if err != nil {
		return fmt.Errorf("list trigger workspaces: %w", err)
	}
	for _, wsID := range workspaceIDs {
		if err := r.ReconcileWorkspace(ctx, wsID); err != nil {
			r.logger.Warnf("cache reconcile: workspace %s failed: %v", wsID, err)
		}
	}
	return nil
}

// ReconcileWorkspace 用数据库里的启用触发器重建单个工作区的缓存。
// 快照构建失败的触发器跳过并告警，不拖垮整个批次。
func (r *CacheReconciler) ReconcileWorkspace(ctx context.Context, workspaceID string) error {
	triggers, err := r.triggers.List(ctx, workspaceID)
	if err != nil {
		return fmt.Errorf("load triggers: %w", err)
	}
	snaps := make([]*TriggerSnapshot, 0, len(triggers))
	for i := range triggers {
		t := &triggers[i]
		if !t.Enabled {
			continue
		}
		snap, err := r.triggers.Snapshot(t)
		if err != nil {
			r.logger.Warnf("cache reconcile: snapshot for trigger %s failed: %v", t.ID, err)
			continue
		}
		snaps = append(snaps, snap)
	}
	return r.cache.RebuildWorkspace(ctx, workspaceID, snaps)
}
