package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// TriggerCache 启用态触发器的快查索引。不变式：工作区启用集合里的
// id 必有对应快照，两者同批写入/删除；读侧对“有 id 无快照”一律跳过。
type TriggerCache interface {
	// SyncTrigger 启用则写快照并加入集合，停用则同批移除两者
	SyncTrigger(ctx context.Context, snap *TriggerSnapshot) error
	// RemoveTrigger 无条件移除，幂等
	RemoveTrigger(ctx context.Context, workspaceID, triggerID string) error
	// EnabledTriggerIDs 工作区当前启用的触发器 id 集合
	EnabledTriggerIDs(ctx context.Context, workspaceID string) ([]string, error)
	// GetTrigger 按 id 取快照；缺失或无法解析均返回 nil（跳过，不算失败）
	GetTrigger(ctx context.Context, triggerID string) (*TriggerSnapshot, error)
	// RebuildWorkspace 以给定快照全量重建工作区索引
	RebuildWorkspace(ctx context.Context, workspaceID string, snaps []*TriggerSnapshot) error
}

func enabledSetKey(workspaceID string) string {
	return "triggers:enabled:" + workspaceID
}

func triggerBlobKey(triggerID string) string {
	return "triggers:def:" + triggerID
}

// RedisTriggerCache 生产实现。快照与集合成员的成对写入走 TxPipelined，
// 保证两写要么同去要么同留。
type RedisTriggerCache struct {
	client *redis.Client
	logger *logrus.Logger
}

func NewRedisTriggerCache(client *redis.Client, logger *logrus.Logger) *RedisTriggerCache {
	if logger == nil {
		logger = logrus.New()
	}
	return &RedisTriggerCache{client: client, logger: logger}
}

func (c *RedisTriggerCache) SyncTrigger(ctx context.Context, snap *TriggerSnapshot) error {
	if snap == nil || snap.ID == "" {
		return fmt.Errorf("sync trigger: empty snapshot")
	}
	if !snap.Enabled {
		return c.RemoveTrigger(ctx, snap.WorkspaceID, snap.ID)
	}
	blob, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal trigger snapshot: %w", err)
	}
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, triggerBlobKey(snap.ID), blob, 0)
		pipe.SAdd(ctx, enabledSetKey(snap.WorkspaceID), snap.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("sync trigger %s: %w", snap.ID, err)
	}
	return nil
}

func (c *RedisTriggerCache) RemoveTrigger(ctx context.Context, workspaceID, triggerID string) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, triggerBlobKey(triggerID))
		pipe.SRem(ctx, enabledSetKey(workspaceID), triggerID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("remove trigger %s: %w", triggerID, err)
	}
	return nil
}

func (c *RedisTriggerCache) EnabledTriggerIDs(ctx context.Context, workspaceID string) ([]string, error) {
	ids, err := c.client.SMembers(ctx, enabledSetKey(workspaceID)).Result()
	if err != nil {
		return nil, fmt.Errorf("enabled trigger ids: %w", err)
	}
	return ids, nil
}

func (c *RedisTriggerCache) GetTrigger(ctx context.Context, triggerID string) (*TriggerSnapshot, error) {
	blob, err := c.client.Get(ctx, triggerBlobKey(triggerID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get trigger blob: %w", err)
	}
	var snap TriggerSnapshot
	if err := json.Unmarshal(blob, &snap); err != nil {
		// 脏数据按缺失处理，交给重建任务收敛
		c.logger.Debugf("trigger cache: unparsable blob for %s: %v", triggerID, err)
		return nil, nil
	}
	return &snap, nil
}

func (c *RedisTriggerCache) RebuildWorkspace(ctx context.Context, workspaceID string, snaps []*TriggerSnapshot) error {
	stale, err := c.client.SMembers(ctx, enabledSetKey(workspaceID)).Result()
	if err != nil {
		return fmt.Errorf("rebuild workspace %s: %w", workspaceID, err)
	}
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range stale {
			pipe.Del(ctx, triggerBlobKey(id))
		}
		pipe.Del(ctx, enabledSetKey(workspaceID))
		for _, snap := range snaps {
			if snap == nil || !snap.Enabled {
				continue
			}
			blob, err := json.Marshal(snap)
			if err != nil {
				return fmt.Errorf("marshal trigger snapshot: %w", err)
			}
			pipe.Set(ctx, triggerBlobKey(snap.ID), blob, 0)
			pipe.SAdd(ctx, enabledSetKey(workspaceID), snap.ID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("rebuild workspace %s: %w", workspaceID, err)
	}
	return nil
}

// MemoryTriggerCache 内存实现，供测试与单机嵌入式运行
type MemoryTriggerCache struct {
	mu      sync.RWMutex
	enabled map[string]map[string]bool // workspaceID -> trigger id 集合
	blobs   map[string][]byte          // trigger id -> 快照 JSON
}

func NewMemoryTriggerCache() *MemoryTriggerCache {
	return &MemoryTriggerCache{
		enabled: make(map[string]map[string]bool),
		blobs:   make(map[string][]byte),
	}
}

func (c *MemoryTriggerCache) SyncTrigger(ctx context.Context, snap *TriggerSnapshot) error {
	if snap == nil || snap.ID == "" {
		return fmt.Errorf("sync trigger: empty snapshot")
	}
	if !snap.Enabled {
		return c.RemoveTrigger(ctx, snap.WorkspaceID, snap.ID)
	}
	blob, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal trigger snapshot: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.enabled[snap.WorkspaceID] == nil {
		c.enabled[snap.WorkspaceID] = make(map[string]bool)
	}
	c.blobs[snap.ID] = blob
	c.enabled[snap.WorkspaceID][snap.ID] = true
	return nil
}

func (c *MemoryTriggerCache) RemoveTrigger(_ context.Context, workspaceID, triggerID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.blobs, triggerID)
	if set := c.enabled[workspaceID]; set != nil {
		delete(set, triggerID)
	}
	return nil
}

func (c *MemoryTriggerCache) EnabledTriggerIDs(_ context.Context, workspaceID string) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	set := c.enabled[workspaceID]
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	return ids, nil
}

func (c *MemoryTriggerCache) GetTrigger(_ context.Context, triggerID string) (*TriggerSnapshot, error) {
	c.mu.RLock()
	blob, ok := c.blobs[triggerID]
	c.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	var snap TriggerSnapshot
	if err := json.Unmarshal(blob, &snap); err != nil {
		return nil, nil
	}
	return &snap, nil
}

func (c *MemoryTriggerCache) RebuildWorkspace(_ context.Context, workspaceID string, snaps []*TriggerSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id := range c.enabled[workspaceID] {
		delete(c.blobs, id)
	}
	c.enabled[workspaceID] = make(map[string]bool)
	for _, snap := range snaps {
		if snap == nil || !snap.Enabled {
			continue
		}
		blob, err := json.Marshal(snap)
		if err != nil {
			return fmt.Errorf("marshal trigger snapshot: %w", err)
		}
		c.blobs[snap.ID] = blob
		c.enabled[workspaceID][snap.ID] = true
	}
	return nil
}

// 便于测试构造脏数据
func (c *MemoryTriggerCache) putRaw(workspaceID, triggerID string, blob []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.enabled[workspaceID] == nil {
		c.enabled[workspaceID] = make(map[string]bool)
	}
	c.enabled[workspaceID][triggerID] = true
	if blob != nil {
		c.blobs[triggerID] = blob
	}
}
