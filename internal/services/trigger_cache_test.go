package services

import (
	"context"
	"sort"
	"testing"

	"flowdesk/internal/models"
)

func snapshotFixture(id, workspaceID string, enabled bool, priority int) *TriggerSnapshot {
	return &TriggerSnapshot{
		ID:          id,
		WorkspaceID: workspaceID,
		Name:        "触发器 " + id,
		Event:       models.TriggerEventChatStarted,
		Enabled:     enabled,
		Priority:    priority,
		Root:        NewGroupNode(models.GroupOperatorAnd),
	}
}

func TestMemoryTriggerCache_SyncAndGet(t *testing.T) {
	c := NewMemoryTriggerCache()
	ctx := context.Background()

	if err := c.SyncTrigger(ctx, snapshotFixture("t1", "ws-1", true, 5)); err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if err := c.SyncTrigger(ctx, snapshotFixture("t2", "ws-1", true, 1)); err != nil {
		t.Fatalf("sync failed: %v", err)
	}

	ids, err := c.EnabledTriggerIDs(ctx, "ws-1")
	if err != nil {
		t.Fatalf("enabled ids failed: %v", err)
	}
	sort.Strings(ids)
	if len(ids) != 2 || ids[0] != "t1" || ids[1] != "t2" {
		t.Fatalf("enabled ids = %v", ids)
	}

	snap, err := c.GetTrigger(ctx, "t1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if snap == nil || snap.Priority != 5 || snap.Root == nil {
		t.Fatalf("snapshot round-trip broken: %+v", snap)
	}
}

func TestMemoryTriggerCache_DisabledSnapshotRemoves(t *testing.T) {
	c := NewMemoryTriggerCache()
	ctx := context.Background()

	if err := c.SyncTrigger(ctx, snapshotFixture("t1", "ws-1", true, 1)); err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	// 同一触发器停用后同步：集合成员与快照成对消失
	if err := c.SyncTrigger(ctx, snapshotFixture("t1", "ws-1", false, 1)); err != nil {
		t.Fatalf("sync disabled failed: %v", err)
	}

	ids, _ := c.EnabledTriggerIDs(ctx, "ws-1")
	if len(ids) != 0 {
		t.Errorf("enabled ids = %v, want empty", ids)
	}
	snap, err := c.GetTrigger(ctx, "t1")
	if err != nil || snap != nil {
		t.Errorf("GetTrigger = (%v, %v), want (nil, nil)", snap, err)
	}
}

func TestMemoryTriggerCache_RemoveIsIdempotent(t *testing.T) {
	c := NewMemoryTriggerCache()
	ctx := context.Background()

	if err := c.RemoveTrigger(ctx, "ws-1", "never-existed"); err != nil {
		t.Fatalf("remove of absent trigger should succeed: %v", err)
	}
	if err := c.SyncTrigger(ctx, snapshotFixture("t1", "ws-1", true, 1)); err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := c.RemoveTrigger(ctx, "ws-1", "t1"); err != nil {
			t.Fatalf("remove failed: %v", err)
		}
	}
	ids, _ := c.EnabledTriggerIDs(ctx, "ws-1")
	if len(ids) != 0 {
		t.Errorf("enabled ids = %v, want empty", ids)
	}
}

func TestMemoryTriggerCache_UnparsableBlobSkipped(t *testing.T) {
	c := NewMemoryTriggerCache()
	c.putRaw("ws-1", "t-bad", []byte("{not json"))

	snap, err := c.GetTrigger(context.Background(), "t-bad")
	if err != nil {
		t.Fatalf("dirty blob must not be an error: %v", err)
	}
	if snap != nil {
		t.Errorf("dirty blob should read as missing, got %+v", snap)
	}
}

func TestMemoryTriggerCache_RebuildWorkspace(t *testing.T) {
	c := NewMemoryTriggerCache()
	ctx := context.Background()

	if err := c.SyncTrigger(ctx, snapshotFixture("stale", "ws-1", true, 1)); err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if err := c.SyncTrigger(ctx, snapshotFixture("other-ws", "ws-2", true, 1)); err != nil {
		t.Fatalf("sync failed: %v", err)
	}

	snaps := []*TriggerSnapshot{
		snapshotFixture("fresh-1", "ws-1", true, 3),
		snapshotFixture("fresh-disabled", "ws-1", false, 2),
		nil,
	}
	if err := c.RebuildWorkspace(ctx, "ws-1", snaps); err != nil {
		t.Fatalf("rebuild failed: %v", err)
	}

	ids, _ := c.EnabledTriggerIDs(ctx, "ws-1")
	if len(ids) != 1 || ids[0] != "fresh-1" {
		t.Fatalf("rebuilt ids = %v, want [fresh-1]", ids)
	}
	// 旧快照随重建清除
	if snap, _ := c.GetTrigger(ctx, "stale"); snap != nil {
		t.Error("stale snapshot should be purged by rebuild")
	}
	// 其他工作区不受影响
	otherIDs, _ := c.EnabledTriggerIDs(ctx, "ws-2")
	if len(otherIDs) != 1 {
		t.Errorf("ws-2 ids = %v, rebuild must not leak across workspaces", otherIDs)
	}
}

func TestCacheKeys(t *testing.T) {
	if got := enabledSetKey("ws-1"); got != "triggers:enabled:ws-1" {
		t.Errorf("enabledSetKey = %q", got)
	}
	if got := triggerBlobKey("t-1"); got != "triggers:def:t-1" {
		t.Errorf("triggerBlobKey = %q", got)
	}
}
