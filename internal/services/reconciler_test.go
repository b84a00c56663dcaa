package services

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func TestCacheReconciler_ReconcileWorkspace(t *testing.T) {
	db := newTriggerServiceTestDB(t)
	cache := NewMemoryTriggerCache()
	svc := NewTriggerService(db, cache, 0, logrus.New())
	rec := NewCacheReconciler(db, cache, svc, time.Minute, logrus.New())
	ctx := context.Background()

	enabledReq := validTriggerRequest()
	enabled, err := svc.Create(ctx, "ws-1", enabledReq)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	disabledReq := validTriggerRequest()
	off := false
	disabledReq.Enabled = &off
	if _, err := svc.Create(ctx, "ws-1", disabledReq); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// 人为制造漂移：缓存里塞一个数据库没有的幽灵条目，再丢掉合法条目
	cache.putRaw("ws-1", "ghost", []byte(`{"id":"ghost","enabled":true}`))
	if err := cache.RemoveTrigger(ctx, "ws-1", enabled.ID); err != nil {
		t.Fatalf("remove failed: %v", err)
	}

	if err := rec.ReconcileWorkspace(ctx, "ws-1"); err != nil {
		t.Fatalf("ReconcileWorkspace failed: %v", err)
	}

	ids, _ := cache.EnabledTriggerIDs(ctx, "ws-1")
	if len(ids) != 1 || ids[0] != enabled.ID {
		t.Fatalf("reconciled ids = %v, want only %s", ids, enabled.ID)
	}
	if snap, _ := cache.GetTrigger(ctx, "ghost"); snap != nil {
		t.Error("ghost entry should be purged")
	}
	snap, _ := cache.GetTrigger(ctx, enabled.ID)
	if snap == nil || snap.Root == nil {
		t.Fatalf("rebuilt snapshot incomplete: %+v", snap)
	}
}

func TestCacheReconciler_ReconcileAll(t *testing.T) {
	db := newTriggerServiceTestDB(t)
	cache := NewMemoryTriggerCache()
	svc := NewTriggerService(db, cache, 0, logrus.New())
	rec := NewCacheReconciler(db, cache, svc, time.Minute, logrus.New())
	ctx := context.Background()

	t1, err := svc.Create(ctx, "ws-1", validTriggerRequest())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	t2, err := svc.Create(ctx, "ws-2", validTriggerRequest())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	// 清空缓存模拟冷启动
	if err := cache.RebuildWorkspace(ctx, "ws-1", nil); err != nil {
		t.Fatalf("rebuild failed: %v", err)
	}
	if err := cache.RebuildWorkspace(ctx, "ws-2", nil); err != nil {
		t.Fatalf("rebuild failed: %v", err)
	}

	if err := rec.ReconcileAll(ctx); err != nil {
		t.Fatalf("ReconcileAll failed: %v", err)
	}

	for _, want := range []struct{ ws, id string }{{"ws-1", t1.ID}, {"ws-2", t2.ID}} {
		ids, _ := cache.EnabledTriggerIDs(ctx, want.ws)
		if len(ids) != 1 || ids[0] != want.id {
			t.Errorf("%s ids = %v, want [%s]", want.ws, ids, want.id)
		}
	}
}
