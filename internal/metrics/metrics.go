// Package metrics 引擎内部计数器。保持轻量线程安全，
// 供编排器埋点与管理面快照接口使用。
package metrics

import (
	"sync"
	"sync/atomic"
)

type engineStats struct {
	jobsProcessed     uint64
	triggersEvaluated uint64
	triggersMatched   uint64
	triggersFailed    uint64

	mu         sync.Mutex
	jobsByType map[string]uint64
}

var stats engineStats

// IncJobProcessed 记处理过的事件任务，按事件类型细分
func IncJobProcessed(eventType string) {
	if eventType == "" {
		eventType = "unknown"
	}
	atomic.AddUint64(&stats.jobsProcessed, 1)
	stats.mu.Lock()
	if stats.jobsByType == nil {
		stats.jobsByType = make(map[string]uint64)
	}
	stats.jobsByType[eventType]++
	stats.mu.Unlock()
}

// IncTriggerEvaluated 记一次条件求值完成
func IncTriggerEvaluated() {
	atomic.AddUint64(&stats.triggersEvaluated, 1)
}

// IncTriggerMatched 记一次条件命中
func IncTriggerMatched() {
	atomic.AddUint64(&stats.triggersMatched, 1)
}

// IncTriggerFailed 记一次触发器任务失败
func IncTriggerFailed() {
	atomic.AddUint64(&stats.triggersFailed, 1)
}

// Snapshot 当前计数的拷贝
type Snapshot struct {
	JobsProcessed     uint64            `json:"jobs_processed"`
	JobsByType        map[string]uint64 `json:"jobs_by_type"`
	TriggersEvaluated uint64            `json:"triggers_evaluated"`
	TriggersMatched   uint64            `json:"triggers_matched"`
	TriggersFailed    uint64            `json:"triggers_failed"`
}

// Engine 返回引擎计数快照
func Engine() Snapshot {
	snap := Snapshot{
		JobsProcessed:     atomic.LoadUint64(&stats.jobsProcessed),
		TriggersEvaluated: atomic.LoadUint64(&stats.triggersEvaluated),
		TriggersMatched:   atomic.LoadUint64(&stats.triggersMatched),
		TriggersFailed:    atomic.LoadUint64(&stats.triggersFailed),
	}
	stats.mu.Lock()
	defer stats.mu.Unlock()
	snap.JobsByType = make(map[string]uint64, len(stats.jobsByType))
	for k, v := range stats.jobsByType {
		snap.JobsByType[k] = v
	}
	return snap
}
