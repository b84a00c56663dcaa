package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"flowdesk/internal/metrics"
	"flowdesk/internal/models"
	"flowdesk/internal/queue"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// DefaultWaveConcurrency 单个波次内并发执行的触发器上限
const DefaultWaveConcurrency = 8

// EventJob 队列里的事件任务
type EventJob struct {
	WorkspaceID  string                 `json:"workspaceId"`
	EventType    string                 `json:"eventType"`
	Payload      map[string]interface{} `json:"payload"`
	DepartmentID string                 `json:"departmentId,omitempty"`
	// Timestamp 事件发生时刻；缺省用处理时刻兜底
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// TriggerOrchestrator 消费事件任务并驱动触发器求值与动作执行。
// 优先级波次之间严格串行，波次内有界并发，单个任务失败不影响兄弟任务。
type TriggerOrchestrator struct {
	cache           TriggerCache
	evaluator       *ConditionEvaluator
	executor        *ActionExecutor
	varBuilder      *TemplateVarBuilder
	logs            *ExecutionLogStore
	waveConcurrency int
	logger          *logrus.Logger
}

func NewTriggerOrchestrator(
	cache TriggerCache,
	evaluator *ConditionEvaluator,
	executor *ActionExecutor,
	varBuilder *TemplateVarBuilder,
	logs *ExecutionLogStore,
	waveConcurrency int,
	logger *logrus.Logger,
) *TriggerOrchestrator {
	if waveConcurrency <= 0 {
		waveConcurrency = DefaultWaveConcurrency
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &TriggerOrchestrator{
		cache:           cache,
		evaluator:       evaluator,
		executor:        executor,
		varBuilder:      varBuilder,
		logs:            logs,
		waveConcurrency: waveConcurrency,
		logger:          logger,
	}
}

// HandleDelivery 实现 queue.Handler。消息解析失败直接 ack 丢弃，
// 重投也救不回坏消息；基础设施错误返回非 nil 交给队列重投。
func (o *TriggerOrchestrator) HandleDelivery(ctx context.Context, d queue.Delivery) error {
	var job EventJob
	if err := json.Unmarshal(d.Body, &job); err != nil {
		o.logger.Warnf("orchestrator: dropping malformed event job: %v", err)
		return nil
	}
	return o.ProcessJob(ctx, job)
}

// ProcessJob 处理一个事件任务。返回的错误只代表基础设施故障
// （如缓存不可达）；单个触发器的求值/执行失败记日志后吞掉。
func (o *TriggerOrchestrator) ProcessJob(ctx context.Context, job EventJob) error {
	if job.WorkspaceID == "" || job.EventType == "" {
		o.logger.Warnf("orchestrator: dropping event job without workspace/event")
		return nil
	}
	metrics.IncJobProcessed(job.EventType)

	candidates, err := o.loadCandidates(ctx, job)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		return nil
	}

	ec := &EventContext{
		WorkspaceID:  job.WorkspaceID,
		DepartmentID: job.DepartmentID,
		EventType:    job.EventType,
		Timestamp:    job.Timestamp,
		Payload:      job.Payload,
	}
	if ec.Timestamp.IsZero() {
		ec.Timestamp = time.Now()
	}

	// 模板变量每个求值批次只构建一次，动作间共享
	vars := o.varBuilder.Build(ctx, ec)

	for _, wave := range buildWaves(candidates) {
		o.runWave(ctx, wave, ec, vars)
	}
	return nil
}

// loadCandidates 从缓存加载启用且事件匹配的触发器快照。
// 集合里有 id 但快照缺失或无法解析的，按不存在跳过，不算失败。
func (o *TriggerOrchestrator) loadCandidates(ctx context.Context, job EventJob) ([]*TriggerSnapshot, error) {
	ids, err := o.cache.EnabledTriggerIDs(ctx, job.WorkspaceID)
	if err != nil {
		return nil, fmt.Errorf("load enabled trigger ids: %w", err)
	}
	var out []*TriggerSnapshot
	for _, id := range ids {
		snap, err := o.cache.GetTrigger(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load trigger %s: %w", id, err)
		}
		if snap == nil {
			continue
		}
		if !snap.Enabled || snap.Event != job.EventType {
			continue
		}
		out = append(out, snap)
	}
	return out, nil
}

// buildWaves 按优先级降序分波，同优先级同波
func buildWaves(snaps []*TriggerSnapshot) [][]*TriggerSnapshot {
	sort.SliceStable(snaps, func(i, j int) bool { return snaps[i].Priority > snaps[j].Priority })
	var waves [][]*TriggerSnapshot
	for _, snap := range snaps {
		if n := len(waves); n > 0 && waves[n-1][0].Priority == snap.Priority {
			waves[n-1] = append(waves[n-1], snap)
			continue
		}
		waves = append(waves, []*TriggerSnapshot{snap})
	}
	return waves
}

// runWave 有界并发跑完一个波次。下一波（更低优先级）必须等本波
// 所有任务结束（无论成败）才开始。
func (o *TriggerOrchestrator) runWave(ctx context.Context, wave []*TriggerSnapshot, ec *EventContext, vars map[string]string) {
	limit := o.waveConcurrency
	if len(wave) < limit {
		limit = len(wave)
	}
	var g errgroup.Group
	g.SetLimit(limit)
	for _, snap := range wave {
		snap := snap
		g.Go(func() error {
			o.runTrigger(ctx, snap, ec, vars)
			// 任务失败已入执行日志，不让它取消兄弟任务
			return nil
		})
	}
	_ = g.Wait()
}

// runTrigger 单触发器任务：求值，未命中静默跳过；命中则按序执行动作，
// 然后写成功/失败执行日志。panic 一并兜住按失败处理。
func (o *TriggerOrchestrator) runTrigger(ctx context.Context, snap *TriggerSnapshot, ec *EventContext, vars map[string]string) {
	var taskErr error
	matched := false

	func() {
		defer func() {
			if r := recover(); r != nil {
				taskErr = fmt.Errorf("panic: %v", r)
			}
		}()
		ok, err := o.evaluator.Evaluate(ctx, snap.Root, ec)
		if err != nil {
			taskErr = fmt.Errorf("evaluate conditions: %w", err)
			return
		}
		metrics.IncTriggerEvaluated()
		if !ok {
			return
		}
		matched = true
		metrics.IncTriggerMatched()

		actions := append([]models.TriggerAction(nil), snap.Actions...)
		sort.SliceStable(actions, func(i, j int) bool { return actions[i].SortOrder < actions[j].SortOrder })
		for _, a := range actions {
			if err := o.executor.Execute(ctx, a, ec, vars); err != nil {
				taskErr = fmt.Errorf("action %s: %w", a.Type, err)
				return
			}
		}
	}()

	switch {
	case taskErr == nil && !matched:
		// 未命中不写执行日志
		return
	case taskErr == nil:
		if err := o.logs.RecordExecution(ctx, snap.WorkspaceID, snap.ID, true, "", ec.Timestamp); err != nil {
			o.logger.Warnf("orchestrator: record success for %s failed: %v", snap.ID, err)
		}
	default:
		metrics.IncTriggerFailed()
		o.logger.Warnf("orchestrator: trigger %s (%s) failed: %v", snap.Name, snap.ID, taskErr)
		// 求值阶段的失败同样计入执行日志
		if err := o.logs.RecordExecution(ctx, snap.WorkspaceID, snap.ID, false, taskErr.Error(), ec.Timestamp); err != nil {
			o.logger.Warnf("orchestrator: record failure for %s failed: %v", snap.ID, err)
		}
	}
}
