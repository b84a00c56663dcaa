package metrics

import (
	"sync"
	"testing"
)

func TestEngineCounters(t *testing.T) {
	before := Engine()

	IncJobProcessed("CHAT_STARTED")
	IncJobProcessed("CHAT_STARTED")
	IncJobProcessed("")
	IncTriggerEvaluated()
	IncTriggerMatched()
	IncTriggerFailed()

	after := Engine()
	if got := after.JobsProcessed - before.JobsProcessed; got != 3 {
		t.Errorf("jobs processed delta = %d, want 3", got)
	}
	if got := after.JobsByType["CHAT_STARTED"] - before.JobsByType["CHAT_STARTED"]; got != 2 {
		t.Errorf("CHAT_STARTED delta = %d, want 2", got)
	}
	// 空事件类型归入 unknown
	if got := after.JobsByType["unknown"] - before.JobsByType["unknown"]; got != 1 {
		t.Errorf("unknown delta = %d, want 1", got)
	}
	if after.TriggersEvaluated-before.TriggersEvaluated != 1 ||
		after.TriggersMatched-before.TriggersMatched != 1 ||
		after.TriggersFailed-before.TriggersFailed != 1 {
		t.Errorf("trigger counter deltas wrong: %+v -> %+v", before, after)
	}
}

func TestEngineCounters_Concurrent(t *testing.T) {
	before := Engine()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				IncJobProcessed("MESSAGE_SENT")
				IncTriggerEvaluated()
			}
		}()
	}
	wg.Wait()

	after := Engine()
	if got := after.JobsProcessed - before.JobsProcessed; got != 1000 {
		t.Errorf("jobs processed delta = %d, want 1000", got)
	}
	if got := after.TriggersEvaluated - before.TriggersEvaluated; got != 1000 {
		t.Errorf("evaluated delta = %d, want 1000", got)
	}
}
