package queue

import (
	"testing"

	"github.com/RecoveryAshes/ListingHunter/internal/models"
)

func makeTasks(ids ...int64) []*models.Task {
	tasks := make([]*models.Task, 0, len(ids))
	for _, id := range ids {
		tasks = append(tasks, &models.Task{ID: id, UserID: id * 100})
	}
	return tasks
}

func TestEnqueueDedup(t *testing.T) {
	q := New()
	q.Enqueue(makeTasks(1, 2, 3))
	q.Enqueue(makeTasks(2, 3, 4))

	if got := q.PendingCount(); got != 4 {
		t.Errorf("PendingCount() = %d, want 4", got)
	}
}

func TestDequeueFIFO(t *testing.T) {
	q := New()
	q.Enqueue(makeTasks(5, 1, 9))

	want := []int64{5, 1, 9}
	for i, id := range want {
		task := q.Dequeue()
		if task == nil {
			t.Fatalf("Dequeue() #%d = nil", i)
		}
		if task.ID != id {
			t.Errorf("Dequeue() #%d ID = %d, want %d", i, task.ID, id)
		}
	}
	if task := q.Dequeue(); task != nil {
		t.Errorf("空队列Dequeue() = %v, want nil", task)
	}
}

func TestPendingProcessingExclusive(t *testing.T) {
	q := New()
	q.Enqueue(makeTasks(1, 2))

	task := q.Dequeue()
	if task == nil {
		t.Fatal("Dequeue() = nil")
	}
	if got := q.PendingCount(); got != 1 {
		t.Errorf("PendingCount() = %d, want 1", got)
	}
	if got := q.ProcessingCount(); got != 1 {
		t.Errorf("ProcessingCount() = %d, want 1", got)
	}

	// 重复入队正在处理的任务不应产生副本
	q.Enqueue([]*models.Task{task})
	if got := q.PendingCount(); got != 1 {
		t.Errorf("重复入队后 PendingCount() = %d, want 1", got)
	}
}

func TestMarkDoneAndDrain(t *testing.T) {
	q := New()
	q.Enqueue(makeTasks(1, 2))

	t1 := q.Dequeue()
	q.MarkDone(t1, &models.TaskResult{Task: t1, Outcome: models.OutcomeSuccess})

	t2 := q.Dequeue()
	q.MarkFailed(t2, "boom")

	done := q.DrainDone()
	if len(done) != 1 || done[0].Task.ID != t1.ID {
		t.Errorf("DrainDone() = %v, want 1个任务%d", done, t1.ID)
	}
	failed := q.DrainFailed()
	if len(failed) != 1 || failed[0].Message != "boom" {
		t.Errorf("DrainFailed() = %v, want 1条boom", failed)
	}

	// 排空是原子取走,第二次应为空
	if got := q.DrainDone(); len(got) != 0 {
		t.Errorf("第二次DrainDone() = %v, want 空", got)
	}
}

func TestIsFullyDrained(t *testing.T) {
	q := New()
	if !q.IsFullyDrained() {
		t.Error("空队列应为已排空")
	}

	q.Enqueue(makeTasks(1))
	if q.IsFullyDrained() {
		t.Error("有pending任务时不应为已排空")
	}

	task := q.Dequeue()
	if q.IsFullyDrained() {
		t.Error("有processing任务时不应为已排空")
	}

	q.MarkDone(task, &models.TaskResult{Task: task, Outcome: models.OutcomeSuccess})
	if !q.IsFullyDrained() {
		t.Error("全部完成后应为已排空")
	}
}

func TestBlockedUserSkipped(t *testing.T) {
	q := New()
	q.Enqueue(makeTasks(1, 2, 3))

	// 任务2归属用户200
	q.BlockUser(200)
	if !q.IsBlocked(200) {
		t.Fatal("IsBlocked(200) = false, want true")
	}

	var got []int64
	for {
		task := q.Dequeue()
		if task == nil {
			break
		}
		got = append(got, task.ID)
	}
	if len(got) != 2 || got[0] != 1 || got[1] != 3 {
		t.Errorf("Dequeue序列 = %v, want [1 3]", got)
	}
}

func TestResetKeepsBlocked(t *testing.T) {
	q := New()
	q.Enqueue(makeTasks(1, 2))
	q.Dequeue()
	q.BlockUser(42)

	q.Reset()

	if !q.IsFullyDrained() {
		t.Error("Reset后应为已排空")
	}
	if got := q.DrainDone(); len(got) != 0 {
		t.Errorf("Reset后DrainDone() = %v, want 空", got)
	}
	if !q.IsBlocked(42) {
		t.Error("Reset不应清空今日停采集合")
	}
}
