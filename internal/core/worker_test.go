package core

import (
	"context"
	"testing"

	"github.com/RecoveryAshes/ListingHunter/internal/models"
	"github.com/RecoveryAshes/ListingHunter/internal/queue"
	"github.com/RecoveryAshes/ListingHunter/internal/session"
)

func TestRunTaskUnknownPlatformIsWarning(t *testing.T) {
	q := queue.New()
	sess := session.New(nil, "profile-1", "hunter-01", nil, 0)
	w := NewWorker(1, sess, q, nil, nil, CrawlConfig{}, &counters{}, func() bool { return false })

	task := &models.Task{ID: 1, UserID: 10, Platform: "unknown-platform"}
	q.Enqueue([]*models.Task{task})
	got := q.Dequeue()
	if got == nil {
		t.Fatal("Dequeue()应返回任务")
	}

	w.runTask(context.Background(), got)

	// 平台未注册按warning结果回传,不算技术性失败
	done := q.DrainDone()
	if len(done) != 1 {
		t.Fatalf("成功缓冲长度 = %d, want 1", len(done))
	}
	if done[0].Outcome != models.OutcomeWarning {
		t.Errorf("Outcome = %v, want %v", done[0].Outcome, models.OutcomeWarning)
	}
	if done[0].Message == "" {
		t.Error("warning结果应携带原因")
	}
	if failed := q.DrainFailed(); len(failed) != 0 {
		t.Errorf("失败缓冲长度 = %d, want 0", len(failed))
	}
	if !q.IsFullyDrained() {
		t.Error("任务处理完后队列应完全排空")
	}
	if sess.Status() != models.SessionWarning {
		t.Errorf("会话状态 = %v, want %v", sess.Status(), models.SessionWarning)
	}
}
