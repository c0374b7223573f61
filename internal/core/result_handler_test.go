package core

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/RecoveryAshes/ListingHunter/internal/queue"
	"github.com/RecoveryAshes/ListingHunter/internal/remote"
)

func TestResultHandlerStopsPromptly(t *testing.T) {
	var stop atomic.Bool
	h := NewResultHandler(queue.New(), remote.NewClient("http://127.0.0.1:0", ""),
		10*time.Second, func() string { return "" }, stop.Load)

	done := make(chan struct{})
	go func() {
		h.Run(context.Background())
		close(done)
	}()

	// 在排空周期中途置位停止,不应等满整个周期才返回
	time.Sleep(100 * time.Millisecond)
	start := time.Now()
	stop.Store(true)

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("结果处理器未在停止后及时退出")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("结果处理器退出耗时 = %v, 不应等满整个排空周期", elapsed)
	}
}
