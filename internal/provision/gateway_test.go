package provision

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeProvider 测试用供给服务,记录调用时刻与并发度
type fakeProvider struct {
	mu        sync.Mutex
	callTimes []time.Time

	inflight    atomic.Int32
	maxInflight atomic.Int32

	callDelay time.Duration
}

func (f *fakeProvider) record() {
	f.mu.Lock()
	f.callTimes = append(f.callTimes, time.Now())
	f.mu.Unlock()

	n := f.inflight.Add(1)
	for {
		max := f.maxInflight.Load()
		if n <= max || f.maxInflight.CompareAndSwap(max, n) {
			break
		}
	}
	if f.callDelay > 0 {
		time.Sleep(f.callDelay)
	}
	f.inflight.Add(-1)
}

func (f *fakeProvider) CreateProfile(ctx context.Context, cfg ProfileConfig) (string, error) {
	f.record()
	return "profile-1", nil
}

func (f *fakeProvider) UpdateProfile(ctx context.Context, id string, cfg ProfileConfig) error {
	f.record()
	return nil
}

func (f *fakeProvider) DeleteProfile(ctx context.Context, id string) error {
	f.record()
	return nil
}

func (f *fakeProvider) StartBrowser(ctx context.Context, id string) (*StartResult, error) {
	f.record()
	return &StartResult{ControlURL: "ws://127.0.0.1:9222/devtools"}, nil
}

func (f *fakeProvider) StopBrowser(ctx context.Context, id string) error {
	f.record()
	return nil
}

func TestGatewayMinInterval(t *testing.T) {
	fake := &fakeProvider{}
	g := NewGateway(fake, GatewayConfig{MinInterval: 200 * time.Millisecond})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := g.CreateProfile(ctx, ProfileConfig{Name: "n"}); err != nil {
			t.Fatalf("CreateProfile() error = %v", err)
		}
	}

	fake.mu.Lock()
	times := append([]time.Time(nil), fake.callTimes...)
	fake.mu.Unlock()

	if len(times) != 3 {
		t.Fatalf("调用次数 = %d, want 3", len(times))
	}
	for i := 1; i < len(times); i++ {
		// 留10%余量,避免计时毛刺导致偶发失败
		if gap := times[i].Sub(times[i-1]); gap < 180*time.Millisecond {
			t.Errorf("调用间隔[%d] = %v, 小于最小间隔", i, gap)
		}
	}
}

func TestGatewayIdentityMutualExclusion(t *testing.T) {
	fake := &fakeProvider{callDelay: 150 * time.Millisecond}
	g := NewGateway(fake, GatewayConfig{MinInterval: time.Millisecond})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := g.StartBrowser(ctx, "same-identity"); err != nil {
				t.Errorf("StartBrowser() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if max := fake.maxInflight.Load(); max > 1 {
		t.Errorf("同一身份最大并发调用 = %d, want 1", max)
	}
}

func TestGatewayDifferentIdentitiesNotSerializedByMutex(t *testing.T) {
	fake := &fakeProvider{callDelay: 100 * time.Millisecond}
	g := NewGateway(fake, GatewayConfig{MinInterval: time.Millisecond})
	ctx := context.Background()

	start := time.Now()
	var wg sync.WaitGroup
	for _, id := range []string{"a", "b", "c"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := g.StopBrowser(ctx, id); err != nil {
				t.Errorf("StopBrowser(%s) error = %v", id, err)
			}
		}(id)
	}
	wg.Wait()

	// 互斥只按身份生效: 不同身份仅受全局限速约束,
	// 三次150ms串行(450ms+)说明互斥范围过宽
	if elapsed := time.Since(start); elapsed > 280*time.Millisecond {
		t.Errorf("不同身份调用总耗时 = %v, 疑似被同一把互斥锁串行化", elapsed)
	}
}

func TestGatewayIdentityWaitTimeout(t *testing.T) {
	fake := &fakeProvider{callDelay: 400 * time.Millisecond}
	g := NewGateway(fake, GatewayConfig{
		MinInterval:  time.Millisecond,
		IdentityWait: 100 * time.Millisecond,
	})
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		g.StartBrowser(ctx, "busy-identity")
		close(done)
	}()
	time.Sleep(50 * time.Millisecond)

	_, err := g.StartBrowser(ctx, "busy-identity")
	if err == nil {
		t.Error("在途身份超过等待上限后应报错")
	}
	<-done
}
