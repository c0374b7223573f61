package core

import (
	"testing"
	"time"

	"github.com/RecoveryAshes/ListingHunter/internal/models"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	return NewEngine(cfg, openCoreStore(t))
}

func TestCheckGroupCapacity(t *testing.T) {
	e := newTestEngine(t)

	limitedID, err := e.store.AddGroup(&models.ProxyGroup{Name: "jp-resi", Capacity: 2})
	if err != nil {
		t.Fatal(err)
	}
	unlimitedID, err := e.store.AddGroup(&models.ProxyGroup{Name: "dc", Capacity: 0})
	if err != nil {
		t.Fatal(err)
	}

	specsFor := func(groupID int64, n int) []models.SessionSpec {
		specs := make([]models.SessionSpec, n)
		for i := range specs {
			specs[i] = models.SessionSpec{Name: "hunter", GroupID: groupID}
		}
		return specs
	}

	tests := []struct {
		name    string
		specs   []models.SessionSpec
		wantErr bool
	}{
		{"容量内", specsFor(limitedID, 2), false},
		{"超出容量", specsFor(limitedID, 3), true},
		{"容量0不限", specsFor(unlimitedID, 10), false},
		{"全局池不校验", specsFor(0, 10), false},
		{"分组不存在", specsFor(9999, 1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := e.checkGroupCapacity(tt.specs)
			if (err != nil) != tt.wantErr {
				t.Errorf("checkGroupCapacity() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestKeepaliveLoopStopsPromptly(t *testing.T) {
	e := newTestEngine(t)
	e.cfg.Crawl.KeepaliveSec = 30

	done := make(chan struct{})
	go func() {
		e.keepaliveLoop()
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	start := time.Now()
	e.Stop()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("保活循环未在停止后及时退出")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("保活循环退出耗时 = %v, 不应等满整个保活周期", elapsed)
	}
}
