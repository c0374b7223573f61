package session

import (
	"errors"
	"testing"
	"time"

	"github.com/RecoveryAshes/ListingHunter/internal/models"
)

func newTestSession() *Session {
	proxy := &models.Proxy{ID: 1, Address: "1.2.3.4:8080", Protocol: "http"}
	return New(nil, "profile-1", "hunter-01", proxy, 0)
}

func TestNewSessionIdle(t *testing.T) {
	s := newTestSession()
	if got := s.Status(); got != models.SessionIdle {
		t.Errorf("初始状态 = %v, want idle", got)
	}
	if s.ProfileID() != "profile-1" {
		t.Errorf("ProfileID = %v", s.ProfileID())
	}
	if s.GroupID() != 0 {
		t.Errorf("GroupID = %v, want 0", s.GroupID())
	}
}

func TestCompleteCrawlingStatusMapping(t *testing.T) {
	tests := []struct {
		name    string
		outcome models.Outcome
		want    models.SessionStatus
	}{
		{"成功", models.OutcomeSuccess, models.SessionSuccess},
		{"警告", models.OutcomeWarning, models.SessionWarning},
		{"错误", models.OutcomeError, models.SessionError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSession()
			s.StartCrawling("#1 https://example.com")
			if got := s.Status(); got != models.SessionCrawling {
				t.Fatalf("StartCrawling后状态 = %v, want crawling", got)
			}

			s.CompleteCrawling(tt.outcome, "msg", 3)
			if got := s.Status(); got != tt.want {
				t.Errorf("CompleteCrawling(%v)后状态 = %v, want %v", tt.outcome, got, tt.want)
			}

			snap := s.Snapshot()
			if snap.TaskLabel != "" {
				t.Errorf("完成后任务标签应清空, got %q", snap.TaskLabel)
			}
			if snap.Collected != 3 {
				t.Errorf("Collected = %d, want 3", snap.Collected)
			}
		})
	}
}

func TestMarkWaiting(t *testing.T) {
	s := newTestSession()
	s.MarkWaiting()
	if got := s.Status(); got != models.SessionWaiting {
		t.Errorf("状态 = %v, want waiting", got)
	}
}

func TestAcquireBusyTimeout(t *testing.T) {
	s := newTestSession()
	s.busyWait = 100 * time.Millisecond

	if err := s.acquireBusy(); err != nil {
		t.Fatalf("首次acquireBusy() error = %v", err)
	}

	// 第二个调用方等待超时
	start := time.Now()
	err := s.acquireBusy()
	if !errors.Is(err, ErrRestartBusy) {
		t.Errorf("第二次acquireBusy() error = %v, want ErrRestartBusy", err)
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Errorf("等待时长 = %v, 应至少等满busyWait", elapsed)
	}

	// 释放后可重新占用
	s.releaseBusy()
	if err := s.acquireBusy(); err != nil {
		t.Errorf("释放后acquireBusy() error = %v", err)
	}
}

func TestIsRestartingReflectsBusy(t *testing.T) {
	s := newTestSession()
	if s.IsRestarting() {
		t.Error("空闲会话IsRestarting() = true")
	}

	s.acquireBusy()
	if !s.IsRestarting() {
		t.Error("busy占用期间IsRestarting() = false")
	}
	s.releaseBusy()

	s.setStatus(models.SessionRestarting)
	if !s.IsRestarting() {
		t.Error("restarting状态IsRestarting() = false")
	}
}

func TestAdoptProfile(t *testing.T) {
	s := newTestSession()
	newProxy := &models.Proxy{ID: 9, Address: "9.9.9.9:1080", Protocol: "socks5"}

	s.AdoptProfile("profile-2", newProxy)

	if s.ProfileID() != "profile-2" {
		t.Errorf("ProfileID = %v, want profile-2", s.ProfileID())
	}
	if s.Proxy().ID != 9 {
		t.Errorf("Proxy.ID = %v, want 9", s.Proxy().ID)
	}

	// proxy为nil时只换身份,保留原代理
	s.AdoptProfile("profile-3", nil)
	if s.Proxy().ID != 9 {
		t.Errorf("代理不应被nil覆盖, got %v", s.Proxy())
	}
}

func TestKeepaliveSkipsInactive(t *testing.T) {
	for _, status := range []models.SessionStatus{
		models.SessionIdle, models.SessionError, models.SessionRestarting, models.SessionStopped,
	} {
		s := newTestSession()
		s.setStatus(status)
		s.Keepalive()
		if got := s.Status(); got != status {
			t.Errorf("Keepalive改变了%v状态为%v", status, got)
		}
	}

	// 活跃状态但浏览器句柄为nil时同样跳过
	s := newTestSession()
	s.setStatus(models.SessionReady)
	s.Keepalive()
	if got := s.Status(); got != models.SessionReady {
		t.Errorf("nil浏览器Keepalive后状态 = %v, want ready", got)
	}
}

func TestSnapshotFields(t *testing.T) {
	s := newTestSession()
	s.StartCrawling("#42 https://example.com/42")

	snap := s.Snapshot()
	if snap.Name != "hunter-01" {
		t.Errorf("Name = %v", snap.Name)
	}
	if snap.ProxyAddr != "1.2.3.4:8080" {
		t.Errorf("ProxyAddr = %v", snap.ProxyAddr)
	}
	if snap.Status != models.SessionCrawling {
		t.Errorf("Status = %v", snap.Status)
	}
	if snap.TaskLabel != "#42 https://example.com/42" {
		t.Errorf("TaskLabel = %v", snap.TaskLabel)
	}
}
