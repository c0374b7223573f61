package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/RecoveryAshes/ListingHunter/internal/models"
	"github.com/RecoveryAshes/ListingHunter/internal/provision"
	"github.com/RecoveryAshes/ListingHunter/internal/utils"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

var (
	// ErrRestartBusy 已有重启在进行,等待超时
	ErrRestartBusy = errors.New("会话正在重启中,等待超时")
	// ErrNotReady 会话没有可用的浏览器句柄
	ErrNotReady = errors.New("会话未就绪")
)

// ipEchoEndpoints 出口IP回显端点,按顺序尝试,首个成功即生效
var ipEchoEndpoints = []string{
	"https://api.ipify.org",
	"https://ifconfig.me/ip",
	"https://icanhazip.com",
}

// connectivityCheckURL 连通性验证的已知站点
const connectivityCheckURL = "https://www.wikipedia.org"

// StartOptions 启动选项
type StartOptions struct {
	ValidateProxy      bool // 通过页面取回显IP验证代理生效
	ValidateConnection bool // 导航到已知站点做完整连通性验证
}

// Session 爬取会话
// 一个会话 = 一个浏览器身份 + 一个代理绑定 + 一个活的浏览器句柄
// 整个爬取运行期间与一个worker一一对应;浏览器句柄为会话独占
type Session struct {
	gateway *provision.Gateway

	mu        sync.Mutex
	profileID string
	name      string
	proxy     *models.Proxy
	groupID   int64
	browser   *rod.Browser
	page      *rod.Page
	status    models.SessionStatus
	taskLabel string
	lastMsg   string
	collected int

	// busy 重启互斥标志: starting/restarting进行中时禁止再次进入
	busy bool
	// busyWait 第二个重启调用方的等待上限
	busyWait time.Duration
}

// New 创建会话(尚未启动浏览器)
func New(gateway *provision.Gateway, profileID, name string, proxy *models.Proxy, groupID int64) *Session {
	return &Session{
		gateway:   gateway,
		profileID: profileID,
		name:      name,
		proxy:     proxy,
		groupID:   groupID,
		status:    models.SessionIdle,
		busyWait:  60 * time.Second,
	}
}

// acquireBusy 占用重启互斥标志;已被占用时轮询等待,超时报错
// 第二个调用方等待而不是并发重启,避免对同一身份double-start
func (s *Session) acquireBusy() error {
	deadline := time.Now().Add(s.busyWait)
	for {
		s.mu.Lock()
		if !s.busy {
			s.busy = true
			s.mu.Unlock()
			return nil
		}
		s.mu.Unlock()

		if time.Now().After(deadline) {
			return ErrRestartBusy
		}
		time.Sleep(200 * time.Millisecond)
	}
}

func (s *Session) releaseBusy() {
	s.mu.Lock()
	s.busy = false
	s.mu.Unlock()
}

// Start 启动会话: 经网关启动远程浏览器,挂接控制协议,收敛标签页,
// 按选项验证代理与连通性
// 任何失败都会把会话置为error并把错误抛给调用方
func (s *Session) Start(ctx context.Context, opts StartOptions) error {
	if err := s.acquireBusy(); err != nil {
		return err
	}
	defer s.releaseBusy()
	return s.startLocked(ctx, opts)
}

// startLocked 启动的实际逻辑,调用方必须已持有busy标志
func (s *Session) startLocked(ctx context.Context, opts StartOptions) error {
	s.setStatus(models.SessionStarting)
	utils.Infof("🚀 启动会话: %s (代理: %s)", s.name, s.proxyAddr())

	res, err := s.gateway.StartBrowser(ctx, s.ProfileID())
	if err != nil {
		s.fail(fmt.Sprintf("启动浏览器失败: %v", err))
		return err
	}

	browser := rod.New().Context(ctx).ControlURL(res.ControlURL)
	if err := browser.Connect(); err != nil {
		s.fail(fmt.Sprintf("连接浏览器失败: %v", err))
		return fmt.Errorf("连接浏览器失败: %w", err)
	}

	page, err := s.adoptSingleTab(browser)
	if err != nil {
		s.fail(fmt.Sprintf("收敛标签页失败: %v", err))
		return err
	}

	s.mu.Lock()
	s.browser = browser
	s.page = page
	s.mu.Unlock()

	if opts.ValidateProxy {
		if err := s.verifyProxy(ctx); err != nil {
			s.fail(fmt.Sprintf("代理验证失败: %v", err))
			return err
		}
	}
	if opts.ValidateConnection {
		if err := s.verifyConnectivity(ctx); err != nil {
			s.fail(fmt.Sprintf("连通性验证失败: %v", err))
			return err
		}
	}

	s.setStatus(models.SessionReady)
	utils.Infof("✅ 会话就绪: %s", s.name)
	return nil
}

// adoptSingleTab 保留恰好一个标签页,关闭多余的
func (s *Session) adoptSingleTab(browser *rod.Browser) (*rod.Page, error) {
	pages, err := browser.Pages()
	if err != nil {
		return nil, fmt.Errorf("枚举标签页失败: %w", err)
	}
	if len(pages) == 0 {
		page, err := browser.Page(proto.TargetCreateTarget{})
		if err != nil {
			return nil, fmt.Errorf("创建标签页失败: %w", err)
		}
		return page, nil
	}
	for _, extra := range pages[1:] {
		if err := extra.Close(); err != nil {
			utils.Warnf("关闭多余标签页失败: %v", err)
		}
	}
	return pages[0], nil
}

// verifyProxy 通过页面取出口回显IP,多个端点依次尝试,首个成功即通过
func (s *Session) verifyProxy(ctx context.Context) error {
	page := s.Page()
	if page == nil {
		return ErrNotReady
	}

	var lastErr error
	for _, endpoint := range ipEchoEndpoints {
		p := page.Context(ctx).Timeout(20 * time.Second)
		if err := p.Navigate(endpoint); err != nil {
			lastErr = err
			continue
		}
		if err := p.WaitLoad(); err != nil {
			lastErr = err
			continue
		}
		res, err := p.Evaluate(&rod.EvalOptions{
			JS: `() => document.body.innerText.trim()`,
		})
		if err != nil {
			lastErr = err
			continue
		}
		ip := res.Value.Str()
		if ip == "" {
			lastErr = fmt.Errorf("回显IP为空: %s", endpoint)
			continue
		}
		utils.Infof("代理验证通过: %s 出口IP=%s", s.name, ip)
		return nil
	}
	return fmt.Errorf("所有IP回显端点均失败: %w", lastErr)
}

// verifyConnectivity 导航到已知站点验证完整连通性
func (s *Session) verifyConnectivity(ctx context.Context) error {
	page := s.Page()
	if page == nil {
		return ErrNotReady
	}
	p := page.Context(ctx).Timeout(30 * time.Second)
	if err := p.Navigate(connectivityCheckURL); err != nil {
		return fmt.Errorf("连通性验证导航失败: %w", err)
	}
	if err := p.WaitLoad(); err != nil {
		return fmt.Errorf("连通性验证加载失败: %w", err)
	}
	return nil
}

// Stop 停止会话: 断开控制协议并请求控制面停止浏览器
// 供给侧错误一律吞掉: 已经不存在的会话不能阻断调用方的流程
// fireAndForget为true时停止调用异步发出,用于紧接着要重启的场景
func (s *Session) Stop(ctx context.Context, fireAndForget bool) {
	s.detach()

	profileID := s.ProfileID()
	stop := func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.gateway.StopBrowser(stopCtx, profileID); err != nil {
			utils.Warnf("停止浏览器失败(忽略): %s: %v", s.name, err)
		}
	}
	if fireAndForget {
		go stop()
	} else {
		stop()
	}
	s.setStatus(models.SessionStopped)
}

// detach 本地断开浏览器句柄,吞掉关闭错误
func (s *Session) detach() {
	s.mu.Lock()
	browser := s.browser
	s.browser = nil
	s.page = nil
	s.mu.Unlock()

	if browser != nil {
		if err := browser.Close(); err != nil {
			utils.Debugf("断开浏览器句柄失败(忽略): %s: %v", s.name, err)
		}
	}
}

// Restart 重启会话: stop -> (可选)重绑代理 -> start
// 单次调用只做一次尝试;换不同代理重试是调用方的职责,
// 这样每次尝试都能从池里拿新代理而不是反复用同一个
func (s *Session) Restart(ctx context.Context, newProxy *models.Proxy, opts StartOptions) error {
	if err := s.acquireBusy(); err != nil {
		return err
	}
	defer s.releaseBusy()

	s.setStatus(models.SessionRestarting)
	utils.Infof("🔄 重启会话: %s", s.name)

	s.detach()
	stopCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	if err := s.gateway.StopBrowser(stopCtx, s.ProfileID()); err != nil {
		utils.Warnf("停止浏览器失败(忽略): %s: %v", s.name, err)
	}
	cancel()

	if newProxy != nil {
		if err := s.gateway.UpdateProfile(ctx, s.ProfileID(), provision.ProfileConfig{Proxy: newProxy}); err != nil {
			s.fail(fmt.Sprintf("重绑代理失败: %v", err))
			return err
		}
		s.mu.Lock()
		s.proxy = newProxy
		s.mu.Unlock()
	}

	return s.startLocked(ctx, opts)
}

// AdoptProfile 换用全新身份(CAPTCHA恢复的身份重建路径)
// 只做本地重绑,新身份的创建/旧身份的删除由调用方经网关完成
func (s *Session) AdoptProfile(profileID string, proxy *models.Proxy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profileID = profileID
	if proxy != nil {
		s.proxy = proxy
	}
}

// Keepalive 空操作远程调用,用于探测远程浏览器进程是否已死
// 失败时(且不处于error/restarting/stopped)强制置error,
// 没有上报的死会话会让它的worker静默卡死
func (s *Session) Keepalive() {
	s.mu.Lock()
	status := s.status
	browser := s.browser
	s.mu.Unlock()

	switch status {
	case models.SessionError, models.SessionRestarting, models.SessionStopped, models.SessionIdle:
		return
	}
	if browser == nil {
		return
	}

	if _, err := browser.Version(); err != nil {
		utils.Warnf("💀 会话保活失败,浏览器进程已退出: %s: %v", s.name, err)
		s.fail("浏览器进程已退出")
	}
}

// StartCrawling 记账: 进入crawling并设置展示标签
func (s *Session) StartCrawling(label string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = models.SessionCrawling
	s.taskLabel = label
}

// CompleteCrawling 记账: 按结果落状态、记录消息与采集数并清除标签
func (s *Session) CompleteCrawling(outcome models.Outcome, message string, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch outcome {
	case models.OutcomeSuccess:
		s.status = models.SessionSuccess
	case models.OutcomeWarning:
		s.status = models.SessionWarning
	default:
		s.status = models.SessionError
	}
	s.lastMsg = message
	s.collected = count
	s.taskLabel = ""
}

// MarkWaiting 记账: 队列暂时无任务
func (s *Session) MarkWaiting() {
	s.setStatus(models.SessionWaiting)
}

// fail 置error并记录错误文本
func (s *Session) fail(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = models.SessionError
	s.lastMsg = msg
}

func (s *Session) setStatus(status models.SessionStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

// Status 当前状态
func (s *Session) Status() models.SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// IsRestarting 是否有start/restart在进行
func (s *Session) IsRestarting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy || s.status == models.SessionRestarting
}

// Name 会话名称
func (s *Session) Name() string {
	return s.name
}

// ProfileID 当前绑定的身份ID
func (s *Session) ProfileID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profileID
}

// Proxy 当前绑定的代理
func (s *Session) Proxy() *models.Proxy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proxy
}

// GroupID 会话的代理分组,0表示全局池
func (s *Session) GroupID() int64 {
	return s.groupID
}

// Page 当前页面句柄,未就绪时为nil
func (s *Session) Page() *rod.Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.page
}

func (s *Session) proxyAddr() string {
	if p := s.Proxy(); p != nil {
		return p.Address
	}
	return "-"
}

// Snapshot 会话状态快照
func (s *Session) Snapshot() models.SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	addr := "-"
	if s.proxy != nil {
		addr = s.proxy.Address
	}
	return models.SessionSnapshot{
		Name:      s.name,
		ProfileID: s.profileID,
		ProxyAddr: addr,
		Status:    s.status,
		TaskLabel: s.taskLabel,
		LastMsg:   s.lastMsg,
		Collected: s.collected,
	}
}
