package core

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RecoveryAshes/ListingHunter/internal/models"
	"github.com/RecoveryAshes/ListingHunter/internal/pool"
	"github.com/RecoveryAshes/ListingHunter/internal/provision"
	"github.com/RecoveryAshes/ListingHunter/internal/queue"
	"github.com/RecoveryAshes/ListingHunter/internal/remote"
	"github.com/RecoveryAshes/ListingHunter/internal/session"
	"github.com/RecoveryAshes/ListingHunter/internal/store"
	"github.com/RecoveryAshes/ListingHunter/internal/utils"
	"github.com/google/uuid"
)

// counters 当前批次的任务计数,fetcher每批重置
type counters struct {
	total  atomic.Int64
	done   atomic.Int64
	failed atomic.Int64
}

// Engine 爬取编排引擎
// 生命周期: New -> Prepare -> StartCrawl -> (Stop) -> Wait -> Clear
type Engine struct {
	cfg     *Config
	store   *store.Store
	pool    *pool.Pool
	gateway *provision.Gateway
	client  *remote.Client
	queue   *queue.Queue

	sessions []*session.Session
	recovery *Recovery
	counters counters

	// submitURL 结果回传地址,fetcher从任务批次响应里拿到后存入
	submitURL atomic.Value

	running  atomic.Bool
	stopFlag atomic.Bool
	wg       sync.WaitGroup
}

// NewEngine 创建编排引擎
func NewEngine(cfg *Config, st *store.Store) *Engine {
	provider := provision.NewLocalAPIProvider(cfg.Provision.BaseURL, cfg.Provision.APIKey)
	gateway := provision.NewGateway(provider, provision.GatewayConfig{
		MinInterval:  time.Duration(cfg.Gateway.MinIntervalMs) * time.Millisecond,
		IdentityWait: time.Duration(cfg.Gateway.IdentityWaitSec) * time.Second,
	})

	e := &Engine{
		cfg:     cfg,
		store:   st,
		pool:    pool.New(st),
		gateway: gateway,
		client:  remote.NewClient(cfg.TaskServer.BaseURL, cfg.TaskServer.Token),
		queue:   queue.New(),
	}
	e.recovery = NewRecovery(e.pool, gateway, cfg.Recovery, e.startOptions(), e.isStopped)
	return e
}

func (e *Engine) startOptions() session.StartOptions {
	return session.StartOptions{
		ValidateProxy:      e.cfg.Crawl.ValidateProxy,
		ValidateConnection: e.cfg.Crawl.ValidateConnection,
	}
}

func (e *Engine) isStopped() bool {
	return e.stopFlag.Load()
}

// Prepare 准备阶段: 资源护栏裁剪规格数、校验分组容量,然后逐个
// 分配代理、创建身份、启动会话
// 启动失败的规格跳过并清理残留,全部失败时报错
func (e *Engine) Prepare(ctx context.Context, specs []models.SessionSpec) error {
	if len(specs) == 0 {
		return fmt.Errorf("会话规格为空")
	}

	if max := MaxSessionsByResources(e.cfg.Resource); len(specs) > max {
		utils.Warnf("⚠️  系统资源不足,会话数从 %d 裁剪到 %d", len(specs), max)
		specs = specs[:max]
	}

	if err := e.checkGroupCapacity(specs); err != nil {
		return err
	}

	// 上次异常退出可能留下in_use状态的代理,先统一释放
	if n, err := e.store.ReleaseAllInUse(); err != nil {
		utils.Warnf("释放遗留in_use代理失败: %v", err)
	} else if n > 0 {
		utils.Infof("♻️  释放遗留in_use代理: %d 个", n)
	}

	for _, spec := range specs {
		if err := e.prepareOne(ctx, spec); err != nil {
			utils.Errorf("会话准备失败,跳过: %s: %v", spec.Name, err)
		}
	}

	if len(e.sessions) == 0 {
		return fmt.Errorf("没有任何会话准备成功")
	}
	utils.Infof("✅ 准备完成: 会话=%d/%d", len(e.sessions), len(specs))
	return nil
}

// checkGroupCapacity 校验每个分组的需求数不超过其容量
func (e *Engine) checkGroupCapacity(specs []models.SessionSpec) error {
	demand := make(map[int64]int)
	for _, spec := range specs {
		if spec.GroupID != 0 {
			demand[spec.GroupID]++
		}
	}
	for groupID, n := range demand {
		g, err := e.store.GetGroup(groupID)
		if err != nil {
			return fmt.Errorf("查询分组失败: id=%d: %w", groupID, err)
		}
		if g.Capacity > 0 && n > g.Capacity {
			return fmt.Errorf("分组容量不足: %s 需要=%d 容量=%d", g.Name, n, g.Capacity)
		}
	}
	return nil
}

// prepareOne 准备单个会话: 取代理(小范围重试) -> 创建身份 -> 启动
const prepareProxyRetries = 3

func (e *Engine) prepareOne(ctx context.Context, spec models.SessionSpec) error {
	var proxy *models.Proxy
	var err error
	for attempt := 0; attempt < prepareProxyRetries; attempt++ {
		proxy, err = e.pool.NextInGroup(spec.GroupID)
		if err == nil {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("分配代理失败: %w", err)
	}

	profileID, err := e.gateway.CreateProfile(ctx, provision.ProfileConfig{
		Name:  spec.Name + "-" + uuid.New().String()[:8],
		Proxy: proxy,
	})
	if err != nil {
		return err
	}

	sess := session.New(e.gateway, profileID, spec.Name, proxy, spec.GroupID)
	if err := sess.Start(ctx, e.startOptions()); err != nil {
		// 启动失败的身份不留在供给侧
		if derr := e.gateway.DeleteProfile(ctx, profileID); derr != nil {
			utils.Warnf("清理失败身份失败: id=%s: %v", profileID, derr)
		}
		return err
	}

	if err := e.pool.MarkInUse(proxy.ID); err != nil {
		utils.Warnf("标记代理in_use失败: id=%d err=%v", proxy.ID, err)
	}
	e.sessions = append(e.sessions, sess)
	return nil
}

// StartCrawl 启动爬取: fetcher + 每会话一个worker + 结果处理器 + 保活
func (e *Engine) StartCrawl(ctx context.Context) error {
	if len(e.sessions) == 0 {
		return fmt.Errorf("没有已准备的会话,请先执行Prepare")
	}
	if !e.running.CompareAndSwap(false, true) {
		return fmt.Errorf("爬取已在运行")
	}
	e.stopFlag.Store(false)

	runID := uuid.New().String()
	if err := e.store.PutSetting("last_run_id", runID); err != nil {
		utils.Warnf("记录运行ID失败: %v", err)
	}

	fetcher := NewFetcher(e.queue, e.pool, e.client, e.sessions, e.recovery,
		e.cfg.Crawl, e.cfg.Recovery, &e.counters, e.setSubmitURL, e.isStopped)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fetcher.Run(ctx)
	}()

	for i, sess := range e.sessions {
		w := NewWorker(i+1, sess, e.queue, e.pool, e.recovery, e.cfg.Crawl, &e.counters, e.isStopped)
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			w.Run(ctx)
		}()
	}

	handler := NewResultHandler(e.queue, e.client,
		time.Duration(e.cfg.Crawl.ResultDrainSec)*time.Second, e.getSubmitURL, e.isStopped)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		handler.Run(ctx)
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.keepaliveLoop()
	}()

	utils.Infof("🕷️  爬取已启动: 会话=%d 运行ID=%s", len(e.sessions), runID)
	return nil
}

// keepaliveLoop 周期性探测所有会话的远程浏览器进程
// 周期等待用分片休眠实现,停止请求不必等满整个保活周期
func (e *Engine) keepaliveLoop() {
	interval := time.Duration(e.cfg.Crawl.KeepaliveSec) * time.Second

	for !e.isStopped() {
		if utils.SleepWithStop(interval, e.isStopped) {
			return
		}
		for _, sess := range e.sessions {
			sess.Keepalive()
		}
	}
}

// Stop 请求停止,各循环在下一个检查点退出
func (e *Engine) Stop() {
	if e.stopFlag.CompareAndSwap(false, true) {
		utils.Info("🛑 收到停止请求,等待各循环退出")
	}
}

// Wait 等待所有循环退出
func (e *Engine) Wait() {
	e.wg.Wait()
	e.running.Store(false)
}

// Clear 清理阶段: 停止所有会话、删除身份、释放代理
func (e *Engine) Clear(ctx context.Context) {
	for _, sess := range e.sessions {
		sess.Stop(ctx, false)
		if err := e.gateway.DeleteProfile(ctx, sess.ProfileID()); err != nil {
			utils.Warnf("删除身份失败: %s: %v", sess.Name(), err)
		}
		if p := sess.Proxy(); p != nil {
			if err := e.pool.Release(p.ID); err != nil {
				utils.Warnf("释放代理失败: id=%d err=%v", p.ID, err)
			}
		}
	}
	e.sessions = nil
	utils.Info("🧹 清理完成")
}

func (e *Engine) setSubmitURL(url string) {
	e.submitURL.Store(url)
}

func (e *Engine) getSubmitURL() string {
	if v := e.submitURL.Load(); v != nil {
		return v.(string)
	}
	return ""
}

// Snapshot 整体进度快照,控制台层轮询用
func (e *Engine) Snapshot() models.Progress {
	snapshots := make([]models.SessionSnapshot, 0, len(e.sessions))
	waiting := 0
	for _, sess := range e.sessions {
		snap := sess.Snapshot()
		if snap.Status == models.SessionWaiting {
			waiting++
		}
		snapshots = append(snapshots, snap)
	}

	waitSeconds := 0
	if len(e.sessions) > 0 && waiting == len(e.sessions) {
		// 全员等待说明处于空批次/冷却窗口
		waitSeconds = e.cfg.Crawl.EmptyWaitSec
	}

	return models.Progress{
		Running:      e.running.Load(),
		TotalTasks:   int(e.counters.total.Load()),
		DoneTasks:    int(e.counters.done.Load()),
		FailedTasks:  int(e.counters.failed.Load()),
		PendingTasks: e.queue.PendingCount(),
		WaitSeconds:  waitSeconds,
		Sessions:     snapshots,
	}
}

// Sessions 当前会话列表(测试与诊断用)
func (e *Engine) Sessions() []*session.Session {
	return e.sessions
}
