package core

import (
	"context"
	"time"

	"github.com/RecoveryAshes/ListingHunter/internal/pool"
	"github.com/RecoveryAshes/ListingHunter/internal/queue"
	"github.com/RecoveryAshes/ListingHunter/internal/remote"
	"github.com/RecoveryAshes/ListingHunter/internal/session"
	"github.com/RecoveryAshes/ListingHunter/internal/utils"
	"golang.org/x/sync/errgroup"
)

// rotationRetries 整体轮换中单个会话允许换几个代理重试
const rotationRetries = 3

// drainPollInterval 等待本批排空的轮询间隔
const drainPollInterval = 10 * time.Second

// fetchRetryWait 拉取任务出错后的重试等待
const fetchRetryWait = 30 * time.Second

// Fetcher 生产者: 按抓取周期驱动整个流水线
// 一个周期 = 复活dead代理 -> 拉取一批任务 -> 入队 -> 等待排空 ->
// 整体轮换所有会话的代理 -> 冷却
type Fetcher struct {
	queue     *queue.Queue
	pool      *pool.Pool
	client    *remote.Client
	sessions  []*session.Session
	recovery  *Recovery
	cfg       CrawlConfig
	rcfg      RecoveryConfig
	counters  *counters
	submitURL func(string)
	stopped   func() bool
}

// NewFetcher 创建fetcher
func NewFetcher(q *queue.Queue, p *pool.Pool, client *remote.Client, sessions []*session.Session,
	r *Recovery, cfg CrawlConfig, rcfg RecoveryConfig, c *counters, submitURL func(string), stopped func() bool) *Fetcher {
	return &Fetcher{
		queue:     q,
		pool:      p,
		client:    client,
		sessions:  sessions,
		recovery:  r,
		cfg:       cfg,
		rcfg:      rcfg,
		counters:  c,
		submitURL: submitURL,
		stopped:   stopped,
	}
}

// Run fetcher主循环,stop标志置位后返回
func (f *Fetcher) Run(ctx context.Context) {
	utils.Info("📡 fetcher启动")

	for !f.stopped() {
		f.runCycle(ctx)
	}

	utils.Info("📡 fetcher退出")
}

// runCycle 执行一个完整抓取周期
func (f *Fetcher) runCycle(ctx context.Context) {
	cycleStart := time.Now()

	// 周期开始先复活dead代理: 被临时封禁的IP休息了一整个冷却窗口,
	// 值得重新进入轮询
	if err := f.pool.ResetAll(); err != nil {
		utils.Warnf("复活dead代理失败: %v", err)
	}

	limit := len(f.sessions) * f.cfg.BatchMultiplier
	resp, err := f.client.FetchTasks(ctx, limit)
	if err != nil {
		utils.Warnf("拉取任务失败,稍后重试: %v", err)
		utils.SleepWithStop(fetchRetryWait, f.stopped)
		return
	}
	if resp.ResultSubmitURL != "" {
		f.submitURL(resp.ResultSubmitURL)
	}

	if len(resp.Tasks) == 0 {
		utils.Infof("📭 无待处理任务,等待 %ds", f.cfg.EmptyWaitSec)
		utils.SleepWithStop(time.Duration(f.cfg.EmptyWaitSec)*time.Second, f.stopped)
		return
	}

	utils.Infof("📥 拉取到任务批次: %d 个", len(resp.Tasks))
	f.counters.total.Store(int64(len(resp.Tasks)))
	f.counters.done.Store(0)
	f.counters.failed.Store(0)

	f.queue.Reset()
	f.queue.Enqueue(resp.Tasks)

	// 等待worker把本批全部消化
	for !f.stopped() && !f.queue.IsFullyDrained() {
		utils.SleepWithStop(drainPollInterval, f.stopped)
	}
	if f.stopped() {
		return
	}
	utils.Infof("🏁 本批任务已排空: 完成=%d 失败=%d", f.counters.done.Load(), f.counters.failed.Load())

	f.rotateAll(ctx)

	// 冷却到固定窗口结束;本批耗时已超过窗口则直接进入下一周期
	if remain := time.Duration(f.cfg.CooldownSec)*time.Second - time.Since(cycleStart); remain > 0 {
		utils.Infof("❄️  冷却窗口: %s", remain.Round(time.Second))
		utils.SleepWithStop(remain, f.stopped)
	}
}

// rotateAll 整体轮换: 按批并发给每个会话换新代理并重启
// 批之间固定停顿,避免对供给网关和代理出口的冲击过于集中
func (f *Fetcher) rotateAll(ctx context.Context) {
	utils.Infof("🔄 开始整体轮换: 会话=%d 批大小=%d", len(f.sessions), f.rcfg.RotationBatchSize)

	for i := 0; i < len(f.sessions); i += f.rcfg.RotationBatchSize {
		if f.stopped() {
			return
		}

		end := i + f.rcfg.RotationBatchSize
		if end > len(f.sessions) {
			end = len(f.sessions)
		}

		var g errgroup.Group
		for _, sess := range f.sessions[i:end] {
			sess := sess
			g.Go(func() error {
				if err := f.recovery.RotateSession(ctx, sess, rotationRetries); err != nil {
					utils.Warnf("会话轮换失败: %s: %v", sess.Name(), err)
				}
				return nil
			})
		}
		g.Wait()

		if end < len(f.sessions) {
			utils.SleepWithStop(time.Duration(f.rcfg.RotationPauseSec)*time.Second, f.stopped)
		}
	}
	utils.Info("✅ 整体轮换完成")
}
