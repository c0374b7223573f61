package core

import (
	"context"
	"time"

	"github.com/RecoveryAshes/ListingHunter/internal/extract"
	"github.com/RecoveryAshes/ListingHunter/internal/models"
	"github.com/RecoveryAshes/ListingHunter/internal/pool"
	"github.com/RecoveryAshes/ListingHunter/internal/queue"
	"github.com/RecoveryAshes/ListingHunter/internal/session"
	"github.com/RecoveryAshes/ListingHunter/internal/utils"
)

// Worker 消费者: 一个worker绑定一个会话,循环从队列取任务、
// 驱动页面解析并按结果分类记账
// 唯一会让worker主动发起会话重启的是OutcomeError(技术性失败)
type Worker struct {
	id       int
	sess     *session.Session
	queue    *queue.Queue
	pool     *pool.Pool
	recovery *Recovery
	cfg      CrawlConfig
	counters *counters
	stopped  func() bool

	// deadStreak 连续疑似死进程错误计数
	// 单次超时可能只是页面慢,连续出现才当作进程已死处理
	deadStreak int
}

// NewWorker 创建worker
func NewWorker(id int, sess *session.Session, q *queue.Queue, p *pool.Pool, r *Recovery, cfg CrawlConfig, c *counters, stopped func() bool) *Worker {
	return &Worker{
		id:       id,
		sess:     sess,
		queue:    q,
		pool:     p,
		recovery: r,
		cfg:      cfg,
		counters: c,
		stopped:  stopped,
	}
}

// Run worker主循环,stop标志置位后返回
func (w *Worker) Run(ctx context.Context) {
	utils.Infof("👷 worker启动: #%d 会话=%s", w.id, w.sess.Name())

	for !w.stopped() {
		if w.sess.IsRestarting() {
			time.Sleep(time.Second)
			continue
		}

		if w.sess.Status() == models.SessionError {
			w.recoverOrPark(ctx)
			continue
		}

		task := w.queue.Dequeue()
		if task == nil {
			w.sess.MarkWaiting()
			if utils.SleepWithStop(2*time.Second, w.stopped) {
				break
			}
			continue
		}

		w.runTask(ctx, task)
		w.jitter()
	}

	utils.Infof("👷 worker退出: #%d", w.id)
}

// runTask 执行单个任务: 解析 -> 分类 -> 记账 -> (必要时)恢复
func (w *Worker) runTask(ctx context.Context, task *models.Task) {
	w.sess.StartCrawling(task.Label())
	utils.Infof("📋 开始任务: worker=#%d %s", w.id, task.Label())

	ext, err := extract.Lookup(task.Platform)
	if err != nil {
		// 平台未注册属于业务性失败: 按warning结果回传,不触发重启
		w.queue.MarkDone(task, &models.TaskResult{
			Task:    task,
			Outcome: models.OutcomeWarning,
			Message: err.Error(),
		})
		w.counters.done.Add(1)
		w.sess.CompleteCrawling(models.OutcomeWarning, err.Error(), 0)
		return
	}

	page := w.sess.Page()
	if page == nil {
		w.queue.MarkFailed(task, "会话未就绪")
		w.counters.failed.Add(1)
		w.sess.CompleteCrawling(models.OutcomeError, "会话未就绪", 0)
		w.recoverOrPark(ctx)
		return
	}

	res, err := ext.Extract(ctx, page, task)
	if err != nil {
		w.handleThrown(ctx, task, err.Error())
		return
	}

	if res.CaptchaDetected {
		msg := "命中CAPTCHA/封禁标记"
		utils.Warnf("🧩 %s: worker=#%d %s", msg, w.id, task.Label())
		w.queue.MarkFailed(task, msg)
		w.counters.failed.Add(1)
		w.sess.CompleteCrawling(models.OutcomeError, msg, 0)
		if err := w.recovery.RecoverCaptcha(ctx, w.sess); err != nil {
			utils.Errorf("CAPTCHA恢复失败: worker=#%d: %v", w.id, err)
		}
		return
	}

	outcome, msg := Classify(res)
	switch outcome {
	case models.OutcomeSuccess:
		w.queue.MarkDone(task, &models.TaskResult{
			Task:     task,
			Outcome:  outcome,
			Listings: res.Records,
		})
		w.counters.done.Add(1)
		w.deadStreak = 0
		if p := w.sess.Proxy(); p != nil {
			w.pool.MarkSuccess(p.ID)
		}
		utils.Infof("✅ 任务完成: worker=#%d %s 记录=%d", w.id, task.Label(), len(res.Records))

	case models.OutcomeWarning:
		// 业务性空结果照常回传,采集流程不中断
		w.queue.MarkDone(task, &models.TaskResult{
			Task:    task,
			Outcome: outcome,
			Message: msg,
		})
		w.counters.done.Add(1)
		w.deadStreak = 0
		utils.Warnf("⚠️  任务警告: worker=#%d %s: %s", w.id, task.Label(), msg)

	default:
		w.queue.MarkFailed(task, msg)
		w.counters.failed.Add(1)
		utils.Errorf("❌ 任务失败: worker=#%d %s: %s", w.id, task.Label(), msg)
	}

	w.sess.CompleteCrawling(outcome, msg, len(res.Records))

	if outcome == models.OutcomeError {
		w.recoverOrPark(ctx)
	}
}

// handleThrown 解析器抛出错误的处理路径
// 命中网络关键字立即恢复;疑似死进程错误要连续命中阈值次数才恢复,
// 避免单次页面超时就拆掉整个会话
func (w *Worker) handleThrown(ctx context.Context, task *models.Task, msg string) {
	w.queue.MarkFailed(task, msg)
	w.counters.failed.Add(1)
	w.sess.CompleteCrawling(models.OutcomeError, msg, 0)
	utils.Errorf("❌ 任务抛错: worker=#%d %s: %s", w.id, task.Label(), msg)

	if IsDeadProcessError(msg) {
		w.deadStreak++
	} else {
		w.deadStreak = 0
	}

	if IsNetworkError(msg) || w.deadStreak >= w.recovery.cfg.DeadProcessThreshold {
		w.deadStreak = 0
		w.recoverOrPark(ctx)
	}
}

// recoverOrPark 尝试换代理重启;恢复耗尽则停车等待,
// 会话留在error不再领任务,直到整体轮换把它救活或运行停止
func (w *Worker) recoverOrPark(ctx context.Context) {
	if err := w.recovery.RestartWithNewProxy(ctx, w.sess); err == nil {
		return
	}

	utils.Warnf("🅿️  worker停车等待: #%d 会话=%s", w.id, w.sess.Name())
	for !w.stopped() && w.sess.Status() == models.SessionError {
		if utils.SleepWithStop(5*time.Second, w.stopped) {
			return
		}
	}
}

// jitter 任务间随机抖动休眠,打散请求节奏
func (w *Worker) jitter() {
	min, max := w.cfg.JitterRange()
	utils.SleepWithStop(utils.JitterDuration(min, max), w.stopped)
}
