package core

import (
	"context"
	"time"

	"github.com/RecoveryAshes/ListingHunter/internal/models"
	"github.com/RecoveryAshes/ListingHunter/internal/queue"
	"github.com/RecoveryAshes/ListingHunter/internal/remote"
	"github.com/RecoveryAshes/ListingHunter/internal/utils"
)

// ResultHandler 结果处理器: 周期性排空队列里的结果缓冲并回传服务端
// 服务端应答"今日停采"时把对应用户加入队列的封禁集合
type ResultHandler struct {
	queue     *queue.Queue
	client    *remote.Client
	interval  time.Duration
	submitURL func() string
	stopped   func() bool
}

// NewResultHandler 创建结果处理器
func NewResultHandler(q *queue.Queue, client *remote.Client, interval time.Duration, submitURL func() string, stopped func() bool) *ResultHandler {
	return &ResultHandler{
		queue:     q,
		client:    client,
		interval:  interval,
		submitURL: submitURL,
		stopped:   stopped,
	}
}

// Run 结果处理器主循环,stop后做最后一次排空再返回
// 周期等待用分片休眠实现,停止请求不必等满整个排空周期
func (h *ResultHandler) Run(ctx context.Context) {
	for !h.stopped() {
		if utils.SleepWithStop(h.interval, h.stopped) {
			break
		}
		h.drain(ctx)
	}

	// 停止前把已缓冲的结果送出去,不让采到的数据丢在内存里
	h.drain(ctx)
	utils.Info("📤 结果处理器退出")
}

// drain 排空一轮: 先成功结果,再失败记录
func (h *ResultHandler) drain(ctx context.Context) {
	url := h.submitURL()
	if url == "" {
		return
	}

	for _, res := range h.queue.DrainDone() {
		h.submit(ctx, url, res)
	}
	for _, f := range h.queue.DrainFailed() {
		h.submit(ctx, url, &models.TaskResult{
			Task:    f.Task,
			Outcome: models.OutcomeError,
			Message: f.Message,
		})
	}
}

func (h *ResultHandler) submit(ctx context.Context, url string, res *models.TaskResult) {
	stopToday, err := h.client.SubmitResult(ctx, url, res)
	if err != nil {
		utils.Warnf("回传结果失败: task=%d: %v", res.Task.ID, err)
		return
	}
	if stopToday {
		h.queue.BlockUser(res.Task.UserID)
	}
}
