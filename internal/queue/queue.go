package queue

import (
	"sync"
	"time"

	"github.com/RecoveryAshes/ListingHunter/internal/models"
	"github.com/RecoveryAshes/ListingHunter/internal/utils"
)

// Queue 任务队列
// 职责: 生产者(fetcher)/消费者(worker)之间的并发安全缓冲
// 不变式: 任务ID在pending和processing中不会同时出现;
// "本批完成" <=> pending为空且processing为空
type Queue struct {
	mu sync.Mutex

	order      []int64                 // pending的FIFO顺序
	pending    map[int64]*models.Task  // 待处理
	processing map[int64]*models.Task  // 处理中
	done       []*models.TaskResult    // 已完成,等待结果处理器排空
	failed     []*models.TaskFailure   // 已失败,等待结果处理器排空

	// 服务端"今日停采"的用户集合,按自然日自动清空
	blocked    map[int64]struct{}
	blockedDay string // YYYY-MM-DD
}

// New 创建任务队列
func New() *Queue {
	return &Queue{
		pending:    make(map[int64]*models.Task),
		processing: make(map[int64]*models.Task),
		blocked:    make(map[int64]struct{}),
		blockedDay: today(),
	}
}

func today() string {
	return time.Now().Format("2006-01-02")
}

// rollBlockedDay 自然日翻转时清空封禁用户集合
// 调用方必须持有q.mu
func (q *Queue) rollBlockedDay() {
	if d := today(); d != q.blockedDay {
		if len(q.blocked) > 0 {
			utils.Infof("日期翻转,清空今日停采用户: %d 个", len(q.blocked))
		}
		q.blocked = make(map[int64]struct{})
		q.blockedDay = d
	}
}

// Enqueue 批量入队,按ID去重(已在队列中的任务忽略)
func (q *Queue) Enqueue(tasks []*models.Task) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, t := range tasks {
		if _, ok := q.pending[t.ID]; ok {
			continue
		}
		if _, ok := q.processing[t.ID]; ok {
			continue
		}
		q.pending[t.ID] = t
		q.order = append(q.order, t.ID)
	}
}

// Dequeue 取出下一个待处理任务并转入processing
// 属于今日停采用户的任务被静默丢弃(不计入失败);无任务时返回nil
func (q *Queue) Dequeue() *models.Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.rollBlockedDay()

	for len(q.order) > 0 {
		id := q.order[0]
		q.order = q.order[1:]

		t, ok := q.pending[id]
		if !ok {
			continue
		}
		delete(q.pending, id)

		if _, blocked := q.blocked[t.UserID]; blocked {
			utils.Debugf("用户今日停采,跳过任务: task=%d user=%d", t.ID, t.UserID)
			continue
		}

		q.processing[id] = t
		return t
	}
	return nil
}

// MarkDone 标记任务完成,从processing移除并缓冲结果
func (q *Queue) MarkDone(t *models.Task, result *models.TaskResult) {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.processing, t.ID)
	delete(q.pending, t.ID)
	q.done = append(q.done, result)
}

// MarkFailed 标记任务失败,从processing移除并缓冲失败记录
func (q *Queue) MarkFailed(t *models.Task, message string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.processing, t.ID)
	delete(q.pending, t.ID)
	q.failed = append(q.failed, &models.TaskFailure{Task: t, Message: message})
}

// DrainDone 原子地取走并清空已完成缓冲
func (q *Queue) DrainDone() []*models.TaskResult {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := q.done
	q.done = nil
	return out
}

// DrainFailed 原子地取走并清空失败缓冲
func (q *Queue) DrainFailed() []*models.TaskFailure {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := q.failed
	q.failed = nil
	return out
}

// BlockUser 将用户加入今日停采集合
func (q *Queue) BlockUser(userID int64) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.rollBlockedDay()
	q.blocked[userID] = struct{}{}
	utils.Infof("🚫 用户今日停采: user=%d", userID)
}

// IsBlocked 查询用户是否在今日停采集合中
func (q *Queue) IsBlocked(userID int64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.rollBlockedDay()
	_, ok := q.blocked[userID]
	return ok
}

// IsFullyDrained 本批是否全部完成: pending与processing同时为空
func (q *Queue) IsFullyDrained() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending) == 0 && len(q.processing) == 0
}

// PendingCount 待处理任务数
func (q *Queue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// ProcessingCount 处理中任务数
func (q *Queue) ProcessingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.processing)
}

// Reset 硬清空四个集合,抓取周期之间使用
// 今日停采集合不在清空范围内
func (q *Queue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.order = nil
	q.pending = make(map[int64]*models.Task)
	q.processing = make(map[int64]*models.Task)
	q.done = nil
	q.failed = nil
}
