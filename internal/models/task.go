package models

import "fmt"

// Task 远程任务服务器下发的工作项
// 一经获取即视为不可变,按ID去重和删除
type Task struct {
	ID       int64  `json:"id"`
	UserID   int64  `json:"user_id"`
	Platform string `json:"platform"`
	URL      string `json:"url"`
	PriceMin int    `json:"price_min"`
	PriceMax int    `json:"price_max"`

	// 采集子集开关
	WithSold     bool `json:"with_sold"`     // 包含已售出
	WithReserved bool `json:"with_reserved"` // 包含预订中
}

// Label 任务的展示标签,用于会话状态上报
func (t *Task) Label() string {
	return fmt.Sprintf("#%d %s", t.ID, t.URL)
}

// Listing 单条采集结果记录
type Listing struct {
	ItemID   string `json:"item_id"`
	Title    string `json:"title"`
	Price    int    `json:"price"`
	URL      string `json:"url"`
	Sold     bool   `json:"sold"`
	Reserved bool   `json:"reserved"`
}

// TaskResult 一次任务的最终结果
type TaskResult struct {
	Task     *Task     `json:"task"`
	Outcome  Outcome   `json:"outcome"`
	Listings []Listing `json:"listings,omitempty"`
	Message  string    `json:"message,omitempty"`
}

// TaskFailure 一次任务的失败记录
type TaskFailure struct {
	Task    *Task  `json:"task"`
	Message string `json:"message"`
}

// Outcome 任务结果分类
// 只有OutcomeError会触发会话重启,OutcomeWarning属于正常业务结果
type Outcome string

const (
	OutcomeSuccess Outcome = "success" // 采集成功且至少1条记录
	OutcomeWarning Outcome = "warning" // 业务性空结果(0条、不符合条件等)
	OutcomeError   Outcome = "error"   // 技术性失败(网络、协议、会话关闭)
)
