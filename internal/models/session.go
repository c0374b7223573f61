package models

// SessionStatus 会话状态机状态
// 正常流转: idle -> starting -> ready -> crawling -> {success|warning|error} -> waiting -> ...
// restarting和stopped可从任意活跃状态进入
type SessionStatus string

const (
	SessionIdle       SessionStatus = "idle"
	SessionStarting   SessionStatus = "starting"
	SessionReady      SessionStatus = "ready"
	SessionCrawling   SessionStatus = "crawling"
	SessionSuccess    SessionStatus = "success"
	SessionWarning    SessionStatus = "warning"
	SessionError      SessionStatus = "error"
	SessionWaiting    SessionStatus = "waiting"
	SessionRestarting SessionStatus = "restarting"
	SessionStopped    SessionStatus = "stopped"
)

// SessionSnapshot 单个会话的状态快照,用于进度上报
type SessionSnapshot struct {
	Name       string        `json:"name"`
	ProfileID  string        `json:"profile_id"`
	ProxyAddr  string        `json:"proxy_addr"`
	Status     SessionStatus `json:"status"`
	TaskLabel  string        `json:"task_label,omitempty"`
	LastMsg    string        `json:"last_msg,omitempty"`
	Collected  int           `json:"collected"`
}

// Progress 整体进度快照,由编排引擎暴露给控制台层轮询
type Progress struct {
	Running      bool              `json:"running"`
	TotalTasks   int               `json:"total_tasks"`
	DoneTasks    int               `json:"done_tasks"`
	FailedTasks  int               `json:"failed_tasks"`
	PendingTasks int               `json:"pending_tasks"`
	WaitSeconds  int               `json:"wait_seconds"` // 等待状态剩余秒数,0表示非等待
	Sessions     []SessionSnapshot `json:"sessions"`
}

// SessionSpec 准备阶段的会话规格
type SessionSpec struct {
	Name    string `json:"name"`
	GroupID int64  `json:"group_id"` // 0表示从全局池取代理
}
