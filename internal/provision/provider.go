package provision

import (
	"context"

	"github.com/RecoveryAshes/ListingHunter/internal/models"
)

// ProfileConfig 浏览器身份(指纹环境)配置
type ProfileConfig struct {
	Name  string        // 身份名称
	Proxy *models.Proxy // 绑定的出口代理,可为nil
	Tabs  int           // 启动时打开的标签页数,0表示默认
}

// StartResult 启动浏览器的返回信息
type StartResult struct {
	ControlURL string // DevTools控制协议端点(ws://或http://)
}

// Provider 浏览器供给服务的抽象
// 唯一随后端变化的轴,编排层只依赖这个接口
// 注意: 任何实现都不保证并发start/stop同一身份是安全的,
// 调用方必须经过Gateway
type Provider interface {
	// CreateProfile 创建一个新身份,返回身份ID
	CreateProfile(ctx context.Context, cfg ProfileConfig) (string, error)
	// UpdateProfile 更新身份的代理/标签页配置
	UpdateProfile(ctx context.Context, id string, cfg ProfileConfig) error
	// DeleteProfile 删除身份
	DeleteProfile(ctx context.Context, id string) error
	// StartBrowser 启动身份对应的浏览器,返回控制端点
	StartBrowser(ctx context.Context, id string) (*StartResult, error)
	// StopBrowser 停止身份对应的浏览器
	StopBrowser(ctx context.Context, id string) error
}
