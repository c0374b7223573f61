package provision

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/RecoveryAshes/ListingHunter/internal/utils"
	"golang.org/x/time/rate"
)

// ErrIdentityBusy 等待同一身份的在途调用超时
var ErrIdentityBusy = errors.New("身份有在途调用,等待超时")

// Gateway 供给服务网关
// 所有对控制面的调用都必须经过这里,原因有二:
//  1. 控制面有自己的请求频率上限: 网关用rate.Limiter强制所有调用
//     (不分调用方)之间保持最小间隔,并按入队顺序放行
//  2. 同一身份并发start/stop在控制面是未定义行为: 网关维护在途身份
//     集合,第二个调用方轮询等待而不是重复发起
type Gateway struct {
	provider Provider
	limiter  *rate.Limiter

	mu       sync.Mutex
	inflight map[string]struct{}

	// identityWait 等待同一身份在途调用完成的上限
	identityWait time.Duration
	// pollInterval 轮询在途集合的间隔
	pollInterval time.Duration
}

// GatewayConfig 网关配置
type GatewayConfig struct {
	MinInterval  time.Duration // 相邻两次控制面调用的最小间隔
	IdentityWait time.Duration // 同一身份互斥等待上限
}

// NewGateway 创建网关
func NewGateway(provider Provider, cfg GatewayConfig) *Gateway {
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = 550 * time.Millisecond
	}
	if cfg.IdentityWait <= 0 {
		cfg.IdentityWait = 30 * time.Second
	}
	return &Gateway{
		provider:     provider,
		limiter:      rate.NewLimiter(rate.Every(cfg.MinInterval), 1),
		inflight:     make(map[string]struct{}),
		identityWait: cfg.IdentityWait,
		pollInterval: 100 * time.Millisecond,
	}
}

// acquireIdentity 占用身份在途槽位;已被占用时轮询等待
func (g *Gateway) acquireIdentity(ctx context.Context, id string) error {
	deadline := time.Now().Add(g.identityWait)
	for {
		g.mu.Lock()
		if _, busy := g.inflight[id]; !busy {
			g.inflight[id] = struct{}{}
			g.mu.Unlock()
			return nil
		}
		g.mu.Unlock()

		if time.Now().After(deadline) {
			return fmt.Errorf("%w: id=%s", ErrIdentityBusy, id)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(g.pollInterval):
		}
	}
}

func (g *Gateway) releaseIdentity(id string) {
	g.mu.Lock()
	delete(g.inflight, id)
	g.mu.Unlock()
}

// throttle 等待全局频率限制放行
func (g *Gateway) throttle(ctx context.Context) error {
	return g.limiter.Wait(ctx)
}

// CreateProfile 创建身份(仅受全局限速,创建前尚无身份ID可互斥)
func (g *Gateway) CreateProfile(ctx context.Context, cfg ProfileConfig) (string, error) {
	if err := g.throttle(ctx); err != nil {
		return "", err
	}
	id, err := g.provider.CreateProfile(ctx, cfg)
	if err != nil {
		return "", fmt.Errorf("创建身份失败: %w", err)
	}
	utils.Debugf("身份已创建: id=%s name=%s", id, cfg.Name)
	return id, nil
}

// UpdateProfile 更新身份配置
func (g *Gateway) UpdateProfile(ctx context.Context, id string, cfg ProfileConfig) error {
	if err := g.acquireIdentity(ctx, id); err != nil {
		return err
	}
	defer g.releaseIdentity(id)

	if err := g.throttle(ctx); err != nil {
		return err
	}
	if err := g.provider.UpdateProfile(ctx, id, cfg); err != nil {
		return fmt.Errorf("更新身份失败: id=%s: %w", id, err)
	}
	return nil
}

// DeleteProfile 删除身份
func (g *Gateway) DeleteProfile(ctx context.Context, id string) error {
	if err := g.acquireIdentity(ctx, id); err != nil {
		return err
	}
	defer g.releaseIdentity(id)

	if err := g.throttle(ctx); err != nil {
		return err
	}
	if err := g.provider.DeleteProfile(ctx, id); err != nil {
		return fmt.Errorf("删除身份失败: id=%s: %w", id, err)
	}
	return nil
}

// StartBrowser 启动浏览器
func (g *Gateway) StartBrowser(ctx context.Context, id string) (*StartResult, error) {
	if err := g.acquireIdentity(ctx, id); err != nil {
		return nil, err
	}
	defer g.releaseIdentity(id)

	if err := g.throttle(ctx); err != nil {
		return nil, err
	}
	res, err := g.provider.StartBrowser(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("启动浏览器失败: id=%s: %w", id, err)
	}
	return res, nil
}

// StopBrowser 停止浏览器
func (g *Gateway) StopBrowser(ctx context.Context, id string) error {
	if err := g.acquireIdentity(ctx, id); err != nil {
		return err
	}
	defer g.releaseIdentity(id)

	if err := g.throttle(ctx); err != nil {
		return err
	}
	if err := g.provider.StopBrowser(ctx, id); err != nil {
		return fmt.Errorf("停止浏览器失败: id=%s: %w", id, err)
	}
	return nil
}
