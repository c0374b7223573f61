package core

import (
	"context"
	"fmt"
	"time"

	"github.com/RecoveryAshes/ListingHunter/internal/models"
	"github.com/RecoveryAshes/ListingHunter/internal/pool"
	"github.com/RecoveryAshes/ListingHunter/internal/provision"
	"github.com/RecoveryAshes/ListingHunter/internal/session"
	"github.com/RecoveryAshes/ListingHunter/internal/utils"
	"github.com/google/uuid"
)

// crawlSession 恢复策略需要的会话操作子集
// *session.Session天然满足
type crawlSession interface {
	Name() string
	ProfileID() string
	Proxy() *models.Proxy
	GroupID() int64
	Start(ctx context.Context, opts session.StartOptions) error
	Restart(ctx context.Context, newProxy *models.Proxy, opts session.StartOptions) error
	Stop(ctx context.Context, fireAndForget bool)
	AdoptProfile(profileID string, proxy *models.Proxy)
}

// Recovery 共享恢复策略
// worker和fetcher都会调用;自身无状态,可被多goroutine并发使用
type Recovery struct {
	pool    *pool.Pool
	gateway *provision.Gateway
	cfg     RecoveryConfig
	start   session.StartOptions
	stopped func() bool
}

// NewRecovery 创建恢复策略
func NewRecovery(p *pool.Pool, g *provision.Gateway, cfg RecoveryConfig, start session.StartOptions, stopped func() bool) *Recovery {
	return &Recovery{pool: p, gateway: g, cfg: cfg, start: start, stopped: stopped}
}

// backoff 第attempt次尝试后的退避时长: 指数翻倍,封顶
func (r *Recovery) backoff(attempt int) time.Duration {
	base := time.Duration(r.cfg.BackoffBaseMs) * time.Millisecond
	cap := time.Duration(r.cfg.BackoffCapMs) * time.Millisecond

	d := base << uint(attempt)
	if d > cap || d <= 0 {
		d = cap
	}
	return d
}

// RestartWithNewProxy 网络错误恢复: 把会话当前代理标dead,从池里取
// 新代理(与会话的分组作用域一致)并重启,重复尝试直到成功或耗尽
// 耗尽后会话停留在error,不再被分配任务,等待整体轮换或人工干预
func (r *Recovery) RestartWithNewProxy(ctx context.Context, sess crawlSession) error {
	var lastErr error

	for attempt := 0; attempt < r.cfg.MaxRestartRetries; attempt++ {
		if r.stopped() {
			return fmt.Errorf("恢复被停止请求打断")
		}

		if old := sess.Proxy(); old != nil {
			if err := r.pool.MarkDead(old.ID); err != nil {
				utils.Warnf("标记代理dead失败: id=%d err=%v", old.ID, err)
			}
		}

		fresh, err := r.pool.NextInGroup(sess.GroupID())
		if err != nil {
			utils.Errorf("恢复失败,代理池已耗尽: %s", sess.Name())
			return err
		}

		if err := sess.Restart(ctx, fresh, r.start); err != nil {
			lastErr = err
			utils.Warnf("重启尝试失败(%d/%d): %s: %v", attempt+1, r.cfg.MaxRestartRetries, sess.Name(), err)
			if utils.SleepWithStop(r.backoff(attempt), r.stopped) {
				return fmt.Errorf("恢复被停止请求打断")
			}
			continue
		}

		if err := r.pool.MarkInUse(fresh.ID); err != nil {
			utils.Warnf("标记代理in_use失败: id=%d err=%v", fresh.ID, err)
		}
		utils.Infof("✅ 会话恢复成功: %s 新代理=%s", sess.Name(), fresh.Address)
		return nil
	}

	utils.Errorf("恢复尝试耗尽,会话停留在error: %s", sess.Name())
	return fmt.Errorf("重启尝试耗尽: %w", lastErr)
}

// RecoverCaptcha CAPTCHA/封禁恢复: 首选身份重建,即删除当前身份、
// 取新代理、创建绑定新代理的全新身份并启动;重建本身失败则回退到
// 网络错误重启路径
// 两级策略的原因: CAPTCHA/封禁经常绑定在身份指纹而不只是IP上,
// 仅换代理有时不够
func (r *Recovery) RecoverCaptcha(ctx context.Context, sess crawlSession) error {
	utils.Warnf("🧩 CAPTCHA恢复: 尝试重建身份: %s", sess.Name())

	oldProfile := sess.ProfileID()
	oldProxy := sess.Proxy()

	sess.Stop(ctx, true)

	if err := r.gateway.DeleteProfile(ctx, oldProfile); err != nil {
		utils.Warnf("删除身份失败,回退到代理重启: %s: %v", sess.Name(), err)
		return r.RestartWithNewProxy(ctx, sess)
	}

	if oldProxy != nil {
		if err := r.pool.MarkDead(oldProxy.ID); err != nil {
			utils.Warnf("标记代理dead失败: id=%d err=%v", oldProxy.ID, err)
		}
	}

	fresh, err := r.pool.NextInGroup(sess.GroupID())
	if err != nil {
		utils.Errorf("CAPTCHA恢复失败,代理池已耗尽: %s", sess.Name())
		return err
	}

	newProfile, err := r.gateway.CreateProfile(ctx, provision.ProfileConfig{
		Name:  sess.Name() + "-" + uuid.New().String()[:8],
		Proxy: fresh,
	})
	if err != nil {
		utils.Warnf("创建新身份失败,回退到代理重启: %s: %v", sess.Name(), err)
		return r.RestartWithNewProxy(ctx, sess)
	}

	sess.AdoptProfile(newProfile, fresh)
	if err := sess.Start(ctx, r.start); err != nil {
		utils.Warnf("新身份启动失败,回退到代理重启: %s: %v", sess.Name(), err)
		return r.RestartWithNewProxy(ctx, sess)
	}

	if err := r.pool.MarkInUse(fresh.ID); err != nil {
		utils.Warnf("标记代理in_use失败: id=%d err=%v", fresh.ID, err)
	}
	utils.Infof("✅ 身份重建完成: %s 新身份=%s 新代理=%s", sess.Name(), newProfile, fresh.Address)
	return nil
}

// RotateSession 整体轮换中单个会话的换代理重启,带有界重试
// 与错误恢复不同,旧代理释放回池而不是标dead
func (r *Recovery) RotateSession(ctx context.Context, sess crawlSession, retries int) error {
	var lastErr error

	for attempt := 0; attempt < retries; attempt++ {
		if r.stopped() {
			return fmt.Errorf("轮换被停止请求打断")
		}

		fresh, err := r.pool.NextInGroup(sess.GroupID())
		if err != nil {
			return err
		}

		old := sess.Proxy()
		if err := sess.Restart(ctx, fresh, r.start); err != nil {
			lastErr = err
			// 本次取到的代理可能有问题,标dead后换下一个
			if derr := r.pool.MarkDead(fresh.ID); derr != nil {
				utils.Warnf("标记代理dead失败: id=%d err=%v", fresh.ID, derr)
			}
			continue
		}

		if err := r.pool.MarkInUse(fresh.ID); err != nil {
			utils.Warnf("标记代理in_use失败: id=%d err=%v", fresh.ID, err)
		}
		if old != nil && old.ID != fresh.ID {
			if err := r.pool.Release(old.ID); err != nil {
				utils.Warnf("释放旧代理失败: id=%d err=%v", old.ID, err)
			}
		}
		return nil
	}
	return fmt.Errorf("轮换尝试耗尽: %w", lastErr)
}
