package pool

import (
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/RecoveryAshes/ListingHunter/internal/models"
	"github.com/RecoveryAshes/ListingHunter/internal/store"
	"github.com/RecoveryAshes/ListingHunter/internal/utils"
)

// ErrNoProxyAvailable 池中没有可分配的代理
var ErrNoProxyAvailable = errors.New("没有可用代理")

const (
	cursorKeyGlobal      = "proxy_cursor"
	cursorKeyGroupPrefix = "proxy_cursor_group_"
)

// cache 某个作用域(全局或单个分组)的候选代理缓存
type cache struct {
	ids    []int64
	cursor int
}

// Pool 代理池
// 职责: 基于持久化存储做轮询分配,维护全局和分组两级缓存
// 分配前必须向存储重新校验候选代理的权威状态: 多个worker并发取用时,
// 排到"下一个"的代理可能已经被标dead或被占用
type Pool struct {
	store *store.Store

	mu     sync.Mutex
	global *cache
	groups map[int64]*cache
}

// New 创建代理池
func New(st *store.Store) *Pool {
	return &Pool{
		store:  st,
		groups: make(map[int64]*cache),
	}
}

// Next 从全局池取下一个可用代理,轮询公平
// 最多重试(池大小)次,仍取不到返回ErrNoProxyAvailable
func (p *Pool) Next() (*models.Proxy, error) {
	return p.next(0)
}

// NextInGroup 从指定分组取下一个可用代理; groupID为0等价于全局
func (p *Pool) NextInGroup(groupID int64) (*models.Proxy, error) {
	return p.next(groupID)
}

func (p *Pool) next(groupID int64) (*models.Proxy, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	c, err := p.cacheFor(groupID)
	if err != nil {
		return nil, err
	}
	if len(c.ids) == 0 {
		return nil, ErrNoProxyAvailable
	}

	// 乐观推进游标,但在返回前向存储校验权威状态;
	// 最多尝试一整圈
	for attempt := 0; attempt < len(c.ids); attempt++ {
		id := c.ids[c.cursor%len(c.ids)]
		c.cursor = (c.cursor + 1) % len(c.ids)
		p.persistCursor(groupID, c.cursor)

		candidate, err := p.store.GetProxy(id)
		if err != nil {
			utils.Warnf("校验代理失败,跳过: id=%d err=%v", id, err)
			continue
		}
		if candidate.Status != models.ProxyStatusActive {
			utils.Debugf("代理状态非active,跳过: id=%d status=%s", id, candidate.Status)
			continue
		}
		return candidate, nil
	}
	return nil, ErrNoProxyAvailable
}

// cacheFor 取作用域缓存,懒加载
// 调用方必须持有p.mu
func (p *Pool) cacheFor(groupID int64) (*cache, error) {
	if groupID == 0 {
		if p.global == nil {
			c, err := p.loadCache(0)
			if err != nil {
				return nil, err
			}
			p.global = c
		}
		return p.global, nil
	}
	c, ok := p.groups[groupID]
	if !ok {
		loaded, err := p.loadCache(groupID)
		if err != nil {
			return nil, err
		}
		p.groups[groupID] = loaded
		c = loaded
	}
	return c, nil
}

// loadCache 从存储加载active代理列表和持久化游标
func (p *Pool) loadCache(groupID int64) (*cache, error) {
	proxies, err := p.store.ListActiveProxies(groupID)
	if err != nil {
		return nil, fmt.Errorf("加载代理缓存失败: %w", err)
	}
	ids := make([]int64, 0, len(proxies))
	for _, pr := range proxies {
		ids = append(ids, pr.ID)
	}

	cursor := 0
	if v, err := p.store.GetSetting(cursorKey(groupID)); err == nil && v != "" {
		if n, err := strconv.Atoi(v); err == nil && len(ids) > 0 {
			cursor = n % len(ids)
		}
	}
	utils.Debugf("代理缓存已加载: group=%d 数量=%d 游标=%d", groupID, len(ids), cursor)
	return &cache{ids: ids, cursor: cursor}, nil
}

func (p *Pool) persistCursor(groupID int64, cursor int) {
	if err := p.store.PutSetting(cursorKey(groupID), strconv.Itoa(cursor)); err != nil {
		utils.Warnf("持久化代理游标失败: %v", err)
	}
}

func cursorKey(groupID int64) string {
	if groupID == 0 {
		return cursorKeyGlobal
	}
	return cursorKeyGroupPrefix + strconv.FormatInt(groupID, 10)
}

// MarkInUse 标记代理被占用,不从缓存移除
func (p *Pool) MarkInUse(id int64) error {
	return p.store.UpdateProxyStatus(id, models.ProxyStatusInUse)
}

// Release 释放代理回active,并使分组缓存失效
func (p *Pool) Release(id int64) error {
	if err := p.store.UpdateProxyStatus(id, models.ProxyStatusActive); err != nil {
		return err
	}
	p.mu.Lock()
	p.groups = make(map[int64]*cache)
	p.mu.Unlock()
	return nil
}

// MarkDead 标记代理失效: 更新状态、失败计数+1,并从候选缓存移除
// 此后Next不会再看到它,直到ResetAll
func (p *Pool) MarkDead(id int64) error {
	if err := p.store.UpdateProxyStatus(id, models.ProxyStatusDead); err != nil {
		return err
	}
	if err := p.store.IncrementProxyFail(id); err != nil {
		utils.Warnf("更新代理失败计数失败: id=%d err=%v", id, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.global != nil {
		p.global.ids = removeID(p.global.ids, id)
	}
	for _, c := range p.groups {
		c.ids = removeID(c.ids, id)
	}
	return nil
}

// MarkSuccess 成功计数+1(不改状态)
func (p *Pool) MarkSuccess(id int64) {
	if err := p.store.IncrementProxySuccess(id); err != nil {
		utils.Warnf("更新代理成功计数失败: id=%d err=%v", id, err)
	}
}

// ResetAll 把所有dead代理翻回active并重载缓存
// 每个抓取周期开始时调用,让被临时封禁的代理重新进入轮询
func (p *Pool) ResetAll() error {
	n, err := p.store.ResetDeadProxies()
	if err != nil {
		return err
	}
	if n > 0 {
		utils.Infof("♻️  已复活dead代理: %d 个", n)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.global = nil
	p.groups = make(map[int64]*cache)
	return nil
}

// ActiveCount 当前全局缓存中的候选数(测试与诊断用)
func (p *Pool) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, err := p.cacheFor(0)
	if err != nil {
		return 0
	}
	return len(c.ids)
}

func removeID(ids []int64, id int64) []int64 {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
