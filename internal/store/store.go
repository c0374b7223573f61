package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/RecoveryAshes/ListingHunter/internal/models"
	_ "modernc.org/sqlite"
)

// Store 持久化存储
// 职责: 代理记录、分组记录和少量键值设置(如轮询游标)的CRUD
// 代理状态以这里为准,内存层(pool)只做缓存
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS proxies (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	address       TEXT NOT NULL,
	username      TEXT NOT NULL DEFAULT '',
	password      TEXT NOT NULL DEFAULT '',
	protocol      TEXT NOT NULL DEFAULT 'http',
	status        TEXT NOT NULL DEFAULT 'active',
	group_id      INTEGER NOT NULL DEFAULT 0,
	fail_count    INTEGER NOT NULL DEFAULT 0,
	success_count INTEGER NOT NULL DEFAULT 0,
	last_checked  TIMESTAMP
);
CREATE TABLE IF NOT EXISTS proxy_groups (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	name     TEXT NOT NULL UNIQUE,
	capacity INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS settings (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_proxies_status ON proxies(status);
CREATE INDEX IF NOT EXISTS idx_proxies_group ON proxies(group_id);
`

// Open 打开(或创建)sqlite数据库并执行建表
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}
	// sqlite单写者,限制连接数避免SQLITE_BUSY
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("初始化数据库结构失败: %w", err)
	}
	return &Store{db: db}, nil
}

// Close 关闭数据库
func (s *Store) Close() error {
	return s.db.Close()
}

const proxyColumns = "id, address, username, password, protocol, status, group_id, fail_count, success_count, COALESCE(last_checked, '0001-01-01 00:00:00')"

func scanProxy(row interface{ Scan(...interface{}) error }) (*models.Proxy, error) {
	var p models.Proxy
	var lastChecked string
	err := row.Scan(&p.ID, &p.Address, &p.Username, &p.Password, &p.Protocol,
		&p.Status, &p.GroupID, &p.FailCount, &p.SuccessCount, &lastChecked)
	if err != nil {
		return nil, err
	}
	if t, err := time.Parse("2006-01-02 15:04:05", lastChecked); err == nil {
		p.LastChecked = t
	} else if t, err := time.Parse(time.RFC3339, lastChecked); err == nil {
		p.LastChecked = t
	}
	return &p, nil
}

// AddProxy 新增代理记录,返回自增ID
func (s *Store) AddProxy(p *models.Proxy) (int64, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}
	status := p.Status
	if status == "" {
		status = models.ProxyStatusActive
	}
	protocol := p.Protocol
	if protocol == "" {
		protocol = "http"
	}
	res, err := s.db.Exec(`
		INSERT INTO proxies (address, username, password, protocol, status, group_id)
		VALUES (?, ?, ?, ?, ?, ?)
	`, p.Address, p.Username, p.Password, protocol, status, p.GroupID)
	if err != nil {
		return 0, fmt.Errorf("插入代理失败: %w", err)
	}
	return res.LastInsertId()
}

// GetProxy 按ID读取代理(权威状态)
func (s *Store) GetProxy(id int64) (*models.Proxy, error) {
	row := s.db.QueryRow("SELECT "+proxyColumns+" FROM proxies WHERE id = ?", id)
	p, err := scanProxy(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("代理不存在: id=%d", id)
	}
	if err != nil {
		return nil, fmt.Errorf("读取代理失败: %w", err)
	}
	return p, nil
}

// ListProxies 列出全部代理
func (s *Store) ListProxies() ([]*models.Proxy, error) {
	return s.queryProxies("SELECT " + proxyColumns + " FROM proxies ORDER BY id")
}

// ListActiveProxies 列出状态为active的代理; groupID为0表示全局
func (s *Store) ListActiveProxies(groupID int64) ([]*models.Proxy, error) {
	if groupID == 0 {
		return s.queryProxies("SELECT "+proxyColumns+" FROM proxies WHERE status = ? ORDER BY id", models.ProxyStatusActive)
	}
	return s.queryProxies("SELECT "+proxyColumns+" FROM proxies WHERE status = ? AND group_id = ? ORDER BY id",
		models.ProxyStatusActive, groupID)
}

func (s *Store) queryProxies(query string, args ...interface{}) ([]*models.Proxy, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("查询代理失败: %w", err)
	}
	defer rows.Close()

	var proxies []*models.Proxy
	for rows.Next() {
		p, err := scanProxy(rows)
		if err != nil {
			return nil, fmt.Errorf("扫描代理记录失败: %w", err)
		}
		proxies = append(proxies, p)
	}
	return proxies, rows.Err()
}

// UpdateProxyStatus 更新代理状态
func (s *Store) UpdateProxyStatus(id int64, status models.ProxyStatus) error {
	res, err := s.db.Exec("UPDATE proxies SET status = ?, last_checked = ? WHERE id = ?",
		status, time.Now().UTC().Format("2006-01-02 15:04:05"), id)
	if err != nil {
		return fmt.Errorf("更新代理状态失败: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("代理不存在: id=%d", id)
	}
	return nil
}

// IncrementProxyFail 失败计数+1
func (s *Store) IncrementProxyFail(id int64) error {
	_, err := s.db.Exec("UPDATE proxies SET fail_count = fail_count + 1 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("更新失败计数失败: %w", err)
	}
	return nil
}

// IncrementProxySuccess 成功计数+1
func (s *Store) IncrementProxySuccess(id int64) error {
	_, err := s.db.Exec("UPDATE proxies SET success_count = success_count + 1 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("更新成功计数失败: %w", err)
	}
	return nil
}

// ResetDeadProxies 批量将dead代理翻回active,返回影响行数
// 每个抓取周期开始时调用,让临时被封的代理有机会重试
func (s *Store) ResetDeadProxies() (int64, error) {
	res, err := s.db.Exec("UPDATE proxies SET status = ? WHERE status = ?",
		models.ProxyStatusActive, models.ProxyStatusDead)
	if err != nil {
		return 0, fmt.Errorf("重置dead代理失败: %w", err)
	}
	return res.RowsAffected()
}

// ReleaseAllInUse 把所有in_use代理释放回active(进程异常退出后的清场)
func (s *Store) ReleaseAllInUse() (int64, error) {
	res, err := s.db.Exec("UPDATE proxies SET status = ? WHERE status = ?",
		models.ProxyStatusActive, models.ProxyStatusInUse)
	if err != nil {
		return 0, fmt.Errorf("释放in_use代理失败: %w", err)
	}
	return res.RowsAffected()
}

// DeleteProxy 删除代理记录
func (s *Store) DeleteProxy(id int64) error {
	_, err := s.db.Exec("DELETE FROM proxies WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("删除代理失败: %w", err)
	}
	return nil
}

// AddGroup 新增分组
func (s *Store) AddGroup(g *models.ProxyGroup) (int64, error) {
	res, err := s.db.Exec("INSERT INTO proxy_groups (name, capacity) VALUES (?, ?)", g.Name, g.Capacity)
	if err != nil {
		return 0, fmt.Errorf("插入分组失败: %w", err)
	}
	return res.LastInsertId()
}

// GetGroup 按ID读取分组
func (s *Store) GetGroup(id int64) (*models.ProxyGroup, error) {
	var g models.ProxyGroup
	err := s.db.QueryRow("SELECT id, name, capacity FROM proxy_groups WHERE id = ?", id).
		Scan(&g.ID, &g.Name, &g.Capacity)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("分组不存在: id=%d", id)
	}
	if err != nil {
		return nil, fmt.Errorf("读取分组失败: %w", err)
	}
	return &g, nil
}

// ListGroups 列出所有分组
func (s *Store) ListGroups() ([]*models.ProxyGroup, error) {
	rows, err := s.db.Query("SELECT id, name, capacity FROM proxy_groups ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("查询分组失败: %w", err)
	}
	defer rows.Close()

	var groups []*models.ProxyGroup
	for rows.Next() {
		var g models.ProxyGroup
		if err := rows.Scan(&g.ID, &g.Name, &g.Capacity); err != nil {
			return nil, fmt.Errorf("扫描分组记录失败: %w", err)
		}
		groups = append(groups, &g)
	}
	return groups, rows.Err()
}

// GetSetting 读取键值设置,不存在时返回空串
func (s *Store) GetSetting(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("读取设置失败: %w", err)
	}
	return value, nil
}

// PutSetting 写入键值设置(upsert)
func (s *Store) PutSetting(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("写入设置失败: %w", err)
	}
	return nil
}
