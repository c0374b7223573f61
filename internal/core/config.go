package core

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config 应用程序配置
type Config struct {
	Crawl      CrawlConfig      `mapstructure:"crawl"`
	Gateway    GatewayConfig    `mapstructure:"gateway"`
	Recovery   RecoveryConfig   `mapstructure:"recovery"`
	Provision  ProvisionConfig  `mapstructure:"provision"`
	TaskServer TaskServerConfig `mapstructure:"task_server"`
	Store      StoreConfig      `mapstructure:"store"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Resource   ResourceConfig   `mapstructure:"resource"`
}

// CrawlConfig 爬取编排配置
type CrawlConfig struct {
	BatchMultiplier    int  `mapstructure:"batch_multiplier"`     // 单批任务数 = worker数 × 该系数
	EmptyWaitSec       int  `mapstructure:"empty_wait_sec"`       // 拉取到空批次后的等待
	CooldownSec        int  `mapstructure:"cooldown_sec"`         // 批次之间的冷却窗口
	JitterMinMs        int  `mapstructure:"jitter_min_ms"`        // 任务间抖动休眠下限
	JitterMaxMs        int  `mapstructure:"jitter_max_ms"`        // 任务间抖动休眠上限
	KeepaliveSec       int  `mapstructure:"keepalive_sec"`        // 保活探测周期
	ResultDrainSec     int  `mapstructure:"result_drain_sec"`     // 结果处理器排空周期
	ValidateProxy      bool `mapstructure:"validate_proxy"`       // 启动时验证代理出口IP
	ValidateConnection bool `mapstructure:"validate_connection"`  // 启动时验证完整连通性
}

// GatewayConfig 供给网关配置
type GatewayConfig struct {
	MinIntervalMs   int `mapstructure:"min_interval_ms"`   // 控制面调用最小间隔
	IdentityWaitSec int `mapstructure:"identity_wait_sec"` // 同一身份互斥等待上限
}

// RecoveryConfig 恢复策略配置
type RecoveryConfig struct {
	MaxRestartRetries    int `mapstructure:"max_restart_retries"`    // 网络错误重启的最大尝试次数
	BackoffBaseMs        int `mapstructure:"backoff_base_ms"`        // 指数退避起点
	BackoffCapMs         int `mapstructure:"backoff_cap_ms"`         // 指数退避上限
	DeadProcessThreshold int `mapstructure:"dead_process_threshold"` // 连续疑似死进程错误阈值
	RotationBatchSize    int `mapstructure:"rotation_batch_size"`    // 整体轮换的并发批大小
	RotationPauseSec     int `mapstructure:"rotation_pause_sec"`     // 轮换批之间的固定停顿
}

// ProvisionConfig 浏览器供给服务配置
type ProvisionConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
}

// TaskServerConfig 远程任务服务器配置
type TaskServerConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Token   string `mapstructure:"token"`
}

// StoreConfig 持久化存储配置
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level    string         `mapstructure:"level"`
	LogDir   string         `mapstructure:"log_dir"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig 日志轮转配置
type RotationConfig struct {
	MaxSize    int  `mapstructure:"max_size"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAge     int  `mapstructure:"max_age"`
	Compress   bool `mapstructure:"compress"`
}

// ResourceConfig 资源护栏配置
type ResourceConfig struct {
	SafetyReserveMemory int64 `mapstructure:"safety_reserve_memory"` // 安全保留内存(字节)
	SessionMemoryUsage  int64 `mapstructure:"session_memory_usage"`  // 单会话平均内存消耗(字节)
	MaxSessionsLimit    int   `mapstructure:"max_sessions_limit"`    // 绝对最大会话数
}

// LoadConfig 加载配置文件
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".listinghunter"))
		}
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// 配置文件不存在时使用默认值
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}
	return &config, nil
}

// setDefaults 设置默认配置值
// 阈值类参数在源流程的历史版本间略有出入,这里按§4的数值取默认,
// 全部可被配置文件覆盖
func setDefaults(v *viper.Viper) {
	// 爬取编排默认值
	v.SetDefault("crawl.batch_multiplier", 3)
	v.SetDefault("crawl.empty_wait_sec", 300)
	v.SetDefault("crawl.cooldown_sec", 600)
	v.SetDefault("crawl.jitter_min_ms", 2000)
	v.SetDefault("crawl.jitter_max_ms", 5000)
	v.SetDefault("crawl.keepalive_sec", 30)
	v.SetDefault("crawl.result_drain_sec", 10)
	v.SetDefault("crawl.validate_proxy", true)
	v.SetDefault("crawl.validate_connection", false)

	// 网关默认值
	v.SetDefault("gateway.min_interval_ms", 550)
	v.SetDefault("gateway.identity_wait_sec", 30)

	// 恢复策略默认值
	v.SetDefault("recovery.max_restart_retries", 10)
	v.SetDefault("recovery.backoff_base_ms", 1000)
	v.SetDefault("recovery.backoff_cap_ms", 30000)
	v.SetDefault("recovery.dead_process_threshold", 2)
	v.SetDefault("recovery.rotation_batch_size", 10)
	v.SetDefault("recovery.rotation_pause_sec", 3)

	// 供给服务默认值
	v.SetDefault("provision.base_url", "http://127.0.0.1:50325")

	// 存储默认值
	v.SetDefault("store.path", "listinghunter.db")

	// 日志默认值
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.log_dir", "logs")
	v.SetDefault("logging.rotation.max_size", 10)
	v.SetDefault("logging.rotation.max_backups", 3)
	v.SetDefault("logging.rotation.max_age", 28)
	v.SetDefault("logging.rotation.compress", true)

	// 资源护栏默认值
	v.SetDefault("resource.safety_reserve_memory", 1024*1024*1024)
	v.SetDefault("resource.session_memory_usage", 400*1024*1024)
	v.SetDefault("resource.max_sessions_limit", 32)
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.Crawl.BatchMultiplier < 1 {
		return fmt.Errorf("batch_multiplier必须≥1")
	}
	if c.Gateway.MinIntervalMs < 100 {
		return fmt.Errorf("min_interval_ms必须≥100")
	}
	if c.Recovery.MaxRestartRetries < 1 {
		return fmt.Errorf("max_restart_retries必须≥1")
	}
	if c.Recovery.RotationBatchSize < 1 {
		return fmt.Errorf("rotation_batch_size必须≥1")
	}
	if c.Crawl.JitterMaxMs < c.Crawl.JitterMinMs {
		return fmt.Errorf("jitter_max_ms必须≥jitter_min_ms")
	}
	return nil
}

// JitterRange 抖动休眠区间
func (c *CrawlConfig) JitterRange() (time.Duration, time.Duration) {
	return time.Duration(c.JitterMinMs) * time.Millisecond,
		time.Duration(c.JitterMaxMs) * time.Millisecond
}
