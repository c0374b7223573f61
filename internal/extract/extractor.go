package extract

import (
	"context"
	"fmt"
	"sync"

	"github.com/RecoveryAshes/ListingHunter/internal/models"
	"github.com/go-rod/rod"
)

// Result 页面解析的原始结果,由编排层分类为success/warning/error
type Result struct {
	Success         bool             // 解析是否完成
	Records         []models.Listing // 提取到的记录
	ErrorText       string           // 失败描述
	CaptchaDetected bool             // 是否命中CAPTCHA/封禁标记
	ServerAck       bool             // 站点是否明确应答(区分空结果与无响应)
}

// Extractor 单个目标平台的页面解析器
// 每个平台各自负责: 从已加载页面提取结构化记录,识别该站点特有的
// CAPTCHA/封禁标记
type Extractor interface {
	// Platform 平台标识,与Task.Platform对应
	Platform() string
	// Extract 驱动页面完成任务并返回原始结果
	Extract(ctx context.Context, page *rod.Page, task *models.Task) (*Result, error)
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Extractor)
)

// Register 注册平台解析器,重复注册会覆盖
func Register(e Extractor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[e.Platform()] = e
}

// Lookup 按平台取解析器
func Lookup(platform string) (Extractor, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	e, ok := registry[platform]
	if !ok {
		return nil, fmt.Errorf("未注册的平台解析器: %s", platform)
	}
	return e, nil
}
