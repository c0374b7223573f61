package extract

import (
	"context"
	"fmt"
	"time"

	"github.com/RecoveryAshes/ListingHunter/internal/models"
	"github.com/RecoveryAshes/ListingHunter/internal/utils"
	"github.com/go-rod/rod"
)

// GenericExtractor 通用列表页解析器
// 按约定的DOM结构提取商品卡片,适用于没有专用解析器的平台;
// 通过页面内脚本一次性取回全部卡片,避免多次往返
type GenericExtractor struct {
	platform string
	// NavTimeout 导航与加载超时
	NavTimeout time.Duration
	// SettleTime 页面加载后等待动态内容的时间
	SettleTime time.Duration
}

// NewGenericExtractor 创建通用解析器
func NewGenericExtractor(platform string) *GenericExtractor {
	return &GenericExtractor{
		platform:   platform,
		NavTimeout: 60 * time.Second,
		SettleTime: 3 * time.Second,
	}
}

// Platform 平台标识
func (g *GenericExtractor) Platform() string {
	return g.platform
}

// captchaMarkers 常见CAPTCHA/封禁页面标记
var captchaMarkers = []string{
	"captcha",
	"recaptcha",
	"cf-challenge",
	"access denied",
	"verify you are human",
	"アクセスが集中",
}

// Extract 导航到任务URL并提取商品卡片
func (g *GenericExtractor) Extract(ctx context.Context, page *rod.Page, task *models.Task) (*Result, error) {
	p := page.Context(ctx).Timeout(g.NavTimeout)

	if err := p.Navigate(task.URL); err != nil {
		return &Result{Success: false, ErrorText: fmt.Sprintf("导航失败: %v", err)}, nil
	}
	if err := p.WaitLoad(); err != nil {
		return &Result{Success: false, ErrorText: fmt.Sprintf("等待页面加载失败: %v", err)}, nil
	}
	time.Sleep(g.SettleTime)

	// CAPTCHA/封禁检测
	hit, err := g.detectCaptcha(p)
	if err != nil {
		return &Result{Success: false, ErrorText: fmt.Sprintf("封禁检测失败: %v", err)}, nil
	}
	if hit {
		utils.Warnf("检测到CAPTCHA/封禁页面: task=%d url=%s", task.ID, task.URL)
		return &Result{Success: false, CaptchaDetected: true, ErrorText: "captcha detected"}, nil
	}

	records, err := g.collectListings(p)
	if err != nil {
		return &Result{Success: false, ErrorText: fmt.Sprintf("提取记录失败: %v", err)}, nil
	}

	// 价格区间过滤
	filtered := make([]models.Listing, 0, len(records))
	for _, r := range records {
		if task.PriceMin > 0 && r.Price < task.PriceMin {
			continue
		}
		if task.PriceMax > 0 && r.Price > task.PriceMax {
			continue
		}
		if r.Sold && !task.WithSold {
			continue
		}
		if r.Reserved && !task.WithReserved {
			continue
		}
		filtered = append(filtered, r)
	}

	return &Result{Success: true, Records: filtered, ServerAck: true}, nil
}

// detectCaptcha 检查页面文本是否命中封禁标记
func (g *GenericExtractor) detectCaptcha(page *rod.Page) (bool, error) {
	res, err := page.Evaluate(&rod.EvalOptions{
		JS: `() => (document.title + ' ' + document.body.innerText.slice(0, 2000)).toLowerCase()`,
	})
	if err != nil {
		return false, err
	}
	text := res.Value.Str()
	for _, marker := range captchaMarkers {
		if containsFold(text, marker) {
			return true, nil
		}
	}
	return false, nil
}

// collectListings 在页面内一次性收集全部商品卡片
func (g *GenericExtractor) collectListings(page *rod.Page) ([]models.Listing, error) {
	res, err := page.Evaluate(&rod.EvalOptions{
		JS: `() => {
			const cards = document.querySelectorAll('[data-item-id], .item-cell, .items-box');
			const out = [];
			for (const card of cards) {
				const link = card.querySelector('a[href]');
				const title = card.querySelector('.item-name, .items-box-name, h3');
				const price = card.querySelector('.item-price, .items-box-price, .price');
				const sold = card.querySelector('.item-sold-out-badge, .sold-out') !== null;
				out.push({
					item_id: card.getAttribute('data-item-id') || '',
					title: title ? title.textContent.trim() : '',
					price: price ? parseInt(price.textContent.replace(/[^0-9]/g, ''), 10) || 0 : 0,
					url: link ? link.href : '',
					sold: sold,
					reserved: false,
				});
			}
			return JSON.stringify(out);
		}`,
	})
	if err != nil {
		return nil, err
	}

	var listings []models.Listing
	if err := unmarshalListings(res.Value.Str(), &listings); err != nil {
		return nil, fmt.Errorf("解析卡片JSON失败: %w", err)
	}
	return listings, nil
}
