package pool

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/RecoveryAshes/ListingHunter/internal/models"
	xproxy "golang.org/x/net/proxy"
)

// Prober 代理直连探测器
// 不经过浏览器会话,直接通过代理发起一次探测请求,
// 用于导入时筛查和`proxy check`命令
type Prober struct {
	// TestURL 探测目标,应返回204或200且响应极小
	TestURL string
	// Timeout 单次探测超时
	Timeout time.Duration
}

// NewProber 创建探测器
func NewProber(testURL string, timeout time.Duration) *Prober {
	if testURL == "" {
		testURL = "http://www.gstatic.com/generate_204"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Prober{TestURL: testURL, Timeout: timeout}
}

// Check 探测单个代理是否可用
func (pr *Prober) Check(ctx context.Context, p *models.Proxy) error {
	switch p.Protocol {
	case "socks5":
		return pr.checkSOCKS5(ctx, p)
	default:
		return pr.checkHTTP(ctx, p)
	}
}

// checkHTTP 通过HTTP代理发起探测请求
func (pr *Prober) checkHTTP(ctx context.Context, p *models.Proxy) error {
	proxyURL, err := url.Parse(p.URL())
	if err != nil {
		return fmt.Errorf("代理URL无效: %w", err)
	}
	client := &http.Client{
		Timeout: pr.Timeout,
		Transport: &http.Transport{
			Proxy: http.ProxyURL(proxyURL),
		},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pr.TestURL, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("代理探测失败: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("代理探测返回HTTP %d", resp.StatusCode)
	}
	return nil
}

// checkSOCKS5 通过SOCKS5代理建立TCP连接探测
func (pr *Prober) checkSOCKS5(ctx context.Context, p *models.Proxy) error {
	var auth *xproxy.Auth
	if p.Username != "" {
		auth = &xproxy.Auth{User: p.Username, Password: p.Password}
	}
	dialer, err := xproxy.SOCKS5("tcp", p.Address, auth, &net.Dialer{Timeout: pr.Timeout})
	if err != nil {
		return fmt.Errorf("创建SOCKS5拨号器失败: %w", err)
	}

	target, err := url.Parse(pr.TestURL)
	if err != nil {
		return err
	}
	host := target.Host
	if target.Port() == "" {
		if target.Scheme == "https" {
			host += ":443"
		} else {
			host += ":80"
		}
	}

	conn, err := dialViaContext(ctx, dialer, "tcp", host)
	if err != nil {
		return fmt.Errorf("SOCKS5连接失败: %w", err)
	}
	conn.Close()
	return nil
}

// dialViaContext 兼容不支持DialContext的拨号器
func dialViaContext(ctx context.Context, d xproxy.Dialer, network, addr string) (net.Conn, error) {
	if cd, ok := d.(xproxy.ContextDialer); ok {
		return cd.DialContext(ctx, network, addr)
	}
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := d.Dial(network, addr)
		ch <- result{conn, err}
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		return r.conn, r.err
	}
}
