package provision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// LocalAPIProvider 本地指纹浏览器控制面的HTTP适配器
// 控制面在本机暴露一个HTTP API(默认 http://127.0.0.1:50325),
// 统一返回 {code, msg, data} 信封,code非0即失败
type LocalAPIProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewLocalAPIProvider 创建本地API适配器
func NewLocalAPIProvider(baseURL, apiKey string) *LocalAPIProvider {
	if baseURL == "" {
		baseURL = "http://127.0.0.1:50325"
	}
	return &LocalAPIProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

// envelope 控制面统一响应信封
type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// proxyConfig 身份的代理配置段
type proxyConfig struct {
	ProxyType     string `json:"proxy_type"`
	ProxyHost     string `json:"proxy_host"`
	ProxyPort     string `json:"proxy_port"`
	ProxyUser     string `json:"proxy_user,omitempty"`
	ProxyPassword string `json:"proxy_password,omitempty"`
}

func buildProxyConfig(cfg ProfileConfig) *proxyConfig {
	if cfg.Proxy == nil {
		return nil
	}
	host, port := cfg.Proxy.Address, ""
	if i := strings.LastIndex(cfg.Proxy.Address, ":"); i > 0 {
		host, port = cfg.Proxy.Address[:i], cfg.Proxy.Address[i+1:]
	}
	proxyType := cfg.Proxy.Protocol
	if proxyType == "" {
		proxyType = "http"
	}
	return &proxyConfig{
		ProxyType:     proxyType,
		ProxyHost:     host,
		ProxyPort:     port,
		ProxyUser:     cfg.Proxy.Username,
		ProxyPassword: cfg.Proxy.Password,
	}
}

// post 发起POST请求并解包信封
func (p *LocalAPIProvider) post(ctx context.Context, path string, payload interface{}) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	return p.do(req)
}

// get 发起GET请求并解包信封
func (p *LocalAPIProvider) get(ctx context.Context, path string, query url.Values) (json.RawMessage, error) {
	u := p.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	return p.do(req)
}

func (p *LocalAPIProvider) do(req *http.Request) (json.RawMessage, error) {
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("控制面请求失败: %w", err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("解析控制面响应失败: %w", err)
	}
	if env.Code != 0 {
		return nil, fmt.Errorf("控制面返回错误: code=%d msg=%s", env.Code, env.Msg)
	}
	return env.Data, nil
}

// CreateProfile 创建身份
func (p *LocalAPIProvider) CreateProfile(ctx context.Context, cfg ProfileConfig) (string, error) {
	payload := map[string]interface{}{
		"name": cfg.Name,
	}
	if pc := buildProxyConfig(cfg); pc != nil {
		payload["user_proxy_config"] = pc
	}
	if cfg.Tabs > 0 {
		payload["open_tabs"] = cfg.Tabs
	}

	data, err := p.post(ctx, "/api/v1/user/create", payload)
	if err != nil {
		return "", err
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("解析身份ID失败: %w", err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("控制面未返回身份ID")
	}
	return out.ID, nil
}

// UpdateProfile 更新身份配置
func (p *LocalAPIProvider) UpdateProfile(ctx context.Context, id string, cfg ProfileConfig) error {
	payload := map[string]interface{}{
		"user_id": id,
	}
	if cfg.Name != "" {
		payload["name"] = cfg.Name
	}
	if pc := buildProxyConfig(cfg); pc != nil {
		payload["user_proxy_config"] = pc
	}
	if cfg.Tabs > 0 {
		payload["open_tabs"] = cfg.Tabs
	}
	_, err := p.post(ctx, "/api/v1/user/update", payload)
	return err
}

// DeleteProfile 删除身份
func (p *LocalAPIProvider) DeleteProfile(ctx context.Context, id string) error {
	_, err := p.post(ctx, "/api/v1/user/delete", map[string]interface{}{
		"user_ids": []string{id},
	})
	return err
}

// StartBrowser 启动浏览器,返回DevTools控制端点
func (p *LocalAPIProvider) StartBrowser(ctx context.Context, id string) (*StartResult, error) {
	data, err := p.get(ctx, "/api/v1/browser/start", url.Values{"user_id": {id}})
	if err != nil {
		return nil, err
	}
	var out struct {
		WS struct {
			Puppeteer string `json:"puppeteer"`
		} `json:"ws"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("解析启动响应失败: %w", err)
	}
	if out.WS.Puppeteer == "" {
		return nil, fmt.Errorf("控制面未返回控制端点")
	}
	return &StartResult{ControlURL: out.WS.Puppeteer}, nil
}

// StopBrowser 停止浏览器
func (p *LocalAPIProvider) StopBrowser(ctx context.Context, id string) error {
	_, err := p.get(ctx, "/api/v1/browser/stop", url.Values{"user_id": {id}})
	return err
}
