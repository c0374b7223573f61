package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/RecoveryAshes/ListingHunter/internal/models"
)

// Client 远程任务服务器客户端
// 职责: 拉取任务批次、回传采集结果并接收"今日停采"信号
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient 创建任务服务器客户端
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// FetchResponse 拉取任务的响应
type FetchResponse struct {
	Tasks           []*models.Task `json:"tasks"`
	ResultSubmitURL string         `json:"result_submit_url"`
}

// FetchTasks 拉取最多limit个任务
func (c *Client) FetchTasks(ctx context.Context, limit int) (*FetchResponse, error) {
	url := c.baseURL + "/api/crawl/tasks?limit=" + strconv.Itoa(limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	c.auth(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("拉取任务失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("拉取任务失败: HTTP %d", resp.StatusCode)
	}

	var out FetchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("解析任务响应失败: %w", err)
	}
	return &out, nil
}

// submitPayload 结果回传载荷
type submitPayload struct {
	TaskID   int64            `json:"task_id"`
	UserID   int64            `json:"user_id"`
	Outcome  models.Outcome   `json:"outcome"`
	Message  string           `json:"message,omitempty"`
	Listings []models.Listing `json:"listings,omitempty"`
}

// submitResponse 结果回传响应,stop_today为true表示该用户今日停采
type submitResponse struct {
	StopToday bool `json:"stop_today"`
}

// SubmitResult 回传单个任务结果到submitURL
// 返回的布尔值表示服务端要求该任务归属用户今日停采
func (c *Client) SubmitResult(ctx context.Context, submitURL string, result *models.TaskResult) (bool, error) {
	payload := submitPayload{
		TaskID:   result.Task.ID,
		UserID:   result.Task.UserID,
		Outcome:  result.Outcome,
		Message:  result.Message,
		Listings: result.Listings,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, submitURL, bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.auth(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("回传结果失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("回传结果失败: HTTP %d", resp.StatusCode)
	}

	var out submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, fmt.Errorf("解析回传响应失败: %w", err)
	}
	return out.StopToday, nil
}

func (c *Client) auth(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}
