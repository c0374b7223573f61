package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/RecoveryAshes/ListingHunter/internal/models"
)

func TestFetchTasks(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/crawl/tasks" {
			t.Errorf("请求路径 = %s, want /api/crawl/tasks", r.URL.Path)
		}
		if got := r.URL.Query().Get("limit"); got != "12" {
			t.Errorf("limit = %s, want 12", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Authorization = %s, want Bearer secret", got)
		}
		json.NewEncoder(w).Encode(FetchResponse{
			Tasks: []*models.Task{
				{ID: 1, UserID: 10, Platform: "mercari", URL: "https://example.com/1"},
				{ID: 2, UserID: 20, Platform: "mercari", URL: "https://example.com/2"},
			},
			ResultSubmitURL: "https://example.com/submit",
		})
	}))
	defer server.Close()

	c := NewClient(server.URL, "secret")
	resp, err := c.FetchTasks(context.Background(), 12)
	if err != nil {
		t.Fatalf("FetchTasks() error = %v", err)
	}
	if len(resp.Tasks) != 2 {
		t.Errorf("任务数 = %d, want 2", len(resp.Tasks))
	}
	if resp.ResultSubmitURL != "https://example.com/submit" {
		t.Errorf("ResultSubmitURL = %s", resp.ResultSubmitURL)
	}
}

func TestFetchTasksHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := NewClient(server.URL, "")
	if _, err := c.FetchTasks(context.Background(), 5); err == nil {
		t.Error("HTTP 500应返回错误")
	}
}

func TestSubmitResultStopToday(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("解析载荷失败: %v", err)
		}
		if payload["task_id"].(float64) != 7 {
			t.Errorf("task_id = %v, want 7", payload["task_id"])
		}
		if payload["outcome"].(string) != "success" {
			t.Errorf("outcome = %v, want success", payload["outcome"])
		}
		json.NewEncoder(w).Encode(submitResponse{StopToday: true})
	}))
	defer server.Close()

	c := NewClient("http://unused", "")
	stopToday, err := c.SubmitResult(context.Background(), server.URL, &models.TaskResult{
		Task:    &models.Task{ID: 7, UserID: 70},
		Outcome: models.OutcomeSuccess,
		Listings: []models.Listing{
			{ItemID: "m1", Title: "item", Price: 1200},
		},
	})
	if err != nil {
		t.Fatalf("SubmitResult() error = %v", err)
	}
	if !stopToday {
		t.Error("stopToday = false, want true")
	}
}
