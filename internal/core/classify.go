package core

import (
	"strings"

	"github.com/RecoveryAshes/ListingHunter/internal/extract"
	"github.com/RecoveryAshes/ListingHunter/internal/models"
)

// networkErrorKeywords 技术性失败的关键字集合
// 命中任意一个即判定为OutcomeError并触发会话重启
var networkErrorKeywords = []string{
	"econnrefused",
	"econnreset",
	"etimedout",
	"connection refused",
	"connection reset",
	"timeout",
	"timed out",
	"context deadline exceeded",
	"protocol error",
	"session closed",
	"target closed",
	"websocket",
	"net::err",
	"network error",
	"no such host",
	"broken pipe",
}

// deadProcessKeywords 远程浏览器进程已死的典型特征
var deadProcessKeywords = []string{
	"session closed",
	"target closed",
	"browser has been closed",
	"websocket: close",
	"浏览器进程已退出",
}

// IsNetworkError 错误文本是否属于已知的技术性网络错误
func IsNetworkError(msg string) bool {
	lower := strings.ToLower(msg)
	for _, kw := range networkErrorKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// IsDeadProcessError 错误文本是否指向远程浏览器进程已死
func IsDeadProcessError(msg string) bool {
	lower := strings.ToLower(msg)
	for _, kw := range deadProcessKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// Classify 把原始解析结果分类为success/warning/error,纯函数
//   - 解析成功且至少1条记录 -> success
//   - 解析成功但0条记录     -> warning (正常业务结果,直接下一个任务)
//   - 失败且命中技术关键字  -> error   (唯一会触发会话重启的类别)
//   - 失败但属于业务原因    -> warning (如"不符合条件"、"无在售商品")
//
// 返回值附带用于状态上报的消息文本
func Classify(res *extract.Result) (models.Outcome, string) {
	if res.Success {
		if len(res.Records) > 0 {
			return models.OutcomeSuccess, ""
		}
		return models.OutcomeWarning, "0条记录"
	}
	if IsNetworkError(res.ErrorText) {
		return models.OutcomeError, res.ErrorText
	}
	return models.OutcomeWarning, res.ErrorText
}
