package utils

import (
	"bufio"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
)

// ReadLinesFromFile 读取文本文件的非空行,跳过#注释行
// 用于代理列表批量导入
func ReadLinesFromFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开文件失败: %w", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("读取文件失败: %w", err)
	}
	return lines, nil
}

// JitterDuration 取[min, max)内的随机抖动时长
// 用于打散各worker的请求节奏
func JitterDuration(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)))
}

// SleepWithStop 可中断休眠: 按短间隔分片休眠,每片检查stop
// 返回true表示休眠被stop打断
func SleepWithStop(d time.Duration, stopped func() bool) bool {
	const slice = time.Second
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if stopped() {
			return true
		}
		remain := time.Until(deadline)
		if remain > slice {
			remain = slice
		}
		time.Sleep(remain)
	}
	return stopped()
}

// NewProgressBar 创建进度条
func NewProgressBar(max int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(max,
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}
