package utils

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestReadLinesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proxies.txt")
	content := "1.1.1.1:8080\n\n# 注释行\n  2.2.2.2:8080  \n#另一条注释\n3.3.3.3:8080\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	lines, err := ReadLinesFromFile(path)
	if err != nil {
		t.Fatalf("ReadLinesFromFile() error = %v", err)
	}

	want := []string{"1.1.1.1:8080", "2.2.2.2:8080", "3.3.3.3:8080"}
	if len(lines) != len(want) {
		t.Fatalf("行数 = %d, want %d: %v", len(lines), len(want), lines)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("lines[%d] = %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestReadLinesFromFileMissing(t *testing.T) {
	if _, err := ReadLinesFromFile("/nonexistent/path.txt"); err == nil {
		t.Error("不存在的文件应报错")
	}
}

func TestSleepWithStopInterrupted(t *testing.T) {
	stopped := func() bool { return true }

	start := time.Now()
	if !SleepWithStop(10*time.Second, stopped) {
		t.Error("stop置位时应返回true")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("被打断的休眠耗时 = %v, 应立即返回", elapsed)
	}
}

func TestSleepWithStopCompletes(t *testing.T) {
	stopped := func() bool { return false }

	start := time.Now()
	if SleepWithStop(50*time.Millisecond, stopped) {
		t.Error("未被打断的休眠应返回false")
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("休眠耗时 = %v, 应睡满时长", elapsed)
	}
}

func TestJitterDurationBounds(t *testing.T) {
	min, max := 10*time.Millisecond, 30*time.Millisecond
	for i := 0; i < 100; i++ {
		d := JitterDuration(min, max)
		if d < min || d >= max {
			t.Fatalf("JitterDuration() = %v, 超出[%v, %v)", d, min, max)
		}
	}

	if d := JitterDuration(max, min); d != max {
		t.Errorf("max<=min时应返回min: got %v, want %v", d, max)
	}
}
