package core

import (
	"runtime"

	"github.com/RecoveryAshes/ListingHunter/internal/utils"
	"github.com/shirou/gopsutil/v3/mem"
)

// MaxSessionsByResources 按系统资源计算允许同时运行的会话上限
// 远程浏览器本身跑在别处,这里约束的是本机为每个会话维持的
// 控制协议连接与页面缓冲的开销
// 取三者最小值: 内存余量可支撑数、CPU核数×2、配置的绝对上限
func MaxSessionsByResources(cfg ResourceConfig) int {
	byMemory := 1
	if vmStat, err := mem.VirtualMemory(); err != nil {
		utils.Warnf("获取系统内存失败,按最保守值计算: %v", err)
	} else {
		available := int64(vmStat.Available) - cfg.SafetyReserveMemory
		if available > 0 && cfg.SessionMemoryUsage > 0 {
			byMemory = int(available / cfg.SessionMemoryUsage)
		}
		utils.Infof("系统内存: 总量=%.2fGB 可用=%.2fGB",
			float64(vmStat.Total)/(1024*1024*1024),
			float64(vmStat.Available)/(1024*1024*1024))
	}
	if byMemory < 1 {
		byMemory = 1
	}

	byCPU := runtime.NumCPU() * 2

	result := byMemory
	if byCPU < result {
		result = byCPU
	}
	if cfg.MaxSessionsLimit > 0 && cfg.MaxSessionsLimit < result {
		result = cfg.MaxSessionsLimit
	}
	if result < 1 {
		result = 1
	}
	return result
}
