package server

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
)

var startedAt = time.Now()

// systemStatus reports host load and server activity: useful for deciding
// whether to queue another generation job.
func systemStatus(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := gin.H{
			"uptime_seconds": int64(time.Since(startedAt).Seconds()),
			"goroutines":     runtime.NumGoroutine(),
			"active_streams": deps.Transcoder.ActiveCount(),
			"active_jobs":    len(deps.Orchestrator.Active()),
		}

		if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
			status["cpu_percent"] = percents[0]
		}
		if vm, err := mem.VirtualMemory(); err == nil {
			status["memory"] = gin.H{
				"total":        vm.Total,
				"used":         vm.Used,
				"used_percent": vm.UsedPercent,
			}
		}
		if du, err := disk.Usage("/"); err == nil {
			status["disk"] = gin.H{
				"total":        du.Total,
				"free":         du.Free,
				"used_percent": du.UsedPercent,
			}
		}

		c.JSON(http.StatusOK, status)
	}
}
