package api

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/annel0/world-templates/internal/template"
	"github.com/annel0/world-templates/internal/worldfs"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/process"
)

// ServerMetrics содержит метрики процесса для /api/server
type ServerMetrics struct {
	StartTime time.Time
	store     *template.Store
}

// NewServerMetrics создает новый экземпляр метрик
func NewServerMetrics(store *template.Store) *ServerMetrics {
	return &ServerMetrics{
		StartTime: time.Now(),
		store:     store,
	}
}

// GetUptime возвращает время работы сервера
func (sm *ServerMetrics) GetUptime() string {
	uptime := time.Since(sm.StartTime)

	days := int(uptime.Hours()) / 24
	hours := int(uptime.Hours()) % 24
	minutes := int(uptime.Minutes()) % 60
	seconds := int(uptime.Seconds()) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dд %dч %dм %dс", days, hours, minutes, seconds)
	case hours > 0:
		return fmt.Sprintf("%dч %dм %dс", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dм %dс", minutes, seconds)
	default:
		return fmt.Sprintf("%dс", seconds)
	}
}

// GetCPUUsage возвращает использование CPU процессом в процентах
func (sm *ServerMetrics) GetCPUUsage() (float64, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0, err
	}

	cpuPercent, err := proc.CPUPercent()
	if err != nil {
		// Если не удалось получить метрику процесса, берём системную
		cpuPercents, err := cpu.Percent(100*time.Millisecond, false)
		if err != nil || len(cpuPercents) == 0 {
			return 0, err
		}
		return cpuPercents[0], nil
	}
	return cpuPercent, nil
}

// GetTemplateDiskFree возвращает свободное место на разделе корня шаблонов
func (sm *ServerMetrics) GetTemplateDiskFree() (uint64, error) {
	root := sm.store.Root()
	if root == "" {
		return 0, template.ErrTemplateRootUnset
	}
	return worldfs.FreeSpace(root)
}

// Snapshot собирает сводку для ответа API
func (sm *ServerMetrics) Snapshot() map[string]interface{} {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	out := map[string]interface{}{
		"uptime":        sm.GetUptime(),
		"goroutines":    runtime.NumGoroutine(),
		"alloc_mb":      float64(m.Alloc) / 1024 / 1024,
		"sys_mb":        float64(m.Sys) / 1024 / 1024,
		"num_gc":        m.NumGC,
		"template_root": sm.store.Root(),
	}
	if cpuPct, err := sm.GetCPUUsage(); err == nil {
		out["cpu_percent"] = cpuPct
	}
	if free, err := sm.GetTemplateDiskFree(); err == nil {
		out["template_disk_free_bytes"] = free
	}
	return out
}
