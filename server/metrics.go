package server

import (
	"expvar"
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// SystemCollector periodically publishes CPU, memory and disk usage of the
// chronicle's volume through expvar.
type SystemCollector struct {
	cpuUsagePercent *expvar.Float
	memUsagePercent *expvar.Float
	diskUsage       *expvar.Float
	diskFree        *expvar.Int
	diskPath        string
	interval        time.Duration
	stopChan        chan struct{}
	stopOnce        sync.Once
	wg              sync.WaitGroup
	logger          *slog.Logger
}

// NewSystemCollector creates a collector for the volume holding diskPath.
func NewSystemCollector(diskPath string, interval time.Duration, logger *slog.Logger) *SystemCollector {
	if interval < 2*time.Second {
		interval = 2 * time.Second
	}
	return &SystemCollector{
		cpuUsagePercent: publishFloat("system_cpu_usage_percent"),
		memUsagePercent: publishFloat("system_mem_usage_percent"),
		diskUsage:       publishFloat("system_disk_usage_percent"),
		diskFree:        publishInt("system_disk_free_bytes"),
		diskPath:        diskPath,
		interval:        interval,
		stopChan:        make(chan struct{}),
		logger:          logger.With("component", "SystemCollector"),
	}
}

func publishFloat(name string) *expvar.Float {
	if v, ok := expvar.Get(name).(*expvar.Float); ok {
		return v
	}
	return expvar.NewFloat(name)
}

func publishInt(name string) *expvar.Int {
	if v, ok := expvar.Get(name).(*expvar.Int); ok {
		return v
	}
	return expvar.NewInt(name)
}

// Start begins the background collection loop.
func (sc *SystemCollector) Start() {
	sc.logger.Debug("Starting system metrics collector.", "interval", sc.interval)
	sc.collect(0)
	sc.wg.Add(1)
	go sc.collectLoop()
}

// Stop terminates the loop and waits for it.
func (sc *SystemCollector) Stop() {
	sc.stopOnce.Do(func() { close(sc.stopChan) })
	sc.wg.Wait()
}

func (sc *SystemCollector) collect(cpuWindow time.Duration) {
	if cpuWindow > 0 {
		if pct, err := cpu.Percent(cpuWindow, false); err == nil && len(pct) > 0 {
			sc.cpuUsagePercent.Set(pct[0])
		}
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		sc.memUsagePercent.Set(vm.UsedPercent)
	}
	if du, err := disk.Usage(sc.diskPath); err == nil {
		sc.diskUsage.Set(du.UsedPercent)
		sc.diskFree.Set(int64(du.Free))
	}
}

func (sc *SystemCollector) collectLoop() {
	defer sc.wg.Done()
	ticker := time.NewTicker(sc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// Sample CPU over most of the tick so the next one is not delayed.
			sc.collect(sc.interval - time.Second)
		case <-sc.stopChan:
			return
		}
	}
}

// DiskUsage reports the volume holding path.
func DiskUsage(path string) (*disk.UsageStat, error) {
	return disk.Usage(path)
}
