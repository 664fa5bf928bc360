// Package telemetry probes system resources, application counters and
// dependency liveness on a fixed period, feeding the sample store and the
// health endpoint.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	gopsnet "github.com/shirou/gopsutil/v4/net"
	"golang.org/x/sync/errgroup"

	"github.com/pulseboard/pulseboard-backend/internal/clock"
	"github.com/pulseboard/pulseboard-backend/internal/models"
	"github.com/pulseboard/pulseboard-backend/internal/repository"
	"github.com/pulseboard/pulseboard-backend/internal/store"
)

// AppStats supplies request counters computed by the HTTP middleware.
type AppStats interface {
	// RequestStats returns total requests, error responses and the average
	// response time in milliseconds since process start.
	RequestStats() (total, errors int64, avgMs float64)
}

// Probe checks one dependency's liveness.
type Probe interface {
	Name() string
	Check(ctx context.Context) models.HealthCheck
}

// Collector runs the periodic telemetry round and answers health queries.
type Collector struct {
	store    *store.Store
	db       repository.Pinger
	appStats AppStats
	probes   []Probe
	clk      clock.Clock
	logger   *slog.Logger
	diskPath string

	mu   sync.RWMutex
	last *models.SystemSnapshot
}

// New creates a collector. appStats may be nil when no middleware is wired.
func New(st *store.Store, db repository.Pinger, appStats AppStats, clk clock.Clock, logger *slog.Logger, probes ...Probe) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		store:    st,
		db:       db,
		appStats: appStats,
		probes:   probes,
		clk:      clk,
		logger:   logger,
		diskPath: "/",
	}
}

// SetDiskPath overrides the mount point probed for disk usage.
func (c *Collector) SetDiskPath(path string) {
	if path != "" {
		c.diskPath = path
	}
}

// Collect runs one telemetry round: probe the system concurrently, then
// append every numeric reading to the sample store.
func (c *Collector) Collect(ctx context.Context) error {
	snap, err := c.snapshot(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.last = snap
	c.mu.Unlock()

	readings := map[string]float64{
		"system_cpu_percent":          snap.CPUPercent,
		"system_memory_percent":       snap.MemPercent,
		"system_memory_used_bytes":    float64(snap.MemUsedBytes),
		"system_memory_avail_bytes":   float64(snap.MemAvailBytes),
		"system_disk_percent":         snap.DiskPercent,
		"system_disk_used_bytes":      float64(snap.DiskUsedBytes),
		"system_disk_free_bytes":      float64(snap.DiskFreeBytes),
		"system_net_bytes_sent":       float64(snap.NetBytesSent),
		"system_net_bytes_recv":       float64(snap.NetBytesRecv),
		"system_load1":                snap.Load1,
		"system_load5":                snap.Load5,
		"system_load15":               snap.Load15,
		"system_active_connections":   float64(snap.ActiveConns),
		"app_db_connections_open":     float64(c.db.Stats()),
	}
	if c.appStats != nil {
		total, errs, avgMs := c.appStats.RequestStats()
		readings["app_http_requests_total"] = float64(total)
		readings["app_http_errors_total"] = float64(errs)
		readings["app_http_avg_response_ms"] = avgMs
	}

	for name, value := range readings {
		if _, err := c.store.AppendByName(ctx, name, value, nil, snap.CollectedAt); err != nil {
			c.logger.Warn("telemetry append failed", "metric", name, "error", err)
		}
	}
	return nil
}

// snapshot fans the system probes out and assembles one reading.
func (c *Collector) snapshot(ctx context.Context) (*models.SystemSnapshot, error) {
	snap := &models.SystemSnapshot{CollectedAt: c.clk.Now()}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		pct, err := cpu.PercentWithContext(gctx, 0, false)
		if err != nil || len(pct) == 0 {
			return fmt.Errorf("cpu percent: %w", err)
		}
		snap.CPUPercent = pct[0]
		return nil
	})
	g.Go(func() error {
		vm, err := mem.VirtualMemoryWithContext(gctx)
		if err != nil {
			return fmt.Errorf("virtual memory: %w", err)
		}
		snap.MemPercent = vm.UsedPercent
		snap.MemUsedBytes = vm.Used
		snap.MemAvailBytes = vm.Available
		return nil
	})
	g.Go(func() error {
		du, err := disk.UsageWithContext(gctx, c.diskPath)
		if err != nil {
			return fmt.Errorf("disk usage: %w", err)
		}
		snap.DiskPercent = du.UsedPercent
		snap.DiskUsedBytes = du.Used
		snap.DiskFreeBytes = du.Free
		return nil
	})
	g.Go(func() error {
		counters, err := gopsnet.IOCountersWithContext(gctx, false)
		if err != nil || len(counters) == 0 {
			return fmt.Errorf("net io counters: %w", err)
		}
		snap.NetBytesSent = counters[0].BytesSent
		snap.NetBytesRecv = counters[0].BytesRecv
		return nil
	})
	g.Go(func() error {
		avg, err := load.AvgWithContext(gctx)
		if err != nil {
			// load averages are unavailable on some platforms; not fatal
			return nil
		}
		snap.Load1 = avg.Load1
		snap.Load5 = avg.Load5
		snap.Load15 = avg.Load15
		return nil
	})
	g.Go(func() error {
		conns, err := gopsnet.ConnectionsWithContext(gctx, "tcp")
		if err != nil {
			return nil // permission-dependent, skip silently
		}
		snap.ActiveConns = len(conns)
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return snap, nil
}

// LastSnapshot returns the most recent system reading, or nil before the
// first round.
func (c *Collector) LastSnapshot() *models.SystemSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}

// Health runs every dependency probe plus resource threshold checks and
// aggregates the worst status.
func (c *Collector) Health(ctx context.Context) *models.HealthReport {
	now := c.clk.Now()
	report := &models.HealthReport{Overall: models.HealthHealthy, Timestamp: now}

	for _, p := range c.probes {
		check := p.Check(ctx)
		check.CheckedAt = now
		report.Checks = append(report.Checks, check)
		report.Overall = report.Overall.Worse(check.Status)
	}

	if snap := c.LastSnapshot(); snap != nil {
		report.Checks = append(report.Checks, resourceCheck("cpu", snap.CPUPercent, now))
		report.Checks = append(report.Checks, resourceCheck("memory", snap.MemPercent, now))
		report.Checks = append(report.Checks, resourceCheck("disk", snap.DiskPercent, now))
		for _, ch := range report.Checks {
			report.Overall = report.Overall.Worse(ch.Status)
		}
	}
	return report
}

// resourceCheck grades a usage percentage: degraded above 80, unhealthy
// above 95.
func resourceCheck(name string, percent float64, now time.Time) models.HealthCheck {
	check := models.HealthCheck{
		Name:      name,
		Status:    models.HealthHealthy,
		Message:   fmt.Sprintf("%.1f%% used", percent),
		CheckedAt: now,
	}
	switch {
	case percent > 95:
		check.Status = models.HealthUnhealthy
	case percent > 80:
		check.Status = models.HealthDegraded
	}
	return check
}

// DBProbe checks database liveness through the repository's Ping.
type DBProbe struct {
	Pinger repository.Pinger
}

func (p DBProbe) Name() string { return "database" }

func (p DBProbe) Check(ctx context.Context) models.HealthCheck {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := p.Pinger.Ping(ctx); err != nil {
		return models.HealthCheck{Name: p.Name(), Status: models.HealthUnhealthy, Message: err.Error()}
	}
	return models.HealthCheck{Name: p.Name(), Status: models.HealthHealthy, Message: "reachable"}
}

// BuiltinMetrics are the metric definitions the collector writes, seeded at
// startup.
func BuiltinMetrics() []*models.Metric {
	gauge := func(name, unit, desc string) *models.Metric {
		return &models.Metric{Name: name, Kind: models.MetricGauge, Unit: unit, Description: desc, Category: "system"}
	}
	counter := func(name, unit, desc string) *models.Metric {
		return &models.Metric{Name: name, Kind: models.MetricCounter, Unit: unit, Description: desc, Category: "system"}
	}
	return []*models.Metric{
		gauge("system_cpu_percent", "percent", "CPU utilization"),
		gauge("system_memory_percent", "percent", "Memory utilization"),
		gauge("system_memory_used_bytes", "bytes", "Memory in use"),
		gauge("system_memory_avail_bytes", "bytes", "Memory available"),
		gauge("system_disk_percent", "percent", "Disk utilization"),
		gauge("system_disk_used_bytes", "bytes", "Disk space in use"),
		gauge("system_disk_free_bytes", "bytes", "Disk space free"),
		counter("system_net_bytes_sent", "bytes", "Network bytes sent"),
		counter("system_net_bytes_recv", "bytes", "Network bytes received"),
		gauge("system_load1", "load", "1-minute load average"),
		gauge("system_load5", "load", "5-minute load average"),
		gauge("system_load15", "load", "15-minute load average"),
		gauge("system_active_connections", "connections", "Open TCP connections"),
		gauge("app_db_connections_open", "connections", "Open database connections"),
		counter("app_http_requests_total", "requests", "HTTP requests served"),
		counter("app_http_errors_total", "requests", "HTTP error responses"),
		gauge("app_http_avg_response_ms", "milliseconds", "Average HTTP response time"),
	}
}
