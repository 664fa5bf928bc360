package models

import "time"

// HealthStatus grades a single probe or the whole process.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// Worse returns the worse of two statuses (unhealthy > degraded > healthy).
func (s HealthStatus) Worse(other HealthStatus) HealthStatus {
	rank := map[HealthStatus]int{HealthHealthy: 0, HealthDegraded: 1, HealthUnhealthy: 2}
	if rank[other] > rank[s] {
		return other
	}
	return s
}

// HealthCheck is the outcome of one dependency or resource probe.
type HealthCheck struct {
	Name      string       `json:"name"`
	Status    HealthStatus `json:"status"`
	Message   string       `json:"message,omitempty"`
	CheckedAt time.Time    `json:"checked_at"`
}

// HealthReport is the aggregate served at /health. Overall is the worst of
// its checks.
type HealthReport struct {
	Overall   HealthStatus  `json:"overall"`
	Checks    []HealthCheck `json:"checks"`
	Timestamp time.Time     `json:"timestamp"`
}

// SystemSnapshot bundles one round of system resource readings.
type SystemSnapshot struct {
	CPUPercent    float64   `json:"cpu_percent"`
	MemPercent    float64   `json:"mem_percent"`
	MemUsedBytes  uint64    `json:"mem_used_bytes"`
	MemAvailBytes uint64    `json:"mem_avail_bytes"`
	DiskPercent   float64   `json:"disk_percent"`
	DiskUsedBytes uint64    `json:"disk_used_bytes"`
	DiskFreeBytes uint64    `json:"disk_free_bytes"`
	NetBytesSent  uint64    `json:"net_bytes_sent"`
	NetBytesRecv  uint64    `json:"net_bytes_recv"`
	Load1         float64   `json:"load1"`
	Load5         float64   `json:"load5"`
	Load15        float64   `json:"load15"`
	ActiveConns   int       `json:"active_connections"`
	CollectedAt   time.Time `json:"collected_at"`
}
