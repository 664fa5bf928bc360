// Package exposition publishes every registered domain metric on the
// Prometheus scrape endpoint. Counters emit the cumulative series value,
// gauges the current reading; HELP and TYPE come from the metric registry.
package exposition

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pulseboard/pulseboard-backend/internal/clock"
	"github.com/pulseboard/pulseboard-backend/internal/models"
	"github.com/pulseboard/pulseboard-backend/internal/registry"
	"github.com/pulseboard/pulseboard-backend/internal/repository"
)

// lookback bounds the scan for each metric's live series. Series idle longer
// than this fall off the scrape.
const lookback = 24 * time.Hour

// Collector implements prometheus.Collector over the sample store.
type Collector struct {
	reg     *registry.Registry
	samples repository.SampleRepo
	clk     clock.Clock
	logger  *slog.Logger
}

// New creates the domain exposition collector.
func New(reg *registry.Registry, samples repository.SampleRepo, clk clock.Clock, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{reg: reg, samples: samples, clk: clk, logger: logger}
}

// Describe sends nothing: the metric set is dynamic, so this is an unchecked
// collector.
func (c *Collector) Describe(chan<- *prometheus.Desc) {}

// Collect emits the newest value of every live series of every registered
// metric.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	defs, err := c.reg.List(ctx, models.MetricFilter{})
	if err != nil {
		c.logger.Warn("exposition: registry list failed", "error", err)
		return
	}
	now := c.clk.Now()
	for _, m := range defs {
		rows, err := c.samples.ListRange(ctx, m.ID, now.Add(-lookback), now.Add(time.Second))
		if err != nil {
			c.logger.Warn("exposition: sample scan failed", "metric", m.Name, "error", err)
			continue
		}
		latest := make(map[uint64]*models.Sample)
		for _, r := range rows {
			h := r.LabelsHash
			if h == 0 && len(r.Labels) > 0 {
				h = models.HashLabels(r.Labels)
			}
			latest[h] = r // rows are ordered oldest first
		}
		if len(latest) == 0 {
			continue
		}

		valueType := prometheus.GaugeValue
		if m.Kind == models.MetricCounter {
			valueType = prometheus.CounterValue
		}
		for _, s := range latest {
			keys := make([]string, 0, len(s.Labels))
			for k := range s.Labels {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			values := make([]string, len(keys))
			for i, k := range keys {
				values[i] = s.Labels[k]
			}
			desc := prometheus.NewDesc(m.Name, m.Description, keys, nil)
			metric, err := prometheus.NewConstMetric(desc, valueType, s.Value, values...)
			if err != nil {
				c.logger.Warn("exposition: const metric failed", "metric", m.Name, "error", err)
				continue
			}
			ch <- metric
		}
	}
}
