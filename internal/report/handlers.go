package report

import (
	"context"
	"fmt"
	"time"

	"github.com/pulseboard/pulseboard-backend/internal/aggregate"
	"github.com/pulseboard/pulseboard-backend/internal/apperr"
	"github.com/pulseboard/pulseboard-backend/internal/models"
	"github.com/pulseboard/pulseboard-backend/internal/registry"
)

// RegisterBuiltinHandlers wires the standard report types against the
// aggregation engine.
func RegisterBuiltinHandlers(e *Engine, agg *aggregate.Engine, reg *registry.Registry) {
	e.RegisterHandler("activity_summary", ActivitySummaryHandler(agg, reg))
	e.RegisterHandler("metric_summary", MetricSummaryHandler(agg, reg))
	e.RegisterHandler("system_usage", SystemUsageHandler(agg, reg))
}

// ActivitySummaryHandler totals the built-in activity counters over the
// window and lists the busiest pages and users.
func ActivitySummaryHandler(agg *aggregate.Engine, reg *registry.Registry) Handler {
	return func(ctx context.Context, r *models.Report, from, to time.Time) (*models.ReportArtifact, error) {
		window := to.Sub(from)
		artifact := &models.ReportArtifact{Summary: map[string]float64{}}

		for _, name := range []string{"page_views", "user_logins", "user_signups", "api_errors"} {
			m, err := reg.GetByName(ctx, name)
			if err != nil {
				continue // metric not seeded, skip the line
			}
			// counter series are cumulative; the window total is the rate
			// scaled back to the window
			buckets, err := agg.Series(ctx, m.ID, nil, window, 0, models.AggRate)
			if err != nil {
				return nil, err
			}
			var total float64
			if len(buckets) > 0 {
				total = buckets[0].Value * window.Seconds()
			}
			artifact.Summary[name] = total
		}

		if m, err := reg.GetByName(ctx, "page_views"); err == nil {
			rows, err := agg.TopK(ctx, m.ID, "page", 10, window)
			if err != nil {
				return nil, err
			}
			artifact.Sections = append(artifact.Sections, models.ReportSection{Title: "Top pages", Rows: rows})
		}
		if m, err := reg.GetByName(ctx, "user_logins"); err == nil {
			rows, err := agg.TopK(ctx, m.ID, "user_id", 10, window)
			if err != nil {
				return nil, err
			}
			artifact.Sections = append(artifact.Sections, models.ReportSection{Title: "Most active users", Rows: rows})
		}

		if artifact.Summary["api_errors"] > 0 && artifact.Summary["page_views"] > 0 {
			ratio := artifact.Summary["api_errors"] / artifact.Summary["page_views"] * 100
			artifact.Insights = append(artifact.Insights,
				fmt.Sprintf("API error rate over the period: %.2f%% of page views", ratio))
		}
		return artifact, nil
	}
}

// MetricSummaryHandler folds one metric named in parameters["metric"] into
// summary statistics plus an hourly series.
func MetricSummaryHandler(agg *aggregate.Engine, reg *registry.Registry) Handler {
	return func(ctx context.Context, r *models.Report, from, to time.Time) (*models.ReportArtifact, error) {
		name := r.Parameters["metric"]
		if name == "" {
			return nil, apperr.Invalid("parameters.metric", "must name a registered metric")
		}
		m, err := reg.GetByName(ctx, name)
		if err != nil {
			if apperr.KindOf(err) == apperr.KindNotFound {
				return nil, apperr.UnknownMetric(name)
			}
			return nil, err
		}
		window := to.Sub(from)

		artifact := &models.ReportArtifact{Summary: map[string]float64{}}
		for _, a := range []models.Aggregation{models.AggSum, models.AggAvg, models.AggMin, models.AggMax} {
			buckets, err := agg.Series(ctx, m.ID, nil, window, 0, a)
			if err != nil {
				return nil, err
			}
			if len(buckets) > 0 {
				artifact.Summary[string(a)] = buckets[0].Value
			}
		}
		series, err := agg.Series(ctx, m.ID, nil, window, time.Hour, models.AggAvg)
		if err != nil {
			return nil, err
		}
		artifact.Sections = append(artifact.Sections, models.ReportSection{
			Title:  fmt.Sprintf("%s (hourly)", m.Name),
			Series: series,
		})
		if groupBy := r.Parameters["group_by"]; groupBy != "" {
			rows, err := agg.TopK(ctx, m.ID, groupBy, 10, window)
			if err != nil {
				return nil, err
			}
			artifact.Sections = append(artifact.Sections, models.ReportSection{
				Title: fmt.Sprintf("Top %s", groupBy),
				Rows:  rows,
			})
		}
		return artifact, nil
	}
}

// SystemUsageHandler summarizes the telemetry gauges collected over the
// window.
func SystemUsageHandler(agg *aggregate.Engine, reg *registry.Registry) Handler {
	return func(ctx context.Context, r *models.Report, from, to time.Time) (*models.ReportArtifact, error) {
		window := to.Sub(from)
		artifact := &models.ReportArtifact{Summary: map[string]float64{}}
		for _, name := range []string{"system_cpu_percent", "system_memory_percent", "system_disk_percent"} {
			m, err := reg.GetByName(ctx, name)
			if err != nil {
				continue
			}
			for _, a := range []models.Aggregation{models.AggAvg, models.AggMax} {
				buckets, err := agg.Series(ctx, m.ID, nil, window, 0, a)
				if err != nil {
					return nil, err
				}
				if len(buckets) > 0 {
					artifact.Summary[name+"_"+string(a)] = buckets[0].Value
				}
			}
			series, err := agg.Series(ctx, m.ID, nil, window, time.Hour, models.AggAvg)
			if err != nil {
				return nil, err
			}
			artifact.Sections = append(artifact.Sections, models.ReportSection{Title: name, Series: series})
		}
		return artifact, nil
	}
}
