package analytics

import (
	"time"

	"github.com/good-yellow-bee/toolwatch/internal/models"
)

// BuildSnapshot aggregates executions whose timestamp falls in [start, end].
// A zero start or end leaves that side of the period open.
func BuildSnapshot(execs []*models.Execution, start, end time.Time) *models.MetricsSnapshot {
	snap := models.NewMetricsSnapshot(start, end)
	durations := make(map[*models.GroupMetrics]int64)

	for _, e := range execs {
		if !start.IsZero() && e.Timestamp.Before(start) {
			continue
		}
		if !end.IsZero() && e.Timestamp.After(end) {
			continue
		}

		tool := snap.ByTool[e.Tool]
		if tool == nil {
			tool = &models.GroupMetrics{}
			snap.ByTool[e.Tool] = tool
		}
		project := snap.ByProject[e.Project]
		if project == nil {
			project = &models.GroupMetrics{}
			snap.ByProject[e.Project] = project
		}

		for _, g := range []*models.GroupMetrics{&snap.GroupMetrics, tool, project} {
			add(g, e)
			durations[g] += e.DurationMs
		}
	}

	for g, total := range durations {
		finish(g, total)
	}
	return snap
}

func add(g *models.GroupMetrics, e *models.Execution) {
	g.Total++
	switch e.Status {
	case models.StatusSuccess:
		g.Successes++
	case models.StatusFailure:
		g.Failures++
	case models.StatusTimeout:
		g.Timeouts++
	case models.StatusCancelled:
		g.Cancelled++
	}
}

func finish(g *models.GroupMetrics, totalDuration int64) {
	if g.Total == 0 {
		g.SuccessRate = 1.0
		return
	}
	g.SuccessRate = float64(g.Successes) / float64(g.Total)
	g.AverageDurationMs = float64(totalDuration) / float64(g.Total)
}
