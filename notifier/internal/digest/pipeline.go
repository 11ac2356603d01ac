package digest

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"issue-notifications/notifier/internal/issuechange"
	"issue-notifications/notifier/internal/notifications"
	"issue-notifications/notifier/internal/stats"
	"issue-notifications/shared/influxx"
	"issue-notifications/shared/logx"
	"issue-notifications/shared/metricsx"
)

const (
	MeasurementNewIssues    = "new_issues"
	MeasurementNewIssuesTop = "new_issues_top"

	minShardSize = 500
)

var tracer = otel.Tracer("issue-notifications/notifier/digest")

type Router interface {
	DispatchNewIssues(ctx context.Context, digests []notifications.NewIssues, mine []notifications.MyNewIssues) (int, error)
}

type PointWriter interface {
	WritePoints(ctx context.Context, points []influxx.Point) error
}

type Result struct {
	NewIssues int
	Digests   int
	Delivered int
}

type Pipeline struct {
	details notifications.DetailsSupplier
	router  Router
	points  PointWriter
	shards  int
	logger  logx.Logger
}

// NewPipeline accepts a nil points writer when statistics history is off.
func NewPipeline(details notifications.DetailsSupplier, router Router, points PointWriter, shards int, logger logx.Logger) *Pipeline {
	if shards <= 0 {
		shards = 1
	}
	return &Pipeline{details: details, router: router, points: points, shards: shards, logger: logger}
}

func (p *Pipeline) Process(ctx context.Context, a AnalysisNewIssues) (Result, error) {
	start := time.Now()
	defer func() { metricsx.ObserveDigestLatency(time.Since(start)) }()

	ctx, span := tracer.Start(ctx, "digest.process", trace.WithAttributes(
		attribute.String("analysis.id", a.AnalysisID),
		attribute.String("project.key", a.Project.Key),
		attribute.Int("analysis.issues", len(a.Issues)),
	))
	defer span.End()

	analysis, err := a.Analysis()
	if err != nil {
		return Result{}, err
	}
	all, err := Compute(ctx, a.Issues, p.shards)
	if err != nil {
		return Result{}, err
	}
	res := Result{NewIssues: all.Global().IssueCount().OnCurrentAnalysis}
	if !all.HasIssuesOnCurrentAnalysis() {
		return res, nil
	}

	if p.points != nil {
		if err := p.points.WritePoints(ctx, Points(a, all.Global())); err != nil {
			metricsx.IncInfluxWriteFailure()
			p.logger.Warn(ctx, "influx_write_failed", "statistics history not written",
				append(logx.Failure(logx.CodeInternal, err), slog.String("analysis_id", a.AnalysisID))...)
		}
	}

	digest, err := notifications.BuildNewIssues(ctx, p.details, analysis, all.Global())
	if err != nil {
		return res, err
	}
	mine, err := notifications.BuildMyNewIssues(ctx, p.details, analysis, all)
	if err != nil {
		return res, err
	}
	res.Digests = 1 + len(mine)

	delivered, err := p.router.DispatchNewIssues(ctx, []notifications.NewIssues{digest}, mine)
	if err != nil {
		return res, fmt.Errorf("dispatch digests: %w", err)
	}
	res.Delivered = delivered
	span.SetAttributes(attribute.Int("notification.delivered", delivered))
	return res, nil
}

// Compute counts issues across shards and merges them. Hotspots are not counted.
func Compute(ctx context.Context, issues []AnalysisIssue, shards int) (*stats.Statistics, error) {
	counted := make([]AnalysisIssue, 0, len(issues))
	for _, i := range issues {
		if i.RuleType == issuechange.RuleTypeSecurityHotspot {
			continue
		}
		counted = append(counted, i)
	}

	n := shardCount(len(counted), shards)
	parts := make([]*stats.Statistics, n)
	size := (len(counted) + n - 1) / n

	g, ctx := errgroup.WithContext(ctx)
	for s := 0; s < n; s++ {
		s := s
		g.Go(func() error {
			st := stats.NewStatistics()
			lo, hi := s*size, min((s+1)*size, len(counted))
			for i := lo; i < hi; i++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				if err := st.Add(counted[i].stat()); err != nil {
					return fmt.Errorf("issue %s: %w", counted[i].Key, err)
				}
			}
			parts[s] = st
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := stats.NewStatistics()
	for _, part := range parts {
		out.Merge(part)
	}
	return out, nil
}

func shardCount(issues int, shards int) int {
	if shards <= 1 || issues < 2*minShardSize {
		return 1
	}
	return min(shards, issues/minShardSize)
}

func Points(a AnalysisNewIssues, st *stats.Stats) []influxx.Point {
	tags := map[string]string{"project": a.Project.Key}
	if a.Project.Branch != "" {
		tags["branch"] = a.Project.Branch
	}
	count := st.IssueCount()
	effort := st.Effort()
	points := []influxx.Point{{
		Measurement: MeasurementNewIssues,
		Tags:        tags,
		Fields: map[string]any{
			"analysis_id":    a.AnalysisID,
			"new":            count.OnCurrentAnalysis,
			"total":          count.Total(),
			"effort_new_min": effort.OnCurrentAnalysis,
			"effort_min":     effort.Total(),
		},
		Time: a.AnalysisDate,
	}}
	for _, m := range stats.Metrics() {
		for rank, e := range st.Distribution(m).TopNOnCurrentAnalysis(notifications.TopLabels) {
			pt := map[string]string{"dimension": string(m), "label": e.Label, "rank": strconv.Itoa(rank + 1)}
			for k, v := range tags {
				pt[k] = v
			}
			points = append(points, influxx.Point{
				Measurement: MeasurementNewIssuesTop,
				Tags:        pt,
				Fields:      map[string]any{"new": e.Stats.OnCurrentAnalysis, "total": e.Stats.Total()},
				Time:        a.AnalysisDate,
			})
		}
	}
	return points
}
