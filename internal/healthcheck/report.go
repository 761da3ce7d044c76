package healthcheck

import (
	"context"
	"log/slog"
)

var severity = map[string]int{
	StatusOK:      0,
	StatusUnknown: 1,
	StatusWarn:    2,
	StatusError:   3,
}

// Report is the combined outcome of every registered checker.
type Report struct {
	Status string        `json:"status"`
	Checks []CheckResult `json:"checks"`
}

// Aggregator runs checkers in registration order.
type Aggregator struct {
	logger   *slog.Logger
	checkers []Checker
}

func NewAggregator(log *slog.Logger, checkers ...Checker) *Aggregator {
	if log == nil {
		log = slog.Default()
	}
	return &Aggregator{
		logger:   log.With(slog.String("service", "healthcheck")),
		checkers: checkers,
	}
}

// Run evaluates all checkers. The report status is the worst check status,
// or ok when there are no checks.
func (a *Aggregator) Run(ctx context.Context) Report {
	report := Report{Status: StatusOK, Checks: []CheckResult{}}
	if a == nil {
		return report
	}
	for _, c := range a.checkers {
		if c == nil {
			continue
		}
		report.Checks = append(report.Checks, c.ListChecks(ctx)...)
	}
	report.Status = Worst(report.Checks)
	if report.Status != StatusOK {
		a.logger.Debug("degraded health", slog.String("status", report.Status), slog.Int("checks", len(report.Checks)))
	}
	return report
}

// Worst returns the most severe status among items. Unrecognized statuses
// count as unknown.
func Worst(items []CheckResult) string {
	worst := StatusOK
	for _, item := range items {
		level, ok := severity[item.Status]
		if !ok {
			level = severity[StatusUnknown]
		}
		if level > severity[worst] {
			worst = item.Status
			if !ok {
				worst = StatusUnknown
			}
		}
	}
	return worst
}
