package reports

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/aegis-scan/aegis/pkg/models"
)

// ProbeStats returns per-category attempt tallies for a scan, reading
// the materialized database column when present and otherwise computing
// from the report and storing the result for next time.
func (r *Reader) ProbeStats(ctx context.Context, scanID string) map[string]models.ProbeTally {
	if r.store != nil {
		stats, err := r.store.GetProbeStats(ctx, scanID)
		if err != nil {
			slog.Debug("Materialized probe stats read failed", "scan_id", scanID, "error", err)
		} else if stats != nil {
			return stats
		}
	}

	stats := r.computeProbeStats(ctx, scanID)
	if stats == nil {
		return nil
	}

	if r.store != nil {
		if err := r.store.SetProbeStats(ctx, scanID, stats); err != nil {
			slog.Debug("Probe stats materialization failed", "scan_id", scanID, "error", err)
		}
	}
	return stats
}

func (r *Reader) computeProbeStats(ctx context.Context, scanID string) map[string]models.ProbeTally {
	entries := r.Entries(ctx, scanID)
	if len(entries) == 0 {
		return nil
	}

	stats := make(map[string]models.ProbeTally)
	for _, entry := range entries {
		if entry.EntryType() != "attempt" {
			continue
		}
		probe := entry.String("probe_classname")
		if probe == "" {
			probe = "unknown"
		}
		category := strings.SplitN(probe, ".", 2)[0]
		t := stats[category]
		switch entry.Int("status") {
		case 2:
			t.Passed++
		case 1:
			t.Failed++
		}
		stats[category] = t
	}
	if len(stats) == 0 {
		return nil
	}
	return stats
}

// Statistics aggregates across every scan: status counts, pass rates,
// zero-filled daily trends for the last N days, the top ten failing
// probe categories, and a per-target breakdown.
func (r *Reader) Statistics(ctx context.Context, scans []*models.ScanRecord, days int) *models.Statistics {
	if days <= 0 {
		days = 30
	}

	statusCounts := make(map[models.ScanStatus]int)
	totalPassed, totalFailed := 0, 0
	var passRates []float64

	type dayBucket struct {
		scanCount   int
		totalPassed int
		totalFailed int
		passRates   []float64
	}
	daily := make(map[string]*dayBucket)

	type targetBucket struct {
		targetType  string
		targetName  string
		scanCount   int
		passRates   []float64
		lastScanned *time.Time
	}
	targets := make(map[string]*targetBucket)
	var targetOrder []string

	probeAgg := make(map[string]models.ProbeTally)

	for _, scan := range scans {
		statusCounts[scan.Status]++
		totalPassed += scan.Passed
		totalFailed += scan.Failed

		scanTotal := scan.Passed + scan.Failed
		completed := scan.Status == models.StatusCompleted
		if scanTotal > 0 && completed {
			passRates = append(passRates, float64(scan.Passed)/float64(scanTotal)*100)
		}

		if scan.StartedAt != nil {
			day := scan.StartedAt.Format("2006-01-02")
			b, ok := daily[day]
			if !ok {
				b = &dayBucket{}
				daily[day] = b
			}
			b.scanCount++
			b.totalPassed += scan.Passed
			b.totalFailed += scan.Failed
			if scanTotal > 0 {
				b.passRates = append(b.passRates, float64(scan.Passed)/float64(scanTotal)*100)
			}
		}

		tType, tName := scan.TargetType, scan.TargetName
		if tType == "" {
			tType = "unknown"
		}
		if tName == "" {
			tName = "unknown"
		}
		key := tType + "::" + tName
		tb, ok := targets[key]
		if !ok {
			tb = &targetBucket{targetType: tType, targetName: tName}
			targets[key] = tb
			targetOrder = append(targetOrder, key)
		}
		tb.scanCount++
		if scanTotal > 0 && completed {
			tb.passRates = append(tb.passRates, float64(scan.Passed)/float64(scanTotal)*100)
		}
		if scan.StartedAt != nil && (tb.lastScanned == nil || scan.StartedAt.After(*tb.lastScanned)) {
			tb.lastScanned = scan.StartedAt
		}

		if completed {
			if stats := r.ProbeStats(ctx, scan.ScanID); stats != nil {
				for category, counts := range stats {
					agg := probeAgg[category]
					agg.Passed += counts.Passed
					agg.Failed += counts.Failed
					probeAgg[category] = agg
				}
			}
		}
	}

	totalTests := totalPassed + totalFailed
	overall := 0.0
	if totalTests > 0 {
		overall = float64(totalPassed) / float64(totalTests) * 100
	}

	avg := 0.0
	var minRate, maxRate *float64
	if len(passRates) > 0 {
		sum, mn, mx := 0.0, passRates[0], passRates[0]
		for _, rate := range passRates {
			sum += rate
			if rate < mn {
				mn = rate
			}
			if rate > mx {
				mx = rate
			}
		}
		avg = sum / float64(len(passRates))
		mn, mx = round1(mn), round1(mx)
		minRate, maxRate = &mn, &mx
	}

	// Daily trends, ascending and zero-filled up to today.
	today := time.Now()
	trends := make([]models.DailyTrend, 0, days)
	for i := days - 1; i >= 0; i-- {
		day := today.AddDate(0, 0, -i).Format("2006-01-02")
		point := models.DailyTrend{Date: day}
		if b, ok := daily[day]; ok {
			point.ScanCount = b.scanCount
			point.TotalPassed = b.totalPassed
			point.TotalFailed = b.totalFailed
			point.AvgPassRate = round1(mean(b.passRates))
		}
		trends = append(trends, point)
	}

	topProbes := make([]models.FailingProbe, 0, len(probeAgg))
	for category, counts := range probeAgg {
		total := counts.Passed + counts.Failed
		if total == 0 {
			continue
		}
		topProbes = append(topProbes, models.FailingProbe{
			ProbeCategory: category,
			FailureCount:  counts.Failed,
			TotalCount:    total,
			FailureRate:   round1(float64(counts.Failed) / float64(total) * 100),
		})
	}
	sort.SliceStable(topProbes, func(i, j int) bool {
		return topProbes[i].FailureCount > topProbes[j].FailureCount
	})
	if len(topProbes) > 10 {
		topProbes = topProbes[:10]
	}

	breakdown := make([]models.TargetStats, 0, len(targets))
	for _, key := range targetOrder {
		tb := targets[key]
		stat := models.TargetStats{
			TargetType:  tb.targetType,
			TargetName:  tb.targetName,
			ScanCount:   tb.scanCount,
			AvgPassRate: round1(mean(tb.passRates)),
		}
		if tb.lastScanned != nil {
			stat.LastScanned = tb.lastScanned.Format(time.RFC3339)
		}
		breakdown = append(breakdown, stat)
	}
	sort.SliceStable(breakdown, func(i, j int) bool {
		return breakdown[i].ScanCount > breakdown[j].ScanCount
	})

	return &models.Statistics{
		TotalScans:       len(scans),
		CompletedScans:   statusCounts[models.StatusCompleted],
		FailedScans:      statusCounts[models.StatusFailed],
		CancelledScans:   statusCounts[models.StatusCancelled],
		RunningScans:     statusCounts[models.StatusRunning] + statusCounts[models.StatusPending],
		TotalTests:       totalTests,
		TotalPassed:      totalPassed,
		TotalFailed:      totalFailed,
		OverallPassRate:  round1(overall),
		AvgPassRate:      round1(avg),
		MinPassRate:      minRate,
		MaxPassRate:      maxRate,
		DailyTrends:      trends,
		TopFailingProbes: topProbes,
		TargetBreakdown:  breakdown,
	}
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
