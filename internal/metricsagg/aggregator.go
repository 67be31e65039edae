// Package metricsagg implements MetricsAggregator (C4): sliding-window
// statistics, benchmark comparison, trends, and one-shot milestones.
package metricsagg

import (
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/hubenschmidt/coachserver/internal/langconfig"
	"github.com/hubenschmidt/coachserver/internal/model"
)

const (
	categoryWindowCapacity = 100
	overallHistoryCapacity = 200
	milestoneThreshold     = 0.10
)

var categories = []langconfig.MetricCategory{
	langconfig.CategoryPace,
	langconfig.CategoryVolume,
	langconfig.CategoryClarity,
	"pause_frequency",
	"engagement",
}

// Aggregator holds per-session sliding windows and milestone state.
type Aggregator struct {
	lang *langconfig.Config

	categoryWindows map[langconfig.MetricCategory]*window
	overallQuality  *window

	chunkCount int

	milestonesFired *orderedmap.OrderedMap[string, bool]
	milestoneBaseline float64
	everExceeded90    bool
	everExceeded85Consistency bool
}

// New creates an Aggregator bound to a language configuration.
func New(lang langconfig.Language) *Aggregator {
	cw := make(map[langconfig.MetricCategory]*window, len(categories))
	for _, c := range categories {
		cw[c] = newWindow(categoryWindowCapacity)
	}
	return &Aggregator{
		lang:            langconfig.MustGet(lang),
		categoryWindows: cw,
		overallQuality:  newWindow(overallHistoryCapacity),
		milestonesFired: orderedmap.New[string, bool](),
	}
}

// ShouldRun reports whether metrics should run on this chunk, given
// the configured interval and whether the chunk's quality spiked
// above 0.8 (§4.4: "Metrics runs at most every
// metrics_calculation_interval chunks or on quality spikes > 0.8").
func (a *Aggregator) ShouldRun(chunkNumber, interval int, quality float64) bool {
	if quality > 0.8 {
		return true
	}
	if interval <= 0 {
		interval = 1
	}
	return chunkNumber%interval == 0
}

// Update folds one VoiceMetrics reading into the sliding windows and
// returns the PerformanceMetrics block plus any milestones that fired.
func (a *Aggregator) Update(vm *model.VoiceMetrics) *model.PerformanceMetrics {
	a.chunkCount++

	a.categoryWindows[langconfig.CategoryPace].push(vm.PaceAnalysis.Score)
	a.categoryWindows[langconfig.CategoryVolume].push(vm.VolumeAnalysis.Score)
	a.categoryWindows[langconfig.CategoryClarity].push(vm.ClarityScore)
	a.categoryWindows["pause_frequency"].push(vm.VoiceActivityRatio)
	a.categoryWindows["engagement"].push(vm.AdvancedMetrics.ConfidenceScore)

	quality := vm.LanguageScore
	a.overallQuality.push(quality)

	categoryStats := make(map[string]model.CategoryStats, len(categories))
	for _, c := range categories {
		w := a.categoryWindows[c]
		values := w.values()
		st := model.CategoryStats{
			Value:     lastOrZero(values),
			Stability: stability(values),
		}
		if bench, ok := a.lang.Benchmarks[c]; ok {
			rank := percentileRank(st.Value, bench.Percentiles)
			st.PercentileRank = rank
			st.ZScore = zScore(st.Value, bench.Mean, bench.Stdev)
			st.PerformanceLevel = performanceLevel(rank)
		}
		categoryStats[string(c)] = st
	}

	improvementRate := a.improvementRate()
	slope := linearRegressionSlope(a.overallQuality.values())
	trend := trendFromSlope(slope)

	pm := &model.PerformanceMetrics{
		Category:           categoryStats,
		OverallQuality:      quality,
		ImprovementRate:      improvementRate,
		LearningCurveSlope:   slope,
		TrendDirection:       trend,
		Volatility:           stdev(a.overallQuality.values(), mean(a.overallQuality.values())),
		Momentum:             slope * float64(a.overallQuality.len()),
		QuickWins:            quickWins(categoryStats),
		LongTermGoals:        longTermGoals(categoryStats),
	}

	pm.Milestones = a.checkMilestones(quality, categoryStats, improvementRate)

	return pm
}

func lastOrZero(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	return xs[len(xs)-1]
}

// improvementRate compares quality means of the last 3 vs the prior 3
// samples (§4.4).
func (a *Aggregator) improvementRate() float64 {
	values := a.overallQuality.values()
	if len(values) < 6 {
		return 0
	}
	recent := mean(values[len(values)-3:])
	prior := mean(values[len(values)-6 : len(values)-3])
	if prior == 0 {
		return 0
	}
	return (recent - prior) / prior
}

func trendFromSlope(slope float64) model.Trend {
	const epsilon = 0.005
	switch {
	case slope > epsilon:
		return model.TrendImproving
	case slope < -epsilon:
		return model.TrendDeclining
	default:
		return model.TrendStable
	}
}

func quickWins(stats map[string]model.CategoryStats) []string {
	var wins []string
	for name, s := range stats {
		if s.PerformanceLevel == "below_average" || s.PerformanceLevel == "needs_improvement" {
			wins = append(wins, name)
		}
	}
	return wins
}

func longTermGoals(stats map[string]model.CategoryStats) []string {
	var goals []string
	for name, s := range stats {
		if s.Stability < 0.6 {
			goals = append(goals, name+"_consistency")
		}
	}
	return goals
}

// checkMilestones fires each milestone kind at most once, except the
// improvement-threshold milestone, which resets its baseline after
// firing (§4.4, §8 invariant 6).
func (a *Aggregator) checkMilestones(quality float64, stats map[string]model.CategoryStats, improvementRate float64) []model.Milestone {
	var fired []model.Milestone
	now := time.Now().UTC()

	if !a.everExceeded90 && quality > 0.9 {
		a.everExceeded90 = true
		fired = append(fired, model.Milestone{Kind: "quality_milestone", FiredAt: now})
	}

	if consistency, ok := stats[string(langconfig.CategoryClarity)]; ok && !a.everExceeded85Consistency && consistency.Stability > 0.85 {
		a.everExceeded85Consistency = true
		fired = append(fired, model.Milestone{Kind: "consistency_milestone", FiredAt: now})
	}

	for _, n := range []int{10, 25, 50, 100} {
		key := chunkMilestoneKey(n)
		if a.chunkCount == n {
			if _, already := a.milestonesFired.Get(key); !already {
				a.milestonesFired.Set(key, true)
				fired = append(fired, model.Milestone{Kind: "chunk_count_milestone", Detail: key, FiredAt: now})
			}
		}
	}

	if a.milestoneBaseline == 0 {
		a.milestoneBaseline = quality
	} else if a.milestoneBaseline > 0 {
		relativeImprovement := (quality - a.milestoneBaseline) / a.milestoneBaseline
		if relativeImprovement >= milestoneThreshold {
			fired = append(fired, model.Milestone{Kind: "improvement_milestone", FiredAt: now})
			a.milestoneBaseline = quality
		}
	}

	return fired
}

func chunkMilestoneKey(n int) string {
	switch n {
	case 10:
		return "chunks_10"
	case 25:
		return "chunks_25"
	case 50:
		return "chunks_50"
	default:
		return "chunks_100"
	}
}
