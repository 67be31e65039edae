// Package feedback implements FeedbackGenerator (C3): a deterministic
// real-time rule engine and a throttled LLM coaching path, both
// operating on VoiceMetrics and sharing bounded session-wide state.
package feedback

import (
	"container/ring"
	"context"
	"time"

	"github.com/hubenschmidt/coachserver/internal/langconfig"
	"github.com/hubenschmidt/coachserver/internal/model"
	"github.com/hubenschmidt/coachserver/internal/upstream"
)

const historyCapacity = 15
const recentKeyWindow = 3

// Generator holds one session's feedback state. Not safe for
// concurrent use by more than one caller; owned exclusively by the
// SessionPipeline for its session (§3 Ownership summary).
type Generator struct {
	lang   *langconfig.Config
	coach  upstream.CoachClient
	engine string

	strengths       map[string]struct{}
	improvementAreas map[string]struct{}
	themeHistogram  map[string]int
	history         []model.FeedbackItem

	recentKeys *ring.Ring // holds map[string]int per past chunk, size recentKeyWindow
	chunkCount int
}

// New creates a Generator bound to a language config and an
// UpstreamBridge coaching client (engine name selects the LLM
// backend via upstream.CoachRouter).
func New(lang langconfig.Language, coach upstream.CoachClient, engine string) *Generator {
	r := ring.New(recentKeyWindow)
	for i := 0; i < recentKeyWindow; i++ {
		r.Value = map[string]int{}
		r = r.Next()
	}
	return &Generator{
		lang:             langconfig.MustGet(lang),
		coach:            coach,
		engine:           engine,
		strengths:        map[string]struct{}{},
		improvementAreas: map[string]struct{}{},
		themeHistogram:   map[string]int{},
		recentKeys:       r,
	}
}

// Generate runs the rule engine unconditionally and, when due (every
// feedbackFrequency chunks, chunks numbered from 1), the throttled LLM
// coaching path. It never returns an error for the rule path; LLM
// failures downgrade to fallback feedback per §4.3(b).
func (g *Generator) Generate(ctx context.Context, vm *model.VoiceMetrics, chunkNumber, feedbackFrequency int, deadline time.Duration, priorityLow bool) ([]model.FeedbackItem, *model.CoachingFeedback) {
	g.chunkCount++

	recent := g.mergedRecentKeys()
	candidates := evaluateRules(vm)
	items := selectTopRules(candidates, recent)
	g.recordFiredKeys(candidates, items)
	g.appendHistory(items)
	g.updateThemes(items)

	var coaching *model.CoachingFeedback
	if g.dueForLLM(chunkNumber, feedbackFrequency) && !priorityLow {
		coaching = g.generateLLMCoaching(ctx, vm, deadline)
	}

	return items, coaching
}

func (g *Generator) dueForLLM(chunkNumber, feedbackFrequency int) bool {
	if feedbackFrequency <= 0 {
		feedbackFrequency = 1
	}
	return chunkNumber%feedbackFrequency == 0
}

func (g *Generator) generateLLMCoaching(ctx context.Context, vm *model.VoiceMetrics, deadline time.Duration) *model.CoachingFeedback {
	cctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	req := upstream.CoachingRequest{
		Language:    g.lang.Language,
		Style:       g.lang.Style,
		Metrics:     vm,
		PriorThemes: g.topThemes(5),
	}

	if g.coach == nil {
		return g.fallbackCoaching(vm, nil)
	}
	var cf *model.CoachingFeedback
	var err error
	if router, ok := g.coach.(*upstream.CoachRouter); ok && g.engine != "" {
		cf, err = router.GenerateCoachingFor(cctx, g.engine, req)
	} else {
		cf, err = g.coach.GenerateCoaching(cctx, req)
	}
	if err != nil {
		return g.fallbackCoaching(vm, err)
	}
	return cf
}

// fallbackCoaching is produced when the LLM path fails validation or
// times out; it is built from the same rule-engine signals so the
// client always receives a coherent coaching_feedback envelope.
func (g *Generator) fallbackCoaching(vm *model.VoiceMetrics, cause error) *model.CoachingFeedback {
	summary := "Here is your latest practice feedback."
	if vm.PaceWPM > 200 {
		summary = "Your pace picked up quite a bit in this segment."
	} else if vm.ClarityScore < 0.6 {
		summary = "Focus on articulation in this segment."
	}

	return &model.CoachingFeedback{
		FeedbackSummary: summary,
		Strengths:       g.topThemes(2),
		Improvements: []model.Improvement{
			{
				Area:          "clarity",
				CurrentIssue:  "clarity below target",
				ActionableTip: "Slow articulation on key words",
				WhyImportant:  "Clear speech keeps the audience engaged",
			},
		},
		Encouragement: "Keep practicing, you're making progress.",
		NextFocus:     "pace",
		Source:        model.SourceFallback,
	}
}

func (g *Generator) recordFiredKeys(candidates []ruleCandidate, fired []model.FeedbackItem) {
	firedTypes := map[model.FeedbackType]struct{}{}
	for _, f := range fired {
		firedTypes[f.Type] = struct{}{}
	}
	keys := map[string]int{}
	for _, c := range candidates {
		if _, ok := firedTypes[c.item.Type]; ok {
			keys[c.key] = 1
		}
	}
	g.recentKeys.Value = keys
	g.recentKeys = g.recentKeys.Next()
}

func (g *Generator) mergedRecentKeys() map[string]int {
	merged := map[string]int{}
	g.recentKeys.Do(func(v any) {
		if m, ok := v.(map[string]int); ok {
			for k, n := range m {
				merged[k] += n
			}
		}
	})
	return merged
}

func (g *Generator) appendHistory(items []model.FeedbackItem) {
	g.history = append(g.history, items...)
	if len(g.history) > historyCapacity {
		g.history = g.history[len(g.history)-historyCapacity:]
	}
}

func (g *Generator) updateThemes(items []model.FeedbackItem) {
	for _, it := range items {
		theme := string(it.Type)
		g.themeHistogram[theme]++
		if it.Severity == model.SeverityPositive {
			g.strengths[theme] = struct{}{}
		} else if it.Severity == model.SeverityWarning || it.Severity == model.SeverityCritical {
			g.improvementAreas[theme] = struct{}{}
		}
	}
}

// topThemes returns up to n theme names ordered by fired count,
// descending, for use as LLM prompt context and fallback strengths.
func (g *Generator) topThemes(n int) []string {
	type kv struct {
		k string
		v int
	}
	pairs := make([]kv, 0, len(g.themeHistogram))
	for k, v := range g.themeHistogram {
		pairs = append(pairs, kv{k, v})
	}
	for i := 0; i < len(pairs); i++ {
		for j := i + 1; j < len(pairs); j++ {
			if pairs[j].v > pairs[i].v {
				pairs[i], pairs[j] = pairs[j], pairs[i]
			}
		}
	}
	out := make([]string, 0, n)
	for i := 0; i < len(pairs) && i < n; i++ {
		out = append(out, pairs[i].k)
	}
	return out
}

// History returns the bounded feedback history (most recent last).
func (g *Generator) History() []model.FeedbackItem {
	return append([]model.FeedbackItem(nil), g.history...)
}

// Strengths returns the running set of identified strength themes.
func (g *Generator) Strengths() []string {
	return setKeys(g.strengths)
}

// ImprovementAreas returns the running set of improvement-area themes.
func (g *Generator) ImprovementAreas() []string {
	return setKeys(g.improvementAreas)
}

func setKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
