package feedback

import (
	"fmt"

	"github.com/hubenschmidt/coachserver/internal/model"
)

const maxFeedbackPerChunk = 3

var severityRank = map[model.FeedbackSeverity]int{
	model.SeverityCritical: 3,
	model.SeverityWarning:  2,
	model.SeverityPositive: 1,
	model.SeverityInfo:     0,
}

// ruleCandidate is a rule hit before tie-breaking and history
// suppression are applied.
type ruleCandidate struct {
	item model.FeedbackItem
	key  string // dedup key, stable across chunks for the same condition
}

// evaluateRules runs the deterministic, sub-5ms rule engine of
// §4.3(a) against one chunk's VoiceMetrics.
func evaluateRules(vm *model.VoiceMetrics) []ruleCandidate {
	var out []ruleCandidate

	if vm.PaceWPM > 200 {
		out = append(out, ruleCandidate{
			key: "pace_fast",
			item: model.FeedbackItem{
				Type: model.FeedbackPace, Severity: model.SeverityWarning,
				ShortMessage:         "slow down",
				ActionableSuggestion: "Slow down your speaking pace",
				Confidence:           0.8,
				MetricValue:          vm.PaceWPM,
				TargetRange:          "100-200 wpm",
			},
		})
	} else if vm.PaceWPM < 100 && vm.PaceWPM > 0 {
		out = append(out, ruleCandidate{
			key: "pace_slow",
			item: model.FeedbackItem{
				Type: model.FeedbackPace, Severity: model.SeverityInfo,
				ShortMessage:         "you may speed up",
				ActionableSuggestion: "You can pick up the pace a little",
				Confidence:           0.6,
				MetricValue:          vm.PaceWPM,
				TargetRange:          "100-200 wpm",
			},
		})
	}

	if vm.VolumeConsistency < 0.6 {
		out = append(out, ruleCandidate{
			key: "volume_inconsistent",
			item: model.FeedbackItem{
				Type: model.FeedbackVolume, Severity: model.SeverityWarning,
				ShortMessage:         "inconsistent volume",
				ActionableSuggestion: "Keep your volume steadier through the sentence",
				Confidence:           0.7,
				MetricValue:          vm.VolumeConsistency,
				TargetRange:          ">=0.6",
			},
		})
	}

	if vm.ClarityScore < 0.6 {
		out = append(out, ruleCandidate{
			key: "clarity_low",
			item: model.FeedbackItem{
				Type: model.FeedbackClarity, Severity: model.SeverityWarning,
				ShortMessage:         "low clarity",
				ActionableSuggestion: "Articulate more distinctly",
				Confidence:           0.7,
				MetricValue:          vm.ClarityScore,
				TargetRange:          ">=0.6",
			},
		})
	}

	if vm.AdvancedMetrics.ConfidenceScore > 0.8 {
		out = append(out, ruleCandidate{
			key: "confidence_high",
			item: model.FeedbackItem{
				Type: model.FeedbackConfidence, Severity: model.SeverityPositive,
				ShortMessage:         "strong confidence",
				ActionableSuggestion: "Keep projecting this level of confidence",
				Confidence:           0.75,
				MetricValue:          vm.AdvancedMetrics.ConfidenceScore,
			},
		})
	}

	return out
}

// selectTopRules applies the §4.3(a) tie-break (higher severity wins,
// cap at maxFeedbackPerChunk) and suppresses any candidate whose key
// appeared in recentKeys (the last 3 chunks' fired keys).
func selectTopRules(candidates []ruleCandidate, recentKeys map[string]int) []model.FeedbackItem {
	var filtered []ruleCandidate
	for _, c := range candidates {
		if recentKeys[c.key] > 0 {
			continue
		}
		filtered = append(filtered, c)
	}

	for i := 0; i < len(filtered); i++ {
		for j := i + 1; j < len(filtered); j++ {
			if severityRank[filtered[j].item.Severity] > severityRank[filtered[i].item.Severity] {
				filtered[i], filtered[j] = filtered[j], filtered[i]
			}
		}
	}

	if len(filtered) > maxFeedbackPerChunk {
		filtered = filtered[:maxFeedbackPerChunk]
	}

	items := make([]model.FeedbackItem, 0, len(filtered))
	for _, c := range filtered {
		item := c.item
		item.Source = model.SourceRule
		item.Priority = priorityLabel(item.Severity)
		item.ID = fmt.Sprintf("rule-%s-%d", c.key, len(items))
		items = append(items, item)
	}
	return items
}

func priorityLabel(sev model.FeedbackSeverity) string {
	if sev == model.SeverityCritical || sev == model.SeverityWarning {
		return "high"
	}
	return "normal"
}
