// Package langconfig is the process-wide immutable registry of
// per-language audio expectations, benchmark tables, coaching style,
// and localized UI messages (C8 LanguageConfig).
package langconfig

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Language is a supported language code. New languages extend the
// registry without touching any other component.
type Language string

const (
	French  Language = "fr"
	English Language = "en"
)

// AudioExpectations holds the acoustic thresholds a language expects
// from a fluent speaker.
type AudioExpectations struct {
	OptimalPaceSylPerSec      float64 // syllables/second
	NaturalPaceMin            float64 // WPM
	NaturalPaceMax            float64 // WPM
	PitchVarianceExpected     float64
	MonotoneThreshold         float64
	VolumeConsistencyThresh   float64
	DynamicRangeOptimal       float64
	ClarityWeight             float64
	AccentTolerance           float64
}

// MetricCategory names a benchmarked metric category.
type MetricCategory string

const (
	CategoryPace                MetricCategory = "pace"
	CategoryVolume              MetricCategory = "volume"
	CategoryClarity             MetricCategory = "clarity"
	CategoryPitchVariation      MetricCategory = "pitch_variation"
	CategoryConsistency         MetricCategory = "consistency"
	CategoryEngagement          MetricCategory = "engagement"
	CategoryCulturalAdaptation  MetricCategory = "cultural_adaptation"
)

// Benchmark is a per-category percentile table: mean, stdev, and the
// p20/p40/p60/p80/p100 quintile boundaries.
type Benchmark struct {
	Mean        float64
	Stdev       float64
	Percentiles [5]float64
}

// CoachingStyle describes how LLM prompts should be framed for a
// language (§4.3(b)).
type CoachingStyle struct {
	Descriptor string // e.g. "structured, formal, nuanced"
	Culture    string
	DisplayName string
}

// Config is the full immutable per-language record.
type Config struct {
	Language   Language
	Audio      AudioExpectations
	Benchmarks map[MetricCategory]Benchmark
	Style      CoachingStyle
	Messages   map[string]string
}

var registry = map[Language]*Config{
	French: {
		Language: French,
		Audio: AudioExpectations{
			OptimalPaceSylPerSec:    4.7,
			NaturalPaceMin:          110,
			NaturalPaceMax:          190,
			PitchVarianceExpected:   0.15,
			MonotoneThreshold:       0.08,
			VolumeConsistencyThresh: 0.70,
			DynamicRangeOptimal:     0.06,
			ClarityWeight:           0.42,
			AccentTolerance:         0.20,
		},
		Benchmarks: map[MetricCategory]Benchmark{
			CategoryPace:               {Mean: 4.7, Stdev: 0.8, Percentiles: [5]float64{3.8, 4.2, 4.7, 5.2, 5.6}},
			CategoryVolume:             {Mean: 0.06, Stdev: 0.015, Percentiles: [5]float64{0.04, 0.05, 0.06, 0.07, 0.08}},
			CategoryClarity:            {Mean: 0.78, Stdev: 0.12, Percentiles: [5]float64{0.65, 0.72, 0.78, 0.85, 0.92}},
			CategoryPitchVariation:     {Mean: 0.15, Stdev: 0.05, Percentiles: [5]float64{0.08, 0.12, 0.15, 0.18, 0.22}},
			CategoryConsistency:        {Mean: 0.82, Stdev: 0.08, Percentiles: [5]float64{0.72, 0.78, 0.82, 0.87, 0.93}},
			CategoryEngagement:         {Mean: 0.71, Stdev: 0.11, Percentiles: [5]float64{0.58, 0.65, 0.71, 0.78, 0.86}},
			CategoryCulturalAdaptation: {Mean: 0.75, Stdev: 0.10, Percentiles: [5]float64{0.62, 0.69, 0.75, 0.82, 0.89}},
		},
		Style: CoachingStyle{
			Descriptor:  "structured, formal, nuanced",
			Culture:     "academic_and_structured",
			DisplayName: "Français",
		},
		Messages: map[string]string{
			"volume_good":      "Votre volume est approprié",
			"volume_low":       "Augmentez votre volume pour plus de présence",
			"pace_fast":        "Ralentissez votre débit de parole",
			"pace_slow":        "Vous pouvez accélérer légèrement",
			"clarity_low":      "Articulez plus distinctement",
			"confidence_high":  "Excellente assurance dans votre voix !",
			"confidence_low":   "Projetez plus de confiance",
		},
	},
	English: {
		Language: English,
		Audio: AudioExpectations{
			OptimalPaceSylPerSec:    3.7,
			NaturalPaceMin:          120,
			NaturalPaceMax:          180,
			PitchVarianceExpected:   0.25,
			MonotoneThreshold:       0.10,
			VolumeConsistencyThresh: 0.60,
			DynamicRangeOptimal:     0.08,
			ClarityWeight:           0.38,
			AccentTolerance:         0.25,
		},
		Benchmarks: map[MetricCategory]Benchmark{
			CategoryPace:               {Mean: 3.7, Stdev: 0.6, Percentiles: [5]float64{2.9, 3.3, 3.7, 4.1, 4.5}},
			CategoryVolume:             {Mean: 0.08, Stdev: 0.020, Percentiles: [5]float64{0.055, 0.065, 0.08, 0.095, 0.11}},
			CategoryClarity:            {Mean: 0.73, Stdev: 0.14, Percentiles: [5]float64{0.58, 0.66, 0.73, 0.81, 0.89}},
			CategoryPitchVariation:     {Mean: 0.25, Stdev: 0.08, Percentiles: [5]float64{0.15, 0.20, 0.25, 0.30, 0.37}},
			CategoryConsistency:        {Mean: 0.76, Stdev: 0.12, Percentiles: [5]float64{0.62, 0.70, 0.76, 0.83, 0.91}},
			CategoryEngagement:         {Mean: 0.79, Stdev: 0.09, Percentiles: [5]float64{0.68, 0.74, 0.79, 0.85, 0.92}},
			CategoryCulturalAdaptation: {Mean: 0.72, Stdev: 0.13, Percentiles: [5]float64{0.57, 0.64, 0.72, 0.81, 0.90}},
		},
		Style: CoachingStyle{
			Descriptor:  "direct, storytelling, engaging",
			Culture:     "engaging_and_storytelling",
			DisplayName: "English",
		},
		Messages: map[string]string{
			"volume_good":     "Your volume level is perfect",
			"volume_low":      "Raise your volume for more presence",
			"pace_fast":       "Slow down your speaking pace",
			"pace_slow":       "You can pick up the pace a little",
			"clarity_low":     "Articulate more distinctly",
			"confidence_high": "Excellent confidence in your voice!",
			"confidence_low":  "Project more confidence",
		},
	},
}

// tagOf maps a Language to its BCP-47 tag for the x/text catalog.
var tagOf = map[Language]language.Tag{
	French:  language.French,
	English: language.English,
}

func init() {
	for lang, cfg := range registry {
		tag, ok := tagOf[lang]
		if !ok {
			continue
		}
		for key, val := range cfg.Messages {
			message.SetString(tag, key, val)
		}
	}
}

// Get returns the Config for a language, and ok=false if the
// language is not registered.
func Get(lang Language) (*Config, bool) {
	c, ok := registry[lang]
	return c, ok
}

// MustGet returns the Config for a language, falling back to English
// when unregistered — used by callers that cannot fail the request
// over an unknown language code.
func MustGet(lang Language) *Config {
	if c, ok := registry[lang]; ok {
		return c
	}
	return registry[English]
}

// Message resolves a UI message key through the x/text message
// catalog registered for this language, falling back to a raw map
// lookup and finally to def when the key is absent from both.
func (c *Config) Message(key, def string) string {
	if tag, ok := tagOf[c.Language]; ok {
		p := message.NewPrinter(tag)
		if out := p.Sprintf(key); out != key {
			return out
		}
	}
	if v, ok := c.Messages[key]; ok {
		return v
	}
	return def
}

// Languages lists all registered language codes.
func Languages() []Language {
	out := make([]Language, 0, len(registry))
	for l := range registry {
		out = append(out, l)
	}
	return out
}
