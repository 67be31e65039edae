// Package model holds the shared Data Model (§3): types produced and
// consumed across component boundaries (Session, AudioChunk,
// VoiceMetrics, FeedbackItem, CoachingResult, PipelineStats). Kept
// dependency-free so every component package can import it without
// creating cycles.
package model

import "time"

// SessionKind enumerates the supported session kinds.
type SessionKind string

const (
	KindPractice      SessionKind = "practice"
	KindLiveCoaching  SessionKind = "live_coaching"
	KindEvaluation    SessionKind = "evaluation"
	KindTraining      SessionKind = "training"
)

// SessionState is the session lifecycle state (§3 Lifecycle).
type SessionState string

const (
	StateActive    SessionState = "active"
	StatePaused    SessionState = "paused"
	StateCompleted SessionState = "completed"
	StateCancelled SessionState = "cancelled"
	StateExpired   SessionState = "expired"
	StateError     SessionState = "error"
)

// SessionConfig is the immutable-after-create configuration, copied
// by value at session creation (§9 Configuration).
type SessionConfig struct {
	Language                 string        `json:"language"`
	Kind                     SessionKind   `json:"kind"`
	MaxDurationSeconds       int           `json:"max_duration_seconds"`
	AutoPauseSilenceSeconds  float64       `json:"auto_pause_silence_seconds"`
	FeedbackFrequency        int           `json:"feedback_frequency"`
	EnableRealtimeFeedback   bool          `json:"enable_realtime_feedback"`
	EnableDetailedAnalysis   bool          `json:"enable_detailed_analysis"`
	EnableAICoaching         bool          `json:"enable_ai_coaching"`
	StoreAudio               bool          `json:"store_audio"`
	EnableParallelProcessing bool          `json:"enable_parallel_processing"`
	MetricsCalculationInterval int         `json:"metrics_calculation_interval"`
	ChunkTimeoutSeconds      float64       `json:"chunk_timeout_seconds"`
}

// DefaultSessionConfig returns spec-mandated defaults.
func DefaultSessionConfig(language string) SessionConfig {
	return SessionConfig{
		Language:                   language,
		Kind:                       KindPractice,
		MaxDurationSeconds:         1800,
		AutoPauseSilenceSeconds:    15,
		FeedbackFrequency:          5,
		EnableRealtimeFeedback:     true,
		EnableDetailedAnalysis:     true,
		EnableAICoaching:           true,
		StoreAudio:                 false,
		EnableParallelProcessing:   true,
		MetricsCalculationInterval: 3,
		ChunkTimeoutSeconds:        5,
	}
}

// Session is the unit of work (§3).
type Session struct {
	ID          string        `json:"id"`
	UserID      string        `json:"user_id"`
	Title       string        `json:"title,omitempty"`
	Description string        `json:"description,omitempty"`
	Config      SessionConfig `json:"config"`
	State       SessionState  `json:"state"`
	CreatedAt   time.Time     `json:"created_at"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	EndedAt     *time.Time    `json:"ended_at,omitempty"`
	ProcessingErrors int      `json:"processing_errors"`
}

// DurationSeconds returns ended_at-started_at when both are set.
func (s *Session) DurationSeconds() float64 {
	if s.StartedAt == nil || s.EndedAt == nil {
		return 0
	}
	return s.EndedAt.Sub(*s.StartedAt).Seconds()
}

// ExpiresAt returns the expiry instant, created_at + max_duration.
func (s *Session) ExpiresAt() time.Time {
	return s.CreatedAt.Add(time.Duration(s.Config.MaxDurationSeconds) * time.Second)
}

// AudioChunk is canonicalized input to the pipeline: a contiguous
// slice of samples at the canonical rate (§ GLOSSARY Chunk).
type AudioChunk struct {
	SessionID     string    `json:"session_id"`
	ChunkID       string    `json:"chunk_id"`
	ChunkNumber   int       `json:"chunk_number"`
	Samples       []float32 `json:"-"`
	SampleRate    int       `json:"sample_rate"`
	Priority      Priority  `json:"priority"`
	Timestamp     time.Time `json:"timestamp"`
	SequenceNumber uint64   `json:"sequence_number"`
}

// Priority is derived from voice_activity_ratio (§4.5 Priority).
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// PriorityFromActivity derives a Priority from voice_activity_ratio.
func PriorityFromActivity(activityRatio float64) Priority {
	switch {
	case activityRatio < 0.3:
		return PriorityLow
	case activityRatio > 0.8:
		return PriorityHigh
	default:
		return PriorityNormal
	}
}

// SubScore is a language-adapted sub-report (pace/volume/pitch/clarity).
type SubScore struct {
	Score        float64        `json:"score"`
	Label        string         `json:"label,omitempty"`
	IsOptimal    bool           `json:"is_optimal"`
	WordsPerMinute float64      `json:"words_per_minute,omitempty"`
	Extra        map[string]any `json:"extra,omitempty"`
}

// AdvancedMetrics is the rhythm/confidence block of §4.2 step 5.
type AdvancedMetrics struct {
	RhythmRegularity    float64 `json:"rhythm_regularity"`
	PauseEffectiveness  float64 `json:"pause_effectiveness"`
	SpeechContinuity    float64 `json:"speech_continuity"`
	ConfidenceScore     float64 `json:"confidence_score"`
	NervousnessIndicator float64 `json:"nervousness_indicator"`
}

// Segment is a continuous voiced frame range [Start, End).
type Segment struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Trend labels a metric's direction over the sliding window.
type Trend string

const (
	TrendImproving        Trend = "improving"
	TrendDeclining         Trend = "declining"
	TrendStable            Trend = "stable"
	TrendInsufficientData  Trend = "insufficient_data"
)

// VoiceMetrics is the output of VoiceAnalyzer (§3 VoiceMetrics).
type VoiceMetrics struct {
	Duration           float64         `json:"duration"`
	AvgVolume          float64         `json:"avg_volume"`
	VolumeConsistency  float64         `json:"volume_consistency"`
	AvgPitch           float64         `json:"avg_pitch"`
	PitchVariance      float64         `json:"pitch_variance"`
	SpectralCentroid   float64         `json:"spectral_centroid"`
	Tempo              float64         `json:"tempo"`
	ZeroCrossingRate   float64         `json:"zero_crossing_rate"`
	SpectralRolloff    float64         `json:"spectral_rolloff"`
	VoiceActivityRatio float64         `json:"voice_activity_ratio"`
	SpeechSegments     []Segment       `json:"speech_segments"`
	EstimatedWords     int             `json:"estimated_words"`
	ClarityScore       float64         `json:"clarity_score"`
	PaceWPM            float64         `json:"pace_wpm"`

	PaceAnalysis    SubScore `json:"pace_analysis"`
	VolumeAnalysis  SubScore `json:"volume_analysis"`
	PitchAnalysis   SubScore `json:"pitch_analysis"`
	ClarityAnalysis SubScore `json:"clarity_analysis"`

	PaceTrend    Trend `json:"pace_trend"`
	VolumeTrend  Trend `json:"volume_trend"`
	ClarityTrend Trend `json:"clarity_trend"`

	LanguageScore   float64         `json:"language_specific_score"`
	AdvancedMetrics AdvancedMetrics `json:"advanced_metrics"`

	Language string `json:"language"`
}

// FeedbackSeverity is the severity of a FeedbackItem.
type FeedbackSeverity string

const (
	SeverityInfo     FeedbackSeverity = "info"
	SeverityWarning  FeedbackSeverity = "warning"
	SeverityCritical FeedbackSeverity = "critical"
	SeverityPositive FeedbackSeverity = "positive"
)

// FeedbackType enumerates the category of a FeedbackItem.
type FeedbackType string

const (
	FeedbackPace       FeedbackType = "pace"
	FeedbackVolume     FeedbackType = "volume"
	FeedbackClarity    FeedbackType = "clarity"
	FeedbackStructure  FeedbackType = "structure"
	FeedbackEngagement FeedbackType = "engagement"
	FeedbackConfidence FeedbackType = "confidence"
)

// FeedbackSource identifies how a FeedbackItem was produced.
type FeedbackSource string

const (
	SourceRule     FeedbackSource = "rule"
	SourceLLM      FeedbackSource = "llm"
	SourceFallback FeedbackSource = "fallback"
)

// FeedbackItem is one piece of coaching feedback (§3 FeedbackItem).
type FeedbackItem struct {
	ID                   string           `json:"id"`
	Type                 FeedbackType     `json:"type"`
	Severity             FeedbackSeverity `json:"severity"`
	ShortMessage         string           `json:"short_message"`
	ActionableSuggestion string           `json:"actionable_suggestion"`
	Confidence           float64          `json:"confidence"`
	Source               FeedbackSource   `json:"source"`
	ProducedAt           time.Time        `json:"produced_at"`
	MetricValue          float64          `json:"metric_value,omitempty"`
	TargetRange          string           `json:"target_range,omitempty"`
	Priority             string           `json:"priority,omitempty"`
}

// Improvement is one entry in a CoachingFeedback.Improvements list.
type Improvement struct {
	Area          string `json:"area"`
	CurrentIssue  string `json:"current_issue"`
	ActionableTip string `json:"actionable_tip"`
	WhyImportant  string `json:"why_important"`
}

// CoachingFeedback is the LLM-or-fallback coaching payload of §4.3(b).
type CoachingFeedback struct {
	FeedbackSummary string           `json:"feedback_summary"`
	Strengths       []string         `json:"strengths"`
	Improvements    []Improvement    `json:"improvements"`
	Encouragement   string           `json:"encouragement"`
	NextFocus       string           `json:"next_focus"`
	Source          FeedbackSource   `json:"source"`
}

// Milestone is a one-shot achievement (§ GLOSSARY Milestone).
type Milestone struct {
	Kind      string    `json:"kind"`
	Detail    string    `json:"detail,omitempty"`
	FiredAt   time.Time `json:"fired_at"`
}

// PerformanceMetrics is the MetricsAggregator output block (§4.4).
type PerformanceMetrics struct {
	Category            map[string]CategoryStats `json:"category"`
	OverallQuality       float64                 `json:"overall_quality"`
	ImprovementRate      float64                 `json:"improvement_rate"`
	LearningCurveSlope   float64                 `json:"learning_curve_slope"`
	TrendDirection       Trend                   `json:"trend_direction"`
	Volatility           float64                 `json:"volatility"`
	Momentum             float64                 `json:"momentum"`
	QuickWins            []string                `json:"quick_wins"`
	LongTermGoals        []string                `json:"long_term_goals"`
	Milestones           []Milestone             `json:"milestones,omitempty"`
}

// CategoryStats is the benchmark comparison for one metric category.
type CategoryStats struct {
	Value            float64 `json:"value"`
	Stability        float64 `json:"stability"`
	PercentileRank   float64 `json:"percentile_rank"`
	ZScore           float64 `json:"z_score"`
	PerformanceLevel string  `json:"performance_level"`
}

// SessionProgress summarizes how a session is trending (§3 CoachingResult).
type SessionProgress struct {
	ChunksProcessed  int     `json:"chunks_processed"`
	ImprovementRate  float64 `json:"improvement_rate"`
	Theme            string  `json:"theme,omitempty"`
}

// PipelineInfo is per-chunk pipeline diagnostic metadata.
type PipelineInfo struct {
	Mode          string  `json:"mode"`
	PipelineTimeMS float64 `json:"pipeline_time_ms"`
}

// CoachingResult is the per-chunk aggregated envelope body (§3).
type CoachingResult struct {
	SessionID          string              `json:"session_id"`
	ChunkID            string              `json:"chunk_id"`
	ChunkNumber        int                 `json:"chunk_number"`
	Timestamp          time.Time           `json:"timestamp"`
	VoiceAnalysis      *VoiceMetrics       `json:"voice_analysis,omitempty"`
	CoachingFeedback   *CoachingFeedback   `json:"coaching_feedback,omitempty"`
	PerformanceMetrics *PerformanceMetrics `json:"performance_metrics,omitempty"`
	RealTimeInsights   []FeedbackItem      `json:"real_time_insights,omitempty"`
	SessionProgress    *SessionProgress    `json:"session_progress,omitempty"`
	PipelineInfo       PipelineInfo        `json:"pipeline_info"`
}

// PipelineStats is the cumulative counters returned by summary() (§3).
type PipelineStats struct {
	ChunksProcessed      int                `json:"chunks_processed"`
	Errors               int                `json:"errors"`
	StageTimeMS          map[string]float64 `json:"stage_time_ms"`
	SuccessRate          float64            `json:"success_rate"`
	AverageChunkMS       float64            `json:"average_chunk_ms"`
	TotalDurationSeconds float64            `json:"total_duration_seconds"`
	ErrorRate            float64            `json:"error_rate"`
	ProcessingEfficiency float64            `json:"processing_efficiency"`
}
