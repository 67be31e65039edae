package connmgr

import "encoding/json"

// inboundMessage is the generic client→server envelope shape:
// {type, ...typed fields, timestamp} (§6).
type inboundMessage struct {
	Type string `json:"type"`

	AudioDataBase64 string  `json:"audio_data_base64,omitempty"`
	SampleRate      int     `json:"sample_rate,omitempty"`
	SequenceNumber  uint64  `json:"sequence_number,omitempty"`

	Command string `json:"command,omitempty"`

	Config json.RawMessage `json:"config,omitempty"`
}

// configUpdate is the whitelisted subset of §4.6's config_update
// message — any field outside this set is ignored, not rejected.
type configUpdate struct {
	EnableParallelProcessing   *bool `json:"enable_parallel_processing,omitempty"`
	FeedbackFrequency          *int  `json:"feedback_frequency,omitempty"`
	MetricsCalculationInterval *int  `json:"metrics_calculation_interval,omitempty"`
}

// outboundEnvelope is the generic server→client envelope. Only one of
// the typed payload fields is set per message.
type outboundEnvelope struct {
	Type      string      `json:"type"`
	Timestamp string      `json:"timestamp"`
	Payload   any         `json:"payload,omitempty"`
	Priority  string      `json:"priority,omitempty"`
}

const (
	msgAudioChunk      = "audio_chunk"
	msgControlCommand  = "control_command"
	msgConfigUpdate    = "config_update"
	msgHeartbeat       = "heartbeat"
	msgRequestSummary  = "request_summary"

	cmdStartSession  = "start_session"
	cmdPauseSession  = "pause_session"
	cmdResumeSession = "resume_session"
	cmdEndSession    = "end_session"
)

const (
	envSessionInitialized = "session_initialized"
	envSessionStarted     = "session_started"
	envSessionPaused      = "session_paused"
	envSessionResumed     = "session_resumed"
	envSessionEnded       = "session_ended"
	envConfigUpdated      = "config_updated"
	envHeartbeatResponse  = "heartbeat_response"
	envError              = "error"
)
