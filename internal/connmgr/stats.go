package connmgr

import "time"

// SessionStats is the per-connection counters block of §4.6 step 2.
type SessionStats struct {
	ConnectedAt          time.Time `json:"connected_at"`
	MessagesReceived     int       `json:"messages_received"`
	AudioChunksProcessed int       `json:"audio_chunks_processed"`
	FeedbackItemsSent    int       `json:"feedback_items_sent"`
	ErrorsCount          int       `json:"errors_count"`
}
