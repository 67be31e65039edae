package main

import (
	"github.com/hubenschmidt/coachserver/internal/env"
)

// config holds every deployment knob, loaded from the environment
// (§9 Configuration). There is no config file layer here, unlike the
// teacher's gateway.json — this server has no per-tenant tuning that
// needs to live outside env vars.
type config struct {
	Port string

	OllamaURL   string
	OllamaModel string

	TTSBaseURL      string
	TTSDefaultVoice string

	AvatarFallbackURL     string
	AvatarFallbackEnabled bool

	PostgresURL string
	SQLitePath  string

	CanonicalSampleRate int
	AudioChunkTimeoutMS int
	HeartbeatIntervalMS int
}

func loadConfig() config {
	return config{
		Port: env.Str("COACHSERVER_PORT", "8000"),

		OllamaURL:   env.Str("OLLAMA_URL", "http://localhost:11434"),
		OllamaModel: env.Str("OLLAMA_MODEL", "llama3.2:3b"),

		TTSBaseURL:      env.Str("TTS_URL", "http://localhost:5002"),
		TTSDefaultVoice: env.Str("TTS_DEFAULT_VOICE", "en_US-lessac-low"),

		AvatarFallbackURL:     env.Str("AVATAR_URL_FALLBACK", ""),
		AvatarFallbackEnabled: env.Bool("AVATAR_URL_FALLBACK_ENABLED", false),

		PostgresURL: env.Str("POSTGRES_URL", ""),
		SQLitePath:  env.Str("SQLITE_PATH", "coachserver.db"),

		CanonicalSampleRate: env.Int("CANONICAL_SAMPLE_RATE", 16000),
		AudioChunkTimeoutMS: env.Int("AUDIO_CHUNK_TIMEOUT_MS", 5000),
		HeartbeatIntervalMS: env.Int("HEARTBEAT_INTERVAL_MS", 30000),
	}
}
