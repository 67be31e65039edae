// Package upstream implements UpstreamBridge (C7): a uniform wrapper
// over the LLM, TTS, and avatar upstream families, with engine
// routing, retry policy, and error normalization per §4.7.
package upstream
