package model

import (
	"context"
	"sort"
)

// Provider names a transcription backend.
type Provider string

const (
	ProviderLocal      Provider = "local"
	ProviderOpenAI     Provider = "openai"
	ProviderGemini     Provider = "gemini"
	ProviderWhisperAPI Provider = "whisper_api"
)

// IsRemote reports whether the provider is reached over the network.
func (p Provider) IsRemote() bool {
	return p != ProviderLocal && p != ""
}

// KnownProviders lists every provider the engines package can construct.
func KnownProviders() []Provider {
	return []Provider{ProviderLocal, ProviderOpenAI, ProviderGemini, ProviderWhisperAPI}
}

// ParseProvider maps a configuration value to a Provider. Unknown values return false.
func ParseProvider(raw string) (Provider, bool) {
	for _, p := range KnownProviders() {
		if string(p) == raw {
			return p, true
		}
	}
	return "", false
}

// Capabilities is resolved once when an engine is constructed.
type Capabilities struct {
	OnDevice          bool
	Translation       bool
	Diarization       bool
	SegmentTimestamps bool
}

// ProgressFunc receives engine progress in [0,1].
type ProgressFunc func(progress float64)

// Engine is the contract shared by the local and remote transcription backends.
type Engine interface {
	Provider() Provider
	Capabilities() Capabilities
	// Transcribe runs one inference over a prepared audio file. Implementations
	// must call progress only with values in [0,1]; progress may be nil.
	Transcribe(ctx context.Context, audioPath string, settings Settings, engineCtx EngineContext, progress ProgressFunc) (Result, error)
}

// Segment is a timestamped span of transcribed text. Times are seconds.
type Segment struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Text    string  `json:"text"`
	Speaker string  `json:"speaker,omitempty"`
}

// Result is the outcome of one engine call.
type Result struct {
	Text     string         `json:"text"`
	Segments []Segment      `json:"segments"`
	Language string         `json:"language,omitempty"`
	Duration float64        `json:"duration"`
	Provider Provider       `json:"provider,omitempty"`
	Model    string         `json:"model,omitempty"`
	Metadata ResultMetadata `json:"metadata,omitempty"`
}

// Clone returns a deep copy of the result.
func (r Result) Clone() Result {
	cloned := r
	if r.Segments != nil {
		cloned.Segments = append([]Segment(nil), r.Segments...)
	}
	if r.Metadata != nil {
		cloned.Metadata = make(ResultMetadata, len(r.Metadata))
		for k, v := range r.Metadata {
			cloned.Metadata[k] = v
		}
	}
	return cloned
}

// SortSegments orders segments by start time, keeping the original order for ties.
func SortSegments(segments []Segment) {
	sort.SliceStable(segments, func(i, j int) bool {
		return segments[i].Start < segments[j].Start
	})
}

type ResultMetadata map[string]string

const (
	MetadataKeyProvider      = "provider"
	MetadataKeyModel         = "model"
	MetadataKeyLatencyMs     = "latency_ms"
	MetadataKeyAttempts      = "attempts"
	MetadataKeyUploadMode    = "upload_mode"
	MetadataKeyModelFallback = "model_fallback"
	MetadataKeyFallbackFrom  = "fallback_from"
	MetadataKeyFallbackError = "fallback_error"
)
