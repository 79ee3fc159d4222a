package model

import "strings"

// Task selects between transcription in the spoken language and translation to English.
type Task string

const (
	TaskTranscribe Task = "transcribe"
	TaskTranslate  Task = "translate"
)

// Settings carries the recognized transcription options.
type Settings struct {
	ModelRef string `json:"model_ref,omitempty"`
	// Language is a BCP-47 / ISO-639-1 hint; empty or "auto" means detect.
	Language        string   `json:"language,omitempty"`
	Translate       bool     `json:"translate,omitempty"`
	Temperature     *float64 `json:"temperature,omitempty"`
	BeamSize        *int     `json:"beam_size,omitempty"`
	BestOf          *int     `json:"best_of,omitempty"`
	SuppressPattern string   `json:"suppress_pattern,omitempty"`
	InitialPrompt   string   `json:"initial_prompt,omitempty"`
	VAD             bool     `json:"vad,omitempty"`
	Diarize         bool     `json:"diarize,omitempty"`
	// DurationEstimate is the expected audio length in seconds, used for progress.
	DurationEstimate   float64 `json:"duration_estimate,omitempty"`
	PreferredTask      Task    `json:"preferred_task,omitempty"`
	PreserveTimestamps bool    `json:"preserve_timestamps,omitempty"`
}

// EffectiveTask folds Translate into PreferredTask.
func (s Settings) EffectiveTask() Task {
	if s.Translate || s.PreferredTask == TaskTranslate {
		return TaskTranslate
	}
	return TaskTranscribe
}

// LanguageHint returns the language to send to an engine, or "" for auto-detect.
func (s Settings) LanguageHint() string {
	lang := strings.TrimSpace(s.Language)
	if lang == "" || strings.EqualFold(lang, "auto") {
		return ""
	}
	return lang
}

// EngineContext is built for a single engine attempt and never persisted.
type EngineContext struct {
	ModelRef      string
	PreferredTask Task
	Credential    string `json:"-"`
}

type SettingsOption interface {
	apply(*Settings)
}

type settingsOptionFunc func(*Settings)

func (f settingsOptionFunc) apply(s *Settings) {
	f(s)
}

func ResolveSettings(opts ...SettingsOption) Settings {
	s := Settings{PreferredTask: TaskTranscribe}
	for _, opt := range opts {
		if opt != nil {
			opt.apply(&s)
		}
	}
	return s
}

func WithModelRef(value string) SettingsOption {
	return settingsOptionFunc(func(s *Settings) {
		s.ModelRef = value
	})
}

func WithLanguage(value string) SettingsOption {
	return settingsOptionFunc(func(s *Settings) {
		s.Language = value
	})
}

func WithTranslate(value bool) SettingsOption {
	return settingsOptionFunc(func(s *Settings) {
		s.Translate = value
		if value {
			s.PreferredTask = TaskTranslate
		}
	})
}

func WithTemperature(value float64) SettingsOption {
	return settingsOptionFunc(func(s *Settings) {
		s.Temperature = &value
	})
}

func WithBeamSize(value int) SettingsOption {
	return settingsOptionFunc(func(s *Settings) {
		s.BeamSize = &value
	})
}

func WithBestOf(value int) SettingsOption {
	return settingsOptionFunc(func(s *Settings) {
		s.BestOf = &value
	})
}

func WithSuppressPattern(value string) SettingsOption {
	return settingsOptionFunc(func(s *Settings) {
		s.SuppressPattern = value
	})
}

func WithInitialPrompt(value string) SettingsOption {
	return settingsOptionFunc(func(s *Settings) {
		s.InitialPrompt = value
	})
}

func WithVAD(value bool) SettingsOption {
	return settingsOptionFunc(func(s *Settings) {
		s.VAD = value
	})
}

func WithDiarize(value bool) SettingsOption {
	return settingsOptionFunc(func(s *Settings) {
		s.Diarize = value
	})
}

func WithPreserveTimestamps(value bool) SettingsOption {
	return settingsOptionFunc(func(s *Settings) {
		s.PreserveTimestamps = value
	})
}
