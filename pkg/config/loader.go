package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/Nephrolytics-ai/polyglot-stt/pkg/model"
	"github.com/Nephrolytics-ai/polyglot-stt/pkg/utils"
)

// Environment keys. Provider credentials keep their historical names.
const (
	KeyDataDir           = "STT_DATA_DIR"
	KeyStore             = "STT_STORE"
	KeyDatabaseURL       = "STT_DATABASE_URL"
	KeyLogLevel          = "STT_LOG_LEVEL"
	KeyLogFormat         = "STT_LOG_FORMAT"
	KeyOffline           = "STT_OFFLINE"
	KeyProvider          = "STT_PROVIDER"
	KeyAllowFallback     = "STT_ALLOW_FALLBACK"
	KeyOpenAIKey         = "OPEN_API_TOKEN"
	KeyOpenAIBaseURL     = "STT_OPENAI_BASE_URL"
	KeyOpenAIModel       = "STT_OPENAI_MODEL"
	KeyGeminiKey         = "GEMINI_KEY"
	KeyGeminiBaseURL     = "STT_GEMINI_BASE_URL"
	KeyGeminiModel       = "STT_GEMINI_MODEL"
	KeyWhisperAPIKey     = "STT_WHISPER_API_KEY"
	KeyWhisperAPIBaseURL = "STT_WHISPER_API_BASE_URL"
	KeyWhisperAPIModel   = "STT_WHISPER_API_MODEL"
	KeyDeepgramKey       = "DEEPGRAM_API_KEY"
	KeyDeepgramURL       = "STT_DEEPGRAM_URL"
	KeyDeepgramModel     = "STT_DEEPGRAM_MODEL"
	KeyFFmpegPath        = "STT_FFMPEG_PATH"
	KeyWhisperPath       = "STT_WHISPER_PATH"
	KeyModelRef          = "STT_MODEL_REF"
	KeyVADModel          = "STT_VAD_MODEL"
	KeyThreads           = "STT_THREADS"
	KeyRealtimeFactor    = "STT_REALTIME_FACTOR"
	KeyLanguage          = "STT_LANGUAGE"
	KeyTranslate         = "STT_TRANSLATE"
	KeyDiarize           = "STT_DIARIZE"
	KeyVAD               = "STT_VAD"
	KeyInitialPrompt     = "STT_INITIAL_PROMPT"
	KeyPollInterval      = "STT_POLL_INTERVAL"
	KeyRequestTimeout    = "STT_REQUEST_TIMEOUT"
	KeyLiveWindow        = "STT_LIVE_WINDOW_SECONDS"
	KeyLiveHop           = "STT_LIVE_HOP_SECONDS"
)

// Loader loads configuration from environment variables. Tests can override
// Lookup to inject deterministic maps. EnvFiles are consulted for keys Lookup
// does not have.
type Loader struct {
	Lookup   func(string) (string, bool)
	EnvFiles []string
}

// Load reads every key, applies defaults and validates the result.
func (l Loader) Load() (Config, error) {
	lookup := l.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if len(l.EnvFiles) > 0 {
		fileValues, err := readEnvFiles(l.EnvFiles)
		if err != nil {
			return Config{}, utils.WrapIfNotNil(err)
		}
		lookup = chain(lookup, mapLookup(fileValues))
	}

	r := reader{lookup: lookup}
	cfg := Config{
		DataDir:           r.str(KeyDataDir),
		Store:             r.str(KeyStore),
		DatabaseURL:       r.str(KeyDatabaseURL),
		LogLevel:          r.str(KeyLogLevel),
		LogFormat:         r.str(KeyLogFormat),
		OfflineMode:       r.boolean(KeyOffline, false),
		Provider:          model.Provider(strings.ToLower(r.str(KeyProvider))),
		AllowFallback:     r.boolean(KeyAllowFallback, true),
		OpenAIKey:         r.str(KeyOpenAIKey),
		OpenAIBaseURL:     r.str(KeyOpenAIBaseURL),
		OpenAIModel:       r.str(KeyOpenAIModel),
		GeminiKey:         r.str(KeyGeminiKey),
		GeminiBaseURL:     r.str(KeyGeminiBaseURL),
		GeminiModel:       r.str(KeyGeminiModel),
		WhisperAPIKey:     r.str(KeyWhisperAPIKey),
		WhisperAPIBaseURL: r.str(KeyWhisperAPIBaseURL),
		WhisperAPIModel:   r.str(KeyWhisperAPIModel),
		DeepgramKey:       r.str(KeyDeepgramKey),
		DeepgramURL:       r.str(KeyDeepgramURL),
		DeepgramModel:     r.str(KeyDeepgramModel),
		FFmpegPath:        r.str(KeyFFmpegPath),
		WhisperPath:       r.str(KeyWhisperPath),
		ModelRef:          r.str(KeyModelRef),
		VADModelPath:      r.str(KeyVADModel),
		Threads:           r.integer(KeyThreads),
		RealtimeFactor:    r.float(KeyRealtimeFactor),
		Language:          r.str(KeyLanguage),
		Translate:         r.boolean(KeyTranslate, false),
		Diarize:           r.boolean(KeyDiarize, false),
		VAD:               r.boolean(KeyVAD, false),
		InitialPrompt:     r.str(KeyInitialPrompt),
		PollInterval:      r.duration(KeyPollInterval),
		RequestTimeout:    r.duration(KeyRequestTimeout),
		LiveWindowSeconds: r.float(KeyLiveWindow),
		LiveHopSeconds:    r.float(KeyLiveHop),
	}
	if r.err != nil {
		return Config{}, utils.WrapIfNotNil(r.err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ViperLookup resolves keys through v, which callers bind to command-line flags
// and the environment. Keys v has no value for are reported missing.
func ViperLookup(v *viper.Viper) func(string) (string, bool) {
	return func(key string) (string, bool) {
		if !v.IsSet(key) {
			return "", false
		}
		return v.GetString(key), true
	}
}

func readEnvFiles(paths []string) (map[string]string, error) {
	existing := make([]string, 0, len(paths))
	for _, path := range paths {
		if strings.TrimSpace(path) == "" {
			continue
		}
		if _, err := os.Stat(path); err == nil {
			existing = append(existing, path)
		}
	}
	if len(existing) == 0 {
		return map[string]string{}, nil
	}
	values, err := godotenv.Read(existing...)
	if err != nil {
		return nil, fmt.Errorf("read env files %v: %w", existing, err)
	}
	return values, nil
}

func mapLookup(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}

func chain(lookups ...func(string) (string, bool)) func(string) (string, bool) {
	return func(key string) (string, bool) {
		for _, lookup := range lookups {
			if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
				return value, true
			}
		}
		return "", false
	}
}

// reader records the first malformed value and keeps going.
type reader struct {
	lookup func(string) (string, bool)
	err    error
}

func (r *reader) str(key string) string {
	value, ok := r.lookup(key)
	if !ok {
		return ""
	}
	return strings.TrimSpace(value)
}

func (r *reader) boolean(key string, fallback bool) bool {
	raw := r.str(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		r.fail(key, raw, err)
		return fallback
	}
	return value
}

func (r *reader) integer(key string) int {
	raw := r.str(key)
	if raw == "" {
		return 0
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		r.fail(key, raw, err)
		return 0
	}
	return value
}

func (r *reader) float(key string) float64 {
	raw := r.str(key)
	if raw == "" {
		return 0
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		r.fail(key, raw, err)
		return 0
	}
	return value
}

func (r *reader) duration(key string) time.Duration {
	raw := r.str(key)
	if raw == "" {
		return 0
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		r.fail(key, raw, err)
		return 0
	}
	return value
}

func (r *reader) fail(key string, raw string, err error) {
	if r.err == nil {
		r.err = fmt.Errorf("%w: %s=%q: %v", ErrInvalidConfig, key, raw, err)
	}
}
