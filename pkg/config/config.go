// Package config loads runtime configuration from flags, the environment and
// .env files.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Nephrolytics-ai/polyglot-stt/pkg/model"
	"github.com/Nephrolytics-ai/polyglot-stt/pkg/resolver"
	"github.com/Nephrolytics-ai/polyglot-stt/pkg/utils"
)

const (
	StoreMemory   = "memory"
	StoreFile     = "file"
	StorePostgres = "postgres"

	DefaultStore         = StoreFile
	DefaultLogLevel      = "info"
	DefaultLogFormat     = "text"
	DefaultFFmpegPath    = "ffmpeg"
	DefaultPollInterval  = 100 * time.Millisecond
	DefaultWindowSeconds = 12.0
	DefaultHopSeconds    = 3.0
	defaultDataDirName   = ".polyglot-stt"
)

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	DataDir     string
	Store       string
	DatabaseURL string `json:"-"`
	LogLevel    string
	LogFormat   string

	OfflineMode   bool
	Provider      model.Provider
	AllowFallback bool

	OpenAIKey     string `json:"-"`
	OpenAIBaseURL string
	OpenAIModel   string

	GeminiKey     string `json:"-"`
	GeminiBaseURL string
	GeminiModel   string

	WhisperAPIKey     string `json:"-"`
	WhisperAPIBaseURL string
	WhisperAPIModel   string

	DeepgramKey   string `json:"-"`
	DeepgramURL   string
	DeepgramModel string

	FFmpegPath     string
	WhisperPath    string
	ModelRef       string
	VADModelPath   string
	Threads        int
	RealtimeFactor float64

	Language      string
	Translate     bool
	Diarize       bool
	VAD           bool
	InitialPrompt string

	PollInterval   time.Duration
	RequestTimeout time.Duration

	LiveWindowSeconds float64
	LiveHopSeconds    float64
}

// Validate fills defaults and rejects values no component can run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = defaultDataDir()
	}
	c.Store = strings.ToLower(strings.TrimSpace(c.Store))
	if c.Store == "" {
		c.Store = DefaultStore
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	if c.LogFormat == "" {
		c.LogFormat = DefaultLogFormat
	}
	if c.Provider == "" {
		c.Provider = model.ProviderLocal
	}
	if c.FFmpegPath == "" {
		c.FFmpegPath = DefaultFFmpegPath
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.LiveWindowSeconds == 0 {
		c.LiveWindowSeconds = DefaultWindowSeconds
	}
	if c.LiveHopSeconds == 0 {
		c.LiveHopSeconds = DefaultHopSeconds
	}

	switch c.Store {
	case StoreMemory, StoreFile:
	case StorePostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return invalid("store %q needs a database url", c.Store)
		}
	default:
		return invalid("unknown store %q", c.Store)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return invalid("unknown log format %q", c.LogFormat)
	}
	if _, ok := model.ParseProvider(string(c.Provider)); !ok {
		return invalid("unknown provider %q", c.Provider)
	}
	if c.Threads < 0 {
		return invalid("threads must not be negative, got %d", c.Threads)
	}
	if c.RealtimeFactor < 0 {
		return invalid("realtime factor must not be negative, got %v", c.RealtimeFactor)
	}
	if c.RequestTimeout < 0 {
		return invalid("request timeout must not be negative, got %v", c.RequestTimeout)
	}
	if c.LiveWindowSeconds < 0 || c.LiveHopSeconds < 0 {
		return invalid("live window and hop must be positive")
	}
	if c.LiveHopSeconds > c.LiveWindowSeconds {
		return invalid("live hop %.1fs exceeds window %.1fs", c.LiveHopSeconds, c.LiveWindowSeconds)
	}
	return nil
}

// Credential returns the key for the selected provider, empty for local.
func (c Config) Credential() string {
	switch c.Provider {
	case model.ProviderOpenAI:
		return c.OpenAIKey
	case model.ProviderGemini:
		return c.GeminiKey
	case model.ProviderWhisperAPI:
		return c.WhisperAPIKey
	default:
		return ""
	}
}

func (c Config) ResolverConfig() resolver.Config {
	return resolver.Config{
		OfflineMode:      c.OfflineMode,
		SelectedProvider: c.Provider,
		Credential:       c.Credential(),
		AllowFallback:    c.AllowFallback,
	}
}

func (c Config) Settings() model.Settings {
	return model.ResolveSettings(
		model.WithModelRef(c.ModelRef),
		model.WithLanguage(c.Language),
		model.WithTranslate(c.Translate),
		model.WithDiarize(c.Diarize),
		model.WithVAD(c.VAD),
		model.WithInitialPrompt(c.InitialPrompt),
	)
}

// JobsDBPath is the JSON document used by the file store.
func (c Config) JobsDBPath() string {
	return filepath.Join(c.DataDir, "jobs.json")
}

func invalid(format string, args ...any) error {
	return utils.WrapIfNotNil(fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...)))
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return defaultDataDirName
	}
	return filepath.Join(home, defaultDataDirName)
}
