package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nephrolytics-ai/polyglot-stt/pkg/model"
)

func envLookup(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		value, ok := env[key]
		return value, ok
	}
}

func TestLoaderDefaults(t *testing.T) {
	cfg, err := Loader{Lookup: envLookup(nil)}.Load()
	require.NoError(t, err)

	assert.Equal(t, StoreFile, cfg.Store)
	assert.Equal(t, DefaultLogLevel, cfg.LogLevel)
	assert.Equal(t, DefaultLogFormat, cfg.LogFormat)
	assert.Equal(t, model.ProviderLocal, cfg.Provider)
	assert.True(t, cfg.AllowFallback)
	assert.False(t, cfg.OfflineMode)
	assert.Equal(t, DefaultPollInterval, cfg.PollInterval)
	assert.Equal(t, DefaultWindowSeconds, cfg.LiveWindowSeconds)
	assert.Equal(t, DefaultHopSeconds, cfg.LiveHopSeconds)
	assert.NotEmpty(t, cfg.DataDir)
	assert.Equal(t, filepath.Join(cfg.DataDir, "jobs.json"), cfg.JobsDBPath())
}

func TestLoaderOverrides(t *testing.T) {
	cfg, err := Loader{Lookup: envLookup(map[string]string{
		KeyDataDir:        "/var/lib/stt",
		KeyStore:          "Postgres",
		KeyDatabaseURL:    "postgres://localhost/stt",
		KeyLogFormat:      "JSON",
		KeyOffline:        "true",
		KeyProvider:       "OpenAI",
		KeyAllowFallback:  "false",
		KeyOpenAIKey:      "sk-test",
		KeyThreads:        "6",
		KeyRealtimeFactor: "0.25",
		KeyLanguage:       "de",
		KeyTranslate:      "1",
		KeyPollInterval:   "250ms",
		KeyRequestTimeout: "2m",
		KeyLiveWindow:     "8",
		KeyLiveHop:        "2",
	})}.Load()
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/stt", cfg.DataDir)
	assert.Equal(t, StorePostgres, cfg.Store)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.True(t, cfg.OfflineMode)
	assert.Equal(t, model.ProviderOpenAI, cfg.Provider)
	assert.False(t, cfg.AllowFallback)
	assert.Equal(t, 6, cfg.Threads)
	assert.InDelta(t, 0.25, cfg.RealtimeFactor, 1e-9)
	assert.Equal(t, 250*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, 2*time.Minute, cfg.RequestTimeout)
	assert.Equal(t, 8.0, cfg.LiveWindowSeconds)
	assert.Equal(t, 2.0, cfg.LiveHopSeconds)

	settings := cfg.Settings()
	assert.Equal(t, "de", settings.Language)
	assert.Equal(t, model.TaskTranslate, settings.EffectiveTask())

	rc := cfg.ResolverConfig()
	assert.True(t, rc.OfflineMode)
	assert.Equal(t, model.ProviderOpenAI, rc.SelectedProvider)
	assert.Equal(t, "sk-test", rc.Credential)
	assert.False(t, rc.AllowFallback)
}

func TestCredentialFollowsProvider(t *testing.T) {
	cfg := Config{OpenAIKey: "o", GeminiKey: "g", WhisperAPIKey: "w"}

	cfg.Provider = model.ProviderGemini
	assert.Equal(t, "g", cfg.Credential())
	cfg.Provider = model.ProviderWhisperAPI
	assert.Equal(t, "w", cfg.Credential())
	cfg.Provider = model.ProviderLocal
	assert.Empty(t, cfg.Credential())
}

func TestLoaderRejectsInvalidValues(t *testing.T) {
	cases := map[string]map[string]string{
		"bad bool":           {KeyOffline: "maybe"},
		"bad int":            {KeyThreads: "many"},
		"bad duration":       {KeyPollInterval: "soon"},
		"negative threads":   {KeyThreads: "-1"},
		"unknown store":      {KeyStore: "redis"},
		"postgres needs url": {KeyStore: StorePostgres},
		"unknown provider":   {KeyProvider: "azure"},
		"unknown format":     {KeyLogFormat: "xml"},
		"hop above window":   {KeyLiveWindow: "2", KeyLiveHop: "3"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Loader{Lookup: envLookup(env)}.Load()
			require.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestEnvFilesFillMissingKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("GEMINI_KEY=from-file\nSTT_PROVIDER=gemini\nSTT_LANGUAGE=fr\n"), 0o600))

	cfg, err := Loader{
		Lookup:   envLookup(map[string]string{KeyLanguage: "es"}),
		EnvFiles: []string{filepath.Join(dir, "missing.env"), path},
	}.Load()
	require.NoError(t, err)

	assert.Equal(t, model.ProviderGemini, cfg.Provider)
	assert.Equal(t, "from-file", cfg.Credential())
	assert.Equal(t, "es", cfg.Language, "environment wins over env files")
}

func TestViperLookupPrefersChangedFlags(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("provider", "local", "")
	flags.Bool("offline", false, "")
	require.NoError(t, flags.Parse([]string{"--provider=whisper_api"}))

	v := viper.New()
	require.NoError(t, v.BindPFlag(KeyProvider, flags.Lookup("provider")))
	require.NoError(t, v.BindPFlag(KeyOffline, flags.Lookup("offline")))
	v.Set(KeyWhisperAPIKey, "gsk-test")

	cfg, err := Loader{Lookup: ViperLookup(v)}.Load()
	require.NoError(t, err)
	assert.Equal(t, model.ProviderWhisperAPI, cfg.Provider)
	assert.Equal(t, "gsk-test", cfg.Credential())
	assert.False(t, cfg.OfflineMode)
}
