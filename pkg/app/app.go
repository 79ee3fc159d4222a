// Package app wires configuration into a running job manager, its engines and
// the live transcription backends.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mark3labs/mcp-go/server"

	"github.com/Nephrolytics-ai/polyglot-stt/pkg/audio"
	"github.com/Nephrolytics-ai/polyglot-stt/pkg/config"
	"github.com/Nephrolytics-ai/polyglot-stt/pkg/engines/gemini"
	"github.com/Nephrolytics-ai/polyglot-stt/pkg/engines/local"
	"github.com/Nephrolytics-ai/polyglot-stt/pkg/engines/openai"
	"github.com/Nephrolytics-ai/polyglot-stt/pkg/engines/remote"
	"github.com/Nephrolytics-ai/polyglot-stt/pkg/engines/whisperapi"
	"github.com/Nephrolytics-ai/polyglot-stt/pkg/jobs"
	"github.com/Nephrolytics-ai/polyglot-stt/pkg/live"
	"github.com/Nephrolytics-ai/polyglot-stt/pkg/live/deepgram"
	"github.com/Nephrolytics-ai/polyglot-stt/pkg/logging"
	"github.com/Nephrolytics-ai/polyglot-stt/pkg/mcp"
	"github.com/Nephrolytics-ai/polyglot-stt/pkg/model"
	"github.com/Nephrolytics-ai/polyglot-stt/pkg/resolver"
	"github.com/Nephrolytics-ai/polyglot-stt/pkg/store/file"
	"github.com/Nephrolytics-ai/polyglot-stt/pkg/store/memory"
	"github.com/Nephrolytics-ai/polyglot-stt/pkg/store/postgres"
	"github.com/Nephrolytics-ai/polyglot-stt/pkg/utils"
)

type options struct {
	runner     utils.CommandRunner
	store      jobs.Store
	recognizer live.StreamingRecognizer
}

type Option interface {
	apply(*options)
}

type optionFunc func(*options)

func (f optionFunc) apply(o *options) {
	f(o)
}

// WithCommandRunner replaces process execution for ffmpeg and whisper-cli.
func WithCommandRunner(runner utils.CommandRunner) Option {
	return optionFunc(func(o *options) {
		o.runner = runner
	})
}

// WithStore overrides the store selected by configuration.
func WithStore(store jobs.Store) Option {
	return optionFunc(func(o *options) {
		o.store = store
	})
}

// WithRecognizer overrides the Deepgram recognizer built from configuration.
func WithRecognizer(recognizer live.StreamingRecognizer) Option {
	return optionFunc(func(o *options) {
		o.recognizer = recognizer
	})
}

type App struct {
	Config  config.Config
	Manager *jobs.Manager
	Store   jobs.Store

	engines    map[model.Provider]model.Engine
	recognizer live.StreamingRecognizer
	search     mcp.TranscriptSearcher
	closers    []func()
}

// New builds every component named by cfg. The manager is not restored; call Start.
func New(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	log := logging.NewComponentLogger(ctx, "app")

	resolved := options{}
	for _, opt := range opts {
		if opt != nil {
			opt.apply(&resolved)
		}
	}
	if resolved.runner == nil {
		resolved.runner = utils.ExecRunner{}
	}

	for _, dir := range []string{cfg.DataDir, filepath.Join(cfg.DataDir, "work"), filepath.Join(cfg.DataDir, "live")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, utils.WrapIfNotNil(err)
		}
	}

	a := &App{Config: cfg, engines: map[model.Provider]model.Engine{}}

	var indexer jobs.Indexer
	store := resolved.store
	if store == nil {
		var err error
		store, indexer, err = a.openStore(ctx)
		if err != nil {
			return nil, utils.WrapIfNotNil(err)
		}
	}
	a.Store = store

	engines, err := buildEngines(cfg, resolved.runner)
	if err != nil {
		a.Close()
		return nil, utils.WrapIfNotNil(err)
	}
	for _, engine := range engines {
		a.engines[engine.Provider()] = engine
	}

	preparer := audio.NewFFmpegPreparer(cfg.FFmpegPath, filepath.Join(cfg.DataDir, "prepared"), resolved.runner)
	manager, err := jobs.NewManager(jobs.Config{
		DataDir:      cfg.DataDir,
		PollInterval: cfg.PollInterval,
		Settings:     cfg.Settings,
		Resolver:     cfg.ResolverConfig,
	}, store, preparer, engines, indexer)
	if err != nil {
		a.Close()
		return nil, utils.WrapIfNotNil(err)
	}
	a.Manager = manager

	a.recognizer = resolved.recognizer
	if a.recognizer == nil && cfg.DeepgramKey != "" {
		a.recognizer = deepgram.New(deepgram.Config{
			APIKey: cfg.DeepgramKey,
			URL:    cfg.DeepgramURL,
			Model:  cfg.DeepgramModel,
		})
	}

	log.Infof("app_ready store=%s provider=%s offline=%v engines=%d streaming=%v",
		cfg.Store, cfg.Provider, cfg.OfflineMode, len(engines), a.recognizer != nil)
	return a, nil
}

// Start restores persisted jobs and resumes queued work.
func (a *App) Start(ctx context.Context) error {
	return utils.WrapIfNotNil(a.Manager.Restore(ctx))
}

// Engine returns the engine registered for provider, or nil.
func (a *App) Engine(provider model.Provider) model.Engine {
	return a.engines[provider]
}

// NewLiveTranscriber builds a live transcriber over the engine the resolver selects.
func (a *App) NewLiveTranscriber(ctx context.Context, delegate live.Delegate) (live.Transcriber, error) {
	settings := a.Config.Settings()
	res := resolver.Resolve(ctx, a.Config.ResolverConfig())

	engine := a.engines[res.Provider]
	if engine == nil {
		return nil, utils.WrapIfNotNil(fmt.Errorf("%w: no engine for provider %s", model.ErrModelUnavailable, res.Provider))
	}
	engineCtx := model.EngineContext{
		PreferredTask: settings.EffectiveTask(),
		Credential:    res.Credential,
	}
	if res.Provider == model.ProviderLocal {
		engineCtx.ModelRef = settings.ModelRef
	}

	return live.New(ctx, live.Options{
		Engine:     engine,
		Recognizer: a.recognizer,
		Config: live.Config{
			WindowSeconds: a.Config.LiveWindowSeconds,
			HopSeconds:    a.Config.LiveHopSeconds,
			TempDir:       filepath.Join(a.Config.DataDir, "live"),
			Settings:      settings,
			EngineContext: engineCtx,
		},
		Delegate: delegate,
	})
}

// MCPServer exposes the manager, plus transcript search when the store supports it.
func (a *App) MCPServer() (*server.MCPServer, error) {
	opts := []mcp.Option{}
	if a.search != nil {
		opts = append(opts, mcp.WithSearcher(a.search))
	}
	return mcp.NewServer(a.Manager, opts...)
}

// Close stops the manager and releases the store.
func (a *App) Close() {
	if a.Manager != nil {
		a.Manager.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *App) openStore(ctx context.Context) (jobs.Store, jobs.Indexer, error) {
	switch a.Config.Store {
	case config.StoreMemory:
		return memory.New(), nil, nil
	case config.StoreFile, "":
		return file.New(a.Config.JobsDBPath()), nil, nil
	case config.StorePostgres:
		pg, err := postgres.Open(ctx, a.Config.DatabaseURL)
		if err != nil {
			return nil, nil, utils.WrapIfNotNil(err)
		}
		a.closers = append(a.closers, pg.Close)
		a.search = pg
		return pg, pg, nil
	default:
		return nil, nil, utils.WrapIfNotNil(fmt.Errorf("%w: unknown store %q", config.ErrInvalidConfig, a.Config.Store))
	}
}

func buildEngines(cfg config.Config, runner utils.CommandRunner) ([]model.Engine, error) {
	policy := remote.Policy{RequestTimeout: cfg.RequestTimeout}

	geminiEngine, err := gemini.New(gemini.Config{
		BaseURL: cfg.GeminiBaseURL,
		Model:   cfg.GeminiModel,
		Policy:  policy,
	})
	if err != nil {
		return nil, utils.WrapIfNotNil(err)
	}

	return []model.Engine{
		local.New(local.Config{
			WhisperPath:    cfg.WhisperPath,
			ModelRef:       cfg.ModelRef,
			VADModelPath:   cfg.VADModelPath,
			Threads:        cfg.Threads,
			RealtimeFactor: cfg.RealtimeFactor,
			WorkDir:        filepath.Join(cfg.DataDir, "work"),
		}, runner),
		openai.New(openai.Config{
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.OpenAIModel,
			Policy:  policy,
		}),
		geminiEngine,
		whisperapi.New(whisperapi.Config{
			BaseURL: cfg.WhisperAPIBaseURL,
			Model:   cfg.WhisperAPIModel,
			Policy:  policy,
		}),
	}, nil
}
