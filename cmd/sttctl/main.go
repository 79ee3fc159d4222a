package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Nephrolytics-ai/polyglot-stt/pkg/app"
	"github.com/Nephrolytics-ai/polyglot-stt/pkg/config"
	"github.com/Nephrolytics-ai/polyglot-stt/pkg/logging"
	"github.com/Nephrolytics-ai/polyglot-stt/pkg/utils"
)

var (
	v        = viper.New()
	envFiles []string
)

var rootCmd = &cobra.Command{
	Use:           "sttctl",
	Short:         "Queue, inspect and run speech-to-text jobs",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringSliceVar(&envFiles, "env-file", defaultEnvFiles(), "Dotenv files read for keys missing from the environment")
	flags.String("data-dir", "", "Directory for staged audio and the job database")
	flags.String("store", "", "Job store: memory, file or postgres")
	flags.String("database-url", "", "Postgres connection string for --store=postgres")
	flags.String("provider", "", "Transcription provider: local, openai, gemini or whisper_api")
	flags.Bool("offline", false, "Never call remote providers")
	flags.Bool("allow-fallback", true, "Retry on device when the remote provider fails")
	flags.String("language", "", "Spoken language hint, empty or auto to detect")
	flags.String("model", "", "On-device model file or directory")
	flags.String("log-level", "", "Log level")
	flags.String("log-format", "", "Log format: text or json")

	bind := map[string]string{
		config.KeyDataDir:       "data-dir",
		config.KeyStore:         "store",
		config.KeyDatabaseURL:   "database-url",
		config.KeyProvider:      "provider",
		config.KeyOffline:       "offline",
		config.KeyAllowFallback: "allow-fallback",
		config.KeyLanguage:      "language",
		config.KeyModelRef:      "model",
		config.KeyLogLevel:      "log-level",
		config.KeyLogFormat:     "log-format",
	}
	for key, flag := range bind {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			panic(err)
		}
	}
	v.AutomaticEnv()

	rootCmd.AddCommand(transcribeCmd, jobsCmd, retryCmd, cancelCmd, rmCmd, liveCmd, mcpCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Loader{Lookup: config.ViperLookup(v), EnvFiles: envFiles}.Load()
	if err != nil {
		return config.Config{}, utils.WrapIfNotNil(err)
	}
	if err := logging.Configure(cfg.LogLevel, cfg.LogFormat, nil); err != nil {
		return config.Config{}, utils.WrapIfNotNil(err)
	}
	return cfg, nil
}

// openApp builds the application; the caller decides whether queued work resumes.
func openApp(ctx context.Context) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	a, err := app.New(ctx, cfg)
	if err != nil {
		return nil, utils.WrapIfNotNil(err)
	}
	return a, nil
}

func defaultEnvFiles() []string {
	files := []string{".env"}
	if home, err := os.UserHomeDir(); err == nil {
		files = append(files, filepath.Join(home, ".env"))
	}
	return files
}
