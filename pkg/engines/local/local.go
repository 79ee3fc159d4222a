// Package local runs on-device inference through the whisper.cpp command line.
package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Nephrolytics-ai/polyglot-stt/pkg/logging"
	"github.com/Nephrolytics-ai/polyglot-stt/pkg/model"
	"github.com/Nephrolytics-ai/polyglot-stt/pkg/transcript"
	"github.com/Nephrolytics-ai/polyglot-stt/pkg/utils"
)

const (
	defaultWhisperPath    = "whisper-cli"
	defaultRealtimeFactor = 0.5
	defaultTickInterval   = 500 * time.Millisecond
)

// Config describes how the whisper.cpp binary is invoked.
type Config struct {
	WhisperPath string
	// ModelRef is used when neither the settings nor the engine context name a model.
	ModelRef     string
	VADModelPath string
	Threads      int
	// RealtimeFactor is the expected inference time per second of audio.
	RealtimeFactor float64
	TickInterval   time.Duration
	WorkDir        string
}

type Engine struct {
	cfg    Config
	runner utils.CommandRunner
	caps   model.Capabilities
}

func New(cfg Config, runner utils.CommandRunner) *Engine {
	if strings.TrimSpace(cfg.WhisperPath) == "" {
		cfg.WhisperPath = defaultWhisperPath
	}
	if cfg.RealtimeFactor <= 0 {
		cfg.RealtimeFactor = defaultRealtimeFactor
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = defaultTickInterval
	}
	if runner == nil {
		runner = utils.ExecRunner{}
	}

	return &Engine{
		cfg:    cfg,
		runner: runner,
		caps: model.Capabilities{
			OnDevice:          true,
			Translation:       true,
			Diarization:       true,
			SegmentTimestamps: true,
		},
	}
}

func (e *Engine) Provider() model.Provider {
	return model.ProviderLocal
}

func (e *Engine) Capabilities() model.Capabilities {
	return e.caps
}

func (e *Engine) Transcribe(
	ctx context.Context,
	audioPath string,
	settings model.Settings,
	engineCtx model.EngineContext,
	progress model.ProgressFunc,
) (model.Result, error) {
	start := time.Now()
	log := logging.NewComponentLogger(ctx, "engine.local")

	modelPath, err := resolveModelPath(e.resolveModelRef(settings, engineCtx))
	if err != nil {
		log.Errorf("model_resolve_failed error=%v", err)
		return model.Result{}, utils.WrapIfNotNil(err)
	}

	workDir, err := os.MkdirTemp(e.cfg.WorkDir, "whisper-*")
	if err != nil {
		return model.Result{}, utils.WrapIfNotNil(fmt.Errorf("%w: %w", model.ErrInferenceFailure, err))
	}
	defer func() {
		_ = os.RemoveAll(workDir)
	}()

	outBase := filepath.Join(workDir, "transcript")
	args := e.buildWhisperArgs(modelPath, audioPath, outBase, settings, engineCtx)
	log.Infof("whisper_start model=%q audio=%q task=%s", filepath.Base(modelPath), audioPath, taskFor(settings, engineCtx))

	stopTicker := e.startProgressTicker(settings.DurationEstimate, progress)
	cmdResult, runErr := e.runner.Run(ctx, e.cfg.WhisperPath, args...)
	stopTicker()

	if runErr != nil {
		if ctx.Err() != nil {
			return model.Result{}, utils.WrapIfNotNil(fmt.Errorf("%w: %w", model.ErrCancelled, ctx.Err()))
		}
		log.Errorf("whisper_failed exit=%d stderr=%q", cmdResult.ExitCode, cmdResult.StderrTail(400))
		return model.Result{}, utils.WrapIfNotNil(fmt.Errorf(
			"%w: whisper exit %d: %s", model.ErrInferenceFailure, cmdResult.ExitCode, cmdResult.StderrTail(300),
		))
	}

	raw, err := os.ReadFile(outBase + ".json")
	if err != nil {
		return model.Result{}, utils.WrapIfNotNil(fmt.Errorf("%w: missing json output: %w", model.ErrInferenceFailure, err))
	}
	result, err := parseWhisperJSON(raw)
	if err != nil {
		return model.Result{}, utils.WrapIfNotNil(fmt.Errorf("%w: %w", model.ErrInferenceFailure, err))
	}

	result.Provider = model.ProviderLocal
	result.Model = filepath.Base(modelPath)
	if result.Language == "" {
		result.Language = settings.LanguageHint()
	}
	if settings.DurationEstimate > 0 {
		result.Duration = settings.DurationEstimate
	}
	result = transcript.Finalize(result, settings)
	result.Metadata = model.ResultMetadata{
		model.MetadataKeyProvider:  string(model.ProviderLocal),
		model.MetadataKeyModel:     result.Model,
		model.MetadataKeyLatencyMs: strconv.FormatInt(time.Since(start).Milliseconds(), 10),
	}

	if progress != nil {
		progress(1)
	}
	log.Infof("whisper_done segments=%d duration=%.2f latency_ms=%s", len(result.Segments), result.Duration, result.Metadata[model.MetadataKeyLatencyMs])
	return result, nil
}

func (e *Engine) resolveModelRef(settings model.Settings, engineCtx model.EngineContext) string {
	for _, candidate := range []string{engineCtx.ModelRef, settings.ModelRef, e.cfg.ModelRef} {
		if ref := strings.TrimSpace(candidate); ref != "" {
			return ref
		}
	}
	return ""
}

// startProgressTicker reports elapsed/estimated time until the returned stop func is called.
func (e *Engine) startProgressTicker(durationEstimate float64, progress model.ProgressFunc) func() {
	if progress == nil || durationEstimate <= 0 {
		return func() {}
	}

	estimatedTotal := time.Duration(durationEstimate * e.cfg.RealtimeFactor * float64(time.Second))
	if estimatedTotal <= 0 {
		return func() {}
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(e.cfg.TickInterval)
		defer ticker.Stop()
		started := time.Now()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				progress(clamp01(float64(time.Since(started)) / float64(estimatedTotal)))
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			wg.Wait()
		})
	}
}

func (e *Engine) buildWhisperArgs(
	modelPath string,
	audioPath string,
	outBase string,
	settings model.Settings,
	engineCtx model.EngineContext,
) []string {
	args := []string{
		"-m", modelPath,
		"-f", audioPath,
		"-of", outBase,
		"-oj",
		"-np",
	}

	if lang := settings.LanguageHint(); lang != "" {
		args = append(args, "-l", lang)
	} else {
		args = append(args, "-l", "auto")
	}
	if taskFor(settings, engineCtx) == model.TaskTranslate {
		args = append(args, "-tr")
	}
	if e.cfg.Threads > 0 {
		args = append(args, "-t", strconv.Itoa(e.cfg.Threads))
	}
	if settings.Temperature != nil {
		args = append(args, "-tp", strconv.FormatFloat(*settings.Temperature, 'f', -1, 64))
	}
	if settings.BeamSize != nil && *settings.BeamSize > 0 {
		args = append(args, "-bs", strconv.Itoa(*settings.BeamSize))
	}
	if settings.BestOf != nil && *settings.BestOf > 0 {
		args = append(args, "-bo", strconv.Itoa(*settings.BestOf))
	}
	if prompt := strings.TrimSpace(settings.InitialPrompt); prompt != "" {
		args = append(args, "--prompt", prompt)
	}
	if pattern := strings.TrimSpace(settings.SuppressPattern); pattern != "" {
		args = append(args, "--suppress-regex", pattern)
	}
	if settings.Diarize {
		args = append(args, "-tdrz")
	}
	if settings.VAD && strings.TrimSpace(e.cfg.VADModelPath) != "" {
		args = append(args, "--vad", "--vad-model", e.cfg.VADModelPath)
	}

	return args
}

func taskFor(settings model.Settings, engineCtx model.EngineContext) model.Task {
	if engineCtx.PreferredTask == model.TaskTranslate {
		return model.TaskTranslate
	}
	return settings.EffectiveTask()
}

// resolveModelPath returns model file path from file or directory input.
func resolveModelPath(rawPath string) (string, error) {
	modelPath := strings.TrimSpace(rawPath)
	if modelPath == "" {
		return "", fmt.Errorf("%w: model path is required", model.ErrModelLoadingFailed)
	}

	info, err := os.Stat(modelPath)
	if err != nil {
		return "", fmt.Errorf("%w: cannot access model path: %s", model.ErrModelLoadingFailed, modelPath)
	}
	if !info.IsDir() {
		if info.Size() == 0 {
			return "", fmt.Errorf("%w: model file is empty: %s", model.ErrModelLoadingFailed, modelPath)
		}
		return modelPath, nil
	}

	entries, err := os.ReadDir(modelPath)
	if err != nil {
		return "", fmt.Errorf("%w: cannot read model directory: %s", model.ErrModelLoadingFailed, modelPath)
	}

	modelNames := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext == ".bin" || ext == ".gguf" {
			modelNames = append(modelNames, entry.Name())
		}
	}
	if len(modelNames) == 0 {
		return "", fmt.Errorf("%w: no .bin or .gguf model files found in: %s", model.ErrModelLoadingFailed, modelPath)
	}

	sort.Strings(modelNames)
	return filepath.Join(modelPath, modelNames[0]), nil
}

type whisperOutput struct {
	Result struct {
		Language string `json:"language"`
	} `json:"result"`
	Transcription []whisperSegment `json:"transcription"`
}

type whisperSegment struct {
	Offsets struct {
		From int64 `json:"from"`
		To   int64 `json:"to"`
	} `json:"offsets"`
	Text            string `json:"text"`
	SpeakerTurnNext bool   `json:"speaker_turn_next"`
}

// parseWhisperJSON reads the file written by whisper-cli -oj. Offsets are milliseconds.
func parseWhisperJSON(raw []byte) (model.Result, error) {
	var out whisperOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return model.Result{}, utils.WrapIfNotNil(err)
	}
	if out.Transcription == nil {
		return model.Result{}, utils.WrapIfNotNil(errors.New("whisper output has no transcription array"))
	}

	segments := make([]model.Segment, 0, len(out.Transcription))
	speaker := 0
	diarized := hasSpeakerTurns(out.Transcription)
	for _, seg := range out.Transcription {
		segment := model.Segment{
			Start: float64(seg.Offsets.From) / 1000,
			End:   float64(seg.Offsets.To) / 1000,
			Text:  seg.Text,
		}
		if diarized {
			segment.Speaker = "speaker_" + strconv.Itoa(speaker)
		}
		if seg.SpeakerTurnNext {
			speaker++
		}
		segments = append(segments, segment)
	}

	var duration float64
	for _, seg := range segments {
		if seg.End > duration {
			duration = seg.End
		}
	}

	// Text is left empty so cleanup joins the sorted segments.
	return model.Result{
		Segments: segments,
		Language: strings.TrimSpace(out.Result.Language),
		Duration: duration,
	}, nil
}

func hasSpeakerTurns(segments []whisperSegment) bool {
	for _, seg := range segments {
		if seg.SpeakerTurnNext {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
