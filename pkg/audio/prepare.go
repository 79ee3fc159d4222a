package audio

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Nephrolytics-ai/polyglot-stt/pkg/logging"
	"github.com/Nephrolytics-ai/polyglot-stt/pkg/model"
	"github.com/Nephrolytics-ai/polyglot-stt/pkg/utils"
)

// Prepared is normalized audio ready for any engine.
type Prepared struct {
	Path string
	// Duration in seconds.
	Duration float64
}

// Preparer converts a source file into engine-ready audio. Errors wrap model.ErrAudioPreparation.
type Preparer interface {
	Prepare(ctx context.Context, sourcePath string) (Prepared, error)
}

// FFmpegPreparer converts any ffmpeg-readable input into 16 kHz mono PCM WAV.
type FFmpegPreparer struct {
	ffmpegPath string
	outputDir  string
	runner     utils.CommandRunner
}

func NewFFmpegPreparer(ffmpegPath string, outputDir string, runner utils.CommandRunner) *FFmpegPreparer {
	if strings.TrimSpace(ffmpegPath) == "" {
		ffmpegPath = "ffmpeg"
	}
	if runner == nil {
		runner = utils.ExecRunner{}
	}
	return &FFmpegPreparer{
		ffmpegPath: ffmpegPath,
		outputDir:  outputDir,
		runner:     runner,
	}
}

func (p *FFmpegPreparer) Prepare(ctx context.Context, sourcePath string) (Prepared, error) {
	log := logging.NewComponentLogger(ctx, "audio")

	info, err := os.Stat(sourcePath)
	if err != nil {
		return Prepared{}, utils.WrapIfNotNil(fmt.Errorf("%w: cannot access source: %w", model.ErrAudioPreparation, err))
	}
	if info.IsDir() || info.Size() == 0 {
		return Prepared{}, utils.WrapIfNotNil(fmt.Errorf("%w: source is empty: %s", model.ErrAudioPreparation, sourcePath))
	}

	if err := os.MkdirAll(p.outputDir, 0o755); err != nil {
		return Prepared{}, utils.WrapIfNotNil(fmt.Errorf("%w: %w", model.ErrAudioPreparation, err))
	}
	outPath := filepath.Join(p.outputDir, preparedFileName(sourcePath))
	args := buildFFmpegArgs(sourcePath, outPath)

	result, runErr := p.runner.Run(ctx, p.ffmpegPath, args...)
	if runErr != nil {
		_ = os.Remove(outPath)
		log.Errorf("ffmpeg_failed source=%q exit=%d stderr=%q", sourcePath, result.ExitCode, result.StderrTail(400))
		return Prepared{}, utils.WrapIfNotNil(fmt.Errorf("%w: ffmpeg exit %d: %s", model.ErrAudioPreparation, result.ExitCode, result.StderrTail(200)))
	}

	duration, err := Duration(outPath)
	if err != nil {
		_ = os.Remove(outPath)
		return Prepared{}, utils.WrapIfNotNil(fmt.Errorf("%w: %w", model.ErrAudioPreparation, err))
	}
	if duration <= 0 {
		_ = os.Remove(outPath)
		return Prepared{}, utils.WrapIfNotNil(fmt.Errorf("%w: no audio stream in %s", model.ErrAudioPreparation, sourcePath))
	}

	log.Debugf("audio_prepared source=%q out=%q duration=%.2f", sourcePath, outPath, duration)
	return Prepared{Path: outPath, Duration: duration}, nil
}

// buildFFmpegArgs builds preprocessing CLI args for mono 16k PCM WAV output.
func buildFFmpegArgs(inputPath, outPath string) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", inputPath,
		"-vn",
		"-ac", "1",
		"-ar", fmt.Sprint(DefaultSampleRate),
		"-c:a", "pcm_s16le",
		outPath,
	}
}

func preparedFileName(sourcePath string) string {
	base := filepath.Base(sourcePath)
	name := strings.TrimSpace(strings.TrimSuffix(base, filepath.Ext(base)))
	if name == "" || name == "." || name == string(filepath.Separator) {
		name = "audio"
	}
	return name + ".16k.wav"
}
