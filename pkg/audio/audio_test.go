package audio

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/Nephrolytics-ai/polyglot-stt/pkg/model"
	"github.com/Nephrolytics-ai/polyglot-stt/pkg/utils"
	"github.com/stretchr/testify/suite"
)

type AudioSuite struct {
	suite.Suite
	dir string
}

func TestAudioSuite(t *testing.T) {
	suite.Run(t, new(AudioSuite))
}

func (s *AudioSuite) SetupTest() {
	s.dir = s.T().TempDir()
}

func (s *AudioSuite) TestWriteReadRoundTrip() {
	path := filepath.Join(s.dir, "tone.wav")
	samples := make([]float32, DefaultSampleRate/2)
	for i := range samples {
		samples[i] = 0.25
	}

	s.Require().NoError(WriteWAV(path, samples, DefaultSampleRate))

	got, rate, err := ReadWAV(path)
	s.Require().NoError(err)
	s.Equal(DefaultSampleRate, rate)
	s.Len(got, len(samples))
	s.InDelta(0.25, got[100], 0.001)

	duration, err := Duration(path)
	s.Require().NoError(err)
	s.InDelta(0.5, duration, 0.01)
}

func (s *AudioSuite) TestReadWAVRejectsGarbage() {
	path := filepath.Join(s.dir, "bad.wav")
	s.Require().NoError(os.WriteFile(path, []byte("not audio at all"), 0o644))

	_, _, err := ReadWAV(path)
	s.Error(err)
}

func (s *AudioSuite) TestPrepareConvertsThroughFFmpeg() {
	src := filepath.Join(s.dir, "memo.m4a")
	s.Require().NoError(os.WriteFile(src, []byte("media"), 0o644))

	var gotArgs []string
	runner := utils.CommandFunc(func(ctx context.Context, name string, args ...string) (utils.CommandResult, error) {
		gotArgs = args
		out := args[len(args)-1]
		return utils.CommandResult{}, WriteWAV(out, make([]float32, DefaultSampleRate*5), DefaultSampleRate)
	})

	preparer := NewFFmpegPreparer("ffmpeg", filepath.Join(s.dir, "prepared"), runner)
	prepared, err := preparer.Prepare(context.Background(), src)
	s.Require().NoError(err)

	s.Equal(filepath.Join(s.dir, "prepared", "memo.16k.wav"), prepared.Path)
	s.InDelta(5.0, prepared.Duration, 0.01)
	s.Contains(gotArgs, "16000")
	s.Contains(gotArgs, src)
}

func (s *AudioSuite) TestPrepareRejectsZeroByteSource() {
	src := filepath.Join(s.dir, "empty.wav")
	s.Require().NoError(os.WriteFile(src, nil, 0o644))

	called := false
	runner := utils.CommandFunc(func(ctx context.Context, name string, args ...string) (utils.CommandResult, error) {
		called = true
		return utils.CommandResult{}, nil
	})

	_, err := NewFFmpegPreparer("", s.dir, runner).Prepare(context.Background(), src)
	s.Require().Error(err)
	s.ErrorIs(err, model.ErrAudioPreparation)
	s.False(called)
}

func (s *AudioSuite) TestPrepareReportsFFmpegFailure() {
	src := filepath.Join(s.dir, "clip.mp4")
	s.Require().NoError(os.WriteFile(src, []byte("media"), 0o644))

	runner := utils.CommandFunc(func(ctx context.Context, name string, args ...string) (utils.CommandResult, error) {
		return utils.CommandResult{Stderr: "Invalid data found", ExitCode: 1}, errors.New("exit status 1")
	})

	_, err := NewFFmpegPreparer("", s.dir, runner).Prepare(context.Background(), src)
	s.Require().Error(err)
	s.ErrorIs(err, model.ErrAudioPreparation)
	s.Contains(err.Error(), "Invalid data found")
}
