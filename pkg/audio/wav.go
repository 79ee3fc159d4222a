// Package audio holds the audio preparation collaborator and the PCM/WAV
// helpers shared by the scheduler, the local engine and live sessions.
package audio

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/Nephrolytics-ai/polyglot-stt/pkg/utils"
)

const (
	// DefaultSampleRate is the rate every engine expects.
	DefaultSampleRate = 16000
	bitDepth          = 16
	pcmFormat         = 1
)

// WriteWAV encodes mono float samples in [-1,1] as 16-bit PCM.
func WriteWAV(path string, samples []float32, sampleRate int) error {
	if sampleRate <= 0 {
		return utils.WrapIfNotNil(fmt.Errorf("invalid sample rate %d", sampleRate))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return utils.WrapIfNotNil(err)
	}

	f, err := os.Create(path)
	if err != nil {
		return utils.WrapIfNotNil(err)
	}

	enc := wav.NewEncoder(f, sampleRate, bitDepth, 1, pcmFormat)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           floatToPCM16(samples),
		SourceBitDepth: bitDepth,
	}
	if err := enc.Write(buf); err != nil {
		_ = f.Close()
		return utils.WrapIfNotNil(err)
	}
	if err := enc.Close(); err != nil {
		_ = f.Close()
		return utils.WrapIfNotNil(err)
	}
	return utils.WrapIfNotNil(f.Close())
}

// ReadWAV decodes a PCM WAV file, downmixing to mono floats.
func ReadWAV(path string) ([]float32, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, utils.WrapIfNotNil(err)
	}
	defer func() {
		_ = f.Close()
	}()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, 0, utils.WrapIfNotNil(errors.New("not a valid wav file: " + path))
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, utils.WrapIfNotNil(err)
	}

	channels := int(dec.NumChans)
	if channels <= 0 {
		channels = 1
	}
	scale := math.Pow(2, float64(dec.BitDepth)-1)
	samples := make([]float32, 0, len(buf.Data)/channels)
	for i := 0; i+channels <= len(buf.Data); i += channels {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += float64(buf.Data[i+c])
		}
		samples = append(samples, float32(sum/float64(channels)/scale))
	}
	return samples, int(dec.SampleRate), nil
}

// Duration returns the playback length of a WAV file in seconds.
func Duration(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, utils.WrapIfNotNil(err)
	}
	defer func() {
		_ = f.Close()
	}()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return 0, utils.WrapIfNotNil(errors.New("not a valid wav file: " + path))
	}
	d, err := dec.Duration()
	if err != nil {
		return 0, utils.WrapIfNotNil(err)
	}
	return d.Seconds(), nil
}

// SamplesDuration converts a sample count at sampleRate to seconds.
func SamplesDuration(n int, sampleRate int) float64 {
	if sampleRate <= 0 {
		return 0
	}
	return float64(n) / float64(sampleRate)
}

func floatToPCM16(samples []float32) []int {
	out := make([]int, len(samples))
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		out[i] = int(math.Round(float64(s) * math.MaxInt16))
	}
	return out
}
