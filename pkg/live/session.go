// Package live transcribes audio while it is being captured, either by repeatedly
// transcribing a sliding window with a regular engine or through a push-based
// streaming recognizer.
package live

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Nephrolytics-ai/polyglot-stt/pkg/audio"
	"github.com/Nephrolytics-ai/polyglot-stt/pkg/logging"
	"github.com/Nephrolytics-ai/polyglot-stt/pkg/model"
	"github.com/Nephrolytics-ai/polyglot-stt/pkg/utils"
)

const (
	DefaultWindowSeconds = 12.0
	DefaultHopSeconds    = 3.0
	DefaultETAFactor     = 1.0
)

// Delegate receives session output. Callbacks run on the session goroutine and
// must not call Stop synchronously.
type Delegate struct {
	OnPartial func(segments []model.Segment)
	OnETA     func(eta time.Duration)
	OnError   func(err error)
	OnFinal   func(result model.Result)
}

type Config struct {
	WindowSeconds float64
	HopSeconds    float64
	SampleRate    int
	ETAFactor     float64
	// TempDir receives one short-lived WAV per window. Defaults to os.TempDir().
	TempDir       string
	Settings      model.Settings
	EngineContext model.EngineContext
}

func (c Config) withDefaults() Config {
	if c.WindowSeconds <= 0 {
		c.WindowSeconds = DefaultWindowSeconds
	}
	if c.HopSeconds <= 0 {
		c.HopSeconds = DefaultHopSeconds
	}
	if c.SampleRate <= 0 {
		c.SampleRate = audio.DefaultSampleRate
	}
	if c.ETAFactor <= 0 {
		c.ETAFactor = DefaultETAFactor
	}
	if c.TempDir == "" {
		c.TempDir = os.TempDir()
	}
	return c
}

// Transcriber is the common surface of windowed and streaming live sessions.
type Transcriber interface {
	Ingest(samples []float32)
	Stop()
	LastError() error
}

// Session re-transcribes the most recent window of audio every hop. Windows are
// independent, so consecutive partials may repeat text near their boundaries.
type Session struct {
	engine   model.Engine
	cfg      Config
	delegate Delegate

	mu            sync.Mutex
	chunks        [][]float32
	retained      int
	total         int
	started       bool
	stopped       bool
	lastErr       error
	last          model.Result
	windowSamples int

	stopCh   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func NewSession(engine model.Engine, cfg Config, delegate Delegate) *Session {
	cfg = cfg.withDefaults()
	return &Session{
		engine:        engine,
		cfg:           cfg,
		delegate:      delegate,
		windowSamples: int(cfg.WindowSeconds * float64(cfg.SampleRate)),
		stopCh:        make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// Ingest appends a copy of samples. The processing loop starts the first time the
// accumulated audio reaches one window.
func (s *Session) Ingest(samples []float32) {
	if len(samples) == 0 {
		return
	}
	chunk := append([]float32(nil), samples...)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	s.chunks = append(s.chunks, chunk)
	s.retained += len(chunk)
	s.total += len(chunk)
	s.trimLocked()

	if !s.started && s.total >= s.windowSamples {
		s.started = true
		go s.loop()
	}
}

// Stop ends the session at the next iteration boundary and drops buffered audio.
// OnFinal fires once the loop has exited, or immediately when it never started.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		s.chunks = nil
		s.retained = 0
		started := s.started
		s.mu.Unlock()

		close(s.stopCh)
		if !started {
			s.emitFinal()
			close(s.done)
		}
	})
}

// Done is closed after OnFinal has been delivered.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// AccumulatedSeconds is the total audio ingested so far.
func (s *Session) AccumulatedSeconds() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return audio.SamplesDuration(s.total, s.cfg.SampleRate)
}

// trimLocked drops whole chunks that no future tail slice can reach.
func (s *Session) trimLocked() {
	for len(s.chunks) > 1 && s.retained-len(s.chunks[0]) >= s.windowSamples {
		s.retained -= len(s.chunks[0])
		s.chunks[0] = nil
		s.chunks = s.chunks[1:]
	}
}

// tail copies the most recent window under the lock and reports the total
// sample count at the moment it was taken.
func (s *Session) tail() ([]float32, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	want := s.windowSamples
	if s.retained < want {
		want = s.retained
	}
	out := make([]float32, want)
	pos := want
	for i := len(s.chunks) - 1; i >= 0 && pos > 0; i-- {
		chunk := s.chunks[i]
		n := len(chunk)
		if n > pos {
			chunk = chunk[n-pos:]
			n = pos
		}
		pos -= n
		copy(out[pos:], chunk)
	}
	return out, s.total
}

func (s *Session) loop() {
	ctx := context.Background()
	log := logging.NewComponentLogger(ctx, "live")
	hop := time.Duration(s.cfg.HopSeconds * float64(time.Second))

	defer func() {
		s.emitFinal()
		close(s.done)
	}()

	for iteration := 1; ; iteration++ {
		select {
		case <-s.stopCh:
			return
		default:
		}

		samples, totalAtSlice := s.tail()
		if len(samples) > 0 {
			startedAt := time.Now()
			result, err := s.transcribeWindow(ctx, samples)
			if err != nil {
				log.Warnf("live_window_failed iteration=%d error=%v", iteration, err)
				s.mu.Lock()
				s.lastErr = err
				s.mu.Unlock()
				if s.delegate.OnError != nil {
					s.delegate.OnError(err)
				}
			} else {
				log.Debugf("live_window iteration=%d seconds=%.2f segments=%d latency_ms=%d",
					iteration, audio.SamplesDuration(len(samples), s.cfg.SampleRate), len(result.Segments), time.Since(startedAt).Milliseconds())
				s.mu.Lock()
				s.last = result
				s.mu.Unlock()
				if s.delegate.OnPartial != nil {
					s.delegate.OnPartial(result.Segments)
				}
			}

			if s.delegate.OnETA != nil {
				s.delegate.OnETA(s.eta(totalAtSlice))
			}
		}

		select {
		case <-s.stopCh:
			return
		case <-time.After(hop):
		}
	}
}

// eta estimates the time needed to catch up with audio that arrived after the slice.
func (s *Session) eta(totalAtSlice int) time.Duration {
	s.mu.Lock()
	pending := s.total - totalAtSlice
	s.mu.Unlock()

	seconds := audio.SamplesDuration(pending, s.cfg.SampleRate) * s.cfg.ETAFactor
	return time.Duration(seconds * float64(time.Second))
}

func (s *Session) transcribeWindow(ctx context.Context, samples []float32) (model.Result, error) {
	if s.engine == nil {
		return model.Result{}, utils.WrapIfNotNil(fmt.Errorf("%w: no engine for live session", model.ErrModelUnavailable))
	}

	path := filepath.Join(s.cfg.TempDir, "live-"+uuid.NewString()+".wav")
	if err := audio.WriteWAV(path, samples, s.cfg.SampleRate); err != nil {
		return model.Result{}, utils.WrapIfNotNil(fmt.Errorf("%w: %w", model.ErrAudioPreparation, err))
	}
	defer func() {
		_ = os.Remove(path)
	}()

	settings := s.cfg.Settings
	settings.DurationEstimate = audio.SamplesDuration(len(samples), s.cfg.SampleRate)
	result, err := s.engine.Transcribe(ctx, path, settings, s.cfg.EngineContext, nil)
	return result, utils.WrapIfNotNil(err)
}

func (s *Session) emitFinal() {
	if s.delegate.OnFinal == nil {
		return
	}
	s.mu.Lock()
	final := s.last.Clone()
	s.mu.Unlock()
	s.delegate.OnFinal(final)
}
