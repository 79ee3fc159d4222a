package live

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Nephrolytics-ai/polyglot-stt/pkg/audio"
	"github.com/Nephrolytics-ai/polyglot-stt/pkg/model"
	"github.com/stretchr/testify/suite"
)

const testSampleRate = 1000

type window struct {
	first, last int
	length      int
}

// rampEngine decodes each window WAV and records which ramp indices it covered.
type rampEngine struct {
	mu      sync.Mutex
	windows []window
	fail    atomic.Bool
	calls   atomic.Int32
}

func (e *rampEngine) Provider() model.Provider         { return model.ProviderLocal }
func (e *rampEngine) Capabilities() model.Capabilities { return model.Capabilities{OnDevice: true} }

func (e *rampEngine) Transcribe(_ context.Context, audioPath string, settings model.Settings, _ model.EngineContext, _ model.ProgressFunc) (model.Result, error) {
	e.calls.Add(1)
	if e.fail.Load() {
		return model.Result{}, errors.New("decoder crashed")
	}
	samples, _, err := audio.ReadWAV(audioPath)
	if err != nil {
		return model.Result{}, err
	}
	w := window{length: len(samples)}
	if len(samples) > 0 {
		w.first = rampIndex(samples[0])
		w.last = rampIndex(samples[len(samples)-1])
	}
	e.mu.Lock()
	e.windows = append(e.windows, w)
	e.mu.Unlock()

	return model.Result{
		Text:     "window",
		Segments: []model.Segment{{Start: 0, End: settings.DurationEstimate, Text: "window"}},
		Duration: settings.DurationEstimate,
	}, nil
}

func (e *rampEngine) recorded() []window {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]window(nil), e.windows...)
}

func rampValue(i int) float32 {
	return float32(i) / 10000
}

func rampIndex(v float32) int {
	return int(math.Round(float64(v) * 10000))
}

func ramp(from, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = rampValue(from + i)
	}
	return out
}

type SessionSuite struct {
	suite.Suite
	engine *rampEngine

	mu       sync.Mutex
	partials int
	finals   []model.Result
	errs     []error
	etas     []time.Duration
}

func TestSessionSuite(t *testing.T) {
	suite.Run(t, new(SessionSuite))
}

func (s *SessionSuite) SetupTest() {
	s.engine = &rampEngine{}
	s.partials = 0
	s.finals = nil
	s.errs = nil
	s.etas = nil
}

func (s *SessionSuite) delegate() Delegate {
	return Delegate{
		OnPartial: func([]model.Segment) {
			s.mu.Lock()
			s.partials++
			s.mu.Unlock()
		},
		OnETA: func(eta time.Duration) {
			s.mu.Lock()
			s.etas = append(s.etas, eta)
			s.mu.Unlock()
		},
		OnError: func(err error) {
			s.mu.Lock()
			s.errs = append(s.errs, err)
			s.mu.Unlock()
		},
		OnFinal: func(result model.Result) {
			s.mu.Lock()
			s.finals = append(s.finals, result)
			s.mu.Unlock()
		},
	}
}

func (s *SessionSuite) partialCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.partials
}

func (s *SessionSuite) newSession(windowSeconds, hopSeconds float64) *Session {
	return NewSession(s.engine, Config{
		WindowSeconds: windowSeconds,
		HopSeconds:    hopSeconds,
		SampleRate:    testSampleRate,
		TempDir:       s.T().TempDir(),
	}, s.delegate())
}

func (s *SessionSuite) TestFirstPartialOnlyAfterWindowThreshold() {
	session := s.newSession(12, 3)
	defer session.Stop()

	half := testSampleRate / 2
	next := 0
	for i := 0; i < 23; i++ {
		session.Ingest(ramp(next, half))
		next += half
	}
	s.InDelta(11.5, session.AccumulatedSeconds(), 1e-9)

	time.Sleep(100 * time.Millisecond)
	s.Zero(s.partialCount())
	s.Zero(s.engine.calls.Load())

	crossed := time.Now()
	for i := 0; i < 2; i++ {
		session.Ingest(ramp(next, half))
		next += half
	}

	s.Eventually(func() bool { return s.partialCount() > 0 }, 3*time.Second, 10*time.Millisecond)
	s.Less(time.Since(crossed), 3*time.Second)
}

func (s *SessionSuite) TestWindowNeverExceedsMostRecentAudio() {
	session := s.newSession(1, 0.01)

	chunk := 300
	next := 0
	var ingested atomic.Int64
	for i := 0; i < 20; i++ {
		session.Ingest(ramp(next, chunk))
		next += chunk
		ingested.Store(int64(next))
		time.Sleep(5 * time.Millisecond)
	}
	s.Eventually(func() bool { return len(s.engine.recorded()) >= 3 }, 3*time.Second, 5*time.Millisecond)
	session.Stop()
	<-session.Done()

	windowSamples := testSampleRate
	for _, w := range s.engine.recorded() {
		s.LessOrEqual(w.length, windowSamples)
		s.Equal(w.length, w.last-w.first+1, "window must be contiguous")
		s.Less(w.last, int(ingested.Load()))
		s.Equal(windowSamples, w.length, "window should be full once the threshold was reached")
	}
}

func (s *SessionSuite) TestRetainedAudioIsBounded() {
	session := s.newSession(1, 10)
	defer session.Stop()

	for i := 0; i < 50; i++ {
		session.Ingest(ramp(i*100, 100))
	}

	session.mu.Lock()
	retained := session.retained
	chunks := len(session.chunks)
	session.mu.Unlock()

	s.GreaterOrEqual(retained, testSampleRate)
	s.Less(retained, testSampleRate+100)
	s.LessOrEqual(chunks, 11)
	s.InDelta(5.0, session.AccumulatedSeconds(), 1e-9)
}

func (s *SessionSuite) TestStopBeforeStartEmitsEmptyFinal() {
	session := s.newSession(12, 3)
	session.Ingest(ramp(0, testSampleRate))
	session.Stop()
	session.Stop()

	select {
	case <-session.Done():
	case <-time.After(time.Second):
		s.FailNow("session did not finish")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Require().Len(s.finals, 1)
	s.Empty(s.finals[0].Segments)
	s.Zero(s.engine.calls.Load())

	session.Ingest(ramp(0, 20*testSampleRate))
	time.Sleep(20 * time.Millisecond)
	s.Zero(s.engine.calls.Load())
}

func (s *SessionSuite) TestStopDeliversLastResult() {
	session := s.newSession(1, 0.01)
	session.Ingest(ramp(0, 2*testSampleRate))

	s.Eventually(func() bool { return s.partialCount() > 0 }, 3*time.Second, 5*time.Millisecond)
	session.Stop()
	<-session.Done()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.Require().Len(s.finals, 1)
	s.Equal("window", s.finals[0].Text)
	s.NotEmpty(s.etas)
}

func (s *SessionSuite) TestEngineErrorsAreReportedAndLoopContinues() {
	s.engine.fail.Store(true)
	session := s.newSession(1, 0.01)
	session.Ingest(ramp(0, testSampleRate))

	s.Eventually(func() bool { return s.engine.calls.Load() >= 2 }, 3*time.Second, 5*time.Millisecond)
	s.Require().Error(session.LastError())
	s.Contains(session.LastError().Error(), "decoder crashed")

	s.engine.fail.Store(false)
	s.Eventually(func() bool { return s.partialCount() > 0 }, 3*time.Second, 5*time.Millisecond)

	session.Stop()
	<-session.Done()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.NotEmpty(s.errs)
}

func (s *SessionSuite) TestIngestCopiesCallerBuffer() {
	session := s.newSession(1, 10)
	defer session.Stop()

	buf := ramp(0, 10)
	session.Ingest(buf)
	buf[0] = 1

	tail, total := session.tail()
	s.Equal(10, total)
	s.Equal(rampValue(0), tail[0])
}
