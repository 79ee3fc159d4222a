package live

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/Nephrolytics-ai/polyglot-stt/pkg/logging"
	"github.com/Nephrolytics-ai/polyglot-stt/pkg/model"
	"github.com/Nephrolytics-ai/polyglot-stt/pkg/utils"
)

var ErrNoBackend = errors.New("live transcription needs an engine or a streaming recognizer")

// StreamResult is one push-based recognition result. Interim results may be
// revised; final results are stable.
type StreamResult struct {
	Text    string
	Start   float64
	End     float64
	Speaker string
	IsFinal bool
	Err     error
}

type StreamingSession interface {
	SendAudio(samples []float32) error
	// Results is closed when the session has fully ended.
	Results() <-chan StreamResult
	Close() error
}

type StreamingRecognizer interface {
	Supports(language string) bool
	Start(ctx context.Context, settings model.Settings) (StreamingSession, error)
}

type Options struct {
	Engine     model.Engine
	Recognizer StreamingRecognizer
	Config     Config
	Delegate   Delegate
}

// New prefers the streaming recognizer when it supports the requested language and
// connects, and otherwise returns a windowed Session over the engine.
func New(ctx context.Context, opts Options) (Transcriber, error) {
	log := logging.NewComponentLogger(ctx, "live")
	language := opts.Config.Settings.LanguageHint()

	if opts.Recognizer != nil && opts.Recognizer.Supports(language) {
		session, err := opts.Recognizer.Start(ctx, opts.Config.Settings)
		if err == nil {
			log.Infof("live_backend=streaming language=%q", language)
			return newStreamTranscriber(session, opts.Delegate), nil
		}
		if opts.Engine == nil {
			return nil, utils.WrapIfNotNil(err)
		}
		log.Warnf("live_streaming_unavailable error=%v using=windowed", err)
	}

	if opts.Engine == nil {
		return nil, utils.WrapIfNotNil(ErrNoBackend)
	}
	log.Infof("live_backend=windowed provider=%s window=%.1f hop=%.1f",
		opts.Engine.Provider(), opts.Config.withDefaults().WindowSeconds, opts.Config.withDefaults().HopSeconds)
	return NewSession(opts.Engine, opts.Config, opts.Delegate), nil
}

// streamTranscriber adapts a StreamingSession to Transcriber. Interim and final
// results are both reported as partials; finals accumulate into the final result.
type streamTranscriber struct {
	session  StreamingSession
	delegate Delegate

	mu      sync.Mutex
	lastErr error
	finals  []model.Segment
	stopped bool

	stopOnce sync.Once
	done     chan struct{}
}

func newStreamTranscriber(session StreamingSession, delegate Delegate) *streamTranscriber {
	t := &streamTranscriber{
		session:  session,
		delegate: delegate,
		done:     make(chan struct{}),
	}
	go t.receive()
	return t
}

func (t *streamTranscriber) Ingest(samples []float32) {
	t.mu.Lock()
	stopped := t.stopped
	t.mu.Unlock()
	if stopped || len(samples) == 0 {
		return
	}

	if err := t.session.SendAudio(samples); err != nil {
		t.fail(utils.WrapIfNotNil(err))
	}
}

func (t *streamTranscriber) Stop() {
	t.stopOnce.Do(func() {
		t.mu.Lock()
		t.stopped = true
		t.mu.Unlock()

		if err := t.session.Close(); err != nil {
			t.fail(utils.WrapIfNotNil(err))
		}
	})
}

// Done is closed after OnFinal has been delivered.
func (t *streamTranscriber) Done() <-chan struct{} {
	return t.done
}

func (t *streamTranscriber) LastError() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastErr
}

func (t *streamTranscriber) receive() {
	defer close(t.done)

	for res := range t.session.Results() {
		if res.Err != nil {
			t.fail(res.Err)
			continue
		}
		text := strings.TrimSpace(res.Text)
		if text == "" {
			continue
		}

		segment := model.Segment{Start: res.Start, End: res.End, Text: text, Speaker: res.Speaker}
		if res.IsFinal {
			t.mu.Lock()
			t.finals = append(t.finals, segment)
			t.mu.Unlock()
		}
		if t.delegate.OnPartial != nil {
			t.delegate.OnPartial([]model.Segment{segment})
		}
	}

	if t.delegate.OnFinal != nil {
		t.delegate.OnFinal(t.finalResult())
	}
}

func (t *streamTranscriber) finalResult() model.Result {
	t.mu.Lock()
	defer t.mu.Unlock()

	segments := append([]model.Segment(nil), t.finals...)
	model.SortSegments(segments)
	parts := make([]string, 0, len(segments))
	duration := 0.0
	for _, seg := range segments {
		parts = append(parts, seg.Text)
		if seg.End > duration {
			duration = seg.End
		}
	}
	return model.Result{
		Text:     strings.Join(parts, " "),
		Segments: segments,
		Duration: duration,
	}
}

func (t *streamTranscriber) fail(err error) {
	t.mu.Lock()
	t.lastErr = err
	t.mu.Unlock()

	logging.NewComponentLogger(context.Background(), "live").Warnf("live_stream_error error=%v", err)
	if t.delegate.OnError != nil {
		t.delegate.OnError(err)
	}
}
