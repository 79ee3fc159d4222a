package live

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Nephrolytics-ai/polyglot-stt/pkg/model"
	"github.com/stretchr/testify/require"
)

type fakeStream struct {
	mu      sync.Mutex
	sent    int
	results chan StreamResult
	closed  bool
}

func newFakeStream() *fakeStream {
	return &fakeStream{results: make(chan StreamResult, 16)}
}

func (f *fakeStream) SendAudio(samples []float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("stream closed")
	}
	f.sent += len(samples)
	return nil
}

func (f *fakeStream) Results() <-chan StreamResult {
	return f.results
}

func (f *fakeStream) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.results)
	}
	return nil
}

type fakeRecognizer struct {
	languages map[string]bool
	stream    *fakeStream
	err       error
}

func (r *fakeRecognizer) Supports(language string) bool {
	return r.languages[language]
}

func (r *fakeRecognizer) Start(context.Context, model.Settings) (StreamingSession, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.stream, nil
}

func TestNewPrefersSupportedRecognizer(t *testing.T) {
	stream := newFakeStream()
	recognizer := &fakeRecognizer{languages: map[string]bool{"en": true}, stream: stream}

	var (
		mu       sync.Mutex
		partials []model.Segment
		final    model.Result
	)
	transcriber, err := New(context.Background(), Options{
		Engine:     &rampEngine{},
		Recognizer: recognizer,
		Config:     Config{Settings: model.Settings{Language: "en"}},
		Delegate: Delegate{
			OnPartial: func(segments []model.Segment) {
				mu.Lock()
				partials = append(partials, segments...)
				mu.Unlock()
			},
			OnFinal: func(result model.Result) {
				mu.Lock()
				final = result
				mu.Unlock()
			},
		},
	})
	require.NoError(t, err)
	streaming, ok := transcriber.(*streamTranscriber)
	require.True(t, ok)

	transcriber.Ingest(make([]float32, 320))
	stream.results <- StreamResult{Text: "hel", Start: 0, End: 0.5}
	stream.results <- StreamResult{Text: "hello there", Start: 0, End: 1, IsFinal: true}
	stream.results <- StreamResult{Text: "general", Start: 1, End: 1.4}
	stream.results <- StreamResult{Text: "general kenobi", Start: 1, End: 2, IsFinal: true}
	transcriber.Stop()

	select {
	case <-streaming.Done():
	case <-time.After(time.Second):
		t.Fatal("stream transcriber did not finish")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, partials, 4)
	require.Equal(t, "hello there general kenobi", final.Text)
	require.Len(t, final.Segments, 2)
	require.Equal(t, 2.0, final.Duration)
	require.Equal(t, 320, stream.sent)
	require.NoError(t, transcriber.LastError())
}

func TestNewFallsBackToWindowedSession(t *testing.T) {
	recognizer := &fakeRecognizer{languages: map[string]bool{"en": true}, stream: newFakeStream()}

	transcriber, err := New(context.Background(), Options{
		Engine:     &rampEngine{},
		Recognizer: recognizer,
		Config:     Config{Settings: model.Settings{Language: "sw"}},
	})
	require.NoError(t, err)
	_, ok := transcriber.(*Session)
	require.True(t, ok)
	transcriber.Stop()

	recognizer.err = errors.New("dial tcp: connection refused")
	transcriber, err = New(context.Background(), Options{
		Engine:     &rampEngine{},
		Recognizer: recognizer,
		Config:     Config{Settings: model.Settings{Language: "en"}},
	})
	require.NoError(t, err)
	_, ok = transcriber.(*Session)
	require.True(t, ok)
	transcriber.Stop()
}

func TestNewWithoutBackend(t *testing.T) {
	_, err := New(context.Background(), Options{})
	require.ErrorIs(t, err, ErrNoBackend)

	_, err = New(context.Background(), Options{
		Recognizer: &fakeRecognizer{languages: map[string]bool{"": true}, err: errors.New("unauthorized")},
	})
	require.Error(t, err)
}

func TestStreamErrorsSetLastError(t *testing.T) {
	stream := newFakeStream()
	errs := make(chan error, 1)
	transcriber := newStreamTranscriber(stream, Delegate{OnError: func(err error) { errs <- err }})

	stream.results <- StreamResult{Err: errors.New("socket reset")}

	select {
	case err := <-errs:
		require.EqualError(t, err, "socket reset")
	case <-time.After(time.Second):
		t.Fatal("error not delivered")
	}
	require.EqualError(t, transcriber.LastError(), "socket reset")

	transcriber.Stop()
	<-transcriber.Done()
	transcriber.Ingest(make([]float32, 10))
	require.Zero(t, stream.sent)
}
