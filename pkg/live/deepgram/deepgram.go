// Package deepgram is a streaming recognizer backed by the Deepgram live
// transcription websocket.
package deepgram

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Nephrolytics-ai/polyglot-stt/pkg/audio"
	"github.com/Nephrolytics-ai/polyglot-stt/pkg/live"
	"github.com/Nephrolytics-ai/polyglot-stt/pkg/logging"
	"github.com/Nephrolytics-ai/polyglot-stt/pkg/model"
	"github.com/Nephrolytics-ai/polyglot-stt/pkg/utils"
)

const (
	DefaultURL          = "wss://api.deepgram.com/v1/listen"
	DefaultModel        = "nova-2"
	KeepAliveInterval   = 8 * time.Second
	DefaultCloseTimeout = 5 * time.Second
)

type Config struct {
	APIKey     string
	URL        string
	Model      string
	SampleRate int
	// Languages limits Supports; empty means every language.
	Languages    []string
	CloseTimeout time.Duration
}

type Recognizer struct {
	cfg    Config
	dialer *websocket.Dialer
}

func New(cfg Config) *Recognizer {
	if strings.TrimSpace(cfg.URL) == "" {
		cfg.URL = DefaultURL
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = DefaultModel
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = audio.DefaultSampleRate
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = DefaultCloseTimeout
	}
	return &Recognizer{cfg: cfg, dialer: websocket.DefaultDialer}
}

func (r *Recognizer) Supports(language string) bool {
	if len(r.cfg.Languages) == 0 {
		return true
	}
	language = strings.ToLower(strings.TrimSpace(language))
	if language == "" {
		return false
	}
	for _, supported := range r.cfg.Languages {
		supported = strings.ToLower(strings.TrimSpace(supported))
		if supported == language || strings.HasPrefix(language, supported+"-") {
			return true
		}
	}
	return false
}

func (r *Recognizer) Start(ctx context.Context, settings model.Settings) (live.StreamingSession, error) {
	log := logging.NewComponentLogger(ctx, "deepgram")

	if strings.TrimSpace(r.cfg.APIKey) == "" {
		return nil, utils.WrapIfNotNil(fmt.Errorf("%w: deepgram api key", model.ErrMissingCredential))
	}

	endpoint, err := r.endpoint(settings)
	if err != nil {
		return nil, utils.WrapIfNotNil(err)
	}

	header := http.Header{}
	header.Set("Authorization", "Token "+r.cfg.APIKey)

	conn, resp, err := r.dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			return nil, utils.WrapIfNotNil(remoteError(resp))
		}
		return nil, utils.WrapIfNotNil(fmt.Errorf("failed to connect to deepgram: %w", err))
	}
	log.Infof("deepgram_open model=%s sample_rate=%d", r.cfg.Model, r.cfg.SampleRate)

	s := &session{
		conn:         conn,
		results:      make(chan live.StreamResult, 64),
		readerDone:   make(chan struct{}),
		stopKeep:     make(chan struct{}),
		closeTimeout: r.cfg.CloseTimeout,
	}
	go s.read()
	go s.keepAlive()
	return s, nil
}

func (r *Recognizer) endpoint(settings model.Settings) (string, error) {
	u, err := url.Parse(r.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("invalid deepgram url %q: %w", r.cfg.URL, err)
	}

	q := u.Query()
	q.Set("model", r.cfg.Model)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(r.cfg.SampleRate))
	q.Set("channels", "1")
	q.Set("interim_results", "true")
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	if lang := settings.LanguageHint(); lang != "" {
		q.Set("language", lang)
	} else {
		q.Set("detect_language", "true")
	}
	if settings.Diarize {
		q.Set("diarize", "true")
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type message struct {
	Type     string  `json:"type"`
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
	IsFinal  bool    `json:"is_final"`
	Channel  struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
			Words      []struct {
				Speaker *int `json:"speaker,omitempty"`
			} `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
	Description string `json:"description"`
}

type session struct {
	conn         *websocket.Conn
	writeMu      sync.Mutex
	results      chan live.StreamResult
	readerDone   chan struct{}
	stopKeep     chan struct{}
	closeOnce    sync.Once
	closeTimeout time.Duration
}

func (s *session) Results() <-chan live.StreamResult {
	return s.results
}

// SendAudio writes samples as one linear16 little-endian binary frame.
func (s *session) SendAudio(samples []float32) error {
	frame := make([]byte, 2*len(samples))
	for i, sample := range samples {
		binary.LittleEndian.PutUint16(frame[2*i:], uint16(toPCM16(sample)))
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return utils.WrapIfNotNil(s.conn.WriteMessage(websocket.BinaryMessage, frame))
}

// Close asks Deepgram to flush pending results, waits for the server to end the
// stream, then closes the connection.
func (s *session) Close() error {
	var closeErr error
	s.closeOnce.Do(func() {
		close(s.stopKeep)

		s.writeMu.Lock()
		err := s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`))
		s.writeMu.Unlock()
		if err != nil {
			closeErr = utils.WrapIfNotNil(err)
		}

		select {
		case <-s.readerDone:
		case <-time.After(s.closeTimeout):
		}
		_ = s.conn.Close()
		<-s.readerDone
	})
	return closeErr
}

func (s *session) read() {
	defer close(s.readerDone)
	defer close(s.results)

	for {
		kind, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !isClosedConn(err) {
				s.results <- live.StreamResult{Err: fmt.Errorf("deepgram stream closed unexpectedly: %w", err)}
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}

		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			s.results <- live.StreamResult{Err: fmt.Errorf("decode deepgram message: %w", err)}
			continue
		}

		switch msg.Type {
		case "Results":
			if len(msg.Channel.Alternatives) == 0 {
				continue
			}
			alt := msg.Channel.Alternatives[0]
			text := strings.TrimSpace(alt.Transcript)
			if text == "" {
				continue
			}
			res := live.StreamResult{
				Text:    text,
				Start:   msg.Start,
				End:     msg.Start + msg.Duration,
				IsFinal: msg.IsFinal,
			}
			if len(alt.Words) > 0 && alt.Words[0].Speaker != nil {
				res.Speaker = fmt.Sprintf("speaker_%d", *alt.Words[0].Speaker)
			}
			s.results <- res
		case "Error":
			s.results <- live.StreamResult{Err: fmt.Errorf("deepgram error: %s", msg.Description)}
		}
	}
}

func (s *session) keepAlive() {
	ticker := time.NewTicker(KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopKeep:
			return
		case <-s.readerDone:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"KeepAlive"}`))
			s.writeMu.Unlock()
			if err != nil {
				logging.NewComponentLogger(context.Background(), "deepgram").Warnf("deepgram_keepalive_failed error=%v", err)
				return
			}
		}
	}
}

func remoteError(resp *http.Response) error {
	body := resp.Header.Get("dg-error")
	if body == "" {
		body = resp.Status
	}
	return &model.RemoteHTTPError{Provider: "deepgram", StatusCode: resp.StatusCode, Body: body}
}

func isClosedConn(err error) bool {
	return errors.Is(err, net.ErrClosed) || utils.ContainsErrorSubstring(err, "use of closed network connection")
}

func toPCM16(sample float32) int16 {
	v := math.Max(-1, math.Min(1, float64(sample)))
	return int16(math.Round(v * math.MaxInt16))
}
