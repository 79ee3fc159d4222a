package gemini

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Nephrolytics-ai/polyglot-stt/pkg/engines/remote"
	"github.com/Nephrolytics-ai/polyglot-stt/pkg/model"
	"github.com/stretchr/testify/suite"
)

type GeminiEngineSuite struct {
	suite.Suite
	audioPath string

	mu       sync.Mutex
	models   []string
	requests []map[string]any
}

func TestGeminiEngineSuite(t *testing.T) {
	suite.Run(t, new(GeminiEngineSuite))
}

func (s *GeminiEngineSuite) SetupTest() {
	s.audioPath = filepath.Join(s.T().TempDir(), "clip.wav")
	s.Require().NoError(os.WriteFile(s.audioPath, []byte("RIFF....WAVE"), 0o644))
	s.models = nil
	s.requests = nil
}

func candidateBody(text string) string {
	encoded, _ := json.Marshal(text)
	return `{"candidates":[{"content":{"role":"model","parts":[{"text":` + string(encoded) + `}]},"finishReason":"STOP"}]}`
}

// newServer answers generateContent calls; the model id is taken from the request path.
func (s *GeminiEngineSuite) newServer(handler func(w http.ResponseWriter, modelID string)) *httptest.Server {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		modelID := ""
		if idx := strings.Index(r.URL.Path, "models/"); idx >= 0 {
			modelID = strings.TrimSuffix(r.URL.Path[idx+len("models/"):], ":generateContent")
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)

		s.mu.Lock()
		s.models = append(s.models, modelID)
		s.requests = append(s.requests, body)
		s.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		handler(w, modelID)
	}))
	s.T().Cleanup(server.Close)
	return server
}

func (s *GeminiEngineSuite) newEngine(server *httptest.Server, modelName string) *Engine {
	engine, err := New(Config{
		BaseURL: server.URL,
		Model:   modelName,
		Policy:  remote.Policy{BaseDelay: time.Millisecond},
	})
	s.Require().NoError(err)
	return engine
}

func (s *GeminiEngineSuite) TestTranscribeParsesStructuredSegments() {
	server := s.newServer(func(w http.ResponseWriter, modelID string) {
		_, _ = w.Write([]byte(candidateBody(`{"language":"en","segments":[{"start":1.5,"end":3,"text":"second (laughs)"},{"start":0,"end":1.5,"text":"first"}]}`)))
	})

	result, err := s.newEngine(server, "").Transcribe(
		context.Background(), s.audioPath, model.Settings{Diarize: true}, model.EngineContext{Credential: "key"}, nil,
	)
	s.Require().NoError(err)

	s.Equal("first second", result.Text)
	s.Require().Len(result.Segments, 2)
	s.Equal("first", result.Segments[0].Text)
	s.Equal("en", result.Language)
	s.Equal(3.0, result.Duration)
	s.Equal(defaultGenerationModelName, result.Model)
	s.Equal(remote.UploadModeInline, result.Metadata[model.MetadataKeyUploadMode])

	s.Require().Len(s.requests, 1)
	genConfig, ok := s.requests[0]["generationConfig"].(map[string]any)
	s.Require().True(ok)
	s.Equal("application/json", genConfig["responseMimeType"])
	s.NotNil(genConfig["responseJsonSchema"])
}

func (s *GeminiEngineSuite) TestRejectedModelFallsBack() {
	server := s.newServer(func(w http.ResponseWriter, modelID string) {
		if modelID != "gemini-2.0-flash" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"code":404,"message":"models/x is not found","status":"NOT_FOUND"}}`))
			return
		}
		_, _ = w.Write([]byte(candidateBody(`{"language":"en","segments":[{"start":0,"end":1,"text":"ok"}]}`)))
	})

	result, err := s.newEngine(server, "gemini-legacy").Transcribe(
		context.Background(), s.audioPath, model.Settings{}, model.EngineContext{Credential: "key"}, nil,
	)
	s.Require().NoError(err)
	s.Equal("gemini-2.0-flash", result.Model)
	s.Equal("gemini-legacy", result.Metadata[model.MetadataKeyModelFallback])
	s.Equal([]string{"gemini-legacy", "gemini-2.5-flash", "gemini-2.0-flash"}, s.models)
}

func (s *GeminiEngineSuite) TestServerErrorSurfacesAsHTTPError() {
	server := s.newServer(func(w http.ResponseWriter, modelID string) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":403,"message":"API key not valid","status":"PERMISSION_DENIED"}}`))
	})

	_, err := s.newEngine(server, "").Transcribe(context.Background(), s.audioPath, model.Settings{}, model.EngineContext{Credential: "key"}, nil)
	s.Require().Error(err)
	var httpErr *model.RemoteHTTPError
	s.Require().ErrorAs(err, &httpErr)
	s.Equal(http.StatusForbidden, httpErr.StatusCode)
	s.Len(s.models, 1)
}

func (s *GeminiEngineSuite) TestEmptySegmentsIsEmptyResponse() {
	server := s.newServer(func(w http.ResponseWriter, modelID string) {
		_, _ = w.Write([]byte(candidateBody(`{"language":"en","segments":[]}`)))
	})

	_, err := s.newEngine(server, "").Transcribe(context.Background(), s.audioPath, model.Settings{}, model.EngineContext{Credential: "key"}, nil)
	s.ErrorIs(err, model.ErrRemoteEmptyResponse)
}

func (s *GeminiEngineSuite) TestResponseSchemaIsInlined() {
	schema, err := responseSchema()
	s.Require().NoError(err)
	s.NotContains(schema, "$schema")
	s.NotContains(schema, "$ref")
	s.Equal("object", schema["type"])
}

func (s *GeminiEngineSuite) TestBuildPromptReflectsSettings() {
	prompt := buildPrompt(model.Settings{Language: "fr", InitialPrompt: "Lyon", Diarize: true}, model.TaskTranslate)
	s.Contains(prompt, "into English")
	s.Contains(prompt, "fr")
	s.Contains(prompt, "speaker_0")
	s.Contains(prompt, "Lyon")
}

func (s *GeminiEngineSuite) TestStripCodeFence() {
	s.Equal(`{"a":1}`, stripCodeFence("```json\n{\"a\":1}\n```"))
	s.Equal(`{"a":1}`, stripCodeFence(`{"a":1}`))
}
