package gemini

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/Nephrolytics-ai/polyglot-stt/pkg/model"
	"github.com/Nephrolytics-ai/polyglot-stt/pkg/testsupport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type GeminiAudioIntegrationSuite struct {
	testsupport.ExternalDependenciesSuite
	apiKey    string
	baseURL   string
	modelName string
	fixture   string
}

func (s *GeminiAudioIntegrationSuite) SetupSuite() {
	s.ExternalDependenciesSuite.SetupSuite()

	s.apiKey = s.RequireEnv("GEMINI_KEY")
	s.fixture = s.AudioFixture()
	s.baseURL = strings.TrimSpace(os.Getenv("GEMINI_BASE_URL"))
	s.modelName = strings.TrimSpace(os.Getenv("GEMINI_AUDIO_MODEL"))
}

func (s *GeminiAudioIntegrationSuite) TestTranscribeFixture() {
	ctx, cancel := context.WithTimeout(context.Background(), 180*time.Second)
	defer cancel()

	engine, err := New(Config{BaseURL: s.baseURL, Model: s.modelName})
	require.NoError(s.T(), err)

	result, err := engine.Transcribe(ctx, s.fixture, model.ResolveSettings(), model.EngineContext{Credential: s.apiKey}, nil)
	require.NoError(s.T(), err)

	assert.NotEmpty(s.T(), strings.TrimSpace(result.Text))
	assert.Equal(s.T(), "gemini", result.Metadata[model.MetadataKeyProvider])
	assert.NotEmpty(s.T(), result.Metadata[model.MetadataKeyLatencyMs])
	assert.NotEmpty(s.T(), result.Metadata[model.MetadataKeyModel])
}

func TestGeminiAudioIntegrationSuite(t *testing.T) {
	suite.Run(t, new(GeminiAudioIntegrationSuite))
}
