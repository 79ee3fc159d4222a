package openai

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

type OpenAIAudioIntegrationSuite struct {
	testsupport.ExternalDependenciesSuite
	apiKey    string
	baseURL   string
	modelName string
	fixture   string
}

func (s *OpenAIAudioIntegrationSuite) SetupSuite() {
	s.ExternalDependenciesSuite.SetupSuite()

	s.apiKey = s.RequireEnv("OPEN_API_TOKEN")
	s.fixture = s.AudioFixture()
	s.baseURL = strings.TrimSpace(os.Getenv("OPENAI_BASE_URL"))
	s.modelName = strings.TrimSpace(os.Getenv("OPENAI_AUDIO_MODEL"))
}

func (s *OpenAIAudioIntegrationSuite) TestTranscribeFixture() {
	ctx, cancel := context.WithTimeout(context.Background(), 180*time.Second)
	defer cancel()

	engine := New(Config{BaseURL: s.baseURL, Model: s.modelName})
	result, err := engine.Transcribe(ctx, s.fixture, model.ResolveSettings(), model.EngineContext{Credential: s.apiKey}, nil)
	require.NoError(s.T(), err)

	assert.NotEmpty(s.T(), strings.TrimSpace(result.Text))
	assert.NotEmpty(s.T(), result.Segments)
	assert.Equal(s.T(), "openai", result.Metadata[model.MetadataKeyProvider])
	assert.NotEmpty(s.T(), result.Metadata[model.MetadataKeyLatencyMs])
	assert.NotEmpty(s.T(), result.Metadata[model.MetadataKeyModel])
}

func TestOpenAIAudioIntegrationSuite(t *testing.T) {
	suite.Run(t, new(OpenAIAudioIntegrationSuite))
}
