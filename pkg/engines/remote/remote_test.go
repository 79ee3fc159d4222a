package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Nephrolytics-ai/polyglot-stt/pkg/model"
	"github.com/stretchr/testify/suite"
)

type RemoteSuite struct {
	suite.Suite
	policy Policy
}

func TestRemoteSuite(t *testing.T) {
	suite.Run(t, new(RemoteSuite))
}

func (s *RemoteSuite) SetupTest() {
	s.policy = Policy{BaseDelay: time.Millisecond, RequestTimeout: time.Second}
}

func (s *RemoteSuite) TestDoRetriesTransientFailures() {
	calls := 0
	value, attempts, err := Do(context.Background(), s.policy, func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", fmt.Errorf("read body: %w", io.ErrUnexpectedEOF)
		}
		return "ok", nil
	})

	s.Require().NoError(err)
	s.Equal("ok", value)
	s.Equal(3, attempts)
}

func (s *RemoteSuite) TestDoStopsAfterMaxAttempts() {
	calls := 0
	_, attempts, err := Do(context.Background(), s.policy, func(ctx context.Context) (int, error) {
		calls++
		return 0, io.ErrUnexpectedEOF
	})

	s.Require().Error(err)
	s.Equal(DefaultMaxAttempts, calls)
	s.Equal(DefaultMaxAttempts, attempts)
}

func (s *RemoteSuite) TestDoNeverRetriesHTTPErrors() {
	calls := 0
	_, _, err := Do(context.Background(), s.policy, func(ctx context.Context) (int, error) {
		calls++
		return 0, &model.RemoteHTTPError{Provider: model.ProviderOpenAI, StatusCode: 503, Body: "overloaded"}
	})

	s.Require().Error(err)
	s.Equal(1, calls)
	var httpErr *model.RemoteHTTPError
	s.Require().ErrorAs(err, &httpErr)
	s.Equal(503, httpErr.StatusCode)
}

func (s *RemoteSuite) TestIsModelRejected() {
	s.True(IsModelRejected(&model.RemoteHTTPError{StatusCode: 404}))
	s.True(IsModelRejected(&model.RemoteHTTPError{StatusCode: 400, Body: `{"error":{"message":"The model whisper-9 does not exist"}}`}))
	s.True(IsModelRejected(fmt.Errorf("wrapped: %w", &model.RemoteHTTPError{StatusCode: 400, Body: "Invalid model"})))
	s.False(IsModelRejected(&model.RemoteHTTPError{StatusCode: 400, Body: "file is too short"}))
	s.False(IsModelRejected(&model.RemoteHTTPError{StatusCode: 401, Body: "invalid api key for model"}))
	s.False(IsModelRejected(errors.New("model not found")))
}

func (s *RemoteSuite) TestWithModelFallbackCachesWorkingAlternate() {
	cache := NewModelCache()
	var tried []string
	attempt := func(ctx context.Context, modelID string) (string, error) {
		tried = append(tried, modelID)
		if modelID == "good" {
			return "text", nil
		}
		return "", &model.RemoteHTTPError{StatusCode: http.StatusNotFound}
	}

	value, used, err := WithModelFallback(context.Background(), cache, "gone", []string{"also-gone", "good"}, attempt)
	s.Require().NoError(err)
	s.Equal("text", value)
	s.Equal("good", used)
	s.Equal([]string{"gone", "also-gone", "good"}, tried)

	tried = nil
	_, used, err = WithModelFallback(context.Background(), cache, "gone", []string{"also-gone", "good"}, attempt)
	s.Require().NoError(err)
	s.Equal("good", used)
	s.Equal([]string{"good"}, tried)
}

func (s *RemoteSuite) TestWithModelFallbackStopsOnOtherErrors() {
	calls := 0
	_, _, err := WithModelFallback(context.Background(), NewModelCache(), "m1", []string{"m2"}, func(ctx context.Context, modelID string) (int, error) {
		calls++
		return 0, &model.RemoteHTTPError{StatusCode: 500}
	})
	s.Require().Error(err)
	s.Equal(1, calls)
}

func (s *RemoteSuite) TestFinishRejectsEmptyTranscript() {
	_, err := Finish(model.Result{Text: "  [BLANK_AUDIO] "}, model.Settings{}, nil)
	s.ErrorIs(err, model.ErrRemoteEmptyResponse)

	result, err := Finish(model.Result{Text: "hi"}, model.Settings{DurationEstimate: 1}, InitMetadata(model.ProviderGemini, ""))
	s.Require().NoError(err)
	s.Equal("unknown", result.Metadata[model.MetadataKeyModel])
	s.Len(result.Segments, 1)
}

func (s *RemoteSuite) TestUploadModeUsesThreshold() {
	path := filepath.Join(s.T().TempDir(), "a.wav")
	s.Require().NoError(os.WriteFile(path, make([]byte, 128), 0o644))

	mode, size, err := UploadMode(path, 64)
	s.Require().NoError(err)
	s.Equal(UploadModeStream, mode)
	s.Equal(int64(128), size)

	mode, _, err = UploadMode(path, 1024)
	s.Require().NoError(err)
	s.Equal(UploadModeInline, mode)
}

func (s *RemoteSuite) TestRequireCredential() {
	_, err := RequireCredential(model.ProviderOpenAI, model.EngineContext{Credential: "  "})
	s.ErrorIs(err, model.ErrMissingCredential)

	key, err := RequireCredential(model.ProviderOpenAI, model.EngineContext{Credential: "sk"})
	s.Require().NoError(err)
	s.Equal("sk", key)
}
