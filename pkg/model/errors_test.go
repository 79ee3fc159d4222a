package model

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/suite"
)

type ErrorsSuite struct {
	suite.Suite
}

func TestErrorsSuite(t *testing.T) {
	suite.Run(t, new(ErrorsSuite))
}

func (s *ErrorsSuite) TestUserMessageKeepsHTTPDetails() {
	err := fmt.Errorf("github.com/Nephrolytics-ai/polyglot-stt/pkg/engines/openai.(*Engine).Transcribe: %w",
		&RemoteHTTPError{Provider: ProviderOpenAI, StatusCode: 401, Body: `{"error":"bad key"}`})

	s.Equal(`openai http 401: {"error":"bad key"}`, UserMessage(err))
}

func (s *ErrorsSuite) TestUserMessageSentinelWithDetail() {
	err := fmt.Errorf("github.com/x/pkg/jobs.(*Manager).RetryJob: %w: /tmp/a.wav", ErrMissingSourceFile)

	s.Equal("missing source file: /tmp/a.wav", UserMessage(err))
}

func (s *ErrorsSuite) TestUserMessageStripsCallerPrefixes() {
	err := fmt.Errorf("github.com/x/pkg/a.F: %w", errors.New("disk full"))

	s.Equal("disk full", UserMessage(err))
}

func (s *ErrorsSuite) TestUserMessageNil() {
	s.Empty(UserMessage(nil))
}

func (s *ErrorsSuite) TestJobStatusPredicates() {
	s.True(JobStatusCompleted.IsTerminal())
	s.True(JobStatusCancelled.IsTerminal())
	s.False(JobStatusQueued.IsTerminal())
	s.True(JobStatusTranscribing.IsActive())
	s.False(JobStatusFailed.IsActive())
}

func (s *ErrorsSuite) TestSettingsEffectiveTask() {
	s.Equal(TaskTranscribe, ResolveSettings().EffectiveTask())
	s.Equal(TaskTranslate, ResolveSettings(WithTranslate(true)).EffectiveTask())
	s.Equal("", ResolveSettings(WithLanguage("auto")).LanguageHint())
	s.Equal("pl", ResolveSettings(WithLanguage(" pl ")).LanguageHint())
}

func (s *ErrorsSuite) TestJobCloneCopiesResult() {
	job := Job{ID: "a", Result: &Result{Text: "x", Segments: []Segment{{Text: "x"}}}}
	cloned := job.Clone()
	cloned.Result.Segments[0].Text = "changed"

	s.Equal("x", job.Result.Segments[0].Text)
}
