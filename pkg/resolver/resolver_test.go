package resolver

import (
	"context"
	"testing"

	"github.com/Nephrolytics-ai/polyglot-stt/pkg/model"
	"github.com/stretchr/testify/suite"
)

type ResolverSuite struct {
	suite.Suite
}

func TestResolverSuite(t *testing.T) {
	suite.Run(t, new(ResolverSuite))
}

func (s *ResolverSuite) TestOfflineAlwaysLocal() {
	for _, provider := range model.KnownProviders() {
		got := Resolve(context.Background(), Config{
			OfflineMode:      true,
			SelectedProvider: provider,
			Credential:       "key",
			AllowFallback:    true,
		})
		s.Equal(model.ProviderLocal, got.Provider, provider)
		s.False(got.AllowFallback)
		s.Empty(got.Credential)
	}
}

func (s *ResolverSuite) TestRemoteWithoutCredentialDowngrades() {
	got := Resolve(context.Background(), Config{SelectedProvider: model.ProviderOpenAI, Credential: "  ", AllowFallback: true})

	s.Equal(model.ProviderLocal, got.Provider)
	s.False(got.AllowFallback)
	s.True(got.Downgraded)
}

func (s *ResolverSuite) TestRemoteWithCredential() {
	got := Resolve(context.Background(), Config{SelectedProvider: model.ProviderGemini, Credential: "key", AllowFallback: true})

	s.Equal(Resolution{Provider: model.ProviderGemini, Credential: "key", AllowFallback: true}, got)
}

func (s *ResolverSuite) TestFallbackFollowsConfig() {
	got := Resolve(context.Background(), Config{SelectedProvider: model.ProviderWhisperAPI, Credential: "key"})

	s.Equal(model.ProviderWhisperAPI, got.Provider)
	s.False(got.AllowFallback)
}

func (s *ResolverSuite) TestLocalSelection() {
	got := Resolve(context.Background(), Config{SelectedProvider: model.ProviderLocal, Credential: "ignored", AllowFallback: true})

	s.Equal(Resolution{Provider: model.ProviderLocal}, got)
}

func (s *ResolverSuite) TestUnknownProviderRunsLocal() {
	got := Resolve(context.Background(), Config{SelectedProvider: "deepgram", Credential: "key"})

	s.Equal(model.ProviderLocal, got.Provider)
	s.True(got.Downgraded)
}
