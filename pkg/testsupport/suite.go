// Package testsupport holds the shared base suite for tests that reach real
// providers or databases. Those suites skip when their settings are absent.
package testsupport

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type ExternalDependenciesSuite struct {
	suite.Suite
	settingsFile string
}

func (s *ExternalDependenciesSuite) SetupSuite() {
	settingsFromEnv := strings.TrimSpace(os.Getenv("SETTINGS_FILE"))
	settingsFile := settingsFromEnv
	if settingsFile == "" {
		homeDir, err := os.UserHomeDir()
		require.NoError(s.T(), err)
		settingsFile = filepath.Join(homeDir, ".env")
	}

	s.settingsFile = settingsFile

	_, err := os.Stat(settingsFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && settingsFromEnv == "" {
			// If defaulting to $HOME/.env and it doesn't exist, continue.
			return
		}
		require.NoError(s.T(), err)
		return
	}

	err = godotenv.Overload(settingsFile)
	require.NoError(s.T(), err)
}

func (s *ExternalDependenciesSuite) SettingsFile() string {
	return s.settingsFile
}

// RequireEnv returns the trimmed value of key or skips the suite.
func (s *ExternalDependenciesSuite) RequireEnv(key string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		s.T().Skipf("%s is not set; skipping external dependency integration test", key)
	}
	return value
}

// AudioFixture returns STT_AUDIO_FIXTURE when it points at a readable file, or skips.
func (s *ExternalDependenciesSuite) AudioFixture() string {
	path := s.RequireEnv("STT_AUDIO_FIXTURE")
	if _, err := os.Stat(path); err != nil {
		s.T().Skipf("%s is not accessible (%v); skipping audio integration test", path, err)
	}
	return path
}
