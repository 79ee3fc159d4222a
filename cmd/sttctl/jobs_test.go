package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Nephrolytics-ai/polyglot-stt/pkg/model"
)

func TestRenderJobsShowsFallbackProvider(t *testing.T) {
	var buf bytes.Buffer
	renderJobs(&buf, []model.Job{
		{
			ID:        "job-1",
			Filename:  "meeting.m4a",
			Status:    model.JobStatusCompleted,
			Duration:  5,
			UpdatedAt: time.Now(),
			Result: &model.Result{
				Text:     "Good morning.  How are you?",
				Provider: model.ProviderLocal,
				Metadata: model.ResultMetadata{model.MetadataKeyFallbackFrom: "openai"},
			},
		},
		{
			ID:        "job-2",
			Filename:  "gone.wav",
			Status:    model.JobStatusFailed,
			Error:     "missing source file",
			UpdatedAt: time.Now(),
		},
	})

	out := buf.String()
	assert.Contains(t, out, "job-1")
	assert.Contains(t, out, "local (fallback from openai)")
	assert.Contains(t, out, "Good morning. How are you?")
	assert.Contains(t, out, "missing source file")
}

func TestStatusLabelShowsProgress(t *testing.T) {
	assert.Equal(t, "transcribing 42%", statusLabel(model.Job{Status: model.JobStatusTranscribing, Progress: 0.42}))
	assert.Equal(t, "queued", statusLabel(model.Job{Status: model.JobStatusQueued}))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	long := strings.Repeat("a", 20)
	assert.Equal(t, strings.Repeat("a", 7)+"...", truncate(long, 10))
}
