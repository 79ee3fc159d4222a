// Package whisperapi talks to OpenAI-compatible Whisper endpoints (Groq, self-hosted
// faster-whisper servers) over plain multipart HTTP.
package whisperapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Nephrolytics-ai/polyglot-stt/pkg/engines/remote"
	"github.com/Nephrolytics-ai/polyglot-stt/pkg/logging"
	"github.com/Nephrolytics-ai/polyglot-stt/pkg/model"
	"github.com/Nephrolytics-ai/polyglot-stt/pkg/utils"
)

const (
	defaultBaseURL   = "https://api.groq.com/openai/v1"
	defaultModelName = "whisper-large-v3-turbo"
)

// FallbackModels are tried in order when the configured model id is rejected.
var FallbackModels = []string{
	"whisper-large-v3-turbo",
	"whisper-large-v3",
}

type Config struct {
	BaseURL    string
	Model      string
	Policy     remote.Policy
	HTTPClient *http.Client
}

type Engine struct {
	cfg        Config
	baseURL    string
	policy     remote.Policy
	models     *remote.ModelCache
	httpClient *http.Client
}

type verboseResponse struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

func New(cfg Config) *Engine {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &Engine{
		cfg:        cfg,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		policy:     cfg.Policy.WithDefaults(),
		models:     remote.NewModelCache(),
		httpClient: httpClient,
	}
}

func (e *Engine) Provider() model.Provider {
	return model.ProviderWhisperAPI
}

func (e *Engine) Capabilities() model.Capabilities {
	return model.Capabilities{
		Translation:       true,
		SegmentTimestamps: true,
	}
}

func (e *Engine) Transcribe(
	ctx context.Context,
	audioPath string,
	settings model.Settings,
	engineCtx model.EngineContext,
	progress model.ProgressFunc,
) (model.Result, error) {
	start := time.Now()
	log := logging.NewComponentLogger(ctx, "engine.whisperapi")

	credential, err := remote.RequireCredential(model.ProviderWhisperAPI, engineCtx)
	if err != nil {
		return model.Result{}, err
	}
	uploadMode, size, err := remote.UploadMode(audioPath, e.policy.StreamThreshold)
	if err != nil {
		return model.Result{}, utils.WrapIfNotNil(err)
	}

	requested := e.resolveModelName(engineCtx)
	task := remote.ResolveTask(settings, engineCtx)
	log.Infof("audio_transcription_request model=%q task=%s upload_mode=%s bytes=%d", requested, task, uploadMode, size)

	attempts := 0
	result, used, err := remote.WithModelFallback(ctx, e.models, requested, FallbackModels, func(ctx context.Context, modelID string) (model.Result, error) {
		r, n, err := remote.Do(ctx, e.policy, func(ctx context.Context) (model.Result, error) {
			return e.postOnce(ctx, credential, audioPath, modelID, task, settings, uploadMode)
		})
		attempts += n
		return r, err
	})
	if err != nil {
		log.Errorf("error: %v", err)
		return model.Result{}, utils.WrapIfNotNil(err)
	}

	meta := remote.InitMetadata(model.ProviderWhisperAPI, used)
	meta[model.MetadataKeyAttempts] = strconv.Itoa(attempts)
	meta[model.MetadataKeyUploadMode] = uploadMode
	if used != requested {
		meta[model.MetadataKeyModelFallback] = requested
	}
	remote.SetLatencyMetadata(meta, start)

	result.Provider = model.ProviderWhisperAPI
	result.Model = used
	if progress != nil {
		progress(1)
	}
	return remote.Finish(result, settings, meta)
}

// resolveModelName ignores Settings.ModelRef, which names the on-device model.
func (e *Engine) resolveModelName(engineCtx model.EngineContext) string {
	for _, candidate := range []string{engineCtx.ModelRef, e.cfg.Model} {
		if name := strings.TrimSpace(candidate); name != "" {
			return name
		}
	}
	return defaultModelName
}

func (e *Engine) postOnce(
	ctx context.Context,
	credential string,
	audioPath string,
	modelID string,
	task model.Task,
	settings model.Settings,
	uploadMode string,
) (model.Result, error) {
	endpoint := e.baseURL + "/audio/transcriptions"
	if task == model.TaskTranslate {
		endpoint = e.baseURL + "/audio/translations"
	}
	fields := formFields(modelID, task, settings)

	var body io.Reader
	var contentType string
	var contentLength int64 = -1
	if uploadMode == remote.UploadModeStream {
		stream, ct := remote.StreamMultipart(ctx, audioPath, fields)
		defer stream.Close()
		body, contentType = stream, ct
	} else {
		buf, ct, err := remote.BufferMultipart(audioPath, fields)
		if err != nil {
			return model.Result{}, utils.WrapIfNotNil(err)
		}
		body, contentType, contentLength = buf, ct, int64(buf.Len())
	}

	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return model.Result{}, utils.WrapIfNotNil(err)
	}
	if contentLength >= 0 {
		httpRequest.ContentLength = contentLength
	}
	httpRequest.Header.Set("Content-Type", contentType)
	httpRequest.Header.Set("Authorization", "Bearer "+credential)

	httpResponse, err := e.httpClient.Do(httpRequest)
	if err != nil {
		return model.Result{}, utils.WrapIfNotNil(err)
	}
	defer httpResponse.Body.Close()

	if httpResponse.StatusCode < 200 || httpResponse.StatusCode >= 300 {
		return model.Result{}, remote.NewHTTPError(model.ProviderWhisperAPI, httpResponse)
	}

	responseBits, err := io.ReadAll(httpResponse.Body)
	if err != nil {
		return model.Result{}, utils.WrapIfNotNil(err)
	}

	response := verboseResponse{}
	if err := json.Unmarshal(responseBits, &response); err != nil {
		return model.Result{}, utils.WrapIfNotNil(fmt.Errorf("%w: unparseable response: %w", model.ErrInferenceFailure, err))
	}

	result := model.Result{
		Text:     response.Text,
		Language: response.Language,
		Duration: response.Duration,
	}
	if task == model.TaskTranslate {
		result.Language = "en"
	}
	for _, seg := range response.Segments {
		result.Segments = append(result.Segments, model.Segment{Start: seg.Start, End: seg.End, Text: seg.Text})
	}
	return result, nil
}

func formFields(modelID string, task model.Task, settings model.Settings) []remote.FormField {
	fields := []remote.FormField{
		{Name: "model", Value: modelID},
		{Name: "response_format", Value: "verbose_json"},
	}
	if task != model.TaskTranslate {
		fields = append(fields, remote.FormField{Name: "timestamp_granularities[]", Value: "segment"})
		if lang := settings.LanguageHint(); lang != "" {
			fields = append(fields, remote.FormField{Name: "language", Value: lang})
		}
	}
	if prompt := strings.TrimSpace(settings.InitialPrompt); prompt != "" {
		fields = append(fields, remote.FormField{Name: "prompt", Value: prompt})
	}
	if settings.Temperature != nil {
		fields = append(fields, remote.FormField{Name: "temperature", Value: strconv.FormatFloat(*settings.Temperature, 'f', -1, 64)})
	}
	return fields
}
