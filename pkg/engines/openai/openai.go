// Package openai transcribes through the OpenAI audio API.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"

	"github.com/Nephrolytics-ai/polyglot-stt/pkg/engines/remote"
	"github.com/Nephrolytics-ai/polyglot-stt/pkg/logging"
	"github.com/Nephrolytics-ai/polyglot-stt/pkg/model"
	"github.com/Nephrolytics-ai/polyglot-stt/pkg/utils"
)

const defaultAudioTranscriptionModelName = openai.AudioModelWhisper1

// FallbackModels are tried in order when the configured model id is rejected.
var FallbackModels = []string{
	openai.AudioModelGPT4oTranscribe,
	openai.AudioModelGPT4oMiniTranscribe,
	openai.AudioModelWhisper1,
}

type Config struct {
	BaseURL string
	Model   string
	Policy  remote.Policy
}

type Engine struct {
	cfg    Config
	policy remote.Policy
	models *remote.ModelCache
}

func New(cfg Config) *Engine {
	return &Engine{
		cfg:    cfg,
		policy: cfg.Policy.WithDefaults(),
		models: remote.NewModelCache(),
	}
}

func (e *Engine) Provider() model.Provider {
	return model.ProviderOpenAI
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
	log := logging.NewComponentLogger(ctx, "engine.openai")

	credential, err := remote.RequireCredential(model.ProviderOpenAI, engineCtx)
	if err != nil {
		return model.Result{}, err
	}
	uploadMode, size, err := remote.UploadMode(audioPath, e.policy.StreamThreshold)
	if err != nil {
		return model.Result{}, utils.WrapIfNotNil(err)
	}

	client := e.newClient(credential)
	requested := e.resolveModelName(engineCtx)
	task := remote.ResolveTask(settings, engineCtx)
	log.Infof("audio_transcription_request model=%q task=%s upload_mode=%s bytes=%d", requested, task, uploadMode, size)

	attempts := 0
	result, used, err := remote.WithModelFallback(ctx, e.models, requested, FallbackModels, func(ctx context.Context, modelID string) (model.Result, error) {
		r, n, err := remote.Do(ctx, e.policy, func(ctx context.Context) (model.Result, error) {
			if uploadMode == remote.UploadModeStream {
				return e.streamOnce(ctx, client, audioPath, modelID, task, settings)
			}
			return e.transcribeOnce(ctx, client, audioPath, modelID, task, settings)
		})
		attempts += n
		return r, err
	})
	if err != nil {
		log.Errorf("error: %v", err)
		return model.Result{}, utils.WrapIfNotNil(err)
	}

	meta := remote.InitMetadata(model.ProviderOpenAI, used)
	meta[model.MetadataKeyAttempts] = strconv.Itoa(attempts)
	meta[model.MetadataKeyUploadMode] = uploadMode
	if used != requested {
		meta[model.MetadataKeyModelFallback] = requested
	}
	remote.SetLatencyMetadata(meta, start)

	result.Provider = model.ProviderOpenAI
	result.Model = used
	if progress != nil {
		progress(1)
	}
	return remote.Finish(result, settings, meta)
}

func (e *Engine) newClient(credential string) openai.Client {
	requestOpts := []option.RequestOption{
		option.WithAPIKey(credential),
		option.WithMaxRetries(0),
	}
	if baseURL := strings.TrimSpace(e.cfg.BaseURL); baseURL != "" {
		requestOpts = append(requestOpts, option.WithBaseURL(baseURL))
	}
	return openai.NewClient(requestOpts...)
}

// resolveModelName ignores Settings.ModelRef, which names the on-device model.
func (e *Engine) resolveModelName(engineCtx model.EngineContext) string {
	for _, candidate := range []string{engineCtx.ModelRef, e.cfg.Model} {
		if name := strings.TrimSpace(candidate); name != "" {
			return name
		}
	}
	return defaultAudioTranscriptionModelName
}

func (e *Engine) transcribeOnce(
	ctx context.Context,
	client openai.Client,
	audioPath string,
	modelID string,
	task model.Task,
	settings model.Settings,
) (model.Result, error) {
	file, err := os.Open(audioPath)
	if err != nil {
		return model.Result{}, utils.WrapIfNotNil(err)
	}
	defer func() {
		_ = file.Close()
	}()

	if task == model.TaskTranslate {
		return e.translateOnce(ctx, client, file, modelID, settings)
	}

	params := openai.AudioTranscriptionNewParams{
		File:           file,
		Model:          openai.AudioModel(modelID),
		ResponseFormat: responseFormatFor(modelID),
	}
	if params.ResponseFormat == openai.AudioResponseFormatVerboseJSON {
		params.TimestampGranularities = []string{"segment"}
	}
	if lang := settings.LanguageHint(); lang != "" {
		params.Language = param.NewOpt(lang)
	}
	if prompt := strings.TrimSpace(settings.InitialPrompt); prompt != "" {
		params.Prompt = param.NewOpt(prompt)
	}
	if settings.Temperature != nil {
		params.Temperature = param.NewOpt(*settings.Temperature)
	}

	response, err := client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return model.Result{}, mapError(err)
	}
	if response == nil {
		return model.Result{}, utils.WrapIfNotNil(model.ErrRemoteEmptyResponse)
	}

	result := model.Result{
		Text:     response.Text,
		Language: response.Language,
		Duration: response.Duration,
	}
	for _, seg := range response.Segments {
		result.Segments = append(result.Segments, model.Segment{Start: seg.Start, End: seg.End, Text: seg.Text})
	}
	return result, nil
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

func (e *Engine) translateOnce(
	ctx context.Context,
	client openai.Client,
	file *os.File,
	modelID string,
	settings model.Settings,
) (model.Result, error) {
	params := openai.AudioTranslationNewParams{
		File:           file,
		Model:          openai.AudioModel(modelID),
		ResponseFormat: openai.AudioTranslationNewParamsResponseFormatVerboseJSON,
	}
	if prompt := strings.TrimSpace(settings.InitialPrompt); prompt != "" {
		params.Prompt = param.NewOpt(prompt)
	}
	if settings.Temperature != nil {
		params.Temperature = param.NewOpt(*settings.Temperature)
	}

	response, err := client.Audio.Translations.New(ctx, params)
	if err != nil {
		return model.Result{}, mapError(err)
	}
	if response == nil {
		return model.Result{}, utils.WrapIfNotNil(model.ErrRemoteEmptyResponse)
	}

	result := model.Result{Text: response.Text, Language: "en"}
	var verbose verboseResponse
	if raw := response.RawJSON(); raw != "" && json.Unmarshal([]byte(raw), &verbose) == nil {
		result.Duration = verbose.Duration
		for _, seg := range verbose.Segments {
			result.Segments = append(result.Segments, model.Segment{Start: seg.Start, End: seg.End, Text: seg.Text})
		}
	}
	return result, nil
}

// streamOnce posts a multipart body fed through a pipe. The SDK would otherwise
// buffer the whole file before sending.
func (e *Engine) streamOnce(
	ctx context.Context,
	client openai.Client,
	audioPath string,
	modelID string,
	task model.Task,
	settings model.Settings,
) (model.Result, error) {
	path := "audio/transcriptions"
	if task == model.TaskTranslate {
		path = "audio/translations"
	}
	body, contentType := remote.StreamMultipart(ctx, audioPath, streamFields(modelID, task, settings))
	defer func() {
		_ = body.Close()
	}()

	var response verboseResponse
	if err := client.Post(ctx, path, nil, &response, option.WithRequestBody(contentType, body)); err != nil {
		return model.Result{}, mapError(err)
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

func streamFields(modelID string, task model.Task, settings model.Settings) []remote.FormField {
	format := string(responseFormatFor(modelID))
	if task == model.TaskTranslate {
		format = string(openai.AudioTranslationNewParamsResponseFormatVerboseJSON)
	}
	fields := []remote.FormField{
		{Name: "model", Value: modelID},
		{Name: "response_format", Value: format},
	}
	if task != model.TaskTranslate {
		if format == string(openai.AudioResponseFormatVerboseJSON) {
			fields = append(fields, remote.FormField{Name: "timestamp_granularities[]", Value: "segment"})
		}
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

// responseFormatFor picks verbose_json where the model supports segment timestamps.
func responseFormatFor(modelID string) openai.AudioResponseFormat {
	if strings.HasPrefix(modelID, "whisper") {
		return openai.AudioResponseFormatVerboseJSON
	}
	return openai.AudioResponseFormatJSON
}

// mapError turns SDK status errors into RemoteHTTPError so the shared policy treats them as permanent.
func mapError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		body := strings.TrimSpace(apiErr.RawJSON())
		if body == "" {
			body = apiErr.Message
		}
		return &model.RemoteHTTPError{
			Provider:   model.ProviderOpenAI,
			StatusCode: apiErr.StatusCode,
			Body:       body,
		}
	}
	return utils.WrapIfNotNil(err)
}
