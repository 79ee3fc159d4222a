// Package gemini transcribes by prompting Gemini models with audio parts and a
// JSON response schema.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/Nephrolytics-ai/polyglot-stt/pkg/engines/remote"
	"github.com/Nephrolytics-ai/polyglot-stt/pkg/logging"
	"github.com/Nephrolytics-ai/polyglot-stt/pkg/model"
	"github.com/Nephrolytics-ai/polyglot-stt/pkg/utils"
)

const (
	defaultGenerationModelName = "gemini-2.5-flash"
	filePollInterval           = 500 * time.Millisecond
	filePollAttempts           = 20
)

// FallbackModels are tried in order when the configured model id is rejected.
var FallbackModels = []string{
	"gemini-2.5-flash",
	"gemini-2.0-flash",
	"gemini-1.5-flash",
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
	schema map[string]any
}

// transcriptPayload is the shape Gemini is asked to answer with.
type transcriptPayload struct {
	Language string           `json:"language" jsonschema:"description=ISO-639-1 code of the spoken language"`
	Segments []segmentPayload `json:"segments" jsonschema:"description=Consecutive utterances in playback order"`
}

type segmentPayload struct {
	Start   float64 `json:"start" jsonschema:"description=Start time in seconds"`
	End     float64 `json:"end" jsonschema:"description=End time in seconds"`
	Text    string  `json:"text"`
	Speaker string  `json:"speaker,omitempty" jsonschema:"description=Speaker label when several voices are present"`
}

func New(cfg Config) (*Engine, error) {
	schema, err := responseSchema()
	if err != nil {
		return nil, utils.WrapIfNotNil(err)
	}

	return &Engine{
		cfg:    cfg,
		policy: cfg.Policy.WithDefaults(),
		models: remote.NewModelCache(),
		schema: schema,
	}, nil
}

func (e *Engine) Provider() model.Provider {
	return model.ProviderGemini
}

func (e *Engine) Capabilities() model.Capabilities {
	return model.Capabilities{
		Translation:       true,
		Diarization:       true,
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
	log := logging.NewComponentLogger(ctx, "engine.gemini")

	credential, err := remote.RequireCredential(model.ProviderGemini, engineCtx)
	if err != nil {
		return model.Result{}, err
	}
	uploadMode, size, err := remote.UploadMode(audioPath, e.policy.StreamThreshold)
	if err != nil {
		return model.Result{}, utils.WrapIfNotNil(err)
	}
	mimeType, err := resolveAudioMIMEType(audioPath)
	if err != nil {
		return model.Result{}, utils.WrapIfNotNil(err)
	}

	client, err := e.newAPIClient(ctx, credential)
	if err != nil {
		log.Errorf("error: %v", err)
		return model.Result{}, utils.WrapIfNotNil(err)
	}

	audioPart, cleanup, err := e.audioPart(ctx, client, audioPath, mimeType, uploadMode)
	if err != nil {
		log.Errorf("error: %v", err)
		return model.Result{}, utils.WrapIfNotNil(err)
	}
	defer cleanup()

	requested := e.resolveModelName(engineCtx)
	task := remote.ResolveTask(settings, engineCtx)
	log.Infof("audio_transcription_request model=%q task=%s upload_mode=%s bytes=%d", requested, task, uploadMode, size)

	contents := []*genai.Content{
		genai.NewContentFromParts(
			[]*genai.Part{
				genai.NewPartFromText(buildPrompt(settings, task)),
				audioPart,
			},
			genai.RoleUser,
		),
	}
	genConfig := &genai.GenerateContentConfig{
		ResponseMIMEType:   "application/json",
		ResponseJsonSchema: e.schema,
	}
	if settings.Temperature != nil {
		genConfig.Temperature = genai.Ptr(float32(*settings.Temperature))
	}

	attempts := 0
	result, used, err := remote.WithModelFallback(ctx, e.models, requested, FallbackModels, func(ctx context.Context, modelID string) (model.Result, error) {
		r, n, err := remote.Do(ctx, e.policy, func(ctx context.Context) (model.Result, error) {
			response, err := client.Models.GenerateContent(ctx, modelID, contents, genConfig)
			if err != nil {
				return model.Result{}, mapError(err)
			}
			return parseResponse(response)
		})
		attempts += n
		return r, err
	})
	if err != nil {
		log.Errorf("error: %v", err)
		return model.Result{}, utils.WrapIfNotNil(err)
	}

	meta := remote.InitMetadata(model.ProviderGemini, used)
	meta[model.MetadataKeyAttempts] = strconv.Itoa(attempts)
	meta[model.MetadataKeyUploadMode] = uploadMode
	if used != requested {
		meta[model.MetadataKeyModelFallback] = requested
	}
	remote.SetLatencyMetadata(meta, start)

	result.Provider = model.ProviderGemini
	result.Model = used
	if task == model.TaskTranslate {
		result.Language = "en"
	}
	if progress != nil {
		progress(1)
	}
	return remote.Finish(result, settings, meta)
}

func (e *Engine) newAPIClient(ctx context.Context, credential string) (*genai.Client, error) {
	clientCfg := &genai.ClientConfig{
		Backend: genai.BackendGeminiAPI,
		APIKey:  credential,
	}
	if baseURL := strings.TrimSpace(e.cfg.BaseURL); baseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{
			BaseURL: baseURL,
		}
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, utils.WrapIfNotNil(err)
	}
	return client, nil
}

// audioPart inlines small files and uploads large ones through the Files API.
func (e *Engine) audioPart(
	ctx context.Context,
	client *genai.Client,
	audioPath string,
	mimeType string,
	uploadMode string,
) (*genai.Part, func(), error) {
	if uploadMode == remote.UploadModeInline {
		audioBytes, err := os.ReadFile(audioPath)
		if err != nil {
			return nil, nil, utils.WrapIfNotNil(err)
		}
		return genai.NewPartFromBytes(audioBytes, mimeType), func() {}, nil
	}

	file, _, err := remote.Do(ctx, e.policy, func(ctx context.Context) (*genai.File, error) {
		uploaded, err := client.Files.UploadFromPath(ctx, audioPath, &genai.UploadFileConfig{MIMEType: mimeType})
		if err != nil {
			return nil, mapError(err)
		}
		return uploaded, nil
	})
	if err != nil {
		return nil, nil, utils.WrapIfNotNil(err)
	}

	file, err = waitForActive(ctx, client, file)
	cleanup := func() {
		if _, delErr := client.Files.Delete(context.WithoutCancel(ctx), file.Name, nil); delErr != nil {
			logging.NewComponentLogger(ctx, "engine.gemini").Warnf("file_delete_failed name=%q error=%v", file.Name, delErr)
		}
	}
	if err != nil {
		cleanup()
		return nil, nil, utils.WrapIfNotNil(err)
	}
	return genai.NewPartFromURI(file.URI, mimeType), cleanup, nil
}

func waitForActive(ctx context.Context, client *genai.Client, file *genai.File) (*genai.File, error) {
	for i := 0; i < filePollAttempts && file.State == genai.FileStateProcessing; i++ {
		select {
		case <-ctx.Done():
			return file, ctx.Err()
		case <-time.After(filePollInterval):
		}
		refreshed, err := client.Files.Get(ctx, file.Name, nil)
		if err != nil {
			return file, mapError(err)
		}
		file = refreshed
	}
	if file.State == genai.FileStateFailed {
		return file, fmt.Errorf("uploaded file %s failed processing", file.Name)
	}
	return file, nil
}

// resolveModelName ignores Settings.ModelRef, which names the on-device model.
func (e *Engine) resolveModelName(engineCtx model.EngineContext) string {
	for _, candidate := range []string{engineCtx.ModelRef, e.cfg.Model} {
		if name := strings.TrimSpace(candidate); name != "" {
			return name
		}
	}
	return defaultGenerationModelName
}

func buildPrompt(settings model.Settings, task model.Task) string {
	var b strings.Builder
	if task == model.TaskTranslate {
		b.WriteString("Translate the speech in this audio into English.")
	} else {
		b.WriteString("Transcribe this audio accurately in the language that is spoken.")
	}
	if lang := settings.LanguageHint(); lang != "" {
		b.WriteString(" The speaker uses language code " + lang + ".")
	}
	b.WriteString(" Split the transcript into segments with start and end times in seconds.")
	if settings.Diarize {
		b.WriteString(" Label each segment with a stable speaker name such as speaker_0.")
	}
	b.WriteString(" Omit sound descriptions such as music or laughter.")
	if prompt := strings.TrimSpace(settings.InitialPrompt); prompt != "" {
		b.WriteString(" Context and vocabulary: " + prompt)
	}
	return b.String()
}

func parseResponse(response *genai.GenerateContentResponse) (model.Result, error) {
	if response == nil {
		return model.Result{}, utils.WrapIfNotNil(model.ErrRemoteEmptyResponse)
	}
	raw := strings.TrimSpace(response.Text())
	if raw == "" {
		return model.Result{}, utils.WrapIfNotNil(model.ErrRemoteEmptyResponse)
	}

	var payload transcriptPayload
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &payload); err != nil {
		return model.Result{}, utils.WrapIfNotNil(fmt.Errorf("%w: unparseable response: %w", model.ErrInferenceFailure, err))
	}

	result := model.Result{Language: strings.TrimSpace(payload.Language)}
	for _, seg := range payload.Segments {
		result.Segments = append(result.Segments, model.Segment{
			Start:   seg.Start,
			End:     seg.End,
			Text:    seg.Text,
			Speaker: strings.TrimSpace(seg.Speaker),
		})
	}
	return result, nil
}

func stripCodeFence(raw string) string {
	if !strings.HasPrefix(raw, "```") {
		return raw
	}
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(raw), "```"))
}

// responseSchema drops the draft identifiers Gemini does not accept.
func responseSchema() (map[string]any, error) {
	schema, err := utils.JSONSchema[transcriptPayload]()
	if err != nil {
		return nil, err
	}
	delete(schema, "$schema")
	delete(schema, "$id")
	return schema, nil
}

func mapError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &model.RemoteHTTPError{Provider: model.ProviderGemini, StatusCode: apiErr.Code, Body: apiErr.Message}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return &model.RemoteHTTPError{Provider: model.ProviderGemini, StatusCode: apiErrPtr.Code, Body: apiErrPtr.Message}
	}
	return utils.WrapIfNotNil(err)
}

func resolveAudioMIMEType(filePath string) (string, error) {
	ext := strings.ToLower(filepath.Ext(strings.TrimSpace(filePath)))
	if ext == "" {
		return "", utils.WrapIfNotNil(errors.New("audio file extension is required to determine mime type"))
	}

	switch ext {
	case ".wav":
		return "audio/wav", nil
	case ".mp3":
		return "audio/mpeg", nil
	case ".m4a", ".mp4":
		return "audio/mp4", nil
	case ".ogg", ".opus":
		return "audio/ogg", nil
	case ".flac":
		return "audio/flac", nil
	case ".aac":
		return "audio/aac", nil
	}

	mimeType := mime.TypeByExtension(ext)
	if mimeType == "" {
		return "", utils.WrapIfNotNil(errors.New("unsupported audio file extension: " + ext))
	}

	// Strip parameters such as "; charset=utf-8".
	mimeType = strings.TrimSpace(strings.Split(mimeType, ";")[0])
	if !strings.HasPrefix(mimeType, "audio/") {
		return "", utils.WrapIfNotNil(errors.New("unsupported audio mime type: " + mimeType))
	}
	return mimeType, nil
}
