// Package remote holds the request policy shared by every network transcription provider:
// per-request timeouts, bounded retry of transient failures, model discovery and
// result post-processing.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/Nephrolytics-ai/polyglot-stt/pkg/logging"
	"github.com/Nephrolytics-ai/polyglot-stt/pkg/model"
	"github.com/Nephrolytics-ai/polyglot-stt/pkg/transcript"
	"github.com/Nephrolytics-ai/polyglot-stt/pkg/utils"
)

const (
	DefaultRequestTimeout        = 10 * time.Minute
	DefaultMaxAttempts           = 3
	DefaultBaseDelay             = 200 * time.Millisecond
	DefaultStreamThreshold int64 = 50 << 20

	UploadModeInline = "inline"
	UploadModeStream = "stream"
)

// Policy bounds every request a provider makes.
type Policy struct {
	RequestTimeout  time.Duration
	MaxAttempts     int
	BaseDelay       time.Duration
	StreamThreshold int64
}

// WithDefaults fills zero fields with the package defaults.
func (p Policy) WithDefaults() Policy {
	if p.RequestTimeout <= 0 {
		p.RequestTimeout = DefaultRequestTimeout
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.StreamThreshold <= 0 {
		p.StreamThreshold = DefaultStreamThreshold
	}
	return p
}

func (p Policy) newBackOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.BaseDelay
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxInterval = p.BaseDelay * time.Duration(1<<uint(p.MaxAttempts))
	exp.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(p.MaxAttempts-1)), ctx)
}

// Do runs op under the policy. Each attempt gets its own timeout; only transient
// network failures are retried. It returns the number of attempts made.
func Do[T any](ctx context.Context, policy Policy, op func(ctx context.Context) (T, error)) (T, int, error) {
	policy = policy.WithDefaults()
	log := logging.NewComponentLogger(ctx, "engine.remote")

	attempts := 0
	value, err := backoff.RetryWithData(func() (T, error) {
		attempts++
		attemptCtx, cancel := context.WithTimeout(ctx, policy.RequestTimeout)
		defer cancel()

		v, opErr := op(attemptCtx)
		if opErr == nil {
			return v, nil
		}
		if ctx.Err() != nil || !IsTransient(opErr) {
			return v, backoff.Permanent(opErr)
		}
		log.Warnf("remote_attempt_failed attempt=%d max=%d error=%v", attempts, policy.MaxAttempts, opErr)
		return v, opErr
	}, policy.newBackOff(ctx))

	return value, attempts, err
}

// IsTransient reports network-level failures that are worth retrying. HTTP status errors never are.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var httpErr *model.RemoteHTTPError
	if errors.As(err, &httpErr) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return utils.ContainsErrorSubstring(err, "connection reset by peer")
}

// IsModelRejected reports whether the provider refused the requested model id.
func IsModelRejected(err error) bool {
	var httpErr *model.RemoteHTTPError
	if !errors.As(err, &httpErr) {
		return false
	}
	if httpErr.StatusCode == http.StatusNotFound {
		return true
	}
	if httpErr.StatusCode != http.StatusBadRequest {
		return false
	}

	body := strings.ToLower(httpErr.Body)
	if !strings.Contains(body, "model") {
		return false
	}
	for _, marker := range []string{"not found", "does not exist", "invalid", "not supported", "unsupported"} {
		if strings.Contains(body, marker) {
			return true
		}
	}
	return false
}

// NewHTTPError reads a failed response into a RemoteHTTPError.
func NewHTTPError(provider model.Provider, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
	return &model.RemoteHTTPError{
		Provider:   provider,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
	}
}

// RequireCredential fails fast when no credential was supplied for the attempt.
func RequireCredential(provider model.Provider, engineCtx model.EngineContext) (string, error) {
	credential := strings.TrimSpace(engineCtx.Credential)
	if credential == "" {
		return "", utils.WrapIfNotNil(fmt.Errorf("%w: %s", model.ErrMissingCredential, provider))
	}
	return credential, nil
}

// UploadMode picks between buffering and streaming the audio file.
func UploadMode(audioPath string, threshold int64) (string, int64, error) {
	info, err := os.Stat(audioPath)
	if err != nil {
		return "", 0, utils.WrapIfNotNil(err)
	}
	if threshold <= 0 {
		threshold = DefaultStreamThreshold
	}
	if info.Size() > threshold {
		return UploadModeStream, info.Size(), nil
	}
	return UploadModeInline, info.Size(), nil
}

// ResolveTask folds the engine context preference into the settings task.
func ResolveTask(settings model.Settings, engineCtx model.EngineContext) model.Task {
	if engineCtx.PreferredTask == model.TaskTranslate {
		return model.TaskTranslate
	}
	return settings.EffectiveTask()
}

// Finish cleans a provider result. An empty transcript is an error for remote providers.
func Finish(result model.Result, settings model.Settings, meta model.ResultMetadata) (model.Result, error) {
	result = transcript.Finalize(result, settings)
	if strings.TrimSpace(result.Text) == "" {
		return model.Result{}, utils.WrapIfNotNil(model.ErrRemoteEmptyResponse)
	}
	result.Metadata = meta
	return result, nil
}

func InitMetadata(provider model.Provider, modelName string) model.ResultMetadata {
	if strings.TrimSpace(modelName) == "" {
		modelName = "unknown"
	}

	return model.ResultMetadata{
		model.MetadataKeyProvider: string(provider),
		model.MetadataKeyModel:    modelName,
	}
}

func SetLatencyMetadata(meta model.ResultMetadata, start time.Time) {
	if meta == nil {
		return
	}
	meta[model.MetadataKeyLatencyMs] = strconv.FormatInt(time.Since(start).Milliseconds(), 10)
}
