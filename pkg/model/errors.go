package model

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrAudioPreparation    = errors.New("audio preparation failed")
	ErrModelUnavailable    = errors.New("model unavailable")
	ErrModelLoadingFailed  = errors.New("model loading failed")
	ErrMissingCredential   = errors.New("missing credential")
	ErrRemoteEmptyResponse = errors.New("remote returned an empty transcription")
	ErrInferenceFailure    = errors.New("inference failed")
	ErrMissingSourceFile   = errors.New("missing source file")
	ErrCancelled           = errors.New("cancelled")
)

// RemoteHTTPError is a non-2xx response from a remote provider. It is never retried.
type RemoteHTTPError struct {
	Provider   Provider
	StatusCode int
	Body       string
}

func (e *RemoteHTTPError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 512 {
		body = body[:512] + "..."
	}
	if body == "" {
		return fmt.Sprintf("%s http %d", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("%s http %d: %s", e.Provider, e.StatusCode, body)
}

// UserMessage reduces an error chain to the single line stored on a failed job.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var httpErr *RemoteHTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Error()
	}

	for _, sentinel := range []error{
		ErrMissingSourceFile,
		ErrModelLoadingFailed,
		ErrModelUnavailable,
		ErrMissingCredential,
		ErrRemoteEmptyResponse,
		ErrAudioPreparation,
		ErrCancelled,
	} {
		if errors.Is(err, sentinel) {
			return innermostDetail(err, sentinel)
		}
	}

	return lastSegment(err.Error())
}

// innermostDetail keeps the sentinel text plus whatever detail was wrapped after it.
func innermostDetail(err error, sentinel error) string {
	msg := err.Error()
	idx := strings.Index(msg, sentinel.Error())
	if idx < 0 {
		return sentinel.Error()
	}
	return strings.TrimSpace(msg[idx:])
}

// lastSegment strips the caller-name prefixes added by utils.WrapIfNotNil.
func lastSegment(msg string) string {
	parts := strings.Split(msg, ": ")
	for i, part := range parts {
		if !strings.Contains(part, "github.com/") {
			return strings.TrimSpace(strings.Join(parts[i:], ": "))
		}
	}
	return strings.TrimSpace(msg)
}
