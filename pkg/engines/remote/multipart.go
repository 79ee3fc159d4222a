package remote

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"

	"github.com/Nephrolytics-ai/polyglot-stt/pkg/utils"
)

// FormField is one text part of an audio upload form.
type FormField struct {
	Name  string
	Value string
}

func writeMultipart(writer *multipart.Writer, audioPath string, fields []FormField) error {
	for _, field := range fields {
		if err := writer.WriteField(field.Name, field.Value); err != nil {
			return err
		}
	}

	file, err := os.Open(audioPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = file.Close()
	}()

	part, err := writer.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, file); err != nil {
		return err
	}
	return writer.Close()
}

// BufferMultipart encodes the whole form in memory.
func BufferMultipart(audioPath string, fields []FormField) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	writer := multipart.NewWriter(buf)
	if err := writeMultipart(writer, audioPath, fields); err != nil {
		return nil, "", utils.WrapIfNotNil(err)
	}
	return buf, writer.FormDataContentType(), nil
}

// StreamMultipart encodes the form on a goroutine so large files never sit in memory.
// The reader must be consumed or closed.
func StreamMultipart(ctx context.Context, audioPath string, fields []FormField) (io.ReadCloser, string) {
	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)
	go func() {
		err := writeMultipart(writer, audioPath, fields)
		if err == nil {
			err = ctx.Err()
		}
		_ = pw.CloseWithError(err)
	}()
	return pr, writer.FormDataContentType()
}
