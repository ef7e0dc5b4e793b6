package mangaba

import (
	"bytes"
	"fmt"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
)

// Form fields understood by the backend.
const (
	fieldGoal        = "goal"
	fieldDataSource  = "dataSource"
	fieldJSONData    = "json_data"
	fieldTextContext = "text_context"
)

// Submission is one job for the agent system: a goal plus exactly one data
// source.
type Submission struct {
	Goal    string
	Payload Payload
}

// Payload is the data source attached to a submission. It is implemented by
// FileBlob, JSONText, ExampleRef and TextContext.
type Payload interface {
	kind() string
	empty() bool
}

// FileBlob is a file uploaded as the dataSource field.
type FileBlob struct {
	Name        string
	ContentType string
	Data        []byte
}

// JSONText is raw JSON typed by the user, sent as the json_data field.
type JSONText string

// ExampleRef names an entry in the example catalog. The client fetches the
// example and sends it as JSONText.
type ExampleRef string

// TextContext is free text sent as the text_context field.
type TextContext string

func (FileBlob) kind() string    { return "file" }
func (JSONText) kind() string    { return "json" }
func (ExampleRef) kind() string  { return "example" }
func (TextContext) kind() string { return "text" }

func (f FileBlob) empty() bool    { return f.Name == "" }
func (j JSONText) empty() bool    { return strings.TrimSpace(string(j)) == "" }
func (e ExampleRef) empty() bool  { return strings.TrimSpace(string(e)) == "" }
func (t TextContext) empty() bool { return strings.TrimSpace(string(t)) == "" }

// FileBlobFromPath reads a file from disk. The content type is guessed from
// the extension.
func FileBlobFromPath(path string) (FileBlob, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return FileBlob{}, fmt.Errorf("failed to read file: %w", err)
	}

	_, name := filepath.Split(path)
	return FileBlob{
		Name:        name,
		ContentType: mime.TypeByExtension(filepath.Ext(name)),
		Data:        data,
	}, nil
}

// FileBlobFromBytes wraps data as a file named name, sniffing its content
// type.
func FileBlobFromBytes(name string, data []byte) FileBlob {
	return FileBlob{
		Name:        name,
		ContentType: http.DetectContentType(data),
		Data:        data,
	}
}

// Validate reports why s cannot be sent. Errors wrap ErrInvalidSubmission.
func (s Submission) Validate() error {
	if strings.TrimSpace(s.Goal) == "" {
		return fmt.Errorf("%w: %w", ErrInvalidSubmission, ErrEmptyGoal)
	}

	if s.Payload == nil {
		return fmt.Errorf("%w: %w", ErrInvalidSubmission, ErrNoPayload)
	}

	if s.Payload.empty() {
		return fmt.Errorf("%w: %w: %s", ErrInvalidSubmission, ErrIncompletePayload, s.Payload.kind())
	}

	return nil
}

// encodeForm builds the multipart body for s. Example references must be
// resolved to JSONText beforehand.
func encodeForm(goal string, payload Payload) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	if err := writer.WriteField(fieldGoal, goal); err != nil {
		return nil, "", fmt.Errorf("failed to write goal to form: %w", err)
	}

	switch p := payload.(type) {
	case FileBlob:
		contentType := p.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}

		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, fieldDataSource, escapeQuotes(p.Name)))
		h.Set("Content-Type", contentType)

		part, err := writer.CreatePart(h)
		if err != nil {
			return nil, "", fmt.Errorf("failed to create form file: %w", err)
		}
		if _, err := part.Write(p.Data); err != nil {
			return nil, "", fmt.Errorf("failed to write file to form: %w", err)
		}
	case JSONText:
		if err := writer.WriteField(fieldJSONData, string(p)); err != nil {
			return nil, "", fmt.Errorf("failed to write json data to form: %w", err)
		}
	case TextContext:
		if err := writer.WriteField(fieldTextContext, string(p)); err != nil {
			return nil, "", fmt.Errorf("failed to write text context to form: %w", err)
		}
	default:
		return nil, "", fmt.Errorf("unsupported payload %T", payload)
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return body, writer.FormDataContentType(), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
