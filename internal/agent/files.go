package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/fieldops/assistant/internal/llm"
)

// Attachment is one inbound file reference: either inline base64 data or a
// URL the processor can fetch.
type Attachment struct {
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
	Data     string `json:"data,omitempty"`
	URL      string `json:"url,omitempty"`
}

// ProcessedFile is the model-ready form of one attachment.
type ProcessedFile struct {
	Name string

	// Text holds extracted document text; empty for images.
	Text string

	// ImageURL holds a data: or https: URL for image attachments.
	ImageURL string
}

// IsImage reports whether the file contributes an image part.
func (f ProcessedFile) IsImage() bool { return f.ImageURL != "" }

// FileProcessor turns raw attachments into model-ready content.
type FileProcessor interface {
	Process(ctx context.Context, files []Attachment) ([]ProcessedFile, error)
}

// NopFileProcessor passes images through and renders other attachments as a
// placeholder note. Used when no document extraction backend is configured.
type NopFileProcessor struct{}

func (NopFileProcessor) Process(_ context.Context, files []Attachment) ([]ProcessedFile, error) {
	out := make([]ProcessedFile, 0, len(files))
	for _, f := range files {
		switch {
		case strings.HasPrefix(f.MimeType, "image/") && f.URL != "":
			out = append(out, ProcessedFile{Name: f.Name, ImageURL: f.URL})
		case strings.HasPrefix(f.MimeType, "image/") && f.Data != "":
			out = append(out, ProcessedFile{
				Name:     f.Name,
				ImageURL: fmt.Sprintf("data:%s;base64,%s", f.MimeType, f.Data),
			})
		default:
			out = append(out, ProcessedFile{
				Name: f.Name,
				Text: fmt.Sprintf("[attached file: %s (%s), content not extracted]", f.Name, f.MimeType),
			})
		}
	}
	return out, nil
}

// composeUserMessage assembles the multi-modal user message. All text lands
// in the first content part; image parts follow it. The downstream model
// contract rejects image-first content arrays.
func composeUserMessage(query string, files []ProcessedFile) llm.Message {
	var text strings.Builder
	text.WriteString(query)
	for _, f := range files {
		if f.Text == "" {
			continue
		}
		if text.Len() > 0 {
			text.WriteString("\n\n")
		}
		if f.Name != "" {
			fmt.Fprintf(&text, "[%s]\n", f.Name)
		}
		text.WriteString(f.Text)
	}

	parts := []llm.ContentPart{{Type: "text", Text: text.String()}}
	for _, f := range files {
		if !f.IsImage() {
			continue
		}
		parts = append(parts, llm.ContentPart{
			Type:     "image_url",
			ImageURL: &llm.ImageURL{URL: f.ImageURL},
		})
	}

	if len(parts) == 1 {
		return llm.UserMessage(text.String())
	}
	return llm.Message{Role: llm.RoleUser, Content: parts}
}
