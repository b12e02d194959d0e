// Package extract turns uploaded documents into plain text. PDF and DOCX are
// parsed locally; images are read by a vision-capable model.
package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html/charset"
)

var (
	// ErrUnsupportedType is returned for documents that are not PDF, DOCX,
	// plain text or a supported image format.
	ErrUnsupportedType = errors.New("unsupported file type")
	// ErrEmptyText is returned when a document yields no text.
	ErrEmptyText = errors.New("no text could be extracted")
)

// Kind is a document format the extractor understands.
type Kind string

const (
	KindPDF   Kind = "pdf"
	KindDOCX  Kind = "docx"
	KindText  Kind = "text"
	KindImage Kind = "image"
)

// MIME types accepted for each kind.
const (
	MIMEPDF  = "application/pdf"
	MIMEDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MIMEText = "text/plain"
)

var imageTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/webp": true,
	"image/gif":  true,
}

var extKinds = map[string]Kind{
	".pdf":  KindPDF,
	".docx": KindDOCX,
	".txt":  KindText,
	".png":  KindImage,
	".jpg":  KindImage,
	".jpeg": KindImage,
	".webp": KindImage,
	".gif":  KindImage,
}

// Detect resolves the document kind from its declared MIME type, falling back
// to the file extension when the MIME type is missing or generic. It also
// returns the normalised MIME type.
func Detect(fileName, mimeType string) (Kind, string, error) {
	mt, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		mt = ""
	}
	mt = strings.ToLower(mt)

	switch {
	case mt == MIMEPDF:
		return KindPDF, mt, nil
	case mt == MIMEDOCX:
		return KindDOCX, mt, nil
	case mt == MIMEText:
		return KindText, mt, nil
	case imageTypes[mt]:
		return KindImage, mt, nil
	}

	ext := strings.ToLower(filepath.Ext(fileName))
	kind, ok := extKinds[ext]
	if !ok || (mt != "" && mt != "application/octet-stream") {
		return "", "", fmt.Errorf("%w: %q (%s)", ErrUnsupportedType, fileName, mimeType)
	}
	switch kind {
	case KindPDF:
		mt = MIMEPDF
	case KindDOCX:
		mt = MIMEDOCX
	case KindText:
		mt = MIMEText
	case KindImage:
		mt = mime.TypeByExtension(ext)
		if ext == ".jpg" || mt == "" {
			mt = "image/jpeg"
		}
	}
	return kind, mt, nil
}

// Vision reads the text out of an image.
type Vision interface {
	ReadImage(ctx context.Context, mimeType string, data []byte) (string, error)
}

// Extractor converts documents into text.
type Extractor struct {
	vision Vision
}

// New creates an Extractor. vision may be nil, in which case images are rejected.
func New(vision Vision) *Extractor {
	return &Extractor{vision: vision}
}

// Extract returns the text content of data. All parsing happens in memory.
func (e *Extractor) Extract(ctx context.Context, kind Kind, mimeType string, data []byte) (string, error) {
	var text string
	var err error
	switch kind {
	case KindPDF:
		text, err = extractPDF(data)
	case KindDOCX:
		text, err = extractDOCX(data)
	case KindText:
		text, err = extractPlain(data, mimeType)
	case KindImage:
		if e.vision == nil {
			return "", fmt.Errorf("%w: image documents need a vision model", ErrUnsupportedType)
		}
		text, err = e.vision.ReadImage(ctx, mimeType, data)
		if err != nil {
			err = fmt.Errorf("reading image: %w", err)
		}
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, kind)
	}
	if err != nil {
		return "", err
	}

	text = normalize(text)
	if text == "" {
		return "", ErrEmptyText
	}
	return text, nil
}

func extractPDF(data []byte) (text string, err error) {
	// The pdf package panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf: malformed document: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("pdf reader: %w", err)
	}

	var out strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if out.Len() > 0 {
			out.WriteString("\n\n")
		}
		out.WriteString(strings.TrimSpace(pageText))
	}
	return out.String(), nil
}

func extractPlain(data []byte, mimeType string) (string, error) {
	if mimeType == "" {
		mimeType = MIMEText
	}
	r, err := charset.NewReader(bytes.NewReader(data), mimeType)
	if err != nil {
		return "", fmt.Errorf("decoding text: %w", err)
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("reading text: %w", err)
	}
	return strings.TrimPrefix(string(b), "\ufeff"), nil
}

var (
	trailingSpace = regexp.MustCompile(`[ \t]+\n`)
	blankRuns     = regexp.MustCompile(`\n{3,}`)
)

// normalize unifies line endings and squeezes blank runs while keeping the
// paragraph breaks the chunker splits on.
func normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = trailingSpace.ReplaceAllString(s, "\n")
	s = blankRuns.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
