// Package extract converts uploaded files into plain text for chunking.
// Plain text passes through verbatim; PDFs are reduced to their embedded
// text layer (no OCR, so image-only scans come out empty).
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Supported MIME types.
const (
	MIMETextPlain = "text/plain"
	MIMEPDF       = "application/pdf"
)

// ErrUnsupportedType is returned for any MIME type other than plain text or PDF.
var ErrUnsupportedType = errors.New("unsupported file type")

// Text extracts the textual content of data according to its declared MIME
// type. For PDFs, content items within a page are joined with a single space
// and pages are joined with a newline, in page order.
func Text(data []byte, mimeType string) (string, error) {
	switch normalizeMIME(mimeType) {
	case MIMETextPlain:
		return string(data), nil
	case MIMEPDF:
		return pdfText(data)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, mimeType)
	}
}

// Supported reports whether the declared MIME type can be extracted.
func Supported(mimeType string) bool {
	switch normalizeMIME(mimeType) {
	case MIMETextPlain, MIMEPDF:
		return true
	default:
		return false
	}
}

// normalizeMIME strips parameters like "; charset=utf-8" and lowercases.
func normalizeMIME(mimeType string) string {
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	return strings.ToLower(strings.TrimSpace(mimeType))
}

func pdfText(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("parsing PDF: %w", err)
	}

	var pages []string
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		content := page.Content()
		items := make([]string, 0, len(content.Text))
		for _, t := range content.Text {
			if t.S != "" {
				items = append(items, t.S)
			}
		}
		pages = append(pages, strings.Join(items, " "))
	}

	return strings.Join(pages, "\n"), nil
}
