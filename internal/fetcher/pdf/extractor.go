// Package pdf extracts plain text from uploaded PDF documents.
package pdf

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"kbase/internal/kberr"
)

type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract returns the concatenated text of every page, in page order.
// Malformed or non-PDF input yields a parse error; size limits are the
// submitter's responsibility and are enforced before a job exists.
func (e *Extractor) Extract(ctx context.Context, data []byte) (text string, err error) {
	// The parser panics on some malformed inputs; treat those as parse errors
	// rather than taking the worker down.
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = kberr.Parse(fmt.Errorf("parser panic: %v", r), "read pdf")
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", kberr.Parse(err, "read pdf")
	}

	var b strings.Builder
	pages := reader.NumPage()
	for i := 1; i <= pages; i++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			// A single unreadable page should not discard the rest.
			continue
		}
		b.WriteString(content)
		b.WriteString("\n\n")
	}

	out := strings.TrimSpace(b.String())
	if out == "" {
		return "", kberr.Parse(nil, "no extractable text in %d page(s)", pages)
	}
	return out, nil
}
