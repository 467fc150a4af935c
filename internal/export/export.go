package export

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/yungbote/docwriter-backend/internal/platform/httpx"
	"github.com/yungbote/docwriter-backend/internal/platform/logger"
)

const (
	convertTimeout  = 60 * time.Second
	convertAttempts = 2
)

/*
Exporter converts final markdown into distribution formats by POSTing it to
external converter services. A format whose URL is unset is disabled: the
corresponding Export method returns (nil, nil) so finalize simply skips the
upload.
*/
type Exporter struct {
	log        *logger.Logger
	pdfURL     string
	docxURL    string
	httpClient *http.Client
}

func New(log *logger.Logger, pdfURL, docxURL string) *Exporter {
	return &Exporter{
		log:        log.With("component", "Exporter"),
		pdfURL:     pdfURL,
		docxURL:    docxURL,
		httpClient: &http.Client{Timeout: convertTimeout},
	}
}

// ExportPDF renders markdown to PDF bytes, or (nil, nil) when disabled.
func (e *Exporter) ExportPDF(ctx context.Context, markdown string) ([]byte, error) {
	return e.convert(ctx, e.pdfURL, "pdf", markdown)
}

// ExportDocx renders markdown to DOCX bytes, or (nil, nil) when disabled.
func (e *Exporter) ExportDocx(ctx context.Context, markdown string) ([]byte, error) {
	return e.convert(ctx, e.docxURL, "docx", markdown)
}

func (e *Exporter) convert(ctx context.Context, url, format, markdown string) ([]byte, error) {
	if url == "" {
		return nil, nil
	}
	var lastErr error
	for attempt := 1; attempt <= convertAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBufferString(markdown))
		if err != nil {
			return nil, fmt.Errorf("build %s export request: %w", format, err)
		}
		req.Header.Set("Content-Type", "text/markdown; charset=utf-8")

		resp, err := e.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("%s export request: %w", format, err)
			continue
		}
		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			lastErr = fmt.Errorf("%s exporter returned status %d", format, resp.StatusCode)
			if httpx.RetryableStatus(resp.StatusCode) && attempt < convertAttempts {
				continue
			}
			return nil, lastErr
		}
		if readErr != nil {
			lastErr = fmt.Errorf("read %s export response: %w", format, readErr)
			continue
		}
		if len(body) == 0 {
			return nil, fmt.Errorf("%s exporter returned an empty document", format)
		}
		return body, nil
	}
	return nil, lastErr
}
