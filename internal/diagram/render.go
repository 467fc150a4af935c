package diagram

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/yungbote/docwriter-backend/internal/platform/logger"
)

const (
	renderTimeout  = 30 * time.Second
	renderAttempts = 3
)

// Reformatter regenerates broken PlantUML source, typically LLM-assisted.
// It receives the failing source and the render error text.
type Reformatter func(ctx context.Context, source, reason string) (string, error)

/*
Renderer posts PlantUML source to a rendering server (POST <server>/<fmt>,
body = source bytes) and returns the binary image.
*/
type Renderer struct {
	log        *logger.Logger
	serverURL  string
	httpClient *http.Client
}

func NewRenderer(log *logger.Logger, serverURL string) (*Renderer, error) {
	serverURL = strings.TrimRight(strings.TrimSpace(serverURL), "/")
	if serverURL == "" {
		return nil, fmt.Errorf("plantuml server url required")
	}
	return &Renderer{
		log:        log.With("service", "DiagramRenderer"),
		serverURL:  serverURL,
		httpClient: &http.Client{Timeout: renderTimeout},
	}, nil
}

/*
NormalizeSource prepares model-produced PlantUML text for rendering: CRLF and
literal "\n" sequences become real newlines, trailing whitespace is dropped,
and the @startuml/@enduml guards are added when missing.
*/
func NormalizeSource(source string) string {
	normalized := strings.ReplaceAll(source, "\r\n", "\n")
	normalized = strings.ReplaceAll(normalized, "\r", "\n")
	normalized = strings.ReplaceAll(normalized, `\n`, "\n")
	normalized = fenceLineRE.ReplaceAllString(normalized, "")

	lines := strings.Split(normalized, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	trimmed := strings.TrimSpace(strings.Join(lines, "\n"))
	lower := strings.ToLower(trimmed)
	if !strings.HasPrefix(lower, "@startuml") {
		trimmed = "@startuml\n" + trimmed
	}
	if !strings.HasSuffix(strings.ToLower(trimmed), "@enduml") {
		if !strings.HasSuffix(trimmed, "\n") {
			trimmed += "\n"
		}
		trimmed += "@enduml"
	}
	return trimmed
}

// Render posts one normalized source to the server and returns the image.
func (r *Renderer) Render(ctx context.Context, source, format string) ([]byte, error) {
	format = NormalizeFormat(format)
	payload := []byte(NormalizeSource(source))

	req, err := http.NewRequestWithContext(ctx, "POST", r.serverURL+"/"+format, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("plantuml rendering failed: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("plantuml rendering failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("plantuml rendering failed: http %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return raw, nil
}

/*
RenderWithRetries attempts a render up to renderAttempts times. After the
first failure it asks the reformatter (when provided) to regenerate the
source once; later attempts reuse the reformatted text. Returns the image
and the source that finally rendered.
*/
func (r *Renderer) RenderWithRetries(ctx context.Context, source, format string, reformat Reformatter) ([]byte, string, error) {
	var lastErr error
	current := source
	reformatted := false

	for attempt := 1; attempt <= renderAttempts; attempt++ {
		img, err := r.Render(ctx, current, format)
		if err == nil {
			return img, current, nil
		}
		lastErr = err
		r.log.Warn("diagram render attempt failed",
			"attempt", attempt,
			"format", format,
			"error", err,
		)
		if !reformatted && reformat != nil {
			fixed, rErr := reformat(ctx, current, err.Error())
			if rErr != nil {
				r.log.Warn("diagram reformat failed", "error", rErr)
			} else if strings.TrimSpace(fixed) != "" {
				current = fixed
			}
			reformatted = true
		}
	}
	return nil, current, lastErr
}
