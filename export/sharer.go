package export

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"time"
)

// LogSharer records the export in the structured log instead of delivering
// it anywhere. Useful as a default and in headless deployments.
type LogSharer struct {
	Logger *slog.Logger
}

// Share implements Sharer.
func (l *LogSharer) Share(_ context.Context, f *File) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("dead-letter export ready to share",
		slog.String("export_id", f.ID.String()),
		slog.String("path", f.Path),
		slog.Int("count", f.Count),
	)
	return nil
}

// HTTPSharer uploads the export file to a support endpoint as a multipart
// form, for attaching diagnostics to a help ticket.
type HTTPSharer struct {
	// URL is the upload endpoint.
	URL string
	// Token is sent as a bearer Authorization header when non-empty.
	Token string
	// Client is the HTTP client to use. Defaults to one with a 30s timeout.
	Client *http.Client
}

// Share implements Sharer. The file is read from disk at call time; the
// handle must still be live.
func (h *HTTPSharer) Share(ctx context.Context, f *File) error {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return fmt.Errorf("read export %s: %w", f.Path, err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("export", f.Name)
	if err != nil {
		return fmt.Errorf("build multipart form: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("write multipart form: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("close multipart form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.URL, &body)
	if err != nil {
		return fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if h.Token != "" {
		req.Header.Set("Authorization", "Bearer "+h.Token)
	}

	client := h.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("upload export: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("upload export: status %d: %s", resp.StatusCode, msg)
	}
	return nil
}
