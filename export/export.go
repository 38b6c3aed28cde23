// Package export serializes the dead-letter set into a portable file for
// diagnostics or support-ticket attachment, and hands the file to a share
// mechanism.
//
// Every Export call writes a fresh temporary file; handles are only valid
// for the lifetime of the process and are never reused across calls.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/saicgr/AIFitnessCoach-sub010/id"
	"github.com/saicgr/AIFitnessCoach-sub010/mutation"
)

// File is a handle to one written export. Path points at a temporary file
// owned by the caller; delete it when done.
type File struct {
	ID        id.ExportID `json:"id"`
	Path      string      `json:"path"`
	Name      string      `json:"name"`
	Size      int64       `json:"size"`
	Count     int         `json:"count"`
	CreatedAt time.Time   `json:"created_at"`
}

// document is the on-disk shape of one export.
type document struct {
	ExportID   string               `json:"export_id"`
	ExportedAt time.Time            `json:"exported_at"`
	Count      int                  `json:"count"`
	Mutations  []*mutation.Mutation `json:"mutations"`
}

// Sharer delivers a written export to its destination (support ticket
// upload, OS share sheet bridge, ...).
type Sharer interface {
	Share(ctx context.Context, f *File) error
}

// Service writes dead-letter exports and shares them.
type Service struct {
	dir    string
	sharer Sharer
	logger *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithDir sets the directory exports are written to.
// Defaults to the OS temp directory.
func WithDir(dir string) Option {
	return func(s *Service) { s.dir = dir }
}

// WithSharer sets the share mechanism. Without one, Share is a no-op.
func WithSharer(sh Sharer) Option {
	return func(s *Service) { s.sharer = sh }
}

// WithLogger sets the structured logger for the service.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService creates an export service.
func NewService(opts ...Option) *Service {
	s := &Service{
		dir:    os.TempDir(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Export serializes the given dead-letter mutations (error messages and
// timestamps included) into a new temporary JSON file and returns its
// handle. Each call produces an independent file.
func (s *Service) Export(ctx context.Context, items []*mutation.Mutation) (*File, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("fitsync/export: export: %w", err)
	}

	exportID := id.NewExportID()
	doc := document{
		ExportID:   exportID.String(),
		ExportedAt: time.Now().UTC(),
		Count:      len(items),
		Mutations:  items,
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("fitsync/export: marshal document: %w", err)
	}

	f, err := os.CreateTemp(s.dir, "deadletter-*.json")
	if err != nil {
		return nil, fmt.Errorf("fitsync/export: create file: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("fitsync/export: write file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("fitsync/export: sync file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return nil, fmt.Errorf("fitsync/export: close file: %w", err)
	}

	out := &File{
		ID:        exportID,
		Path:      f.Name(),
		Name:      filepath.Base(f.Name()),
		Size:      int64(len(data)),
		Count:     len(items),
		CreatedAt: doc.ExportedAt,
	}

	s.logger.Info("dead-letter export written",
		slog.String("export_id", out.ID.String()),
		slog.String("path", out.Path),
		slog.Int("count", out.Count),
		slog.Int64("size", out.Size),
	)

	return out, nil
}

// Share hands a written export to the configured share mechanism.
// Without a configured Sharer this is a no-op.
func (s *Service) Share(ctx context.Context, f *File) error {
	if s.sharer == nil {
		return nil
	}
	if err := s.sharer.Share(ctx, f); err != nil {
		return fmt.Errorf("fitsync/export: share %s: %w", f.Name, err)
	}
	return nil
}
