package artifact

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"soraq/config"
	"soraq/state"
)

var (
	ErrEmptyArtifact   = errors.New("artifact is empty")
	ErrInvalidFilename = errors.New("invalid filename")
	ErrFileNotFound    = errors.New("file not found")
)

// Downloader is the download half of the provider client.
type Downloader interface {
	Download(ctx context.Context, apiKey, id, variant string) ([]byte, string, error)
}

// Artifact is one downloaded rendering.
type Artifact struct {
	JobID       string
	Variant     Variant
	ContentType string
	Data        []byte
}

// Filename is the local name used when the artifact is saved.
func (a *Artifact) Filename() string {
	return fmt.Sprintf("%s_%s.%s", a.JobID, a.Variant, a.Variant.Ext())
}

// Retriever fetches finished jobs and keeps local copies under a directory
// for a limited time.
type Retriever struct {
	cfg    *config.Config
	source Downloader
	dir    string
}

func NewRetriever(cfg *config.Config, source Downloader) (*Retriever, error) {
	if err := os.MkdirAll(cfg.ArtifactDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}
	return &Retriever{cfg: cfg, source: source, dir: cfg.ArtifactDir}, nil
}

// Fetch downloads one variant. The provider's content type is replaced by
// the variant's fixed type.
func (r *Retriever) Fetch(ctx context.Context, apiKey, jobID string, v Variant) (*Artifact, error) {
	data, _, err := r.source.Download(ctx, apiKey, jobID, string(v))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, ErrEmptyArtifact
	}
	return &Artifact{JobID: jobID, Variant: v, ContentType: v.ContentType(), Data: data}, nil
}

// Save writes the artifact into the artifact directory and returns its
// file name. It refuses when the host is short on memory or disk.
func (r *Retriever) Save(a *Artifact) (string, error) {
	name := a.Filename()
	if filepath.Base(name) != name || strings.HasPrefix(name, ".") {
		return "", ErrInvalidFilename
	}
	if err := r.checkResources(int64(len(a.Data))); err != nil {
		return "", fmt.Errorf("insufficient system resources: %w", err)
	}
	if err := state.WriteFile(filepath.Join(r.dir, name), a.Data, 0o644); err != nil {
		return "", err
	}
	return name, nil
}

// Collect downloads the video of a completed job and saves it locally.
func (r *Retriever) Collect(ctx context.Context, apiKey, jobID string) (string, error) {
	a, err := r.Fetch(ctx, apiKey, jobID, VariantVideo)
	if err != nil {
		return "", err
	}
	name, err := r.Save(a)
	if err != nil {
		return "", err
	}
	slog.Info("video saved", "job_id", jobID, "file", name, "bytes", len(a.Data))
	return name, nil
}

// FilePath resolves a saved artifact by bare file name.
func (r *Retriever) FilePath(filename string) (string, error) {
	clean := filepath.Base(filename)
	if clean != filename || clean == "." || clean == ".." {
		return "", ErrInvalidFilename
	}
	full := filepath.Join(r.dir, clean)
	if _, err := os.Stat(full); os.IsNotExist(err) {
		return "", ErrFileNotFound
	}
	return full, nil
}

// CleanupLoop removes saved artifacts older than the configured lifetime.
func (r *Retriever) CleanupLoop(ctx context.Context) {
	if r.cfg.OutputLifetime <= 0 {
		return
	}
	ticker := time.NewTicker(sweepInterval(r.cfg.OutputLifetime))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("artifact cleanup loop shutting down")
			return
		case now := <-ticker.C:
			r.sweep(now)
		}
	}
}

// sweepInterval checks four times per lifetime, at most once a second.
func sweepInterval(lifetime time.Duration) time.Duration {
	if d := lifetime / 4; d >= time.Second {
		return d
	}
	return time.Second
}

func (r *Retriever) sweep(now time.Time) int {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		slog.Warn("could not list artifact directory", "dir", r.dir, "error", err)
		return 0
	}
	removed := 0
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) <= r.cfg.OutputLifetime {
			continue
		}
		path := filepath.Join(r.dir, e.Name())
		if err := os.Remove(path); err != nil {
			slog.Warn("could not remove old artifact", "file", path, "error", err)
			continue
		}
		slog.Info("removed old artifact", "file", path)
		removed++
	}
	return removed
}

func (r *Retriever) checkResources(size int64) error {
	vm, err := mem.VirtualMemory()
	if err != nil {
		slog.Warn("could not get memory usage", "error", err)
	} else if vm.Available < uint64(r.cfg.ThrottleFreeMem) {
		return fmt.Errorf("not enough free memory. Available: %d, Required: %d", vm.Available, r.cfg.ThrottleFreeMem)
	}

	d, err := disk.Usage(r.dir)
	if err != nil {
		slog.Warn("could not get disk usage", "dir", r.dir, "error", err)
	} else if d.Free < uint64(r.cfg.ThrottleFreeDisk+size) {
		return fmt.Errorf("not enough free disk space. Available: %d, Required: %d", d.Free, r.cfg.ThrottleFreeDisk+size)
	}
	return nil
}
